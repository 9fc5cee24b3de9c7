package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/EnZo1826/SmartPOS/internal/cache"
	"github.com/EnZo1826/SmartPOS/internal/domain"
	"github.com/EnZo1826/SmartPOS/internal/metrics"
	"github.com/EnZo1826/SmartPOS/internal/store"
	"github.com/EnZo1826/SmartPOS/internal/xid"
)

var (
	// ErrValidation marks a malformed or missing required payload field.
	ErrValidation = errors.New("validation failed")

	// ErrUnknownEntityKind marks an item whose entity_kind has no reconciler.
	ErrUnknownEntityKind = errors.New("unknown entity_kind")
)

// DefaultTaxRate applies when a product has no tax template configured.
const DefaultTaxRate = 0.15

// UnknownStockQty is returned when a stock lookup fails, signaling
// "unconstrained/unknown" to the device rather than out-of-stock.
const UnknownStockQty = 999

const receiptDateLayout = "2006-01"

type deviceContextKey struct{}

func WithDevice(ctx context.Context, device domain.Device) context.Context {
	return context.WithValue(ctx, deviceContextKey{}, device)
}

func DeviceFromContext(ctx context.Context) (domain.Device, bool) {
	device, ok := ctx.Value(deviceContextKey{}).(domain.Device)
	return device, ok
}

type Options struct {
	CatalogPageSize int
	CatalogCacheTTL time.Duration
	ReceiptPrefix   string
}

// Service is the reconciliation core: it maps device-originated entity
// mutations onto server records exactly once per logical event, and
// serves incremental catalog deltas.
type Service struct {
	repo          store.Repository
	catalogCache  cache.CatalogCache
	logger        *zap.Logger
	pageSize      int
	cacheTTL      time.Duration
	receiptPrefix string
}

func New(repo store.Repository, catalogCache cache.CatalogCache, logger *zap.Logger, opts Options) *Service {
	if catalogCache == nil {
		catalogCache = cache.NoopCatalogCache{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.CatalogPageSize < 1 {
		opts.CatalogPageSize = 500
	}
	if opts.CatalogCacheTTL <= 0 {
		opts.CatalogCacheTTL = 15 * time.Second
	}
	if opts.ReceiptPrefix == "" {
		opts.ReceiptPrefix = "POS"
	}

	return &Service{
		repo:          repo,
		catalogCache:  catalogCache,
		logger:        logger,
		pageSize:      opts.CatalogPageSize,
		cacheTTL:      opts.CatalogCacheTTL,
		receiptPrefix: opts.ReceiptPrefix,
	}
}

// PushBatch reconciles a device outbox batch. Items are processed in
// submission order, each in its own unit of work; one item's failure
// never aborts the rest. Every submitted item appears exactly once in
// either Processed or Failed.
func (s *Service) PushBatch(ctx context.Context, batch []domain.SyncItem) domain.PushBatchResponse {
	resp := domain.PushBatchResponse{
		Processed: make([]domain.ProcessedItem, 0, len(batch)),
		Failed:    make([]domain.FailedItem, 0),
	}

	for _, item := range batch {
		if item.DeviceID == "" {
			if device, ok := DeviceFromContext(ctx); ok {
				item.DeviceID = device.DeviceID
			}
		}

		serverID, err := s.processItem(ctx, item)
		if err != nil {
			metrics.SyncItemsTotal.WithLabelValues(item.EntityKind, "failed").Inc()
			s.logger.Warn("sync item failed",
				zap.String("entity_kind", item.EntityKind),
				zap.String("client_uuid", item.ClientUUID),
				zap.Int64("outbox_id", item.OutboxID),
				zap.String("device_id", item.DeviceID),
				zap.Error(err),
			)
			resp.Failed = append(resp.Failed, domain.FailedItem{
				OutboxID:   item.OutboxID,
				ClientUUID: item.ClientUUID,
				Error:      err.Error(),
			})
			continue
		}

		metrics.SyncItemsTotal.WithLabelValues(item.EntityKind, "ok").Inc()
		resp.Processed = append(resp.Processed, domain.ProcessedItem{
			OutboxID:   item.OutboxID,
			ClientUUID: item.ClientUUID,
			ServerID:   serverID,
			Status:     "ok",
		})
	}

	return resp
}

func (s *Service) processItem(ctx context.Context, item domain.SyncItem) (string, error) {
	if _, err := uuid.Parse(item.ClientUUID); err != nil {
		return "", fmt.Errorf("%w: client_uuid %q is not a valid uuid", ErrValidation, item.ClientUUID)
	}

	switch item.EntityKind {
	case domain.KindOrder:
		return s.reconcileOrder(ctx, item)
	case domain.KindRefund:
		return s.reconcileRefund(ctx, item)
	case domain.KindShift:
		return s.reconcileShift(ctx, item)
	case domain.KindCashEvent:
		return s.reconcileCashEvent(ctx, item)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownEntityKind, item.EntityKind)
	}
}

// reconcileOrder keys create-vs-update purely on existence of the
// idempotency mapping: a device cannot distinguish "never sent" from
// "sent but response lost", so every path must be safe to replay.
func (s *Service) reconcileOrder(ctx context.Context, item domain.SyncItem) (string, error) {
	existing, err := s.repo.FindOrderByClientUUID(ctx, item.ClientUUID)
	switch {
	case err == nil:
		if item.Operation == domain.OpCreate {
			// Duplicate delivery.
			return existing.ID, nil
		}
		var payload domain.OrderPayload
		if err := json.Unmarshal(item.Payload, &payload); err != nil {
			return "", fmt.Errorf("%w: order payload: %v", ErrValidation, err)
		}
		// Only status is mutable post-creation.
		status := payload.Order.Status
		if status == "" || status == existing.Status {
			return existing.ID, nil
		}
		if err := s.repo.UpdateOrderStatus(ctx, existing.ID, status); err != nil {
			return "", fmt.Errorf("update order status: %w", err)
		}
		return existing.ID, nil
	case errors.Is(err, store.ErrNotFound):
		return s.createOrder(ctx, item)
	default:
		return "", fmt.Errorf("lookup order: %w", err)
	}
}

func (s *Service) createOrder(ctx context.Context, item domain.SyncItem) (string, error) {
	var payload domain.OrderPayload
	if err := json.Unmarshal(item.Payload, &payload); err != nil {
		return "", fmt.Errorf("%w: order payload: %v", ErrValidation, err)
	}

	now := time.Now().UTC()
	order := domain.Order{
		ID:             xid.New("ord"),
		ClientUUID:     item.ClientUUID,
		DeviceID:       item.DeviceID,
		StoreID:        payload.Order.ShiftID,
		Cashier:        payload.Order.CashierName,
		Customer:       defaultString(payload.Order.Customer, "Walk-in"),
		OrderDate:      parseLocalTime(payload.Order.CreatedAtLocal, now),
		Subtotal:       payload.Order.Subtotal,
		DiscountAmount: payload.Order.DiscountAmount,
		TaxAmount:      payload.Order.TaxAmount,
		GrandTotal:     payload.Order.Total,
		Status:         defaultString(payload.Order.Status, domain.OrderStatusCompleted),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	for _, line := range payload.Items {
		order.Items = append(order.Items, domain.OrderLine{
			ProductUUID: line.ProductUUID,
			ProductName: line.ProductName,
			Qty:         line.Qty,
			UnitPrice:   line.UnitPrice,
			DiscountPct: line.LineDiscount,
			LineTotal:   line.LineTotal,
		})
	}
	for _, payment := range payload.Payments {
		order.Payments = append(order.Payments, domain.OrderPayment{
			Method: titleCase(defaultString(payment.Method, "Cash")),
			Amount: payment.Amount,
		})
	}

	receipt, err := s.nextReceipt(ctx, now)
	if err != nil {
		return "", err
	}
	order.ReceiptNumber = receipt

	created, err := s.repo.CreateOrder(ctx, order)
	if errors.Is(err, store.ErrAlreadyExists) {
		// Lost the conditional insert to a concurrent retry of the
		// same client_uuid; take the idempotent existing-record path.
		existing, findErr := s.repo.FindOrderByClientUUID(ctx, item.ClientUUID)
		if findErr != nil {
			return "", fmt.Errorf("re-read order after insert race: %w", findErr)
		}
		return existing.ID, nil
	}
	if err != nil {
		return "", fmt.Errorf("create order: %w", err)
	}
	return created.ID, nil
}

// nextReceipt assigns a human-readable receipt number from the dedicated
// per-month counter: PREFIX-YYYY-MM-NNNNN.
func (s *Service) nextReceipt(ctx context.Context, now time.Time) (string, error) {
	period := now.Format(receiptDateLayout)
	n, err := s.repo.NextReceiptNumber(ctx, period)
	if err != nil {
		return "", fmt.Errorf("receipt number: %w", err)
	}
	return fmt.Sprintf("%s-%d-%02d-%05d", s.receiptPrefix, now.Year(), int(now.Month()), n), nil
}

func (s *Service) reconcileRefund(ctx context.Context, item domain.SyncItem) (string, error) {
	existing, err := s.repo.FindRefundByClientUUID(ctx, item.ClientUUID)
	if err == nil {
		// Refunds are never updated.
		return existing.ID, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("lookup refund: %w", err)
	}

	var payload domain.RefundPayload
	if err := json.Unmarshal(item.Payload, &payload); err != nil {
		return "", fmt.Errorf("%w: refund payload: %v", ErrValidation, err)
	}

	now := time.Now().UTC()
	refund := domain.Refund{
		ID:         xid.New("rfn"),
		ClientUUID: item.ClientUUID,
		DeviceID:   item.DeviceID,
		OrderUUID:  payload.OrderUUID,
		Reason:     payload.Reason,
		Amount:     payload.Amount,
		Status:     defaultString(payload.Status, domain.RefundStatusProcessed),
		RefundDate: parseLocalTime(payload.CreatedAtLocal, now),
		CreatedAt:  now,
	}

	// The order is a weak reference: it may not have synced yet. An
	// unresolved reference is not a failure; the refund persists without
	// the back-reference and a later batch converges.
	var original *domain.Order
	if payload.OrderUUID != "" {
		original, err = s.repo.FindOrderByClientUUID(ctx, payload.OrderUUID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("resolve original order: %w", err)
		}
	}
	if original != nil {
		refund.OriginalOrderID = original.ID
	}

	created, err := s.repo.CreateRefund(ctx, refund)
	if errors.Is(err, store.ErrAlreadyExists) {
		dup, findErr := s.repo.FindRefundByClientUUID(ctx, item.ClientUUID)
		if findErr != nil {
			return "", fmt.Errorf("re-read refund after insert race: %w", findErr)
		}
		return dup.ID, nil
	}
	if err != nil {
		return "", fmt.Errorf("create refund: %w", err)
	}

	// Best-effort cascade: the refund's success is not contingent on the
	// order status write.
	if original != nil {
		if err := s.repo.UpdateOrderStatus(ctx, original.ID, domain.OrderStatusRefunded); err != nil {
			s.logger.Warn("refund cascade failed",
				zap.String("refund_id", created.ID),
				zap.String("order_id", original.ID),
				zap.Error(err),
			)
		}
	}

	return created.ID, nil
}

func (s *Service) reconcileShift(ctx context.Context, item domain.SyncItem) (string, error) {
	existing, err := s.repo.FindShiftByClientUUID(ctx, item.ClientUUID)
	switch {
	case err == nil:
		var payload domain.ShiftPayload
		if err := json.Unmarshal(item.Payload, &payload); err != nil {
			return "", fmt.Errorf("%w: shift payload: %v", ErrValidation, err)
		}
		if !strings.EqualFold(payload.Status, "closed") {
			return existing.ID, nil
		}
		closing := domain.ShiftClose{
			ClosedAt:     parseLocalTime(payload.ClosedAt, time.Now().UTC()),
			ExpectedCash: payload.ExpectedCash,
			CountedCash:  payload.CountedCash,
			Variance:     payload.Variance,
		}
		if _, err := s.repo.CloseShift(ctx, existing.ID, closing); err != nil {
			return "", fmt.Errorf("close shift: %w", err)
		}
		return existing.ID, nil
	case errors.Is(err, store.ErrNotFound):
		return s.createShift(ctx, item)
	default:
		return "", fmt.Errorf("lookup shift: %w", err)
	}
}

func (s *Service) createShift(ctx context.Context, item domain.SyncItem) (string, error) {
	var payload domain.ShiftPayload
	if err := json.Unmarshal(item.Payload, &payload); err != nil {
		return "", fmt.Errorf("%w: shift payload: %v", ErrValidation, err)
	}

	now := time.Now().UTC()
	status := domain.ShiftStatusClosed
	if strings.EqualFold(payload.Status, "open") {
		status = domain.ShiftStatusOpen
	}
	shift := domain.Shift{
		ID:          xid.New("shf"),
		ClientUUID:  item.ClientUUID,
		DeviceID:    item.DeviceID,
		Cashier:     payload.CashierID,
		Status:      status,
		OpenedAt:    parseLocalTime(payload.OpenedAt, now),
		FloatAmount: payload.FloatAmount,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	created, err := s.repo.CreateShift(ctx, shift)
	if errors.Is(err, store.ErrAlreadyExists) {
		dup, findErr := s.repo.FindShiftByClientUUID(ctx, item.ClientUUID)
		if findErr != nil {
			return "", fmt.Errorf("re-read shift after insert race: %w", findErr)
		}
		return dup.ID, nil
	}
	if err != nil {
		return "", fmt.Errorf("create shift: %w", err)
	}
	return created.ID, nil
}

func (s *Service) reconcileCashEvent(ctx context.Context, item domain.SyncItem) (string, error) {
	existing, err := s.repo.FindCashEventByClientUUID(ctx, item.ClientUUID)
	if err == nil {
		// Cash events are immutable after creation.
		return existing.ID, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("lookup cash event: %w", err)
	}

	var payload domain.CashEventPayload
	if err := json.Unmarshal(item.Payload, &payload); err != nil {
		return "", fmt.Errorf("%w: cash event payload: %v", ErrValidation, err)
	}

	now := time.Now().UTC()
	eventType := domain.CashEventOut
	if strings.EqualFold(payload.Type, "in") {
		eventType = domain.CashEventIn
	}
	event := domain.CashEvent{
		ID:         xid.New("csh"),
		ClientUUID: item.ClientUUID,
		DeviceID:   item.DeviceID,
		ShiftID:    payload.ShiftID,
		EventType:  eventType,
		Amount:     payload.Amount,
		Reason:     payload.Reason,
		EventDate:  parseLocalTime(payload.CreatedAtLocal, now),
		CreatedAt:  now,
	}

	created, err := s.repo.CreateCashEvent(ctx, event)
	if errors.Is(err, store.ErrAlreadyExists) {
		dup, findErr := s.repo.FindCashEventByClientUUID(ctx, item.ClientUUID)
		if findErr != nil {
			return "", fmt.Errorf("re-read cash event after insert race: %w", findErr)
		}
		return dup.ID, nil
	}
	if err != nil {
		return "", fmt.Errorf("create cash event: %w", err)
	}
	return created.ID, nil
}

// PullCatalog computes the catalog delta at or after the since watermark,
// newest first, capped at the configured page size. A truncated page
// carries an opaque keyset cursor so large deltas drain deterministically
// across repeated pulls.
func (s *Service) PullCatalog(ctx context.Context, since time.Time, cursorToken string) (domain.CatalogDelta, error) {
	cursor, err := decodeCursor(cursorToken)
	if err != nil {
		return domain.CatalogDelta{}, fmt.Errorf("%w: cursor: %v", ErrValidation, err)
	}

	cacheKey := catalogCacheKey(since, cursorToken)
	if cached, ok, cacheErr := s.catalogCache.Get(ctx, cacheKey); cacheErr == nil && ok {
		return *cached, nil
	}

	rows, err := s.repo.ListCatalogProductsSince(ctx, since, cursor, s.pageSize)
	if err != nil {
		return domain.CatalogDelta{}, fmt.Errorf("list catalog products: %w", err)
	}

	products := make([]domain.Product, 0, len(rows))
	for _, row := range rows {
		product, err := s.resolveProduct(ctx, row)
		if err != nil {
			return domain.CatalogDelta{}, err
		}
		products = append(products, product)
	}

	categories, err := s.repo.ListLeafCategoriesSince(ctx, since)
	if err != nil {
		return domain.CatalogDelta{}, fmt.Errorf("list categories: %w", err)
	}

	delta := domain.CatalogDelta{
		Products:   products,
		Categories: categories,
		UpdatedAt:  time.Now().UTC(),
		Count:      len(products),
	}
	if len(rows) == s.pageSize {
		last := rows[len(rows)-1]
		delta.NextCursor = encodeCursor(domain.CatalogCursor{UpdatedAt: last.UpdatedAt, UUID: last.UUID})
	}

	if err := s.catalogCache.Set(ctx, cacheKey, &delta, s.cacheTTL); err != nil {
		s.logger.Debug("catalog cache set failed", zap.Error(err))
	}
	metrics.CatalogPullsTotal.Inc()

	return delta, nil
}

func (s *Service) resolveProduct(ctx context.Context, row domain.CatalogProduct) (domain.Product, error) {
	product := domain.Product{
		UUID:       row.UUID,
		SKU:        row.SKU,
		Name:       row.Name,
		Category:   row.Category,
		Price:      row.Price,
		Active:     row.Active,
		Emoji:      "\U0001F4E6",
		TrackStock: row.TrackStock,
		UpdatedAt:  row.UpdatedAt,
	}

	barcode, err := s.repo.FirstBarcode(ctx, row.UUID)
	switch {
	case err == nil:
		product.Barcode = &barcode
	case !errors.Is(err, store.ErrNotFound):
		return domain.Product{}, fmt.Errorf("barcode for %s: %w", row.UUID, err)
	}

	product.TaxRate = s.taxRate(ctx, row.TaxTemplate)
	product.Stock = s.stockQty(ctx, row.UUID)
	return product, nil
}

func (s *Service) taxRate(ctx context.Context, template string) float64 {
	if template == "" {
		return DefaultTaxRate
	}
	rate, err := s.repo.TaxTemplateRate(ctx, template)
	if err != nil {
		return DefaultTaxRate
	}
	return rate
}

func (s *Service) stockQty(ctx context.Context, productUUID string) float64 {
	qty, err := s.repo.MaxBinQty(ctx, productUUID)
	if err != nil {
		return UnknownStockQty
	}
	return qty
}

func encodeCursor(c domain.CatalogCursor) string {
	raw, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeCursor(token string) (*domain.CatalogCursor, error) {
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, err
	}
	var c domain.CatalogCursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	if c.UUID == "" || c.UpdatedAt.IsZero() {
		return nil, errors.New("malformed cursor")
	}
	return &c, nil
}

func catalogCacheKey(since time.Time, cursorToken string) string {
	return fmt.Sprintf("catalog:%s:%s", since.UTC().Format(time.RFC3339Nano), cursorToken)
}

var localTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseLocalTime accepts the handful of timestamp shapes devices emit;
// anything unparseable falls back to the server clock.
func parseLocalTime(value string, fallback time.Time) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	for _, layout := range localTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC()
		}
	}
	return fallback
}

func defaultString(value string, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// titleCase normalizes payment methods the way devices expect them
// ("store credit" → "Store Credit").
func titleCase(value string) string {
	words := strings.Fields(strings.ToLower(value))
	for i, word := range words {
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}
