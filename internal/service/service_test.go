package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EnZo1826/SmartPOS/internal/domain"
	"github.com/EnZo1826/SmartPOS/internal/store/memory"
)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	repo := memory.New()
	svc := New(repo, nil, nil, Options{})
	return svc, repo
}

func orderItem(t *testing.T, clientUUID string, op string, payload domain.OrderPayload) domain.SyncItem {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return domain.SyncItem{
		OutboxID:   1,
		EntityKind: domain.KindOrder,
		ClientUUID: clientUUID,
		Operation:  op,
		Payload:    raw,
		DeviceID:   "DEV-TEST-01",
	}
}

func syncItem(t *testing.T, kind string, clientUUID string, op string, payload any) domain.SyncItem {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return domain.SyncItem{
		OutboxID:   1,
		EntityKind: kind,
		ClientUUID: clientUUID,
		Operation:  op,
		Payload:    raw,
		DeviceID:   "DEV-TEST-01",
	}
}

func sampleOrderPayload() domain.OrderPayload {
	return domain.OrderPayload{
		Order: domain.OrderHeader{
			ShiftID:        "shift-morning",
			CashierName:    "Ana",
			CreatedAtLocal: "2026-08-29T09:15:00Z",
			Subtotal:       decimal.NewFromFloat(19.50),
			TaxAmount:      decimal.NewFromFloat(2.93),
			Total:          decimal.NewFromFloat(22.43),
		},
		Items: []domain.OrderItemPayload{
			{
				ProductUUID: "prd-espresso",
				ProductName: "Espresso",
				Qty:         decimal.NewFromInt(3),
				UnitPrice:   decimal.NewFromFloat(6.50),
				LineTotal:   decimal.NewFromFloat(19.50),
			},
		},
		Payments: []domain.PaymentPayload{
			{Method: "cash", Amount: decimal.NewFromFloat(22.43)},
		},
	}
}

func TestOrderCreateIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	clientUUID := uuid.NewString()

	item := orderItem(t, clientUUID, domain.OpCreate, sampleOrderPayload())

	first := svc.PushBatch(ctx, []domain.SyncItem{item})
	require.Len(t, first.Processed, 1)
	require.Empty(t, first.Failed)

	// Same batch again, as a device would after losing the response.
	second := svc.PushBatch(ctx, []domain.SyncItem{item})
	require.Len(t, second.Processed, 1)
	require.Empty(t, second.Failed)

	assert.Equal(t, first.Processed[0].ServerID, second.Processed[0].ServerID)

	order, err := svc.repo.FindOrderByClientUUID(ctx, clientUUID)
	require.NoError(t, err)
	assert.Equal(t, "Ana", order.Cashier)
	assert.Equal(t, "Walk-in", order.Customer)
	assert.Equal(t, domain.OrderStatusCompleted, order.Status)
	assert.Equal(t, "shift-morning", order.StoreID)
	assert.Equal(t, "Cash", order.Payments[0].Method)
	require.Len(t, order.Items, 1)
}

func TestReplayDoesNotBurnReceiptNumbers(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first := orderItem(t, uuid.NewString(), domain.OpCreate, sampleOrderPayload())
	svc.PushBatch(ctx, []domain.SyncItem{first})
	// Replays of the first order.
	svc.PushBatch(ctx, []domain.SyncItem{first})
	svc.PushBatch(ctx, []domain.SyncItem{first})

	secondUUID := uuid.NewString()
	svc.PushBatch(ctx, []domain.SyncItem{orderItem(t, secondUUID, domain.OpCreate, sampleOrderPayload())})

	now := time.Now().UTC()
	wantPrefix := fmt.Sprintf("POS-%d-%02d-", now.Year(), int(now.Month()))

	firstOrder, err := svc.repo.FindOrderByClientUUID(ctx, first.ClientUUID)
	require.NoError(t, err)
	secondOrder, err := svc.repo.FindOrderByClientUUID(ctx, secondUUID)
	require.NoError(t, err)

	assert.Equal(t, wantPrefix+"00001", firstOrder.ReceiptNumber)
	assert.Equal(t, wantPrefix+"00002", secondOrder.ReceiptNumber)
}

func TestOrderUpdateOnlyChangesStatus(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	clientUUID := uuid.NewString()

	svc.PushBatch(ctx, []domain.SyncItem{orderItem(t, clientUUID, domain.OpCreate, sampleOrderPayload())})

	update := sampleOrderPayload()
	update.Order.Status = "Voided"
	update.Order.CashierName = "Someone Else"
	resp := svc.PushBatch(ctx, []domain.SyncItem{orderItem(t, clientUUID, domain.OpUpdate, update)})
	require.Len(t, resp.Processed, 1)

	order, err := svc.repo.FindOrderByClientUUID(ctx, clientUUID)
	require.NoError(t, err)
	assert.Equal(t, "Voided", order.Status)
	assert.Equal(t, "Ana", order.Cashier)
}

func TestBatchIsolatesFailures(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	goodA := orderItem(t, uuid.NewString(), domain.OpCreate, sampleOrderPayload())
	goodA.OutboxID = 10
	badUUID := orderItem(t, "not-a-uuid", domain.OpCreate, sampleOrderPayload())
	badUUID.OutboxID = 11
	unknownKind := syncItem(t, "voucher", uuid.NewString(), domain.OpCreate, map[string]any{})
	unknownKind.OutboxID = 12
	malformed := domain.SyncItem{
		OutboxID:   13,
		EntityKind: domain.KindOrder,
		ClientUUID: uuid.NewString(),
		Operation:  domain.OpCreate,
		Payload:    json.RawMessage(`{"order": "not-an-object"}`),
	}
	goodB := orderItem(t, uuid.NewString(), domain.OpCreate, sampleOrderPayload())
	goodB.OutboxID = 14

	resp := svc.PushBatch(ctx, []domain.SyncItem{goodA, badUUID, unknownKind, malformed, goodB})

	require.Len(t, resp.Processed, 2)
	require.Len(t, resp.Failed, 3)

	// Order preserved and every item enumerated exactly once.
	assert.Equal(t, int64(10), resp.Processed[0].OutboxID)
	assert.Equal(t, int64(14), resp.Processed[1].OutboxID)
	assert.Equal(t, int64(11), resp.Failed[0].OutboxID)
	assert.Equal(t, int64(12), resp.Failed[1].OutboxID)
	assert.Equal(t, int64(13), resp.Failed[2].OutboxID)

	assert.Contains(t, resp.Failed[0].Error, "client_uuid")
	assert.Contains(t, resp.Failed[1].Error, "unknown entity_kind")
}

func TestEmptyBatch(t *testing.T) {
	svc, _ := newTestService(t)

	resp := svc.PushBatch(context.Background(), nil)
	assert.NotNil(t, resp.Processed)
	assert.NotNil(t, resp.Failed)
	assert.Empty(t, resp.Processed)
	assert.Empty(t, resp.Failed)
}

func TestRefundAfterOrderCascades(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	orderUUID := uuid.NewString()

	svc.PushBatch(ctx, []domain.SyncItem{orderItem(t, orderUUID, domain.OpCreate, sampleOrderPayload())})

	refundUUID := uuid.NewString()
	resp := svc.PushBatch(ctx, []domain.SyncItem{syncItem(t, domain.KindRefund, refundUUID, domain.OpCreate, domain.RefundPayload{
		OrderUUID: orderUUID,
		Reason:    "damaged item",
		Amount:    decimal.NewFromFloat(22.43),
	})})
	require.Len(t, resp.Processed, 1)
	require.Empty(t, resp.Failed)

	refund, err := svc.repo.FindRefundByClientUUID(ctx, refundUUID)
	require.NoError(t, err)
	assert.NotEmpty(t, refund.OriginalOrderID)
	assert.Equal(t, domain.RefundStatusProcessed, refund.Status)

	order, err := svc.repo.FindOrderByClientUUID(ctx, orderUUID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusRefunded, order.Status)
}

func TestRefundBeforeOrderDoesNotFail(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	orderUUID := uuid.NewString()
	refundUUID := uuid.NewString()

	resp := svc.PushBatch(ctx, []domain.SyncItem{syncItem(t, domain.KindRefund, refundUUID, domain.OpCreate, domain.RefundPayload{
		OrderUUID: orderUUID,
		Reason:    "wrong color",
		Amount:    decimal.NewFromFloat(5),
	})})
	require.Len(t, resp.Processed, 1)
	require.Empty(t, resp.Failed)

	refund, err := svc.repo.FindRefundByClientUUID(ctx, refundUUID)
	require.NoError(t, err)
	assert.Empty(t, refund.OriginalOrderID)
	assert.Equal(t, orderUUID, refund.OrderUUID)

	// The order arrives in a later batch. There is no retroactive pass,
	// so it stays Completed and the back-reference stays empty.
	svc.PushBatch(ctx, []domain.SyncItem{orderItem(t, orderUUID, domain.OpCreate, sampleOrderPayload())})

	order, err := svc.repo.FindOrderByClientUUID(ctx, orderUUID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCompleted, order.Status)
}

func TestRefundReplayDoesNotCascadeTwice(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	orderUUID := uuid.NewString()
	refundUUID := uuid.NewString()

	svc.PushBatch(ctx, []domain.SyncItem{orderItem(t, orderUUID, domain.OpCreate, sampleOrderPayload())})
	refund := syncItem(t, domain.KindRefund, refundUUID, domain.OpCreate, domain.RefundPayload{
		OrderUUID: orderUUID,
		Amount:    decimal.NewFromFloat(1),
	})

	first := svc.PushBatch(ctx, []domain.SyncItem{refund})
	// Manually flip the order back so a second cascade would be visible.
	order, err := svc.repo.FindOrderByClientUUID(ctx, orderUUID)
	require.NoError(t, err)
	require.NoError(t, svc.repo.UpdateOrderStatus(ctx, order.ID, domain.OrderStatusCompleted))

	second := svc.PushBatch(ctx, []domain.SyncItem{refund})
	assert.Equal(t, first.Processed[0].ServerID, second.Processed[0].ServerID)

	order, err = svc.repo.FindOrderByClientUUID(ctx, orderUUID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCompleted, order.Status)
}

func TestShiftLifecycle(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	shiftUUID := uuid.NewString()

	open := syncItem(t, domain.KindShift, shiftUUID, domain.OpCreate, domain.ShiftPayload{
		Status:      "open",
		CashierID:   "ana",
		OpenedAt:    "2026-08-29T08:00:00Z",
		FloatAmount: decimal.NewFromInt(100),
	})
	resp := svc.PushBatch(ctx, []domain.SyncItem{open})
	require.Len(t, resp.Processed, 1)

	shift, err := svc.repo.FindShiftByClientUUID(ctx, shiftUUID)
	require.NoError(t, err)
	assert.Equal(t, domain.ShiftStatusOpen, shift.Status)
	assert.Nil(t, shift.ClosedAt)

	closeItem := syncItem(t, domain.KindShift, shiftUUID, domain.OpUpdate, domain.ShiftPayload{
		Status:       "closed",
		ClosedAt:     "2026-08-29T17:00:00Z",
		ExpectedCash: decimal.NewFromInt(950),
		CountedCash:  decimal.NewFromInt(948),
		Variance:     decimal.NewFromInt(-2),
	})
	resp = svc.PushBatch(ctx, []domain.SyncItem{closeItem})
	require.Len(t, resp.Processed, 1)

	shift, err = svc.repo.FindShiftByClientUUID(ctx, shiftUUID)
	require.NoError(t, err)
	assert.Equal(t, domain.ShiftStatusClosed, shift.Status)
	require.NotNil(t, shift.ClosedAt)
	firstClosedAt := *shift.ClosedAt
	assert.True(t, shift.CountedCash.Equal(decimal.NewFromInt(948)))

	// Replay of the close is a no-op: the closing figures survive as
	// first written.
	replay := syncItem(t, domain.KindShift, shiftUUID, domain.OpUpdate, domain.ShiftPayload{
		Status:      "closed",
		ClosedAt:    "2026-08-29T23:59:00Z",
		CountedCash: decimal.NewFromInt(10),
	})
	resp = svc.PushBatch(ctx, []domain.SyncItem{replay})
	require.Len(t, resp.Processed, 1)

	shift, err = svc.repo.FindShiftByClientUUID(ctx, shiftUUID)
	require.NoError(t, err)
	assert.Equal(t, firstClosedAt, *shift.ClosedAt)
	assert.True(t, shift.CountedCash.Equal(decimal.NewFromInt(948)))
}

func TestShiftCreatedDirectlyClosed(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	shiftUUID := uuid.NewString()

	// A device can sync a shift that opened and closed entirely offline.
	resp := svc.PushBatch(ctx, []domain.SyncItem{syncItem(t, domain.KindShift, shiftUUID, domain.OpCreate, domain.ShiftPayload{
		Status:    "closed",
		CashierID: "ben",
		OpenedAt:  "2026-08-28T08:00:00Z",
	})})
	require.Len(t, resp.Processed, 1)

	shift, err := svc.repo.FindShiftByClientUUID(ctx, shiftUUID)
	require.NoError(t, err)
	assert.Equal(t, domain.ShiftStatusClosed, shift.Status)
}

func TestCashEventsAreKeyedByUUIDNotShift(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	a := uuid.NewString()
	b := uuid.NewString()
	resp := svc.PushBatch(ctx, []domain.SyncItem{
		syncItem(t, domain.KindCashEvent, a, domain.OpCreate, domain.CashEventPayload{
			ShiftID: "shift-1", Type: "in", Amount: decimal.NewFromInt(50), Reason: "float top-up",
		}),
		syncItem(t, domain.KindCashEvent, b, domain.OpCreate, domain.CashEventPayload{
			ShiftID: "shift-1", Type: "out", Amount: decimal.NewFromInt(20), Reason: "supplier cod",
		}),
	})
	require.Len(t, resp.Processed, 2)
	require.Empty(t, resp.Failed)

	in, err := svc.repo.FindCashEventByClientUUID(ctx, a)
	require.NoError(t, err)
	out, err := svc.repo.FindCashEventByClientUUID(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, domain.CashEventIn, in.EventType)
	assert.Equal(t, domain.CashEventOut, out.EventType)
}

func seedProduct(repo *memory.Store, id string, updatedAt time.Time) {
	repo.PutCatalogProduct(domain.CatalogProduct{
		UUID:       id,
		SKU:        "SKU-" + id,
		Name:       "Product " + id,
		Category:   "General",
		Price:      decimal.NewFromInt(10),
		Active:     true,
		TrackStock: true,
		UpdatedAt:  updatedAt,
	})
}

func TestCatalogDeltaFiltersBySince(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	seedProduct(repo, "old", base)
	seedProduct(repo, "new", base.Add(48*time.Hour))
	repo.PutCategory(domain.Category{UUID: "cat-1", Name: "General", UpdatedAt: base.Add(48 * time.Hour)})

	delta, err := svc.PullCatalog(ctx, base.Add(24*time.Hour), "")
	require.NoError(t, err)
	require.Len(t, delta.Products, 1)
	assert.Equal(t, "new", delta.Products[0].UUID)
	assert.Equal(t, 1, delta.Count)
	assert.Empty(t, delta.NextCursor)
	require.Len(t, delta.Categories, 1)
}

func TestCatalogProductResolution(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	now := time.Now().UTC()
	repo.PutCatalogProduct(domain.CatalogProduct{
		UUID:        "prd-a",
		SKU:         "SKU-A",
		Name:        "Milk",
		Price:       decimal.NewFromFloat(3.20),
		TaxTemplate: "GST 5%",
		Active:      true,
		TrackStock:  true,
		UpdatedAt:   now,
	})
	repo.PutTaxTemplate("GST 5%", 0.05)
	repo.PutBarcode("prd-a", "890123456789")
	repo.PutStockBin("prd-a", 12)
	repo.PutStockBin("prd-a", 40)

	seedProduct(repo, "prd-b", now) // no barcode, no template, no bins

	delta, err := svc.PullCatalog(ctx, time.Time{}, "")
	require.NoError(t, err)
	require.Len(t, delta.Products, 2)

	byUUID := map[string]domain.Product{}
	for _, p := range delta.Products {
		byUUID[p.UUID] = p
	}

	a := byUUID["prd-a"]
	require.NotNil(t, a.Barcode)
	assert.Equal(t, "890123456789", *a.Barcode)
	assert.Equal(t, 0.05, a.TaxRate)
	assert.Equal(t, float64(40), a.Stock)
	assert.Equal(t, "\U0001F4E6", a.Emoji)

	b := byUUID["prd-b"]
	assert.Nil(t, b.Barcode)
	assert.Equal(t, DefaultTaxRate, b.TaxRate)
	assert.Equal(t, float64(0), b.Stock)
}

func TestCatalogCursorDrainsLargeDelta(t *testing.T) {
	repo := memory.New()
	svc := New(repo, nil, nil, Options{CatalogPageSize: 2})
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		seedProduct(repo, fmt.Sprintf("prd-%d", i), base.Add(time.Duration(i)*time.Hour))
	}

	seen := map[string]int{}
	cursor := ""
	pages := 0
	for {
		delta, err := svc.PullCatalog(ctx, time.Time{}, cursor)
		require.NoError(t, err)
		for _, p := range delta.Products {
			seen[p.UUID]++
		}
		pages++
		if delta.NextCursor == "" {
			break
		}
		cursor = delta.NextCursor
		require.Less(t, pages, 10, "cursor chain must terminate")
	}

	assert.Equal(t, 3, pages)
	require.Len(t, seen, 5)
	for id, n := range seen {
		assert.Equal(t, 1, n, "product %s repeated across pages", id)
	}
}

type recordingCache struct {
	entries map[string]*domain.CatalogDelta
	sets    int
	hits    int
}

func (c *recordingCache) Get(_ context.Context, key string) (*domain.CatalogDelta, bool, error) {
	delta, ok := c.entries[key]
	if ok {
		c.hits++
	}
	return delta, ok, nil
}

func (c *recordingCache) Set(_ context.Context, key string, value *domain.CatalogDelta, _ time.Duration) error {
	c.entries[key] = value
	c.sets++
	return nil
}

func TestCatalogPullIsServedFromCache(t *testing.T) {
	repo := memory.New()
	cached := &recordingCache{entries: map[string]*domain.CatalogDelta{}}
	svc := New(repo, cached, nil, Options{})
	ctx := context.Background()

	seedProduct(repo, "prd-a", time.Now().UTC())

	first, err := svc.PullCatalog(ctx, time.Time{}, "")
	require.NoError(t, err)
	require.Equal(t, 1, cached.sets)

	// A product changing after the cached pull is invisible until the
	// entry expires; the second pull is the cached body verbatim.
	seedProduct(repo, "prd-b", time.Now().UTC())

	second, err := svc.PullCatalog(ctx, time.Time{}, "")
	require.NoError(t, err)
	assert.Equal(t, 1, cached.hits)
	assert.Equal(t, first.Count, second.Count)
	assert.Equal(t, first.UpdatedAt, second.UpdatedAt)
}

func TestCatalogRejectsGarbageCursor(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.PullCatalog(context.Background(), time.Time{}, "@@@not-base64@@@")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestParseLocalTimeFallsBack(t *testing.T) {
	fallback := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, fallback, parseLocalTime("", fallback))
	assert.Equal(t, fallback, parseLocalTime("yesterday-ish", fallback))

	parsed := parseLocalTime("2026-08-29 09:15:00", fallback)
	assert.Equal(t, 9, parsed.Hour())
}

func TestTitleCase(t *testing.T) {
	assert.Equal(t, "Store Credit", titleCase("store credit"))
	assert.Equal(t, "Cash", titleCase("CASH"))
	assert.Equal(t, "", titleCase(""))
}
