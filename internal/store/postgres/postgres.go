package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/EnZo1826/SmartPOS/internal/domain"
	"github.com/EnZo1826/SmartPOS/internal/store"
)

const receiptCounterMax = 99999

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) FindOrderByClientUUID(ctx context.Context, clientUUID string) (*domain.Order, error) {
	var order domain.Order
	err := s.db.QueryRowContext(ctx, `
		SELECT id, client_uuid, device_id, store_id, cashier, customer, order_date,
		       subtotal, discount_amount, tax_amount, grand_total, status,
		       receipt_number, created_at, updated_at
		FROM pos_orders
		WHERE client_uuid = $1
	`, clientUUID).Scan(
		&order.ID, &order.ClientUUID, &order.DeviceID, &order.StoreID,
		&order.Cashier, &order.Customer, &order.OrderDate,
		&order.Subtotal, &order.DiscountAmount, &order.TaxAmount, &order.GrandTotal,
		&order.Status, &order.ReceiptNumber, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	itemRows, err := s.db.QueryContext(ctx, `
		SELECT product_uuid, product_name, qty, unit_price, discount_pct, line_total
		FROM pos_order_items
		WHERE order_id = $1
		ORDER BY position
	`, order.ID)
	if err != nil {
		return nil, err
	}
	defer itemRows.Close()
	for itemRows.Next() {
		var line domain.OrderLine
		if err := itemRows.Scan(&line.ProductUUID, &line.ProductName, &line.Qty, &line.UnitPrice, &line.DiscountPct, &line.LineTotal); err != nil {
			return nil, err
		}
		order.Items = append(order.Items, line)
	}
	if err := itemRows.Err(); err != nil {
		return nil, err
	}

	paymentRows, err := s.db.QueryContext(ctx, `
		SELECT method, amount
		FROM pos_order_payments
		WHERE order_id = $1
		ORDER BY position
	`, order.ID)
	if err != nil {
		return nil, err
	}
	defer paymentRows.Close()
	for paymentRows.Next() {
		var payment domain.OrderPayment
		if err := paymentRows.Scan(&payment.Method, &payment.Amount); err != nil {
			return nil, err
		}
		order.Payments = append(order.Payments, payment)
	}
	if err := paymentRows.Err(); err != nil {
		return nil, err
	}

	return &order, nil
}

// CreateOrder inserts the order and its children in one transaction. The
// unique index on client_uuid makes the insert conditional: a concurrent
// duplicate fails with ErrAlreadyExists and is re-read by the caller.
func (s *Store) CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO pos_orders (
			id, client_uuid, device_id, store_id, cashier, customer, order_date,
			subtotal, discount_amount, tax_amount, grand_total, status,
			receipt_number, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, order.ID, order.ClientUUID, order.DeviceID, order.StoreID, order.Cashier,
		order.Customer, order.OrderDate, order.Subtotal, order.DiscountAmount,
		order.TaxAmount, order.GrandTotal, order.Status, order.ReceiptNumber,
		order.CreatedAt, order.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrAlreadyExists
		}
		return nil, err
	}

	for i, line := range order.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO pos_order_items (order_id, position, product_uuid, product_name, qty, unit_price, discount_pct, line_total)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, order.ID, i, line.ProductUUID, line.ProductName, line.Qty, line.UnitPrice, line.DiscountPct, line.LineTotal)
		if err != nil {
			return nil, err
		}
	}
	for i, payment := range order.Payments {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO pos_order_payments (order_id, position, method, amount)
			VALUES ($1,$2,$3,$4)
		`, order.ID, i, payment.Method, payment.Amount)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := order
	return &created, nil
}

func (s *Store) UpdateOrderStatus(ctx context.Context, id string, status string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pos_orders
		SET status = $2, updated_at = now()
		WHERE id = $1
	`, id, status)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) FindRefundByClientUUID(ctx context.Context, clientUUID string) (*domain.Refund, error) {
	var refund domain.Refund
	var originalOrderID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, client_uuid, device_id, order_uuid, original_order_id,
		       reason, amount, status, refund_date, created_at
		FROM pos_refunds
		WHERE client_uuid = $1
	`, clientUUID).Scan(
		&refund.ID, &refund.ClientUUID, &refund.DeviceID, &refund.OrderUUID,
		&originalOrderID, &refund.Reason, &refund.Amount, &refund.Status,
		&refund.RefundDate, &refund.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	refund.OriginalOrderID = originalOrderID.String
	return &refund, nil
}

func (s *Store) CreateRefund(ctx context.Context, refund domain.Refund) (*domain.Refund, error) {
	var originalOrderID any
	if refund.OriginalOrderID != "" {
		originalOrderID = refund.OriginalOrderID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pos_refunds (id, client_uuid, device_id, order_uuid, original_order_id, reason, amount, status, refund_date, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, refund.ID, refund.ClientUUID, refund.DeviceID, refund.OrderUUID,
		originalOrderID, refund.Reason, refund.Amount, refund.Status,
		refund.RefundDate, refund.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrAlreadyExists
		}
		return nil, err
	}
	created := refund
	return &created, nil
}

func (s *Store) FindShiftByClientUUID(ctx context.Context, clientUUID string) (*domain.Shift, error) {
	var shift domain.Shift
	var closedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, client_uuid, device_id, cashier, status, opened_at, closed_at,
		       float_amount, expected_cash, counted_cash, variance, created_at, updated_at
		FROM pos_shifts
		WHERE client_uuid = $1
	`, clientUUID).Scan(
		&shift.ID, &shift.ClientUUID, &shift.DeviceID, &shift.Cashier,
		&shift.Status, &shift.OpenedAt, &closedAt,
		&shift.FloatAmount, &shift.ExpectedCash, &shift.CountedCash,
		&shift.Variance, &shift.CreatedAt, &shift.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if closedAt.Valid {
		t := closedAt.Time.UTC()
		shift.ClosedAt = &t
	}
	return &shift, nil
}

func (s *Store) CreateShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error) {
	var closedAt any
	if shift.ClosedAt != nil {
		closedAt = *shift.ClosedAt
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pos_shifts (id, client_uuid, device_id, cashier, status, opened_at, closed_at, float_amount, expected_cash, counted_cash, variance, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, shift.ID, shift.ClientUUID, shift.DeviceID, shift.Cashier, shift.Status,
		shift.OpenedAt, closedAt, shift.FloatAmount, shift.ExpectedCash,
		shift.CountedCash, shift.Variance, shift.CreatedAt, shift.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrAlreadyExists
		}
		return nil, err
	}
	created := shift
	return &created, nil
}

// CloseShift transitions an open shift to Closed and attaches closing
// figures. Re-closing an already closed shift is a no-op by the WHERE
// clause, which keeps replayed close updates from overwriting figures.
func (s *Store) CloseShift(ctx context.Context, id string, closing domain.ShiftClose) (*domain.Shift, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE pos_shifts
		SET status = $2, closed_at = $3, expected_cash = $4, counted_cash = $5, variance = $6, updated_at = now()
		WHERE id = $1 AND status = $7
	`, id, domain.ShiftStatusClosed, closing.ClosedAt, closing.ExpectedCash,
		closing.CountedCash, closing.Variance, domain.ShiftStatusOpen)
	if err != nil {
		return nil, err
	}

	var clientUUID string
	err = s.db.QueryRowContext(ctx, `SELECT client_uuid FROM pos_shifts WHERE id = $1`, id).Scan(&clientUUID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return s.FindShiftByClientUUID(ctx, clientUUID)
}

func (s *Store) FindCashEventByClientUUID(ctx context.Context, clientUUID string) (*domain.CashEvent, error) {
	var event domain.CashEvent
	err := s.db.QueryRowContext(ctx, `
		SELECT id, client_uuid, device_id, shift_id, event_type, amount, reason, event_date, created_at
		FROM pos_cash_events
		WHERE client_uuid = $1
	`, clientUUID).Scan(
		&event.ID, &event.ClientUUID, &event.DeviceID, &event.ShiftID,
		&event.EventType, &event.Amount, &event.Reason, &event.EventDate, &event.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &event, nil
}

func (s *Store) CreateCashEvent(ctx context.Context, event domain.CashEvent) (*domain.CashEvent, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pos_cash_events (id, client_uuid, device_id, shift_id, event_type, amount, reason, event_date, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, event.ID, event.ClientUUID, event.DeviceID, event.ShiftID,
		event.EventType, event.Amount, event.Reason, event.EventDate, event.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrAlreadyExists
		}
		return nil, err
	}
	created := event
	return &created, nil
}

// NextReceiptNumber bumps the dedicated per-period counter atomically so
// receipt numbering never depends on the general id allocation.
func (s *Store) NextReceiptNumber(ctx context.Context, period string) (int64, error) {
	var counter int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO receipt_sequences (period, counter)
		VALUES ($1, 1)
		ON CONFLICT (period) DO UPDATE SET counter = receipt_sequences.counter + 1
		RETURNING counter
	`, period).Scan(&counter)
	if err != nil {
		return 0, err
	}
	if counter > receiptCounterMax {
		return 0, store.ErrSequenceExhausted
	}
	return counter, nil
}

func (s *Store) ListCatalogProductsSince(ctx context.Context, since time.Time, cursor *domain.CatalogCursor, limit int) ([]domain.CatalogProduct, error) {
	query := `
		SELECT uuid, sku, name, category, price, tax_template, active, track_stock, updated_at
		FROM catalog_products
		WHERE updated_at >= $1
	`
	args := []any{since}
	if cursor != nil {
		query += ` AND (updated_at < $2 OR (updated_at = $2 AND uuid < $3))`
		args = append(args, cursor.UpdatedAt, cursor.UUID)
	}
	query += ` ORDER BY updated_at DESC, uuid DESC`
	if limit > 0 {
		args = append(args, limit)
		switch len(args) {
		case 2:
			query += ` LIMIT $2`
		default:
			query += ` LIMIT $4`
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.CatalogProduct, 0, limit)
	for rows.Next() {
		var p domain.CatalogProduct
		var template sql.NullString
		if err := rows.Scan(&p.UUID, &p.SKU, &p.Name, &p.Category, &p.Price, &template, &p.Active, &p.TrackStock, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.TaxTemplate = template.String
		p.UpdatedAt = p.UpdatedAt.UTC()
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) FirstBarcode(ctx context.Context, productUUID string) (string, error) {
	var barcode string
	err := s.db.QueryRowContext(ctx, `
		SELECT barcode
		FROM catalog_barcodes
		WHERE product_uuid = $1
		ORDER BY position
		LIMIT 1
	`, productUUID).Scan(&barcode)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", store.ErrNotFound
		}
		return "", err
	}
	return barcode, nil
}

func (s *Store) TaxTemplateRate(ctx context.Context, template string) (float64, error) {
	var rate float64
	err := s.db.QueryRowContext(ctx, `
		SELECT rate
		FROM catalog_tax_templates
		WHERE name = $1
	`, template).Scan(&rate)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, err
	}
	return rate, nil
}

func (s *Store) MaxBinQty(ctx context.Context, productUUID string) (float64, error) {
	var qty sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(qty)
		FROM catalog_stock_bins
		WHERE product_uuid = $1
	`, productUUID).Scan(&qty)
	if err != nil {
		return 0, err
	}
	return qty.Float64, nil
}

func (s *Store) ListLeafCategoriesSince(ctx context.Context, since time.Time) ([]domain.Category, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT uuid, name, updated_at
		FROM catalog_categories
		WHERE is_group = false AND updated_at >= $1
		ORDER BY name
	`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := make([]domain.Category, 0, 32)
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.UUID, &c.Name, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.UpdatedAt = c.UpdatedAt.UTC()
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return categories, nil
}

func (s *Store) GetDevice(ctx context.Context, deviceID string) (*domain.Device, error) {
	var device domain.Device
	err := s.db.QueryRowContext(ctx, `
		SELECT device_id, label, secret_hash, active, created_at
		FROM devices
		WHERE device_id = $1
	`, deviceID).Scan(&device.DeviceID, &device.Label, &device.SecretHash, &device.Active, &device.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &device, nil
}

func (s *Store) RegisterDevice(ctx context.Context, device domain.Device) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO devices (device_id, label, secret_hash, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, device.DeviceID, device.Label, device.SecretHash, device.Active, device.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return store.ErrAlreadyExists
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
