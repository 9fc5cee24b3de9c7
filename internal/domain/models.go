package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Entity kinds a device may place on its outbox.
const (
	KindOrder     = "order"
	KindRefund    = "refund"
	KindShift     = "shift"
	KindCashEvent = "cash_event"
)

const (
	OpCreate = "create"
	OpUpdate = "update"
)

const (
	OrderStatusCompleted = "Completed"
	OrderStatusRefunded  = "Refunded"
)

const RefundStatusProcessed = "Processed"

const (
	ShiftStatusOpen   = "Open"
	ShiftStatusClosed = "Closed"
)

const (
	CashEventIn  = "Cash In"
	CashEventOut = "Cash Out"
)

// SyncItem is one entry of a device outbox. ClientUUID is the idempotency
// key; OutboxID is only echoed back so the device can correlate results.
type SyncItem struct {
	OutboxID   int64           `json:"outbox_id"`
	EntityKind string          `json:"entity_kind"`
	ClientUUID string          `json:"client_uuid"`
	Operation  string          `json:"operation"`
	Payload    json.RawMessage `json:"payload"`
	DeviceID   string          `json:"device_id"`
}

type PushBatchRequest struct {
	Batch []SyncItem `json:"batch"`
}

type ProcessedItem struct {
	OutboxID   int64  `json:"outbox_id"`
	ClientUUID string `json:"client_uuid"`
	ServerID   string `json:"server_id"`
	Status     string `json:"status"`
}

type FailedItem struct {
	OutboxID   int64  `json:"outbox_id"`
	ClientUUID string `json:"client_uuid"`
	Error      string `json:"error"`
}

// PushBatchResponse enumerates every submitted item exactly once, in
// either Processed or Failed.
type PushBatchResponse struct {
	Processed []ProcessedItem `json:"processed"`
	Failed    []FailedItem    `json:"failed"`
}

// OrderPayload is the wire shape devices produce for an order event.
type OrderPayload struct {
	Order    OrderHeader        `json:"order"`
	Items    []OrderItemPayload `json:"items"`
	Payments []PaymentPayload   `json:"payments"`
}

type OrderHeader struct {
	ShiftID        string          `json:"shift_id"`
	CashierName    string          `json:"cashier_name"`
	Customer       string          `json:"customer"`
	CreatedAtLocal string          `json:"created_at_local"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	Total          decimal.Decimal `json:"total"`
	Status         string          `json:"status"`
}

type OrderItemPayload struct {
	ProductUUID  string          `json:"product_uuid"`
	ProductName  string          `json:"product_name"`
	Qty          decimal.Decimal `json:"qty"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	LineDiscount decimal.Decimal `json:"line_discount"`
	LineTotal    decimal.Decimal `json:"line_total"`
}

type PaymentPayload struct {
	Method string          `json:"method"`
	Amount decimal.Decimal `json:"amount"`
}

type RefundPayload struct {
	OrderUUID      string          `json:"order_uuid"`
	Reason         string          `json:"reason"`
	Amount         decimal.Decimal `json:"amount"`
	Status         string          `json:"status"`
	CreatedAtLocal string          `json:"created_at_local"`
}

type ShiftPayload struct {
	Status       string          `json:"status"`
	CashierID    string          `json:"cashier_id"`
	OpenedAt     string          `json:"opened_at"`
	FloatAmount  decimal.Decimal `json:"float_amount"`
	ClosedAt     string          `json:"closed_at"`
	ExpectedCash decimal.Decimal `json:"expected_cash"`
	CountedCash  decimal.Decimal `json:"counted_cash"`
	Variance     decimal.Decimal `json:"variance"`
}

type CashEventPayload struct {
	ShiftID        string          `json:"shift_id"`
	Type           string          `json:"type"`
	Amount         decimal.Decimal `json:"amount"`
	Reason         string          `json:"reason"`
	CreatedAtLocal string          `json:"created_at_local"`
}

// Order is the server-side record for a synced POS order. ReceiptNumber
// is assigned exactly once at creation and never reassigned.
type Order struct {
	ID             string          `json:"id"`
	ClientUUID     string          `json:"client_uuid"`
	DeviceID       string          `json:"device_id"`
	StoreID        string          `json:"store_id"`
	Cashier        string          `json:"cashier"`
	Customer       string          `json:"customer"`
	OrderDate      time.Time       `json:"order_date"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	GrandTotal     decimal.Decimal `json:"grand_total"`
	Status         string          `json:"status"`
	ReceiptNumber  string          `json:"receipt_number"`
	Items          []OrderLine     `json:"line_items"`
	Payments       []OrderPayment  `json:"payments"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type OrderLine struct {
	ProductUUID string          `json:"product_uuid"`
	ProductName string          `json:"product_name"`
	Qty         decimal.Decimal `json:"qty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	DiscountPct decimal.Decimal `json:"discount_pct"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

type OrderPayment struct {
	Method string          `json:"method"`
	Amount decimal.Decimal `json:"amount"`
}

// Refund references its order by the order's client uuid. OriginalOrderID
// is a weak back-reference: empty when the order has not synced yet.
type Refund struct {
	ID              string          `json:"id"`
	ClientUUID      string          `json:"client_uuid"`
	DeviceID        string          `json:"device_id"`
	OrderUUID       string          `json:"order_uuid"`
	OriginalOrderID string          `json:"original_order_id,omitempty"`
	Reason          string          `json:"reason"`
	Amount          decimal.Decimal `json:"amount"`
	Status          string          `json:"status"`
	RefundDate      time.Time       `json:"refund_date"`
	CreatedAt       time.Time       `json:"created_at"`
}

type Shift struct {
	ID           string          `json:"id"`
	ClientUUID   string          `json:"client_uuid"`
	DeviceID     string          `json:"device_id"`
	Cashier      string          `json:"cashier"`
	Status       string          `json:"status"`
	OpenedAt     time.Time       `json:"opened_at"`
	ClosedAt     *time.Time      `json:"closed_at,omitempty"`
	FloatAmount  decimal.Decimal `json:"float_amount"`
	ExpectedCash decimal.Decimal `json:"expected_cash"`
	CountedCash  decimal.Decimal `json:"counted_cash"`
	Variance     decimal.Decimal `json:"variance"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// ShiftClose carries the closing figures attached on the Open→Closed
// transition. No other shift field is mutable after creation.
type ShiftClose struct {
	ClosedAt     time.Time
	ExpectedCash decimal.Decimal
	CountedCash  decimal.Decimal
	Variance     decimal.Decimal
}

type CashEvent struct {
	ID         string          `json:"id"`
	ClientUUID string          `json:"client_uuid"`
	DeviceID   string          `json:"device_id"`
	ShiftID    string          `json:"shift_id"`
	EventType  string          `json:"event_type"`
	Amount     decimal.Decimal `json:"amount"`
	Reason     string          `json:"reason"`
	EventDate  time.Time       `json:"event_date"`
	CreatedAt  time.Time       `json:"created_at"`
}

// CatalogProduct is the raw catalog row as stored; barcode, tax rate and
// stock are resolved separately when building a delta.
type CatalogProduct struct {
	UUID        string
	SKU         string
	Name        string
	Category    string
	Price       decimal.Decimal
	TaxTemplate string
	Active      bool
	TrackStock  bool
	UpdatedAt   time.Time
}

// Product is the fully resolved replication view sent to devices.
type Product struct {
	UUID       string          `json:"uuid"`
	SKU        string          `json:"sku"`
	Barcode    *string         `json:"barcode"`
	Name       string          `json:"name"`
	Category   string          `json:"category"`
	Price      decimal.Decimal `json:"price"`
	TaxRate    float64         `json:"tax_rate"`
	Active     bool            `json:"active"`
	Emoji      string          `json:"emoji"`
	TrackStock bool            `json:"track_stock"`
	Stock      float64         `json:"stock"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type Category struct {
	UUID      string    `json:"uuid"`
	Name      string    `json:"name"`
	UpdatedAt time.Time `json:"-"`
}

// CatalogCursor is the keyset position of the last row of a truncated
// delta page, ordered by (UpdatedAt, UUID) descending.
type CatalogCursor struct {
	UpdatedAt time.Time `json:"updated_at"`
	UUID      string    `json:"uuid"`
}

type CatalogDelta struct {
	Products   []Product  `json:"products"`
	Categories []Category `json:"categories"`
	UpdatedAt  time.Time  `json:"updated_at"`
	Count      int        `json:"count"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

// Device is a registered point-of-sale terminal allowed to sync.
// SecretHash is a bcrypt hash of the provisioning secret.
type Device struct {
	DeviceID   string    `json:"device_id"`
	Label      string    `json:"label"`
	SecretHash string    `json:"-"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

type DeviceLoginRequest struct {
	DeviceID string `json:"device_id"`
	Secret   string `json:"secret"`
}

type DeviceLoginResponse struct {
	AccessToken string `json:"access_token"`
	DeviceID    string `json:"device_id"`
	ExpiresAt   string `json:"expires_at"`
}
