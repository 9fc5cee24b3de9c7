package store

import (
	"context"
	"errors"
	"time"

	"github.com/EnZo1826/SmartPOS/internal/domain"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a conditional insert lost to an existing
	// record with the same key. Callers re-read and take the idempotent path.
	ErrAlreadyExists = errors.New("already exists")

	// ErrUnavailable indicates a transient persistence fault; the item is
	// safe to retry via batch resubmission.
	ErrUnavailable = errors.New("store unavailable")

	// ErrSequenceExhausted indicates the receipt counter for the current
	// period has no room left in the receipt number format.
	ErrSequenceExhausted = errors.New("receipt sequence exhausted")
)

// Repository is the persistence boundary consumed by the sync core.
//
// Create* methods are conditional inserts keyed on client_uuid: they fail
// with ErrAlreadyExists instead of overwriting, so a retry racing a fresh
// submission resolves deterministically to exactly one record. Find*
// methods are the idempotency index: (entity kind, client_uuid) → record.
type Repository interface {
	FindOrderByClientUUID(ctx context.Context, clientUUID string) (*domain.Order, error)
	CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, status string) error

	FindRefundByClientUUID(ctx context.Context, clientUUID string) (*domain.Refund, error)
	CreateRefund(ctx context.Context, refund domain.Refund) (*domain.Refund, error)

	FindShiftByClientUUID(ctx context.Context, clientUUID string) (*domain.Shift, error)
	CreateShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error)
	CloseShift(ctx context.Context, id string, closing domain.ShiftClose) (*domain.Shift, error)

	FindCashEventByClientUUID(ctx context.Context, clientUUID string) (*domain.CashEvent, error)
	CreateCashEvent(ctx context.Context, event domain.CashEvent) (*domain.CashEvent, error)

	// NextReceiptNumber atomically increments and returns the per-period
	// receipt counter. The counter starts at 1 for a fresh period.
	NextReceiptNumber(ctx context.Context, period string) (int64, error)

	ListCatalogProductsSince(ctx context.Context, since time.Time, cursor *domain.CatalogCursor, limit int) ([]domain.CatalogProduct, error)
	FirstBarcode(ctx context.Context, productUUID string) (string, error)
	TaxTemplateRate(ctx context.Context, template string) (float64, error)
	MaxBinQty(ctx context.Context, productUUID string) (float64, error)
	ListLeafCategoriesSince(ctx context.Context, since time.Time) ([]domain.Category, error)

	GetDevice(ctx context.Context, deviceID string) (*domain.Device, error)
	RegisterDevice(ctx context.Context, device domain.Device) error
}
