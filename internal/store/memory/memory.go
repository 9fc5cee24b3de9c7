package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/EnZo1826/SmartPOS/internal/domain"
	"github.com/EnZo1826/SmartPOS/internal/store"
)

// receiptCounterMax is the largest counter the 5-digit receipt format can
// carry within one period.
const receiptCounterMax = 99999

// Store is a mutex-guarded in-memory Repository used for dev mode and
// tests. Conditional inserts are serialized by the write lock, which
// stands in for the uniqueness constraint the postgres store relies on.
type Store struct {
	mu               sync.RWMutex
	ordersByUUID     map[string]domain.Order
	ordersByID       map[string]string // server id → client uuid
	refundsByUUID    map[string]domain.Refund
	shiftsByUUID     map[string]domain.Shift
	shiftsByID       map[string]string
	cashEventsByUUID map[string]domain.CashEvent
	receiptCounters  map[string]int64
	products         map[string]domain.CatalogProduct
	barcodes         map[string][]string
	taxTemplates     map[string]float64
	stockBins        map[string][]float64
	categories       map[string]domain.Category
	devices          map[string]domain.Device
}

func New() *Store {
	return &Store{
		ordersByUUID:     make(map[string]domain.Order),
		ordersByID:       make(map[string]string),
		refundsByUUID:    make(map[string]domain.Refund),
		shiftsByUUID:     make(map[string]domain.Shift),
		shiftsByID:       make(map[string]string),
		cashEventsByUUID: make(map[string]domain.CashEvent),
		receiptCounters:  make(map[string]int64),
		products:         make(map[string]domain.CatalogProduct),
		barcodes:         make(map[string][]string),
		taxTemplates:     make(map[string]float64),
		stockBins:        make(map[string][]float64),
		categories:       make(map[string]domain.Category),
		devices:          make(map[string]domain.Device),
	}
}

// NewSeeded returns a store preloaded with a small demo catalog and one
// registered device. The device secret comes from SEED_DEVICE_SECRET; a
// hardcoded dev default is used with a warning when unset.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	s.PutTaxTemplate("GST 5%", 0.05)
	s.PutTaxTemplate("VAT Standard", 0.15)

	for _, c := range []domain.Category{
		{UUID: "cat-beverage", Name: "Beverage", UpdatedAt: now},
		{UUID: "cat-snack", Name: "Snack", UpdatedAt: now},
		{UUID: "cat-grocery", Name: "Grocery", UpdatedAt: now},
	} {
		s.PutCategory(c)
	}

	for _, p := range []domain.CatalogProduct{
		{UUID: "prd-espresso", SKU: "ESP-01", Name: "Espresso Shot", Category: "Beverage", Price: decimal.NewFromFloat(2.50), TaxTemplate: "GST 5%", Active: true, TrackStock: false, UpdatedAt: now},
		{UUID: "prd-croissant", SKU: "CRS-01", Name: "Butter Croissant", Category: "Snack", Price: decimal.NewFromFloat(3.20), TaxTemplate: "GST 5%", Active: true, TrackStock: true, UpdatedAt: now},
		{UUID: "prd-rice-5kg", SKU: "RCE-05", Name: "Rice 5kg", Category: "Grocery", Price: decimal.NewFromFloat(11.90), Active: true, TrackStock: true, UpdatedAt: now},
	} {
		s.PutCatalogProduct(p)
	}
	s.PutBarcode("prd-croissant", "4006381333931")
	s.PutStockBin("prd-croissant", 24)
	s.PutStockBin("prd-rice-5kg", 180)
	s.PutStockBin("prd-rice-5kg", 45)

	secret := os.Getenv("SEED_DEVICE_SECRET")
	if secret == "" {
		secret = "device123"
		log.Println("[memory-store] WARNING: using default dev device secret. Set SEED_DEVICE_SECRET to override.")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("[memory-store] failed to hash seed device secret: %v", err)
	}
	s.devices["DEV-DEMO-01"] = domain.Device{
		DeviceID:   "DEV-DEMO-01",
		Label:      "Demo terminal",
		SecretHash: string(hash),
		Active:     true,
		CreatedAt:  now,
	}

	return s
}

func (s *Store) FindOrderByClientUUID(_ context.Context, clientUUID string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.ordersByUUID[clientUUID]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := order
	found.Items = slices.Clone(order.Items)
	found.Payments = slices.Clone(order.Payments)
	return &found, nil
}

func (s *Store) CreateOrder(_ context.Context, order domain.Order) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.ordersByUUID[order.ClientUUID]; exists {
		return nil, store.ErrAlreadyExists
	}
	order.Items = slices.Clone(order.Items)
	order.Payments = slices.Clone(order.Payments)
	s.ordersByUUID[order.ClientUUID] = order
	s.ordersByID[order.ID] = order.ClientUUID
	created := order
	return &created, nil
}

func (s *Store) UpdateOrderStatus(_ context.Context, id string, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clientUUID, ok := s.ordersByID[id]
	if !ok {
		return store.ErrNotFound
	}
	order := s.ordersByUUID[clientUUID]
	order.Status = status
	order.UpdatedAt = time.Now().UTC()
	s.ordersByUUID[clientUUID] = order
	return nil
}

func (s *Store) FindRefundByClientUUID(_ context.Context, clientUUID string) (*domain.Refund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	refund, ok := s.refundsByUUID[clientUUID]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := refund
	return &found, nil
}

func (s *Store) CreateRefund(_ context.Context, refund domain.Refund) (*domain.Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.refundsByUUID[refund.ClientUUID]; exists {
		return nil, store.ErrAlreadyExists
	}
	s.refundsByUUID[refund.ClientUUID] = refund
	created := refund
	return &created, nil
}

func (s *Store) FindShiftByClientUUID(_ context.Context, clientUUID string) (*domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shift, ok := s.shiftsByUUID[clientUUID]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := shift
	if shift.ClosedAt != nil {
		closedAt := *shift.ClosedAt
		found.ClosedAt = &closedAt
	}
	return &found, nil
}

func (s *Store) CreateShift(_ context.Context, shift domain.Shift) (*domain.Shift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.shiftsByUUID[shift.ClientUUID]; exists {
		return nil, store.ErrAlreadyExists
	}
	s.shiftsByUUID[shift.ClientUUID] = shift
	s.shiftsByID[shift.ID] = shift.ClientUUID
	created := shift
	return &created, nil
}

func (s *Store) CloseShift(_ context.Context, id string, closing domain.ShiftClose) (*domain.Shift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	clientUUID, ok := s.shiftsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	shift := s.shiftsByUUID[clientUUID]
	if shift.Status == domain.ShiftStatusOpen {
		closedAt := closing.ClosedAt
		shift.Status = domain.ShiftStatusClosed
		shift.ClosedAt = &closedAt
		shift.ExpectedCash = closing.ExpectedCash
		shift.CountedCash = closing.CountedCash
		shift.Variance = closing.Variance
		shift.UpdatedAt = time.Now().UTC()
		s.shiftsByUUID[clientUUID] = shift
	}
	closed := shift
	return &closed, nil
}

func (s *Store) FindCashEventByClientUUID(_ context.Context, clientUUID string) (*domain.CashEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	event, ok := s.cashEventsByUUID[clientUUID]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := event
	return &found, nil
}

func (s *Store) CreateCashEvent(_ context.Context, event domain.CashEvent) (*domain.CashEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.cashEventsByUUID[event.ClientUUID]; exists {
		return nil, store.ErrAlreadyExists
	}
	s.cashEventsByUUID[event.ClientUUID] = event
	created := event
	return &created, nil
}

func (s *Store) NextReceiptNumber(_ context.Context, period string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.receiptCounters[period] + 1
	if next > receiptCounterMax {
		return 0, store.ErrSequenceExhausted
	}
	s.receiptCounters[period] = next
	return next, nil
}

func (s *Store) ListCatalogProductsSince(_ context.Context, since time.Time, cursor *domain.CatalogCursor, limit int) ([]domain.CatalogProduct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]domain.CatalogProduct, 0, len(s.products))
	for _, p := range s.products {
		if p.UpdatedAt.Before(since) {
			continue
		}
		rows = append(rows, p)
	}

	slices.SortFunc(rows, func(a, b domain.CatalogProduct) int {
		if a.UpdatedAt.Equal(b.UpdatedAt) {
			return strings.Compare(b.UUID, a.UUID)
		}
		if a.UpdatedAt.After(b.UpdatedAt) {
			return -1
		}
		return 1
	})

	if cursor != nil {
		idx := 0
		for idx < len(rows) {
			p := rows[idx]
			if p.UpdatedAt.Before(cursor.UpdatedAt) ||
				(p.UpdatedAt.Equal(cursor.UpdatedAt) && p.UUID < cursor.UUID) {
				break
			}
			idx++
		}
		rows = rows[idx:]
	}

	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (s *Store) FirstBarcode(_ context.Context, productUUID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	codes := s.barcodes[productUUID]
	if len(codes) == 0 {
		return "", store.ErrNotFound
	}
	return codes[0], nil
}

func (s *Store) TaxTemplateRate(_ context.Context, template string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rate, ok := s.taxTemplates[template]
	if !ok {
		return 0, store.ErrNotFound
	}
	return rate, nil
}

func (s *Store) MaxBinQty(_ context.Context, productUUID string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bins, ok := s.stockBins[productUUID]
	if !ok || len(bins) == 0 {
		return 0, nil
	}
	maxQty := bins[0]
	for _, qty := range bins[1:] {
		if qty > maxQty {
			maxQty = qty
		}
	}
	return maxQty, nil
}

func (s *Store) ListLeafCategoriesSince(_ context.Context, since time.Time) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	categories := make([]domain.Category, 0, len(s.categories))
	for _, c := range s.categories {
		if c.UpdatedAt.Before(since) {
			continue
		}
		categories = append(categories, c)
	}
	slices.SortFunc(categories, func(a, b domain.Category) int {
		return strings.Compare(a.Name, b.Name)
	})
	return categories, nil
}

func (s *Store) GetDevice(_ context.Context, deviceID string) (*domain.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	device, ok := s.devices[deviceID]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := device
	return &found, nil
}

func (s *Store) RegisterDevice(_ context.Context, device domain.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.devices[device.DeviceID]; exists {
		return store.ErrAlreadyExists
	}
	s.devices[device.DeviceID] = device
	return nil
}

// PutCatalogProduct upserts a catalog row. The catalog is a projection of
// an external source, so ingest lives outside the Repository contract.
func (s *Store) PutCatalogProduct(p domain.CatalogProduct) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.UUID] = p
}

func (s *Store) PutBarcode(productUUID string, barcode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.barcodes[productUUID] = append(s.barcodes[productUUID], barcode)
}

func (s *Store) PutTaxTemplate(name string, rate float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.taxTemplates[name] = rate
}

func (s *Store) PutStockBin(productUUID string, qty float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stockBins[productUUID] = append(s.stockBins[productUUID], qty)
}

func (s *Store) PutCategory(c domain.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories[c.UUID] = c
}
