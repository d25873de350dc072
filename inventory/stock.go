package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/stock-ledger/generic"
)

// Stock is the lot manager and aggregate writer for one store scope.
type Stock struct {
	repo   Repository
	ledger *generic.DefaultLedger

	// AllowPlaceholders lets FindOrCreateItem create unknown items with a
	// placeholder name instead of failing with NotFoundError.
	AllowPlaceholders bool

	Now func() time.Time
}

func NewStock(repo Repository) *Stock {
	return &Stock{
		repo:              repo,
		ledger:            generic.NewStockLedger(repo),
		AllowPlaceholders: true,
		Now:               time.Now,
	}
}

// WithClock makes the stock and its ledger read time from now.
func (s *Stock) WithClock(now func() time.Time) *Stock {
	s.Now = now
	s.ledger.Now = now
	return s
}

// =============================================================================
// ITEMS
// =============================================================================

// GetItem loads an item or returns *generic.NotFoundError.
func (s *Stock) GetItem(ctx context.Context, tenant generic.TenantID, id string) (*Item, error) {
	item, err := s.repo.GetItem(ctx, tenant, id)
	if err != nil {
		return nil, fmt.Errorf("inventory: load item %s: %w", id, err)
	}
	if item == nil {
		return nil, &generic.NotFoundError{Kind: "item", ID: id}
	}
	return item, nil
}

// FindOrCreateItem returns the item named by spec.ID, creating it when it
// does not exist and placeholders are allowed.
func (s *Stock) FindOrCreateItem(ctx context.Context, tenant generic.TenantID, spec ItemSpec) (*Item, error) {
	if spec.ID != "" {
		item, err := s.repo.GetItem(ctx, tenant, spec.ID)
		if err != nil {
			return nil, fmt.Errorf("inventory: load item %s: %w", spec.ID, err)
		}
		if item != nil {
			return item, nil
		}
		if !s.AllowPlaceholders {
			return nil, &generic.NotFoundError{Kind: "item", ID: spec.ID}
		}
	}

	now := s.now()
	item := &Item{
		ID:                  spec.ID,
		Tenant:              tenant,
		Name:                spec.Name,
		Manufacturer:        spec.Manufacturer,
		HSN:                 spec.HSN,
		PackSize:            spec.PackSize,
		DefaultMRP:          spec.DefaultMRP,
		DefaultPurchaseRate: spec.DefaultPurchaseRate,
		DefaultSaleRate:     spec.DefaultSaleRate,
		GSTRate:             spec.GSTRate,
		Quantity:            decimal.Zero,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Name == "" {
		item.Name = placeholderName(item.ID)
		item.Placeholder = true
	}
	if err := s.repo.SaveItem(ctx, item); err != nil {
		return nil, fmt.Errorf("inventory: create item: %w", err)
	}
	return item, nil
}

func placeholderName(id string) string {
	if len(id) > 8 {
		id = id[:8]
	}
	return "Unnamed item " + id
}

// =============================================================================
// LOTS
// =============================================================================

// GetLot loads a lot or returns *generic.NotFoundError.
func (s *Stock) GetLot(ctx context.Context, tenant generic.TenantID, id string) (*Lot, error) {
	lot, err := s.repo.GetLot(ctx, tenant, id)
	if err != nil {
		return nil, fmt.Errorf("inventory: load lot %s: %w", id, err)
	}
	if lot == nil {
		return nil, &generic.NotFoundError{Kind: "lot", ID: id}
	}
	return lot, nil
}

// FindLot looks a lot up by natural key or returns *generic.NotFoundError.
func (s *Stock) FindLot(ctx context.Context, tenant generic.TenantID, itemID, code string) (*Lot, error) {
	lot, err := s.repo.FindLot(ctx, tenant, itemID, code)
	if err != nil {
		return nil, fmt.Errorf("inventory: find lot %s/%s: %w", itemID, code, err)
	}
	if lot == nil {
		return nil, &generic.NotFoundError{Kind: "lot", ID: itemID + "/" + code}
	}
	return lot, nil
}

// FindOrCreateLot returns the lot (item.ID, code), creating it from defaults.
// An existing lot is returned untouched.
func (s *Stock) FindOrCreateLot(ctx context.Context, item *Item, code string, d LotDefaults) (*Lot, error) {
	if code == "" {
		return nil, generic.NewValidationError("lot_code", "required")
	}
	lot, err := s.repo.FindLot(ctx, item.Tenant, item.ID, code)
	if err != nil {
		return nil, fmt.Errorf("inventory: find lot %s/%s: %w", item.ID, code, err)
	}
	if lot != nil {
		return lot, nil
	}

	now := s.now()
	lot = &Lot{
		ID:           uuid.NewString(),
		Tenant:       item.Tenant,
		ItemID:       item.ID,
		Code:         code,
		Quantity:     decimal.Zero,
		Expiry:       d.Expiry,
		MRP:          orDefault(d.MRP, item.DefaultMRP),
		PurchaseRate: orDefault(d.PurchaseRate, item.DefaultPurchaseRate),
		SaleRate:     orDefault(d.SaleRate, item.DefaultSaleRate),
		Discount:     d.Discount,
		PackSize:     d.PackSize,
		GSTRate:      orDefault(d.GSTRate, item.GSTRate),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if lot.PackSize == "" {
		lot.PackSize = item.PackSize
	}
	if err := s.repo.SaveLot(ctx, lot); err != nil {
		return nil, fmt.Errorf("inventory: create lot: %w", err)
	}
	return lot, nil
}

// UpdateLotAttributes copies non-zero purchase attributes onto the lot.
func (s *Stock) UpdateLotAttributes(ctx context.Context, lot *Lot, d LotDefaults) error {
	if d.Expiry != "" {
		lot.Expiry = d.Expiry
	}
	if d.PackSize != "" {
		lot.PackSize = d.PackSize
	}
	lot.MRP = orDefault(d.MRP, lot.MRP)
	lot.PurchaseRate = orDefault(d.PurchaseRate, lot.PurchaseRate)
	lot.SaleRate = orDefault(d.SaleRate, lot.SaleRate)
	lot.GSTRate = orDefault(d.GSTRate, lot.GSTRate)
	lot.Discount = orDefault(d.Discount, lot.Discount)
	lot.UpdatedAt = s.now()
	return s.repo.SaveLot(ctx, lot)
}

func orDefault(v, fallback decimal.Decimal) decimal.Decimal {
	if v.IsZero() {
		return fallback
	}
	return v
}

// =============================================================================
// QUANTITY CHANGES
// =============================================================================

// ApplyDelta moves lot and item by the same signed amount. With strict set,
// a debit that would leave the lot negative fails and nothing changes.
func ApplyDelta(lot *Lot, item *Item, qty decimal.Decimal, strict bool, documentID string) error {
	if lot.ItemID != item.ID {
		return generic.NewValidationError("lot", fmt.Sprintf("lot %s does not belong to item %s", lot.ID, item.ID))
	}
	next := lot.Quantity.Add(qty)
	if strict && qty.IsNegative() && next.IsNegative() {
		return &generic.InsufficientStockError{
			ItemID:     item.ID,
			LotID:      lot.ID,
			DocumentID: documentID,
			Available:  lot.Quantity,
			Requested:  qty.Neg(),
		}
	}
	lot.Quantity = next
	item.Quantity = item.Quantity.Add(qty)
	return nil
}

// Movement is one stock change to post.
type Movement struct {
	Item   *Item
	Lot    *Lot
	Type   generic.MovementType
	Credit decimal.Decimal
	Debit  decimal.Decimal

	// Strict rejects debits that would drive the lot negative.
	Strict bool

	DocumentID   string
	Counterparty string
	Remark       string
	Actor        generic.Actor

	// At backdates the entry; zero means now.
	At time.Time
}

// Post applies a movement: lot and item quantities, one timeline entry, and
// persistence of both rows. The caller owns the surrounding transaction.
func (s *Stock) Post(ctx context.Context, m Movement) (generic.Entry, error) {
	if m.Item == nil || m.Lot == nil {
		return generic.Entry{}, generic.NewValidationError("movement", "item and lot required")
	}
	delta := m.Credit.Sub(m.Debit)
	if err := ApplyDelta(m.Lot, m.Item, delta, m.Strict, m.DocumentID); err != nil {
		return generic.Entry{}, err
	}

	res, err := s.ledger.Append(ctx, generic.EntryInput{
		Subject:      generic.InventorySubject(m.Item.Tenant, m.Item.ID),
		Type:         m.Type,
		Credit:       m.Credit,
		Debit:        m.Debit,
		LotID:        m.Lot.ID,
		DocumentID:   m.DocumentID,
		Actor:        m.Actor,
		Counterparty: m.Counterparty,
		Remark:       m.Remark,
		CreatedAt:    m.At,
	})
	if err != nil {
		return generic.Entry{}, err
	}

	switch {
	case res.Replayed != nil:
		m.Item.Quantity = res.Replayed.FinalBalance
	case !res.Entry.Balance.Equal(m.Item.Quantity):
		return generic.Entry{}, &generic.ConsistencyError{
			Subject:  res.Entry.Subject,
			EntryID:  res.Entry.ID,
			What:     "item quantity vs timeline balance",
			Stored:   m.Item.Quantity,
			Expected: res.Entry.Balance,
		}
	}

	now := s.now()
	m.Lot.UpdatedAt = now
	m.Item.UpdatedAt = now
	if err := s.repo.SaveLot(ctx, m.Lot); err != nil {
		return generic.Entry{}, fmt.Errorf("inventory: save lot: %w", err)
	}
	if err := s.repo.SaveItem(ctx, m.Item); err != nil {
		return generic.Entry{}, fmt.Errorf("inventory: save item: %w", err)
	}
	return res.Entry, nil
}

// ValidateLots rejects any lot the current operation drove or left negative.
// net holds the signed quantity the operation applied per lot id; lots it
// only credited are not blamed for a negative balance they already had.
func ValidateLots(lots []*Lot, net map[string]decimal.Decimal, documentID string) error {
	for _, lot := range lots {
		applied := net[lot.ID]
		if !lot.Quantity.IsNegative() || !applied.IsNegative() {
			continue
		}
		return &generic.InsufficientStockError{
			ItemID:     lot.ItemID,
			LotID:      lot.ID,
			DocumentID: documentID,
			Available:  lot.Quantity.Sub(applied),
			Requested:  applied.Neg(),
		}
	}
	return nil
}

// =============================================================================
// SOURCES
// =============================================================================

func (s *Stock) AttachSource(ctx context.Context, tenant generic.TenantID, itemID, documentID string) error {
	return s.repo.AddItemSource(ctx, tenant, itemID, documentID)
}

func (s *Stock) DetachSource(ctx context.Context, tenant generic.TenantID, itemID, documentID string) error {
	return s.repo.RemoveItemSource(ctx, tenant, itemID, documentID)
}

// =============================================================================
// READS
// =============================================================================

// Load returns the item aggregate.
func (s *Stock) Load(ctx context.Context, tenant generic.TenantID, itemID string) (*Aggregate, error) {
	item, err := s.GetItem(ctx, tenant, itemID)
	if err != nil {
		return nil, err
	}
	lots, err := s.repo.ListLots(ctx, tenant, itemID)
	if err != nil {
		return nil, fmt.Errorf("inventory: list lots: %w", err)
	}
	sources, err := s.repo.ItemSources(ctx, tenant, itemID)
	if err != nil {
		return nil, fmt.Errorf("inventory: list sources: %w", err)
	}
	return &Aggregate{Item: *item, Lots: lots, Sources: sources}, nil
}

// Timeline returns the item's entries in ledger order.
func (s *Stock) Timeline(ctx context.Context, tenant generic.TenantID, itemID string) ([]generic.Entry, error) {
	return s.ledger.Entries(ctx, generic.InventorySubject(tenant, itemID))
}

func (s *Stock) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}
