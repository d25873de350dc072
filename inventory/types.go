/*
Package inventory implements the inventory aggregate and lot manager.

PURPOSE:
  An InventoryItem owns its lots and an aggregate on-hand quantity. Every
  quantity change goes through Stock.Post, which mutates the lot and the
  item by the same signed amount and appends one timeline entry to the
  item's running-balance ledger.

INVARIANT:
  item.Quantity == Σ(lot.Quantity) == latest timeline balance

  Verify checks all three. Repair replays the timeline and reconciles
  item.Quantity to the recomputed balance.

LOT IDENTITY:
  A lot is identified by (ItemID, Code). FindOrCreateLot is idempotent on
  that natural key.

NEGATIVE STOCK:
  Sale debits are strict: a lot may not go below zero. Returns, edits and
  adjustments may pass through negative inside an operation; the
  coordinator calls ValidateLots before commit for the flows that need it.

SEE ALSO:
  - generic/ledger.go: the timeline is a generic ledger with SingleSided set
  - coordinator/: the only caller that opens atomic scopes
*/
package inventory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/stock-ledger/generic"
)

// =============================================================================
// ITEM AND LOT
// =============================================================================

type Item struct {
	ID           string
	Tenant       generic.TenantID
	Name         string
	Manufacturer string
	HSN          string
	PackSize     string

	DefaultMRP          decimal.Decimal
	DefaultPurchaseRate decimal.Decimal
	DefaultSaleRate     decimal.Decimal
	GSTRate             decimal.Decimal

	// Quantity is the cached aggregate, in the smallest unit.
	Quantity decimal.Decimal

	// Placeholder marks items created on first encounter without a name.
	Placeholder bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

type Lot struct {
	ID           string
	Tenant       generic.TenantID
	ItemID       string
	Code         string
	Quantity     decimal.Decimal
	Expiry       string
	MRP          decimal.Decimal
	PurchaseRate decimal.Decimal
	SaleRate     decimal.Decimal
	Discount     decimal.Decimal
	PackSize     string
	GSTRate      decimal.Decimal
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ItemSpec describes an item to find or create.
type ItemSpec struct {
	ID                  string
	Name                string
	Manufacturer        string
	HSN                 string
	PackSize            string
	DefaultMRP          decimal.Decimal
	DefaultPurchaseRate decimal.Decimal
	DefaultSaleRate     decimal.Decimal
	GSTRate             decimal.Decimal
}

// LotDefaults seed a newly created lot. Zero values fall back to the item's defaults.
type LotDefaults struct {
	Expiry       string
	MRP          decimal.Decimal
	PurchaseRate decimal.Decimal
	SaleRate     decimal.Decimal
	Discount     decimal.Decimal
	PackSize     string
	GSTRate      decimal.Decimal
}

// Aggregate is an item with its lots and the documents that reference it.
type Aggregate struct {
	Item    Item
	Lots    []Lot
	Sources []string
}

// LotTotal sums lot quantities.
func (a Aggregate) LotTotal() decimal.Decimal {
	total := decimal.Zero
	for _, l := range a.Lots {
		total = total.Add(l.Quantity)
	}
	return total
}

// =============================================================================
// REPOSITORY
// =============================================================================

// Repository is the storage the inventory package needs inside one scope.
// Getters return (nil, nil) when the row does not exist.
type Repository interface {
	generic.Store

	GetItem(ctx context.Context, tenant generic.TenantID, id string) (*Item, error)
	SaveItem(ctx context.Context, item *Item) error
	ListItemIDs(ctx context.Context, tenant generic.TenantID) ([]string, error)

	GetLot(ctx context.Context, tenant generic.TenantID, id string) (*Lot, error)
	FindLot(ctx context.Context, tenant generic.TenantID, itemID, code string) (*Lot, error)
	ListLots(ctx context.Context, tenant generic.TenantID, itemID string) ([]Lot, error)
	SaveLot(ctx context.Context, lot *Lot) error

	AddItemSource(ctx context.Context, tenant generic.TenantID, itemID, documentID string) error
	RemoveItemSource(ctx context.Context, tenant generic.TenantID, itemID, documentID string) error
	ItemSources(ctx context.Context, tenant generic.TenantID, itemID string) ([]string, error)
}
