package coordinator

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/stock-ledger/generic"
	"github.com/warp/stock-ledger/inventory"
)

// AdjustStock moves one lot by a signed quantity with an ADJUSTMENT entry.
// Adjustments may take a lot below zero.
func (c *Coordinator) AdjustStock(ctx context.Context, scope generic.Scope, in AdjustmentInput) (*generic.Entry, error) {
	if err := c.check(in); err != nil {
		return nil, err
	}

	var out *generic.Entry
	err := c.exec(ctx, scope, "adjust_stock", itemKeys(scope.Tenant, in.ItemID), func(u *unit) error {
		item, err := u.item(ctx, in.ItemID)
		if err != nil {
			return err
		}
		lot, err := u.stock.FindOrCreateLot(ctx, item, in.LotCode, inventory.LotDefaults{})
		if err != nil {
			return err
		}
		credit, debit := decimal.Zero, decimal.Zero
		if in.Quantity.IsNegative() {
			debit = in.Quantity.Neg()
		} else {
			credit = in.Quantity
		}
		entry, err := u.stock.Post(ctx, inventory.Movement{
			Item:   item,
			Lot:    u.cacheLot(lot),
			Type:   generic.MoveAdjustment,
			Credit: credit,
			Debit:  debit,
			Remark: in.Remark,
			Actor:  scope.Actor,
			At:     u.at,
		})
		if err != nil {
			return err
		}
		out = &entry
		return nil
	})
	return out, err
}

// ImportResult lists the IMPORT entries written, in row order.
type ImportResult struct {
	Entries []generic.Entry
}

// ImportStock loads historical stock. Rows dated before existing entries
// are backdated and the affected timelines are replayed in the same scope.
func (c *Coordinator) ImportStock(ctx context.Context, scope generic.Scope, in ImportInput) (*ImportResult, error) {
	if err := c.check(in); err != nil {
		return nil, err
	}
	var keys []string
	for i, row := range in.Rows {
		if !row.Quantity.IsPositive() {
			return nil, generic.NewValidationError(fmt.Sprintf("rows[%d].quantity", i), "must be positive")
		}
		if !generic.ValidExpiry(row.Expiry) {
			return nil, generic.NewValidationError(fmt.Sprintf("rows[%d].expiry", i), "must be YYYY-MM")
		}
		keys = append(keys, itemKeys(scope.Tenant, row.ItemID)...)
	}

	var out *ImportResult
	err := c.exec(ctx, scope, "import_stock", keys, func(u *unit) error {
		res := &ImportResult{}
		for _, row := range in.Rows {
			item, err := u.itemOrPlaceholder(ctx, inventory.ItemSpec{
				ID:                  row.ItemID,
				Name:                row.ItemName,
				Manufacturer:        row.Manufacturer,
				PackSize:            row.PackSize,
				DefaultMRP:          row.MRP,
				DefaultPurchaseRate: row.PurchaseRate,
				DefaultSaleRate:     row.SaleRate,
				GSTRate:             row.GSTRate,
			})
			if err != nil {
				return err
			}
			lot, err := u.stock.FindOrCreateLot(ctx, item, row.LotCode, inventory.LotDefaults{
				Expiry:       row.Expiry,
				MRP:          row.MRP,
				PurchaseRate: row.PurchaseRate,
				SaleRate:     row.SaleRate,
				PackSize:     row.PackSize,
				GSTRate:      row.GSTRate,
			})
			if err != nil {
				return err
			}
			at := row.At
			if at.IsZero() {
				at = u.at
			}
			entry, err := u.stock.Post(ctx, inventory.Movement{
				Item:   item,
				Lot:    u.cacheLot(lot),
				Type:   generic.MoveImport,
				Credit: row.Quantity,
				Remark: in.Remark,
				Actor:  scope.Actor,
				At:     at,
			})
			if err != nil {
				return err
			}
			res.Entries = append(res.Entries, entry)
		}
		out = res
		return nil
	})
	return out, err
}
