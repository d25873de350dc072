package inventory_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stock-ledger/generic"
	"github.com/warp/stock-ledger/inventory"
	"github.com/warp/stock-ledger/store/memory"
)

const tenant generic.TenantID = "t1"

var now = time.Date(2025, time.June, 2, 8, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newStock(t *testing.T) (*inventory.Stock, *memory.Memory) {
	t.Helper()
	st := memory.New()
	tick := now
	clock := func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}
	return inventory.NewStock(st).WithClock(clock), st
}

func seed(t *testing.T, s *inventory.Stock) (*inventory.Item, *inventory.Lot) {
	t.Helper()
	ctx := context.Background()
	item, err := s.FindOrCreateItem(ctx, tenant, inventory.ItemSpec{
		ID:                  "para-500",
		Name:                "Paracetamol 500",
		PackSize:            "10x10",
		DefaultMRP:          d("25"),
		DefaultPurchaseRate: d("18"),
	})
	require.NoError(t, err)
	lot, err := s.FindOrCreateLot(ctx, item, "B1", inventory.LotDefaults{Expiry: "2027-04"})
	require.NoError(t, err)
	return item, lot
}

// =============================================================================
// ITEMS AND LOTS
// =============================================================================

func TestFindOrCreateItem(t *testing.T) {
	ctx := context.Background()
	s, _ := newStock(t)

	item, err := s.FindOrCreateItem(ctx, tenant, inventory.ItemSpec{ID: "x-1", Name: "Amoxicillin"})
	require.NoError(t, err)
	assert.False(t, item.Placeholder)
	assert.True(t, item.Quantity.IsZero())

	again, err := s.FindOrCreateItem(ctx, tenant, inventory.ItemSpec{ID: "x-1", Name: "Renamed"})
	require.NoError(t, err)
	assert.Equal(t, "Amoxicillin", again.Name)

	anon, err := s.FindOrCreateItem(ctx, tenant, inventory.ItemSpec{ID: "0123456789abcdef"})
	require.NoError(t, err)
	assert.True(t, anon.Placeholder)
	assert.Equal(t, "Unnamed item 01234567", anon.Name)

	fresh, err := s.FindOrCreateItem(ctx, tenant, inventory.ItemSpec{Name: "New"})
	require.NoError(t, err)
	assert.NotEmpty(t, fresh.ID)

	s.AllowPlaceholders = false
	_, err = s.FindOrCreateItem(ctx, tenant, inventory.ItemSpec{ID: "ghost", Name: "Ghost"})
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestFindOrCreateLot_UsesItemDefaults(t *testing.T) {
	ctx := context.Background()
	s, _ := newStock(t)
	item, lot := seed(t, s)

	assert.Equal(t, "25", lot.MRP.String())
	assert.Equal(t, "18", lot.PurchaseRate.String())
	assert.Equal(t, "10x10", lot.PackSize)
	assert.Equal(t, "2027-04", lot.Expiry)

	same, err := s.FindOrCreateLot(ctx, item, "B1", inventory.LotDefaults{MRP: d("99")})
	require.NoError(t, err)
	assert.Equal(t, lot.ID, same.ID)
	assert.Equal(t, "25", same.MRP.String())

	found, err := s.FindLot(ctx, tenant, item.ID, "B1")
	require.NoError(t, err)
	assert.Equal(t, lot.ID, found.ID)

	_, err = s.FindLot(ctx, tenant, item.ID, "B9")
	assert.ErrorIs(t, err, generic.ErrNotFound)
	_, err = s.FindOrCreateLot(ctx, item, "", inventory.LotDefaults{})
	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestUpdateLotAttributes(t *testing.T) {
	ctx := context.Background()
	s, _ := newStock(t)
	_, lot := seed(t, s)

	require.NoError(t, s.UpdateLotAttributes(ctx, lot, inventory.LotDefaults{Expiry: "2028-01", SaleRate: d("22")}))

	stored, err := s.GetLot(ctx, tenant, lot.ID)
	require.NoError(t, err)
	assert.Equal(t, "2028-01", stored.Expiry)
	assert.Equal(t, "22", stored.SaleRate.String())
	assert.Equal(t, "25", stored.MRP.String())
}

// =============================================================================
// POSTING
// =============================================================================

func TestApplyDelta(t *testing.T) {
	item := &inventory.Item{ID: "A", Quantity: d("5")}
	lot := &inventory.Lot{ID: "L", ItemID: "A", Quantity: d("5")}

	err := inventory.ApplyDelta(lot, item, d("-8"), true, "doc-1")
	var se *generic.InsufficientStockError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "5", se.Available.String())
	assert.Equal(t, "8", se.Requested.String())
	assert.Equal(t, "5", lot.Quantity.String(), "strict failure leaves the lot untouched")

	require.NoError(t, inventory.ApplyDelta(lot, item, d("-8"), false, "doc-1"))
	assert.Equal(t, "-3", lot.Quantity.String())
	assert.Equal(t, "-3", item.Quantity.String())

	other := &inventory.Lot{ID: "M", ItemID: "B"}
	assert.ErrorIs(t, inventory.ApplyDelta(other, item, d("1"), false, ""), generic.ErrValidation)
}

func TestPost_KeepsAggregatesInStep(t *testing.T) {
	ctx := context.Background()
	s, _ := newStock(t)
	item, lot := seed(t, s)
	second, err := s.FindOrCreateLot(ctx, item, "B2", inventory.LotDefaults{})
	require.NoError(t, err)

	for _, m := range []inventory.Movement{
		{Item: item, Lot: lot, Type: generic.MovePurchase, Credit: d("10")},
		{Item: item, Lot: second, Type: generic.MovePurchase, Credit: d("4")},
		{Item: item, Lot: lot, Type: generic.MoveSale, Debit: d("3"), Strict: true},
	} {
		_, err := s.Post(ctx, m)
		require.NoError(t, err)
	}

	agg, err := s.Load(ctx, tenant, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "11", agg.Item.Quantity.String())
	assert.Equal(t, "11", agg.LotTotal().String())
	require.NoError(t, s.Verify(ctx, tenant, item.ID))

	entries, err := s.Timeline(ctx, tenant, item.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, lot.ID, entries[2].LotID)
	assert.Equal(t, "11", entries[2].Balance.String())
}

func TestPost_StrictDebitFails(t *testing.T) {
	ctx := context.Background()
	s, _ := newStock(t)
	item, lot := seed(t, s)
	_, err := s.Post(ctx, inventory.Movement{Item: item, Lot: lot, Type: generic.MovePurchase, Credit: d("2")})
	require.NoError(t, err)

	_, err = s.Post(ctx, inventory.Movement{Item: item, Lot: lot, Type: generic.MoveSale, Debit: d("3"), Strict: true})

	assert.ErrorIs(t, err, generic.ErrInsufficientStock)
	entries, err := s.Timeline(ctx, tenant, item.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPost_BackdatedMovementReplays(t *testing.T) {
	ctx := context.Background()
	s, _ := newStock(t)
	item, lot := seed(t, s)
	_, err := s.Post(ctx, inventory.Movement{Item: item, Lot: lot, Type: generic.MovePurchase, Credit: d("10")})
	require.NoError(t, err)

	e, err := s.Post(ctx, inventory.Movement{Item: item, Lot: lot, Type: generic.MoveImport, Credit: d("5"), At: now.Add(-time.Hour)})

	require.NoError(t, err)
	assert.Equal(t, "5", e.Balance.String())
	assert.Equal(t, "15", item.Quantity.String())
	require.NoError(t, s.Verify(ctx, tenant, item.ID))
}

func TestValidateLots(t *testing.T) {
	lots := []*inventory.Lot{
		{ID: "a", ItemID: "A", Quantity: d("-2")},
		{ID: "b", ItemID: "A", Quantity: d("-1")},
	}

	// a was already negative and only received stock
	err := inventory.ValidateLots(lots[:1], map[string]decimal.Decimal{"a": d("3")}, "doc")
	assert.NoError(t, err)

	err = inventory.ValidateLots(lots, map[string]decimal.Decimal{"a": d("3"), "b": d("-4")}, "doc")
	var se *generic.InsufficientStockError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "b", se.LotID)
	assert.Equal(t, "3", se.Available.String())
	assert.Equal(t, "4", se.Requested.String())
}

// =============================================================================
// SOURCES, VERIFY, REPAIR
// =============================================================================

func TestSources(t *testing.T) {
	ctx := context.Background()
	s, _ := newStock(t)
	item, _ := seed(t, s)

	require.NoError(t, s.AttachSource(ctx, tenant, item.ID, "doc-1"))
	require.NoError(t, s.AttachSource(ctx, tenant, item.ID, "doc-1"))
	require.NoError(t, s.AttachSource(ctx, tenant, item.ID, "doc-2"))
	require.NoError(t, s.DetachSource(ctx, tenant, item.ID, "doc-1"))

	agg, err := s.Load(ctx, tenant, item.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-2"}, agg.Sources)
}

func TestVerifyAndRepair(t *testing.T) {
	ctx := context.Background()
	s, st := newStock(t)
	item, lot := seed(t, s)
	_, err := s.Post(ctx, inventory.Movement{Item: item, Lot: lot, Type: generic.MovePurchase, Credit: d("10")})
	require.NoError(t, err)

	// GIVEN: the cached item quantity drifted
	stored, err := st.GetItem(ctx, tenant, item.ID)
	require.NoError(t, err)
	stored.Quantity = d("12")
	require.NoError(t, st.SaveItem(ctx, stored))

	var ce *generic.ConsistencyError
	require.ErrorAs(t, s.Verify(ctx, tenant, item.ID), &ce)
	assert.Equal(t, "item quantity vs sum of lots", ce.What)

	// WHEN
	res, err := s.Repair(ctx, tenant, item.ID, time.Time{})

	// THEN
	require.NoError(t, err)
	assert.Equal(t, 0, res.Rewritten)
	assert.Equal(t, "10", res.FinalBalance.String())
	require.NoError(t, s.Verify(ctx, tenant, item.ID))
}
