package coordinator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stock-ledger/generic"
)

// =============================================================================
// IMPORT AND ADJUSTMENT
// =============================================================================

func TestImportStock_BackdatedRowIsReplayed(t *testing.T) {
	f := newFixture(t)
	_, err := f.c.CreatePurchase(f.ctx, f.scope, purchase(line("A", "B1", "10")))
	require.NoError(t, err)

	// WHEN: opening stock dated before the purchase is imported
	res, err := f.c.ImportStock(f.ctx, f.scope, ImportInput{
		Remark: "opening stock",
		Rows: []ImportRow{{
			ItemID:   "A",
			LotCode:  "OLD",
			Quantity: dec("5"),
			Expiry:   "2026-12",
			At:       t0.Add(-24 * time.Hour),
		}},
	})
	require.NoError(t, err)

	// THEN: the import sorts first and the purchase balance is shifted
	require.Len(t, res.Entries, 1)
	assertDec(t, "5", res.Entries[0].Balance)

	entries := f.timeline(t, "A")
	require.Len(t, entries, 2)
	assertEntry(t, entries[0], generic.MoveImport, "5", "0", "5")
	assertEntry(t, entries[1], generic.MovePurchase, "10", "0", "15")
	assertDec(t, "15", f.itemQty(t, "A"))
	f.verifyAll(t, "A")
}

func TestImportStock_CreatesItemsAndRejectsEmptyRows(t *testing.T) {
	f := newFixture(t)

	res, err := f.c.ImportStock(f.ctx, f.scope, ImportInput{Rows: []ImportRow{
		{ItemName: "Cetirizine 10", LotCode: "C-1", Quantity: dec("30"), MRP: dec("4.5")},
		{ItemName: "Cetirizine 10 syrup", LotCode: "C-2", Quantity: dec("12")},
	}})
	require.NoError(t, err)
	require.Len(t, res.Entries, 2)
	assert.NotEqual(t, res.Entries[0].Subject.ID, res.Entries[1].Subject.ID)

	agg, err := f.c.GetItem(f.ctx, f.scope, string(res.Entries[0].Subject.ID))
	require.NoError(t, err)
	assert.Equal(t, "Cetirizine 10", agg.Item.Name)
	assertDec(t, "4.5", agg.Lots[0].MRP)

	_, err = f.c.ImportStock(f.ctx, f.scope, ImportInput{Rows: []ImportRow{{ItemID: "A", LotCode: "X", Quantity: dec("0")}}})
	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestAdjustStock(t *testing.T) {
	f := newFixture(t)
	_, err := f.c.CreatePurchase(f.ctx, f.scope, purchase(line("A", "B1", "3")))
	require.NoError(t, err)

	// Breakage may take a lot negative.
	e, err := f.c.AdjustStock(f.ctx, f.scope, AdjustmentInput{ItemID: "A", LotCode: "B1", Quantity: dec("-5"), Remark: "broken strip"})
	require.NoError(t, err)
	assertEntry(t, *e, generic.MoveAdjustment, "0", "5", "-2")
	assert.Equal(t, "broken strip", e.Remark)
	assertDec(t, "-2", f.itemQty(t, "A"))

	_, err = f.c.AdjustStock(f.ctx, f.scope, AdjustmentInput{ItemID: "missing", LotCode: "B1", Quantity: dec("1")})
	assert.ErrorIs(t, err, generic.ErrNotFound)
	f.verifyAll(t, "A")
}

// =============================================================================
// REPAIR
// =============================================================================

func TestRepairItem_FixesCorruptedBalancesAndIsStable(t *testing.T) {
	f := newFixture(t)
	_, err := f.c.CreatePurchase(f.ctx, f.scope, purchase(line("A", "B1", "10")))
	require.NoError(t, err)
	_, err = f.c.CreateSale(f.ctx, f.scope, sale(line("A", "B1", "4")))
	require.NoError(t, err)

	// GIVEN: stored balances and the cached quantity are corrupted
	entries := f.timeline(t, "A")
	subject := generic.InventorySubject(f.scope.Tenant, "A")
	require.NoError(t, f.st.RewriteBalances(f.ctx, subject, []generic.BalanceUpdate{
		{EntryID: entries[1].ID, Balance: dec("99")},
	}))
	item, err := f.st.GetItem(f.ctx, f.scope.Tenant, "A")
	require.NoError(t, err)
	item.Quantity = dec("99")
	require.NoError(t, f.st.SaveItem(f.ctx, item))

	assert.ErrorIs(t, f.c.VerifyItem(f.ctx, f.scope, "A"), generic.ErrConsistency)

	// WHEN
	res, err := f.c.RepairItem(f.ctx, f.scope, "A", time.Time{})
	require.NoError(t, err)

	// THEN
	assert.Equal(t, 1, res.Rewritten)
	assert.Equal(t, 2, res.Scanned)
	assertDec(t, "6", res.FinalBalance)
	assertDec(t, "6", f.itemQty(t, "A"))
	require.NoError(t, f.c.VerifyItem(f.ctx, f.scope, "A"))

	again, err := f.c.RepairItem(f.ctx, f.scope, "A", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 0, again.Rewritten)
}

func TestRepairItem_LotMismatchIsReported(t *testing.T) {
	f := newFixture(t)
	created, err := f.c.CreatePurchase(f.ctx, f.scope, purchase(line("A", "B1", "10")))
	require.NoError(t, err)

	lot, err := f.st.GetLot(f.ctx, f.scope.Tenant, created.Document.Lines[0].LotID)
	require.NoError(t, err)
	lot.Quantity = dec("7")
	require.NoError(t, f.st.SaveLot(f.ctx, lot))

	_, err = f.c.RepairItem(f.ctx, f.scope, "A", time.Time{})
	assert.ErrorIs(t, err, generic.ErrConsistency)
}

func TestRepairTenant(t *testing.T) {
	f := newFixture(t)
	_, err := f.c.CreatePurchase(f.ctx, f.scope, purchase(line("A", "B1", "10"), line("B", "C1", "5")))
	require.NoError(t, err)
	_, err = f.c.CreateSale(f.ctx, f.scope, sale(line("A", "B1", "2")))
	require.NoError(t, err)

	ledger, err := f.c.PartnerLedger(f.ctx, f.scope, "cust-1")
	require.NoError(t, err)
	require.NoError(t, f.st.RewriteBalances(f.ctx, generic.PartnerSubject(f.scope.Tenant, "cust-1"), []generic.BalanceUpdate{
		{EntryID: ledger[0].ID, Balance: dec("1")},
	}))

	res, err := f.c.RepairTenant(f.ctx, f.scope, time.Time{}, 3)
	require.NoError(t, err)

	// items A and B, partners dist-1 and cust-1
	assert.Len(t, res.Results, 4)
	assert.Equal(t, 1, res.Rewritten())
	f.verifyAll(t, "A", "B")

	again, err := f.c.RepairTenant(f.ctx, f.scope, time.Time{}, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Rewritten())
}

func TestReadsOnMissingSubjects(t *testing.T) {
	f := newFixture(t)

	_, err := f.c.ItemTimeline(f.ctx, f.scope, "missing")
	assert.ErrorIs(t, err, generic.ErrNotFound)
	_, err = f.c.PartnerLedger(f.ctx, f.scope, "missing")
	assert.ErrorIs(t, err, generic.ErrNotFound)
	_, err = f.c.GetDocument(f.ctx, f.scope, "missing")
	assert.ErrorIs(t, err, generic.ErrNotFound)
	_, err = f.c.GetAccount(f.ctx, f.scope, "missing")
	assert.ErrorIs(t, err, generic.ErrNotFound)
	_, err = f.c.RepairItem(f.ctx, f.scope, "missing", time.Time{})
	assert.ErrorIs(t, err, generic.ErrNotFound)
}
