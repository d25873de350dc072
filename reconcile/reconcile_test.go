package reconcile_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stock-ledger/document"
	"github.com/warp/stock-ledger/generic"
	"github.com/warp/stock-ledger/reconcile"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func ln(item, lot, qty string) document.LineItem {
	return document.LineItem{
		ItemID:   item,
		LotID:    lot,
		LotCode:  lot,
		Quantity: d(qty),
		Rate:     d("10"),
		Expiry:   "2027-01",
	}
}

type opView struct {
	Kind   reconcile.OpKind
	Type   generic.MovementType
	Lot    string
	Credit string
	Debit  string
}

func view(plan reconcile.Plan) []opView {
	out := make([]opView, len(plan.Ops))
	for i, op := range plan.Ops {
		out[i] = opView{op.Kind, op.Type, op.Line.LotID, op.Credit.String(), op.Debit.String()}
	}
	return out
}

// =============================================================================
// PURCHASE
// =============================================================================

func TestDiff_Create(t *testing.T) {
	plan, err := reconcile.Diff(nil, []document.LineItem{ln("A", "L1", "10"), ln("B", "L2", "3")}, reconcile.PurchaseCreate())

	require.NoError(t, err)
	assert.Equal(t, []opView{
		{reconcile.OpForward, generic.MovePurchase, "L1", "10", "0"},
		{reconcile.OpForward, generic.MovePurchase, "L2", "3", "0"},
	}, view(plan))
	assert.True(t, plan.Ops[0].AttachSource)
	assert.Equal(t, []string{"L1", "L2"}, plan.Touched())
}

func TestDiff_QuantityChangeIsReverseThenForward(t *testing.T) {
	tests := []struct {
		name     string
		from, to string
	}{
		{"decrease", "10", "6"},
		{"increase", "10", "15"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := reconcile.Diff(
				[]document.LineItem{ln("A", "L1", tt.from)},
				[]document.LineItem{ln("A", "L1", tt.to)},
				reconcile.PurchaseEdit(),
			)

			require.NoError(t, err)
			assert.Equal(t, []opView{
				{reconcile.OpReverse, generic.MovePurchaseEditReverse, "L1", "0", tt.from},
				{reconcile.OpForward, generic.MovePurchaseEdit, "L1", tt.to, "0"},
			}, view(plan))
			assert.False(t, plan.Ops[0].DetachSource)
			assert.False(t, plan.Ops[1].AttachSource)
		})
	}
}

func TestDiff_FreeQuantityAndPackForceReversal(t *testing.T) {
	old := ln("A", "L1", "10")
	free := old
	free.FreeQuantity = d("2")
	pack := old
	pack.Pack = "10x10"

	for _, nl := range []document.LineItem{free, pack} {
		plan, err := reconcile.Diff([]document.LineItem{old}, []document.LineItem{nl}, reconcile.PurchaseEdit())
		require.NoError(t, err)
		require.Len(t, plan.Ops, 2)
		assert.Equal(t, reconcile.OpReverse, plan.Ops[0].Kind)
		assert.Equal(t, nl.TotalQuantity().String(), plan.Ops[1].Credit.String())
	}
}

func TestDiff_IdenticalIsNoOp(t *testing.T) {
	old := ln("A", "L1", "10")
	old.ID = "line-1"
	old.TimelineEntryID = "e-1"
	old.Amount = d("100")
	nl := ln("A", "L1", "10.00")

	plan, err := reconcile.Diff([]document.LineItem{old}, []document.LineItem{nl}, reconcile.PurchaseEdit())

	require.NoError(t, err)
	assert.True(t, plan.Empty())
	assert.Equal(t, []string{"L1"}, plan.Unchanged)
}

func TestDiff_MetadataOnly(t *testing.T) {
	old := ln("A", "L1", "10")
	nl := old
	nl.Expiry = "2028-06"
	nl.MRP = d("18")

	plan, err := reconcile.Diff([]document.LineItem{old}, []document.LineItem{nl}, reconcile.PurchaseEdit())

	require.NoError(t, err)
	assert.Equal(t, []opView{{reconcile.OpMetadata, generic.MovePurchaseEdit, "L1", "0", "0"}}, view(plan))
	assert.True(t, plan.Ops[0].Delta().IsZero())
	assert.Equal(t, "2028-06", plan.Ops[0].Line.Expiry)
}

func TestDiff_RemovedLines(t *testing.T) {
	old := []document.LineItem{ln("A", "L1", "10"), ln("A", "L2", "4"), ln("B", "L3", "2")}
	nl := []document.LineItem{ln("A", "L1", "10")}

	plan, err := reconcile.Diff(old, nl, reconcile.PurchaseEdit())

	require.NoError(t, err)
	assert.Equal(t, []opView{
		{reconcile.OpReverse, generic.MovePurchaseEditReverse, "L2", "0", "4"},
		{reconcile.OpReverse, generic.MovePurchaseEditReverse, "L3", "0", "2"},
	}, view(plan))
	// A is still on the document through L1, B is gone.
	assert.False(t, plan.Ops[0].DetachSource)
	assert.True(t, plan.Ops[1].DetachSource)
}

func TestDiff_Delete(t *testing.T) {
	plan, err := reconcile.Diff([]document.LineItem{ln("A", "L1", "20")}, nil, reconcile.PurchaseDelete())

	require.NoError(t, err)
	assert.Equal(t, []opView{{reconcile.OpReverse, generic.MovePurchaseDelete, "L1", "0", "20"}}, view(plan))
	assert.True(t, plan.Ops[0].DetachSource)
}

// =============================================================================
// SALE
// =============================================================================

func TestDiff_SaleSigns(t *testing.T) {
	ret := ln("B", "L2", "1")
	ret.SubType = document.SubTypeReturn

	plan, err := reconcile.Diff(nil, []document.LineItem{ln("A", "L1", "5"), ret}, reconcile.SaleCreate())

	require.NoError(t, err)
	assert.Equal(t, []opView{
		{reconcile.OpForward, generic.MoveSale, "L1", "0", "5"},
		{reconcile.OpForward, generic.MoveSaleReturn, "L2", "1", "0"},
	}, view(plan))
}

func TestDiff_SaleIgnoresRate(t *testing.T) {
	old := ln("A", "L1", "5")
	nl := old
	nl.Rate = d("9")
	nl.Manufacturer = "Cipla"

	plan, err := reconcile.Diff([]document.LineItem{old}, []document.LineItem{nl}, reconcile.SaleEdit())
	require.NoError(t, err)
	assert.True(t, plan.Empty())

	plan, err = reconcile.Diff([]document.LineItem{old}, []document.LineItem{nl}, reconcile.PurchaseEdit())
	require.NoError(t, err)
	assert.Equal(t, reconcile.OpMetadata, plan.Ops[0].Kind)
}

func TestDiff_SaleEditReversalCreditsStock(t *testing.T) {
	plan, err := reconcile.Diff(
		[]document.LineItem{ln("A", "L1", "8")},
		[]document.LineItem{ln("A", "L1", "10")},
		reconcile.SaleEdit(),
	)

	require.NoError(t, err)
	assert.Equal(t, []opView{
		{reconcile.OpReverse, generic.MoveSaleEditReverse, "L1", "8", "0"},
		{reconcile.OpForward, generic.MoveSaleEdit, "L1", "0", "10"},
	}, view(plan))
}

func TestDiff_Rejects(t *testing.T) {
	_, err := reconcile.Diff(nil, []document.LineItem{ln("A", "", "1")}, reconcile.PurchaseCreate())
	assert.ErrorIs(t, err, generic.ErrValidation)

	_, err = reconcile.Diff(nil, []document.LineItem{ln("A", "L1", "1"), ln("A", "L1", "2")}, reconcile.PurchaseCreate())
	assert.ErrorIs(t, err, generic.ErrValidation)

	_, err = reconcile.Diff(nil, nil, reconcile.Rules{Forward: generic.MovePurchase})
	assert.Error(t, err)
}

// =============================================================================
// FINANCIAL
// =============================================================================

func TestFinancialOps(t *testing.T) {
	rules := reconcile.PurchaseEdit()
	old := &document.Totals{GrandTotal: d("100"), AmountPaid: d("40")}

	t.Run("create", func(t *testing.T) {
		ops := reconcile.FinancialOps(nil, old, reconcile.PurchaseCreate())
		require.Len(t, ops, 1)
		assert.Equal(t, generic.MovePurchase, ops[0].Type)
		assert.Equal(t, "100", ops[0].Debit.String())
		assert.Equal(t, "40", ops[0].Credit.String())
	})

	t.Run("unchanged totals", func(t *testing.T) {
		same := &document.Totals{GrandTotal: d("100.00"), AmountPaid: d("40")}
		assert.Empty(t, reconcile.FinancialOps(old, same, rules))
	})

	t.Run("edit reverses then forwards", func(t *testing.T) {
		ops := reconcile.FinancialOps(old, &document.Totals{GrandTotal: d("150"), AmountPaid: d("40")}, rules)
		require.Len(t, ops, 2)
		assert.Equal(t, reconcile.OpReverse, ops[0].Kind)
		assert.Equal(t, "40", ops[0].Debit.String())
		assert.Equal(t, "100", ops[0].Credit.String())
		assert.Equal(t, "150", ops[1].Debit.String())
	})

	t.Run("delete", func(t *testing.T) {
		ops := reconcile.FinancialOps(old, nil, reconcile.PurchaseDelete())
		require.Len(t, ops, 1)
		assert.Equal(t, generic.MovePurchaseDelete, ops[0].Type)
	})

	t.Run("returns invert the pair", func(t *testing.T) {
		ops := reconcile.FinancialOps(nil, &document.Totals{GrandTotal: d("20")}, reconcile.SaleReturnCreate())
		require.Len(t, ops, 1)
		assert.Equal(t, "20", ops[0].Credit.String())
		assert.True(t, ops[0].Debit.IsZero())
	})

	t.Run("negative total moves across", func(t *testing.T) {
		// A sales bill whose return lines outweigh its sale lines.
		ops := reconcile.FinancialOps(nil, &document.Totals{GrandTotal: d("-30")}, reconcile.SaleCreate())
		require.Len(t, ops, 1)
		assert.True(t, ops[0].Debit.IsZero())
		assert.Equal(t, "30", ops[0].Credit.String())
	})

	t.Run("zero totals post nothing", func(t *testing.T) {
		assert.Empty(t, reconcile.FinancialOps(nil, &document.Totals{}, rules))
	})
}
