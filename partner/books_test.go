package partner_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stock-ledger/generic"
	"github.com/warp/stock-ledger/partner"
	"github.com/warp/stock-ledger/store/memory"
)

const tenant generic.TenantID = "t1"

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newBooks(t *testing.T) (*partner.Books, *memory.Memory) {
	t.Helper()
	st := memory.New()
	tick := time.Date(2025, time.July, 1, 9, 0, 0, 0, time.UTC)
	b := partner.NewBooks(st).WithClock(func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	})
	return b, st
}

func distributor(t *testing.T, b *partner.Books) *partner.Partner {
	t.Helper()
	p := &partner.Partner{ID: "dist-1", Tenant: tenant, Kind: partner.KindDistributor, Name: "Medline"}
	require.NoError(t, b.CreatePartner(context.Background(), p))
	return p
}

func account(t *testing.T, b *partner.Books, opening string) *partner.Account {
	t.Helper()
	a := &partner.Account{ID: "cash-1", Tenant: tenant, Name: "Till", Type: partner.AccountCash, Balance: d(opening)}
	require.NoError(t, b.CreateAccount(context.Background(), a))
	return a
}

func balanceOf(t *testing.T, b *partner.Books, id string) string {
	t.Helper()
	a, err := b.GetAccount(context.Background(), tenant, id)
	require.NoError(t, err)
	return a.Balance.String()
}

// =============================================================================
// PARTNERS
// =============================================================================

func TestCreatePartner(t *testing.T) {
	ctx := context.Background()
	b, _ := newBooks(t)

	assert.ErrorIs(t, b.CreatePartner(ctx, &partner.Partner{Tenant: tenant, Kind: "vendor", Name: "X"}), generic.ErrValidation)
	assert.ErrorIs(t, b.CreatePartner(ctx, &partner.Partner{Tenant: tenant, Kind: partner.KindCustomer}), generic.ErrValidation)

	p := &partner.Partner{Tenant: tenant, Kind: partner.KindCustomer, Name: "Walk-in", CurrentBalance: d("50")}
	require.NoError(t, b.CreatePartner(ctx, p))
	assert.NotEmpty(t, p.ID)
	assert.True(t, p.CurrentBalance.IsZero(), "new partners start at zero")

	_, err := b.GetPartner(ctx, tenant, "nobody")
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestPost_MovesCurrentBalance(t *testing.T) {
	ctx := context.Background()
	b, _ := newBooks(t)
	p := distributor(t, b)

	// GIVEN: a purchase of 100 paid 30
	e, err := b.Post(ctx, p, partner.PostInput{Type: generic.MovePurchase, Debit: d("100"), Credit: d("30"), DocumentID: "doc-1"})
	require.NoError(t, err)
	assert.Equal(t, "-70", e.Balance.String())

	// WHEN: a payment of 70 clears it
	_, err = b.Post(ctx, p, partner.PostInput{Type: generic.MovePayment, Credit: d("70")})
	require.NoError(t, err)

	// THEN
	stored, err := b.GetPartner(ctx, tenant, p.ID)
	require.NoError(t, err)
	assert.True(t, stored.CurrentBalance.IsZero())

	entries, err := b.Ledger(ctx, tenant, p.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "doc-1", entries[0].DocumentID)
	require.NoError(t, b.Verify(ctx, tenant, p.ID))
}

func TestPost_StaleCachedBalanceIsAConsistencyError(t *testing.T) {
	ctx := context.Background()
	b, _ := newBooks(t)
	p := distributor(t, b)
	_, err := b.Post(ctx, p, partner.PostInput{Type: generic.MovePurchase, Debit: d("10")})
	require.NoError(t, err)

	p.CurrentBalance = d("0")
	_, err = b.Post(ctx, p, partner.PostInput{Type: generic.MovePurchase, Debit: d("5")})

	assert.ErrorIs(t, err, generic.ErrConsistency)
}

func TestRepair_ResetsCurrentBalance(t *testing.T) {
	ctx := context.Background()
	b, st := newBooks(t)
	p := distributor(t, b)
	_, err := b.Post(ctx, p, partner.PostInput{Type: generic.MovePurchase, Debit: d("40")})
	require.NoError(t, err)

	p.CurrentBalance = d("3")
	require.NoError(t, st.SavePartner(ctx, p))
	assert.ErrorIs(t, b.Verify(ctx, tenant, p.ID), generic.ErrConsistency)

	res, err := b.Repair(ctx, tenant, p.ID, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, "-40", res.FinalBalance.String())
	require.NoError(t, b.Verify(ctx, tenant, p.ID))
}

// =============================================================================
// PAYMENTS
// =============================================================================

func TestPaymentLifecycle(t *testing.T) {
	ctx := context.Background()
	b, _ := newBooks(t)
	distributor(t, b)
	account(t, b, "500")

	pay := &partner.Payment{
		Tenant:      tenant,
		PartnerID:   "dist-1",
		AccountID:   "cash-1",
		Amount:      d("120"),
		Direction:   partner.DirectionOut,
		Method:      partner.MethodCash,
		DocumentIDs: []string{"doc-1"},
	}
	require.NoError(t, b.CreatePayment(ctx, pay))
	assert.Equal(t, partner.PaymentCompleted, pay.Status)
	assert.Equal(t, "380", balanceOf(t, b, "cash-1"))

	require.NoError(t, b.ChangeAmount(ctx, pay, d("100")))
	assert.Equal(t, "400", balanceOf(t, b, "cash-1"))

	linked, err := b.PaymentsForDocument(ctx, tenant, "doc-1")
	require.NoError(t, err)
	require.Len(t, linked, 1)
	assert.Equal(t, "100", linked[0].Amount.String())

	require.NoError(t, b.Cancel(ctx, pay))
	assert.Equal(t, "500", balanceOf(t, b, "cash-1"))
	require.NoError(t, b.Cancel(ctx, pay), "cancelling twice is a no-op")
	assert.Equal(t, "500", balanceOf(t, b, "cash-1"))
}

func TestPendingPayment(t *testing.T) {
	ctx := context.Background()
	b, _ := newBooks(t)
	account(t, b, "0")

	pay := &partner.Payment{
		Tenant: tenant, PartnerID: "cust-1", AccountID: "cash-1",
		Amount: d("75"), Direction: partner.DirectionIn, Method: partner.MethodCheque,
		Status: partner.PaymentPending,
	}
	require.NoError(t, b.CreatePayment(ctx, pay))
	assert.Equal(t, "0", balanceOf(t, b, "cash-1"))

	require.NoError(t, b.ChangeAmount(ctx, pay, d("80")))
	assert.Equal(t, "0", balanceOf(t, b, "cash-1"))

	require.NoError(t, b.Settle(ctx, pay))
	assert.Equal(t, "80", balanceOf(t, b, "cash-1"))
	assert.ErrorIs(t, b.Settle(ctx, pay), generic.ErrInvalidState)

	stored, err := b.GetPayment(ctx, tenant, pay.ID)
	require.NoError(t, err)
	assert.Equal(t, partner.PaymentCompleted, stored.Status)
}

func TestCreatePayment_Rejects(t *testing.T) {
	ctx := context.Background()
	b, _ := newBooks(t)
	account(t, b, "0")

	tests := []struct {
		name string
		pay  partner.Payment
		want error
	}{
		{"zero amount", partner.Payment{Tenant: tenant, AccountID: "cash-1", Direction: partner.DirectionIn}, generic.ErrValidation},
		{"bad direction", partner.Payment{Tenant: tenant, AccountID: "cash-1", Amount: d("1"), Direction: "sideways"}, generic.ErrValidation},
		{"unknown account", partner.Payment{Tenant: tenant, AccountID: "bank-2", Amount: d("1"), Direction: partner.DirectionIn}, generic.ErrNotFound},
		{"unknown account while pending", partner.Payment{Tenant: tenant, AccountID: "bank-2", Amount: d("1"), Direction: partner.DirectionIn, Status: partner.PaymentPending}, generic.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pay := tt.pay
			assert.ErrorIs(t, b.CreatePayment(ctx, &pay), tt.want)
		})
	}
}

func TestSigned(t *testing.T) {
	in := partner.Payment{Amount: d("10"), Direction: partner.DirectionIn}
	out := partner.Payment{Amount: d("10"), Direction: partner.DirectionOut}

	assert.Equal(t, "10", in.Signed().String())
	assert.Equal(t, "-10", out.Signed().String())
}
