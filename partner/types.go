/*
Package partner implements the partner financial ledger, money accounts and
payments.

PURPOSE:
  Every distributor or customer has a running-balance ledger. Documents post
  their (grand total, amount paid) pair into it, standalone payments post
  one-sided entries, and Partner.CurrentBalance caches the latest balance.

SIGN CONVENTION:
  balance = previous + credit - debit

  A purchase of 1000 with 400 paid posts debit 1000, credit 400: the
  partner balance moves by -600, i.e. we owe the distributor 600.
  Return documents invert the pair.

ACCOUNTS:
  Cash, bank and UPI accounts hold money. Only COMPLETED payments move an
  account balance; a PENDING payment moves it when it is settled.

SEE ALSO:
  - reconcile/financial.go: computes the (debit, credit) pairs to post
  - generic/ledger.go: the ledger primitive
*/
package partner

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/stock-ledger/generic"
)

// =============================================================================
// PARTNER
// =============================================================================

type Kind string

const (
	KindDistributor Kind = "distributor"
	KindCustomer    Kind = "customer"
)

func (k Kind) Valid() bool { return k == KindDistributor || k == KindCustomer }

type Partner struct {
	ID             string
	Tenant         generic.TenantID
	Kind           Kind
	Name           string
	Phone          string
	CurrentBalance decimal.Decimal
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// =============================================================================
// ACCOUNTS AND PAYMENTS
// =============================================================================

type AccountType string

const (
	AccountCash AccountType = "cash"
	AccountBank AccountType = "bank"
	AccountUPI  AccountType = "upi"
)

func (t AccountType) Valid() bool {
	return t == AccountCash || t == AccountBank || t == AccountUPI
}

type Account struct {
	ID        string
	Tenant    generic.TenantID
	Name      string
	Type      AccountType
	Balance   decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Direction string

const (
	DirectionIn  Direction = "in"  // money received from a customer
	DirectionOut Direction = "out" // money paid to a distributor
)

type Method string

const (
	MethodCash   Method = "cash"
	MethodBank   Method = "bank"
	MethodUPI    Method = "upi"
	MethodCheque Method = "cheque"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentCancelled PaymentStatus = "CANCELLED"
)

type Payment struct {
	ID          string
	Tenant      generic.TenantID
	PartnerID   string
	AccountID   string
	Amount      decimal.Decimal
	Direction   Direction
	Method      Method
	Status      PaymentStatus
	Reference   string
	DocumentIDs []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Signed is the payment's effect on its account balance.
func (p Payment) Signed() decimal.Decimal {
	if p.Direction == DirectionOut {
		return p.Amount.Neg()
	}
	return p.Amount
}

// =============================================================================
// REPOSITORY
// =============================================================================

// Repository is the storage the partner package needs inside one scope.
// Getters return (nil, nil) when the row does not exist.
type Repository interface {
	generic.Store

	GetPartner(ctx context.Context, tenant generic.TenantID, id string) (*Partner, error)
	SavePartner(ctx context.Context, p *Partner) error
	ListPartnerIDs(ctx context.Context, tenant generic.TenantID) ([]string, error)

	GetAccount(ctx context.Context, tenant generic.TenantID, id string) (*Account, error)
	SaveAccount(ctx context.Context, a *Account) error

	GetPayment(ctx context.Context, tenant generic.TenantID, id string) (*Payment, error)
	SavePayment(ctx context.Context, p *Payment) error
	PaymentsForDocument(ctx context.Context, tenant generic.TenantID, documentID string) ([]Payment, error)
}
