/*
Package generic provides the core running-balance ledger engine.

PURPOSE:
  This package contains domain-agnostic types and algorithms for keeping an
  append-only, running-balance ledger per subject. Whether the subject is an
  inventory item (quantities) or a trading partner (money), the same engine
  computes balances, detects out-of-order writes, replays history and verifies
  that stored balances agree with the sum of credits and debits.

KEY CONCEPTS IN THIS FILE (types.go):
  - Subject: What a ledger is about (tenant + kind + id)
  - Entry: An append-only ledger row storing the balance AFTER it was applied
  - MovementType: Why the entry was written (PURCHASE, SALE_EDIT_REVERSE, ...)
  - Scope: Explicit tenant + actor threaded through every operation

DESIGN PRINCIPLES:
  1. Append-only: Entries are never edited, only reversed. Replay is the one
     sanctioned bulk-mutator and it touches only the Balance column.
  2. Precision: decimal.Decimal everywhere, no float arithmetic on stock or money
  3. Explicit tenancy: every Subject carries its TenantID, nothing is ambient
  4. Ordering: (CreatedAt, Seq) defines the ledger sequence, not insertion order

USAGE:
  subject := generic.Subject{Tenant: "t1", Kind: generic.SubjectInventory, ID: "item-1"}
  res, err := generic.NewLedger(store).Append(ctx, generic.EntryInput{
      Subject: subject,
      Type:    generic.MovePurchase,
      Credit:  decimal.NewFromInt(10),
  })

SEE ALSO:
  - ledger.go: Append and balance computation
  - replay.go: Out-of-order repair
  - balance.go: Summaries and verification
*/
package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TenantID string
type SubjectID string
type EntryID string

// SubjectKind separates the stock timeline from the partner money ledger.
type SubjectKind string

const (
	SubjectInventory SubjectKind = "inventory"
	SubjectPartner   SubjectKind = "partner"
)

// Subject identifies one running-balance ledger.
type Subject struct {
	Tenant TenantID
	Kind   SubjectKind
	ID     SubjectID
}

func (s Subject) String() string {
	return string(s.Tenant) + "/" + string(s.Kind) + "/" + string(s.ID)
}

// InventorySubject is shorthand for an item's timeline.
func InventorySubject(tenant TenantID, itemID string) Subject {
	return Subject{Tenant: tenant, Kind: SubjectInventory, ID: SubjectID(itemID)}
}

// PartnerSubject is shorthand for a partner's money ledger.
func PartnerSubject(tenant TenantID, partnerID string) Subject {
	return Subject{Tenant: tenant, Kind: SubjectPartner, ID: SubjectID(partnerID)}
}

// =============================================================================
// SCOPE - Explicit tenant and actor
// =============================================================================

// Actor is whoever triggered the write, as supplied by the HTTP layer.
type Actor struct {
	ID   string
	Name string
}

// Scope is passed explicitly into every coordinator call.
type Scope struct {
	Tenant TenantID
	Actor  Actor
}

// =============================================================================
// MOVEMENT TYPES
// =============================================================================

type MovementType string

const (
	MoveAdjustment          MovementType = "ADJUSTMENT"
	MovePurchase            MovementType = "PURCHASE"
	MoveSale                MovementType = "SALE"
	MovePurchaseReturn      MovementType = "PURCHASE_RETURN"
	MoveSaleReturn          MovementType = "SALE_RETURN"
	MoveSaleEdit            MovementType = "SALE_EDIT"
	MoveSaleEditReverse     MovementType = "SALE_EDIT_REVERSE"
	MovePurchaseEdit        MovementType = "PURCHASE_EDIT"
	MovePurchaseEditReverse MovementType = "PURCHASE_EDIT_REVERSE"
	MoveSaleDelete          MovementType = "SALE_DELETE"
	MovePurchaseDelete      MovementType = "PURCHASE_DELETE"
	MoveImport              MovementType = "IMPORT"

	// Partner ledger only.
	MovePayment MovementType = "PAYMENT"
	MoveOpening MovementType = "OPENING"
)

var movementTypes = map[MovementType]bool{
	MoveAdjustment: true, MovePurchase: true, MoveSale: true,
	MovePurchaseReturn: true, MoveSaleReturn: true,
	MoveSaleEdit: true, MoveSaleEditReverse: true,
	MovePurchaseEdit: true, MovePurchaseEditReverse: true,
	MoveSaleDelete: true, MovePurchaseDelete: true,
	MoveImport: true, MovePayment: true, MoveOpening: true,
}

// Valid reports whether t is a known movement type.
func (t MovementType) Valid() bool { return movementTypes[t] }

// =============================================================================
// ENTRY - One append-only ledger row
// =============================================================================

// Entry is a TimelineEntry when Subject.Kind is SubjectInventory and a
// LedgerEntry when it is SubjectPartner. Balance is the value AFTER applying
// Credit - Debit.
type Entry struct {
	ID           EntryID
	Subject      Subject
	Type         MovementType
	Credit       decimal.Decimal
	Debit        decimal.Decimal
	Balance      decimal.Decimal
	LotID        string
	DocumentID   string
	ActorID      string
	ActorName    string
	Counterparty string
	Remark       string
	CreatedAt    time.Time

	// Seq is assigned by the store on insert and breaks CreatedAt ties.
	Seq int64
}

// Delta is the signed effect of the entry.
func (e Entry) Delta() decimal.Decimal { return e.Credit.Sub(e.Debit) }

// Before reports whether e sorts ahead of other in ledger order.
func (e Entry) Before(other Entry) bool {
	if e.CreatedAt.Equal(other.CreatedAt) {
		return e.Seq < other.Seq
	}
	return e.CreatedAt.Before(other.CreatedAt)
}

// EntryInput is what callers hand to Ledger.Append. Balance, Seq and (if
// empty) ID and CreatedAt are filled in by the ledger.
type EntryInput struct {
	ID           EntryID
	Subject      Subject
	Type         MovementType
	Credit       decimal.Decimal
	Debit        decimal.Decimal
	LotID        string
	DocumentID   string
	Actor        Actor
	Counterparty string
	Remark       string
	CreatedAt    time.Time
}

// BalanceUpdate rewrites the stored balance of one entry. Only Replay emits these.
type BalanceUpdate struct {
	EntryID EntryID
	Balance decimal.Decimal
}
