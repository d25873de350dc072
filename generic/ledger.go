/*
ledger.go - Append-only running-balance ledger

PURPOSE:
  The Ledger is the write path for every stock movement and every partner
  money movement. Each entry stores the balance AFTER it is applied, so the
  latest entry of a subject is its current balance.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: entries are never edited or removed
  2. RUNNING BALANCE: balance = previous balance + credit - debit
  3. CHRONOLOGICAL BASE: "previous" is the latest entry at or before the new
     entry's timestamp, not the last inserted row
  4. BACKFILL REPAIR: appending behind existing entries replays the rest of
     the subject's history in the same store scope

CORRECTIONS:
  Mistakes are corrected by writing a reversal entry, never by editing:
    PURCHASE            +10  balance 10
    PURCHASE_EDIT_REVERSE -10 balance 0
    PURCHASE_EDIT        +6  balance 6

CACHED AGGREGATES:
  The ledger does not know about InventoryItem.Quantity or
  Partner.CurrentBalance. Callers update those to match the returned entry.

SEE ALSO:
  - store.go: Persistence interface
  - replay.go: Backfill repair
*/
package generic

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// LEDGER - Append-only running-balance log
// =============================================================================

// Ledger is the write path for ledger entries.
type Ledger interface {
	// Append validates and writes one entry. This is the ONLY write operation.
	Append(ctx context.Context, in EntryInput) (AppendResult, error)

	// Entries returns the subject's entries in ledger order.
	Entries(ctx context.Context, subject Subject) ([]Entry, error)

	// LastBalance returns the balance of the latest entry, zero if none.
	LastBalance(ctx context.Context, subject Subject) (decimal.Decimal, error)
}

// AppendResult carries the stored entry and, for backdated writes, the
// replay that followed it.
type AppendResult struct {
	Entry    Entry
	Replayed *ReplayResult
}

// =============================================================================
// DEFAULT LEDGER - Implementation using Store
// =============================================================================

type DefaultLedger struct {
	Store Store

	// SingleSided requires exactly one of Credit/Debit to be non-zero (or both
	// zero for informational entries). Stock timelines set it, partner ledgers
	// do not because a document posts its (total, paid) pair in one entry.
	SingleSided bool

	Now func() time.Time
}

func NewLedger(store Store) *DefaultLedger {
	return &DefaultLedger{Store: store, Now: time.Now}
}

// NewStockLedger returns a ledger enforcing single-sided entries.
func NewStockLedger(store Store) *DefaultLedger {
	l := NewLedger(store)
	l.SingleSided = true
	return l
}

func (l *DefaultLedger) Append(ctx context.Context, in EntryInput) (AppendResult, error) {
	if err := l.validate(in); err != nil {
		return AppendResult{}, err
	}

	at := in.CreatedAt
	if at.IsZero() {
		at = l.now()
	}
	at = at.UTC()

	last, err := l.Store.LastEntry(ctx, in.Subject)
	if err != nil {
		return AppendResult{}, fmt.Errorf("ledger: load last entry: %w", err)
	}

	backdated := last != nil && at.Before(last.CreatedAt)
	base := decimal.Zero
	switch {
	case backdated:
		prev, err := l.Store.LastEntryAt(ctx, in.Subject, at)
		if err != nil {
			return AppendResult{}, fmt.Errorf("ledger: load base entry: %w", err)
		}
		if prev != nil {
			base = prev.Balance
		}
	case last != nil:
		base = last.Balance
	}

	id := in.ID
	if id == "" {
		id = EntryID(uuid.NewString())
	}

	entry := Entry{
		ID:           id,
		Subject:      in.Subject,
		Type:         in.Type,
		Credit:       in.Credit,
		Debit:        in.Debit,
		Balance:      base.Add(in.Credit).Sub(in.Debit),
		LotID:        in.LotID,
		DocumentID:   in.DocumentID,
		ActorID:      in.Actor.ID,
		ActorName:    in.Actor.Name,
		Counterparty: in.Counterparty,
		Remark:       in.Remark,
		CreatedAt:    at,
	}

	stored, err := l.Store.AppendEntry(ctx, entry)
	if err != nil {
		return AppendResult{}, fmt.Errorf("ledger: append entry: %w", err)
	}

	result := AppendResult{Entry: stored}
	if backdated {
		rr, err := Replay(ctx, l.Store, in.Subject, at)
		if err != nil {
			return AppendResult{}, err
		}
		result.Replayed = &rr
	}
	return result, nil
}

func (l *DefaultLedger) Entries(ctx context.Context, subject Subject) ([]Entry, error) {
	return l.Store.Entries(ctx, subject)
}

func (l *DefaultLedger) LastBalance(ctx context.Context, subject Subject) (decimal.Decimal, error) {
	last, err := l.Store.LastEntry(ctx, subject)
	if err != nil {
		return decimal.Zero, err
	}
	if last == nil {
		return decimal.Zero, nil
	}
	return last.Balance, nil
}

func (l *DefaultLedger) validate(in EntryInput) error {
	if in.Subject.Tenant == "" {
		return NewValidationError("tenant", "required")
	}
	if in.Subject.ID == "" {
		return NewValidationError("subject", "required")
	}
	if !in.Type.Valid() {
		return NewValidationError("type", fmt.Sprintf("unknown movement type %q", in.Type))
	}
	if in.Credit.IsNegative() || in.Debit.IsNegative() {
		return NewValidationError("amount", "credit and debit must not be negative")
	}
	if l.SingleSided && !in.Credit.IsZero() && !in.Debit.IsZero() {
		return NewValidationError("amount", "exactly one of credit or debit may be set")
	}
	return nil
}

func (l *DefaultLedger) now() time.Time {
	if l.Now == nil {
		return time.Now()
	}
	return l.Now()
}
