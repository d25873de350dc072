/*
store.go - Persistence interface for ledger entries

PURPOSE:
  Defines the boundary between the ledger algorithms and the database.
  Implementations keep entries insert-only and queryable by
  (subject, CreatedAt). The one exception is RewriteBalances, which exists
  solely for Replay and may only touch the Balance column.

APPEND-ONLY CONTRACT:
  - AppendEntry(): the normal write path
  - RewriteBalances(): repair path, balance column only
  - NO Update() or Delete() of entries

ORDERING:
  Entries are returned in ledger order: CreatedAt ascending, then Seq.
  Seq is assigned by the store at insert time, so two entries written in the
  same operation with the same timestamp keep their write order
  (reversal before forward).

IMPLEMENTATIONS:
  - store/sqlite: database/sql + go-sqlite3
  - store/memory: in-memory, for tests

SEE ALSO:
  - ledger.go: Append built on top of Store
  - replay.go: The only caller of RewriteBalances
*/
package generic

import (
	"context"
	"time"
)

// Store handles persistence of ledger entries.
type Store interface {
	// AppendEntry persists e and returns it with Seq assigned.
	AppendEntry(ctx context.Context, e Entry) (Entry, error)

	// Entries returns all entries for subject in ledger order.
	Entries(ctx context.Context, subject Subject) ([]Entry, error)

	// LastEntry returns the chronologically latest entry, or nil.
	LastEntry(ctx context.Context, subject Subject) (*Entry, error)

	// LastEntryAt returns the latest entry with CreatedAt <= at, or nil.
	LastEntryAt(ctx context.Context, subject Subject, at time.Time) (*Entry, error)

	// RewriteBalances updates stored balances. Replay only.
	RewriteBalances(ctx context.Context, subject Subject, updates []BalanceUpdate) error
}
