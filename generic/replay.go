/*
replay.go - Balance replay after out-of-order writes

PURPOSE:
  When an entry is inserted with a timestamp earlier than existing entries
  (bulk import of historical stock, backdated adjustments), every entry at or
  after that timestamp has a stale Balance. Replay walks the subject's
  history once, recomputes balances from the start and rewrites only the rows
  whose stored balance differs.

ALGORITHM:
  running := 0
  for e in entries (ledger order):
      running += e.Credit - e.Debit
      if e.CreatedAt >= from and e.Balance != running:
          rewrite e.Balance = running

  O(n) over one subject. It runs only on exceptional out-of-order writes and
  explicit repair requests, never on the steady-state hot path.

STABILITY:
  A second Replay over the same range rewrites nothing.

LOCKING:
  Callers hold the subject's advisory lock for the duration (see lock package).
*/
package generic

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ReplayResult summarises one replay pass.
type ReplayResult struct {
	Subject      Subject
	From         time.Time
	Scanned      int // entries at or after From
	Rewritten    int
	FinalBalance decimal.Decimal
}

// Replay recomputes balances for subject from the given point onward.
// A zero from replays the full history.
func Replay(ctx context.Context, store Store, subject Subject, from time.Time) (ReplayResult, error) {
	entries, err := store.Entries(ctx, subject)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("replay %s: load entries: %w", subject, err)
	}

	result := ReplayResult{Subject: subject, From: from}
	running := decimal.Zero
	var updates []BalanceUpdate

	for _, e := range entries {
		running = running.Add(e.Delta())
		if e.CreatedAt.Before(from) {
			continue
		}
		result.Scanned++
		if !e.Balance.Equal(running) {
			updates = append(updates, BalanceUpdate{EntryID: e.ID, Balance: running})
		}
	}

	if len(updates) > 0 {
		if err := store.RewriteBalances(ctx, subject, updates); err != nil {
			return ReplayResult{}, fmt.Errorf("replay %s: rewrite balances: %w", subject, err)
		}
	}

	result.Rewritten = len(updates)
	result.FinalBalance = running
	return result, nil
}
