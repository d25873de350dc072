/*
balance.go - Ledger summaries and verification

PURPOSE:
  Answers "what does this subject's ledger add up to?" and "do the stored
  running balances agree with that sum?".

INVARIANT CHECKED BY Verify:
  For every entry i in ledger order:
    entries[i].Balance == Σ(credit) - Σ(debit) over entries[0..i]

  In particular the last balance equals Σ(all credits) - Σ(all debits).

SEE ALSO:
  - replay.go: fixes what Verify reports
  - inventory/verify.go: adds the cached-aggregate checks on top
*/
package generic

import "github.com/shopspring/decimal"

// Summary totals a subject's entries.
type Summary struct {
	Count       int
	TotalCredit decimal.Decimal
	TotalDebit  decimal.Decimal
	// Balance is the stored balance of the last entry.
	Balance decimal.Decimal
}

// Net is Σcredit - Σdebit.
func (s Summary) Net() decimal.Decimal { return s.TotalCredit.Sub(s.TotalDebit) }

// Summarize totals entries, which must be in ledger order.
func Summarize(entries []Entry) Summary {
	s := Summary{TotalCredit: decimal.Zero, TotalDebit: decimal.Zero, Balance: decimal.Zero}
	for _, e := range entries {
		s.Count++
		s.TotalCredit = s.TotalCredit.Add(e.Credit)
		s.TotalDebit = s.TotalDebit.Add(e.Debit)
		s.Balance = e.Balance
	}
	return s
}

// Verify walks entries in ledger order and returns a *ConsistencyError for the
// first stored balance that disagrees with the running sum.
func Verify(subject Subject, entries []Entry) error {
	running := decimal.Zero
	for _, e := range entries {
		running = running.Add(e.Delta())
		if !e.Balance.Equal(running) {
			return &ConsistencyError{
				Subject:  subject,
				EntryID:  e.ID,
				What:     "running balance",
				Stored:   e.Balance,
				Expected: running,
			}
		}
	}
	return nil
}
