package reconcile

import (
	"github.com/shopspring/decimal"
	"github.com/warp/stock-ledger/document"
	"github.com/warp/stock-ledger/generic"
)

// FinancialOp is one partner ledger write.
type FinancialOp struct {
	Kind   OpKind
	Type   generic.MovementType
	Debit  decimal.Decimal
	Credit decimal.Decimal
}

// FinancialOps mirrors Diff at the partner level. A nil old means the
// document is being created, a nil new means it is being deleted. Edits
// with unchanged totals produce nothing; otherwise one reversal of the old
// (total, paid) pair is followed by one forward entry for the new pair.
func FinancialOps(old, new *document.Totals, rules Rules) []FinancialOp {
	if old != nil && new != nil && old.Equal(*new) {
		return nil
	}

	var ops []FinancialOp
	if old != nil && !old.IsZero() {
		debit, credit := rules.pair(*old)
		ops = append(ops, FinancialOp{Kind: OpReverse, Type: rules.Reverse, Debit: credit, Credit: debit})
	}
	if new != nil && !new.IsZero() {
		debit, credit := rules.pair(*new)
		ops = append(ops, FinancialOp{Kind: OpForward, Type: rules.Forward, Debit: debit, Credit: credit})
	}
	return ops
}

// pair maps totals onto (debit, credit). Negative components move to the
// other side so the net effect is preserved and both sides stay >= 0.
func (r Rules) pair(t document.Totals) (debit, credit decimal.Decimal) {
	debit, credit = t.GrandTotal, t.AmountPaid
	if r.InvertFinancial {
		debit, credit = credit, debit
	}
	if debit.IsNegative() {
		credit = credit.Sub(debit)
		debit = decimal.Zero
	}
	if credit.IsNegative() {
		debit = debit.Sub(credit)
		credit = decimal.Zero
	}
	return debit, credit
}
