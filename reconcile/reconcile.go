/*
Package reconcile computes the ledger operations that move a document from
its persisted line set to a desired line set.

PURPOSE:
  When a document is edited, its previously applied effects must be undone
  and the new ones applied without double counting. Diff compares old and
  new lines keyed by lot id and emits the minimal set of reversal, forward
  and metadata operations. It is pure: no store, no clock.

ALGORITHM (per new line, keyed by LotID):
  - old line exists and Equal under the ignore-set   → no-op
  - old line exists, only non-quantity fields differ → one metadata op, zero delta
  - old line exists, quantity fields differ          → reverse(old) then forward(new)
  - no old line                                      → forward(new), attach source
  Remaining old lines (removed from the document)    → reverse(old), detach source
                                                        if no new line keeps the item

  Reverse-then-forward is mandatory even when a delta would do: the timeline
  must show what was undone and what replaced it.

SIGN CONVENTION:
  Resolved per line by Rules.Sign before any comparison. Purchases credit
  stock, sales debit it, sale lines of sub-type "return" credit it, purchase
  returns debit it.

SEE ALSO:
  - rules.go: the per-operation movement types and signs
  - financial.go: the same pattern for partner (total, paid) pairs
  - coordinator/: applies a Plan inside one atomic scope
*/
package reconcile

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/stock-ledger/document"
	"github.com/warp/stock-ledger/generic"
)

// =============================================================================
// OPERATIONS
// =============================================================================

type OpKind string

const (
	OpForward  OpKind = "forward"
	OpReverse  OpKind = "reverse"
	OpMetadata OpKind = "metadata"
)

// Op is one stock ledger write the coordinator must perform.
type Op struct {
	Kind OpKind
	Type generic.MovementType

	// Line is the old line for reversals and the new line otherwise.
	Line document.LineItem

	Credit decimal.Decimal
	Debit  decimal.Decimal

	AttachSource bool
	DetachSource bool
}

// Delta is the signed stock effect of the op.
func (o Op) Delta() decimal.Decimal { return o.Credit.Sub(o.Debit) }

// Plan is the ordered output of Diff.
type Plan struct {
	Ops []Op

	// Unchanged holds lot ids whose lines were equal and produced nothing.
	Unchanged []string
}

// Empty reports whether applying the plan writes no stock entries.
func (p Plan) Empty() bool { return len(p.Ops) == 0 }

// Touched returns the distinct lot ids the plan writes to, in op order.
func (p Plan) Touched() []string {
	seen := make(map[string]bool)
	var out []string
	for _, op := range p.Ops {
		if !seen[op.Line.LotID] {
			seen[op.Line.LotID] = true
			out = append(out, op.Line.LotID)
		}
	}
	return out
}

// =============================================================================
// DIFF
// =============================================================================

// Diff computes the operations taking oldLines to newLines. Every line must
// already carry a resolved LotID; duplicates on either side are rejected.
func Diff(oldLines, newLines []document.LineItem, rules Rules) (Plan, error) {
	if err := rules.validate(); err != nil {
		return Plan{}, err
	}

	oldByLot := make(map[string]document.LineItem, len(oldLines))
	oldOrder := make([]string, 0, len(oldLines))
	for i, l := range oldLines {
		if l.LotID == "" {
			return Plan{}, generic.NewValidationError(fmt.Sprintf("old_lines[%d].lot_id", i), "unresolved lot")
		}
		if _, dup := oldByLot[l.LotID]; dup {
			return Plan{}, generic.NewValidationError(fmt.Sprintf("old_lines[%d].lot_id", i), "duplicate lot "+l.LotID)
		}
		oldByLot[l.LotID] = l
		oldOrder = append(oldOrder, l.LotID)
	}

	keptItems := make(map[string]bool, len(newLines))
	seenNew := make(map[string]bool, len(newLines))
	for i, l := range newLines {
		if l.LotID == "" {
			return Plan{}, generic.NewValidationError(fmt.Sprintf("lines[%d].lot_id", i), "unresolved lot")
		}
		if seenNew[l.LotID] {
			return Plan{}, generic.NewValidationError(fmt.Sprintf("lines[%d].lot_id", i), "duplicate lot "+l.LotID)
		}
		seenNew[l.LotID] = true
		keptItems[l.ItemID] = true
	}

	var plan Plan
	for _, nl := range newLines {
		ol, existed := oldByLot[nl.LotID]
		switch {
		case existed && document.Equal(ol, nl, rules.Ignore):
			plan.Unchanged = append(plan.Unchanged, nl.LotID)
		case existed && !document.QuantityChanged(ol, nl):
			plan.Ops = append(plan.Ops, Op{
				Kind:   OpMetadata,
				Type:   rules.metadataType(),
				Line:   nl,
				Credit: decimal.Zero,
				Debit:  decimal.Zero,
			})
		case existed:
			plan.Ops = append(plan.Ops, rules.reverse(ol), rules.forward(nl))
		default:
			fwd := rules.forward(nl)
			fwd.AttachSource = true
			plan.Ops = append(plan.Ops, fwd)
		}
		delete(oldByLot, nl.LotID)
	}

	for _, lot := range oldOrder {
		ol, remaining := oldByLot[lot]
		if !remaining {
			continue
		}
		rev := rules.reverse(ol)
		rev.DetachSource = !keptItems[ol.ItemID]
		plan.Ops = append(plan.Ops, rev)
	}

	return plan, nil
}

// split turns a signed quantity into a (credit, debit) pair.
func split(signed decimal.Decimal) (credit, debit decimal.Decimal) {
	if signed.IsNegative() {
		return decimal.Zero, signed.Neg()
	}
	return signed, decimal.Zero
}
