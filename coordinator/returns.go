package coordinator

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/stock-ledger/document"
	"github.com/warp/stock-ledger/generic"
	"github.com/warp/stock-ledger/inventory"
	"github.com/warp/stock-ledger/reconcile"
)

// CreatePurchaseReturn sends lots of a purchase back to the distributor.
// Stock is debited and the partner pair is inverted.
func (c *Coordinator) CreatePurchaseReturn(ctx context.Context, scope generic.Scope, sourceID string, in ReturnInput) (*Result, error) {
	return c.createReturn(ctx, scope, document.KindPurchaseReturn, sourceID, in)
}

// CreateSaleReturn takes lots of a sale back from the customer.
func (c *Coordinator) CreateSaleReturn(ctx context.Context, scope generic.Scope, sourceID string, in ReturnInput) (*Result, error) {
	return c.createReturn(ctx, scope, document.KindSaleReturn, sourceID, in)
}

func sourceKind(kind document.Kind) document.Kind {
	if kind == document.KindSaleReturn {
		return document.KindSale
	}
	return document.KindPurchase
}

func (c *Coordinator) createReturn(ctx context.Context, scope generic.Scope, kind document.Kind, sourceID string, in ReturnInput) (*Result, error) {
	if err := c.checkReturn(in); err != nil {
		return nil, err
	}
	keys, err := c.documentKeys(ctx, scope, sourceID)
	if err != nil {
		return nil, err
	}
	keys = append(keys, accountKeys(scope.Tenant, in.AccountID)...)

	var res *Result
	err = c.exec(ctx, scope, opName("create", kind), keys, func(u *unit) error {
		src, err := u.document(ctx, sourceID)
		if err != nil {
			return err
		}
		if err := expectKind(src, sourceKind(kind), "return"); err != nil {
			return err
		}
		if src.Status != document.StatusActive && src.Status != document.StatusReturned {
			return &generic.InvalidStateError{DocumentID: src.ID, Status: string(src.Status), Operation: "return"}
		}

		lines, err := u.returnLines(ctx, src, in.Lines)
		if err != nil {
			return err
		}
		p, err := u.partner(ctx, src.PartnerID)
		if err != nil {
			return err
		}

		doc := &document.Document{
			ID:               newID(),
			Tenant:           scope.Tenant,
			Kind:             kind,
			Number:           in.Number,
			PartnerID:        p.ID,
			PartnerName:      p.Name,
			Date:             in.Date.UTC(),
			Status:           document.StatusActive,
			AmountPaid:       in.AmountPaid,
			SourceDocumentID: src.ID,
			Remark:           in.Remark,
			Lines:            lines,
			CreatedBy:        scope.Actor.ID,
			CreatedAt:        u.at,
			UpdatedAt:        u.at,
		}
		if doc.Number == "" {
			doc.Number = documentNumber(kind, doc.ID)
		}
		if in.Date.IsZero() {
			doc.Date = u.at
		}
		doc.Recalculate()

		rules, _, _ := reconcile.ForKind(kind)
		plan, err := reconcile.Diff(nil, doc.Lines, rules)
		if err != nil {
			return err
		}
		if _, err := u.applyPlan(ctx, plan, doc, false); err != nil {
			return err
		}
		u.carryLineIdentity(doc, nil)
		if err := inventory.ValidateLots(u.touchedLots(), u.net, doc.ID); err != nil {
			return err
		}

		totals := doc.Totals()
		if err := u.postFinancial(ctx, nil, nil, p, &totals, rules, doc.ID); err != nil {
			return err
		}
		pays, err := u.settle(ctx, doc, in.AccountID, in.PaymentMethod, in.PaymentPending)
		if err != nil {
			return err
		}
		if err := u.repo.SaveDocument(ctx, doc); err != nil {
			return err
		}

		src.Status = document.StatusReturned
		src.UpdatedAt = u.at
		if err := u.repo.SaveDocument(ctx, src); err != nil {
			return err
		}
		res = u.result(doc, pays)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// returnLines copies the selected source lines with the returned quantities,
// refusing to return more of a lot than the source minus earlier returns.
func (u *unit) returnLines(ctx context.Context, src *document.Document, inputs []ReturnLineInput) ([]document.LineItem, error) {
	srcByLot := make(map[string]document.LineItem, len(src.Lines))
	for _, l := range src.Lines {
		if !l.IsReturnLine() {
			srcByLot[l.LotID] = l
		}
	}

	prior, err := u.repo.ListReturns(ctx, u.tenant(), src.ID)
	if err != nil {
		return nil, err
	}
	returned := make(map[string]decimal.Decimal)
	for _, r := range prior {
		if r.Status == document.StatusCancelled {
			continue
		}
		for _, l := range r.Lines {
			returned[l.LotID] = returned[l.LotID].Add(l.TotalQuantity())
		}
	}

	lines := make([]document.LineItem, 0, len(inputs))
	for i, in := range inputs {
		sl, ok := srcByLot[in.LotID]
		if !ok {
			return nil, generic.NewValidationError(fmt.Sprintf("lines[%d].lot_id", i), "lot "+in.LotID+" is not on document "+src.Number)
		}
		want := in.Quantity.Add(in.FreeQuantity)
		remaining := sl.TotalQuantity().Sub(returned[in.LotID])
		if want.GreaterThan(remaining) {
			return nil, generic.NewValidationError(fmt.Sprintf("lines[%d].quantity", i),
				fmt.Sprintf("returning %s exceeds the %s left on the source", want, remaining))
		}
		returned[in.LotID] = returned[in.LotID].Add(want)

		if _, err := u.lot(ctx, in.LotID); err != nil {
			return nil, err
		}
		line := sl
		line.ID = ""
		line.DocumentID = ""
		line.TimelineEntryID = ""
		line.SubType = ""
		line.Quantity = in.Quantity
		line.FreeQuantity = in.FreeQuantity
		lines = append(lines, line)
	}
	return lines, nil
}
