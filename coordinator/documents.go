package coordinator

import (
	"context"
	"slices"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/stock-ledger/document"
	"github.com/warp/stock-ledger/generic"
	"github.com/warp/stock-ledger/inventory"
	"github.com/warp/stock-ledger/partner"
	"github.com/warp/stock-ledger/reconcile"
)

// =============================================================================
// PURCHASES AND SALES
// =============================================================================

func (c *Coordinator) CreatePurchase(ctx context.Context, scope generic.Scope, in DocumentInput) (*Result, error) {
	return c.createDocument(ctx, scope, document.KindPurchase, in)
}

func (c *Coordinator) EditPurchase(ctx context.Context, scope generic.Scope, id string, in DocumentInput) (*Result, error) {
	return c.editDocument(ctx, scope, document.KindPurchase, id, in)
}

// DeletePurchase reverses every effect of the purchase and cancels it. A
// purchase with returns against it cannot be deleted.
func (c *Coordinator) DeletePurchase(ctx context.Context, scope generic.Scope, id string) (*Result, error) {
	return c.deleteDocument(ctx, scope, document.KindPurchase, id)
}

// CreateSale fails with InsufficientStockError before writing anything when
// a lot cannot cover the requested quantity.
func (c *Coordinator) CreateSale(ctx context.Context, scope generic.Scope, in DocumentInput) (*Result, error) {
	return c.createDocument(ctx, scope, document.KindSale, in)
}

func (c *Coordinator) EditSale(ctx context.Context, scope generic.Scope, id string, in DocumentInput) (*Result, error) {
	return c.editDocument(ctx, scope, document.KindSale, id, in)
}

func (c *Coordinator) DeleteSale(ctx context.Context, scope generic.Scope, id string) (*Result, error) {
	return c.deleteDocument(ctx, scope, document.KindSale, id)
}

func opName(verb string, kind document.Kind) string {
	return verb + "_" + strings.ToLower(string(kind))
}

func (c *Coordinator) createDocument(ctx context.Context, scope generic.Scope, kind document.Kind, in DocumentInput) (*Result, error) {
	if err := c.checkDocument(in, kind == document.KindSale); err != nil {
		return nil, err
	}
	keys := inputKeys(scope.Tenant, in)

	var res *Result
	err := c.exec(ctx, scope, opName("create", kind), keys, func(u *unit) error {
		doc := &document.Document{
			ID:        newID(),
			Tenant:    scope.Tenant,
			Kind:      kind,
			Status:    document.StatusActive,
			CreatedBy: scope.Actor.ID,
			CreatedAt: u.at,
		}
		var err error
		res, err = u.applyDocument(ctx, nil, doc, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Coordinator) editDocument(ctx context.Context, scope generic.Scope, kind document.Kind, id string, in DocumentInput) (*Result, error) {
	if err := c.checkDocument(in, kind == document.KindSale); err != nil {
		return nil, err
	}
	keys, err := c.documentKeys(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	keys = append(keys, inputKeys(scope.Tenant, in)...)

	var res *Result
	err = c.exec(ctx, scope, opName("edit", kind), keys, func(u *unit) error {
		old, err := u.document(ctx, id)
		if err != nil {
			return err
		}
		if err := expectKind(old, kind, "edit"); err != nil {
			return err
		}
		if !old.Status.Editable() {
			return &generic.InvalidStateError{DocumentID: old.ID, Status: string(old.Status), Operation: "edit"}
		}
		doc := *old
		doc.Lines = nil
		doc.PaymentIDs = slices.Clone(old.PaymentIDs)
		res, err = u.applyDocument(ctx, old, &doc, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Coordinator) deleteDocument(ctx context.Context, scope generic.Scope, kind document.Kind, id string) (*Result, error) {
	keys, err := c.documentKeys(ctx, scope, id)
	if err != nil {
		return nil, err
	}

	var res *Result
	err = c.exec(ctx, scope, opName("delete", kind), keys, func(u *unit) error {
		old, err := u.document(ctx, id)
		if err != nil {
			return err
		}
		if err := expectKind(old, kind, "delete"); err != nil {
			return err
		}
		if !old.Status.Editable() {
			return &generic.InvalidStateError{DocumentID: old.ID, Status: string(old.Status), Operation: "delete"}
		}
		if err := u.checkNoReturns(ctx, old); err != nil {
			return err
		}

		for _, l := range old.Lines {
			if _, err := u.lot(ctx, l.LotID); err != nil {
				return err
			}
		}
		p, err := u.partner(ctx, old.PartnerID)
		if err != nil {
			return err
		}

		_, _, rules := reconcile.ForKind(kind)
		plan, err := reconcile.Diff(old.Lines, nil, rules)
		if err != nil {
			return err
		}
		doc := *old
		doc.Lines = slices.Clone(old.Lines)
		if _, err := u.applyPlan(ctx, plan, &doc, false); err != nil {
			return err
		}
		if err := inventory.ValidateLots(u.touchedLots(), u.net, doc.ID); err != nil {
			return err
		}

		oldTotals := old.Totals()
		if err := u.postFinancial(ctx, p, &oldTotals, nil, nil, rules, doc.ID); err != nil {
			return err
		}
		pays, err := u.cancelSettlement(ctx, &doc)
		if err != nil {
			return err
		}

		doc.Status = document.StatusCancelled
		doc.UpdatedAt = u.at
		if err := u.repo.SaveDocument(ctx, &doc); err != nil {
			return err
		}
		res = u.result(&doc, pays)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func expectKind(doc *document.Document, kind document.Kind, op string) error {
	if doc.Kind == kind {
		return nil
	}
	return &generic.InvalidStateError{
		DocumentID: doc.ID,
		Status:     string(doc.Status),
		Operation:  op,
		Reason:     "document is a " + string(doc.Kind) + ", not a " + string(kind),
	}
}

func (u *unit) checkNoReturns(ctx context.Context, doc *document.Document) error {
	returns, err := u.repo.ListReturns(ctx, u.tenant(), doc.ID)
	if err != nil {
		return err
	}
	for _, r := range returns {
		if r.Status != document.StatusCancelled {
			return &generic.InvalidStateError{
				DocumentID: doc.ID,
				Status:     string(doc.Status),
				Operation:  "delete",
				Reason:     "return " + r.Number + " references this document",
			}
		}
	}
	return nil
}

// =============================================================================
// APPLY - shared by create and edit
// =============================================================================

// applyDocument moves doc from old (nil on create) to the state described by
// in: stock, partner ledger, settlement payment and the document row.
func (u *unit) applyDocument(ctx context.Context, old, doc *document.Document, in DocumentInput) (*Result, error) {
	p, err := u.partner(ctx, in.PartnerID)
	if err != nil {
		return nil, err
	}
	var oldPartner *partner.Partner
	var oldLines []document.LineItem
	var oldTotals *document.Totals
	if old != nil {
		if oldPartner, err = u.partner(ctx, old.PartnerID); err != nil {
			return nil, err
		}
		for _, l := range old.Lines {
			if _, err := u.lot(ctx, l.LotID); err != nil {
				return nil, err
			}
		}
		oldLines = old.Lines
		t := old.Totals()
		oldTotals = &t
	}

	doc.PartnerID = p.ID
	doc.PartnerName = p.Name
	doc.Remark = in.Remark
	doc.AmountPaid = in.AmountPaid
	doc.UpdatedAt = u.at
	if in.Number != "" {
		doc.Number = in.Number
	} else if doc.Number == "" {
		doc.Number = documentNumber(doc.Kind, doc.ID)
	}
	switch {
	case !in.Date.IsZero():
		doc.Date = in.Date.UTC()
	case doc.Date.IsZero():
		doc.Date = u.at
	}

	lines, err := u.resolveLines(ctx, doc.Kind, in.Lines)
	if err != nil {
		return nil, err
	}
	doc.Lines = lines
	doc.Recalculate()

	create, edit, _ := reconcile.ForKind(doc.Kind)
	rules := create
	if old != nil {
		rules = edit
	}
	plan, err := reconcile.Diff(oldLines, doc.Lines, rules)
	if err != nil {
		return nil, err
	}

	sale := doc.Kind == document.KindSale
	if sale {
		if err := u.preflight(plan, doc.ID); err != nil {
			return nil, err
		}
	}
	if _, err := u.applyPlan(ctx, plan, doc, sale); err != nil {
		return nil, err
	}
	u.carryLineIdentity(doc, oldLines)
	if err := inventory.ValidateLots(u.touchedLots(), u.net, doc.ID); err != nil {
		return nil, err
	}

	newTotals := doc.Totals()
	if err := u.postFinancial(ctx, oldPartner, oldTotals, p, &newTotals, rules, doc.ID); err != nil {
		return nil, err
	}
	pays, err := u.settle(ctx, doc, in.AccountID, in.PaymentMethod, in.PaymentPending)
	if err != nil {
		return nil, err
	}

	if err := u.repo.SaveDocument(ctx, doc); err != nil {
		return nil, err
	}
	return u.result(doc, pays), nil
}

// resolveLines maps inputs onto lines with resolved item and lot ids.
// Purchases may create items and lots; sales need both to exist.
func (u *unit) resolveLines(ctx context.Context, kind document.Kind, inputs []LineInput) ([]document.LineItem, error) {
	lines := make([]document.LineItem, 0, len(inputs))
	for _, in := range inputs {
		var (
			item *inventory.Item
			lot  *inventory.Lot
			err  error
		)
		if kind == document.KindPurchase {
			item, err = u.itemOrPlaceholder(ctx, inventory.ItemSpec{
				ID:                  in.ItemID,
				Name:                in.ItemName,
				Manufacturer:        in.Manufacturer,
				HSN:                 in.HSN,
				PackSize:            in.Pack,
				DefaultMRP:          in.MRP,
				DefaultPurchaseRate: in.Rate,
				GSTRate:             in.GSTRate,
			})
			if err != nil {
				return nil, err
			}
			lot, err = u.stock.FindOrCreateLot(ctx, item, in.LotCode, lotDefaults(in))
		} else {
			if item, err = u.item(ctx, in.ItemID); err != nil {
				return nil, err
			}
			lot, err = u.stock.FindLot(ctx, u.tenant(), item.ID, in.LotCode)
		}
		if err != nil {
			return nil, err
		}
		lot = u.cacheLot(lot)

		line := document.LineItem{
			ItemID:       item.ID,
			LotID:        lot.ID,
			LotCode:      lot.Code,
			ItemName:     coalesce(in.ItemName, item.Name),
			Manufacturer: coalesce(in.Manufacturer, item.Manufacturer),
			Quantity:     in.Quantity,
			FreeQuantity: in.FreeQuantity,
			Pack:         in.Pack,
			Rate:         in.Rate,
			MRP:          in.MRP,
			Expiry:       in.Expiry,
			Discount:     in.Discount,
			GSTRate:      in.GSTRate,
		}
		if kind == document.KindSale {
			line.SubType = in.SubType
			if line.SubType == "" {
				line.SubType = document.SubTypeSale
			}
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func lotDefaults(in LineInput) inventory.LotDefaults {
	return inventory.LotDefaults{
		Expiry:       in.Expiry,
		MRP:          in.MRP,
		PurchaseRate: in.Rate,
		Discount:     in.Discount,
		PackSize:     in.Pack,
		GSTRate:      in.GSTRate,
	}
}

func lineDefaults(l document.LineItem) inventory.LotDefaults {
	return inventory.LotDefaults{
		Expiry:       l.Expiry,
		MRP:          l.MRP,
		PurchaseRate: l.Rate,
		Discount:     l.Discount,
		PackSize:     l.Pack,
		GSTRate:      l.GSTRate,
	}
}

func coalesce(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

// preflight rejects a sale whose net effect on any lot exceeds its stock,
// before any mutation. The document's own earlier quantity is part of the
// net because reversals are in the plan.
func (u *unit) preflight(plan reconcile.Plan, documentID string) error {
	need := make(map[string]decimal.Decimal)
	for _, op := range plan.Ops {
		need[op.Line.LotID] = need[op.Line.LotID].Add(op.Delta())
	}
	for _, lotID := range plan.Touched() {
		net := need[lotID]
		lot := u.lots[lotID]
		if net.IsNegative() && lot.Quantity.Add(net).IsNegative() {
			return &generic.InsufficientStockError{
				ItemID:     lot.ItemID,
				LotID:      lot.ID,
				DocumentID: documentID,
				Available:  lot.Quantity,
				Requested:  net.Neg(),
			}
		}
	}
	return nil
}

// applyPlan posts every op through the stock service and maintains item
// source references. It returns the forward or metadata entry id per lot.
func (u *unit) applyPlan(ctx context.Context, plan reconcile.Plan, doc *document.Document, strict bool) (map[string]string, error) {
	entryByLot := make(map[string]string)
	for _, op := range plan.Ops {
		lot := u.lots[op.Line.LotID]
		item := u.items[lot.ItemID]

		if op.Kind == reconcile.OpMetadata && doc.Kind == document.KindPurchase {
			if err := u.stock.UpdateLotAttributes(ctx, lot, lineDefaults(op.Line)); err != nil {
				return nil, err
			}
		}

		entry, err := u.stock.Post(ctx, inventory.Movement{
			Item:         item,
			Lot:          lot,
			Type:         op.Type,
			Credit:       op.Credit,
			Debit:        op.Debit,
			Strict:       strict && op.Kind == reconcile.OpForward,
			DocumentID:   doc.ID,
			Counterparty: doc.PartnerName,
			Remark:       doc.Number,
			Actor:        u.scope.Actor,
			At:           u.at,
		})
		if err != nil {
			return nil, err
		}
		u.net[lot.ID] = u.net[lot.ID].Add(op.Delta())
		u.stockEntries = append(u.stockEntries, entry)
		if op.Kind != reconcile.OpReverse {
			entryByLot[lot.ID] = string(entry.ID)
		}

		if op.AttachSource {
			if err := u.stock.AttachSource(ctx, u.tenant(), item.ID, doc.ID); err != nil {
				return nil, err
			}
		}
		if op.DetachSource {
			if err := u.stock.DetachSource(ctx, u.tenant(), item.ID, doc.ID); err != nil {
				return nil, err
			}
		}
	}

	for i := range doc.Lines {
		if id, ok := entryByLot[doc.Lines[i].LotID]; ok {
			doc.Lines[i].TimelineEntryID = id
		}
	}
	return entryByLot, nil
}

// carryLineIdentity keeps line ids and, for unchanged lines, their timeline
// references across an edit. New lines get fresh ids.
func (u *unit) carryLineIdentity(doc *document.Document, oldLines []document.LineItem) {
	oldByLot := make(map[string]document.LineItem, len(oldLines))
	for _, l := range oldLines {
		oldByLot[l.LotID] = l
	}
	for i := range doc.Lines {
		l := &doc.Lines[i]
		if ol, ok := oldByLot[l.LotID]; ok {
			l.ID = ol.ID
			if l.TimelineEntryID == "" {
				l.TimelineEntryID = ol.TimelineEntryID
			}
		}
		if l.ID == "" {
			l.ID = newID()
		}
	}
}

// =============================================================================
// FINANCIAL
// =============================================================================

// postFinancial writes the partner ledger side of a document change. When
// the partner itself changed, the old partner gets the reversal and the new
// partner the forward entry.
func (u *unit) postFinancial(ctx context.Context, oldP *partner.Partner, oldT *document.Totals,
	newP *partner.Partner, newT *document.Totals, rules reconcile.Rules, documentID string) error {

	type target struct {
		p   *partner.Partner
		ops []reconcile.FinancialOp
	}
	var targets []target
	switch {
	case oldP != nil && newP != nil && oldP.ID != newP.ID:
		targets = []target{
			{oldP, reconcile.FinancialOps(oldT, nil, rules)},
			{newP, reconcile.FinancialOps(nil, newT, rules)},
		}
	case newP != nil:
		targets = []target{{newP, reconcile.FinancialOps(oldT, newT, rules)}}
	default:
		targets = []target{{oldP, reconcile.FinancialOps(oldT, newT, rules)}}
	}

	for _, t := range targets {
		for _, op := range t.ops {
			entry, err := u.books.Post(ctx, t.p, partner.PostInput{
				Type:       op.Type,
				Debit:      op.Debit,
				Credit:     op.Credit,
				DocumentID: documentID,
				Actor:      u.scope.Actor,
				At:         u.at,
			})
			if err != nil {
				return err
			}
			u.ledgerEntries = append(u.ledgerEntries, entry)
		}
	}
	return nil
}

func (u *unit) result(doc *document.Document, pays []partner.Payment) *Result {
	return &Result{
		Document:      doc,
		StockEntries:  u.stockEntries,
		LedgerEntries: u.ledgerEntries,
		Payments:      pays,
	}
}

// =============================================================================
// LOCK KEYS
// =============================================================================

func inputKeys(tenant generic.TenantID, in DocumentInput) []string {
	keys := partnerKeys(tenant, in.PartnerID)
	for _, l := range in.Lines {
		keys = append(keys, itemKeys(tenant, l.ItemID)...)
	}
	return append(keys, accountKeys(tenant, in.AccountID)...)
}

// documentKeys peeks at a stored document, outside any lock, for the
// subjects an edit or delete of it will touch.
func (c *Coordinator) documentKeys(ctx context.Context, scope generic.Scope, id string) ([]string, error) {
	var keys []string
	err := c.read(ctx, scope, func(u *unit) error {
		doc, err := u.document(ctx, id)
		if err != nil {
			return err
		}
		keys = append(keys, partnerKeys(scope.Tenant, doc.PartnerID)...)
		for _, l := range doc.Lines {
			keys = append(keys, itemKeys(scope.Tenant, l.ItemID)...)
		}
		pay, err := u.settlementPayment(ctx, doc.ID)
		if err != nil {
			return err
		}
		if pay != nil {
			keys = append(keys, accountKeys(scope.Tenant, pay.AccountID)...)
		}
		return nil
	})
	return keys, err
}
