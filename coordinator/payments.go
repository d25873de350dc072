package coordinator

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/warp/stock-ledger/document"
	"github.com/warp/stock-ledger/generic"
	"github.com/warp/stock-ledger/lock"
	"github.com/warp/stock-ledger/partner"
)

// =============================================================================
// PARTNERS AND ACCOUNTS
// =============================================================================

func (c *Coordinator) CreatePartner(ctx context.Context, scope generic.Scope, in PartnerInput) (*partner.Partner, error) {
	if err := c.check(in); err != nil {
		return nil, err
	}
	var out *partner.Partner
	err := c.exec(ctx, scope, "create_partner", partnerKeys(scope.Tenant, in.ID), func(u *unit) error {
		if in.ID != "" {
			existing, err := u.repo.GetPartner(ctx, scope.Tenant, in.ID)
			if err != nil {
				return err
			}
			if existing != nil {
				return generic.NewValidationError("id", "partner "+in.ID+" already exists")
			}
		}
		p := &partner.Partner{ID: in.ID, Tenant: scope.Tenant, Kind: in.Kind, Name: in.Name, Phone: in.Phone}
		if err := u.books.CreatePartner(ctx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	return out, err
}

func (c *Coordinator) CreateAccount(ctx context.Context, scope generic.Scope, in AccountInput) (*partner.Account, error) {
	if err := c.check(in); err != nil {
		return nil, err
	}
	var out *partner.Account
	err := c.exec(ctx, scope, "create_account", accountKeys(scope.Tenant, in.ID), func(u *unit) error {
		if in.ID != "" {
			existing, err := u.repo.GetAccount(ctx, scope.Tenant, in.ID)
			if err != nil {
				return err
			}
			if existing != nil {
				return generic.NewValidationError("id", "account "+in.ID+" already exists")
			}
		}
		a := &partner.Account{ID: in.ID, Tenant: scope.Tenant, Name: in.Name, Type: in.Type, Balance: in.Opening}
		if err := u.books.CreateAccount(ctx, a); err != nil {
			return err
		}
		out = a
		return nil
	})
	return out, err
}

// =============================================================================
// STANDALONE PAYMENTS
// =============================================================================

// RecordPayment stores a payment, moves its account when completed, posts a
// PAYMENT entry to the partner ledger and links the payment to documents.
// Linked documents keep their own totals.
func (c *Coordinator) RecordPayment(ctx context.Context, scope generic.Scope, in PaymentInput) (*Result, error) {
	if err := c.check(in); err != nil {
		return nil, err
	}
	if !in.Amount.IsPositive() {
		return nil, generic.NewValidationError("amount", "must be positive")
	}
	keys := append(partnerKeys(scope.Tenant, in.PartnerID), accountKeys(scope.Tenant, in.AccountID)...)

	var res *Result
	err := c.exec(ctx, scope, "record_payment", keys, func(u *unit) error {
		p, err := u.partner(ctx, in.PartnerID)
		if err != nil {
			return err
		}
		docs := make([]*document.Document, 0, len(in.DocumentIDs))
		for _, id := range in.DocumentIDs {
			doc, err := u.document(ctx, id)
			if err != nil {
				return err
			}
			if doc.PartnerID != p.ID {
				return generic.NewValidationError("document_ids", "document "+id+" belongs to another partner")
			}
			if doc.Status == document.StatusCancelled {
				return &generic.InvalidStateError{DocumentID: id, Status: string(doc.Status), Operation: "pay"}
			}
			docs = append(docs, doc)
		}

		pay := &partner.Payment{
			Tenant:      scope.Tenant,
			PartnerID:   p.ID,
			AccountID:   in.AccountID,
			Amount:      in.Amount,
			Direction:   in.Direction,
			Method:      methodOrCash(in.Method),
			Status:      paymentStatus(in.Pending),
			Reference:   in.Reference,
			DocumentIDs: in.DocumentIDs,
		}
		if err := u.books.CreatePayment(ctx, pay); err != nil {
			return err
		}

		credit, debit := paymentSides(p.Kind, in.Direction, in.Amount)
		entry, err := u.books.Post(ctx, p, partner.PostInput{
			Type:   generic.MovePayment,
			Credit: credit,
			Debit:  debit,
			Remark: in.Reference,
			Actor:  scope.Actor,
			At:     u.at,
		})
		if err != nil {
			return err
		}
		u.ledgerEntries = append(u.ledgerEntries, entry)

		for _, doc := range docs {
			doc.PaymentIDs = append(doc.PaymentIDs, pay.ID)
			doc.UpdatedAt = u.at
			if err := u.repo.SaveDocument(ctx, doc); err != nil {
				return err
			}
		}
		res = u.result(nil, []partner.Payment{*pay})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// paymentSides credits the partner ledger when money flows in the direction
// that settles their documents (paying a distributor, collecting from a
// customer) and debits it for refunds.
func paymentSides(kind partner.Kind, dir partner.Direction, amount decimal.Decimal) (credit, debit decimal.Decimal) {
	settles := (kind == partner.KindDistributor && dir == partner.DirectionOut) ||
		(kind == partner.KindCustomer && dir == partner.DirectionIn)
	if settles {
		return amount, decimal.Zero
	}
	return decimal.Zero, amount
}

// SettlePayment completes a PENDING payment and moves its account.
func (c *Coordinator) SettlePayment(ctx context.Context, scope generic.Scope, paymentID string) (*partner.Payment, error) {
	var keys []string
	err := c.read(ctx, scope, func(u *unit) error {
		pay, err := u.books.GetPayment(ctx, scope.Tenant, paymentID)
		if err != nil {
			return err
		}
		keys = accountKeys(scope.Tenant, pay.AccountID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	var out *partner.Payment
	err = c.exec(ctx, scope, "settle_payment", keys, func(u *unit) error {
		pay, err := u.books.GetPayment(ctx, scope.Tenant, paymentID)
		if err != nil {
			return err
		}
		if err := u.require(lock.AccountKey(scope.Tenant, pay.AccountID)); err != nil {
			return err
		}
		if err := u.books.Settle(ctx, pay); err != nil {
			return err
		}
		out = pay
		return nil
	})
	return out, err
}

// =============================================================================
// SETTLEMENT PAYMENTS - the AmountPaid of a document
// =============================================================================

func settlementRef(documentID string) string { return "settlement:" + documentID }

// settlementDirection is the way money moves when a document of this kind is paid.
func settlementDirection(kind document.Kind) partner.Direction {
	switch kind {
	case document.KindSale, document.KindPurchaseReturn:
		return partner.DirectionIn
	default:
		return partner.DirectionOut
	}
}

func methodOrCash(m partner.Method) partner.Method {
	if m == "" {
		return partner.MethodCash
	}
	return m
}

func paymentStatus(pending bool) partner.PaymentStatus {
	if pending {
		return partner.PaymentPending
	}
	return partner.PaymentCompleted
}

func (u *unit) settlementPayment(ctx context.Context, documentID string) (*partner.Payment, error) {
	pays, err := u.books.PaymentsForDocument(ctx, u.tenant(), documentID)
	if err != nil {
		return nil, err
	}
	for i := range pays {
		if pays[i].Reference == settlementRef(documentID) && pays[i].Status != partner.PaymentCancelled {
			return &pays[i], nil
		}
	}
	return nil, nil
}

// settle keeps the document's settlement payment in line with AmountPaid:
// created, resized or cancelled.
func (u *unit) settle(ctx context.Context, doc *document.Document, accountID string, method partner.Method, pending bool) ([]partner.Payment, error) {
	existing, err := u.settlementPayment(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	paid := doc.AmountPaid

	switch {
	case existing == nil && paid.IsPositive():
		if err := u.require(lock.AccountKey(u.tenant(), accountID)); err != nil {
			return nil, err
		}
		pay := &partner.Payment{
			Tenant:      u.tenant(),
			PartnerID:   doc.PartnerID,
			AccountID:   accountID,
			Amount:      paid,
			Direction:   settlementDirection(doc.Kind),
			Method:      methodOrCash(method),
			Status:      paymentStatus(pending),
			Reference:   settlementRef(doc.ID),
			DocumentIDs: []string{doc.ID},
		}
		if err := u.books.CreatePayment(ctx, pay); err != nil {
			return nil, err
		}
		doc.PaymentIDs = append(doc.PaymentIDs, pay.ID)
		return []partner.Payment{*pay}, nil

	case existing != nil && !paid.IsPositive():
		if err := u.require(lock.AccountKey(u.tenant(), existing.AccountID)); err != nil {
			return nil, err
		}
		if err := u.books.Cancel(ctx, existing); err != nil {
			return nil, err
		}
		return []partner.Payment{*existing}, nil

	case existing != nil && (!existing.Amount.Equal(paid) || existing.PartnerID != doc.PartnerID):
		if err := u.require(lock.AccountKey(u.tenant(), existing.AccountID)); err != nil {
			return nil, err
		}
		existing.PartnerID = doc.PartnerID
		if err := u.books.ChangeAmount(ctx, existing, paid); err != nil {
			return nil, err
		}
		return []partner.Payment{*existing}, nil
	}
	return nil, nil
}

func (u *unit) cancelSettlement(ctx context.Context, doc *document.Document) ([]partner.Payment, error) {
	existing, err := u.settlementPayment(ctx, doc.ID)
	if err != nil || existing == nil {
		return nil, err
	}
	if err := u.require(lock.AccountKey(u.tenant(), existing.AccountID)); err != nil {
		return nil, err
	}
	if err := u.books.Cancel(ctx, existing); err != nil {
		return nil, err
	}
	return []partner.Payment{*existing}, nil
}
