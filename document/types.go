/*
Package document defines transaction documents and their line items.

PURPOSE:
  Purchase invoices, sales bills and return notes are the inputs the
  reconciliation engine diffs. This package owns their shape, their
  lifecycle and the arithmetic that derives line amounts and grand totals.
  It knows nothing about ledgers.

LIFECYCLE:
  draft → active → {cancelled | returned}

  Only draft and active documents are editable. Deleting a document moves
  it to cancelled after its effects were fully reversed; the row is kept.

NORMALIZATION:
  Lines are stored as their own rows keyed by DocumentID, and payments link
  to documents by id. Nothing grows an embedded array.

SEE ALSO:
  - equality.go: typed line equality with an explicit ignore-set
  - reconcile/: the diff engine consuming these types
*/
package document

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/stock-ledger/generic"
)

// =============================================================================
// KINDS AND STATUSES
// =============================================================================

type Kind string

const (
	KindPurchase       Kind = "PURCHASE"
	KindSale           Kind = "SALE"
	KindPurchaseReturn Kind = "PURCHASE_RETURN"
	KindSaleReturn     Kind = "SALE_RETURN"
)

// IsReturn reports whether documents of this kind reference a source document.
func (k Kind) IsReturn() bool { return k == KindPurchaseReturn || k == KindSaleReturn }

type Status string

const (
	StatusDraft     Status = "draft"
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
	StatusReturned  Status = "returned"
)

// Editable reports whether a document in this status may be edited or deleted.
func (s Status) Editable() bool { return s == StatusDraft || s == StatusActive }

type PaymentStatus string

const (
	PaymentUnpaid  PaymentStatus = "unpaid"
	PaymentPartial PaymentStatus = "partial"
	PaymentPaid    PaymentStatus = "paid"
)

// SubType distinguishes sale lines from return lines on a sales bill.
type SubType string

const (
	SubTypeSale   SubType = "sale"
	SubTypeReturn SubType = "return"
)

// =============================================================================
// LINE ITEM
// =============================================================================

type LineItem struct {
	ID         string
	DocumentID string
	Position   int

	ItemID       string
	LotID        string
	LotCode      string
	ItemName     string
	Manufacturer string

	Quantity     decimal.Decimal
	FreeQuantity decimal.Decimal
	Pack         string
	Rate         decimal.Decimal
	MRP          decimal.Decimal
	Expiry       string
	Discount     decimal.Decimal // percent
	GSTRate      decimal.Decimal // percent
	Amount       decimal.Decimal
	SubType      SubType

	// TimelineEntryID points at the latest forward entry written for this line.
	TimelineEntryID string
}

// TotalQuantity is what moves stock: billed plus free units.
func (l LineItem) TotalQuantity() decimal.Decimal {
	return l.Quantity.Add(l.FreeQuantity)
}

var hundred = decimal.NewFromInt(100)

// ComputeAmount returns qty × rate × (1 - discount%) × (1 + gst%), rounded to cents.
func (l LineItem) ComputeAmount() decimal.Decimal {
	gross := l.Quantity.Mul(l.Rate)
	net := gross.Mul(hundred.Sub(l.Discount)).Div(hundred)
	return net.Mul(hundred.Add(l.GSTRate)).Div(hundred).Round(2)
}

// IsReturnLine reports whether a sale line credits stock back.
func (l LineItem) IsReturnLine() bool { return l.SubType == SubTypeReturn }

// =============================================================================
// DOCUMENT
// =============================================================================

type Document struct {
	ID               string
	Tenant           generic.TenantID
	Kind             Kind
	Number           string
	PartnerID        string
	PartnerName      string
	Date             time.Time
	Status           Status
	GrandTotal       decimal.Decimal
	AmountPaid       decimal.Decimal
	PaymentStatus    PaymentStatus
	SourceDocumentID string
	Remark           string

	Lines      []LineItem
	PaymentIDs []string

	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Totals is the pair the partner ledger reconciles on.
type Totals struct {
	GrandTotal decimal.Decimal
	AmountPaid decimal.Decimal
}

// Equal compares both components numerically.
func (t Totals) Equal(o Totals) bool {
	return t.GrandTotal.Equal(o.GrandTotal) && t.AmountPaid.Equal(o.AmountPaid)
}

func (t Totals) IsZero() bool { return t.GrandTotal.IsZero() && t.AmountPaid.IsZero() }

func (d *Document) Totals() Totals {
	return Totals{GrandTotal: d.GrandTotal, AmountPaid: d.AmountPaid}
}

// Recalculate derives line amounts, the grand total and the payment status.
// Return lines on a sales bill reduce the total.
func (d *Document) Recalculate() {
	total := decimal.Zero
	for i := range d.Lines {
		d.Lines[i].Position = i
		d.Lines[i].DocumentID = d.ID
		d.Lines[i].Amount = d.Lines[i].ComputeAmount()
		if d.Lines[i].IsReturnLine() {
			total = total.Sub(d.Lines[i].Amount)
		} else {
			total = total.Add(d.Lines[i].Amount)
		}
	}
	d.GrandTotal = total
	d.PaymentStatus = paymentStatus(total, d.AmountPaid)
}

func paymentStatus(total, paid decimal.Decimal) PaymentStatus {
	switch {
	case paid.IsZero() || paid.IsNegative():
		if total.IsPositive() {
			return PaymentUnpaid
		}
		return PaymentPaid
	case paid.GreaterThanOrEqual(total):
		return PaymentPaid
	default:
		return PaymentPartial
	}
}

// =============================================================================
// REPOSITORY
// =============================================================================

// Repository persists documents. GetDocument returns (nil, nil) when missing.
type Repository interface {
	GetDocument(ctx context.Context, tenant generic.TenantID, id string) (*Document, error)
	SaveDocument(ctx context.Context, doc *Document) error
	ListReturns(ctx context.Context, tenant generic.TenantID, sourceID string) ([]Document, error)
	ListDocumentIDs(ctx context.Context, tenant generic.TenantID) ([]string, error)
}
