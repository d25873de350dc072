package coordinator

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/warp/stock-ledger/document"
	"github.com/warp/stock-ledger/generic"
	"github.com/warp/stock-ledger/partner"
)

// =============================================================================
// DOCUMENT INPUTS
// =============================================================================

// LineInput is one desired line. Either ItemID or ItemName identifies the
// item on purchases; sales and returns need ItemID.
type LineInput struct {
	ItemID       string `validate:"omitempty,max=64"`
	ItemName     string `validate:"max=200"`
	Manufacturer string `validate:"max=200"`
	HSN          string `validate:"max=32"`
	LotCode      string `validate:"required,max=64"`

	Quantity     decimal.Decimal
	FreeQuantity decimal.Decimal
	Pack         string `validate:"max=32"`
	Rate         decimal.Decimal
	MRP          decimal.Decimal
	Expiry       string `validate:"max=16"`
	Discount     decimal.Decimal
	GSTRate      decimal.Decimal

	// SubType applies to sale lines only: "sale" (default) or "return".
	SubType document.SubType `validate:"omitempty,oneof=sale return"`
}

// DocumentInput is the desired state of a purchase or sale.
type DocumentInput struct {
	Number    string    `validate:"max=64"`
	PartnerID string    `validate:"required,max=64"`
	Date      time.Time
	Remark    string `validate:"max=500"`

	// AmountPaid settles the document through AccountID when positive.
	AmountPaid     decimal.Decimal
	AccountID      string         `validate:"max=64"`
	PaymentMethod  partner.Method `validate:"omitempty,oneof=cash bank upi cheque"`
	PaymentPending bool

	Lines []LineInput `validate:"required,min=1,dive"`
}

// ReturnLineInput selects a line of the source document by lot and how much
// of it goes back.
type ReturnLineInput struct {
	LotID        string `validate:"required,max=64"`
	Quantity     decimal.Decimal
	FreeQuantity decimal.Decimal
}

type ReturnInput struct {
	Number         string `validate:"max=64"`
	Date           time.Time
	Remark         string `validate:"max=500"`
	AmountPaid     decimal.Decimal
	AccountID      string         `validate:"max=64"`
	PaymentMethod  partner.Method `validate:"omitempty,oneof=cash bank upi cheque"`
	PaymentPending bool

	Lines []ReturnLineInput `validate:"required,min=1,dive"`
}

// =============================================================================
// STOCK INPUTS
// =============================================================================

// AdjustmentInput moves one lot by a signed quantity. Zero records an
// informational entry.
type AdjustmentInput struct {
	ItemID   string `validate:"required,max=64"`
	LotCode  string `validate:"required,max=64"`
	Quantity decimal.Decimal
	Remark   string `validate:"max=500"`
}

// ImportRow is one historical stock line. At may lie in the past.
type ImportRow struct {
	ItemID       string `validate:"omitempty,max=64"`
	ItemName     string `validate:"max=200"`
	Manufacturer string `validate:"max=200"`
	LotCode      string `validate:"required,max=64"`
	Quantity     decimal.Decimal
	Expiry       string `validate:"max=16"`
	MRP          decimal.Decimal
	PurchaseRate decimal.Decimal
	SaleRate     decimal.Decimal
	GSTRate      decimal.Decimal
	PackSize     string `validate:"max=32"`
	At           time.Time
}

type ImportInput struct {
	Remark string      `validate:"max=500"`
	Rows   []ImportRow `validate:"required,min=1,dive"`
}

// =============================================================================
// PARTY INPUTS
// =============================================================================

type PartnerInput struct {
	ID    string       `validate:"omitempty,max=64"`
	Kind  partner.Kind `validate:"required,oneof=distributor customer"`
	Name  string       `validate:"required,max=200"`
	Phone string       `validate:"max=32"`
}

type AccountInput struct {
	ID      string              `validate:"omitempty,max=64"`
	Name    string              `validate:"required,max=200"`
	Type    partner.AccountType `validate:"required,oneof=cash bank upi"`
	Opening decimal.Decimal
}

// PaymentInput records a standalone payment against a partner.
type PaymentInput struct {
	PartnerID   string            `validate:"required,max=64"`
	AccountID   string            `validate:"required,max=64"`
	Amount      decimal.Decimal
	Direction   partner.Direction `validate:"required,oneof=in out"`
	Method      partner.Method    `validate:"omitempty,oneof=cash bank upi cheque"`
	Pending     bool
	Reference   string   `validate:"max=128"`
	DocumentIDs []string `validate:"dive,required"`
}

// =============================================================================
// VALIDATION
// =============================================================================

// check runs struct tags and converts the first failure to *generic.ValidationError.
func (c *Coordinator) check(in any) error {
	err := c.validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return generic.NewValidationError(fieldPath(fe.Namespace()), describeTag(fe))
	}
	return generic.NewValidationError("", err.Error())
}

// fieldPath drops the root struct name and lowercases: "DocumentInput.Lines[0].LotCode" → "lines[0].lotcode".
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		ns = ns[i+1:]
	}
	return strings.ToLower(ns)
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "min":
		return "must have at least " + fe.Param() + " entries"
	case "max":
		return "must be at most " + fe.Param() + " long"
	case "oneof":
		return "must be one of: " + fe.Param()
	default:
		return "failed " + fe.Tag()
	}
}

func nonNegative(field string, v decimal.Decimal) error {
	if v.IsNegative() {
		return generic.NewValidationError(field, "must not be negative")
	}
	return nil
}

func (c *Coordinator) checkLines(lines []LineInput, sale bool) error {
	hundred := decimal.NewFromInt(100)
	seen := make(map[string]bool, len(lines))
	for i, l := range lines {
		field := func(name string) string { return fmt.Sprintf("lines[%d].%s", i, name) }
		if l.ItemID != "" {
			k := l.ItemID + "/" + l.LotCode
			if seen[k] {
				return generic.NewValidationError(field("lot_code"), "duplicate lot "+l.LotCode+" for item "+l.ItemID)
			}
			seen[k] = true
		}
		for name, v := range map[string]decimal.Decimal{
			"quantity": l.Quantity, "free_quantity": l.FreeQuantity, "rate": l.Rate,
			"mrp": l.MRP, "discount": l.Discount, "gst_rate": l.GSTRate,
		} {
			if err := nonNegative(field(name), v); err != nil {
				return err
			}
		}
		if !l.Quantity.Add(l.FreeQuantity).IsPositive() {
			return generic.NewValidationError(field("quantity"), "quantity plus free quantity must be positive")
		}
		if l.Discount.GreaterThan(hundred) {
			return generic.NewValidationError(field("discount"), "must be at most 100")
		}
		if !generic.ValidExpiry(l.Expiry) {
			return generic.NewValidationError(field("expiry"), "must be YYYY-MM")
		}
		if sale && l.ItemID == "" {
			return generic.NewValidationError(field("item_id"), "required")
		}
		if !sale && l.SubType == document.SubTypeReturn {
			return generic.NewValidationError(field("sub_type"), "return lines belong on sales bills")
		}
	}
	return nil
}

func (c *Coordinator) checkDocument(in DocumentInput, sale bool) error {
	if err := c.check(in); err != nil {
		return err
	}
	if err := checkSettlement(in.AmountPaid, in.AccountID); err != nil {
		return err
	}
	return c.checkLines(in.Lines, sale)
}

func (c *Coordinator) checkReturn(in ReturnInput) error {
	if err := c.check(in); err != nil {
		return err
	}
	if err := checkSettlement(in.AmountPaid, in.AccountID); err != nil {
		return err
	}
	for i, l := range in.Lines {
		if err := nonNegative(fmt.Sprintf("lines[%d].quantity", i), l.Quantity); err != nil {
			return err
		}
		if err := nonNegative(fmt.Sprintf("lines[%d].free_quantity", i), l.FreeQuantity); err != nil {
			return err
		}
		if !l.Quantity.Add(l.FreeQuantity).IsPositive() {
			return generic.NewValidationError(fmt.Sprintf("lines[%d].quantity", i), "quantity plus free quantity must be positive")
		}
	}
	return nil
}

func checkSettlement(paid decimal.Decimal, accountID string) error {
	if err := nonNegative("amount_paid", paid); err != nil {
		return err
	}
	if paid.IsPositive() && accountID == "" {
		return generic.NewValidationError("account_id", "required when amount_paid is positive")
	}
	return nil
}
