package reconcile

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/warp/stock-ledger/document"
	"github.com/warp/stock-ledger/generic"
)

// Rules parameterise Diff for one kind of business operation.
type Rules struct {
	// Forward is the movement type for forward ops. ForwardReturn, when set,
	// replaces it for sale lines of sub-type "return".
	Forward       generic.MovementType
	ForwardReturn generic.MovementType
	Reverse       generic.MovementType
	Metadata      generic.MovementType

	Ignore document.IgnoreSet

	// Sign is +1 when the line credits stock and -1 when it debits it.
	Sign func(document.LineItem) int

	// InvertFinancial posts (credit = total, debit = paid) instead of the
	// default (debit = total, credit = paid). Return documents use it.
	InvertFinancial bool
}

func (r Rules) validate() error {
	if r.Sign == nil {
		return errors.New("reconcile: rules without sign function")
	}
	if r.Forward == "" && r.Reverse == "" {
		return errors.New("reconcile: rules without movement types")
	}
	return nil
}

func (r Rules) metadataType() generic.MovementType {
	if r.Metadata != "" {
		return r.Metadata
	}
	return r.Forward
}

func (r Rules) forward(l document.LineItem) Op {
	t := r.Forward
	if l.IsReturnLine() && r.ForwardReturn != "" {
		t = r.ForwardReturn
	}
	signed := l.TotalQuantity().Mul(decimal.NewFromInt(int64(r.Sign(l))))
	credit, debit := split(signed)
	return Op{Kind: OpForward, Type: t, Line: l, Credit: credit, Debit: debit}
}

func (r Rules) reverse(l document.LineItem) Op {
	signed := l.TotalQuantity().Mul(decimal.NewFromInt(int64(-r.Sign(l))))
	credit, debit := split(signed)
	return Op{Kind: OpReverse, Type: r.Reverse, Line: l, Credit: credit, Debit: debit}
}

// =============================================================================
// SIGNS
// =============================================================================

func creditsStock(document.LineItem) int { return 1 }
func debitsStock(document.LineItem) int  { return -1 }

func saleSign(l document.LineItem) int {
	if l.IsReturnLine() {
		return 1
	}
	return -1
}

// =============================================================================
// RULE SETS
// =============================================================================

func PurchaseCreate() Rules {
	return Rules{Forward: generic.MovePurchase, Reverse: generic.MovePurchaseEditReverse,
		Ignore: document.PurchaseIgnore, Sign: creditsStock}
}

func PurchaseEdit() Rules {
	return Rules{Forward: generic.MovePurchaseEdit, Reverse: generic.MovePurchaseEditReverse,
		Metadata: generic.MovePurchaseEdit, Ignore: document.PurchaseIgnore, Sign: creditsStock}
}

func PurchaseDelete() Rules {
	return Rules{Reverse: generic.MovePurchaseDelete, Ignore: document.PurchaseIgnore, Sign: creditsStock}
}

func SaleCreate() Rules {
	return Rules{Forward: generic.MoveSale, ForwardReturn: generic.MoveSaleReturn,
		Reverse: generic.MoveSaleEditReverse, Ignore: document.SaleIgnore, Sign: saleSign}
}

func SaleEdit() Rules {
	return Rules{Forward: generic.MoveSaleEdit, Reverse: generic.MoveSaleEditReverse,
		Metadata: generic.MoveSaleEdit, Ignore: document.SaleIgnore, Sign: saleSign}
}

func SaleDelete() Rules {
	return Rules{Reverse: generic.MoveSaleDelete, Ignore: document.SaleIgnore, Sign: saleSign}
}

func PurchaseReturnCreate() Rules {
	return Rules{Forward: generic.MovePurchaseReturn, Reverse: generic.MovePurchaseEditReverse,
		Ignore: document.PurchaseIgnore, Sign: debitsStock, InvertFinancial: true}
}

func SaleReturnCreate() Rules {
	return Rules{Forward: generic.MoveSaleReturn, Reverse: generic.MoveSaleEditReverse,
		Ignore: document.SaleIgnore, Sign: creditsStock, InvertFinancial: true}
}

// ForKind picks the create/edit/delete rule set for a document kind.
func ForKind(kind document.Kind) (create, edit, del Rules) {
	switch kind {
	case document.KindSale:
		return SaleCreate(), SaleEdit(), SaleDelete()
	case document.KindPurchaseReturn:
		r := PurchaseReturnCreate()
		return r, r, r
	case document.KindSaleReturn:
		r := SaleReturnCreate()
		return r, r, r
	default:
		return PurchaseCreate(), PurchaseEdit(), PurchaseDelete()
	}
}
