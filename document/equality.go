package document

// Field names a comparable LineItem field.
type Field string

const (
	FieldID              Field = "id"
	FieldDocumentID      Field = "document_id"
	FieldPosition        Field = "position"
	FieldItemID          Field = "item_id"
	FieldLotID           Field = "lot_id"
	FieldLotCode         Field = "lot_code"
	FieldItemName        Field = "item_name"
	FieldManufacturer    Field = "manufacturer"
	FieldQuantity        Field = "quantity"
	FieldFreeQuantity    Field = "free_quantity"
	FieldPack            Field = "pack"
	FieldRate            Field = "rate"
	FieldMRP             Field = "mrp"
	FieldExpiry          Field = "expiry"
	FieldDiscount        Field = "discount"
	FieldGSTRate         Field = "gst_rate"
	FieldAmount          Field = "amount"
	FieldSubType         Field = "sub_type"
	FieldTimelineEntryID Field = "timeline_entry_id"
)

// IgnoreSet lists fields Equal skips.
type IgnoreSet map[Field]struct{}

func NewIgnoreSet(fields ...Field) IgnoreSet {
	s := make(IgnoreSet, len(fields))
	for _, f := range fields {
		s[f] = struct{}{}
	}
	return s
}

// With returns a copy of s extended by fields.
func (s IgnoreSet) With(fields ...Field) IgnoreSet {
	out := make(IgnoreSet, len(s)+len(fields))
	for f := range s {
		out[f] = struct{}{}
	}
	for _, f := range fields {
		out[f] = struct{}{}
	}
	return out
}

func (s IgnoreSet) Has(f Field) bool {
	_, ok := s[f]
	return ok
}

// Identity and derived fields. Amount is derived from the others.
var (
	PurchaseIgnore = NewIgnoreSet(FieldID, FieldDocumentID, FieldPosition, FieldItemID,
		FieldLotID, FieldTimelineEntryID, FieldAmount)

	// Sales additionally ignore rate and manufacturer, which never move stock.
	SaleIgnore = PurchaseIgnore.With(FieldRate, FieldManufacturer)
)

// quantityFields are the fields whose change forces reverse-then-forward.
var quantityFields = []Field{FieldQuantity, FieldFreeQuantity, FieldPack, FieldSubType}

// Diff returns the fields that differ between a and b, skipping ignored ones.
func Diff(a, b LineItem, ignore IgnoreSet) []Field {
	var out []Field
	check := func(f Field, equal bool) {
		if !equal && !ignore.Has(f) {
			out = append(out, f)
		}
	}
	check(FieldID, a.ID == b.ID)
	check(FieldDocumentID, a.DocumentID == b.DocumentID)
	check(FieldPosition, a.Position == b.Position)
	check(FieldItemID, a.ItemID == b.ItemID)
	check(FieldLotID, a.LotID == b.LotID)
	check(FieldLotCode, a.LotCode == b.LotCode)
	check(FieldItemName, a.ItemName == b.ItemName)
	check(FieldManufacturer, a.Manufacturer == b.Manufacturer)
	check(FieldQuantity, a.Quantity.Equal(b.Quantity))
	check(FieldFreeQuantity, a.FreeQuantity.Equal(b.FreeQuantity))
	check(FieldPack, a.Pack == b.Pack)
	check(FieldRate, a.Rate.Equal(b.Rate))
	check(FieldMRP, a.MRP.Equal(b.MRP))
	check(FieldExpiry, a.Expiry == b.Expiry)
	check(FieldDiscount, a.Discount.Equal(b.Discount))
	check(FieldGSTRate, a.GSTRate.Equal(b.GSTRate))
	check(FieldAmount, a.Amount.Equal(b.Amount))
	check(FieldSubType, a.SubType == b.SubType)
	check(FieldTimelineEntryID, a.TimelineEntryID == b.TimelineEntryID)
	return out
}

// Equal is structural equality over LineItem minus the ignore-set.
func Equal(a, b LineItem, ignore IgnoreSet) bool {
	return len(Diff(a, b, ignore)) == 0
}

// QuantityChanged reports whether any stock-moving field differs.
func QuantityChanged(a, b LineItem) bool {
	only := NewIgnoreSet()
	for _, f := range Diff(a, b, only) {
		for _, q := range quantityFields {
			if f == q {
				return true
			}
		}
	}
	return false
}
