/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine's types from the external API contract:
  - snake_case field names
  - dates as strings, parsed with generic.ParseTimePoint
  - amounts as decimal strings (numbers are accepted on input)

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Documents:
    DocumentRequest, LineRequest, ReturnRequest, ReturnLineRequest
    DocumentDTO, LineDTO, ResultDTO

  Stock:
    AdjustmentRequest, ImportRequest, ImportRowRequest
    ItemDTO, LotDTO, EntryDTO

  Partners and money:
    PartnerRequest, AccountRequest, PaymentRequest
    PartnerDTO, AccountDTO, PaymentDTO

  Repair:
    RepairRequest, ReplayDTO

VALIDATION:
  Request types carry validator/v10 tags checked by the handler before the
  coordinator runs its own checks. Shape problems (missing fields, bad
  enums) stop at the API; business rules live in the coordinator.

SEE ALSO:
  - handlers.go: Uses these types
  - coordinator/inputs.go: the inputs these requests map to
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/stock-ledger/coordinator"
	"github.com/warp/stock-ledger/document"
	"github.com/warp/stock-ledger/generic"
	"github.com/warp/stock-ledger/inventory"
	"github.com/warp/stock-ledger/partner"
)

// =============================================================================
// DOCUMENT REQUESTS
// =============================================================================

type LineRequest struct {
	ItemID       string          `json:"item_id" validate:"required_without=ItemName"`
	ItemName     string          `json:"item_name"`
	Manufacturer string          `json:"manufacturer"`
	HSN          string          `json:"hsn"`
	LotCode      string          `json:"lot_code" validate:"required"`
	Quantity     decimal.Decimal `json:"quantity"`
	FreeQuantity decimal.Decimal `json:"free_quantity"`
	Pack         string          `json:"pack"`
	Rate         decimal.Decimal `json:"rate"`
	MRP          decimal.Decimal `json:"mrp"`
	Expiry       string          `json:"expiry"`
	Discount     decimal.Decimal `json:"discount"`
	GSTRate      decimal.Decimal `json:"gst_rate"`
	SubType      string          `json:"sub_type" validate:"omitempty,oneof=sale return"`
}

// DocumentRequest is the desired state of a purchase invoice or sales bill.
// PUT sends the complete new line set; lines left out are removed.
type DocumentRequest struct {
	Number         string          `json:"number"`
	PartnerID      string          `json:"partner_id" validate:"required"`
	Date           string          `json:"date"`
	Remark         string          `json:"remark"`
	AmountPaid     decimal.Decimal `json:"amount_paid"`
	AccountID      string          `json:"account_id"`
	PaymentMethod  string          `json:"payment_method" validate:"omitempty,oneof=cash bank upi cheque"`
	PaymentPending bool            `json:"payment_pending"`
	Lines          []LineRequest   `json:"lines" validate:"required,min=1,dive"`
}

type ReturnLineRequest struct {
	LotID        string          `json:"lot_id" validate:"required"`
	Quantity     decimal.Decimal `json:"quantity"`
	FreeQuantity decimal.Decimal `json:"free_quantity"`
}

type ReturnRequest struct {
	Number         string              `json:"number"`
	Date           string              `json:"date"`
	Remark         string              `json:"remark"`
	AmountPaid     decimal.Decimal     `json:"amount_paid"`
	AccountID      string              `json:"account_id"`
	PaymentMethod  string              `json:"payment_method" validate:"omitempty,oneof=cash bank upi cheque"`
	PaymentPending bool                `json:"payment_pending"`
	Lines          []ReturnLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (r DocumentRequest) toInput() (coordinator.DocumentInput, error) {
	date, err := parseTime("date", r.Date)
	if err != nil {
		return coordinator.DocumentInput{}, err
	}
	in := coordinator.DocumentInput{
		Number:         r.Number,
		PartnerID:      r.PartnerID,
		Date:           date,
		Remark:         r.Remark,
		AmountPaid:     r.AmountPaid,
		AccountID:      r.AccountID,
		PaymentMethod:  partner.Method(r.PaymentMethod),
		PaymentPending: r.PaymentPending,
		Lines:          make([]coordinator.LineInput, len(r.Lines)),
	}
	for i, l := range r.Lines {
		in.Lines[i] = coordinator.LineInput{
			ItemID:       l.ItemID,
			ItemName:     l.ItemName,
			Manufacturer: l.Manufacturer,
			HSN:          l.HSN,
			LotCode:      l.LotCode,
			Quantity:     l.Quantity,
			FreeQuantity: l.FreeQuantity,
			Pack:         l.Pack,
			Rate:         l.Rate,
			MRP:          l.MRP,
			Expiry:       l.Expiry,
			Discount:     l.Discount,
			GSTRate:      l.GSTRate,
			SubType:      document.SubType(l.SubType),
		}
	}
	return in, nil
}

func (r ReturnRequest) toInput() (coordinator.ReturnInput, error) {
	date, err := parseTime("date", r.Date)
	if err != nil {
		return coordinator.ReturnInput{}, err
	}
	in := coordinator.ReturnInput{
		Number:         r.Number,
		Date:           date,
		Remark:         r.Remark,
		AmountPaid:     r.AmountPaid,
		AccountID:      r.AccountID,
		PaymentMethod:  partner.Method(r.PaymentMethod),
		PaymentPending: r.PaymentPending,
		Lines:          make([]coordinator.ReturnLineInput, len(r.Lines)),
	}
	for i, l := range r.Lines {
		in.Lines[i] = coordinator.ReturnLineInput{LotID: l.LotID, Quantity: l.Quantity, FreeQuantity: l.FreeQuantity}
	}
	return in, nil
}

// =============================================================================
// STOCK REQUESTS
// =============================================================================

type AdjustmentRequest struct {
	ItemID   string          `json:"item_id" validate:"required"`
	LotCode  string          `json:"lot_code" validate:"required"`
	Quantity decimal.Decimal `json:"quantity"`
	Remark   string          `json:"remark"`
}

type ImportRowRequest struct {
	ItemID       string          `json:"item_id" validate:"required_without=ItemName"`
	ItemName     string          `json:"item_name"`
	Manufacturer string          `json:"manufacturer"`
	LotCode      string          `json:"lot_code" validate:"required"`
	Quantity     decimal.Decimal `json:"quantity"`
	Expiry       string          `json:"expiry"`
	MRP          decimal.Decimal `json:"mrp"`
	PurchaseRate decimal.Decimal `json:"purchase_rate"`
	SaleRate     decimal.Decimal `json:"sale_rate"`
	GSTRate      decimal.Decimal `json:"gst_rate"`
	PackSize     string          `json:"pack_size"`
	At           string          `json:"at"`
}

type ImportRequest struct {
	Remark string             `json:"remark"`
	Rows   []ImportRowRequest `json:"rows" validate:"required,min=1,dive"`
}

func (r ImportRequest) toInput() (coordinator.ImportInput, error) {
	in := coordinator.ImportInput{Remark: r.Remark, Rows: make([]coordinator.ImportRow, len(r.Rows))}
	for i, row := range r.Rows {
		at, err := parseTime("rows.at", row.At)
		if err != nil {
			return coordinator.ImportInput{}, err
		}
		in.Rows[i] = coordinator.ImportRow{
			ItemID:       row.ItemID,
			ItemName:     row.ItemName,
			Manufacturer: row.Manufacturer,
			LotCode:      row.LotCode,
			Quantity:     row.Quantity,
			Expiry:       row.Expiry,
			MRP:          row.MRP,
			PurchaseRate: row.PurchaseRate,
			SaleRate:     row.SaleRate,
			GSTRate:      row.GSTRate,
			PackSize:     row.PackSize,
			At:           at,
		}
	}
	return in, nil
}

// =============================================================================
// PARTNER AND PAYMENT REQUESTS
// =============================================================================

type PartnerRequest struct {
	ID    string `json:"id"`
	Kind  string `json:"kind" validate:"required,oneof=distributor customer"`
	Name  string `json:"name" validate:"required"`
	Phone string `json:"phone"`
}

type AccountRequest struct {
	ID      string          `json:"id"`
	Name    string          `json:"name" validate:"required"`
	Type    string          `json:"type" validate:"required,oneof=cash bank upi"`
	Opening decimal.Decimal `json:"opening"`
}

type PaymentRequest struct {
	PartnerID   string          `json:"partner_id" validate:"required"`
	AccountID   string          `json:"account_id" validate:"required"`
	Amount      decimal.Decimal `json:"amount"`
	Direction   string          `json:"direction" validate:"required,oneof=in out"`
	Method      string          `json:"method" validate:"omitempty,oneof=cash bank upi cheque"`
	Pending     bool            `json:"pending"`
	Reference   string          `json:"reference"`
	DocumentIDs []string        `json:"document_ids"`
}

// RepairRequest replays from From (RFC 3339 or YYYY-MM-DD); empty replays
// the full history.
type RepairRequest struct {
	From string `json:"from"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type LineDTO struct {
	ID              string          `json:"id"`
	Position        int             `json:"position"`
	ItemID          string          `json:"item_id"`
	ItemName        string          `json:"item_name,omitempty"`
	LotID           string          `json:"lot_id"`
	LotCode         string          `json:"lot_code"`
	Quantity        decimal.Decimal `json:"quantity"`
	FreeQuantity    decimal.Decimal `json:"free_quantity"`
	Pack            string          `json:"pack,omitempty"`
	Rate            decimal.Decimal `json:"rate"`
	MRP             decimal.Decimal `json:"mrp"`
	Expiry          string          `json:"expiry,omitempty"`
	Discount        decimal.Decimal `json:"discount"`
	GSTRate         decimal.Decimal `json:"gst_rate"`
	Amount          decimal.Decimal `json:"amount"`
	SubType         string          `json:"sub_type,omitempty"`
	TimelineEntryID string          `json:"timeline_entry_id,omitempty"`
}

type DocumentDTO struct {
	ID               string          `json:"id"`
	Kind             string          `json:"kind"`
	Number           string          `json:"number"`
	PartnerID        string          `json:"partner_id"`
	PartnerName      string          `json:"partner_name,omitempty"`
	Date             string          `json:"date"`
	Status           string          `json:"status"`
	GrandTotal       decimal.Decimal `json:"grand_total"`
	AmountPaid       decimal.Decimal `json:"amount_paid"`
	PaymentStatus    string          `json:"payment_status"`
	SourceDocumentID string          `json:"source_document_id,omitempty"`
	Remark           string          `json:"remark,omitempty"`
	Lines            []LineDTO       `json:"lines"`
	PaymentIDs       []string        `json:"payment_ids"`
	CreatedBy        string          `json:"created_by,omitempty"`
	CreatedAt        string          `json:"created_at"`
	UpdatedAt        string          `json:"updated_at"`
}

type EntryDTO struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Credit       decimal.Decimal `json:"credit"`
	Debit        decimal.Decimal `json:"debit"`
	Balance      decimal.Decimal `json:"balance"`
	LotID        string          `json:"lot_id,omitempty"`
	DocumentID   string          `json:"document_id,omitempty"`
	ActorID      string          `json:"actor_id,omitempty"`
	ActorName    string          `json:"actor_name,omitempty"`
	Counterparty string          `json:"counterparty,omitempty"`
	Remark       string          `json:"remark,omitempty"`
	CreatedAt    string          `json:"created_at"`
}

type PaymentDTO struct {
	ID          string          `json:"id"`
	PartnerID   string          `json:"partner_id"`
	AccountID   string          `json:"account_id"`
	Amount      decimal.Decimal `json:"amount"`
	Direction   string          `json:"direction"`
	Method      string          `json:"method"`
	Status      string          `json:"status"`
	Reference   string          `json:"reference,omitempty"`
	DocumentIDs []string        `json:"document_ids"`
	CreatedAt   string          `json:"created_at"`
}

// ResultDTO is returned by every document operation.
type ResultDTO struct {
	Document      *DocumentDTO `json:"document"`
	StockEntries  []EntryDTO   `json:"stock_entries"`
	LedgerEntries []EntryDTO   `json:"ledger_entries"`
	Payments      []PaymentDTO `json:"payments"`
}

type LotDTO struct {
	ID           string          `json:"id"`
	Code         string          `json:"code"`
	Quantity     decimal.Decimal `json:"quantity"`
	Expiry       string          `json:"expiry,omitempty"`
	Expired      bool            `json:"expired"`
	MRP          decimal.Decimal `json:"mrp"`
	PurchaseRate decimal.Decimal `json:"purchase_rate"`
	SaleRate     decimal.Decimal `json:"sale_rate"`
	Discount     decimal.Decimal `json:"discount"`
	PackSize     string          `json:"pack_size,omitempty"`
	GSTRate      decimal.Decimal `json:"gst_rate"`
}

type ItemDTO struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Manufacturer string          `json:"manufacturer,omitempty"`
	HSN          string          `json:"hsn,omitempty"`
	PackSize     string          `json:"pack_size,omitempty"`
	Quantity     decimal.Decimal `json:"quantity"`
	Placeholder  bool            `json:"placeholder"`
	Lots         []LotDTO        `json:"lots"`
	Sources      []string        `json:"sources"`
}

type PartnerDTO struct {
	ID             string          `json:"id"`
	Kind           string          `json:"kind"`
	Name           string          `json:"name"`
	Phone          string          `json:"phone,omitempty"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
}

type AccountDTO struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Type    string          `json:"type"`
	Balance decimal.Decimal `json:"balance"`
}

type ReplayDTO struct {
	Subject      string          `json:"subject"`
	Kind         string          `json:"kind"`
	From         string          `json:"from,omitempty"`
	Scanned      int             `json:"scanned"`
	Rewritten    int             `json:"rewritten"`
	FinalBalance decimal.Decimal `json:"final_balance"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Field   string `json:"field,omitempty"`
}

// ScenarioDTO describes a demo data set.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toDocumentDTO(d *document.Document) *DocumentDTO {
	if d == nil {
		return nil
	}
	dto := &DocumentDTO{
		ID:               d.ID,
		Kind:             string(d.Kind),
		Number:           d.Number,
		PartnerID:        d.PartnerID,
		PartnerName:      d.PartnerName,
		Date:             formatTime(d.Date),
		Status:           string(d.Status),
		GrandTotal:       d.GrandTotal,
		AmountPaid:       d.AmountPaid,
		PaymentStatus:    string(d.PaymentStatus),
		SourceDocumentID: d.SourceDocumentID,
		Remark:           d.Remark,
		Lines:            make([]LineDTO, len(d.Lines)),
		PaymentIDs:       append([]string{}, d.PaymentIDs...),
		CreatedBy:        d.CreatedBy,
		CreatedAt:        formatTime(d.CreatedAt),
		UpdatedAt:        formatTime(d.UpdatedAt),
	}
	for i, l := range d.Lines {
		dto.Lines[i] = LineDTO{
			ID:              l.ID,
			Position:        l.Position,
			ItemID:          l.ItemID,
			ItemName:        l.ItemName,
			LotID:           l.LotID,
			LotCode:         l.LotCode,
			Quantity:        l.Quantity,
			FreeQuantity:    l.FreeQuantity,
			Pack:            l.Pack,
			Rate:            l.Rate,
			MRP:             l.MRP,
			Expiry:          l.Expiry,
			Discount:        l.Discount,
			GSTRate:         l.GSTRate,
			Amount:          l.Amount,
			SubType:         string(l.SubType),
			TimelineEntryID: l.TimelineEntryID,
		}
	}
	return dto
}

func toEntryDTOs(entries []generic.Entry) []EntryDTO {
	out := make([]EntryDTO, len(entries))
	for i, e := range entries {
		out[i] = toEntryDTO(e)
	}
	return out
}

func toEntryDTO(e generic.Entry) EntryDTO {
	return EntryDTO{
		ID:           string(e.ID),
		Type:         string(e.Type),
		Credit:       e.Credit,
		Debit:        e.Debit,
		Balance:      e.Balance,
		LotID:        e.LotID,
		DocumentID:   e.DocumentID,
		ActorID:      e.ActorID,
		ActorName:    e.ActorName,
		Counterparty: e.Counterparty,
		Remark:       e.Remark,
		CreatedAt:    formatTime(e.CreatedAt),
	}
}

func toPaymentDTO(p partner.Payment) PaymentDTO {
	return PaymentDTO{
		ID:          p.ID,
		PartnerID:   p.PartnerID,
		AccountID:   p.AccountID,
		Amount:      p.Amount,
		Direction:   string(p.Direction),
		Method:      string(p.Method),
		Status:      string(p.Status),
		Reference:   p.Reference,
		DocumentIDs: append([]string{}, p.DocumentIDs...),
		CreatedAt:   formatTime(p.CreatedAt),
	}
}

func toResultDTO(res *coordinator.Result) ResultDTO {
	out := ResultDTO{
		Document:      toDocumentDTO(res.Document),
		StockEntries:  toEntryDTOs(res.StockEntries),
		LedgerEntries: toEntryDTOs(res.LedgerEntries),
		Payments:      make([]PaymentDTO, len(res.Payments)),
	}
	for i, p := range res.Payments {
		out.Payments[i] = toPaymentDTO(p)
	}
	return out
}

func toItemDTO(agg *inventory.Aggregate, now time.Time) ItemDTO {
	dto := ItemDTO{
		ID:           agg.Item.ID,
		Name:         agg.Item.Name,
		Manufacturer: agg.Item.Manufacturer,
		HSN:          agg.Item.HSN,
		PackSize:     agg.Item.PackSize,
		Quantity:     agg.Item.Quantity,
		Placeholder:  agg.Item.Placeholder,
		Lots:         make([]LotDTO, len(agg.Lots)),
		Sources:      append([]string{}, agg.Sources...),
	}
	for i, l := range agg.Lots {
		dto.Lots[i] = LotDTO{
			ID:           l.ID,
			Code:         l.Code,
			Quantity:     l.Quantity,
			Expiry:       l.Expiry,
			Expired:      generic.Expired(l.Expiry, now),
			MRP:          l.MRP,
			PurchaseRate: l.PurchaseRate,
			SaleRate:     l.SaleRate,
			Discount:     l.Discount,
			PackSize:     l.PackSize,
			GSTRate:      l.GSTRate,
		}
	}
	return dto
}

func toPartnerDTO(p *partner.Partner) PartnerDTO {
	return PartnerDTO{ID: p.ID, Kind: string(p.Kind), Name: p.Name, Phone: p.Phone, CurrentBalance: p.CurrentBalance}
}

func toAccountDTO(a *partner.Account) AccountDTO {
	return AccountDTO{ID: a.ID, Name: a.Name, Type: string(a.Type), Balance: a.Balance}
}

func toReplayDTO(r generic.ReplayResult) ReplayDTO {
	return ReplayDTO{
		Subject:      string(r.Subject.ID),
		Kind:         string(r.Subject.Kind),
		From:         formatTime(r.From),
		Scanned:      r.Scanned,
		Rewritten:    r.Rewritten,
		FinalBalance: r.FinalBalance,
	}
}

// parseTime reads an optional request time; empty means "now" to the
// coordinator.
func parseTime(field, s string) (time.Time, error) {
	tp, err := generic.ParseTimePoint(s)
	if err != nil {
		return time.Time{}, generic.NewValidationError(field, err.Error())
	}
	return tp.Time, nil
}
