/*
handlers.go - HTTP API handlers for the stock and partner ledger

PURPOSE:
  Exposes the coordinator via REST API. Handles HTTP request/response,
  JSON serialization, and delegates every mutation to one coordinator call.

ENDPOINTS:
  Documents:
    POST   /api/purchases                  Create purchase invoice
    PUT    /api/purchases/{id}             Edit (full desired state)
    DELETE /api/purchases/{id}             Delete
    POST   /api/purchases/{id}/returns     Return goods to the distributor
    (same four for /api/sales)
    GET    /api/documents/{id}             Any document with its lines

  Inventory:
    POST   /api/inventory/adjustments      Signed manual adjustment
    POST   /api/inventory/import           Historical (possibly backdated) stock
    GET    /api/inventory/items/{id}       Item + lots + source documents
    GET    /api/inventory/items/{id}/timeline
    POST   /api/inventory/items/{id}/repair

  Partners and money:
    POST   /api/partners                   Create distributor/customer
    GET    /api/partners/{id}
    GET    /api/partners/{id}/ledger
    POST   /api/partners/{id}/repair
    POST   /api/accounts, GET /api/accounts/{id}
    POST   /api/payments                   Standalone payment
    GET    /api/payments/{id}
    POST   /api/payments/{id}/settle       Complete a PENDING payment

  Admin:
    POST   /api/admin/repair               Replay every subject of the tenant

REQUEST SCOPE:
  X-Tenant-ID is required on every /api call. X-Actor-ID and X-Actor-Name
  are stamped on every entry written.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Item, lot, document, partner, account or payment not found
  - 409: Insufficient stock, or document in the wrong state
  - 423: Subject lock not obtained
  - 500: Consistency violations and internal errors

SECURITY NOTE:
  No authentication. The tenant header is trusted as sent.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/warp/stock-ledger/coordinator"
	"github.com/warp/stock-ledger/generic"
	"github.com/warp/stock-ledger/partner"
	"go.uber.org/zap"
)

const (
	HeaderTenant    = "X-Tenant-ID"
	HeaderActorID   = "X-Actor-ID"
	HeaderActorName = "X-Actor-Name"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Coord *coordinator.Coordinator
	Log   *zap.Logger

	validate *validator.Validate
	now      func() time.Time

	// Track the scenario last loaded per tenant
	mu        sync.Mutex
	scenarios map[generic.TenantID]string
}

// NewHandler creates a new handler around the coordinator.
func NewHandler(coord *coordinator.Coordinator, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		Coord:     coord,
		Log:       log,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		now:       time.Now,
		scenarios: make(map[generic.TenantID]string),
	}
}

// scope reads tenant and actor from the request headers.
func scope(r *http.Request) (generic.Scope, error) {
	tenant := r.Header.Get(HeaderTenant)
	if tenant == "" {
		return generic.Scope{}, generic.NewValidationError("tenant", HeaderTenant+" header is required")
	}
	if len(tenant) > 64 {
		return generic.Scope{}, generic.NewValidationError("tenant", "at most 64 characters")
	}
	return generic.Scope{
		Tenant: generic.TenantID(tenant),
		Actor:  generic.Actor{ID: r.Header.Get(HeaderActorID), Name: r.Header.Get(HeaderActorName)},
	}, nil
}

// decode reads the JSON body into v and runs its validate tags.
func (h *Handler) decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return generic.NewValidationError("body", err.Error())
	}
	if err := h.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return generic.NewValidationError(fe.Namespace(), "failed "+fe.Tag())
		}
		return generic.NewValidationError("body", err.Error())
	}
	return nil
}

// =============================================================================
// DOCUMENT HANDLERS
// =============================================================================

type (
	createFunc func(context.Context, generic.Scope, coordinator.DocumentInput) (*coordinator.Result, error)
	editFunc   func(context.Context, generic.Scope, string, coordinator.DocumentInput) (*coordinator.Result, error)
	deleteFunc func(context.Context, generic.Scope, string) (*coordinator.Result, error)
	returnFunc func(context.Context, generic.Scope, string, coordinator.ReturnInput) (*coordinator.Result, error)
)

func (h *Handler) CreatePurchase(w http.ResponseWriter, r *http.Request) {
	h.createDocument(w, r, h.Coord.CreatePurchase)
}

func (h *Handler) EditPurchase(w http.ResponseWriter, r *http.Request) {
	h.editDocument(w, r, h.Coord.EditPurchase)
}

func (h *Handler) DeletePurchase(w http.ResponseWriter, r *http.Request) {
	h.deleteDocument(w, r, h.Coord.DeletePurchase)
}

func (h *Handler) CreatePurchaseReturn(w http.ResponseWriter, r *http.Request) {
	h.createReturn(w, r, h.Coord.CreatePurchaseReturn)
}

func (h *Handler) CreateSale(w http.ResponseWriter, r *http.Request) {
	h.createDocument(w, r, h.Coord.CreateSale)
}

func (h *Handler) EditSale(w http.ResponseWriter, r *http.Request) {
	h.editDocument(w, r, h.Coord.EditSale)
}

func (h *Handler) DeleteSale(w http.ResponseWriter, r *http.Request) {
	h.deleteDocument(w, r, h.Coord.DeleteSale)
}

func (h *Handler) CreateSaleReturn(w http.ResponseWriter, r *http.Request) {
	h.createReturn(w, r, h.Coord.CreateSaleReturn)
}

func (h *Handler) createDocument(w http.ResponseWriter, r *http.Request, fn createFunc) {
	sc, in, ok := h.documentRequest(w, r)
	if !ok {
		return
	}
	res, err := fn(r.Context(), sc, in)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toResultDTO(res))
}

func (h *Handler) editDocument(w http.ResponseWriter, r *http.Request, fn editFunc) {
	sc, in, ok := h.documentRequest(w, r)
	if !ok {
		return
	}
	res, err := fn(r.Context(), sc, chi.URLParam(r, "id"), in)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResultDTO(res))
}

func (h *Handler) deleteDocument(w http.ResponseWriter, r *http.Request, fn deleteFunc) {
	sc, err := scope(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	res, err := fn(r.Context(), sc, chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResultDTO(res))
}

func (h *Handler) createReturn(w http.ResponseWriter, r *http.Request, fn returnFunc) {
	sc, err := scope(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	var req ReturnRequest
	if err := h.decode(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	in, err := req.toInput()
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	res, err := fn(r.Context(), sc, chi.URLParam(r, "id"), in)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toResultDTO(res))
}

func (h *Handler) documentRequest(w http.ResponseWriter, r *http.Request) (generic.Scope, coordinator.DocumentInput, bool) {
	sc, err := scope(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return sc, coordinator.DocumentInput{}, false
	}
	var req DocumentRequest
	if err := h.decode(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return sc, coordinator.DocumentInput{}, false
	}
	in, err := req.toInput()
	if err != nil {
		h.writeDomainError(w, r, err)
		return sc, coordinator.DocumentInput{}, false
	}
	return sc, in, true
}

// GetDocument returns any document with its lines.
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	sc, err := scope(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	doc, err := h.Coord.GetDocument(r.Context(), sc, chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDocumentDTO(doc))
}

// =============================================================================
// INVENTORY HANDLERS
// =============================================================================

func (h *Handler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	sc, err := scope(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	var req AdjustmentRequest
	if err := h.decode(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	entry, err := h.Coord.AdjustStock(r.Context(), sc, coordinator.AdjustmentInput{
		ItemID:   req.ItemID,
		LotCode:  req.LotCode,
		Quantity: req.Quantity,
		Remark:   req.Remark,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryDTO(*entry))
}

func (h *Handler) ImportStock(w http.ResponseWriter, r *http.Request) {
	sc, err := scope(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	var req ImportRequest
	if err := h.decode(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	in, err := req.toInput()
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	res, err := h.Coord.ImportStock(r.Context(), sc, in)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"entries": toEntryDTOs(res.Entries)})
}

func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	sc, err := scope(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	agg, err := h.Coord.GetItem(r.Context(), sc, chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toItemDTO(agg, h.now()))
}

func (h *Handler) GetItemTimeline(w http.ResponseWriter, r *http.Request) {
	sc, err := scope(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	entries, err := h.Coord.ItemTimeline(r.Context(), sc, chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTOs(entries))
}

func (h *Handler) RepairItem(w http.ResponseWriter, r *http.Request) {
	h.repairSubject(w, r, h.Coord.RepairItem)
}

// =============================================================================
// PARTNER, ACCOUNT AND PAYMENT HANDLERS
// =============================================================================

func (h *Handler) CreatePartner(w http.ResponseWriter, r *http.Request) {
	sc, err := scope(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	var req PartnerRequest
	if err := h.decode(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	p, err := h.Coord.CreatePartner(r.Context(), sc, coordinator.PartnerInput{
		ID:    req.ID,
		Kind:  partner.Kind(req.Kind),
		Name:  req.Name,
		Phone: req.Phone,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPartnerDTO(p))
}

func (h *Handler) GetPartner(w http.ResponseWriter, r *http.Request) {
	sc, err := scope(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	p, err := h.Coord.GetPartner(r.Context(), sc, chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPartnerDTO(p))
}

func (h *Handler) GetPartnerLedger(w http.ResponseWriter, r *http.Request) {
	sc, err := scope(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	entries, err := h.Coord.PartnerLedger(r.Context(), sc, chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTOs(entries))
}

func (h *Handler) RepairPartner(w http.ResponseWriter, r *http.Request) {
	h.repairSubject(w, r, h.Coord.RepairPartner)
}

func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	sc, err := scope(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	var req AccountRequest
	if err := h.decode(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	a, err := h.Coord.CreateAccount(r.Context(), sc, coordinator.AccountInput{
		ID:      req.ID,
		Name:    req.Name,
		Type:    partner.AccountType(req.Type),
		Opening: req.Opening,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountDTO(a))
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	sc, err := scope(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	a, err := h.Coord.GetAccount(r.Context(), sc, chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(a))
}

func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	sc, err := scope(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	var req PaymentRequest
	if err := h.decode(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	res, err := h.Coord.RecordPayment(r.Context(), sc, coordinator.PaymentInput{
		PartnerID:   req.PartnerID,
		AccountID:   req.AccountID,
		Amount:      req.Amount,
		Direction:   partner.Direction(req.Direction),
		Method:      partner.Method(req.Method),
		Pending:     req.Pending,
		Reference:   req.Reference,
		DocumentIDs: req.DocumentIDs,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toResultDTO(res))
}

func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	sc, err := scope(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	pay, err := h.Coord.GetPayment(r.Context(), sc, chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(*pay))
}

func (h *Handler) SettlePayment(w http.ResponseWriter, r *http.Request) {
	sc, err := scope(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	pay, err := h.Coord.SettlePayment(r.Context(), sc, chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(*pay))
}

// =============================================================================
// REPAIR HANDLERS
// =============================================================================

type repairFunc func(context.Context, generic.Scope, string, time.Time) (generic.ReplayResult, error)

func (h *Handler) repairSubject(w http.ResponseWriter, r *http.Request, fn repairFunc) {
	sc, from, ok := h.repairRequest(w, r)
	if !ok {
		return
	}
	res, err := fn(r.Context(), sc, chi.URLParam(r, "id"), from)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReplayDTO(res))
}

// RepairTenant replays every item and partner. ?workers=N bounds the fan-out.
func (h *Handler) RepairTenant(w http.ResponseWriter, r *http.Request) {
	sc, from, ok := h.repairRequest(w, r)
	if !ok {
		return
	}
	workers := 4
	if s := r.URL.Query().Get("workers"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			h.writeDomainError(w, r, generic.NewValidationError("workers", "must be a positive integer"))
			return
		}
		workers = n
	}
	res, err := h.Coord.RepairTenant(r.Context(), sc, from, workers)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	results := make([]ReplayDTO, len(res.Results))
	for i, rr := range res.Results {
		results[i] = toReplayDTO(rr)
	}
	writeJSON(w, http.StatusOK, map[string]any{"rewritten": res.Rewritten(), "results": results})
}

// repairRequest accepts an empty body as "replay everything".
func (h *Handler) repairRequest(w http.ResponseWriter, r *http.Request) (generic.Scope, time.Time, bool) {
	sc, err := scope(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return sc, time.Time{}, false
	}
	var req RepairRequest
	if r.ContentLength != 0 {
		if err := h.decode(r, &req); err != nil {
			h.writeDomainError(w, r, err)
			return sc, time.Time{}, false
		}
	}
	from, err := parseTime("from", req.From)
	if err != nil {
		h.writeDomainError(w, r, err)
		return sc, time.Time{}, false
	}
	return sc, from, true
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	var ve *generic.ValidationError
	if errors.As(err, &ve) {
		resp.Field = ve.Field
	}
	writeJSON(w, status, resp)
}

// statusFor maps the engine's error taxonomy to HTTP.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, generic.ErrValidation):
		return http.StatusBadRequest, "Invalid request"
	case errors.Is(err, generic.ErrNotFound):
		return http.StatusNotFound, "Not found"
	case errors.Is(err, generic.ErrInsufficientStock):
		return http.StatusConflict, "Insufficient stock"
	case errors.Is(err, generic.ErrInvalidState):
		return http.StatusConflict, "Invalid document state"
	case errors.Is(err, generic.ErrLockNotObtained):
		return http.StatusLocked, "Subject is busy, retry"
	case errors.Is(err, generic.ErrConsistency):
		return http.StatusInternalServerError, "Ledger consistency violated"
	default:
		return http.StatusInternalServerError, "Internal error"
	}
}

func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("tenant", r.Header.Get(HeaderTenant)),
			zap.Error(err))
	}
	writeError(w, status, message, err)
}
