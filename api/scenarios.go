/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate a tenant with realistic
	pharmacy data for demos. Each scenario drives the coordinator through
	the same calls the API makes, so the ledgers it leaves behind are
	consistent by construction.

AVAILABLE SCENARIOS:

	pharmacy-week:     purchases, a partly paid sale, an edit, a return, a payment
	backdated-import:  opening stock imported after trading started (replay)
	oversell:          a sale larger than stock is rejected and writes nothing

HOW SCENARIOS WORK:
 1. Create a distributor, a customer and a cash account (generated IDs)
 2. Run the scenario's operations in order
 3. Report each step with the document or error it produced

USAGE VIA API:

	POST /api/scenarios
	X-Tenant-ID: demo-1
	{"scenario_id": "pharmacy-week"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx, run)
 3. Add case to LoadScenario handler

NOTE:

	Scenarios never reset data. Load them into a fresh tenant.

SEE ALSO:
  - handlers.go: the endpoints the scenarios mirror
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/stock-ledger/coordinator"
	"github.com/warp/stock-ledger/generic"
	"github.com/warp/stock-ledger/partner"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "pharmacy-week",
		Name:        "Pharmacy Week",
		Description: "Two purchases, a partly paid sale that is later edited, a purchase return and a supplier payment",
	},
	{
		ID:          "backdated-import",
		Name:        "Backdated Import",
		Description: "Opening stock imported with an earlier date than existing purchases; later balances are replayed",
	},
	{
		ID:          "oversell",
		Name:        "Oversell",
		Description: "A sale for more than the lot holds is rejected and leaves every ledger untouched",
	},
}

// ScenarioStep is one operation of a loaded scenario.
type ScenarioStep struct {
	Step       string `json:"step"`
	DocumentID string `json:"document_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ScenarioReport is returned by LoadScenario.
type ScenarioReport struct {
	Scenario      string         `json:"scenario"`
	DistributorID string         `json:"distributor_id"`
	CustomerID    string         `json:"customer_id"`
	AccountID     string         `json:"account_id"`
	Steps         []ScenarioStep `json:"steps"`
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the scenario last loaded into the tenant, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	sc, err := scope(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.mu.Lock()
	current := h.scenarios[sc.Tenant]
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario loads a predefined scenario into the request's tenant.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	sc, err := scope(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	var req struct {
		ScenarioID string `json:"scenario_id" validate:"required"`
	}
	if err := h.decode(r, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if sc.Actor.ID == "" {
		sc.Actor = generic.Actor{ID: "scenario", Name: "Scenario loader"}
	}

	ctx := r.Context()
	var load func(context.Context, *scenarioRun) error
	switch req.ScenarioID {
	case "pharmacy-week":
		load = h.loadPharmacyWeekScenario
	case "backdated-import":
		load = h.loadBackdatedImportScenario
	case "oversell":
		load = h.loadOversellScenario
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	run, err := h.newScenarioRun(ctx, sc, req.ScenarioID)
	if err == nil {
		err = load(ctx, run)
	}
	if err != nil {
		h.writeDomainError(w, r, fmt.Errorf("load scenario %s: %w", req.ScenarioID, err))
		return
	}

	h.mu.Lock()
	h.scenarios[sc.Tenant] = req.ScenarioID
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, run.report)
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

type scenarioRun struct {
	sc     generic.Scope
	report *ScenarioReport
	day    time.Time
}

func (h *Handler) newScenarioRun(ctx context.Context, sc generic.Scope, id string) (*scenarioRun, error) {
	dist, err := h.Coord.CreatePartner(ctx, sc, coordinator.PartnerInput{Kind: partner.KindDistributor, Name: "Shree Medical Agencies"})
	if err != nil {
		return nil, err
	}
	cust, err := h.Coord.CreatePartner(ctx, sc, coordinator.PartnerInput{Kind: partner.KindCustomer, Name: "Green Valley Clinic"})
	if err != nil {
		return nil, err
	}
	acct, err := h.Coord.CreateAccount(ctx, sc, coordinator.AccountInput{Name: "Counter cash", Type: partner.AccountCash, Opening: decimal.NewFromInt(5000)})
	if err != nil {
		return nil, err
	}
	return &scenarioRun{
		sc:  sc,
		day: h.now().UTC().Truncate(24 * time.Hour),
		report: &ScenarioReport{
			Scenario:      id,
			DistributorID: dist.ID,
			CustomerID:    cust.ID,
			AccountID:     acct.ID,
		},
	}, nil
}

func (run *scenarioRun) record(step string, res *coordinator.Result, err error) {
	s := ScenarioStep{Step: step}
	if res != nil && res.Document != nil {
		s.DocumentID = res.Document.ID
	}
	if err != nil {
		s.Error = err.Error()
	}
	run.report.Steps = append(run.report.Steps, s)
}

func scenarioLine(itemID, name, lot string, qty, rate int64) coordinator.LineInput {
	return coordinator.LineInput{
		ItemID:   itemID,
		ItemName: name,
		LotCode:  lot,
		Quantity: decimal.NewFromInt(qty),
		Rate:     decimal.NewFromInt(rate),
		MRP:      decimal.NewFromInt(rate * 3 / 2),
		Expiry:   "2027-06",
		GSTRate:  decimal.NewFromInt(12),
	}
}

func (h *Handler) loadPharmacyWeekScenario(ctx context.Context, run *scenarioRun) error {
	rep := run.report

	p1, err := h.Coord.CreatePurchase(ctx, run.sc, coordinator.DocumentInput{
		Number:     "PI-1001",
		PartnerID:  rep.DistributorID,
		Date:       run.day.AddDate(0, 0, -6),
		AmountPaid: decimal.NewFromInt(500),
		AccountID:  rep.AccountID,
		Lines: []coordinator.LineInput{
			scenarioLine("para-500", "Paracetamol 500mg", "PCM24A", 200, 2),
			scenarioLine("amox-250", "Amoxicillin 250mg", "AMX11", 60, 8),
		},
	})
	run.record("purchase PI-1001", p1, err)
	if err != nil {
		return err
	}

	p2, err := h.Coord.CreatePurchase(ctx, run.sc, coordinator.DocumentInput{
		Number:    "PI-1002",
		PartnerID: rep.DistributorID,
		Date:      run.day.AddDate(0, 0, -5),
		Lines:     []coordinator.LineInput{scenarioLine("cetz-10", "Cetirizine 10mg", "CTZ03", 100, 1)},
	})
	run.record("purchase PI-1002", p2, err)
	if err != nil {
		return err
	}

	saleLines := []coordinator.LineInput{
		scenarioLine("para-500", "", "PCM24A", 30, 3),
		scenarioLine("cetz-10", "", "CTZ03", 10, 2),
	}
	s1, err := h.Coord.CreateSale(ctx, run.sc, coordinator.DocumentInput{
		Number:     "SB-2001",
		PartnerID:  rep.CustomerID,
		Date:       run.day.AddDate(0, 0, -3),
		AmountPaid: decimal.NewFromInt(50),
		AccountID:  rep.AccountID,
		Lines:      saleLines,
	})
	run.record("sale SB-2001", s1, err)
	if err != nil {
		return err
	}

	// The customer takes 40 paracetamol instead of 30 and drops the cetirizine.
	edited, err := h.Coord.EditSale(ctx, run.sc, s1.Document.ID, coordinator.DocumentInput{
		Number:     "SB-2001",
		PartnerID:  rep.CustomerID,
		AmountPaid: decimal.NewFromInt(50),
		AccountID:  rep.AccountID,
		Lines:      []coordinator.LineInput{scenarioLine("para-500", "", "PCM24A", 40, 3)},
	})
	run.record("edit SB-2001", edited, err)
	if err != nil {
		return err
	}

	ret, err := h.Coord.CreatePurchaseReturn(ctx, run.sc, p2.Document.ID, coordinator.ReturnInput{
		Number: "PR-3001",
		Remark: "damaged strips",
		Lines:  []coordinator.ReturnLineInput{{LotID: p2.Document.Lines[0].LotID, Quantity: decimal.NewFromInt(20)}},
	})
	run.record("purchase return PR-3001", ret, err)
	if err != nil {
		return err
	}

	pay, err := h.Coord.RecordPayment(ctx, run.sc, coordinator.PaymentInput{
		PartnerID:   rep.DistributorID,
		AccountID:   rep.AccountID,
		Amount:      decimal.NewFromInt(300),
		Direction:   partner.DirectionOut,
		Method:      partner.MethodBank,
		Reference:   "NEFT 88213",
		DocumentIDs: []string{p1.Document.ID},
	})
	run.record("payment to distributor", pay, err)
	return err
}

func (h *Handler) loadBackdatedImportScenario(ctx context.Context, run *scenarioRun) error {
	rep := run.report

	p, err := h.Coord.CreatePurchase(ctx, run.sc, coordinator.DocumentInput{
		Number:    "PI-1101",
		PartnerID: rep.DistributorID,
		Date:      run.day.AddDate(0, 0, -2),
		Lines:     []coordinator.LineInput{scenarioLine("ors-sach", "ORS Sachet", "ORS7", 50, 1)},
	})
	run.record("purchase PI-1101", p, err)
	if err != nil {
		return err
	}

	_, err = h.Coord.ImportStock(ctx, run.sc, coordinator.ImportInput{
		Remark: "opening stock",
		Rows: []coordinator.ImportRow{{
			ItemID:       "ors-sach",
			LotCode:      "ORS6",
			Quantity:     decimal.NewFromInt(25),
			Expiry:       "2026-12",
			PurchaseRate: decimal.NewFromInt(1),
			At:           run.day.AddDate(0, -1, 0),
		}},
	})
	run.record("import opening stock a month back", nil, err)
	return err
}

func (h *Handler) loadOversellScenario(ctx context.Context, run *scenarioRun) error {
	rep := run.report

	p, err := h.Coord.CreatePurchase(ctx, run.sc, coordinator.DocumentInput{
		Number:    "PI-1201",
		PartnerID: rep.DistributorID,
		Lines:     []coordinator.LineInput{scenarioLine("insulin-r", "Insulin R", "INS2", 5, 120)},
	})
	run.record("purchase PI-1201", p, err)
	if err != nil {
		return err
	}

	s, err := h.Coord.CreateSale(ctx, run.sc, coordinator.DocumentInput{
		Number:    "SB-2201",
		PartnerID: rep.CustomerID,
		Lines:     []coordinator.LineInput{scenarioLine("insulin-r", "", "INS2", 8, 150)},
	})
	run.record("sale SB-2201 for 8 of 5", s, err)
	if err != nil && !generic.IsClientError(err) {
		return err
	}
	return nil
}
