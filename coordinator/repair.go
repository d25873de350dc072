package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/warp/stock-ledger/document"
	"github.com/warp/stock-ledger/generic"
	"github.com/warp/stock-ledger/inventory"
	"github.com/warp/stock-ledger/partner"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// REPAIR - replay under the subject lock
// =============================================================================

// RepairItem replays the item's timeline from `from` and reconciles its
// cached quantity. A zero from replays everything.
func (c *Coordinator) RepairItem(ctx context.Context, scope generic.Scope, itemID string, from time.Time) (generic.ReplayResult, error) {
	var out generic.ReplayResult
	err := c.exec(ctx, scope, "repair_item", itemKeys(scope.Tenant, itemID), func(u *unit) error {
		var err error
		out, err = u.stock.Repair(ctx, scope.Tenant, itemID, from)
		return err
	})
	return out, err
}

func (c *Coordinator) RepairPartner(ctx context.Context, scope generic.Scope, partnerID string, from time.Time) (generic.ReplayResult, error) {
	var out generic.ReplayResult
	err := c.exec(ctx, scope, "repair_partner", partnerKeys(scope.Tenant, partnerID), func(u *unit) error {
		var err error
		out, err = u.books.Repair(ctx, scope.Tenant, partnerID, from)
		return err
	})
	return out, err
}

// TenantRepair collects per-subject replay results.
type TenantRepair struct {
	Results []generic.ReplayResult
}

// Rewritten is the number of balances changed across all subjects.
func (r TenantRepair) Rewritten() int {
	n := 0
	for _, res := range r.Results {
		n += res.Rewritten
	}
	return n
}

// RepairTenant repairs every item and partner of the tenant with at most
// `workers` subjects in flight. Each subject is its own scope and lock.
func (c *Coordinator) RepairTenant(ctx context.Context, scope generic.Scope, from time.Time, workers int) (*TenantRepair, error) {
	var items, partners []string
	err := c.read(ctx, scope, func(u *unit) error {
		var err error
		if items, err = u.repo.ListItemIDs(ctx, scope.Tenant); err != nil {
			return err
		}
		partners, err = u.repo.ListPartnerIDs(ctx, scope.Tenant)
		return err
	})
	if err != nil {
		return nil, err
	}

	if workers < 1 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var mu sync.Mutex
	out := &TenantRepair{}
	collect := func(res generic.ReplayResult) {
		mu.Lock()
		defer mu.Unlock()
		out.Results = append(out.Results, res)
	}

	for _, id := range items {
		id := id
		g.Go(func() error {
			res, err := c.RepairItem(gctx, scope, id, from)
			if err != nil {
				return fmt.Errorf("repair item %s: %w", id, err)
			}
			collect(res)
			return nil
		})
	}
	for _, id := range partners {
		id := id
		g.Go(func() error {
			res, err := c.RepairPartner(gctx, scope, id, from)
			if err != nil {
				return fmt.Errorf("repair partner %s: %w", id, err)
			}
			collect(res)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}
	return out, nil
}

// =============================================================================
// VERIFY
// =============================================================================

// VerifyItem checks quantity == Σlots == last timeline balance and every
// stored running balance.
func (c *Coordinator) VerifyItem(ctx context.Context, scope generic.Scope, itemID string) error {
	return c.read(ctx, scope, func(u *unit) error {
		return u.stock.Verify(ctx, scope.Tenant, itemID)
	})
}

func (c *Coordinator) VerifyPartner(ctx context.Context, scope generic.Scope, partnerID string) error {
	return c.read(ctx, scope, func(u *unit) error {
		return u.books.Verify(ctx, scope.Tenant, partnerID)
	})
}

// =============================================================================
// READS
// =============================================================================

func (c *Coordinator) GetDocument(ctx context.Context, scope generic.Scope, id string) (*document.Document, error) {
	var out *document.Document
	err := c.read(ctx, scope, func(u *unit) error {
		var err error
		out, err = u.document(ctx, id)
		return err
	})
	return out, err
}

func (c *Coordinator) GetItem(ctx context.Context, scope generic.Scope, id string) (*inventory.Aggregate, error) {
	var out *inventory.Aggregate
	err := c.read(ctx, scope, func(u *unit) error {
		var err error
		out, err = u.stock.Load(ctx, scope.Tenant, id)
		return err
	})
	return out, err
}

func (c *Coordinator) ItemTimeline(ctx context.Context, scope generic.Scope, id string) ([]generic.Entry, error) {
	var out []generic.Entry
	err := c.read(ctx, scope, func(u *unit) error {
		if _, err := u.stock.GetItem(ctx, scope.Tenant, id); err != nil {
			return err
		}
		var err error
		out, err = u.stock.Timeline(ctx, scope.Tenant, id)
		return err
	})
	return out, err
}

func (c *Coordinator) GetPartner(ctx context.Context, scope generic.Scope, id string) (*partner.Partner, error) {
	var out *partner.Partner
	err := c.read(ctx, scope, func(u *unit) error {
		var err error
		out, err = u.books.GetPartner(ctx, scope.Tenant, id)
		return err
	})
	return out, err
}

func (c *Coordinator) PartnerLedger(ctx context.Context, scope generic.Scope, id string) ([]generic.Entry, error) {
	var out []generic.Entry
	err := c.read(ctx, scope, func(u *unit) error {
		if _, err := u.books.GetPartner(ctx, scope.Tenant, id); err != nil {
			return err
		}
		var err error
		out, err = u.books.Ledger(ctx, scope.Tenant, id)
		return err
	})
	return out, err
}

func (c *Coordinator) GetAccount(ctx context.Context, scope generic.Scope, id string) (*partner.Account, error) {
	var out *partner.Account
	err := c.read(ctx, scope, func(u *unit) error {
		var err error
		out, err = u.books.GetAccount(ctx, scope.Tenant, id)
		return err
	})
	return out, err
}

func (c *Coordinator) GetPayment(ctx context.Context, scope generic.Scope, id string) (*partner.Payment, error) {
	var out *partner.Payment
	err := c.read(ctx, scope, func(u *unit) error {
		var err error
		out, err = u.books.GetPayment(ctx, scope.Tenant, id)
		return err
	})
	return out, err
}
