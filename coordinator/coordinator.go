/*
Package coordinator runs business operations as single atomic units.

PURPOSE:
  A purchase, sale, return, edit or delete touches the document, several
  item/lot pairs, their timelines, the partner balance and ledger, and
  possibly a payment and an account. The coordinator opens one store scope
  for all of it: either every write commits or none does.

FLOW (every write operation):
  1. validate input                      → ValidationError, nothing touched
  2. compute lock keys (peek at stored document for edits/deletes)
  3. acquire advisory locks, sorted
  4. store.WithTx:
       resolve items/lots/partner        → NotFoundError
       check document status             → InvalidStateError
       reconcile.Diff + pre-flight       → InsufficientStockError
       apply ops through inventory.Stock and partner.Books
       validate lots for non-strict flows
       save the document
  5. release locks, log the outcome

LOCK COVERAGE:
  Every item or partner the scope loads must be covered by a held lock. If
  the stored document changed between the peek and the scope, the scope
  aborts with the missing keys and the operation retries with the larger
  key set.

SEE ALSO:
  - reconcile/: the pure diff engine
  - lock/: advisory locks
  - store/: the transactional boundary
*/
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/stock-ledger/document"
	"github.com/warp/stock-ledger/generic"
	"github.com/warp/stock-ledger/inventory"
	"github.com/warp/stock-ledger/lock"
	"github.com/warp/stock-ledger/partner"
	"github.com/warp/stock-ledger/store"
	"go.uber.org/zap"
)

const maxLockAttempts = 3

// Coordinator is safe for concurrent use.
type Coordinator struct {
	store    store.TxStore
	locker   lock.Locker
	log      *zap.Logger
	validate *validator.Validate

	allowPlaceholders bool
	now               func() time.Time
}

type Option func(*Coordinator)

func WithLocker(l lock.Locker) Option { return func(c *Coordinator) { c.locker = l } }

func WithLogger(l *zap.Logger) Option { return func(c *Coordinator) { c.log = l } }

func WithClock(now func() time.Time) Option { return func(c *Coordinator) { c.now = now } }

// WithPlaceholderItems controls whether purchases may create unknown items.
func WithPlaceholderItems(allow bool) Option {
	return func(c *Coordinator) { c.allowPlaceholders = allow }
}

func New(st store.TxStore, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:             st,
		locker:            lock.NewLocal(),
		log:               zap.NewNop(),
		validate:          validator.New(validator.WithRequiredStructEnabled()),
		allowPlaceholders: true,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Result is what every document operation returns.
type Result struct {
	Document *document.Document

	// StockEntries and LedgerEntries are the entries this operation wrote.
	StockEntries  []generic.Entry
	LedgerEntries []generic.Entry

	Payments []partner.Payment
}

// =============================================================================
// EXECUTION - locks + one store scope
// =============================================================================

// needLocks aborts a scope that reached a subject outside the held key set.
type needLocks struct{ keys []string }

func (e *needLocks) Error() string {
	return "coordinator: scope needs locks " + strings.Join(e.keys, ",")
}

func (c *Coordinator) exec(ctx context.Context, scope generic.Scope, op string, keys []string, fn func(u *unit) error) error {
	start := time.Now()
	err := c.execLocked(ctx, scope, keys, fn)
	c.logOutcome(scope, op, start, err)
	return err
}

func (c *Coordinator) execLocked(ctx context.Context, scope generic.Scope, keys []string, fn func(u *unit) error) error {
	if err := checkScope(scope); err != nil {
		return err
	}
	for attempt := 0; attempt < maxLockAttempts; attempt++ {
		release, err := c.locker.Acquire(ctx, keys...)
		if err != nil {
			return err
		}
		err = c.store.WithTx(ctx, func(repo store.Repository) error {
			return fn(c.newUnit(repo, scope, keys))
		})
		if rerr := release(context.WithoutCancel(ctx)); rerr != nil {
			c.log.Warn("lock release failed", zap.Error(rerr))
		}

		var more *needLocks
		if errors.As(err, &more) {
			keys = append(keys, more.keys...)
			continue
		}
		return err
	}
	return fmt.Errorf("%w: subject set kept changing", generic.ErrLockNotObtained)
}

// read runs fn in a scope without taking locks.
func (c *Coordinator) read(ctx context.Context, scope generic.Scope, fn func(u *unit) error) error {
	if err := checkScope(scope); err != nil {
		return err
	}
	return c.store.WithTx(ctx, func(repo store.Repository) error {
		u := c.newUnit(repo, scope, nil)
		u.readOnly = true
		return fn(u)
	})
}

func checkScope(scope generic.Scope) error {
	if scope.Tenant == "" {
		return generic.NewValidationError("tenant", "required")
	}
	return nil
}

func (c *Coordinator) logOutcome(scope generic.Scope, op string, start time.Time, err error) {
	fields := []zap.Field{
		zap.String("op", op),
		zap.String("tenant", string(scope.Tenant)),
		zap.String("actor", scope.Actor.ID),
		zap.Duration("elapsed", time.Since(start)),
	}
	switch {
	case err == nil:
		c.log.Info("operation committed", fields...)
	case generic.IsClientError(err), generic.IsNotFound(err), errors.Is(err, generic.ErrLockNotObtained):
		c.log.Warn("operation rejected", append(fields, zap.Error(err))...)
	default:
		c.log.Error("operation aborted", append(fields, zap.Error(err))...)
	}
}

// =============================================================================
// UNIT - per-scope state shared by one operation
// =============================================================================

type unit struct {
	c        *Coordinator
	repo     store.Repository
	scope    generic.Scope
	stock    *inventory.Stock
	books    *partner.Books
	at       time.Time
	held     map[string]bool
	readOnly bool

	items    map[string]*inventory.Item
	lots     map[string]*inventory.Lot
	partners map[string]*partner.Partner

	// net is the signed quantity applied per lot id in this scope.
	net map[string]decimal.Decimal

	stockEntries  []generic.Entry
	ledgerEntries []generic.Entry
}

func (c *Coordinator) newUnit(repo store.Repository, scope generic.Scope, keys []string) *unit {
	stock := inventory.NewStock(repo).WithClock(c.now)
	stock.AllowPlaceholders = c.allowPlaceholders
	held := make(map[string]bool, len(keys))
	for _, k := range keys {
		held[k] = true
	}
	return &unit{
		c:        c,
		repo:     repo,
		scope:    scope,
		stock:    stock,
		books:    partner.NewBooks(repo).WithClock(c.now),
		at:       c.now().UTC(),
		held:     held,
		items:    make(map[string]*inventory.Item),
		lots:     make(map[string]*inventory.Lot),
		partners: make(map[string]*partner.Partner),
		net:      make(map[string]decimal.Decimal),
	}
}

func (u *unit) tenant() generic.TenantID { return u.scope.Tenant }

func (u *unit) require(keys ...string) error {
	if u.readOnly {
		return nil
	}
	var missing []string
	for _, k := range keys {
		if !u.held[k] {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return &needLocks{keys: missing}
	}
	return nil
}

func (u *unit) itemKey(id string) string {
	return lock.SubjectKey(generic.InventorySubject(u.tenant(), id))
}

func (u *unit) partnerKey(id string) string {
	return lock.SubjectKey(generic.PartnerSubject(u.tenant(), id))
}

func (u *unit) cacheItem(item *inventory.Item) *inventory.Item {
	if cached, ok := u.items[item.ID]; ok {
		return cached
	}
	u.items[item.ID] = item
	return item
}

func (u *unit) cacheLot(lot *inventory.Lot) *inventory.Lot {
	if cached, ok := u.lots[lot.ID]; ok {
		return cached
	}
	u.lots[lot.ID] = lot
	return lot
}

// item loads an existing item under lock.
func (u *unit) item(ctx context.Context, id string) (*inventory.Item, error) {
	if cached, ok := u.items[id]; ok {
		return cached, nil
	}
	if err := u.require(u.itemKey(id)); err != nil {
		return nil, err
	}
	item, err := u.stock.GetItem(ctx, u.tenant(), id)
	if err != nil {
		return nil, err
	}
	return u.cacheItem(item), nil
}

// itemOrPlaceholder finds spec.ID or creates an item for it. A spec without
// an ID always creates a fresh item, which nobody else can see yet.
func (u *unit) itemOrPlaceholder(ctx context.Context, spec inventory.ItemSpec) (*inventory.Item, error) {
	if spec.ID != "" {
		if cached, ok := u.items[spec.ID]; ok {
			return cached, nil
		}
		if err := u.require(u.itemKey(spec.ID)); err != nil {
			return nil, err
		}
	}
	item, err := u.stock.FindOrCreateItem(ctx, u.tenant(), spec)
	if err != nil {
		return nil, err
	}
	u.held[u.itemKey(item.ID)] = true
	return u.cacheItem(item), nil
}

// lot loads a lot by id together with its item.
func (u *unit) lot(ctx context.Context, id string) (*inventory.Lot, error) {
	if cached, ok := u.lots[id]; ok {
		return cached, nil
	}
	lot, err := u.stock.GetLot(ctx, u.tenant(), id)
	if err != nil {
		return nil, err
	}
	if _, err := u.item(ctx, lot.ItemID); err != nil {
		return nil, err
	}
	return u.cacheLot(lot), nil
}

func (u *unit) partner(ctx context.Context, id string) (*partner.Partner, error) {
	if cached, ok := u.partners[id]; ok {
		return cached, nil
	}
	if err := u.require(u.partnerKey(id)); err != nil {
		return nil, err
	}
	p, err := u.books.GetPartner(ctx, u.tenant(), id)
	if err != nil {
		return nil, err
	}
	u.partners[id] = p
	return p, nil
}

func (u *unit) document(ctx context.Context, id string) (*document.Document, error) {
	doc, err := u.repo.GetDocument(ctx, u.tenant(), id)
	if err != nil {
		return nil, fmt.Errorf("coordinator: load document %s: %w", id, err)
	}
	if doc == nil {
		return nil, &generic.NotFoundError{Kind: "document", ID: id}
	}
	return doc, nil
}

// touchedLots returns the cached lots this scope moved, for ValidateLots.
func (u *unit) touchedLots() []*inventory.Lot {
	ids := make([]string, 0, len(u.net))
	for id := range u.net {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*inventory.Lot, 0, len(ids))
	for _, id := range ids {
		out = append(out, u.lots[id])
	}
	return out
}

// =============================================================================
// HELPERS
// =============================================================================

func newID() string { return uuid.NewString() }

// documentNumber derives a display number when the caller gives none.
func documentNumber(kind document.Kind, id string) string {
	prefix := map[document.Kind]string{
		document.KindPurchase:       "PUR",
		document.KindSale:           "SAL",
		document.KindPurchaseReturn: "PRN",
		document.KindSaleReturn:     "SRN",
	}[kind]
	return prefix + "-" + strings.ToUpper(id[:8])
}

// itemKeys returns lock keys for the given item ids, skipping empty ones.
func itemKeys(tenant generic.TenantID, ids ...string) []string {
	var keys []string
	for _, id := range ids {
		if id != "" {
			keys = append(keys, lock.SubjectKey(generic.InventorySubject(tenant, id)))
		}
	}
	return keys
}

func partnerKeys(tenant generic.TenantID, ids ...string) []string {
	var keys []string
	for _, id := range ids {
		if id != "" {
			keys = append(keys, lock.SubjectKey(generic.PartnerSubject(tenant, id)))
		}
	}
	return keys
}

func accountKeys(tenant generic.TenantID, ids ...string) []string {
	var keys []string
	for _, id := range ids {
		if id != "" {
			keys = append(keys, lock.AccountKey(tenant, id))
		}
	}
	return keys
}
