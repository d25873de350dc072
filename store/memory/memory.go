// Package memory provides an in-memory store.Store for tests and development.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/warp/stock-ledger/document"
	"github.com/warp/stock-ledger/generic"
	"github.com/warp/stock-ledger/inventory"
	"github.com/warp/stock-ledger/partner"
	"github.com/warp/stock-ledger/store"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type key struct {
	Tenant generic.TenantID
	ID     string
}

type data struct {
	items     map[key]inventory.Item
	lots      map[key]inventory.Lot
	sources   map[key]map[string]bool
	documents map[key]document.Document
	partners  map[key]partner.Partner
	accounts  map[key]partner.Account
	payments  map[key]partner.Payment
	entries   map[generic.Subject][]generic.Entry
	seq       int64
}

func newData() *data {
	return &data{
		items:     make(map[key]inventory.Item),
		lots:      make(map[key]inventory.Lot),
		sources:   make(map[key]map[string]bool),
		documents: make(map[key]document.Document),
		partners:  make(map[key]partner.Partner),
		accounts:  make(map[key]partner.Account),
		payments:  make(map[key]partner.Payment),
		entries:   make(map[generic.Subject][]generic.Entry),
	}
}

// Memory is a store.Store. Scopes are serialized by one mutex and rolled
// back by restoring a snapshot.
type Memory struct {
	mu sync.Mutex
	d  *data

	// failAfter, when > 0, makes the n-th entry append inside a scope fail.
	failAfter int
}

var _ store.Store = (*Memory)(nil)

func New() *Memory {
	return &Memory{d: newData()}
}

func (m *Memory) Close() error { return nil }

// FailNthAppend makes the n-th entry append of every later scope fail with
// ErrInjected. Tests use it to check rollback; n <= 0 disables it.
func (m *Memory) FailNthAppend(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAfter = n
}

// ErrInjected is returned by appends that FailNthAppend made fail.
var ErrInjected = injectedError{}

type injectedError struct{}

func (injectedError) Error() string { return "memory: injected append failure" }

// WithTx executes fn within a transaction, simulated with a snapshot and
// restore on error.
func (m *Memory) WithTx(ctx context.Context, fn func(store.Repository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.d.clone()
	v := &view{d: m.d, failAfter: m.failAfter}
	if err := fn(v); err != nil {
		m.d = snapshot
		return err
	}
	return nil
}

func (m *Memory) read() *view {
	return &view{d: m.d}
}

// =============================================================================
// NON-TRANSACTIONAL ACCESS - each call is its own scope
// =============================================================================

func (m *Memory) AppendEntry(ctx context.Context, e generic.Entry) (generic.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().AppendEntry(ctx, e)
}

func (m *Memory) Entries(ctx context.Context, s generic.Subject) ([]generic.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().Entries(ctx, s)
}

func (m *Memory) LastEntry(ctx context.Context, s generic.Subject) (*generic.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().LastEntry(ctx, s)
}

func (m *Memory) LastEntryAt(ctx context.Context, s generic.Subject, at time.Time) (*generic.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().LastEntryAt(ctx, s, at)
}

func (m *Memory) RewriteBalances(ctx context.Context, s generic.Subject, u []generic.BalanceUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().RewriteBalances(ctx, s, u)
}

func (m *Memory) GetItem(ctx context.Context, t generic.TenantID, id string) (*inventory.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().GetItem(ctx, t, id)
}

func (m *Memory) SaveItem(ctx context.Context, item *inventory.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().SaveItem(ctx, item)
}

func (m *Memory) ListItemIDs(ctx context.Context, t generic.TenantID) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().ListItemIDs(ctx, t)
}

func (m *Memory) GetLot(ctx context.Context, t generic.TenantID, id string) (*inventory.Lot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().GetLot(ctx, t, id)
}

func (m *Memory) FindLot(ctx context.Context, t generic.TenantID, itemID, code string) (*inventory.Lot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().FindLot(ctx, t, itemID, code)
}

func (m *Memory) ListLots(ctx context.Context, t generic.TenantID, itemID string) ([]inventory.Lot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().ListLots(ctx, t, itemID)
}

func (m *Memory) SaveLot(ctx context.Context, lot *inventory.Lot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().SaveLot(ctx, lot)
}

func (m *Memory) AddItemSource(ctx context.Context, t generic.TenantID, itemID, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().AddItemSource(ctx, t, itemID, docID)
}

func (m *Memory) RemoveItemSource(ctx context.Context, t generic.TenantID, itemID, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().RemoveItemSource(ctx, t, itemID, docID)
}

func (m *Memory) ItemSources(ctx context.Context, t generic.TenantID, itemID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().ItemSources(ctx, t, itemID)
}

func (m *Memory) GetDocument(ctx context.Context, t generic.TenantID, id string) (*document.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().GetDocument(ctx, t, id)
}

func (m *Memory) SaveDocument(ctx context.Context, doc *document.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().SaveDocument(ctx, doc)
}

func (m *Memory) ListReturns(ctx context.Context, t generic.TenantID, sourceID string) ([]document.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().ListReturns(ctx, t, sourceID)
}

func (m *Memory) ListDocumentIDs(ctx context.Context, t generic.TenantID) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().ListDocumentIDs(ctx, t)
}

func (m *Memory) GetPartner(ctx context.Context, t generic.TenantID, id string) (*partner.Partner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().GetPartner(ctx, t, id)
}

func (m *Memory) SavePartner(ctx context.Context, p *partner.Partner) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().SavePartner(ctx, p)
}

func (m *Memory) ListPartnerIDs(ctx context.Context, t generic.TenantID) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().ListPartnerIDs(ctx, t)
}

func (m *Memory) GetAccount(ctx context.Context, t generic.TenantID, id string) (*partner.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().GetAccount(ctx, t, id)
}

func (m *Memory) SaveAccount(ctx context.Context, a *partner.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().SaveAccount(ctx, a)
}

func (m *Memory) GetPayment(ctx context.Context, t generic.TenantID, id string) (*partner.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().GetPayment(ctx, t, id)
}

func (m *Memory) SavePayment(ctx context.Context, p *partner.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().SavePayment(ctx, p)
}

func (m *Memory) PaymentsForDocument(ctx context.Context, t generic.TenantID, docID string) ([]partner.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().PaymentsForDocument(ctx, t, docID)
}

// =============================================================================
// SNAPSHOT
// =============================================================================

func (d *data) clone() *data {
	c := newData()
	for k, v := range d.items {
		c.items[k] = v
	}
	for k, v := range d.lots {
		c.lots[k] = v
	}
	for k, v := range d.sources {
		set := make(map[string]bool, len(v))
		for doc := range v {
			set[doc] = true
		}
		c.sources[k] = set
	}
	for k, v := range d.documents {
		c.documents[k] = copyDocument(v)
	}
	for k, v := range d.partners {
		c.partners[k] = v
	}
	for k, v := range d.accounts {
		c.accounts[k] = v
	}
	for k, v := range d.payments {
		v.DocumentIDs = slices.Clone(v.DocumentIDs)
		c.payments[k] = v
	}
	for k, v := range d.entries {
		c.entries[k] = slices.Clone(v)
	}
	c.seq = d.seq
	return c
}

func copyDocument(doc document.Document) document.Document {
	doc.Lines = slices.Clone(doc.Lines)
	doc.PaymentIDs = slices.Clone(doc.PaymentIDs)
	return doc
}

// =============================================================================
// VIEW - store.Repository over data, caller holds the mutex
// =============================================================================

type view struct {
	d         *data
	failAfter int
	appends   int
}

// Entries

func (v *view) AppendEntry(_ context.Context, e generic.Entry) (generic.Entry, error) {
	v.appends++
	if v.failAfter > 0 && v.appends == v.failAfter {
		return generic.Entry{}, ErrInjected
	}

	v.d.seq++
	e.Seq = v.d.seq
	list := v.d.entries[e.Subject]

	// Insert after every entry at or before e.CreatedAt; Seq breaks ties.
	i := sort.Search(len(list), func(i int) bool {
		return list[i].CreatedAt.After(e.CreatedAt)
	})
	list = append(list, generic.Entry{})
	copy(list[i+1:], list[i:])
	list[i] = e
	v.d.entries[e.Subject] = list
	return e, nil
}

func (v *view) Entries(_ context.Context, s generic.Subject) ([]generic.Entry, error) {
	return slices.Clone(v.d.entries[s]), nil
}

func (v *view) LastEntry(_ context.Context, s generic.Subject) (*generic.Entry, error) {
	list := v.d.entries[s]
	if len(list) == 0 {
		return nil, nil
	}
	e := list[len(list)-1]
	return &e, nil
}

func (v *view) LastEntryAt(_ context.Context, s generic.Subject, at time.Time) (*generic.Entry, error) {
	list := v.d.entries[s]
	i := sort.Search(len(list), func(i int) bool {
		return list[i].CreatedAt.After(at)
	})
	if i == 0 {
		return nil, nil
	}
	e := list[i-1]
	return &e, nil
}

func (v *view) RewriteBalances(_ context.Context, s generic.Subject, updates []generic.BalanceUpdate) error {
	byID := make(map[generic.EntryID]int, len(updates))
	for i, u := range updates {
		byID[u.EntryID] = i
	}
	list := v.d.entries[s]
	for i := range list {
		if j, ok := byID[list[i].ID]; ok {
			list[i].Balance = updates[j].Balance
		}
	}
	return nil
}

// Items and lots

func (v *view) GetItem(_ context.Context, t generic.TenantID, id string) (*inventory.Item, error) {
	item, ok := v.d.items[key{t, id}]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (v *view) SaveItem(_ context.Context, item *inventory.Item) error {
	v.d.items[key{item.Tenant, item.ID}] = *item
	return nil
}

func (v *view) ListItemIDs(_ context.Context, t generic.TenantID) ([]string, error) {
	var ids []string
	for k := range v.d.items {
		if k.Tenant == t {
			ids = append(ids, k.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (v *view) GetLot(_ context.Context, t generic.TenantID, id string) (*inventory.Lot, error) {
	lot, ok := v.d.lots[key{t, id}]
	if !ok {
		return nil, nil
	}
	return &lot, nil
}

func (v *view) FindLot(_ context.Context, t generic.TenantID, itemID, code string) (*inventory.Lot, error) {
	for k, lot := range v.d.lots {
		if k.Tenant == t && lot.ItemID == itemID && lot.Code == code {
			return &lot, nil
		}
	}
	return nil, nil
}

func (v *view) ListLots(_ context.Context, t generic.TenantID, itemID string) ([]inventory.Lot, error) {
	var lots []inventory.Lot
	for k, lot := range v.d.lots {
		if k.Tenant == t && lot.ItemID == itemID {
			lots = append(lots, lot)
		}
	}
	sort.Slice(lots, func(i, j int) bool { return lots[i].Code < lots[j].Code })
	return lots, nil
}

func (v *view) SaveLot(_ context.Context, lot *inventory.Lot) error {
	v.d.lots[key{lot.Tenant, lot.ID}] = *lot
	return nil
}

func (v *view) AddItemSource(_ context.Context, t generic.TenantID, itemID, docID string) error {
	k := key{t, itemID}
	if v.d.sources[k] == nil {
		v.d.sources[k] = make(map[string]bool)
	}
	v.d.sources[k][docID] = true
	return nil
}

func (v *view) RemoveItemSource(_ context.Context, t generic.TenantID, itemID, docID string) error {
	delete(v.d.sources[key{t, itemID}], docID)
	return nil
}

func (v *view) ItemSources(_ context.Context, t generic.TenantID, itemID string) ([]string, error) {
	var docs []string
	for doc := range v.d.sources[key{t, itemID}] {
		docs = append(docs, doc)
	}
	sort.Strings(docs)
	return docs, nil
}

// Documents

func (v *view) GetDocument(_ context.Context, t generic.TenantID, id string) (*document.Document, error) {
	doc, ok := v.d.documents[key{t, id}]
	if !ok {
		return nil, nil
	}
	doc = copyDocument(doc)
	return &doc, nil
}

func (v *view) SaveDocument(_ context.Context, doc *document.Document) error {
	v.d.documents[key{doc.Tenant, doc.ID}] = copyDocument(*doc)
	return nil
}

func (v *view) ListReturns(_ context.Context, t generic.TenantID, sourceID string) ([]document.Document, error) {
	var docs []document.Document
	for k, doc := range v.d.documents {
		if k.Tenant == t && doc.SourceDocumentID == sourceID {
			docs = append(docs, copyDocument(doc))
		}
	}
	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].CreatedAt.Before(docs[j].CreatedAt)
		}
		return docs[i].ID < docs[j].ID
	})
	return docs, nil
}

func (v *view) ListDocumentIDs(_ context.Context, t generic.TenantID) ([]string, error) {
	var ids []string
	for k := range v.d.documents {
		if k.Tenant == t {
			ids = append(ids, k.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Partners, accounts, payments

func (v *view) GetPartner(_ context.Context, t generic.TenantID, id string) (*partner.Partner, error) {
	p, ok := v.d.partners[key{t, id}]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (v *view) SavePartner(_ context.Context, p *partner.Partner) error {
	v.d.partners[key{p.Tenant, p.ID}] = *p
	return nil
}

func (v *view) ListPartnerIDs(_ context.Context, t generic.TenantID) ([]string, error) {
	var ids []string
	for k := range v.d.partners {
		if k.Tenant == t {
			ids = append(ids, k.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (v *view) GetAccount(_ context.Context, t generic.TenantID, id string) (*partner.Account, error) {
	a, ok := v.d.accounts[key{t, id}]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (v *view) SaveAccount(_ context.Context, a *partner.Account) error {
	v.d.accounts[key{a.Tenant, a.ID}] = *a
	return nil
}

func (v *view) GetPayment(_ context.Context, t generic.TenantID, id string) (*partner.Payment, error) {
	p, ok := v.d.payments[key{t, id}]
	if !ok {
		return nil, nil
	}
	p.DocumentIDs = slices.Clone(p.DocumentIDs)
	return &p, nil
}

func (v *view) SavePayment(_ context.Context, p *partner.Payment) error {
	c := *p
	c.DocumentIDs = slices.Clone(p.DocumentIDs)
	v.d.payments[key{p.Tenant, p.ID}] = c
	return nil
}

func (v *view) PaymentsForDocument(_ context.Context, t generic.TenantID, docID string) ([]partner.Payment, error) {
	var out []partner.Payment
	for k, p := range v.d.payments {
		if k.Tenant == t && slices.Contains(p.DocumentIDs, docID) {
			p.DocumentIDs = slices.Clone(p.DocumentIDs)
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
