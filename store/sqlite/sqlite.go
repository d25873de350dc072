/*
Package sqlite provides a SQLite-backed implementation of store.Store.

PURPOSE:
  Persists items, lots, documents, partners, accounts, payments and both
  running-balance ledgers (stock timeline, partner ledger). In production the
  same patterns apply to PostgreSQL with minor dialect differences.

INTERFACES IMPLEMENTED:
  store.Store:        WithTx scopes plus non-transactional reads
  generic.Store:      ledger entries (via store.Repository)

APPEND-ONLY ENFORCEMENT:
  - timeline_entries and ledger_entries are insert-only
  - the one UPDATE is RewriteBalances, which touches the balance column only
  - no DELETE statements on either table

ORDERING:
  Entries carry created_at as INTEGER unix nanoseconds and an autoincrement
  seq. Ledger order is (created_at, seq), so entries written in one scope
  with the same timestamp keep their write order.

AMOUNTS:
  decimal.Decimal implements sql.Scanner and driver.Valuer, so amounts are
  stored as TEXT and keep exact precision.

KEY TABLES:
  timeline_entries:  per-item stock movements
  ledger_entries:    per-partner money movements
  items, lots:       cached aggregates, rebuilt by replay on repair
  item_sources:      documents that touched an item
  documents, document_lines
  partners, accounts, payments, payment_documents

CONCURRENCY:
  The pool is limited to one connection, so scopes are serialized at the
  driver. Cross-process exclusion comes from the lock package, not from here.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  st, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer st.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - store/store.go: interface definitions
  - store/memory: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/stock-ledger/document"
	"github.com/warp/stock-ledger/generic"
	"github.com/warp/stock-ledger/inventory"
	"github.com/warp/stock-ledger/partner"
	"github.com/warp/stock-ledger/store"
)

// Store implements store.Store using SQLite. Its embedded repo runs every
// statement directly against the pool; WithTx hands fn a repo bound to a
// *sql.Tx instead.
type Store struct {
	db *sql.DB
	*repo
}

var _ store.Store = (*Store)(nil)

// New opens the database at dbPath and migrates it.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: ":memory:" is per-connection and SQLite has a single
	// writer anyway.
	db.SetMaxOpenConns(1)

	s := NewWithDB(db)
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// NewWithDB wraps an already-open, already-migrated database.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db, repo: &repo{q: db}}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx executes fn within a database transaction. Any error from fn rolls
// back every write made through the Repository it was given.
func (s *Store) WithTx(ctx context.Context, fn func(store.Repository) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&repo{q: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// migrate creates the database schema.
func (s *Store) migrate(ctx context.Context) error {
	schema := `
	-- Stock timeline (append-only)
	CREATE TABLE IF NOT EXISTS timeline_entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		tenant_id TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		type TEXT NOT NULL,
		credit TEXT NOT NULL,
		debit TEXT NOT NULL,
		balance TEXT NOT NULL,
		lot_id TEXT NOT NULL DEFAULT '',
		document_id TEXT NOT NULL DEFAULT '',
		actor_id TEXT NOT NULL DEFAULT '',
		actor_name TEXT NOT NULL DEFAULT '',
		counterparty TEXT NOT NULL DEFAULT '',
		remark TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);

	-- Ledger order lookups (hot path)
	CREATE INDEX IF NOT EXISTS idx_timeline_subject_order
		ON timeline_entries(tenant_id, subject_id, created_at, seq);
	CREATE INDEX IF NOT EXISTS idx_timeline_document
		ON timeline_entries(tenant_id, document_id) WHERE document_id != '';

	-- Partner money ledger (append-only)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		tenant_id TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		type TEXT NOT NULL,
		credit TEXT NOT NULL,
		debit TEXT NOT NULL,
		balance TEXT NOT NULL,
		lot_id TEXT NOT NULL DEFAULT '',
		document_id TEXT NOT NULL DEFAULT '',
		actor_id TEXT NOT NULL DEFAULT '',
		actor_name TEXT NOT NULL DEFAULT '',
		counterparty TEXT NOT NULL DEFAULT '',
		remark TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_subject_order
		ON ledger_entries(tenant_id, subject_id, created_at, seq);

	-- Items and lots
	CREATE TABLE IF NOT EXISTS items (
		tenant_id TEXT NOT NULL,
		id TEXT NOT NULL,
		name TEXT NOT NULL,
		manufacturer TEXT NOT NULL DEFAULT '',
		hsn TEXT NOT NULL DEFAULT '',
		pack_size TEXT NOT NULL DEFAULT '',
		default_mrp TEXT NOT NULL,
		default_purchase_rate TEXT NOT NULL,
		default_sale_rate TEXT NOT NULL,
		gst_rate TEXT NOT NULL,
		quantity TEXT NOT NULL,
		placeholder INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (tenant_id, id)
	);

	CREATE TABLE IF NOT EXISTS lots (
		tenant_id TEXT NOT NULL,
		id TEXT NOT NULL,
		item_id TEXT NOT NULL,
		code TEXT NOT NULL,
		quantity TEXT NOT NULL,
		expiry TEXT NOT NULL DEFAULT '',
		mrp TEXT NOT NULL,
		purchase_rate TEXT NOT NULL,
		sale_rate TEXT NOT NULL,
		discount TEXT NOT NULL,
		pack_size TEXT NOT NULL DEFAULT '',
		gst_rate TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (tenant_id, id)
	);

	-- Lot natural key
	CREATE UNIQUE INDEX IF NOT EXISTS idx_lots_item_code
		ON lots(tenant_id, item_id, code);

	CREATE TABLE IF NOT EXISTS item_sources (
		tenant_id TEXT NOT NULL,
		item_id TEXT NOT NULL,
		document_id TEXT NOT NULL,
		PRIMARY KEY (tenant_id, item_id, document_id)
	);

	-- Documents
	CREATE TABLE IF NOT EXISTS documents (
		tenant_id TEXT NOT NULL,
		id TEXT NOT NULL,
		kind TEXT NOT NULL,
		number TEXT NOT NULL,
		partner_id TEXT NOT NULL,
		partner_name TEXT NOT NULL DEFAULT '',
		date INTEGER NOT NULL,
		status TEXT NOT NULL,
		grand_total TEXT NOT NULL,
		amount_paid TEXT NOT NULL,
		payment_status TEXT NOT NULL,
		source_document_id TEXT NOT NULL DEFAULT '',
		remark TEXT NOT NULL DEFAULT '',
		payment_ids_json TEXT NOT NULL DEFAULT '[]',
		created_by TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (tenant_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_documents_source
		ON documents(tenant_id, source_document_id) WHERE source_document_id != '';

	CREATE TABLE IF NOT EXISTS document_lines (
		tenant_id TEXT NOT NULL,
		document_id TEXT NOT NULL,
		id TEXT NOT NULL,
		position INTEGER NOT NULL,
		item_id TEXT NOT NULL,
		lot_id TEXT NOT NULL,
		lot_code TEXT NOT NULL,
		item_name TEXT NOT NULL DEFAULT '',
		manufacturer TEXT NOT NULL DEFAULT '',
		quantity TEXT NOT NULL,
		free_quantity TEXT NOT NULL,
		pack TEXT NOT NULL DEFAULT '',
		rate TEXT NOT NULL,
		mrp TEXT NOT NULL,
		expiry TEXT NOT NULL DEFAULT '',
		discount TEXT NOT NULL,
		gst_rate TEXT NOT NULL,
		amount TEXT NOT NULL,
		sub_type TEXT NOT NULL DEFAULT '',
		timeline_entry_id TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (tenant_id, document_id, id)
	);

	-- Partners, accounts, payments
	CREATE TABLE IF NOT EXISTS partners (
		tenant_id TEXT NOT NULL,
		id TEXT NOT NULL,
		kind TEXT NOT NULL,
		name TEXT NOT NULL,
		phone TEXT NOT NULL DEFAULT '',
		current_balance TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (tenant_id, id)
	);

	CREATE TABLE IF NOT EXISTS accounts (
		tenant_id TEXT NOT NULL,
		id TEXT NOT NULL,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		balance TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (tenant_id, id)
	);

	CREATE TABLE IF NOT EXISTS payments (
		tenant_id TEXT NOT NULL,
		id TEXT NOT NULL,
		partner_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		direction TEXT NOT NULL,
		method TEXT NOT NULL,
		status TEXT NOT NULL,
		reference TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (tenant_id, id)
	);

	CREATE TABLE IF NOT EXISTS payment_documents (
		tenant_id TEXT NOT NULL,
		payment_id TEXT NOT NULL,
		document_id TEXT NOT NULL,
		PRIMARY KEY (tenant_id, payment_id, document_id)
	);

	CREATE INDEX IF NOT EXISTS idx_payment_documents_document
		ON payment_documents(tenant_id, document_id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// =============================================================================
// REPO - store.Repository over a pool or a transaction
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type repo struct {
	q querier
}

var _ store.Repository = (*repo)(nil)

// =============================================================================
// LEDGER ENTRIES (generic.Store)
// =============================================================================

func entryTable(kind generic.SubjectKind) (string, error) {
	switch kind {
	case generic.SubjectInventory:
		return "timeline_entries", nil
	case generic.SubjectPartner:
		return "ledger_entries", nil
	default:
		return "", fmt.Errorf("unknown subject kind %q", kind)
	}
}

const entryColumns = `seq, id, tenant_id, subject_id, type, credit, debit, balance,
	lot_id, document_id, actor_id, actor_name, counterparty, remark, created_at`

func (r *repo) AppendEntry(ctx context.Context, e generic.Entry) (generic.Entry, error) {
	table, err := entryTable(e.Subject.Kind)
	if err != nil {
		return generic.Entry{}, err
	}
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO `+table+`
		(id, tenant_id, subject_id, type, credit, debit, balance,
		 lot_id, document_id, actor_id, actor_name, counterparty, remark, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Subject.Tenant, e.Subject.ID, e.Type,
		e.Credit, e.Debit, e.Balance,
		e.LotID, e.DocumentID, e.ActorID, e.ActorName, e.Counterparty, e.Remark,
		nanos(e.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.Entry{}, generic.NewValidationError("id", "duplicate entry id "+string(e.ID))
		}
		return generic.Entry{}, fmt.Errorf("failed to append entry: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return generic.Entry{}, fmt.Errorf("failed to read entry seq: %w", err)
	}
	e.Seq = seq
	return e, nil
}

func (r *repo) Entries(ctx context.Context, s generic.Subject) ([]generic.Entry, error) {
	table, err := entryTable(s.Kind)
	if err != nil {
		return nil, err
	}
	return r.queryEntries(ctx, s.Kind, `
		SELECT `+entryColumns+` FROM `+table+`
		WHERE tenant_id = ? AND subject_id = ?
		ORDER BY created_at ASC, seq ASC`,
		s.Tenant, s.ID)
}

func (r *repo) LastEntry(ctx context.Context, s generic.Subject) (*generic.Entry, error) {
	table, err := entryTable(s.Kind)
	if err != nil {
		return nil, err
	}
	return r.oneEntry(ctx, s.Kind, `
		SELECT `+entryColumns+` FROM `+table+`
		WHERE tenant_id = ? AND subject_id = ?
		ORDER BY created_at DESC, seq DESC LIMIT 1`,
		s.Tenant, s.ID)
}

func (r *repo) LastEntryAt(ctx context.Context, s generic.Subject, at time.Time) (*generic.Entry, error) {
	table, err := entryTable(s.Kind)
	if err != nil {
		return nil, err
	}
	return r.oneEntry(ctx, s.Kind, `
		SELECT `+entryColumns+` FROM `+table+`
		WHERE tenant_id = ? AND subject_id = ? AND created_at <= ?
		ORDER BY created_at DESC, seq DESC LIMIT 1`,
		s.Tenant, s.ID, nanos(at))
}

// RewriteBalances is the single UPDATE on the entry tables.
func (r *repo) RewriteBalances(ctx context.Context, s generic.Subject, updates []generic.BalanceUpdate) error {
	table, err := entryTable(s.Kind)
	if err != nil {
		return err
	}
	for _, u := range updates {
		_, err := r.q.ExecContext(ctx,
			`UPDATE `+table+` SET balance = ? WHERE tenant_id = ? AND subject_id = ? AND id = ?`,
			u.Balance, s.Tenant, s.ID, u.EntryID)
		if err != nil {
			return fmt.Errorf("failed to rewrite balance of %s: %w", u.EntryID, err)
		}
	}
	return nil
}

func (r *repo) oneEntry(ctx context.Context, kind generic.SubjectKind, query string, args ...any) (*generic.Entry, error) {
	entries, err := r.queryEntries(ctx, kind, query, args...)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return &entries[0], nil
}

func (r *repo) queryEntries(ctx context.Context, kind generic.SubjectKind, query string, args ...any) ([]generic.Entry, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []generic.Entry
	for rows.Next() {
		var (
			e         generic.Entry
			createdAt int64
		)
		err := rows.Scan(
			&e.Seq, &e.ID, &e.Subject.Tenant, &e.Subject.ID, &e.Type,
			&e.Credit, &e.Debit, &e.Balance,
			&e.LotID, &e.DocumentID, &e.ActorID, &e.ActorName, &e.Counterparty, &e.Remark,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		e.Subject.Kind = kind
		e.CreatedAt = fromNanos(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// ITEMS AND LOTS
// =============================================================================

func (r *repo) GetItem(ctx context.Context, tenant generic.TenantID, id string) (*inventory.Item, error) {
	var (
		it                   inventory.Item
		createdAt, updatedAt int64
	)
	err := r.q.QueryRowContext(ctx, `
		SELECT tenant_id, id, name, manufacturer, hsn, pack_size,
		       default_mrp, default_purchase_rate, default_sale_rate, gst_rate,
		       quantity, placeholder, created_at, updated_at
		FROM items WHERE tenant_id = ? AND id = ?`, tenant, id,
	).Scan(&it.Tenant, &it.ID, &it.Name, &it.Manufacturer, &it.HSN, &it.PackSize,
		&it.DefaultMRP, &it.DefaultPurchaseRate, &it.DefaultSaleRate, &it.GSTRate,
		&it.Quantity, &it.Placeholder, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load item: %w", err)
	}
	it.CreatedAt, it.UpdatedAt = fromNanos(createdAt), fromNanos(updatedAt)
	return &it, nil
}

func (r *repo) SaveItem(ctx context.Context, it *inventory.Item) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO items (tenant_id, id, name, manufacturer, hsn, pack_size,
			default_mrp, default_purchase_rate, default_sale_rate, gst_rate,
			quantity, placeholder, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			name = excluded.name,
			manufacturer = excluded.manufacturer,
			hsn = excluded.hsn,
			pack_size = excluded.pack_size,
			default_mrp = excluded.default_mrp,
			default_purchase_rate = excluded.default_purchase_rate,
			default_sale_rate = excluded.default_sale_rate,
			gst_rate = excluded.gst_rate,
			quantity = excluded.quantity,
			placeholder = excluded.placeholder,
			updated_at = excluded.updated_at`,
		it.Tenant, it.ID, it.Name, it.Manufacturer, it.HSN, it.PackSize,
		it.DefaultMRP, it.DefaultPurchaseRate, it.DefaultSaleRate, it.GSTRate,
		it.Quantity, it.Placeholder, nanos(it.CreatedAt), nanos(it.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save item: %w", err)
	}
	return nil
}

func (r *repo) ListItemIDs(ctx context.Context, tenant generic.TenantID) ([]string, error) {
	return r.queryStrings(ctx, `SELECT id FROM items WHERE tenant_id = ? ORDER BY id`, tenant)
}

const lotColumns = `tenant_id, id, item_id, code, quantity, expiry, mrp, purchase_rate,
	sale_rate, discount, pack_size, gst_rate, created_at, updated_at`

func (r *repo) GetLot(ctx context.Context, tenant generic.TenantID, id string) (*inventory.Lot, error) {
	return r.oneLot(ctx, `SELECT `+lotColumns+` FROM lots WHERE tenant_id = ? AND id = ?`, tenant, id)
}

func (r *repo) FindLot(ctx context.Context, tenant generic.TenantID, itemID, code string) (*inventory.Lot, error) {
	return r.oneLot(ctx, `SELECT `+lotColumns+` FROM lots WHERE tenant_id = ? AND item_id = ? AND code = ?`, tenant, itemID, code)
}

func (r *repo) ListLots(ctx context.Context, tenant generic.TenantID, itemID string) ([]inventory.Lot, error) {
	return r.queryLots(ctx, `SELECT `+lotColumns+` FROM lots WHERE tenant_id = ? AND item_id = ? ORDER BY code`, tenant, itemID)
}

func (r *repo) SaveLot(ctx context.Context, l *inventory.Lot) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO lots (`+lotColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			quantity = excluded.quantity,
			expiry = excluded.expiry,
			mrp = excluded.mrp,
			purchase_rate = excluded.purchase_rate,
			sale_rate = excluded.sale_rate,
			discount = excluded.discount,
			pack_size = excluded.pack_size,
			gst_rate = excluded.gst_rate,
			updated_at = excluded.updated_at`,
		l.Tenant, l.ID, l.ItemID, l.Code, l.Quantity, l.Expiry, l.MRP, l.PurchaseRate,
		l.SaleRate, l.Discount, l.PackSize, l.GSTRate, nanos(l.CreatedAt), nanos(l.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.NewValidationError("lot_code", "lot "+l.Code+" already exists for item "+l.ItemID)
		}
		return fmt.Errorf("failed to save lot: %w", err)
	}
	return nil
}

func (r *repo) oneLot(ctx context.Context, query string, args ...any) (*inventory.Lot, error) {
	lots, err := r.queryLots(ctx, query, args...)
	if err != nil || len(lots) == 0 {
		return nil, err
	}
	return &lots[0], nil
}

func (r *repo) queryLots(ctx context.Context, query string, args ...any) ([]inventory.Lot, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query lots: %w", err)
	}
	defer rows.Close()

	var lots []inventory.Lot
	for rows.Next() {
		var (
			l                    inventory.Lot
			createdAt, updatedAt int64
		)
		err := rows.Scan(&l.Tenant, &l.ID, &l.ItemID, &l.Code, &l.Quantity, &l.Expiry,
			&l.MRP, &l.PurchaseRate, &l.SaleRate, &l.Discount, &l.PackSize, &l.GSTRate,
			&createdAt, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lot: %w", err)
		}
		l.CreatedAt, l.UpdatedAt = fromNanos(createdAt), fromNanos(updatedAt)
		lots = append(lots, l)
	}
	return lots, rows.Err()
}

func (r *repo) AddItemSource(ctx context.Context, tenant generic.TenantID, itemID, documentID string) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT OR IGNORE INTO item_sources (tenant_id, item_id, document_id) VALUES (?, ?, ?)`,
		tenant, itemID, documentID)
	return err
}

func (r *repo) RemoveItemSource(ctx context.Context, tenant generic.TenantID, itemID, documentID string) error {
	_, err := r.q.ExecContext(ctx,
		`DELETE FROM item_sources WHERE tenant_id = ? AND item_id = ? AND document_id = ?`,
		tenant, itemID, documentID)
	return err
}

func (r *repo) ItemSources(ctx context.Context, tenant generic.TenantID, itemID string) ([]string, error) {
	return r.queryStrings(ctx,
		`SELECT document_id FROM item_sources WHERE tenant_id = ? AND item_id = ? ORDER BY document_id`,
		tenant, itemID)
}

// =============================================================================
// DOCUMENTS
// =============================================================================

const documentColumns = `tenant_id, id, kind, number, partner_id, partner_name, date, status,
	grand_total, amount_paid, payment_status, source_document_id, remark,
	payment_ids_json, created_by, created_at, updated_at`

func (r *repo) GetDocument(ctx context.Context, tenant generic.TenantID, id string) (*document.Document, error) {
	docs, err := r.queryDocuments(ctx, `SELECT `+documentColumns+` FROM documents WHERE tenant_id = ? AND id = ?`, tenant, id)
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return &docs[0], nil
}

// SaveDocument upserts the header and replaces the line set.
func (r *repo) SaveDocument(ctx context.Context, doc *document.Document) error {
	paymentIDs, err := json.Marshal(nonNil(doc.PaymentIDs))
	if err != nil {
		return fmt.Errorf("failed to encode payment ids: %w", err)
	}
	_, err = r.q.ExecContext(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			number = excluded.number,
			partner_id = excluded.partner_id,
			partner_name = excluded.partner_name,
			date = excluded.date,
			status = excluded.status,
			grand_total = excluded.grand_total,
			amount_paid = excluded.amount_paid,
			payment_status = excluded.payment_status,
			remark = excluded.remark,
			payment_ids_json = excluded.payment_ids_json,
			updated_at = excluded.updated_at`,
		doc.Tenant, doc.ID, doc.Kind, doc.Number, doc.PartnerID, doc.PartnerName,
		nanos(doc.Date), doc.Status, doc.GrandTotal, doc.AmountPaid, doc.PaymentStatus,
		doc.SourceDocumentID, doc.Remark, string(paymentIDs), doc.CreatedBy,
		nanos(doc.CreatedAt), nanos(doc.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}

	if _, err := r.q.ExecContext(ctx,
		`DELETE FROM document_lines WHERE tenant_id = ? AND document_id = ?`, doc.Tenant, doc.ID); err != nil {
		return fmt.Errorf("failed to clear document lines: %w", err)
	}
	for _, l := range doc.Lines {
		_, err := r.q.ExecContext(ctx, `
			INSERT INTO document_lines (tenant_id, document_id, id, position, item_id, lot_id,
				lot_code, item_name, manufacturer, quantity, free_quantity, pack, rate, mrp,
				expiry, discount, gst_rate, amount, sub_type, timeline_entry_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			doc.Tenant, doc.ID, l.ID, l.Position, l.ItemID, l.LotID,
			l.LotCode, l.ItemName, l.Manufacturer, l.Quantity, l.FreeQuantity, l.Pack, l.Rate, l.MRP,
			l.Expiry, l.Discount, l.GSTRate, l.Amount, l.SubType, l.TimelineEntryID,
		)
		if err != nil {
			return fmt.Errorf("failed to save document line %s: %w", l.ID, err)
		}
	}
	return nil
}

func (r *repo) ListReturns(ctx context.Context, tenant generic.TenantID, sourceID string) ([]document.Document, error) {
	return r.queryDocuments(ctx, `
		SELECT `+documentColumns+` FROM documents
		WHERE tenant_id = ? AND source_document_id = ?
		ORDER BY created_at, id`, tenant, sourceID)
}

func (r *repo) ListDocumentIDs(ctx context.Context, tenant generic.TenantID) ([]string, error) {
	return r.queryStrings(ctx, `SELECT id FROM documents WHERE tenant_id = ? ORDER BY created_at, id`, tenant)
}

func (r *repo) queryDocuments(ctx context.Context, query string, args ...any) ([]document.Document, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}

	var docs []document.Document
	for rows.Next() {
		var (
			d                          document.Document
			date, createdAt, updatedAt int64
			paymentIDs                 string
		)
		err := rows.Scan(&d.Tenant, &d.ID, &d.Kind, &d.Number, &d.PartnerID, &d.PartnerName,
			&date, &d.Status, &d.GrandTotal, &d.AmountPaid, &d.PaymentStatus,
			&d.SourceDocumentID, &d.Remark, &paymentIDs, &d.CreatedBy, &createdAt, &updatedAt)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		if err := json.Unmarshal([]byte(paymentIDs), &d.PaymentIDs); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to decode payment ids of %s: %w", d.ID, err)
		}
		d.Date, d.CreatedAt, d.UpdatedAt = fromNanos(date), fromNanos(createdAt), fromNanos(updatedAt)
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	// Lines are loaded after the header cursor is closed; the pool has one
	// connection.
	rows.Close()

	for i := range docs {
		lines, err := r.documentLines(ctx, docs[i].Tenant, docs[i].ID)
		if err != nil {
			return nil, err
		}
		docs[i].Lines = lines
	}
	return docs, nil
}

func (r *repo) documentLines(ctx context.Context, tenant generic.TenantID, documentID string) ([]document.LineItem, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT document_id, id, position, item_id, lot_id, lot_code, item_name, manufacturer,
		       quantity, free_quantity, pack, rate, mrp, expiry, discount, gst_rate, amount,
		       sub_type, timeline_entry_id
		FROM document_lines WHERE tenant_id = ? AND document_id = ?
		ORDER BY position`, tenant, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query document lines: %w", err)
	}
	defer rows.Close()

	var lines []document.LineItem
	for rows.Next() {
		var l document.LineItem
		err := rows.Scan(&l.DocumentID, &l.ID, &l.Position, &l.ItemID, &l.LotID, &l.LotCode,
			&l.ItemName, &l.Manufacturer, &l.Quantity, &l.FreeQuantity, &l.Pack, &l.Rate, &l.MRP,
			&l.Expiry, &l.Discount, &l.GSTRate, &l.Amount, &l.SubType, &l.TimelineEntryID)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document line: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// =============================================================================
// PARTNERS, ACCOUNTS, PAYMENTS
// =============================================================================

func (r *repo) GetPartner(ctx context.Context, tenant generic.TenantID, id string) (*partner.Partner, error) {
	var (
		p                    partner.Partner
		createdAt, updatedAt int64
	)
	err := r.q.QueryRowContext(ctx, `
		SELECT tenant_id, id, kind, name, phone, current_balance, created_at, updated_at
		FROM partners WHERE tenant_id = ? AND id = ?`, tenant, id,
	).Scan(&p.Tenant, &p.ID, &p.Kind, &p.Name, &p.Phone, &p.CurrentBalance, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load partner: %w", err)
	}
	p.CreatedAt, p.UpdatedAt = fromNanos(createdAt), fromNanos(updatedAt)
	return &p, nil
}

func (r *repo) SavePartner(ctx context.Context, p *partner.Partner) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO partners (tenant_id, id, kind, name, phone, current_balance, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			name = excluded.name,
			phone = excluded.phone,
			current_balance = excluded.current_balance,
			updated_at = excluded.updated_at`,
		p.Tenant, p.ID, p.Kind, p.Name, p.Phone, p.CurrentBalance, nanos(p.CreatedAt), nanos(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save partner: %w", err)
	}
	return nil
}

func (r *repo) ListPartnerIDs(ctx context.Context, tenant generic.TenantID) ([]string, error) {
	return r.queryStrings(ctx, `SELECT id FROM partners WHERE tenant_id = ? ORDER BY id`, tenant)
}

func (r *repo) GetAccount(ctx context.Context, tenant generic.TenantID, id string) (*partner.Account, error) {
	var (
		a                    partner.Account
		createdAt, updatedAt int64
	)
	err := r.q.QueryRowContext(ctx, `
		SELECT tenant_id, id, name, type, balance, created_at, updated_at
		FROM accounts WHERE tenant_id = ? AND id = ?`, tenant, id,
	).Scan(&a.Tenant, &a.ID, &a.Name, &a.Type, &a.Balance, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	a.CreatedAt, a.UpdatedAt = fromNanos(createdAt), fromNanos(updatedAt)
	return &a, nil
}

func (r *repo) SaveAccount(ctx context.Context, a *partner.Account) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO accounts (tenant_id, id, name, type, balance, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			name = excluded.name,
			balance = excluded.balance,
			updated_at = excluded.updated_at`,
		a.Tenant, a.ID, a.Name, a.Type, a.Balance, nanos(a.CreatedAt), nanos(a.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

const paymentColumns = `p.tenant_id, p.id, p.partner_id, p.account_id, p.amount, p.direction,
	p.method, p.status, p.reference, p.created_at, p.updated_at`

func (r *repo) GetPayment(ctx context.Context, tenant generic.TenantID, id string) (*partner.Payment, error) {
	pays, err := r.queryPayments(ctx, `SELECT `+paymentColumns+` FROM payments p WHERE p.tenant_id = ? AND p.id = ?`, tenant, id)
	if err != nil || len(pays) == 0 {
		return nil, err
	}
	return &pays[0], nil
}

func (r *repo) SavePayment(ctx context.Context, p *partner.Payment) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO payments (tenant_id, id, partner_id, account_id, amount, direction,
			method, status, reference, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			partner_id = excluded.partner_id,
			amount = excluded.amount,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		p.Tenant, p.ID, p.PartnerID, p.AccountID, p.Amount, p.Direction,
		p.Method, p.Status, p.Reference, nanos(p.CreatedAt), nanos(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save payment: %w", err)
	}
	if _, err := r.q.ExecContext(ctx,
		`DELETE FROM payment_documents WHERE tenant_id = ? AND payment_id = ?`, p.Tenant, p.ID); err != nil {
		return fmt.Errorf("failed to clear payment links: %w", err)
	}
	for _, docID := range p.DocumentIDs {
		_, err := r.q.ExecContext(ctx,
			`INSERT OR IGNORE INTO payment_documents (tenant_id, payment_id, document_id) VALUES (?, ?, ?)`,
			p.Tenant, p.ID, docID)
		if err != nil {
			return fmt.Errorf("failed to link payment %s to %s: %w", p.ID, docID, err)
		}
	}
	return nil
}

func (r *repo) PaymentsForDocument(ctx context.Context, tenant generic.TenantID, documentID string) ([]partner.Payment, error) {
	return r.queryPayments(ctx, `
		SELECT `+paymentColumns+` FROM payments p
		JOIN payment_documents pd ON pd.tenant_id = p.tenant_id AND pd.payment_id = p.id
		WHERE p.tenant_id = ? AND pd.document_id = ?
		ORDER BY p.created_at, p.id`, tenant, documentID)
}

func (r *repo) queryPayments(ctx context.Context, query string, args ...any) ([]partner.Payment, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}

	var pays []partner.Payment
	for rows.Next() {
		var (
			p                    partner.Payment
			createdAt, updatedAt int64
		)
		err := rows.Scan(&p.Tenant, &p.ID, &p.PartnerID, &p.AccountID, &p.Amount, &p.Direction,
			&p.Method, &p.Status, &p.Reference, &createdAt, &updatedAt)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		p.CreatedAt, p.UpdatedAt = fromNanos(createdAt), fromNanos(updatedAt)
		pays = append(pays, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range pays {
		ids, err := r.queryStrings(ctx, `
			SELECT document_id FROM payment_documents
			WHERE tenant_id = ? AND payment_id = ? ORDER BY rowid`, pays[i].Tenant, pays[i].ID)
		if err != nil {
			return nil, err
		}
		pays[i].DocumentIDs = ids
	}
	return pays, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (r *repo) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// nanos stores times as UTC unix nanoseconds so ordering is numeric.
func nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
