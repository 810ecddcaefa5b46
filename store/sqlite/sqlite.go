/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements ledger.TxStore and bin.RegistryStore using SQLite. The same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

APPEND-ONLY ENFORCEMENT:
  ledger_entries and points_audits are insert-only, with one exception:
  FinalizeEntry performs the pending->terminal status transition,
  guarded by "AND status = 'pending'" so a terminal row can never be
  touched again.

COMPARE-AND-SWAP:
  users carries a version column. UpdateBalance issues
    UPDATE users SET total_points = ?, version = version + 1
    WHERE id = ? AND version = ?
  and reports ledger.ErrConcurrencyConflict on zero affected rows.

KEY TABLES:
  users:          balance projection (total_points, version)
  smart_bins:     device registry (status, capacity, bottle counter)
  ledger_entries: immutable log of point movements
  points_audits:  before/change/after chain per completed entry

WAL MODE:
  SQLite is opened with WAL for better concurrency: readers don't block,
  single writer at a time, better crash recovery.

USAGE:
  store, err := sqlite.New("./data/smartbin.db")
  engine := ledger.NewEngine(store, gateway, events, cfg)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go: interface definitions
  - ledger/store/memory.go: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/rofiuddin15/smartbin-api/bin"
	"github.com/rofiuddin15/smartbin-api/ledger"
)

// defaultPerPage mirrors the production page size.
const defaultPerPage = 15

// timeLayout is fixed-width so stored timestamps sort lexicographically.
// RFC3339Nano would trim trailing zeros and break ORDER BY / range
// filters on the text column.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements ledger.TxStore and bin.RegistryStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// New opens (and migrates) a SQLite store. Use ":memory:" for tests.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Users (balance projection; identity fields owned externally)
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		total_points INTEGER NOT NULL DEFAULT 0 CHECK (total_points >= 0),
		version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	-- Smart bins (device registry)
	CREATE TABLE IF NOT EXISTS smart_bins (
		id TEXT PRIMARY KEY,
		bin_code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		location TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'online',
		capacity_percentage INTEGER NOT NULL DEFAULT 0,
		total_bottles_collected INTEGER NOT NULL DEFAULT 0,
		last_seen_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_smart_bins_status ON smart_bins(status);

	-- Ledger entries (append-only log of point movements)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		bin_id TEXT,
		kind TEXT NOT NULL,
		points_delta INTEGER NOT NULL,
		bottles_count INTEGER,
		payout_method TEXT,
		payout_account TEXT,
		payout_amount TEXT,
		status TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	-- Hot path: history queries, newest-first
	CREATE INDEX IF NOT EXISTS idx_entries_user_created
		ON ledger_entries(user_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_entries_kind
		ON ledger_entries(kind);
	CREATE INDEX IF NOT EXISTS idx_entries_status
		ON ledger_entries(status);
	CREATE INDEX IF NOT EXISTS idx_entries_bin
		ON ledger_entries(bin_id) WHERE bin_id IS NOT NULL;

	-- Points audits (append-only before/after chain)
	CREATE TABLE IF NOT EXISTS points_audits (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		entry_id TEXT NOT NULL,
		points_before INTEGER NOT NULL,
		points_change INTEGER NOT NULL,
		points_after INTEGER NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audits_user_created
		ON points_audits(user_id, created_at DESC);
	-- Not unique: a failed redemption carries a reserve and a refund row
	CREATE INDEX IF NOT EXISTS idx_audits_entry
		ON points_audits(entry_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx abstracts *sql.DB and *sql.Tx so the same helpers serve both the
// direct path and the WithTx path.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// USER STORE (fixtures and admin; the balance lives in the same row)
// =============================================================================

// SaveUser inserts or updates a user row. The balance columns are left
// alone on update: only the engine mutates those.
func (s *Store) SaveUser(ctx context.Context, u ledger.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO users (id, name, total_points, version, created_at)
		VALUES (?, ?, ?, 0, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name
	`
	createdAt := u.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, query,
		string(u.ID), u.Name, int64(u.TotalPoints), createdAt.Format(time.RFC3339))
	return err
}

// GetUser returns a user, or nil when absent.
func (s *Store) GetUser(ctx context.Context, id ledger.UserID) (*ledger.User, error) {
	var (
		u         ledger.User
		points    int64
		createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, total_points, created_at FROM users WHERE id = ?",
		string(id),
	).Scan(&u.ID, &u.Name, &points, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.TotalPoints = ledger.Points(points)
	u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &u, nil
}

// =============================================================================
// BALANCE STORE (ledger.BalanceStore)
// =============================================================================

func (s *Store) Balance(ctx context.Context, userID ledger.UserID) (ledger.Points, int64, error) {
	return s.balance(ctx, s.db, userID)
}

func (s *Store) balance(ctx context.Context, db dbtx, userID ledger.UserID) (ledger.Points, int64, error) {
	var (
		points  int64
		version int64
	)
	err := db.QueryRowContext(ctx,
		"SELECT total_points, version FROM users WHERE id = ?",
		string(userID),
	).Scan(&points, &version)
	if err == sql.ErrNoRows {
		return 0, 0, ledger.ErrUserNotFound
	}
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ledger.ErrInternal, err)
	}
	return ledger.Points(points), version, nil
}

func (s *Store) UpdateBalance(ctx context.Context, userID ledger.UserID, expectVersion int64, points ledger.Points) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateBalance(ctx, s.db, userID, expectVersion, points)
}

func (s *Store) updateBalance(ctx context.Context, db dbtx, userID ledger.UserID, expectVersion int64, points ledger.Points) error {
	res, err := db.ExecContext(ctx,
		"UPDATE users SET total_points = ?, version = version + 1 WHERE id = ? AND version = ?",
		int64(points), string(userID), expectVersion,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ledger.ErrInternal, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ledger.ErrInternal, err)
	}
	if affected == 0 {
		// Either the row moved under us or the user vanished.
		if _, _, berr := s.balance(ctx, db, userID); berr != nil {
			return berr
		}
		return ledger.ErrConcurrencyConflict
	}
	return nil
}

// =============================================================================
// ENTRY STORE (ledger.EntryStore)
// =============================================================================

func (s *Store) AppendEntry(ctx context.Context, e ledger.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendEntry(ctx, s.db, e)
}

func (s *Store) appendEntry(ctx context.Context, db dbtx, e ledger.LedgerEntry) error {
	var (
		binID        sql.NullString
		bottles      sql.NullInt64
		payoutMethod sql.NullString
		payoutAcct   sql.NullString
		payoutAmount sql.NullString
	)
	if e.BinID != nil {
		binID = sql.NullString{String: string(*e.BinID), Valid: true}
	}
	if e.BottlesCount != nil {
		bottles = sql.NullInt64{Int64: int64(*e.BottlesCount), Valid: true}
	}
	if e.Payout != nil {
		payoutMethod = sql.NullString{String: string(e.Payout.Method), Valid: true}
		payoutAcct = sql.NullString{String: e.Payout.Account, Valid: true}
		payoutAmount = sql.NullString{String: e.Payout.Amount.StringFixed(2), Valid: true}
	}

	query := `
		INSERT INTO ledger_entries
		(id, user_id, bin_id, kind, points_delta, bottles_count,
		 payout_method, payout_account, payout_amount, status, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		string(e.ID), string(e.UserID), binID, string(e.Kind), int64(e.PointsDelta),
		bottles, payoutMethod, payoutAcct, payoutAmount,
		string(e.Status), e.Notes, e.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("%w: append entry: %v", ledger.ErrInternal, err)
	}
	return nil
}

func (s *Store) FinalizeEntry(ctx context.Context, id ledger.EntryID, status ledger.EntryStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalizeEntry(ctx, s.db, id, status)
}

func (s *Store) finalizeEntry(ctx context.Context, db dbtx, id ledger.EntryID, status ledger.EntryStatus) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: %q is not a terminal status", ledger.ErrInvalidInput, status)
	}
	// The status guard is the append-only contract: terminal rows are
	// untouchable.
	res, err := db.ExecContext(ctx,
		"UPDATE ledger_entries SET status = ? WHERE id = ? AND status = 'pending'",
		string(status), string(id),
	)
	if err != nil {
		return fmt.Errorf("%w: finalize entry: %v", ledger.ErrInternal, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ledger.ErrInternal, err)
	}
	if affected == 0 {
		return ledger.ErrEntryFinalized
	}
	return nil
}

const entryColumns = `id, user_id, bin_id, kind, points_delta, bottles_count,
	payout_method, payout_account, payout_amount, status, notes, created_at`

func (s *Store) Entry(ctx context.Context, id ledger.EntryID) (*ledger.LedgerEntry, error) {
	return s.entry(ctx, s.db, id)
}

func (s *Store) entry(ctx context.Context, db dbtx, id ledger.EntryID) (*ledger.LedgerEntry, error) {
	rows, err := s.queryEntries(ctx, db,
		"SELECT "+entryColumns+" FROM ledger_entries WHERE id = ?", string(id))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (s *Store) Entries(ctx context.Context, userID ledger.UserID, f ledger.EntryFilter) ([]ledger.LedgerEntry, error) {
	return s.entries(ctx, s.db, userID, f)
}

func (s *Store) entries(ctx context.Context, db dbtx, userID ledger.UserID, f ledger.EntryFilter) ([]ledger.LedgerEntry, error) {
	var (
		conds = []string{"user_id = ?"}
		args  = []any{string(userID)}
	)
	if f.Kind != nil {
		conds = append(conds, "kind = ?")
		args = append(args, string(*f.Kind))
	}
	if f.From != nil {
		conds = append(conds, "created_at >= ?")
		args = append(args, f.From.UTC().Format(timeLayout))
	}
	if f.To != nil {
		conds = append(conds, "created_at <= ?")
		args = append(args, f.To.UTC().Format(timeLayout))
	}

	limit, offset := pageBounds(f)
	query := "SELECT " + entryColumns + " FROM ledger_entries WHERE " +
		strings.Join(conds, " AND ") +
		" ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	return s.queryEntries(ctx, db, query, args...)
}

func (s *Store) queryEntries(ctx context.Context, db dbtx, query string, args ...any) ([]ledger.LedgerEntry, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query entries: %v", ledger.ErrInternal, err)
	}
	defer rows.Close()

	var entries []ledger.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows) (ledger.LedgerEntry, error) {
	var (
		e            ledger.LedgerEntry
		binID        sql.NullString
		bottles      sql.NullInt64
		payoutMethod sql.NullString
		payoutAcct   sql.NullString
		payoutAmount sql.NullString
		createdAt    string
	)
	err := rows.Scan(
		&e.ID, &e.UserID, &binID, &e.Kind, &e.PointsDelta,
		&bottles, &payoutMethod, &payoutAcct, &payoutAmount,
		&e.Status, &e.Notes, &createdAt,
	)
	if err != nil {
		return e, fmt.Errorf("%w: scan entry: %v", ledger.ErrInternal, err)
	}

	if binID.Valid {
		id := bin.ID(binID.String)
		e.BinID = &id
	}
	if bottles.Valid {
		n := int(bottles.Int64)
		e.BottlesCount = &n
	}
	if payoutMethod.Valid {
		amount, _ := decimal.NewFromString(payoutAmount.String)
		e.Payout = &ledger.Payout{
			Method:  ledger.PayoutMethod(payoutMethod.String),
			Account: payoutAcct.String,
			Amount:  amount,
		}
	}
	e.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	return e, nil
}

func (s *Store) AppendAudit(ctx context.Context, a ledger.PointsAudit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendAudit(ctx, s.db, a)
}

func (s *Store) appendAudit(ctx context.Context, db dbtx, a ledger.PointsAudit) error {
	query := `
		INSERT INTO points_audits
		(id, user_id, entry_id, points_before, points_change, points_after, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		a.ID, string(a.UserID), string(a.EntryID),
		int64(a.PointsBefore), int64(a.PointsChange), int64(a.PointsAfter),
		a.Description, a.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("%w: append audit: %v", ledger.ErrInternal, err)
	}
	return nil
}

func (s *Store) Audits(ctx context.Context, userID ledger.UserID, f ledger.EntryFilter) ([]ledger.PointsAudit, error) {
	return s.audits(ctx, s.db, userID, f)
}

func (s *Store) audits(ctx context.Context, db dbtx, userID ledger.UserID, f ledger.EntryFilter) ([]ledger.PointsAudit, error) {
	limit, offset := pageBounds(f)
	query := `
		SELECT id, user_id, entry_id, points_before, points_change, points_after, description, created_at
		FROM points_audits
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`
	rows, err := db.QueryContext(ctx, query, string(userID), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: query audits: %v", ledger.ErrInternal, err)
	}
	defer rows.Close()

	var audits []ledger.PointsAudit
	for rows.Next() {
		var (
			a         ledger.PointsAudit
			createdAt string
		)
		if err := rows.Scan(&a.ID, &a.UserID, &a.EntryID,
			&a.PointsBefore, &a.PointsChange, &a.PointsAfter,
			&a.Description, &createdAt); err != nil {
			return nil, fmt.Errorf("%w: scan audit: %v", ledger.ErrInternal, err)
		}
		a.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		audits = append(audits, a)
	}
	return audits, rows.Err()
}

func pageBounds(f ledger.EntryFilter) (limit, offset int) {
	perPage := f.PerPage
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	page := f.Page
	if page < 1 {
		page = 1
	}
	return perPage, (page - 1) * perPage
}

// =============================================================================
// DEPOSIT SOURCE STORE (ledger.DepositSourceStore)
// =============================================================================

func (s *Store) DepositSource(ctx context.Context, id bin.ID) (*bin.SmartBin, error) {
	b, err := s.getBin(ctx, s.db, id)
	if err == bin.ErrNotFound {
		return nil, ledger.ErrBinNotFound
	}
	return b, err
}

func (s *Store) AddBottlesCollected(ctx context.Context, id bin.ID, bottles int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addBottles(ctx, s.db, id, bottles)
}

func (s *Store) addBottles(ctx context.Context, db dbtx, id bin.ID, bottles int) error {
	res, err := db.ExecContext(ctx,
		"UPDATE smart_bins SET total_bottles_collected = total_bottles_collected + ?, updated_at = ? WHERE id = ?",
		bottles, time.Now().UTC().Format(time.RFC3339), string(id),
	)
	if err != nil {
		return fmt.Errorf("%w: add bottles: %v", ledger.ErrInternal, err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ledger.ErrBinNotFound
	}
	return nil
}

// =============================================================================
// BIN REGISTRY STORE (bin.RegistryStore)
// =============================================================================

const binColumns = `id, bin_code, name, location, status, capacity_percentage,
	total_bottles_collected, last_seen_at, created_at, updated_at`

func (s *Store) GetBin(ctx context.Context, id bin.ID) (*bin.SmartBin, error) {
	return s.getBin(ctx, s.db, id)
}

func (s *Store) getBin(ctx context.Context, db dbtx, id bin.ID) (*bin.SmartBin, error) {
	row := db.QueryRowContext(ctx,
		"SELECT "+binColumns+" FROM smart_bins WHERE id = ?", string(id))
	b, err := scanBin(row)
	if err == sql.ErrNoRows {
		return nil, bin.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// GetBinByCode resolves a bin from its device code.
func (s *Store) GetBinByCode(ctx context.Context, code string) (*bin.SmartBin, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+binColumns+" FROM smart_bins WHERE bin_code = ?", code)
	b, err := scanBin(row)
	if err == sql.ErrNoRows {
		return nil, bin.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Store) ListBins(ctx context.Context, status bin.Status) ([]bin.SmartBin, error) {
	query := "SELECT " + binColumns + " FROM smart_bins ORDER BY bin_code"
	args := []any{}
	if status != "" {
		query = "SELECT " + binColumns + " FROM smart_bins WHERE status = ? ORDER BY bin_code"
		args = append(args, string(status))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bins []bin.SmartBin
	for rows.Next() {
		b, err := scanBin(rows)
		if err != nil {
			return nil, err
		}
		bins = append(bins, *b)
	}
	return bins, rows.Err()
}

func (s *Store) SaveBin(ctx context.Context, b bin.SmartBin) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var lastSeen sql.NullString
	if !b.LastSeenAt.IsZero() {
		lastSeen = sql.NullString{String: b.LastSeenAt.UTC().Format(time.RFC3339), Valid: true}
	}
	createdAt := b.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	updatedAt := b.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	query := `
		INSERT INTO smart_bins
		(id, bin_code, name, location, status, capacity_percentage,
		 total_bottles_collected, last_seen_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			bin_code = excluded.bin_code,
			name = excluded.name,
			location = excluded.location,
			status = excluded.status,
			capacity_percentage = excluded.capacity_percentage,
			last_seen_at = excluded.last_seen_at,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		string(b.ID), b.Code, b.Name, b.Location, string(b.Status),
		b.CapacityPercentage, b.TotalBottlesCollected, lastSeen,
		createdAt.Format(time.RFC3339), updatedAt.Format(time.RFC3339),
	)
	return err
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanBin(row scanner) (*bin.SmartBin, error) {
	var (
		b         bin.SmartBin
		lastSeen  sql.NullString
		createdAt string
		updatedAt string
	)
	err := row.Scan(&b.ID, &b.Code, &b.Name, &b.Location, &b.Status,
		&b.CapacityPercentage, &b.TotalBottlesCollected, &lastSeen,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if lastSeen.Valid {
		b.LastSeenAt, _ = time.Parse(time.RFC3339, lastSeen.String)
	}
	b.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	b.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &b, nil
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore)
// =============================================================================

// WithTx executes fn within a single database transaction. The store
// mutex is held for the duration: SQLite allows one writer at a time
// anyway, and holding it keeps the direct-path methods from contending
// with an open transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", ledger.ErrInternal, err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx, parent: s}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ledger.ErrInternal, err)
	}
	return nil
}

// txStore routes every call through the open transaction; it never
// takes the parent mutex (already held by WithTx).
type txStore struct {
	tx     *sql.Tx
	parent *Store
}

func (ts *txStore) AppendEntry(ctx context.Context, e ledger.LedgerEntry) error {
	return ts.parent.appendEntry(ctx, ts.tx, e)
}

func (ts *txStore) FinalizeEntry(ctx context.Context, id ledger.EntryID, status ledger.EntryStatus) error {
	return ts.parent.finalizeEntry(ctx, ts.tx, id, status)
}

func (ts *txStore) Entry(ctx context.Context, id ledger.EntryID) (*ledger.LedgerEntry, error) {
	return ts.parent.entry(ctx, ts.tx, id)
}

func (ts *txStore) Entries(ctx context.Context, userID ledger.UserID, f ledger.EntryFilter) ([]ledger.LedgerEntry, error) {
	return ts.parent.entries(ctx, ts.tx, userID, f)
}

func (ts *txStore) AppendAudit(ctx context.Context, a ledger.PointsAudit) error {
	return ts.parent.appendAudit(ctx, ts.tx, a)
}

func (ts *txStore) Audits(ctx context.Context, userID ledger.UserID, f ledger.EntryFilter) ([]ledger.PointsAudit, error) {
	return ts.parent.audits(ctx, ts.tx, userID, f)
}

func (ts *txStore) Balance(ctx context.Context, userID ledger.UserID) (ledger.Points, int64, error) {
	return ts.parent.balance(ctx, ts.tx, userID)
}

func (ts *txStore) UpdateBalance(ctx context.Context, userID ledger.UserID, expectVersion int64, points ledger.Points) error {
	return ts.parent.updateBalance(ctx, ts.tx, userID, expectVersion, points)
}

func (ts *txStore) DepositSource(ctx context.Context, id bin.ID) (*bin.SmartBin, error) {
	b, err := ts.parent.getBin(ctx, ts.tx, id)
	if err == bin.ErrNotFound {
		return nil, ledger.ErrBinNotFound
	}
	return b, err
}

func (ts *txStore) AddBottlesCollected(ctx context.Context, id bin.ID, bottles int) error {
	return ts.parent.addBottles(ctx, ts.tx, id, bottles)
}
