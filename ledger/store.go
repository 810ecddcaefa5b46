/*
store.go - Persistence contracts for the points core

PURPOSE:
  Defines the interface between the engine and the database. The entry
  log is append-only; the balance row supports compare-and-swap; the
  whole set composes under WithTx so a deposit or redemption commits or
  aborts as one unit.

APPEND-ONLY CONTRACT:
  ledger_entries has exactly one permitted UPDATE: the pending->terminal
  status transition, performed by the owning unit of work through
  FinalizeEntry. There is no delete. Audits are insert-only.

COMPARE-AND-SWAP:
  Balance() returns the user's points together with a version counter.
  UpdateBalance() applies a new balance only if the version still
  matches, otherwise ErrConcurrencyConflict. This is what keeps two
  racing redemptions from both passing a stale sufficiency check.

IMPLEMENTATIONS:
  - store/sqlite: production SQLite (WAL)
  - ledger/store: in-memory, for tests and dev

SEE ALSO:
  - engine.go: the only writer
  - store/sqlite/sqlite.go: concrete implementation
*/
package ledger

import (
	"context"

	"github.com/rofiuddin15/smartbin-api/bin"
)

// =============================================================================
// ENTRY STORE - Append-only ledger log
// =============================================================================

type EntryStore interface {
	// AppendEntry persists a new entry. Insert-only.
	AppendEntry(ctx context.Context, e LedgerEntry) error

	// FinalizeEntry performs the single permitted mutation: the
	// pending->terminal transition. Returns ErrEntryFinalized if the
	// entry is not pending.
	FinalizeEntry(ctx context.Context, id EntryID, status EntryStatus) error

	// Entry returns a single entry, or (nil, nil) when absent.
	Entry(ctx context.Context, id EntryID) (*LedgerEntry, error)

	// Entries returns a user's entries newest-first, filtered.
	Entries(ctx context.Context, userID UserID, f EntryFilter) ([]LedgerEntry, error)

	// AppendAudit persists an audit row. Insert-only.
	AppendAudit(ctx context.Context, a PointsAudit) error

	// Audits returns a user's audit rows newest-first, paginated.
	Audits(ctx context.Context, userID UserID, f EntryFilter) ([]PointsAudit, error)
}

// =============================================================================
// BALANCE STORE - Versioned per-user counter
// =============================================================================

type BalanceStore interface {
	// Balance returns (points, version) for a user, or ErrUserNotFound.
	Balance(ctx context.Context, userID UserID) (Points, int64, error)

	// UpdateBalance sets the balance iff the stored version equals
	// expectVersion, bumping the version. ErrConcurrencyConflict when
	// the row moved under us.
	UpdateBalance(ctx context.Context, userID UserID, expectVersion int64, points Points) error
}

// =============================================================================
// DEPOSIT SOURCE - The engine's narrow view of the bin registry
// =============================================================================

type DepositSourceStore interface {
	// DepositSource resolves a bin for deposit validation, or
	// ErrBinNotFound.
	DepositSource(ctx context.Context, id bin.ID) (*bin.SmartBin, error)

	// AddBottlesCollected bumps the bin's monotonic bottle counter as
	// part of a completed deposit's unit of work.
	AddBottlesCollected(ctx context.Context, id bin.ID, bottles int) error
}

// =============================================================================
// COMPOSED STORE
// =============================================================================

// Store is everything a single unit of work touches.
type Store interface {
	EntryStore
	BalanceStore
	DepositSourceStore
}

// TxStore wraps Store with unit-of-work support.
type TxStore interface {
	Store

	// WithTx executes fn atomically: if fn returns an error every write
	// it performed is rolled back, otherwise all are committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
