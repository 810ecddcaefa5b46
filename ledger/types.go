/*
Package ledger is the points ledger and transaction-consistency core.

PURPOSE:
  Every point a user earns at a smart bin or spends on an e-wallet
  payout is backed by an atomic, auditable record. The ledger is the
  source of truth; the per-user balance is a cached projection that is
  only ever mutated through the Engine, inside a unit of work that also
  writes the ledger entry and its audit row.

KEY CONCEPTS IN THIS FILE (types.go):
  - Points: integer point quantity (balances never go negative)
  - LedgerEntry: an immutable record of a single balance-affecting event
  - PointsAudit: before/change/after chain, one per completed entry
  - Payout: the e-wallet leg of a redemption (decimal currency)

DESIGN PRINCIPLES:
  1. Immutability: entries reach exactly one terminal state and are
     never reopened; corrections are new compensating entries
  2. Auditability: audits chain per user (N.before == N-1.after)
  3. Precision: currency uses decimal.Decimal, never float

SEE ALSO:
  - engine.go: Deposit/Redeem/Balance operations
  - store.go: persistence contracts
  - errors.go: error taxonomy
*/
package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rofiuddin15/smartbin-api/bin"
)

// =============================================================================
// POINTS AND IDENTIFIERS
// =============================================================================

// Points is an integer point quantity. Deltas are signed; balances are
// invariantly >= 0.
type Points int64

type UserID string

type EntryID string

// NewEntryID returns a fresh unique entry identifier.
func NewEntryID() EntryID {
	return EntryID(uuid.NewString())
}

// =============================================================================
// LEDGER ENTRY - Atomic change to a user's point balance
// =============================================================================

type EntryKind string

const (
	KindDeposit EntryKind = "deposit" // bottles in, points out
	KindRedeem  EntryKind = "redeem"  // points in, e-wallet cash out
)

type EntryStatus string

const (
	StatusPending   EntryStatus = "pending"
	StatusCompleted EntryStatus = "completed"
	StatusFailed    EntryStatus = "failed"
)

// Terminal reports whether the status ends an entry's lifecycle.
func (s EntryStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// PayoutMethod is a supported e-wallet provider.
type PayoutMethod string

const (
	MethodGoPay     PayoutMethod = "gopay"
	MethodOVO       PayoutMethod = "ovo"
	MethodDANA      PayoutMethod = "dana"
	MethodShopeePay PayoutMethod = "shopeepay"
)

// Valid reports whether m is a supported payout method.
func (m PayoutMethod) Valid() bool {
	switch m {
	case MethodGoPay, MethodOVO, MethodDANA, MethodShopeePay:
		return true
	}
	return false
}

// Payout is the e-wallet leg of a redemption.
type Payout struct {
	Method  PayoutMethod
	Account string // phone number or wallet account
	Amount  decimal.Decimal
}

// LedgerEntry records a single balance-affecting event.
// Once Status is terminal the entry is immutable.
type LedgerEntry struct {
	ID     EntryID
	UserID UserID
	BinID  *bin.ID // nil for redemptions (no device origin)

	Kind        EntryKind
	PointsDelta Points // positive for deposit, negative for redeem

	BottlesCount *int    // deposit only
	Payout       *Payout // redeem only

	Status    EntryStatus
	Notes     string
	CreatedAt time.Time
}

// =============================================================================
// POINTS AUDIT - Before/after chain of every balance movement
// =============================================================================

// PointsAudit is the derived audit row written in the same unit of work
// as the balance movement it records. A deposit writes one row; a
// failed redemption writes two, the reserve and its refund.
// Invariant: PointsAfter == PointsBefore + PointsChange.
type PointsAudit struct {
	ID           string
	UserID       UserID
	EntryID      EntryID
	PointsBefore Points
	PointsChange Points
	PointsAfter  Points
	Description  string
	CreatedAt    time.Time
}

// =============================================================================
// QUERY FILTER
// =============================================================================

// EntryFilter narrows read-only ledger queries. Results are always
// newest-first.
type EntryFilter struct {
	Kind *EntryKind
	From *time.Time
	To   *time.Time

	// Page is 1-based; PerPage <= 0 falls back to a store default.
	Page    int
	PerPage int
}

// =============================================================================
// USER - Owned externally; the ledger only needs the balance row
// =============================================================================

type User struct {
	ID          UserID
	Name        string
	TotalPoints Points
	CreatedAt   time.Time
}
