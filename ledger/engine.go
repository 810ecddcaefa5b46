/*
engine.go - The transactional points engine

PURPOSE:
  Applies deposits and redemptions atomically. Each operation validates
  its preconditions, then runs short units of work that write the ledger
  entry, the audit row, the balance projection, and (for deposits) the
  bin counter. Each unit commits whole or not at all.

CONCURRENCY:
  The balance row carries a version; the engine reads, checks, and
  writes inside WithTx using compare-and-swap. A lost race rolls the
  unit back and is retried a bounded number of times. Two concurrent
  redemptions against the same balance therefore commit in some total
  order with correct before/after chaining - they can never both spend
  the same points. Different users share no lock here.

PAYOUT:
  The external payout call is the only step with unbounded latency, so
  it never runs inside a unit of work: a redemption is two short units
  with the payout in between. Unit one reserves the points (pending
  entry + compare-and-swap decrement), the payout runs with no store
  lock held and a bounded timeout, then unit two finalizes the entry to
  completed. A failed or timed-out payout is compensated: the entry is
  finalized to failed and the reserved points are refunded, leaving
  zero net balance impact. The decrement always precedes the payout, so
  a lost race aborts before any money moves and no path can double-pay.
  A payout of one user never blocks another user's deposits or
  redemptions.

EVENTS:
  "points.updated" is published after commit, fire-and-forget. A broken
  subscriber cannot roll back a committed entry.

SEE ALSO:
  - store.go: the contracts this engine drives
  - errors.go: the failure taxonomy
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rofiuddin15/smartbin-api/bin"
)

// EventPointsUpdated is published after every committed deposit or
// redemption.
const EventPointsUpdated = "points.updated"

// =============================================================================
// COLLABORATOR CONTRACTS
// =============================================================================

// PayoutGateway converts points into e-wallet currency. Real
// integrations live behind this interface; the shipped implementation
// simulates one.
type PayoutGateway interface {
	Pay(ctx context.Context, method PayoutMethod, account string, amount decimal.Decimal) error
}

// EventPublisher receives post-commit domain events. Publish must not
// block; delivery is best-effort.
type EventPublisher interface {
	Publish(event string, payload map[string]any)
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config carries the policy knobs, injected at construction.
type Config struct {
	// PointsPerBottle is the default award when a deposit does not
	// override it.
	PointsPerBottle Points

	// ConversionRate is the currency value of one point (1 point = Rp 10
	// by default).
	ConversionRate decimal.Decimal

	// MinimumRedeemPoints is the smallest allowed redemption.
	MinimumRedeemPoints Points

	// MaxUpdateRetries bounds internal retries of a unit of work that
	// lost the balance compare-and-swap race.
	MaxUpdateRetries int

	// PayoutTimeout bounds the external payout call.
	PayoutTimeout time.Duration

	// RejectUnserviceableDeposits rejects deposits at full/maintenance
	// bins. Off by default: the device has already accepted the bottles,
	// withholding the points would punish the user for fleet state.
	RejectUnserviceableDeposits bool
}

// DefaultConfig mirrors the production constants.
func DefaultConfig() Config {
	return Config{
		PointsPerBottle:     10,
		ConversionRate:      decimal.NewFromInt(10),
		MinimumRedeemPoints: 100,
		MaxUpdateRetries:    3,
		PayoutTimeout:       10 * time.Second,
	}
}

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	store  TxStore
	payout PayoutGateway
	events EventPublisher
	cfg    Config
	now    func() time.Time
}

func NewEngine(store TxStore, payout PayoutGateway, events EventPublisher, cfg Config) *Engine {
	if cfg.MaxUpdateRetries < 1 {
		cfg.MaxUpdateRetries = 1
	}
	if cfg.ConversionRate.IsZero() {
		cfg.ConversionRate = DefaultConfig().ConversionRate
	}
	return &Engine{store: store, payout: payout, events: events, cfg: cfg, now: time.Now}
}

// =============================================================================
// DEPOSIT
// =============================================================================

// DepositInput describes bottles dropped at a smart bin.
type DepositInput struct {
	UserID       UserID
	BinID        bin.ID
	BottlesCount int

	// PointsPerBottle overrides the configured default when > 0.
	PointsPerBottle Points
}

// Deposit awards points for bottles. Atomic unit: completed entry,
// audit row, balance increment, bin bottle counter. Publishes
// points.updated after commit.
func (e *Engine) Deposit(ctx context.Context, in DepositInput) (*LedgerEntry, error) {
	if in.BottlesCount < 1 {
		return nil, fmt.Errorf("%w: bottles_count must be >= 1, got %d", ErrInvalidInput, in.BottlesCount)
	}
	perBottle := in.PointsPerBottle
	if perBottle == 0 {
		perBottle = e.cfg.PointsPerBottle
	}
	if perBottle < 1 {
		return nil, fmt.Errorf("%w: points_per_bottle must be >= 1, got %d", ErrInvalidInput, perBottle)
	}

	delta := Points(in.BottlesCount) * perBottle

	var (
		entry LedgerEntry
		after Points
	)
	err := e.withRetry(ctx, func() error {
		return e.store.WithTx(ctx, func(s Store) error {
			source, err := s.DepositSource(ctx, in.BinID)
			if err != nil {
				return err
			}
			if e.cfg.RejectUnserviceableDeposits && !source.Status.Serviceable() {
				return fmt.Errorf("%w: %s is %s", ErrBinUnserviceable, source.Code, source.Status)
			}

			before, version, err := s.Balance(ctx, in.UserID)
			if err != nil {
				return err
			}
			after = before + delta

			binID := in.BinID
			bottles := in.BottlesCount
			entry = LedgerEntry{
				ID:           NewEntryID(),
				UserID:       in.UserID,
				BinID:        &binID,
				Kind:         KindDeposit,
				PointsDelta:  delta,
				BottlesCount: &bottles,
				Status:       StatusCompleted,
				Notes:        fmt.Sprintf("Deposited %d bottle(s) at %s", bottles, source.Name),
				CreatedAt:    e.now().UTC(),
			}
			if err := s.AppendEntry(ctx, entry); err != nil {
				return err
			}
			if err := s.UpdateBalance(ctx, in.UserID, version, after); err != nil {
				return err
			}
			if err := s.AppendAudit(ctx, PointsAudit{
				ID:           uuid.NewString(),
				UserID:       in.UserID,
				EntryID:      entry.ID,
				PointsBefore: before,
				PointsChange: delta,
				PointsAfter:  after,
				Description:  fmt.Sprintf("+%d Points: Deposited %d bottle(s) at %s", delta, bottles, source.Name),
				CreatedAt:    entry.CreatedAt,
			}); err != nil {
				return err
			}
			return s.AddBottlesCollected(ctx, in.BinID, bottles)
		})
	})
	if err != nil {
		return nil, err
	}

	e.publishPointsUpdated(in.UserID, after, delta, KindDeposit, entry.Notes)
	return &entry, nil
}

// =============================================================================
// REDEEM
// =============================================================================

// RedeemInput describes a points-to-e-wallet conversion request.
type RedeemInput struct {
	UserID  UserID
	Points  Points
	Method  PayoutMethod
	Account string
}

// Redeem converts points to e-wallet cash in three steps: one unit of
// work reserving the points (pending entry + balance decrement + audit),
// the bounded payout call with no store lock held, then a second unit
// finalizing to completed. Payout failure finalizes the entry to failed
// and refunds the reserved points, so the attempt stays on record with
// zero net balance impact.
func (e *Engine) Redeem(ctx context.Context, in RedeemInput) (*LedgerEntry, error) {
	if in.Points < e.cfg.MinimumRedeemPoints {
		return nil, fmt.Errorf("%w: minimum redemption is %d points, got %d",
			ErrInvalidInput, e.cfg.MinimumRedeemPoints, in.Points)
	}
	if !in.Method.Valid() {
		return nil, fmt.Errorf("%w: unsupported payout method %q", ErrInvalidInput, in.Method)
	}
	if in.Account == "" {
		return nil, fmt.Errorf("%w: payout account is required", ErrInvalidInput)
	}

	amount := decimal.NewFromInt(int64(in.Points)).Mul(e.cfg.ConversionRate)

	var (
		entry LedgerEntry
		after Points
	)
	err := e.withRetry(ctx, func() error {
		return e.store.WithTx(ctx, func(s Store) error {
			before, version, err := s.Balance(ctx, in.UserID)
			if err != nil {
				return err
			}
			if in.Points > before {
				return &InsufficientBalanceError{UserID: in.UserID, Available: before, Requested: in.Points}
			}
			after = before - in.Points

			entry = LedgerEntry{
				ID:          NewEntryID(),
				UserID:      in.UserID,
				Kind:        KindRedeem,
				PointsDelta: -in.Points,
				Payout:      &Payout{Method: in.Method, Account: in.Account, Amount: amount},
				Status:      StatusPending,
				Notes:       fmt.Sprintf("Redeem %d points to %s", in.Points, in.Method),
				CreatedAt:   e.now().UTC(),
			}
			if err := s.AppendEntry(ctx, entry); err != nil {
				return err
			}
			// CAS decrement before the payout ever happens: losing the
			// race aborts here, so no path can double-pay.
			if err := s.UpdateBalance(ctx, in.UserID, version, after); err != nil {
				return err
			}
			return s.AppendAudit(ctx, PointsAudit{
				ID:           uuid.NewString(),
				UserID:       in.UserID,
				EntryID:      entry.ID,
				PointsBefore: before,
				PointsChange: -in.Points,
				PointsAfter:  after,
				Description:  fmt.Sprintf("-%d Points: Redeem to %s (%s)", in.Points, in.Method, in.Account),
				CreatedAt:    entry.CreatedAt,
			})
		})
	})
	if err != nil {
		return nil, err
	}

	// Points are reserved; pay with no store lock held.
	if err := e.pay(ctx, in.Method, in.Account, amount); err != nil {
		payErr := &PayoutError{Method: in.Method, Cause: err}
		if cerr := e.refundFailedRedeem(ctx, entry); cerr != nil {
			return nil, fmt.Errorf("%v; compensation also failed: %w", payErr, cerr)
		}
		return nil, payErr
	}

	if err := e.store.FinalizeEntry(ctx, entry.ID, StatusCompleted); err != nil {
		return nil, err
	}
	entry.Status = StatusCompleted

	e.publishPointsUpdated(in.UserID, after, -in.Points, KindRedeem, fmt.Sprintf("Redeemed to %s", in.Method))
	return &entry, nil
}

// pay runs the external payout call under the configured timeout.
func (e *Engine) pay(ctx context.Context, method PayoutMethod, account string, amount decimal.Decimal) error {
	if e.cfg.PayoutTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.PayoutTimeout)
		defer cancel()
	}
	return e.payout.Pay(ctx, method, account, amount)
}

// refundFailedRedeem compensates a redemption whose payout failed: the
// entry is finalized to failed and the reserved points flow back with
// their own audit row. Net balance impact of the attempt is zero.
func (e *Engine) refundFailedRedeem(ctx context.Context, entry LedgerEntry) error {
	refund := -entry.PointsDelta
	return e.withRetry(ctx, func() error {
		return e.store.WithTx(ctx, func(s Store) error {
			if err := s.FinalizeEntry(ctx, entry.ID, StatusFailed); err != nil {
				return err
			}
			before, version, err := s.Balance(ctx, entry.UserID)
			if err != nil {
				return err
			}
			if err := s.UpdateBalance(ctx, entry.UserID, version, before+refund); err != nil {
				return err
			}
			return s.AppendAudit(ctx, PointsAudit{
				ID:           uuid.NewString(),
				UserID:       entry.UserID,
				EntryID:      entry.ID,
				PointsBefore: before,
				PointsChange: refund,
				PointsAfter:  before + refund,
				Description:  fmt.Sprintf("+%d Points: Refund for failed redeem to %s", refund, entry.Payout.Method),
				CreatedAt:    e.now().UTC(),
			})
		})
	})
}

// =============================================================================
// READS
// =============================================================================

// Balance returns the user's committed point balance.
func (e *Engine) Balance(ctx context.Context, userID UserID) (Points, error) {
	points, _, err := e.store.Balance(ctx, userID)
	return points, err
}

// Entries returns a user's ledger entries, newest-first.
func (e *Engine) Entries(ctx context.Context, userID UserID, f EntryFilter) ([]LedgerEntry, error) {
	return e.store.Entries(ctx, userID, f)
}

// Entry returns a single ledger entry, nil when absent.
func (e *Engine) Entry(ctx context.Context, id EntryID) (*LedgerEntry, error) {
	return e.store.Entry(ctx, id)
}

// Audits returns a user's detailed point history, newest-first.
func (e *Engine) Audits(ctx context.Context, userID UserID, f EntryFilter) ([]PointsAudit, error) {
	return e.store.Audits(ctx, userID, f)
}

// Quote converts a point amount to currency at the configured rate.
func (e *Engine) Quote(points Points) decimal.Decimal {
	return decimal.NewFromInt(int64(points)).Mul(e.cfg.ConversionRate)
}

// Policy exposes the injected configuration (read-only copy).
func (e *Engine) Policy() Config {
	return e.cfg
}

// =============================================================================
// INTERNALS
// =============================================================================

// withRetry re-runs fn while it loses the optimistic balance race,
// bounded by MaxUpdateRetries. Any other error surfaces immediately.
func (e *Engine) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < e.cfg.MaxUpdateRetries; attempt++ {
		if err = fn(); err == nil || !IsRetryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return err
}

func (e *Engine) publishPointsUpdated(userID UserID, total Points, change Points, kind EntryKind, description string) {
	if e.events == nil {
		return
	}
	e.events.Publish(EventPointsUpdated, map[string]any{
		"user_id":          string(userID),
		"total_points":     int64(total),
		"points_change":    int64(change),
		"transaction_type": string(kind),
		"description":      description,
		"timestamp":        e.now().UTC(),
	})
}
