package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rofiuddin15/smartbin-api/bin"
	"github.com/rofiuddin15/smartbin-api/event"
	"github.com/rofiuddin15/smartbin-api/ledger"
	"github.com/rofiuddin15/smartbin-api/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// stubGateway records payout calls and fails on demand.
type stubGateway struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (g *stubGateway) Pay(ctx context.Context, method ledger.PayoutMethod, account string, amount decimal.Decimal) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return g.err
	}
	return ctx.Err()
}

func (g *stubGateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// blockingGateway parks the first payment until released, signalling
// started once it is in flight.
type blockingGateway struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *blockingGateway) Pay(ctx context.Context, _ ledger.PayoutMethod, _ string, _ decimal.Decimal) error {
	g.once.Do(func() { close(g.started) })
	select {
	case <-g.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type fixture struct {
	engine  *ledger.Engine
	store   *store.Memory
	gateway *stubGateway
	events  *event.Memory
}

func newFixture(t *testing.T, cfg ledger.Config) *fixture {
	t.Helper()

	mem := store.NewMemory()
	mem.PutUser(ledger.User{ID: "user-1", Name: "Budi"})
	mem.PutUser(ledger.User{ID: "user-2", Name: "Sari"})
	mem.PutBin(bin.SmartBin{
		ID:     "bin-1",
		Code:   "SB-001",
		Name:   "Mall Entrance",
		Status: bin.StatusOnline,
	})

	gateway := &stubGateway{}
	events := event.NewMemory()
	return &fixture{
		engine:  ledger.NewEngine(mem, gateway, events, cfg),
		store:   mem,
		gateway: gateway,
		events:  events,
	}
}

func deposit(t *testing.T, f *fixture, bottles int) *ledger.LedgerEntry {
	t.Helper()
	entry, err := f.engine.Deposit(context.Background(), ledger.DepositInput{
		UserID:       "user-1",
		BinID:        "bin-1",
		BottlesCount: bottles,
	})
	require.NoError(t, err)
	return entry
}

// =============================================================================
// DEPOSIT TESTS
// =============================================================================

func TestDeposit_AwardsPointsAtomically(t *testing.T) {
	// GIVEN: a user with zero points and an online bin
	// WHEN: depositing 3 bottles at the default 10 points per bottle
	// THEN: balance is 30, the entry is completed, the audit chains 0->30,
	//       and the bin counter advanced by 3

	f := newFixture(t, ledger.DefaultConfig())
	ctx := context.Background()

	entry := deposit(t, f, 3)

	assert.Equal(t, ledger.KindDeposit, entry.Kind)
	assert.Equal(t, ledger.StatusCompleted, entry.Status)
	assert.Equal(t, ledger.Points(30), entry.PointsDelta)
	require.NotNil(t, entry.BottlesCount)
	assert.Equal(t, 3, *entry.BottlesCount)

	points, err := f.engine.Balance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.Points(30), points)

	audits, err := f.engine.Audits(ctx, "user-1", ledger.EntryFilter{})
	require.NoError(t, err)
	require.Len(t, audits, 1)
	assert.Equal(t, ledger.Points(0), audits[0].PointsBefore)
	assert.Equal(t, ledger.Points(30), audits[0].PointsChange)
	assert.Equal(t, ledger.Points(30), audits[0].PointsAfter)
	assert.Equal(t, entry.ID, audits[0].EntryID)

	b, err := f.store.GetBin(ctx, "bin-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), b.TotalBottlesCollected)
}

func TestDeposit_PerBottleOverride(t *testing.T) {
	// GIVEN: a bin configured to award 25 points per bottle
	// WHEN: depositing 2 bottles with the override
	// THEN: 50 points are credited instead of the default 20

	f := newFixture(t, ledger.DefaultConfig())

	entry, err := f.engine.Deposit(context.Background(), ledger.DepositInput{
		UserID:          "user-1",
		BinID:           "bin-1",
		BottlesCount:    2,
		PointsPerBottle: 25,
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.Points(50), entry.PointsDelta)
}

func TestDeposit_RejectsInvalidInput(t *testing.T) {
	f := newFixture(t, ledger.DefaultConfig())
	ctx := context.Background()

	_, err := f.engine.Deposit(ctx, ledger.DepositInput{UserID: "user-1", BinID: "bin-1", BottlesCount: 0})
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)

	_, err = f.engine.Deposit(ctx, ledger.DepositInput{UserID: "user-1", BinID: "bin-1", BottlesCount: -2})
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)

	// Nothing was written
	entries, err := f.engine.Entries(ctx, "user-1", ledger.EntryFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDeposit_UnknownBinAndUser(t *testing.T) {
	f := newFixture(t, ledger.DefaultConfig())
	ctx := context.Background()

	_, err := f.engine.Deposit(ctx, ledger.DepositInput{UserID: "user-1", BinID: "nope", BottlesCount: 1})
	assert.ErrorIs(t, err, ledger.ErrBinNotFound)

	_, err = f.engine.Deposit(ctx, ledger.DepositInput{UserID: "ghost", BinID: "bin-1", BottlesCount: 1})
	assert.ErrorIs(t, err, ledger.ErrUserNotFound)
}

func TestDeposit_FullBin_PolicyFlag(t *testing.T) {
	// GIVEN: a bin reported full
	// WHEN: depositing with the default (permissive) policy
	// THEN: points are still credited; the device already took the bottles

	f := newFixture(t, ledger.DefaultConfig())
	ctx := context.Background()
	f.store.PutBin(bin.SmartBin{ID: "bin-1", Code: "SB-001", Name: "Mall Entrance", Status: bin.StatusFull})

	_, err := f.engine.Deposit(ctx, ledger.DepositInput{UserID: "user-1", BinID: "bin-1", BottlesCount: 1})
	assert.NoError(t, err)

	// WHEN: the strict policy is enabled
	// THEN: the same deposit is rejected and nothing is credited
	cfg := ledger.DefaultConfig()
	cfg.RejectUnserviceableDeposits = true
	strict := newFixture(t, cfg)
	strict.store.PutBin(bin.SmartBin{ID: "bin-1", Code: "SB-001", Name: "Mall Entrance", Status: bin.StatusFull})

	_, err = strict.engine.Deposit(ctx, ledger.DepositInput{UserID: "user-1", BinID: "bin-1", BottlesCount: 1})
	assert.ErrorIs(t, err, ledger.ErrBinUnserviceable)

	points, err := strict.engine.Balance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.Points(0), points)
}

func TestDeposit_PublishesPointsUpdated(t *testing.T) {
	f := newFixture(t, ledger.DefaultConfig())

	deposit(t, f, 2)

	recorded := f.events.ByName(ledger.EventPointsUpdated)
	require.Len(t, recorded, 1)
	payload := recorded[0].Payload
	assert.Equal(t, "user-1", payload["user_id"])
	assert.Equal(t, int64(20), payload["total_points"])
	assert.Equal(t, int64(20), payload["points_change"])
	assert.Equal(t, "deposit", payload["transaction_type"])
}

// =============================================================================
// REDEEM TESTS
// =============================================================================

func TestRedeem_ConvertsPointsToCash(t *testing.T) {
	// GIVEN: a user with 300 points
	// WHEN: redeeming 200 points to gopay
	// THEN: balance is 100, one completed redeem entry exists with a
	//       Rp 2000 payout, and the gateway was called exactly once

	f := newFixture(t, ledger.DefaultConfig())
	ctx := context.Background()
	deposit(t, f, 30)

	entry, err := f.engine.Redeem(ctx, ledger.RedeemInput{
		UserID:  "user-1",
		Points:  200,
		Method:  ledger.MethodGoPay,
		Account: "081234567890",
	})
	require.NoError(t, err)

	assert.Equal(t, ledger.KindRedeem, entry.Kind)
	assert.Equal(t, ledger.StatusCompleted, entry.Status)
	assert.Equal(t, ledger.Points(-200), entry.PointsDelta)
	require.NotNil(t, entry.Payout)
	assert.Equal(t, ledger.MethodGoPay, entry.Payout.Method)
	assert.True(t, entry.Payout.Amount.Equal(decimal.NewFromInt(2000)),
		"200 points at Rp 10/point should be Rp 2000, got %s", entry.Payout.Amount)
	assert.Equal(t, 1, f.gateway.Calls())

	points, err := f.engine.Balance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.Points(100), points)
}

func TestRedeem_ValidationBeforeAnyMutation(t *testing.T) {
	f := newFixture(t, ledger.DefaultConfig())
	ctx := context.Background()
	deposit(t, f, 50)

	cases := []struct {
		name string
		in   ledger.RedeemInput
	}{
		{"below minimum", ledger.RedeemInput{UserID: "user-1", Points: 99, Method: ledger.MethodGoPay, Account: "0812"}},
		{"unknown wallet", ledger.RedeemInput{UserID: "user-1", Points: 100, Method: "paypal", Account: "0812"}},
		{"missing account", ledger.RedeemInput{UserID: "user-1", Points: 100, Method: ledger.MethodOVO}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.engine.Redeem(ctx, tc.in)
			assert.ErrorIs(t, err, ledger.ErrInvalidInput)
		})
	}

	// Balance untouched, no gateway traffic
	points, err := f.engine.Balance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.Points(500), points)
	assert.Equal(t, 0, f.gateway.Calls())
}

func TestRedeem_InsufficientBalance(t *testing.T) {
	// GIVEN: a user with 100 points
	// WHEN: redeeming 150
	// THEN: a typed error reports available/requested and nothing persists

	f := newFixture(t, ledger.DefaultConfig())
	ctx := context.Background()
	deposit(t, f, 10)

	_, err := f.engine.Redeem(ctx, ledger.RedeemInput{
		UserID: "user-1", Points: 150, Method: ledger.MethodDANA, Account: "0812",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	var insufficient *ledger.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, ledger.Points(100), insufficient.Available)
	assert.Equal(t, ledger.Points(150), insufficient.Requested)
	assert.Equal(t, ledger.Points(50), insufficient.Shortfall())

	// The failed attempt leaves no ledger trace
	entries, err := f.engine.Entries(ctx, "user-1", ledger.EntryFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.KindDeposit, entries[0].Kind)
	assert.Equal(t, 0, f.gateway.Calls())
}

func TestRedeem_PayoutFailureRefundsPoints(t *testing.T) {
	// GIVEN: a gateway that refuses payment
	// WHEN: redeeming 100 of 200 points
	// THEN: the attempt is recorded as failed, the reserved points are
	//       refunded, and the net balance is unchanged

	f := newFixture(t, ledger.DefaultConfig())
	ctx := context.Background()
	deposit(t, f, 20)
	f.gateway.err = errors.New("wallet provider unreachable")

	_, err := f.engine.Redeem(ctx, ledger.RedeemInput{
		UserID: "user-1", Points: 100, Method: ledger.MethodGoPay, Account: "0812",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrPayoutFailed)

	var payoutErr *ledger.PayoutError
	require.ErrorAs(t, err, &payoutErr)
	assert.Equal(t, ledger.MethodGoPay, payoutErr.Method)

	points, err := f.engine.Balance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.Points(200), points)

	entries, err := f.engine.Entries(ctx, "user-1", ledger.EntryFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ledger.KindRedeem, entries[0].Kind)
	assert.Equal(t, ledger.StatusFailed, entries[0].Status)

	// Reserve and refund both leave audit rows; the chain nets to zero
	audits, err := f.engine.Audits(ctx, "user-1", ledger.EntryFilter{})
	require.NoError(t, err)
	require.Len(t, audits, 3)
	assert.Equal(t, ledger.Points(100), audits[0].PointsChange, "refund")
	assert.Equal(t, ledger.Points(200), audits[0].PointsAfter)
	assert.Equal(t, ledger.Points(-100), audits[1].PointsChange, "reserve")
	assert.Equal(t, entries[0].ID, audits[0].EntryID)
	assert.Equal(t, entries[0].ID, audits[1].EntryID)
}

func TestRedeem_ConcurrentSpend_OnlyOneWins(t *testing.T) {
	// GIVEN: a user with 100 points
	// WHEN: two goroutines race to redeem 60 points each
	// THEN: exactly one succeeds; the balance never goes negative

	f := newFixture(t, ledger.DefaultConfig())
	ctx := context.Background()
	deposit(t, f, 10)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.engine.Redeem(ctx, ledger.RedeemInput{
				UserID: "user-1", Points: 60, Method: ledger.MethodGoPay, Account: "0812",
			})
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range results {
		if err == nil {
			successes++
		} else {
			assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
		}
	}
	assert.Equal(t, 1, successes)

	points, err := f.engine.Balance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.Points(40), points)
	assert.Equal(t, 1, f.gateway.Calls())
}

// =============================================================================
// INVARIANT TESTS
// =============================================================================

func TestLedger_BalanceEqualsSumOfCompletedEntries(t *testing.T) {
	// GIVEN: a mix of deposits and redemptions, some rejected
	// THEN: the balance projection equals the sum of completed deltas
	//       and the audit chain links before==previous.after

	f := newFixture(t, ledger.DefaultConfig())
	ctx := context.Background()

	deposit(t, f, 10) // +100
	deposit(t, f, 5)  // +50
	_, err := f.engine.Redeem(ctx, ledger.RedeemInput{
		UserID: "user-1", Points: 120, Method: ledger.MethodOVO, Account: "0812",
	})
	require.NoError(t, err) // -120
	_, err = f.engine.Redeem(ctx, ledger.RedeemInput{
		UserID: "user-1", Points: 100, Method: ledger.MethodOVO, Account: "0812",
	})
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance) // rejected, 30 left

	entries, err := f.engine.Entries(ctx, "user-1", ledger.EntryFilter{})
	require.NoError(t, err)

	var sum ledger.Points
	for _, e := range entries {
		require.Equal(t, ledger.StatusCompleted, e.Status)
		sum += e.PointsDelta
	}

	points, err := f.engine.Balance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, sum, points)
	assert.Equal(t, ledger.Points(30), points)

	// Audit chain: newest-first, so walk backwards
	audits, err := f.engine.Audits(ctx, "user-1", ledger.EntryFilter{})
	require.NoError(t, err)
	require.Len(t, audits, 3)
	for i := len(audits) - 1; i > 0; i-- {
		assert.Equal(t, audits[i].PointsAfter, audits[i-1].PointsBefore,
			"audit chain must link before == previous after")
		assert.Equal(t, audits[i-1].PointsBefore+audits[i-1].PointsChange, audits[i-1].PointsAfter)
	}
}

func TestEntries_FilterAndPagination(t *testing.T) {
	f := newFixture(t, ledger.DefaultConfig())
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		deposit(t, f, 1)
	}
	_, err := f.engine.Redeem(ctx, ledger.RedeemInput{
		UserID: "user-1", Points: 100, Method: ledger.MethodGoPay, Account: "0812",
	})
	require.NoError(t, err)

	kind := ledger.KindDeposit
	deposits, err := f.engine.Entries(ctx, "user-1", ledger.EntryFilter{Kind: &kind})
	require.NoError(t, err)
	assert.Len(t, deposits, 4)

	page, err := f.engine.Entries(ctx, "user-1", ledger.EntryFilter{Page: 1, PerPage: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	// Newest-first: the redemption comes first
	assert.Equal(t, ledger.KindRedeem, page[0].Kind)

	page3, err := f.engine.Entries(ctx, "user-1", ledger.EntryFilter{Page: 3, PerPage: 2})
	require.NoError(t, err)
	assert.Len(t, page3, 1)
}

func TestQuote_UsesConversionRate(t *testing.T) {
	cfg := ledger.DefaultConfig()
	cfg.ConversionRate = decimal.NewFromInt(25)
	f := newFixture(t, cfg)

	assert.True(t, f.engine.Quote(100).Equal(decimal.NewFromInt(2500)))
	assert.True(t, f.engine.Quote(0).Equal(decimal.Zero))
}

func TestRedeem_PayoutTimeout(t *testing.T) {
	// GIVEN: a gateway that honors context cancellation and a 1ns budget
	// WHEN: redeeming
	// THEN: the attempt fails as a payout error, the entry is recorded
	//       as failed, and the reserved points come back

	cfg := ledger.DefaultConfig()
	cfg.PayoutTimeout = time.Nanosecond
	f := newFixture(t, cfg)
	ctx := context.Background()
	deposit(t, f, 20)

	_, err := f.engine.Redeem(ctx, ledger.RedeemInput{
		UserID: "user-1", Points: 100, Method: ledger.MethodGoPay, Account: "0812",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrPayoutFailed)

	points, err := f.engine.Balance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.Points(200), points)

	entries, err := f.engine.Entries(ctx, "user-1", ledger.EntryFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ledger.StatusFailed, entries[0].Status)
}

func TestRedeem_SlowPayoutDoesNotBlockOtherUsers(t *testing.T) {
	// GIVEN: a wallet provider stuck mid-payment for one user
	// WHEN: another user deposits while that payout is in flight
	// THEN: the deposit completes without waiting on the payout

	f := newFixture(t, ledger.DefaultConfig())
	ctx := context.Background()
	deposit(t, f, 20)

	gateway := &blockingGateway{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	f.engine = ledger.NewEngine(f.store, gateway, f.events, ledger.DefaultConfig())

	redeemDone := make(chan error, 1)
	go func() {
		_, err := f.engine.Redeem(ctx, ledger.RedeemInput{
			UserID: "user-1", Points: 100, Method: ledger.MethodGoPay, Account: "0812",
		})
		redeemDone <- err
	}()
	<-gateway.started

	depositDone := make(chan error, 1)
	go func() {
		_, err := f.engine.Deposit(ctx, ledger.DepositInput{
			UserID: "user-2", BinID: "bin-1", BottlesCount: 2,
		})
		depositDone <- err
	}()

	select {
	case err := <-depositDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("deposit stalled behind an in-flight payout")
	}

	close(gateway.release)
	require.NoError(t, <-redeemDone)

	points, err := f.engine.Balance(ctx, "user-2")
	require.NoError(t, err)
	assert.Equal(t, ledger.Points(20), points)

	points, err = f.engine.Balance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.Points(100), points)
}
