/*
Package payout simulates the e-wallet payout gateway.

PURPOSE:
  Real money movement (Midtrans, Xendit, direct e-wallet APIs) is out of
  scope; the ledger engine only needs the PayoutGateway contract. This
  package ships a simulated gateway plus the e-wallet catalog and the
  package suggestions the mobile client shows on the redeem screen.

SEE ALSO:
  - ledger/engine.go: PayoutGateway consumer
  - api/handlers.go: /redeem/options and /redeem/packages
*/
package payout

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rofiuddin15/smartbin-api/ledger"
)

// =============================================================================
// SIMULATED GATEWAY
// =============================================================================

// Simulated implements ledger.PayoutGateway. By default every payout
// succeeds after Latency; tests flip FailWith or stretch Latency to
// exercise rollback and timeout paths.
type Simulated struct {
	// Latency is applied per call before the outcome.
	Latency time.Duration

	// FailWith, when non-nil, makes every payout fail with this error.
	FailWith error
}

func NewSimulated() *Simulated {
	return &Simulated{}
}

func (g *Simulated) Pay(ctx context.Context, method ledger.PayoutMethod, account string, amount decimal.Decimal) error {
	if !method.Valid() {
		return fmt.Errorf("unsupported e-wallet %q", method)
	}
	if g.Latency > 0 {
		select {
		case <-time.After(g.Latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if g.FailWith != nil {
		return g.FailWith
	}
	_ = account // a real gateway would validate the destination here
	return nil
}

// =============================================================================
// E-WALLET CATALOG
// =============================================================================

// Option describes a supported e-wallet for the redeem screen.
type Option struct {
	Type ledger.PayoutMethod `json:"type"`
	Name string              `json:"name"`
	Icon string              `json:"icon"`
}

// Options lists the supported e-wallets.
func Options() []Option {
	return []Option{
		{Type: ledger.MethodGoPay, Name: "GoPay", Icon: "gopay.png"},
		{Type: ledger.MethodOVO, Name: "OVO", Icon: "ovo.png"},
		{Type: ledger.MethodDANA, Name: "DANA", Icon: "dana.png"},
		{Type: ledger.MethodShopeePay, Name: "ShopeePay", Icon: "shopeepay.png"},
	}
}

// Package is a suggested redemption denomination.
type Package struct {
	ID     int           `json:"id"`
	Points ledger.Points `json:"points"`
}

// Packages lists the standard redemption denominations.
func Packages() []Package {
	return []Package{
		{ID: 1, Points: 100},
		{ID: 2, Points: 500},
		{ID: 3, Points: 1000},
		{ID: 4, Points: 5000},
		{ID: 5, Points: 10000},
	}
}
