package book

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/lendbook/lendbook/pkg/wad"
)

// SecondsPerYear converts annual rates to per-second rates.
const SecondsPerYear = 31_536_000

// Params are the protocol parameters of one quote/base pair. The slot
// capacities are deliberate protocol bounds (griefing resistance), not
// incidental limits.
type Params struct {
	// Interest rate model: per-second rate on side s is
	// (Alpha + Beta*UR(s) + Gamma*UR(opposite)) / SecondsPerYear.
	// All three are annual fixed-point rates.
	Alpha *uint256.Int
	Beta  *uint256.Int
	Gamma *uint256.Int

	// MinDeposit per side blocks dust orders that would strand takers below
	// the minimum-residual rule.
	MinDeposit [2]*uint256.Int

	// LiquidationFee is a flat fixed-point rate added to the debt before a
	// risk-based seizure.
	LiquidationFee *uint256.Int

	MaxOrders     int // deposit slots per user
	MaxPositions  int // positions per order
	MaxBorrowings int // borrow slots per user
}

// DefaultParams mirrors the deployed defaults: 1% alpha, 1.5% beta, 1%
// gamma, 100 quote / 2 base minimum deposits, 2% liquidation fee, and
// 6/5/5 slot bounds.
func DefaultParams() Params {
	return Params{
		Alpha:          wad.FromBps(100),
		Beta:           wad.FromBps(150),
		Gamma:          wad.FromBps(100),
		MinDeposit:     [2]*uint256.Int{wad.FromUnits(100), wad.FromUnits(2)},
		LiquidationFee: wad.FromBps(200),
		MaxOrders:      6,
		MaxPositions:   5,
		MaxBorrowings:  5,
	}
}

func (p Params) Validate() error {
	if p.Alpha == nil || p.Beta == nil || p.Gamma == nil {
		return fmt.Errorf("rate parameters must be set")
	}
	if p.MinDeposit[Buy] == nil || p.MinDeposit[Sell] == nil {
		return fmt.Errorf("minimum deposits must be set")
	}
	if p.LiquidationFee == nil {
		return fmt.Errorf("liquidation fee must be set")
	}
	if p.MaxOrders <= 0 || p.MaxPositions <= 0 || p.MaxBorrowings <= 0 {
		return fmt.Errorf("slot capacities must be positive")
	}
	return nil
}
