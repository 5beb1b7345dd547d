package book

import (
	"github.com/holiman/uint256"

	"github.com/lendbook/lendbook/pkg/wad"
)

// halfWad is the neutral utilization prior used while a side has no assets.
var halfWad = uint256.NewInt(500_000_000_000_000_000)

// utilization returns totalBorrow/totalAssets for the side, defined as 0.5
// when the side holds no assets and capped at 1.0 when borrow meets or
// exceeds assets (reachable only through rounding).
func (b *Book) utilization(side Side) *uint256.Int {
	assets := b.totalAssets[side]
	if assets.IsZero() {
		return halfWad.Clone()
	}
	if !b.totalBorrow[side].Lt(assets) {
		return wad.One.Clone()
	}
	return wad.DivDown(b.totalBorrow[side], assets)
}

// annualRate is the three-parameter affine model coupling both sides:
// alpha + beta*UR(side) + gamma*UR(opposite).
func (b *Book) annualRate(side Side) *uint256.Int {
	r := b.params.Alpha.Clone()
	r.Add(r, wad.MulDown(b.params.Beta, b.utilization(side)))
	r.Add(r, wad.MulDown(b.params.Gamma, b.utilization(side.Opposite())))
	return r
}

// instantRate is the per-second rate derived from the annual model.
func (b *Book) instantRate(side Side) *uint256.Int {
	r := b.annualRate(side)
	r.Div(r, uint256.NewInt(SecondsPerYear))
	return r
}

// accrue advances both sides' time-weighted rate integrals by the seconds
// elapsed since the last touch, then moves the shared accrual clock. It is
// the lazy clock of the whole book: every mutating action calls it first,
// and calling it twice at the same instant is a no-op.
func (b *Book) accrue() {
	now := b.clock.Now().Unix()
	if now <= b.lastAccrual {
		return
	}
	elapsed := uint256.NewInt(uint64(now - b.lastAccrual))
	for _, side := range [2]Side{Buy, Sell} {
		delta := new(uint256.Int).Mul(elapsed, b.instantRate(side))
		b.twir[side].Add(b.twir[side], delta)
	}
	b.lastAccrual = now
}

// accruePosition flattens the interest accrued since the position's last
// touch into its principal: factor = expm1(TWIR_now - TWIR_snapshot),
// interest = borrowed * factor rounded up (lenders keep the dust), added to
// both the position and the side's total borrow, and the snapshot is reset
// so nothing is counted twice. Must run before any other read or mutation
// of the position's borrowed assets. Returns the interest added.
func (b *Book) accruePosition(p *Position) *uint256.Int {
	side := b.orders[p.OrderID].Side
	dx := b.twir[side].Clone()
	// The snapshot can never exceed the running integral.
	if err := checkedSub(dx, p.RateIndex, "rate index ahead of integral"); err != nil {
		panic(err)
	}
	if dx.IsZero() || !p.IsActive() {
		p.RateIndex = b.twir[side].Clone()
		return new(uint256.Int)
	}
	interest := wad.MulUp(p.Borrowed, wad.ExpMinusOne(dx))
	p.Borrowed.Add(p.Borrowed, interest)
	b.totalBorrow[side].Add(b.totalBorrow[side], interest)
	p.RateIndex = b.twir[side].Clone()
	return interest
}

// accrueOrderPositions flattens pending interest into every active position
// funded by the order, so the order's lent assets read current.
func (b *Book) accrueOrderPositions(o *Order) {
	for _, pid := range o.Positions {
		if pid == 0 {
			continue
		}
		if p := b.positions[pid]; p != nil && p.IsActive() {
			b.accruePosition(p)
		}
	}
}

// ---- rate views ------------------------------------------------------------

// UtilizationRate returns the side's current utilization.
func (b *Book) UtilizationRate(side Side) *uint256.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.utilization(side)
}

// InstantRate returns the side's current per-second rate.
func (b *Book) InstantRate(side Side) *uint256.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.instantRate(side)
}

// AnnualRate returns the side's current annualized rate.
func (b *Book) AnnualRate(side Side) *uint256.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.annualRate(side)
}

// TimeWeightedRate returns the side's rate integral brought current.
func (b *Book) TimeWeightedRate(side Side) *uint256.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accrue()
	return b.twir[side].Clone()
}
