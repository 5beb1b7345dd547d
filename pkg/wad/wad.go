// Package wad implements 18-decimal fixed-point arithmetic on 256-bit
// unsigned integers. Every operation that can lose precision takes an
// explicit rounding direction; callers choose the direction that is
// conservative for the protocol.
package wad

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Decimals is the fixed-point scale. 1.0 == 10^18.
const Decimals = 18

// One is the fixed-point unit (10^18).
var One = uint256.NewInt(1_000_000_000_000_000_000)

// FromUnits converts n whole units into fixed-point (n * 10^18).
func FromUnits(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), One)
}

// FromBps converts basis points into a fixed-point fraction
// (1 bps == 10^14, so 10000 bps == One).
func FromBps(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(100_000_000_000_000))
}

// MulDivDown returns floor(x*y/d). Panics on division by zero or 256-bit
// overflow of the quotient; neither is reachable for in-range book values.
func MulDivDown(x, y, d *uint256.Int) *uint256.Int {
	if d.IsZero() {
		panic("wad: division by zero")
	}
	z := new(uint256.Int)
	if _, overflow := z.MulDivOverflow(x, y, d); overflow {
		panic(fmt.Sprintf("wad: muldiv overflow: %s * %s / %s", x.Dec(), y.Dec(), d.Dec()))
	}
	return z
}

// MulDivUp returns ceil(x*y/d).
func MulDivUp(x, y, d *uint256.Int) *uint256.Int {
	z := MulDivDown(x, y, d)
	rem := new(uint256.Int).MulMod(x, y, d)
	if !rem.IsZero() {
		z.AddUint64(z, 1)
	}
	return z
}

// MulDown returns floor(x*y / One).
func MulDown(x, y *uint256.Int) *uint256.Int { return MulDivDown(x, y, One) }

// MulUp returns ceil(x*y / One).
func MulUp(x, y *uint256.Int) *uint256.Int { return MulDivUp(x, y, One) }

// DivDown returns floor(x*One / y).
func DivDown(x, y *uint256.Int) *uint256.Int { return MulDivDown(x, One, y) }

// DivUp returns ceil(x*One / y).
func DivUp(x, y *uint256.Int) *uint256.Int { return MulDivUp(x, One, y) }

// expTerms bounds the Taylor series below. Eight terms keep the relative
// error under 1e-9 for x <= 1.0, far beyond the rate*time products the
// book produces between consecutive touches.
const expTerms = 8

// ExpMinusOne approximates e^x - 1 for fixed-point x via a bounded Taylor
// series: x + x^2/2! + ... + x^8/8!. It is monotonic in x, returns exactly
// zero for x == 0, and never underflows to zero for positive x since the
// linear term is carried at full precision.
func ExpMinusOne(x *uint256.Int) *uint256.Int {
	sum := x.Clone()
	term := x.Clone()
	for i := uint64(2); i <= expTerms; i++ {
		term = MulDown(term, x)
		term.Div(term, uint256.NewInt(i))
		if term.IsZero() {
			break
		}
		sum.Add(sum, term)
	}
	return sum
}

// Min returns the smaller of a and b (shared, not aliased).
func Min(a, b *uint256.Int) *uint256.Int {
	if a.Cmp(b) <= 0 {
		return a.Clone()
	}
	return b.Clone()
}
