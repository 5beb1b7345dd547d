package wad

import (
	"testing"

	"github.com/holiman/uint256"
)

func TestMulDivRounding(t *testing.T) {
	// 10 / 3 in fixed point: down truncates, up adds one ulp.
	x := FromUnits(10)
	d := FromUnits(3)

	down := MulDivDown(x, One, d)
	up := MulDivUp(x, One, d)

	diff := new(uint256.Int).Sub(up, down)
	if !diff.Eq(uint256.NewInt(1)) {
		t.Errorf("up - down = %s, want 1 ulp", diff.Dec())
	}

	// Exact division rounds identically in both directions.
	exactDown := MulDivDown(FromUnits(10), One, FromUnits(2))
	exactUp := MulDivUp(FromUnits(10), One, FromUnits(2))
	if !exactDown.Eq(exactUp) {
		t.Errorf("exact division disagrees: down %s, up %s", exactDown.Dec(), exactUp.Dec())
	}
	if !exactDown.Eq(FromUnits(5)) {
		t.Errorf("10/2 = %s, want 5", exactDown.Dec())
	}
}

func TestMulDown(t *testing.T) {
	// 1.5 * 2 = 3
	x := new(uint256.Int).Add(One, new(uint256.Int).Div(One, uint256.NewInt(2)))
	got := MulDown(x, FromUnits(2))
	if !got.Eq(FromUnits(3)) {
		t.Errorf("1.5 * 2 = %s, want 3", got.Dec())
	}
}

func TestDivUpNeverBelowDivDown(t *testing.T) {
	cases := []struct{ x, y uint64 }{
		{1, 3}, {2, 3}, {100, 7}, {900, 90}, {1, 1_000_000},
	}
	for _, c := range cases {
		x, y := FromUnits(c.x), FromUnits(c.y)
		down, up := DivDown(x, y), DivUp(x, y)
		if up.Lt(down) {
			t.Errorf("DivUp(%d,%d) < DivDown", c.x, c.y)
		}
		gap := new(uint256.Int).Sub(up, down)
		if gap.Gt(uint256.NewInt(1)) {
			t.Errorf("DivUp - DivDown = %s for %d/%d, want <= 1", gap.Dec(), c.x, c.y)
		}
	}
}

func TestFromBps(t *testing.T) {
	// 100 bps = 1% = 0.01 in fixed point
	got := FromBps(100)
	want := new(uint256.Int).Div(One, uint256.NewInt(100))
	if !got.Eq(want) {
		t.Errorf("FromBps(100) = %s, want %s", got.Dec(), want.Dec())
	}
	if !FromBps(10_000).Eq(One) {
		t.Errorf("FromBps(10000) = %s, want 1.0", FromBps(10_000).Dec())
	}
}

func TestExpMinusOneZero(t *testing.T) {
	if got := ExpMinusOne(new(uint256.Int)); !got.IsZero() {
		t.Errorf("ExpMinusOne(0) = %s, want 0", got.Dec())
	}
}

func TestExpMinusOneSmallRates(t *testing.T) {
	// For small x, e^x - 1 is slightly above x and well below 2x.
	for _, bps := range []uint64{1, 10, 100, 500} {
		x := FromBps(bps)
		got := ExpMinusOne(x)
		if got.Lt(x) {
			t.Errorf("ExpMinusOne(%d bps) = %s below its argument", bps, got.Dec())
		}
		twice := new(uint256.Int).Add(x, x)
		if got.Gt(twice) {
			t.Errorf("ExpMinusOne(%d bps) = %s implausibly large", bps, got.Dec())
		}
	}
}

func TestExpMinusOneMonotonic(t *testing.T) {
	prev := new(uint256.Int)
	for _, bps := range []uint64{10, 100, 1000, 5000, 10_000} {
		got := ExpMinusOne(FromBps(bps))
		if !got.Gt(prev) {
			t.Errorf("ExpMinusOne not increasing at %d bps: %s", bps, got.Dec())
		}
		prev = got
	}
}

func TestExpMinusOneOneYearAtFullRate(t *testing.T) {
	// e^1 - 1 ~= 1.718; the truncated expansion must land close below it.
	got := ExpMinusOne(One)
	low := FromBps(17_100)  // 1.71
	high := FromBps(17_200) // 1.72
	if got.Lt(low) || got.Gt(high) {
		t.Errorf("ExpMinusOne(1.0) = %s, want within [1.71, 1.72]", got.Dec())
	}
}

func TestMinReturnsClone(t *testing.T) {
	a := FromUnits(5)
	b := FromUnits(7)
	m := Min(a, b)
	if !m.Eq(a) {
		t.Fatalf("Min = %s, want 5", m.Dec())
	}
	m.Add(m, One)
	if !a.Eq(FromUnits(5)) {
		t.Error("Min must not alias its arguments")
	}
}
