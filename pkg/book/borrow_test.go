package book

import (
	"errors"
	"testing"

	"github.com/lendbook/lendbook/pkg/wad"
)

// lendingScenario is the canonical fixture: alice lends 2000 quote behind a
// buy order at 90, bob posts 30 base behind a sell order at 110 and borrows
// 900 quote. 900 quote at price 90 requires 10 base of collateral.
func lendingScenario(t *testing.T, e *testEnv) (lendOrder, collOrder OrderID, pos PositionID) {
	t.Helper()
	e.fund(alice, Buy, 2000)
	e.fund(bob, Sell, 30)

	lendOrder = e.mustDeposit(t, alice, DepositArgs{
		Quantity: wad.FromUnits(2000), Price: wad.FromUnits(90), Side: Buy, Borrowable: true,
	})
	collOrder = e.mustDeposit(t, bob, DepositArgs{
		Quantity: wad.FromUnits(30), Price: wad.FromUnits(110), Side: Sell,
	})

	pos, err := e.book.Borrow(bob, lendOrder, wad.FromUnits(900))
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	return lendOrder, collOrder, pos
}

func TestBorrowCreatesPosition(t *testing.T) {
	e := newTestEnv(t, DefaultParams())
	lendOrder, _, pos := lendingScenario(t, e)

	p, err := e.book.GetPosition(pos)
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	eq(t, p.Borrowed, 900, "position debt")
	if p.OrderID != lendOrder {
		t.Errorf("position order: got %d, want %d", p.OrderID, lendOrder)
	}

	eq(t, e.vault.BalanceOf(Buy, bob), 900, "bob vault quote after borrow")
	eq(t, e.book.TotalBorrow(Buy), 900, "total buy borrow")

	// UR = 900 / 2000 = 45%
	ur := e.book.UtilizationRate(Buy)
	if !ur.Eq(wad.FromBps(4500)) {
		t.Errorf("utilization: got %s, want 0.45", ur.Dec())
	}

	// The lent assets stay in the order's quantity; only withdrawal capacity
	// shrinks.
	o, _ := e.book.GetOrder(lendOrder)
	eq(t, o.Quantity, 2000, "lend order quantity")
	lent, _ := e.book.AssetsLentByOrder(lendOrder)
	eq(t, lent, 900, "lend order lent assets")
	e.checkInvariants(t)
}

func TestBorrowCollateralAccounting(t *testing.T) {
	e := newTestEnv(t, DefaultParams())
	lendOrder, _, pos := lendingScenario(t, e)

	// 900 quote at price 90 needs 10 base; bob keeps 20 excess of his 30.
	eq(t, e.book.NeededCollateral(bob, Sell), 10, "bob needed base collateral")
	eq(t, e.book.ExcessCollateral(bob, Sell), 20, "bob excess base collateral")

	// Alice's lent-out quote is not withdrawable.
	eq(t, e.book.ExcessCollateral(alice, Buy), 1100, "alice excess quote")
	if err := e.book.Withdraw(alice, lendOrder, wad.FromUnits(1200)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("withdraw past lent assets: got %v", err)
	}

	// Repaying 450 frees half of everything.
	if err := e.book.Repay(bob, pos, wad.FromUnits(450)); err != nil {
		t.Fatalf("repay: %v", err)
	}
	eq(t, e.book.NeededCollateral(bob, Sell), 5, "bob needed after repay")
	eq(t, e.book.ExcessCollateral(bob, Sell), 25, "bob excess after repay")
	eq(t, e.book.ExcessCollateral(alice, Buy), 1550, "alice excess after repay")
	e.checkInvariants(t)
}

func TestBorrowValidation(t *testing.T) {
	e := newTestEnv(t, DefaultParams())
	e.fund(alice, Buy, 2000)
	e.fund(bob, Sell, 30)

	locked := e.mustDeposit(t, alice, DepositArgs{
		Quantity: wad.FromUnits(2000), Price: wad.FromUnits(90), Side: Buy,
	})
	e.mustDeposit(t, bob, DepositArgs{
		Quantity: wad.FromUnits(30), Price: wad.FromUnits(110), Side: Sell,
	})

	// Not flagged borrowable.
	if _, err := e.book.Borrow(bob, locked, wad.FromUnits(100)); !errors.Is(err, ErrNotBorrowable) {
		t.Fatalf("borrow from locked order: got %v", err)
	}

	if err := e.book.SetBorrowable(alice, locked, true); err != nil {
		t.Fatalf("set borrowable: %v", err)
	}

	// 2000 quote at price 90 would need 22.3 base; bob only has 30 total but
	// the draw is fine. Carol with no deposits has zero collateral.
	if _, err := e.book.Borrow(carol, locked, wad.FromUnits(100)); !errors.Is(err, ErrInsufficientCollateral) {
		t.Fatalf("uncollateralized borrow: got %v", err)
	}

	// A draw stranding a sub-minimum residue is rejected like a withdrawal.
	if _, err := e.book.Borrow(bob, locked, wad.FromUnits(1950)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("sub-minimum residue borrow: got %v", err)
	}
}

func TestBorrowMergesExistingPosition(t *testing.T) {
	e := newTestEnv(t, DefaultParams())
	e.fund(alice, Buy, 2000)
	e.fund(bob, Sell, 30)

	lendOrder := e.mustDeposit(t, alice, DepositArgs{
		Quantity: wad.FromUnits(2000), Price: wad.FromUnits(90), Side: Buy, Borrowable: true,
	})
	e.mustDeposit(t, bob, DepositArgs{
		Quantity: wad.FromUnits(30), Price: wad.FromUnits(110), Side: Sell,
	})

	pos1, err := e.book.Borrow(bob, lendOrder, wad.FromUnits(400))
	if err != nil {
		t.Fatalf("first borrow: %v", err)
	}
	pos2, err := e.book.Borrow(bob, lendOrder, wad.FromUnits(500))
	if err != nil {
		t.Fatalf("second borrow: %v", err)
	}
	if pos1 != pos2 {
		t.Fatalf("repeat borrow should merge: got positions %d and %d", pos1, pos2)
	}
	p, _ := e.book.GetPosition(pos1)
	eq(t, p.Borrowed, 900, "merged debt")
	eq(t, e.book.TotalBorrow(Buy), 900, "total borrow after merge")
	e.checkInvariants(t)
}

func TestBorrowPositionCapacity(t *testing.T) {
	p := DefaultParams()
	p.MaxPositions = 1
	e := newTestEnv(t, p)
	e.fund(alice, Buy, 2000)
	e.fund(bob, Sell, 30)
	e.fund(carol, Sell, 30)

	lendOrder := e.mustDeposit(t, alice, DepositArgs{
		Quantity: wad.FromUnits(2000), Price: wad.FromUnits(90), Side: Buy, Borrowable: true,
	})
	e.mustDeposit(t, bob, DepositArgs{
		Quantity: wad.FromUnits(30), Price: wad.FromUnits(110), Side: Sell,
	})
	e.mustDeposit(t, carol, DepositArgs{
		Quantity: wad.FromUnits(30), Price: wad.FromUnits(111), Side: Sell,
	})

	if _, err := e.book.Borrow(bob, lendOrder, wad.FromUnits(300)); err != nil {
		t.Fatalf("first borrower: %v", err)
	}
	if _, err := e.book.Borrow(carol, lendOrder, wad.FromUnits(300)); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("second borrower on full order: got %v", err)
	}
}

func TestRepayValidation(t *testing.T) {
	e := newTestEnv(t, DefaultParams())
	_, _, pos := lendingScenario(t, e)

	if err := e.book.Repay(bob, pos, wad.FromUnits(1000)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("overpay: got %v", err)
	}
	if err := e.book.Repay(carol, pos, wad.FromUnits(100)); !errors.Is(err, ErrNotBorrower) {
		t.Fatalf("foreign repay: got %v", err)
	}

	// Full repayment closes the position.
	if err := e.book.Repay(bob, pos, wad.FromUnits(900)); err != nil {
		t.Fatalf("full repay: %v", err)
	}
	p, _ := e.book.GetPosition(pos)
	if p.IsActive() {
		t.Error("position should be closed")
	}
	eq(t, e.book.TotalBorrow(Buy), 0, "total borrow after full repay")
	eq(t, e.vault.BalanceOf(Buy, bob), 0, "bob vault after full repay")

	if err := e.book.Repay(bob, pos, wad.FromUnits(1)); !errors.Is(err, ErrStateViolation) {
		t.Fatalf("repay on closed position: got %v", err)
	}
	e.checkInvariants(t)
}

func TestChangeLimitPriceForbiddenWhileLent(t *testing.T) {
	e := newTestEnv(t, DefaultParams())
	lendOrder, _, pos := lendingScenario(t, e)

	if err := e.book.ChangeLimitPrice(alice, lendOrder, wad.FromUnits(95)); !errors.Is(err, ErrStateViolation) {
		t.Fatalf("re-price while lent: got %v", err)
	}

	// After the debt is retired the re-price goes through.
	if err := e.book.Repay(bob, pos, wad.FromUnits(900)); err != nil {
		t.Fatalf("repay: %v", err)
	}
	if err := e.book.ChangeLimitPrice(alice, lendOrder, wad.FromUnits(95)); err != nil {
		t.Fatalf("re-price after repay: %v", err)
	}
}
