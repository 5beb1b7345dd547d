package book

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// userTotalDeposit sums the quantities of the user's orders on one side.
func (b *Book) userTotalDeposit(u *User, side Side) *uint256.Int {
	total := new(uint256.Int)
	for _, oid := range u.Deposits {
		if oid == 0 {
			continue
		}
		if o := b.orders[oid]; o != nil && o.Side == side {
			total.Add(total, o.Quantity)
		}
	}
	return total
}

// userLentOut sums the debt owed to the user as a lender on one side: the
// borrowed assets of every position funded by the user's orders on that
// side. Lent assets are not withdrawable, so this reduces excess collateral.
func (b *Book) userLentOut(u *User, side Side) *uint256.Int {
	total := new(uint256.Int)
	for _, oid := range u.Deposits {
		if oid == 0 {
			continue
		}
		o := b.orders[oid]
		if o == nil || o.Side != side {
			continue
		}
		for _, pid := range o.Positions {
			if pid == 0 {
				continue
			}
			if p := b.positions[pid]; p != nil && p.IsActive() {
				b.accruePosition(p)
				total.Add(total, p.Borrowed)
			}
		}
	}
	return total
}

// neededCollateral sums, over the user's borrow slots whose lent order sits
// on the opposite side of side, the position's debt converted to side at
// the order's fill price, rounded up (conservative for the protocol).
// Positions are interest-accrued before being read. Callers must have run
// accrue() in the same action.
func (b *Book) neededCollateral(addr common.Address, side Side) *uint256.Int {
	needed := new(uint256.Int)
	u, ok := b.users[addr]
	if !ok {
		return needed
	}
	for _, oid := range u.BorrowsFrom {
		if oid == 0 {
			continue
		}
		o := b.orders[oid]
		if o == nil || o.Side != side.Opposite() {
			continue
		}
		p := b.findPosition(o, addr)
		if p == nil || !p.IsActive() {
			continue
		}
		b.accruePosition(p)
		needed.Add(needed, convert(p.Borrowed, o.Side, o.Price, true))
	}
	return needed
}

// excessCollateral is max(0, deposits - lentOut - needed) for the user on
// one side: what the user could withdraw or pledge without endangering
// either the debt owed to them or the debt they owe. The max(0,...) clamp
// is part of the definition, not an underflow recovery. Valid only after a
// fresh accrue() pass.
func (b *Book) excessCollateral(addr common.Address, side Side) *uint256.Int {
	u, ok := b.users[addr]
	if !ok {
		return new(uint256.Int)
	}
	total := b.userTotalDeposit(u, side)
	claims := b.userLentOut(u, side)
	claims.Add(claims, b.neededCollateral(addr, side))
	if claims.Gt(total) {
		return new(uint256.Int)
	}
	return total.Sub(total, claims)
}

// findPosition scans the order's bounded position slots for the borrower.
func (b *Book) findPosition(o *Order, borrower common.Address) *Position {
	for _, pid := range o.Positions {
		if pid == 0 {
			continue
		}
		if p := b.positions[pid]; p != nil && p.Borrower == borrower {
			return p
		}
	}
	return nil
}

// ---- collateral views ------------------------------------------------------

// ExcessCollateral brings interest current and returns the user's excess
// collateral on the side.
func (b *Book) ExcessCollateral(addr common.Address, side Side) *uint256.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accrue()
	return b.excessCollateral(addr, side)
}

// NeededCollateral brings interest current and returns the collateral the
// user's opposite-side debt requires on the side.
func (b *Book) NeededCollateral(addr common.Address, side Side) *uint256.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accrue()
	return b.neededCollateral(addr, side)
}

// UserTotalDeposit returns the sum of the user's order quantities on a side.
func (b *Book) UserTotalDeposit(addr common.Address, side Side) *uint256.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	u, ok := b.users[addr]
	if !ok {
		return new(uint256.Int)
	}
	return b.userTotalDeposit(u, side)
}

// UserTotalBorrow returns the debt owed to the user as a lender on a side,
// interest brought current.
func (b *Book) UserTotalBorrow(addr common.Address, side Side) *uint256.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	u, ok := b.users[addr]
	if !ok {
		return new(uint256.Int)
	}
	b.accrue()
	return b.userLentOut(u, side)
}
