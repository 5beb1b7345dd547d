package book

import (
	"fmt"

	"github.com/holiman/uint256"
)

// CheckInvariants verifies the book's global accounting against the entity
// tables. Exercised by tests after every step of the cascade sequences and
// exposed on the node's debug surface.
//
// Checked:
//   - per side, totalBorrow <= totalAssets (solvency)
//   - per side, totalAssets equals the sum of order quantities
//   - per side, totalBorrow equals the sum of position debt
//   - per order, lent assets never exceed the order's quantity
//   - every slot reference resolves to an existing entity
func (b *Book) CheckInvariants() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, side := range [2]Side{Buy, Sell} {
		if b.totalBorrow[side].Gt(b.totalAssets[side]) {
			return fmt.Errorf("solvency broken on %s: borrow %s > assets %s",
				side, b.totalBorrow[side].Dec(), b.totalAssets[side].Dec())
		}
	}

	for _, side := range [2]Side{Buy, Sell} {
		assets := new(uint256.Int)
		borrow := new(uint256.Int)
		for _, o := range b.orders {
			if o.Side == side {
				assets.Add(assets, o.Quantity)
			}
		}
		for _, p := range b.positions {
			o, ok := b.orders[p.OrderID]
			if !ok {
				return fmt.Errorf("position %d references missing order %d", p.ID, p.OrderID)
			}
			if o.Side == side {
				borrow.Add(borrow, p.Borrowed)
			}
		}
		if !assets.Eq(b.totalAssets[side]) {
			return fmt.Errorf("%s assets drift: table %s, aggregate %s",
				side, assets.Dec(), b.totalAssets[side].Dec())
		}
		if !borrow.Eq(b.totalBorrow[side]) {
			return fmt.Errorf("%s borrow drift: table %s, aggregate %s",
				side, borrow.Dec(), b.totalBorrow[side].Dec())
		}
	}

	for _, o := range b.orders {
		if b.lentAssets(o).Gt(o.Quantity) {
			return fmt.Errorf("order %d lent %s exceeds quantity %s",
				o.ID, b.lentAssets(o).Dec(), o.Quantity.Dec())
		}
		for _, pid := range o.Positions {
			if pid == 0 {
				continue
			}
			if _, ok := b.positions[pid]; !ok {
				return fmt.Errorf("order %d references missing position %d", o.ID, pid)
			}
		}
	}

	for addr, u := range b.users {
		for _, oid := range u.Deposits {
			if oid == 0 {
				continue
			}
			if _, ok := b.orders[oid]; !ok {
				return fmt.Errorf("user %s references missing order %d", addr.Hex(), oid)
			}
		}
		for _, oid := range u.BorrowsFrom {
			if oid == 0 {
				continue
			}
			if _, ok := b.orders[oid]; !ok {
				return fmt.Errorf("user %s borrows from missing order %d", addr.Hex(), oid)
			}
		}
	}

	return nil
}
