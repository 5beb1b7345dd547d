package book

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Borrow draws quantity from a borrowable order against the caller's
// opposite-side deposits. The draw must be outable from the order, covered
// by the lending maker's excess collateral (lent liquidity must not be
// collateral the maker needs elsewhere), and secured by the borrower's
// excess collateral on the opposite side at the order's price. Repeat
// borrows from the same order merge into the existing position after its
// pending interest is folded in. The borrower is credited through the
// external ledger.
func (b *Book) Borrow(borrower common.Address, id OrderID, quantity *uint256.Int) (PositionID, error) {
	if quantity == nil || quantity.IsZero() {
		return 0, fmt.Errorf("%w: borrow quantity must be positive", ErrInvalidInput)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	o, err := b.order(id)
	if err != nil {
		return 0, err
	}
	if o.IsEmpty() {
		return 0, fmt.Errorf("%w: order %d is empty", ErrStateViolation, id)
	}
	if !o.Borrowable {
		return 0, fmt.Errorf("%w: order %d", ErrNotBorrowable, id)
	}

	b.accrue()
	b.accrueOrderPositions(o)

	if !b.outable(o, quantity) {
		return 0, fmt.Errorf("%w: %s not removable from order %d", ErrInvalidInput, quantity.Dec(), id)
	}
	if quantity.Gt(b.excessCollateral(o.Maker, o.Side)) {
		return 0, fmt.Errorf("%w: lender needs order %d as collateral", ErrInsufficientCollateral, id)
	}
	required := convert(quantity, o.Side, o.Price, true)
	if required.Gt(b.excessCollateral(borrower, o.Side.Opposite())) {
		return 0, fmt.Errorf("%w: borrow requires %s %s collateral", ErrInsufficientCollateral,
			required.Dec(), o.Side.Opposite())
	}

	u := b.user(borrower)
	existing := b.findPosition(o, borrower)

	var posSlot, borrowSlot int
	if existing == nil {
		posSlot = b.freePositionSlot(o)
		if posSlot < 0 {
			return 0, ErrMaxPositionsReached
		}
	}
	borrowSlot = b.borrowSlotFor(u, id)
	if borrowSlot < 0 {
		return 0, ErrMaxBorrowingsReached
	}

	var pid PositionID
	if existing != nil {
		// Pending interest already folded by accrueOrderPositions; the merge
		// is a plain principal increase at the current rate index.
		existing.Borrowed.Add(existing.Borrowed, quantity)
		pid = existing.ID
	} else {
		b.nextPos++
		pid = b.nextPos
		p := &Position{
			ID:        pid,
			Borrower:  borrower,
			OrderID:   id,
			Borrowed:  quantity.Clone(),
			RateIndex: b.twir[o.Side].Clone(),
		}
		b.positions[pid] = p
		o.Positions[posSlot] = pid
	}
	u.BorrowsFrom[borrowSlot] = id
	b.totalBorrow[o.Side].Add(b.totalBorrow[o.Side], quantity)

	if err := b.ledger.Credit(o.Side, borrower, quantity); err != nil {
		return 0, fmt.Errorf("borrow credit: %w", err)
	}

	b.log.Infow("borrow",
		"borrower", borrower.Hex(), "order", id, "position", pid, "quantity", quantity.Dec())
	b.emit(Event{Type: EventBorrow, Actor: borrower, Side: o.Side, OrderID: id, PositionID: pid, Amount: quantity.Clone()})
	observeAction("borrow")
	return pid, nil
}

// freePositionSlot returns the first reusable position slot on the order:
// never used, or referencing a position with no remaining debt.
func (b *Book) freePositionSlot(o *Order) int {
	for i, pid := range o.Positions {
		if pid == 0 {
			return i
		}
		if p := b.positions[pid]; p == nil || !p.IsActive() {
			return i
		}
	}
	return -1
}

// borrowSlotFor returns the slot already holding the order id, else the
// first reusable slot: never used, or whose referenced borrowing is closed.
func (b *Book) borrowSlotFor(u *User, id OrderID) int {
	for i, oid := range u.BorrowsFrom {
		if oid == id {
			return i
		}
	}
	for i, oid := range u.BorrowsFrom {
		if oid == 0 {
			return i
		}
		o := b.orders[oid]
		if o == nil {
			return i
		}
		if p := b.findPosition(o, u.Address); p == nil || !p.IsActive() {
			return i
		}
	}
	return -1
}

// Repay retires up to the position's full debt. Interest is flattened into
// the principal first, so the repayment applies to the current total. The
// caller is debited through the external ledger.
func (b *Book) Repay(borrower common.Address, id PositionID, quantity *uint256.Int) error {
	if quantity == nil || quantity.IsZero() {
		return fmt.Errorf("%w: repay quantity must be positive", ErrInvalidInput)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	p, err := b.position(id)
	if err != nil {
		return err
	}
	if p.Borrower != borrower {
		return fmt.Errorf("%w: position %d", ErrNotBorrower, id)
	}
	if !p.IsActive() {
		return fmt.Errorf("%w: position %d is closed", ErrStateViolation, id)
	}

	b.accrue()
	b.accruePosition(p)

	if quantity.Gt(p.Borrowed) {
		return fmt.Errorf("%w: repay %s exceeds debt %s", ErrInvalidInput, quantity.Dec(), p.Borrowed.Dec())
	}

	side := b.orders[p.OrderID].Side
	if err := b.ledger.Debit(side, borrower, quantity); err != nil {
		return fmt.Errorf("repay debit: %w", err)
	}

	if err := checkedSub(p.Borrowed, quantity, "position debt"); err != nil {
		return err
	}
	if err := checkedSub(b.totalBorrow[side], quantity, "total borrow"); err != nil {
		return err
	}

	b.log.Infow("repay", "borrower", borrower.Hex(), "position", id, "quantity", quantity.Dec())
	b.emit(Event{Type: EventRepay, Actor: borrower, Side: side, OrderID: p.OrderID, PositionID: id, Amount: quantity.Clone()})
	observeAction("repay")
	return nil
}
