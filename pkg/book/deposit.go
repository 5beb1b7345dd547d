package book

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/lendbook/lendbook/pkg/wad"
)

var (
	pairedDefaultUp   = uint256.NewInt(1_100_000_000_000_000_000) // 110%
	pairedDefaultDown = uint256.NewInt(900_000_000_000_000_000)   // 90%
)

// DepositArgs describes a new or repeat deposit. A nil or zero PairedPrice
// defaults to the limit price +-10% in the side-consistent direction.
type DepositArgs struct {
	Quantity    *uint256.Int
	Price       *uint256.Int
	PairedPrice *uint256.Int
	Side        Side
	Borrowable  bool
}

// Deposit places quantity behind a resting order at (price, pairedPrice,
// side). A deposit at terms identical to one of the maker's live orders
// merges into it; otherwise the quantity must clear the side's minimum and
// a deposit slot must be free. The maker's assets are debited through the
// external ledger.
func (b *Book) Deposit(maker common.Address, args DepositArgs) (OrderID, error) {
	if args.Quantity == nil || args.Quantity.IsZero() {
		return 0, fmt.Errorf("%w: deposit quantity must be positive", ErrInvalidInput)
	}
	if args.Price == nil || args.Price.IsZero() {
		return 0, fmt.Errorf("%w: price must be positive", ErrInvalidInput)
	}
	paired := args.PairedPrice
	if paired == nil || paired.IsZero() {
		if args.Side == Buy {
			paired = wad.MulUp(args.Price, pairedDefaultUp)
		} else {
			paired = wad.MulDown(args.Price, pairedDefaultDown)
		}
	} else if err := checkPricePairing(args.Side, args.Price, paired); err != nil {
		return 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.accrue()

	u := b.user(maker)

	// Merge when the maker already has a live order at these exact terms.
	// Zero-quantity orders are deleted state, not merge targets: a deposit at
	// their terms is a fresh order and must clear the side minimum.
	var target *Order
	for _, oid := range u.Deposits {
		if oid == 0 {
			continue
		}
		o := b.orders[oid]
		if o == nil || o.Side != args.Side || o.IsEmpty() {
			continue
		}
		if o.Price.Eq(args.Price) && o.PairedPrice.Eq(paired) {
			target = o
			break
		}
	}

	slot := -1
	if target == nil {
		if args.Quantity.Lt(b.params.MinDeposit[args.Side]) {
			return 0, fmt.Errorf("%w: deposit %s below side minimum %s",
				ErrInvalidInput, args.Quantity.Dec(), b.params.MinDeposit[args.Side].Dec())
		}
		slot = b.freeDepositSlot(u)
		if slot < 0 {
			return 0, ErrMaxOrdersReached
		}
	}

	// Debit is the only fallible external step; everything after it is pure
	// bookkeeping, so a failed debit leaves no partial state.
	if err := b.ledger.Debit(args.Side, maker, args.Quantity); err != nil {
		return 0, fmt.Errorf("deposit debit: %w", err)
	}

	var id OrderID
	if target != nil {
		target.Quantity.Add(target.Quantity, args.Quantity)
		id = target.ID
	} else {
		b.nextOrder++
		id = b.nextOrder
		o := &Order{
			ID:          id,
			Maker:       maker,
			Side:        args.Side,
			Quantity:    args.Quantity.Clone(),
			Price:       args.Price.Clone(),
			PairedPrice: paired.Clone(),
			Borrowable:  args.Borrowable,
			Positions:   make([]PositionID, b.params.MaxPositions),
		}
		b.orders[id] = o
		u.Deposits[slot] = id
	}
	b.totalAssets[args.Side].Add(b.totalAssets[args.Side], args.Quantity)

	b.log.Infow("deposit",
		"maker", maker.Hex(), "order", id, "side", args.Side.String(),
		"quantity", args.Quantity.Dec(), "price", args.Price.Dec())
	b.emit(Event{Type: EventDeposit, Actor: maker, Side: args.Side, OrderID: id, Amount: args.Quantity.Clone()})
	observeAction("deposit")
	return id, nil
}

// freeDepositSlot returns the first reusable deposit slot: never used, or
// referencing an order that has been zeroed out.
func (b *Book) freeDepositSlot(u *User) int {
	for i, oid := range u.Deposits {
		if oid == 0 {
			return i
		}
		if o := b.orders[oid]; o == nil || o.IsEmpty() {
			return i
		}
	}
	return -1
}

// Withdraw removes quantity from the caller's order. The quantity must be
// outable (minimum-residual rule) and covered by the maker's excess
// collateral so the withdrawal cannot undercollateralize the maker's own
// debt elsewhere. The caller is credited through the external ledger.
func (b *Book) Withdraw(maker common.Address, id OrderID, quantity *uint256.Int) error {
	if quantity == nil || quantity.IsZero() {
		return fmt.Errorf("%w: withdraw quantity must be positive", ErrInvalidInput)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	o, err := b.order(id)
	if err != nil {
		return err
	}
	if o.Maker != maker {
		return fmt.Errorf("%w: order %d", ErrNotMaker, id)
	}

	b.accrue()
	b.accrueOrderPositions(o)

	if !b.outable(o, quantity) {
		return fmt.Errorf("%w: %s not removable from order %d", ErrInvalidInput, quantity.Dec(), id)
	}
	if quantity.Gt(b.excessCollateral(maker, o.Side)) {
		return fmt.Errorf("%w: withdraw %s exceeds excess collateral", ErrInsufficientCollateral, quantity.Dec())
	}

	if err := checkedSub(o.Quantity, quantity, "order quantity"); err != nil {
		return err
	}
	if err := checkedSub(b.totalAssets[o.Side], quantity, "total assets"); err != nil {
		return err
	}

	if err := b.ledger.Credit(o.Side, maker, quantity); err != nil {
		return fmt.Errorf("withdraw credit: %w", err)
	}

	b.log.Infow("withdraw", "maker", maker.Hex(), "order", id, "quantity", quantity.Dec())
	b.emit(Event{Type: EventWithdraw, Actor: maker, Side: o.Side, OrderID: id, Amount: quantity.Clone()})
	observeAction("withdraw")
	return nil
}

// ChangeLimitPrice re-prices the caller's order. Forbidden while the order
// funds any debt, since the limit price values that debt's collateral.
func (b *Book) ChangeLimitPrice(maker common.Address, id OrderID, price *uint256.Int) error {
	if price == nil || price.IsZero() {
		return fmt.Errorf("%w: price must be positive", ErrInvalidInput)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	o, err := b.order(id)
	if err != nil {
		return err
	}
	if o.Maker != maker {
		return fmt.Errorf("%w: order %d", ErrNotMaker, id)
	}
	if !b.lentAssets(o).IsZero() {
		return fmt.Errorf("%w: order %d has active lending", ErrStateViolation, id)
	}
	if err := checkPricePairing(o.Side, price, o.PairedPrice); err != nil {
		return err
	}

	b.accrue()
	o.Price = price.Clone()

	b.emit(Event{Type: EventLimitPriceChange, Actor: maker, Side: o.Side, OrderID: id, Amount: price.Clone()})
	observeAction("change_limit_price")
	return nil
}

// ChangePairedPrice updates the order's paired price, keeping the pairing
// side-consistent.
func (b *Book) ChangePairedPrice(maker common.Address, id OrderID, paired *uint256.Int) error {
	if paired == nil || paired.IsZero() {
		return fmt.Errorf("%w: paired price must be positive", ErrInvalidInput)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	o, err := b.order(id)
	if err != nil {
		return err
	}
	if o.Maker != maker {
		return fmt.Errorf("%w: order %d", ErrNotMaker, id)
	}
	if err := checkPricePairing(o.Side, o.Price, paired); err != nil {
		return err
	}

	b.accrue()
	o.PairedPrice = paired.Clone()

	b.emit(Event{Type: EventPairedPriceChange, Actor: maker, Side: o.Side, OrderID: id, Amount: paired.Clone()})
	observeAction("change_paired_price")
	return nil
}

// SetBorrowable toggles whether the order's liquidity can be borrowed.
func (b *Book) SetBorrowable(maker common.Address, id OrderID, borrowable bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, err := b.order(id)
	if err != nil {
		return err
	}
	if o.Maker != maker {
		return fmt.Errorf("%w: order %d", ErrNotMaker, id)
	}

	o.Borrowable = borrowable

	b.emit(Event{Type: EventBorrowableChange, Actor: maker, Side: o.Side, OrderID: id})
	observeAction("set_borrowable")
	return nil
}
