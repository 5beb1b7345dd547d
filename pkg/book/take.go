package book

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/lendbook/lendbook/pkg/wad"
)

// TakeReceipt summarizes one fill and its liquidation cascade.
type TakeReceipt struct {
	OrderID OrderID        `json:"orderId"`
	Taker   common.Address `json:"taker"`
	// Quantity of the order's asset delivered to the taker.
	Quantity *uint256.Int `json:"quantity"`
	// Exchanged is the opposite-side amount the taker paid in.
	Exchanged *uint256.Int `json:"exchanged"`
	// WrittenOff is the debt closed across all positions funded by the order.
	WrittenOff *uint256.Int `json:"writtenOff"`
	// Seized is the collateral actually recovered from the borrowers.
	Seized *uint256.Int `json:"seized"`
	// SelfRepaid is the part of the proceeds that retired the maker's own debt.
	SelfRepaid *uint256.Int `json:"selfRepaid"`
	// MakerProceeds is what the maker received: exchanged + seized - selfRepaid.
	MakerProceeds *uint256.Int `json:"makerProceeds"`
}

// Take fills quantity of the order at its limit price and closes every
// position the order funds. quantity may be zero: a zero take is a pure
// liquidation trigger. When the order has active lending the fill is only
// permitted while profitable, protecting lenders from forced unprofitable
// exits.
func (b *Book) Take(taker common.Address, id OrderID, quantity *uint256.Int) (*TakeReceipt, error) {
	if quantity == nil {
		quantity = new(uint256.Int)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	o, err := b.order(id)
	if err != nil {
		return nil, err
	}
	if o.IsEmpty() {
		return nil, fmt.Errorf("%w: order %d is empty", ErrStateViolation, id)
	}

	b.accrue()
	b.accrueOrderPositions(o)

	if !quantity.IsZero() && !b.outable(o, quantity) {
		return nil, fmt.Errorf("%w: %s not takeable from order %d", ErrInvalidInput, quantity.Dec(), id)
	}
	if !b.lentAssets(o).IsZero() && !b.profitable(o) {
		return nil, fmt.Errorf("%w: order %d funds debt and is not profitable to take", ErrStateViolation, id)
	}

	// The taker pays the price-converted equivalent of what they receive,
	// rounded in the maker's favor. This debit is the only fallible external
	// step and runs before any internal mutation.
	exchanged := convert(quantity, o.Side, o.Price, true)
	if err := b.ledger.Debit(o.Side.Opposite(), taker, exchanged); err != nil {
		return nil, fmt.Errorf("take debit: %w", err)
	}

	rcpt := b.takeLocked(taker, o, quantity, exchanged)

	// Settlement: the taker receives the filled quantity, the maker receives
	// the proceeds net of self-repayment.
	if err := b.ledger.Credit(o.Side, taker, quantity); err != nil {
		return nil, fmt.Errorf("take credit taker: %w", err)
	}
	if err := b.ledger.Credit(o.Side.Opposite(), o.Maker, rcpt.MakerProceeds); err != nil {
		return nil, fmt.Errorf("take credit maker: %w", err)
	}

	b.log.Infow("take",
		"taker", taker.Hex(), "order", id, "quantity", quantity.Dec(),
		"written_off", rcpt.WrittenOff.Dec(), "seized", rcpt.Seized.Dec(),
		"self_repaid", rcpt.SelfRepaid.Dec())
	b.emit(Event{
		Type: EventTake, Actor: taker, Side: o.Side, OrderID: id,
		Amount: quantity.Clone(), WrittenOff: rcpt.WrittenOff.Clone(),
		Seized: rcpt.Seized.Clone(), SelfRepaid: rcpt.SelfRepaid.Clone(),
	})
	observeAction("take")
	return rcpt, nil
}

// takeLocked runs the bookkeeping cascade of a fill. Callers hold the mutex
// and have accrued interest; external movements are theirs to order.
func (b *Book) takeLocked(taker common.Address, o *Order, quantity, exchanged *uint256.Int) *TakeReceipt {
	opp := o.Side.Opposite()

	// 1. Close every position funded by this order, seizing each borrower's
	// opposite-side collateral at the order's price. Coverage can fall short
	// when interest outran the collateral; the shortfall is tolerated here
	// and absorbed by the maker's proceeds.
	writtenOff := new(uint256.Int)
	seized := new(uint256.Int)
	for _, pid := range o.Positions {
		if pid == 0 {
			continue
		}
		p := b.positions[pid]
		if p == nil || !p.IsActive() {
			continue
		}
		debt := p.Borrowed.Clone()
		target := convert(debt, o.Side, o.Price, true)
		got := b.seize(p.Borrower, opp, target)
		p.Borrowed.Clear()
		mustSub(b.totalBorrow[o.Side], debt, "total borrow on write-off")
		writtenOff.Add(writtenOff, debt)
		seized.Add(seized, got)
	}

	// 2. Self-repayment: proceeds of a fill first retire the maker's own
	// debt on the opposite side (exit-priority rule). The budget is the
	// filled quantity plus the written-off debt converted at the order's
	// price, capped by what actually came in so the maker's payout cannot
	// go negative after a seizure shortfall.
	budget := convert(new(uint256.Int).Add(quantity, writtenOff), o.Side, o.Price, false)
	inflow := new(uint256.Int).Add(exchanged, seized)
	budget = wad.Min(budget, inflow)
	selfRepaid := b.selfRepay(o.Maker, opp, budget)

	// 3. Shrink the taken order by the fill plus the written-off debt.
	reduce := new(uint256.Int).Add(quantity, writtenOff)
	mustSub(o.Quantity, reduce, "order quantity on take")
	mustSub(b.totalAssets[o.Side], reduce, "total assets on take")

	proceeds := inflow
	mustSub(proceeds, selfRepaid, "maker proceeds")

	return &TakeReceipt{
		OrderID:       o.ID,
		Taker:         taker,
		Quantity:      quantity.Clone(),
		Exchanged:     exchanged,
		WrittenOff:    writtenOff,
		Seized:        seized,
		SelfRepaid:    selfRepaid,
		MakerProceeds: proceeds,
	}
}

// seize walks the borrower's deposit slots on side s in slot order,
// shrinking orders until target is covered or slots run out. Partial
// coverage is expected when the maker never triggered an interest-based
// liquidation; it is tolerated, not an error. Assets an order has itself
// lent out are not seizable (the order's own positions keep their backing).
func (b *Book) seize(borrower common.Address, s Side, target *uint256.Int) *uint256.Int {
	seized := new(uint256.Int)
	u, ok := b.users[borrower]
	if !ok {
		return seized
	}
	remaining := target.Clone()
	for _, oid := range u.Deposits {
		if remaining.IsZero() {
			break
		}
		if oid == 0 {
			continue
		}
		o := b.orders[oid]
		if o == nil || o.Side != s || o.IsEmpty() {
			continue
		}
		lent := b.lentAssets(o)
		if !lent.Lt(o.Quantity) {
			continue
		}
		available := new(uint256.Int).Sub(o.Quantity, lent)
		amt := wad.Min(remaining, available)
		mustSub(o.Quantity, amt, "collateral order quantity")
		mustSub(b.totalAssets[s], amt, "total assets on seizure")
		remaining.Sub(remaining, amt)
		seized.Add(seized, amt)
	}
	return seized
}

// selfRepay walks the maker's borrow slots, closing or shrinking their
// positions on side s until the budget is exhausted. Returns the amount
// retired.
func (b *Book) selfRepay(maker common.Address, s Side, budget *uint256.Int) *uint256.Int {
	repaid := new(uint256.Int)
	u, ok := b.users[maker]
	if !ok {
		return repaid
	}
	remaining := budget.Clone()
	for _, oid := range u.BorrowsFrom {
		if remaining.IsZero() {
			break
		}
		if oid == 0 {
			continue
		}
		o := b.orders[oid]
		if o == nil || o.Side != s {
			continue
		}
		p := b.findPosition(o, maker)
		if p == nil || !p.IsActive() {
			continue
		}
		b.accruePosition(p)
		amt := wad.Min(remaining, p.Borrowed)
		mustSub(p.Borrowed, amt, "self-repaid position debt")
		mustSub(b.totalBorrow[s], amt, "total borrow on self-repay")
		remaining.Sub(remaining, amt)
		repaid.Add(repaid, amt)
	}
	return repaid
}

// LiquidateReceipt summarizes a liquidation.
type LiquidateReceipt struct {
	PositionID PositionID   `json:"positionId"`
	OrderID    OrderID      `json:"orderId"`
	Debt       *uint256.Int `json:"debt"`
	Fee        *uint256.Int `json:"fee"`
	Seized     *uint256.Int `json:"seized"`
	// Take is set when the order was profitable and the liquidation ran the
	// full take cascade instead of a single-position seizure.
	Take *TakeReceipt `json:"take,omitempty"`
}

// Liquidate closes an undercollateralized position. When the funding order
// is profitable to take, liquidation converges to the take cascade (closing
// every position the order funds). Otherwise only the order's maker may
// liquidate, and only once the borrower's excess collateral on the opposite
// side is exactly zero: all-or-nothing, never earlier. A flat fee is added
// to the debt and the seizure is priced at the external reference feed, with
// the seized collateral going straight to the maker.
func (b *Book) Liquidate(caller common.Address, id PositionID) (*LiquidateReceipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, err := b.position(id)
	if err != nil {
		return nil, err
	}
	if !p.IsActive() {
		return nil, fmt.Errorf("%w: position %d is closed", ErrStateViolation, id)
	}
	o := b.orders[p.OrderID]

	b.accrue()
	b.accrueOrderPositions(o)

	if b.profitable(o) {
		// A profitable funded order liquidates everyone through take.
		rcpt := b.takeLocked(caller, o, new(uint256.Int), new(uint256.Int))
		if err := b.ledger.Credit(o.Side.Opposite(), o.Maker, rcpt.MakerProceeds); err != nil {
			return nil, fmt.Errorf("liquidate credit maker: %w", err)
		}
		b.log.Infow("liquidate_via_take",
			"caller", caller.Hex(), "position", id, "order", o.ID,
			"written_off", rcpt.WrittenOff.Dec(), "seized", rcpt.Seized.Dec())
		b.emit(Event{
			Type: EventLiquidate, Actor: caller, Side: o.Side, OrderID: o.ID, PositionID: id,
			WrittenOff: rcpt.WrittenOff.Clone(), Seized: rcpt.Seized.Clone(), SelfRepaid: rcpt.SelfRepaid.Clone(),
		})
		observeAction("liquidate")
		return &LiquidateReceipt{
			PositionID: id, OrderID: o.ID,
			Debt: rcpt.WrittenOff.Clone(), Fee: new(uint256.Int), Seized: rcpt.Seized.Clone(),
			Take: rcpt,
		}, nil
	}

	if caller != o.Maker {
		return nil, fmt.Errorf("%w: position %d", ErrNotMaker, id)
	}
	if !b.excessCollateral(p.Borrower, o.Side.Opposite()).IsZero() {
		return nil, fmt.Errorf("%w: borrower still has excess collateral", ErrStateViolation)
	}

	debt := p.Borrowed.Clone()
	fee := wad.MulUp(debt, b.params.LiquidationFee)
	owed := new(uint256.Int).Add(debt, fee)

	// Risk-based seizure is priced at the reference feed, not the order's
	// own limit price.
	target := convert(owed, o.Side, b.feed.Price(), true)
	seized := b.seize(p.Borrower, o.Side.Opposite(), target)

	p.Borrowed.Clear()
	mustSub(b.totalBorrow[o.Side], debt, "total borrow on liquidation")
	mustSub(o.Quantity, debt, "order quantity on liquidation")
	mustSub(b.totalAssets[o.Side], debt, "total assets on liquidation")

	if err := b.ledger.Credit(o.Side.Opposite(), o.Maker, seized); err != nil {
		return nil, fmt.Errorf("liquidate credit: %w", err)
	}

	b.log.Infow("liquidate",
		"maker", caller.Hex(), "position", id, "debt", debt.Dec(),
		"fee", fee.Dec(), "seized", seized.Dec())
	b.emit(Event{
		Type: EventLiquidate, Actor: caller, Side: o.Side, OrderID: o.ID, PositionID: id,
		WrittenOff: debt.Clone(), Seized: seized.Clone(),
	})
	observeAction("liquidate")
	return &LiquidateReceipt{PositionID: id, OrderID: o.ID, Debt: debt, Fee: fee, Seized: seized}, nil
}

// mustSub subtracts where the book's invariants guarantee no underflow;
// a failure here is an accounting bug, not a caller error.
func mustSub(z, x *uint256.Int, what string) {
	if err := checkedSub(z, x, what); err != nil {
		panic(err)
	}
}
