package book

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Side denominates an order. Buy orders rest in the quote token, sell
// orders in the base token.
type Side uint8

const (
	Buy  Side = iota // quote-denominated
	Sell             // base-denominated
)

func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// OrderID and PositionID index append-only tables. Id 0 is reserved as the
// empty-slot sentinel; ids are never reclaimed or reused.
type OrderID uint64

type PositionID uint64

// Order is a maker's resting liquidity commitment. Quantity reaching zero
// is the canonical deleted state; the entry itself is never removed.
type Order struct {
	ID       OrderID        `json:"id"`
	Maker    common.Address `json:"maker"`
	Side     Side           `json:"side"`
	Quantity *uint256.Int   `json:"quantity"`
	// Price is the limit price at which takers fill this order.
	Price *uint256.Int `json:"price"`
	// PairedPrice is the price at which the maker would want the opposite
	// side filled. Recorded as a sane default, not enforced elsewhere.
	PairedPrice *uint256.Int `json:"pairedPrice"`
	Borrowable  bool         `json:"borrowable"`
	// Positions holds ids of positions funded by this order. Fixed capacity
	// (MaxPositions); 0 marks an empty slot, slots referencing a closed
	// position are reusable.
	Positions []PositionID `json:"positions"`
}

// IsEmpty reports whether the order has been fully withdrawn/taken.
func (o *Order) IsEmpty() bool { return o.Quantity.IsZero() }

// User is per-address bookkeeping, not a stored balance. Created implicitly
// on first deposit or borrow, never deleted.
type User struct {
	Address common.Address `json:"address"`
	// Deposits holds ids of orders this user has placed (capacity MaxOrders).
	Deposits []OrderID `json:"deposits"`
	// BorrowsFrom holds ids of orders this user currently borrows from
	// (capacity MaxBorrowings).
	BorrowsFrom []OrderID `json:"borrowsFrom"`
}

// Position is one borrower's debt against one specific order. At most one
// position exists per (borrower, order) pair.
type Position struct {
	ID       PositionID     `json:"id"`
	Borrower common.Address `json:"borrower"`
	OrderID  OrderID        `json:"orderId"`
	// Borrowed is principal plus accrued interest, flattened at each accrual.
	Borrowed *uint256.Int `json:"borrowed"`
	// RateIndex snapshots the side's time-weighted rate integral at the last
	// accrual so interest is never double-counted.
	RateIndex *uint256.Int `json:"rateIndex"`
}

// IsActive reports whether any debt remains on the position.
func (p *Position) IsActive() bool { return !p.Borrowed.IsZero() }
