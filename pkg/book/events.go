package book

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// EventType tags structured mutation events for off-chain indexing.
type EventType string

const (
	EventDeposit           EventType = "deposit"
	EventWithdraw          EventType = "withdraw"
	EventBorrow            EventType = "borrow"
	EventRepay             EventType = "repay"
	EventTake              EventType = "take"
	EventLiquidate         EventType = "liquidate"
	EventLimitPriceChange  EventType = "limit_price_change"
	EventPairedPriceChange EventType = "paired_price_change"
	EventBorrowableChange  EventType = "borrowable_change"
)

// Event records the actor, amounts, and affected ids of one mutating action.
// Required for auditing, not for internal correctness.
type Event struct {
	Type       EventType      `json:"type"`
	Actor      common.Address `json:"actor"`
	Side       Side           `json:"side"`
	OrderID    OrderID        `json:"orderId,omitempty"`
	PositionID PositionID     `json:"positionId,omitempty"`
	Amount     *uint256.Int   `json:"amount,omitempty"`
	// Take/liquidate cascade totals.
	WrittenOff *uint256.Int `json:"writtenOff,omitempty"`
	Seized     *uint256.Int `json:"seized,omitempty"`
	SelfRepaid *uint256.Int `json:"selfRepaid,omitempty"`
	Timestamp  int64        `json:"timestamp"`
}

// EventSink receives events synchronously after the action's internal
// bookkeeping is finalized. Implementations must not call back into the
// Book (the action mutex is held).
type EventSink interface {
	Publish(Event)
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) Publish(Event) {}
