package book

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// State is the serializable image of the whole book: entity tables, id
// counters, side aggregates, and the accrual clock. Users are keyed by hex
// address for a stable JSON form.
type State struct {
	Orders      map[OrderID]*Order       `json:"orders"`
	Users       map[string]*User         `json:"users"`
	Positions   map[PositionID]*Position `json:"positions"`
	NextOrder   OrderID                  `json:"nextOrder"`
	NextPos     PositionID               `json:"nextPos"`
	TotalAssets [2]*uint256.Int          `json:"totalAssets"`
	TotalBorrow [2]*uint256.Int          `json:"totalBorrow"`
	TWIR        [2]*uint256.Int          `json:"twir"`
	LastAccrual int64                    `json:"lastAccrual"`
}

// Snapshot deep-copies the book state for persistence.
func (b *Book) Snapshot() *State {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := &State{
		Orders:      make(map[OrderID]*Order, len(b.orders)),
		Users:       make(map[string]*User, len(b.users)),
		Positions:   make(map[PositionID]*Position, len(b.positions)),
		NextOrder:   b.nextOrder,
		NextPos:     b.nextPos,
		LastAccrual: b.lastAccrual,
	}
	for id, o := range b.orders {
		c := copyOrder(o)
		st.Orders[id] = &c
	}
	for addr, u := range b.users {
		c := copyUser(u)
		st.Users[addr.Hex()] = &c
	}
	for id, p := range b.positions {
		c := copyPosition(p)
		st.Positions[id] = &c
	}
	for s := 0; s < 2; s++ {
		st.TotalAssets[s] = b.totalAssets[s].Clone()
		st.TotalBorrow[s] = b.totalBorrow[s].Clone()
		st.TWIR[s] = b.twir[s].Clone()
	}
	return st
}

// Restore replaces the book state with a previously snapshotted image.
// Meant for node startup, before the book is serving actions.
func (b *Book) Restore(st *State) error {
	if st == nil {
		return fmt.Errorf("book restore: nil state")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.orders = make(map[OrderID]*Order, len(st.Orders))
	for id, o := range st.Orders {
		c := copyOrder(o)
		b.orders[id] = &c
	}
	b.users = make(map[common.Address]*User, len(st.Users))
	for hex, u := range st.Users {
		if !common.IsHexAddress(hex) {
			return fmt.Errorf("book restore: bad address key %q", hex)
		}
		c := copyUser(u)
		b.users[common.HexToAddress(hex)] = &c
	}
	b.positions = make(map[PositionID]*Position, len(st.Positions))
	for id, p := range st.Positions {
		c := copyPosition(p)
		b.positions[id] = &c
	}
	b.nextOrder = st.NextOrder
	b.nextPos = st.NextPos
	for s := 0; s < 2; s++ {
		if st.TotalAssets[s] == nil || st.TotalBorrow[s] == nil || st.TWIR[s] == nil {
			return fmt.Errorf("book restore: missing aggregates for side %d", s)
		}
		b.totalAssets[s] = st.TotalAssets[s].Clone()
		b.totalBorrow[s] = st.TotalBorrow[s].Clone()
		b.twir[s] = st.TWIR[s].Clone()
	}
	b.lastAccrual = st.LastAccrual
	return nil
}
