// Package book implements a single-contract money market for one quote/base
// pair: a limit order book whose resting orders double as lendable
// liquidity. Makers deposit orders, borrowers draw credit against their own
// orders on the opposite side, takers fill at the maker's limit price, and
// filling a borrowed order cascades liquidation of the positions it funds.
//
// Every public action is transactional: it runs under one mutex, advances
// the lazy interest clock first, validates everything before mutating, and
// orders external asset movements so that debits (the only fallible external
// step) precede internal mutation and credits follow it. A failed
// precondition or debit therefore aborts with no partial state change.
package book

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/lendbook/lendbook/pkg/util"
	"github.com/lendbook/lendbook/pkg/wad"
)

// Book is the order/position/collateral accounting engine.
type Book struct {
	mu     sync.Mutex
	params Params
	log    *zap.SugaredLogger
	clock  util.Clock
	ledger AssetLedger
	feed   PriceFeed
	sink   EventSink

	// Append-only entity tables. Entries are zeroed, never deleted.
	orders    map[OrderID]*Order
	users     map[common.Address]*User
	positions map[PositionID]*Position
	nextOrder OrderID
	nextPos   PositionID

	// Side aggregates; solvency requires totalBorrow[s] <= totalAssets[s].
	totalAssets [2]*uint256.Int
	totalBorrow [2]*uint256.Int

	// Time-weighted rate integrals per side and the shared accrual clock.
	twir        [2]*uint256.Int
	lastAccrual int64
}

// Deps are the book's collaborators. Ledger and Feed are required; Clock,
// Logger, and Events default to real clock, no-op logger, and no-op sink.
type Deps struct {
	Ledger AssetLedger
	Feed   PriceFeed
	Clock  util.Clock
	Logger *zap.Logger
	Events EventSink
}

func New(params Params, deps Deps) (*Book, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("book params: %w", err)
	}
	if deps.Ledger == nil {
		return nil, fmt.Errorf("book: asset ledger is required")
	}
	if deps.Feed == nil {
		return nil, fmt.Errorf("book: price feed is required")
	}
	if deps.Clock == nil {
		deps.Clock = util.RealClock{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Events == nil {
		deps.Events = NopSink{}
	}

	b := &Book{
		params:    params,
		log:       deps.Logger.Sugar(),
		clock:     deps.Clock,
		ledger:    deps.Ledger,
		feed:      deps.Feed,
		sink:      deps.Events,
		orders:    make(map[OrderID]*Order),
		users:     make(map[common.Address]*User),
		positions: make(map[PositionID]*Position),
	}
	for s := 0; s < 2; s++ {
		b.totalAssets[s] = new(uint256.Int)
		b.totalBorrow[s] = new(uint256.Int)
		b.twir[s] = new(uint256.Int)
	}
	b.lastAccrual = deps.Clock.Now().Unix()
	return b, nil
}

// Params returns the protocol parameters.
func (b *Book) Params() Params { return b.params }

// SetEventSink swaps the event sink. Meant for node startup wiring, before
// the book is serving actions.
func (b *Book) SetEventSink(sink EventSink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sink == nil {
		sink = NopSink{}
	}
	b.sink = sink
}

// ---- internal table access -------------------------------------------------

// order returns the order or ErrOrderNotFound. Zero-quantity orders are
// still returned; callers that need a live order check IsEmpty themselves.
func (b *Book) order(id OrderID) (*Order, error) {
	o, ok := b.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrOrderNotFound, id)
	}
	return o, nil
}

func (b *Book) position(id PositionID) (*Position, error) {
	p, ok := b.positions[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrPositionNotFound, id)
	}
	return p, nil
}

// user returns the bookkeeping entry for addr, creating it on first touch.
func (b *Book) user(addr common.Address) *User {
	u, ok := b.users[addr]
	if !ok {
		u = &User{
			Address:     addr,
			Deposits:    make([]OrderID, b.params.MaxOrders),
			BorrowsFrom: make([]OrderID, b.params.MaxBorrowings),
		}
		b.users[addr] = u
	}
	return u
}

// ---- shared numeric helpers ------------------------------------------------

// checkedSub performs z -= x, failing hard on underflow. Silent clamping is
// reserved for the two explicitly tolerated sites (partial seizure coverage
// and the max(0,...) in excess collateral).
func checkedSub(z, x *uint256.Int, what string) error {
	if z.Lt(x) {
		return fmt.Errorf("%w: %s: %s - %s", ErrUnderflow, what, z.Dec(), x.Dec())
	}
	z.Sub(z, x)
	return nil
}

// convert translates an amount denominated in side from to the opposite
// side at the given price. Quote converts to base by division, base to
// quote by multiplication; roundUp selects the protocol-conservative
// direction at each call site.
func convert(amount *uint256.Int, from Side, price *uint256.Int, roundUp bool) *uint256.Int {
	if from == Buy {
		if roundUp {
			return wad.DivUp(amount, price)
		}
		return wad.DivDown(amount, price)
	}
	if roundUp {
		return wad.MulUp(amount, price)
	}
	return wad.MulDown(amount, price)
}

// lentAssets sums the borrowed assets across an order's position slots.
func (b *Book) lentAssets(o *Order) *uint256.Int {
	lent := new(uint256.Int)
	for _, pid := range o.Positions {
		if pid == 0 {
			continue
		}
		if p := b.positions[pid]; p != nil && p.IsActive() {
			lent.Add(lent, p.Borrowed)
		}
	}
	return lent
}

// outable reports whether qty may leave the order without stranding a
// sub-minimum residue: a full draw-down of the available (unlent) assets is
// always allowed, a partial one must leave at least the side's minimum
// deposit behind.
func (b *Book) outable(o *Order, qty *uint256.Int) bool {
	lent := b.lentAssets(o)
	if lent.Gt(o.Quantity) {
		return false
	}
	available := new(uint256.Int).Sub(o.Quantity, lent)
	if qty.Gt(available) {
		return false
	}
	if qty.Eq(available) {
		return true
	}
	rest := new(uint256.Int).Sub(available, qty)
	return !rest.Lt(b.params.MinDeposit[o.Side])
}

// profitable compares the reference price feed against the order's limit:
// a buy order is profitable to take when feed <= limit, a sell order when
// feed >= limit.
func (b *Book) profitable(o *Order) bool {
	ref := b.feed.Price()
	if o.Side == Buy {
		return ref.Cmp(o.Price) <= 0
	}
	return ref.Cmp(o.Price) >= 0
}

// checkPricePairing enforces side-consistent ordering: buy orders want the
// paired (sell) price at or above the limit, sell orders at or below.
func checkPricePairing(side Side, price, paired *uint256.Int) error {
	if side == Buy && paired.Lt(price) {
		return fmt.Errorf("%w: buy paired price %s below limit %s", ErrInconsistentPrices, paired.Dec(), price.Dec())
	}
	if side == Sell && paired.Gt(price) {
		return fmt.Errorf("%w: sell paired price %s above limit %s", ErrInconsistentPrices, paired.Dec(), price.Dec())
	}
	return nil
}

func (b *Book) emit(e Event) {
	e.Timestamp = b.clock.Now().Unix()
	b.sink.Publish(e)
}

// ---- public views ----------------------------------------------------------

// GetOrder returns a copy of the order.
func (b *Book) GetOrder(id OrderID) (Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, err := b.order(id)
	if err != nil {
		return Order{}, err
	}
	return copyOrder(o), nil
}

// GetPosition returns a copy of the position with interest brought current.
func (b *Book) GetPosition(id PositionID) (Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, err := b.position(id)
	if err != nil {
		return Position{}, err
	}
	b.accrue()
	if p.IsActive() {
		b.accruePosition(p)
	}
	return copyPosition(p), nil
}

// GetUser returns a copy of the user's slot sets.
func (b *Book) GetUser(addr common.Address) (User, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	u, ok := b.users[addr]
	if !ok {
		return User{}, false
	}
	return copyUser(u), true
}

// AssetsLentByOrder returns the sum of debt funded by the order.
func (b *Book) AssetsLentByOrder(id OrderID) (*uint256.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, err := b.order(id)
	if err != nil {
		return nil, err
	}
	b.accrue()
	for _, pid := range o.Positions {
		if pid == 0 {
			continue
		}
		if p := b.positions[pid]; p != nil && p.IsActive() {
			b.accruePosition(p)
		}
	}
	return b.lentAssets(o), nil
}

// TotalAssets returns the side's aggregate deposits.
func (b *Book) TotalAssets(side Side) *uint256.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalAssets[side].Clone()
}

// TotalBorrow returns the side's aggregate debt, interest not yet flattened
// into individual positions excluded.
func (b *Book) TotalBorrow(side Side) *uint256.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalBorrow[side].Clone()
}

func copyOrder(o *Order) Order {
	out := *o
	out.Quantity = o.Quantity.Clone()
	out.Price = o.Price.Clone()
	out.PairedPrice = o.PairedPrice.Clone()
	out.Positions = append([]PositionID(nil), o.Positions...)
	return out
}

func copyPosition(p *Position) Position {
	out := *p
	out.Borrowed = p.Borrowed.Clone()
	out.RateIndex = p.RateIndex.Clone()
	return out
}

func copyUser(u *User) User {
	out := *u
	out.Deposits = append([]OrderID(nil), u.Deposits...)
	out.BorrowsFrom = append([]OrderID(nil), u.BorrowsFrom...)
	return out
}
