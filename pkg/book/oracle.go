package book

import (
	"sync"

	"github.com/holiman/uint256"
)

// PriceFeed is the external reference price collaborator, quoted as base
// priced in quote (fixed-point). Treated as always current; staleness
// handling lives outside this core.
type PriceFeed interface {
	Price() *uint256.Int
}

// StaticFeed is an externally settable reference price (devnet oracle).
type StaticFeed struct {
	mu    sync.RWMutex
	price *uint256.Int
}

func NewStaticFeed(initial *uint256.Int) *StaticFeed {
	return &StaticFeed{price: initial.Clone()}
}

func (f *StaticFeed) Price() *uint256.Int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.price.Clone()
}

func (f *StaticFeed) Set(p *uint256.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price = p.Clone()
}
