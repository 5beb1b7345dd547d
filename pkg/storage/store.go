// Package storage persists the book state in Pebble. Entities are stored
// one JSON value per key so a snapshot write is a single atomic batch and a
// restart folds the tables back into a book.State.
package storage

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/holiman/uint256"

	"github.com/lendbook/lendbook/pkg/book"
)

type Store struct {
	db *pebble.DB
}

// Open opens (or creates) a Pebble database at path.
func Open(path string) (*Store, error) {
	opts := &pebble.Options{
		Cache:                 pebble.NewCache(64 << 20),
		MemTableSize:          32 << 20,
		L0CompactionThreshold: 2,
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// meta carries everything outside the three entity tables.
type meta struct {
	NextOrder   book.OrderID    `json:"nextOrder"`
	NextPos     book.PositionID `json:"nextPos"`
	TotalAssets [2]*uint256.Int `json:"totalAssets"`
	TotalBorrow [2]*uint256.Int `json:"totalBorrow"`
	TWIR        [2]*uint256.Int `json:"twir"`
	LastAccrual int64           `json:"lastAccrual"`
}

// SaveSnapshot writes the full book state atomically.
func (s *Store) SaveSnapshot(st *book.State) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	for id, o := range st.Orders {
		data, err := json.Marshal(o)
		if err != nil {
			return fmt.Errorf("failed to marshal order %d: %w", id, err)
		}
		if err := batch.Set(orderKey(id), data, nil); err != nil {
			return err
		}
	}
	for id, p := range st.Positions {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("failed to marshal position %d: %w", id, err)
		}
		if err := batch.Set(positionKey(id), data, nil); err != nil {
			return err
		}
	}
	for hexAddr, u := range st.Users {
		data, err := json.Marshal(u)
		if err != nil {
			return fmt.Errorf("failed to marshal user %s: %w", hexAddr, err)
		}
		if err := batch.Set(userKey(hexAddr), data, nil); err != nil {
			return err
		}
	}

	m := meta{
		NextOrder:   st.NextOrder,
		NextPos:     st.NextPos,
		LastAccrual: st.LastAccrual,
	}
	for i := 0; i < 2; i++ {
		m.TotalAssets[i] = st.TotalAssets[i]
		m.TotalBorrow[i] = st.TotalBorrow[i]
		m.TWIR[i] = st.TWIR[i]
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal book meta: %w", err)
	}
	if err := batch.Set(metaKey(), data, nil); err != nil {
		return err
	}

	return batch.Commit(pebble.Sync)
}

// LoadSnapshot rebuilds the book state from disk. Returns (nil, nil) when
// the database holds no snapshot yet.
func (s *Store) LoadSnapshot() (*book.State, error) {
	data, closer, err := s.db.Get(metaKey())
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get book meta: %w", err)
	}
	var m meta
	uerr := json.Unmarshal(data, &m)
	closer.Close()
	if uerr != nil {
		return nil, fmt.Errorf("failed to unmarshal book meta: %w", uerr)
	}

	st := &book.State{
		Orders:      make(map[book.OrderID]*book.Order),
		Users:       make(map[string]*book.User),
		Positions:   make(map[book.PositionID]*book.Position),
		NextOrder:   m.NextOrder,
		NextPos:     m.NextPos,
		LastAccrual: m.LastAccrual,
	}
	for i := 0; i < 2; i++ {
		st.TotalAssets[i] = m.TotalAssets[i]
		st.TotalBorrow[i] = m.TotalBorrow[i]
		st.TWIR[i] = m.TWIR[i]
	}

	if err := s.loadPrefix(orderPrefix, func(value []byte) error {
		var o book.Order
		if err := json.Unmarshal(value, &o); err != nil {
			return err
		}
		st.Orders[o.ID] = &o
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to load orders: %w", err)
	}

	if err := s.loadPrefix(positionPrefix, func(value []byte) error {
		var p book.Position
		if err := json.Unmarshal(value, &p); err != nil {
			return err
		}
		st.Positions[p.ID] = &p
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to load positions: %w", err)
	}

	if err := s.loadPrefix(userPrefix, func(value []byte) error {
		var u book.User
		if err := json.Unmarshal(value, &u); err != nil {
			return err
		}
		st.Users[u.Address.Hex()] = &u
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}

	return st, nil
}

func (s *Store) loadPrefix(prefix []byte, fn func(value []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}
