package storage

import (
	"encoding/binary"

	"github.com/lendbook/lendbook/pkg/book"
)

// Key layout:
//   o:<8-byte-big-endian-id>  order
//   p:<8-byte-big-endian-id>  position
//   u:<hex-address>           user slot sets
//   m:book                    aggregates, counters, accrual clock
func orderKey(id book.OrderID) []byte {
	k := append([]byte("o:"), make([]byte, 8)...)
	binary.BigEndian.PutUint64(k[2:], uint64(id))
	return k
}

func positionKey(id book.PositionID) []byte {
	k := append([]byte("p:"), make([]byte, 8)...)
	binary.BigEndian.PutUint64(k[2:], uint64(id))
	return k
}

func userKey(hexAddr string) []byte { return append([]byte("u:"), hexAddr...) }

func metaKey() []byte { return []byte("m:book") }

var (
	orderPrefix    = []byte("o:")
	positionPrefix = []byte("p:")
	userPrefix     = []byte("u:")
)

// keyUpperBound returns the smallest key greater than every key with the
// given prefix.
func keyUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil // prefix is all 0xff
}
