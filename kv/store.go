package kv

import (
	"encoding/binary"
	"sync"

	"github.com/cockroachdb/pebble"
)

// Store is the pluggable backing map behind KVServer's default
// accumulate-on-push handler. Add must be atomic with respect to
// concurrent Get/Add calls for the same key.
type Store[V Numeric] interface {
	Add(key uint64, delta V)
	Get(key uint64) V
}

// MapStore is the default in-memory Store, matching
// KVServerDefaultHandle's plain std::unordered_map in the source.
type MapStore[V Numeric] struct {
	mu sync.Mutex
	m  map[uint64]V
}

// NewMapStore constructs an empty in-memory Store.
func NewMapStore[V Numeric]() *MapStore[V] {
	return &MapStore[V]{m: make(map[uint64]V)}
}

func (s *MapStore[V]) Add(key uint64, delta V) {
	s.mu.Lock()
	s.m[key] += delta
	s.mu.Unlock()
}

func (s *MapStore[V]) Get(key uint64) V {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[key]
}

// PebbleStore is an opt-in Store backed by a pebble LSM tree, for a
// server that must survive a process restart without losing its shard
// -- the in-memory MapStore's durable counterpart. Values are encoded
// with gob the same way encode.go's wire codec handles generic V; keys
// are big-endian so pebble's lexicographic iteration order matches
// numeric key order, in case a future handler wants range scans.
type PebbleStore[V Numeric] struct {
	db *pebble.DB
}

// OpenPebbleStore opens (creating if absent) a pebble database at dir.
func OpenPebbleStore[V Numeric](dir string) (*PebbleStore[V], error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore[V]{db: db}, nil
}

// Close releases the underlying pebble database.
func (s *PebbleStore[V]) Close() error { return s.db.Close() }

// Add is read-modify-write, not atomic -- safe because a KVServer's
// Customer dispatch loop is the only caller, and it is single-goroutine
// per Customer (spec §5).
func (s *PebbleStore[V]) Add(key uint64, delta V) {
	cur := s.Get(key)
	var kb [8]byte
	binary.BigEndian.PutUint64(kb[:], key)
	vb, err := encodeScalar(cur + delta)
	if err != nil {
		return
	}
	_ = s.db.Set(kb[:], vb, pebble.Sync)
}

func (s *PebbleStore[V]) Get(key uint64) V {
	var kb [8]byte
	binary.BigEndian.PutUint64(kb[:], key)
	val, closer, err := s.db.Get(kb[:])
	if err != nil {
		var zero V
		return zero
	}
	defer closer.Close()
	v, err := decodeScalar[V](val)
	if err != nil {
		var zero V
		return zero
	}
	return v
}
