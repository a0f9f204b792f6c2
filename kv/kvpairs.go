// Package kv implements the key-value application layer described in
// spec §4.7, grounded on original_source/src/ps/KVApp.h: KVWorker issues
// push/pull/push_pull requests sliced across the server key ranges,
// KVServer answers them with a pluggable handler whose default behavior
// accumulates pushed values into a local store.
//
// The source's KVWorker<Val>/KVServer<Val> class templates and its
// zero-copy SArray/SVector split become one Go generic parameter V and
// plain slices: Go slices already share the underlying array the way
// the source's refcounted SArray does, so there is no separate
// "zero-copy" Z-variant API to carry over.
package kv

import (
	"github.com/psgo/ps/internal/postoffice"
)

// KVPairs is one shard (or the whole) of a push/pull request: parallel
// keys and values, with an optional per-key length when values are not
// uniformly sized (lens absent means stride = len(values)/len(keys)).
type KVPairs[V Numeric] struct {
	Keys     []uint64
	Values   []V
	Lens     []int
	Priority int32
}

// Range re-exports postoffice.Range so callers of this package don't
// need a second import for the type their Slicer partitions against.
type Range = postoffice.Range

// Shard is one partitioned piece of a KVPairs, destined for the server
// owning Range. Skip marks a shard with no keys in it -- the source
// still counts it (as an immediately-satisfied reply) but never sends it.
type Shard[V Numeric] struct {
	Skip bool
	Data KVPairs[V]
}

// Slicer partitions send across ranges (one per server, in server-rank
// order) into sliced, mirroring KVWorker::Slicer's signature in the
// source.
type Slicer[V Numeric] func(send KVPairs[V], ranges []Range, sliced *[]Shard[V])
