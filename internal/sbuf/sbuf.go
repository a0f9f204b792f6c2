// Package sbuf implements the shared byte slice described in spec §4.1:
// a reference-counted, byte-addressable buffer whose [offset, offset+len)
// views can share one backing allocation, disposed through an explicit
// deleter policy when the last reference drops.
//
// Go's garbage collector makes an explicit deleter unnecessary for memory
// safety, but the core's zero-copy contract still distinguishes three
// provenances for a buffer (an externally owned buffer that must never be
// freed here, a buffer this package allocated and grew, and a buffer
// whose previous backing was relocated away from) -- see DESIGN NOTES §9.
// That distinction is kept explicit via Deleter so transport buffers
// (owned by the connection's read loop) are never mistaken for buffers
// this package is free to grow in place.
package sbuf

import "sync/atomic"

// Deleter describes who owns the backing array of a Slice.
type Deleter int

const (
	// DeleteNone marks a view over memory this package must never
	// release or mutate the backing array of (e.g. a transport buffer).
	DeleteNone Deleter = iota
	// DeleteDestruct marks a backing array this package allocated and
	// may grow in place while it remains the unique holder.
	DeleteDestruct
	// DeleteFree marks a backing array that used to be DeleteDestruct
	// but was relocated away from by a raw-copy grow; the old array is
	// now unreachable and carries no element state to run down.
	DeleteFree
)

// header is the shared, reference-counted state behind every Slice
// created from the same backing array.
type header struct {
	refs    int32
	deleter Deleter
}

func (h *header) retain() { atomic.AddInt32(&h.refs, 1) }
func (h *header) release() int32 {
	return atomic.AddInt32(&h.refs, -1)
}

// Slice is a byte-addressable view into a shared backing array.
type Slice struct {
	backing []byte
	off     int
	len     int
	hdr     *header
}

// New allocates a fresh, uniquely-held slice with the given capacity.
func New(capacity int) *Slice {
	return &Slice{
		backing: make([]byte, capacity),
		off:     0,
		len:     0,
		hdr:     &header{refs: 1, deleter: DeleteDestruct},
	}
}

// FromSlice copies v into a new, uniquely-held Slice.
func FromSlice(v []byte) *Slice {
	s := New(len(v))
	s.len = len(v)
	copy(s.backing, v)
	return s
}

// ViewOf wraps external, possibly foreign-owned memory without copying.
// The resulting Slice must never be grown in place; Reserve/PushBack on
// a DeleteNone slice always copies to a fresh, uniquely-held backing.
func ViewOf(ptr []byte) *Slice {
	return &Slice{
		backing: ptr,
		off:     0,
		len:     len(ptr),
		hdr:     &header{refs: 1, deleter: DeleteNone},
	}
}

// Len returns the number of valid bytes in this view.
func (s *Slice) Len() int { return s.len }

// Cap returns the capacity of the backing array from this view's offset.
func (s *Slice) Cap() int { return len(s.backing) - s.off }

// Bytes returns the [0,Len) view as a Go byte slice. Callers must not
// retain it past the next mutating call on this Slice.
func (s *Slice) Bytes() []byte { return s.backing[s.off : s.off+s.len] }

func (s *Slice) At(i int) byte   { return s.backing[s.off+i] }
func (s *Slice) Front() byte     { return s.At(0) }
func (s *Slice) Back() byte      { return s.At(s.len - 1) }

// Slice returns a new view sharing this Slice's backing array over
// [l, r). Both views retain the same header; release is tied to the
// last holder.
func (s *Slice) Slice(l, r int) *Slice {
	if l < 0 || r > s.len || l > r {
		panic("sbuf: slice bounds out of range")
	}
	s.hdr.retain()
	return &Slice{
		backing: s.backing,
		off:     s.off + l,
		len:     r - l,
		hdr:     s.hdr,
	}
}

// CopyFrom deep-copies src into a freshly allocated, uniquely-held backing.
func (s *Slice) CopyFrom(src *Slice) {
	s.backing = append([]byte(nil), src.Bytes()...)
	s.off = 0
	s.len = src.len
	s.hdr = &header{refs: 1, deleter: DeleteDestruct}
}

// isUnique reports whether this view is the sole holder of its header.
func (s *Slice) isUnique() bool {
	return atomic.LoadInt32(&s.hdr.refs) == 1
}

// Reserve ensures the backing array can hold at least n bytes from
// offset 0 without reallocating again. Growth doubles capacity. When the
// element type is relocatable (true for every byte buffer here) and this
// view is the unique holder of a DeleteDestruct backing, the grow is a
// raw copy and the old backing's deleter is flipped to DeleteFree before
// the old strong reference is dropped, per spec §4.1. Otherwise a fresh
// copy is made and this view becomes the unique holder of it.
func (s *Slice) Reserve(n int) {
	if len(s.backing)-s.off >= n && s.hdr.deleter != DeleteNone {
		return
	}
	newCap := len(s.backing)
	if newCap == 0 {
		newCap = 1
	}
	for newCap-s.off < n {
		newCap *= 2
	}

	unique := s.isUnique() && s.hdr.deleter == DeleteDestruct
	newBacking := make([]byte, newCap)
	copy(newBacking, s.backing[s.off:s.off+s.len])

	if unique {
		// Relocated by raw copy: the old backing carries no live
		// element destructors to run, so flip to free-only before the
		// old header's refcount naturally falls to zero below.
		s.hdr.deleter = DeleteFree
	}

	s.backing = newBacking
	s.off = 0
	s.hdr = &header{refs: 1, deleter: DeleteDestruct}
}

// PushBack appends one byte, growing the backing array if needed.
func (s *Slice) PushBack(b byte) {
	s.Reserve(s.len + 1)
	s.backing[s.off+s.len] = b
	s.len++
}

// Resize grows or shrinks the view to n bytes, filling new bytes with def.
func (s *Slice) Resize(n int, def byte) {
	if n <= s.len {
		s.len = n
		return
	}
	s.Reserve(n)
	for i := s.len; i < n; i++ {
		s.backing[s.off+i] = def
	}
	s.len = n
}

// Clear empties the view without releasing the backing array.
func (s *Slice) Clear() { s.len = 0 }

// Release drops this view's reference. Not required for correctness
// under Go's GC, but kept so the deleter transitions in Reserve have an
// observable drop point mirroring the source's refcount semantics.
func (s *Slice) Release() {
	s.hdr.release()
}
