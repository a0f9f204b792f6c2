package sbuf

import "testing"

// TestNewAndBytes tests basic allocation and byte access.
func TestNewAndBytes(t *testing.T) {
	s := FromSlice([]byte("hello"))
	if s.Len() != 5 {
		t.Fatalf("expected len 5, got %d", s.Len())
	}
	if string(s.Bytes()) != "hello" {
		t.Errorf("expected %q, got %q", "hello", s.Bytes())
	}
}

// TestSliceSharesBacking tests that Slice shares the backing array.
func TestSliceSharesBacking(t *testing.T) {
	s := FromSlice([]byte("hello world"))
	sub := s.Slice(0, 5)
	if string(sub.Bytes()) != "hello" {
		t.Errorf("expected %q, got %q", "hello", sub.Bytes())
	}
	sub.backing[0] = 'H'
	if s.Bytes()[0] != 'H' {
		t.Error("expected shared backing array to reflect mutation")
	}
}

// TestPushBackGrows tests that PushBack grows capacity and preserves content.
func TestPushBackGrows(t *testing.T) {
	s := New(0)
	for i := 0; i < 100; i++ {
		s.PushBack(byte(i))
	}
	if s.Len() != 100 {
		t.Fatalf("expected len 100, got %d", s.Len())
	}
	for i := 0; i < 100; i++ {
		if s.At(i) != byte(i) {
			t.Fatalf("at %d: expected %d, got %d", i, i, s.At(i))
		}
	}
}

// TestReserveUniqueRelocatesAndFreesOldDeleter tests that growing a
// uniquely-held slice flips the old header's deleter to DeleteFree.
func TestReserveUniqueRelocatesAndFreesOldDeleter(t *testing.T) {
	s := FromSlice([]byte("abc"))
	oldHdr := s.hdr
	s.Reserve(1000)
	if oldHdr.deleter != DeleteFree {
		t.Errorf("expected old header deleter DeleteFree, got %v", oldHdr.deleter)
	}
	if s.hdr.deleter != DeleteDestruct {
		t.Errorf("expected new header deleter DeleteDestruct, got %v", s.hdr.deleter)
	}
	if string(s.Bytes()) != "abc" {
		t.Errorf("expected content preserved, got %q", s.Bytes())
	}
}

// TestReserveSharedCopies tests that growing a shared slice copies rather
// than mutating the shared backing array in place.
func TestReserveSharedCopies(t *testing.T) {
	s := FromSlice([]byte("abc"))
	shared := s.Slice(0, 3)
	s.Reserve(1000)
	if string(shared.Bytes()) != "abc" {
		t.Errorf("expected sibling view unaffected, got %q", shared.Bytes())
	}
}

// TestViewOfDoesNotOwn tests that ViewOf marks the slice as not-owned.
func TestViewOfDoesNotOwn(t *testing.T) {
	buf := []byte("external")
	v := ViewOf(buf)
	if v.hdr.deleter != DeleteNone {
		t.Errorf("expected DeleteNone, got %v", v.hdr.deleter)
	}
}

// TestResizeGrowsWithDefault tests that Resize fills new bytes with the default.
func TestResizeGrowsWithDefault(t *testing.T) {
	s := FromSlice([]byte("ab"))
	s.Resize(5, 'x')
	if string(s.Bytes()) != "abxxx" {
		t.Errorf("expected %q, got %q", "abxxx", s.Bytes())
	}
}

// TestClearResetsLenKeepsBacking tests that Clear does not release storage.
func TestClearResetsLenKeepsBacking(t *testing.T) {
	s := FromSlice([]byte("abc"))
	cap0 := s.Cap()
	s.Clear()
	if s.Len() != 0 {
		t.Errorf("expected len 0, got %d", s.Len())
	}
	if s.Cap() != cap0 {
		t.Errorf("expected capacity unchanged, got %d vs %d", s.Cap(), cap0)
	}
}
