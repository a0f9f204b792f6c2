package kv

import "testing"

func TestDefaultSlicerTilesContiguously(t *testing.T) {
	half := uint64(1) << 63
	ranges := []Range{{Begin: 0, End: half}, {Begin: half, End: ^uint64(0)}}

	send := KVPairs[float64]{
		Keys:   []uint64{10, 20, half + 5, half + 50, half + 500},
		Values: []float64{1, 2, 3, 4, 5},
	}

	var sliced []Shard[float64]
	DefaultSlicer[float64](send, ranges, &sliced)

	if len(sliced) != 2 {
		t.Fatalf("expected 2 shards, got %d", len(sliced))
	}
	if sliced[0].Skip || len(sliced[0].Data.Keys) != 2 {
		t.Errorf("shard 0: expected 2 non-skipped keys, got %+v", sliced[0])
	}
	if sliced[1].Skip || len(sliced[1].Data.Keys) != 3 {
		t.Errorf("shard 1: expected 3 non-skipped keys, got %+v", sliced[1])
	}

	total := 0
	for _, s := range sliced {
		total += len(s.Data.Keys)
	}
	if total != len(send.Keys) {
		t.Errorf("shards lost keys: total %d, want %d", total, len(send.Keys))
	}
	if sliced[0].Data.Values[0] != 1 || sliced[1].Data.Values[0] != 3 {
		t.Errorf("values misaligned with their shard's keys: %+v", sliced)
	}
}

func TestDefaultSlicerSkipsEmptyShard(t *testing.T) {
	half := uint64(1) << 63
	ranges := []Range{{Begin: 0, End: half}, {Begin: half, End: ^uint64(0)}}

	send := KVPairs[float64]{Keys: []uint64{10, 20}, Values: []float64{1, 2}}
	var sliced []Shard[float64]
	DefaultSlicer[float64](send, ranges, &sliced)

	if !sliced[1].Skip {
		t.Error("expected shard 1 to be marked skip when it owns no keys")
	}
	if sliced[0].Skip {
		t.Error("shard 0 owns keys and should not be skipped")
	}
}

// TestRangeSizeDetectsNonContiguousShard mirrors KVApp.h's FindRange
// check in assemblePull: a shard whose key count matches its claimed
// [front, back+1) span is contiguous; one that is missing a key inside
// that span is not, even though a bare total-count check across all
// shards would never notice (a second shard could make up the count).
func TestRangeSizeDetectsNonContiguousShard(t *testing.T) {
	keys := []uint64{10, 20, 30, 40, 50}

	contiguous := []uint64{20, 30, 40}
	if n := rangeSize(keys, contiguous[0], contiguous[len(contiguous)-1]+1); n != len(contiguous) {
		t.Errorf("contiguous shard %v: expected rangeSize %d, got %d", contiguous, len(contiguous), n)
	}

	// Claims to span [20,41) but is missing 30 -- its own span holds 3
	// original keys though the shard has only 2.
	gappy := []uint64{20, 40}
	if n := rangeSize(keys, gappy[0], gappy[len(gappy)-1]+1); n == len(gappy) {
		t.Errorf("gappy shard %v: expected rangeSize to disagree with shard length %d, both were %d", gappy, len(gappy), n)
	}

	if n := rangeSize(keys, 10, 51); n != len(keys) {
		t.Errorf("full span: expected rangeSize %d, got %d", len(keys), n)
	}
}
