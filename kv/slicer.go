package kv

import "sort"

// DefaultSlicer partitions send across ranges by binary-searching the
// sorted, strictly-increasing key list against each range boundary,
// following KVWorker::DefaultSlicer in the source. ranges must tile
// [0, maxKey) contiguously without gaps -- postoffice.buildServerRanges
// guarantees this.
func DefaultSlicer[V Numeric](send KVPairs[V], ranges []Range, sliced *[]Shard[V]) {
	n := len(ranges)
	*sliced = make([]Shard[V], n)

	pos := make([]int, n+1)
	keys := send.Keys
	for i := 0; i < n; i++ {
		if i == 0 {
			pos[0] = lowerBound(keys, ranges[0].Begin)
		}
		pos[i+1] = lowerBound(keys, ranges[i].End)
		(*sliced)[i].Skip = pos[i+1]-pos[i] == 0
	}
	if len(keys) == 0 {
		return
	}

	var stride int
	if len(send.Lens) == 0 {
		stride = len(send.Values) / len(keys)
	}

	valEnd := 0
	for i := 0; i < n; i++ {
		if pos[i+1] == pos[i] {
			continue
		}
		shard := &(*sliced)[i].Data
		shard.Keys = keys[pos[i]:pos[i+1]]

		var valBegin int
		if len(send.Lens) == 0 {
			valBegin = pos[i] * stride
			valEnd = pos[i+1] * stride
		} else {
			valBegin = valEnd
			for j := pos[i]; j < pos[i+1]; j++ {
				valEnd += send.Lens[j]
			}
			shard.Lens = send.Lens[pos[i]:pos[i+1]]
		}
		shard.Values = send.Values[valBegin:valEnd]
		shard.Priority = send.Priority
	}
}

// lowerBound returns the index of the first key >= target, assuming
// keys is sorted ascending.
func lowerBound(keys []uint64, target uint64) int {
	return sort.Search(len(keys), func(i int) bool { return keys[i] >= target })
}
