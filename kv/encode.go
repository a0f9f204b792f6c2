package kv

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
)

// Messages carry generic payloads as plain []byte frames (spec §6's
// wire format), so keys and lens -- always uint64/int -- are packed with
// encoding/binary the way a fixed-width field would be in the source's
// SArray<Key>; values are type V, which isn't fixed width, so gob
// carries it the way rpc/serializer's gob backend carries common.Message.
func encodeKeys(keys []uint64) []byte {
	buf := make([]byte, 8*len(keys))
	for i, k := range keys {
		binary.BigEndian.PutUint64(buf[i*8:], k)
	}
	return buf
}

func decodeKeys(b []byte) []uint64 {
	n := len(b) / 8
	out := make([]uint64, n)
	for i := 0; i < n; i++ {
		out[i] = binary.BigEndian.Uint64(b[i*8:])
	}
	return out
}

func encodeLens(lens []int) []byte {
	buf := make([]byte, 4*len(lens))
	for i, l := range lens {
		binary.BigEndian.PutUint32(buf[i*4:], uint32(l))
	}
	return buf
}

func decodeLens(b []byte) []int {
	n := len(b) / 4
	out := make([]int, n)
	for i := 0; i < n; i++ {
		out[i] = int(binary.BigEndian.Uint32(b[i*4:]))
	}
	return out
}

func encodeValues[V any](vals []V) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(vals); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeValues[V any](b []byte) ([]V, error) {
	var vals []V
	if len(b) == 0 {
		return vals, nil
	}
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&vals); err != nil {
		return nil, err
	}
	return vals, nil
}

// encodeScalar/decodeScalar gob-encode a single value, used by
// PebbleStore to persist one key's accumulated value per row.
func encodeScalar[V any](v V) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeScalar[V any](b []byte) (V, error) {
	var v V
	if len(b) == 0 {
		return v, nil
	}
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&v); err != nil {
		return v, err
	}
	return v, nil
}
