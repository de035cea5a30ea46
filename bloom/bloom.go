// Package bloom implements the compact membership filter attached to
// each message buffer (spec.md §4.4). Parameters and probe derivation
// are grounded in the teacher corpus's own rotate-mix-delta bloom filter
// (huynhanx03-go-common/pkg/datastructs/bloom), specialized to the
// self-describing wire format the spec requires: the last byte of the
// bitset stores k.
package bloom

import (
	"math"

	"github.com/cespare/xxhash/v2"
)

const (
	bitsPerKey = 12
	minBits    = 64
)

// probeCount returns k = round(bitsPerKey * ln2) for the filter, the
// same derivation the spec names.
func probeCount() int {
	return int(math.Round(bitsPerKey * math.Ln2))
}

// Size returns the number of bytes a filter over n keys will occupy,
// including the trailing probe-count byte. Filter size is a pure
// function of key count.
func Size(n int) int {
	if n <= 0 {
		return 0
	}
	bits := bitsPerKey * n
	if bits < minBits {
		bits = minBits
	}
	bytes := (bits + 7) / 8
	return bytes + 1 // trailing byte stores k
}

// Build creates a filter over the given keys. Matches the spec's
// "rebuilt at serialization time" contract: callers call Build fresh
// whenever a buffer's key set changes and overwrite whatever bitset they
// had before.
func Build(keys [][]byte) []byte {
	if len(keys) == 0 {
		return nil
	}
	bits := bitsPerKey * len(keys)
	if bits < minBits {
		bits = minBits
	}
	nbytes := (bits + 7) / 8
	bits = nbytes * 8 // byte-align the probe space

	out := make([]byte, nbytes+1)
	k := probeCount()
	out[nbytes] = byte(k)

	for _, key := range keys {
		h := uint32(xxhash.Sum64(key))
		delta := (h >> 17) | (h << 15)
		for j := 0; j < k; j++ {
			pos := int(h % uint32(bits))
			out[pos/8] |= 1 << (pos % 8)
			h += delta
		}
	}
	return out
}

// Matches tests key against filter. An absent filter or a filter shorter
// than 2 bytes matches nothing, per spec.md §4.4.
func Matches(key []byte, filter []byte) bool {
	if len(filter) < 2 {
		return false
	}
	nbytes := len(filter) - 1
	bits := nbytes * 8
	k := int(filter[nbytes])

	h := uint32(xxhash.Sum64(key))
	delta := (h >> 17) | (h << 15)
	for j := 0; j < k; j++ {
		pos := int(h % uint32(bits))
		if filter[pos/8]&(1<<(pos%8)) == 0 {
			return false
		}
		h += delta
	}
	return true
}
