// Package bloom provides the reference/test implementation of the Bloom
// filter interface a vBucket's Full-eviction read path consults before
// deciding a bgfetch is required. Bloom filters are treated as externally
// supplied; this package is the default the engine is constructed with
// when no production filter is injected.
package bloom

import (
	"hash/fnv"
	"math"
)

// Filter is a fixed-size Bloom filter over key strings.
type Filter struct {
	bits      []bool
	numHashes uint32
}

// New creates a Filter sized for expectedItems entries at falsePositive
// rate, using the standard optimal-size/hash-count formulas.
func New(expectedItems int, falsePositiveRate float64) *Filter {
	if expectedItems <= 0 {
		expectedItems = 1
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01
	}

	m := optimalNumBits(expectedItems, falsePositiveRate)
	k := optimalNumHashes(m, expectedItems)

	return &Filter{
		bits:      make([]bool, m),
		numHashes: k,
	}
}

func optimalNumBits(n int, p float64) int {
	m := -1 * float64(n) * math.Log(p) / (math.Ln2 * math.Ln2)
	if m < 1 {
		m = 1
	}
	return int(math.Ceil(m))
}

func optimalNumHashes(m, n int) uint32 {
	k := (float64(m) / float64(n)) * math.Ln2
	if k < 1 {
		k = 1
	}
	return uint32(math.Round(k))
}

// getHashes derives numHashes independent positions from key using the
// double-hashing technique (two fnv hashes combined), avoiding the cost of
// numHashes separate hash functions.
func (f *Filter) getHashes(key string) []uint64 {
	h1 := fnv.New64a()
	h1.Write([]byte(key))
	sum1 := h1.Sum64()

	h2 := fnv.New64()
	h2.Write([]byte(key))
	sum2 := h2.Sum64()

	positions := make([]uint64, f.numHashes)
	for i := uint32(0); i < f.numHashes; i++ {
		positions[i] = (sum1 + uint64(i)*sum2) % uint64(len(f.bits))
	}
	return positions
}

// Add inserts key into the filter.
func (f *Filter) Add(key string) {
	for _, pos := range f.getHashes(key) {
		f.bits[pos] = true
	}
}

// MayContain reports whether key might be in the set the filter was built
// from. A false return is a guarantee; a true return is probabilistic.
func (f *Filter) MayContain(key string) bool {
	for _, pos := range f.getHashes(key) {
		if !f.bits[pos] {
			return false
		}
	}
	return true
}

// Reset clears every bit, used when a vBucket's full eviction pass starts
// rebuilding the filter from the key set currently resident on disk.
func (f *Filter) Reset() {
	for i := range f.bits {
		f.bits[i] = false
	}
}
