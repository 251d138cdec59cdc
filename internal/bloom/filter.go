// Package bloom records which colleges appear in each year table.
//
// A Filter never reports a present college as absent, so the query side can
// skip a year table whenever MayContain returns false.
package bloom

import (
	"encoding/binary"
	"math"

	"github.com/spaolacci/murmur3"
)

// Filter is a bloom filter keyed by college_id.
type Filter struct {
	bits      []uint64
	numBits   uint64
	numHashes uint64
	count     uint64
}

// New creates a Filter with the given number of bits and hash functions.
func New(numBits, numHashes int) *Filter {
	if numBits <= 0 {
		numBits = 1024
	}
	if numHashes <= 0 {
		numHashes = 7
	}

	numWords := (numBits + 63) / 64
	return &Filter{
		bits:      make([]uint64, numWords),
		numBits:   uint64(numWords * 64),
		numHashes: uint64(numHashes),
	}
}

// NewWithEstimates sizes a Filter for expectedItems at the target false
// positive rate.
func NewWithEstimates(expectedItems int, targetFPR float64) *Filter {
	return New(OptimalParameters(expectedItems, targetFPR))
}

// OptimalParameters returns bit and hash counts for n items at rate p:
// m = -n*ln(p)/ln(2)^2 and k = (m/n)*ln(2).
func OptimalParameters(expectedItems int, targetFPR float64) (numBits, numHashes int) {
	if expectedItems <= 0 {
		expectedItems = 1000
	}
	if targetFPR <= 0 || targetFPR >= 1 {
		targetFPR = 0.01
	}

	n := float64(expectedItems)
	m := -n * math.Log(targetFPR) / (math.Ln2 * math.Ln2)
	numBits = int(math.Ceil(m))
	numHashes = int(math.Ceil((m / n) * math.Ln2))

	if numBits < 64 {
		numBits = 64
	}
	if numHashes < 1 {
		numHashes = 1
	}
	return numBits, numHashes
}

// Add records a college_id.
func (f *Filter) Add(collegeID int64) {
	h1, h2 := hashID(collegeID)
	for i := uint64(0); i < f.numHashes; i++ {
		pos := (h1 + i*h2) % f.numBits
		f.bits[pos/64] |= 1 << (pos % 64)
	}
	f.count++
}

// MayContain reports whether collegeID might have been added.
func (f *Filter) MayContain(collegeID int64) bool {
	h1, h2 := hashID(collegeID)
	for i := uint64(0); i < f.numHashes; i++ {
		pos := (h1 + i*h2) % f.numBits
		if f.bits[pos/64]&(1<<(pos%64)) == 0 {
			return false
		}
	}
	return true
}

// Count returns the number of ids added.
func (f *Filter) Count() uint64 {
	return f.count
}

// NumBits returns the size of the bit array.
func (f *Filter) NumBits() int {
	return int(f.numBits)
}

// NumHashes returns the number of hash functions.
func (f *Filter) NumHashes() int {
	return int(f.numHashes)
}

// hashID returns the two murmur3 halves used for double hashing.
func hashID(collegeID int64) (uint64, uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(collegeID))
	return murmur3.Sum128(buf[:])
}
