package engine

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	mrand "math/rand/v2"
)

// MaxSeed bounds generated seeds to a positive 31-bit range so they survive
// every client that stores them as a signed 32-bit integer.
const MaxSeed = 1<<31 - 1

// pcgStream is the fixed second PCG word; only the seed varies between runs.
const pcgStream = 0x9e3779b97f4a7c15

// NewSeed draws a seed in [0, MaxSeed) from crypto/rand.
func NewSeed() (int64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("read seed entropy: %w", err)
	}
	return int64(binary.BigEndian.Uint64(b[:]) % MaxSeed), nil
}

// Rank returns a copy of candidates in the global processing order for seed.
// The order is a Fisher–Yates shuffle driven by a PCG generator seeded only
// with seed, so identical (candidates, seed) always give the same order.
func Rank(candidates []Candidate, seed int64) []Candidate {
	out := make([]Candidate, len(candidates))
	copy(out, candidates)

	r := mrand.New(mrand.NewPCG(uint64(seed), pcgStream))
	for i := len(out) - 1; i > 0; i-- {
		j := r.IntN(i + 1)
		out[i], out[j] = out[j], out[i]
	}
	return out
}
