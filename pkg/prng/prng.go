// Package prng provides a deterministic byte stream, used to make fake
// data generation reproducible from a seed.
package prng

import (
	"encoding/binary"
	"math/rand"
)

// Source is a seeded io.Reader. Same seed, same bytes.
type Source struct {
	r *rand.Rand
}

func New(seed int64) *Source {
	return &Source{r: rand.New(rand.NewSource(seed))}
}

func (s *Source) Read(p []byte) (int, error) {
	var scratch [8]byte
	for i := 0; i < len(p); i += 8 {
		binary.LittleEndian.PutUint64(scratch[:], uint64(s.r.Int63()))
		copy(p[i:], scratch[:])
	}
	return len(p), nil
}
