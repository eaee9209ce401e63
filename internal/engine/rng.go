package engine

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
)

// RandomSource yields uniform draws. One source serves exactly one wager.
type RandomSource interface {
	Float64() float64 // [0, 1)
	IntN(n int) int   // [0, n)
}

type pcgSource struct{ r *rand.Rand }

func (s *pcgSource) Float64() float64 { return s.r.Float64() }
func (s *pcgSource) IntN(n int) int   { return s.r.IntN(n) }

// NewSeededSource is deterministic for a given seed; used by tests and the
// simulate command.
func NewSeededSource(seed uint64) RandomSource {
	return &pcgSource{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// NewWagerSource seeds a fresh PCG from crypto/rand.
func NewWagerSource() RandomSource {
	var buf [16]byte
	if _, err := cryptorand.Read(buf[:]); err != nil {
		return &pcgSource{r: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
	}
	return &pcgSource{r: rand.New(rand.NewPCG(
		binary.BigEndian.Uint64(buf[:8]),
		binary.BigEndian.Uint64(buf[8:]),
	))}
}

// SourceFactory hands out one RandomSource per wager.
type SourceFactory func() RandomSource
