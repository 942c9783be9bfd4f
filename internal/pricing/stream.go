package pricing

import (
	"math"
	"math/rand"
)

// minUniform keeps Box–Muller away from ln(0).
const minUniform = 1e-9

// Stream is the seeded uniform random source of one session. Every
// stochastic draw of a session goes through its Stream, so two sessions
// never share randomness and a session's path is fixed by its seed.
//
// A Stream is not safe for concurrent use; the owning session serializes it.
type Stream struct {
	seed int64
	r    *rand.Rand
}

// NewStream creates a stream seeded with seed.
func NewStream(seed int64) *Stream {
	return &Stream{seed: seed, r: rand.New(rand.NewSource(seed))}
}

// Seed returns the seed the stream was created with.
func (s *Stream) Seed() int64 {
	return s.seed
}

// Float64 draws a uniform value in [0, 1).
func (s *Stream) Float64() float64 {
	return s.r.Float64()
}

// Uniform draws a uniform value in [lo, hi).
func (s *Stream) Uniform(lo, hi float64) float64 {
	return lo + (hi-lo)*s.r.Float64()
}

// Coin returns true with probability one half.
func (s *Stream) Coin() bool {
	return s.r.Float64() < 0.5
}

// Gaussian draws a standard normal variate with the Box–Muller transform:
//
//	z = sqrt(-2 ln u1) * cos(2π u2)
//
// It consumes exactly two uniform draws per call. Do not replace it with
// rand.NormFloat64, which consumes the source differently and would change
// every simulated path for a given seed.
func (s *Stream) Gaussian() float64 {
	u1 := math.Max(minUniform, s.r.Float64())
	u2 := s.r.Float64()
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}
