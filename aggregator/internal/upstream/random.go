package upstream

import "math/rand/v2"

// RandomGenerator supplies random numbers to load balancing decisions
type RandomGenerator interface {
	Random() uint64
}

type defaultRandom struct{}

func (defaultRandom) Random() uint64 {
	return rand.Uint64()
}

// DefaultRandom returns a goroutine-safe generator backed by math/rand/v2
func DefaultRandom() RandomGenerator {
	return defaultRandom{}
}

// FixedRandom always returns its own value; useful for deterministic selection
type FixedRandom uint64

func (f FixedRandom) Random() uint64 {
	return uint64(f)
}
