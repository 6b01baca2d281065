package services

import "math/rand"

// Randomizer supplies the coin flip, XP rolls and map draws.
type Randomizer interface {
	// IntN returns a uniform value in [0, n).
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.Intn(n) }

// DefaultRandomizer draws from the runtime's goroutine-safe source.
func DefaultRandomizer() Randomizer { return globalRand{} }

// rollBetween returns a uniform value in [lo, hi].
func rollBetween(r Randomizer, lo, hi int64) int64 {
	if hi <= lo {
		return lo
	}
	return lo + int64(r.IntN(int(hi-lo+1)))
}
