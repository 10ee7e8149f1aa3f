package utility

import (
	"math/rand"
	"sync"
)

// Random is the seedable source used for exploration draws.
type Random interface {
	Float64() float64
}

// LockedRand is a goroutine-safe Random backed by math/rand.
type LockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewRand returns a LockedRand seeded with seed.
func NewRand(seed int64) *LockedRand {
	return &LockedRand{r: rand.New(rand.NewSource(seed))}
}

func (l *LockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}
