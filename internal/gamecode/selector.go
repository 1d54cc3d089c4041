package gamecode

import (
	"math/rand/v2"
	"sync"
)

// Selector draws uniform random samples without replacement. The source is
// injectable so tests can fix the draw; it is not meant to be adversarially
// unpredictable.
type Selector struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSelector uses src, or a randomly seeded PCG when src is nil.
func NewSelector(src rand.Source) *Selector {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &Selector{rng: rand.New(src)}
}

// Sample returns min(count, len(members)) distinct members in draw order.
// members is not modified.
func (s *Selector) Sample(members []Member, count int) []Member {
	n := len(members)
	if count <= 0 || n == 0 {
		return nil
	}
	if count > n {
		count = n
	}
	pool := append([]Member(nil), members...)

	s.mu.Lock()
	defer s.mu.Unlock()
	// Partial Fisher-Yates: the first count slots end up uniformly sampled.
	for i := 0; i < count; i++ {
		j := i + s.rng.IntN(n-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:count:count]
}
