// Package scoring turns uploaded donor records into per-model acceptance
// probabilities by scoring hybrids of each record with sampled reference
// records and averaging the results.
package scoring

import (
	"math/rand"
	"sync"
)

// Sampler draws distinct reference indices.  It is safe for concurrent use;
// draws are serialized on the underlying source.
type Sampler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSampler returns a Sampler seeded with seed.
func NewSampler(seed int64) *Sampler {
	return NewSamplerWithRand(rand.New(rand.NewSource(seed)))
}

// NewSamplerWithRand wraps an existing source, mainly for tests.
func NewSamplerWithRand(rng *rand.Rand) *Sampler {
	return &Sampler{rng: rng}
}

// maxDrawsPerSample bounds rejection sampling at this many draws per
// requested index.
const maxDrawsPerSample = 20

// Sample returns up to size distinct indices in [0, n).  When size >= n every
// index is returned in shuffled order.  Otherwise indices are drawn at random
// and duplicates rejected, stopping after maxDrawsPerSample*size draws, so
// the result may be shorter than size but never contains a repeat.
func (s *Sampler) Sample(n, size int) []int {
	if n <= 0 || size <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if size >= n {
		return s.rng.Perm(n)
	}

	out := make([]int, 0, size)
	seen := make(map[int]struct{}, size)
	for draws := 0; len(out) < size && draws < maxDrawsPerSample*size; draws++ {
		i := s.rng.Intn(n)
		if _, dup := seen[i]; dup {
			continue
		}
		seen[i] = struct{}{}
		out = append(out, i)
	}
	return out
}
