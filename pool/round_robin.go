package pool

import (
	"math/rand"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

type roundRobinStrategy struct {
	current *xsync.MapOf[string, *atomic.Uint64]
}

// NewRoundRobinStrategy rotates the starting candidate on every call, per
// key.
func NewRoundRobinStrategy() Strategy {
	return &roundRobinStrategy{
		current: xsync.NewMapOf[string, *atomic.Uint64](),
	}
}

func (r *roundRobinStrategy) Order(key string, candidates []*Pool) []*Pool {
	if len(candidates) <= 1 {
		return candidates
	}
	counter, _ := r.current.LoadOrCompute(key, func() *atomic.Uint64 {
		return new(atomic.Uint64)
	})
	start := r.nextIndex(counter, len(candidates))

	// We want to iterate through the elements in a circular order
	// so the first element in cycle is candidates[start].
	ret := make([]*Pool, 0, len(candidates))
	ret = append(ret, candidates[start:]...)
	return append(ret, candidates[:start]...)
}

func (r *roundRobinStrategy) nextIndex(counter *atomic.Uint64, size int) int {
	next := counter.Add(1)
	return int((next - 1) % uint64(size))
}

type randomStrategy struct{}

// NewRandomStrategy shuffles the candidates on every call.
func NewRandomStrategy() Strategy {
	return randomStrategy{}
}

func (randomStrategy) Order(_ string, candidates []*Pool) []*Pool {
	ret := make([]*Pool, len(candidates))
	for i, j := range rand.Perm(len(candidates)) {
		ret[i] = candidates[j]
	}
	return ret
}

type orderStrategy struct{}

// NewOrderStrategy always tries candidates in registration order, so the
// first healthy one is used.
func NewOrderStrategy() Strategy {
	return orderStrategy{}
}

func (orderStrategy) Order(_ string, candidates []*Pool) []*Pool {
	return candidates
}
