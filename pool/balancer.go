package pool

import "fmt"

// Strategy decides the order in which the healthy pools matching a role key
// are tried.
type Strategy interface {
	// Order returns the candidates in the order they should be tried. The
	// key identifies the (group, role key) pair being resolved, so a
	// strategy may keep independent state per selector.
	Order(key string, candidates []*Pool) []*Pool
}

// NewStrategy returns the built-in strategy for the selector. An empty
// selector means RoundRobin.
func NewStrategy(selector Selector) (Strategy, error) {
	switch selector {
	case "", RoundRobin:
		return NewRoundRobinStrategy(), nil
	case Random:
		return NewRandomStrategy(), nil
	case Order:
		return NewOrderStrategy(), nil
	}
	return nil, fmt.Errorf("unknown selector %q", selector)
}
