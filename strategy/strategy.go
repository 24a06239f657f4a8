// Package strategy implements the pluggable search algorithms that
// decide which configuration to measure next: Random, HillClimbing,
// Limit, and Caching, each composable by wrapping an inner Strategy.
package strategy

import "github.com/notargets/kerneltune/space"

// Strategy is a stateful search algorithm producing a stream of
// configurations to measure. Init proposes the first configuration;
// Submit consumes the measured performance of the previously proposed
// one and proposes the next. Both return false once the search is
// exhausted, and out is left unmodified in that case.
type Strategy interface {
	Init(out *space.Config) (bool, error)
	Submit(perf float64, out *space.Config) (bool, error)
}

// Custom adapts any caller-supplied Strategy so it composes with the
// built-in decorators without requiring them to know about external
// implementations — the one exported extension point for user-defined
// search algorithms.
type Custom struct {
	Impl Strategy
}

func (c Custom) Init(out *space.Config) (bool, error) { return c.Impl.Init(out) }

func (c Custom) Submit(perf float64, out *space.Config) (bool, error) {
	return c.Impl.Submit(perf, out)
}
