package strategy

import "github.com/notargets/kerneltune/space"

// Limit delegates to inner but stops the search once maxEvals
// configurations have been proposed, regardless of what inner would
// still yield. Init's proposal counts as the first, so at most
// maxEvals-1 Submit calls succeed.
type Limit struct {
	inner    Strategy
	maxEvals int
	evals    int
}

// NewLimit wraps inner, capping it at maxEvals accepted measurements.
func NewLimit(maxEvals int, inner Strategy) *Limit {
	return &Limit{inner: inner, maxEvals: maxEvals}
}

func (l *Limit) Init(out *space.Config) (bool, error) {
	if l.maxEvals < 1 {
		return false, nil
	}
	ok, err := l.inner.Init(out)
	if err != nil || !ok {
		return false, err
	}
	l.evals = 1
	return true, nil
}

func (l *Limit) Submit(perf float64, out *space.Config) (bool, error) {
	if l.evals >= l.maxEvals {
		return false, nil
	}
	ok, err := l.inner.Submit(perf, out)
	if err != nil || !ok {
		return false, err
	}
	l.evals++
	return true, nil
}
