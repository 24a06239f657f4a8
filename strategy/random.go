package strategy

import "github.com/notargets/kerneltune/space"

// Random proposes configurations from a ConfigIterator: a pseudo-random,
// duplicate-free permutation of the space's valid configurations.
type Random struct {
	it *space.ConfigIterator
}

// NewRandom builds a Random strategy over sp's valid configurations.
func NewRandom(sp *space.ConfigSpace) (*Random, error) {
	it, err := sp.Iterate()
	if err != nil {
		return nil, err
	}
	return &Random{it: it}, nil
}

func (r *Random) Init(out *space.Config) (bool, error) {
	cfg, ok, err := r.it.Next()
	if err != nil || !ok {
		return false, err
	}
	*out = cfg
	return true, nil
}

func (r *Random) Submit(_ float64, out *space.Config) (bool, error) {
	cfg, ok, err := r.it.Next()
	if err != nil || !ok {
		return false, err
	}
	*out = cfg
	return true, nil
}
