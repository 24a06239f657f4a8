package strategy

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/stat"

	"github.com/notargets/kerneltune/param"
	"github.com/notargets/kerneltune/space"
	"github.com/notargets/kerneltune/value"
)

// neighborKey identifies one untried single-parameter perturbation of
// the current best configuration.
type neighborKey struct {
	param   *param.Parameter
	domIdx  int
}

// HillClimbing maintains the best (configuration, performance) seen so
// far and proposes single-parameter perturbations of it, falling back
// to inner for a fresh seed once the neighborhood is exhausted.
type HillClimbing struct {
	space *space.ConfigSpace
	inner Strategy

	bestCfg  space.Config
	bestPerf float64
	haveBest bool

	tried map[neighborKey]bool

	history []float64 // every submitted performance, for diagnostics
}

// NewHillClimbing builds a HillClimbing strategy over sp, delegating to
// inner whenever the current neighborhood is exhausted.
func NewHillClimbing(sp *space.ConfigSpace, inner Strategy) *HillClimbing {
	return &HillClimbing{
		space:    sp,
		inner:    inner,
		bestPerf: math.Inf(-1),
		tried:    make(map[neighborKey]bool),
	}
}

func (h *HillClimbing) Init(out *space.Config) (bool, error) {
	ok, err := h.inner.Init(out)
	if err != nil || !ok {
		return false, err
	}
	h.bestCfg = *out
	h.bestPerf = math.Inf(-1)
	h.haveBest = true
	h.tried = make(map[neighborKey]bool)
	return true, nil
}

func (h *HillClimbing) Submit(perf float64, out *space.Config) (bool, error) {
	h.history = append(h.history, perf)

	if !h.haveBest || perf > h.bestPerf {
		h.bestPerf = perf
		h.bestCfg = *out
		h.tried = make(map[neighborKey]bool)
		h.haveBest = true
	}

	for {
		neighbor, key, found := h.pickNeighbor()
		if !found {
			seeded, err := h.inner.Submit(perf, out)
			if err != nil || !seeded {
				return false, err
			}
			h.bestCfg = *out
			h.bestPerf = math.Inf(-1)
			h.tried = make(map[neighborKey]bool)
			return true, nil
		}
		h.tried[key] = true

		valid, err := h.space.IsValid(neighbor)
		if err != nil {
			return false, err
		}
		if !valid {
			continue
		}
		*out = neighbor
		return true, nil
	}
}

// pickNeighbor selects a uniformly random untried (parameter,
// alternative-value) perturbation of the current best configuration.
func (h *HillClimbing) pickNeighbor() (space.Config, neighborKey, bool) {
	type candidate struct {
		key neighborKey
		val value.Value
	}
	var candidates []candidate
	for _, p := range h.space.Parameters() {
		cur, _ := h.bestCfg.Get(p)
		for i := 0; i < p.Size(); i++ {
			alt := p.DomainAt(i)
			if alt.Equal(cur) {
				continue
			}
			k := neighborKey{param: p, domIdx: i}
			if h.tried[k] {
				continue
			}
			candidates = append(candidates, candidate{key: k, val: alt})
		}
	}
	if len(candidates) == 0 {
		return space.Config{}, neighborKey{}, false
	}
	pick := candidates[rand.Intn(len(candidates))]
	return h.bestCfg.With(pick.key.param, pick.val), pick.key, true
}

// Diagnostics reports the mean and standard deviation of every
// performance submitted so far, for progress logging.
func (h *HillClimbing) Diagnostics() (mean, stddev float64) {
	if len(h.history) == 0 {
		return 0, 0
	}
	mean, std := stat.MeanStdDev(h.history, nil)
	return mean, std
}
