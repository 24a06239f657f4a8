package strategy

import (
	"github.com/notargets/kerneltune/cache"
	"github.com/notargets/kerneltune/space"
)

// Caching wraps inner with persistence: the first proposal of a session
// is replaced by the cache's best-known configuration (with inner's
// original proposal stashed for the following Submit), and every
// subsequent proposal whose performance is already on record is skipped
// by chaining forward into inner rather than re-measuring it.
type Caching struct {
	cache *cache.TuningCache
	inner Strategy

	priorBest    space.Config
	havePrior    bool
	stashed      space.Config
	awaitStashed bool
}

// NewCaching wraps inner with tc, replaying priorBest first when
// havePrior is true — the result of a prior cache.Open call.
func NewCaching(tc *cache.TuningCache, priorBest space.Config, havePrior bool, inner Strategy) *Caching {
	return &Caching{cache: tc, inner: inner, priorBest: priorBest, havePrior: havePrior}
}

func (c *Caching) Init(out *space.Config) (bool, error) {
	ok, err := c.inner.Init(out)
	if err != nil || !ok {
		return ok, err
	}
	if c.havePrior {
		c.stashed = *out
		c.awaitStashed = true
		*out = c.priorBest
	}
	return true, nil
}

func (c *Caching) Submit(perf float64, out *space.Config) (bool, error) {
	if c.awaitStashed {
		c.awaitStashed = false
		*out = c.stashed
		return true, nil
	}

	if err := c.cache.Append(*out, perf); err != nil {
		return false, err
	}

	orig := *out
	ok, err := c.inner.Submit(perf, out)
	if err != nil || !ok {
		return ok, err
	}

	for {
		cachedPerf, found := c.cache.Find(*out)
		if !found {
			return true, nil
		}
		ok, err := c.inner.Submit(cachedPerf, out)
		if err != nil || !ok {
			*out = orig
			return ok, err
		}
	}
}
