package strategy

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/kerneltune/cache"
	"github.com/notargets/kerneltune/expr"
	"github.com/notargets/kerneltune/param"
	"github.com/notargets/kerneltune/space"
	"github.com/notargets/kerneltune/value"
)

// buildFooBar mirrors the canonical foo/bar scenario: foo,bar in
// {1,2,3}, default 1, restriction foo<=bar, valid count 6.
func buildFooBar(t *testing.T) *space.ConfigSpace {
	t.Helper()
	vals := []value.Value{value.NewInt(1), value.NewInt(2), value.NewInt(3)}
	foo, err := param.New("foo", value.TypeInt64, vals, value.NewInt(1))
	require.NoError(t, err)
	bar, err := param.New("bar", value.TypeInt64, vals, value.NewInt(1))
	require.NoError(t, err)
	restriction := expr.Binary(expr.Le, expr.Param(foo), expr.Param(bar))
	sp, err := space.New([]*param.Parameter{foo, bar}, []*expr.Expr{restriction})
	require.NoError(t, err)
	return sp
}

func TestRandom_EnumeratesExactlySix(t *testing.T) {
	sp := buildFooBar(t)
	r, err := NewRandom(sp)
	require.NoError(t, err)

	var cfg space.Config
	seen := map[uint64]bool{}
	ok, err := r.Init(&cfg)
	require.NoError(t, err)
	count := 0
	for ok {
		count++
		seen[cfg.Hash()] = true
		valid, err := sp.IsValid(cfg)
		require.NoError(t, err)
		assert.True(t, valid)
		ok, err = r.Submit(1.0, &cfg)
		require.NoError(t, err)
	}
	assert.Equal(t, 6, count)
	assert.Len(t, seen, 6)
}

func TestLimit_CapsAtMaxEvals(t *testing.T) {
	sp := buildFooBar(t)
	r, err := NewRandom(sp)
	require.NoError(t, err)
	l := NewLimit(3, r)

	var cfg space.Config
	ok, err := l.Init(&cfg)
	require.NoError(t, err)
	require.True(t, ok)
	count := 1
	for {
		ok, err = l.Submit(1.0, &cfg)
		require.NoError(t, err)
		if !ok {
			break
		}
		count++
	}
	assert.Equal(t, 3, count)
}

func TestHillClimbing_AlwaysYieldsValidConfigs(t *testing.T) {
	sp := buildFooBar(t)
	r, err := NewRandom(sp)
	require.NoError(t, err)
	h := NewHillClimbing(sp, r)

	var cfg space.Config
	ok, err := h.Init(&cfg)
	require.NoError(t, err)
	require.True(t, ok)

	for i := 0; i < 20 && ok; i++ {
		valid, err := sp.IsValid(cfg)
		require.NoError(t, err)
		assert.True(t, valid)
		ok, err = h.Submit(float64(i), &cfg)
		require.NoError(t, err)
	}
}

func TestCaching_ReplaysPriorBestFirst(t *testing.T) {
	sp := buildFooBar(t)
	path := filepath.Join(t.TempDir(), "tune.cache")

	tc, _, _, err := cache.Open(path, sp, cache.Header{KernelName: "k"})
	require.NoError(t, err)

	foo, err := sp.ParameterByName("foo")
	require.NoError(t, err)
	bar, err := sp.ParameterByName("bar")
	require.NoError(t, err)
	seedCfg, err := sp.DefaultConfig()
	require.NoError(t, err)
	priorBest := seedCfg.With(foo, value.NewInt(2)).With(bar, value.NewInt(3))
	require.NoError(t, tc.Append(priorBest, 99.0))
	require.NoError(t, tc.Close())

	tc2, best, found, err := cache.Open(path, sp, cache.Header{KernelName: "k"})
	require.NoError(t, err)
	require.True(t, found)

	r, err := NewRandom(sp)
	require.NoError(t, err)
	c := NewCaching(tc2, best, found, r)

	var cfg space.Config
	ok, err := c.Init(&cfg)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, cfg.Equal(best))
	innerFirst := c.stashed

	ok, err = c.Submit(99.0, &cfg)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, cfg.Equal(innerFirst), "second proposal should be inner's stashed original, not the cached best again")
}
