// Package kerneltune ties the configuration space, kernel builder,
// tuning cache, search strategy, and call-site state machine together
// into the single entry point an application actually calls:
// Tuner.NewCallSite, whose Session the application then drives with
// Session.Dispatch. Everything below it — space, kernel, cache, strategy,
// tuning, driver — is usable on its own, but Tuner is the shape most
// callers want.
package kerneltune

import (
	"os"

	"github.com/pkg/errors"

	"github.com/notargets/kerneltune/cache"
	"github.com/notargets/kerneltune/compiler"
	"github.com/notargets/kerneltune/internal/klog"
	"github.com/notargets/kerneltune/kernel"
	"github.com/notargets/kerneltune/space"
	"github.com/notargets/kerneltune/strategy"
	"github.com/notargets/kerneltune/tuning"
	"github.com/notargets/kerneltune/value"
)

// options collects the knobs TunerOption values can set, defaulted by New
// before a Tuner is built.
type options struct {
	cacheDir    string
	cacheFile   string
	limit       int
	minEvals    int
	maxEvals    int
	maxSeconds  float64
	numOutliers int
	strategy    func(sp *space.ConfigSpace) (strategy.Strategy, error)
	compiler    compiler.Compiler
	log         klog.Logger
}

// TunerOption configures a Tuner at construction time.
type TunerOption func(*options)

// WithCacheDir sets the directory a Tuner's persistent tuning cache is
// written under, named after the kernel. The default is the current
// working directory.
func WithCacheDir(dir string) TunerOption {
	return func(o *options) { o.cacheDir = dir }
}

// WithCacheFile overrides the cache's file name entirely, ignoring
// WithCacheDir.
func WithCacheFile(path string) TunerOption {
	return func(o *options) { o.cacheFile = path }
}

// WithLimit caps the total number of configurations a Tuner's search
// will try before settling on the best it has seen. The cached best
// replayed first, when the cache holds one, is not counted.
func WithLimit(maxEvals int) TunerOption {
	return func(o *options) { o.limit = maxEvals }
}

// WithAggregator sets the sample-collection policy each variant is
// measured under: at least minEvals+numOutliers samples, stopping once
// maxSeconds total elapsed or maxEvals samples have been collected,
// discarding the numOutliers slowest samples before reducing.
func WithAggregator(minEvals, maxEvals int, maxSeconds float64, numOutliers int) TunerOption {
	return func(o *options) {
		o.minEvals, o.maxEvals, o.maxSeconds, o.numOutliers = minEvals, maxEvals, maxSeconds, numOutliers
	}
}

// WithStrategy overrides the default hill-climbing-over-random search
// with a caller-supplied constructor, e.g. strategy.Custom wrapping a
// purpose-built implementation.
func WithStrategy(build func(sp *space.ConfigSpace) (strategy.Strategy, error)) TunerOption {
	return func(o *options) { o.strategy = build }
}

// WithCompiler overrides the default compiler. There is no bundled
// default: a real toolchain binding (NVRTC, OCCA's JIT, etc.) must
// always be supplied.
func WithCompiler(c compiler.Compiler) TunerOption {
	return func(o *options) { o.compiler = c }
}

// WithLogger overrides the default stderr text logger.
func WithLogger(log klog.Logger) TunerOption {
	return func(o *options) { o.log = log }
}

func defaultOptions() options {
	return options{
		minEvals:    3,
		maxEvals:    10,
		maxSeconds:  1.0,
		numOutliers: 1,
	}
}

// Tuner is the top-level façade: one kernel's Builder, bound to a
// search strategy, a persistent cache, and a compiler, producing one
// tuning.Session per distinct call site.
type Tuner struct {
	builder    *kernel.Builder
	space      *space.ConfigSpace
	paramTypes []value.Type
	compiler   compiler.Compiler
	cache      *cache.TuningCache
	priorBest  space.Config
	havePrior  bool
	log        klog.Logger
	opts       options
}

// New finalizes b's configuration space and builds a Tuner around it,
// opening (or creating) its persistent tuning cache. Each call to
// NewCallSite wires a fresh search strategy — cached-best-first, then
// hill-climbing over the remaining space (or whatever WithStrategy
// supplies), capped by WithLimit if set — over that shared cache.
func New(b *kernel.Builder, paramTypes []value.Type, opts ...TunerOption) (*Tuner, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = klog.Default()
	}
	if o.compiler == nil {
		return nil, errors.New("kerneltune: WithCompiler is required (no default compiler toolchain is bundled)")
	}

	sp, err := b.Space()
	if err != nil {
		return nil, errors.Wrap(err, "finalizing kernel configuration space")
	}

	path := o.cacheFile
	if path == "" {
		dir := o.cacheDir
		if dir == "" {
			dir = "."
		}
		path = dir + string(os.PathSeparator) + b.Name + ".tuning-cache.json"
	}

	header := cache.Header{KernelName: b.Name, KernelSource: b.Source.Inline}
	tc, priorBest, havePrior, err := cache.Open(path, sp, header)
	if err != nil {
		return nil, errors.Wrap(err, "opening tuning cache")
	}

	return &Tuner{
		builder:    b,
		space:      sp,
		paramTypes: paramTypes,
		compiler:   o.compiler,
		cache:      tc,
		priorBest:  priorBest,
		havePrior:  havePrior,
		log:        o.log.With("kernel", b.Name),
		opts:       o,
	}, nil
}

func (t *Tuner) defaultStrategy() (strategy.Strategy, error) {
	r, err := strategy.NewRandom(t.space)
	if err != nil {
		return nil, err
	}
	return strategy.NewHillClimbing(t.space, r), nil
}

// Close flushes the Tuner's persistent cache.
func (t *Tuner) Close() error {
	return t.cache.Close()
}

// NewCallSite starts a fresh tuning.Session for one call site of the
// Tuner's kernel. Every call site shares the same on-disk cache: each
// replays, as its first proposal, the best configuration the cache held
// when the Tuner was opened, and skips configurations whose performance
// any call site has already recorded. A best found during this Tuner's
// lifetime becomes the replayed first proposal only for a Tuner opened
// later on the same cache.
func (t *Tuner) NewCallSite() (*tuning.Session, error) {
	var strat strategy.Strategy
	var err error
	if t.opts.strategy != nil {
		strat, err = t.opts.strategy(t.space)
	} else {
		strat, err = t.defaultStrategy()
	}
	if err != nil {
		return nil, err
	}
	if t.opts.limit > 0 {
		strat = strategy.NewLimit(t.opts.limit, strat)
	}
	strat = strategy.NewCaching(t.cache, t.priorBest, t.havePrior, strat)

	newAgg := func() *tuning.Aggregator {
		return tuning.NewAggregator(t.opts.minEvals, t.opts.maxEvals, t.opts.maxSeconds, t.opts.numOutliers)
	}
	return tuning.NewSession(t.builder, strat, t.paramTypes, t.compiler, newAgg, t.log), nil
}
