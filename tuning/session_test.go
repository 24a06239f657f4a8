package tuning

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/kerneltune/compiler"
	"github.com/notargets/kerneltune/driver"
	"github.com/notargets/kerneltune/errs"
	"github.com/notargets/kerneltune/kernel"
	"github.com/notargets/kerneltune/space"
	"github.com/notargets/kerneltune/value"
)

// --- fake driver -----------------------------------------------------

type fakeEvent struct{ dev *fakeDevice }

func (e *fakeEvent) Synchronize(ctx context.Context) error { return nil }

func (e *fakeEvent) ElapsedSince(start driver.Event) (float64, error) {
	d := e.dev
	v := d.elapsedQueue[d.elapsedIdx]
	d.elapsedIdx++
	return v, nil
}

type fakeModule struct {
	dev    *fakeDevice
	symbol string
}

func (m *fakeModule) Launch(ctx context.Context, stream driver.Stream, grid, block [3]uint32, sharedMemBytes uint32, args ...any) error {
	m.dev.launches = append(m.dev.launches, m.symbol)
	return nil
}

type fakeStream struct{}

func (fakeStream) Record(ev driver.Event) error { return nil }

type fakeDevice struct {
	elapsedQueue []float64
	elapsedIdx   int
	launches     []string
}

func (d *fakeDevice) Name() string                       { return "fake0" }
func (d *fakeDevice) ComputeCapability() (int, int)       { return 8, 0 }
func (d *fakeDevice) DriverVersion() int                  { return 1 }
func (d *fakeDevice) NewStream() (driver.Stream, error)   { return fakeStream{}, nil }
func (d *fakeDevice) NewEvent() (driver.Event, error)     { return &fakeEvent{dev: d}, nil }
func (d *fakeDevice) RetainContext() error                { return nil }
func (d *fakeDevice) ReleaseContext() error                { return nil }
func (d *fakeDevice) Alloc(uint64) (uintptr, error)        { return 0, nil }
func (d *fakeDevice) Free(uintptr) error                   { return nil }
func (d *fakeDevice) Copy(dst, src any, n uint64) error    { return nil }
func (d *fakeDevice) Memset(uintptr, uint32, int, uint64) error { return nil }
func (d *fakeDevice) LoadModule(ptx []byte, symbol string) (driver.Module, error) {
	return &fakeModule{dev: d, symbol: symbol}, nil
}

// --- fake compiler -----------------------------------------------------

type readyFuture struct{ mod compiler.Module }

func (f readyFuture) Ready() bool { return true }
func (f readyFuture) Wait(ctx context.Context) (compiler.Module, error) { return f.mod, nil }

type fakeCompiler struct{}

func (fakeCompiler) Compile(ctx context.Context, req compiler.Request) (compiler.Future, error) {
	return readyFuture{mod: compiler.Module{Symbol: req.Entry}}, nil
}

type failingCompiler struct{ n int }

func (c *failingCompiler) Compile(ctx context.Context, req compiler.Request) (compiler.Future, error) {
	c.n++
	if c.n == 1 {
		return failedFuture{}, nil
	}
	return readyFuture{mod: compiler.Module{Symbol: req.Entry}}, nil
}

type failedFuture struct{}

func (failedFuture) Ready() bool { return true }
func (failedFuture) Wait(ctx context.Context) (compiler.Module, error) {
	return compiler.Module{}, &errs.CompileError{Entry: "k", Log: "syntax error"}
}

// --- sequencing strategy -----------------------------------------------

type seqStrategy struct {
	cfgs           []space.Config
	idx            int
	submittedPerfs []float64
}

func (s *seqStrategy) Init(out *space.Config) (bool, error) {
	*out = s.cfgs[0]
	s.idx = 1
	return true, nil
}

func (s *seqStrategy) Submit(perf float64, out *space.Config) (bool, error) {
	s.submittedPerfs = append(s.submittedPerfs, perf)
	if s.idx >= len(s.cfgs) {
		return false, nil
	}
	*out = s.cfgs[s.idx]
	s.idx++
	return true, nil
}

func buildVariantBuilder(t *testing.T) (*kernel.Builder, []space.Config) {
	t.Helper()
	b := kernel.NewBuilder("k", compiler.SourceHandle{Inline: "..."}, "k")
	_, err := b.Tune("variant", []value.Value{value.NewString("A"), value.NewString("B"), value.NewString("C")})
	require.NoError(t, err)
	sp, err := b.Space()
	require.NoError(t, err)

	var cfgs []space.Config
	for i := uint64(0); i < 3; i++ {
		cfg, valid, err := sp.Get(i)
		require.NoError(t, err)
		require.True(t, valid)
		cfgs = append(cfgs, cfg)
	}
	return b, cfgs
}

func oneShotAggregator() *Aggregator {
	return NewAggregator(1, 1, 0, 0)
}

func TestSession_BestIsMonotonicAndFinishedLaunchesBest(t *testing.T) {
	b, cfgs := buildVariantBuilder(t)
	strat := &seqStrategy{cfgs: cfgs}
	dev := &fakeDevice{elapsedQueue: []float64{0.1, 0.05, 0.2}} // perf 10, 20, 5 (workload=1)

	s := NewSession(b, strat, nil, fakeCompiler{}, oneShotAggregator, nil)

	ctx := context.Background()
	stream := fakeStream{}
	problem := [3]uint32{1, 1, 1}

	lastBest := math.Inf(-1)
	for i := 0; i < 6; i++ {
		err := s.Dispatch(ctx, dev, stream, problem)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, s.BestPerformance(), lastBest)
		lastBest = s.BestPerformance()
	}

	assert.Equal(t, Finished, s.State())
	assert.InDelta(t, 20.0, s.BestPerformance(), 1e-9)
	assert.True(t, s.BestConfig().Equal(cfgs[1]))

	require.NoError(t, s.Dispatch(ctx, dev, stream, problem))
	assert.Equal(t, "k", dev.launches[len(dev.launches)-1])
}

func TestSession_CompileFaultTreatsConfigAsNegativeInfinity(t *testing.T) {
	b, cfgs := buildVariantBuilder(t)
	strat := &seqStrategy{cfgs: cfgs}
	dev := &fakeDevice{elapsedQueue: []float64{0.05}}
	fc := &failingCompiler{}

	s := NewSession(b, strat, nil, fc, oneShotAggregator, nil)
	ctx := context.Background()
	stream := fakeStream{}
	problem := [3]uint32{1, 1, 1}

	// First dispatch: start() compiles A, which fails -> fault handling
	// resumes with B as current, A recorded at -Inf.
	require.NoError(t, s.Dispatch(ctx, dev, stream, problem))
	require.Len(t, strat.submittedPerfs, 1)
	assert.True(t, math.IsInf(strat.submittedPerfs[0], -1))
}
