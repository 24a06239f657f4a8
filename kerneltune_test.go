package kerneltune

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/kerneltune/compiler"
	"github.com/notargets/kerneltune/driver"
	"github.com/notargets/kerneltune/kernel"
	"github.com/notargets/kerneltune/value"
)

type fakeEvent struct{ dev *fakeDevice }

func (e *fakeEvent) Synchronize(ctx context.Context) error { return nil }
func (e *fakeEvent) ElapsedSince(start driver.Event) (float64, error) {
	v := e.dev.elapsedQueue[e.dev.elapsedIdx]
	e.dev.elapsedIdx++
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

func (d *fakeDevice) Name() string                     { return "fake0" }
func (d *fakeDevice) ComputeCapability() (int, int)    { return 8, 0 }
func (d *fakeDevice) DriverVersion() int               { return 1 }
func (d *fakeDevice) NewStream() (driver.Stream, error) { return fakeStream{}, nil }
func (d *fakeDevice) NewEvent() (driver.Event, error)  { return &fakeEvent{dev: d}, nil }
func (d *fakeDevice) RetainContext() error             { return nil }
func (d *fakeDevice) ReleaseContext() error            { return nil }
func (d *fakeDevice) Alloc(uint64) (uintptr, error)    { return 0, nil }
func (d *fakeDevice) Free(uintptr) error               { return nil }
func (d *fakeDevice) Copy(dst, src any, n uint64) error { return nil }
func (d *fakeDevice) Memset(uintptr, uint32, int, uint64) error { return nil }
func (d *fakeDevice) LoadModule(ptx []byte, symbol string) (driver.Module, error) {
	return &fakeModule{dev: d, symbol: symbol}, nil
}

type readyFuture struct{ mod compiler.Module }

func (f readyFuture) Ready() bool                                      { return true }
func (f readyFuture) Wait(ctx context.Context) (compiler.Module, error) { return f.mod, nil }

type fakeCompiler struct{}

func (fakeCompiler) Compile(ctx context.Context, req compiler.Request) (compiler.Future, error) {
	return readyFuture{mod: compiler.Module{Symbol: req.Entry}}, nil
}

func buildTestBuilder(t *testing.T) *kernel.Builder {
	t.Helper()
	b := kernel.NewBuilder("axpy", compiler.SourceHandle{Inline: "@kernel void axpy() {}"}, "axpy")
	_, err := b.Tune("block_x", []value.Value{value.NewInt(64), value.NewInt(128), value.NewInt(256)})
	require.NoError(t, err)
	return b
}

func TestTuner_NewOpensCacheAndRunsASession(t *testing.T) {
	dir := t.TempDir()
	b := buildTestBuilder(t)

	tuner, err := New(b, []value.Type{value.TypeDouble}, WithCacheDir(dir), WithCompiler(fakeCompiler{}), WithLimit(2), WithAggregator(1, 1, 0, 0))
	require.NoError(t, err)
	defer tuner.Close()

	sess, err := tuner.NewCallSite()
	require.NoError(t, err)

	dev := &fakeDevice{elapsedQueue: []float64{0.1, 0.1, 0.1}}
	stream := fakeStream{}
	problem := [3]uint32{1, 1, 1}
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, sess.Dispatch(ctx, dev, stream, problem))
	}

	assert.True(t, math.IsInf(sess.BestPerformance(), -1) || sess.BestPerformance() > 0)
}

func TestTuner_ReplaysBestFromCacheAcrossCallSites(t *testing.T) {
	dir := t.TempDir()
	b := buildTestBuilder(t)

	tuner, err := New(b, []value.Type{value.TypeDouble}, WithCacheFile(filepath.Join(dir, "axpy.json")), WithCompiler(fakeCompiler{}), WithLimit(3), WithAggregator(1, 1, 0, 0))
	require.NoError(t, err)

	dev := &fakeDevice{elapsedQueue: []float64{0.1, 0.05, 0.2, 0.1, 0.05, 0.2}}
	stream := fakeStream{}
	problem := [3]uint32{1, 1, 1}
	ctx := context.Background()

	sess1, err := tuner.NewCallSite()
	require.NoError(t, err)
	for i := 0; i < 6; i++ {
		require.NoError(t, sess1.Dispatch(ctx, dev, stream, problem))
	}
	require.NoError(t, tuner.Close())

	tuner2, err := New(b, []value.Type{value.TypeDouble}, WithCacheFile(filepath.Join(dir, "axpy.json")), WithCompiler(fakeCompiler{}), WithAggregator(1, 1, 0, 0))
	require.NoError(t, err)
	defer tuner2.Close()
	assert.True(t, tuner2.havePrior)
}
