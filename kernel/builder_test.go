package kernel

import (
	"context"
	"testing"

	"github.com/notargets/kerneltune/compiler"
	"github.com/notargets/kerneltune/expr"
	"github.com/notargets/kerneltune/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCompiler struct {
	lastReq compiler.Request
}

func (s *stubCompiler) Compile(ctx context.Context, req compiler.Request) (compiler.Future, error) {
	s.lastReq = req
	return doneFuture{}, nil
}

type doneFuture struct{}

func (doneFuture) Ready() bool { return true }
func (doneFuture) Wait(ctx context.Context) (compiler.Module, error) {
	return compiler.Module{Symbol: "k"}, nil
}

func TestBuilder_CompileEvaluatesLaunchShape(t *testing.T) {
	b := NewBuilder("vector_add", compiler.SourceHandle{Inline: "..."}, "vector_add")

	blockX, err := b.Tune("block_x", []value.Value{value.NewInt(64), value.NewInt(128), value.NewInt(256)})
	require.NoError(t, err)
	b.BlockSize(blockX, expr.ConstInt(1), expr.ConstInt(1))
	b.GridDivisors(blockX, expr.ConstInt(1), expr.ConstInt(1))

	sp, err := b.Space()
	require.NoError(t, err)
	cfg, err := sp.DefaultConfig()
	require.NoError(t, err)

	c := &stubCompiler{}
	handle, err := b.Compile(context.Background(), cfg, nil, c)
	require.NoError(t, err)
	assert.Equal(t, uint32(64), handle.BlockSize[0])
	assert.Equal(t, uint32(64), handle.GridDivisor[0])

	grid := handle.GridSize([3]uint32{256, 1, 1})
	assert.Equal(t, uint32(4), grid[0])
}

func TestBuilder_ZeroBlockSizeRejected(t *testing.T) {
	b := NewBuilder("k", compiler.SourceHandle{Inline: "..."}, "k")
	b.BlockSize(expr.ConstInt(0), expr.ConstInt(1), expr.ConstInt(1))
	sp, err := b.Space()
	require.NoError(t, err)
	cfg, err := sp.DefaultConfig()
	require.NoError(t, err)

	_, err = b.Compile(context.Background(), cfg, nil, &stubCompiler{})
	assert.Error(t, err)
}

func TestBuilder_AssertionFailureAbortsCompile(t *testing.T) {
	b := NewBuilder("k", compiler.SourceHandle{Inline: "..."}, "k")
	x, err := b.Tune("x", []value.Value{value.NewInt(1), value.NewInt(2)})
	require.NoError(t, err)
	b.Assertion("x must be even", expr.Binary(expr.Eq, expr.Binary(expr.Mod, x, expr.ConstInt(2)), expr.ConstInt(0)))

	sp, err := b.Space()
	require.NoError(t, err)
	cfg, err := sp.DefaultConfig() // default x=1, odd
	require.NoError(t, err)

	_, err = b.Compile(context.Background(), cfg, nil, &stubCompiler{})
	assert.Error(t, err)
}

func TestBuilder_DefinesAndFlagsReachRequest(t *testing.T) {
	b := NewBuilder("k", compiler.SourceHandle{Inline: "..."}, "k")
	require.NoError(t, b.TuneDefine("TILE", "tile", []value.Value{value.NewInt(16), value.NewInt(32)}))
	sp, err := b.Space()
	require.NoError(t, err)
	cfg, err := sp.DefaultConfig()
	require.NoError(t, err)

	c := &stubCompiler{}
	_, err = b.Compile(context.Background(), cfg, nil, c)
	require.NoError(t, err)

	assert.Contains(t, c.lastReq.Flags, "--define-macro TILE=16")
	assert.Contains(t, c.lastReq.Flags, "-DKERNEL_LAUNCHER=1")
}

func TestBuilder_TuneDescribedAttachesDescription(t *testing.T) {
	b := NewBuilder("k", compiler.SourceHandle{Inline: "..."}, "k")
	_, err := b.TuneDescribed("block_x", "thread block width", []value.Value{value.NewInt(64), value.NewInt(128)})
	require.NoError(t, err)

	params := b.Parameters()
	require.Len(t, params, 1)
	assert.Equal(t, "thread block width", params[0].Description())
}
