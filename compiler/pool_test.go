package compiler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_CompileResolvesAsynchronously(t *testing.T) {
	release := make(chan struct{})
	pool := NewPool(2, func(ctx context.Context, req Request) (Module, error) {
		<-release
		return Module{Symbol: req.Entry}, nil
	})
	defer pool.Close()

	fut, err := pool.Compile(context.Background(), Request{Entry: "vector_add"})
	require.NoError(t, err)
	assert.False(t, fut.Ready(), "future must not resolve before the worker finishes")

	close(release)
	mod, err := fut.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "vector_add", mod.Symbol)

	require.Eventually(t, fut.Ready, time.Second, time.Millisecond)
}

func TestPool_CloseWaitsForInFlight(t *testing.T) {
	started := make(chan struct{})
	pool := NewPool(1, func(ctx context.Context, req Request) (Module, error) {
		close(started)
		return Module{}, nil
	})
	fut, err := pool.Compile(context.Background(), Request{})
	require.NoError(t, err)
	<-started
	pool.Close()
	assert.True(t, fut.Ready(), "Close must not return before the in-flight compilation resolves")

	_, err = pool.Compile(context.Background(), Request{})
	assert.Error(t, err, "pool must reject work after Close")
}
