package tool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate_Bounds(t *testing.T) {
	g := NewGate(2)
	require.NotNil(t, g)

	ctx := context.Background()
	require.NoError(t, g.Acquire(ctx))
	require.NoError(t, g.Acquire(ctx))
	assert.Equal(t, 2, g.InFlight())

	// A third acquire blocks until a slot frees.
	acquired := make(chan struct{})
	go func() {
		if err := g.Acquire(ctx); err == nil {
			close(acquired)
		}
	}()

	select {
	case <-acquired:
		t.Fatal("acquire succeeded past capacity")
	case <-time.After(20 * time.Millisecond):
	}

	g.Release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("acquire did not proceed after release")
	}
}

func TestGate_AcquireCancelled(t *testing.T) {
	g := NewGate(1)
	require.NoError(t, g.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := g.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGate_ZeroIsUnbounded(t *testing.T) {
	assert.Nil(t, NewGate(0))
	assert.Nil(t, NewGate(-1))
}
