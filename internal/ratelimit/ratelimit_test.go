package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_AdmitsUpToN(t *testing.T) {
	factory := NewFactory(3, time.Second)
	lim := factory.For("client-a")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := lim.TryAdmit(ctx)
		require.NoError(t, err)
		assert.Truef(t, ok, "frame %d should be admitted", i+1)
	}

	ok, err := lim.TryAdmit(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "4th frame within the window should be denied")
}

func TestLimiter_ResetsAfterWindow(t *testing.T) {
	factory := NewFactory(1, 150*time.Millisecond)
	lim := factory.For("client-b")
	ctx := context.Background()

	ok, err := lim.TryAdmit(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = lim.TryAdmit(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	time.Sleep(200 * time.Millisecond)

	ok, err = lim.TryAdmit(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "limiter should admit again once the window rolls over")
}

func TestFactory_KeysAreIndependent(t *testing.T) {
	factory := NewFactory(1, time.Second)
	ctx := context.Background()

	a := factory.For("room1/client-a")
	b := factory.For("room1/client-b")

	okA, err := a.TryAdmit(ctx)
	require.NoError(t, err)
	assert.True(t, okA)

	okB, err := b.TryAdmit(ctx)
	require.NoError(t, err)
	assert.True(t, okB, "a different key must not share the exhausted window")
}
