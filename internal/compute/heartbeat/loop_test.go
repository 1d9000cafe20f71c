package heartbeat

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoop_RejectsBadConfig(t *testing.T) {
	noop := func(context.Context) {}

	_, err := NewLoop(Config{Interval: 0, SweepInterval: time.Second}, noop, noop)
	assert.Error(t, err)

	_, err = NewLoop(Config{Interval: time.Second, SweepInterval: time.Second}, nil, noop)
	assert.Error(t, err)
}

func TestLoop_RunsBothTasksIndependently(t *testing.T) {
	var beats, sweeps atomic.Int32
	loop, err := NewLoop(
		Config{Interval: time.Second, SweepInterval: time.Second},
		func(context.Context) { beats.Add(1) },
		func(context.Context) { sweeps.Add(1) },
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, loop.Start(ctx))
	assert.Error(t, loop.Start(ctx), "second start must fail")

	assert.Eventually(t, func() bool {
		return beats.Load() > 0 && sweeps.Load() > 0
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	assert.Eventually(t, func() bool { return !loop.Running() }, time.Second, 10*time.Millisecond)

	loop.Stop()
}

func TestLoop_StaleContextDoesNotStopRestart(t *testing.T) {
	noop := func(context.Context) {}
	loop, err := NewLoop(Config{Interval: time.Second, SweepInterval: time.Second}, noop, noop)
	require.NoError(t, err)

	first, cancelFirst := context.WithCancel(context.Background())
	defer cancelFirst()
	require.NoError(t, loop.Start(first))
	loop.Stop()
	assert.False(t, loop.Running())

	second, cancelSecond := context.WithCancel(context.Background())
	defer cancelSecond()
	require.NoError(t, loop.Start(second))

	// 第一次启动的上下文结束不影响新的循环
	cancelFirst()
	assert.Never(t, func() bool { return !loop.Running() }, 200*time.Millisecond, 10*time.Millisecond)

	cancelSecond()
	assert.Eventually(t, func() bool { return !loop.Running() }, time.Second, 10*time.Millisecond)
}

func TestEvery(t *testing.T) {
	assert.Equal(t, "@every 5s", every(5*time.Second))
	assert.Equal(t, "@every 1s", every(100*time.Millisecond))
}
