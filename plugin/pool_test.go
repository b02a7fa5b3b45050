package plugin

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_AcquireStartsUpToMaxInstances(t *testing.T) {
	spawnCount := 0
	pool := NewPool("echo", func() *Process {
		spawnCount++
		return newEchoProcess(t)
	}, PoolConfig{MaxInstances: 2, HandshakeTimeout: 5 * time.Second}, nil)

	p1, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	require.NotNil(t, p1)
	assert.Equal(t, 1, spawnCount)

	// The first instance is idle/ready and gets reused rather than
	// spawning a second one under light load.
	p2, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, p1, p2)
}

func TestPool_ScheduleRestartBacksOffExponentially(t *testing.T) {
	pool := NewPool("flaky", nil, PoolConfig{MaxInstances: 1, RestartBackoffMax: 10 * time.Second}, nil)
	s := &slot{}

	before := time.Now()
	pool.scheduleRestart(s)
	assert.WithinDuration(t, before.Add(1*time.Second), s.nextRestart, 200*time.Millisecond)
	assert.False(t, s.quarantined)

	pool.scheduleRestart(s)
	assert.WithinDuration(t, before.Add(2*time.Second), s.nextRestart, 200*time.Millisecond)
}

func TestPool_QuarantinesAfterBackoffCeiling(t *testing.T) {
	pool := NewPool("flaky", nil, PoolConfig{MaxInstances: 1, RestartBackoffMax: 2 * time.Second}, nil)
	s := &slot{}

	for i := 0; i < 10; i++ {
		pool.scheduleRestart(s)
	}
	assert.True(t, s.quarantined)
}

func TestPool_AcquireFailsWhenInstanceUnhealthyAndNotYetDueForRestart(t *testing.T) {
	pool := NewPool("bad", func() *Process {
		return NewProcess("bad", "this-binary-does-not-exist-xyz", nil, nil)
	}, PoolConfig{MaxInstances: 1, HandshakeTimeout: 500 * time.Millisecond, RestartBackoffMax: 10 * time.Second}, nil)

	_, err := pool.Acquire(context.Background())
	assert.Error(t, err, "spawn fails handshake, slot scheduled for backoff")

	_, err = pool.Acquire(context.Background())
	assert.Error(t, err, "still within the backoff window, no slot available")
}

func TestPool_StatsReportsPerInstanceState(t *testing.T) {
	pool := NewPool("echo", func() *Process {
		return newEchoProcess(t)
	}, PoolConfig{MaxInstances: 1, HandshakeTimeout: 5 * time.Second}, nil)

	_, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	stats := pool.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, "ready", stats[0])
}
