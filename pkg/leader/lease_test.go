package leader

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func setup(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestLease_Exclusive(t *testing.T) {
	mr, client := setup(t)
	ctx := context.Background()

	a := NewLease(client, "leader", "a", time.Minute)
	b := NewLease(client, "leader", "b", time.Minute)

	ok, err := a.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	held, err := a.Held(ctx)
	require.NoError(t, err)
	assert.True(t, held)

	// b cannot renew or release a's lease
	renewed, err := b.Renew(ctx)
	require.NoError(t, err)
	assert.False(t, renewed)
	require.NoError(t, b.Release(ctx))
	assert.True(t, mr.Exists("leader"))

	require.NoError(t, a.Release(ctx))
	assert.False(t, mr.Exists("leader"))

	ok, err = b.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLease_RenewExtendsTTL(t *testing.T) {
	mr, client := setup(t)
	ctx := context.Background()

	lease := NewLease(client, "leader", "a", 10*time.Second)
	ok, err := lease.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(8 * time.Second)
	renewed, err := lease.Renew(ctx)
	require.NoError(t, err)
	assert.True(t, renewed)

	mr.FastForward(8 * time.Second)
	held, err := lease.Held(ctx)
	require.NoError(t, err)
	assert.True(t, held, "renewal reset the ttl")

	mr.FastForward(11 * time.Second)
	renewed, err = lease.Renew(ctx)
	require.NoError(t, err)
	assert.False(t, renewed, "expired lease cannot be renewed")
}

func TestRun_OnlyOneLeader(t *testing.T) {
	_, client := setup(t)
	ctx, cancel := context.WithCancel(context.Background())

	var running, maxRunning atomic.Int32
	fn := func(ctx context.Context) error {
		n := running.Add(1)
		for {
			m := maxRunning.Load()
			if n <= m || maxRunning.CompareAndSwap(m, n) {
				break
			}
		}
		<-ctx.Done()
		running.Add(-1)
		return nil
	}

	done := make(chan error, 2)
	for _, holder := range []string{"a", "b"} {
		lease := NewLease(client, "leader", holder, 300*time.Millisecond)
		go func() { done <- Run(ctx, lease, fn, zaptest.NewLogger(t).Sugar()) }()
	}

	require.Eventually(t, func() bool { return running.Load() == 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(200 * time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), maxRunning.Load())
	assert.Equal(t, int32(0), running.Load())
}

func TestRun_LosingLeaseCancelsWork(t *testing.T) {
	mr, client := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lease := NewLease(client, "leader", "a", 150*time.Millisecond)
	started := make(chan struct{}, 4)
	stopped := make(chan struct{}, 4)
	fn := func(ctx context.Context) error {
		started <- struct{}{}
		<-ctx.Done()
		stopped <- struct{}{}
		return nil
	}

	go func() { _ = Run(ctx, lease, fn, zaptest.NewLogger(t).Sugar()) }()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("leader never started")
	}

	// another holder takes over
	require.NoError(t, mr.Set("leader", "someone-else"))

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("work was not canceled after losing the lease")
	}
}
