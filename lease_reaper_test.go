package payouts

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jerry-enebeli/payouts/model"
)

func TestLeaseReaperSweepDrainsAllBatches(t *testing.T) {
	cfg := newTestConfig()
	cfg.Dispatcher.ReaperBatchSize = 2
	p, _, clock := newTestPayouts(t, cfg)
	ctx := context.Background()

	initiate(t, p, "REF-SW", 5)
	claimed, err := p.Claim(ctx, 5)
	require.NoError(t, err)
	require.Len(t, claimed, 5)

	clock.Advance(time.Hour)
	reaper := NewLeaseReaper(p)
	n, err := reaper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	pending, err := p.ListPayouts(ctx, model.PayoutFilter{Status: model.StatusPending})
	require.NoError(t, err)
	assert.Len(t, pending, 5)
}

func TestLeaseReaperSkipsWhileLockHeld(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	p, _, clock := newTestPayouts(t, nil, WithRedis(client))
	ctx := context.Background()
	initiate(t, p, "REF-LK", 1)
	claimOne(t, p)
	clock.Advance(time.Hour)

	require.NoError(t, mr.Set(leaseReaperLockKey, "another-instance"))
	reaper := NewLeaseReaper(p)
	n, err := reaper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	mr.Del(leaseReaperLockKey)
	n, err = reaper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, mr.Exists(leaseReaperLockKey), "lock is released after the sweep")
}

func TestLeaseReaperStartStop(t *testing.T) {
	cfg := newTestConfig()
	cfg.Dispatcher.ReaperIntervalSeconds = 1
	p, _, clock := newTestPayouts(t, cfg)
	ctx := context.Background()
	initiate(t, p, "REF-LOOP", 1)
	claimOne(t, p)
	clock.Advance(time.Hour)

	reaper := NewLeaseReaper(p)
	reaper.Start(ctx)
	reaper.Start(ctx)
	assert.True(t, reaper.IsRunning())

	require.Eventually(t, func() bool {
		pending, err := p.ListPayouts(ctx, model.PayoutFilter{Status: model.StatusPending})
		return err == nil && len(pending) == 1
	}, 5*time.Second, 50*time.Millisecond)

	reaper.Stop()
	reaper.Stop()
	assert.False(t, reaper.IsRunning())
}
