package payouts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jerry-enebeli/payouts/internal/apierror"
	"github.com/jerry-enebeli/payouts/internal/gateway"
	"github.com/jerry-enebeli/payouts/model"
)

func TestClaimOldestFirst(t *testing.T) {
	p, _, clock := newTestPayouts(t, nil)
	ctx := context.Background()

	var created []*model.Payout
	for i := 0; i < 3; i++ {
		created = append(created, initiate(t, p, "REF-O"+string(rune('a'+i)), 1)...)
		clock.Advance(time.Second)
	}

	claimed, err := p.Claim(ctx, 2)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, created[0].PayoutID, claimed[0].PayoutID)
	assert.Equal(t, created[1].PayoutID, claimed[1].PayoutID)

	_, err = p.Claim(ctx, 0)
	assert.True(t, apierror.IsCode(err, apierror.ErrInvalidInput))
}

func TestClaimEmptyQueue(t *testing.T) {
	p, _, _ := newTestPayouts(t, nil)
	claimed, err := p.Claim(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestConcurrentClaimsPartition(t *testing.T) {
	p, _, _ := newTestPayouts(t, nil)
	ctx := context.Background()

	const (
		pending = 120
		workers = 8
		batch   = 5
	)
	initiate(t, p, "REF-P", pending)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[string]int{}
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for round := 0; round < 2; round++ {
				claimed, err := p.Claim(ctx, batch)
				if !assert.NoError(t, err) {
					return
				}
				assert.LessOrEqual(t, len(claimed), batch)
				mu.Lock()
				for _, c := range claimed {
					seen[c.PayoutID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	total := 0
	for id, n := range seen {
		assert.Equal(t, 1, n, "payout %s claimed more than once", id)
		total += n
	}
	assert.Equal(t, workers*2*batch, total)
	assert.LessOrEqual(t, total, pending)

	still, err := p.ListPayouts(ctx, model.PayoutFilter{Status: model.StatusPending, Limit: model.MaxPageLimit})
	require.NoError(t, err)
	assert.Len(t, still, pending-total)
}

func TestExpiredLeaseReturnsToPending(t *testing.T) {
	p, _, clock := newTestPayouts(t, nil)
	ctx := context.Background()
	initiate(t, p, "REF-D", 1)

	claimed := claimOne(t, p)

	// not yet expired
	clock.Advance(299 * time.Second)
	reclaimed, err := p.ReclaimExpiredLeases(ctx)
	require.NoError(t, err)
	assert.Empty(t, reclaimed)

	clock.Advance(time.Second)
	reclaimed, err = p.ReclaimExpiredLeases(ctx)
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	assert.Equal(t, model.StatusPending, reclaimed[0].Status)
	assert.Nil(t, reclaimed[0].Lease)

	last := reclaimed[0].StatusHistory[len(reclaimed[0].StatusHistory)-1]
	assert.Equal(t, model.StatusProcessing, last.FromStatus)
	assert.Equal(t, model.SourceLeaseReaper, last.Source)
	assert.Equal(t, model.ErrorCodeLeaseExpired, last.ErrorCode)

	again := claimOne(t, p)
	assert.Equal(t, claimed.PayoutID, again.PayoutID)
	assert.Equal(t, 2, again.Attempts)
}

func TestReclaimFailsAfterMaxAttempts(t *testing.T) {
	cfg := newTestConfig()
	cfg.Dispatcher.MaxAttempts = 2
	p, _, clock := newTestPayouts(t, cfg)
	ctx := context.Background()
	initiate(t, p, "REF-M", 1)

	for attempt := 1; attempt <= 2; attempt++ {
		claimOne(t, p)
		clock.Advance(301 * time.Second)
		reclaimed, err := p.ReclaimExpiredLeases(ctx)
		require.NoError(t, err)
		require.Len(t, reclaimed, 1)
	}

	all, err := p.ListPayouts(ctx, model.PayoutFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, model.StatusFailed, all[0].Status)
	assert.Equal(t, model.ErrorCodeLeaseAttemptsExhausted, all[0].ErrorCode)
	assert.NotNil(t, all[0].FailedAt)
}

func TestReclaimLease(t *testing.T) {
	p, _, clock := newTestPayouts(t, nil)
	ctx := context.Background()
	initiate(t, p, "REF-L", 1)
	claimed := claimOne(t, p)

	changed, err := p.ReclaimLease(ctx, claimed.PayoutID, claimed.Lease.Token)
	require.NoError(t, err)
	assert.False(t, changed, "lease has not expired yet")

	clock.Advance(10 * time.Minute)
	changed, err = p.ReclaimLease(ctx, claimed.PayoutID, "lease_other")
	require.NoError(t, err)
	assert.False(t, changed, "token does not match")

	changed, err = p.ReclaimLease(ctx, claimed.PayoutID, claimed.Lease.Token)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = p.ReclaimLease(ctx, "pay_missing", "lease_x")
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestDeletedProcessingPayoutIsStillReclaimed(t *testing.T) {
	p, ds, clock := newTestPayouts(t, nil)
	ctx := context.Background()
	initiate(t, p, "REF-DEL", 1)
	claimed := claimOne(t, p)
	require.NoError(t, p.SoftDeletePayout(ctx, claimed.PayoutID))

	clock.Advance(301 * time.Second)
	reclaimed, err := p.ReclaimExpiredLeases(ctx)
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)

	remaining, err := ds.ClaimPendingPayouts(ctx, 10, func(*model.Payout) (*model.StatusChange, error) {
		t.Fatal("deleted payout must not be claimable")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func newTestDispatcher(t *testing.T, gw gateway.Client) (*Dispatcher, *Payouts, *testClock) {
	t.Helper()
	cfg := newTestConfig()
	cfg.Dispatcher.PollIntervalSeconds = 60
	p, _, clock := newTestPayouts(t, cfg, WithGateway(gw))
	d, err := NewDispatcher(p)
	require.NoError(t, err)
	return d, p, clock
}

func TestNewDispatcherNeedsGateway(t *testing.T) {
	p, _, _ := newTestPayouts(t, nil)
	_, err := NewDispatcher(p)
	assert.Error(t, err)
}

func TestDispatcherCompletesPayouts(t *testing.T) {
	gw := &fakeGateway{}
	d, p, _ := newTestDispatcher(t, gw)
	ctx := context.Background()
	created := initiate(t, p, "REF-W", 3)

	n, err := d.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Len(t, gw.Calls(), 3)

	for _, c := range created {
		payout, err := p.GetPayout(ctx, c.PayoutID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusCompleted, payout.Status)
		assert.Equal(t, "prv_"+c.PayoutID, *payout.ProviderTransferID)
	}
	for _, call := range gw.Calls() {
		assert.NotEmpty(t, call.CustomerTransactionID)
	}
}

func TestDispatcherRecordsGatewayFailures(t *testing.T) {
	gw := &fakeGateway{respond: func(req gateway.TransferRequest) (*gateway.TransferResult, error) {
		if req.Reference == "REF-G-0" {
			return nil, &gateway.PermanentError{StatusCode: 422, Code: "INVALID_ACCOUNT", Message: "no such account"}
		}
		return nil, &gateway.ExhaustedError{Attempts: 4, Last: errors.New("503 service unavailable")}
	}}
	d, p, _ := newTestDispatcher(t, gw)
	ctx := context.Background()
	created := initiate(t, p, "REF-G", 2)

	_, err := d.RunOnce(ctx)
	require.NoError(t, err)

	permanent, err := p.GetPayout(ctx, created[0].PayoutID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, permanent.Status)
	assert.Equal(t, "INVALID_ACCOUNT", permanent.ErrorCode)

	exhausted, err := p.GetPayout(ctx, created[1].PayoutID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, exhausted.Status)
	assert.Equal(t, model.ErrorCodeRetriesExhausted, exhausted.ErrorCode)
}

func TestDispatcherLeavesAbandonedTransfersToReaper(t *testing.T) {
	gw := &fakeGateway{respond: func(gateway.TransferRequest) (*gateway.TransferResult, error) {
		return nil, context.Canceled
	}}
	d, p, _ := newTestDispatcher(t, gw)
	ctx := context.Background()
	created := initiate(t, p, "REF-X", 1)

	_, err := d.RunOnce(ctx)
	require.NoError(t, err)

	payout, err := p.GetPayout(ctx, created[0].PayoutID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessing, payout.Status)
}

func TestDispatcherRunDrainsAndStops(t *testing.T) {
	gw := &fakeGateway{}
	d, p, _ := newTestDispatcher(t, gw)
	initiate(t, p, "REF-RUN", 25)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool {
		pending, err := p.ListPayouts(context.Background(), model.PayoutFilter{Status: model.StatusPending})
		return err == nil && len(pending) == 0 && len(gw.Calls()) == 25
	}, 5*time.Second, 10*time.Millisecond)

	// the poll interval is a minute, so only the wake up can trigger this claim
	initiate(t, p, "REF-WAKE", 1)
	d.Wake("pay_new")
	require.Eventually(t, func() bool { return len(gw.Calls()) == 26 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}
