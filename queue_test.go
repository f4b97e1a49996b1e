package payouts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jerry-enebeli/payouts/config"
	"github.com/jerry-enebeli/payouts/model"
)

// newTestQueue points a Queue at miniredis.
func newTestQueue(t *testing.T, cfg *config.Configuration) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg.Redis.Dns = mr.Addr()
	q, err := NewQueue(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q, mr
}

func taskKey(queue, id string) string {
	return fmt.Sprintf("asynq:{%s}:t:%s", queue, id)
}

func TestRedisConnOpt(t *testing.T) {
	opt, err := RedisConnOpt(&config.Configuration{Redis: config.RedisConfig{Dns: "redis://:secret@cache:6380/2"}})
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opt.Addr)
	assert.Equal(t, "secret", opt.Password)
	assert.Equal(t, 2, opt.DB)

	_, err = RedisConnOpt(&config.Configuration{})
	assert.Error(t, err)
}

func TestSendWebhookNeedsURL(t *testing.T) {
	cfg := newTestConfig()
	q, mr := newTestQueue(t, cfg)

	require.NoError(t, q.SendWebhook(context.Background(), NewWebhook{Event: "payout.pending"}))
	assert.Empty(t, mr.Keys())

	cfg.Notification.Webhook.Url = "http://hooks.internal/payouts"
	require.NoError(t, q.SendWebhook(context.Background(), NewWebhook{Event: "payout.pending"}))
	assert.NotEmpty(t, mr.Keys())
}

func TestTransitionsQueueEventsAndLeaseExpiry(t *testing.T) {
	cfg := newTestConfig()
	cfg.Notification.Webhook.Url = "http://hooks.internal/payouts"
	q, mr := newTestQueue(t, cfg)
	p, _, _ := newTestPayouts(t, cfg, WithQueue(q))
	ctx := context.Background()

	initiate(t, p, "REF-Q", 1)
	claimed := claimOne(t, p)

	leaseTask := taskKey(cfg.Queue.LeaseExpiryQueue, fmt.Sprintf("%s:%d", claimed.PayoutID, 1))
	assert.True(t, mr.Exists(leaseTask), "lease expiry task scheduled for the claim")

	// rescheduling the same claim is not an error
	require.NoError(t, q.QueueLeaseExpiry(ctx, claimed))

	var webhookTasks int
	for _, key := range mr.Keys() {
		if strings.HasPrefix(key, taskKey(cfg.Queue.WebhookQueue, "")) {
			webhookTasks++
		}
	}
	assert.Equal(t, 2, webhookTasks, "one event for pending, one for processing")
}

func TestEnqueueProviderWebhookDeduplicates(t *testing.T) {
	cfg := newTestConfig()
	q, mr := newTestQueue(t, cfg)
	p, _, _ := newTestPayouts(t, cfg, WithQueue(q))
	ctx := context.Background()

	hook := model.ProviderWebhook{ProviderTransferID: "T-Q", Status: "SUCCESSFUL"}
	first, err := p.QueueProviderWebhook(ctx, hook)
	require.NoError(t, err)
	assert.True(t, mr.Exists(taskKey(cfg.Queue.ProviderWebhookQueue, "T-Q:completed")))

	// the rail redelivers the same status, spelled differently
	second, err := p.QueueProviderWebhook(ctx, model.ProviderWebhook{ProviderTransferID: "T-Q", Status: "completed"})
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	// a different status for the same transfer is its own delivery
	_, err = p.QueueProviderWebhook(ctx, model.ProviderWebhook{ProviderTransferID: "T-Q", Status: "REVERSED"})
	require.NoError(t, err)

	var pending int
	for _, key := range mr.Keys() {
		if strings.HasPrefix(key, taskKey(cfg.Queue.ProviderWebhookQueue, "")) {
			pending++
		}
	}
	assert.Equal(t, 2, pending, "redelivery queued once")

	_, err = p.QueueProviderWebhook(ctx, model.ProviderWebhook{Status: "FAILED"})
	assert.Error(t, err)
}

func TestProcessProviderWebhookTask(t *testing.T) {
	p, ds, _ := newTestPayouts(t, nil)
	ctx := context.Background()
	done := completedPayout(t, p, "REF-PT", "T-PT")

	payload, err := json.Marshal(ProviderWebhookPayload{
		EventID: "pwe_1",
		Webhook: model.ProviderWebhook{ProviderTransferID: "T-PT", Status: "REVERSED"},
	})
	require.NoError(t, err)
	require.NoError(t, p.ProcessProviderWebhook(ctx, asynq.NewTask("provider_webhooks", payload)))

	current, err := p.GetPayout(ctx, done.PayoutID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRefunded, current.Status)

	// a refused delivery is not retried
	payload, err = json.Marshal(ProviderWebhookPayload{
		EventID: "pwe_2",
		Webhook: model.ProviderWebhook{ProviderTransferID: "T-PT", Status: "FAILED"},
	})
	require.NoError(t, err)
	err = p.ProcessProviderWebhook(ctx, asynq.NewTask("provider_webhooks", payload))
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	err = p.ProcessProviderWebhook(ctx, asynq.NewTask("provider_webhooks", []byte("{")))
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	events := ds.ProviderWebhookEvents()
	require.Len(t, events, 2)
	assert.Equal(t, "pwe_1", events[0].EventID)
	assert.Equal(t, model.WebhookApplied, events[0].Outcome)
	assert.Equal(t, model.WebhookRejected, events[1].Outcome)
}

func TestProcessLeaseExpiryTask(t *testing.T) {
	p, _, clock := newTestPayouts(t, nil)
	ctx := context.Background()
	initiate(t, p, "REF-LE", 1)
	claimed := claimOne(t, p)

	payload, err := json.Marshal(LeaseExpiryPayload{PayoutID: claimed.PayoutID, LeaseToken: claimed.Lease.Token})
	require.NoError(t, err)
	task := asynq.NewTask("lease_expiry", payload)

	clock.Advance(5 * time.Minute)
	require.NoError(t, p.ProcessLeaseExpiry(ctx, task))

	current, err := p.GetPayout(ctx, claimed.PayoutID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, current.Status)

	// a second delivery of the same task changes nothing
	require.NoError(t, p.ProcessLeaseExpiry(ctx, task))
	current, err = p.GetPayout(ctx, claimed.PayoutID)
	require.NoError(t, err)
	assert.Len(t, current.StatusHistory, 3)
}
