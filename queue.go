/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package payouts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/jerry-enebeli/payouts/config"
	redis_db "github.com/jerry-enebeli/payouts/internal/redis-db"
	"github.com/jerry-enebeli/payouts/model"
)

// Queue wraps the asynq client used for every background task.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
	conf      *config.Configuration
}

// ProviderWebhookPayload is the task body of an inbound provider delivery.
type ProviderWebhookPayload struct {
	EventID string                `json:"event_id"`
	Webhook model.ProviderWebhook `json:"webhook"`
}

// LeaseExpiryPayload identifies the claim a lease expiry task belongs to.
type LeaseExpiryPayload struct {
	PayoutID   string `json:"payout_id"`
	LeaseToken string `json:"lease_token"`
}

// RedisConnOpt converts the configured redis DSN into asynq connection options.
func RedisConnOpt(conf *config.Configuration) (asynq.RedisClientOpt, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		return asynq.RedisClientOpt{}, fmt.Errorf("error parsing Redis URL: %w", err)
	}
	return asynq.RedisClientOpt{
		Addr:      redisOption.Addr,
		Password:  redisOption.Password,
		DB:        redisOption.DB,
		TLSConfig: redisOption.TLSConfig,
	}, nil
}

func NewQueue(conf *config.Configuration) (*Queue, error) {
	opt, err := RedisConnOpt(conf)
	if err != nil {
		return nil, err
	}
	return &Queue{
		Client:    asynq.NewClient(opt),
		Inspector: asynq.NewInspector(opt),
		conf:      conf,
	}, nil
}

func (q *Queue) Close() error {
	return errors.Join(q.Client.Close(), q.Inspector.Close())
}

func (q *Queue) enqueue(ctx context.Context, queue string, payload interface{}, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	opts = append([]asynq.Option{asynq.Queue(queue)}, opts...)
	return q.Client.EnqueueContext(ctx, asynq.NewTask(queue, body, opts...))
}

// SendWebhook queues an outbound event. It is a no-op without a webhook URL.
func (q *Queue) SendWebhook(ctx context.Context, newWebhook NewWebhook) error {
	if q.conf.Notification.Webhook.Url == "" {
		return nil
	}
	info, err := q.enqueue(ctx, q.conf.Queue.WebhookQueue, newWebhook, asynq.MaxRetry(10))
	if err != nil {
		logrus.WithError(err).WithField("event", newWebhook.Event).Error("failed to enqueue webhook")
		return err
	}
	logrus.Debugf(" [*] Enqueued webhook %s as %s", newWebhook.Event, info.ID)
	return nil
}

// EnqueueProviderWebhook hands an inbound delivery to the workers. The task
// id is the delivery key, so a redelivery that arrives while the first copy
// is still queued is dropped and only one event is recorded for it.
func (q *Queue) EnqueueProviderWebhook(ctx context.Context, eventID string, hook model.ProviderWebhook) error {
	_, err := q.enqueue(ctx, q.conf.Queue.ProviderWebhookQueue,
		ProviderWebhookPayload{EventID: eventID, Webhook: hook},
		asynq.TaskID(hook.DeliveryKey()), asynq.MaxRetry(25))
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

// QueueLeaseExpiry schedules a reclaim check for the moment p's lease runs
// out. Each claim attempt gets its own task id.
func (q *Queue) QueueLeaseExpiry(ctx context.Context, p *model.Payout) error {
	if p.Lease == nil {
		return nil
	}
	taskID := fmt.Sprintf("%s:%d", p.PayoutID, p.Lease.Attempt)
	_, err := q.enqueue(ctx, q.conf.Queue.LeaseExpiryQueue,
		LeaseExpiryPayload{PayoutID: p.PayoutID, LeaseToken: p.Lease.Token},
		asynq.TaskID(taskID),
		asynq.ProcessIn(time.Until(p.Lease.ExpiresAt)),
		asynq.MaxRetry(3))
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return err
	}
	logrus.Debugf(" [*] Scheduled lease expiry for %s at %s", p.PayoutID, p.Lease.ExpiresAt.Format(time.RFC3339))
	return nil
}

// ProcessProviderWebhook applies a queued provider delivery. Deliveries the
// state machine refuses are recorded and never retried.
func (p *Payouts) ProcessProviderWebhook(ctx context.Context, task *asynq.Task) error {
	var payload ProviderWebhookPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logrus.Error(err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	_, err := p.applyProviderWebhook(ctx, payload.EventID, payload.Webhook)
	if err != nil && isPermanent(err) {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return err
}

// ProcessLeaseExpiry reclaims the claim named by the task if its lease is
// still the current one and has run out.
func (p *Payouts) ProcessLeaseExpiry(ctx context.Context, task *asynq.Task) error {
	var payload LeaseExpiryPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logrus.Error(err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	_, err := p.ReclaimLease(ctx, payload.PayoutID, payload.LeaseToken)
	return err
}
