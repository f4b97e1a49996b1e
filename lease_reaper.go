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
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	redlock "github.com/jerry-enebeli/payouts/internal/lock"
	"github.com/jerry-enebeli/payouts/model"
)

const leaseReaperLockKey = "payouts:lease-reaper"

// LeaseReaper periodically returns payouts whose claim expired to pending.
// With redis configured only one reaper across the cluster sweeps per tick.
type LeaseReaper struct {
	payouts    *Payouts
	interval   time.Duration
	batchSize  int
	instanceID string
	stopCh     chan struct{}
	wg         sync.WaitGroup
	running    bool
	mu         sync.Mutex
}

func NewLeaseReaper(p *Payouts) *LeaseReaper {
	interval := p.config.Dispatcher.ReaperInterval()
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &LeaseReaper{
		payouts:    p,
		interval:   interval,
		batchSize:  p.reaperBatchSize(),
		instanceID: model.GenerateUUIDWithSuffix("reaper"),
		stopCh:     make(chan struct{}),
	}
}

func (r *LeaseReaper) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(ctx)
	}()

	logrus.Info("Lease reaper started")
}

func (r *LeaseReaper) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopCh)
	r.mu.Unlock()

	r.wg.Wait()
	logrus.Info("Lease reaper stopped")
}

func (r *LeaseReaper) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *LeaseReaper) run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("Lease reaper context cancelled")
			return
		case <-r.stopCh:
			logrus.Info("Lease reaper stop signal received")
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				logrus.WithError(err).Error("lease sweep failed")
			}
		}
	}
}

// Sweep reclaims expired leases batch by batch until none are left and
// returns how many payouts it moved. It does nothing while another instance
// holds the reaper lock.
func (r *LeaseReaper) Sweep(ctx context.Context) (int, error) {
	if r.payouts.redis != nil {
		locker := redlock.NewLocker(r.payouts.redis, leaseReaperLockKey, r.instanceID)
		if err := locker.Lock(ctx, r.interval); err != nil {
			if errors.Is(err, redlock.ErrLockHeld) {
				return 0, nil
			}
			return 0, err
		}
		defer func() {
			if err := locker.Unlock(context.WithoutCancel(ctx)); err != nil {
				logrus.WithError(err).Debug("lease reaper lock already released")
			}
		}()
		return r.sweep(ctx, locker)
	}
	return r.sweep(ctx, nil)
}

func (r *LeaseReaper) sweep(ctx context.Context, locker *redlock.Locker) (int, error) {
	total := 0
	for {
		reclaimed, err := r.payouts.ReclaimExpiredLeases(ctx)
		if err != nil {
			return total, err
		}
		total += len(reclaimed)
		if len(reclaimed) < r.batchSize {
			break
		}
		if locker != nil {
			if err := locker.ExtendLock(ctx, r.interval); err != nil {
				return total, err
			}
		}
	}
	if total > 0 {
		logrus.Infof("Lease reaper reclaimed %d payouts", total)
	}
	return total, nil
}
