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
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jerry-enebeli/payouts/database"
	"github.com/jerry-enebeli/payouts/internal/apierror"
	"github.com/jerry-enebeli/payouts/internal/gateway"
	"github.com/jerry-enebeli/payouts/internal/notification"
	"github.com/jerry-enebeli/payouts/model"
)

// Claim leases up to maxBatch of the oldest pending payouts to the caller.
// Concurrent claimers never receive the same payout.
func (p *Payouts) Claim(ctx context.Context, maxBatch int) ([]*model.Payout, error) {
	ctx, span := tracer.Start(ctx, "Claim")
	defer span.End()

	if maxBatch <= 0 {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "maxBatch must be greater than zero", nil)
	}

	now := p.now()
	leaseFor := p.config.Dispatcher.Lease()
	claimed, err := p.datasource.ClaimPendingPayouts(ctx, maxBatch, func(payout *model.Payout) (*model.StatusChange, error) {
		change, err := model.ApplyTransition(payout, model.TransitionInput{
			To:                    model.StatusProcessing,
			Source:                model.SourceWorker,
			At:                    now,
			Lease:                 model.NewLease(now, leaseFor),
			CustomerTransactionID: model.GenerateUUIDWithSuffix("ctx"),
		})
		if err != nil {
			return nil, err
		}
		return &change, nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("payouts.claimed", len(claimed)))
	for _, payout := range claimed {
		p.afterTransition(ctx, payout, lastChange(payout))
	}
	return claimed, nil
}

func lastChange(payout *model.Payout) model.StatusChange {
	return payout.StatusHistory[len(payout.StatusHistory)-1]
}

// reclaimTransition returns an expired claim to pending, or fails it once
// it has used up its attempts.
func (p *Payouts) reclaimTransition(now time.Time) database.TransitionFunc {
	maxAttempts := p.config.Dispatcher.MaxAttempts
	return func(payout *model.Payout) (*model.StatusChange, error) {
		in := model.TransitionInput{
			To:           model.StatusPending,
			Source:       model.SourceLeaseReaper,
			At:           now,
			ErrorCode:    model.ErrorCodeLeaseExpired,
			ErrorMessage: fmt.Sprintf("lease expired after attempt %d", payout.Attempts),
		}
		if maxAttempts > 0 && payout.Attempts >= maxAttempts {
			in.To = model.StatusFailed
			in.ErrorCode = model.ErrorCodeLeaseAttemptsExhausted
			in.ErrorMessage = fmt.Sprintf("lease expired on all %d attempts", payout.Attempts)
		}
		change, err := model.ApplyTransition(payout, in)
		if err != nil {
			return nil, err
		}
		return &change, nil
	}
}

func (p *Payouts) reaperBatchSize() int {
	if p.config.Dispatcher.ReaperBatchSize > 0 {
		return p.config.Dispatcher.ReaperBatchSize
	}
	return 100
}

// ReclaimExpiredLeases sweeps one batch of processing payouts whose lease
// ran out. An empty sweep is not an error.
func (p *Payouts) ReclaimExpiredLeases(ctx context.Context) ([]*model.Payout, error) {
	ctx, span := tracer.Start(ctx, "ReclaimExpiredLeases")
	defer span.End()

	now := p.now()
	reclaimed, err := p.datasource.ReclaimExpiredLeases(ctx, now, p.reaperBatchSize(), p.reclaimTransition(now))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("payouts.reclaimed", len(reclaimed)))
	for _, payout := range reclaimed {
		p.afterTransition(ctx, payout, lastChange(payout))
	}
	return reclaimed, nil
}

// ReclaimLease reclaims a single claim if token is still its lease and the
// lease has run out. It reports whether anything changed.
func (p *Payouts) ReclaimLease(ctx context.Context, payoutID, token string) (bool, error) {
	ctx, span := tracer.Start(ctx, "ReclaimLease")
	defer span.End()

	now := p.now()
	reclaim := p.reclaimTransition(now)
	updated, change, err := p.datasource.TransitionPayout(ctx, payoutID, func(payout *model.Payout) (*model.StatusChange, error) {
		if payout.Status != model.StatusProcessing || payout.Lease == nil ||
			payout.Lease.Token != token || !payout.Lease.Expired(now) {
			return nil, nil
		}
		return reclaim(payout)
	})
	if apierror.IsCode(err, apierror.ErrNotFound) {
		// deleted rows are left to the sweep
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if change == nil {
		return false, nil
	}
	p.afterTransition(ctx, updated, *change)
	return true, nil
}

// Dispatcher drains pending payouts through the gateway with a bounded
// pool of workers.
type Dispatcher struct {
	payouts      *Payouts
	gateway      gateway.Client
	workers      int
	batchSize    int
	pollInterval time.Duration
	wake         chan struct{}
}

func NewDispatcher(p *Payouts) (*Dispatcher, error) {
	if p.gateway == nil {
		return nil, errors.New("dispatcher needs a gateway client; set gateway.base_url")
	}
	cfg := p.config.Dispatcher
	return &Dispatcher{
		payouts:      p,
		gateway:      p.gateway,
		workers:      max(cfg.Workers, 1),
		batchSize:    max(cfg.BatchSize, 1),
		pollInterval: cfg.PollInterval(),
		wake:         make(chan struct{}, 1),
	}, nil
}

// Wake asks the dispatcher to claim now instead of at its next poll.
func (d *Dispatcher) Wake(string) {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run claims and processes batches until ctx ends. A full batch is followed
// by another claim right away; otherwise it waits for a poll or a wake up.
func (d *Dispatcher) Run(ctx context.Context) error {
	logrus.Infof("dispatcher started with %d workers", d.workers)
	var wait <-chan time.Time
	for {
		if wait != nil {
			select {
			case <-ctx.Done():
				logrus.Info("dispatcher stopped")
				return ctx.Err()
			case <-d.wake:
			case <-wait:
			}
		} else if ctx.Err() != nil {
			logrus.Info("dispatcher stopped")
			return ctx.Err()
		}

		n, err := d.RunOnce(ctx)
		if err != nil {
			logrus.WithError(err).Error("claim failed")
		}
		wait = nil
		if err != nil || n < d.batchSize {
			wait = time.After(d.pollInterval)
		}
	}
}

// RunOnce claims one batch and waits until each payout in it has been sent
// and its outcome reported.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	claimed, err := d.payouts.Claim(ctx, d.batchSize)
	if err != nil {
		return 0, err
	}

	sem := make(chan struct{}, d.workers)
	var wg sync.WaitGroup
	for _, payout := range claimed {
		sem <- struct{}{}
		wg.Add(1)
		go func(payout *model.Payout) {
			defer wg.Done()
			defer func() { <-sem }()
			d.process(ctx, payout)
		}(payout)
	}
	wg.Wait()
	return len(claimed), nil
}

// process sends one claimed payout. Work stops when the lease runs out so a
// reclaimed payout is never reported by the worker that lost it.
func (d *Dispatcher) process(ctx context.Context, payout *model.Payout) {
	ctx, span := tracer.Start(ctx, "ProcessPayout")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, payout.Lease.ExpiresAt.Sub(d.payouts.now()))
	defer cancel()

	log := logrus.WithFields(logrus.Fields{
		"payout_id": payout.PayoutID,
		"reference": payout.Reference,
		"attempt":   payout.Attempts,
	})

	report := model.OutcomeReport{PayoutID: payout.PayoutID, LeaseToken: payout.Lease.Token}
	result, err := d.gateway.Transfer(ctx, gateway.NewTransferRequest(payout))
	if err != nil {
		code, message, ok := gateway.FailureDetails(err)
		if !ok {
			log.WithError(err).Warn("transfer abandoned; the lease reaper will return the payout")
			return
		}
		report.Outcome = model.OutcomeFailed
		report.ErrorCode, report.ErrorMessage = code, message
	} else {
		report.Outcome = model.OutcomeCompleted
		report.ProviderTransferID = result.ProviderTransferID
		report.ProviderFee = result.Fee
		report.ExchangeRate = result.ExchangeRate
		report.SourceAmount = result.SourceAmount
		report.SourceCurrency = result.SourceCurrency
	}

	// The lease context may be gone by now; the report carries the token.
	if _, err := d.payouts.ReportOutcome(context.WithoutCancel(ctx), report); err != nil {
		span.RecordError(err)
		log.WithError(err).Error("outcome not recorded")
		if needsAlert(report, err) {
			notification.NotifyError(fmt.Errorf("payout %s sent as %s but not recorded: %w",
				payout.PayoutID, report.ProviderTransferID, err))
		}
		return
	}
	log.WithField("outcome", report.Outcome).Info("payout processed")
}

// needsAlert reports whether a failure to record report leaves money moved
// with no ledger trace. A lost lease is expected: the payout was reclaimed and
// the next attempt reuses the customer transaction id.
func needsAlert(report model.OutcomeReport, err error) bool {
	return err != nil && report.Outcome == model.OutcomeCompleted && !IsLeaseLost(err)
}
