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

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jerry-enebeli/payouts/internal/apierror"
	"github.com/jerry-enebeli/payouts/model"
)

// TransitionOptions qualify a requested status change.
type TransitionOptions struct {
	Source       model.ChangeSource
	ErrorCode    string
	ErrorMessage string

	// IgnoreSameStatus turns a request for the current status into a no-op
	// instead of an invalid transition.
	IgnoreSameStatus bool

	// ExpectedLeaseToken, when set, rejects the change with an ErrConflict
	// wrapping ErrLeaseLost unless the payout still holds this lease.
	ExpectedLeaseToken string
}

// Transition moves payout id to status to. The transition is evaluated
// against the locked row, so of two concurrent requests from the same prior
// status only the first succeeds.
func (p *Payouts) Transition(ctx context.Context, id string, to model.Status, opts TransitionOptions) (*model.Payout, error) {
	in := model.TransitionInput{
		To:           to,
		Source:       opts.Source,
		ErrorCode:    opts.ErrorCode,
		ErrorMessage: opts.ErrorMessage,
	}
	updated, _, err := p.transition(ctx, id, in, opts)
	return updated, err
}

// CancelPayout cancels a payout that has not been claimed yet.
func (p *Payouts) CancelPayout(ctx context.Context, id string) (*model.Payout, error) {
	return p.Transition(ctx, id, model.StatusCancelled, TransitionOptions{Source: model.SourceAdmin})
}

// RefundPayout marks a completed payout as refunded.
func (p *Payouts) RefundPayout(ctx context.Context, id string) (*model.Payout, error) {
	return p.Transition(ctx, id, model.StatusRefunded, TransitionOptions{Source: model.SourceAdmin})
}

func validateOutcome(report model.OutcomeReport) error {
	err := validation.ValidateStruct(&report,
		validation.Field(&report.PayoutID, validation.Required),
		validation.Field(&report.LeaseToken, validation.Required),
		validation.Field(&report.Outcome, validation.Required, validation.In(model.OutcomeCompleted, model.OutcomeFailed)),
		validation.Field(&report.ProviderTransferID, validation.When(report.Outcome == model.OutcomeCompleted, validation.Required)),
		validation.Field(&report.ErrorCode, validation.When(report.Outcome == model.OutcomeFailed, validation.Required)),
		validation.Field(&report.SourceCurrency, validation.When(report.SourceAmount.Valid, validation.Required)),
	)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), err)
	}
	return nil
}

// ReportOutcome records what the gateway said about a claimed payout. A
// repeated report for the status the payout already has is accepted as a
// no-op; a report from a worker whose lease was reclaimed is a conflict.
func (p *Payouts) ReportOutcome(ctx context.Context, report model.OutcomeReport) (*model.Payout, error) {
	if err := validateOutcome(report); err != nil {
		return nil, err
	}
	in := report.TransitionInput(model.SourceWorker)
	updated, _, err := p.transition(ctx, report.PayoutID, in, TransitionOptions{
		Source:             model.SourceWorker,
		IgnoreSameStatus:   true,
		ExpectedLeaseToken: report.LeaseToken,
	})
	return updated, err
}

// ErrLeaseLost is wrapped by the conflict returned when an outcome arrives
// for a lease that expired or was reclaimed. Other conflicts on the same
// path, such as a provider transfer id already owned by another payout,
// do not wrap it.
var ErrLeaseLost = errors.New("lease no longer held")

// IsLeaseLost reports whether err is a stale-lease conflict.
func IsLeaseLost(err error) bool {
	return errors.Is(err, ErrLeaseLost)
}

func staleLease(payout *model.Payout, token string) error {
	return apierror.NewAPIError(apierror.ErrConflict,
		fmt.Sprintf("lease %s no longer held on payout %s", token, payout.PayoutID),
		fmt.Errorf("%w: payout %s is %s", ErrLeaseLost, payout.PayoutID, payout.Status))
}

// transition applies in under the row lock. A nil change means the request
// was a no-op.
func (p *Payouts) transition(ctx context.Context, id string, in model.TransitionInput, opts TransitionOptions) (*model.Payout, *model.StatusChange, error) {
	ctx, span := tracer.Start(ctx, "Transition")
	defer span.End()
	span.SetAttributes(attribute.String("payout.id", id), attribute.String("payout.to", string(in.To)))

	if in.Source == "" {
		in.Source = model.SourceAdmin
	}

	updated, change, err := p.datasource.TransitionPayout(ctx, id, func(payout *model.Payout) (*model.StatusChange, error) {
		if opts.IgnoreSameStatus && payout.Status == in.To {
			return nil, nil
		}
		if opts.ExpectedLeaseToken != "" && (payout.Lease == nil || payout.Lease.Token != opts.ExpectedLeaseToken) {
			return nil, staleLease(payout, opts.ExpectedLeaseToken)
		}
		in.At = p.now()
		change, err := model.ApplyTransition(payout, in)
		if err != nil {
			return nil, err
		}
		return &change, nil
	})
	if err != nil {
		span.RecordError(err)
		logrus.WithFields(logrus.Fields{
			"payout_id": id,
			"to":        in.To,
			"source":    in.Source,
		}).WithError(err).Warn("payout transition refused")
		return nil, nil, err
	}

	if change != nil {
		p.afterTransition(ctx, updated, *change)
	}
	return updated, change, nil
}

// afterTransition logs an accepted change and queues its side effects.
func (p *Payouts) afterTransition(ctx context.Context, payout *model.Payout, change model.StatusChange) {
	logrus.WithFields(logrus.Fields{
		"payout_id": payout.PayoutID,
		"from":      change.FromStatus,
		"status":    change.Status,
		"source":    change.Source,
		"sequence":  change.Sequence,
	}).Info("payout status changed")

	p.announce(ctx, payout)

	if p.queue != nil && change.Status == model.StatusProcessing {
		if err := p.queue.QueueLeaseExpiry(ctx, payout); err != nil {
			logrus.WithError(err).WithField("payout_id", payout.PayoutID).Warn("lease expiry not scheduled")
		}
	}
}
