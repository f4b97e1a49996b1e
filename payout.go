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
	"fmt"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jerry-enebeli/payouts/internal/apierror"
	"github.com/jerry-enebeli/payouts/model"
)

// InitiatePayout records a payout request exactly once per reference. A
// request whose reference is already active returns the stored payout
// unchanged with created=false.
func (p *Payouts) InitiatePayout(ctx context.Context, payout *model.Payout) (*model.Payout, bool, error) {
	ctx, span := tracer.Start(ctx, "InitiatePayout")
	defer span.End()

	if err := payout.Validate(p.config.Currencies); err != nil {
		span.RecordError(err)
		return nil, false, err
	}

	candidate := model.NewPayout(*payout, p.now())
	stored, created, err := p.datasource.CreatePayoutIfAbsent(ctx, candidate)
	if err != nil {
		span.RecordError(err)
		return nil, false, err
	}
	span.SetAttributes(attribute.String("payout.id", stored.PayoutID), attribute.Bool("payout.created", created))

	if created {
		p.announce(ctx, stored)
	} else {
		logrus.WithFields(logrus.Fields{
			"reference": payout.Reference,
			"payout_id": stored.PayoutID,
		}).Info("payout reference already recorded")
	}
	return stored, created, nil
}

// CreatePayout is InitiatePayout for callers that want a duplicate reference
// reported as a conflict.
func (p *Payouts) CreatePayout(ctx context.Context, payout *model.Payout) (*model.Payout, error) {
	ctx, span := tracer.Start(ctx, "CreatePayout")
	defer span.End()

	if err := payout.Validate(p.config.Currencies); err != nil {
		return nil, err
	}

	candidate := model.NewPayout(*payout, p.now())
	if err := p.datasource.CreatePayout(ctx, candidate); err != nil {
		span.RecordError(err)
		return nil, err
	}
	p.announce(ctx, candidate)
	return candidate, nil
}

func (p *Payouts) GetPayout(ctx context.Context, id string) (*model.Payout, error) {
	ctx, span := tracer.Start(ctx, "GetPayout")
	defer span.End()
	return p.datasource.GetPayout(ctx, id)
}

func (p *Payouts) GetPayoutByReference(ctx context.Context, reference string) (*model.Payout, error) {
	ctx, span := tracer.Start(ctx, "GetPayoutByReference")
	defer span.End()
	return p.datasource.GetPayoutByReference(ctx, reference)
}

// ListPayouts returns active payouts matching filter, newest first unless
// filter.Ascending is set.
func (p *Payouts) ListPayouts(ctx context.Context, filter model.PayoutFilter) ([]*model.Payout, error) {
	ctx, span := tracer.Start(ctx, "ListPayouts")
	defer span.End()

	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("unknown status %q", filter.Status), nil)
	}
	filter.Currency = model.NormalizeCurrency(filter.Currency)
	filter.Normalize()
	return p.datasource.ListPayouts(ctx, filter)
}

// GetStatusHistory returns the audit trail of a payout ordered by sequence.
func (p *Payouts) GetStatusHistory(ctx context.Context, id string) ([]model.StatusChange, error) {
	ctx, span := tracer.Start(ctx, "GetStatusHistory")
	defer span.End()
	return p.datasource.GetStatusHistory(ctx, id)
}

// SoftDeletePayout hides a payout from reads. Its history is kept.
func (p *Payouts) SoftDeletePayout(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "SoftDeletePayout")
	defer span.End()

	if err := p.datasource.SoftDeletePayout(ctx, id, p.now()); err != nil {
		span.RecordError(err)
		return err
	}
	logrus.WithField("payout_id", id).Info("payout soft deleted")
	return nil
}

// announce publishes the event for a payout's current status.
func (p *Payouts) announce(ctx context.Context, payout *model.Payout) {
	if p.queue == nil {
		return
	}
	event := NewWebhook{Event: getEventFromStatus(payout.Status), Payload: payout}
	if err := p.queue.SendWebhook(ctx, event); err != nil {
		logrus.WithError(err).WithField("payout_id", payout.PayoutID).Warn("payout event not queued")
	}
}
