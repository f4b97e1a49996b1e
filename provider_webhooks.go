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

	"github.com/jerry-enebeli/payouts/internal/apierror"
	"github.com/jerry-enebeli/payouts/model"
)

// isPermanent reports whether retrying err can never succeed.
func isPermanent(err error) bool {
	switch apierror.CodeOf(err) {
	case apierror.ErrInvalidInput, apierror.ErrInvalidTransition, apierror.ErrNotFound, apierror.ErrBadRequest:
		return true
	}
	return false
}

// HandleProviderWebhook applies a status delivery from the transfer rail.
// A delivery for the status the payout already has changes nothing; one the
// state machine refuses is logged and returned as an error. Every delivery
// that reaches a decision is recorded.
func (p *Payouts) HandleProviderWebhook(ctx context.Context, hook model.ProviderWebhook) (*model.ProviderWebhookEvent, error) {
	return p.applyProviderWebhook(ctx, model.GenerateUUIDWithSuffix("pwe"), hook)
}

// QueueProviderWebhook defers a delivery to the workers. Without a queue it
// is applied inline.
func (p *Payouts) QueueProviderWebhook(ctx context.Context, hook model.ProviderWebhook) (string, error) {
	eventID := model.GenerateUUIDWithSuffix("pwe")
	if p.queue == nil {
		_, err := p.applyProviderWebhook(ctx, eventID, hook)
		return eventID, err
	}
	if hook.ProviderTransferID == "" {
		return "", apierror.NewAPIError(apierror.ErrInvalidInput, "provider_transfer_id is required", nil)
	}
	return eventID, p.queue.EnqueueProviderWebhook(ctx, eventID, hook)
}

func (p *Payouts) applyProviderWebhook(ctx context.Context, eventID string, hook model.ProviderWebhook) (*model.ProviderWebhookEvent, error) {
	ctx, span := tracer.Start(ctx, "HandleProviderWebhook")
	defer span.End()

	event := &model.ProviderWebhookEvent{
		EventID:            eventID,
		ProviderTransferID: hook.ProviderTransferID,
		DeliveredStatus:    hook.Status,
		ErrorCode:          hook.ErrorCode,
		ErrorMessage:       hook.ErrorMessage,
		ReceivedAt:         p.now(),
	}
	log := logrus.WithFields(logrus.Fields{
		"provider_transfer_id": hook.ProviderTransferID,
		"delivered_status":     hook.Status,
		"event_id":             eventID,
	})

	if hook.ProviderTransferID == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "provider_transfer_id is required", nil)
	}

	to, ok := model.NormalizeProviderStatus(hook.Status)
	if !ok {
		err := apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("unknown provider status %q", hook.Status), nil)
		p.recordRejection(ctx, log, event, err)
		return event, err
	}

	payout, err := p.datasource.GetPayoutByProviderTransferID(ctx, hook.ProviderTransferID)
	if err != nil {
		if apierror.IsCode(err, apierror.ErrNotFound) {
			p.recordRejection(ctx, log, event, err)
		}
		return event, err
	}
	event.PayoutID = payout.PayoutID

	_, change, err := p.transition(ctx, payout.PayoutID, model.TransitionInput{
		To:           to,
		Source:       model.SourceWebhook,
		ErrorCode:    hook.ErrorCode,
		ErrorMessage: hook.ErrorMessage,
	}, TransitionOptions{IgnoreSameStatus: true})
	if err != nil {
		if apierror.IsCode(err, apierror.ErrInvalidInput) {
			err = apierror.NewAPIError(apierror.ErrInvalidTransition,
				fmt.Sprintf("payout %s cannot be moved to %s by a webhook", payout.PayoutID, to), err)
		}
		if isPermanent(err) {
			p.recordRejection(ctx, log, event, err)
		}
		return event, err
	}

	event.Outcome = model.WebhookApplied
	if change == nil {
		event.Outcome = model.WebhookDuplicate
	}
	p.recordEvent(ctx, log, event)
	return event, nil
}

func (p *Payouts) recordRejection(ctx context.Context, log *logrus.Entry, event *model.ProviderWebhookEvent, cause error) {
	event.Outcome = model.WebhookRejected
	event.Reason = cause.Error()
	log.WithError(cause).Warn("provider webhook rejected")
	p.recordEvent(ctx, log, event)
}

func (p *Payouts) recordEvent(ctx context.Context, log *logrus.Entry, event *model.ProviderWebhookEvent) {
	if err := p.datasource.RecordProviderWebhookEvent(ctx, event); err != nil {
		log.WithError(err).Error("provider webhook event not recorded")
	}
}
