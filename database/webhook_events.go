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

package database

import (
	"context"

	"go.opentelemetry.io/otel"

	"github.com/jerry-enebeli/payouts/internal/apierror"
	"github.com/jerry-enebeli/payouts/model"
)

func (d Datasource) RecordProviderWebhookEvent(ctx context.Context, event *model.ProviderWebhookEvent) error {
	ctx, span := otel.Tracer(payoutTracer).Start(ctx, "RecordProviderWebhookEvent")
	defer span.End()

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO payouts.provider_webhook_events (event_id, provider_transfer_id, payout_id, delivered_status, outcome, reason, error_code, error_message, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, event.EventID, event.ProviderTransferID, nullString(event.PayoutID), event.DeliveredStatus, event.Outcome,
		nullString(event.Reason), nullString(event.ErrorCode), nullString(event.ErrorMessage), event.ReceivedAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record provider webhook event", err)
	}
	return nil
}
