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
	"time"

	"github.com/jerry-enebeli/payouts/internal/apierror"
	"github.com/jerry-enebeli/payouts/model"
)

// RecentSuccessWindow bounds RecentSuccessfulPayouts.
const RecentSuccessWindow = 30 * 24 * time.Hour

// RecentSuccessfulPayouts lists payouts completed within the last 30 days,
// most recent first.
func (p *Payouts) RecentSuccessfulPayouts(ctx context.Context, limit int) ([]*model.Payout, error) {
	ctx, span := tracer.Start(ctx, "RecentSuccessfulPayouts")
	defer span.End()

	if limit <= 0 {
		limit = model.DefaultPageLimit
	}
	if limit > model.MaxPageLimit {
		limit = model.MaxPageLimit
	}
	return p.datasource.RecentSuccessfulPayouts(ctx, p.now().Add(-RecentSuccessWindow), limit)
}

// PendingSummary totals the pending backlog per currency.
func (p *Payouts) PendingSummary(ctx context.Context) ([]model.PendingCurrencySummary, error) {
	ctx, span := tracer.Start(ctx, "PendingSummary")
	defer span.End()
	return p.datasource.PendingSummary(ctx)
}

func (p *Payouts) CreatorStats(ctx context.Context, creatorID string) (*model.CreatorStats, error) {
	ctx, span := tracer.Start(ctx, "CreatorStats")
	defer span.End()

	if creatorID == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "creator id is required", nil)
	}
	return p.datasource.CreatorStats(ctx, creatorID)
}
