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
	"time"

	"github.com/jerry-enebeli/payouts/model"
)

// TransitionFunc mutates a locked payout and returns the history entry it
// produced. A nil entry with a nil error means "nothing to do": the
// transaction is rolled back and the payout is returned as read.
type TransitionFunc func(p *model.Payout) (*model.StatusChange, error)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	payout          // Payout store and history reads
	transition      // Atomic single-payout transitions
	dispatch        // Batch claim and lease reclaim
	aggregation     // Read-only reconciliation views
	providerWebhook // Inbound delivery log
}

type payout interface {
	CreatePayout(ctx context.Context, p *model.Payout) error
	CreatePayoutIfAbsent(ctx context.Context, p *model.Payout) (*model.Payout, bool, error)
	GetPayout(ctx context.Context, id string) (*model.Payout, error)
	GetPayoutByReference(ctx context.Context, reference string) (*model.Payout, error)
	GetPayoutByProviderTransferID(ctx context.Context, providerTransferID string) (*model.Payout, error)
	ListPayouts(ctx context.Context, filter model.PayoutFilter) ([]*model.Payout, error)
	GetStatusHistory(ctx context.Context, id string) ([]model.StatusChange, error)
	SoftDeletePayout(ctx context.Context, id string, at time.Time) error
}

type transition interface {
	TransitionPayout(ctx context.Context, id string, fn TransitionFunc) (*model.Payout, *model.StatusChange, error)
}

type dispatch interface {
	ClaimPendingPayouts(ctx context.Context, limit int, fn TransitionFunc) ([]*model.Payout, error)
	ReclaimExpiredLeases(ctx context.Context, now time.Time, limit int, fn TransitionFunc) ([]*model.Payout, error)
}

type aggregation interface {
	RecentSuccessfulPayouts(ctx context.Context, since time.Time, limit int) ([]*model.Payout, error)
	PendingSummary(ctx context.Context) ([]model.PendingCurrencySummary, error)
	CreatorStats(ctx context.Context, creatorID string) (*model.CreatorStats, error)
}

type providerWebhook interface {
	RecordProviderWebhookEvent(ctx context.Context, event *model.ProviderWebhookEvent) error
}
