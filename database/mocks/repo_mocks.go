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
package mocks

import (
	"context"
	"time"

	"github.com/jerry-enebeli/payouts/database"
	"github.com/jerry-enebeli/payouts/model"
	"github.com/stretchr/testify/mock"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

var _ database.IDataSource = (*MockDataSource)(nil)

func payoutOrNil(v interface{}) *model.Payout {
	if v == nil {
		return nil
	}
	return v.(*model.Payout)
}

func payoutsOrNil(v interface{}) []*model.Payout {
	if v == nil {
		return nil
	}
	return v.([]*model.Payout)
}

// Payout methods

func (m *MockDataSource) CreatePayout(ctx context.Context, p *model.Payout) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *MockDataSource) CreatePayoutIfAbsent(ctx context.Context, p *model.Payout) (*model.Payout, bool, error) {
	args := m.Called(ctx, p)
	return payoutOrNil(args.Get(0)), args.Bool(1), args.Error(2)
}

func (m *MockDataSource) GetPayout(ctx context.Context, id string) (*model.Payout, error) {
	args := m.Called(ctx, id)
	return payoutOrNil(args.Get(0)), args.Error(1)
}

func (m *MockDataSource) GetPayoutByReference(ctx context.Context, reference string) (*model.Payout, error) {
	args := m.Called(ctx, reference)
	return payoutOrNil(args.Get(0)), args.Error(1)
}

func (m *MockDataSource) GetPayoutByProviderTransferID(ctx context.Context, providerTransferID string) (*model.Payout, error) {
	args := m.Called(ctx, providerTransferID)
	return payoutOrNil(args.Get(0)), args.Error(1)
}

func (m *MockDataSource) ListPayouts(ctx context.Context, filter model.PayoutFilter) ([]*model.Payout, error) {
	args := m.Called(ctx, filter)
	return payoutsOrNil(args.Get(0)), args.Error(1)
}

func (m *MockDataSource) GetStatusHistory(ctx context.Context, id string) ([]model.StatusChange, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.StatusChange), args.Error(1)
}

func (m *MockDataSource) SoftDeletePayout(ctx context.Context, id string, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

// Transition and dispatch methods. The mock runs fn against the payout it
// was told to return, so callers' transition logic is still exercised.

func (m *MockDataSource) TransitionPayout(ctx context.Context, id string, fn database.TransitionFunc) (*model.Payout, *model.StatusChange, error) {
	args := m.Called(ctx, id, fn)
	p := payoutOrNil(args.Get(0))
	if err := args.Error(1); err != nil || p == nil {
		return nil, nil, err
	}
	p = p.Clone()
	change, err := fn(p)
	if err != nil {
		return nil, nil, err
	}
	return p, change, nil
}

func (m *MockDataSource) ClaimPendingPayouts(ctx context.Context, limit int, fn database.TransitionFunc) ([]*model.Payout, error) {
	args := m.Called(ctx, limit, fn)
	return applyAll(payoutsOrNil(args.Get(0)), args.Error(1), fn)
}

func (m *MockDataSource) ReclaimExpiredLeases(ctx context.Context, now time.Time, limit int, fn database.TransitionFunc) ([]*model.Payout, error) {
	args := m.Called(ctx, now, limit, fn)
	return applyAll(payoutsOrNil(args.Get(0)), args.Error(1), fn)
}

func applyAll(payouts []*model.Payout, err error, fn database.TransitionFunc) ([]*model.Payout, error) {
	if err != nil {
		return nil, err
	}
	var applied []*model.Payout
	for _, p := range payouts {
		p = p.Clone()
		change, err := fn(p)
		if err != nil {
			return nil, err
		}
		if change != nil {
			applied = append(applied, p)
		}
	}
	return applied, nil
}

// Aggregation methods

func (m *MockDataSource) RecentSuccessfulPayouts(ctx context.Context, since time.Time, limit int) ([]*model.Payout, error) {
	args := m.Called(ctx, since, limit)
	return payoutsOrNil(args.Get(0)), args.Error(1)
}

func (m *MockDataSource) PendingSummary(ctx context.Context) ([]model.PendingCurrencySummary, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.PendingCurrencySummary), args.Error(1)
}

func (m *MockDataSource) CreatorStats(ctx context.Context, creatorID string) (*model.CreatorStats, error) {
	args := m.Called(ctx, creatorID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CreatorStats), args.Error(1)
}

func (m *MockDataSource) RecordProviderWebhookEvent(ctx context.Context, event *model.ProviderWebhookEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}
