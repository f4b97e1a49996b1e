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
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jerry-enebeli/payouts/internal/apierror"
	"github.com/jerry-enebeli/payouts/model"
)

// MemoryDataSource is an in-process IDataSource. Every method holds one
// mutex for its whole duration, which gives it the same atomicity the SQL
// statements get from row locks and unique indexes. It backs tests and
// local runs without Postgres.
type MemoryDataSource struct {
	mu      sync.Mutex
	payouts map[string]*model.Payout
	order   []string
	events  []model.ProviderWebhookEvent
}

var _ IDataSource = (*MemoryDataSource)(nil)

func NewMemoryDataSource() *MemoryDataSource {
	return &MemoryDataSource{payouts: map[string]*model.Payout{}}
}

func notFound(label, value string) error {
	return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Payout with %s '%s' not found", label, value), nil)
}

func (m *MemoryDataSource) activeByReference(reference string) *model.Payout {
	for _, p := range m.payouts {
		if p.Reference == reference && !p.Lifecycle.IsDeleted() {
			return p
		}
	}
	return nil
}

// checkUnique enforces the partial unique indexes for candidate.
func (m *MemoryDataSource) checkUnique(candidate *model.Payout) error {
	for id, p := range m.payouts {
		if id == candidate.PayoutID {
			continue
		}
		if !p.Lifecycle.IsDeleted() && !candidate.Lifecycle.IsDeleted() && p.Reference == candidate.Reference {
			return apierror.NewAPIError(apierror.ErrConflict, "an active payout with this reference already exists", nil)
		}
		if p.ProviderTransferID != nil && candidate.ProviderTransferID != nil && *p.ProviderTransferID == *candidate.ProviderTransferID {
			return apierror.NewAPIError(apierror.ErrConflict, "provider transfer id is already assigned to another payout", nil)
		}
		if p.CustomerTransactionID != nil && candidate.CustomerTransactionID != nil && *p.CustomerTransactionID == *candidate.CustomerTransactionID {
			return apierror.NewAPIError(apierror.ErrConflict, "customer transaction id is already assigned to another payout", nil)
		}
	}
	return nil
}

func (m *MemoryDataSource) insert(p *model.Payout) error {
	if err := m.checkUnique(p); err != nil {
		return err
	}
	m.payouts[p.PayoutID] = p.Clone()
	m.order = append(m.order, p.PayoutID)
	return nil
}

func (m *MemoryDataSource) CreatePayout(_ context.Context, p *model.Payout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insert(p)
}

func (m *MemoryDataSource) CreatePayoutIfAbsent(_ context.Context, p *model.Payout) (*model.Payout, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing := m.activeByReference(p.Reference); existing != nil {
		return existing.Clone(), false, nil
	}
	if err := m.insert(p); err != nil {
		return nil, false, err
	}
	return p.Clone(), true, nil
}

func (m *MemoryDataSource) GetPayout(_ context.Context, id string) (*model.Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payouts[id]
	if !ok || p.Lifecycle.IsDeleted() {
		return nil, notFound("ID", id)
	}
	return p.Clone(), nil
}

func (m *MemoryDataSource) GetPayoutByReference(_ context.Context, reference string) (*model.Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p := m.activeByReference(reference); p != nil {
		return p.Clone(), nil
	}
	return nil, notFound("reference", reference)
}

func (m *MemoryDataSource) GetPayoutByProviderTransferID(_ context.Context, providerTransferID string) (*model.Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payouts {
		if p.ProviderTransferID != nil && *p.ProviderTransferID == providerTransferID && !p.Lifecycle.IsDeleted() {
			return p.Clone(), nil
		}
	}
	return nil, notFound("provider transfer ID", providerTransferID)
}

// sorted returns payouts in creation order; ties keep insertion order.
func (m *MemoryDataSource) sorted(keep func(p *model.Payout) bool) []*model.Payout {
	var out []*model.Payout
	for _, id := range m.order {
		if p := m.payouts[id]; keep(p) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *MemoryDataSource) ListPayouts(_ context.Context, filter model.PayoutFilter) ([]*model.Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	filter.Normalize()
	matches := m.sorted(func(p *model.Payout) bool {
		return !p.Lifecycle.IsDeleted() &&
			(filter.CreatorID == "" || p.CreatorID == filter.CreatorID) &&
			(filter.Status == "" || p.Status == filter.Status) &&
			(filter.Currency == "" || p.Currency == filter.Currency)
	})
	if !filter.Ascending {
		for i, j := 0, len(matches)-1; i < j; i, j = i+1, j-1 {
			matches[i], matches[j] = matches[j], matches[i]
		}
	}

	start := filter.Offset()
	if start < 0 || start >= len(matches) {
		return nil, nil
	}
	end := start + filter.Limit
	if end > len(matches) {
		end = len(matches)
	}
	out := make([]*model.Payout, 0, end-start)
	for _, p := range matches[start:end] {
		out = append(out, p.Clone())
	}
	return out, nil
}

func (m *MemoryDataSource) GetStatusHistory(ctx context.Context, id string) ([]model.StatusChange, error) {
	p, err := m.GetPayout(ctx, id)
	if err != nil {
		return nil, err
	}
	return p.StatusHistory, nil
}

func (m *MemoryDataSource) SoftDeletePayout(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payouts[id]
	if !ok || p.Lifecycle.IsDeleted() {
		return notFound("ID", id)
	}
	p.Lifecycle = model.Deleted(at)
	p.UpdatedAt = at
	return nil
}

// apply runs fn on a copy and only stores it when fn produced a change
// that keeps the unique indexes intact.
func (m *MemoryDataSource) apply(stored *model.Payout, fn TransitionFunc) (*model.Payout, *model.StatusChange, error) {
	working := stored.Clone()
	change, err := fn(working)
	if err != nil {
		return nil, nil, err
	}
	if change == nil {
		return working, nil, nil
	}
	if err := m.checkUnique(working); err != nil {
		return nil, nil, err
	}
	m.payouts[working.PayoutID] = working.Clone()
	return working, change, nil
}

func (m *MemoryDataSource) TransitionPayout(_ context.Context, id string, fn TransitionFunc) (*model.Payout, *model.StatusChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payouts[id]
	if !ok || p.Lifecycle.IsDeleted() {
		return nil, nil, notFound("ID", id)
	}
	return m.apply(p, fn)
}

// applyBatch mirrors the all-or-nothing transaction of the SQL claim.
func (m *MemoryDataSource) applyBatch(candidates []*model.Payout, limit int, fn TransitionFunc) ([]*model.Payout, error) {
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	snapshot := make(map[string]*model.Payout, len(candidates))
	for _, p := range candidates {
		snapshot[p.PayoutID] = p.Clone()
	}

	var applied []*model.Payout
	for _, p := range candidates {
		updated, change, err := m.apply(p, fn)
		if err != nil {
			for id, original := range snapshot {
				m.payouts[id] = original
			}
			return nil, err
		}
		if change != nil {
			applied = append(applied, updated)
		}
	}
	return applied, nil
}

func (m *MemoryDataSource) ClaimPendingPayouts(_ context.Context, limit int, fn TransitionFunc) ([]*model.Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pending := m.sorted(func(p *model.Payout) bool {
		return p.Status == model.StatusPending && !p.Lifecycle.IsDeleted()
	})
	return m.applyBatch(pending, limit, fn)
}

func (m *MemoryDataSource) ReclaimExpiredLeases(_ context.Context, now time.Time, limit int, fn TransitionFunc) ([]*model.Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	expired := m.sorted(func(p *model.Payout) bool {
		return p.Status == model.StatusProcessing && p.Lease.Expired(now)
	})
	sort.SliceStable(expired, func(i, j int) bool {
		return expired[i].Lease.ExpiresAt.Before(expired[j].Lease.ExpiresAt)
	})
	return m.applyBatch(expired, limit, fn)
}

func (m *MemoryDataSource) RecentSuccessfulPayouts(_ context.Context, since time.Time, limit int) ([]*model.Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	matches := m.sorted(func(p *model.Payout) bool {
		return p.Status == model.StatusCompleted && !p.Lifecycle.IsDeleted() &&
			p.CompletedAt != nil && !p.CompletedAt.Before(since)
	})
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].CompletedAt.After(*matches[j].CompletedAt) })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	out := make([]*model.Payout, len(matches))
	for i, p := range matches {
		out[i] = p.Clone()
	}
	return out, nil
}

func (m *MemoryDataSource) PendingSummary(_ context.Context) ([]model.PendingCurrencySummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byCurrency := map[string]*model.PendingCurrencySummary{}
	for _, p := range m.payouts {
		if p.Status != model.StatusPending || p.Lifecycle.IsDeleted() {
			continue
		}
		s, ok := byCurrency[p.Currency]
		if !ok {
			s = &model.PendingCurrencySummary{Currency: p.Currency, TotalAmount: decimal.Zero, OldestAt: p.CreatedAt, NewestAt: p.CreatedAt}
			byCurrency[p.Currency] = s
		}
		s.Count++
		s.TotalAmount = s.TotalAmount.Add(p.Amount)
		if p.CreatedAt.Before(s.OldestAt) {
			s.OldestAt = p.CreatedAt
		}
		if p.CreatedAt.After(s.NewestAt) {
			s.NewestAt = p.CreatedAt
		}
	}

	out := make([]model.PendingCurrencySummary, 0, len(byCurrency))
	for _, s := range byCurrency {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out, nil
}

func (m *MemoryDataSource) CreatorStats(_ context.Context, creatorID string) (*model.CreatorStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byCurrency := map[string]*model.CreatorCurrencyStats{}
	for _, p := range m.payouts {
		if p.CreatorID != creatorID || p.Lifecycle.IsDeleted() {
			continue
		}
		s, ok := byCurrency[p.Currency]
		if !ok {
			s = &model.CreatorCurrencyStats{Currency: p.Currency, CountsByStatus: map[model.Status]int64{}, TotalCompleted: decimal.Zero}
			byCurrency[p.Currency] = s
		}
		s.CountsByStatus[p.Status]++
		if p.Status == model.StatusCompleted {
			s.TotalCompleted = s.TotalCompleted.Add(p.Amount)
			if s.LastCompletedAt == nil || p.CompletedAt.After(*s.LastCompletedAt) {
				t := *p.CompletedAt
				s.LastCompletedAt = &t
			}
		}
	}

	stats := &model.CreatorStats{CreatorID: creatorID, Currencies: []model.CreatorCurrencyStats{}}
	for _, s := range byCurrency {
		stats.Currencies = append(stats.Currencies, *s)
	}
	sort.Slice(stats.Currencies, func(i, j int) bool { return stats.Currencies[i].Currency < stats.Currencies[j].Currency })
	return stats, nil
}

func (m *MemoryDataSource) RecordProviderWebhookEvent(_ context.Context, event *model.ProviderWebhookEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *event)
	return nil
}

// ProviderWebhookEvents returns the recorded deliveries in arrival order.
func (m *MemoryDataSource) ProviderWebhookEvents() []model.ProviderWebhookEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.ProviderWebhookEvent(nil), m.events...)
}
