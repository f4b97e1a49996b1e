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
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"

	"github.com/jerry-enebeli/payouts/internal/apierror"
	"github.com/jerry-enebeli/payouts/model"
)

// RecentSuccessfulPayouts returns active completed payouts whose completion
// falls at or after since, most recent first.
func (d Datasource) RecentSuccessfulPayouts(ctx context.Context, since time.Time, limit int) ([]*model.Payout, error) {
	ctx, span := otel.Tracer(payoutTracer).Start(ctx, "RecentSuccessfulPayouts")
	defer span.End()

	payouts, err := queryPayouts(ctx, d.Conn, fmt.Sprintf(`
		SELECT %s
		FROM payouts.payouts
		WHERE status = 'completed' AND completed_at >= $1 AND deleted_at IS NULL
		ORDER BY completed_at DESC
		LIMIT $2
	`, payoutColumns), since, limit)
	if err != nil {
		return nil, err
	}
	if err := attachHistory(ctx, d.Conn, payouts); err != nil {
		return nil, err
	}
	return payouts, nil
}

func (d Datasource) PendingSummary(ctx context.Context) ([]model.PendingCurrencySummary, error) {
	ctx, span := otel.Tracer(payoutTracer).Start(ctx, "PendingSummary")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT currency, COUNT(*), COALESCE(SUM(amount), 0), MIN(created_at), MAX(created_at)
		FROM payouts.payouts
		WHERE status = 'pending' AND deleted_at IS NULL
		GROUP BY currency
		ORDER BY currency
	`)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to summarise pending payouts", err)
	}
	defer func() { _ = rows.Close() }()

	summaries := []model.PendingCurrencySummary{}
	for rows.Next() {
		var s model.PendingCurrencySummary
		if err := rows.Scan(&s.Currency, &s.Count, &s.TotalAmount, &s.OldestAt, &s.NewestAt); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan pending summary", err)
		}
		s.OldestAt, s.NewestAt = s.OldestAt.UTC(), s.NewestAt.UTC()
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating over pending summary", err)
	}
	return summaries, nil
}

// CreatorStats groups a creator's active payouts by currency and status.
// A creator with no payouts gets an empty currency list, not an error.
func (d Datasource) CreatorStats(ctx context.Context, creatorID string) (*model.CreatorStats, error) {
	ctx, span := otel.Tracer(payoutTracer).Start(ctx, "CreatorStats")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT currency, status, COUNT(*),
			COALESCE(SUM(amount) FILTER (WHERE status = 'completed'), 0),
			MAX(completed_at) FILTER (WHERE status = 'completed')
		FROM payouts.payouts
		WHERE creator_id = $1 AND deleted_at IS NULL
		GROUP BY currency, status
		ORDER BY currency, status
	`, creatorID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to compute creator stats", err)
	}
	defer func() { _ = rows.Close() }()

	stats := &model.CreatorStats{CreatorID: creatorID, Currencies: []model.CreatorCurrencyStats{}}
	index := map[string]int{}
	for rows.Next() {
		var (
			currency      string
			status        model.Status
			count         int64
			completedSum  decimal.Decimal
			lastCompleted sql.NullTime
		)
		if err := rows.Scan(&currency, &status, &count, &completedSum, &lastCompleted); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan creator stats", err)
		}

		i, ok := index[currency]
		if !ok {
			stats.Currencies = append(stats.Currencies, model.CreatorCurrencyStats{
				Currency:       currency,
				CountsByStatus: map[model.Status]int64{},
				TotalCompleted: decimal.Zero,
			})
			i = len(stats.Currencies) - 1
			index[currency] = i
		}
		entry := &stats.Currencies[i]
		entry.CountsByStatus[status] = count
		entry.TotalCompleted = entry.TotalCompleted.Add(completedSum)
		if t := timePtr(lastCompleted); t != nil && (entry.LastCompletedAt == nil || t.After(*entry.LastCompletedAt)) {
			entry.LastCompletedAt = t
		}
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating over creator stats", err)
	}
	return stats, nil
}
