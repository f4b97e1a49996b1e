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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jerry-enebeli/payouts/internal/apierror"
	"github.com/jerry-enebeli/payouts/model"
)

// ClaimPendingPayouts locks up to limit of the oldest pending payouts and
// moves each through fn in a single transaction. SKIP LOCKED hands rows
// already held by another claimer to nobody else, so concurrent claims
// partition the queue.
func (d Datasource) ClaimPendingPayouts(ctx context.Context, limit int, fn TransitionFunc) ([]*model.Payout, error) {
	ctx, span := otel.Tracer(payoutTracer).Start(ctx, "ClaimPendingPayouts")
	defer span.End()

	query := fmt.Sprintf(`
		SELECT %s
		FROM payouts.payouts
		WHERE status = 'pending' AND deleted_at IS NULL
		ORDER BY created_at ASC, id ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, payoutColumns)

	claimed, err := d.lockAndApply(ctx, fn, query, limit)
	span.SetAttributes(attribute.Int("payouts.claimed", len(claimed)))
	return claimed, err
}

// ReclaimExpiredLeases locks processing payouts whose lease ran out before
// now and moves each through fn. Deleted payouts are included so that none
// stays in processing forever.
func (d Datasource) ReclaimExpiredLeases(ctx context.Context, now time.Time, limit int, fn TransitionFunc) ([]*model.Payout, error) {
	ctx, span := otel.Tracer(payoutTracer).Start(ctx, "ReclaimExpiredLeases")
	defer span.End()

	query := fmt.Sprintf(`
		SELECT %s
		FROM payouts.payouts
		WHERE status = 'processing' AND lease_expires_at <= $1
		ORDER BY lease_expires_at ASC, id ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, payoutColumns)

	reclaimed, err := d.lockAndApply(ctx, fn, query, now, limit)
	span.SetAttributes(attribute.Int("payouts.reclaimed", len(reclaimed)))
	return reclaimed, err
}

func (d Datasource) lockAndApply(ctx context.Context, fn TransitionFunc, query string, args ...interface{}) ([]*model.Payout, error) {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	locked, err := queryPayouts(ctx, tx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(locked) == 0 {
		return nil, nil
	}
	if err := attachHistory(ctx, tx, locked); err != nil {
		return nil, err
	}

	applied := make([]*model.Payout, 0, len(locked))
	for _, p := range locked {
		change, err := applyAndPersist(ctx, tx, p, fn)
		if err != nil {
			return nil, err
		}
		if change != nil {
			applied = append(applied, p)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit transaction", err)
	}
	return applied, nil
}
