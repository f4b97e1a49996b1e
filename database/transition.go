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
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"

	"github.com/jerry-enebeli/payouts/internal/apierror"
	"github.com/jerry-enebeli/payouts/model"
)

// TransitionPayout locks the payout row, hands it to fn and persists the
// result together with the new history entry. A concurrent caller blocks on
// the row lock and then sees the committed state, so two transitions can
// never both apply to the same prior status.
func (d Datasource) TransitionPayout(ctx context.Context, id string, fn TransitionFunc) (*model.Payout, *model.StatusChange, error) {
	ctx, span := otel.Tracer(payoutTracer).Start(ctx, "TransitionPayout")
	defer span.End()

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM payouts.payouts
		WHERE payout_id = $1 AND deleted_at IS NULL
		FOR UPDATE
	`, payoutColumns), id)

	p, err := scanPayout(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Payout with ID '%s' not found", id), err)
		}
		return nil, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to lock payout", err)
	}
	if err := attachHistory(ctx, tx, []*model.Payout{p}); err != nil {
		return nil, nil, err
	}

	change, err := applyAndPersist(ctx, tx, p, fn)
	if err != nil {
		span.RecordError(err)
		return nil, nil, err
	}
	if change == nil {
		return p, nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit transaction", err)
	}
	return p, change, nil
}
