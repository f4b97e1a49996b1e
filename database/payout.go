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
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/jerry-enebeli/payouts/internal/apierror"
	"github.com/jerry-enebeli/payouts/model"
)

const payoutTracer = "payout.database"

func insertPayoutArgs(p *model.Payout) ([]interface{}, error) {
	recipientJSON, err := json.Marshal(p.Recipient)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal recipient", err)
	}
	metaDataJSON, err := marshalMetaData(p.MetaData)
	if err != nil {
		return nil, err
	}
	return []interface{}{
		p.PayoutID, p.Reference, p.CreatorID, p.Amount, p.Currency,
		p.SourceAmount, nullString(p.SourceCurrency), p.ExchangeRate, p.ProviderFee,
		recipientJSON, p.Status, p.CreatedAt, p.UpdatedAt, metaDataJSON,
	}, nil
}

const insertPayoutSQL = `
	INSERT INTO payouts.payouts (payout_id, reference, creator_id, amount, currency,
		source_amount, source_currency, exchange_rate, provider_fee,
		recipient, status, created_at, updated_at, meta_data)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

// CreatePayout persists a new pending payout and its creation history entry.
// An active payout with the same reference yields a CONFLICT error.
func (d Datasource) CreatePayout(ctx context.Context, p *model.Payout) error {
	ctx, span := otel.Tracer(payoutTracer).Start(ctx, "CreatePayout")
	defer span.End()

	args, err := insertPayoutArgs(p)
	if err != nil {
		return err
	}

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, insertPayoutSQL, args...); err != nil {
		span.RecordError(err)
		return conflictError(err, "Failed to create payout")
	}
	if err := insertHistory(ctx, tx, p.PayoutID, p.StatusHistory[0]); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit transaction", err)
	}
	return nil
}

// CreatePayoutIfAbsent inserts p unless an active payout already holds its
// reference, in which case the existing payout is returned with created=false.
// The check and the insert are one statement, so concurrent submissions of
// the same reference serialize on the partial unique index.
func (d Datasource) CreatePayoutIfAbsent(ctx context.Context, p *model.Payout) (*model.Payout, bool, error) {
	ctx, span := otel.Tracer(payoutTracer).Start(ctx, "CreatePayoutIfAbsent")
	defer span.End()

	args, err := insertPayoutArgs(p)
	if err != nil {
		return nil, false, err
	}

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	var insertedID string
	err = tx.QueryRowContext(ctx, insertPayoutSQL+`
		ON CONFLICT (reference) WHERE deleted_at IS NULL DO NOTHING
		RETURNING payout_id`, args...).Scan(&insertedID)
	if errors.Is(err, sql.ErrNoRows) {
		_ = tx.Rollback()
		existing, err := d.GetPayoutByReference(ctx, p.Reference)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, false, conflictError(err, "Failed to create payout")
	}

	if err := insertHistory(ctx, tx, p.PayoutID, p.StatusHistory[0]); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit transaction", err)
	}
	return p, true, nil
}

func (d Datasource) getPayoutWhere(ctx context.Context, column, value, label string) (*model.Payout, error) {
	row := d.Conn.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM payouts.payouts
		WHERE %s = $1 AND deleted_at IS NULL
	`, payoutColumns, column), value)

	p, err := scanPayout(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Payout with %s '%s' not found", label, value), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve payout", err)
	}

	if err := attachHistory(ctx, d.Conn, []*model.Payout{p}); err != nil {
		return nil, err
	}
	return p, nil
}

func (d Datasource) GetPayout(ctx context.Context, id string) (*model.Payout, error) {
	ctx, span := otel.Tracer(payoutTracer).Start(ctx, "GetPayout")
	defer span.End()
	return d.getPayoutWhere(ctx, "payout_id", id, "ID")
}

func (d Datasource) GetPayoutByReference(ctx context.Context, reference string) (*model.Payout, error) {
	ctx, span := otel.Tracer(payoutTracer).Start(ctx, "GetPayoutByReference")
	defer span.End()
	return d.getPayoutWhere(ctx, "reference", reference, "reference")
}

func (d Datasource) GetPayoutByProviderTransferID(ctx context.Context, providerTransferID string) (*model.Payout, error) {
	ctx, span := otel.Tracer(payoutTracer).Start(ctx, "GetPayoutByProviderTransferID")
	defer span.End()
	return d.getPayoutWhere(ctx, "provider_transfer_id", providerTransferID, "provider transfer ID")
}

// ListPayouts returns active payouts matching filter, newest first unless
// filter.Ascending is set.
func (d Datasource) ListPayouts(ctx context.Context, filter model.PayoutFilter) ([]*model.Payout, error) {
	ctx, span := otel.Tracer(payoutTracer).Start(ctx, "ListPayouts")
	defer span.End()

	filter.Normalize()

	conditions := []string{"deleted_at IS NULL"}
	var args []interface{}
	add := func(column string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if filter.CreatorID != "" {
		add("creator_id", filter.CreatorID)
	}
	if filter.Status != "" {
		add("status", filter.Status)
	}
	if filter.Currency != "" {
		add("currency", filter.Currency)
	}

	order := "DESC"
	if filter.Ascending {
		order = "ASC"
	}

	args = append(args, filter.Limit, filter.Offset())
	query := fmt.Sprintf(`
		SELECT %s
		FROM payouts.payouts
		WHERE %s
		ORDER BY created_at %s, id %s
		LIMIT $%d OFFSET $%d
	`, payoutColumns, strings.Join(conditions, " AND "), order, order, len(args)-1, len(args))

	payouts, err := queryPayouts(ctx, d.Conn, query, args...)
	if err != nil {
		return nil, err
	}
	if err := attachHistory(ctx, d.Conn, payouts); err != nil {
		return nil, err
	}
	return payouts, nil
}

// GetStatusHistory returns the audit trail of an active payout, oldest first.
func (d Datasource) GetStatusHistory(ctx context.Context, id string) ([]model.StatusChange, error) {
	ctx, span := otel.Tracer(payoutTracer).Start(ctx, "GetStatusHistory")
	defer span.End()

	p, err := d.getPayoutWhere(ctx, "payout_id", id, "ID")
	if err != nil {
		return nil, err
	}
	return p.StatusHistory, nil
}

// SoftDeletePayout marks a payout deleted. Its history is kept.
func (d Datasource) SoftDeletePayout(ctx context.Context, id string, at time.Time) error {
	ctx, span := otel.Tracer(payoutTracer).Start(ctx, "SoftDeletePayout")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE payouts.payouts
		SET deleted_at = $2, updated_at = $2
		WHERE payout_id = $1 AND deleted_at IS NULL
	`, id, at)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to delete payout", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Payout with ID '%s' not found", id), nil)
	}
	return nil
}
