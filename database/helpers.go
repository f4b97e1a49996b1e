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

	"github.com/lib/pq"

	"github.com/jerry-enebeli/payouts/internal/apierror"
	"github.com/jerry-enebeli/payouts/model"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

const payoutColumns = `payout_id, reference, creator_id, provider_transfer_id, customer_transaction_id,
	amount, currency, source_amount, source_currency, exchange_rate, provider_fee, recipient,
	status, error_code, error_message, attempts, lease_token, lease_expires_at,
	created_at, updated_at, completed_at, failed_at, deleted_at, meta_data`

const uniqueViolation = "23505"

// uniqueConstraint returns the violated index name when err is a Postgres
// unique violation.
func uniqueConstraint(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
		return pqErr.Constraint, true
	}
	return "", false
}

// conflictError maps unique violations onto CONFLICT and everything else
// onto an internal error.
func conflictError(err error, message string) error {
	constraint, ok := uniqueConstraint(err)
	if !ok {
		return apierror.NewAPIError(apierror.ErrInternalServer, message, err)
	}
	switch {
	case strings.Contains(constraint, "reference"):
		return apierror.NewAPIError(apierror.ErrConflict, "an active payout with this reference already exists", err)
	case strings.Contains(constraint, "provider_transfer_id"):
		return apierror.NewAPIError(apierror.ErrConflict, "provider transfer id is already assigned to another payout", err)
	case strings.Contains(constraint, "customer_transaction_id"):
		return apierror.NewAPIError(apierror.ErrConflict, "customer transaction id is already assigned to another payout", err)
	}
	return apierror.NewAPIError(apierror.ErrConflict, "payout conflicts with an existing record", err)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return nullString(*s)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func marshalMetaData(meta map[string]interface{}) ([]byte, error) {
	if meta == nil {
		return nil, nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}
	return data, nil
}

func scanPayout(row rowScanner) (*model.Payout, error) {
	p := &model.Payout{}
	var (
		providerTransferID, customerTransactionID      sql.NullString
		sourceCurrency, errorCode, errorMessage        sql.NullString
		leaseToken                                     sql.NullString
		leaseExpiresAt, completedAt, failedAt, deleted sql.NullTime
		recipientJSON, metaDataJSON                    []byte
	)

	err := row.Scan(
		&p.PayoutID, &p.Reference, &p.CreatorID, &providerTransferID, &customerTransactionID,
		&p.Amount, &p.Currency, &p.SourceAmount, &sourceCurrency, &p.ExchangeRate, &p.ProviderFee, &recipientJSON,
		&p.Status, &errorCode, &errorMessage, &p.Attempts, &leaseToken, &leaseExpiresAt,
		&p.CreatedAt, &p.UpdatedAt, &completedAt, &failedAt, &deleted, &metaDataJSON,
	)
	if err != nil {
		return nil, err
	}

	p.ProviderTransferID = stringPtr(providerTransferID)
	p.CustomerTransactionID = stringPtr(customerTransactionID)
	p.SourceCurrency = sourceCurrency.String
	p.ErrorCode = errorCode.String
	p.ErrorMessage = errorMessage.String
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	p.CompletedAt = timePtr(completedAt)
	p.FailedAt = timePtr(failedAt)

	if leaseToken.Valid {
		p.Lease = &model.Lease{Token: leaseToken.String, ExpiresAt: leaseExpiresAt.Time.UTC(), Attempt: p.Attempts}
	}

	p.Lifecycle = model.Active()
	if deleted.Valid {
		p.Lifecycle = model.Deleted(deleted.Time)
	}

	if err := json.Unmarshal(recipientJSON, &p.Recipient); err != nil {
		return nil, fmt.Errorf("failed to unmarshal recipient: %w", err)
	}
	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &p.MetaData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return p, nil
}

func queryPayouts(ctx context.Context, q querier, query string, args ...interface{}) ([]*model.Payout, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to query payouts", err)
	}
	defer func() { _ = rows.Close() }()

	var payouts []*model.Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan payout", err)
		}
		payouts = append(payouts, p)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating over payouts", err)
	}
	return payouts, nil
}

// attachHistory loads the history of every payout in one round trip.
func attachHistory(ctx context.Context, q querier, payouts []*model.Payout) error {
	if len(payouts) == 0 {
		return nil
	}
	ids := make([]string, len(payouts))
	byID := make(map[string]*model.Payout, len(payouts))
	for i, p := range payouts {
		ids[i] = p.PayoutID
		byID[p.PayoutID] = p
		p.StatusHistory = nil
	}

	rows, err := q.QueryContext(ctx, `
		SELECT payout_id, sequence, from_status, status, error_code, error_message, source, created_at
		FROM payouts.payout_status_history
		WHERE payout_id = ANY($1)
		ORDER BY payout_id, sequence ASC
	`, pq.Array(ids))
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to load status history", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			payoutID                            string
			change                              model.StatusChange
			fromStatus, errorCode, errorMessage sql.NullString
		)
		if err := rows.Scan(&payoutID, &change.Sequence, &fromStatus, &change.Status, &errorCode, &errorMessage, &change.Source, &change.Timestamp); err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan status history", err)
		}
		change.FromStatus = model.Status(fromStatus.String)
		change.ErrorCode = errorCode.String
		change.ErrorMessage = errorMessage.String
		change.Timestamp = change.Timestamp.UTC()
		if p, ok := byID[payoutID]; ok {
			p.StatusHistory = append(p.StatusHistory, change)
		}
	}
	if err := rows.Err(); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating over status history", err)
	}
	return nil
}

func insertHistory(ctx context.Context, q querier, payoutID string, change model.StatusChange) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO payouts.payout_status_history (payout_id, sequence, from_status, status, error_code, error_message, source, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, payoutID, change.Sequence, nullString(string(change.FromStatus)), change.Status, nullString(change.ErrorCode), nullString(change.ErrorMessage), change.Source, change.Timestamp)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record status change", err)
	}
	return nil
}

// updatePayoutState writes back every field a transition may derive.
func updatePayoutState(ctx context.Context, q querier, p *model.Payout) error {
	var leaseToken sql.NullString
	var leaseExpiresAt sql.NullTime
	if p.Lease != nil {
		leaseToken = nullString(p.Lease.Token)
		leaseExpiresAt = sql.NullTime{Time: p.Lease.ExpiresAt, Valid: true}
	}

	result, err := q.ExecContext(ctx, `
		UPDATE payouts.payouts
		SET status = $2, provider_transfer_id = $3, customer_transaction_id = $4,
			source_amount = $5, source_currency = $6, exchange_rate = $7, provider_fee = $8,
			error_code = $9, error_message = $10, attempts = $11, lease_token = $12, lease_expires_at = $13,
			updated_at = $14, completed_at = $15, failed_at = $16
		WHERE payout_id = $1
	`, p.PayoutID, p.Status, nullStringPtr(p.ProviderTransferID), nullStringPtr(p.CustomerTransactionID),
		p.SourceAmount, nullString(p.SourceCurrency), p.ExchangeRate, p.ProviderFee,
		nullString(p.ErrorCode), nullString(p.ErrorMessage), p.Attempts, leaseToken, leaseExpiresAt,
		p.UpdatedAt, nullTime(p.CompletedAt), nullTime(p.FailedAt))
	if err != nil {
		return conflictError(err, "Failed to update payout")
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Payout with ID '%s' not found", p.PayoutID), nil)
	}
	return nil
}

// applyAndPersist runs fn against a locked payout and writes the result in
// the caller's transaction.
func applyAndPersist(ctx context.Context, tx *sql.Tx, p *model.Payout, fn TransitionFunc) (*model.StatusChange, error) {
	change, err := fn(p)
	if err != nil || change == nil {
		return change, err
	}
	if err := updatePayoutState(ctx, tx, p); err != nil {
		return nil, err
	}
	if err := insertHistory(ctx, tx, p.PayoutID, *change); err != nil {
		return nil, err
	}
	return change, nil
}
