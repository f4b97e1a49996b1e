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

package model

import (
	"fmt"
	"time"

	"github.com/jerry-enebeli/payouts/internal/apierror"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled, StatusRefunded}

func (s Status) Valid() bool {
	for _, status := range Statuses {
		if s == status {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s ends normal flow. completed is terminal for
// workers and webhooks alike; only an admin refund moves it on.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// ChangeSource names the actor behind a status change.
type ChangeSource string

const (
	SourceCreated     ChangeSource = "created"
	SourceWorker      ChangeSource = "worker"
	SourceWebhook     ChangeSource = "webhook"
	SourceAdmin       ChangeSource = "admin"
	SourceLeaseReaper ChangeSource = "lease_reaper"
)

const (
	ErrorCodeLeaseExpired           = "LEASE_EXPIRED"
	ErrorCodeLeaseAttemptsExhausted = "LEASE_ATTEMPTS_EXHAUSTED"
	ErrorCodeRetriesExhausted       = "GATEWAY_RETRIES_EXHAUSTED"
)

// transitions is the allowed transition graph.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusCompleted:  {StatusRefunded},
}

// CanTransition reports whether from -> to is allowed for the given actor.
// processing -> pending is reserved for the lease reaper returning an
// abandoned claim to the queue; no caller-facing path may request it.
func CanTransition(from, to Status, source ChangeSource) bool {
	if from == StatusProcessing && to == StatusPending {
		return source == SourceLeaseReaper
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StatusChange is one immutable entry of a payout's audit trail.
// FromStatus is empty for the creation entry.
type StatusChange struct {
	Sequence     int64        `json:"sequence"`
	Status       Status       `json:"status"`
	FromStatus   Status       `json:"from_status,omitempty"`
	Timestamp    time.Time    `json:"timestamp"`
	ErrorCode    string       `json:"error_code,omitempty"`
	ErrorMessage string       `json:"error_message,omitempty"`
	Source       ChangeSource `json:"source"`
}

// TransitionInput carries everything a transition may derive fields from.
type TransitionInput struct {
	To           Status
	Source       ChangeSource
	At           time.Time
	ErrorCode    string
	ErrorMessage string

	// Only meaningful when entering processing.
	Lease                 *Lease
	CustomerTransactionID string

	// Only meaningful when entering completed.
	ProviderTransferID string
	ProviderFee        decimal.NullDecimal
	ExchangeRate       decimal.NullDecimal
	SourceAmount       decimal.NullDecimal
	SourceCurrency     string
}

func invalidTransition(p *Payout, to Status) error {
	return apierror.NewAPIError(apierror.ErrInvalidTransition,
		fmt.Sprintf("payout %s cannot move from %s to %s", p.PayoutID, p.Status, to),
		map[string]string{"payout_id": p.PayoutID, "from": string(p.Status), "to": string(to)})
}

// ApplyTransition moves p to in.To and derives every dependent field. It is
// the only place that writes Status, the completion/failure timestamps, the
// error fields, the lease and StatusHistory. On error p is left untouched.
func ApplyTransition(p *Payout, in TransitionInput) (StatusChange, error) {
	if !in.To.Valid() {
		return StatusChange{}, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("unknown status %q", in.To), nil)
	}
	if !CanTransition(p.Status, in.To, in.Source) {
		return StatusChange{}, invalidTransition(p, in.To)
	}
	if in.To == StatusProcessing && in.Lease == nil {
		return StatusChange{}, apierror.NewAPIError(apierror.ErrInvalidInput, "entering processing requires a lease", nil)
	}

	at := in.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	change := StatusChange{
		Sequence:   int64(len(p.StatusHistory) + 1),
		Status:     in.To,
		FromStatus: p.Status,
		Timestamp:  at,
		Source:     in.Source,
	}

	p.Status = in.To
	p.UpdatedAt = at
	p.ErrorCode, p.ErrorMessage = "", ""
	p.Lease = nil

	switch in.To {
	case StatusProcessing:
		p.Attempts++
		lease := *in.Lease
		lease.Attempt = p.Attempts
		p.Lease = &lease
		if p.CustomerTransactionID == nil && in.CustomerTransactionID != "" {
			id := in.CustomerTransactionID
			p.CustomerTransactionID = &id
		}
	case StatusCompleted:
		if p.CompletedAt == nil {
			completedAt := at
			p.CompletedAt = &completedAt
		}
		if in.ProviderTransferID != "" && p.ProviderTransferID == nil {
			id := in.ProviderTransferID
			p.ProviderTransferID = &id
		}
		if in.ProviderFee.Valid {
			p.ProviderFee = in.ProviderFee
		}
		if in.ExchangeRate.Valid {
			p.ExchangeRate = in.ExchangeRate
		}
		if in.SourceAmount.Valid {
			p.SourceAmount = in.SourceAmount
			p.SourceCurrency = NormalizeCurrency(in.SourceCurrency)
		}
	case StatusFailed:
		if p.FailedAt == nil {
			failedAt := at
			p.FailedAt = &failedAt
		}
		p.ErrorCode, p.ErrorMessage = in.ErrorCode, in.ErrorMessage
		change.ErrorCode, change.ErrorMessage = in.ErrorCode, in.ErrorMessage
	case StatusPending:
		// lease reclaim: the reason lives in the history, not on the record
		change.ErrorCode, change.ErrorMessage = in.ErrorCode, in.ErrorMessage
	}

	p.StatusHistory = append(p.StatusHistory, change)
	return change, nil
}

// InitialStatusChange is the creation entry every payout's history starts with.
func InitialStatusChange(at time.Time) StatusChange {
	return StatusChange{Sequence: 1, Status: StatusPending, Timestamp: at, Source: SourceCreated}
}
