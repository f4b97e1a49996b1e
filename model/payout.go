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
	"time"

	"github.com/shopspring/decimal"
)

type Payout struct {
	ID                    int64                  `json:"-"`
	PayoutID              string                 `json:"id"`
	Reference             string                 `json:"reference"`
	CreatorID             string                 `json:"creator_id"`
	ProviderTransferID    *string                `json:"provider_transfer_id,omitempty"`
	CustomerTransactionID *string                `json:"customer_transaction_id,omitempty"`
	Amount                decimal.Decimal        `json:"amount"`
	Currency              string                 `json:"currency"`
	SourceAmount          decimal.NullDecimal    `json:"source_amount"`
	SourceCurrency        string                 `json:"source_currency,omitempty"`
	ExchangeRate          decimal.NullDecimal    `json:"exchange_rate"`
	ProviderFee           decimal.NullDecimal    `json:"provider_fee"`
	Recipient             Recipient              `json:"recipient"`
	Status                Status                 `json:"status"`
	StatusHistory         []StatusChange         `json:"status_history"`
	ErrorCode             string                 `json:"error_code,omitempty"`
	ErrorMessage          string                 `json:"error_message,omitempty"`
	Attempts              int                    `json:"attempts"`
	Lease                 *Lease                 `json:"lease,omitempty"`
	Lifecycle             Lifecycle              `json:"lifecycle"`
	CreatedAt             time.Time              `json:"created_at"`
	UpdatedAt             time.Time              `json:"updated_at"`
	CompletedAt           *time.Time             `json:"completed_at,omitempty"`
	FailedAt              *time.Time             `json:"failed_at,omitempty"`
	MetaData              map[string]interface{} `json:"meta_data,omitempty"`
}

// Recipient holds the destination bank details. The fields are opaque to
// the ledger; the rail validates them.
type Recipient struct {
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
	BankCode      string `json:"bank_code"`
	BankName      string `json:"bank_name"`
}

// Lease is a worker's time-bounded claim on a processing payout.
type Lease struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Attempt   int       `json:"attempt"`
}

func (l *Lease) Expired(now time.Time) bool {
	return l == nil || !now.Before(l.ExpiresAt)
}

// NewLease returns a fresh lease token valid for d from now.
func NewLease(now time.Time, d time.Duration) *Lease {
	return &Lease{Token: GenerateUUIDWithSuffix("lease"), ExpiresAt: now.Add(d)}
}

type LifecycleState string

const (
	LifecycleActive  LifecycleState = "active"
	LifecycleDeleted LifecycleState = "deleted"
)

// Lifecycle tags a payout as active or soft-deleted. At is only set for
// deleted payouts.
type Lifecycle struct {
	State LifecycleState `json:"state"`
	At    *time.Time     `json:"at,omitempty"`
}

func Active() Lifecycle {
	return Lifecycle{State: LifecycleActive}
}

func Deleted(at time.Time) Lifecycle {
	at = at.UTC()
	return Lifecycle{State: LifecycleDeleted, At: &at}
}

func (l Lifecycle) IsDeleted() bool {
	return l.State == LifecycleDeleted
}

// NewPayout builds a pending payout with its creation history entry. Identity
// is assigned here; persistence is the caller's concern.
func NewPayout(p Payout, now time.Time) *Payout {
	now = now.UTC()
	p.PayoutID = GenerateUUIDWithSuffix("pay")
	p.Currency = NormalizeCurrency(p.Currency)
	p.Status = StatusPending
	p.StatusHistory = []StatusChange{InitialStatusChange(now)}
	p.Lifecycle = Active()
	p.CreatedAt = now
	p.UpdatedAt = now
	p.CompletedAt, p.FailedAt, p.Lease = nil, nil, nil
	p.ErrorCode, p.ErrorMessage = "", ""
	p.Attempts = 0
	p.ProviderTransferID = nil
	p.CustomerTransactionID = nil
	return &p
}

// Clone returns a deep copy so callers can't mutate shared state.
func (p *Payout) Clone() *Payout {
	if p == nil {
		return nil
	}
	c := *p
	c.StatusHistory = append([]StatusChange(nil), p.StatusHistory...)
	if p.ProviderTransferID != nil {
		v := *p.ProviderTransferID
		c.ProviderTransferID = &v
	}
	if p.CustomerTransactionID != nil {
		v := *p.CustomerTransactionID
		c.CustomerTransactionID = &v
	}
	if p.Lease != nil {
		l := *p.Lease
		c.Lease = &l
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		c.CompletedAt = &t
	}
	if p.FailedAt != nil {
		t := *p.FailedAt
		c.FailedAt = &t
	}
	if p.Lifecycle.At != nil {
		t := *p.Lifecycle.At
		c.Lifecycle.At = &t
	}
	if p.MetaData != nil {
		c.MetaData = make(map[string]interface{}, len(p.MetaData))
		for k, v := range p.MetaData {
			c.MetaData[k] = v
		}
	}
	return &c
}
