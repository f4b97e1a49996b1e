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

import "github.com/shopspring/decimal"

type OutcomeKind string

const (
	OutcomeCompleted OutcomeKind = "completed"
	OutcomeFailed    OutcomeKind = "failed"
)

// OutcomeReport is what a worker sends back after calling the gateway.
// LeaseToken must match the payout's current lease.
type OutcomeReport struct {
	PayoutID           string              `json:"payout_id"`
	LeaseToken         string              `json:"lease_token"`
	Outcome            OutcomeKind         `json:"outcome"`
	ProviderTransferID string              `json:"provider_transfer_id,omitempty"`
	ProviderFee        decimal.NullDecimal `json:"provider_fee"`
	ExchangeRate       decimal.NullDecimal `json:"exchange_rate"`
	SourceAmount       decimal.NullDecimal `json:"source_amount"`
	SourceCurrency     string              `json:"source_currency,omitempty"`
	ErrorCode          string              `json:"error_code,omitempty"`
	ErrorMessage       string              `json:"error_message,omitempty"`
}

func (o OutcomeReport) TargetStatus() (Status, bool) {
	switch o.Outcome {
	case OutcomeCompleted:
		return StatusCompleted, true
	case OutcomeFailed:
		return StatusFailed, true
	}
	return "", false
}

// TransitionInput converts the report into state machine input.
func (o OutcomeReport) TransitionInput(source ChangeSource) TransitionInput {
	to, _ := o.TargetStatus()
	return TransitionInput{
		To:                 to,
		Source:             source,
		ErrorCode:          o.ErrorCode,
		ErrorMessage:       o.ErrorMessage,
		ProviderTransferID: o.ProviderTransferID,
		ProviderFee:        o.ProviderFee,
		ExchangeRate:       o.ExchangeRate,
		SourceAmount:       o.SourceAmount,
		SourceCurrency:     o.SourceCurrency,
	}
}
