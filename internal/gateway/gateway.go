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

// Package gateway talks to the cross-border transfer rail.
package gateway

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/jerry-enebeli/payouts/model"
)

// Client submits a single transfer to the rail.
type Client interface {
	Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
}

// TransferRequest is keyed by CustomerTransactionID; the rail uses it to
// deduplicate resubmissions of the same payout.
type TransferRequest struct {
	CustomerTransactionID string          `json:"customer_transaction_id"`
	PayoutID              string          `json:"payout_id"`
	Reference             string          `json:"reference"`
	Amount                decimal.Decimal `json:"amount"`
	Currency              string          `json:"currency"`
	Recipient             model.Recipient `json:"recipient"`
	Narration             string          `json:"narration,omitempty"`
}

// NewTransferRequest builds the request for a claimed payout.
func NewTransferRequest(p *model.Payout) TransferRequest {
	req := TransferRequest{
		PayoutID:  p.PayoutID,
		Reference: p.Reference,
		Amount:    p.Amount,
		Currency:  p.Currency,
		Recipient: p.Recipient,
	}
	if p.CustomerTransactionID != nil {
		req.CustomerTransactionID = *p.CustomerTransactionID
	}
	if narration, ok := p.MetaData["narration"].(string); ok {
		req.Narration = narration
	}
	return req
}

type TransferResult struct {
	ProviderTransferID string              `json:"transfer_id"`
	Status             string              `json:"status"`
	Fee                decimal.NullDecimal `json:"fee"`
	ExchangeRate       decimal.NullDecimal `json:"exchange_rate"`
	SourceAmount       decimal.NullDecimal `json:"source_amount"`
	SourceCurrency     string              `json:"source_currency,omitempty"`
}
