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
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"
	"github.com/wacul/ptr"

	"github.com/jerry-enebeli/payouts/model"
)

type RecipientRequest struct {
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
	BankCode      string `json:"bank_code"`
	BankName      string `json:"bank_name"`
}

type CreatePayout struct {
	Reference      string                 `json:"reference"`
	CreatorID      string                 `json:"creator_id"`
	Amount         decimal.Decimal        `json:"amount"`
	Currency       string                 `json:"currency"`
	SourceAmount   *decimal.Decimal       `json:"source_amount,omitempty"`
	SourceCurrency string                 `json:"source_currency,omitempty"`
	Recipient      RecipientRequest       `json:"recipient"`
	MetaData       map[string]interface{} `json:"meta_data,omitempty"`
}

// ValidateCreatePayout only checks the request shape. Amount and currency
// rules live on model.Payout so every entry point shares them.
func (p *CreatePayout) ValidateCreatePayout() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.Reference, validation.Required),
		validation.Field(&p.CreatorID, validation.Required),
		validation.Field(&p.Currency, validation.Required),
		validation.Field(&p.SourceCurrency, validation.When(p.SourceAmount != nil, validation.Required)),
	)
}

func (p *CreatePayout) ToPayout() *model.Payout {
	payout := &model.Payout{
		Reference:      strings.TrimSpace(p.Reference),
		CreatorID:      strings.TrimSpace(p.CreatorID),
		Amount:         p.Amount,
		Currency:       p.Currency,
		SourceCurrency: p.SourceCurrency,
		Recipient: model.Recipient{
			AccountNumber: p.Recipient.AccountNumber,
			AccountName:   p.Recipient.AccountName,
			BankCode:      p.Recipient.BankCode,
			BankName:      p.Recipient.BankName,
		},
		MetaData: p.MetaData,
	}
	if p.SourceAmount != nil {
		payout.SourceAmount = decimal.NewNullDecimal(*p.SourceAmount)
	}
	return payout
}

type ProviderWebhook struct {
	ProviderTransferID string `json:"provider_transfer_id"`
	Status             string `json:"status"`
	ErrorCode          string `json:"error_code,omitempty"`
	ErrorMessage       string `json:"error_message,omitempty"`
}

func (w *ProviderWebhook) ValidateProviderWebhook() error {
	return validation.ValidateStruct(w,
		validation.Field(&w.ProviderTransferID, validation.Required),
		validation.Field(&w.Status, validation.Required),
	)
}

func (w *ProviderWebhook) ToProviderWebhook() model.ProviderWebhook {
	return model.ProviderWebhook{
		ProviderTransferID: strings.TrimSpace(w.ProviderTransferID),
		Status:             w.Status,
		ErrorCode:          w.ErrorCode,
		ErrorMessage:       w.ErrorMessage,
	}
}

// WebhookAccepted is returned when a delivery was queued rather than applied.
type WebhookAccepted struct {
	EventID string `json:"event_id"`
	Queued  bool   `json:"queued"`
}

type DeletedPayout struct {
	ID        string     `json:"id"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

func NewDeletedPayout(id string, at time.Time) DeletedPayout {
	return DeletedPayout{ID: id, DeletedAt: ptr.Time(at.UTC())}
}

type PayoutList struct {
	Data  []*model.Payout `json:"data"`
	Page  int             `json:"page"`
	Limit int             `json:"limit"`
}
