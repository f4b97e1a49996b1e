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
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/jerry-enebeli/payouts/internal/apierror"
	"github.com/shopspring/decimal"
)

// DefaultCurrencies is the allowed set used when none is configured.
var DefaultCurrencies = []string{"NGN", "GHS", "KES", "ZAR", "USD", "GBP", "EUR"}

const (
	maxReferenceLength = 128
	maxRecipientField  = 255

	// AmountScale is the number of decimal places the amount columns keep.
	AmountScale = 4
)

// MaxAmount is the exclusive upper bound of a storable amount
// (NUMERIC(24,4) leaves twenty integer digits).
var MaxAmount = decimal.New(1, 20)

func positiveAmount(value interface{}) error {
	amount, ok := value.(decimal.Decimal)
	if !ok {
		return errors.New("must be a decimal amount")
	}
	if !amount.IsPositive() {
		return errors.New("must be greater than zero")
	}
	if !amount.Equal(amount.Truncate(AmountScale)) {
		return fmt.Errorf("must have at most %d decimal places", AmountScale)
	}
	if amount.GreaterThanOrEqual(MaxAmount) {
		return fmt.Errorf("must be less than %s", MaxAmount.String())
	}
	return nil
}

func positiveNullAmount(value interface{}) error {
	amount, ok := value.(decimal.NullDecimal)
	if !ok {
		return errors.New("must be a decimal amount")
	}
	if !amount.Valid {
		return nil
	}
	return positiveAmount(amount.Decimal)
}

func allowedCurrency(allowed []string) validation.RuleFunc {
	return func(value interface{}) error {
		currency, _ := value.(string)
		currency = NormalizeCurrency(currency)
		for _, c := range allowed {
			if NormalizeCurrency(c) == currency {
				return nil
			}
		}
		return fmt.Errorf("%s is not a supported payout currency", currency)
	}
}

func (r Recipient) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.AccountNumber, validation.Required, validation.Length(1, maxRecipientField)),
		validation.Field(&r.AccountName, validation.Required, validation.Length(1, maxRecipientField)),
		validation.Field(&r.BankCode, validation.Required, validation.Length(1, maxRecipientField)),
		validation.Field(&r.BankName, validation.Length(0, maxRecipientField)),
	)
}

// Validate checks a payout request before anything is persisted. A nil or
// empty allowed list falls back to DefaultCurrencies.
func (p *Payout) Validate(allowedCurrencies []string) error {
	if len(allowedCurrencies) == 0 {
		allowedCurrencies = DefaultCurrencies
	}
	err := validation.ValidateStruct(p,
		validation.Field(&p.Reference, validation.Required, validation.Length(1, maxReferenceLength)),
		validation.Field(&p.CreatorID, validation.Required),
		validation.Field(&p.Amount, validation.By(positiveAmount)),
		validation.Field(&p.Currency, validation.Required, validation.By(allowedCurrency(allowedCurrencies))),
		validation.Field(&p.Recipient),
		validation.Field(&p.SourceAmount, validation.By(positiveNullAmount)),
		validation.Field(&p.SourceCurrency, validation.When(p.SourceAmount.Valid, validation.Required)),
	)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "invalid payout request", err)
	}
	return nil
}
