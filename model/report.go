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

// PendingCurrencySummary aggregates pending payouts for one currency.
type PendingCurrencySummary struct {
	Currency    string          `json:"currency"`
	Count       int64           `json:"count"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	OldestAt    time.Time       `json:"oldest_created_at"`
	NewestAt    time.Time       `json:"newest_created_at"`
}

type CreatorCurrencyStats struct {
	Currency        string           `json:"currency"`
	CountsByStatus  map[Status]int64 `json:"counts_by_status"`
	TotalCompleted  decimal.Decimal  `json:"total_completed_amount"`
	LastCompletedAt *time.Time       `json:"last_completed_at,omitempty"`
}

type CreatorStats struct {
	CreatorID  string                 `json:"creator_id"`
	Currencies []CreatorCurrencyStats `json:"currencies"`
}
