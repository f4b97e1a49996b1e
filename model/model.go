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
	"strings"

	"github.com/google/uuid"
)

// GenerateUUIDWithSuffix generates a UUID with a given module name as a prefix,
// e.g. "pay_6f1c...". Payout, lease and customer transaction ids all use it.
func GenerateUUIDWithSuffix(module string) string {
	id := uuid.New()
	return fmt.Sprintf("%s_%s", module, id.String())
}

// NormalizeCurrency upper-cases and trims an ISO currency code.
func NormalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}

// PayoutFilter narrows ListPayouts. Zero values mean "no filter".
type PayoutFilter struct {
	CreatorID string `json:"creator_id"`
	Status    Status `json:"status"`
	Currency  string `json:"currency"`
	Page      int    `json:"page"`
	Limit     int    `json:"limit"`
	// Ascending orders by created_at oldest first; the default is newest first.
	Ascending bool `json:"-"`
}

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
	// MaxPage keeps (page-1)*limit far from int overflow on any platform.
	MaxPage = 1_000_000
)

// Normalize clamps paging to sane bounds and canonicalises the currency filter.
func (f *PayoutFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Page > MaxPage {
		f.Page = MaxPage
	}
	if f.Limit <= 0 {
		f.Limit = DefaultPageLimit
	}
	if f.Limit > MaxPageLimit {
		f.Limit = MaxPageLimit
	}
	f.Currency = NormalizeCurrency(f.Currency)
}

// Offset is the number of rows before the requested page. Page and limit are
// bounded here as well so an unnormalized filter never yields a negative
// offset.
func (f PayoutFilter) Offset() int {
	page, limit := f.Page, f.Limit
	if page < 1 || limit < 1 {
		return 0
	}
	if page > MaxPage {
		page = MaxPage
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	return (page - 1) * limit
}
