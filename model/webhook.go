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
)

// ProviderWebhook is a status delivery from the transfer rail.
type ProviderWebhook struct {
	ProviderTransferID string `json:"provider_transfer_id"`
	Status             string `json:"status"`
	ErrorCode          string `json:"error_code,omitempty"`
	ErrorMessage       string `json:"error_message,omitempty"`
}

// DeliveryKey identifies a delivery independently of when it arrived: the
// same transfer reported in the same ledger status yields the same key.
func (h ProviderWebhook) DeliveryKey() string {
	status, _ := NormalizeProviderStatus(h.Status)
	return h.ProviderTransferID + ":" + string(status)
}

type WebhookOutcome string

const (
	WebhookApplied   WebhookOutcome = "applied"
	WebhookDuplicate WebhookOutcome = "duplicate"
	WebhookRejected  WebhookOutcome = "rejected"
)

// ProviderWebhookEvent is the log row kept for every delivery.
type ProviderWebhookEvent struct {
	EventID            string         `json:"event_id"`
	ProviderTransferID string         `json:"provider_transfer_id"`
	PayoutID           string         `json:"payout_id,omitempty"`
	DeliveredStatus    string         `json:"delivered_status"`
	Outcome            WebhookOutcome `json:"outcome"`
	Reason             string         `json:"reason,omitempty"`
	ErrorCode          string         `json:"error_code,omitempty"`
	ErrorMessage       string         `json:"error_message,omitempty"`
	ReceivedAt         time.Time      `json:"received_at"`
}

var providerStatuses = map[string]Status{
	"PENDING":     StatusPending,
	"QUEUED":      StatusPending,
	"PROCESSING":  StatusProcessing,
	"IN_PROGRESS": StatusProcessing,
	"SUCCESSFUL":  StatusCompleted,
	"SUCCESS":     StatusCompleted,
	"COMPLETED":   StatusCompleted,
	"FAILED":      StatusFailed,
	"DECLINED":    StatusFailed,
	"CANCELLED":   StatusCancelled,
	"REVERSED":    StatusRefunded,
	"REFUNDED":    StatusRefunded,
}

// NormalizeProviderStatus maps the rail's vocabulary (or our own status
// names) onto a ledger status.
func NormalizeProviderStatus(raw string) (Status, bool) {
	key := strings.ToUpper(strings.TrimSpace(raw))
	if s, ok := providerStatuses[key]; ok {
		return s, true
	}
	s := Status(strings.ToLower(key))
	return s, s.Valid()
}
