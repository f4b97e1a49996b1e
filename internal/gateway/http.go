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

package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/jerry-enebeli/payouts/internal/request"
)

const statusFailed = "FAILED"

// HTTPClient is the rail's REST API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPClient(baseURL, apiKey string, client *http.Client) *HTTPClient {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPClient{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, client: client}
}

type transferResponse struct {
	TransferResult
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

// Transfer posts the transfer. 5xx, 408 and 429 responses and transport
// failures are returned as plain errors so the caller may retry; any other
// non-2xx response and a synchronous FAILED status are *PermanentError.
func (c *HTTPClient) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	payload, err := request.ToJsonReq(req)
	if err != nil {
		return nil, errors.Wrap(err, "encoding transfer request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transfers", payload)
	if err != nil {
		return nil, errors.Wrap(err, "building transfer request")
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Idempotency-Key", req.CustomerTransactionID)

	var body transferResponse
	start := time.Now()
	resp, err := request.CallWithClient(c.client, httpReq, &body)
	if resp == nil {
		return nil, errors.Wrapf(err, "calling gateway for %s", req.PayoutID)
	}
	defer func() { _ = resp.Body.Close() }()
	if err != nil && resp.StatusCode < 300 {
		return nil, errors.Wrap(err, "decoding transfer response")
	}

	logrus.WithFields(logrus.Fields{
		"payout_id":   req.PayoutID,
		"status_code": resp.StatusCode,
		"duration":    time.Since(start).String(),
	}).Debug("gateway transfer call")

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if strings.EqualFold(body.Status, statusFailed) {
			return nil, &PermanentError{StatusCode: resp.StatusCode, Code: body.ErrorCode, Message: body.Message}
		}
		if body.ProviderTransferID == "" {
			return nil, errors.New("gateway response is missing a transfer id")
		}
		result := body.TransferResult
		return &result, nil
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("gateway returned %d: %s", resp.StatusCode, body.Message)
	default:
		return nil, &PermanentError{StatusCode: resp.StatusCode, Code: body.ErrorCode, Message: body.Message}
	}
}

// String keeps the API key out of logs.
func (c *HTTPClient) String() string {
	return fmt.Sprintf("gateway(%s)", c.baseURL)
}
