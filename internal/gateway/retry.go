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
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/jerry-enebeli/payouts/config"
)

// RetryPolicy bounds how long a single payout may spend retrying the rail.
type RetryPolicy struct {
	AttemptTimeout  time.Duration
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

func PolicyFromConfig(cfg config.GatewayConfig) RetryPolicy {
	return RetryPolicy{
		AttemptTimeout:  time.Duration(cfg.TimeoutSeconds) * time.Second,
		MaxRetries:      uint64(cfg.MaxRetries),
		InitialInterval: time.Duration(cfg.InitialBackoffMs) * time.Millisecond,
		MaxInterval:     time.Duration(cfg.MaxBackoffSeconds) * time.Second,
		MaxElapsedTime:  time.Duration(cfg.MaxElapsedSeconds) * time.Second,
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialInterval
	exp.MaxInterval = p.MaxInterval
	exp.MaxElapsedTime = p.MaxElapsedTime
	return backoff.WithContext(backoff.WithMaxRetries(exp, p.MaxRetries), ctx)
}

// RetryingClient retries transient failures of next with capped
// exponential backoff. Every attempt gets its own timeout.
type RetryingClient struct {
	next   Client
	policy RetryPolicy
}

func NewRetryingClient(next Client, policy RetryPolicy) *RetryingClient {
	return &RetryingClient{next: next, policy: policy}
}

// NewClient wires the HTTP client behind the configured retry policy.
func NewClient(cfg config.GatewayConfig) *RetryingClient {
	return NewRetryingClient(NewHTTPClient(cfg.BaseURL, cfg.APIKey, &http.Client{}), PolicyFromConfig(cfg))
}

// Transfer returns the first successful result. It returns a
// *PermanentError as soon as the rail rejects the transfer, an
// *ExhaustedError once the policy gives up, and the context's error if ctx
// ends first.
func (c *RetryingClient) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	attempts := 0
	var last error

	operation := func() (*TransferResult, error) {
		attempts++
		attemptCtx := ctx
		if c.policy.AttemptTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, c.policy.AttemptTimeout)
			defer cancel()
		}

		result, err := c.next.Transfer(attemptCtx, req)
		if err == nil {
			return result, nil
		}
		last = err

		var permanent *PermanentError
		if errors.As(err, &permanent) {
			return nil, backoff.Permanent(err)
		}
		logrus.WithFields(logrus.Fields{
			"payout_id": req.PayoutID,
			"attempt":   attempts,
		}).WithError(err).Warn("gateway transfer attempt failed")
		return nil, err
	}

	result, err := backoff.RetryWithData(operation, c.policy.backOff(ctx))
	if err == nil {
		return result, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	var permanent *PermanentError
	if errors.As(err, &permanent) {
		return nil, err
	}
	return nil, &ExhaustedError{Attempts: attempts, Last: last}
}
