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
	"errors"
	"fmt"

	"github.com/jerry-enebeli/payouts/model"
)

// PermanentError is a rejection the rail will repeat on every retry, such
// as a 4xx response or a synchronous FAILED status.
type PermanentError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("gateway rejected transfer (%d %s): %s", e.StatusCode, e.Code, e.Message)
}

// ExhaustedError is returned once the retry policy gives up on transient
// failures.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gateway retries exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// FailureDetails turns a terminal gateway error into the error code and
// message recorded on a failed payout. ok is false for errors that should
// not fail the payout, such as a cancelled context.
func FailureDetails(err error) (code, message string, ok bool) {
	var permanent *PermanentError
	if errors.As(err, &permanent) {
		code = permanent.Code
		if code == "" {
			code = fmt.Sprintf("GATEWAY_HTTP_%d", permanent.StatusCode)
		}
		return code, permanent.Message, true
	}
	var exhausted *ExhaustedError
	if errors.As(err, &exhausted) {
		return model.ErrorCodeRetriesExhausted, exhausted.Error(), true
	}
	return "", "", false
}
