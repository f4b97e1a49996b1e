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

package payouts

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/jerry-enebeli/payouts/config"
	"github.com/jerry-enebeli/payouts/internal/request"
	"github.com/jerry-enebeli/payouts/model"
)

// NewWebhook is the body posted to the operator webhook.
type NewWebhook struct {
	Event   string        `json:"event"`
	Payload *model.Payout `json:"data"`
}

func getEventFromStatus(status model.Status) string {
	if !status.Valid() {
		return "payout.unknown"
	}
	return "payout." + string(status)
}

var webhookClient = &http.Client{Timeout: 30 * time.Second}

// processHTTP posts data to the configured webhook URL. Non-2xx answers are
// errors so the queue retries them.
func processHTTP(conf *config.Configuration, data NewWebhook) error {
	payload, err := request.ToJsonReq(data)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, conf.Notification.Webhook.Url, payload)
	if err != nil {
		return err
	}
	for key, value := range conf.Notification.Webhook.Headers {
		req.Header.Set(key, value)
	}

	var response interface{}
	resp, err := request.CallWithClient(webhookClient, req, &response)
	if resp == nil {
		return errors.Wrap(err, "webhook request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s returned status %d", data.Event, resp.StatusCode)
	}
	return nil
}

// ProcessWebhook delivers a queued outbound event.
func ProcessWebhook(_ context.Context, task *asynq.Task) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}
	if conf.Notification.Webhook.Url == "" {
		return nil
	}

	var payload NewWebhook
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logrus.Errorf("Error unmarshaling task payload: %v", err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	if err := processHTTP(conf, payload); err != nil {
		logrus.WithError(err).WithField("event", payload.Event).Warn("webhook delivery failed")
		return err
	}
	logrus.Infof("Webhook %s delivered", payload.Event)
	return nil
}
