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

package notification

import (
	"fmt"
	"net/http"
	"time"

	"github.com/jerry-enebeli/payouts/config"
	"github.com/jerry-enebeli/payouts/internal/request"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

type slackBlock struct {
	Type   string      `json:"type"`
	Text   *slackText  `json:"text,omitempty"`
	Fields []slackText `json:"fields,omitempty"`
}

// slackMessage renders the block kit payload posted to Slack.
func slackMessage(err error, at time.Time) map[string][]slackBlock {
	return map[string][]slackBlock{
		"blocks": {
			{Type: "header", Text: &slackText{Type: "plain_text", Text: "Error From Payouts", Emoji: true}},
			{Type: "section", Fields: []slackText{{Type: "mrkdwn", Text: "*Error:*\n" + err.Error()}}},
			{Type: "section", Fields: []slackText{{Type: "mrkdwn", Text: "*Time:*\n" + at.Format(time.RFC822)}}},
		},
	}
}

// SlackNotification posts err to the configured Slack webhook.
func SlackNotification(conf config.Notification, systemError error) error {
	payload, err := request.ToJsonReq(slackMessage(systemError, time.Now()))
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, conf.Slack.WebhookUrl, payload)
	if err != nil {
		return err
	}
	return send(req)
}

// WebhookNotification posts {"error": ...} to the operator webhook with its configured headers.
func WebhookNotification(conf config.Notification, systemError error) error {
	payload, err := request.ToJsonReq(map[string]string{
		"error": systemError.Error(),
		"time":  time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, conf.Webhook.Url, payload)
	if err != nil {
		return err
	}
	for k, v := range conf.Webhook.Headers {
		req.Header.Set(k, v)
	}
	return send(req)
}

func send(req *http.Request) error {
	var response interface{}
	resp, err := request.Call(req, &response)
	if resp == nil {
		return errors.Wrapf(err, "notification to %s failed", req.URL.Host)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("notification to %s returned status %d", req.URL.Host, resp.StatusCode)
	}
	// Slack answers with a plain "ok" body, so decode errors are not failures.
	return nil
}

// Notify logs systemError and fans it out to every configured channel.
func Notify(conf config.Notification, systemError error) {
	logrus.Error(systemError)

	if conf.Slack.WebhookUrl != "" {
		if err := SlackNotification(conf, systemError); err != nil {
			logrus.WithError(err).Warn("slack notification failed")
		}
	}
	if conf.Webhook.Url != "" {
		if err := WebhookNotification(conf, systemError); err != nil {
			logrus.WithError(err).Warn("webhook notification failed")
		}
	}
}

// NotifyError runs Notify in the background using the loaded configuration.
func NotifyError(systemError error) {
	go func(systemError error) {
		conf, err := config.Fetch()
		if err != nil {
			logrus.Error(systemError)
			return
		}
		Notify(conf.Notification, systemError)
	}(systemError)
}
