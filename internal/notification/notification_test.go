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
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jerry-enebeli/payouts/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capture struct {
	mu      sync.Mutex
	bodies  map[string][]byte
	headers map[string]http.Header
}

func newCaptureServer(t *testing.T, status int, body string) (*httptest.Server, *capture) {
	c := &capture{bodies: map[string][]byte{}, headers: map[string]http.Header{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.bodies[r.URL.Path] = b
		c.headers[r.URL.Path] = r.Header.Clone()
		c.mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, c
}

func TestSlackMessageIsValidJSON(t *testing.T) {
	msg := slackMessage(errors.New(`gateway said "no"`), time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded map[string][]map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Len(t, decoded["blocks"], 3)
	assert.Contains(t, string(raw), `gateway said \"no\"`)
}

func TestSlackNotificationAcceptsPlainOK(t *testing.T) {
	srv, c := newCaptureServer(t, http.StatusOK, "ok")
	conf := config.Notification{}
	conf.Slack.WebhookUrl = srv.URL + "/slack"

	err := SlackNotification(conf, errors.New("boom"))
	assert.NoError(t, err)
	assert.Contains(t, string(c.bodies["/slack"]), "boom")
}

func TestWebhookNotificationSendsHeaders(t *testing.T) {
	srv, c := newCaptureServer(t, http.StatusOK, `{}`)
	conf := config.Notification{}
	conf.Webhook.Url = srv.URL + "/hook"
	conf.Webhook.Headers = map[string]string{"X-Api-Key": "secret"}

	require.NoError(t, WebhookNotification(conf, errors.New("db down")))
	assert.Equal(t, "secret", c.headers["/hook"].Get("X-Api-Key"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(c.bodies["/hook"], &body))
	assert.Equal(t, "db down", body["error"])
}

func TestWebhookNotificationErrorStatus(t *testing.T) {
	srv, _ := newCaptureServer(t, http.StatusInternalServerError, `{}`)
	conf := config.Notification{}
	conf.Webhook.Url = srv.URL + "/hook"

	assert.Error(t, WebhookNotification(conf, errors.New("x")))
}

func TestNotifyFansOut(t *testing.T) {
	srv, c := newCaptureServer(t, http.StatusOK, "ok")
	conf := config.Notification{}
	conf.Slack.WebhookUrl = srv.URL + "/slack"
	conf.Webhook.Url = srv.URL + "/hook"

	Notify(conf, errors.New("lease reaper stopped"))

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Len(t, c.bodies, 2)
}
