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

package pg_listener

import (
	"context"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// PendingChannel is the channel the payouts table trigger notifies with the
// payout_id of every row that enters pending.
const PendingChannel = "payout_pending"

type ListenerConfig struct {
	PgConnStr   string
	MinInterval time.Duration
	MaxInterval time.Duration
	// Ping is how long the listener waits without notifications before
	// pinging the connection.
	Ping time.Duration
}

// Waker is notified for every payout that becomes pending.
type Waker interface {
	Wake(payoutID string)
}

type WakeFunc func(payoutID string)

func (f WakeFunc) Wake(payoutID string) { f(payoutID) }

// PendingListener forwards payout_pending notifications to a Waker so the
// dispatcher does not have to wait for its next poll.
type PendingListener struct {
	config ListenerConfig
	waker  Waker
}

func NewPendingListener(config ListenerConfig, waker Waker) *PendingListener {
	if config.MinInterval <= 0 {
		config.MinInterval = 10 * time.Second
	}
	if config.MaxInterval <= 0 {
		config.MaxInterval = time.Minute
	}
	if config.Ping <= 0 {
		config.Ping = 90 * time.Second
	}
	return &PendingListener{config: config, waker: waker}
}

// Start blocks until ctx is cancelled.
func (l *PendingListener) Start(ctx context.Context) error {
	listener := pq.NewListener(l.config.PgConnStr, l.config.MinInterval, l.config.MaxInterval, l.logEvent)
	defer listener.Close()

	if err := listener.Listen(PendingChannel); err != nil {
		return err
	}
	logrus.Infof("listening for postgres notifications on channel '%s'", PendingChannel)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n := <-listener.Notify:
			l.handle(n)
		case <-time.After(l.config.Ping):
			if err := listener.Ping(); err != nil {
				logrus.WithError(err).Warn("pending listener ping failed")
			}
		}
	}
}

func (l *PendingListener) handle(n *pq.Notification) {
	// A nil notification follows a reconnect; anything sent while the
	// connection was down is lost, so wake once to trigger a poll.
	if n == nil {
		l.waker.Wake("")
		return
	}
	l.waker.Wake(n.Extra)
}

func (l *PendingListener) logEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventConnectionAttemptFailed, pq.ListenerEventDisconnected:
		logrus.WithError(err).Warn("pending listener connection lost")
	case pq.ListenerEventReconnected:
		logrus.Info("pending listener reconnected")
	}
}
