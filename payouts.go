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
	"embed"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/jerry-enebeli/payouts/config"
	"github.com/jerry-enebeli/payouts/database"
	"github.com/jerry-enebeli/payouts/internal/gateway"
)

// Payouts is the service behind every payout operation. It owns no state of
// its own; all of it lives in the datasource.
type Payouts struct {
	datasource database.IDataSource
	queue      *Queue
	redis      redis.UniversalClient
	gateway    gateway.Client
	config     *config.Configuration
	now        func() time.Time
}

//go:embed sql/*.sql
var SQLFiles embed.FS

var tracer = otel.Tracer("payouts.service")

type Option func(*Payouts)

// WithQueue enables outbound events, lease expiry tasks and async provider webhooks.
func WithQueue(q *Queue) Option {
	return func(p *Payouts) { p.queue = q }
}

// WithRedis supplies the client used for the lease reaper lock.
func WithRedis(client redis.UniversalClient) Option {
	return func(p *Payouts) { p.redis = client }
}

func WithGateway(client gateway.Client) Option {
	return func(p *Payouts) { p.gateway = client }
}

func WithClock(now func() time.Time) Option {
	return func(p *Payouts) { p.now = now }
}

// NewPayouts builds the service on top of db using the loaded configuration.
// A gateway client is created from config when none is given and a base URL
// is configured.
func NewPayouts(db database.IDataSource, opts ...Option) (*Payouts, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	p := &Payouts{
		datasource: db,
		config:     cfg,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.gateway == nil && cfg.Gateway.BaseURL != "" {
		p.gateway = gateway.NewClient(cfg.Gateway)
	}
	return p, nil
}

func (p *Payouts) Config() *config.Configuration {
	return p.config
}

// Now is the service clock, UTC.
func (p *Payouts) Now() time.Time {
	return p.now()
}
