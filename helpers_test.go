package payouts

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/jerry-enebeli/payouts/config"
	"github.com/jerry-enebeli/payouts/database"
	"github.com/jerry-enebeli/payouts/internal/gateway"
	"github.com/jerry-enebeli/payouts/model"
)

func newTestConfig() *config.Configuration {
	return &config.Configuration{
		ProjectName: "payouts-test",
		Currencies:  append([]string(nil), model.DefaultCurrencies...),
		Queue: config.QueueConfig{
			WebhookQueue:         "payout_webhooks",
			ProviderWebhookQueue: "provider_webhooks",
			LeaseExpiryQueue:     "lease_expiry",
			Concurrency:          1,
		},
		Gateway: config.GatewayConfig{
			TimeoutSeconds:    5,
			MaxRetries:        2,
			InitialBackoffMs:  1,
			MaxBackoffSeconds: 1,
			MaxElapsedSeconds: 5,
		},
		Dispatcher: config.DispatcherConfig{
			Workers:               4,
			BatchSize:             10,
			LeaseSeconds:          300,
			PollIntervalSeconds:   1,
			ReaperIntervalSeconds: 30,
			ReaperBatchSize:       100,
			MaxAttempts:           5,
		},
	}
}

// testClock is a settable clock shared by the service and its workers.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestPayouts(t *testing.T, cfg *config.Configuration, opts ...Option) (*Payouts, *database.MemoryDataSource, *testClock) {
	t.Helper()
	if cfg == nil {
		cfg = newTestConfig()
	}
	config.MockConfig(cfg)

	ds := database.NewMemoryDataSource()
	clock := newTestClock()
	p, err := NewPayouts(ds, append([]Option{WithClock(clock.Now)}, opts...)...)
	require.NoError(t, err)
	return p, ds, clock
}

func newPayoutRequest(reference string, amount int64) *model.Payout {
	return &model.Payout{
		Reference: reference,
		CreatorID: "creator_" + gofakeit.LetterN(8),
		Amount:    decimal.NewFromInt(amount),
		Currency:  "NGN",
		Recipient: model.Recipient{
			AccountNumber: gofakeit.DigitN(10),
			AccountName:   gofakeit.Name(),
			BankCode:      "058",
			BankName:      "GTBank",
		},
	}
}

// initiate creates n payouts with references prefix-0..n-1.
func initiate(t *testing.T, p *Payouts, prefix string, n int) []*model.Payout {
	t.Helper()
	created := make([]*model.Payout, 0, n)
	for i := 0; i < n; i++ {
		payout, ok, err := p.InitiatePayout(context.Background(), newPayoutRequest(fmt.Sprintf("%s-%d", prefix, i), int64(1000+i)))
		require.NoError(t, err)
		require.True(t, ok)
		created = append(created, payout)
	}
	return created
}

// fakeGateway answers transfers with respond, or completes them with a
// transfer id derived from the payout id.
type fakeGateway struct {
	mu      sync.Mutex
	calls   []gateway.TransferRequest
	respond func(req gateway.TransferRequest) (*gateway.TransferResult, error)
}

func (g *fakeGateway) Transfer(ctx context.Context, req gateway.TransferRequest) (*gateway.TransferResult, error) {
	g.mu.Lock()
	g.calls = append(g.calls, req)
	respond := g.respond
	g.mu.Unlock()

	if respond != nil {
		return respond(req)
	}
	return &gateway.TransferResult{
		ProviderTransferID: "prv_" + req.PayoutID,
		Status:             "SUCCESSFUL",
		Fee:                decimal.NewNullDecimal(decimal.NewFromInt(25)),
	}, nil
}

func (g *fakeGateway) Calls() []gateway.TransferRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]gateway.TransferRequest(nil), g.calls...)
}
