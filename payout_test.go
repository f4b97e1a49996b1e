package payouts

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jerry-enebeli/payouts/internal/apierror"
	"github.com/jerry-enebeli/payouts/model"
)

func TestInitiatePayout(t *testing.T) {
	p, _, clock := newTestPayouts(t, nil)
	req := newPayoutRequest("REF-1", 50000)
	req.Currency = "ngn"

	payout, created, err := p.InitiatePayout(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Contains(t, payout.PayoutID, "pay_")
	assert.Equal(t, model.StatusPending, payout.Status)
	assert.Equal(t, "NGN", payout.Currency)
	assert.Equal(t, clock.Now(), payout.CreatedAt)
	assert.Nil(t, payout.CompletedAt)
	require.Len(t, payout.StatusHistory, 1)
	assert.Equal(t, model.SourceCreated, payout.StatusHistory[0].Source)
	assert.Equal(t, model.Status(""), payout.StatusHistory[0].FromStatus)
}

func TestInitiatePayoutSameReferenceReturnsOriginal(t *testing.T) {
	p, _, _ := newTestPayouts(t, nil)
	ctx := context.Background()

	first, created, err := p.InitiatePayout(ctx, newPayoutRequest("REF-1", 50000))
	require.NoError(t, err)
	require.True(t, created)

	again, created, err := p.InitiatePayout(ctx, newPayoutRequest("REF-1", 75000))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.PayoutID, again.PayoutID)
	assert.True(t, decimal.NewFromInt(50000).Equal(again.Amount))
	assert.Equal(t, first.CreatorID, again.CreatorID)

	all, err := p.ListPayouts(ctx, model.PayoutFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestInitiatePayoutValidation(t *testing.T) {
	p, _, _ := newTestPayouts(t, nil)

	tests := []struct {
		name   string
		mutate func(*model.Payout)
	}{
		{name: "zero amount", mutate: func(r *model.Payout) { r.Amount = decimal.Zero }},
		{name: "negative amount", mutate: func(r *model.Payout) { r.Amount = decimal.NewFromInt(-5) }},
		{name: "currency not allowed", mutate: func(r *model.Payout) { r.Currency = "XYZ" }},
		{name: "missing reference", mutate: func(r *model.Payout) { r.Reference = "" }},
		{name: "missing account number", mutate: func(r *model.Payout) { r.Recipient.AccountNumber = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := newPayoutRequest("REF-"+tt.name, 100)
			tt.mutate(req)
			_, _, err := p.InitiatePayout(context.Background(), req)
			require.Error(t, err)
			assert.True(t, apierror.IsCode(err, apierror.ErrInvalidInput))
		})
	}

	all, err := p.ListPayouts(context.Background(), model.PayoutFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCreatePayoutDuplicateReference(t *testing.T) {
	p, _, _ := newTestPayouts(t, nil)
	ctx := context.Background()

	_, err := p.CreatePayout(ctx, newPayoutRequest("REF-DUP", 100))
	require.NoError(t, err)

	_, err = p.CreatePayout(ctx, newPayoutRequest("REF-DUP", 100))
	require.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.ErrConflict))
}

func TestConcurrentInitiateSameReference(t *testing.T) {
	p, _, _ := newTestPayouts(t, nil)
	ctx := context.Background()

	const callers = 32
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = map[string]int{}
		created int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payout, ok, err := p.InitiatePayout(ctx, newPayoutRequest("REF-RACE", int64(100+i)))
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			ids[payout.PayoutID]++
			if ok {
				created++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Len(t, ids, 1)

	all, err := p.ListPayouts(ctx, model.PayoutFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestInitiatePayout_RejectsUnstorableAmounts(t *testing.T) {
	p, ds, _ := newTestPayouts(t, nil)
	ctx := context.Background()

	for _, amount := range []string{"0.00001", "10.00005", "100000000000000000000", "123456789012345678901234567890"} {
		req := newPayoutRequest("REF-AMT-"+amount, 1)
		req.Amount = decimal.RequireFromString(amount)
		_, _, err := p.InitiatePayout(ctx, req)
		assert.True(t, apierror.IsCode(err, apierror.ErrInvalidInput), amount)
	}

	all, err := ds.ListPayouts(ctx, model.PayoutFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestListPayouts(t *testing.T) {
	p, _, _ := newTestPayouts(t, nil)
	ctx := context.Background()

	a := newPayoutRequest("REF-A", 100)
	a.CreatorID = "creator_1"
	b := newPayoutRequest("REF-B", 200)
	b.CreatorID = "creator_1"
	b.Currency = "GHS"
	c := newPayoutRequest("REF-C", 300)
	c.CreatorID = "creator_2"
	for _, req := range []*model.Payout{a, b, c} {
		_, _, err := p.InitiatePayout(ctx, req)
		require.NoError(t, err)
	}

	byCreator, err := p.ListPayouts(ctx, model.PayoutFilter{CreatorID: "creator_1"})
	require.NoError(t, err)
	assert.Len(t, byCreator, 2)

	ghs, err := p.ListPayouts(ctx, model.PayoutFilter{Currency: "ghs"})
	require.NoError(t, err)
	require.Len(t, ghs, 1)
	assert.Equal(t, "REF-B", ghs[0].Reference)

	page, err := p.ListPayouts(ctx, model.PayoutFilter{Limit: 2, Page: 2})
	require.NoError(t, err)
	assert.Len(t, page, 1)

	beyond, err := p.ListPayouts(ctx, model.PayoutFilter{Limit: 100, Page: math.MaxInt / 10})
	require.NoError(t, err)
	assert.Empty(t, beyond)

	_, err = p.ListPayouts(ctx, model.PayoutFilter{Status: "stuck"})
	assert.True(t, apierror.IsCode(err, apierror.ErrInvalidInput))
}

func TestSoftDeletePayout(t *testing.T) {
	p, _, _ := newTestPayouts(t, nil)
	ctx := context.Background()

	payout, _, err := p.InitiatePayout(ctx, newPayoutRequest("REF-DEL", 100))
	require.NoError(t, err)

	require.NoError(t, p.SoftDeletePayout(ctx, payout.PayoutID))

	_, err = p.GetPayout(ctx, payout.PayoutID)
	assert.True(t, apierror.IsCode(err, apierror.ErrNotFound))

	err = p.SoftDeletePayout(ctx, payout.PayoutID)
	assert.True(t, apierror.IsCode(err, apierror.ErrNotFound))

	all, err := p.ListPayouts(ctx, model.PayoutFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)

	// deleted payouts are not claimable
	claimed, err := p.Claim(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	// the reference is free again
	replacement, created, err := p.InitiatePayout(ctx, newPayoutRequest("REF-DEL", 100))
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, payout.PayoutID, replacement.PayoutID)
}
