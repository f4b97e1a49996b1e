package model

import (
	"testing"
	"time"

	"github.com/jerry-enebeli/payouts/internal/apierror"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pendingPayout() *Payout {
	return NewPayout(Payout{
		Reference: "REF-1",
		CreatorID: "creator_1",
		Amount:    decimal.NewFromInt(50000),
		Currency:  "NGN",
	}, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
}

func claim(t *testing.T, p *Payout, at time.Time) {
	t.Helper()
	_, err := ApplyTransition(p, TransitionInput{
		To:     StatusProcessing,
		Source: SourceWorker,
		At:     at,
		Lease:  NewLease(at, time.Minute),
	})
	require.NoError(t, err)
}

func TestCanTransition(t *testing.T) {
	allowed := map[[2]Status]bool{
		{StatusPending, StatusProcessing}:   true,
		{StatusPending, StatusCancelled}:    true,
		{StatusProcessing, StatusCompleted}: true,
		{StatusProcessing, StatusFailed}:    true,
		{StatusCompleted, StatusRefunded}:   true,
	}

	for _, from := range Statuses {
		for _, to := range Statuses {
			for _, source := range []ChangeSource{SourceWorker, SourceWebhook, SourceAdmin} {
				assert.Equal(t, allowed[[2]Status{from, to}], CanTransition(from, to, source), "%s -> %s by %s", from, to, source)
			}
		}
	}
}

func TestCanTransition_LeaseReclaimIsReaperOnly(t *testing.T) {
	assert.True(t, CanTransition(StatusProcessing, StatusPending, SourceLeaseReaper))
	assert.False(t, CanTransition(StatusProcessing, StatusPending, SourceWorker))
	assert.False(t, CanTransition(StatusProcessing, StatusPending, SourceWebhook))
	assert.False(t, CanTransition(StatusCompleted, StatusPending, SourceLeaseReaper))
}

func TestStatus_IsTerminal(t *testing.T) {
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusProcessing.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.True(t, StatusRefunded.IsTerminal())
}

func TestApplyTransition_CompletionFlow(t *testing.T) {
	p := pendingPayout()
	start := p.CreatedAt

	claim(t, p, start.Add(time.Second))
	assert.Equal(t, StatusProcessing, p.Status)
	require.NotNil(t, p.Lease)
	assert.Equal(t, 1, p.Lease.Attempt)
	assert.Equal(t, 1, p.Attempts)

	doneAt := start.Add(2 * time.Second)
	change, err := ApplyTransition(p, TransitionInput{
		To:                 StatusCompleted,
		Source:             SourceWorker,
		At:                 doneAt,
		ProviderTransferID: "T1",
		ProviderFee:        decimal.NewNullDecimal(decimal.NewFromInt(100)),
	})
	require.NoError(t, err)

	assert.Equal(t, StatusProcessing, change.FromStatus)
	assert.Equal(t, StatusCompleted, p.Status)
	require.NotNil(t, p.CompletedAt)
	assert.Equal(t, doneAt, *p.CompletedAt)
	assert.Equal(t, doneAt, p.UpdatedAt)
	assert.Nil(t, p.Lease)
	require.NotNil(t, p.ProviderTransferID)
	assert.Equal(t, "T1", *p.ProviderTransferID)
	assert.True(t, p.ProviderFee.Decimal.Equal(decimal.NewFromInt(100)))
	assert.Len(t, p.StatusHistory, 3)

	refundAt := start.Add(3 * time.Second)
	_, err = ApplyTransition(p, TransitionInput{To: StatusRefunded, Source: SourceAdmin, At: refundAt})
	require.NoError(t, err)
	assert.Equal(t, doneAt, *p.CompletedAt, "completion time is set once")
}

func TestApplyTransition_FailureSetsErrorFields(t *testing.T) {
	p := pendingPayout()
	claim(t, p, time.Now())

	change, err := ApplyTransition(p, TransitionInput{
		To:           StatusFailed,
		Source:       SourceWorker,
		ErrorCode:    "INSUFFICIENT_FUNDS",
		ErrorMessage: "wallet balance too low",
	})
	require.NoError(t, err)

	assert.Equal(t, "INSUFFICIENT_FUNDS", p.ErrorCode)
	assert.Equal(t, "wallet balance too low", p.ErrorMessage)
	assert.Equal(t, "INSUFFICIENT_FUNDS", change.ErrorCode)
	assert.NotNil(t, p.FailedAt)
	assert.Nil(t, p.CompletedAt)
}

func TestApplyTransition_RejectedLeavesPayoutUnchanged(t *testing.T) {
	p := pendingPayout()
	before := p.Clone()

	_, err := ApplyTransition(p, TransitionInput{To: StatusCompleted, Source: SourceWebhook})
	require.Error(t, err)
	assert.True(t, apierror.IsCode(err, apierror.ErrInvalidTransition))
	assert.Equal(t, before, p)

	_, err = ApplyTransition(p, TransitionInput{To: Status("bogus"), Source: SourceAdmin})
	assert.True(t, apierror.IsCode(err, apierror.ErrInvalidInput))
	assert.Equal(t, before, p)
}

func TestApplyTransition_ProcessingRequiresLease(t *testing.T) {
	p := pendingPayout()
	_, err := ApplyTransition(p, TransitionInput{To: StatusProcessing, Source: SourceWorker})
	assert.True(t, apierror.IsCode(err, apierror.ErrInvalidInput))
	assert.Equal(t, StatusPending, p.Status)
}

func TestApplyTransition_LeaseReclaim(t *testing.T) {
	p := pendingPayout()
	claim(t, p, time.Now())

	change, err := ApplyTransition(p, TransitionInput{
		To:           StatusPending,
		Source:       SourceLeaseReaper,
		ErrorCode:    ErrorCodeLeaseExpired,
		ErrorMessage: "lease expired without an outcome",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, p.Status)
	assert.Nil(t, p.Lease)
	assert.Empty(t, p.ErrorCode)
	assert.Equal(t, ErrorCodeLeaseExpired, change.ErrorCode)

	claim(t, p, time.Now())
	assert.Equal(t, 2, p.Lease.Attempt)
}

// Drives every reachable path through the graph and checks the history
// stays consistent with it at every step.
func TestApplyTransition_HistoryFollowsGraph(t *testing.T) {
	paths := [][]TransitionInput{
		{{To: StatusCancelled, Source: SourceAdmin}},
		{{To: StatusProcessing, Source: SourceWorker}, {To: StatusFailed, Source: SourceWorker, ErrorCode: "X"}},
		{{To: StatusProcessing, Source: SourceWorker}, {To: StatusCompleted, Source: SourceWebhook}, {To: StatusRefunded, Source: SourceAdmin}},
		{{To: StatusProcessing, Source: SourceWorker}, {To: StatusPending, Source: SourceLeaseReaper}, {To: StatusProcessing, Source: SourceWorker}, {To: StatusCompleted, Source: SourceWorker}},
		// rejected steps in the middle must not change anything
		{{To: StatusCompleted, Source: SourceWebhook}, {To: StatusProcessing, Source: SourceWorker}, {To: StatusPending, Source: SourceWorker}, {To: StatusFailed, Source: SourceWorker}},
	}

	for _, path := range paths {
		p := pendingPayout()
		prevLen := len(p.StatusHistory)
		for _, step := range path {
			if step.To == StatusProcessing {
				step.Lease = NewLease(time.Now(), time.Minute)
			}
			_, _ = ApplyTransition(p, step)

			assert.GreaterOrEqual(t, len(p.StatusHistory), prevLen)
			prevLen = len(p.StatusHistory)
			assert.Equal(t, p.CompletedAt != nil, p.Status == StatusCompleted || p.Status == StatusRefunded)
		}

		assert.Equal(t, SourceCreated, p.StatusHistory[0].Source)
		assert.Equal(t, Status(""), p.StatusHistory[0].FromStatus)
		for i, entry := range p.StatusHistory[1:] {
			assert.Equal(t, p.StatusHistory[i].Status, entry.FromStatus)
			assert.True(t, CanTransition(entry.FromStatus, entry.Status, entry.Source))
		}
		assert.Equal(t, p.Status, p.StatusHistory[len(p.StatusHistory)-1].Status)
	}
}
