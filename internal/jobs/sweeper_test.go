package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/DukeRupert/streamshare/internal/domain"
	"github.com/DukeRupert/streamshare/internal/worker"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedJob struct {
	jobType string
	payload worker.SubscriptionPayload
}

// recordingEnqueuer captures jobs and reports queued for the first job per
// dedupe key only.
type recordingEnqueuer struct {
	mu   sync.Mutex
	jobs []recordedJob
	keys map[string]bool
}

func (r *recordingEnqueuer) Enqueue(ctx context.Context, jobType string, payload any, opts ...worker.EnqueueOption) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.keys == nil {
		r.keys = make(map[string]bool)
	}
	p := payload.(worker.SubscriptionPayload)
	key := worker.SubscriptionDedupeKey(jobType, p.SubscriptionID)
	if r.keys[key] {
		return false, nil
	}
	r.keys[key] = true
	r.jobs = append(r.jobs, recordedJob{jobType: jobType, payload: p})
	return true, nil
}

func TestNewSweeper_InvalidSchedule(t *testing.T) {
	e := newEnv(t)
	_, err := NewSweeper(e.subs, &recordingEnqueuer{}, SweeperConfig{Schedule: "every now and then"}, e.logger)
	require.Error(t, err)
}

func TestSweeper_SweepOnce(t *testing.T) {
	e := newEnv(t)
	e.account(t)
	renewing := e.subscribe(t, true)
	expiring := e.subscribe(t, false)

	enq := &recordingEnqueuer{}
	s, err := NewSweeper(e.subs, enq, SweeperConfig{Now: func() time.Time { return e.now }}, e.logger)
	require.NoError(t, err)

	t.Run("nothing due", func(t *testing.T) {
		result, err := s.SweepOnce(context.Background())
		require.NoError(t, err)
		assert.Equal(t, SweepResult{}, result)
	})

	e.now = renewing.EndDate.Add(time.Minute)

	t.Run("enqueues by auto renew", func(t *testing.T) {
		result, err := s.SweepOnce(context.Background())
		require.NoError(t, err)
		assert.Equal(t, SweepResult{Due: 2, Renew: 1, Expire: 1}, result)

		byID := map[string]string{}
		for _, j := range enq.jobs {
			byID[j.payload.SubscriptionID.String()] = j.jobType
		}
		assert.Equal(t, worker.JobTypeRenewSubscription, byID[renewing.ID.String()])
		assert.Equal(t, worker.JobTypeExpireSubscription, byID[expiring.ID.String()])
	})

	t.Run("queued jobs are skipped", func(t *testing.T) {
		result, err := s.SweepOnce(context.Background())
		require.NoError(t, err)
		assert.Equal(t, SweepResult{Due: 2, Skipped: 2}, result)
	})
}

func TestSweeper_ExpiresParkedSubscriptions(t *testing.T) {
	e := newEnv(t)
	acct := e.account(t)
	parked := e.subscribe(t, false)
	waiting := e.subscribe(t, true)
	ctx := context.Background()
	for _, sub := range []*domain.Subscription{parked, waiting} {
		_, err := e.subs.MarkContactNeeded(ctx, sub.ID, "customer unreachable")
		require.NoError(t, err)
	}

	inline := worker.NewInlineEnqueuer(e.logger)
	inline.Register(NewExpireSubscriptionHandler(e.subs, e.logger))
	inline.Register(NewRenewSubscriptionHandler(e.subs, nil, e.logger))
	s, err := NewSweeper(e.subs, inline, SweeperConfig{Now: func() time.Time { return e.now }}, e.logger)
	require.NoError(t, err)

	e.now = parked.EndDate.Add(time.Minute)
	result, err := s.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Due: 1, Expire: 1}, result)

	got, err := e.subs.GetByID(ctx, parked.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusExpired, got.Status)

	// The auto-renewing one stays with staff and keeps its slots
	got, err = e.subs.GetByID(ctx, waiting.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusContactNeeded, got.Status)

	reloaded, err := e.registry.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, reloaded.FreeSlots)
}

func TestSweeper_InlineRunsJobs(t *testing.T) {
	e := newEnv(t)
	acct := e.account(t)
	renewing := e.subscribe(t, true)
	expiring := e.subscribe(t, false)

	inline := worker.NewInlineEnqueuer(e.logger)
	inline.Register(NewExpireSubscriptionHandler(e.subs, e.logger))
	inline.Register(NewRenewSubscriptionHandler(e.subs, nil, e.logger))

	s, err := NewSweeper(e.subs, inline, SweeperConfig{Now: func() time.Time { return e.now }, BatchSize: 10}, e.logger)
	require.NoError(t, err)

	e.now = renewing.EndDate.Add(time.Minute)
	_, err = s.SweepOnce(context.Background())
	require.NoError(t, err)

	for _, id := range []uuid.UUID{renewing.ID, expiring.ID} {
		sub, err := e.subs.GetByID(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, domain.SubscriptionStatusExpired, sub.Status)
	}

	live, err := e.subs.ListByAccount(context.Background(), acct.ID)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, renewing.ID, *live[0].RenewedFromID)
	assert.True(t, live[0].EndDate.After(e.now))

	reloaded, err := e.registry.GetAccount(context.Background(), acct.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, reloaded.FreeSlots)

	// The successor is not due, so the next sweep is empty.
	result, err := s.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Due)
}
