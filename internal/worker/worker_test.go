package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/DukeRupert/streamshare/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr string
	}{
		{name: "valid default config", modify: func(c *Config) {}},
		{name: "concurrency too low", modify: func(c *Config) { c.Concurrency = 0 }, wantErr: "concurrency"},
		{name: "concurrency too high", modify: func(c *Config) { c.Concurrency = 101 }, wantErr: "concurrency"},
		{name: "poll interval too short", modify: func(c *Config) { c.PollInterval = 500 * time.Millisecond }, wantErr: "poll interval"},
		{name: "job outlives stale threshold", modify: func(c *Config) { c.JobTimeout = 15 * time.Minute }, wantErr: "shorter than stale"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "permanent error",
			err:  NewPermanentError(context.Canceled),
			want: true,
		},
		{
			name: "regular error",
			err:  context.Canceled,
			want: false,
		},
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPermanent(tt.err); got != tt.want {
				t.Errorf("IsPermanent() = %v, want %v", got, tt.want)
			}
		})
	}
}

type recordingHandler struct {
	jobType  string
	payloads [][]byte
	err      error
	block    chan struct{}
}

func (h *recordingHandler) Type() string { return h.jobType }

func (h *recordingHandler) Handle(ctx context.Context, payload []byte) error {
	if h.block != nil {
		<-h.block
	}
	h.payloads = append(h.payloads, payload)
	return h.err
}

func TestInlineEnqueuer_RunsHandler(t *testing.T) {
	e := NewInlineEnqueuer(slog.New(slog.NewTextHandler(io.Discard, nil)))
	h := &recordingHandler{jobType: JobTypeExpireSubscription}
	e.Register(h)

	subID := uuid.New()
	queued, err := e.Enqueue(context.Background(), JobTypeExpireSubscription, SubscriptionPayload{SubscriptionID: subID})
	require.NoError(t, err)
	assert.True(t, queued)
	require.Len(t, h.payloads, 1)

	var got SubscriptionPayload
	require.NoError(t, json.Unmarshal(h.payloads[0], &got))
	assert.Equal(t, subID, got.SubscriptionID)
}

func TestInlineEnqueuer_Errors(t *testing.T) {
	e := NewInlineEnqueuer(slog.New(slog.NewTextHandler(io.Discard, nil)))
	e.Register(&recordingHandler{jobType: JobTypeRenewSubscription, err: errors.New("boom")})

	_, err := e.Enqueue(context.Background(), "unknown", nil)
	assert.Error(t, err)

	queued, err := e.Enqueue(context.Background(), JobTypeRenewSubscription, SubscriptionPayload{})
	assert.True(t, queued)
	assert.EqualError(t, err, "boom")
}

func TestInlineEnqueuer_Dedupe(t *testing.T) {
	e := NewInlineEnqueuer(slog.New(slog.NewTextHandler(io.Discard, nil)))
	h := &recordingHandler{jobType: JobTypeRenewSubscription, block: make(chan struct{})}
	e.Register(h)

	key := SubscriptionDedupeKey(JobTypeRenewSubscription, uuid.New())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = e.Enqueue(context.Background(), JobTypeRenewSubscription, SubscriptionPayload{}, WithDedupeKey(key))
	}()

	// Wait until the first job holds the key
	require.Eventually(t, func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		_, busy := e.running[key]
		return busy
	}, time.Second, time.Millisecond)

	queued, err := e.Enqueue(context.Background(), JobTypeRenewSubscription, SubscriptionPayload{}, WithDedupeKey(key))
	require.NoError(t, err)
	assert.False(t, queued)

	close(h.block)
	<-done
	assert.Len(t, h.payloads, 1)
}

func TestQueueEnqueuer_Duplicate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	e := NewQueueEnqueuer(repository.New(db))
	key := SubscriptionDedupeKey(JobTypeExpireSubscription, uuid.New())

	mock.ExpectQuery(`INSERT INTO jobs`).
		WithArgs(JobTypeExpireSubscription, sqlmock.AnyArg(), key, int32(PriorityNormal), int32(3), sqlmock.AnyArg()).
		WillReturnError(sql.ErrNoRows)

	queued, err := e.Enqueue(context.Background(), JobTypeExpireSubscription, SubscriptionPayload{}, WithDedupeKey(key))
	require.NoError(t, err)
	assert.False(t, queued)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubscriptionDedupeKey(t *testing.T) {
	id := uuid.MustParse("6f1c2d7e-8a4b-4c3d-9e2f-1a2b3c4d5e6f")
	assert.Equal(t, "expire_subscription:6f1c2d7e-8a4b-4c3d-9e2f-1a2b3c4d5e6f", SubscriptionDedupeKey(JobTypeExpireSubscription, id))
}
