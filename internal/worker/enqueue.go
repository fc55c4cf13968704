package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/DukeRupert/streamshare/internal/repository"
	"github.com/google/uuid"
)

// Job type constants - these must match the JobHandler.Type() values
const (
	JobTypeExpireSubscription = "expire_subscription"
	JobTypeRenewSubscription  = "renew_subscription"
)

// Priority constants for job scheduling
const (
	PriorityLow    = 0
	PriorityNormal = 10
	PriorityHigh   = 20
)

// SubscriptionPayload is the payload for subscription expiry and renewal jobs.
type SubscriptionPayload struct {
	SubscriptionID uuid.UUID `json:"subscription_id"`
}

// SubscriptionDedupeKey keys a subscription job so a sweep that runs again
// before the job finishes does not queue it twice.
func SubscriptionDedupeKey(jobType string, subscriptionID uuid.UUID) string {
	return jobType + ":" + subscriptionID.String()
}

// EnqueueOption is a functional option for customizing job enqueue parameters.
type EnqueueOption func(*repository.EnqueueJobParams)

// WithPriority sets the job priority.
func WithPriority(priority int32) EnqueueOption {
	return func(p *repository.EnqueueJobParams) {
		p.Priority = priority
	}
}

// WithMaxAttempts sets the maximum number of retry attempts.
func WithMaxAttempts(attempts int32) EnqueueOption {
	return func(p *repository.EnqueueJobParams) {
		p.MaxAttempts = attempts
	}
}

// WithDelay schedules the job to run after a delay.
func WithDelay(delay time.Duration) EnqueueOption {
	return func(p *repository.EnqueueJobParams) {
		p.ScheduledAt = time.Now().Add(delay)
	}
}

// WithDedupeKey skips the enqueue while a pending or running job carries the
// same key.
func WithDedupeKey(key string) EnqueueOption {
	return func(p *repository.EnqueueJobParams) {
		p.DedupeKey = sql.NullString{String: key, Valid: true}
	}
}

// Enqueuer queues background jobs. It returns true when a job was queued and
// false when an equivalent job was already pending.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType string, payload any, opts ...EnqueueOption) (bool, error)
}

// =============================================================================
// Queue
// =============================================================================

// QueueEnqueuer writes jobs to the Postgres job table for the Worker.
type QueueEnqueuer struct {
	queries *repository.Queries
}

// NewQueueEnqueuer creates an Enqueuer backed by the jobs table.
func NewQueueEnqueuer(queries *repository.Queries) *QueueEnqueuer {
	return &QueueEnqueuer{queries: queries}
}

func (e *QueueEnqueuer) Enqueue(ctx context.Context, jobType string, payload any, opts ...EnqueueOption) (bool, error) {
	_, err := EnqueueJob(ctx, e.queries, jobType, payload, opts...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// EnqueueJob is a generic helper for enqueuing jobs with custom options.
// It returns sql.ErrNoRows (wrapped) when the dedupe key is already queued.
func EnqueueJob(
	ctx context.Context,
	queries *repository.Queries,
	jobType string,
	payload interface{},
	opts ...EnqueueOption,
) (repository.Job, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return repository.Job{}, fmt.Errorf("marshal payload: %w", err)
	}

	params := repository.EnqueueJobParams{
		JobType:     jobType,
		Payload:     payloadJSON,
		Priority:    PriorityNormal,
		MaxAttempts: 3,
		ScheduledAt: time.Now(),
	}
	for _, opt := range opts {
		opt(&params)
	}

	job, err := queries.EnqueueJob(ctx, params)
	if err != nil {
		return repository.Job{}, fmt.Errorf("enqueue job: %w", err)
	}

	return job, nil
}

// =============================================================================
// Inline
// =============================================================================

// InlineEnqueuer runs jobs synchronously in the caller's goroutine. It serves
// the in-memory store mode, where there is no job table.
type InlineEnqueuer struct {
	mu       sync.Mutex
	handlers map[string]JobHandler
	running  map[string]struct{}
	logger   *slog.Logger
}

// NewInlineEnqueuer creates an Enqueuer that executes handlers immediately.
func NewInlineEnqueuer(logger *slog.Logger) *InlineEnqueuer {
	return &InlineEnqueuer{
		handlers: make(map[string]JobHandler),
		running:  make(map[string]struct{}),
		logger:   logger,
	}
}

// Register adds a job handler.
func (e *InlineEnqueuer) Register(handler JobHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[handler.Type()] = handler
}

func (e *InlineEnqueuer) Enqueue(ctx context.Context, jobType string, payload any, opts ...EnqueueOption) (bool, error) {
	var params repository.EnqueueJobParams
	for _, opt := range opts {
		opt(&params)
	}

	e.mu.Lock()
	handler, ok := e.handlers[jobType]
	key := params.DedupeKey.String
	if params.DedupeKey.Valid {
		if _, busy := e.running[key]; busy {
			e.mu.Unlock()
			return false, nil
		}
		e.running[key] = struct{}{}
	}
	e.mu.Unlock()

	if params.DedupeKey.Valid {
		defer func() {
			e.mu.Lock()
			delete(e.running, key)
			e.mu.Unlock()
		}()
	}

	if !ok {
		return false, fmt.Errorf("no handler registered for job type: %s", jobType)
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("marshal payload: %w", err)
	}
	if err := runHandler(ctx, handler, payloadJSON); err != nil {
		e.logger.Error("Inline job failed", "job_type", jobType, "error", err)
		return true, err
	}
	return true, nil
}
