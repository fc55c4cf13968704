package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/DukeRupert/streamshare/internal/service"
	"github.com/DukeRupert/streamshare/internal/worker"
	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule runs the sweep every quarter hour.
const DefaultSweepSchedule = "@every 15m"

// SweeperConfig tunes the sweeper.
type SweeperConfig struct {
	// Schedule is a cron expression or descriptor such as "@every 15m".
	Schedule string

	// BatchSize caps how many due subscriptions a sweep enqueues.
	BatchSize int

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// SweepResult counts the jobs a sweep enqueued.
type SweepResult struct {
	Due     int
	Renew   int
	Expire  int
	Skipped int
}

// Sweeper periodically finds subscriptions past their end date and enqueues
// a renewal for auto-renewing ones and an expiry for the rest.
type Sweeper struct {
	subs     service.SubscriptionService
	enqueuer worker.Enqueuer
	cfg      SweeperConfig
	cron     *cron.Cron
	logger   *slog.Logger
}

// NewSweeper creates a Sweeper. The schedule is validated here so a bad
// SWEEP_SCHEDULE fails at startup.
func NewSweeper(subs service.SubscriptionService, enqueuer worker.Enqueuer, cfg SweeperConfig, logger *slog.Logger) (*Sweeper, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSweepSchedule
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &Sweeper{
		subs:     subs,
		enqueuer: enqueuer,
		cfg:      cfg,
		cron:     cron.New(),
		logger:   logger,
	}

	if _, err := s.cron.AddFunc(cfg.Schedule, s.run); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", cfg.Schedule, err)
	}
	return s, nil
}

// Start begins running sweeps on the schedule.
func (s *Sweeper) Start() {
	s.logger.Info("Starting sweeper", "schedule", s.cfg.Schedule, "batch_size", s.cfg.BatchSize)
	s.cron.Start()
}

// Stop stops scheduling and waits for a running sweep to finish or ctx to
// end.
func (s *Sweeper) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("Sweeper stopped")
	case <-ctx.Done():
		s.logger.Warn("Sweeper stop timed out")
	}
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if _, err := s.SweepOnce(ctx); err != nil {
		s.logger.Error("Sweep failed", "error", err)
	}
}

// SweepOnce enqueues jobs for every subscription due now, up to the batch
// size. Jobs already queued for a subscription are skipped.
func (s *Sweeper) SweepOnce(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	due, err := s.subs.ListDue(ctx, s.cfg.Now(), s.cfg.BatchSize)
	if err != nil {
		return result, fmt.Errorf("list due subscriptions: %w", err)
	}
	result.Due = len(due)

	for _, sub := range due {
		jobType := worker.JobTypeExpireSubscription
		var priority int32 = worker.PriorityNormal
		if sub.AutoRenew {
			jobType = worker.JobTypeRenewSubscription
			priority = worker.PriorityHigh
		}

		queued, err := s.enqueuer.Enqueue(ctx, jobType,
			worker.SubscriptionPayload{SubscriptionID: sub.ID},
			worker.WithPriority(priority),
			worker.WithDedupeKey(worker.SubscriptionDedupeKey(jobType, sub.ID)),
		)
		if err != nil {
			// Inline handlers surface job errors here; the next sweep retries.
			s.logger.Error("Failed to enqueue subscription job",
				"subscription_id", sub.ID,
				"job_type", jobType,
				"error", err,
			)
			continue
		}
		if !queued {
			result.Skipped++
			continue
		}
		if sub.AutoRenew {
			result.Renew++
		} else {
			result.Expire++
		}
	}

	if result.Due > 0 {
		s.logger.Info("Sweep complete",
			"due", result.Due,
			"renew", result.Renew,
			"expire", result.Expire,
			"skipped", result.Skipped,
		)
	}
	return result, nil
}
