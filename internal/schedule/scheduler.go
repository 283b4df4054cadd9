// Package schedule runs the batch pipeline on a cron schedule.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/zombor/receipt-extractor/internal/batch"
	"github.com/zombor/receipt-extractor/internal/server"
)

// Job runs one batch
type Job func(ctx context.Context) (*batch.Result, error)

// Scheduler triggers a Job on a cron spec
type Scheduler struct {
	cron    *cron.Cron
	spec    string
	job     Job
	timeout time.Duration
	logger  *slog.Logger
}

// NewScheduler creates a scheduler for job. spec uses the standard 5-field format or
// descriptors such as "@hourly" and "@every 15m". Each run is cancelled after timeout
// when timeout is positive.
func NewScheduler(spec string, job Job, timeout time.Duration, logger *slog.Logger) *Scheduler {
	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))

	return &Scheduler{
		cron:    c,
		spec:    spec,
		job:     job,
		timeout: timeout,
		logger:  logger,
	}
}

// Start registers the job and begins running it
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, s.run); err != nil {
		return fmt.Errorf("parsing schedule %q: %w", s.spec, err)
	}

	s.cron.Start()
	s.logger.Info("Scheduler started", "schedule", s.spec)
	return nil
}

// Stop stops scheduling. The returned context is done once a running job finishes.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("Scheduler stopping")
	return s.cron.Stop()
}

// RunNow triggers the job outside the schedule
func (s *Scheduler) RunNow() {
	go s.run()
}

func (s *Scheduler) run() {
	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	s.logger.Info("Starting scheduled batch")
	result, err := s.job(ctx)
	if errors.Is(err, server.ErrBusy) {
		s.logger.Warn("Skipping scheduled batch", "reason", err)
		return
	}
	if err != nil {
		s.logger.Error("Error running scheduled batch", "error", err)
		return
	}

	s.logger.Info("Scheduled batch completed", "run_id", result.RunID, "summary", result.Summary())
}
