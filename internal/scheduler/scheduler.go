// Package scheduler runs the nightly validation and reclassification sweeps.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/xaenox/callscope/internal/models"
	"github.com/xaenox/callscope/internal/notify"
)

const DefaultJobTimeout = 10 * time.Minute

// Jobs is the part of the pipeline the scheduler drives.
type Jobs interface {
	RunRecentValidation(ctx context.Context) (models.ValidationSummary, error)
	RunRecentReclassify(ctx context.Context) (models.ReclassifySummary, error)
}

// Config holds standard 5-field cron expressions. An empty expression disables the job.
type Config struct {
	ValidationSchedule string
	ReclassifySchedule string
	JobTimeout         time.Duration
	Location           *time.Location
}

type Scheduler struct {
	cron     *cron.Cron
	jobs     Jobs
	notifier notify.Notifier
	timeout  time.Duration
	loc      *time.Location
	logger   *zap.Logger
}

func New(jobs Jobs, notifier notify.Notifier, cfg Config, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultJobTimeout
	}

	s := &Scheduler{
		cron:     cron.New(cron.WithLocation(cfg.Location)),
		jobs:     jobs,
		notifier: notifier,
		timeout:  cfg.JobTimeout,
		loc:      cfg.Location,
		logger:   logger,
	}

	if err := s.add("validate-bookings", cfg.ValidationSchedule, s.ValidateBookings); err != nil {
		return nil, err
	}
	if err := s.add("reclassify", cfg.ReclassifySchedule, s.Reclassify); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) add(name, spec string, job func(context.Context) error) error {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		s.logger.Info("Scheduled job disabled", zap.String("job", name))
		return nil
	}
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if err := job(ctx); err != nil {
			s.logger.Error("Scheduled job failed", zap.String("job", name), zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", spec, name, err)
	}
	s.logger.Info("Scheduled job registered", zap.String("job", name), zap.String("cron", spec))
	return nil
}

// Entries reports how many jobs are registered.
func (s *Scheduler) Entries() int { return len(s.cron.Entries()) }

func (s *Scheduler) Start() {
	s.cron.Start()
	for _, e := range s.cron.Entries() {
		s.logger.Info("Next scheduled run", zap.Time("at", e.Next.In(s.loc)))
	}
}

// Stop halts the scheduler and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("Scheduler stop timed out with jobs still running")
	}
}

// ValidateBookings runs one validation sweep over the recent lookback and posts the summary.
func (s *Scheduler) ValidateBookings(ctx context.Context) error {
	summary, err := s.jobs.RunRecentValidation(ctx)
	if err != nil {
		return fmt.Errorf("validation sweep: %w", err)
	}
	if err := s.notifier.Notify(ctx, notify.FormatValidationSummary(summary, s.loc)); err != nil {
		s.logger.Warn("Failed to deliver validation summary", zap.Error(err), zap.String("run_id", summary.RunID))
	}
	return nil
}

func (s *Scheduler) Reclassify(ctx context.Context) error {
	summary, err := s.jobs.RunRecentReclassify(ctx)
	if err != nil {
		return fmt.Errorf("reclassify sweep: %w", err)
	}
	if summary.Processed == 0 {
		return nil
	}
	if err := s.notifier.Notify(ctx, notify.FormatReclassifySummary(summary)); err != nil {
		s.logger.Warn("Failed to deliver reclassify summary", zap.Error(err))
	}
	return nil
}
