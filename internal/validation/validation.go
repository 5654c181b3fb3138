// Package validation checks classifier-flagged bookings against jobs in the system of
// record.
//
// The check is recall-blind: it only measures whether calls the classifier called
// bookings were followed by a real job. Calls that led to jobs without being flagged are
// never examined.
package validation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xaenox/callscope/internal/crm"
	"github.com/xaenox/callscope/internal/filter"
	"github.com/xaenox/callscope/internal/models"
)

// ErrNoJobSource is returned by Run when no system of record is configured. Nothing is
// recorded, so every flagged booking stays unchecked until a source exists.
var ErrNoJobSource = errors.New("no system of record configured")

const (
	DefaultWindow      = 48 * time.Hour
	DefaultConcurrency = 4
	phoneSuffixDigits  = 4
)

// Store is the slice of storage.Storage the loop needs.
type Store interface {
	CallsInRange(ctx context.Context, from, to time.Time) ([]models.CallView, error)
	RecordValidation(ctx context.Context, outcome models.ValidationOutcome) (bool, error)
}

type Loop struct {
	store       Store
	jobs        crm.JobSource
	window      time.Duration
	concurrency int
	now         func() time.Time
	logger      *zap.Logger
}

type Option func(*Loop)

func WithWindow(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.window = d
		}
	}
}

func WithConcurrency(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.concurrency = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Loop) { l.now = now }
}

func NewLoop(store Store, jobs crm.JobSource, logger *zap.Logger, opts ...Option) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Loop{
		store:       store,
		jobs:        jobs,
		window:      DefaultWindow,
		concurrency: DefaultConcurrency,
		now:         time.Now,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Eligible reports whether a call should be checked: flagged as a booking, strictly
// inbound, not a test record, and not yet checked.
func Eligible(v models.CallView) bool {
	return v.Classification.IsBooking() &&
		v.Call.Direction == models.DirectionInbound &&
		!filter.IsReservedTestID(v.Call.CallID) &&
		!v.Outcome.Checked()
}

// Matches reports whether job plausibly belongs to the caller: the client name contains
// the last four digits of the caller number, or the client id equals the number.
// Last-four matching can confirm a booking for an unrelated client sharing those digits.
func Matches(job crm.Job, callerNumber string) bool {
	if job.ClientID != "" && job.ClientID == callerNumber {
		return true
	}
	digits := digitsOnly(callerNumber)
	if len(digits) < phoneSuffixDigits {
		return false
	}
	return strings.Contains(job.ClientName, digits[len(digits)-phoneSuffixDigits:])
}

// FirstMatch returns the earliest-created job matching the caller.
func FirstMatch(jobs []crm.Job, callerNumber string) (crm.Job, bool) {
	sorted := append([]crm.Job(nil), jobs...)
	crm.SortByCreation(sorted)
	for _, j := range sorted {
		if Matches(j, callerNumber) {
			return j, true
		}
	}
	return crm.Job{}, false
}

// WindowClosed reports whether every job that could confirm call already had the chance
// to be created at now.
func (l *Loop) WindowClosed(call models.CallRecord, now time.Time) bool {
	return !call.OccurredAt.Add(l.window).After(now)
}

type result int

const (
	resultConfirmed result = iota
	resultFalsePositive
	resultSkipped
	resultFailed
)

// Run checks every eligible call that occurred in [from, to) and whose match window has
// closed. Calls still inside their window are counted as pending and left for a later
// run. A failure on one call is logged and leaves it unchecked.
func (l *Loop) Run(ctx context.Context, from, to time.Time) (models.ValidationSummary, error) {
	summary := models.ValidationSummary{
		RunID: uuid.NewString(),
		From:  from.UTC(),
		To:    to.UTC(),
	}
	if l.jobs == nil {
		l.logger.Warn("Booking validation skipped, no system of record configured",
			zap.String("run_id", summary.RunID))
		return summary, ErrNoJobSource
	}

	views, err := l.store.CallsInRange(ctx, from, to)
	if err != nil {
		return summary, fmt.Errorf("load calls for validation: %w", err)
	}

	now := l.now()
	candidates := make([]models.CallView, 0)
	for _, v := range views {
		if !Eligible(v) {
			continue
		}
		if !l.WindowClosed(v.Call, now) {
			summary.Pending++
			continue
		}
		candidates = append(candidates, v)
	}
	summary.Candidates = len(candidates)

	var (
		mu    sync.Mutex
		g     errgroup.Group
		runID = summary.RunID
	)
	g.SetLimit(l.concurrency)
	for _, v := range candidates {
		call := v.Call
		g.Go(func() error {
			r := l.check(ctx, call, runID)
			mu.Lock()
			defer mu.Unlock()
			switch r {
			case resultConfirmed:
				summary.Validated++
				summary.Confirmed++
			case resultFalsePositive:
				summary.Validated++
				summary.FalsePositives++
			case resultSkipped:
				summary.Skipped++
			case resultFailed:
				summary.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()

	if summary.Validated > 0 {
		summary.AccuracyRate = float64(summary.Confirmed) / float64(summary.Validated)
	}

	l.logger.Info("Booking validation finished",
		zap.String("run_id", summary.RunID),
		zap.Int("candidates", summary.Candidates),
		zap.Int("pending", summary.Pending),
		zap.Int("validated", summary.Validated),
		zap.Int("confirmed", summary.Confirmed),
		zap.Int("false_positives", summary.FalsePositives),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Float64("accuracy_rate", summary.AccuracyRate))
	return summary, nil
}

func (l *Loop) check(ctx context.Context, call models.CallRecord, runID string) result {
	if err := ctx.Err(); err != nil {
		return resultFailed
	}

	jobs, err := l.jobs.JobsCreatedBetween(ctx, call.OccurredAt, call.OccurredAt.Add(l.window))
	if err != nil {
		l.logger.Warn("CRM lookup failed, call left unchecked",
			zap.String("call_id", call.CallID),
			zap.Error(err))
		return resultFailed
	}

	job, found := FirstMatch(jobs, call.CallerNumber)
	outcome := models.ValidationOutcome{
		CallID:    call.CallID,
		Validated: &found,
		CheckedAt: l.now().UTC(),
		RunID:     runID,
	}
	if found {
		outcome.MatchedExternalID = job.ID
	}

	written, err := l.store.RecordValidation(ctx, outcome)
	if err != nil {
		l.logger.Error("Failed to record validation outcome",
			zap.String("call_id", call.CallID),
			zap.Error(err))
		return resultFailed
	}
	if !written {
		l.logger.Debug("Call already validated by another run", zap.String("call_id", call.CallID))
		return resultSkipped
	}

	if found {
		l.logger.Debug("Confirmed booking",
			zap.String("call_id", call.CallID),
			zap.String("job_id", job.ID))
		return resultConfirmed
	}
	l.logger.Debug("False positive booking", zap.String("call_id", call.CallID))
	return resultFalsePositive
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
