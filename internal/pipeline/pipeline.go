// Package pipeline exposes the call classification and validation operations over a
// shared store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xaenox/callscope/internal/aggregate"
	"github.com/xaenox/callscope/internal/classifier"
	"github.com/xaenox/callscope/internal/filter"
	"github.com/xaenox/callscope/internal/models"
	"github.com/xaenox/callscope/internal/storage"
	"github.com/xaenox/callscope/internal/validation"
)

var ErrInvalidCall = errors.New("invalid call")

const (
	DefaultClassifierVersion     = "v1.0"
	DefaultReclassifyBatchSize   = 50
	DefaultReclassifyConcurrency = 4
	DefaultReclassifyLookback    = 30 * 24 * time.Hour
	DefaultValidationLookback    = 7 * 24 * time.Hour
)

type Config struct {
	ClassifierVersion     string
	ReclassifyBatchSize   int
	ReclassifyConcurrency int
	ReclassifyLookback    time.Duration
	ValidationLookback    time.Duration
	Now                   func() time.Time
}

func (c Config) withDefaults() Config {
	if c.ClassifierVersion == "" {
		c.ClassifierVersion = DefaultClassifierVersion
	}
	if c.ReclassifyBatchSize <= 0 {
		c.ReclassifyBatchSize = DefaultReclassifyBatchSize
	}
	if c.ReclassifyConcurrency <= 0 {
		c.ReclassifyConcurrency = DefaultReclassifyConcurrency
	}
	if c.ReclassifyLookback <= 0 {
		c.ReclassifyLookback = DefaultReclassifyLookback
	}
	if c.ValidationLookback <= 0 {
		c.ValidationLookback = DefaultValidationLookback
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

type Service struct {
	store       storage.Storage
	classifier  classifier.Classifier
	keywordOnly bool
	engine      *aggregate.Engine
	validator   *validation.Loop
	cfg         Config
	logger      *zap.Logger
}

type keywordOnlyClassifier interface {
	KeywordOnly() bool
}

func NewService(
	store storage.Storage,
	cls classifier.Classifier,
	engine *aggregate.Engine,
	validator *validation.Loop,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:      store,
		classifier: cls,
		engine:     engine,
		validator:  validator,
		cfg:        cfg.withDefaults(),
		logger:     logger,
	}
	if k, ok := cls.(keywordOnlyClassifier); ok {
		s.keywordOnly = k.KeywordOnly()
	}
	return s
}

func (s *Service) Location() *time.Location { return s.engine.Location() }

func (s *Service) ClassifierVersion() string { return s.cfg.ClassifierVersion }

func validateCall(call models.CallRecord) error {
	switch {
	case call.CallID == "":
		return fmt.Errorf("%w: call_id is required", ErrInvalidCall)
	case call.DurationSeconds < 0:
		return fmt.Errorf("%w: duration_seconds must be >= 0", ErrInvalidCall)
	case call.OccurredAt.IsZero():
		return fmt.Errorf("%w: occurred_at is required", ErrInvalidCall)
	}
	return nil
}

// Ingest stores a call and classifies it.
func (s *Service) Ingest(ctx context.Context, call models.CallRecord) (models.ClassificationResult, error) {
	if err := validateCall(call); err != nil {
		return models.ClassificationResult{}, err
	}
	if err := s.store.SaveCall(ctx, call); err != nil {
		return models.ClassificationResult{}, fmt.Errorf("ingest call: %w", err)
	}
	return s.Classify(ctx, call)
}

// Classify runs the classifier chain and persists the result. Classification itself
// cannot fail; only a store write error is returned.
func (s *Service) Classify(ctx context.Context, call models.CallRecord) (models.ClassificationResult, error) {
	if call.CallID == "" {
		return models.ClassificationResult{}, fmt.Errorf("%w: call_id is required", ErrInvalidCall)
	}
	res := s.classifier.Classify(ctx, classifier.InputFromCall(call))
	res.CallID = call.CallID
	res.ClassifierVersion = s.cfg.ClassifierVersion
	res.ClassifiedAt = s.cfg.Now().UTC()
	res.SetConfidence(res.Confidence)

	if err := s.store.SaveClassification(ctx, res); err != nil {
		s.logger.Error("Failed to save classification",
			zap.String("call_id", call.CallID),
			zap.Error(err))
		return res, fmt.Errorf("classify call %s: %w", call.CallID, err)
	}

	s.logger.Info("Call classified",
		zap.String("call_id", call.CallID),
		zap.String("category", string(res.Category)),
		zap.String("intent", string(res.Intent)),
		zap.Float64("confidence", res.Confidence),
		zap.String("model", res.Model))
	return res, nil
}

func (s *Service) GetClassification(ctx context.Context, callID string) (*models.ClassificationResult, error) {
	return s.store.GetClassification(ctx, callID)
}

// ListCategory returns the calls in category c during r, newest first.
func (s *Service) ListCategory(ctx context.Context, c filter.Category, r aggregate.DateRange) ([]models.CallRecord, error) {
	views, _, err := s.ListCategoryDetailed(ctx, c, r)
	if err != nil {
		return nil, err
	}
	calls := make([]models.CallRecord, len(views))
	for i, v := range views {
		calls[i] = v.Call
	}
	return calls, nil
}

// ListCategoryDetailed is ListCategory with joined classifications and the filter
// description used.
func (s *Service) ListCategoryDetailed(ctx context.Context, c filter.Category, r aggregate.DateRange) ([]models.CallView, filter.DebugInfo, error) {
	info, err := filter.Describe(c)
	if err != nil {
		return nil, filter.DebugInfo{}, err
	}
	if err := r.Validate(); err != nil {
		return nil, filter.DebugInfo{}, err
	}
	views, err := s.store.CallsInRange(ctx, r.From, r.To)
	if err != nil {
		return nil, filter.DebugInfo{}, fmt.Errorf("list %s calls: %w", c, err)
	}
	members, err := filter.Select(views, c)
	if err != nil {
		return nil, filter.DebugInfo{}, err
	}
	return members, info, nil
}

func (s *Service) Aggregate(ctx context.Context, r aggregate.DateRange) (aggregate.RollupMetrics, error) {
	return s.engine.Aggregate(ctx, r)
}

func (s *Service) Dashboard(ctx context.Context) (aggregate.Dashboard, error) {
	return s.engine.Dashboard(ctx, s.cfg.Now())
}

// DashboardSnapshot returns the dashboard together with the calls it was built from.
func (s *Service) DashboardSnapshot(ctx context.Context) (aggregate.Dashboard, []models.CallView, error) {
	return s.engine.Snapshot(ctx, s.cfg.Now())
}

func (s *Service) RunValidationSweep(ctx context.Context, r aggregate.DateRange) (models.ValidationSummary, error) {
	if err := r.Validate(); err != nil {
		return models.ValidationSummary{}, err
	}
	return s.validator.Run(ctx, r.From, r.To)
}

// RunRecentValidation sweeps the configured lookback ending now.
func (s *Service) RunRecentValidation(ctx context.Context) (models.ValidationSummary, error) {
	now := s.cfg.Now()
	return s.RunValidationSweep(ctx, aggregate.DateRange{From: now.Add(-s.cfg.ValidationLookback), To: now})
}

func (s *Service) ResetValidation(ctx context.Context, callID string) error {
	if err := s.store.ResetValidation(ctx, callID); err != nil {
		return fmt.Errorf("reset validation %s: %w", callID, err)
	}
	s.logger.Info("Validation outcome reset", zap.String("call_id", callID))
	return nil
}

// NeedsReclassification reports whether a call with a transcript should be classified
// again under the given classifier version.
func NeedsReclassification(v models.CallView, version string) bool {
	cls := v.Classification
	switch {
	case cls == nil:
		return true
	case cls.Confidence < models.ReviewThreshold, cls.NeedsReview:
		return true
	case cls.ClassifierVersion != version:
		return true
	}
	return false
}

// needsWork is NeedsReclassification narrowed for keyword-only deployments: there a
// current-version keyword result would be reproduced unchanged, so only missing, stale
// or model-produced rows are worth another pass.
func (s *Service) needsWork(v models.CallView) bool {
	if !NeedsReclassification(v, s.cfg.ClassifierVersion) {
		return false
	}
	cls := v.Classification
	if s.keywordOnly && cls != nil &&
		cls.ClassifierVersion == s.cfg.ClassifierVersion &&
		classifier.IsKeywordModel(cls.Model) {
		return false
	}
	return true
}

// ReclassifySweep re-runs classification for at most one batch of calls in r that lack
// a trustworthy current classification. Newest calls go first, so when more than a batch
// needs work the older calls wait for later runs.
func (s *Service) ReclassifySweep(ctx context.Context, r aggregate.DateRange) (models.ReclassifySummary, error) {
	var summary models.ReclassifySummary
	if err := r.Validate(); err != nil {
		return summary, err
	}
	views, err := s.store.CallsInRange(ctx, r.From, r.To)
	if err != nil {
		return summary, fmt.Errorf("load calls for reclassification: %w", err)
	}

	pending := make([]models.CallRecord, 0)
	for _, v := range views {
		if !v.Call.HasTranscript() || filter.IsReservedTestID(v.Call.CallID) {
			continue
		}
		summary.Considered++
		if s.needsWork(v) {
			pending = append(pending, v.Call)
		}
	}
	summary.NeedingWork = len(pending)

	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].OccurredAt.After(pending[j].OccurredAt)
	})
	if len(pending) > s.cfg.ReclassifyBatchSize {
		pending = pending[:s.cfg.ReclassifyBatchSize]
	}
	summary.Processed = len(pending)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.cfg.ReclassifyConcurrency)
	for _, call := range pending {
		g.Go(func() error {
			_, err := s.Classify(ctx, call)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summary.Failed++
				return nil
			}
			summary.Succeeded++
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info("Reclassification sweep finished",
		zap.Int("considered", summary.Considered),
		zap.Int("needing_work", summary.NeedingWork),
		zap.Int("processed", summary.Processed),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed))
	return summary, nil
}

// RunRecentReclassify sweeps the configured lookback ending now.
func (s *Service) RunRecentReclassify(ctx context.Context) (models.ReclassifySummary, error) {
	now := s.cfg.Now()
	return s.ReclassifySweep(ctx, aggregate.DateRange{From: now.Add(-s.cfg.ReclassifyLookback), To: now})
}
