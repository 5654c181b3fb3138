// Package aggregate rolls classified calls up into dashboard metrics. Category
// membership always comes from package filter.
package aggregate

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/callscope/internal/filter"
	"github.com/xaenox/callscope/internal/models"
)

// Source supplies joined call views. storage.Storage satisfies it.
type Source interface {
	CallsInRange(ctx context.Context, from, to time.Time) ([]models.CallView, error)
}

type RollupMetrics struct {
	Range             DateRange               `json:"range"`
	Counts            map[filter.Category]int `json:"counts"`
	ClassifiedCount   int                     `json:"classified_count"`
	NeedsReviewCount  int                     `json:"needs_review_count"`
	AverageConfidence float64                 `json:"average_confidence"`
	Directions        filter.DirectionCounts  `json:"directions"`
}

type Dashboard struct {
	GeneratedAt time.Time               `json:"generated_at"`
	Timezone    string                  `json:"timezone"`
	Today       RollupMetrics           `json:"today"`
	ThisWeek    RollupMetrics           `json:"this_week"`
	LastWeek    RollupMetrics           `json:"last_week"`
	Trends      map[filter.Category]int `json:"trends"`
}

type Engine struct {
	source Source
	loc    *time.Location
	logger *zap.Logger
}

func NewEngine(source Source, loc *time.Location, logger *zap.Logger) *Engine {
	if loc == nil {
		loc, _ = LoadLocation(DefaultTimezone)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{source: source, loc: loc, logger: logger}
}

func (e *Engine) Location() *time.Location { return e.loc }

func (e *Engine) Aggregate(ctx context.Context, r DateRange) (RollupMetrics, error) {
	if err := r.Validate(); err != nil {
		return RollupMetrics{}, err
	}
	views, err := e.source.CallsInRange(ctx, r.From, r.To)
	if err != nil {
		return RollupMetrics{}, fmt.Errorf("load calls for rollup: %w", err)
	}
	return Rollup(views, r), nil
}

// Dashboard loads the calls covering last week through today once and rolls each
// window up from that single snapshot.
func (e *Engine) Dashboard(ctx context.Context, now time.Time) (Dashboard, error) {
	d, _, err := e.Snapshot(ctx, now)
	return d, err
}

// Snapshot is Dashboard plus the calls it was computed from, so callers can list
// category members that agree with the dashboard counts.
func (e *Engine) Snapshot(ctx context.Context, now time.Time) (Dashboard, []models.CallView, error) {
	w := ComputeWindows(now, e.loc)
	views, err := e.source.CallsInRange(ctx, w.LastWeek.From, w.Today.To)
	if err != nil {
		return Dashboard{}, nil, fmt.Errorf("load calls for dashboard: %w", err)
	}

	d := Dashboard{
		GeneratedAt: now.UTC(),
		Timezone:    e.loc.String(),
		Today:       Rollup(Within(views, w.Today), w.Today),
		ThisWeek:    Rollup(Within(views, w.ThisWeek), w.ThisWeek),
		LastWeek:    Rollup(Within(views, w.LastWeek), w.LastWeek),
	}
	d.Trends = Trends(d.ThisWeek, d.LastWeek)

	e.logger.Debug("Dashboard computed",
		zap.Int("calls", len(views)),
		zap.Int("today_total", d.Today.Counts[filter.Total]))
	return d, views, nil
}

// Rollup computes metrics over views already restricted to r.
func Rollup(views []models.CallView, r DateRange) RollupMetrics {
	m := RollupMetrics{
		Range:      r,
		Counts:     filter.CountAll(views),
		Directions: filter.CountByDirection(views),
	}

	members, _ := filter.Select(views, filter.Total)
	var sum float64
	var n int
	for _, v := range members {
		cls := v.Classification
		if cls == nil {
			continue
		}
		m.ClassifiedCount++
		if cls.NeedsReview {
			m.NeedsReviewCount++
		}
		if cls.Confidence > 0 {
			sum += cls.Confidence
			n++
		}
	}
	if n > 0 {
		m.AverageConfidence = sum / float64(n)
	}
	return m
}

// Trends compares per-category counts of cur against prev.
func Trends(cur, prev RollupMetrics) map[filter.Category]int {
	out := make(map[filter.Category]int, len(filter.Categories))
	for _, c := range filter.Categories {
		out[c] = TrendDelta(cur.Counts[c], prev.Counts[c])
	}
	return out
}

// TrendDelta is the rounded percentage change from prev to cur, or 0 when prev is 0.
func TrendDelta(cur, prev int) int {
	if prev <= 0 {
		return 0
	}
	return int(math.Round(float64(cur-prev) / float64(prev) * 100))
}

// Within keeps the views that occurred in r.
func Within(views []models.CallView, r DateRange) []models.CallView {
	out := make([]models.CallView, 0, len(views))
	for _, v := range views {
		if r.Contains(v.Call.OccurredAt) {
			out = append(out, v)
		}
	}
	return out
}
