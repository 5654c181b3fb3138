// Package export renders dashboard metrics and category listings as an xlsx workbook.
package export

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/xaenox/callscope/internal/aggregate"
	"github.com/xaenox/callscope/internal/filter"
	"github.com/xaenox/callscope/internal/models"
)

const SummarySheet = "Summary"

// Source is the read side of the pipeline that the workbook is built from.
// *pipeline.Service satisfies it.
type Source interface {
	Location() *time.Location
	DashboardSnapshot(ctx context.Context) (aggregate.Dashboard, []models.CallView, error)
}

type Service struct {
	source Source
	logger *zap.Logger
}

func NewService(source Source, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{source: source, logger: logger}
}

// DashboardXLSX returns a workbook with a Summary sheet for the dashboard windows and
// one sheet per category listing the calls of the current week. Both come from one
// store read, so every category sheet has exactly as many rows as its weekly count.
func (s *Service) DashboardXLSX(ctx context.Context) ([]byte, error) {
	start := time.Now()

	d, views, err := s.source.DashboardSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("load dashboard: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SummarySheet); err != nil {
		return nil, fmt.Errorf("rename summary sheet: %w", err)
	}
	if err := writeSummary(f, d); err != nil {
		return nil, err
	}

	week := aggregate.Within(views, d.ThisWeek.Range)
	loc := s.source.Location()
	rows := 0
	for _, c := range filter.Categories {
		members, err := filter.Select(week, c)
		if err != nil {
			return nil, err
		}
		if err := writeCalls(f, SheetName(c), members, loc); err != nil {
			return nil, err
		}
		rows += len(members)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("Dashboard export written",
		zap.Int("rows", rows),
		zap.Int64("elapsed_ms", time.Since(start).Milliseconds()))
	return buf.Bytes(), nil
}

// SheetName is the worksheet title for a category listing, e.g. "followup" -> "Followup".
func SheetName(c filter.Category) string {
	name := string(c)
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

// sheetWriter keeps the first excelize error and ignores later writes.
type sheetWriter struct {
	f     *excelize.File
	sheet string
	err   error
}

func (w *sheetWriter) cell(col, row int, value any) {
	if w.err != nil {
		return
	}
	name, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		w.err = err
		return
	}
	w.err = w.f.SetCellValue(w.sheet, name, value)
}

func (w *sheetWriter) row(row int, values []any) {
	if w.err != nil {
		return
	}
	name, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		w.err = err
		return
	}
	w.err = w.f.SetSheetRow(w.sheet, name, &values)
}

func (w *sheetWriter) width(startCol, endCol string, width float64) {
	if w.err != nil {
		return
	}
	w.err = w.f.SetColWidth(w.sheet, startCol, endCol, width)
}

func (w *sheetWriter) done() error {
	if w.err != nil {
		return fmt.Errorf("write sheet %s: %w", w.sheet, w.err)
	}
	return nil
}

func writeSummary(f *excelize.File, d aggregate.Dashboard) error {
	windows := []aggregate.RollupMetrics{d.Today, d.ThisWeek, d.LastWeek}
	rows := [][]any{
		{"Generated at", d.GeneratedAt.Format(time.RFC3339), "Timezone", d.Timezone},
		{},
		{"Metric", "Today", "This week", "Last week", "Trend %"},
	}
	for _, c := range filter.Categories {
		row := []any{string(c)}
		for _, w := range windows {
			row = append(row, w.Counts[c])
		}
		row = append(row, d.Trends[c])
		rows = append(rows, row)
	}

	metric := func(label string, value func(aggregate.RollupMetrics) any) {
		row := []any{label}
		for _, w := range windows {
			row = append(row, value(w))
		}
		rows = append(rows, row)
	}
	metric("classified", func(m aggregate.RollupMetrics) any { return m.ClassifiedCount })
	metric("needs review", func(m aggregate.RollupMetrics) any { return m.NeedsReviewCount })
	metric("average confidence", func(m aggregate.RollupMetrics) any { return m.AverageConfidence })
	metric("inbound", func(m aggregate.RollupMetrics) any { return m.Directions.Inbound })
	metric("outbound", func(m aggregate.RollupMetrics) any { return m.Directions.Outbound })
	metric("unknown direction", func(m aggregate.RollupMetrics) any { return m.Directions.Unknown })

	w := &sheetWriter{f: f, sheet: SummarySheet}
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		w.row(i+1, row)
	}
	w.width("A", "A", 22)
	w.width("B", "E", 14)
	return w.done()
}

var callHeaders = []string{
	"Call ID",
	"Occurred At",
	"Caller",
	"Direction",
	"Duration (s)",
	"Category",
	"Intent",
	"Sentiment",
	"Confidence",
	"Needs Review",
	"Validated",
}

func writeCalls(f *excelize.File, sheet string, views []models.CallView, loc *time.Location) error {
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("create sheet %s: %w", sheet, err)
	}
	w := &sheetWriter{f: f, sheet: sheet}
	for i, h := range callHeaders {
		w.cell(i+1, 1, h)
	}

	for i, v := range views {
		row := i + 2
		w.cell(1, row, v.Call.CallID)
		w.cell(2, row, v.Call.OccurredAt.In(loc).Format("2006-01-02 15:04"))
		w.cell(3, row, v.Call.CallerNumber)
		w.cell(4, row, v.Call.Direction.String())
		w.cell(5, row, v.Call.DurationSeconds)
		if cls := v.Classification; cls != nil {
			w.cell(6, row, string(cls.Category))
			w.cell(7, row, string(cls.Intent))
			w.cell(8, row, string(cls.Sentiment))
			w.cell(9, row, cls.Confidence)
			w.cell(10, row, cls.NeedsReview)
		}
		switch {
		case v.Outcome.Confirmed():
			w.cell(11, row, "confirmed")
		case v.Outcome.Checked():
			w.cell(11, row, "not found")
		}
	}

	w.width("A", "A", 24)
	w.width("B", "B", 18)
	w.width("C", "C", 16)
	return w.done()
}
