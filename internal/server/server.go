// Package server exposes the pipeline over HTTP.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xaenox/callscope/internal/aggregate"
	"github.com/xaenox/callscope/internal/filter"
	"github.com/xaenox/callscope/internal/models"
	"github.com/xaenox/callscope/internal/pipeline"
	"github.com/xaenox/callscope/internal/storage"
	"github.com/xaenox/callscope/internal/validation"
)

const maxBodyBytes = 1 << 20

// Pipeline is the set of operations served over HTTP. *pipeline.Service satisfies it.
type Pipeline interface {
	Location() *time.Location
	Ingest(ctx context.Context, call models.CallRecord) (models.ClassificationResult, error)
	GetClassification(ctx context.Context, callID string) (*models.ClassificationResult, error)
	ListCategoryDetailed(ctx context.Context, c filter.Category, r aggregate.DateRange) ([]models.CallView, filter.DebugInfo, error)
	Aggregate(ctx context.Context, r aggregate.DateRange) (aggregate.RollupMetrics, error)
	Dashboard(ctx context.Context) (aggregate.Dashboard, error)
	RunValidationSweep(ctx context.Context, r aggregate.DateRange) (models.ValidationSummary, error)
	RunRecentValidation(ctx context.Context) (models.ValidationSummary, error)
	ReclassifySweep(ctx context.Context, r aggregate.DateRange) (models.ReclassifySummary, error)
	RunRecentReclassify(ctx context.Context) (models.ReclassifySummary, error)
	ResetValidation(ctx context.Context, callID string) error
}

type Exporter interface {
	DashboardXLSX(ctx context.Context) ([]byte, error)
}

type Server struct {
	pipeline   Pipeline
	exporter   Exporter
	cronSecret string
	now        func() time.Time
	logger     *zap.Logger
	mux        *http.ServeMux
}

type Option func(*Server)

// WithClock overrides the clock used for default date ranges.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

func New(p Pipeline, exporter Exporter, cronSecret string, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		pipeline:   p,
		exporter:   exporter,
		cronSecret: cronSecret,
		now:        time.Now,
		logger:     logger,
		mux:        http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /calls", s.handleIngest)
	s.mux.HandleFunc("GET /calls", s.handleListCalls)
	s.mux.HandleFunc("GET /calls/{id}/classification", s.handleGetClassification)
	s.mux.HandleFunc("GET /metrics/rollup", s.handleRollup)
	s.mux.HandleFunc("GET /metrics/dashboard", s.handleDashboard)
	s.mux.HandleFunc("GET /export.xlsx", s.handleExport)
	s.mux.HandleFunc("POST /cron/validate-bookings", s.requireCronSecret(s.handleValidateBookings))
	s.mux.HandleFunc("POST /cron/reclassify", s.requireCronSecret(s.handleReclassify))
	s.mux.HandleFunc("DELETE /validations/{id}", s.handleResetValidation)
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

// ServeHTTP tags every request with an id and logs it after the handler returns.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set("X-Request-ID", requestID)

	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(rec, r)

	s.logger.Info("HTTP request",
		zap.String("request_id", requestID),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", rec.status),
		zap.Duration("elapsed", time.Since(start)))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var call models.CallRecord
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&call); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	res, err := s.pipeline.Ingest(r.Context(), call)
	if err != nil {
		s.fail(w, err, "Failed to ingest call", zap.String("call_id", call.CallID))
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type listResponse struct {
	Category filter.Category     `json:"category"`
	Range    aggregate.DateRange `json:"range"`
	Count    int                 `json:"count"`
	Calls    []models.CallView   `json:"calls"`
	Debug    filter.DebugInfo    `json:"debug"`
}

func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("category")
	if raw == "" {
		raw = string(filter.Total)
	}
	category, err := filter.ParseCategory(raw)
	if err != nil {
		s.fail(w, err, "Rejected category listing")
		return
	}
	rng, err := s.dateRange(r)
	if err != nil {
		s.fail(w, err, "Rejected category listing")
		return
	}

	views, info, err := s.pipeline.ListCategoryDetailed(r.Context(), category, rng)
	if err != nil {
		s.fail(w, err, "Failed to list calls", zap.String("category", string(category)))
		return
	}
	if views == nil {
		views = []models.CallView{}
	}
	writeJSON(w, http.StatusOK, listResponse{
		Category: category,
		Range:    rng,
		Count:    len(views),
		Calls:    views,
		Debug:    info,
	})
}

func (s *Server) handleGetClassification(w http.ResponseWriter, r *http.Request) {
	callID := r.PathValue("id")
	res, err := s.pipeline.GetClassification(r.Context(), callID)
	if err != nil {
		s.fail(w, err, "Failed to get classification", zap.String("call_id", callID))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRollup(w http.ResponseWriter, r *http.Request) {
	rng, err := s.dateRange(r)
	if err != nil {
		s.fail(w, err, "Rejected rollup")
		return
	}
	m, err := s.pipeline.Aggregate(r.Context(), rng)
	if err != nil {
		s.fail(w, err, "Failed to aggregate")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := s.pipeline.Dashboard(r.Context())
	if err != nil {
		s.fail(w, err, "Failed to build dashboard")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.exporter == nil {
		writeError(w, http.StatusNotFound, "export is not configured")
		return
	}
	data, err := s.exporter.DashboardXLSX(r.Context())
	if err != nil {
		s.fail(w, err, "Failed to export dashboard")
		return
	}
	name := "callscope-" + s.now().In(s.pipeline.Location()).Format("2006-01-02") + ".xlsx"
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleValidateBookings(w http.ResponseWriter, r *http.Request) {
	var (
		summary models.ValidationSummary
		err     error
	)
	if hasRange(r) {
		var rng aggregate.DateRange
		if rng, err = s.dateRange(r); err == nil {
			summary, err = s.pipeline.RunValidationSweep(r.Context(), rng)
		}
	} else {
		summary, err = s.pipeline.RunRecentValidation(r.Context())
	}
	if err != nil {
		s.fail(w, err, "Validation sweep failed")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleReclassify(w http.ResponseWriter, r *http.Request) {
	var (
		summary models.ReclassifySummary
		err     error
	)
	if hasRange(r) {
		var rng aggregate.DateRange
		if rng, err = s.dateRange(r); err == nil {
			summary, err = s.pipeline.ReclassifySweep(r.Context(), rng)
		}
	} else {
		summary, err = s.pipeline.RunRecentReclassify(r.Context())
	}
	if err != nil {
		s.fail(w, err, "Reclassify sweep failed")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleResetValidation(w http.ResponseWriter, r *http.Request) {
	callID := r.PathValue("id")
	if err := s.pipeline.ResetValidation(r.Context(), callID); err != nil {
		s.fail(w, err, "Failed to reset validation", zap.String("call_id", callID))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) requireCronSecret(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if s.cronSecret == "" || !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.cronSecret)) != 1 {
			s.logger.Warn("Unauthorized cron request", zap.String("path", r.URL.Path))
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func hasRange(r *http.Request) bool {
	q := r.URL.Query()
	return q.Get("from") != "" || q.Get("to") != ""
}

// dateRange reads inclusive from/to days in the business timezone. With neither set it
// covers today; with only to set it covers that single day.
func (s *Server) dateRange(r *http.Request) (aggregate.DateRange, error) {
	loc := s.pipeline.Location()
	from, to := r.URL.Query().Get("from"), r.URL.Query().Get("to")
	switch {
	case from == "" && to == "":
		return aggregate.ComputeWindows(s.now(), loc).Today, nil
	case from == "":
		from = to
	}
	return aggregate.DayRange(from, to, loc)
}

// fail maps domain errors onto status codes. Only unexpected errors are logged at error level.
func (s *Server) fail(w http.ResponseWriter, err error, msg string, fields ...zap.Field) {
	status := statusFor(err)
	fields = append(fields, zap.Error(err), zap.Int("status", status))
	if status >= http.StatusInternalServerError {
		s.logger.Error(msg, fields...)
		if status == http.StatusInternalServerError {
			writeError(w, status, "internal error")
		} else {
			writeError(w, status, err.Error())
		}
		return
	}
	s.logger.Info(msg, fields...)
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrInvalidCall),
		errors.Is(err, filter.ErrUnknownCategory),
		errors.Is(err, aggregate.ErrInvalidRange):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, validation.ErrNoJobSource):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
