package storage

import (
	"context"
	"errors"
	"time"

	"github.com/xaenox/callscope/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrUnchecked is returned when asked to persist an outcome with no verdict.
	ErrUnchecked = errors.New("validation outcome has no verdict")
)

// Storage persists calls, their classifications and validation outcomes.
//
// Classification writes replace the whole row. Validation outcomes are write-once:
// RecordValidation reports false when an outcome already exists, and only
// ResetValidation clears one.
type Storage interface {
	SaveCall(ctx context.Context, call models.CallRecord) error
	GetCall(ctx context.Context, callID string) (*models.CallRecord, error)

	SaveClassification(ctx context.Context, res models.ClassificationResult) error
	GetClassification(ctx context.Context, callID string) (*models.ClassificationResult, error)

	// CallsInRange returns calls with from <= occurred_at < to, joined with their
	// classification and outcome, ordered by occurred_at then call id.
	CallsInRange(ctx context.Context, from, to time.Time) ([]models.CallView, error)

	RecordValidation(ctx context.Context, outcome models.ValidationOutcome) (bool, error)
	GetValidation(ctx context.Context, callID string) (*models.ValidationOutcome, error)
	ResetValidation(ctx context.Context, callID string) error

	Close() error
}

// normalizeClassification re-derives NeedsReview so no backend can persist a row that
// breaks the confidence coupling.
func normalizeClassification(res models.ClassificationResult) models.ClassificationResult {
	res.SetConfidence(res.Confidence)
	if !res.ClassifiedAt.IsZero() {
		res.ClassifiedAt = res.ClassifiedAt.UTC()
	}
	return res
}

var (
	_ Storage = (*MemoryStorage)(nil)
	_ Storage = (*PostgresStorage)(nil)
	_ Storage = (*SQLiteStorage)(nil)
)
