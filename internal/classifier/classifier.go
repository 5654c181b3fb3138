package classifier

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/xaenox/callscope/internal/models"
)

// MinTranscriptRunes is the shortest trimmed transcript worth classifying.
const MinTranscriptRunes = 10

const (
	guardConfidence = 0.1
	guardModel      = "none"
)

// Classifier turns a call into a classification. Implementations never fail: every
// problem degrades to a lower-confidence result.
type Classifier interface {
	Classify(ctx context.Context, in Input) models.ClassificationResult
}

// IsKeywordModel reports whether a result came from the guard or the keyword rules
// rather than a language model.
func IsKeywordModel(model string) bool {
	return model == guardModel || model == heuristicModel
}

// Input carries the transcript and call metadata used for classification.
type Input struct {
	Transcript   string
	Direction    models.Direction
	Duration     int
	CallerNumber string
	CallDate     time.Time
}

// InputFromCall builds classifier input from a stored call.
func InputFromCall(c models.CallRecord) Input {
	return Input{
		Transcript:   c.Transcript,
		Direction:    c.Direction,
		Duration:     c.DurationSeconds,
		CallerNumber: c.CallerNumber,
		CallDate:     c.OccurredAt,
	}
}

// Guard short-circuits transcripts too short to classify. When ok is false the
// returned default result must be used as is.
func Guard(transcript string) (result models.ClassificationResult, ok bool) {
	trimmed := strings.TrimSpace(transcript)
	if utf8.RuneCountInString(trimmed) >= MinTranscriptRunes {
		return models.ClassificationResult{}, true
	}

	need := "No transcript available"
	if trimmed != "" {
		need = "Transcript too short for analysis"
	}
	result = models.ClassificationResult{
		Category:     models.CategoryOther,
		Intent:       models.IntentInquiry,
		Sentiment:    models.SentimentNeutral,
		CustomerNeed: need,
		Model:        guardModel,
	}
	result.SetConfidence(guardConfidence)
	return result, false
}
