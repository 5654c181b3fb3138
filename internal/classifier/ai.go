package classifier

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/callscope/internal/models"
)

const (
	DefaultTimeout         = 20 * time.Second
	DefaultMinAIConfidence = 0.2
)

// AIClassifier asks a TextGenerator for a classification and falls back to the
// heuristic classifier on any failure. It never returns an error.
type AIClassifier struct {
	generator     TextGenerator
	fallback      *HeuristicClassifier
	timeout       time.Duration
	minConfidence float64
	logger        *zap.Logger
}

type AIOption func(*AIClassifier)

func WithTimeout(d time.Duration) AIOption {
	return func(c *AIClassifier) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMinConfidence sets the floor below which a model answer is discarded in favour of
// the heuristic.
func WithMinConfidence(v float64) AIOption {
	return func(c *AIClassifier) { c.minConfidence = models.ClampConfidence(v) }
}

// NewAIClassifier builds the adapter. A nil generator means no credentials were
// configured and every call goes to the heuristic.
func NewAIClassifier(gen TextGenerator, logger *zap.Logger, opts ...AIOption) *AIClassifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &AIClassifier{
		generator:     gen,
		fallback:      NewHeuristicClassifier(),
		timeout:       DefaultTimeout,
		minConfidence: DefaultMinAIConfidence,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// KeywordOnly reports whether no generator is configured, so every result comes from
// the guard or the keyword rules.
func (c *AIClassifier) KeywordOnly() bool { return c.generator == nil }

func (c *AIClassifier) Classify(ctx context.Context, in Input) models.ClassificationResult {
	if res, ok := Guard(in.Transcript); !ok {
		return res
	}
	if c.generator == nil {
		return c.fallback.Analyze(in.Transcript)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := c.generator.Generate(ctx, BuildPrompt(in))
	if err != nil {
		c.logger.Warn("Text generation failed, using keyword fallback",
			zap.String("model", c.generator.Model()),
			zap.Error(err))
		return c.fallback.Analyze(in.Transcript)
	}

	doc, err := parseResponse(raw)
	if err != nil {
		c.logger.Warn("Failed to parse model response, using keyword fallback",
			zap.Error(err),
			zap.Int("response_len", len(raw)))
		return c.fallback.Analyze(in.Transcript)
	}

	res := models.ClassificationResult{
		Category:      NormalizeCategory(doc["category"]),
		Intent:        NormalizeIntent(doc["intent"]),
		Sentiment:     NormalizeSentiment(doc["sentiment"]),
		ServiceDetail: optionalString(doc["service_detail"]),
		CustomerNeed:  optionalString(doc["customer_need"]),
		Model:         c.generator.Model(),
	}
	res.SetConfidence(NormalizeConfidence(doc["confidence"]))

	if res.Confidence < c.minConfidence {
		c.logger.Info("Model confidence below floor, using keyword fallback",
			zap.Float64("confidence", res.Confidence),
			zap.Float64("floor", c.minConfidence))
		return c.fallback.Analyze(in.Transcript)
	}
	return res
}
