package classifier

import (
	"context"
	"regexp"

	"github.com/xaenox/callscope/internal/models"
)

const (
	heuristicConfidence = 0.4
	heuristicModel      = "keyword-fallback"
)

type rule[T any] struct {
	value T
	re    *regexp.Regexp
}

// Order matters: the first matching rule wins.
var categoryRules = []rule[models.Category]{
	{models.CategoryWaterHeater, regexp.MustCompile(`(?i)(water heater|hot water|tankless|\btank\b|pilot light)`)},
	{models.CategoryHVAC, regexp.MustCompile(`(?i)(furnace|\bac\b|\ba/c\b|air condition|heating|cooling|hvac|thermostat|heat pump|air handler|ductwork)`)},
	{models.CategoryDrain, regexp.MustCompile(`(?i)(drain|clog|\bsnake|sewer|backup|backed up|main line)`)},
	{models.CategoryPlumbing, regexp.MustCompile(`(?i)(toilet|sink|faucet|pipe|leak|plumb|fixture|shower|garbage disposal|valve)`)},
	{models.CategoryFinancing, regexp.MustCompile(`(?i)(financ|payment plan|credit|pay over time)`)},
	{models.CategoryMembership, regexp.MustCompile(`(?i)(membership|service plan|maintenance agreement)`)},
}

var intentRules = []rule[models.Intent]{
	{models.IntentEmergency, regexp.MustCompile(`(?i)(emergency|urgent|flood|burst|no heat|gas smell|gas leak|\basap\b|as soon as possible|leaking badly|water everywhere|overflowing|right away)`)},
	{models.IntentBooking, regexp.MustCompile(`(?i)(schedule|\bbook|appointment|send someone|come out|when can you|what time can you|available)`)},
	{models.IntentEstimate, regexp.MustCompile(`(?i)(how much|\bcost|price|quote|estimate)`)},
	{models.IntentComplaint, regexp.MustCompile(`(?i)(complain|unhappy|upset|problem with|issue with|refund)`)},
	{models.IntentFollowUp, regexp.MustCompile(`(?i)(status|following up|follow up|checking on|checking in|call back|permit|\bparts?\b)`)},
}

var (
	positiveWords = regexp.MustCompile(`(?i)(thank|great|appreciate|wonderful|excellent|perfect)`)
	negativeWords = regexp.MustCompile(`(?i)(angry|frustrated|upset|terrible|awful|horrible|ridiculous)`)
)

// HeuristicClassifier is the deterministic keyword classifier. It is the fallback for
// the AI adapter and the baseline other classifiers are compared against.
type HeuristicClassifier struct{}

func NewHeuristicClassifier() *HeuristicClassifier {
	return &HeuristicClassifier{}
}

// Classify applies the transcript guard and then Analyze.
func (c *HeuristicClassifier) Classify(_ context.Context, in Input) models.ClassificationResult {
	if res, ok := Guard(in.Transcript); !ok {
		return res
	}
	return c.Analyze(in.Transcript)
}

// Analyze scores a transcript with the ordered keyword rules. Results always need review.
func (c *HeuristicClassifier) Analyze(transcript string) models.ClassificationResult {
	res := models.ClassificationResult{
		Category:     firstMatch(categoryRules, transcript, models.CategoryOther),
		Intent:       firstMatch(intentRules, transcript, models.IntentInquiry),
		Sentiment:    keywordSentiment(transcript),
		CustomerNeed: "Analysis using keyword fallback",
		Model:        heuristicModel,
	}
	res.SetConfidence(heuristicConfidence)
	return res
}

func firstMatch[T any](rules []rule[T], text string, fallback T) T {
	for _, r := range rules {
		if r.re.MatchString(text) {
			return r.value
		}
	}
	return fallback
}

func keywordSentiment(text string) models.Sentiment {
	pos := positiveWords.MatchString(text)
	neg := negativeWords.MatchString(text)
	switch {
	case pos && !neg:
		return models.SentimentPositive
	case neg && !pos:
		return models.SentimentNegative
	}
	return models.SentimentNeutral
}
