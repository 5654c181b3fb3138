package classifier

import (
	"strconv"
	"strings"

	"github.com/xaenox/callscope/internal/models"
)

const defaultAIConfidence = 0.5

// NormalizeCategory maps free model text onto the category taxonomy.
// Water heater phrases are checked before the generic "heat" match.
func NormalizeCategory(v any) models.Category {
	s := lowerString(v)
	compact := strings.ReplaceAll(s, " ", "")
	switch {
	case s == "":
		return models.CategoryOther
	case strings.Contains(compact, "waterheater"), strings.Contains(s, "hot water"), strings.Contains(s, "tankless"):
		return models.CategoryWaterHeater
	case strings.Contains(s, "plumb"):
		return models.CategoryPlumbing
	case strings.Contains(s, "hvac"), strings.Contains(s, "heat"), strings.Contains(s, "cool"):
		return models.CategoryHVAC
	case strings.Contains(s, "drain"), strings.Contains(s, "sewer"):
		return models.CategoryDrain
	case strings.Contains(s, "financ"):
		return models.CategoryFinancing
	case strings.Contains(s, "member"):
		return models.CategoryMembership
	}
	return models.CategoryOther
}

func NormalizeIntent(v any) models.Intent {
	s := lowerString(v)
	switch {
	case strings.Contains(s, "book"):
		return models.IntentBooking
	case strings.Contains(s, "estimate"), strings.Contains(s, "quote"):
		return models.IntentEstimate
	case strings.Contains(s, "emergency"), strings.Contains(s, "urgent"):
		return models.IntentEmergency
	case strings.Contains(s, "inquir"), strings.Contains(s, "question"):
		return models.IntentInquiry
	case strings.Contains(s, "complain"):
		return models.IntentComplaint
	case strings.Contains(s, "follow"):
		return models.IntentFollowUp
	}
	return models.IntentInquiry
}

func NormalizeSentiment(v any) models.Sentiment {
	s := lowerString(v)
	switch {
	case strings.Contains(s, "pos"):
		return models.SentimentPositive
	case strings.Contains(s, "neg"):
		return models.SentimentNegative
	}
	return models.SentimentNeutral
}

// NormalizeConfidence accepts numbers and numeric strings. Anything else, including
// zero, becomes the default 0.5; the result is clamped to [0,1].
func NormalizeConfidence(v any) float64 {
	var c float64
	switch t := v.(type) {
	case float64:
		c = t
	case int:
		c = float64(t)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return defaultAIConfidence
		}
		c = f
	default:
		return defaultAIConfidence
	}
	if c == 0 {
		return defaultAIConfidence
	}
	return models.ClampConfidence(c)
}

func optionalString(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func lowerString(v any) string {
	s, _ := v.(string)
	return strings.ToLower(strings.TrimSpace(s))
}
