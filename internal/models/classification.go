package models

import (
	"math"
	"time"
)

// ReviewThreshold is the confidence below which a classification needs human review.
const ReviewThreshold = 0.6

type Category string

const (
	CategoryPlumbing    Category = "Plumbing"
	CategoryHVAC        Category = "HVAC"
	CategoryDrain       Category = "Drain"
	CategoryWaterHeater Category = "Water Heater"
	CategoryFinancing   Category = "Financing"
	CategoryMembership  Category = "Membership"
	CategoryOther       Category = "Other"
)

// Categories lists the service taxonomy in prompt order.
var Categories = []Category{
	CategoryPlumbing, CategoryHVAC, CategoryDrain, CategoryWaterHeater,
	CategoryFinancing, CategoryMembership, CategoryOther,
}

type Intent string

const (
	IntentBooking   Intent = "Booking"
	IntentEstimate  Intent = "Estimate"
	IntentEmergency Intent = "Emergency"
	IntentInquiry   Intent = "Inquiry"
	IntentComplaint Intent = "Complaint"
	IntentFollowUp  Intent = "Follow-up"
)

var Intents = []Intent{
	IntentBooking, IntentEstimate, IntentEmergency, IntentInquiry, IntentComplaint, IntentFollowUp,
}

type Sentiment string

const (
	SentimentPositive Sentiment = "Positive"
	SentimentNeutral  Sentiment = "Neutral"
	SentimentNegative Sentiment = "Negative"
)

var Sentiments = []Sentiment{SentimentPositive, SentimentNeutral, SentimentNegative}

// ClassificationResult is the pipeline's judgment about one call. A stored result is
// always replaced as a whole; NeedsReview must only be changed through SetConfidence.
type ClassificationResult struct {
	CallID            string    `json:"call_id"`
	Category          Category  `json:"category"`
	Intent            Intent    `json:"intent"`
	Sentiment         Sentiment `json:"sentiment"`
	ServiceDetail     string    `json:"service_detail,omitempty"`
	CustomerNeed      string    `json:"customer_need,omitempty"`
	Confidence        float64   `json:"confidence"`
	NeedsReview       bool      `json:"needs_review"`
	ClassifierVersion string    `json:"classifier_version"`
	Model             string    `json:"model"`
	ClassifiedAt      time.Time `json:"classified_at"`
}

// SetConfidence clamps c to [0,1] and recomputes NeedsReview.
func (r *ClassificationResult) SetConfidence(c float64) {
	r.Confidence = ClampConfidence(c)
	r.NeedsReview = r.Confidence < ReviewThreshold
}

// IsBooking reports whether the classifier flagged the call as a booking outcome.
func (r *ClassificationResult) IsBooking() bool {
	return r != nil && r.Intent == IntentBooking
}

func (r *ClassificationResult) IsEmergency() bool {
	return r != nil && r.Intent == IntentEmergency
}

// Valid reports whether every enum field is inside the canonical taxonomy and the
// confidence/review coupling holds.
func (r ClassificationResult) Valid() bool {
	return containsCategory(r.Category) &&
		containsIntent(r.Intent) &&
		containsSentiment(r.Sentiment) &&
		r.Confidence >= 0 && r.Confidence <= 1 &&
		r.NeedsReview == (r.Confidence < ReviewThreshold)
}

// ClampConfidence forces c into [0,1]. NaN maps to 0.
func ClampConfidence(c float64) float64 {
	switch {
	case math.IsNaN(c), c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}

func containsCategory(c Category) bool {
	for _, v := range Categories {
		if v == c {
			return true
		}
	}
	return false
}

func containsIntent(i Intent) bool {
	for _, v := range Intents {
		if v == i {
			return true
		}
	}
	return false
}

func containsSentiment(s Sentiment) bool {
	for _, v := range Sentiments {
		if v == s {
			return true
		}
	}
	return false
}
