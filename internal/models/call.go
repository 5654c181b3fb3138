package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Direction is the call direction as reported by the phone provider.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
	DirectionUnknown  Direction = ""
)

// ParseDirection maps provider spellings onto the three known directions.
func ParseDirection(s string) Direction {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "inbound", "incoming":
		return DirectionInbound
	case "outbound", "outgoing":
		return DirectionOutbound
	default:
		return DirectionUnknown
	}
}

// InboundOrUnknown reports whether the direction is inbound or was never reported.
func (d Direction) InboundOrUnknown() bool {
	return d == DirectionInbound || d == DirectionUnknown
}

// UnmarshalJSON accepts any provider spelling, including null.
func (d *Direction) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*d = ParseDirection(s)
	return nil
}

func (d Direction) String() string {
	if d == DirectionUnknown {
		return "unknown"
	}
	return string(d)
}

// CallRecord represents one observed phone call as delivered by ingestion.
type CallRecord struct {
	CallID          string    `json:"call_id"`
	CallerNumber    string    `json:"caller_number"`
	Direction       Direction `json:"direction"`
	DurationSeconds int       `json:"duration_seconds"`
	Transcript      string    `json:"transcript,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// HasTranscript reports whether the call carries any non-blank transcript text.
func (c CallRecord) HasTranscript() bool {
	return strings.TrimSpace(c.Transcript) != ""
}

// CallView is a call joined with its current classification and validation outcome.
// Classification and Outcome are nil when absent.
type CallView struct {
	Call           CallRecord            `json:"call"`
	Classification *ClassificationResult `json:"classification,omitempty"`
	Outcome        *ValidationOutcome    `json:"validation,omitempty"`
}
