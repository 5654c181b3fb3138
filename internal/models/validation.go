package models

import "time"

// ValidationOutcome records whether a classifier-flagged booking was corroborated by the
// system of record. A nil Validated means the call has not been checked yet.
type ValidationOutcome struct {
	CallID            string    `json:"call_id"`
	Validated         *bool     `json:"validated"`
	MatchedExternalID string    `json:"matched_external_id,omitempty"`
	CheckedAt         time.Time `json:"checked_at"`
	RunID             string    `json:"run_id,omitempty"`
}

// Checked reports whether the outcome has left the unchecked state.
func (o *ValidationOutcome) Checked() bool {
	return o != nil && o.Validated != nil
}

// Confirmed reports whether a matching external job was found.
func (o *ValidationOutcome) Confirmed() bool {
	return o.Checked() && *o.Validated
}

// ValidationSummary is the result of one validation sweep. It only measures precision of
// flagged bookings; calls that were never flagged are not examined.
type ValidationSummary struct {
	RunID          string    `json:"run_id"`
	From           time.Time `json:"from"`
	To             time.Time `json:"to"`
	Candidates     int       `json:"candidates"`
	Pending        int       `json:"pending"`
	Validated      int       `json:"validated"`
	Confirmed      int       `json:"confirmed"`
	FalsePositives int       `json:"false_positives"`
	Skipped        int       `json:"skipped"`
	Failed         int       `json:"failed"`
	AccuracyRate   float64   `json:"accuracy_rate"`
}

// ReclassifySummary reports what one re-classification sweep did.
type ReclassifySummary struct {
	Considered  int `json:"considered"`
	NeedingWork int `json:"needing_work"`
	Processed   int `json:"processed"`
	Succeeded   int `json:"succeeded"`
	Failed      int `json:"failed"`
}
