package classifier

import (
	"fmt"
	"strings"
	"time"
)

const taxonomyInstructions = `Classify the call along these fields.

category - the main service discussed:
  "Plumbing": toilets, sinks, faucets, pipes, fixtures, leaks
  "HVAC": furnace, AC, heating, cooling, thermostat, ductwork
  "Drain": drain cleaning, clogs, sewer, main line, backups
  "Water Heater": water heater repair or install, tankless, no hot water
  "Financing": payment plans, financing, credit
  "Membership": service plans, memberships, maintenance agreements
  "Other": none of the above, several services, or administrative

intent - what the caller wants:
  "Booking": schedules service or agrees to an appointment
  "Estimate": asks for a price before deciding
  "Emergency": needs immediate help (flooding, no heat, gas smell)
  "Inquiry": general questions
  "Complaint": unhappy with earlier work or billing
  "Follow-up": status of existing work, parts, permits

sentiment - "Positive", "Neutral" or "Negative".

service_detail - the specific job, e.g. "Kitchen sink clogged".
customer_need - one sentence on what the caller asked for.
confidence - 0.0 to 1.0; above 0.9 only for unambiguous calls.

Rules:
- Water heater work is its own category, not Plumbing or HVAC.
- Drain cleaning is separate from general plumbing.
- Vendors calling about permits or parts are Follow-up, not Booking.
- Calls about an invoice or bill are Complaint or Inquiry, not Booking.

Return only a JSON object, with no markdown:
{"category": "...", "intent": "...", "sentiment": "...", "service_detail": "...", "customer_need": "...", "confidence": 0.85}`

// BuildPrompt renders the classification prompt for one call.
func BuildPrompt(in Input) string {
	caller := in.CallerNumber
	if caller == "" {
		caller = "Unknown"
	}
	date := "Unknown"
	if !in.CallDate.IsZero() {
		date = in.CallDate.UTC().Format(time.RFC3339)
	}

	var b strings.Builder
	b.WriteString("You are reviewing a phone call to a home services company offering plumbing, HVAC and drain cleaning.\n\n")
	fmt.Fprintf(&b, "Direction: %s\nDuration: %d seconds\nCaller: %s\nDate: %s\n\n", in.Direction, in.Duration, caller, date)
	b.WriteString("Transcript:\n")
	b.WriteString(strings.TrimSpace(in.Transcript))
	b.WriteString("\n\n")
	b.WriteString(taxonomyInstructions)
	return b.String()
}
