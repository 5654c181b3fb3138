// Package filter is the single definition of which calls belong to each reporting
// category. Summary counters and detail listers must both go through Select or Count.
package filter

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/xaenox/callscope/internal/models"
)

var ErrUnknownCategory = errors.New("unknown category")

type Category string

const (
	Total     Category = "total"
	Booked    Category = "booked"
	Emergency Category = "emergency"
	FollowUp  Category = "followup"
	Qualified Category = "qualified"
)

// Categories lists every reporting category in display order.
var Categories = []Category{Total, Booked, Emergency, FollowUp, Qualified}

// ReservedTestPrefixes mark synthetic calls. Matching is case-sensitive.
var ReservedTestPrefixes = []string{"test", "ACtest"}

const (
	qualifiedMinDuration   = 30
	qualifiedMinTranscript = 50
)

var (
	emergencyTerms = []string{"emergency", "leak", "flooding", "burst"}
	followUpTerms  = []string{"call back", "follow up", "checking in"}
)

// Spec is a category predicate plus its human-readable description.
type Spec struct {
	Category    Category
	Description []string
	match       func(models.CallView) bool
}

var specs = map[Category]Spec{
	Total: {
		Category:    Total,
		Description: []string{"No additional filters"},
		match:       func(models.CallView) bool { return true },
	},
	Booked: {
		Category: Booked,
		Description: []string{
			"classification.intent = Booking",
			"direction IN (unknown, inbound)",
		},
		match: func(v models.CallView) bool {
			return v.Classification.IsBooking() && v.Call.Direction.InboundOrUnknown()
		},
	},
	Emergency: {
		Category: Emergency,
		Description: []string{
			"classification.intent = Emergency OR",
			"transcript ILIKE %emergency% OR",
			"transcript ILIKE %leak/flooding/burst%",
		},
		match: func(v models.CallView) bool {
			return v.Classification.IsEmergency() || containsAny(v.Call.Transcript, emergencyTerms)
		},
	},
	FollowUp: {
		Category: FollowUp,
		Description: []string{
			"transcript ILIKE %call back% OR",
			"transcript ILIKE %follow up% OR",
			"transcript ILIKE %checking in%",
		},
		match: func(v models.CallView) bool {
			return containsAny(v.Call.Transcript, followUpTerms)
		},
	},
	Qualified: {
		Category: Qualified,
		Description: []string{
			"direction IN (unknown, inbound)",
			fmt.Sprintf("duration >= %d", qualifiedMinDuration),
			fmt.Sprintf("transcript IS NOT NULL AND length > %d", qualifiedMinTranscript),
			"caller_number NOT ILIKE %spam% AND NOT LIKE AC%",
		},
		match: func(v models.CallView) bool {
			c := v.Call
			return c.Direction.InboundOrUnknown() &&
				c.DurationSeconds >= qualifiedMinDuration &&
				c.HasTranscript() &&
				utf8.RuneCountInString(strings.TrimSpace(c.Transcript)) > qualifiedMinTranscript &&
				!looksLikeSpam(c.CallerNumber)
		},
	},
}

func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := specs[c]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
	}
	return c, nil
}

func Lookup(c Category) (Spec, error) {
	spec, ok := specs[c]
	if !ok {
		return Spec{}, fmt.Errorf("%w: %q", ErrUnknownCategory, string(c))
	}
	return spec, nil
}

// Matches applies the test-id exclusion and then the category predicate.
func (s Spec) Matches(v models.CallView) bool {
	return !IsReservedTestID(v.Call.CallID) && s.match(v)
}

// Select returns the members of category c, newest first.
func Select(views []models.CallView, c Category) ([]models.CallView, error) {
	spec, err := Lookup(c)
	if err != nil {
		return nil, err
	}
	out := make([]models.CallView, 0)
	for _, v := range views {
		if spec.Matches(v) {
			out = append(out, v)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Call, out[j].Call
		if !a.OccurredAt.Equal(b.OccurredAt) {
			return a.OccurredAt.After(b.OccurredAt)
		}
		return a.CallID < b.CallID
	})
	return out, nil
}

func Count(views []models.CallView, c Category) (int, error) {
	spec, err := Lookup(c)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, v := range views {
		if spec.Matches(v) {
			n++
		}
	}
	return n, nil
}

// CountAll counts every category over the same view set.
func CountAll(views []models.CallView) map[Category]int {
	counts := make(map[Category]int, len(Categories))
	for _, c := range Categories {
		n, _ := Count(views, c)
		counts[c] = n
	}
	return counts
}

func IsReservedTestID(callID string) bool {
	for _, p := range ReservedTestPrefixes {
		if strings.HasPrefix(callID, p) {
			return true
		}
	}
	return false
}

// DebugInfo explains how a category listing was produced.
type DebugInfo struct {
	Category Category `json:"category"`
	Filters  []string `json:"filters"`
	Excludes []string `json:"excludes"`
}

func Describe(c Category) (DebugInfo, error) {
	spec, err := Lookup(c)
	if err != nil {
		return DebugInfo{}, err
	}
	excludes := make([]string, 0, len(ReservedTestPrefixes))
	for _, p := range ReservedTestPrefixes {
		excludes = append(excludes, p+"%")
	}
	return DebugInfo{
		Category: c,
		Filters:  append([]string(nil), spec.Description...),
		Excludes: excludes,
	}, nil
}

type DirectionCounts struct {
	Total    int `json:"total"`
	Inbound  int `json:"inbound"`
	Outbound int `json:"outbound"`
	Unknown  int `json:"unknown"`
}

// CountByDirection splits the non-test calls by reported direction.
func CountByDirection(views []models.CallView) DirectionCounts {
	var dc DirectionCounts
	for _, v := range views {
		if IsReservedTestID(v.Call.CallID) {
			continue
		}
		dc.Total++
		switch v.Call.Direction {
		case models.DirectionInbound:
			dc.Inbound++
		case models.DirectionOutbound:
			dc.Outbound++
		default:
			dc.Unknown++
		}
	}
	return dc
}

func containsAny(text string, terms []string) bool {
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, t := range terms {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

func looksLikeSpam(number string) bool {
	return strings.Contains(strings.ToLower(number), "spam") || strings.HasPrefix(number, "AC")
}
