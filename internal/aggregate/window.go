package aggregate

import (
	"errors"
	"fmt"
	"time"
	_ "time/tzdata"
)

const (
	DefaultTimezone = "America/New_York"
	dayLayout       = "2006-01-02"
)

var ErrInvalidRange = errors.New("invalid date range")

// DateRange is the half-open interval [From, To).
type DateRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.From) && t.Before(r.To)
}

func (r DateRange) Validate() error {
	if r.From.IsZero() || r.To.IsZero() || !r.From.Before(r.To) {
		return fmt.Errorf("%w: %s - %s", ErrInvalidRange, r.From.Format(time.RFC3339), r.To.Format(time.RFC3339))
	}
	return nil
}

// LoadLocation resolves the business timezone, defaulting to America/New_York.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return loc, nil
}

// Midnight returns local midnight of t's calendar day in loc.
func Midnight(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// Windows are the dashboard reporting periods, all in the business timezone.
type Windows struct {
	Today    DateRange `json:"today"`
	ThisWeek DateRange `json:"this_week"`
	LastWeek DateRange `json:"last_week"`
}

// ComputeWindows builds today, this week (Monday through end of today) and the whole
// previous week. Days are built with time.Date so DST transitions yield 23h or 25h days.
func ComputeWindows(now time.Time, loc *time.Location) Windows {
	y, m, d := now.In(loc).Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, loc)
	tomorrow := time.Date(y, m, d+1, 0, 0, 0, 0, loc)

	sinceMonday := (int(today.Weekday()) + 6) % 7
	weekStart := time.Date(y, m, d-sinceMonday, 0, 0, 0, 0, loc)
	lastWeekStart := time.Date(y, m, d-sinceMonday-7, 0, 0, 0, 0, loc)

	return Windows{
		Today:    DateRange{From: today, To: tomorrow},
		ThisWeek: DateRange{From: weekStart, To: tomorrow},
		LastWeek: DateRange{From: lastWeekStart, To: weekStart},
	}
}

// DayRange parses inclusive YYYY-MM-DD bounds into [from 00:00, day after to 00:00)
// in loc. An empty to means the single day from.
func DayRange(from, to string, loc *time.Location) (DateRange, error) {
	start, err := time.ParseInLocation(dayLayout, from, loc)
	if err != nil {
		return DateRange{}, fmt.Errorf("%w: from: %v", ErrInvalidRange, err)
	}
	end := start
	if to != "" {
		end, err = time.ParseInLocation(dayLayout, to, loc)
		if err != nil {
			return DateRange{}, fmt.Errorf("%w: to: %v", ErrInvalidRange, err)
		}
	}
	if end.Before(start) {
		return DateRange{}, fmt.Errorf("%w: %s is before %s", ErrInvalidRange, to, from)
	}
	y, m, d := end.Date()
	return DateRange{From: start, To: time.Date(y, m, d+1, 0, 0, 0, 0, loc)}, nil
}
