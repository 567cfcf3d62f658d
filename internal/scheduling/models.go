package scheduling

import (
	"fmt"
	"strings"
	"time"
)

// BusyInterval is a range during which the calendar owner is unavailable
type BusyInterval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// AllDay reports whether both bounds sit exactly on local midnight in loc
func (b BusyInterval) AllDay(loc *time.Location) bool {
	return b.Start.Before(b.End) && isMidnight(b.Start.In(loc)) && isMidnight(b.End.In(loc))
}

func isMidnight(t time.Time) bool {
	return t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0
}

// TimeSlot is a bookable range of one of the configured durations
type TimeSlot struct {
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	DurationMinutes int       `json:"durationMinutes"`
}

// Preference narrows generation to part of the business day
type Preference string

const (
	PreferAny       Preference = "any"
	PreferMorning   Preference = "morning"
	PreferAfternoon Preference = "afternoon"
)

// ParsePreference maps free text to a Preference, defaulting to any
func ParsePreference(s string) Preference {
	switch Preference(strings.ToLower(strings.TrimSpace(s))) {
	case PreferMorning:
		return PreferMorning
	case PreferAfternoon:
		return PreferAfternoon
	default:
		return PreferAny
	}
}

// Period is a half-open [StartHour, EndHour) range of business-local hours
type Period struct {
	StartHour int `json:"start"`
	EndHour   int `json:"end"`
}

// BusinessHours is expressed in the business's own timezone, never the caller's
type BusinessHours struct {
	Timezone       string
	Location       *time.Location
	MorningStart   int
	MorningEnd     int
	AfternoonStart int
	AfternoonEnd   int
}

// NewBusinessHours loads tz and checks the hour ranges
func NewBusinessHours(tz string, morningStart, morningEnd, afternoonStart, afternoonEnd int) (BusinessHours, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return BusinessHours{}, fmt.Errorf("load business timezone %q: %w", tz, err)
	}
	if morningStart >= morningEnd || afternoonStart >= afternoonEnd || morningEnd > afternoonStart {
		return BusinessHours{}, fmt.Errorf("invalid business hours %d-%d / %d-%d",
			morningStart, morningEnd, afternoonStart, afternoonEnd)
	}
	return BusinessHours{
		Timezone:       tz,
		Location:       loc,
		MorningStart:   morningStart,
		MorningEnd:     morningEnd,
		AfternoonStart: afternoonStart,
		AfternoonEnd:   afternoonEnd,
	}, nil
}

// Periods returns the business periods that apply to pref
func (h BusinessHours) Periods(pref Preference) []Period {
	morning := Period{StartHour: h.MorningStart, EndHour: h.MorningEnd}
	afternoon := Period{StartHour: h.AfternoonStart, EndHour: h.AfternoonEnd}
	switch pref {
	case PreferMorning:
		return []Period{morning}
	case PreferAfternoon:
		return []Period{afternoon}
	default:
		return []Period{morning, afternoon}
	}
}

// String renders e.g. "9:00 AM - 6:00 PM America/New_York"
func (h BusinessHours) String() string {
	return fmt.Sprintf("%s - %s %s",
		ClockTime{Hour: h.MorningStart}.String(), ClockTime{Hour: h.AfternoonEnd}.String(), h.Timezone)
}

// SearchWindow is the half-open instant range searched for availability
type SearchWindow struct {
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	LookaheadDays int       `json:"lookaheadDays"`
}

// ClockTime is a time of day without a date
type ClockTime struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// String renders the time in 12-hour form, e.g. "3:00 PM"
func (c ClockTime) String() string {
	return time.Date(2000, 1, 1, c.Hour, c.Minute, 0, 0, time.UTC).Format("3:04 PM")
}

// Matches reports whether t (already in the wanted location) has this hour and minute
func (c ClockTime) Matches(t time.Time) bool {
	return t.Hour() == c.Hour && t.Minute() == c.Minute
}
