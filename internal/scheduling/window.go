package scheduling

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"booking-service/internal/logger"
)

const (
	DefaultLookaheadDays = 7
	TargetLookaheadDays  = 14
	// instants further out than this are treated as a caller-side parsing mistake
	maxRequestedHorizon = 30 * 24 * time.Hour
	day                 = 24 * time.Hour
)

// Mode is the slot selection strategy for a request
type Mode string

const (
	ModeNearest     Mode = "nearest"
	ModeTimeMatched Mode = "time_matched"
	ModeInteractive Mode = "interactive"
)

// Intent is the caller's raw availability question
type Intent struct {
	Timezone      string
	LookaheadDays int
	RequestedTime string
	Preference    string
	Interactive   bool
}

// Normalized is an Intent resolved against the clock and business hours
type Normalized struct {
	Window     SearchWindow
	Target     *ClockTime // business-local
	Preference Preference
	Caller     *time.Location
	Mode       Mode
	NextWeek   bool
	// Unparsed is set when RequestedTime was present but matched no known pattern
	Unparsed bool
}

var (
	nextWeekRe = regexp.MustCompile(`(?i)\bnext\s+week\b`)
	meridiemRe = regexp.MustCompile(`(?i)\b(\d{1,2})(?::(\d{2}))?\s*([ap])\.?\s*m\b\.?`)
	clock24Re  = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\b`)

	instantLayouts = []string{
		"2006-01-02T15:04:05",
		"2006-01-02T15:04",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
	}
)

// Normalize resolves an intent into a search window, optional target time and selection mode
func Normalize(in Intent, hours BusinessHours, now time.Time) Normalized {
	log := logger.Named("scheduling")

	caller := hours.Location
	if tz := strings.TrimSpace(in.Timezone); tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			caller = loc
		} else {
			log.Warn().Str("timezone", tz).Msg("unknown caller timezone; using business timezone")
		}
	}

	days := in.LookaheadDays
	switch {
	case days == 0, days > DefaultLookaheadDays:
		days = DefaultLookaheadDays
	case days < 1:
		days = 1
	}

	n := Normalized{
		Window:     SearchWindow{Start: now, End: now.Add(time.Duration(days) * day), LookaheadDays: days},
		Preference: ParsePreference(in.Preference),
		Caller:     caller,
		Mode:       ModeNearest,
	}
	if in.Interactive {
		n.Mode = ModeInteractive
	}

	text := strings.TrimSpace(in.RequestedTime)
	if text == "" {
		return n
	}

	if t, ok := parseInstant(text, caller); ok {
		target := clockIn(t, hours.Location)
		n.Target = &target
		n.Mode = ModeTimeMatched
		if t.Sub(now) > maxRequestedHorizon {
			log.Warn().Time("requested", t).Msg("requested instant too far ahead; searching this week at the same time of day")
			n.Window = SearchWindow{Start: now, End: now.Add(DefaultLookaheadDays * day), LookaheadDays: DefaultLookaheadDays}
			return n
		}
		n.Window = SearchWindow{Start: now, End: now.Add(TargetLookaheadDays * day), LookaheadDays: TargetLookaheadDays}
		return n
	}

	if nextWeekRe.MatchString(text) {
		n.NextWeek = true
		n.Window = SearchWindow{Start: now.Add(7 * day), End: now.Add(14 * day), LookaheadDays: 7}
	}

	if c, ok := parseClock(text); ok {
		target := callerClockToBusiness(c, caller, hours.Location, now)
		n.Target = &target
		n.Mode = ModeTimeMatched
		if !n.NextWeek {
			n.Window = SearchWindow{Start: now, End: now.Add(TargetLookaheadDays * day), LookaheadDays: TargetLookaheadDays}
		}
		return n
	}

	if !n.NextWeek {
		n.Unparsed = true
		log.Info().Str("requested_time", text).Msg("could not parse requested time; offering earliest availability")
	}
	return n
}

func parseInstant(s string, loc *time.Location) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	for _, layout := range instantLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// parseClock accepts "2:00 PM", "3pm", "3:00p.m." and 24-hour "14:30"
func parseClock(s string) (ClockTime, bool) {
	if m := meridiemRe.FindStringSubmatch(s); m != nil {
		h, _ := strconv.Atoi(m[1])
		mins := 0
		if m[2] != "" {
			mins, _ = strconv.Atoi(m[2])
		}
		if h < 1 || h > 12 || mins > 59 {
			return ClockTime{}, false
		}
		h %= 12
		if strings.EqualFold(m[3], "p") {
			h += 12
		}
		return ClockTime{Hour: h, Minute: mins}, true
	}
	if m := clock24Re.FindStringSubmatch(s); m != nil {
		h, _ := strconv.Atoi(m[1])
		mins, _ := strconv.Atoi(m[2])
		if h > 23 || mins > 59 {
			return ClockTime{}, false
		}
		return ClockTime{Hour: h, Minute: mins}, true
	}
	return ClockTime{}, false
}

func clockIn(t time.Time, loc *time.Location) ClockTime {
	l := t.In(loc)
	return ClockTime{Hour: l.Hour(), Minute: l.Minute()}
}

// callerClockToBusiness converts a caller wall-clock time to business wall-clock time using today's offsets
func callerClockToBusiness(c ClockTime, caller, business *time.Location, now time.Time) ClockTime {
	if caller.String() == business.String() {
		return c
	}
	y, m, d := now.In(caller).Date()
	return clockIn(time.Date(y, m, d, c.Hour, c.Minute, 0, 0, caller), business)
}
