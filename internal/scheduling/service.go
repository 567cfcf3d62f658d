package scheduling

import (
	"context"
	"time"

	"booking-service/internal/apperr"
	"booking-service/internal/audit"
	"booking-service/internal/logger"
)

const demoNotice = "These are example times only: the live calendar is unavailable right now, so please confirm by contacting us directly. "

// Service answers availability queries. Busy data comes from Primary; when Primary is absent or
// fails, Fallback serves and the response is flagged Demo.
type Service struct {
	Primary    DataSource
	Fallback   DataSource
	CalendarID string
	Generator  Generator
	Timeout    time.Duration
	Now        func() time.Time
	Audit      *audit.Log
}

// SlotView is a slot annotated for display in the caller's timezone
type SlotView struct {
	TimeSlot
	Date    string `json:"date"`
	Display string `json:"display"`
}

// HoursView is the business hours block of a response
type HoursView struct {
	Timezone  string `json:"timezone"`
	Morning   Period `json:"morning"`
	Afternoon Period `json:"afternoon"`
	Summary   string `json:"summary"`
}

// Response is the availability query result
type Response struct {
	AvailableSlots   []SlotView   `json:"availableSlots"`
	Timezone         string       `json:"timezone"`
	BusinessHours    HoursView    `json:"businessHours"`
	MeetingDurations []int        `json:"meetingDurations"`
	Message          string       `json:"message"`
	Mode             Mode         `json:"mode"`
	ExactMatch       bool         `json:"exactMatch"`
	Demo             bool         `json:"demo"`
	Window           SearchWindow `json:"window"`
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) hours() BusinessHours { return s.Generator.Hours }

// Availability never fails: calendar problems degrade to flagged demo data with an explanatory message
func (s *Service) Availability(ctx context.Context, in Intent) Response {
	now := s.now()
	hours := s.hours()
	n := Normalize(in, hours, now)

	busy, demo := s.busy(ctx, n.Window)
	slots := s.Generator.Generate(n.Window, n.Preference, busy, now)
	sel := Select(n, slots, hours)

	msg := sel.Message
	if n.NextWeek && len(sel.Slots) > 0 && n.Mode != ModeTimeMatched {
		msg = "Looking at next week: " + msg
	}
	if demo {
		msg = demoNotice + msg
	}

	views := make([]SlotView, 0, len(sel.Slots))
	for _, sl := range sel.Slots {
		local := sl.Start.In(n.Caller)
		views = append(views, SlotView{
			TimeSlot: sl,
			Date:     local.Format("2006-01-02"),
			Display:  local.Format("Mon, Jan 2 at 3:04 PM MST"),
		})
	}

	logger.C(ctx).Debug().
		Str("mode", string(n.Mode)).
		Int("candidates", len(slots)).
		Int("surfaced", len(views)).
		Bool("demo", demo).
		Msg("availability computed")

	return Response{
		AvailableSlots: views,
		Timezone:       n.Caller.String(),
		BusinessHours: HoursView{
			Timezone:  hours.Timezone,
			Morning:   Period{StartHour: hours.MorningStart, EndHour: hours.MorningEnd},
			Afternoon: Period{StartHour: hours.AfternoonStart, EndHour: hours.AfternoonEnd},
			Summary:   hours.String(),
		},
		MeetingDurations: s.Generator.Durations,
		Message:          msg,
		Mode:             n.Mode,
		ExactMatch:       sel.ExactMatch,
		Demo:             demo,
		Window:           n.Window,
	}
}

// busy fetches intervals for w once, falling back to the demo source on any primary failure
func (s *Service) busy(ctx context.Context, w SearchWindow) ([]BusyInterval, bool) {
	log := logger.C(ctx)
	if s.Primary != nil {
		out, err := s.query(ctx, s.Primary, w.Start, w.End)
		if err == nil {
			return out, s.Primary.Demo()
		}
		log.Warn().Err(err).Str("source", s.Primary.Name()).Msg("calendar query failed; serving demo availability")
	}
	if s.Fallback == nil {
		return nil, true
	}
	out, err := s.query(ctx, s.Fallback, w.Start, w.End)
	if err != nil {
		log.Error().Err(err).Str("source", s.Fallback.Name()).Msg("fallback calendar failed")
		return nil, true
	}
	return out, true
}

func (s *Service) query(ctx context.Context, src DataSource, from, to time.Time) ([]BusyInterval, error) {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	started := time.Now()
	out, err := src.QueryFreeBusy(ctx, s.CalendarID, from, to, s.hours().Timezone)
	if s.Audit != nil {
		e := audit.Entry{
			Operation: "calendar.freebusy",
			Target:    src.Name(),
			Success:   err == nil,
			Attempts:  1,
			Latency:   time.Since(started),
		}
		if err != nil {
			e.Error = err.Error()
		}
		s.Audit.Record(e)
	}
	return out, err
}

// Busy returns the live busy intervals in [from, to) without falling back
func (s *Service) Busy(ctx context.Context, from, to time.Time) ([]BusyInterval, error) {
	if s.Primary == nil || s.Primary.Demo() {
		return nil, apperr.New(apperr.KindDegraded, "The live calendar is not connected.")
	}
	out, err := s.query(ctx, s.Primary, from, to)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindTransient, "The calendar did not respond. Please try again.")
	}
	return out, nil
}

// ValidSlot re-checks [start, end) against live busy data; the client's copy of a slot is never trusted
func (s *Service) ValidSlot(ctx context.Context, start, end time.Time) error {
	if s.Primary == nil || s.Primary.Demo() {
		return apperr.New(apperr.KindDegraded, "Online booking is unavailable right now. Please contact us directly to schedule.")
	}
	loc := s.hours().Location
	local := start.In(loc)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	w := SearchWindow{Start: dayStart, End: dayStart.AddDate(0, 0, 1), LookaheadDays: 1}

	busy, err := s.query(ctx, s.Primary, w.Start, w.End)
	if err != nil {
		return apperr.Wrap(err, apperr.KindTransient, "We couldn't reach the calendar to confirm that time. Please try again in a moment.")
	}
	slots := s.Generator.Generate(w, PreferAny, busy, s.now())
	if !Contains(slots, start, end) {
		return apperr.New(apperr.KindConflict, "That time is no longer available. Please choose another slot.")
	}
	return nil
}
