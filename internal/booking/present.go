package booking

import (
	"fmt"
	"strings"
	"time"

	"booking-service/internal/apperr"
)

// Details is a chosen slot plus contact information, shown back to the caller before booking
type Details struct {
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	Timezone    string    `json:"timezone"`
	StartTime   time.Time `json:"startTime"`
	EndTime     time.Time `json:"endTime"`
	MeetingType string    `json:"meetingType,omitempty"`
	Notes       string    `json:"notes,omitempty"`
}

// Confirmation is the display form of Details
type Confirmation struct {
	Details
	DurationMinutes int    `json:"durationMinutes"`
	Date            string `json:"date"`
	Time            string `json:"time"`
	Summary         string `json:"summary"`
}

// Present formats d in the caller's timezone (fallback when unset or unknown). It has no side effects.
func Present(d Details, fallback *time.Location) (Confirmation, error) {
	if d.StartTime.IsZero() || d.EndTime.IsZero() {
		return Confirmation{}, apperr.Invalid("startTime", "A start and end time are required.")
	}
	if !d.StartTime.Before(d.EndTime) {
		return Confirmation{}, apperr.Invalid("endTime", "The end time must be after the start time.")
	}
	loc := fallback
	if d.Timezone != "" {
		if l, err := time.LoadLocation(d.Timezone); err == nil {
			loc = l
		}
	}
	if loc == nil {
		loc = time.UTC
	}
	d.Timezone = loc.String()

	start := d.StartTime.In(loc)
	end := d.EndTime.In(loc)
	mins := int(end.Sub(start).Minutes())

	c := Confirmation{
		Details:         d,
		DurationMinutes: mins,
		Date:            start.Format("Monday, January 2, 2006"),
		Time:            fmt.Sprintf("%s - %s %s", start.Format("3:04 PM"), end.Format("3:04 PM"), start.Format("MST")),
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d-minute ", mins)
	if d.MeetingType != "" {
		b.WriteString(d.MeetingType + " ")
	}
	b.WriteString("meeting on " + c.Date + " at " + start.Format("3:04 PM MST"))
	if d.Name != "" {
		b.WriteString(" for " + d.Name)
	}
	if d.Email != "" {
		b.WriteString(" (" + d.Email + ")")
	}
	c.Summary = b.String()
	return c, nil
}
