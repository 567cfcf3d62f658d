package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DataSource is the calendar capability the engine consumes.
// LiveCalendar talks to the calendar service; MockCalendar serves clearly flagged demo data.
type DataSource interface {
	Name() string
	Demo() bool
	QueryFreeBusy(ctx context.Context, calendarID string, timeMin, timeMax time.Time, timezone string) ([]BusyInterval, error)
	CreateEvent(ctx context.Context, calendarID string, ev EventRequest) (CreatedEvent, error)
}

// EventRequest describes a calendar event to create
type EventRequest struct {
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	Timezone    string
	// ConferenceRequestID makes conference creation idempotent across retried calls
	ConferenceRequestID string
	Metadata            map[string]string
}

// CreatedEvent is the calendar service's view of a new event
type CreatedEvent struct {
	ID          string `json:"id"`
	HTMLLink    string `json:"htmlLink,omitempty"`
	MeetingLink string `json:"meetingLink,omitempty"`
}

// ErrDemoCalendar is returned when a write is attempted against demo data
var ErrDemoCalendar = errors.New("demo calendar cannot create events")

// MockCalendar is a synthetic data source with a fixed weekday pattern
type MockCalendar struct {
	Location *time.Location
}

// NewMockCalendar returns a demo source for business-local time in loc
func NewMockCalendar(loc *time.Location) *MockCalendar {
	return &MockCalendar{Location: loc}
}

func (m *MockCalendar) Name() string { return "demo" }

func (m *MockCalendar) Demo() bool { return true }

// QueryFreeBusy blocks a lunch hour and a late-afternoon hour every weekday
func (m *MockCalendar) QueryFreeBusy(ctx context.Context, _ string, timeMin, timeMax time.Time, _ string) ([]BusyInterval, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !timeMin.Before(timeMax) {
		return nil, fmt.Errorf("timeMin %s not before timeMax %s", timeMin, timeMax)
	}
	loc := m.Location
	if loc == nil {
		loc = time.UTC
	}
	first := timeMin.In(loc)
	var out []BusyInterval
	for d := time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, loc); d.Before(timeMax); d = d.AddDate(0, 0, 1) {
		y, mo, dd := d.Date()
		out = append(out,
			BusyInterval{Start: time.Date(y, mo, dd, 12, 0, 0, 0, loc), End: time.Date(y, mo, dd, 13, 0, 0, 0, loc)},
			BusyInterval{Start: time.Date(y, mo, dd, 16, 0, 0, 0, loc), End: time.Date(y, mo, dd, 17, 0, 0, 0, loc)},
		)
	}
	return out, nil
}

func (m *MockCalendar) CreateEvent(context.Context, string, EventRequest) (CreatedEvent, error) {
	return CreatedEvent{}, ErrDemoCalendar
}
