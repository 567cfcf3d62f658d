// Package gcal is the live Google Calendar data source
package gcal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sort"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"booking-service/internal/apperr"
	"booking-service/internal/config"
	"booking-service/internal/scheduling"
)

// DefaultTimeout bounds every calendar call
const DefaultTimeout = 15 * time.Second

// Calendar implements scheduling.DataSource against the Google Calendar API
type Calendar struct {
	svc     *calendar.Service
	timeout time.Duration
}

// New builds a client from either a service-account/credentials file or an OAuth2 refresh token
func New(ctx context.Context, cfg config.GoogleConfig, timeout time.Duration) (*Calendar, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	var opt option.ClientOption
	switch {
	case cfg.CredentialsFile != "":
		data, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read google credentials: %w", err)
		}
		creds, err := google.CredentialsFromJSON(ctx, data, calendar.CalendarScope)
		if err != nil {
			return nil, fmt.Errorf("parse google credentials: %w", err)
		}
		opt = option.WithCredentials(creds)
	case cfg.ClientID != "" && cfg.ClientSecret != "" && cfg.RefreshToken != "":
		oc := &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{calendar.CalendarScope},
		}
		opt = option.WithTokenSource(oc.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken}))
	default:
		return nil, config.ErrMissingCalendarCredentials
	}

	svc, err := calendar.NewService(ctx, opt)
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	return &Calendar{svc: svc, timeout: timeout}, nil
}

// NewWithService wraps an existing service; used with option.WithEndpoint in tests
func NewWithService(svc *calendar.Service, timeout time.Duration) *Calendar {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Calendar{svc: svc, timeout: timeout}
}

func (c *Calendar) Name() string { return "google" }

func (c *Calendar) Demo() bool { return false }

// QueryFreeBusy returns the busy periods of calendarID in [timeMin, timeMax)
func (c *Calendar) QueryFreeBusy(ctx context.Context, calendarID string, timeMin, timeMax time.Time, timezone string) ([]scheduling.BusyInterval, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.svc.Freebusy.Query(&calendar.FreeBusyRequest{
		TimeMin:  timeMin.Format(time.RFC3339),
		TimeMax:  timeMax.Format(time.RFC3339),
		TimeZone: timezone,
		Items:    []*calendar.FreeBusyRequestItem{{Id: calendarID}},
	}).Context(ctx).Do()
	if err != nil {
		return nil, classify(err, "free/busy query failed")
	}

	cal, ok := resp.Calendars[calendarID]
	if !ok {
		return nil, apperr.New(apperr.KindDegraded, fmt.Sprintf("calendar %q missing from free/busy response", calendarID))
	}
	if len(cal.Errors) > 0 {
		return nil, apperr.New(apperr.KindDegraded, fmt.Sprintf("calendar %q: %s", calendarID, cal.Errors[0].Reason))
	}
	return toBusy(cal.Busy)
}

// toBusy parses RFC3339 periods; malformed periods are an error, empty ones are skipped
func toBusy(periods []*calendar.TimePeriod) ([]scheduling.BusyInterval, error) {
	out := make([]scheduling.BusyInterval, 0, len(periods))
	for _, p := range periods {
		if p == nil {
			continue
		}
		start, err := time.Parse(time.RFC3339, p.Start)
		if err != nil {
			return nil, fmt.Errorf("parse busy start %q: %w", p.Start, err)
		}
		end, err := time.Parse(time.RFC3339, p.End)
		if err != nil {
			return nil, fmt.Errorf("parse busy end %q: %w", p.End, err)
		}
		if !start.Before(end) {
			continue
		}
		out = append(out, scheduling.BusyInterval{Start: start, End: end})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// CreateEvent inserts the event with a Meet conference; attendees are deliberately not attached
func (c *Calendar) CreateEvent(ctx context.Context, calendarID string, ev scheduling.EventRequest) (scheduling.CreatedEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	item := &calendar.Event{
		Summary:     ev.Summary,
		Description: ev.Description,
		Start:       &calendar.EventDateTime{DateTime: ev.Start.Format(time.RFC3339), TimeZone: ev.Timezone},
		End:         &calendar.EventDateTime{DateTime: ev.End.Format(time.RFC3339), TimeZone: ev.Timezone},
	}
	if len(ev.Metadata) > 0 {
		item.ExtendedProperties = &calendar.EventExtendedProperties{Private: ev.Metadata}
	}
	if ev.ConferenceRequestID != "" {
		item.ConferenceData = &calendar.ConferenceData{
			CreateRequest: &calendar.CreateConferenceRequest{
				RequestId:             ev.ConferenceRequestID,
				ConferenceSolutionKey: &calendar.ConferenceSolutionKey{Type: "hangoutsMeet"},
			},
		}
	}
	call := c.svc.Events.Insert(calendarID, item).Context(ctx)
	if item.ConferenceData != nil {
		call = call.ConferenceDataVersion(1)
	}

	created, err := call.Do()
	if err != nil {
		return scheduling.CreatedEvent{}, classify(err, "calendar event creation failed")
	}
	out := scheduling.CreatedEvent{ID: created.Id, HTMLLink: created.HtmlLink, MeetingLink: created.HangoutLink}
	if out.MeetingLink == "" && created.ConferenceData != nil {
		for _, ep := range created.ConferenceData.EntryPoints {
			if ep.EntryPointType == "video" {
				out.MeetingLink = ep.Uri
				break
			}
		}
	}
	return out, nil
}

// classify maps API and transport failures onto the error taxonomy
func classify(err error, msg string) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusUnauthorized || gerr.Code == http.StatusForbidden:
			return apperr.Wrap(err, apperr.KindDegraded, msg+": calendar credentials rejected")
		case gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500:
			return apperr.Wrap(err, apperr.KindTransient, msg)
		case gerr.Code == http.StatusConflict:
			return apperr.Wrap(err, apperr.KindConflict, msg)
		default:
			return apperr.Wrap(err, apperr.KindInternal, msg)
		}
	}
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		return apperr.Wrap(err, apperr.KindDegraded, msg+": token refresh failed")
	}
	var nerr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &nerr) && nerr.Timeout()) {
		return apperr.Wrap(err, apperr.KindTransient, msg+": timed out")
	}
	if errors.As(err, &nerr) {
		return apperr.Wrap(err, apperr.KindTransient, msg+": network error")
	}
	return apperr.Wrap(err, apperr.KindInternal, msg)
}
