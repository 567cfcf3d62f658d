package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"booking-service/internal/apperr"
	"booking-service/internal/logger"
	"booking-service/internal/notify"
	"booking-service/internal/scheduling"
)

// SlotValidator re-checks a requested slot against live busy data
type SlotValidator interface {
	ValidSlot(ctx context.Context, start, end time.Time) error
}

// Notifier delivers one email
type Notifier interface {
	Send(ctx context.Context, msg notify.Message) (notify.Result, error)
}

// Deps are the collaborators of an Orchestrator. Notifier and Holds may be nil.
type Deps struct {
	Calendar   scheduling.DataSource
	CalendarID string
	Slots      SlotValidator
	Store      Store
	Notifier   Notifier
	Holds      HoldStore
	Hours      scheduling.BusinessHours
	Durations  []int
	LeadTime   time.Duration
	HoldTTL    time.Duration
	OwnerEmail string
	From       string
	Now        func() time.Time
}

// postEventTimeout bounds persistence and notification once the calendar event exists
const postEventTimeout = 45 * time.Second

// Orchestrator owns the step from a candidate slot to a confirmed booking
type Orchestrator struct {
	d        Deps
	validate *validator.Validate
}

// NewOrchestrator fills defaults for unset durations
func NewOrchestrator(d Deps) *Orchestrator {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.LeadTime <= 0 {
		d.LeadTime = scheduling.DefaultLeadTime
	}
	if d.HoldTTL <= 0 {
		d.HoldTTL = 2 * time.Minute
	}
	if d.Store == nil {
		d.Store = UnavailableStore{}
	}
	return &Orchestrator{d: d, validate: validator.New()}
}

// Booked is the caller's view of a confirmed booking
type Booked struct {
	ID              string    `json:"id,omitempty"`
	StartTime       time.Time `json:"startTime"`
	EndTime         time.Time `json:"endTime"`
	ExternalEventID string    `json:"externalEventId"`
	MeetingLink     string    `json:"meetingLink,omitempty"`
	EventLink       string    `json:"eventLink,omitempty"`
}

// Result is the outcome of one Book call
type Result struct {
	Success       bool         `json:"success"`
	Booking       *Booked      `json:"booking,omitempty"`
	Existing      *Record      `json:"existingBooking,omitempty"`
	Message       string       `json:"message"`
	State         State        `json:"state"`
	History       []Transition `json:"history"`
	Degraded      bool         `json:"degraded,omitempty"`
	NeedsFollowUp bool         `json:"needsFollowUp,omitempty"`
}

func (o *Orchestrator) result(a *Attempt, msg string) Result {
	return Result{
		Success:       a.State == StateConfirmed,
		Message:       msg,
		State:         a.State,
		History:       a.History,
		Degraded:      a.Degraded,
		NeedsFollowUp: a.NeedsFollowUp,
	}
}

// Book runs one attempt. A non-nil error means the attempt Failed before any calendar event existed;
// once the event is created the booking always completes.
func (o *Orchestrator) Book(ctx context.Context, req Request) (Result, error) {
	log := logger.C(ctx).With().Str("component", "booking").Logger()
	a := newAttempt(o.d.Now)
	step := func(to State, reason string) {
		if err := a.advance(to, reason); err != nil {
			log.Error().Err(err).Msg("booking state not advanced")
		}
	}

	fail := func(err error) (Result, error) {
		a.fail(apperr.Message(err))
		log.Warn().Err(err).Str("kind", string(apperr.KindOf(err))).Msg("booking attempt failed")
		return o.result(a, apperr.Message(err)), err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := o.check(req); err != nil {
		return fail(err)
	}

	if existing, err := o.Lookup(ctx, req.Email, ""); err == nil && existing != nil {
		res, ferr := fail(apperr.New(apperr.KindConflict, "You already have an upcoming booking. Please use that one or contact us to change it."))
		res.Existing = existing
		return res, ferr
	}

	release, err := o.hold(ctx, req)
	if err != nil {
		return fail(err)
	}
	defer release()

	if err := o.d.Slots.ValidSlot(ctx, req.StartTime, req.EndTime); err != nil {
		return fail(err)
	}
	step(StateValidated, "")

	ev, err := o.d.Calendar.CreateEvent(ctx, o.d.CalendarID, o.eventFor(req))
	if err != nil {
		if errors.Is(err, scheduling.ErrDemoCalendar) {
			return fail(apperr.Wrap(err, apperr.KindDegraded, "Online booking is unavailable right now. Please contact us directly to schedule."))
		}
		if _, ok := apperr.As(err); !ok {
			err = apperr.Wrap(err, apperr.KindTransient, "We couldn't create the calendar event. Please try again.")
		}
		return fail(err)
	}
	step(StateEventCreated, ev.ID)
	log = log.With().Str("event_id", ev.ID).Logger()

	// The event is authoritative from here on; nothing below can fail the booking,
	// and a caller going away must not cost us the record or the emails.
	post, cancel := context.WithTimeout(context.WithoutCancel(ctx), postEventTimeout)
	defer cancel()
	now := o.d.Now()
	rec := &Record{
		Name:            req.Name,
		Email:           req.Email,
		Timezone:        req.Timezone,
		StartTime:       req.StartTime.UTC(),
		EndTime:         req.EndTime.UTC(),
		MeetingType:     req.MeetingType,
		Notes:           req.Notes,
		ExternalEventID: ev.ID,
		MeetingLink:     ev.MeetingLink,
		Status:          StatusConfirmed,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := o.d.Store.Create(post, rec); err != nil {
		a.Degraded = true
		log.Error().Err(err).Msg("booking not persisted; calendar event stands")
	} else {
		step(StatePersisted, rec.ID)
	}

	if o.notifyAll(post, req, rec, ev) {
		step(StateNotified, "")
	} else {
		a.NeedsFollowUp = true
		log.Warn().Msg("booking confirmed without notifications; follow up manually")
	}

	step(StateConfirmed, "")
	log.Info().Str("booking_id", rec.ID).Bool("degraded", a.Degraded).Bool("follow_up", a.NeedsFollowUp).Msg("booking confirmed")

	res := o.result(a, o.confirmedMessage(req))
	res.Booking = &Booked{
		ID:              rec.ID,
		StartTime:       rec.StartTime,
		EndTime:         rec.EndTime,
		ExternalEventID: ev.ID,
		MeetingLink:     ev.MeetingLink,
		EventLink:       ev.HTMLLink,
	}
	return res, nil
}

// hold reserves every slot step the request covers, in time order. Store errors fail open.
func (o *Orchestrator) hold(ctx context.Context, req Request) (func(), error) {
	if o.d.Holds == nil {
		return func() {}, nil
	}
	log := logger.C(ctx)
	owner := uuid.NewString()
	var held []string
	release := func() {
		rctx := context.WithoutCancel(ctx)
		for _, key := range held {
			if err := o.d.Holds.Release(rctx, key, owner); err != nil {
				log.Warn().Err(err).Str("key", key).Msg("release slot hold")
			}
		}
	}
	for _, key := range holdKeys(req.StartTime, req.EndTime) {
		ok, err := o.d.Holds.Acquire(ctx, key, owner, o.d.HoldTTL)
		if err != nil {
			log.Warn().Err(err).Msg("slot hold unavailable; continuing without it")
			return release, nil
		}
		if !ok {
			release()
			return func() {}, apperr.New(apperr.KindConflict, "Someone is booking that time right now. Please choose another slot.")
		}
		held = append(held, key)
	}
	return release, nil
}

// holdKeys names one hold per slot step in [start, end)
func holdKeys(start, end time.Time) []string {
	var keys []string
	for t := start.UTC(); t.Before(end); t = t.Add(scheduling.SlotStep) {
		keys = append(keys, t.Format(time.RFC3339))
	}
	return keys
}

func (o *Orchestrator) check(req Request) error {
	if err := o.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return apperr.Invalid(jsonField(verrs[0].Field()), fieldMessage(verrs[0]))
		}
		return apperr.Wrap(err, apperr.KindInput, "Invalid booking request.")
	}
	mins := int(req.EndTime.Sub(req.StartTime).Minutes())
	if len(o.d.Durations) > 0 && !containsInt(o.d.Durations, mins) {
		return apperr.Invalid("endTime", fmt.Sprintf("Meetings can be %s minutes long.", joinInts(o.d.Durations)))
	}
	if req.StartTime.Before(o.d.Now().Add(o.d.LeadTime)) {
		return apperr.Invalid("startTime", fmt.Sprintf("Bookings need at least %d minutes notice.", int(o.d.LeadTime.Minutes())))
	}
	return nil
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required.", jsonField(fe.Field()))
	case "email":
		return "Please provide a valid email address."
	case "timezone":
		return "Unknown timezone."
	case "gtfield":
		return "The end time must be after the start time."
	default:
		return fmt.Sprintf("%s is invalid.", jsonField(fe.Field()))
	}
}

func jsonField(f string) string {
	if f == "" {
		return f
	}
	return strings.ToLower(f[:1]) + f[1:]
}

func containsInt(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = fmt.Sprint(x)
	}
	if len(parts) <= 1 {
		return strings.Join(parts, "")
	}
	return strings.Join(parts[:len(parts)-1], ", ") + " or " + parts[len(parts)-1]
}

// conferenceRequestID is stable for one requester and start so a repeated creation call reuses the conference
func conferenceRequestID(email string, start time.Time) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(email+"|"+start.UTC().Format(time.RFC3339))).String()
}

func (o *Orchestrator) eventFor(req Request) scheduling.EventRequest {
	summary := "Meeting with " + req.Name
	if req.MeetingType != "" {
		summary = req.MeetingType + " with " + req.Name
	}
	var desc strings.Builder
	fmt.Fprintf(&desc, "Booked by %s (%s)", req.Name, req.Email)
	if req.Notes != "" {
		desc.WriteString("\n\nNotes:\n" + req.Notes)
	}
	return scheduling.EventRequest{
		Summary:             summary,
		Description:         desc.String(),
		Start:               req.StartTime,
		End:                 req.EndTime,
		Timezone:            o.d.Hours.Timezone,
		ConferenceRequestID: conferenceRequestID(req.Email, req.StartTime),
		Metadata: map[string]string{
			"booking_email":  req.Email,
			"booking_name":   req.Name,
			"meeting_type":   req.MeetingType,
			"booking_source": "booking-service",
		},
	}
}

// notifyAll reports whether every intended notification was delivered
func (o *Orchestrator) notifyAll(ctx context.Context, req Request, rec *Record, ev scheduling.CreatedEvent) bool {
	if o.d.Notifier == nil || o.d.From == "" {
		return false
	}
	log := logger.C(ctx)
	tz := req.Timezone
	if tz == "" {
		tz = o.d.Hours.Timezone
	}
	details := notify.BookingDetails{
		BookingID:   rec.ID,
		Name:        req.Name,
		Email:       req.Email,
		Start:       req.StartTime,
		End:         req.EndTime,
		Timezone:    tz,
		MeetingType: req.MeetingType,
		Notes:       req.Notes,
		MeetingLink: ev.MeetingLink,
		EventLink:   ev.HTMLLink,
	}

	var msgs []notify.Message
	if m, err := notify.ConfirmationMessage(o.d.From, details); err == nil {
		msgs = append(msgs, m)
	} else {
		log.Error().Err(err).Msg("render confirmation email")
		return false
	}
	if o.d.OwnerEmail != "" {
		ownerDetails := details
		ownerDetails.Timezone = o.d.Hours.Timezone
		m, err := notify.OwnerMessage(o.d.From, o.d.OwnerEmail, ownerDetails)
		if err != nil {
			log.Error().Err(err).Msg("render owner email")
			return false
		}
		msgs = append(msgs, m)
	}

	ok := true
	for _, m := range msgs {
		if _, err := o.d.Notifier.Send(ctx, m); err != nil {
			log.Warn().Err(err).Str("to", m.To).Msg("booking email not delivered")
			ok = false
		}
	}
	return ok
}

func (o *Orchestrator) confirmedMessage(req Request) string {
	loc := o.d.Hours.Location
	if req.Timezone != "" {
		if l, err := time.LoadLocation(req.Timezone); err == nil {
			loc = l
		}
	}
	if loc == nil {
		loc = time.UTC
	}
	return "You're booked for " + req.StartTime.In(loc).Format("Monday, January 2 at 3:04 PM MST") + "."
}

// Lookup returns the caller's upcoming booking, or nil when there is none or the store is not configured
func (o *Orchestrator) Lookup(ctx context.Context, email, name string) (*Record, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := o.validate.Var(email, "required,email"); err != nil {
		return nil, apperr.Invalid("email", "Please provide a valid email address.")
	}
	rec, err := o.d.Store.FindUpcoming(ctx, email, strings.TrimSpace(name), o.d.Now())
	switch {
	case err == nil:
		return rec, nil
	case errors.Is(err, ErrNotFound):
		return nil, nil
	case errors.Is(err, ErrStoreUnavailable):
		return nil, nil
	default:
		logger.C(ctx).Warn().Err(err).Msg("existing booking lookup failed")
		return nil, nil
	}
}

// List returns bookings starting in [from, to)
func (o *Orchestrator) List(ctx context.Context, from, to time.Time) ([]Record, error) {
	if !from.Before(to) {
		return nil, apperr.Invalid("from", "from must be before to")
	}
	out, err := o.d.Store.ListBetween(ctx, from, to)
	if err != nil {
		return nil, storeError(err)
	}
	return out, nil
}

// Get returns one booking by id
func (o *Orchestrator) Get(ctx context.Context, id string) (*Record, error) {
	rec, err := o.d.Store.Get(ctx, id)
	if err != nil {
		return nil, storeError(err)
	}
	return rec, nil
}

// Cancel marks a booking cancelled. The calendar event is left for the owner to remove.
func (o *Orchestrator) Cancel(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return apperr.Invalid("id", "booking id required")
	}
	if err := o.d.Store.Cancel(ctx, id); err != nil {
		return storeError(err)
	}
	logger.C(ctx).Info().Str("booking_id", id).Msg("booking cancelled")
	return nil
}

// Present formats a confirmation in the caller's timezone, falling back to business time
func (o *Orchestrator) Present(d Details) (Confirmation, error) {
	return Present(d, o.d.Hours.Location)
}

func storeError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return apperr.Wrap(err, apperr.KindNotFound, "booking not found")
	case errors.Is(err, ErrAlreadyCancelled):
		return apperr.Wrap(err, apperr.KindConflict, "booking already cancelled")
	case errors.Is(err, ErrStoreUnavailable):
		return apperr.Wrap(err, apperr.KindDegraded, "booking storage is not configured")
	default:
		return apperr.Wrap(err, apperr.KindInternal, "booking storage error")
	}
}
