package booking

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"booking-service/internal/apperr"
	"booking-service/internal/notify"
	"booking-service/internal/scheduling"
)

type fakeCalendar struct {
	mu      sync.Mutex
	created []scheduling.EventRequest
	err     error
	demo    bool
}

func (f *fakeCalendar) Name() string { return "fake" }
func (f *fakeCalendar) Demo() bool   { return f.demo }
func (f *fakeCalendar) QueryFreeBusy(context.Context, string, time.Time, time.Time, string) ([]scheduling.BusyInterval, error) {
	return nil, nil
}
func (f *fakeCalendar) CreateEvent(_ context.Context, _ string, ev scheduling.EventRequest) (scheduling.CreatedEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return scheduling.CreatedEvent{}, f.err
	}
	f.created = append(f.created, ev)
	return scheduling.CreatedEvent{ID: "evt-1", HTMLLink: "https://cal.example/evt-1", MeetingLink: "https://meet.example/x"}, nil
}

type fakeSlots struct{ err error }

func (f fakeSlots) ValidSlot(context.Context, time.Time, time.Time) error { return f.err }

type memStore struct {
	mu        sync.Mutex
	records   map[string]*Record
	createErr error
	seq       int
}

func newMemStore() *memStore { return &memStore{records: map[string]*Record{}} }

func (s *memStore) Create(ctx context.Context, r *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	s.seq++
	r.ID = "b-" + string(rune('0'+s.seq))
	cp := *r
	s.records[r.ID] = &cp
	return nil
}

func (s *memStore) FindUpcoming(_ context.Context, email, name string, now time.Time) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Record
	for _, r := range s.records {
		if r.Status == StatusCancelled || !r.StartTime.After(now) {
			continue
		}
		if strings.EqualFold(r.Email, email) || (name != "" && strings.EqualFold(r.Name, name)) {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	cp := *out[0]
	return &cp, nil
}

func (s *memStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *memStore) ListBetween(_ context.Context, from, to time.Time) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for _, r := range s.records {
		if !r.StartTime.Before(from) && r.StartTime.Before(to) {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *memStore) Cancel(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	if r.Status == StatusCancelled {
		return ErrAlreadyCancelled
	}
	r.Status = StatusCancelled
	return nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notify.Message
	err  error
}

func (f *fakeNotifier) Send(ctx context.Context, m notify.Message) (notify.Result, error) {
	if err := ctx.Err(); err != nil {
		return notify.Result{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, m)
	if f.err != nil {
		return notify.Result{Attempts: 1}, f.err
	}
	return notify.Result{ID: "m", Delivered: true, Attempts: 1}, nil
}

var testNow = time.Date(2024, 6, 8, 14, 0, 0, 0, time.UTC)

type fixture struct {
	cal   *fakeCalendar
	store *memStore
	notif *fakeNotifier
	orch  *Orchestrator
	slots *fakeSlots
	holds *MemoryHolds
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	hours, err := scheduling.NewBusinessHours("America/New_York", 9, 12, 12, 18)
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{cal: &fakeCalendar{}, store: newMemStore(), notif: &fakeNotifier{}, slots: &fakeSlots{}, holds: NewMemoryHolds()}
	f.orch = NewOrchestrator(Deps{
		Calendar:   f.cal,
		CalendarID: "primary",
		Slots:      f.slots,
		Store:      f.store,
		Notifier:   f.notif,
		Holds:      f.holds,
		Hours:      hours,
		Durations:  []int{30, 60},
		OwnerEmail: "owner@example.com",
		From:       "bookings@example.com",
		Now:        func() time.Time { return testNow },
	})
	return f
}

func validRequest() Request {
	start := time.Date(2024, 6, 11, 18, 0, 0, 0, time.UTC)
	return Request{
		Name:      "Alice",
		Email:     "alice@example.com",
		Timezone:  "America/New_York",
		StartTime: start,
		EndTime:   start.Add(30 * time.Minute),
	}
}

func states(h []Transition) []State {
	out := make([]State, len(h))
	for i, t := range h {
		out[i] = t.To
	}
	return out
}

func equalStates(a, b []State) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestBook_HappyPath(t *testing.T) {
	f := newFixture(t)
	res, err := f.orch.Book(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	want := []State{StateValidated, StateEventCreated, StatePersisted, StateNotified, StateConfirmed}
	if !res.Success || !equalStates(states(res.History), want) {
		t.Fatalf("history = %v", states(res.History))
	}
	if res.Booking == nil || res.Booking.ExternalEventID != "evt-1" || res.Booking.ID == "" {
		t.Fatalf("booking = %+v", res.Booking)
	}
	if res.Message != "You're booked for Tuesday, June 11 at 2:00 PM EDT." {
		t.Fatalf("message = %q", res.Message)
	}
	if len(f.notif.sent) != 2 || f.notif.sent[1].To != "owner@example.com" {
		t.Fatalf("sent = %+v", f.notif.sent)
	}
	ev := f.cal.created[0]
	if ev.ConferenceRequestID != conferenceRequestID("alice@example.com", validRequest().StartTime) {
		t.Fatalf("conference id = %q", ev.ConferenceRequestID)
	}
	if ev.Metadata["booking_email"] != "alice@example.com" {
		t.Fatalf("metadata = %v", ev.Metadata)
	}
}

func TestBook_ValidationHasNoSideEffects(t *testing.T) {
	cases := map[string]func(*Request){
		"missing name":     func(r *Request) { r.Name = " " },
		"bad email":        func(r *Request) { r.Email = "alice" },
		"end before start": func(r *Request) { r.EndTime = r.StartTime.Add(-time.Minute) },
		"odd duration":     func(r *Request) { r.EndTime = r.StartTime.Add(45 * time.Minute) },
		"too soon":         func(r *Request) { r.StartTime = testNow.Add(10 * time.Minute); r.EndTime = r.StartTime.Add(30 * time.Minute) },
		"bad timezone":     func(r *Request) { r.Timezone = "Mars/Base" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			req := validRequest()
			mutate(&req)
			res, err := f.orch.Book(context.Background(), req)
			if !apperr.Is(err, apperr.KindInput) {
				t.Fatalf("err = %v", err)
			}
			if res.State != StateFailed || res.Success {
				t.Fatalf("res = %+v", res)
			}
			if len(f.cal.created) != 0 || len(f.store.records) != 0 || len(f.notif.sent) != 0 {
				t.Fatal("validation failure must not cause side effects")
			}
		})
	}
}

func TestBook_ExistingBookingGuard(t *testing.T) {
	f := newFixture(t)
	existing := &Record{
		Name:      "Alice",
		Email:     "alice@example.com",
		StartTime: testNow.Add(48 * time.Hour),
		EndTime:   testNow.Add(48*time.Hour + 30*time.Minute),
		Status:    StatusConfirmed,
	}
	_ = f.store.Create(context.Background(), existing)

	req := validRequest()
	req.Email = "Alice@Example.com"
	res, err := f.orch.Book(context.Background(), req)
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("err = %v", err)
	}
	if res.Existing == nil || res.Existing.ID != existing.ID {
		t.Fatalf("existing = %+v", res.Existing)
	}
	if len(f.cal.created) != 0 {
		t.Fatal("no event may be created for a duplicate booking")
	}
}

func TestBook_SlotValidationFailure(t *testing.T) {
	for _, kind := range []apperr.Kind{apperr.KindConflict, apperr.KindTransient, apperr.KindDegraded} {
		f := newFixture(t)
		f.slots.err = apperr.New(kind, "nope")
		_, err := f.orch.Book(context.Background(), validRequest())
		if !apperr.Is(err, kind) {
			t.Fatalf("kind %s: err = %v", kind, err)
		}
		if len(f.cal.created) != 0 {
			t.Fatalf("kind %s: event created", kind)
		}
	}
}

func TestBook_CalendarFailure(t *testing.T) {
	f := newFixture(t)
	f.cal.err = errors.New("boom")
	res, err := f.orch.Book(context.Background(), validRequest())
	if !apperr.Is(err, apperr.KindTransient) || res.State != StateFailed {
		t.Fatalf("res = %+v err = %v", res, err)
	}
	if !equalStates(states(res.History), []State{StateValidated, StateFailed}) {
		t.Fatalf("history = %v", states(res.History))
	}

	f = newFixture(t)
	f.cal.err = scheduling.ErrDemoCalendar
	if _, err := f.orch.Book(context.Background(), validRequest()); !apperr.Is(err, apperr.KindDegraded) {
		t.Fatalf("demo calendar: %v", err)
	}
}

func TestBook_PersistenceFailureStillSucceeds(t *testing.T) {
	f := newFixture(t)
	f.store.createErr = errors.New("db down")
	res, err := f.orch.Book(context.Background(), validRequest())
	if err != nil || !res.Success || !res.Degraded {
		t.Fatalf("res = %+v err = %v", res, err)
	}
	want := []State{StateValidated, StateEventCreated, StateNotified, StateConfirmed}
	if !equalStates(states(res.History), want) {
		t.Fatalf("history = %v", states(res.History))
	}
}

func TestBook_WithoutStoreIsDegraded(t *testing.T) {
	f := newFixture(t)
	f.orch.d.Store = UnavailableStore{}
	res, err := f.orch.Book(context.Background(), validRequest())
	if err != nil || !res.Success || !res.Degraded {
		t.Fatalf("res = %+v err = %v", res, err)
	}
}

func TestBook_NotificationFailureNeedsFollowUp(t *testing.T) {
	f := newFixture(t)
	f.notif.err = errors.New("smtp down")
	res, err := f.orch.Book(context.Background(), validRequest())
	if err != nil || !res.Success || res.State != StateConfirmed || !res.NeedsFollowUp {
		t.Fatalf("res = %+v err = %v", res, err)
	}
	for _, s := range states(res.History) {
		if s == StateNotified {
			t.Fatal("Notified must be skipped when delivery failed")
		}
	}
}

func TestBook_HeldSlotConflicts(t *testing.T) {
	f := newFixture(t)
	req := validRequest()
	ok, _ := f.holds.Acquire(context.Background(), req.StartTime.UTC().Format(time.RFC3339), "someone-else", time.Minute)
	if !ok {
		t.Fatal("setup hold")
	}
	_, err := f.orch.Book(context.Background(), req)
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("err = %v", err)
	}
	if len(f.cal.created) != 0 {
		t.Fatal("event created while slot held")
	}
}

func TestBook_ReleasesHold(t *testing.T) {
	f := newFixture(t)
	req := validRequest()
	if _, err := f.orch.Book(context.Background(), req); err != nil {
		t.Fatalf("Book: %v", err)
	}
	ok, _ := f.holds.Acquire(context.Background(), req.StartTime.UTC().Format(time.RFC3339), "next", time.Minute)
	if !ok {
		t.Fatal("hold not released after booking")
	}
}

// gatedSlots parks the first ValidSlot call until proceed is closed
type gatedSlots struct {
	entered chan struct{}
	proceed chan struct{}
}

func (g *gatedSlots) ValidSlot(context.Context, time.Time, time.Time) error {
	g.entered <- struct{}{}
	<-g.proceed
	return nil
}

func TestBook_OverlappingSlotsConflict(t *testing.T) {
	f := newFixture(t)
	gate := &gatedSlots{entered: make(chan struct{}, 2), proceed: make(chan struct{})}
	f.orch.d.Slots = gate

	long := validRequest()
	long.EndTime = long.StartTime.Add(time.Hour)
	short := validRequest()
	short.Name, short.Email = "Bob", "bob@example.com"
	short.StartTime = long.StartTime.Add(30 * time.Minute)
	short.EndTime = long.EndTime

	type outcome struct {
		res Result
		err error
	}
	first := make(chan outcome, 1)
	go func() {
		res, err := f.orch.Book(context.Background(), long)
		first <- outcome{res, err}
	}()
	<-gate.entered

	second := make(chan outcome, 1)
	go func() {
		res, err := f.orch.Book(context.Background(), short)
		second <- outcome{res, err}
	}()
	select {
	case out := <-second:
		if !apperr.Is(out.err, apperr.KindConflict) || out.res.Success {
			t.Fatalf("overlapping booking: res = %+v err = %v", out.res, out.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("overlapping booking reached slot validation while the first attempt held it")
	}

	close(gate.proceed)
	out := <-first
	if out.err != nil || !out.res.Success {
		t.Fatalf("first booking: res = %+v err = %v", out.res, out.err)
	}
	if len(f.cal.created) != 1 {
		t.Fatalf("events created = %d", len(f.cal.created))
	}
	for _, key := range holdKeys(long.StartTime, long.EndTime) {
		if ok, _ := f.holds.Acquire(context.Background(), key, "later", time.Minute); !ok {
			t.Fatalf("hold %s not released", key)
		}
	}
}

func TestHoldKeys(t *testing.T) {
	start := time.Date(2024, 6, 11, 14, 0, 0, 0, time.FixedZone("EDT", -4*3600))
	keys := holdKeys(start, start.Add(time.Hour))
	want := []string{"2024-06-11T18:00:00Z", "2024-06-11T18:30:00Z"}
	if strings.Join(keys, ",") != strings.Join(want, ",") {
		t.Fatalf("keys = %v", keys)
	}
}

// cancellingCalendar simulates a caller disconnecting right after the event is created
type cancellingCalendar struct {
	*fakeCalendar
	cancel context.CancelFunc
}

func (c *cancellingCalendar) CreateEvent(ctx context.Context, id string, ev scheduling.EventRequest) (scheduling.CreatedEvent, error) {
	out, err := c.fakeCalendar.CreateEvent(ctx, id, ev)
	c.cancel()
	return out, err
}

func TestBook_CallerGoneAfterEventStillPersists(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.orch.d.Calendar = &cancellingCalendar{fakeCalendar: f.cal, cancel: cancel}

	res, err := f.orch.Book(ctx, validRequest())
	if err != nil || !res.Success {
		t.Fatalf("res = %+v err = %v", res, err)
	}
	if res.Degraded || res.NeedsFollowUp {
		t.Fatalf("record and emails should survive the disconnect: %+v", res)
	}
	if len(f.notif.sent) != 2 {
		t.Fatalf("sent = %d", len(f.notif.sent))
	}
	rec, err := f.orch.Lookup(context.Background(), "alice@example.com", "")
	if err != nil || rec == nil || rec.ExternalEventID != "evt-1" {
		t.Fatalf("lookup = %+v err = %v", rec, err)
	}
}

func TestStateMachine(t *testing.T) {
	if CanTransition(StateRequested, StateEventCreated) {
		t.Fatal("cannot skip validation")
	}
	if CanTransition(StateConfirmed, StateFailed) {
		t.Fatal("confirmed is terminal")
	}
	a := newAttempt(func() time.Time { return testNow })
	if err := a.advance(StatePersisted, ""); err == nil {
		t.Fatal("expected illegal transition")
	}
	a.fail("x")
	a.fail("y")
	if a.State != StateFailed || a.FailureReason != "x" || len(a.History) != 1 {
		t.Fatalf("attempt = %+v", a)
	}
}

func TestLookupListCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.orch.Lookup(ctx, "nope", ""); !apperr.Is(err, apperr.KindInput) {
		t.Fatalf("lookup invalid email: %v", err)
	}
	if rec, err := f.orch.Lookup(ctx, "alice@example.com", ""); rec != nil || err != nil {
		t.Fatalf("lookup empty: %v %v", rec, err)
	}

	res, err := f.orch.Book(ctx, validRequest())
	if err != nil {
		t.Fatal(err)
	}
	rec, err := f.orch.Lookup(ctx, "ALICE@example.com", "")
	if err != nil || rec == nil || rec.ID != res.Booking.ID {
		t.Fatalf("lookup = %+v %v", rec, err)
	}

	list, err := f.orch.List(ctx, testNow, testNow.AddDate(0, 0, 7))
	if err != nil || len(list) != 1 {
		t.Fatalf("list = %v %v", list, err)
	}
	if _, err := f.orch.List(ctx, testNow, testNow); !apperr.Is(err, apperr.KindInput) {
		t.Fatalf("empty range: %v", err)
	}

	if err := f.orch.Cancel(ctx, res.Booking.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := f.orch.Cancel(ctx, res.Booking.ID); !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("cancel twice: %v", err)
	}
	if err := f.orch.Cancel(ctx, "missing"); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("cancel missing: %v", err)
	}
	if rec, _ := f.orch.Lookup(ctx, "alice@example.com", ""); rec != nil {
		t.Fatal("cancelled booking must not count as upcoming")
	}
}

func TestPresent(t *testing.T) {
	f := newFixture(t)
	start := time.Date(2024, 6, 11, 18, 0, 0, 0, time.UTC)
	c, err := f.orch.Present(Details{
		Name:        "Alice",
		Email:       "alice@example.com",
		Timezone:    "America/Los_Angeles",
		StartTime:   start,
		EndTime:     start.Add(time.Hour),
		MeetingType: "Consultation",
	})
	if err != nil {
		t.Fatalf("Present: %v", err)
	}
	if c.DurationMinutes != 60 || c.Date != "Tuesday, June 11, 2024" || c.Time != "11:00 AM - 12:00 PM PDT" {
		t.Fatalf("confirmation = %+v", c)
	}
	if c.Summary != "60-minute Consultation meeting on Tuesday, June 11, 2024 at 11:00 AM PDT for Alice (alice@example.com)" {
		t.Fatalf("summary = %q", c.Summary)
	}

	c, err = f.orch.Present(Details{StartTime: start, EndTime: start.Add(30 * time.Minute), Timezone: "Nowhere/Else"})
	if err != nil || c.Timezone != "America/New_York" {
		t.Fatalf("fallback tz: %+v %v", c, err)
	}
	if _, err := f.orch.Present(Details{StartTime: start, EndTime: start}); !apperr.Is(err, apperr.KindInput) {
		t.Fatalf("zero length: %v", err)
	}
}

func TestGet(t *testing.T) {
	f := newFixture(t)
	res, err := f.orch.Book(context.Background(), validRequest())
	if err != nil {
		t.Fatal(err)
	}
	rec, err := f.orch.Get(context.Background(), res.Booking.ID)
	if err != nil || rec.Status != StatusConfirmed || rec.MeetingLink == "" {
		t.Fatalf("get = %+v %v", rec, err)
	}
	if _, err := f.orch.Get(context.Background(), "nope"); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("missing: %v", err)
	}
}
