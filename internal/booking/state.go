package booking

import (
	"fmt"
	"time"
)

// State is a step of one booking attempt
type State string

const (
	StateRequested    State = "requested"
	StateValidated    State = "validated"
	StateEventCreated State = "event_created"
	StatePersisted    State = "persisted"
	StateNotified     State = "notified"
	StateConfirmed    State = "confirmed"
	StateFailed       State = "failed"
)

// Persistence and notification are best effort, so both may be skipped after the event exists
var transitions = map[State][]State{
	StateRequested:    {StateValidated, StateFailed},
	StateValidated:    {StateEventCreated, StateFailed},
	StateEventCreated: {StatePersisted, StateNotified, StateConfirmed, StateFailed},
	StatePersisted:    {StateNotified, StateConfirmed, StateFailed},
	StateNotified:     {StateConfirmed, StateFailed},
}

// Terminal reports whether no transition leaves s
func (s State) Terminal() bool { return s == StateConfirmed || s == StateFailed }

// CanTransition reports whether from -> to is allowed
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition is one recorded state change
type Transition struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason,omitempty"`
}

// Attempt tracks one booking attempt through the state machine
type Attempt struct {
	State         State
	History       []Transition
	Degraded      bool
	NeedsFollowUp bool
	FailureReason string
	now           func() time.Time
}

func newAttempt(now func() time.Time) *Attempt {
	return &Attempt{State: StateRequested, now: now}
}

func (a *Attempt) advance(to State, reason string) error {
	if !CanTransition(a.State, to) {
		return fmt.Errorf("booking: illegal transition %s -> %s", a.State, to)
	}
	a.History = append(a.History, Transition{From: a.State, To: to, At: a.now(), Reason: reason})
	a.State = to
	return nil
}

func (a *Attempt) fail(reason string) {
	if a.State.Terminal() {
		return
	}
	a.FailureReason = reason
	_ = a.advance(StateFailed, reason)
}
