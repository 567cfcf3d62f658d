// Package booking turns a chosen slot into a confirmed booking: validation, calendar event,
// persistence and notification, tracked as an explicit state machine
package booking

import (
	"context"
	"errors"
	"time"
)

// Status is the persisted lifecycle of a booking
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// Request is what a caller submits to book a slot
type Request struct {
	Name        string    `json:"name" validate:"required,max=200"`
	Email       string    `json:"email" validate:"required,email"`
	Timezone    string    `json:"timezone" validate:"omitempty,timezone"`
	StartTime   time.Time `json:"startTime" validate:"required"`
	EndTime     time.Time `json:"endTime" validate:"required,gtfield=StartTime"`
	MeetingType string    `json:"meetingType" validate:"max=100"`
	Notes       string    `json:"notes" validate:"max=2000"`
}

// Record is a persisted booking. It is only ever created after its calendar event exists.
type Record struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Email           string    `json:"email"`
	Timezone        string    `json:"timezone"`
	StartTime       time.Time `json:"startTime"`
	EndTime         time.Time `json:"endTime"`
	MeetingType     string    `json:"meetingType,omitempty"`
	Notes           string    `json:"notes,omitempty"`
	ExternalEventID string    `json:"externalEventId"`
	MeetingLink     string    `json:"meetingLink,omitempty"`
	Status          Status    `json:"status"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

var (
	ErrNotFound         = errors.New("booking not found")
	ErrAlreadyCancelled = errors.New("booking already cancelled")
	ErrStoreUnavailable = errors.New("booking store not configured")
)

// Store persists booking records
type Store interface {
	Create(ctx context.Context, r *Record) error
	// FindUpcoming returns the earliest non-cancelled booking starting after now for email (or, when set, name)
	FindUpcoming(ctx context.Context, email, name string, now time.Time) (*Record, error)
	Get(ctx context.Context, id string) (*Record, error)
	ListBetween(ctx context.Context, from, to time.Time) ([]Record, error)
	Cancel(ctx context.Context, id string) error
}

// UnavailableStore is used when no database is configured; every call reports ErrStoreUnavailable
type UnavailableStore struct{}

func (UnavailableStore) Create(context.Context, *Record) error { return ErrStoreUnavailable }
func (UnavailableStore) FindUpcoming(context.Context, string, string, time.Time) (*Record, error) {
	return nil, ErrStoreUnavailable
}
func (UnavailableStore) Get(context.Context, string) (*Record, error) { return nil, ErrStoreUnavailable }
func (UnavailableStore) ListBetween(context.Context, time.Time, time.Time) ([]Record, error) {
	return nil, ErrStoreUnavailable
}
func (UnavailableStore) Cancel(context.Context, string) error { return ErrStoreUnavailable }
