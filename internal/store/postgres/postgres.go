// Package postgres stores booking records with pgx
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"booking-service/internal/booking"
)

//go:embed schema.sql
var schema string

// Open connects and pings
func Open(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}

// Migrate creates the bookings table when missing
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// BookingStore implements booking.Store
type BookingStore struct {
	DB *pgxpool.Pool
}

var _ booking.Store = (*BookingStore)(nil)

const columns = `id::text,name,email,timezone,start_at_utc,end_at_utc,meeting_type,notes,
	external_event_id,meeting_link,status,created_at,updated_at`

func scanRecord(row pgx.Row) (*booking.Record, error) {
	var r booking.Record
	var status string
	if err := row.Scan(&r.ID, &r.Name, &r.Email, &r.Timezone, &r.StartTime, &r.EndTime,
		&r.MeetingType, &r.Notes, &r.ExternalEventID, &r.MeetingLink, &status,
		&r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Status = booking.Status(status)
	return &r, nil
}

func (s *BookingStore) Create(ctx context.Context, r *booking.Record) error {
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = now
	}
	if r.Status == "" {
		r.Status = booking.StatusConfirmed
	}

	q := `INSERT INTO bookings
		(name, email, timezone, start_at_utc, end_at_utc, meeting_type, notes,
		 external_event_id, meeting_link, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING id::text`
	err := s.DB.QueryRow(ctx, q,
		r.Name, r.Email, r.Timezone, r.StartTime.UTC(), r.EndTime.UTC(), r.MeetingType, r.Notes,
		r.ExternalEventID, r.MeetingLink, string(r.Status), r.CreatedAt, r.UpdatedAt,
	).Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

func (s *BookingStore) FindUpcoming(ctx context.Context, email, name string, now time.Time) (*booking.Record, error) {
	q := `SELECT ` + columns + `
	      FROM bookings
	      WHERE status IN ('pending','confirmed') AND start_at_utc > $3
	        AND (lower(email) = lower($1) OR ($2 <> '' AND lower(name) = lower($2)))
	      ORDER BY start_at_utc
	      LIMIT 1`
	r, err := scanRecord(s.DB.QueryRow(ctx, q, email, name, now.UTC()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, booking.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find upcoming booking: %w", err)
	}
	return r, nil
}

func (s *BookingStore) Get(ctx context.Context, id string) (*booking.Record, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, booking.ErrNotFound
	}
	r, err := scanRecord(s.DB.QueryRow(ctx, `SELECT `+columns+` FROM bookings WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, booking.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}
	return r, nil
}

func (s *BookingStore) ListBetween(ctx context.Context, from, to time.Time) ([]booking.Record, error) {
	q := `SELECT ` + columns + `
	      FROM bookings
	      WHERE start_at_utc >= $1 AND start_at_utc < $2
	      ORDER BY start_at_utc`
	rows, err := s.DB.Query(ctx, q, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()

	var out []booking.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *BookingStore) Cancel(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return booking.ErrNotFound
	}

	var current string
	err := s.DB.QueryRow(ctx, `SELECT status FROM bookings WHERE id=$1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return booking.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load booking status: %w", err)
	}
	if current == string(booking.StatusCancelled) {
		return booking.ErrAlreadyCancelled
	}

	res, err := s.DB.Exec(ctx,
		`UPDATE bookings SET status='cancelled', updated_at=now() WHERE id=$1 AND status <> 'cancelled'`, id)
	if err != nil {
		return fmt.Errorf("cancel booking: %w", err)
	}
	if res.RowsAffected() == 0 {
		return booking.ErrAlreadyCancelled
	}
	return nil
}
