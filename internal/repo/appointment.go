package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// AppointmentSchema is the DDL for the appointments table. Secondary
// indexes on (status, scheduled_at) and (customer_id, scheduled_at) back
// get_available_slots and get_upcoming_appointments.
const AppointmentSchema = `
CREATE TABLE IF NOT EXISTS appointments (
    id                   BIGSERIAL PRIMARY KEY,
    customer_id          BIGINT NOT NULL REFERENCES customers(id),
    vehicle_id           BIGINT NOT NULL REFERENCES vehicles(id),
    scheduled_at         TIMESTAMPTZ NOT NULL,
    duration_minutes     INT NOT NULL DEFAULT 60,
    service_type         TEXT NOT NULL,
    status               TEXT NOT NULL DEFAULT 'scheduled',
    cancellation_reason  TEXT NOT NULL DEFAULT '',
    booking_method       TEXT NOT NULL DEFAULT 'ai_voice',
    external_event_id    TEXT NOT NULL DEFAULT '',
    confirmed            BOOLEAN NOT NULL DEFAULT false,
    reminder_sent        BOOLEAN NOT NULL DEFAULT false,
    completed_at         TIMESTAMPTZ,
    created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_appointments_status_time ON appointments(status, scheduled_at);
CREATE INDEX IF NOT EXISTS idx_appointments_customer_time ON appointments(customer_id, scheduled_at);
`

// ErrAlreadyCancelled is returned by Cancel when the appointment's status
// is already AppointmentCancelled; cancelling twice must not mutate state.
var ErrAlreadyCancelled = errors.New("repo: appointment already cancelled")

// AppointmentStore is a typed repository over the appointments table.
type AppointmentStore struct {
	db DB
}

// NewAppointmentStore creates an [AppointmentStore] over db.
func NewAppointmentStore(db DB) *AppointmentStore { return &AppointmentStore{db: db} }

// Migrate creates the appointments table and its indexes if absent.
func (s *AppointmentStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, AppointmentSchema); err != nil {
		return fmt.Errorf("repo: migrate appointments: %w", err)
	}
	return nil
}

// Create inserts a new appointment. vehicleCustomerID must be the
// CustomerID on file for a.VehicleID; book_appointment's handler looks
// this up first so the ownership invariant is enforced before any write.
func (s *AppointmentStore) Create(ctx context.Context, a *Appointment, vehicleCustomerID int64) error {
	if a.Status == "" {
		a.Status = AppointmentScheduled
	}
	if a.BookingMethod == "" {
		a.BookingMethod = BookingAIVoice
	}
	if err := a.Validate(vehicleCustomerID); err != nil {
		return err
	}

	const query = `
		INSERT INTO appointments (
			customer_id, vehicle_id, scheduled_at, duration_minutes, service_type,
			status, cancellation_reason, booking_method, external_event_id,
			confirmed, reminder_sent, completed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING id, created_at, updated_at`

	err := s.db.QueryRow(ctx, query,
		a.CustomerID, a.VehicleID, a.ScheduledAt.UTC(), a.DurationMinutes, a.ServiceType,
		a.Status, a.CancellationReason, a.BookingMethod, a.ExternalEventID,
		a.Confirmed, a.ReminderSent, a.CompletedAt,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("repo: create appointment: %w", err)
	}
	return nil
}

// Get retrieves an appointment by id, returning (nil, nil) if not found.
func (s *AppointmentStore) Get(ctx context.Context, id int64) (*Appointment, error) {
	const query = `
		SELECT id, customer_id, vehicle_id, scheduled_at, duration_minutes, service_type,
		       status, cancellation_reason, booking_method, external_event_id,
		       confirmed, reminder_sent, completed_at, created_at, updated_at
		FROM appointments WHERE id = $1`
	return s.scanOne(s.db.QueryRow(ctx, query, id))
}

func (s *AppointmentStore) scanOne(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID, &a.CustomerID, &a.VehicleID, &a.ScheduledAt, &a.DurationMinutes, &a.ServiceType,
		&a.Status, &a.CancellationReason, &a.BookingMethod, &a.ExternalEventID,
		&a.Confirmed, &a.ReminderSent, &a.CompletedAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("repo: get appointment: %w", err)
	}
	return &a, nil
}

// Upcoming returns appointments for customerID with scheduled_at in the
// future and status in {scheduled, confirmed}, ascending, capped at limit.
func (s *AppointmentStore) Upcoming(ctx context.Context, customerID int64, limit int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 10
	}
	const query = `
		SELECT id, customer_id, vehicle_id, scheduled_at, duration_minutes, service_type,
		       status, cancellation_reason, booking_method, external_event_id,
		       confirmed, reminder_sent, completed_at, created_at, updated_at
		FROM appointments
		WHERE customer_id = $1 AND scheduled_at > now() AND status IN ('scheduled', 'confirmed')
		ORDER BY scheduled_at ASC
		LIMIT $2`

	rows, err := s.db.Query(ctx, query, customerID, limit)
	if err != nil {
		return nil, fmt.Errorf("repo: upcoming appointments: %w", err)
	}
	defer rows.Close()

	var out []Appointment
	for rows.Next() {
		var a Appointment
		if err := rows.Scan(
			&a.ID, &a.CustomerID, &a.VehicleID, &a.ScheduledAt, &a.DurationMinutes, &a.ServiceType,
			&a.Status, &a.CancellationReason, &a.BookingMethod, &a.ExternalEventID,
			&a.Confirmed, &a.ReminderSent, &a.CompletedAt, &a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("repo: upcoming appointments scan: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo: upcoming appointments: %w", err)
	}
	return out, nil
}

// BusyWindows returns the (start, end) pairs of every appointment, across
// all customers, whose status is neither cancelled nor no_show and that
// overlaps [from, to), used to compute freebusy for get_available_slots.
func (s *AppointmentStore) BusyWindows(ctx context.Context, from, to time.Time) ([]TimeRange, error) {
	const query = `
		SELECT scheduled_at, scheduled_at + (duration_minutes || ' minutes')::interval
		FROM appointments
		WHERE status NOT IN ('cancelled', 'no_show')
		  AND scheduled_at < $2 AND scheduled_at + (duration_minutes || ' minutes')::interval > $1
		ORDER BY scheduled_at ASC`

	rows, err := s.db.Query(ctx, query, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("repo: busy windows: %w", err)
	}
	defer rows.Close()

	var out []TimeRange
	for rows.Next() {
		var tr TimeRange
		if err := rows.Scan(&tr.Start, &tr.End); err != nil {
			return nil, fmt.Errorf("repo: busy windows scan: %w", err)
		}
		out = append(out, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo: busy windows: %w", err)
	}
	return out, nil
}

// TimeRange is a half-open [Start, End) UTC interval.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Reschedule moves an existing, non-cancelled appointment to newTime and
// updates the linked external_event_id (the Calendar client writes the
// Calendar side separately; callers persist both under the same
// orchestration step). Rescheduling to the identical scheduled_at is the
// caller's responsibility to short-circuit before calling Reschedule at
// all (internal/tools/handlers.go's reschedule_appointment handler does
// this) so the row, and any cache keyed off it, are never touched.
func (s *AppointmentStore) Reschedule(ctx context.Context, id int64, newTime time.Time, externalEventID string) (*Appointment, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("repo: appointment %d not found", id)
	}
	if existing.Status == AppointmentCancelled {
		return nil, fmt.Errorf("repo: appointment %d is cancelled and cannot be rescheduled", id)
	}

	const query = `
		UPDATE appointments SET scheduled_at = $2, external_event_id = $3, updated_at = now()
		WHERE id = $1
		RETURNING scheduled_at, external_event_id, updated_at`
	err = s.db.QueryRow(ctx, query, id, newTime.UTC(), externalEventID).
		Scan(&existing.ScheduledAt, &existing.ExternalEventID, &existing.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("repo: reschedule appointment: %w", err)
	}
	return existing, nil
}

// Cancel marks an appointment cancelled with the given reason. It returns
// [ErrAlreadyCancelled] without mutating anything if the appointment is
// already cancelled.
func (s *AppointmentStore) Cancel(ctx context.Context, id int64, reason string) (*Appointment, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("repo: appointment %d not found", id)
	}
	if existing.Status == AppointmentCancelled {
		return nil, ErrAlreadyCancelled
	}

	const query = `
		UPDATE appointments SET status = 'cancelled', cancellation_reason = $2, updated_at = now()
		WHERE id = $1
		RETURNING status, cancellation_reason, updated_at`
	err = s.db.QueryRow(ctx, query, id, reason).
		Scan(&existing.Status, &existing.CancellationReason, &existing.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("repo: cancel appointment: %w", err)
	}
	return existing, nil
}

// SetExternalEventID links (or clears, via "") the Calendar event id for an
// appointment. book_appointment does not call it: it sets the event id on
// the record before [AppointmentStore.Create], and its compensating path
// deletes the Calendar event without touching the database.
func (s *AppointmentStore) SetExternalEventID(ctx context.Context, id int64, externalEventID string) error {
	const query = `UPDATE appointments SET external_event_id = $2, updated_at = now() WHERE id = $1`
	_, err := s.db.Exec(ctx, query, id, externalEventID)
	if err != nil {
		return fmt.Errorf("repo: set external event id: %w", err)
	}
	return nil
}
