package tools

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dealerline/voiceagent/internal/calendar"
	"github.com/dealerline/voiceagent/internal/config"
	"github.com/dealerline/voiceagent/internal/repo"
	"github.com/dealerline/voiceagent/internal/sessionstore"
)

// fakeDB satisfies repo.DB. QueryRow always reports "not found"; Query and
// Exec are never expected to be reached by the test scenarios below, since
// every one of them exercises an early not-found or validation exit.
type fakeDB struct{}

func (fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row { return fakeRow{} }
func (fakeDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("fakeDB: Query unexpectedly invoked")
}
func (fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errors.New("fakeDB: Exec unexpectedly invoked")
}

type fakeRow struct{}

func (fakeRow) Scan(dest ...any) error { return pgx.ErrNoRows }

func testDeps() Dependencies {
	db := fakeDB{}
	return Dependencies{
		Customers:    repo.NewCustomerStore(db),
		Vehicles:     repo.NewVehicleStore(db),
		Appointments: repo.NewAppointmentStore(db),
		Session:      &sessionstore.Store{},
		Business:     config.DefaultBusinessHours(),
	}
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := New(testDeps())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func TestExecute_UnknownTool(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Execute(context.Background(), "does_not_exist", "{}")
	if !errors.Is(err, ErrUnknownTool) {
		t.Errorf("expected ErrUnknownTool, got %v", err)
	}
}

func TestExecute_MissingRequiredArgument(t *testing.T) {
	r := newTestRegistry(t)
	result, err := r.Execute(context.Background(), "lookup_customer", "{}")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}
	if result.Success {
		t.Error("expected Success=false for missing required phone argument")
	}
	if result.Error != "invalid_arguments" {
		t.Errorf("expected invalid_arguments, got %q", result.Error)
	}
}

func TestExecute_LookupCustomer_NotFound(t *testing.T) {
	r := newTestRegistry(t)
	result, err := r.Execute(context.Background(), "lookup_customer", `{"phone":"+15551234567"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Errorf("expected Success=true for a not-found customer, got %+v", result)
	}
	if result.Data != nil {
		t.Errorf("expected nil Data for not-found customer, got %v", result.Data)
	}
}

func TestExecute_BookAppointment_CustomerNotFound(t *testing.T) {
	r := newTestRegistry(t)
	args := `{"customer_id":1,"vehicle_id":1,"scheduled_at":"2026-08-01T09:00:00Z","service_type":"oil_change"}`
	result, err := r.Execute(context.Background(), "book_appointment", args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success {
		t.Error("expected Success=false for unknown customer")
	}
	if result.Error != "not_found" {
		t.Errorf("expected not_found, got %q", result.Error)
	}
}

func TestExecute_DecodeVIN_InvalidFormat(t *testing.T) {
	r := newTestRegistry(t)
	result, err := r.Execute(context.Background(), "decode_vin", `{"vin":"short"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success {
		t.Error("expected Success=false for a malformed VIN")
	}
	if result.Error != "invalid_vin" {
		t.Errorf("expected invalid_vin, got %q", result.Error)
	}
}

func TestExecute_GetAvailableSlots_InvalidDate(t *testing.T) {
	r := newTestRegistry(t)
	result, err := r.Execute(context.Background(), "get_available_slots", `{"date":"not-a-date"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success {
		t.Error("expected Success=false for an invalid date")
	}
	if result.Error != "invalid_date" {
		t.Errorf("expected invalid_date, got %q", result.Error)
	}
}

func TestExecute_GetAvailableSlots_ClosedDay(t *testing.T) {
	r := newTestRegistry(t)
	// 2026-08-02 is a Sunday, closed by default.
	result, err := r.Execute(context.Background(), "get_available_slots", `{"date":"2026-08-02"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected Success=true (empty slots) for a closed day, got %+v", result)
	}
	slots, ok := result.Data.([]string)
	if !ok || len(slots) != 0 {
		t.Errorf("expected an empty slot list, got %v", result.Data)
	}
}

// appointmentRow scans a fixed [repo.Appointment] in the column order
// AppointmentStore.scanOne expects, regardless of the query string.
type appointmentRow struct {
	a repo.Appointment
}

func (r appointmentRow) Scan(dest ...any) error {
	vals := []any{
		&r.a.ID, &r.a.CustomerID, &r.a.VehicleID, &r.a.ScheduledAt, &r.a.DurationMinutes, &r.a.ServiceType,
		&r.a.Status, &r.a.CancellationReason, &r.a.BookingMethod, &r.a.ExternalEventID,
		&r.a.Confirmed, &r.a.ReminderSent, &r.a.CompletedAt, &r.a.CreatedAt, &r.a.UpdatedAt,
	}
	if len(dest) != len(vals) {
		return fmt.Errorf("appointmentRow: Scan called with %d dest, want %d", len(dest), len(vals))
	}
	for i, v := range vals {
		switch d := dest[i].(type) {
		case *int64:
			*d = *(v.(*int64))
		case *int:
			*d = *(v.(*int))
		case *string:
			*d = *(v.(*string))
		case *time.Time:
			*d = *(v.(*time.Time))
		case **time.Time:
			*d = *(v.(**time.Time))
		case *bool:
			*d = *(v.(*bool))
		case *repo.ServiceType:
			*d = *(v.(*repo.ServiceType))
		case *repo.AppointmentStatus:
			*d = *(v.(*repo.AppointmentStatus))
		case *repo.BookingMethod:
			*d = *(v.(*repo.BookingMethod))
		default:
			return fmt.Errorf("appointmentRow: unsupported Scan dest %T at index %d", dest[i], i)
		}
	}
	return nil
}

// onceAppointmentDB satisfies repo.DB for a single existing appointment: the
// first QueryRow call returns it, and every call after that (and every
// Query/Exec call) fails the test. It lets TestExecute_RescheduleAppointment_SameTimeIsNoOp
// prove that a same-time reschedule never reaches a second DB round trip.
type onceAppointmentDB struct {
	t     *testing.T
	a     repo.Appointment
	calls int
}

func (d *onceAppointmentDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	d.calls++
	if d.calls > 1 {
		d.t.Errorf("onceAppointmentDB: unexpected QueryRow call #%d (sql=%q); reschedule_appointment should short-circuit on a same-time request", d.calls, sql)
		return fakeRow{}
	}
	return appointmentRow{a: d.a}
}

func (d *onceAppointmentDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	d.t.Errorf("onceAppointmentDB: unexpected Query call (sql=%q)", sql)
	return nil, errors.New("onceAppointmentDB: Query unexpectedly invoked")
}

func (d *onceAppointmentDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	d.t.Errorf("onceAppointmentDB: unexpected Exec call (sql=%q)", sql)
	return pgconn.CommandTag{}, errors.New("onceAppointmentDB: Exec unexpectedly invoked")
}

func TestExecute_RescheduleAppointment_SameTimeIsNoOp(t *testing.T) {
	scheduledAt := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	db := &onceAppointmentDB{
		t: t,
		a: repo.Appointment{
			ID:          42,
			CustomerID:  7,
			VehicleID:   3,
			ScheduledAt: scheduledAt,
			ServiceType: repo.ServiceOilChange,
			Status:      repo.AppointmentScheduled,
		},
	}
	deps := testDeps()
	deps.Appointments = repo.NewAppointmentStore(db)
	r, err := New(deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	args := `{"appointment_id":42,"new_scheduled_at":"2026-08-01T09:00:00Z"}`
	result, err := r.Execute(context.Background(), "reschedule_appointment", args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected Success=true for a same-time reschedule, got %+v", result)
	}
	if db.calls != 1 {
		t.Errorf("expected exactly 1 QueryRow call (the initial Get), got %d", db.calls)
	}
}

func TestDefinitions_IncludesAllNine(t *testing.T) {
	r := newTestRegistry(t)
	defs := r.Definitions()
	want := []string{
		"lookup_customer", "get_available_slots", "book_appointment",
		"get_upcoming_appointments", "cancel_appointment", "reschedule_appointment",
		"decode_vin", "create_customer", "create_vehicle",
	}
	if len(defs) != len(want) {
		t.Fatalf("got %d tool definitions, want %d", len(defs), len(want))
	}
	seen := make(map[string]bool, len(defs))
	for _, d := range defs {
		seen[d.Name] = true
	}
	for _, name := range want {
		if !seen[name] {
			t.Errorf("missing tool definition %q", name)
		}
	}
}

// ── pure-function helpers ─────────────────────────────────────────────────

func TestSubtractWindow_SplitsAroundLunch(t *testing.T) {
	day := time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC)
	open := day.Add(9 * time.Hour)
	close := day.Add(17 * time.Hour)
	lunchStart := day.Add(12 * time.Hour)
	lunchEnd := day.Add(13 * time.Hour)

	windows := []calendar.TimeRange{{Start: open, End: close}}
	result := subtractWindow(windows, calendar.TimeRange{Start: lunchStart, End: lunchEnd})

	if len(result) != 2 {
		t.Fatalf("expected 2 windows around lunch, got %d: %+v", len(result), result)
	}
	if !result[0].End.Equal(lunchStart) || !result[1].Start.Equal(lunchEnd) {
		t.Errorf("unexpected split windows: %+v", result)
	}
}

func TestSubtractWindow_NoOverlapLeavesWindowIntact(t *testing.T) {
	day := time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC)
	open := day.Add(9 * time.Hour)
	close := day.Add(17 * time.Hour)
	excl := calendar.TimeRange{Start: day.Add(18 * time.Hour), End: day.Add(19 * time.Hour)}

	result := subtractWindow([]calendar.TimeRange{{Start: open, End: close}}, excl)
	if len(result) != 1 || !result[0].Start.Equal(open) || !result[0].End.Equal(close) {
		t.Errorf("expected untouched window, got %+v", result)
	}
}

func TestParseClockOnDate(t *testing.T) {
	day := time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC)
	got, err := parseClockOnDate(day, "09:30")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Hour() != 9 || got.Minute() != 30 {
		t.Errorf("got %v, want 09:30", got)
	}

	if _, err := parseClockOnDate(day, "9:30am"); err == nil {
		t.Error("expected error for malformed clock string")
	}
}
