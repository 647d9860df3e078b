package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/dealerline/voiceagent/internal/calendar"
	"github.com/dealerline/voiceagent/internal/repo"
	"github.com/dealerline/voiceagent/internal/sessionstore"
	"github.com/dealerline/voiceagent/internal/vindecode"
	"github.com/dealerline/voiceagent/pkg/provider/llm"
)

// handlers bundles the dependencies every built-in tool needs. Methods on
// this type are the actual Handler implementations; [builtins] binds them
// to their [llm.ToolDefinition].
type handlers struct {
	deps Dependencies
}

type builtin struct {
	def     llm.ToolDefinition
	handler Handler
}

func builtins(h *handlers) []builtin {
	return []builtin{
		{lookupCustomerDef, h.lookupCustomer},
		{getAvailableSlotsDef, h.getAvailableSlots},
		{bookAppointmentDef, h.bookAppointment},
		{getUpcomingAppointmentsDef, h.getUpcomingAppointments},
		{cancelAppointmentDef, h.cancelAppointment},
		{rescheduleAppointmentDef, h.rescheduleAppointment},
		{decodeVINDef, h.decodeVIN},
		{createCustomerDef, h.createCustomer},
		{createVehicleDef, h.createVehicle},
	}
}

// ── argument extraction helpers ─────────────────────────────────────────────

func argString(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func argInt(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

func argInt64(args map[string]any, key string) int64 {
	switch v := args[key].(type) {
	case float64:
		return int64(v)
	case int:
		return int64(v)
	}
	return 0
}

// ── lookup_customer ──────────────────────────────────────────────────────────

var lookupCustomerDef = llm.ToolDefinition{
	Name:        "lookup_customer",
	Description: "Look up a customer and their vehicles/upcoming appointments by phone number.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"phone": map[string]any{"type": "string", "description": "Caller's phone number in any common format"},
		},
		"required": []any{"phone"},
	},
}

type customerSnapshot struct {
	Customer     *repo.Customer      `json:"customer"`
	Vehicles     []repo.Vehicle      `json:"vehicles"`
	Appointments []repo.Appointment  `json:"upcoming_appointments"`
}

func (h *handlers) lookupCustomer(ctx context.Context, args map[string]any) (*Result, error) {
	phone := repo.NormalizePhone(argString(args, "phone"))

	if cached, err := h.deps.Session.GetCachedCustomer(ctx, phone); err == nil && cached != nil {
		var snap customerSnapshot
		if err := json.Unmarshal(cached.CustomerJSON, &snap.Customer); err == nil {
			_ = json.Unmarshal(cached.VehiclesJSON, &snap.Vehicles)
			_ = json.Unmarshal(cached.AppointmentsJSON, &snap.Appointments)
			return ok(snap), nil
		}
	}

	customer, err := h.deps.Customers.GetByPhone(ctx, phone)
	if err != nil {
		return nil, fmt.Errorf("lookup_customer: %w", err)
	}
	if customer == nil {
		return ok(nil), nil
	}

	vehicles, err := h.deps.Vehicles.ListByCustomer(ctx, customer.ID)
	if err != nil {
		return nil, fmt.Errorf("lookup_customer: %w", err)
	}
	appts, err := h.deps.Appointments.Upcoming(ctx, customer.ID, 10)
	if err != nil {
		return nil, fmt.Errorf("lookup_customer: %w", err)
	}

	snap := customerSnapshot{Customer: customer, Vehicles: vehicles, Appointments: appts}
	cacheSnapshot(ctx, h.deps.Session, phone, snap)

	return ok(snap), nil
}

func cacheSnapshot(ctx context.Context, store *sessionstore.Store, phone string, snap customerSnapshot) {
	custJSON, err := json.Marshal(snap.Customer)
	if err != nil {
		return
	}
	vehJSON, err := json.Marshal(snap.Vehicles)
	if err != nil {
		return
	}
	apptJSON, err := json.Marshal(snap.Appointments)
	if err != nil {
		return
	}
	if err := store.CacheCustomer(ctx, phone, &sessionstore.CustomerCacheRecord{
		CustomerJSON: custJSON, VehiclesJSON: vehJSON, AppointmentsJSON: apptJSON,
	}); err != nil {
		slog.Warn("tools: lookup_customer cache write failed", "error", err)
	}
}

// ── get_available_slots ──────────────────────────────────────────────────────

var getAvailableSlotsDef = llm.ToolDefinition{
	Name:        "get_available_slots",
	Description: "Return open appointment slots on a given date that fit the requested duration, honoring business hours and the lunch break.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"date":     map[string]any{"type": "string", "description": "YYYY-MM-DD"},
			"duration": map[string]any{"type": "integer", "description": "minutes, default 30"},
		},
		"required": []any{"date"},
	},
}

func (h *handlers) getAvailableSlots(ctx context.Context, args map[string]any) (*Result, error) {
	dateStr := argString(args, "date")
	duration := argInt(args, "duration", 30)
	if duration <= 0 {
		duration = 30
	}

	day, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		return fail("invalid_date", "That date doesn't look right. Could you give it as year-month-day?"), nil
	}

	dayHours := h.deps.Business.ForWeekday(day.Weekday())
	if dayHours.Closed() {
		return &Result{Success: true, Data: []string{}, Message: "We're closed that day."}, nil
	}

	open, err := parseClockOnDate(day, dayHours.Open)
	if err != nil {
		return nil, fmt.Errorf("get_available_slots: %w", err)
	}
	close, err := parseClockOnDate(day, dayHours.Close)
	if err != nil {
		return nil, fmt.Errorf("get_available_slots: %w", err)
	}

	free := []calendar.TimeRange{{Start: open, End: close}}
	if h.deps.Business.LunchStart != "" && h.deps.Business.LunchEnd != "" {
		lunchStart, err := parseClockOnDate(day, h.deps.Business.LunchStart)
		if err == nil {
			lunchEnd, err := parseClockOnDate(day, h.deps.Business.LunchEnd)
			if err == nil {
				free = subtractWindow(free, calendar.TimeRange{Start: lunchStart, End: lunchEnd})
			}
		}
	}

	busy, err := h.deps.Appointments.BusyWindows(ctx, open, close)
	if err != nil {
		return nil, fmt.Errorf("get_available_slots: %w", err)
	}
	for _, b := range busy {
		free = subtractWindow(free, calendar.TimeRange{Start: b.Start, End: b.End})
	}

	if h.deps.Calendar != nil {
		calBusy, err := h.deps.Calendar.FreeBusy(ctx, open, close)
		if err != nil {
			slog.Warn("tools: get_available_slots calendar freebusy failed, using DB windows only", "error", err)
		} else {
			for _, b := range calBusy {
				free = subtractWindow(free, b)
			}
		}
	}

	slotDuration := time.Duration(duration) * time.Minute
	var slots []string
	for _, w := range free {
		for t := w.Start; t.Add(slotDuration).Compare(w.End) <= 0; t = t.Add(slotDuration) {
			slots = append(slots, t.UTC().Format(time.RFC3339))
		}
	}
	if slots == nil {
		slots = []string{}
	}
	return ok(slots), nil
}

func parseClockOnDate(day time.Time, clock string) (time.Time, error) {
	if len(clock) != 5 || clock[2] != ':' {
		return time.Time{}, fmt.Errorf("malformed clock value %q", clock)
	}
	t, err := time.Parse("2006-01-02 15:04", day.Format("2006-01-02")+" "+clock)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// subtractWindow removes excl from every range in windows, splitting a
// range into two when excl falls strictly inside it.
func subtractWindow(windows []calendar.TimeRange, excl calendar.TimeRange) []calendar.TimeRange {
	var out []calendar.TimeRange
	for _, w := range windows {
		if excl.End.Compare(w.Start) <= 0 || excl.Start.Compare(w.End) >= 0 {
			out = append(out, w)
			continue
		}
		if excl.Start.Compare(w.Start) > 0 {
			out = append(out, calendar.TimeRange{Start: w.Start, End: excl.Start})
		}
		if excl.End.Compare(w.End) < 0 {
			out = append(out, calendar.TimeRange{Start: excl.End, End: w.End})
		}
	}
	return out
}

// ── book_appointment ──────────────────────────────────────────────────────

var bookAppointmentDef = llm.ToolDefinition{
	Name:        "book_appointment",
	Description: "Book a service appointment for a customer's vehicle, creating the calendar event and the appointment record atomically.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"customer_id":  map[string]any{"type": "integer"},
			"vehicle_id":   map[string]any{"type": "integer"},
			"scheduled_at": map[string]any{"type": "string", "description": "ISO-8601 timestamp"},
			"service_type": map[string]any{"type": "string"},
			"duration":     map[string]any{"type": "integer", "description": "minutes, default 60"},
			"notes":        map[string]any{"type": "string"},
		},
		"required": []any{"customer_id", "vehicle_id", "scheduled_at", "service_type"},
	},
}

func (h *handlers) bookAppointment(ctx context.Context, args map[string]any) (*Result, error) {
	customerID := argInt64(args, "customer_id")
	vehicleID := argInt64(args, "vehicle_id")
	notes := argString(args, "notes")

	scheduledAt, err := time.Parse(time.RFC3339, argString(args, "scheduled_at"))
	if err != nil {
		return fail("invalid_time", "I couldn't understand that appointment time."), nil
	}

	customer, err := h.deps.Customers.Get(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("book_appointment: %w", err)
	}
	if customer == nil {
		return fail("not_found", "I couldn't find that customer."), nil
	}

	vehicle, err := h.deps.Vehicles.Get(ctx, vehicleID)
	if err != nil {
		return nil, fmt.Errorf("book_appointment: %w", err)
	}
	if vehicle == nil {
		return fail("not_found", "I couldn't find that vehicle."), nil
	}

	a := &repo.Appointment{
		CustomerID:      customerID,
		VehicleID:       vehicleID,
		ScheduledAt:     scheduledAt,
		DurationMinutes: argInt(args, "duration", 60),
		ServiceType:     repo.ServiceType(argString(args, "service_type")),
	}
	if err := a.Validate(vehicle.CustomerID); err != nil {
		return fail("invalid_arguments", err.Error()), nil
	}

	summary := fmt.Sprintf("%s: %d %s %s", a.ServiceType, vehicle.Year, vehicle.Make, vehicle.Model)
	eventID, err := h.deps.Calendar.CreateEvent(ctx, calendar.EventRequest{
		Summary:       summary,
		Description:   notes,
		Start:         scheduledAt,
		End:           scheduledAt.Add(time.Duration(a.DurationMinutes) * time.Minute),
		AttendeeEmail: customer.Email,
	})
	if err != nil {
		return fail("calendar_error", "I couldn't reach the calendar system to book that."), nil
	}
	a.ExternalEventID = eventID

	if err := h.deps.Appointments.Create(ctx, a, vehicle.CustomerID); err != nil {
		if delErr := h.deps.Calendar.DeleteEvent(ctx, eventID); delErr != nil {
			slog.Error("tools: book_appointment compensating delete failed", "event_id", eventID, "error", delErr)
		}
		return fail("booking_failed", "Error booking appointment"), nil
	}

	if err := h.deps.Session.InvalidateCustomerCache(ctx, customer.Phone); err != nil {
		slog.Warn("tools: book_appointment cache invalidation failed", "error", err)
	}

	return ok(a), nil
}

// ── get_upcoming_appointments ────────────────────────────────────────────────

var getUpcomingAppointmentsDef = llm.ToolDefinition{
	Name:        "get_upcoming_appointments",
	Description: "List a customer's upcoming scheduled or confirmed appointments.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"customer_id": map[string]any{"type": "integer"},
			"limit":       map[string]any{"type": "integer", "description": "default 10"},
		},
		"required": []any{"customer_id"},
	},
}

type appointmentWithVehicle struct {
	repo.Appointment
	Vehicle *repo.Vehicle `json:"vehicle,omitempty"`
}

func (h *handlers) getUpcomingAppointments(ctx context.Context, args map[string]any) (*Result, error) {
	customerID := argInt64(args, "customer_id")
	limit := argInt(args, "limit", 10)

	customer, err := h.deps.Customers.Get(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("get_upcoming_appointments: %w", err)
	}
	if customer == nil {
		return fail("not_found", "I couldn't find that customer."), nil
	}

	appts, err := h.deps.Appointments.Upcoming(ctx, customerID, limit)
	if err != nil {
		return nil, fmt.Errorf("get_upcoming_appointments: %w", err)
	}

	out := make([]appointmentWithVehicle, 0, len(appts))
	for _, a := range appts {
		item := appointmentWithVehicle{Appointment: a}
		if v, err := h.deps.Vehicles.Get(ctx, a.VehicleID); err == nil {
			item.Vehicle = v
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })

	return ok(out), nil
}

// ── cancel_appointment ────────────────────────────────────────────────────

var cancelAppointmentDef = llm.ToolDefinition{
	Name:        "cancel_appointment",
	Description: "Cancel an existing appointment, recording the reason.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"appointment_id": map[string]any{"type": "integer"},
			"reason":         map[string]any{"type": "string"},
		},
		"required": []any{"appointment_id"},
	},
}

func (h *handlers) cancelAppointment(ctx context.Context, args map[string]any) (*Result, error) {
	apptID := argInt64(args, "appointment_id")
	reason := argString(args, "reason")

	cancelled, err := h.deps.Appointments.Cancel(ctx, apptID, reason)
	if err != nil {
		if errors.Is(err, repo.ErrAlreadyCancelled) {
			return fail("already_cancelled", "That appointment is already cancelled."), nil
		}
		return nil, fmt.Errorf("cancel_appointment: %w", err)
	}

	if cancelled.ExternalEventID != "" {
		if err := h.deps.Calendar.CancelEvent(ctx, cancelled.ExternalEventID); err != nil {
			slog.Warn("tools: cancel_appointment best-effort calendar status update failed", "event_id", cancelled.ExternalEventID, "error", err)
		}
	}

	if customer, err := h.deps.Customers.Get(ctx, cancelled.CustomerID); err == nil && customer != nil {
		if err := h.deps.Session.InvalidateCustomerCache(ctx, customer.Phone); err != nil {
			slog.Warn("tools: cancel_appointment cache invalidation failed", "error", err)
		}
	}

	return ok(cancelled), nil
}

// ── reschedule_appointment ────────────────────────────────────────────────

var rescheduleAppointmentDef = llm.ToolDefinition{
	Name:        "reschedule_appointment",
	Description: "Move an existing appointment to a new time.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"appointment_id":   map[string]any{"type": "integer"},
			"new_scheduled_at": map[string]any{"type": "string", "description": "ISO-8601 timestamp"},
		},
		"required": []any{"appointment_id", "new_scheduled_at"},
	},
}

func (h *handlers) rescheduleAppointment(ctx context.Context, args map[string]any) (*Result, error) {
	apptID := argInt64(args, "appointment_id")

	newTime, err := time.Parse(time.RFC3339, argString(args, "new_scheduled_at"))
	if err != nil {
		return fail("invalid_time", "I couldn't understand that new time."), nil
	}

	existing, err := h.deps.Appointments.Get(ctx, apptID)
	if err != nil {
		return nil, fmt.Errorf("reschedule_appointment: %w", err)
	}
	if existing == nil {
		return fail("not_found", "I couldn't find that appointment."), nil
	}
	if existing.Status == repo.AppointmentCancelled {
		return fail("cancelled", "That appointment is cancelled and can't be rescheduled."), nil
	}

	if newTime.Equal(existing.ScheduledAt) {
		return ok(existing), nil
	}

	eventID := existing.ExternalEventID
	if eventID != "" {
		if err := h.deps.Calendar.UpdateEvent(ctx, eventID, calendar.EventRequest{
			Summary: string(existing.ServiceType),
			Start:   newTime,
			End:     newTime.Add(time.Duration(existing.DurationMinutes) * time.Minute),
		}); err != nil {
			return fail("calendar_error", "I couldn't update the calendar for that change."), nil
		}
	}

	updated, err := h.deps.Appointments.Reschedule(ctx, apptID, newTime, eventID)
	if err != nil {
		return nil, fmt.Errorf("reschedule_appointment: %w", err)
	}

	if customer, err := h.deps.Customers.Get(ctx, updated.CustomerID); err == nil && customer != nil {
		if err := h.deps.Session.InvalidateCustomerCache(ctx, customer.Phone); err != nil {
			slog.Warn("tools: reschedule_appointment cache invalidation failed", "error", err)
		}
	}

	return ok(updated), nil
}

// ── decode_vin ────────────────────────────────────────────────────────────

var decodeVINDef = llm.ToolDefinition{
	Name:        "decode_vin",
	Description: "Decode a 17-character VIN into year/make/model/trim.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"vin": map[string]any{"type": "string"},
		},
		"required": []any{"vin"},
	},
}

func (h *handlers) decodeVIN(ctx context.Context, args map[string]any) (*Result, error) {
	vin := repo.NormalizeVIN(argString(args, "vin"))
	if err := repo.ValidateVIN(vin); err != nil {
		return fail("invalid_vin", err.Error()), nil
	}

	if cached, err := h.deps.Session.GetCachedVINDecode(ctx, vin); err == nil && cached != nil {
		var rec vindecode.Record
		if err := json.Unmarshal(cached.Decoded, &rec); err == nil {
			return ok(rec), nil
		}
	}

	rec, err := h.deps.VIN.Decode(ctx, vin)
	if err != nil {
		if errors.Is(err, vindecode.ErrTimeout) {
			return fail("timeout", "The VIN lookup is taking too long."), nil
		}
		return fail("upstream_error", "I couldn't decode that VIN right now."), nil
	}

	decodedJSON, err := json.Marshal(rec)
	if err == nil {
		if err := h.deps.Session.CacheVINDecode(ctx, vin, &sessionstore.VINDecodeCacheRecord{VIN: vin, Decoded: decodedJSON}); err != nil {
			slog.Warn("tools: decode_vin cache write failed", "error", err)
		}
	}

	return ok(rec), nil
}

// ── create_customer [EXPANSION] ──────────────────────────────────────────────

var createCustomerDef = llm.ToolDefinition{
	Name:        "create_customer",
	Description: "Create a new customer record for a caller not already on file.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"phone":      map[string]any{"type": "string"},
			"first_name": map[string]any{"type": "string"},
			"last_name":  map[string]any{"type": "string"},
			"email":      map[string]any{"type": "string"},
		},
		"required": []any{"phone", "first_name", "last_name"},
	},
}

func (h *handlers) createCustomer(ctx context.Context, args map[string]any) (*Result, error) {
	c := &repo.Customer{
		Phone:     argString(args, "phone"),
		FirstName: argString(args, "first_name"),
		LastName:  argString(args, "last_name"),
		Email:     argString(args, "email"),
	}
	if err := h.deps.Customers.Create(ctx, c); err != nil {
		return fail("create_failed", "I couldn't create that customer record."), nil
	}
	return ok(c), nil
}

// ── create_vehicle [EXPANSION] ───────────────────────────────────────────────

var createVehicleDef = llm.ToolDefinition{
	Name:        "create_vehicle",
	Description: "Add a vehicle to an existing customer's record.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"customer_id": map[string]any{"type": "integer"},
			"vin":         map[string]any{"type": "string"},
			"year":        map[string]any{"type": "integer"},
			"make":        map[string]any{"type": "string"},
			"model":       map[string]any{"type": "string"},
		},
		"required": []any{"customer_id", "vin", "year", "make", "model"},
	},
}

func (h *handlers) createVehicle(ctx context.Context, args map[string]any) (*Result, error) {
	customerID := argInt64(args, "customer_id")

	customer, err := h.deps.Customers.Get(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("create_vehicle: %w", err)
	}
	if customer == nil {
		return fail("not_found", "I couldn't find that customer."), nil
	}

	v := &repo.Vehicle{
		CustomerID: customerID,
		VIN:        argString(args, "vin"),
		Year:       argInt(args, "year", 0),
		Make:       argString(args, "make"),
		Model:      argString(args, "model"),
	}
	if err := h.deps.Vehicles.Create(ctx, v); err != nil {
		return fail("create_failed", "I couldn't add that vehicle."), nil
	}

	if err := h.deps.Session.InvalidateCustomerCache(ctx, customer.Phone); err != nil {
		slog.Warn("tools: create_vehicle cache invalidation failed", "error", err)
	}
	return ok(v), nil
}
