package repo

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// AppointmentStatus is the closed set of appointment lifecycle states.
type AppointmentStatus string

const (
	AppointmentScheduled  AppointmentStatus = "scheduled"
	AppointmentConfirmed  AppointmentStatus = "confirmed"
	AppointmentInProgress AppointmentStatus = "in_progress"
	AppointmentCompleted  AppointmentStatus = "completed"
	AppointmentCancelled  AppointmentStatus = "cancelled"
	AppointmentNoShow     AppointmentStatus = "no_show"
)

func (s AppointmentStatus) valid() bool {
	switch s {
	case AppointmentScheduled, AppointmentConfirmed, AppointmentInProgress,
		AppointmentCompleted, AppointmentCancelled, AppointmentNoShow:
		return true
	}
	return false
}

// ServiceType is the closed set of service categories a vehicle appointment
// can be booked under.
type ServiceType string

const (
	ServiceOilChange          ServiceType = "oil_change"
	ServiceTireRotation       ServiceType = "tire_rotation"
	ServiceBrakeService       ServiceType = "brake_service"
	ServiceBrakeInspection    ServiceType = "brake_inspection"
	ServiceInspection         ServiceType = "inspection"
	ServiceEngineDiagnostics  ServiceType = "engine_diagnostics"
	ServiceGeneralMaintenance ServiceType = "general_maintenance"
	ServiceRepair             ServiceType = "repair"
	ServiceDiagnostic         ServiceType = "diagnostic"
	ServiceRecall             ServiceType = "recall"
	ServiceOther              ServiceType = "other"
)

func (s ServiceType) valid() bool {
	switch s {
	case ServiceOilChange, ServiceTireRotation, ServiceBrakeService, ServiceBrakeInspection,
		ServiceInspection, ServiceEngineDiagnostics, ServiceGeneralMaintenance, ServiceRepair,
		ServiceDiagnostic, ServiceRecall, ServiceOther:
		return true
	}
	return false
}

// BookingMethod is the closed set of channels an appointment was booked
// through.
type BookingMethod string

const (
	BookingPhone  BookingMethod = "phone"
	BookingOnline BookingMethod = "online"
	BookingWalkIn BookingMethod = "walk_in"
	BookingAIVoice BookingMethod = "ai_voice"
)

func (m BookingMethod) valid() bool {
	switch m {
	case BookingPhone, BookingOnline, BookingWalkIn, BookingAIVoice:
		return true
	}
	return false
}

// CallDirection is the closed set of call directions.
type CallDirection string

const (
	DirectionInbound  CallDirection = "inbound"
	DirectionOutbound CallDirection = "outbound"
)

// VehicleStatus is the closed set of vehicle lifecycle states.
type VehicleStatus string

const (
	VehicleActive  VehicleStatus = "active"
	VehicleSold    VehicleStatus = "sold"
	VehicleTotaled VehicleStatus = "totaled"
)

func (s VehicleStatus) valid() bool {
	switch s {
	case VehicleActive, VehicleSold, VehicleTotaled:
		return true
	}
	return false
}

// Customer is a dealership contact. Phone is the unique lookup key used by
// the Tool Registry's lookup_customer handler.
type Customer struct {
	ID             int64
	Phone          string
	Email          string
	FirstName      string
	LastName       string
	DateOfBirth    *time.Time
	AddressLine1   string
	AddressLine2   string
	City           string
	State          string
	ZIP            string
	CustomerSince  *time.Time
	Preferences    map[string]bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

var phoneDigits = regexp.MustCompile(`\d`)

// NormalizePhone strips all non-digit characters and prefixes a bare
// 10-digit US number with "+1". It is idempotent: NormalizePhone(NormalizePhone(x)) == NormalizePhone(x).
func NormalizePhone(raw string) string {
	digits := strings.Join(phoneDigits.FindAllString(raw, -1), "")
	if len(digits) == 10 {
		digits = "1" + digits
	}
	return "+" + digits
}

// ValidatePhone checks the E.164 digit-count invariant (10-15 digits once
// formatting and the leading '+' are stripped).
func ValidatePhone(normalized string) error {
	digits := strings.TrimPrefix(normalized, "+")
	n := len(phoneDigits.FindAllString(digits, -1))
	if n < 10 || n > 15 {
		return fmt.Errorf("repo: phone %q has %d digits, want 10-15", normalized, n)
	}
	return nil
}

// Validate checks Customer invariants: non-empty normalized phone and a
// well-formed email when present.
func (c *Customer) Validate() error {
	var errs []error
	if c.Phone == "" {
		errs = append(errs, errors.New("phone is required"))
	} else if err := ValidatePhone(c.Phone); err != nil {
		errs = append(errs, err)
	}
	if c.Email != "" {
		if !strings.Contains(c.Email, "@") || len(c.Email) > 255 {
			errs = append(errs, errors.New("email is not a valid address"))
		}
	}
	return errors.Join(errs...)
}

// Vehicle belongs to exactly one Customer.
type Vehicle struct {
	ID            int64
	CustomerID    int64
	VIN           string
	Year          int
	Make          string
	Model         string
	Trim          string
	Color         string
	Mileage       int
	LastServiceAt *time.Time
	NextServiceAt *time.Time
	IsPrimary     bool
	Status        VehicleStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

var vinPattern = regexp.MustCompile(`^[A-HJ-NPR-Z0-9]{17}$`)

// NormalizeVIN uppercases a VIN. Idempotent.
func NormalizeVIN(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// ValidateVIN enforces the 17-character, I/O/Q-excluded invariant.
func ValidateVIN(vin string) error {
	if !vinPattern.MatchString(vin) {
		return fmt.Errorf("repo: VIN %q must be 17 alphanumeric characters excluding I, O, Q", vin)
	}
	return nil
}

// Validate checks Vehicle invariants.
func (v *Vehicle) Validate() error {
	var errs []error
	if v.CustomerID == 0 {
		errs = append(errs, errors.New("customer_id is required"))
	}
	if err := ValidateVIN(v.VIN); err != nil {
		errs = append(errs, err)
	}
	if v.Mileage < 0 {
		errs = append(errs, errors.New("mileage must be non-negative"))
	}
	if v.Status != "" && !v.Status.valid() {
		errs = append(errs, fmt.Errorf("status %q is not a recognized value", v.Status))
	}
	return errors.Join(errs...)
}

// Appointment is a scheduled service visit tying a Customer to one of their
// Vehicles.
type Appointment struct {
	ID                 int64
	CustomerID         int64
	VehicleID          int64
	ScheduledAt        time.Time
	DurationMinutes    int
	ServiceType        ServiceType
	Status             AppointmentStatus
	CancellationReason string
	BookingMethod      BookingMethod
	ExternalEventID    string
	Confirmed          bool
	ReminderSent       bool
	CompletedAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Validate checks Appointment invariants. vehicleCustomerID is the
// CustomerID on file for VehicleID; callers must supply it so the
// ownership check does not require a round trip inside this method.
func (a *Appointment) Validate(vehicleCustomerID int64) error {
	var errs []error
	if a.CustomerID == 0 {
		errs = append(errs, errors.New("customer_id is required"))
	}
	if a.VehicleID == 0 {
		errs = append(errs, errors.New("vehicle_id is required"))
	}
	if vehicleCustomerID != 0 && vehicleCustomerID != a.CustomerID {
		errs = append(errs, errors.New("vehicle does not belong to customer"))
	}
	if a.DurationMinutes <= 0 {
		a.DurationMinutes = 60
	}
	if !a.ServiceType.valid() {
		errs = append(errs, fmt.Errorf("service_type %q is not in the closed set", a.ServiceType))
	}
	if a.Status != "" && !a.Status.valid() {
		errs = append(errs, fmt.Errorf("status %q is not a recognized value", a.Status))
	}
	if a.BookingMethod != "" && !a.BookingMethod.valid() {
		errs = append(errs, fmt.Errorf("booking_method %q is not a recognized value", a.BookingMethod))
	}
	return errors.Join(errs...)
}

// CallLog records one completed or in-progress call for analytics and
// support review.
type CallLog struct {
	ID            int64
	CallSID       string
	CustomerID    *int64
	Direction     CallDirection
	CallerPhone   string
	Intent        string
	Transcript    string
	StartedAt     time.Time
	EndedAt       *time.Time
	Outcome       string
	PromptTokens  int
	CompletionTokens int
}
