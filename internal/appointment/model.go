package appointment

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "SCHEDULED"
	StatusConfirmed AppointmentStatus = "CONFIRMED"
	StatusCheckedIn AppointmentStatus = "CHECKED_IN"
	StatusCompleted AppointmentStatus = "COMPLETED"
	StatusNoShow    AppointmentStatus = "NO_SHOW"
	StatusCancelled AppointmentStatus = "CANCELLED"
)

// Valid reports whether s is one of the known lifecycle states.
func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusCheckedIn, StatusCompleted, StatusNoShow, StatusCancelled:
		return true
	}
	return false
}

// Active reports whether an appointment in this status still occupies the provider's time.
func (s AppointmentStatus) Active() bool {
	return s != StatusCancelled && s != StatusNoShow
}

type BookingSource string

const (
	BookingSourceManual     BookingSource = "MANUAL"
	BookingSourcePublicLink BookingSource = "PUBLIC_LINK"
	BookingSourceAPI        BookingSource = "API"
)

func (b BookingSource) Valid() bool {
	switch b {
	case BookingSourceManual, BookingSourcePublicLink, BookingSourceAPI:
		return true
	}
	return false
}

type Clinic struct {
	ID       uuid.UUID
	Name     string
	Timezone string
}

type Patient struct {
	ID       uuid.UUID
	ClinicID uuid.UUID
	Name     string
	Phone    *string
}

type Provider struct {
	ID                         uuid.UUID
	ClinicID                   uuid.UUID
	Name                       string
	WorkingHours               WorkingHours
	DefaultAppointmentDuration int // minutes
}

// Appointment occupies [AppointmentStart, AppointmentEnd) on the provider's calendar.
// PatientName, PatientPhone and ProviderName are copied at write time.
type Appointment struct {
	ID               uuid.UUID
	ClinicID         uuid.UUID
	PatientID        uuid.UUID
	ProviderID       uuid.UUID
	LocationID       *uuid.UUID
	AppointmentStart time.Time
	AppointmentEnd   time.Time
	PatientName      string
	PatientPhone     *string
	ProviderName     string
	Status           AppointmentStatus
	BookingSource    BookingSource
	ConfirmedAt      *time.Time
	CheckedInAt      *time.Time
	Notes            *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	DeletedAt        *time.Time
}

// Active reports whether the appointment counts toward conflict checks.
func (a Appointment) Active() bool {
	return a.DeletedAt == nil && a.Status.Active()
}

func (a Appointment) Interval() Interval {
	return Interval{Start: a.AppointmentStart, End: a.AppointmentEnd}
}

// StatusEvent is an append-only audit record of one status transition.
// PreviousStatus is nil only for the creation event.
type StatusEvent struct {
	ID             uuid.UUID
	AppointmentID  uuid.UUID
	PreviousStatus *AppointmentStatus
	NewStatus      AppointmentStatus
	ChangedByID    *uuid.UUID
	ChangedAt      time.Time
	Notes          *string
}

// BlockedTimeSlot makes a provider unavailable for [StartDatetime, EndDatetime).
// A nil LocationID blocks the provider at every location.
type BlockedTimeSlot struct {
	ID            uuid.UUID
	ProviderID    uuid.UUID
	LocationID    *uuid.UUID
	StartDatetime time.Time
	EndDatetime   time.Time
	Reason        *string
	CreatedAt     time.Time
}

func (b BlockedTimeSlot) Interval() Interval {
	return Interval{Start: b.StartDatetime, End: b.EndDatetime}
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// TimeSlot is a bookable [Start, End) window expressed as absolute instants.
type TimeSlot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type DayAvailability struct {
	Date      string       `json:"date"` // YYYY-MM-DD in clinic local time
	DayOfWeek time.Weekday `json:"day_of_week"`
	Slots     []TimeSlot   `json:"slots"`
}
