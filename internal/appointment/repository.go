package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Directory ports are owned by the CRUD modules; the engine only reads them.
// Every lookup returns ErrNotFound when the record is absent.

type PatientDirectory interface {
	// GetPatientByID returns ErrNotFound when the patient belongs to another clinic.
	GetPatientByID(ctx context.Context, id, clinicID uuid.UUID) (*Patient, error)
}

type ProviderDirectory interface {
	GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error)
}

type ClinicDirectory interface {
	GetClinicByID(ctx context.Context, id uuid.UUID) (*Clinic, error)
}

// AppointmentFilter narrows ListAppointments. Zero times leave that bound open.
type AppointmentFilter struct {
	ClinicID   uuid.UUID
	ProviderID *uuid.UUID
	From       time.Time
	To         time.Time
}

// AppointmentStore never returns soft-deleted rows.
type AppointmentStore interface {
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// FindActiveByProviderInRange returns active appointments overlapping [start, end),
	// ordered by start. excludeID, when set, is left out of the result.
	FindActiveByProviderInRange(ctx context.Context, providerID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) ([]Appointment, error)
	ListAppointments(ctx context.Context, filter AppointmentFilter) ([]Appointment, error)

	CreateAppointment(ctx context.Context, a *Appointment) error
	SaveAppointment(ctx context.Context, a *Appointment) error
	SoftDeleteAppointment(ctx context.Context, id uuid.UUID, at time.Time) error
	CreateStatusEvent(ctx context.Context, ev *StatusEvent) error
	ListStatusEvents(ctx context.Context, appointmentID uuid.UUID) ([]StatusEvent, error)

	// The combined operations persist both records or neither.
	CreateWithStatusEvent(ctx context.Context, a *Appointment, ev *StatusEvent) error
	SaveWithStatusEvent(ctx context.Context, a *Appointment, ev *StatusEvent) error

	InsertEvent(ctx context.Context, ev EventLog) error
}

type BlockedSlotStore interface {
	GetBlockedSlotByID(ctx context.Context, id uuid.UUID) (*BlockedTimeSlot, error)
	// FindBlockedByProviderInRange returns every block of the provider overlapping [start, end),
	// regardless of location, ordered by start.
	FindBlockedByProviderInRange(ctx context.Context, providerID uuid.UUID, start, end time.Time) ([]BlockedTimeSlot, error)
	// HasOverlappingBlock applies the location rule from BlockApplies.
	HasOverlappingBlock(ctx context.Context, providerID uuid.UUID, start, end time.Time, locationID *uuid.UUID) (bool, error)
	CreateBlockedSlot(ctx context.Context, b *BlockedTimeSlot) error
	DeleteBlockedSlot(ctx context.Context, id uuid.UUID) error
}

// Transactor scopes the conflict-check reads and the following write to one
// transaction. Store calls made with the ctx passed to fn join that transaction.
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Repository is everything the lifecycle service needs from storage.
type Repository interface {
	PatientDirectory
	ProviderDirectory
	ClinicDirectory
	AppointmentStore
	BlockedSlotStore
	Transactor
}
