package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-scheduling/internal/config"
	redisclient "github.com/hackgods/clinic-appointment-scheduling/internal/redis"
)

const (
	EventAppointmentCreated       = "APPOINTMENT_CREATED"
	EventAppointmentUpdated       = "APPOINTMENT_UPDATED"
	EventAppointmentStatusChanged = "APPOINTMENT_STATUS_CHANGED"
	EventAppointmentDeleted       = "APPOINTMENT_DELETED"
)

const defaultCancelNote = "Appointment cancelled"

type Service struct {
	repo    Repository
	checker *ConflictChecker
	locker  redisclient.Locker
	cfg     config.Config
	log     zerolog.Logger
	now     func() time.Time
}

type Option func(*Service)

// WithClock overrides the time source used for audit timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService wires the lifecycle. locker may be nil, in which case storage
// transactions alone guard the check-then-write sequence.
func NewService(repo Repository, locker redisclient.Locker, cfg config.Config, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		repo:    repo,
		checker: NewConflictChecker(repo, repo),
		locker:  locker,
		cfg:     cfg,
		log:     logger.With().Str("component", "appointment").Logger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type CreateInput struct {
	ClinicID      uuid.UUID
	PatientID     uuid.UUID
	ProviderID    uuid.UUID
	LocationID    *uuid.UUID
	Start         time.Time
	End           time.Time
	BookingSource BookingSource
	Notes         *string
	CreatedByID   *uuid.UUID
}

// UpdateInput reschedules or reassigns an appointment. Unset patches keep the stored value.
type UpdateInput struct {
	PatientID  Patch[uuid.UUID]
	ProviderID Patch[uuid.UUID]
	LocationID Patch[*uuid.UUID]
	Start      Patch[time.Time]
	End        Patch[time.Time]
	Notes      Patch[*string]
}

type StatusChangeInput struct {
	Status      AppointmentStatus
	ChangedByID *uuid.UUID
	Notes       *string
}

type BlockedSlotInput struct {
	ProviderID uuid.UUID
	LocationID *uuid.UUID
	Start      time.Time
	End        time.Time
	Reason     *string
}

// CreateAppointment books a SCHEDULED appointment after the working-hours,
// blocked-slot and double-booking checks. The conflict reads and the insert of the
// appointment plus its creation event share one transaction.
func (s *Service) CreateAppointment(ctx context.Context, in CreateInput) (*Appointment, error) {
	vErr := &ValidationError{}
	if in.PatientID == uuid.Nil {
		vErr.add("patient_id", "is required")
	}
	if in.ProviderID == uuid.Nil {
		vErr.add("provider_id", "is required")
	}
	validateInterval(in.Start, in.End, vErr)
	if in.BookingSource == "" {
		in.BookingSource = BookingSourceManual
	}
	if !in.BookingSource.Valid() {
		vErr.add("booking_source", "must be MANUAL, PUBLIC_LINK or API")
	}
	if vErr.HasErrors() {
		return nil, vErr
	}

	patient, err := s.repo.GetPatientByID(ctx, in.PatientID, in.ClinicID)
	if err != nil {
		return nil, fmt.Errorf("load patient: %w", err)
	}
	provider, err := s.providerInClinic(ctx, in.ProviderID, in.ClinicID)
	if err != nil {
		return nil, err
	}
	loc, err := s.clinicLocation(ctx, in.ClinicID)
	if err != nil {
		return nil, err
	}
	if !IsWithinWorkingHours(provider.WorkingHours, loc, in.Start, in.End) {
		return nil, ErrOutsideWorkingHours
	}

	now := s.now()
	appt := &Appointment{
		ID:               uuid.New(),
		ClinicID:         in.ClinicID,
		PatientID:        patient.ID,
		ProviderID:       provider.ID,
		LocationID:       in.LocationID,
		AppointmentStart: in.Start,
		AppointmentEnd:   in.End,
		PatientName:      patient.Name,
		PatientPhone:     patient.Phone,
		ProviderName:     provider.Name,
		Status:           StatusScheduled,
		BookingSource:    in.BookingSource,
		Notes:            in.Notes,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	ev := &StatusEvent{
		ID:            uuid.New(),
		AppointmentID: appt.ID,
		NewStatus:     StatusScheduled,
		ChangedByID:   in.CreatedByID,
		ChangedAt:     now,
	}

	err = s.withProviderLock(ctx, provider.ID, func(lockCtx context.Context) error {
		return s.repo.WithTransaction(lockCtx, func(txCtx context.Context) error {
			kind, err := s.checker.Check(txCtx, ConflictQuery{
				ProviderID: provider.ID,
				Start:      in.Start,
				End:        in.End,
				LocationID: in.LocationID,
			})
			if err != nil {
				return err
			}
			if kind != NoConflict {
				return kind.Err()
			}
			if err := s.repo.CreateWithStatusEvent(txCtx, appt, ev); err != nil {
				return fmt.Errorf("create appointment: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, appt.ID, EventAppointmentCreated, map[string]any{
		"provider_id": appt.ProviderID.String(),
		"patient_id":  appt.PatientID.String(),
		"start":       appt.AppointmentStart,
		"end":         appt.AppointmentEnd,
		"source":      appt.BookingSource,
	})
	s.log.Debug().Str("appointment_id", appt.ID.String()).Msg("appointment created")

	return appt, nil
}

// UpdateAppointment applies a reschedule or reassignment. Time, provider or location
// changes re-run the working-hours and conflict checks, ignoring the appointment itself.
// Status is untouched and no status event is recorded.
func (s *Service) UpdateAppointment(ctx context.Context, clinicID, id uuid.UUID, in UpdateInput) (*Appointment, error) {
	current, err := s.getOwned(ctx, clinicID, id)
	if err != nil {
		return nil, err
	}
	providerID := in.ProviderID.Or(current.ProviderID)

	var updated *Appointment
	err = s.withProviderLock(ctx, providerID, func(lockCtx context.Context) error {
		return s.repo.WithTransaction(lockCtx, func(txCtx context.Context) error {
			existing, err := s.getOwned(txCtx, clinicID, id)
			if err != nil {
				return err
			}
			next, err := s.resolveUpdate(txCtx, *existing, in)
			if err != nil {
				return err
			}
			if err := s.repo.SaveAppointment(txCtx, next); err != nil {
				return fmt.Errorf("save appointment: %w", err)
			}
			updated = next
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, updated.ID, EventAppointmentUpdated, map[string]any{
		"provider_id": updated.ProviderID.String(),
		"patient_id":  updated.PatientID.String(),
		"start":       updated.AppointmentStart,
		"end":         updated.AppointmentEnd,
	})

	return updated, nil
}

func (s *Service) resolveUpdate(ctx context.Context, existing Appointment, in UpdateInput) (*Appointment, error) {
	next := existing
	next.PatientID = in.PatientID.Or(existing.PatientID)
	next.ProviderID = in.ProviderID.Or(existing.ProviderID)
	next.LocationID = in.LocationID.Or(existing.LocationID)
	next.AppointmentStart = in.Start.Or(existing.AppointmentStart)
	next.AppointmentEnd = in.End.Or(existing.AppointmentEnd)
	next.Notes = in.Notes.Or(existing.Notes)

	vErr := &ValidationError{}
	if next.PatientID == uuid.Nil {
		vErr.add("patient_id", "must not be empty")
	}
	if next.ProviderID == uuid.Nil {
		vErr.add("provider_id", "must not be empty")
	}
	validateInterval(next.AppointmentStart, next.AppointmentEnd, vErr)
	if vErr.HasErrors() {
		return nil, vErr
	}

	if next.PatientID != existing.PatientID {
		patient, err := s.repo.GetPatientByID(ctx, next.PatientID, existing.ClinicID)
		if err != nil {
			return nil, fmt.Errorf("load patient: %w", err)
		}
		next.PatientName = patient.Name
		next.PatientPhone = patient.Phone
	}

	providerChanged := next.ProviderID != existing.ProviderID
	timeChanged := !next.AppointmentStart.Equal(existing.AppointmentStart) || !next.AppointmentEnd.Equal(existing.AppointmentEnd)
	locationChanged := !sameLocation(next.LocationID, existing.LocationID)

	if providerChanged || timeChanged || locationChanged {
		provider, err := s.providerInClinic(ctx, next.ProviderID, existing.ClinicID)
		if err != nil {
			return nil, err
		}
		next.ProviderName = provider.Name

		loc, err := s.clinicLocation(ctx, existing.ClinicID)
		if err != nil {
			return nil, err
		}
		if !IsWithinWorkingHours(provider.WorkingHours, loc, next.AppointmentStart, next.AppointmentEnd) {
			return nil, ErrOutsideWorkingHours
		}

		excludeID := existing.ID
		kind, err := s.checker.Check(ctx, ConflictQuery{
			ProviderID:           next.ProviderID,
			Start:                next.AppointmentStart,
			End:                  next.AppointmentEnd,
			LocationID:           next.LocationID,
			ExcludeAppointmentID: &excludeID,
		})
		if err != nil {
			return nil, err
		}
		if kind != NoConflict {
			return nil, kind.Err()
		}
	}

	next.UpdatedAt = s.now()
	return &next, nil
}

// ChangeStatus moves an appointment along the lifecycle table and records the
// transition. It returns the updated appointment and the status it left.
func (s *Service) ChangeStatus(ctx context.Context, clinicID, id uuid.UUID, in StatusChangeInput) (*Appointment, AppointmentStatus, error) {
	if !in.Status.Valid() {
		return nil, "", newValidationError("status", fmt.Sprintf("unknown status %q", in.Status))
	}
	return s.transition(ctx, clinicID, id, in, ValidateTransition)
}

// CancelAppointment cancels a SCHEDULED or CONFIRMED appointment.
func (s *Service) CancelAppointment(ctx context.Context, clinicID, id uuid.UUID, changedByID *uuid.UUID, notes *string) (*Appointment, AppointmentStatus, error) {
	if notes == nil {
		n := defaultCancelNote
		notes = &n
	}
	in := StatusChangeInput{Status: StatusCancelled, ChangedByID: changedByID, Notes: notes}
	return s.transition(ctx, clinicID, id, in, func(from, to AppointmentStatus) error {
		if !CanCancel(from) {
			return &InvalidStatusTransitionError{From: from, To: to}
		}
		return nil
	})
}

func (s *Service) transition(ctx context.Context, clinicID, id uuid.UUID, in StatusChangeInput, allow func(from, to AppointmentStatus) error) (*Appointment, AppointmentStatus, error) {
	var (
		updated  *Appointment
		previous AppointmentStatus
	)
	err := s.repo.WithTransaction(ctx, func(txCtx context.Context) error {
		appt, err := s.getOwned(txCtx, clinicID, id)
		if err != nil {
			return err
		}
		previous = appt.Status
		if err := allow(appt.Status, in.Status); err != nil {
			return err
		}

		now := s.now()
		applyTransition(appt, in.Status, now)
		prev := previous
		ev := &StatusEvent{
			ID:             uuid.New(),
			AppointmentID:  appt.ID,
			PreviousStatus: &prev,
			NewStatus:      in.Status,
			ChangedByID:    in.ChangedByID,
			ChangedAt:      now,
			Notes:          in.Notes,
		}
		if err := s.repo.SaveWithStatusEvent(txCtx, appt, ev); err != nil {
			return fmt.Errorf("save status change: %w", err)
		}
		updated = appt
		return nil
	})
	if err != nil {
		return nil, "", err
	}

	s.logEvent(ctx, updated.ID, EventAppointmentStatusChanged, map[string]any{
		"from": previous,
		"to":   updated.Status,
	})

	return updated, previous, nil
}

// DeleteAppointment soft-deletes the appointment. Status and status history are untouched.
func (s *Service) DeleteAppointment(ctx context.Context, clinicID, id uuid.UUID) error {
	if _, err := s.getOwned(ctx, clinicID, id); err != nil {
		return err
	}
	if err := s.repo.SoftDeleteAppointment(ctx, id, s.now()); err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	s.logEvent(ctx, id, EventAppointmentDeleted, map[string]any{})
	return nil
}

// GetAppointment returns ErrNotFound for deleted or other-clinic appointments.
func (s *Service) GetAppointment(ctx context.Context, clinicID, id uuid.UUID) (*Appointment, error) {
	return s.getOwned(ctx, clinicID, id)
}

// ListStatusEvents returns the audit trail of an appointment, oldest first.
func (s *Service) ListStatusEvents(ctx context.Context, clinicID, id uuid.UUID) ([]StatusEvent, error) {
	if _, err := s.getOwned(ctx, clinicID, id); err != nil {
		return nil, err
	}
	events, err := s.repo.ListStatusEvents(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list status events: %w", err)
	}
	return events, nil
}

func (s *Service) ListAppointments(ctx context.Context, filter AppointmentFilter) ([]Appointment, error) {
	if !filter.From.IsZero() && !filter.To.IsZero() && !filter.To.After(filter.From) {
		return nil, newValidationError("to", "must be after from")
	}
	appts, err := s.repo.ListAppointments(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return appts, nil
}

// GetAvailability lists bookable slots for a provider between two clinic-local dates, inclusive.
func (s *Service) GetAvailability(ctx context.Context, clinicID, providerID uuid.UUID, startDate, endDate Date, locationID *uuid.UUID) ([]DayAvailability, error) {
	if endDate.Before(startDate) {
		return nil, newValidationError("end_date", "must not be before start_date")
	}
	if limit := s.cfg.MaxAvailabilityDays; limit > 0 && startDate.DaysUntil(endDate)+1 > limit {
		return nil, newValidationError("end_date", fmt.Sprintf("range must not exceed %d days", limit))
	}

	provider, err := s.providerInClinic(ctx, providerID, clinicID)
	if err != nil {
		return nil, err
	}
	loc, err := s.clinicLocation(ctx, clinicID)
	if err != nil {
		return nil, err
	}

	rangeStart := startDate.In(loc)
	rangeEnd := endDate.AddDays(1).In(loc)

	appts, err := s.repo.FindActiveByProviderInRange(ctx, provider.ID, rangeStart, rangeEnd, nil)
	if err != nil {
		return nil, fmt.Errorf("load provider appointments: %w", err)
	}
	blocks, err := s.repo.FindBlockedByProviderInRange(ctx, provider.ID, rangeStart, rangeEnd)
	if err != nil {
		return nil, fmt.Errorf("load blocked slots: %w", err)
	}

	return GenerateAvailability(AvailabilityRequest{
		Provider:     *provider,
		Location:     loc,
		StartDate:    startDate,
		EndDate:      endDate,
		LocationID:   locationID,
		Appointments: appts,
		Blocks:       blocks,
	})
}

func (s *Service) CreateBlockedSlot(ctx context.Context, clinicID uuid.UUID, in BlockedSlotInput) (*BlockedTimeSlot, error) {
	vErr := &ValidationError{}
	validateInterval(in.Start, in.End, vErr)
	if vErr.HasErrors() {
		return nil, vErr
	}
	if _, err := s.providerInClinic(ctx, in.ProviderID, clinicID); err != nil {
		return nil, err
	}

	b := &BlockedTimeSlot{
		ID:            uuid.New(),
		ProviderID:    in.ProviderID,
		LocationID:    in.LocationID,
		StartDatetime: in.Start,
		EndDatetime:   in.End,
		Reason:        in.Reason,
		CreatedAt:     s.now(),
	}
	if err := s.repo.CreateBlockedSlot(ctx, b); err != nil {
		return nil, fmt.Errorf("create blocked slot: %w", err)
	}
	return b, nil
}

func (s *Service) ListBlockedSlots(ctx context.Context, clinicID, providerID uuid.UUID, from, to time.Time) ([]BlockedTimeSlot, error) {
	vErr := &ValidationError{}
	validateInterval(from, to, vErr)
	if vErr.HasErrors() {
		return nil, vErr
	}
	if _, err := s.providerInClinic(ctx, providerID, clinicID); err != nil {
		return nil, err
	}
	blocks, err := s.repo.FindBlockedByProviderInRange(ctx, providerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list blocked slots: %w", err)
	}
	return blocks, nil
}

func (s *Service) DeleteBlockedSlot(ctx context.Context, clinicID, id uuid.UUID) error {
	b, err := s.repo.GetBlockedSlotByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load blocked slot: %w", err)
	}
	if _, err := s.providerInClinic(ctx, b.ProviderID, clinicID); err != nil {
		return fmt.Errorf("load blocked slot: %w", ErrNotFound)
	}
	if err := s.repo.DeleteBlockedSlot(ctx, id); err != nil {
		return fmt.Errorf("delete blocked slot: %w", err)
	}
	return nil
}

// getOwned loads a live appointment of the clinic. Other clinics' rows read as missing.
func (s *Service) getOwned(ctx context.Context, clinicID, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if appt.ClinicID != clinicID || appt.DeletedAt != nil {
		return nil, fmt.Errorf("load appointment: %w", ErrNotFound)
	}
	return appt, nil
}

func (s *Service) providerInClinic(ctx context.Context, providerID, clinicID uuid.UUID) (*Provider, error) {
	provider, err := s.repo.GetProviderByID(ctx, providerID)
	if err != nil {
		return nil, fmt.Errorf("load provider: %w", err)
	}
	if provider.ClinicID != clinicID {
		return nil, fmt.Errorf("load provider: %w", ErrNotFound)
	}
	return provider, nil
}

func (s *Service) clinicLocation(ctx context.Context, clinicID uuid.UUID) (*time.Location, error) {
	clinic, err := s.repo.GetClinicByID(ctx, clinicID)
	if err != nil {
		return nil, fmt.Errorf("load clinic: %w", err)
	}
	tz := clinic.Timezone
	if tz == "" {
		tz = s.cfg.DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load clinic timezone %q: %w", tz, err)
	}
	return loc, nil
}

func (s *Service) withProviderLock(ctx context.Context, providerID uuid.UUID, fn func(ctx context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}
	err := s.locker.WithProviderLock(ctx, providerID, fn)
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return ErrProviderBusy
	}
	return err
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn().Err(err).Str("event_type", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	apptID := appointmentID
	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Warn().Err(err).
			Str("event_type", eventType).
			Str("appointment_id", appointmentID.String()).
			Msg("failed to insert event log")
	}
}

func validateInterval(start, end time.Time, vErr *ValidationError) {
	if start.IsZero() {
		vErr.add("start", "is required")
	}
	if end.IsZero() {
		vErr.add("end", "is required")
	}
	if !start.IsZero() && !end.IsZero() && !end.After(start) {
		vErr.add("end", "must be after start")
	}
}

func sameLocation(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
