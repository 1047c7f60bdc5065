package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgExclusionViolation   = "23P01"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type txKey struct{}

type PgRepository struct {
	pool       *pgxpool.Pool
	maxRetries int
}

// NewPgRepository returns a Repository backed by Postgres. maxRetries bounds how often a
// transaction is replayed after a serialization failure.
func NewPgRepository(pool *pgxpool.Pool, maxRetries int) *PgRepository {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &PgRepository{pool: pool, maxRetries: maxRetries}
}

// conn returns the transaction carried by ctx, or the pool.
func (r *PgRepository) conn(ctx context.Context) queryable {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return r.pool
}

// WithTransaction runs fn in a SERIALIZABLE transaction. Nested calls join the outer
// transaction. Serialization failures and deadlocks replay fn up to maxRetries times.
func (r *PgRepository) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}

	var err error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		err = r.runTx(ctx, fn)
		if !isRetryable(err) {
			break
		}
	}
	return mapPgError(err)
}

func (r *PgRepository) runTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
	}
	return false
}

// mapPgError turns the double-booking exclusion constraint into ErrProviderNotAvailable.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgExclusionViolation {
		return fmt.Errorf("%w: %s", ErrProviderNotAvailable, pgErr.ConstraintName)
	}
	return err
}

// Helpers

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.ClinicID, &p.Name, &p.Phone)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanProvider(row pgx.Row) (*Provider, error) {
	var p Provider
	var hours []byte

	err := row.Scan(&p.ID, &p.ClinicID, &p.Name, &hours, &p.DefaultAppointmentDuration)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if len(hours) > 0 {
		if err := json.Unmarshal(hours, &p.WorkingHours); err != nil {
			return nil, fmt.Errorf("decode working hours for provider %s: %w", p.ID, err)
		}
		if err := p.WorkingHours.Validate(); err != nil {
			return nil, fmt.Errorf("provider %s: %w", p.ID, err)
		}
	}
	return &p, nil
}

func scanClinic(row pgx.Row) (*Clinic, error) {
	var c Clinic
	err := row.Scan(&c.ID, &c.Name, &c.Timezone)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

const appointmentCols = `id, clinic_id, patient_id, provider_id, location_id,
	appointment_start, appointment_end, patient_name, patient_phone, provider_name,
	status, booking_source, confirmed_at, checked_in_at, notes,
	created_at, updated_at, deleted_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID, &a.ClinicID, &a.PatientID, &a.ProviderID, &a.LocationID,
		&a.AppointmentStart, &a.AppointmentEnd, &a.PatientName, &a.PatientPhone, &a.ProviderName,
		&a.Status, &a.BookingSource, &a.ConfirmedAt, &a.CheckedInAt, &a.Notes,
		&a.CreatedAt, &a.UpdatedAt, &a.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

const blockedCols = `id, provider_id, location_id, start_datetime, end_datetime, reason, created_at`

func scanBlockedSlot(row pgx.Row) (*BlockedTimeSlot, error) {
	var b BlockedTimeSlot
	err := row.Scan(&b.ID, &b.ProviderID, &b.LocationID, &b.StartDatetime, &b.EndDatetime, &b.Reason, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

// Directories

func (r *PgRepository) GetPatientByID(ctx context.Context, id, clinicID uuid.UUID) (*Patient, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT id, clinic_id, name, phone
		FROM patients
		WHERE id = $1 AND clinic_id = $2
	`, id, clinicID)
	return scanPatient(row)
}

func (r *PgRepository) GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT id, clinic_id, name, working_hours, default_appointment_duration
		FROM providers
		WHERE id = $1
	`, id)
	return scanProvider(row)
}

func (r *PgRepository) GetClinicByID(ctx context.Context, id uuid.UUID) (*Clinic, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT id, name, timezone
		FROM clinics
		WHERE id = $1
	`, id)
	return scanClinic(row)
}

// Appointments

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE id = $1 AND deleted_at IS NULL
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) FindActiveByProviderInRange(ctx context.Context, providerID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) ([]Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE provider_id = $1
		  AND deleted_at IS NULL
		  AND status NOT IN ('CANCELLED', 'NO_SHOW')
		  AND appointment_start < $3
		  AND appointment_end > $2
		  AND ($4::uuid IS NULL OR id <> $4)
		ORDER BY appointment_start
	`, providerID, start, end, excludeID)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListAppointments(ctx context.Context, filter AppointmentFilter) ([]Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE clinic_id = $1
		  AND deleted_at IS NULL
		  AND ($2::uuid IS NULL OR provider_id = $2)
		  AND ($3::timestamptz IS NULL OR appointment_end > $3)
		  AND ($4::timestamptz IS NULL OR appointment_start < $4)
		ORDER BY appointment_start, id
	`, filter.ClinicID, filter.ProviderID, nullableTime(filter.From), nullableTime(filter.To))
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (r *PgRepository) CreateAppointment(ctx context.Context, a *Appointment) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO appointments (`+appointmentCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`,
		a.ID, a.ClinicID, a.PatientID, a.ProviderID, a.LocationID,
		a.AppointmentStart, a.AppointmentEnd, a.PatientName, a.PatientPhone, a.ProviderName,
		a.Status, a.BookingSource, a.ConfirmedAt, a.CheckedInAt, a.Notes,
		a.CreatedAt, a.UpdatedAt, a.DeletedAt,
	)
	if err != nil {
		return mapPgError(fmt.Errorf("insert appointment: %w", err))
	}
	return nil
}

func (r *PgRepository) SaveAppointment(ctx context.Context, a *Appointment) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointments
		SET patient_id = $2,
		    provider_id = $3,
		    location_id = $4,
		    appointment_start = $5,
		    appointment_end = $6,
		    patient_name = $7,
		    patient_phone = $8,
		    provider_name = $9,
		    status = $10,
		    confirmed_at = $11,
		    checked_in_at = $12,
		    notes = $13,
		    updated_at = $14
		WHERE id = $1
		  AND deleted_at IS NULL
	`,
		a.ID, a.PatientID, a.ProviderID, a.LocationID,
		a.AppointmentStart, a.AppointmentEnd, a.PatientName, a.PatientPhone, a.ProviderName,
		a.Status, a.ConfirmedAt, a.CheckedInAt, a.Notes, a.UpdatedAt,
	)
	if err != nil {
		return mapPgError(fmt.Errorf("update appointment: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PgRepository) SoftDeleteAppointment(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointments
		SET deleted_at = $2,
		    updated_at = $2
		WHERE id = $1
		  AND deleted_at IS NULL
	`, id, at)
	if err != nil {
		return fmt.Errorf("soft delete appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PgRepository) CreateStatusEvent(ctx context.Context, ev *StatusEvent) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO appointment_status_events (id, appointment_id, previous_status, new_status, changed_by_id, changed_at, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, ev.ID, ev.AppointmentID, ev.PreviousStatus, ev.NewStatus, ev.ChangedByID, ev.ChangedAt, ev.Notes)
	if err != nil {
		return fmt.Errorf("insert status event: %w", err)
	}
	return nil
}

// listStatusEventsSQL orders ties on changed_at by insertion sequence.
const listStatusEventsSQL = `
	SELECT id, appointment_id, previous_status, new_status, changed_by_id, changed_at, notes
	FROM appointment_status_events
	WHERE appointment_id = $1
	ORDER BY changed_at, seq`

func (r *PgRepository) ListStatusEvents(ctx context.Context, appointmentID uuid.UUID) ([]StatusEvent, error) {
	rows, err := r.conn(ctx).Query(ctx, listStatusEventsSQL, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []StatusEvent
	for rows.Next() {
		var ev StatusEvent
		if err := rows.Scan(&ev.ID, &ev.AppointmentID, &ev.PreviousStatus, &ev.NewStatus, &ev.ChangedByID, &ev.ChangedAt, &ev.Notes); err != nil {
			return nil, err
		}
		result = append(result, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) CreateWithStatusEvent(ctx context.Context, a *Appointment, ev *StatusEvent) error {
	return r.WithTransaction(ctx, func(ctx context.Context) error {
		if err := r.CreateAppointment(ctx, a); err != nil {
			return err
		}
		return r.CreateStatusEvent(ctx, ev)
	})
}

func (r *PgRepository) SaveWithStatusEvent(ctx context.Context, a *Appointment, ev *StatusEvent) error {
	return r.WithTransaction(ctx, func(ctx context.Context) error {
		if err := r.SaveAppointment(ctx, a); err != nil {
			return err
		}
		return r.CreateStatusEvent(ctx, ev)
	})
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}
	return nil
}

// Blocked slots

func (r *PgRepository) GetBlockedSlotByID(ctx context.Context, id uuid.UUID) (*BlockedTimeSlot, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT `+blockedCols+`
		FROM blocked_time_slots
		WHERE id = $1
	`, id)
	return scanBlockedSlot(row)
}

func (r *PgRepository) FindBlockedByProviderInRange(ctx context.Context, providerID uuid.UUID, start, end time.Time) ([]BlockedTimeSlot, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+blockedCols+`
		FROM blocked_time_slots
		WHERE provider_id = $1
		  AND start_datetime < $3
		  AND end_datetime > $2
		ORDER BY start_datetime
	`, providerID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []BlockedTimeSlot
	for rows.Next() {
		b, err := scanBlockedSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) HasOverlappingBlock(ctx context.Context, providerID uuid.UUID, start, end time.Time, locationID *uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM blocked_time_slots
			WHERE provider_id = $1
			  AND start_datetime < $3
			  AND end_datetime > $2
			  AND (location_id IS NULL OR $4::uuid IS NULL OR location_id = $4)
		)
	`, providerID, start, end, locationID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query overlapping blocks: %w", err)
	}
	return exists, nil
}

func (r *PgRepository) CreateBlockedSlot(ctx context.Context, b *BlockedTimeSlot) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO blocked_time_slots (`+blockedCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, b.ID, b.ProviderID, b.LocationID, b.StartDatetime, b.EndDatetime, b.Reason, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert blocked slot: %w", err)
	}
	return nil
}

func (r *PgRepository) DeleteBlockedSlot(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM blocked_time_slots WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete blocked slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

var _ Repository = (*PgRepository)(nil)
