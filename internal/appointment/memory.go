package appointment

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memTxKey struct{}

// MemoryRepository keeps everything in process memory. Transactions are serialized and
// roll back to a snapshot on error. It backs tests and STORAGE=memory.
type MemoryRepository struct {
	txMu sync.Mutex
	mu   sync.RWMutex

	clinics      map[uuid.UUID]Clinic
	patients     map[uuid.UUID]Patient
	providers    map[uuid.UUID]Provider
	appointments map[uuid.UUID]Appointment
	statusEvents []StatusEvent
	blocked      map[uuid.UUID]BlockedTimeSlot
	eventLogs    []EventLog
	nextEventID  int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		clinics:      make(map[uuid.UUID]Clinic),
		patients:     make(map[uuid.UUID]Patient),
		providers:    make(map[uuid.UUID]Provider),
		appointments: make(map[uuid.UUID]Appointment),
		blocked:      make(map[uuid.UUID]BlockedTimeSlot),
	}
}

type memSnapshot struct {
	appointments map[uuid.UUID]Appointment
	statusEvents []StatusEvent
	blocked      map[uuid.UUID]BlockedTimeSlot
	eventLogs    []EventLog
	nextEventID  int64
}

func (r *MemoryRepository) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if inMemTx(ctx) {
		return fn(ctx)
	}

	r.txMu.Lock()
	defer r.txMu.Unlock()

	r.mu.RLock()
	snap := memSnapshot{
		appointments: maps.Clone(r.appointments),
		statusEvents: slices.Clone(r.statusEvents),
		blocked:      maps.Clone(r.blocked),
		eventLogs:    slices.Clone(r.eventLogs),
		nextEventID:  r.nextEventID,
	}
	r.mu.RUnlock()

	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		r.mu.Lock()
		r.appointments = snap.appointments
		r.statusEvents = snap.statusEvents
		r.blocked = snap.blocked
		r.eventLogs = snap.eventLogs
		r.nextEventID = snap.nextEventID
		r.mu.Unlock()
		return err
	}
	return nil
}

func inMemTx(ctx context.Context) bool {
	v, _ := ctx.Value(memTxKey{}).(bool)
	return v
}

// serialize makes a write outside a transaction wait for running transactions.
func (r *MemoryRepository) serialize(ctx context.Context) func() {
	if inMemTx(ctx) {
		return func() {}
	}
	r.txMu.Lock()
	return r.txMu.Unlock
}

// Seeding

func (r *MemoryRepository) AddClinic(c Clinic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clinics[c.ID] = c
}

func (r *MemoryRepository) AddPatient(p Patient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patients[p.ID] = p
}

func (r *MemoryRepository) AddProvider(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID] = p
}

// EventLogs returns a copy of the recorded domain events.
func (r *MemoryRepository) EventLogs() []EventLog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.eventLogs)
}

// Directories

func (r *MemoryRepository) GetPatientByID(_ context.Context, id, clinicID uuid.UUID) (*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.patients[id]
	if !ok || p.ClinicID != clinicID {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (r *MemoryRepository) GetProviderByID(_ context.Context, id uuid.UUID) (*Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (r *MemoryRepository) GetClinicByID(_ context.Context, id uuid.UUID) (*Clinic, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clinics[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

// Appointments

func (r *MemoryRepository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.appointments[id]
	if !ok || a.DeletedAt != nil {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (r *MemoryRepository) FindActiveByProviderInRange(_ context.Context, providerID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	window := Interval{Start: start, End: end}
	var result []Appointment
	for _, a := range r.appointments {
		if a.ProviderID != providerID || !a.Active() {
			continue
		}
		if excludeID != nil && a.ID == *excludeID {
			continue
		}
		if Overlaps(a.Interval(), window) {
			result = append(result, a)
		}
	}
	sortAppointments(result)
	return result, nil
}

func (r *MemoryRepository) ListAppointments(_ context.Context, filter AppointmentFilter) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []Appointment
	for _, a := range r.appointments {
		if a.ClinicID != filter.ClinicID || a.DeletedAt != nil {
			continue
		}
		if filter.ProviderID != nil && a.ProviderID != *filter.ProviderID {
			continue
		}
		if !filter.From.IsZero() && !a.AppointmentEnd.After(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !a.AppointmentStart.Before(filter.To) {
			continue
		}
		result = append(result, a)
	}
	sortAppointments(result)
	return result, nil
}

func sortAppointments(appts []Appointment) {
	sort.Slice(appts, func(i, j int) bool {
		if !appts[i].AppointmentStart.Equal(appts[j].AppointmentStart) {
			return appts[i].AppointmentStart.Before(appts[j].AppointmentStart)
		}
		return appts[i].ID.String() < appts[j].ID.String()
	})
}

func (r *MemoryRepository) CreateAppointment(ctx context.Context, a *Appointment) error {
	defer r.serialize(ctx)()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appointments[a.ID] = *a
	return nil
}

func (r *MemoryRepository) SaveAppointment(ctx context.Context, a *Appointment) error {
	defer r.serialize(ctx)()
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.appointments[a.ID]
	if !ok || cur.DeletedAt != nil {
		return ErrNotFound
	}
	r.appointments[a.ID] = *a
	return nil
}

func (r *MemoryRepository) SoftDeleteAppointment(ctx context.Context, id uuid.UUID, at time.Time) error {
	defer r.serialize(ctx)()
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok || a.DeletedAt != nil {
		return ErrNotFound
	}
	a.DeletedAt = &at
	a.UpdatedAt = at
	r.appointments[id] = a
	return nil
}

func (r *MemoryRepository) CreateStatusEvent(ctx context.Context, ev *StatusEvent) error {
	defer r.serialize(ctx)()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statusEvents = append(r.statusEvents, *ev)
	return nil
}

func (r *MemoryRepository) ListStatusEvents(_ context.Context, appointmentID uuid.UUID) ([]StatusEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []StatusEvent
	for _, ev := range r.statusEvents {
		if ev.AppointmentID == appointmentID {
			result = append(result, ev)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].ChangedAt.Before(result[j].ChangedAt)
	})
	return result, nil
}

func (r *MemoryRepository) CreateWithStatusEvent(ctx context.Context, a *Appointment, ev *StatusEvent) error {
	return r.WithTransaction(ctx, func(ctx context.Context) error {
		if err := r.CreateAppointment(ctx, a); err != nil {
			return err
		}
		return r.CreateStatusEvent(ctx, ev)
	})
}

func (r *MemoryRepository) SaveWithStatusEvent(ctx context.Context, a *Appointment, ev *StatusEvent) error {
	return r.WithTransaction(ctx, func(ctx context.Context) error {
		if err := r.SaveAppointment(ctx, a); err != nil {
			return err
		}
		return r.CreateStatusEvent(ctx, ev)
	})
}

func (r *MemoryRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	defer r.serialize(ctx)()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextEventID++
	ev.ID = r.nextEventID
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	r.eventLogs = append(r.eventLogs, ev)
	return nil
}

// Blocked slots

func (r *MemoryRepository) GetBlockedSlotByID(_ context.Context, id uuid.UUID) (*BlockedTimeSlot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.blocked[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &b, nil
}

func (r *MemoryRepository) FindBlockedByProviderInRange(_ context.Context, providerID uuid.UUID, start, end time.Time) ([]BlockedTimeSlot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	window := Interval{Start: start, End: end}
	var result []BlockedTimeSlot
	for _, b := range r.blocked {
		if b.ProviderID == providerID && Overlaps(b.Interval(), window) {
			result = append(result, b)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StartDatetime.Before(result[j].StartDatetime)
	})
	return result, nil
}

func (r *MemoryRepository) HasOverlappingBlock(_ context.Context, providerID uuid.UUID, start, end time.Time, locationID *uuid.UUID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	window := Interval{Start: start, End: end}
	for _, b := range r.blocked {
		if b.ProviderID == providerID && BlockApplies(b, locationID) && Overlaps(b.Interval(), window) {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRepository) CreateBlockedSlot(ctx context.Context, b *BlockedTimeSlot) error {
	defer r.serialize(ctx)()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blocked[b.ID] = *b
	return nil
}

func (r *MemoryRepository) DeleteBlockedSlot(ctx context.Context, id uuid.UUID) error {
	defer r.serialize(ctx)()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.blocked[id]; !ok {
		return ErrNotFound
	}
	delete(r.blocked, id)
	return nil
}

var _ Repository = (*MemoryRepository)(nil)
