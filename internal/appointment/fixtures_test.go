package appointment

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-appointment-scheduling/internal/config"
)

// weekdayHours is Monday to Friday, 08:00 to 18:00.
func weekdayHours() WorkingHours {
	wh := WorkingHours{}
	for d := time.Monday; d <= time.Friday; d++ {
		wh[d] = &DayHours{Start: "08:00", End: "18:00"}
	}
	return wh
}

func ptr[T any](v T) *T {
	return &v
}

// at builds a UTC instant on 2024-06-03, a Monday.
func at(hour, minute int) time.Time {
	return time.Date(2024, time.June, 3, hour, minute, 0, 0, time.UTC)
}

type fixture struct {
	repo     *MemoryRepository
	svc      *Service
	clinic   Clinic
	provider Provider
	patient  Patient
	now      time.Time
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	repo := NewMemoryRepository()
	f := &fixture{
		repo:   repo,
		clinic: Clinic{ID: uuid.New(), Name: "Riverside Clinic", Timezone: "UTC"},
		now:    time.Date(2024, time.June, 1, 9, 0, 0, 0, time.UTC),
	}
	f.provider = Provider{
		ID:                         uuid.New(),
		ClinicID:                   f.clinic.ID,
		Name:                       "Dr. Imani Okafor",
		WorkingHours:               weekdayHours(),
		DefaultAppointmentDuration: 30,
	}
	f.patient = Patient{
		ID:       uuid.New(),
		ClinicID: f.clinic.ID,
		Name:     "Tomas Lindqvist",
		Phone:    ptr("+46 70 123 45 67"),
	}
	repo.AddClinic(f.clinic)
	repo.AddProvider(f.provider)
	repo.AddPatient(f.patient)

	cfg := config.Config{DefaultTimezone: "UTC", MaxAvailabilityDays: 31}
	clock := func() time.Time { return f.now }
	opts = append([]Option{WithClock(clock)}, opts...)
	f.svc = NewService(repo, nil, cfg, zerolog.New(io.Discard), opts...)
	return f
}

func (f *fixture) book(t *testing.T, start, end time.Time) *Appointment {
	t.Helper()
	appt, err := f.svc.CreateAppointment(context.Background(), CreateInput{
		ClinicID:   f.clinic.ID,
		PatientID:  f.patient.ID,
		ProviderID: f.provider.ID,
		Start:      start,
		End:        end,
	})
	require.NoError(t, err)
	return appt
}

func (f *fixture) block(t *testing.T, locationID *uuid.UUID, start, end time.Time) *BlockedTimeSlot {
	t.Helper()
	b, err := f.svc.CreateBlockedSlot(context.Background(), f.clinic.ID, BlockedSlotInput{
		ProviderID: f.provider.ID,
		LocationID: locationID,
		Start:      start,
		End:        end,
		Reason:     ptr("staff meeting"),
	})
	require.NoError(t, err)
	return b
}
