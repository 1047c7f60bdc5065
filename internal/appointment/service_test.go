package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisclient "github.com/hackgods/clinic-appointment-scheduling/internal/redis"
)

func TestCreateAppointment_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt := f.book(t, at(10, 0), at(10, 30))

	assert.Equal(t, StatusScheduled, appt.Status)
	assert.Equal(t, BookingSourceManual, appt.BookingSource)
	assert.Equal(t, f.patient.Name, appt.PatientName)
	assert.Equal(t, f.patient.Phone, appt.PatientPhone)
	assert.Equal(t, f.provider.Name, appt.ProviderName)
	assert.Equal(t, f.now, appt.CreatedAt)
	assert.Nil(t, appt.ConfirmedAt)

	stored, err := f.svc.GetAppointment(ctx, f.clinic.ID, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, appt.ID, stored.ID)

	events, err := f.svc.ListStatusEvents(ctx, f.clinic.ID, appt.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Nil(t, events[0].PreviousStatus)
	assert.Equal(t, StatusScheduled, events[0].NewStatus)

	logs := f.repo.EventLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, EventAppointmentCreated, logs[0].EventType)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(logs[0].Payload, &payload))
	assert.Equal(t, f.provider.ID.String(), payload["provider_id"])
}

func TestCreateAppointment_Overlap(t *testing.T) {
	f := newFixture(t)
	f.book(t, at(10, 0), at(11, 0))

	_, err := f.svc.CreateAppointment(context.Background(), CreateInput{
		ClinicID:   f.clinic.ID,
		PatientID:  f.patient.ID,
		ProviderID: f.provider.ID,
		Start:      at(10, 15),
		End:        at(10, 45),
	})
	assert.ErrorIs(t, err, ErrProviderNotAvailable)

	// back to back is fine
	f.book(t, at(11, 0), at(11, 30))
}

func TestCreateAppointment_ProviderWideBlock(t *testing.T) {
	f := newFixture(t)
	f.block(t, nil, at(12, 0), at(13, 0))

	for _, loc := range []*uuid.UUID{nil, ptr(uuid.New())} {
		_, err := f.svc.CreateAppointment(context.Background(), CreateInput{
			ClinicID:   f.clinic.ID,
			PatientID:  f.patient.ID,
			ProviderID: f.provider.ID,
			LocationID: loc,
			Start:      at(12, 30),
			End:        at(13, 0),
		})
		assert.ErrorIs(t, err, ErrBlockedTimeSlot)
	}
}

func TestCreateAppointment_LocationScopedBlock(t *testing.T) {
	f := newFixture(t)
	roomA, roomB := uuid.New(), uuid.New()
	f.block(t, &roomA, at(12, 0), at(13, 0))

	in := CreateInput{
		ClinicID:   f.clinic.ID,
		PatientID:  f.patient.ID,
		ProviderID: f.provider.ID,
		LocationID: &roomA,
		Start:      at(12, 0),
		End:        at(12, 30),
	}
	_, err := f.svc.CreateAppointment(context.Background(), in)
	assert.ErrorIs(t, err, ErrBlockedTimeSlot)

	in.LocationID = &roomB
	_, err = f.svc.CreateAppointment(context.Background(), in)
	assert.NoError(t, err)
}

func TestCreateAppointment_OutsideWorkingHours(t *testing.T) {
	f := newFixture(t)
	saturday := time.Date(2024, 6, 8, 10, 0, 0, 0, time.UTC)

	for _, tc := range []struct{ start, end time.Time }{
		{at(7, 30), at(8, 0)},
		{at(17, 45), at(18, 15)},
		{saturday, saturday.Add(30 * time.Minute)},
	} {
		_, err := f.svc.CreateAppointment(context.Background(), CreateInput{
			ClinicID:   f.clinic.ID,
			PatientID:  f.patient.ID,
			ProviderID: f.provider.ID,
			Start:      tc.start,
			End:        tc.end,
		})
		assert.ErrorIs(t, err, ErrOutsideWorkingHours)
	}
}

func TestCreateAppointment_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateAppointment(context.Background(), CreateInput{
		ClinicID:      f.clinic.ID,
		Start:         at(10, 0),
		End:           at(9, 0),
		BookingSource: "FAX",
	})
	require.Error(t, err)

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.FieldErrors, "patient_id")
	assert.Contains(t, vErr.FieldErrors, "provider_id")
	assert.Contains(t, vErr.FieldErrors, "end")
	assert.Contains(t, vErr.FieldErrors, "booking_source")
}

func TestCreateAppointment_CrossClinicReadsAsMissing(t *testing.T) {
	f := newFixture(t)
	otherClinic := Clinic{ID: uuid.New(), Name: "Hillside", Timezone: "UTC"}
	f.repo.AddClinic(otherClinic)
	foreignPatient := Patient{ID: uuid.New(), ClinicID: otherClinic.ID, Name: "Nadia Haddad"}
	f.repo.AddPatient(foreignPatient)

	_, err := f.svc.CreateAppointment(context.Background(), CreateInput{
		ClinicID:   f.clinic.ID,
		PatientID:  foreignPatient.ID,
		ProviderID: f.provider.ID,
		Start:      at(10, 0),
		End:        at(10, 30),
	})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.CreateAppointment(context.Background(), CreateInput{
		ClinicID:   otherClinic.ID,
		PatientID:  foreignPatient.ID,
		ProviderID: f.provider.ID,
		Start:      at(10, 0),
		End:        at(10, 30),
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateAppointment_CancelledFreesSlot(t *testing.T) {
	f := newFixture(t)
	first := f.book(t, at(10, 0), at(10, 30))

	_, _, err := f.svc.CancelAppointment(context.Background(), f.clinic.ID, first.ID, nil, nil)
	require.NoError(t, err)

	f.book(t, at(10, 0), at(10, 30))
}

func TestCreateAppointment_ConcurrentBookingsOfOneSlot(t *testing.T) {
	f := newFixture(t)
	const workers = 16

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CreateAppointment(context.Background(), CreateInput{
				ClinicID:   f.clinic.ID,
				PatientID:  f.patient.ID,
				ProviderID: f.provider.ID,
				Start:      at(14, 0),
				End:        at(14, 30),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrProviderNotAvailable):
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, conflicts)

	active, err := f.repo.FindActiveByProviderInRange(context.Background(), f.provider.ID, at(0, 0), at(23, 59), nil)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

type stubLocker struct {
	err   error
	calls int
}

func (l *stubLocker) WithProviderLock(ctx context.Context, _ uuid.UUID, fn func(context.Context) error) error {
	l.calls++
	if l.err != nil {
		return l.err
	}
	return fn(ctx)
}

var errLockHeld = errors.New("held")

func TestCreateAppointment_RunsUnderProviderLock(t *testing.T) {
	f := newFixture(t)
	locker := &stubLocker{}
	f.svc.locker = locker

	f.book(t, at(10, 0), at(10, 30))
	assert.Equal(t, 1, locker.calls)

	locker.err = redisclient.ErrLockNotAcquired
	_, err := f.svc.CreateAppointment(context.Background(), CreateInput{
		ClinicID:   f.clinic.ID,
		PatientID:  f.patient.ID,
		ProviderID: f.provider.ID,
		Start:      at(11, 0),
		End:        at(11, 30),
	})
	assert.ErrorIs(t, err, ErrProviderBusy)
}

func TestCreateAppointment_LockErrorsPropagate(t *testing.T) {
	f := newFixture(t)
	f.svc.locker = &stubLocker{err: errLockHeld}

	_, err := f.svc.CreateAppointment(context.Background(), CreateInput{
		ClinicID:   f.clinic.ID,
		PatientID:  f.patient.ID,
		ProviderID: f.provider.ID,
		Start:      at(10, 0),
		End:        at(10, 30),
	})
	assert.ErrorIs(t, err, errLockHeld)
}

func TestChangeStatus_HappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.book(t, at(10, 0), at(10, 30))
	staff := uuid.New()

	confirmedAt := f.now.Add(time.Hour)
	f.now = confirmedAt
	updated, prev, err := f.svc.ChangeStatus(ctx, f.clinic.ID, appt.ID, StatusChangeInput{Status: StatusConfirmed, ChangedByID: &staff})
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, prev)
	assert.Equal(t, StatusConfirmed, updated.Status)
	require.NotNil(t, updated.ConfirmedAt)
	assert.Equal(t, confirmedAt, *updated.ConfirmedAt)

	f.now = confirmedAt.Add(time.Hour)
	updated, prev, err = f.svc.ChangeStatus(ctx, f.clinic.ID, appt.ID, StatusChangeInput{Status: StatusCheckedIn})
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, prev)
	require.NotNil(t, updated.CheckedInAt)
	assert.Equal(t, confirmedAt, *updated.ConfirmedAt, "confirmation stamp is kept")

	updated, _, err = f.svc.ChangeStatus(ctx, f.clinic.ID, appt.ID, StatusChangeInput{Status: StatusCompleted})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, updated.Status)

	events, err := f.svc.ListStatusEvents(ctx, f.clinic.ID, appt.ID)
	require.NoError(t, err)
	require.Len(t, events, 4)
	assert.Equal(t, StatusScheduled, *events[1].PreviousStatus)
	assert.Equal(t, StatusConfirmed, events[1].NewStatus)
	assert.Equal(t, &staff, events[1].ChangedByID)
	assert.Equal(t, StatusCompleted, events[3].NewStatus)
}

func TestChangeStatus_InvalidTransitionLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.book(t, at(10, 0), at(10, 30))

	_, _, err := f.svc.ChangeStatus(ctx, f.clinic.ID, appt.ID, StatusChangeInput{Status: StatusCompleted})
	require.ErrorIs(t, err, ErrInvalidStatusTransition)

	var te *InvalidStatusTransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, StatusScheduled, te.From)

	stored, err := f.svc.GetAppointment(ctx, f.clinic.ID, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, stored.Status)

	events, err := f.svc.ListStatusEvents(ctx, f.clinic.ID, appt.ID)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	_, _, err = f.svc.ChangeStatus(ctx, f.clinic.ID, appt.ID, StatusChangeInput{Status: "LATE"})
	assert.True(t, IsValidation(err))
}

func TestCancelAppointment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.book(t, at(10, 0), at(10, 30))

	cancelled, prev, err := f.svc.CancelAppointment(ctx, f.clinic.ID, appt.ID, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, prev)
	assert.Equal(t, StatusCancelled, cancelled.Status)

	events, err := f.svc.ListStatusEvents(ctx, f.clinic.ID, appt.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.NotNil(t, events[1].Notes)
	assert.Equal(t, "Appointment cancelled", *events[1].Notes)

	_, _, err = f.svc.CancelAppointment(ctx, f.clinic.ID, appt.ID, nil, ptr("again"))
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)
}

func TestCancelAppointment_CompletedCannotBeCancelled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.book(t, at(10, 0), at(10, 30))
	for _, s := range []AppointmentStatus{StatusConfirmed, StatusCheckedIn, StatusCompleted} {
		_, _, err := f.svc.ChangeStatus(ctx, f.clinic.ID, appt.ID, StatusChangeInput{Status: s})
		require.NoError(t, err)
	}

	_, _, err := f.svc.CancelAppointment(ctx, f.clinic.ID, appt.ID, nil, ptr("patient called"))
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)

	_, _, err = f.svc.ChangeStatus(ctx, f.clinic.ID, appt.ID, StatusChangeInput{Status: StatusCancelled})
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)
}

func TestCancelAppointment_CheckedInIsNotCancellable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.book(t, at(10, 0), at(10, 30))
	for _, s := range []AppointmentStatus{StatusConfirmed, StatusCheckedIn} {
		_, _, err := f.svc.ChangeStatus(ctx, f.clinic.ID, appt.ID, StatusChangeInput{Status: s})
		require.NoError(t, err)
	}

	_, _, err := f.svc.CancelAppointment(ctx, f.clinic.ID, appt.ID, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)
}

func TestUpdateAppointment_RescheduleOverOwnSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.book(t, at(10, 0), at(11, 0))

	updated, err := f.svc.UpdateAppointment(ctx, f.clinic.ID, appt.ID, UpdateInput{
		Start: SetTo(at(10, 30)),
		End:   SetTo(at(11, 30)),
	})
	require.NoError(t, err)
	assert.Equal(t, at(10, 30), updated.AppointmentStart)
	assert.Equal(t, StatusScheduled, updated.Status)

	events, err := f.svc.ListStatusEvents(ctx, f.clinic.ID, appt.ID)
	require.NoError(t, err)
	assert.Len(t, events, 1, "updates never record status events")
}

func TestUpdateAppointment_Conflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.book(t, at(9, 0), at(10, 0))
	appt := f.book(t, at(11, 0), at(11, 30))
	f.block(t, nil, at(15, 0), at(16, 0))

	_, err := f.svc.UpdateAppointment(ctx, f.clinic.ID, appt.ID, UpdateInput{Start: SetTo(at(9, 30)), End: SetTo(at(10, 0))})
	assert.ErrorIs(t, err, ErrProviderNotAvailable)

	_, err = f.svc.UpdateAppointment(ctx, f.clinic.ID, appt.ID, UpdateInput{Start: SetTo(at(15, 0)), End: SetTo(at(15, 30))})
	assert.ErrorIs(t, err, ErrBlockedTimeSlot)

	_, err = f.svc.UpdateAppointment(ctx, f.clinic.ID, appt.ID, UpdateInput{Start: SetTo(at(18, 0)), End: SetTo(at(18, 30))})
	assert.ErrorIs(t, err, ErrOutsideWorkingHours)

	_, err = f.svc.UpdateAppointment(ctx, f.clinic.ID, appt.ID, UpdateInput{End: SetTo(at(10, 0))})
	assert.True(t, IsValidation(err))

	stored, err := f.svc.GetAppointment(ctx, f.clinic.ID, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, at(11, 0), stored.AppointmentStart, "failed updates leave the row untouched")
}

func TestUpdateAppointment_ReassignProviderAndPatient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.book(t, at(10, 0), at(10, 30))

	second := Provider{ID: uuid.New(), ClinicID: f.clinic.ID, Name: "Dr. Kenji Mori", WorkingHours: weekdayHours(), DefaultAppointmentDuration: 30}
	f.repo.AddProvider(second)
	otherPatient := Patient{ID: uuid.New(), ClinicID: f.clinic.ID, Name: "Priya Natarajan"}
	f.repo.AddPatient(otherPatient)

	updated, err := f.svc.UpdateAppointment(ctx, f.clinic.ID, appt.ID, UpdateInput{
		ProviderID: SetTo(second.ID),
		PatientID:  SetTo(otherPatient.ID),
	})
	require.NoError(t, err)
	assert.Equal(t, "Dr. Kenji Mori", updated.ProviderName)
	assert.Equal(t, "Priya Natarajan", updated.PatientName)
	assert.Nil(t, updated.PatientPhone)

	// the original provider's slot is free again
	f.book(t, at(10, 0), at(10, 30))
}

func TestUpdateAppointment_NotesOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.book(t, at(10, 0), at(10, 30))

	updated, err := f.svc.UpdateAppointment(ctx, f.clinic.ID, appt.ID, UpdateInput{Notes: SetTo(ptr("bring x-rays"))})
	require.NoError(t, err)
	require.NotNil(t, updated.Notes)
	assert.Equal(t, "bring x-rays", *updated.Notes)

	updated, err = f.svc.UpdateAppointment(ctx, f.clinic.ID, appt.ID, UpdateInput{Notes: SetTo[*string](nil)})
	require.NoError(t, err)
	assert.Nil(t, updated.Notes)
}

func TestDeleteAppointment_SoftDeletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.book(t, at(10, 0), at(10, 30))

	require.NoError(t, f.svc.DeleteAppointment(ctx, f.clinic.ID, appt.ID))

	_, err := f.svc.GetAppointment(ctx, f.clinic.ID, appt.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, f.svc.DeleteAppointment(ctx, f.clinic.ID, appt.ID), ErrNotFound)

	history, err := f.repo.ListStatusEvents(ctx, appt.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1, "history survives deletion")

	f.book(t, at(10, 0), at(10, 30))

	logs := f.repo.EventLogs()
	assert.Equal(t, EventAppointmentDeleted, logs[1].EventType)
}

func TestTenantIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	appt := f.book(t, at(10, 0), at(10, 30))
	other := uuid.New()

	_, err := f.svc.GetAppointment(ctx, other, appt.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, _, err = f.svc.CancelAppointment(ctx, other, appt.ID, nil, nil)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.UpdateAppointment(ctx, other, appt.ID, UpdateInput{Notes: SetTo(ptr("x"))})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, f.svc.DeleteAppointment(ctx, other, appt.ID), ErrNotFound)

	list, err := f.svc.ListAppointments(ctx, AppointmentFilter{ClinicID: other})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestListAppointments_Filters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	early := f.book(t, at(9, 0), at(9, 30))
	late := f.book(t, at(15, 0), at(15, 30))

	all, err := f.svc.ListAppointments(ctx, AppointmentFilter{ClinicID: f.clinic.ID})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, early.ID, all[0].ID)

	afternoon, err := f.svc.ListAppointments(ctx, AppointmentFilter{ClinicID: f.clinic.ID, From: at(12, 0)})
	require.NoError(t, err)
	require.Len(t, afternoon, 1)
	assert.Equal(t, late.ID, afternoon[0].ID)

	_, err = f.svc.ListAppointments(ctx, AppointmentFilter{ClinicID: f.clinic.ID, From: at(12, 0), To: at(11, 0)})
	assert.True(t, IsValidation(err))
}

func TestGetAvailability(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.book(t, at(10, 0), at(11, 0))
	f.block(t, nil, at(16, 0), at(17, 0))

	days, err := f.svc.GetAvailability(ctx, f.clinic.ID, f.provider.ID, monday, monday, nil)
	require.NoError(t, err)
	require.Len(t, days, 1)
	assert.Len(t, days[0].Slots, 16)

	_, err = f.svc.GetAvailability(ctx, f.clinic.ID, f.provider.ID, monday, monday.AddDays(31), nil)
	assert.True(t, IsValidation(err))

	_, err = f.svc.GetAvailability(ctx, uuid.New(), f.provider.ID, monday, monday, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetAvailability_DefaultTimezoneForBlankClinic(t *testing.T) {
	f := newFixture(t)
	f.clinic.Timezone = ""
	f.repo.AddClinic(f.clinic)
	f.svc.cfg.DefaultTimezone = "Asia/Tokyo"

	days, err := f.svc.GetAvailability(context.Background(), f.clinic.ID, f.provider.ID, monday, monday, nil)
	require.NoError(t, err)
	require.NotEmpty(t, days[0].Slots)
	// 08:00 in Tokyo is 23:00 UTC the previous day
	assert.True(t, days[0].Slots[0].Start.Equal(time.Date(2024, 6, 2, 23, 0, 0, 0, time.UTC)))
}

func TestBlockedSlots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.block(t, nil, at(12, 0), at(13, 0))

	list, err := f.svc.ListBlockedSlots(ctx, f.clinic.ID, f.provider.ID, at(0, 0), at(23, 0))
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, b.ID, list[0].ID)

	assert.ErrorIs(t, f.svc.DeleteBlockedSlot(ctx, uuid.New(), b.ID), ErrNotFound)
	require.NoError(t, f.svc.DeleteBlockedSlot(ctx, f.clinic.ID, b.ID))
	assert.ErrorIs(t, f.svc.DeleteBlockedSlot(ctx, f.clinic.ID, b.ID), ErrNotFound)

	f.book(t, at(12, 0), at(12, 30))

	_, err = f.svc.CreateBlockedSlot(ctx, f.clinic.ID, BlockedSlotInput{ProviderID: f.provider.ID, Start: at(9, 0), End: at(9, 0)})
	assert.True(t, IsValidation(err))
}
