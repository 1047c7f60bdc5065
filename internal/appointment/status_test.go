package appointment

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allStatuses = []AppointmentStatus{
	StatusScheduled, StatusConfirmed, StatusCheckedIn, StatusCompleted, StatusNoShow, StatusCancelled,
}

func TestCanTransition_Table(t *testing.T) {
	allowed := map[AppointmentStatus][]AppointmentStatus{
		StatusScheduled: {StatusConfirmed, StatusCancelled},
		StatusConfirmed: {StatusCheckedIn, StatusNoShow, StatusCancelled},
		StatusCheckedIn: {StatusCompleted, StatusNoShow},
	}

	for _, from := range allStatuses {
		for _, to := range allStatuses {
			want := false
			for _, next := range allowed[from] {
				if next == to {
					want = true
				}
			}
			assert.Equalf(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	for _, s := range []AppointmentStatus{StatusCompleted, StatusNoShow, StatusCancelled} {
		assert.True(t, IsTerminal(s), s)
		for _, to := range allStatuses {
			assert.False(t, CanTransition(s, to), "%s -> %s", s, to)
		}
	}
	assert.False(t, IsTerminal(StatusScheduled))
}

func TestValidateTransition_ReportsPair(t *testing.T) {
	err := ValidateTransition(StatusCompleted, StatusCancelled)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidStatusTransition))

	var te *InvalidStatusTransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, StatusCompleted, te.From)
	assert.Equal(t, StatusCancelled, te.To)

	assert.NoError(t, ValidateTransition(StatusScheduled, StatusConfirmed))
}

func TestCanCancel(t *testing.T) {
	assert.True(t, CanCancel(StatusScheduled))
	assert.True(t, CanCancel(StatusConfirmed))
	assert.False(t, CanCancel(StatusCheckedIn))
	assert.False(t, CanCancel(StatusCompleted))
	assert.False(t, CanCancel(StatusCancelled))
}

func TestApplyTransition_StampsOnce(t *testing.T) {
	first := time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)
	later := first.Add(time.Hour)

	a := &Appointment{Status: StatusScheduled}
	applyTransition(a, StatusConfirmed, first)
	require.NotNil(t, a.ConfirmedAt)
	assert.Equal(t, first, *a.ConfirmedAt)

	// a second confirmation keeps the original stamp
	a.Status = StatusScheduled
	applyTransition(a, StatusConfirmed, later)
	assert.Equal(t, first, *a.ConfirmedAt)
	assert.Equal(t, later, a.UpdatedAt)

	applyTransition(a, StatusCheckedIn, later)
	require.NotNil(t, a.CheckedInAt)
	assert.Equal(t, later, *a.CheckedInAt)
	assert.Equal(t, StatusCheckedIn, a.Status)
}

func TestStatusValid(t *testing.T) {
	for _, s := range allStatuses {
		assert.True(t, s.Valid())
	}
	assert.False(t, AppointmentStatus("RESCHEDULED").Valid())
	assert.False(t, StatusCancelled.Active())
	assert.False(t, StatusNoShow.Active())
	assert.True(t, StatusCompleted.Active())
}
