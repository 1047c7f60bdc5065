package appointment

import "time"

// allowedTransitions lists the outgoing edges of each non-terminal status.
// COMPLETED, NO_SHOW and CANCELLED are terminal.
var allowedTransitions = map[AppointmentStatus][]AppointmentStatus{
	StatusScheduled: {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCheckedIn, StatusNoShow, StatusCancelled},
	StatusCheckedIn: {StatusCompleted, StatusNoShow},
}

// CanTransition reports whether an appointment may move from one status to another.
func CanTransition(from, to AppointmentStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns an *InvalidStatusTransitionError for any pair outside the table.
func ValidateTransition(from, to AppointmentStatus) error {
	if !CanTransition(from, to) {
		return &InvalidStatusTransitionError{From: from, To: to}
	}
	return nil
}

// CanCancel reports whether cancellation is allowed from the given status.
func CanCancel(from AppointmentStatus) bool {
	return (from == StatusScheduled || from == StatusConfirmed) && CanTransition(from, StatusCancelled)
}

// IsTerminal reports whether s has no outgoing transitions.
func IsTerminal(s AppointmentStatus) bool {
	return len(allowedTransitions[s]) == 0
}

// applyTransition sets the new status and stamps ConfirmedAt / CheckedInAt the first
// time the appointment enters those states. Existing stamps are never overwritten.
func applyTransition(a *Appointment, to AppointmentStatus, now time.Time) {
	a.Status = to
	switch to {
	case StatusConfirmed:
		if a.ConfirmedAt == nil {
			t := now
			a.ConfirmedAt = &t
		}
	case StatusCheckedIn:
		if a.CheckedInAt == nil {
			t := now
			a.CheckedInAt = &t
		}
	}
	a.UpdatedAt = now
}
