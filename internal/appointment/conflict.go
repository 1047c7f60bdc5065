package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Interval is half-open: Start is inclusive, End exclusive.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether a and b share any instant. Touching intervals do not overlap.
func Overlaps(a, b Interval) bool {
	return a.Start.Before(b.End) && a.End.After(b.Start)
}

// BlockApplies reports whether a block counts against a candidate at locationID.
// Blocks without a location apply everywhere; a candidate without a location is
// matched by every block of the provider.
func BlockApplies(b BlockedTimeSlot, locationID *uuid.UUID) bool {
	if b.LocationID == nil || locationID == nil {
		return true
	}
	return *b.LocationID == *locationID
}

type ConflictKind int

const (
	NoConflict ConflictKind = iota
	ConflictBlocked
	ConflictAppointment
)

// Err maps the kind onto the error surfaced to callers, nil for NoConflict.
func (k ConflictKind) Err() error {
	switch k {
	case ConflictBlocked:
		return ErrBlockedTimeSlot
	case ConflictAppointment:
		return ErrProviderNotAvailable
	}
	return nil
}

// findConflict evaluates the candidate against pre-fetched appointments and blocks.
// Blocks are reported before appointment clashes.
func findConflict(candidate Interval, locationID, excludeID *uuid.UUID, appointments []Appointment, blocks []BlockedTimeSlot) ConflictKind {
	for _, b := range blocks {
		if BlockApplies(b, locationID) && Overlaps(candidate, b.Interval()) {
			return ConflictBlocked
		}
	}
	for _, a := range appointments {
		if !a.Active() {
			continue
		}
		if excludeID != nil && a.ID == *excludeID {
			continue
		}
		if Overlaps(candidate, a.Interval()) {
			return ConflictAppointment
		}
	}
	return NoConflict
}

// ConflictQuery describes a candidate booking for a provider.
type ConflictQuery struct {
	ProviderID uuid.UUID
	Start      time.Time
	End        time.Time
	LocationID *uuid.UUID
	// ExcludeAppointmentID lets an appointment being rescheduled ignore itself.
	ExcludeAppointmentID *uuid.UUID
}

// ConflictChecker answers overlap questions against storage. It holds no state of its own.
type ConflictChecker struct {
	appointments AppointmentStore
	blocks       BlockedSlotStore
}

func NewConflictChecker(appointments AppointmentStore, blocks BlockedSlotStore) *ConflictChecker {
	return &ConflictChecker{appointments: appointments, blocks: blocks}
}

// Check classifies the first conflict found, blocked slots first.
func (c *ConflictChecker) Check(ctx context.Context, q ConflictQuery) (ConflictKind, error) {
	blocked, err := c.blocks.HasOverlappingBlock(ctx, q.ProviderID, q.Start, q.End, q.LocationID)
	if err != nil {
		return NoConflict, fmt.Errorf("check blocked slots: %w", err)
	}
	if blocked {
		return ConflictBlocked, nil
	}

	existing, err := c.appointments.FindActiveByProviderInRange(ctx, q.ProviderID, q.Start, q.End, q.ExcludeAppointmentID)
	if err != nil {
		return NoConflict, fmt.Errorf("check provider appointments: %w", err)
	}
	candidate := Interval{Start: q.Start, End: q.End}
	return findConflict(candidate, q.LocationID, q.ExcludeAppointmentID, existing, nil), nil
}

// HasConflict reports whether the candidate overlaps an active appointment or an applicable block.
func (c *ConflictChecker) HasConflict(ctx context.Context, q ConflictQuery) (bool, error) {
	kind, err := c.Check(ctx, q)
	if err != nil {
		return false, err
	}
	return kind != NoConflict, nil
}
