package appointment

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Error kinds surfaced to callers. Cross-clinic lookups report ErrNotFound so that
// another tenant's records are indistinguishable from missing ones.
var (
	ErrNotFound                = errors.New("resource not found")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrOutsideWorkingHours     = errors.New("appointment is outside the provider's working hours")
	ErrBlockedTimeSlot         = errors.New("provider has a blocked time slot in this interval")
	ErrProviderNotAvailable    = errors.New("provider already has an appointment in this interval")
	ErrProviderBusy            = errors.New("provider calendar is being modified, please retry")
)

// InvalidStatusTransitionError carries the rejected pair. It matches ErrInvalidStatusTransition.
type InvalidStatusTransitionError struct {
	From AppointmentStatus
	To   AppointmentStatus
}

func (e *InvalidStatusTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition from %s to %s", e.From, e.To)
}

func (e *InvalidStatusTransitionError) Is(target error) bool {
	return target == ErrInvalidStatusTransition
}

// ValidationError captures field level issues with caller input.
type ValidationError struct {
	FieldErrors map[string]string
}

func (v *ValidationError) Error() string {
	if v == nil || len(v.FieldErrors) == 0 {
		return "validation failed"
	}
	fields := make([]string, 0, len(v.FieldErrors))
	for f := range v.FieldErrors {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+": "+v.FieldErrors[f])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

func newValidationError(field, message string) *ValidationError {
	v := &ValidationError{}
	v.add(field, message)
	return v
}

// IsValidation reports whether err is (or wraps) a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
