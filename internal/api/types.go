package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
)

type CreateAppointmentRequest struct {
	PatientID     string  `json:"patient_id"`
	ProviderID    string  `json:"provider_id"`
	LocationID    *string `json:"location_id"`
	Start         string  `json:"start"`
	End           string  `json:"end"`
	BookingSource string  `json:"booking_source"`
	Notes         *string `json:"notes"`
	CreatedByID   *string `json:"created_by_id"`
}

type StatusChangeRequest struct {
	Status      string  `json:"status"`
	ChangedByID *string `json:"changed_by_id"`
	Notes       *string `json:"notes"`
}

type CancelRequest struct {
	ChangedByID *string `json:"changed_by_id"`
	Notes       *string `json:"notes"`
}

type BlockedSlotRequest struct {
	LocationID *string `json:"location_id"`
	Start      string  `json:"start"`
	End        string  `json:"end"`
	Reason     *string `json:"reason"`
}

type AppointmentResponse struct {
	ID            uuid.UUID  `json:"id"`
	ClinicID      uuid.UUID  `json:"clinic_id"`
	PatientID     uuid.UUID  `json:"patient_id"`
	ProviderID    uuid.UUID  `json:"provider_id"`
	LocationID    *uuid.UUID `json:"location_id,omitempty"`
	Start         time.Time  `json:"start"`
	End           time.Time  `json:"end"`
	PatientName   string     `json:"patient_name"`
	PatientPhone  *string    `json:"patient_phone,omitempty"`
	ProviderName  string     `json:"provider_name"`
	Status        string     `json:"status"`
	BookingSource string     `json:"booking_source"`
	ConfirmedAt   *time.Time `json:"confirmed_at,omitempty"`
	CheckedInAt   *time.Time `json:"checked_in_at,omitempty"`
	Notes         *string    `json:"notes,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:            a.ID,
		ClinicID:      a.ClinicID,
		PatientID:     a.PatientID,
		ProviderID:    a.ProviderID,
		LocationID:    a.LocationID,
		Start:         a.AppointmentStart,
		End:           a.AppointmentEnd,
		PatientName:   a.PatientName,
		PatientPhone:  a.PatientPhone,
		ProviderName:  a.ProviderName,
		Status:        string(a.Status),
		BookingSource: string(a.BookingSource),
		ConfirmedAt:   a.ConfirmedAt,
		CheckedInAt:   a.CheckedInAt,
		Notes:         a.Notes,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

type StatusChangeResponse struct {
	Appointment    AppointmentResponse `json:"appointment"`
	PreviousStatus string              `json:"previous_status"`
}

type StatusEventResponse struct {
	ID             uuid.UUID  `json:"id"`
	PreviousStatus *string    `json:"previous_status"`
	NewStatus      string     `json:"new_status"`
	ChangedByID    *uuid.UUID `json:"changed_by_id,omitempty"`
	ChangedAt      time.Time  `json:"changed_at"`
	Notes          *string    `json:"notes,omitempty"`
}

func toStatusEventResponse(ev appointment.StatusEvent) StatusEventResponse {
	resp := StatusEventResponse{
		ID:          ev.ID,
		NewStatus:   string(ev.NewStatus),
		ChangedByID: ev.ChangedByID,
		ChangedAt:   ev.ChangedAt,
		Notes:       ev.Notes,
	}
	if ev.PreviousStatus != nil {
		prev := string(*ev.PreviousStatus)
		resp.PreviousStatus = &prev
	}
	return resp
}

type BlockedSlotResponse struct {
	ID         uuid.UUID  `json:"id"`
	ProviderID uuid.UUID  `json:"provider_id"`
	LocationID *uuid.UUID `json:"location_id,omitempty"`
	Start      time.Time  `json:"start"`
	End        time.Time  `json:"end"`
	Reason     *string    `json:"reason,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func toBlockedSlotResponse(b *appointment.BlockedTimeSlot) BlockedSlotResponse {
	return BlockedSlotResponse{
		ID:         b.ID,
		ProviderID: b.ProviderID,
		LocationID: b.LocationID,
		Start:      b.StartDatetime,
		End:        b.EndDatetime,
		Reason:     b.Reason,
		CreatedAt:  b.CreatedAt,
	}
}

type AvailabilityResponse struct {
	ProviderID uuid.UUID                     `json:"provider_id"`
	Days       []appointment.DayAvailability `json:"days"`
}

type ErrorResponse struct {
	Error   string            `json:"error"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}
