package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
)

func createAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, ok := uuidParam(w, r, "clinicID")
		if !ok {
			return
		}

		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		p := newFieldParser()
		in := appointment.CreateInput{
			ClinicID:      clinicID,
			PatientID:     p.uuid("patient_id", req.PatientID),
			ProviderID:    p.uuid("provider_id", req.ProviderID),
			LocationID:    p.optionalUUID("location_id", req.LocationID),
			Start:         p.time("start", req.Start),
			End:           p.time("end", req.End),
			BookingSource: appointment.BookingSource(req.BookingSource),
			Notes:         req.Notes,
			CreatedByID:   p.optionalUUID("created_by_id", req.CreatedByID),
		}
		if p.failed(w) {
			return
		}

		appt, err := svc.CreateAppointment(r.Context(), in)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, ok := uuidParam(w, r, "clinicID")
		if !ok {
			return
		}

		q := r.URL.Query()
		p := newFieldParser()
		filter := appointment.AppointmentFilter{ClinicID: clinicID}
		if v := q.Get("provider_id"); v != "" {
			id := p.uuid("provider_id", v)
			filter.ProviderID = &id
		}
		if v := q.Get("from"); v != "" {
			filter.From = p.time("from", v)
		}
		if v := q.Get("to"); v != "" {
			filter.To = p.time("to", v)
		}
		if p.failed(w) {
			return
		}

		appts, err := svc.ListAppointments(r.Context(), filter)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		resp := make([]AppointmentResponse, 0, len(appts))
		for i := range appts {
			resp = append(resp, toAppointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, id, ok := clinicAndID(w, r)
		if !ok {
			return
		}

		appt, err := svc.GetAppointment(r.Context(), clinicID, id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func updateAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, id, ok := clinicAndID(w, r)
		if !ok {
			return
		}

		var body map[string]json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		in, vErr := decodeUpdate(body)
		if vErr != nil {
			writeServiceError(w, r, vErr)
			return
		}

		appt, err := svc.UpdateAppointment(r.Context(), clinicID, id, in)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func deleteAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, id, ok := clinicAndID(w, r)
		if !ok {
			return
		}

		if err := svc.DeleteAppointment(r.Context(), clinicID, id); err != nil {
			writeServiceError(w, r, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func changeStatusHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, id, ok := clinicAndID(w, r)
		if !ok {
			return
		}

		var req StatusChangeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		p := newFieldParser()
		in := appointment.StatusChangeInput{
			Status:      appointment.AppointmentStatus(req.Status),
			ChangedByID: p.optionalUUID("changed_by_id", req.ChangedByID),
			Notes:       req.Notes,
		}
		if p.failed(w) {
			return
		}

		appt, prev, err := svc.ChangeStatus(r.Context(), clinicID, id, in)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, StatusChangeResponse{
			Appointment:    toAppointmentResponse(appt),
			PreviousStatus: string(prev),
		})
	}
}

func cancelAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, id, ok := clinicAndID(w, r)
		if !ok {
			return
		}

		// an empty body cancels with defaults
		var req CancelRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		p := newFieldParser()
		changedBy := p.optionalUUID("changed_by_id", req.ChangedByID)
		if p.failed(w) {
			return
		}

		appt, prev, err := svc.CancelAppointment(r.Context(), clinicID, id, changedBy, req.Notes)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, StatusChangeResponse{
			Appointment:    toAppointmentResponse(appt),
			PreviousStatus: string(prev),
		})
	}
}

func listStatusEventsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, id, ok := clinicAndID(w, r)
		if !ok {
			return
		}

		events, err := svc.ListStatusEvents(r.Context(), clinicID, id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		resp := make([]StatusEventResponse, 0, len(events))
		for _, ev := range events {
			resp = append(resp, toStatusEventResponse(ev))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// decodeUpdate turns a PATCH body into patches. A present key sets the field; for
// location_id and notes an explicit null clears it.
func decodeUpdate(body map[string]json.RawMessage) (appointment.UpdateInput, error) {
	var in appointment.UpdateInput
	p := newFieldParser()

	for key, raw := range body {
		isNull := string(raw) == "null"
		switch key {
		case "patient_id", "provider_id":
			var s string
			if isNull || json.Unmarshal(raw, &s) != nil {
				p.fail(key, "must be a UUID string")
				continue
			}
			id := p.uuid(key, s)
			if key == "patient_id" {
				in.PatientID = appointment.SetTo(id)
			} else {
				in.ProviderID = appointment.SetTo(id)
			}
		case "location_id":
			if isNull {
				in.LocationID = appointment.SetTo[*uuid.UUID](nil)
				continue
			}
			var s string
			if json.Unmarshal(raw, &s) != nil {
				p.fail(key, "must be a UUID string or null")
				continue
			}
			in.LocationID = appointment.SetTo(p.optionalUUID(key, &s))
		case "start", "end":
			var s string
			if isNull || json.Unmarshal(raw, &s) != nil {
				p.fail(key, "must be an RFC 3339 timestamp")
				continue
			}
			t := p.time(key, s)
			if key == "start" {
				in.Start = appointment.SetTo(t)
			} else {
				in.End = appointment.SetTo(t)
			}
		case "notes":
			if isNull {
				in.Notes = appointment.SetTo[*string](nil)
				continue
			}
			var s string
			if json.Unmarshal(raw, &s) != nil {
				p.fail(key, "must be a string or null")
				continue
			}
			in.Notes = appointment.SetTo(&s)
		case "status":
			p.fail(key, "use the status endpoint to change status")
		default:
			p.fail(key, "unknown field")
		}
	}

	if p.errs.HasErrors() {
		return appointment.UpdateInput{}, p.errs
	}
	return in, nil
}

// Helpers

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// writeServiceError maps domain error kinds onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var vErr *appointment.ValidationError
	switch {
	case errors.As(err, &vErr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "validation_failed",
			Details: vErr.Error(),
			Fields:  vErr.FieldErrors,
		})
	case errors.Is(err, appointment.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, appointment.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, appointment.ErrOutsideWorkingHours):
		writeError(w, http.StatusConflict, "outside_working_hours", err.Error())
	case errors.Is(err, appointment.ErrBlockedTimeSlot):
		writeError(w, http.StatusConflict, "blocked_time_slot", err.Error())
	case errors.Is(err, appointment.ErrProviderNotAvailable):
		writeError(w, http.StatusConflict, "provider_not_available", err.Error())
	case errors.Is(err, appointment.ErrProviderBusy):
		writeError(w, http.StatusConflict, "provider_busy", "provider calendar is being modified, please retry shortly")
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func clinicAndID(w http.ResponseWriter, r *http.Request) (clinicID, id uuid.UUID, ok bool) {
	if clinicID, ok = uuidParam(w, r, "clinicID"); !ok {
		return
	}
	id, ok = uuidParam(w, r, "id")
	return
}

// fieldParser collects parse failures for request fields into one ValidationError.
type fieldParser struct {
	errs *appointment.ValidationError
}

func newFieldParser() *fieldParser {
	return &fieldParser{errs: &appointment.ValidationError{}}
}

func (p *fieldParser) fail(field, msg string) {
	if p.errs.FieldErrors == nil {
		p.errs.FieldErrors = make(map[string]string)
	}
	p.errs.FieldErrors[field] = msg
}

func (p *fieldParser) uuid(field, s string) uuid.UUID {
	if s == "" {
		return uuid.Nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		p.fail(field, "must be a valid UUID")
		return uuid.Nil
	}
	return id
}

func (p *fieldParser) optionalUUID(field string, s *string) *uuid.UUID {
	if s == nil || *s == "" {
		return nil
	}
	id := p.uuid(field, *s)
	if id == uuid.Nil {
		return nil
	}
	return &id
}

func (p *fieldParser) time(field, s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		p.fail(field, "must be an RFC 3339 timestamp")
		return time.Time{}
	}
	return t
}

func (p *fieldParser) date(field, s string) appointment.Date {
	d, err := appointment.ParseDate(s)
	if err != nil {
		p.fail(field, "must be a YYYY-MM-DD date")
	}
	return d
}

// failed writes the collected errors, if any, and reports whether it did.
func (p *fieldParser) failed(w http.ResponseWriter) bool {
	if !p.errs.HasErrors() {
		return false
	}
	writeJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:   "validation_failed",
		Details: p.errs.Error(),
		Fields:  p.errs.FieldErrors,
	})
	return true
}
