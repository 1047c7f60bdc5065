package api

import (
	"encoding/json"
	"net/http"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
)

// availabilityHandler serves GET .../providers/{providerID}/availability?start_date=&end_date=[&location_id=].
// end_date defaults to start_date.
func availabilityHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, ok := uuidParam(w, r, "clinicID")
		if !ok {
			return
		}
		providerID, ok := uuidParam(w, r, "providerID")
		if !ok {
			return
		}

		q := r.URL.Query()
		p := newFieldParser()
		startDate := p.date("start_date", q.Get("start_date"))
		endDate := startDate
		if v := q.Get("end_date"); v != "" {
			endDate = p.date("end_date", v)
		}
		var locationID *string
		if v := q.Get("location_id"); v != "" {
			locationID = &v
		}
		loc := p.optionalUUID("location_id", locationID)
		if p.failed(w) {
			return
		}

		days, err := svc.GetAvailability(r.Context(), clinicID, providerID, startDate, endDate, loc)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, AvailabilityResponse{ProviderID: providerID, Days: days})
	}
}

func createBlockedSlotHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, ok := uuidParam(w, r, "clinicID")
		if !ok {
			return
		}
		providerID, ok := uuidParam(w, r, "providerID")
		if !ok {
			return
		}

		var req BlockedSlotRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		p := newFieldParser()
		in := appointment.BlockedSlotInput{
			ProviderID: providerID,
			LocationID: p.optionalUUID("location_id", req.LocationID),
			Start:      p.time("start", req.Start),
			End:        p.time("end", req.End),
			Reason:     req.Reason,
		}
		if p.failed(w) {
			return
		}

		b, err := svc.CreateBlockedSlot(r.Context(), clinicID, in)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toBlockedSlotResponse(b))
	}
}

func listBlockedSlotsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, ok := uuidParam(w, r, "clinicID")
		if !ok {
			return
		}
		providerID, ok := uuidParam(w, r, "providerID")
		if !ok {
			return
		}

		q := r.URL.Query()
		p := newFieldParser()
		from := p.time("from", q.Get("from"))
		to := p.time("to", q.Get("to"))
		if p.failed(w) {
			return
		}

		blocks, err := svc.ListBlockedSlots(r.Context(), clinicID, providerID, from, to)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		resp := make([]BlockedSlotResponse, 0, len(blocks))
		for i := range blocks {
			resp = append(resp, toBlockedSlotResponse(&blocks[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func deleteBlockedSlotHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, id, ok := clinicAndID(w, r)
		if !ok {
			return
		}

		if err := svc.DeleteBlockedSlot(r.Context(), clinicID, id); err != nil {
			writeServiceError(w, r, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}
