package appointment

import (
	"time"

	"github.com/google/uuid"
)

// AvailabilityRequest carries everything GenerateAvailability needs. Appointments and
// Blocks should cover the whole date range; inactive appointments are ignored.
type AvailabilityRequest struct {
	Provider     Provider
	Location     *time.Location
	StartDate    Date
	EndDate      Date
	LocationID   *uuid.UUID
	Appointments []Appointment
	Blocks       []BlockedTimeSlot
}

// fullDay stands in for a provider with no working hours configured.
var fullDay = DayHours{Start: "00:00", End: "24:00"}

// GenerateAvailability enumerates bookable slots for every day in [StartDate, EndDate].
// Slots of the provider's default duration are laid out in clinic wall-clock time from the
// start of the day's window, converted to instants through the clinic timezone, and dropped
// when they clash with an active appointment or an applicable block. Days and slots come
// back in ascending order. The function is pure.
func GenerateAvailability(req AvailabilityRequest) ([]DayAvailability, error) {
	duration := req.Provider.DefaultAppointmentDuration
	if duration <= 0 {
		return nil, newValidationError("default_appointment_duration", "must be a positive number of minutes")
	}
	if req.EndDate.Before(req.StartDate) {
		return nil, newValidationError("end_date", "must not be before start_date")
	}
	loc := req.Location
	if loc == nil {
		loc = time.UTC
	}

	active := make([]Appointment, 0, len(req.Appointments))
	for _, a := range req.Appointments {
		if a.Active() {
			active = append(active, a)
		}
	}

	var days []DayAvailability
	for d := req.StartDate; !req.EndDate.Before(d); d = d.AddDays(1) {
		day := DayAvailability{
			Date:      d.String(),
			DayOfWeek: d.Weekday(),
			Slots:     []TimeSlot{},
		}

		hours, ok := fullDay, true
		if req.Provider.WorkingHours != nil {
			hours, ok = req.Provider.WorkingHours.For(day.DayOfWeek)
		}
		if !ok {
			days = append(days, day)
			continue
		}
		dayStart, dayEnd, err := hours.minutes()
		if err != nil {
			days = append(days, day)
			continue
		}

		for cursor := dayStart; cursor+duration <= dayEnd; cursor += duration {
			start, exists := wallClock(d, cursor, loc)
			if !exists {
				continue
			}
			end, exists := wallClock(d, cursor+duration, loc)
			if !exists {
				end = start.Add(time.Duration(duration) * time.Minute)
			}
			if !end.After(start) {
				continue
			}
			// a gap-adjusted end can run past closing time
			if !IsWithinWorkingHours(req.Provider.WorkingHours, loc, start, end) {
				continue
			}
			candidate := Interval{Start: start, End: end}
			if findConflict(candidate, req.LocationID, nil, active, req.Blocks) != NoConflict {
				continue
			}
			day.Slots = append(day.Slots, TimeSlot{Start: start, End: end})
		}

		days = append(days, day)
	}

	return days, nil
}

// wallClock resolves minute-of-day m on date d in loc. exists is false when that wall
// clock reading is skipped by a DST transition.
func wallClock(d Date, m int, loc *time.Location) (time.Time, bool) {
	t := time.Date(d.Year, d.Month, d.Day, m/60, m%60, 0, 0, loc)
	if m >= minutesPerDay {
		return t, true
	}
	return t, sameDate(t, d.In(loc)) && minuteOfDay(t) == m
}
