package appointment

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const minutesPerDay = 24 * 60

// DayHours is a wall-clock window in clinic local time, "HH:mm" on both ends.
// End may be "24:00" to mean the end of the day.
type DayHours struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// WorkingHours maps weekday (0=Sunday … 6=Saturday) to that day's window.
// A missing or nil entry means the provider does not work that day.
// A nil WorkingHours means no restriction at all.
type WorkingHours map[time.Weekday]*DayHours

// For returns the window for a weekday, if any.
func (w WorkingHours) For(day time.Weekday) (DayHours, bool) {
	h, ok := w[day]
	if !ok || h == nil {
		return DayHours{}, false
	}
	return *h, true
}

// Validate checks every configured day for parseable, non-empty windows.
func (w WorkingHours) Validate() error {
	for day, h := range w {
		if day < time.Sunday || day > time.Saturday {
			return fmt.Errorf("working hours: invalid day key %d", day)
		}
		if h == nil {
			continue
		}
		if _, _, err := h.minutes(); err != nil {
			return fmt.Errorf("working hours %s: %w", day, err)
		}
	}
	return nil
}

func (h DayHours) minutes() (start, end int, err error) {
	start, err = parseClock(h.Start)
	if err != nil {
		return 0, 0, err
	}
	end, err = parseClock(h.End)
	if err != nil {
		return 0, 0, err
	}
	if end <= start {
		return 0, 0, fmt.Errorf("end %s must be after start %s", h.End, h.Start)
	}
	return start, end, nil
}

// parseClock converts "HH:mm" into minutes since midnight. "24:00" is accepted.
func parseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(s, ":")
	if !ok || len(hh) != 2 || len(mm) != 2 {
		return 0, fmt.Errorf("invalid clock %q, want HH:mm", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", s, err)
	}
	m, err := strconv.Atoi(mm)
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", s, err)
	}
	if h < 0 || m < 0 || m > 59 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	return h*60 + m, nil
}

// minuteOfDay is the HH:mm reading of t, seconds truncated.
func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// IsWithinWorkingHours reports whether [start, end) fits the provider's window for the
// weekday of start. Both instants are read in loc, the clinic's timezone. Boundaries are
// inclusive on both sides, so a slot ending exactly at closing time fits.
// An interval ending on a later local date fits only if it ends exactly at midnight and
// the day's window runs to "24:00".
func IsWithinWorkingHours(wh WorkingHours, loc *time.Location, start, end time.Time) bool {
	if wh == nil {
		return true
	}
	if loc == nil {
		loc = time.UTC
	}
	ls, le := start.In(loc), end.In(loc)

	day, ok := wh.For(ls.Weekday())
	if !ok {
		return false
	}
	dayStart, dayEnd, err := day.minutes()
	if err != nil {
		return false
	}

	startMin := minuteOfDay(ls)
	var endMin int
	switch {
	case sameDate(ls, le):
		endMin = minuteOfDay(le)
	case sameDate(ls.AddDate(0, 0, 1), le) && minuteOfDay(le) == 0 && le.Second() == 0 && le.Nanosecond() == 0:
		endMin = minutesPerDay
	default:
		return false
	}

	return dayStart <= startMin && endMin <= dayEnd
}
