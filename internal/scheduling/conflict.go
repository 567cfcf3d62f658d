package scheduling

import "time"

// Available reports whether slot overlaps none of busy.
// Timed intervals use the half-open overlap test; all-day intervals block whole business-local dates.
func Available(slot TimeSlot, busy []BusyInterval, loc *time.Location) bool {
	for _, b := range busy {
		if Overlaps(slot, b, loc) {
			return false
		}
	}
	return true
}

// Overlaps reports whether one busy interval blocks slot
func Overlaps(slot TimeSlot, b BusyInterval, loc *time.Location) bool {
	if b.AllDay(loc) {
		date := civilDate(slot.Start.In(loc))
		first := civilDate(b.Start.In(loc))
		// End is the exclusive start of the following day
		last := civilDate(b.End.In(loc).AddDate(0, 0, -1))
		return date >= first && date <= last
	}
	return slot.Start.Before(b.End) && slot.End.After(b.Start)
}

// civilDate packs a wall-clock date into a comparable integer (yyyymmdd)
func civilDate(t time.Time) int {
	y, m, d := t.Date()
	return y*10000 + int(m)*100 + d
}
