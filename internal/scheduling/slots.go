package scheduling

import (
	"sort"
	"time"
)

const (
	// SlotStep is the spacing between candidate slot starts
	SlotStep = 30 * time.Minute
	// DefaultLeadTime is the minimum notice for a booking
	DefaultLeadTime = 30 * time.Minute
)

// Generator expands business hours into candidate slots for each allowed duration
type Generator struct {
	Hours     BusinessHours
	Durations []int
	LeadTime  time.Duration
}

// Generate enumerates free slots in w; weekends are skipped and busy intervals excluded
func (g Generator) Generate(w SearchWindow, pref Preference, busy []BusyInterval, now time.Time) []TimeSlot {
	loc := g.Hours.Location
	earliest := now.Add(g.LeadTime)
	periods := g.Hours.Periods(pref)

	first := w.Start.In(loc)
	last := w.End.In(loc)
	lastDate := civilDate(last)

	var out []TimeSlot
	for d := time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, loc); civilDate(d) <= lastDate; d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		y, m, dd := d.Date()
		for _, mins := range g.Durations {
			length := time.Duration(mins) * time.Minute
			for _, p := range periods {
				periodEnd := time.Date(y, m, dd, p.EndHour, 0, 0, 0, loc)
				for off := p.StartHour * 60; off+mins <= p.EndHour*60; off += int(SlotStep / time.Minute) {
					start := time.Date(y, m, dd, off/60, off%60, 0, 0, loc)
					end := start.Add(length)
					if end.After(periodEnd) {
						continue
					}
					if start.Before(earliest) || start.Before(w.Start) || !start.Before(w.End) {
						continue
					}
					slot := TimeSlot{Start: start, End: end, DurationMinutes: mins}
					if Available(slot, busy, loc) {
						out = append(out, slot)
					}
				}
			}
		}
	}
	return out
}

// SortSlots orders slots chronologically, shorter durations first on ties
func SortSlots(slots []TimeSlot) {
	sort.SliceStable(slots, func(i, j int) bool {
		if !slots[i].Start.Equal(slots[j].Start) {
			return slots[i].Start.Before(slots[j].Start)
		}
		return slots[i].DurationMinutes < slots[j].DurationMinutes
	})
}

// Contains reports whether slots has a slot with exactly start and end
func Contains(slots []TimeSlot, start, end time.Time) bool {
	for _, s := range slots {
		if s.Start.Equal(start) && s.End.Equal(end) {
			return true
		}
	}
	return false
}
