package scheduling

import (
	"fmt"
	"time"
)

// MaxSlotsPerDay bounds the interactive picker
const MaxSlotsPerDay = 2

const displayLayout = "Monday, January 2 at 3:04 PM MST"

// Selection is the subset of candidates surfaced to the caller
type Selection struct {
	Slots      []TimeSlot
	Message    string
	ExactMatch bool
}

// FormatInstant renders t in loc for messages
func FormatInstant(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(displayLayout)
}

// SelectNearest returns only the earliest slot
func SelectNearest(slots []TimeSlot, hours BusinessHours) Selection {
	if len(slots) == 0 {
		return Selection{Message: "I couldn't find any open times in that window. Please try a different range or contact us directly."}
	}
	sorted := append([]TimeSlot(nil), slots...)
	SortSlots(sorted)
	first := sorted[0]
	return Selection{
		Slots:   []TimeSlot{first},
		Message: fmt.Sprintf("The next available time is %s.", FormatInstant(first.Start, hours.Location)),
	}
}

// SelectTimeMatched returns every slot whose business-local time of day equals target.
// With no match it falls back to the nearest slot.
func SelectTimeMatched(slots []TimeSlot, target ClockTime, hours BusinessHours, lookaheadDays int) Selection {
	var matched []TimeSlot
	for _, s := range slots {
		if target.Matches(s.Start.In(hours.Location)) {
			matched = append(matched, s)
		}
	}
	if len(matched) == 0 {
		nearest := SelectNearest(slots, hours)
		if len(nearest.Slots) == 0 {
			nearest.Message = fmt.Sprintf("I couldn't find %s or any other open time in the next %d days. Please contact us directly.",
				target.String(), lookaheadDays)
			return nearest
		}
		nearest.Message = fmt.Sprintf("%s isn't available in the next %d days. The earliest open time is %s.",
			target.String(), lookaheadDays, FormatInstant(nearest.Slots[0].Start, hours.Location))
		return nearest
	}
	SortSlots(matched)
	return Selection{
		Slots:      matched,
		ExactMatch: true,
		Message:    fmt.Sprintf("%s is available on %d upcoming occasions.", target.String(), len(matched)),
	}
}

// SelectInteractive keeps at most MaxSlotsPerDay slots per business-local date, earliest first
func SelectInteractive(slots []TimeSlot, hours BusinessHours) Selection {
	sorted := append([]TimeSlot(nil), slots...)
	SortSlots(sorted)

	perDay := make(map[int]int)
	var out []TimeSlot
	for _, s := range sorted {
		d := civilDate(s.Start.In(hours.Location))
		if perDay[d] >= MaxSlotsPerDay {
			continue
		}
		perDay[d]++
		out = append(out, s)
	}
	msg := fmt.Sprintf("Here are %d open times across %d days.", len(out), len(perDay))
	if len(out) == 0 {
		msg = "I couldn't find any open times in that window. Please try a different range or contact us directly."
	}
	return Selection{Slots: out, Message: msg}
}

// Select dispatches on the normalized mode
func Select(n Normalized, slots []TimeSlot, hours BusinessHours) Selection {
	switch {
	case n.Mode == ModeTimeMatched && n.Target != nil:
		return SelectTimeMatched(slots, *n.Target, hours, n.Window.LookaheadDays)
	case n.Mode == ModeInteractive:
		return SelectInteractive(slots, hours)
	default:
		return SelectNearest(slots, hours)
	}
}
