package availability

import (
	"sort"

	"github.com/hackgods/clinic-appointments/internal/appointment"
)

type EventKind string

const (
	KindAvailable EventKind = "available"
	KindBooked    EventKind = "booked"
)

// Window is the calendar range being viewed, half-open. A zero bound leaves
// that side open.
type Window struct {
	Start appointment.Millis
	End   appointment.Millis
}

func (w Window) contains(start, end appointment.Millis) bool {
	if w.End != 0 && start >= w.End {
		return false
	}
	if w.Start != 0 && end <= w.Start {
		return false
	}
	return true
}

// Event is one calendar entry: either a bookable slot or an existing
// appointment.
type Event struct {
	ID          string                   `json:"id"`
	Kind        EventKind                `json:"kind"`
	Title       string                   `json:"title"`
	DoctorUID   string                   `json:"doctorUid"`
	Start       appointment.Millis       `json:"start"`
	End         appointment.Millis       `json:"end"`
	Appointment *appointment.Appointment `json:"appointment,omitempty"`
}

// Events combines the bookable slots with the appointments themselves,
// keeping only entries that intersect the window, ordered by start then
// doctor.
func Events(blocks []appointment.AvailabilityBlock, appts []appointment.Appointment, window Window) []Event {
	var out []Event

	for _, s := range Bookable(blocks, appts) {
		if !window.contains(s.Start, s.End) {
			continue
		}
		out = append(out, Event{
			ID:        s.ID,
			Kind:      KindAvailable,
			Title:     s.DoctorName,
			DoctorUID: s.DoctorUID,
			Start:     s.Start,
			End:       s.End,
		})
	}

	for i := range appts {
		a := appts[i]
		if !window.contains(a.Start, a.End) {
			continue
		}
		title := a.DoctorName
		if title == "" {
			title = "Appointment"
		}
		out = append(out, Event{
			ID:          a.ID,
			Kind:        KindBooked,
			Title:       title,
			DoctorUID:   a.DoctorUID,
			Start:       a.Start,
			End:         a.End,
			Appointment: &a,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return out[i].DoctorUID < out[j].DoctorUID
	})
	return out
}
