// Package availability derives bookable calendar slots from doctor
// availability blocks and existing appointments. Everything here is a pure
// function of its inputs; nothing is cached or persisted.
package availability

import (
	"fmt"
	"time"

	"github.com/hackgods/clinic-appointments/internal/appointment"
)

// SlotDuration is the fixed size of a bookable slot.
const SlotDuration = 30 * time.Minute

const slotMillis = appointment.Millis(SlotDuration / time.Millisecond)

type Slot struct {
	ID         string             `json:"id"`
	DoctorUID  string             `json:"doctorUid"`
	DoctorName string             `json:"doctorName"`
	Start      appointment.Millis `json:"start"`
	End        appointment.Millis `json:"end"`
	Available  bool               `json:"available"`
}

// SlotID is deterministic in doctor and start so the same slot keeps its id
// across recomputations.
func SlotID(doctorUID string, start appointment.Millis) string {
	return fmt.Sprintf("slot-%s-%d", doctorUID, start)
}

// Split partitions [block.Start, block.End) into consecutive 30 minute
// slots. A trailing remainder shorter than 30 minutes is kept as a shorter
// slot. A block with End <= Start yields nothing.
func Split(block appointment.AvailabilityBlock) []Slot {
	if block.End <= block.Start {
		return nil
	}

	n := int((block.End - block.Start + slotMillis - 1) / slotMillis)
	slots := make([]Slot, 0, n)
	for cur := block.Start; cur < block.End; cur += slotMillis {
		end := cur + slotMillis
		if end > block.End {
			end = block.End
		}
		slots = append(slots, Slot{
			ID:         SlotID(block.DoctorUID, cur),
			DoctorUID:  block.DoctorUID,
			DoctorName: block.DoctorName,
			Start:      cur,
			End:        end,
			Available:  true,
		})
	}
	return slots
}

// Blocks flattens grouped availability, filling each block's doctor uid from
// its group when the block carries none.
func Blocks(groups []appointment.DoctorAvailability) []appointment.AvailabilityBlock {
	var out []appointment.AvailabilityBlock
	for _, g := range groups {
		for _, b := range g.Blocks {
			if b.DoctorUID == "" {
				b.DoctorUID = g.DoctorUID
			}
			out = append(out, b)
		}
	}
	return out
}

// Bookable splits every block and drops the slots that overlap an
// appointment of the same doctor. Touching endpoints do not overlap.
func Bookable(blocks []appointment.AvailabilityBlock, appts []appointment.Appointment) []Slot {
	byDoctor := make(map[string][]appointment.Appointment)
	for _, a := range appts {
		byDoctor[a.DoctorUID] = append(byDoctor[a.DoctorUID], a)
	}

	var out []Slot
	for _, b := range blocks {
		for _, s := range Split(b) {
			if taken(s, byDoctor[s.DoctorUID]) {
				continue
			}
			out = append(out, s)
		}
	}
	return out
}

func taken(s Slot, appts []appointment.Appointment) bool {
	for _, a := range appts {
		if a.Overlaps(s.Start, s.End) {
			return true
		}
	}
	return false
}

// FutureOnly keeps the slots starting after now.
func FutureOnly(slots []Slot, now appointment.Millis) []Slot {
	out := make([]Slot, 0, len(slots))
	for _, s := range slots {
		if s.Start > now {
			out = append(out, s)
		}
	}
	return out
}
