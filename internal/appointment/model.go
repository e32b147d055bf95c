package appointment

import (
	"strings"
	"time"
)

// Millis is an absolute instant in epoch milliseconds. Every type in the core
// carries time this way; gateway timestamps are converted in codec.go.
type Millis int64

func MillisFromTime(t time.Time) Millis {
	return Millis(t.UnixMilli())
}

func (m Millis) Time() time.Time {
	return time.UnixMilli(int64(m)).UTC()
}

type Status string

const (
	StatusScheduled Status = "Scheduled"
	StatusConfirmed Status = "Confirmed"
	StatusCancelled Status = "Cancelled"
)

// ParseStatus accepts any casing ("scheduled", "CONFIRMED").
func ParseStatus(raw string) (Status, error) {
	for _, s := range []Status{StatusScheduled, StatusConfirmed, StatusCancelled} {
		if strings.EqualFold(raw, string(s)) {
			return s, nil
		}
	}
	return "", &ValidationError{Field: "status", Message: "must be one of Scheduled, Confirmed, Cancelled"}
}

var transitions = map[Status][]Status{
	StatusScheduled: {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCancelled},
}

// CanTransition reports whether status may move from -> to. Keeping the same
// status is always allowed.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Appointment struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	PatientName     string `json:"patientName"`
	DoctorName      string `json:"doctorName"`
	Start           Millis `json:"start"`
	End             Millis `json:"end"`
	Notes           string `json:"notes,omitempty"`
	Status          Status `json:"status"`
	DoctorUID       string `json:"doctorUid"`
	PatientUID      string `json:"patientUid"`
	AvailableSlotID string `json:"availableSlotId,omitempty"`
}

// Overlaps uses half-open intervals: touching endpoints do not overlap.
func (a Appointment) Overlaps(start, end Millis) bool {
	return start < a.End && end > a.Start
}

// NewAppointment carries the details submitted for a booking; the gateway
// assigns the id.
type NewAppointment struct {
	Title           string
	PatientName     string
	DoctorName      string
	Start           Millis
	End             Millis
	Notes           string
	Status          Status
	DoctorUID       string
	PatientUID      string
	AvailableSlotID string
}

func (n NewAppointment) withID(id string) Appointment {
	return Appointment{
		ID:              id,
		Title:           n.Title,
		PatientName:     n.PatientName,
		DoctorName:      n.DoctorName,
		Start:           n.Start,
		End:             n.End,
		Notes:           n.Notes,
		Status:          n.Status,
		DoctorUID:       n.DoctorUID,
		PatientUID:      n.PatientUID,
		AvailableSlotID: n.AvailableSlotID,
	}
}

func validateInterval(start, end Millis) error {
	if start <= 0 {
		return &ValidationError{Field: "start", Message: "is missing or not a valid instant"}
	}
	if end <= 0 {
		return &ValidationError{Field: "end", Message: "is missing or not a valid instant"}
	}
	if start >= end {
		return &ValidationError{Field: "end", Message: "must be after start"}
	}
	return nil
}

// AvailabilityBlock is an open window published by a doctor.
type AvailabilityBlock struct {
	DoctorUID  string `json:"doctorUid"`
	DoctorName string `json:"doctorName"`
	Start      Millis `json:"start"`
	End        Millis `json:"end"`
}

// DoctorAvailability groups the raw blocks of one doctor.
type DoctorAvailability struct {
	DoctorUID string              `json:"doctorUid"`
	Blocks    []AvailabilityBlock `json:"blocks"`
}
