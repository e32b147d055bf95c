package appointment

import (
	"github.com/hackgods/clinic-appointments/internal/gateway"
)

// Stored shapes. Instants cross into and out of the gateway here and nowhere
// else.

type appointmentDoc struct {
	Title           string            `json:"title"`
	PatientName     string            `json:"patientName"`
	DoctorName      string            `json:"doctorName"`
	Start           gateway.Timestamp `json:"start"`
	End             gateway.Timestamp `json:"end"`
	Notes           string            `json:"notes"`
	Status          Status            `json:"status"`
	DoctorUID       string            `json:"doctorUid"`
	PatientUID      string            `json:"patientUid"`
	AvailableSlotID string            `json:"availableSlotId,omitempty"`
}

type blockDoc struct {
	DoctorName string            `json:"doctorName"`
	Start      gateway.Timestamp `json:"start"`
	End        gateway.Timestamp `json:"end"`
}

type availabilityDoc struct {
	DoctorUID string     `json:"doctorUid"`
	Slots     []blockDoc `json:"slots"`
}

func toTimestamp(m Millis) gateway.Timestamp {
	return gateway.TimestampFromMillis(int64(m))
}

func fromTimestamp(ts gateway.Timestamp) Millis {
	return Millis(ts.Millis())
}

func encodeAppointment(a Appointment) appointmentDoc {
	return appointmentDoc{
		Title:           a.Title,
		PatientName:     a.PatientName,
		DoctorName:      a.DoctorName,
		Start:           toTimestamp(a.Start),
		End:             toTimestamp(a.End),
		Notes:           a.Notes,
		Status:          a.Status,
		DoctorUID:       a.DoctorUID,
		PatientUID:      a.PatientUID,
		AvailableSlotID: a.AvailableSlotID,
	}
}

func decodeAppointment(doc gateway.Document) (Appointment, error) {
	var d appointmentDoc
	if err := doc.Decode(&d); err != nil {
		return Appointment{}, err
	}
	return Appointment{
		ID:              doc.ID,
		Title:           d.Title,
		PatientName:     d.PatientName,
		DoctorName:      d.DoctorName,
		Start:           fromTimestamp(d.Start),
		End:             fromTimestamp(d.End),
		Notes:           d.Notes,
		Status:          d.Status,
		DoctorUID:       d.DoctorUID,
		PatientUID:      d.PatientUID,
		AvailableSlotID: d.AvailableSlotID,
	}, nil
}

// appointmentPatch lists every mutable field so an update fully replaces the
// record contents while the id stays stable.
func appointmentPatch(a Appointment) map[string]any {
	return map[string]any{
		"title":           a.Title,
		"patientName":     a.PatientName,
		"doctorName":      a.DoctorName,
		"start":           toTimestamp(a.Start),
		"end":             toTimestamp(a.End),
		"notes":           a.Notes,
		"status":          a.Status,
		"doctorUid":       a.DoctorUID,
		"patientUid":      a.PatientUID,
		"availableSlotId": a.AvailableSlotID,
	}
}

func encodeAvailability(da DoctorAvailability) availabilityDoc {
	doc := availabilityDoc{DoctorUID: da.DoctorUID, Slots: make([]blockDoc, 0, len(da.Blocks))}
	for _, b := range da.Blocks {
		doc.Slots = append(doc.Slots, blockDoc{
			DoctorName: b.DoctorName,
			Start:      toTimestamp(b.Start),
			End:        toTimestamp(b.End),
		})
	}
	return doc
}

func decodeAvailability(doc gateway.Document) (DoctorAvailability, error) {
	var d availabilityDoc
	if err := doc.Decode(&d); err != nil {
		return DoctorAvailability{}, err
	}
	uid := d.DoctorUID
	if uid == "" {
		uid = doc.ID
	}
	da := DoctorAvailability{DoctorUID: uid, Blocks: make([]AvailabilityBlock, 0, len(d.Slots))}
	for _, s := range d.Slots {
		da.Blocks = append(da.Blocks, AvailabilityBlock{
			DoctorUID:  uid,
			DoctorName: s.DoctorName,
			Start:      fromTimestamp(s.Start),
			End:        fromTimestamp(s.End),
		})
	}
	return da, nil
}
