package appointment

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-appointments/internal/gateway"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusScheduled, StatusConfirmed, true},
		{StatusScheduled, StatusCancelled, true},
		{StatusConfirmed, StatusCancelled, true},
		{StatusConfirmed, StatusConfirmed, true},
		{StatusConfirmed, StatusScheduled, false},
		{StatusCancelled, StatusScheduled, false},
		{StatusCancelled, StatusConfirmed, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("confirmed")
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, s)

	_, err = ParseStatus("postponed")
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestOverlapsIsHalfOpen(t *testing.T) {
	a := Appointment{Start: at(9, 0), End: at(9, 30)}

	assert.False(t, a.Overlaps(at(9, 30), at(10, 0)), "touching end")
	assert.False(t, a.Overlaps(at(8, 30), at(9, 0)), "touching start")
	assert.True(t, a.Overlaps(at(9, 15), at(9, 45)))
	assert.True(t, a.Overlaps(at(8, 0), at(11, 0)))
}

func TestCodec_TimestampsCrossBoundary(t *testing.T) {
	a := checkup().withID("")
	a.Status = StatusScheduled

	raw, err := json.Marshal(encodeAppointment(a))
	require.NoError(t, err)

	var stored map[string]any
	require.NoError(t, json.Unmarshal(raw, &stored))
	start, ok := stored["start"].(map[string]any)
	require.True(t, ok, "start is stored as a native timestamp")
	assert.EqualValues(t, int64(at(9, 0))/1000, start["seconds"])

	back, err := decodeAppointment(gateway.Document{ID: "a1", Data: raw})
	require.NoError(t, err)
	a.ID = "a1"
	assert.Equal(t, a, back)
}

func TestCodec_AcceptsLegacyMillis(t *testing.T) {
	raw := []byte(`{"title":"Legacy","start":1748854800000,"end":1748856600000,"status":"Confirmed"}`)

	a, err := decodeAppointment(gateway.Document{ID: "old", Data: raw})
	require.NoError(t, err)
	assert.Equal(t, Millis(1748854800000), a.Start)
	assert.Equal(t, Millis(1748856600000), a.End)
	assert.Equal(t, StatusConfirmed, a.Status)
}

func TestCodec_AvailabilityFallsBackToDocumentID(t *testing.T) {
	raw := []byte(`{"slots":[{"doctorName":"Dr. Grey","start":{"seconds":1748854800,"nanos":0},"end":{"seconds":1748858400,"nanos":0}}]}`)

	da, err := decodeAvailability(gateway.Document{ID: "doc-9", Data: raw})
	require.NoError(t, err)
	assert.Equal(t, "doc-9", da.DoctorUID)
	require.Len(t, da.Blocks, 1)
	assert.Equal(t, "doc-9", da.Blocks[0].DoctorUID)
	assert.Equal(t, Millis(1748858400000), da.Blocks[0].End)
}
