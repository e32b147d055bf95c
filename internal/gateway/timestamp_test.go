package gateway

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimestamp_MillisRoundTrip(t *testing.T) {
	cases := []int64{
		0,
		1,
		999,
		1000,
		1_700_000_000_123,
		-1,
		-1001,
	}

	for _, ms := range cases {
		ts := TimestampFromMillis(ms)
		assert.Equal(t, ms, ts.Millis(), "millis %d", ms)
		assert.GreaterOrEqual(t, ts.Nanos, int32(0))
		assert.Less(t, ts.Nanos, int32(time.Second))
	}
}

func TestTimestamp_NegativeNormalised(t *testing.T) {
	ts := TimestampFromMillis(-1)
	assert.Equal(t, int64(-1), ts.Seconds)
	assert.Equal(t, int32(999_000_000), ts.Nanos)
}

func TestTimestamp_FromTime(t *testing.T) {
	at := time.Date(2025, 3, 14, 9, 30, 0, 123_456_789, time.UTC)
	ts := TimestampFromTime(at)

	assert.Equal(t, at.UnixMilli(), ts.Millis())
	assert.True(t, ts.Time().Equal(at.Truncate(time.Millisecond)))
}

func TestTimestamp_JSONEncoding(t *testing.T) {
	raw, err := json.Marshal(TimestampFromMillis(1_700_000_000_500))
	require.NoError(t, err)
	assert.JSONEq(t, `{"seconds":1700000000,"nanos":500000000}`, string(raw))

	var back Timestamp
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, int64(1_700_000_000_500), back.Millis())
	assert.False(t, back.IsZero())
}

func TestTimestamp_AcceptsBareMillis(t *testing.T) {
	var ts Timestamp
	require.NoError(t, json.Unmarshal([]byte(`1700000000250`), &ts))
	assert.Equal(t, int64(1_700_000_000_250), ts.Millis())

	require.Error(t, json.Unmarshal([]byte(`"yesterday"`), &ts))
}
