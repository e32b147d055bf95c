package gateway

import (
	"encoding/json"
	"fmt"
	"time"
)

// Timestamp is how instants are encoded inside stored documents. The rest of
// the core works with epoch milliseconds; conversion happens only here.
type Timestamp struct {
	Seconds int64 `json:"seconds"`
	Nanos   int32 `json:"nanos"`
}

// TimestampFromMillis encodes epoch milliseconds.
func TimestampFromMillis(ms int64) Timestamp {
	sec := ms / 1000
	rem := ms % 1000
	if rem < 0 {
		sec--
		rem += 1000
	}
	return Timestamp{Seconds: sec, Nanos: int32(rem) * int32(time.Millisecond)}
}

// TimestampFromTime encodes t, truncated to millisecond precision.
func TimestampFromTime(t time.Time) Timestamp {
	return TimestampFromMillis(t.UnixMilli())
}

// Millis decodes the timestamp to epoch milliseconds.
func (t Timestamp) Millis() int64 {
	return t.Seconds*1000 + int64(t.Nanos)/int64(time.Millisecond)
}

func (t Timestamp) Time() time.Time {
	return time.Unix(t.Seconds, int64(t.Nanos)).UTC()
}

func (t Timestamp) IsZero() bool {
	return t.Seconds == 0 && t.Nanos == 0
}

// UnmarshalJSON accepts the native object form and, for records written by
// older clients, a bare epoch-millisecond number.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var ms int64
	if err := json.Unmarshal(data, &ms); err == nil {
		*t = TimestampFromMillis(ms)
		return nil
	}

	type native Timestamp
	var n native
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decode timestamp: %w", err)
	}
	*t = Timestamp(n)
	return nil
}
