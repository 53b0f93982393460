package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// TimestampLayout is the wall-clock format used on the wire (no zone).
const TimestampLayout = "2006-01-02T15:04:05"

// Timestamp is a second-resolution point in time.
type Timestamp struct {
	time.Time
}

func NewTimestamp(t time.Time) Timestamp {
	if t.IsZero() {
		return Timestamp{}
	}
	return Timestamp{Time: t.Truncate(time.Second)}
}

// ParseTimestamp accepts the wire layout (interpreted in local time, with or
// without fractional seconds) and RFC 3339.
func ParseTimestamp(s string) (Timestamp, error) {
	if t, err := time.ParseInLocation(TimestampLayout, s, time.Local); err == nil {
		return NewTimestamp(t), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return Timestamp{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return NewTimestamp(t.Local()), nil
}

func (t Timestamp) String() string {
	if t.IsZero() {
		return ""
	}
	return t.Format(TimestampLayout)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(TimestampLayout))
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*t = Timestamp{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
