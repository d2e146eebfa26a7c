package uuid_cache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/rbclean/src/failures"
	"github.com/google/uuid"
)

// IdentityRecord is one decoded uuid-cache value.
type IdentityRecord struct {
	Name   string
	UUID   uuid.UUID
	Expiry time.Time
}

// IsExpired reports whether now is strictly after the record's expiry.
func (r IdentityRecord) IsExpired(now time.Time) bool {
	return now.After(r.Expiry)
}

// wireRecord mirrors the JSON the proxy plugin stores under each hash field.
// Expiry is either a calendar object or epoch milliseconds.
type wireRecord struct {
	Name   string          `json:"name"`
	UUID   string          `json:"uuid"`
	Expiry json.RawMessage `json:"expiry"`
}

// wireCalendar is the field-wise calendar encoding. Month is zero-based.
type wireCalendar struct {
	Year       int `json:"year"`
	Month      int `json:"month"`
	DayOfMonth int `json:"dayOfMonth"`
	HourOfDay  int `json:"hourOfDay"`
	Minute     int `json:"minute"`
	Second     int `json:"second"`
}

// calendarFields is used on decode so missing date fields can be detected.
type calendarFields struct {
	Year       *int `json:"year"`
	Month      *int `json:"month"`
	DayOfMonth *int `json:"dayOfMonth"`
	HourOfDay  int  `json:"hourOfDay"`
	Minute     int  `json:"minute"`
	Second     int  `json:"second"`
}

type encodedRecord struct {
	Name   string       `json:"name"`
	UUID   string       `json:"uuid"`
	Expiry wireCalendar `json:"expiry"`
}

// DecodeError describes a cache value that could not be turned into an
// IdentityRecord. It matches failures.ErrDecode.
type DecodeError struct {
	Raw string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed cache record %q: %v", truncate(e.Raw, 64), e.Err)
}

func (e *DecodeError) Unwrap() []error {
	return []error{failures.ErrDecode, e.Err}
}

// Codec converts between raw cache values and IdentityRecords.
// Location is the zone calendar fields are interpreted in; nil means time.Local.
// The zero value is ready to use and safe for concurrent use.
type Codec struct {
	Location *time.Location
}

func (c Codec) location() *time.Location {
	if c.Location == nil {
		return time.Local
	}
	return c.Location
}

// Decode parses one raw cache value.
func (c Codec) Decode(raw string) (IdentityRecord, error) {
	var wire wireRecord
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return IdentityRecord{}, &DecodeError{Raw: raw, Err: err}
	}
	if wire.Name == "" {
		return IdentityRecord{}, &DecodeError{Raw: raw, Err: errors.New("missing name")}
	}
	if wire.UUID == "" {
		return IdentityRecord{}, &DecodeError{Raw: raw, Err: errors.New("missing uuid")}
	}
	id, err := uuid.Parse(wire.UUID)
	if err != nil {
		return IdentityRecord{}, &DecodeError{Raw: raw, Err: fmt.Errorf("invalid uuid: %w", err)}
	}
	expiry, err := c.decodeExpiry(wire.Expiry)
	if err != nil {
		return IdentityRecord{}, &DecodeError{Raw: raw, Err: err}
	}

	return IdentityRecord{Name: wire.Name, UUID: id, Expiry: expiry}, nil
}

func (c Codec) decodeExpiry(raw json.RawMessage) (time.Time, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return time.Time{}, errors.New("missing expiry")
	}

	if trimmed[0] != '{' {
		var millis int64
		if err := json.Unmarshal(trimmed, &millis); err != nil {
			return time.Time{}, fmt.Errorf("invalid expiry: %w", err)
		}
		return time.UnixMilli(millis).In(c.location()), nil
	}

	var cal calendarFields
	if err := json.Unmarshal(trimmed, &cal); err != nil {
		return time.Time{}, fmt.Errorf("invalid expiry: %w", err)
	}
	if cal.Year == nil || cal.Month == nil || cal.DayOfMonth == nil {
		return time.Time{}, errors.New("incomplete expiry calendar")
	}
	if *cal.Month < 0 || *cal.Month > 11 {
		return time.Time{}, fmt.Errorf("expiry month %d out of range", *cal.Month)
	}

	return time.Date(*cal.Year, time.Month(*cal.Month+1), *cal.DayOfMonth,
		cal.HourOfDay, cal.Minute, cal.Second, 0, c.location()), nil
}

// Encode renders rec in the calendar wire form. For a value already in that
// form, Encode(Decode(raw)) reproduces raw exactly, as long as the stored
// wall-clock time exists in the codec location. A time inside a DST gap is
// normalised to a real instant on decode, so it re-encodes with a different
// hour.
func (c Codec) Encode(rec IdentityRecord) (string, error) {
	if rec.Name == "" {
		return "", errors.New("encode record: missing name")
	}
	at := rec.Expiry.In(c.location())
	out, err := json.Marshal(encodedRecord{
		Name: rec.Name,
		UUID: rec.UUID.String(),
		Expiry: wireCalendar{
			Year:       at.Year(),
			Month:      int(at.Month()) - 1,
			DayOfMonth: at.Day(),
			HourOfDay:  at.Hour(),
			Minute:     at.Minute(),
			Second:     at.Second(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}
	return string(out), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
