package uuid_cache

import (
	"errors"
	"testing"
	"time"

	"github.com/danmuck/rbclean/src/failures"
	"github.com/google/uuid"
)

const aliceRaw = `{"name":"alice","uuid":"2c1f2e8a-5b0e-4b5e-9a57-3e0f5d2b8c11","expiry":{"year":2016,"month":1,"dayOfMonth":26,"hourOfDay":13,"minute":5,"second":10}}`

func utcCodec() Codec {
	return Codec{Location: time.UTC}
}

func TestDecodeCalendarExpiry(t *testing.T) {
	rec, err := utcCodec().Decode(aliceRaw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if rec.Name != "alice" {
		t.Errorf("Name = %q, want alice", rec.Name)
	}
	if rec.UUID != uuid.MustParse("2c1f2e8a-5b0e-4b5e-9a57-3e0f5d2b8c11") {
		t.Errorf("UUID = %s", rec.UUID)
	}
	want := time.Date(2016, time.February, 26, 13, 5, 10, 0, time.UTC)
	if !rec.Expiry.Equal(want) {
		t.Errorf("Expiry = %s, want %s (month is zero-based on the wire)", rec.Expiry, want)
	}
}

func TestDecodeEpochMillisExpiry(t *testing.T) {
	raw := `{"name":"bob","uuid":"8f14e45f-ceea-467f-a9b5-7d2f1c0e4a21","expiry":1456491910000}`
	rec, err := utcCodec().Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := time.UnixMilli(1456491910000)
	if !rec.Expiry.Equal(want) {
		t.Fatalf("Expiry = %s, want %s", rec.Expiry, want)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "empty", raw: ""},
		{name: "not json", raw: "alice"},
		{name: "truncated", raw: `{"name":"alice","uuid":`},
		{name: "missing name", raw: `{"uuid":"2c1f2e8a-5b0e-4b5e-9a57-3e0f5d2b8c11","expiry":0}`},
		{name: "missing uuid", raw: `{"name":"alice","expiry":0}`},
		{name: "bad uuid", raw: `{"name":"alice","uuid":"nope","expiry":0}`},
		{name: "missing expiry", raw: `{"name":"alice","uuid":"2c1f2e8a-5b0e-4b5e-9a57-3e0f5d2b8c11"}`},
		{name: "null expiry", raw: `{"name":"alice","uuid":"2c1f2e8a-5b0e-4b5e-9a57-3e0f5d2b8c11","expiry":null}`},
		{name: "string expiry", raw: `{"name":"alice","uuid":"2c1f2e8a-5b0e-4b5e-9a57-3e0f5d2b8c11","expiry":"soon"}`},
		{name: "incomplete calendar", raw: `{"name":"alice","uuid":"2c1f2e8a-5b0e-4b5e-9a57-3e0f5d2b8c11","expiry":{"year":2016}}`},
		{name: "month out of range", raw: `{"name":"alice","uuid":"2c1f2e8a-5b0e-4b5e-9a57-3e0f5d2b8c11","expiry":{"year":2016,"month":12,"dayOfMonth":1}}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := utcCodec().Decode(tc.raw)
			if err == nil {
				t.Fatalf("Decode(%q) succeeded, want error", tc.raw)
			}
			if !errors.Is(err, failures.ErrDecode) {
				t.Fatalf("Decode(%q) error %v does not match ErrDecode", tc.raw, err)
			}
			var decodeErr *DecodeError
			if !errors.As(err, &decodeErr) || decodeErr.Raw != tc.raw {
				t.Fatalf("expected *DecodeError carrying the raw value, got %T", err)
			}
		})
	}
}

func TestEncodeRoundTripIsByteIdentical(t *testing.T) {
	raws := []string{
		aliceRaw,
		`{"name":"Notch","uuid":"069a79f4-44e9-4726-a5be-fca90e38aaf5","expiry":{"year":2026,"month":11,"dayOfMonth":31,"hourOfDay":23,"minute":59,"second":59}}`,
		`{"name":"x_y_z","uuid":"00000000-0000-0000-0000-000000000000","expiry":{"year":1999,"month":0,"dayOfMonth":1,"hourOfDay":0,"minute":0,"second":0}}`,
	}
	codec := utcCodec()
	for _, raw := range raws {
		rec, err := codec.Decode(raw)
		if err != nil {
			t.Fatalf("Decode(%q): %v", raw, err)
		}
		got, err := codec.Encode(rec)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		if got != raw {
			t.Fatalf("round trip mismatch:\n got %s\nwant %s", got, raw)
		}
	}
}

func TestEncodeUsesCodecLocation(t *testing.T) {
	zone := time.FixedZone("UTC+2", 2*60*60)
	rec := IdentityRecord{
		Name:   "carol",
		UUID:   uuid.MustParse("2c1f2e8a-5b0e-4b5e-9a57-3e0f5d2b8c11"),
		Expiry: time.Date(2020, time.March, 1, 22, 30, 0, 0, time.UTC),
	}
	raw, err := Codec{Location: zone}.Encode(rec)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	back, err := Codec{Location: zone}.Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !back.Expiry.Equal(rec.Expiry) {
		t.Fatalf("Expiry = %s, want %s", back.Expiry, rec.Expiry)
	}
}

func TestDecodeNormalisesTimeInDSTGap(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("zoneinfo unavailable: %v", err)
	}
	codec := Codec{Location: loc}
	// 02:30 on 2024-03-10 does not exist in New York
	raw := `{"name":"alice","uuid":"2c1f2e8a-5b0e-4b5e-9a57-3e0f5d2b8c11","expiry":{"year":2024,"month":2,"dayOfMonth":10,"hourOfDay":2,"minute":30,"second":0}}`

	rec, err := codec.Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if rec.Expiry.Hour() == 2 {
		t.Fatalf("expiry %s kept a wall-clock hour that does not exist", rec.Expiry)
	}
	again, err := codec.Encode(rec)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if again == raw {
		t.Fatal("a time in the DST gap cannot re-encode byte for byte")
	}
	back, err := codec.Decode(again)
	if err != nil {
		t.Fatalf("Decode(re-encoded): %v", err)
	}
	if !back.Expiry.Equal(rec.Expiry) {
		t.Fatalf("re-encoded expiry %s, want %s", back.Expiry, rec.Expiry)
	}
}

func TestEncodeRejectsMissingName(t *testing.T) {
	if _, err := utcCodec().Encode(IdentityRecord{}); err == nil {
		t.Fatal("expected error for record without name")
	}
}

func TestIsExpiredIsStrict(t *testing.T) {
	expiry := time.Date(2026, time.October, 19, 12, 0, 0, 0, time.UTC)
	rec := IdentityRecord{Name: "alice", Expiry: expiry}

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{name: "before expiry", now: expiry.Add(-time.Second), want: false},
		{name: "at expiry", now: expiry, want: false},
		{name: "after expiry", now: expiry.Add(time.Nanosecond), want: true},
		{name: "a day later", now: expiry.Add(24 * time.Hour), want: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := rec.IsExpired(tc.now); got != tc.want {
				t.Fatalf("IsExpired(%s) = %v, want %v", tc.now, got, tc.want)
			}
		})
	}
}
