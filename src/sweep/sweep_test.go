package sweep

import (
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/danmuck/rbclean/src/uuid_cache"
	"github.com/google/uuid"
)

var sweepNow = time.Date(2026, time.October, 19, 12, 0, 0, 0, time.UTC)

var utc = uuid_cache.Codec{Location: time.UTC}

func encodeRecord(t *testing.T, name string, expiry time.Time) string {
	t.Helper()
	raw, err := utc.Encode(uuid_cache.IdentityRecord{
		Name:   name,
		UUID:   uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)),
		Expiry: expiry,
	})
	if err != nil {
		t.Fatalf("encode %s: %v", name, err)
	}
	return raw
}

// mixedSnapshot builds n entries cycling through expired, live and malformed values.
func mixedSnapshot(t *testing.T, n int) uuid_cache.Snapshot {
	t.Helper()
	snap := make(uuid_cache.Snapshot, n)
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("player_%04d", i)
		switch i % 3 {
		case 0:
			snap[name] = encodeRecord(t, name, sweepNow.Add(-time.Duration(i+1)*time.Minute))
		case 1:
			snap[name] = encodeRecord(t, name, sweepNow.Add(time.Duration(i+1)*time.Minute))
		default:
			snap[name] = "{not json"
		}
	}
	return snap
}

func TestSweepClassifiesEntries(t *testing.T) {
	snap := uuid_cache.Snapshot{
		"alice":   encodeRecord(t, "alice", sweepNow.Add(-24*time.Hour)),
		"bob":     encodeRecord(t, "bob", sweepNow.Add(24*time.Hour)),
		"carol":   "garbage",
		"dave":    encodeRecord(t, "dave", sweepNow),
		"eve":     `{"name":"eve","uuid":"nope","expiry":0}`,
		"frankie": encodeRecord(t, "frankie", sweepNow.Add(-time.Second)),
	}

	out := Engine{Codec: utc, Workers: 4}.Sweep(snap, sweepNow)

	wantExpired := []string{"alice", "carol", "eve", "frankie"}
	if got := out.Expired.Sorted(); !reflect.DeepEqual(got, wantExpired) {
		t.Fatalf("expired = %v, want %v", got, wantExpired)
	}
	if !reflect.DeepEqual(out.Malformed, []string{"carol", "eve"}) {
		t.Fatalf("malformed = %v", out.Malformed)
	}
	if len(snap) != 6 {
		t.Fatalf("snapshot modified by sweep: %d entries", len(snap))
	}
}

func TestSweepKeepMalformed(t *testing.T) {
	snap := uuid_cache.Snapshot{
		"alice": encodeRecord(t, "alice", sweepNow.Add(-time.Hour)),
		"carol": "garbage",
	}

	out := Engine{Codec: utc, Workers: 2, KeepMalformed: true}.Sweep(snap, sweepNow)

	if got := out.Expired.Sorted(); !reflect.DeepEqual(got, []string{"alice"}) {
		t.Fatalf("expired = %v, want only alice", got)
	}
	if !reflect.DeepEqual(out.Malformed, []string{"carol"}) {
		t.Fatalf("malformed = %v, want carol reported", out.Malformed)
	}
}

func TestSweepRecoversFromPanickingEntry(t *testing.T) {
	snap := uuid_cache.Snapshot{
		"alice": encodeRecord(t, "alice", sweepNow.Add(24*time.Hour)),
		"boom":  encodeRecord(t, "boom", sweepNow.Add(24*time.Hour)),
		"bob":   encodeRecord(t, "bob", sweepNow.Add(24*time.Hour)),
	}
	decode := func(raw string) (uuid_cache.IdentityRecord, error) {
		rec, err := utc.Decode(raw)
		if err == nil && rec.Name == "boom" {
			panic("corrupt calendar")
		}
		return rec, err
	}

	tests := []struct {
		name        string
		keep        bool
		wantExpired []string
	}{
		{name: "evict", keep: false, wantExpired: []string{"boom"}},
		{name: "keep", keep: true, wantExpired: []string{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := Engine{Codec: utc, Workers: 2, KeepMalformed: tc.keep, decode: decode}
			out := e.Sweep(snap, sweepNow)

			if got := out.Expired.Sorted(); !reflect.DeepEqual(got, tc.wantExpired) {
				t.Fatalf("expired = %v, want %v", got, tc.wantExpired)
			}
			if !reflect.DeepEqual(out.Malformed, []string{"boom"}) {
				t.Fatalf("malformed = %v, want boom reported", out.Malformed)
			}
		})
	}
}

func TestSweepIsDeterministicAcrossPoolSizes(t *testing.T) {
	snap := mixedSnapshot(t, 500)

	baseline := Engine{Codec: utc, Workers: 1}.Sweep(snap, sweepNow)
	if len(baseline.Expired) == 0 || len(baseline.Expired) > len(snap) {
		t.Fatalf("unexpected baseline size %d", len(baseline.Expired))
	}

	for _, workers := range []int{2, 8, 0, 64, 1000} {
		for round := 0; round < 3; round++ {
			got := Engine{Codec: utc, Workers: workers}.Sweep(snap, sweepNow)
			if !reflect.DeepEqual(got.Expired, baseline.Expired) {
				t.Fatalf("workers=%d round=%d: expired set differs from single worker result", workers, round)
			}
			if !reflect.DeepEqual(got.Malformed, baseline.Malformed) {
				t.Fatalf("workers=%d round=%d: malformed list differs", workers, round)
			}
		}
	}
}

func TestSweepEmptySnapshot(t *testing.T) {
	out := Engine{Codec: utc}.Sweep(uuid_cache.Snapshot{}, sweepNow)
	if len(out.Expired) != 0 || len(out.Malformed) != 0 {
		t.Fatalf("expected empty outcome, got %+v", out)
	}
}

func TestWorkerCount(t *testing.T) {
	tests := []struct {
		workers int
		entries int
		want    int
	}{
		{workers: 4, entries: 100, want: 4},
		{workers: 8, entries: 3, want: 3},
		{workers: 2, entries: 0, want: 1},
		{workers: 1, entries: 1, want: 1},
	}
	for _, tc := range tests {
		if got := (Engine{Workers: tc.workers}).workerCount(tc.entries); got != tc.want {
			t.Errorf("workerCount(workers=%d, entries=%d) = %d, want %d", tc.workers, tc.entries, got, tc.want)
		}
	}
	if got := (Engine{}).workerCount(1 << 20); got < 1 {
		t.Errorf("default worker count must be positive, got %d", got)
	}
}
