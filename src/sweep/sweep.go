// Package sweep decides which uuid-cache entries have expired.
//
// A sweep is a pure function of the snapshot and a single cutoff instant:
// entries are decoded and evaluated on a fixed pool of workers, and the
// caller gets the result only after every worker has finished.
package sweep

import (
	"fmt"
	"runtime"
	"time"

	"github.com/danmuck/rbclean/src/uuid_cache"
	logs "github.com/danmuck/smplog"
	"golang.org/x/sync/errgroup"
)

// Engine evaluates snapshots. The zero value runs one worker per CPU and
// evicts entries it cannot decode.
type Engine struct {
	Codec         uuid_cache.Codec
	Workers       int  // <= 0 means runtime.NumCPU()
	KeepMalformed bool // retain undecodable entries instead of evicting them

	decode func(raw string) (uuid_cache.IdentityRecord, error) // nil means Codec.Decode
}

// Outcome is the result of one sweep.
type Outcome struct {
	Expired   uuid_cache.KeySet
	Malformed []string // keys whose value could not be evaluated, sorted
}

type verdict uint8

const (
	verdictLive verdict = iota
	verdictExpired
	verdictMalformed
)

type evaluation struct {
	verdict verdict
	err     error
}

// Sweep returns the keys of snap whose record expired before now.
// Entries that fail to decode or evaluate are counted as expired unless
// KeepMalformed is set; they never abort the sweep.
func (e Engine) Sweep(snap uuid_cache.Snapshot, now time.Time) Outcome {
	keys := snap.Keys()
	values := make([]string, len(keys))
	for i, k := range keys {
		values[i] = snap[k]
	}

	results := make([]evaluation, len(keys))

	var g errgroup.Group
	g.SetLimit(e.workerCount(len(keys)))
	for i := range values {
		g.Go(func() error {
			results[i] = e.evaluate(values[i], now)
			return nil
		})
	}
	// join barrier; failures land in the result slots, not the group
	g.Wait()

	out := Outcome{Expired: make(uuid_cache.KeySet)}
	for i, res := range results {
		switch res.verdict {
		case verdictExpired:
			out.Expired[keys[i]] = struct{}{}
		case verdictMalformed:
			out.Malformed = append(out.Malformed, keys[i])
			logs.Debugf("sweep: entry %q: %v", keys[i], res.err)
			if !e.KeepMalformed {
				out.Expired[keys[i]] = struct{}{}
			}
		}
	}
	return out
}

func (e Engine) workerCount(entries int) int {
	n := e.Workers
	if n <= 0 {
		n = runtime.NumCPU()
	}
	if n > entries {
		n = entries
	}
	if n < 1 {
		n = 1
	}
	return n
}

func (e Engine) evaluate(raw string, now time.Time) (res evaluation) {
	defer func() {
		if r := recover(); r != nil {
			res = evaluation{verdict: verdictMalformed, err: fmt.Errorf("evaluation panicked: %v", r)}
		}
	}()

	decode := e.decode
	if decode == nil {
		decode = e.Codec.Decode
	}
	rec, err := decode(raw)
	if err != nil {
		return evaluation{verdict: verdictMalformed, err: err}
	}
	if rec.IsExpired(now) {
		return evaluation{verdict: verdictExpired}
	}
	return evaluation{verdict: verdictLive}
}
