// Package cleaner runs one expiry sweep against the remote uuid-cache:
// fetch, back up, evaluate, then replace.
//
// A sweep is a batch job. It assumes it is the only writer of the cache key
// for its whole run; two sweeps against the same key must not overlap.
package cleaner

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/danmuck/rbclean/src/backup"
	"github.com/danmuck/rbclean/src/failures"
	"github.com/danmuck/rbclean/src/store"
	"github.com/danmuck/rbclean/src/sweep"
	logs "github.com/danmuck/smplog"
	"github.com/dustin/go-humanize"
)

const DefaultKey = "uuid-cache"

// Options controls a sweep.
type Options struct {
	Key      string // hash key holding the cache; empty means DefaultKey
	DryRun   bool
	NoBackup bool
	Backup   backup.Writer
	Engine   sweep.Engine
	Now      func() time.Time
}

// Report is everything a sweep found and did.
type Report struct {
	SweepResult
	Key         string
	Malformed   int
	BackupPath  string
	BackupBytes int64
	StartedAt   time.Time
	Phases      []PhaseRecord
}

func (o Options) key() string {
	if o.Key == "" {
		return DefaultKey
	}
	return o.Key
}

func (o Options) now() time.Time {
	if o.Now == nil {
		return time.Now()
	}
	return o.Now()
}

// Run performs one sweep. Progress lines are written to out.
//
// The cutoff instant is read once, before anything else. If a backup is
// requested and cannot be written, Run returns before the store is mutated.
// The returned Report is filled in as far as the sweep got, so callers can
// name the backup when a mutation fails halfway.
func Run(ctx context.Context, s store.HashStore, opts Options, out io.Writer) (Report, error) {
	if out == nil {
		out = io.Discard
	}

	key := opts.key()
	now := opts.now()
	report := Report{Key: key, StartedAt: now}
	report.DryRun = opts.DryRun
	timer := &PhaseTimer{}

	stages := 4
	if opts.NoBackup {
		stages = 3
	}
	stage := 0
	next := func() int { stage++; return stage }

	beginPhase(out, timer, "fetch", "Fetching UUID cache...", next(), stages)
	snap, err := s.BulkRead(ctx, key)
	if timer.StopErr(err) != nil {
		report.Phases = timer.Phases()
		return report, failures.Wrap(failures.ErrConnection, "fetch "+key, err)
	}
	report.OriginalSize = len(snap)
	fmt.Fprintf(out, "Fetched %s from %q.\n", plural(len(snap), "record"), key)

	if !opts.NoBackup {
		name := opts.Backup.FileName(now)
		beginPhase(out, timer, "backup", "Creating backup (as "+name+")...", next(), stages)
		res, err := opts.Backup.Write(snap, now)
		if timer.StopErr(err) != nil {
			fmt.Fprintln(out, "Can't write backup of the UUID cache, will NOT proceed.")
			report.Phases = timer.Phases()
			return report, failures.Wrap(failures.ErrBackup, "back up "+key, err)
		}
		report.BackupPath = res.Path
		report.BackupBytes = res.Bytes
		fmt.Fprintf(out, "Backup written to %s (%s).\n", res.Path, humanize.Bytes(uint64(res.Bytes)))
	}

	beginPhase(out, timer, "sweep", "Cleaning out the bird cage (this may take a while...)", next(), stages)
	outcome := opts.Engine.Sweep(snap, now)
	timer.Stop(false)
	report.Malformed = len(outcome.Malformed)
	if report.Malformed > 0 {
		verb := "evicting"
		if opts.Engine.KeepMalformed {
			verb = "keeping"
		}
		logs.Warnf("%s could not be decoded; %s them", plural(report.Malformed, "record"), verb)
	}

	beginPhase(out, timer, "mutate", "Applying results...", next(), stages)
	if !opts.DryRun {
		fmt.Fprintf(out, "Expunging %s...\n", plural(len(outcome.Expired), "record"))
	}
	result, err := Apply(ctx, s, key, snap, outcome.Expired, opts.DryRun)
	report.SweepResult = result
	if timer.StopErr(err) != nil {
		report.Phases = timer.Phases()
		return report, err
	}

	if opts.DryRun {
		fmt.Fprintf(out, "%s would be expunged if a dry run was not conducted.\n", plural(result.ExpiredCount, "record"))
	} else {
		fmt.Fprintln(out, "Expunging complete.")
	}
	report.Phases = timer.Phases()
	return report, nil
}

// Restore replaces the remote hash with the content of a backup archive.
func Restore(ctx context.Context, s store.HashStore, key, path string, dryRun bool, out io.Writer) (int, error) {
	if out == nil {
		out = io.Discard
	}
	if key == "" {
		key = DefaultKey
	}

	snap, err := backup.Load(path)
	if err != nil {
		return 0, failures.Wrap(failures.ErrBackup, "load "+path, err)
	}
	if dryRun {
		fmt.Fprintf(out, "%s would be restored into %q from %s.\n", plural(len(snap), "record"), key, path)
		return len(snap), nil
	}

	fmt.Fprintf(out, "Restoring %s into %q from %s...\n", plural(len(snap), "record"), key, path)
	if err := Replace(ctx, s, key, snap); err != nil {
		return 0, err
	}
	fmt.Fprintln(out, "Restore complete.")
	return len(snap), nil
}

// WriteSummary prints the counts and phase timings of a finished sweep.
func WriteSummary(out io.Writer, report Report) {
	fmt.Fprintf(out, "\nSummary for %q\n", report.Key)
	fmt.Fprintf(out, "  original size: %d\n", report.OriginalSize)
	fmt.Fprintf(out, "  expired:       %d\n", report.ExpiredCount)
	fmt.Fprintf(out, "  retained:      %d\n", report.Retained())
	if report.Malformed > 0 {
		fmt.Fprintf(out, "  malformed:     %d\n", report.Malformed)
	}
	if report.BackupPath != "" {
		fmt.Fprintf(out, "  backup:        %s\n", report.BackupPath)
	}
	var total time.Duration
	for _, phase := range report.Phases {
		status := "ok"
		if phase.Err {
			status = "failed"
		}
		fmt.Fprintf(out, "  %-8s %10s  %s\n", phase.Name, phase.Elapsed.Round(time.Microsecond), status)
		total += phase.Elapsed
	}
	fmt.Fprintf(out, "  %-8s %10s\n", "total", total.Round(time.Microsecond))
}

func plural(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
