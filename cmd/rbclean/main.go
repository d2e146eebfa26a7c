package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/danmuck/rbclean/cmd/internal/logcfg"
	"github.com/danmuck/rbclean/src/cleaner"
	"github.com/danmuck/rbclean/src/failures"
	"github.com/danmuck/rbclean/src/store"
	"github.com/danmuck/rbclean/src/sweep"
	"github.com/danmuck/rbclean/src/uuid_cache"
	logs "github.com/danmuck/smplog"
)

func main() {
	logs.Configure(logcfg.Load())

	cfg, err := loadRuntimeConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		printUsage(os.Stderr, defaultConfig())
		os.Exit(1)
	}
	if cfg.ShowHelp {
		printUsage(os.Stdout, cfg)
		return
	}

	if err := run(context.Background(), cfg, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg RuntimeConfig, out io.Writer) error {
	if cfg.ConfigPath != "" {
		logs.Debugf("loaded config from %s", cfg.ConfigPath)
	}

	loc, err := cfg.location()
	if err != nil {
		return err
	}

	opts := cfg.storeOptions()
	fmt.Fprintf(out, "Connecting to Redis at %s...\n", opts.Addr())
	rs, err := store.Dial(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rs.Close(); cerr != nil {
			logs.Warnf("close redis client: %v", cerr)
		}
	}()

	if cfg.RestorePath != "" {
		return restore(ctx, cfg, rs, out)
	}

	report, err := cleaner.Run(ctx, rs, cleaner.Options{
		Key:      cfg.Key,
		DryRun:   cfg.DryRun,
		NoBackup: cfg.NoBackup,
		Backup:   cfg.backupWriter(),
		Engine: sweep.Engine{
			Codec:         uuid_cache.Codec{Location: loc},
			Workers:       cfg.Workers,
			KeepMalformed: cfg.KeepMalformed,
		},
	}, out)
	if cfg.Verbose {
		cleaner.WriteSummary(out, report)
	}
	if err != nil {
		return explain(err, report, cfg)
	}
	return nil
}

func restore(ctx context.Context, cfg RuntimeConfig, s store.HashStore, out io.Writer) error {
	path := cfg.RestorePath
	if path == RestoreLatest {
		latest, err := cfg.backupWriter().Latest()
		if err != nil {
			return err
		}
		path = latest
	}
	_, err := cleaner.Restore(ctx, s, cfg.Key, path, cfg.DryRun, out)
	return err
}

// explain adds recovery guidance to a failed sweep.
func explain(err error, report cleaner.Report, cfg RuntimeConfig) error {
	if !errors.Is(err, failures.ErrMutation) {
		return err
	}
	if report.BackupPath == "" {
		return fmt.Errorf("%w\nthe %q hash may be deleted but not rewritten, and no backup was taken", err, report.Key)
	}
	return fmt.Errorf("%w\nthe %q hash may be deleted but not rewritten; recover with: %s",
		err, report.Key, restoreCommand(cfg, report.Key, report.BackupPath))
}

// restoreCommand builds an invocation that restores path into the same
// server, database and key the sweep ran against.
func restoreCommand(cfg RuntimeConfig, key, path string) string {
	args := []string{"rbclean", HOST_SHORT, cfg.Host}
	if cfg.Port != store.DefaultPort {
		args = append(args, PORT_SHORT, strconv.Itoa(cfg.Port))
	}
	if cfg.Password != "" {
		args = append(args, PASSWORD_SHORT, "PASSWORD")
	}
	if cfg.DB != 0 {
		args = append(args, DB_FLAG, strconv.Itoa(cfg.DB))
	}
	if key != cleaner.DefaultKey {
		args = append(args, KEY_FLAG, key)
	}
	return strings.Join(append(args, RESTORE_FLAG, path), " ")
}
