// Package backup archives a uuid-cache snapshot before it is mutated and
// reads such archives back for recovery.
package backup

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/danmuck/rbclean/src/failures"
	"github.com/danmuck/rbclean/src/uuid_cache"
)

const (
	DefaultPrefix = "uuid-cache-previous-"
	Extension     = ".json.gz"
	stampLayout   = "2006-01-02-15-04-05"
)

// Writer writes archives into Dir. An empty Dir means the working directory
// and an empty Prefix means DefaultPrefix.
type Writer struct {
	Dir    string
	Prefix string
}

// Result describes a published archive.
type Result struct {
	Path  string
	Bytes int64 // compressed size on disk
}

func (w Writer) prefix() string {
	if w.Prefix == "" {
		return DefaultPrefix
	}
	return w.Prefix
}

func (w Writer) dir() string {
	if w.Dir == "" {
		return "."
	}
	return w.Dir
}

// FileName returns the archive name for a backup taken at the given instant.
func (w Writer) FileName(at time.Time) string {
	return w.prefix() + at.Format(stampLayout) + Extension
}

// Write stores snap as a gzip-compressed JSON object of key to raw value.
// The archive is written to a temp file and linked into place only once it
// is complete, so a failed write never leaves a file under the final name.
// Every error matches failures.ErrBackup.
func (w Writer) Write(snap uuid_cache.Snapshot, at time.Time) (Result, error) {
	dir := w.dir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Result{}, fmt.Errorf("%w: create backup directory: %w", failures.ErrBackup, err)
	}

	finalPath := filepath.Join(dir, w.FileName(at))
	if _, err := os.Stat(finalPath); err == nil {
		return Result{}, fmt.Errorf("%w: %s already exists", failures.ErrBackup, finalPath)
	} else if !os.IsNotExist(err) {
		return Result{}, fmt.Errorf("%w: check %s: %w", failures.ErrBackup, finalPath, err)
	}

	tmpFile, err := os.CreateTemp(dir, w.prefix()+"*.tmp")
	if err != nil {
		return Result{}, fmt.Errorf("%w: create temp archive: %w", failures.ErrBackup, err)
	}
	tmpPath := tmpFile.Name()

	// once published the archive is a second link, so the temp name always goes
	defer func() { _ = os.Remove(tmpPath) }()

	gz := gzip.NewWriter(tmpFile)
	enc := json.NewEncoder(gz)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(map[string]string(snap)); err != nil {
		_ = tmpFile.Close()
		return Result{}, fmt.Errorf("%w: encode snapshot: %w", failures.ErrBackup, err)
	}
	if err := gz.Close(); err != nil {
		_ = tmpFile.Close()
		return Result{}, fmt.Errorf("%w: flush archive: %w", failures.ErrBackup, err)
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return Result{}, fmt.Errorf("%w: sync archive: %w", failures.ErrBackup, err)
	}
	info, err := tmpFile.Stat()
	if err != nil {
		_ = tmpFile.Close()
		return Result{}, fmt.Errorf("%w: stat archive: %w", failures.ErrBackup, err)
	}
	if err := tmpFile.Close(); err != nil {
		return Result{}, fmt.Errorf("%w: close archive: %w", failures.ErrBackup, err)
	}

	if err := publish(tmpPath, finalPath); err != nil {
		return Result{}, fmt.Errorf("%w: publish archive: %w", failures.ErrBackup, err)
	}

	return Result{Path: finalPath, Bytes: info.Size()}, nil
}

// publish hard-links tmpPath to finalPath. Unlike a rename, the link fails
// with fs.ErrExist when finalPath already exists, so an archive that appears
// after the existence check is never replaced.
func publish(tmpPath, finalPath string) error {
	return os.Link(tmpPath, finalPath)
}

// Load reads an archive written by Write.
func Load(path string) (uuid_cache.Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open backup: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("read backup %s: %w", path, err)
	}
	defer gz.Close()

	snap := make(uuid_cache.Snapshot)
	if err := json.NewDecoder(gz).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode backup %s: %w", path, err)
	}
	return snap, nil
}

// Latest returns the path of the newest archive in w.Dir.
func (w Writer) Latest() (string, error) {
	entries, err := os.ReadDir(w.dir())
	if err != nil {
		return "", fmt.Errorf("read backup directory: %w", err)
	}

	// the stamp layout sorts lexically in time order
	latest := ""
	for _, entry := range entries {
		if entry.IsDir() || !IsArchiveName(entry.Name(), w.prefix()) {
			continue
		}
		if entry.Name() > latest {
			latest = entry.Name()
		}
	}
	if latest == "" {
		return "", fmt.Errorf("no backups matching %s*%s in %s", w.prefix(), Extension, w.dir())
	}
	return filepath.Join(w.dir(), latest), nil
}

// IsArchiveName reports whether name looks like an archive produced with prefix.
func IsArchiveName(name, prefix string) bool {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, Extension) {
		return false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, prefix), Extension)
	_, err := time.Parse(stampLayout, stamp)
	return err == nil
}
