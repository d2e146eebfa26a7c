// Package failures holds the error kinds shared by every stage of a sweep.
// Callers wrap one of the sentinels with fmt.Errorf("...: %w", ...) and
// match with errors.Is.
package failures

import (
	"errors"
	"fmt"
)

var (
	ErrConfig     = errors.New("invalid configuration")
	ErrConnection = errors.New("store connection failed")
	ErrBackup     = errors.New("backup failed")
	ErrDecode     = errors.New("malformed cache record")
	ErrMutation   = errors.New("cache mutation failed")
)

// Kind returns the sentinel err wraps, or nil when it wraps none of them.
func Kind(err error) error {
	for _, kind := range []error{ErrConfig, ErrConnection, ErrBackup, ErrDecode, ErrMutation} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// Recoverable reports whether err may be absorbed by the sweep instead of
// aborting it. Only per-entry decode failures qualify.
func Recoverable(err error) bool {
	return Kind(err) == ErrDecode
}

// Wrap annotates err with msg and guarantees the result matches kind.
// An err that already matches kind is not tagged a second time.
func Wrap(kind error, msg string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, kind) {
		return fmt.Errorf("%s: %w", msg, err)
	}
	return fmt.Errorf("%w: %s: %w", kind, msg, err)
}
