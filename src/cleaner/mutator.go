package cleaner

import (
	"context"

	"github.com/danmuck/rbclean/src/failures"
	"github.com/danmuck/rbclean/src/store"
	"github.com/danmuck/rbclean/src/uuid_cache"
)

// SweepResult summarises what a sweep removed, or would remove.
type SweepResult struct {
	OriginalSize int
	ExpiredCount int
	DryRun       bool
}

// Retained is the number of entries left after the expired ones are removed.
func (r SweepResult) Retained() int {
	return r.OriginalSize - r.ExpiredCount
}

// Apply removes the expired keys from the remote hash at key.
//
// On a dry run the store is never touched. Otherwise the hash is replaced
// wholesale with snap minus expired: the key is deleted, then the retained
// fields are written back. Readers of the store can observe the key empty
// or partially written between those two steps.
func Apply(ctx context.Context, s store.HashStore, key string, snap uuid_cache.Snapshot, expired uuid_cache.KeySet, dryRun bool) (SweepResult, error) {
	result := SweepResult{OriginalSize: len(snap), DryRun: dryRun}
	for k := range expired {
		if _, ok := snap[k]; ok {
			result.ExpiredCount++
		}
	}
	if dryRun {
		return result, nil
	}

	if err := Replace(ctx, s, key, snap.Without(expired)); err != nil {
		return result, err
	}
	return result, nil
}

// Replace deletes key and writes fields in its place. An empty fields map
// leaves the key deleted, which is a valid final state. Errors match
// failures.ErrMutation.
func Replace(ctx context.Context, s store.HashStore, key string, fields uuid_cache.Snapshot) error {
	if err := s.Delete(ctx, key); err != nil {
		return failures.Wrap(failures.ErrMutation, "delete "+key, err)
	}
	if len(fields) == 0 {
		return nil
	}
	if err := s.BulkWrite(ctx, key, fields); err != nil {
		return failures.Wrap(failures.ErrMutation, "rewrite "+key+" after delete", err)
	}
	return nil
}
