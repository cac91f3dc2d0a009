// Package keylock provides exclusive per-key locks for stock critical sections.
package keylock

import (
	"context"
	"errors"
	"sort"
)

// ErrNotAcquired is returned when a key could not be locked before the context expired.
var ErrNotAcquired = errors.New("keylock: lock not acquired")

// Release frees a held lock. Calling it more than once is a no-op.
type Release func()

// Locker grants exclusive ownership of a single key.
type Locker interface {
	Acquire(ctx context.Context, key string) (Release, error)
}

// AcquireAll locks keys one at a time in ascending order so that concurrent
// multi-key callers cannot deadlock. On failure every key taken so far is
// released before returning.
func AcquireAll(ctx context.Context, locker Locker, keys []string) (Release, error) {
	ordered := Sorted(keys)
	held := make([]Release, 0, len(ordered))
	releaseAll := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i]()
		}
	}
	for _, key := range ordered {
		release, err := locker.Acquire(ctx, key)
		if err != nil {
			releaseAll()
			return nil, err
		}
		held = append(held, release)
	}
	return releaseAll, nil
}

// Sorted returns a de-duplicated, ascending copy of keys.
func Sorted(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

func notAcquired(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errors.Join(ErrNotAcquired, err)
	}
	return ErrNotAcquired
}
