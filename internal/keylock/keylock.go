// Package keylock provides mutual exclusion over sets of string keys.
package keylock

import (
	"sort"
	"sync"

	"github.com/moby/locker"
)

// Locker hands out one mutex per key. Entries are dropped once no goroutine
// holds or waits for them.
type Locker struct {
	names *locker.Locker
}

// New creates a Locker.
func New() *Locker {
	return &Locker{names: locker.New()}
}

// Lock acquires every key and returns the function releasing them.
// Keys are taken in sorted order so overlapping key sets cannot deadlock.
func (l *Locker) Lock(keys ...string) func() {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	sorted = dedupe(sorted)

	for _, k := range sorted {
		l.names.Lock(k)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			for i := len(sorted) - 1; i >= 0; i-- {
				// Only fails for a key that is not held.
				_ = l.names.Unlock(sorted[i])
			}
		})
	}
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, k := range sorted {
		if i == 0 || k != sorted[i-1] {
			out = append(out, k)
		}
	}
	return out
}
