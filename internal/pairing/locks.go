package pairing

import (
	"sort"
	"sync"
)

// entityLocks hands out one mutex per bot id. Entries are reference counted
// and dropped when the last holder releases them.
type entityLocks struct {
	mu    sync.Mutex
	locks map[string]*entityLock
}

type entityLock struct {
	mu   sync.Mutex
	refs int
}

func newEntityLocks() *entityLocks {
	return &entityLocks{locks: make(map[string]*entityLock)}
}

// lock acquires the locks for ids in sorted order, so two callers naming
// the same bots in opposite order cannot deadlock. The returned func
// releases them.
func (l *entityLocks) lock(ids ...string) func() {
	sorted := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			sorted = append(sorted, id)
		}
	}
	sort.Strings(sorted)

	held := make([]*entityLock, 0, len(sorted))
	for _, id := range sorted {
		l.mu.Lock()
		e, ok := l.locks[id]
		if !ok {
			e = &entityLock{}
			l.locks[id] = e
		}
		e.refs++
		l.mu.Unlock()

		e.mu.Lock()
		held = append(held, e)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
		}
		l.mu.Lock()
		for i, id := range sorted {
			held[i].refs--
			if held[i].refs == 0 {
				delete(l.locks, id)
			}
		}
		l.mu.Unlock()
	}
}
