package weather

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/i474232898/weather-ingestion/internal/series"
)

// table is an immutable view of the cache. A new table is built on every
// accepted update and published with a single pointer swap.
type table struct {
	byKey     map[string]Entry
	ordered   []Entry // sorted by entity key
	updatedAt time.Time
}

// Cache is the latest-state table read by request handlers. Reads are
// lock-free; writers serialize on mu and never mutate a published table.
// Entities are fixed by configuration, so there is no eviction.
type Cache struct {
	mu      sync.Mutex
	current *atomic.Pointer[table]
	now     func() time.Time
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{
		current: atomic.NewPointer(&table{byKey: map[string]Entry{}}),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Update folds a batch into the cache. A reading replaces the stored entry
// only if its timestamp is not older than the stored one; older readings are
// ignored. It returns the number of accepted readings.
func (c *Cache) Update(batch []series.Reading) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.current.Load()
	now := c.now()

	next := make(map[string]Entry, len(old.byKey)+len(batch))
	for k, e := range old.byKey {
		next[k] = e
	}

	accepted := 0
	for _, r := range batch {
		if prev, ok := next[r.EntityKey]; ok && r.Timestamp.Before(prev.Reading.Timestamp) {
			continue
		}
		next[r.EntityKey] = Entry{Reading: r, UpdatedAt: now}
		accepted++
	}
	if accepted == 0 {
		return 0
	}

	ordered := make([]Entry, 0, len(next))
	for _, e := range next {
		ordered = append(ordered, e)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Reading.EntityKey < ordered[j].Reading.EntityKey
	})

	c.current.Store(&table{byKey: next, ordered: ordered, updatedAt: now})
	return accepted
}

// Snapshot returns a point-in-time copy of all entries, sorted by entity key.
func (c *Cache) Snapshot() []Entry {
	t := c.current.Load()
	out := make([]Entry, len(t.ordered))
	copy(out, t.ordered)
	return out
}

// SnapshotAt is Snapshot together with the instant of the update that
// published those entries, both read from the same table.
func (c *Cache) SnapshotAt() ([]Entry, time.Time) {
	t := c.current.Load()
	out := make([]Entry, len(t.ordered))
	copy(out, t.ordered)
	return out, t.updatedAt
}

// Get returns the entry for a single entity.
func (c *Cache) Get(key string) (Entry, bool) {
	e, ok := c.current.Load().byKey[key]
	return e, ok
}

// Len returns the number of cached entities.
func (c *Cache) Len() int {
	return len(c.current.Load().ordered)
}

// UpdatedAt returns the instant of the last accepted update, zero if none.
func (c *Cache) UpdatedAt() time.Time {
	return c.current.Load().updatedAt
}
