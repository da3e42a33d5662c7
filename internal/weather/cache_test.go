package weather

import (
	"fmt"
	"sync"
	"testing"
	"testing/quick"
	"time"

	"github.com/i474232898/weather-ingestion/internal/series"
)

func reading(key string, ts time.Time, temp float64) series.Reading {
	return series.NewReading(key, ts, map[string]float64{
		FieldAirTemperature:   temp,
		FieldRelativeHumidity: temp,
	}, nil)
}

func TestCacheStartsEmpty(t *testing.T) {
	c := NewCache()
	if c.Len() != 0 || len(c.Snapshot()) != 0 {
		t.Fatalf("expected empty cache")
	}
	if !c.UpdatedAt().IsZero() {
		t.Fatalf("expected zero UpdatedAt, got %s", c.UpdatedAt())
	}
}

func TestCacheUpdateIsMonotonic(t *testing.T) {
	c := NewCache()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if n := c.Update([]series.Reading{reading("Oslo", base, 1)}); n != 1 {
		t.Fatalf("expected 1 accepted, got %d", n)
	}
	if n := c.Update([]series.Reading{reading("Oslo", base.Add(-time.Minute), 2)}); n != 0 {
		t.Fatalf("older reading must be ignored, accepted %d", n)
	}
	if n := c.Update([]series.Reading{reading("Oslo", base, 3)}); n != 1 {
		t.Fatalf("equal timestamp must replace, accepted %d", n)
	}

	e, ok := c.Get("Oslo")
	if !ok {
		t.Fatalf("expected Oslo entry")
	}
	if v, _ := e.Reading.Field(FieldAirTemperature); v != 3 {
		t.Fatalf("expected temperature 3, got %v", v)
	}
}

func TestCacheSnapshotSortedAndDetached(t *testing.T) {
	c := NewCache()
	now := time.Now().UTC()
	c.Update([]series.Reading{reading("Oslo", now, 1), reading("Bergen", now, 2)})

	snap := c.Snapshot()
	if len(snap) != 2 || snap[0].Reading.EntityKey != "Bergen" || snap[1].Reading.EntityKey != "Oslo" {
		t.Fatalf("unexpected snapshot order: %+v", snap)
	}

	snap[0] = Entry{}
	if again := c.Snapshot(); again[0].Reading.EntityKey != "Bergen" {
		t.Fatalf("snapshot mutation leaked into cache")
	}
}

// The snapshot after a sequence of updates holds, per entity, the reading
// with the greatest timestamp.
func TestCacheKeepsNewestReadingProperty(t *testing.T) {
	base := time.Unix(1_700_000_000, 0).UTC()
	prop := func(offsets []uint16) bool {
		c := NewCache()
		var newest int64 = -1
		for _, off := range offsets {
			c.Update([]series.Reading{reading("Oslo", base.Add(time.Duration(off)*time.Second), float64(off))})
			if int64(off) > newest {
				newest = int64(off)
			}
		}
		e, ok := c.Get("Oslo")
		if newest < 0 {
			return !ok
		}
		v, _ := e.Reading.Field(FieldAirTemperature)
		return ok && int64(v) == newest && e.Reading.Timestamp.Equal(base.Add(time.Duration(newest)*time.Second))
	}
	if err := quick.Check(prop, nil); err != nil {
		t.Fatal(err)
	}
}

// tickingClock returns a strictly increasing instant on every call. Cache
// calls it under its writer lock.
func tickingClock() func() time.Time {
	t := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Millisecond)
		return t
	}
}

// checkSnapshot reports a torn entry, or an update instant that does not
// belong to the entries it was returned with.
func checkSnapshot(entries []Entry, updatedAt time.Time) error {
	var newest time.Time
	for _, e := range entries {
		a, _ := e.Reading.Field(FieldAirTemperature)
		h, _ := e.Reading.Field(FieldRelativeHumidity)
		if a != h {
			return fmt.Errorf("torn entry for %s: %v != %v", e.Reading.EntityKey, a, h)
		}
		if e.UpdatedAt.After(newest) {
			newest = e.UpdatedAt
		}
	}
	if len(entries) > 0 && !newest.Equal(updatedAt) {
		return fmt.Errorf("updated_at %s does not match newest entry %s", updatedAt, newest)
	}
	return nil
}

func TestCacheConcurrentSnapshotIsConsistent(t *testing.T) {
	c := NewCache()
	c.now = tickingClock()
	keys := []string{"Oslo", "Bergen", "Trondheim"}
	base := time.Now().UTC()

	var readers, writers sync.WaitGroup
	stop := make(chan struct{})
	errs := make(chan error, 1)

	for r := 0; r < 4; r++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if err := checkSnapshot(c.SnapshotAt()); err != nil {
					select {
					case errs <- err:
					default:
					}
					return
				}
			}
		}()
	}

	for w := 0; w < 3; w++ {
		writers.Add(1)
		go func(w int) {
			defer writers.Done()
			for i := 0; i < 1000; i++ {
				v := float64(w*1000 + i)
				batch := make([]series.Reading, 0, len(keys))
				for _, k := range keys {
					batch = append(batch, reading(k, base.Add(time.Duration(i)*time.Millisecond), v))
				}
				c.Update(batch)
			}
		}(w)
	}
	writers.Wait()
	close(stop)
	readers.Wait()

	select {
	case err := <-errs:
		t.Fatal(err)
	default:
	}
	if err := checkSnapshot(c.SnapshotAt()); err != nil {
		t.Fatal(err)
	}
	if c.Len() != len(keys) {
		t.Fatalf("expected %d entries, got %d", len(keys), c.Len())
	}
}
