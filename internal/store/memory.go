package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/i474232898/weather-ingestion/internal/series"
)

// ReadingHistory holds the readings of one entity in append order.
type ReadingHistory struct {
	Readings []series.Reading
}

// MemoryStore is a concurrency-safe in-memory implementation of series.Store.
// It keeps a bounded history per entity and is used for local runs and tests.
type MemoryStore struct {
	mu sync.RWMutex

	// key: entity key, value: history
	data map[string]*ReadingHistory

	// retention configuration
	maxHistory int           // max number of readings per entity
	maxAge     time.Duration // optional max age for readings

	now func() time.Time
}

// NewMemoryStore creates a new MemoryStore with optional limits.
// If maxHistory is <= 0, it is treated as unlimited.
func NewMemoryStore(maxHistory int, maxAge time.Duration) *MemoryStore {
	return &MemoryStore{
		data:       make(map[string]*ReadingHistory),
		maxHistory: maxHistory,
		maxAge:     maxAge,
		now:        time.Now,
	}
}

// Write appends the batch and enforces retention.
func (s *MemoryStore) Write(ctx context.Context, batch []series.Reading) error {
	if err := series.ValidateBatch(batch); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range batch {
		history, ok := s.data[r.EntityKey]
		if !ok {
			history = &ReadingHistory{}
			s.data[r.EntityKey] = history
		}
		history.Readings = append(history.Readings, r)
		s.enforceRetention(history)
	}
	return nil
}

func (s *MemoryStore) enforceRetention(history *ReadingHistory) {
	// Enforce retention by count.
	if s.maxHistory > 0 && len(history.Readings) > s.maxHistory {
		over := len(history.Readings) - s.maxHistory
		history.Readings = history.Readings[over:]
	}

	// Enforce retention by age.
	if s.maxAge > 0 {
		cutoff := s.now().Add(-s.maxAge)
		kept := history.Readings[:0]
		for _, r := range history.Readings {
			if !r.Timestamp.Before(cutoff) {
				kept = append(kept, r)
			}
		}
		history.Readings = kept
	}
}

// QueryLatest returns the newest reading of every entity, sorted by key.
func (s *MemoryStore) QueryLatest(ctx context.Context) ([]series.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]series.Reading, 0, len(s.data))
	for _, history := range s.data {
		if len(history.Readings) == 0 {
			continue
		}
		latest := history.Readings[0]
		for _, r := range history.Readings[1:] {
			if !r.Timestamp.Before(latest.Timestamp) {
				latest = r
			}
		}
		out = append(out, latest)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityKey < out[j].EntityKey })
	return out, nil
}

// QueryRange returns points newest first.
func (s *MemoryStore) QueryRange(ctx context.Context, q series.RangeQuery) ([]series.Point, error) {
	points := s.points(q.Field, q.Entities, q.Start, q.Stop)
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Timestamp.After(points[j].Timestamp)
	})
	if q.Limit > 0 && len(points) > q.Limit {
		points = points[:q.Limit]
	}
	return points, nil
}

// QuerySummary folds the window's points per entity.
func (s *MemoryStore) QuerySummary(ctx context.Context, q series.SummaryQuery) ([]series.SummaryRecord, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	points := s.points(q.Field, q.Entities, q.Start, q.Stop)
	return series.Summarize(points, q.Field, q.Start, q.Stop), nil
}

// QueryTrend downsamples the window's points per entity.
func (s *MemoryStore) QueryTrend(ctx context.Context, q series.TrendQuery) ([]series.TrendPoint, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	points := s.points(q.Field, q.Entities, q.Start, q.Stop)
	return series.Downsample(points, q.Bucket), nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

// points returns every value of field within [start, stop).
func (s *MemoryStore) points(field string, entities []string, start, stop time.Time) []series.Point {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []series.Point
	for key, history := range s.data {
		if !series.MatchEntity(entities, key) {
			continue
		}
		for _, r := range history.Readings {
			if r.Timestamp.Before(start) || !r.Timestamp.Before(stop) {
				continue
			}
			v, ok := r.Field(field)
			if !ok {
				continue
			}
			out = append(out, series.Point{EntityKey: key, Field: field, Timestamp: r.Timestamp, Value: v})
		}
	}
	return out
}
