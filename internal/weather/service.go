package weather

import (
	"context"
	"fmt"
	"time"

	"github.com/i474232898/weather-ingestion/internal/series"
)

// Service is the read side used by request handlers: the cached latest view
// plus summary and trend analytics, which always go to the store.
type Service struct {
	store    series.Store
	cache    *Cache
	entities []string
	now      func() time.Time
}

// NewService creates a new Service over the given store and cache. Analytics
// are restricted to the configured cities.
func NewService(store series.Store, cache *Cache, cities []City) *Service {
	entities := make([]string, 0, len(cities))
	for _, c := range cities {
		entities = append(entities, c.Key())
	}
	return &Service{
		store:    store,
		cache:    cache,
		entities: entities,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Snapshot is the latest view served to readers.
type Snapshot struct {
	Entries   []Entry
	UpdatedAt time.Time
	Age       time.Duration
}

// SummaryRequest asks for statistics over a trailing window.
type SummaryRequest struct {
	Field  string
	Window time.Duration
}

// TrendRequest asks for a downsampled series over a trailing window.
type TrendRequest struct {
	Field  string
	Window time.Duration
	Bucket time.Duration
}

// Latest returns the cached readings. It returns ErrNoData until the cache has
// received its first reading, so readers never mistake absence for zero.
func (s *Service) Latest() (Snapshot, error) {
	entries, updated := s.cache.SnapshotAt()
	if len(entries) == 0 {
		return Snapshot{}, ErrNoData
	}
	return Snapshot{
		Entries:   entries,
		UpdatedAt: updated,
		Age:       s.now().Sub(updated),
	}, nil
}

// Summary returns per-city min/avg/max/first/last over the trailing window,
// sorted by city.
func (s *Service) Summary(ctx context.Context, req SummaryRequest) ([]series.SummaryRecord, error) {
	if req.Window <= 0 {
		return nil, fmt.Errorf("%w: window must be positive", series.ErrInvalidParameter)
	}
	if req.Field == "" {
		return nil, fmt.Errorf("%w: field is required", series.ErrInvalidParameter)
	}

	stop := s.now()
	records, err := s.store.QuerySummary(ctx, series.SummaryQuery{
		Field:    req.Field,
		Entities: s.entities,
		Start:    stop.Add(-req.Window),
		Stop:     stop,
	})
	if err != nil {
		return nil, err
	}
	series.SortSummary(records)
	return records, nil
}

// Trend returns per-city bucket means over the trailing window, sorted by
// city and then time. Buckets without data are absent.
func (s *Service) Trend(ctx context.Context, req TrendRequest) ([]series.TrendPoint, error) {
	if req.Window <= 0 {
		return nil, fmt.Errorf("%w: window must be positive", series.ErrInvalidParameter)
	}
	if req.Bucket <= 0 || req.Bucket > req.Window {
		return nil, fmt.Errorf("%w: bucket width must be positive and at most the window", series.ErrInvalidParameter)
	}
	if req.Field == "" {
		return nil, fmt.Errorf("%w: field is required", series.ErrInvalidParameter)
	}

	stop := s.now()
	points, err := s.store.QueryTrend(ctx, series.TrendQuery{
		Field:    req.Field,
		Entities: s.entities,
		Start:    stop.Add(-req.Window),
		Stop:     stop,
		Bucket:   req.Bucket,
	})
	if err != nil {
		return nil, err
	}
	series.SortTrend(points)
	return points, nil
}
