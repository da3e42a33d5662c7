package series

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrStoreUnavailable is returned when the store cannot be reached or a query fails.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrStoreRejected is returned when the store refuses a write (schema or validation).
	ErrStoreRejected = errors.New("store rejected write")
	// ErrInvalidParameter is returned for bad query windows, buckets or filters.
	ErrInvalidParameter = errors.New("invalid parameter")
)

// Store is the time-series store contract consumed by the ingestion core.
// A Store is bound to a single measurement (e.g. weather, device metrics).
type Store interface {
	// Write appends a batch of readings. Writes are append-only.
	Write(ctx context.Context, batch []Reading) error
	// QueryLatest returns the most recent reading per entity.
	QueryLatest(ctx context.Context) ([]Reading, error)
	// QueryRange returns raw points, newest first.
	QueryRange(ctx context.Context, q RangeQuery) ([]Point, error)
	// QuerySummary returns per-entity statistics over [Start, Stop).
	QuerySummary(ctx context.Context, q SummaryQuery) ([]SummaryRecord, error)
	// QueryTrend returns per-entity bucket means over [Start, Stop).
	QueryTrend(ctx context.Context, q TrendQuery) ([]TrendPoint, error)

	Ping(ctx context.Context) error
	Close() error
}

// RangeQuery selects raw points of one field.
type RangeQuery struct {
	Field    string
	Entities []string // empty means all entities
	Start    time.Time
	Stop     time.Time
	Limit    int // <= 0 means unlimited
}

// SummaryQuery selects the field and window to summarize.
type SummaryQuery struct {
	Field    string
	Entities []string
	Start    time.Time
	Stop     time.Time
}

// TrendQuery selects the field, window and bucket width to downsample.
type TrendQuery struct {
	Field    string
	Entities []string
	Start    time.Time
	Stop     time.Time
	Bucket   time.Duration
}

// Point is a single stored value of one field.
type Point struct {
	EntityKey string    `json:"entity_key"`
	Field     string    `json:"field"`
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// SummaryRecord holds window statistics for one entity.
type SummaryRecord struct {
	EntityKey string    `json:"entity_key"`
	Field     string    `json:"field"`
	Start     time.Time `json:"start"`
	Stop      time.Time `json:"stop"`
	Count     int       `json:"count"`
	Min       float64   `json:"min"`
	Avg       float64   `json:"avg"`
	Max       float64   `json:"max"`
	First     float64   `json:"first"`
	Last      float64   `json:"last"`
}

// TrendPoint is the mean of one entity's values within one bucket.
type TrendPoint struct {
	EntityKey string    `json:"entity_key"`
	Timestamp time.Time `json:"timestamp"` // bucket start
	Value     float64   `json:"value"`
}

// Validate checks the window of a summary query.
func (q SummaryQuery) Validate() error {
	if q.Field == "" {
		return fmt.Errorf("%w: field is required", ErrInvalidParameter)
	}
	if !q.Stop.After(q.Start) {
		return fmt.Errorf("%w: stop must be after start", ErrInvalidParameter)
	}
	return nil
}

// Validate checks the window and bucket width of a trend query.
func (q TrendQuery) Validate() error {
	if err := (SummaryQuery{Field: q.Field, Start: q.Start, Stop: q.Stop}).Validate(); err != nil {
		return err
	}
	if q.Bucket <= 0 {
		return fmt.Errorf("%w: bucket width must be positive", ErrInvalidParameter)
	}
	if q.Bucket > q.Stop.Sub(q.Start) {
		return fmt.Errorf("%w: bucket width exceeds window", ErrInvalidParameter)
	}
	return nil
}
