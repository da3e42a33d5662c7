package devices

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"time"

	"github.com/i474232898/weather-ingestion/internal/series"
)

const (
	MaxReadings  = 32
	DefaultLimit = 100
	MaxLimit     = 1000

	// DefaultWindow is used when a query leaves start or stop unset.
	DefaultWindow = time.Hour
)

var (
	deviceIDPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9:_-]{0,63}$`)
	metricPattern   = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9:_-]{0,63}$`)
)

// ValidDeviceID reports whether id is an acceptable device identifier.
func ValidDeviceID(id string) bool { return deviceIDPattern.MatchString(id) }

// ValidMetric reports whether name is an acceptable metric name.
func ValidMetric(name string) bool { return metricPattern.MatchString(name) }

// Measurement is one device report: several metric values at one instant.
type Measurement struct {
	DeviceID  string
	Timestamp time.Time // zero means now
	Readings  map[string]float64
}

// Window selects one metric of one device over [Start, Stop]. Zero bounds
// default to the last hour.
type Window struct {
	DeviceID string
	Metric   string
	Start    time.Time
	Stop     time.Time
}

// ListQuery is a Window with a result limit.
type ListQuery struct {
	Window
	Limit int // 0 means DefaultLimit
}

// Record is a single stored metric value.
type Record struct {
	DeviceID  string    `json:"device_id"`
	Metric    string    `json:"metric"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Summary holds statistics for one metric. Min, Max and Avg are nil when
// Count is zero.
type Summary struct {
	DeviceID string    `json:"device_id"`
	Metric   string    `json:"metric"`
	Start    time.Time `json:"start"`
	Stop     time.Time `json:"stop"`
	Count    int       `json:"count"`
	Min      *float64  `json:"min"`
	Max      *float64  `json:"max"`
	Avg      *float64  `json:"avg"`
}

// Service writes and queries device measurements.
type Service struct {
	store series.Store
	now   func() time.Time
}

func NewService(store series.Store) *Service {
	return &Service{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Write validates and stores a measurement and returns its timestamp.
func (s *Service) Write(ctx context.Context, m Measurement) (time.Time, error) {
	if !ValidDeviceID(m.DeviceID) {
		return time.Time{}, fmt.Errorf("%w: invalid device id %q", series.ErrInvalidParameter, m.DeviceID)
	}
	if len(m.Readings) == 0 || len(m.Readings) > MaxReadings {
		return time.Time{}, fmt.Errorf("%w: a measurement needs between 1 and %d readings", series.ErrInvalidParameter, MaxReadings)
	}
	for name, v := range m.Readings {
		if !ValidMetric(name) {
			return time.Time{}, fmt.Errorf("%w: invalid metric name %q", series.ErrInvalidParameter, name)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return time.Time{}, fmt.Errorf("%w: value for %q must be a finite number", series.ErrInvalidParameter, name)
		}
	}

	ts := m.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	ts = ts.UTC()

	if err := s.store.Write(ctx, []series.Reading{series.NewReading(m.DeviceID, ts, m.Readings, nil)}); err != nil {
		return time.Time{}, err
	}
	return ts, nil
}

// List returns the newest values of one metric, newest first.
func (s *Service) List(ctx context.Context, q ListQuery) ([]Record, error) {
	w, err := s.resolve(q.Window)
	if err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit == 0 {
		limit = DefaultLimit
	}
	if limit < 1 || limit > MaxLimit {
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", series.ErrInvalidParameter, MaxLimit)
	}

	points, err := s.store.QueryRange(ctx, series.RangeQuery{
		Field:    w.Metric,
		Entities: []string{w.DeviceID},
		Start:    w.Start,
		Stop:     exclusiveStop(w.Stop),
		Limit:    limit,
	})
	if err != nil {
		return nil, err
	}

	out := make([]Record, 0, len(points))
	for _, p := range points {
		out = append(out, Record{DeviceID: p.EntityKey, Metric: p.Field, Value: p.Value, Timestamp: p.Timestamp})
	}
	return out, nil
}

// Summary returns count, min, max and average of one metric over the window.
func (s *Service) Summary(ctx context.Context, w Window) (Summary, error) {
	w, err := s.resolve(w)
	if err != nil {
		return Summary{}, err
	}
	out := Summary{DeviceID: w.DeviceID, Metric: w.Metric, Start: w.Start, Stop: w.Stop}

	records, err := s.store.QuerySummary(ctx, series.SummaryQuery{
		Field:    w.Metric,
		Entities: []string{w.DeviceID},
		Start:    w.Start,
		Stop:     exclusiveStop(w.Stop),
	})
	if err != nil {
		return Summary{}, err
	}
	for _, r := range records {
		if r.EntityKey != w.DeviceID || r.Count == 0 {
			continue
		}
		lo, hi, mean := r.Min, r.Max, r.Avg
		out.Count = r.Count
		out.Min, out.Max, out.Avg = &lo, &hi, &mean
	}
	return out, nil
}

func (s *Service) resolve(w Window) (Window, error) {
	if !ValidDeviceID(w.DeviceID) {
		return w, fmt.Errorf("%w: invalid device id %q", series.ErrInvalidParameter, w.DeviceID)
	}
	if !ValidMetric(w.Metric) {
		return w, fmt.Errorf("%w: invalid metric name %q", series.ErrInvalidParameter, w.Metric)
	}
	now := s.now()
	if w.Stop.IsZero() {
		w.Stop = now
	}
	if w.Start.IsZero() {
		w.Start = now.Add(-DefaultWindow)
	}
	w.Start, w.Stop = w.Start.UTC(), w.Stop.UTC()
	if w.Start.After(w.Stop) {
		return w, fmt.Errorf("%w: start must not be after stop", series.ErrInvalidParameter)
	}
	return w, nil
}

// exclusiveStop turns the inclusive stop of a device window into the
// exclusive bound used by the store.
func exclusiveStop(stop time.Time) time.Time {
	return stop.Add(time.Nanosecond)
}
