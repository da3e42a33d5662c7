package devices

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/i474232898/weather-ingestion/internal/series"
	"github.com/i474232898/weather-ingestion/internal/store"
)

func newTestService(now time.Time) *Service {
	s := NewService(store.NewMemoryStore(0, 0))
	s.now = func() time.Time { return now }
	return s
}

func TestWriteDefaultsTimestampToNow(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	s := newTestService(now)

	ts, err := s.Write(context.Background(), Measurement{DeviceID: "sensor-1", Readings: map[string]float64{"temp": 21.5}})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if !ts.Equal(now) {
		t.Fatalf("expected timestamp %s, got %s", now, ts)
	}
}

func TestWriteValidation(t *testing.T) {
	s := newTestService(time.Now().UTC())
	tooMany := map[string]float64{}
	for i := 0; i <= MaxReadings; i++ {
		tooMany[fmt.Sprintf("m%d", i)] = float64(i)
	}

	cases := map[string]Measurement{
		"empty device id":    {DeviceID: "", Readings: map[string]float64{"temp": 1}},
		"device id with dot": {DeviceID: "sensor.1", Readings: map[string]float64{"temp": 1}},
		"no readings":        {DeviceID: "sensor-1"},
		"too many readings":  {DeviceID: "sensor-1", Readings: tooMany},
		"metric digit first": {DeviceID: "sensor-1", Readings: map[string]float64{"1temp": 1}},
		"nan value":          {DeviceID: "sensor-1", Readings: map[string]float64{"temp": math.NaN()}},
		"infinite value":     {DeviceID: "sensor-1", Readings: map[string]float64{"temp": math.Inf(1)}},
	}
	for name, m := range cases {
		if _, err := s.Write(context.Background(), m); !errors.Is(err, series.ErrInvalidParameter) {
			t.Errorf("%s: expected ErrInvalidParameter, got %v", name, err)
		}
	}
}

func TestListNewestFirstWithLimit(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	s := newTestService(now)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ts := now.Add(-time.Duration(5-i) * time.Minute)
		if _, err := s.Write(ctx, Measurement{DeviceID: "sensor-1", Timestamp: ts, Readings: map[string]float64{"temp": float64(i)}}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	_, _ = s.Write(ctx, Measurement{DeviceID: "sensor-2", Timestamp: now, Readings: map[string]float64{"temp": 99}})

	records, err := s.List(ctx, ListQuery{Window: Window{DeviceID: "sensor-1", Metric: "temp"}, Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 2 || records[0].Value != 4 || records[1].Value != 3 {
		t.Fatalf("unexpected records: %+v", records)
	}
	if records[0].DeviceID != "sensor-1" || records[0].Metric != "temp" {
		t.Fatalf("unexpected record identity: %+v", records[0])
	}
}

func TestListRejectsBadWindowAndLimit(t *testing.T) {
	now := time.Now().UTC()
	s := newTestService(now)
	ctx := context.Background()

	_, err := s.List(ctx, ListQuery{Window: Window{DeviceID: "sensor-1", Metric: "temp", Start: now, Stop: now.Add(-time.Minute)}})
	if !errors.Is(err, series.ErrInvalidParameter) {
		t.Errorf("start after stop: expected ErrInvalidParameter, got %v", err)
	}
	for _, limit := range []int{-1, MaxLimit + 1} {
		_, err := s.List(ctx, ListQuery{Window: Window{DeviceID: "sensor-1", Metric: "temp"}, Limit: limit})
		if !errors.Is(err, series.ErrInvalidParameter) {
			t.Errorf("limit %d: expected ErrInvalidParameter, got %v", limit, err)
		}
	}
}

func TestSummary(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	s := newTestService(now)
	ctx := context.Background()

	for i, v := range []float64{2, 4, 9} {
		ts := now.Add(-time.Duration(i+1) * time.Minute)
		if _, err := s.Write(ctx, Measurement{DeviceID: "sensor-1", Timestamp: ts, Readings: map[string]float64{"temp": v}}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	sum, err := s.Summary(ctx, Window{DeviceID: "sensor-1", Metric: "temp"})
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.Count != 3 || *sum.Min != 2 || *sum.Max != 9 || *sum.Avg != 5 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if !sum.Stop.Equal(now) || !sum.Start.Equal(now.Add(-time.Hour)) {
		t.Fatalf("expected default last-hour window, got %s..%s", sum.Start, sum.Stop)
	}
}

func TestSummaryWithoutDataHasEmptyStats(t *testing.T) {
	s := newTestService(time.Now().UTC())

	sum, err := s.Summary(context.Background(), Window{DeviceID: "sensor-9", Metric: "temp"})
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.Count != 0 || sum.Min != nil || sum.Max != nil || sum.Avg != nil {
		t.Fatalf("expected empty stats, got %+v", sum)
	}
}

func TestSummaryIncludesStopInstant(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	s := newTestService(now)
	ctx := context.Background()

	_, _ = s.Write(ctx, Measurement{DeviceID: "sensor-1", Timestamp: now, Readings: map[string]float64{"temp": 1}})

	sum, err := s.Summary(ctx, Window{DeviceID: "sensor-1", Metric: "temp", Start: now, Stop: now})
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.Count != 1 {
		t.Fatalf("expected the reading at stop to be included, got %+v", sum)
	}
}
