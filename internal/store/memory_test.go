package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/i474232898/weather-ingestion/internal/series"
)

func temp(key string, ts time.Time, v float64) series.Reading {
	return series.NewReading(key, ts, map[string]float64{"air_temperature": v}, map[string]string{"country": "NO"})
}

func TestMemoryStoreRetentionByCount(t *testing.T) {
	s := NewMemoryStore(2, 0)
	ctx := context.Background()
	base := time.Now().UTC()

	for i := 0; i < 4; i++ {
		if err := s.Write(ctx, []series.Reading{temp("Oslo", base.Add(time.Duration(i)*time.Second), float64(i))}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	points, err := s.QueryRange(ctx, series.RangeQuery{Field: "air_temperature", Start: base.Add(-time.Hour), Stop: base.Add(time.Hour)})
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(points) != 2 || points[0].Value != 3 || points[1].Value != 2 {
		t.Fatalf("expected the two newest readings, got %+v", points)
	}
}

func TestMemoryStoreRetentionByAge(t *testing.T) {
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	s := NewMemoryStore(0, time.Hour)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	if err := s.Write(ctx, []series.Reading{temp("Oslo", now.Add(-2*time.Hour), 1)}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.Write(ctx, []series.Reading{temp("Oslo", now, 2)}); err != nil {
		t.Fatalf("write: %v", err)
	}

	latest, _ := s.QueryLatest(ctx)
	points, _ := s.QueryRange(ctx, series.RangeQuery{Field: "air_temperature", Start: now.Add(-3 * time.Hour), Stop: now.Add(time.Second)})
	if len(points) != 1 || points[0].Value != 2 {
		t.Fatalf("expected expired reading to be dropped, got %+v", points)
	}
	if len(latest) != 1 {
		t.Fatalf("expected one latest reading, got %d", len(latest))
	}
}

func TestMemoryStoreLatestPerEntity(t *testing.T) {
	s := NewMemoryStore(0, 0)
	ctx := context.Background()
	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	_ = s.Write(ctx, []series.Reading{temp("Oslo", base.Add(time.Minute), 5), temp("Bergen", base, 7)})
	// Out-of-order append must not win.
	_ = s.Write(ctx, []series.Reading{temp("Oslo", base, 1)})

	latest, err := s.QueryLatest(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(latest) != 2 || latest[0].EntityKey != "Bergen" || latest[1].EntityKey != "Oslo" {
		t.Fatalf("unexpected latest: %+v", latest)
	}
	if v, _ := latest[1].Field("air_temperature"); v != 5 {
		t.Fatalf("expected newest Oslo value 5, got %v", v)
	}
	if latest[1].Tag("country") != "NO" {
		t.Fatalf("tags not preserved")
	}
}

func TestMemoryStoreRejectsInvalidBatch(t *testing.T) {
	s := NewMemoryStore(0, 0)
	err := s.Write(context.Background(), []series.Reading{temp("", time.Now(), 1)})
	if !errors.Is(err, series.ErrStoreRejected) {
		t.Fatalf("expected ErrStoreRejected, got %v", err)
	}
}

func TestMemoryStoreTrendAndSummary(t *testing.T) {
	s := NewMemoryStore(0, 0)
	ctx := context.Background()
	base := time.Date(2026, 1, 30, 12, 0, 0, 0, time.UTC)

	for i, off := range []time.Duration{0, 15 * time.Second, 45 * time.Second, 2 * time.Minute} {
		_ = s.Write(ctx, []series.Reading{temp("Oslo", base.Add(off), []float64{1, 2, 6, 10}[i])})
	}

	window := series.TrendQuery{Field: "air_temperature", Start: base, Stop: base.Add(3 * time.Minute), Bucket: time.Minute}
	trend, err := s.QueryTrend(ctx, window)
	if err != nil {
		t.Fatalf("trend: %v", err)
	}
	if len(trend) != 2 || trend[0].Value != 3 || trend[1].Value != 10 {
		t.Fatalf("unexpected trend: %+v", trend)
	}

	summary, err := s.QuerySummary(ctx, series.SummaryQuery{Field: "air_temperature", Start: base, Stop: base.Add(time.Minute)})
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if len(summary) != 1 || summary[0].Count != 3 || summary[0].First != 1 || summary[0].Last != 6 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	window.Bucket = 0
	if _, err := s.QueryTrend(ctx, window); !errors.Is(err, series.ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter, got %v", err)
	}
}

func TestOpenMemoryReturnsStorePerBinding(t *testing.T) {
	stores, err := Open(context.Background(), Config{Driver: DriverMemory},
		Binding{Measurement: "norwegian_weather", EntityTag: "city"},
		Binding{Measurement: "device_metrics", EntityTag: "device_id"},
	)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if len(stores) != 2 {
		t.Fatalf("expected 2 stores, got %d", len(stores))
	}

	ctx := context.Background()
	_ = stores[0].Write(ctx, []series.Reading{temp("Oslo", time.Now(), 1)})
	if latest, _ := stores[1].QueryLatest(ctx); len(latest) != 0 {
		t.Fatalf("measurements must be isolated, got %+v", latest)
	}

	if _, err := Open(context.Background(), Config{Driver: "cassandra"}, Binding{Measurement: "m"}); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}
