package series

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestDownsampleAveragesWithinBucketAndSkipsGaps(t *testing.T) {
	base := time.Date(2026, 1, 30, 12, 0, 0, 0, time.UTC)
	points := []Point{
		{EntityKey: "Oslo", Timestamp: base, Value: 1},
		{EntityKey: "Oslo", Timestamp: base.Add(15 * time.Second), Value: 2},
		{EntityKey: "Oslo", Timestamp: base.Add(45 * time.Second), Value: 6},
		// Nothing between 12:01 and 12:02.
		{EntityKey: "Oslo", Timestamp: base.Add(2*time.Minute + 5*time.Second), Value: 10},
	}

	got := Downsample(points, time.Minute)
	if len(got) != 2 {
		t.Fatalf("expected 2 buckets, got %d: %+v", len(got), got)
	}
	if !got[0].Timestamp.Equal(base) || got[0].Value != 3 {
		t.Fatalf("unexpected first bucket: %+v", got[0])
	}
	if !got[1].Timestamp.Equal(base.Add(2*time.Minute)) || got[1].Value != 10 {
		t.Fatalf("unexpected second bucket: %+v", got[1])
	}
	for _, p := range got {
		if p.Timestamp.Equal(base.Add(time.Minute)) {
			t.Fatalf("empty bucket must be absent, got %+v", p)
		}
	}
}

func TestDownsampleSortsByEntityThenTime(t *testing.T) {
	base := time.Unix(600, 0).UTC()
	points := []Point{
		{EntityKey: "Oslo", Timestamp: base.Add(90 * time.Second), Value: 4},
		{EntityKey: "Bergen", Timestamp: base, Value: 1},
		{EntityKey: "Oslo", Timestamp: base, Value: 2},
	}

	got := Downsample(points, time.Minute)
	want := []string{"Bergen", "Oslo", "Oslo"}
	for i, p := range got {
		if p.EntityKey != want[i] {
			t.Fatalf("position %d: expected %s, got %s", i, want[i], p.EntityKey)
		}
	}
	if !got[1].Timestamp.Before(got[2].Timestamp) {
		t.Fatalf("expected ascending timestamps for Oslo: %+v", got)
	}
}

func TestBucketStartAlignsToEpoch(t *testing.T) {
	ts := time.Unix(1000, 500).UTC()
	got := BucketStart(ts, 7*time.Second)
	if got.Unix() != 994 {
		t.Fatalf("expected bucket start 994, got %d", got.Unix())
	}
}

func TestSummarizeComputesFirstAndLastByTime(t *testing.T) {
	start := time.Unix(0, 0).UTC()
	stop := start.Add(time.Hour)
	points := []Point{
		{EntityKey: "Oslo", Timestamp: start.Add(30 * time.Minute), Value: 30},
		{EntityKey: "Oslo", Timestamp: start.Add(10 * time.Minute), Value: 10},
		{EntityKey: "Oslo", Timestamp: start.Add(20 * time.Minute), Value: 20},
		{EntityKey: "Bergen", Timestamp: start.Add(5 * time.Minute), Value: -2},
	}

	got := Summarize(points, "air_temperature", start, stop)
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if got[0].EntityKey != "Bergen" || got[0].Count != 1 || got[0].Min != -2 || got[0].Last != -2 {
		t.Fatalf("unexpected Bergen record: %+v", got[0])
	}
	oslo := got[1]
	if oslo.Count != 3 || oslo.Min != 10 || oslo.Max != 30 || oslo.Avg != 20 {
		t.Fatalf("unexpected Oslo stats: %+v", oslo)
	}
	if oslo.First != 10 || oslo.Last != 30 {
		t.Fatalf("expected first=10 last=30, got first=%v last=%v", oslo.First, oslo.Last)
	}
}

func TestReadingIsImmutable(t *testing.T) {
	fields := map[string]float64{"air_temperature": 1}
	r := NewReading("Oslo", time.Now(), fields, nil)

	fields["air_temperature"] = 99
	r.Fields()["air_temperature"] = 42

	if v, _ := r.Field("air_temperature"); v != 1 {
		t.Fatalf("reading changed through an external map: %v", v)
	}
}

func TestValidateBatchRejectsBadReadings(t *testing.T) {
	now := time.Now()
	ok := map[string]float64{"x": 1}
	cases := map[string][]Reading{
		"empty key":  {NewReading("", now, ok, nil)},
		"no fields":  {NewReading("Oslo", now, nil, nil)},
		"nan field":  {NewReading("Oslo", now, map[string]float64{"x": math.NaN()}, nil)},
		"duplicates": {NewReading("Oslo", now, ok, nil), NewReading("Oslo", now, ok, nil)},
	}
	for name, batch := range cases {
		if err := ValidateBatch(batch); !errors.Is(err, ErrStoreRejected) {
			t.Errorf("%s: expected ErrStoreRejected, got %v", name, err)
		}
	}
}

func TestTrendQueryValidate(t *testing.T) {
	start := time.Unix(0, 0)
	q := TrendQuery{Field: "f", Start: start, Stop: start.Add(time.Minute), Bucket: 2 * time.Minute}
	if err := q.Validate(); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter for bucket > window, got %v", err)
	}
	q.Bucket = time.Minute
	if err := q.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
