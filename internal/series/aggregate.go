package series

import (
	"sort"
	"time"
)

// Summarize folds points of a single field into per-entity statistics.
// Points may arrive in any order; first/last follow timestamp order.
// The result is sorted by entity key.
func Summarize(points []Point, field string, start, stop time.Time) []SummaryRecord {
	sorted := make([]Point, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].EntityKey != sorted[j].EntityKey {
			return sorted[i].EntityKey < sorted[j].EntityKey
		}
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	var (
		out []SummaryRecord
		cur *SummaryRecord
		sum float64
	)
	flush := func() {
		if cur == nil {
			return
		}
		cur.Avg = sum / float64(cur.Count)
		out = append(out, *cur)
	}

	for _, p := range sorted {
		if cur == nil || cur.EntityKey != p.EntityKey {
			flush()
			cur = &SummaryRecord{
				EntityKey: p.EntityKey,
				Field:     field,
				Start:     start,
				Stop:      stop,
				Min:       p.Value,
				Max:       p.Value,
				First:     p.Value,
			}
			sum = 0
		}
		cur.Count++
		sum += p.Value
		if p.Value < cur.Min {
			cur.Min = p.Value
		}
		if p.Value > cur.Max {
			cur.Max = p.Value
		}
		cur.Last = p.Value
	}
	flush()

	return out
}

// BucketStart returns the start of the bucket containing ts. Buckets are
// aligned to whole multiples of width since the Unix epoch.
func BucketStart(ts time.Time, width time.Duration) time.Time {
	ns := ts.UnixNano()
	w := int64(width)
	rem := ns % w
	if rem < 0 {
		rem += w
	}
	return time.Unix(0, ns-rem).UTC()
}

// Downsample averages points into fixed-width buckets per entity. Buckets
// without points are absent. The result is sorted by entity, then time.
func Downsample(points []Point, width time.Duration) []TrendPoint {
	type key struct {
		entity string
		bucket int64
	}
	type acc struct {
		sum   float64
		count int
	}

	buckets := make(map[key]*acc)
	for _, p := range points {
		k := key{entity: p.EntityKey, bucket: BucketStart(p.Timestamp, width).UnixNano()}
		a, ok := buckets[k]
		if !ok {
			a = &acc{}
			buckets[k] = a
		}
		a.sum += p.Value
		a.count++
	}

	out := make([]TrendPoint, 0, len(buckets))
	for k, a := range buckets {
		out = append(out, TrendPoint{
			EntityKey: k.entity,
			Timestamp: time.Unix(0, k.bucket).UTC(),
			Value:     a.sum / float64(a.count),
		})
	}
	SortTrend(out)
	return out
}

// SortTrend orders trend points by entity key, then bucket time.
func SortTrend(points []TrendPoint) {
	sort.Slice(points, func(i, j int) bool {
		if points[i].EntityKey != points[j].EntityKey {
			return points[i].EntityKey < points[j].EntityKey
		}
		return points[i].Timestamp.Before(points[j].Timestamp)
	})
}

// SortSummary orders summary records by entity key.
func SortSummary(records []SummaryRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].EntityKey < records[j].EntityKey
	})
}

// MatchEntity reports whether key passes an optional entity filter.
func MatchEntity(entities []string, key string) bool {
	if len(entities) == 0 {
		return true
	}
	for _, e := range entities {
		if e == key {
			return true
		}
	}
	return false
}
