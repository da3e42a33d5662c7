package store

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	influxhttp "github.com/influxdata/influxdb-client-go/v2/api/http"
	"github.com/influxdata/influxdb-client-go/v2/api/query"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/i474232898/weather-ingestion/internal/series"
)

// InfluxConfig holds the InfluxDB v2 connection settings.
type InfluxConfig struct {
	URL     string
	Token   string
	Org     string
	Bucket  string
	Timeout time.Duration
}

// InfluxStore implements series.Store on InfluxDB v2. Each reading becomes one
// point: the entity key is stored under entityTag, reading tags as tags and
// reading fields as float fields.
type InfluxStore struct {
	client      influxdb2.Client
	writer      api.WriteAPIBlocking
	reader      api.QueryAPI
	bucket      string
	measurement string
	entityTag   string
	closeOnce   *sync.Once
}

// NewInfluxStore creates a store for measurement. Stores derived with
// Measurement share the client; closing any of them closes it.
func NewInfluxStore(cfg InfluxConfig, measurement, entityTag string) (*InfluxStore, error) {
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("influx: url, org and bucket are required")
	}
	opts := influxdb2.DefaultOptions()
	if cfg.Timeout > 0 {
		secs := uint((cfg.Timeout + time.Second - 1) / time.Second)
		opts = opts.SetHTTPRequestTimeout(secs)
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	return &InfluxStore{
		client:      client,
		writer:      client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		reader:      client.QueryAPI(cfg.Org),
		bucket:      cfg.Bucket,
		measurement: measurement,
		entityTag:   entityTag,
		closeOnce:   &sync.Once{},
	}, nil
}

// Measurement returns a store for another measurement on the same client.
func (s *InfluxStore) Measurement(measurement, entityTag string) *InfluxStore {
	c := *s
	c.measurement = measurement
	c.entityTag = entityTag
	return &c
}

func (s *InfluxStore) Write(ctx context.Context, batch []series.Reading) error {
	if err := series.ValidateBatch(batch); err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}

	points := make([]*write.Point, 0, len(batch))
	for _, r := range batch {
		tags := r.Tags()
		tags[s.entityTag] = r.EntityKey
		fields := make(map[string]interface{}, len(r.FieldNames()))
		for name, v := range r.Fields() {
			fields[name] = v
		}
		points = append(points, influxdb2.NewPoint(s.measurement, tags, fields, r.Timestamp))
	}

	if err := s.writer.WritePoint(ctx, points...); err != nil {
		return classifyInfluxWrite(err)
	}
	return nil
}

func (s *InfluxStore) QueryLatest(ctx context.Context) ([]series.Reading, error) {
	flux := fmt.Sprintf(`from(bucket: %s)
  |> range(start: 0)
  |> filter(fn: (r) => r["_measurement"] == %s)
  |> group(columns: [%s, "_field"])
  |> last()`,
		fluxString(s.bucket), fluxString(s.measurement), fluxString(s.entityTag))

	type pending struct {
		ts     time.Time
		fields map[string]float64
		tags   map[string]string
	}
	byKey := map[string]*pending{}

	err := s.query(ctx, flux, func(rec *query.FluxRecord) {
		key, _ := rec.ValueByKey(s.entityTag).(string)
		v, ok := toFloat(rec.Value())
		if key == "" || !ok {
			return
		}
		p, found := byKey[key]
		if !found {
			p = &pending{fields: map[string]float64{}, tags: recordTags(rec, s.entityTag)}
			byKey[key] = p
		}
		p.fields[rec.Field()] = v
		if rec.Time().After(p.ts) {
			p.ts = rec.Time()
		}
	})
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]series.Reading, 0, len(keys))
	for _, k := range keys {
		p := byKey[k]
		out = append(out, series.NewReading(k, p.ts, p.fields, p.tags))
	}
	return out, nil
}

func (s *InfluxStore) QueryRange(ctx context.Context, q series.RangeQuery) ([]series.Point, error) {
	flux := s.selectField(q.Field, q.Entities, q.Start, q.Stop) + `
  |> group()
  |> sort(columns: ["_time"], desc: true)`
	if q.Limit > 0 {
		flux += fmt.Sprintf(`
  |> limit(n: %d)`, q.Limit)
	}
	return s.points(ctx, q.Field, flux)
}

// QuerySummary folds raw points in Go so first and last follow time order
// regardless of how the server splits tables.
func (s *InfluxStore) QuerySummary(ctx context.Context, q series.SummaryQuery) ([]series.SummaryRecord, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	points, err := s.points(ctx, q.Field, s.selectField(q.Field, q.Entities, q.Start, q.Stop))
	if err != nil {
		return nil, err
	}
	return series.Summarize(points, q.Field, q.Start, q.Stop), nil
}

func (s *InfluxStore) QueryTrend(ctx context.Context, q series.TrendQuery) ([]series.TrendPoint, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	flux := s.selectField(q.Field, q.Entities, q.Start, q.Stop) + fmt.Sprintf(`
  |> group(columns: [%s])
  |> aggregateWindow(every: %dns, fn: mean, createEmpty: false, timeSrc: "_start")`,
		fluxString(s.entityTag), int64(q.Bucket))

	var out []series.TrendPoint
	err := s.query(ctx, flux, func(rec *query.FluxRecord) {
		key, _ := rec.ValueByKey(s.entityTag).(string)
		v, ok := toFloat(rec.Value())
		if key == "" || !ok {
			return
		}
		// The first window is clipped to the range start; realign it.
		out = append(out, series.TrendPoint{
			EntityKey: key,
			Timestamp: series.BucketStart(rec.Time(), q.Bucket),
			Value:     v,
		})
	})
	if err != nil {
		return nil, err
	}
	series.SortTrend(out)
	return out, nil
}

func (s *InfluxStore) Ping(ctx context.Context) error {
	ok, err := s.client.Ping(ctx)
	if err != nil {
		return unavailable(err)
	}
	if !ok {
		return fmt.Errorf("%w: influx ping failed", series.ErrStoreUnavailable)
	}
	return nil
}

func (s *InfluxStore) Close() error {
	s.closeOnce.Do(s.client.Close)
	return nil
}

// selectField builds the source, range and filter part shared by field queries.
func (s *InfluxStore) selectField(field string, entities []string, start, stop time.Time) string {
	flux := fmt.Sprintf(`from(bucket: %s)
  |> range(start: time(v: %s), stop: time(v: %s))
  |> filter(fn: (r) => r["_measurement"] == %s)
  |> filter(fn: (r) => r["_field"] == %s)`,
		fluxString(s.bucket),
		fluxString(start.UTC().Format(time.RFC3339Nano)),
		fluxString(stop.UTC().Format(time.RFC3339Nano)),
		fluxString(s.measurement),
		fluxString(field))

	if len(entities) > 0 {
		preds := make([]string, 0, len(entities))
		for _, e := range entities {
			preds = append(preds, fmt.Sprintf(`r[%s] == %s`, fluxString(s.entityTag), fluxString(e)))
		}
		flux += "\n  |> filter(fn: (r) => " + strings.Join(preds, " or ") + ")"
	}
	return flux
}

func (s *InfluxStore) points(ctx context.Context, field, flux string) ([]series.Point, error) {
	var out []series.Point
	err := s.query(ctx, flux, func(rec *query.FluxRecord) {
		key, _ := rec.ValueByKey(s.entityTag).(string)
		v, ok := toFloat(rec.Value())
		if key == "" || !ok {
			return
		}
		out = append(out, series.Point{EntityKey: key, Field: field, Timestamp: rec.Time().UTC(), Value: v})
	})
	return out, err
}

func (s *InfluxStore) query(ctx context.Context, flux string, each func(*query.FluxRecord)) error {
	result, err := s.reader.Query(ctx, flux)
	if err != nil {
		return unavailable(err)
	}
	defer result.Close()

	for result.Next() {
		each(result.Record())
	}
	if err := result.Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// fluxString quotes s as a Flux string literal.
func fluxString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, `${`, `\${`)
	return `"` + r.Replace(s) + `"`
}

// recordTags returns the string columns of a record that are tags, without
// the entity tag and the system columns.
func recordTags(rec *query.FluxRecord, entityTag string) map[string]string {
	tags := map[string]string{}
	for k, v := range rec.Values() {
		if k == entityTag || k == "result" || k == "table" || strings.HasPrefix(k, "_") {
			continue
		}
		if sv, ok := v.(string); ok {
			tags[k] = sv
		}
	}
	return tags
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// classifyInfluxWrite maps bad-request style responses to ErrStoreRejected and
// everything else to ErrStoreUnavailable.
func classifyInfluxWrite(err error) error {
	var herr *influxhttp.Error
	if errors.As(err, &herr) {
		switch herr.StatusCode {
		case http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusRequestEntityTooLarge:
			return fmt.Errorf("%w: %v", series.ErrStoreRejected, err)
		}
		return unavailable(err)
	}
	return unavailable(err)
}
