package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/segmentio/encoding/json"
	_ "modernc.org/sqlite"

	"github.com/i474232898/weather-ingestion/internal/series"
)

type dialect struct {
	name     string
	driver   string
	numbered bool // $1, $2 placeholders instead of ?
	schema   []string
}

var dialects = map[string]dialect{
	"sqlite": {
		name:   "sqlite",
		driver: "sqlite",
		schema: []string{createReadings(""), createReadingsIndex},
	},
	"postgres": {
		name:     "postgres",
		driver:   "pgx",
		numbered: true,
		schema:   []string{createReadings(""), createReadingsIndex},
	},
	"mysql": {
		name:   "mysql",
		driver: "mysql",
		schema: []string{createReadings(",\n\t\tINDEX readings_lookup (measurement, field, entity_key, ts)")},
	},
}

// One row per field value. ts is Unix nanoseconds so bucketing is plain
// integer arithmetic in every dialect.
func createReadings(extra string) string {
	return `CREATE TABLE IF NOT EXISTS readings (
		measurement VARCHAR(128) NOT NULL,
		entity_key VARCHAR(128) NOT NULL,
		ts BIGINT NOT NULL,
		field VARCHAR(128) NOT NULL,
		value DOUBLE PRECISION NOT NULL,
		tags TEXT NOT NULL` + extra + `
	)`
}

const createReadingsIndex = `CREATE INDEX IF NOT EXISTS readings_lookup ON readings (measurement, field, entity_key, ts)`

// SQLStore implements series.Store on a relational database. Stores for
// different measurements share one *sql.DB; closing any of them closes it.
type SQLStore struct {
	db          *sql.DB
	d           dialect
	measurement string
	closeOnce   *sync.Once
}

// OpenSQL connects to the database, applies the schema and returns a store
// bound to measurement. driver is one of sqlite, postgres or mysql.
func OpenSQL(ctx context.Context, driverName, dsn, measurement string) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%s: dsn is required", driverName)
	}
	d, ok := dialects[driverName]
	if !ok {
		return nil, fmt.Errorf("unsupported sql driver: %s", driverName)
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s connection: %w", driverName, err)
	}
	if d.name == "sqlite" {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxIdleConns(5)
		db.SetMaxOpenConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	s, err := NewSQLStore(db, driverName, measurement)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStore wraps an open database. The schema is not applied; see Migrate.
func NewSQLStore(db *sql.DB, driverName, measurement string) (*SQLStore, error) {
	d, ok := dialects[driverName]
	if !ok {
		return nil, fmt.Errorf("unsupported sql driver: %s", driverName)
	}
	return &SQLStore{db: db, d: d, measurement: measurement, closeOnce: &sync.Once{}}, nil
}

// Measurement returns a store for another measurement on the same database.
func (s *SQLStore) Measurement(measurement string) *SQLStore {
	c := *s
	c.measurement = measurement
	return &c
}

// Migrate creates the readings table and index if they do not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range s.d.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s migrate: %w", s.d.name, unavailable(err))
		}
	}
	return nil
}

func (s *SQLStore) Write(ctx context.Context, batch []series.Reading) (err error) {
	if err := series.ValidateBatch(batch); err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, s.rebind(
		`INSERT INTO readings (measurement, entity_key, ts, field, value, tags) VALUES (?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return classifyExec(err)
	}
	defer stmt.Close()

	for _, r := range batch {
		tags, mErr := json.Marshal(r.Tags())
		if mErr != nil {
			err = fmt.Errorf("%w: encode tags: %v", series.ErrStoreRejected, mErr)
			return err
		}
		ts := r.Timestamp.UnixNano()
		for _, name := range r.FieldNames() {
			v, _ := r.Field(name)
			if _, execErr := stmt.ExecContext(ctx, s.measurement, r.EntityKey, ts, name, v, string(tags)); execErr != nil {
				err = classifyExec(execErr)
				return err
			}
		}
	}

	if cErr := tx.Commit(); cErr != nil {
		err = unavailable(cErr)
		return err
	}
	return nil
}

func (s *SQLStore) QueryLatest(ctx context.Context) ([]series.Reading, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT r.entity_key, r.ts, r.field, r.value, r.tags
		FROM readings r
		JOIN (
			SELECT entity_key, MAX(ts) AS max_ts
			FROM readings
			WHERE measurement = ?
			GROUP BY entity_key
		) m ON r.entity_key = m.entity_key AND r.ts = m.max_ts
		WHERE r.measurement = ?
		ORDER BY r.entity_key, r.field`), s.measurement, s.measurement)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	type pending struct {
		key    string
		ts     int64
		fields map[string]float64
		tags   map[string]string
	}
	var (
		out []series.Reading
		cur *pending
	)
	flush := func() {
		if cur != nil {
			out = append(out, series.NewReading(cur.key, time.Unix(0, cur.ts), cur.fields, cur.tags))
		}
	}

	for rows.Next() {
		var (
			key, field, rawTags string
			ts                  int64
			value               float64
		)
		if err := rows.Scan(&key, &ts, &field, &value, &rawTags); err != nil {
			return nil, unavailable(err)
		}
		if cur == nil || cur.key != key {
			flush()
			cur = &pending{key: key, ts: ts, fields: map[string]float64{}}
			if rawTags != "" {
				if err := json.Unmarshal([]byte(rawTags), &cur.tags); err != nil {
					return nil, fmt.Errorf("%w: decode tags of %s: %v", series.ErrStoreUnavailable, key, err)
				}
			}
		}
		cur.fields[field] = value
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	flush()
	return out, nil
}

func (s *SQLStore) QueryRange(ctx context.Context, q series.RangeQuery) ([]series.Point, error) {
	where, args := s.window(q.Field, q.Entities, q.Start, q.Stop)
	query := `SELECT entity_key, ts, value FROM readings WHERE ` + where + ` ORDER BY ts DESC, entity_key`
	if q.Limit > 0 {
		query += ` LIMIT ` + strconv.Itoa(q.Limit)
	}
	return s.points(ctx, q.Field, query, args)
}

// QuerySummary reads the window's points and folds them per entity; first and
// last are not portable aggregates across the supported dialects.
func (s *SQLStore) QuerySummary(ctx context.Context, q series.SummaryQuery) ([]series.SummaryRecord, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	where, args := s.window(q.Field, q.Entities, q.Start, q.Stop)
	points, err := s.points(ctx, q.Field, `SELECT entity_key, ts, value FROM readings WHERE `+where+` ORDER BY entity_key, ts`, args)
	if err != nil {
		return nil, err
	}
	return series.Summarize(points, q.Field, q.Start, q.Stop), nil
}

func (s *SQLStore) QueryTrend(ctx context.Context, q series.TrendQuery) ([]series.TrendPoint, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	where, args := s.window(q.Field, q.Entities, q.Start, q.Stop)
	query := `SELECT entity_key, ts - (ts % ?) AS bucket, AVG(value)
		FROM readings
		WHERE ` + where + `
		GROUP BY entity_key, bucket
		ORDER BY entity_key, bucket`
	args = append([]interface{}{int64(q.Bucket)}, args...)

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var out []series.TrendPoint
	for rows.Next() {
		var (
			key    string
			bucket int64
			avg    float64
		)
		if err := rows.Scan(&key, &bucket, &avg); err != nil {
			return nil, unavailable(err)
		}
		out = append(out, series.TrendPoint{EntityKey: key, Timestamp: time.Unix(0, bucket).UTC(), Value: avg})
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	var err error
	s.closeOnce.Do(func() { err = s.db.Close() })
	return err
}

// window builds the shared WHERE clause for a field over [start, stop).
func (s *SQLStore) window(field string, entities []string, start, stop time.Time) (string, []interface{}) {
	clause := `measurement = ? AND field = ? AND ts >= ? AND ts < ?`
	args := []interface{}{s.measurement, field, start.UnixNano(), stop.UnixNano()}
	if len(entities) > 0 {
		clause += ` AND entity_key IN (?` + strings.Repeat(`, ?`, len(entities)-1) + `)`
		for _, e := range entities {
			args = append(args, e)
		}
	}
	return clause, args
}

func (s *SQLStore) points(ctx context.Context, field, query string, args []interface{}) ([]series.Point, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var out []series.Point
	for rows.Next() {
		var (
			key   string
			ts    int64
			value float64
		)
		if err := rows.Scan(&key, &ts, &value); err != nil {
			return nil, unavailable(err)
		}
		out = append(out, series.Point{EntityKey: key, Field: field, Timestamp: time.Unix(0, ts).UTC(), Value: value})
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}

// rebind rewrites ? placeholders for dialects with numbered parameters.
func (s *SQLStore) rebind(query string) string {
	if !s.d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", series.ErrStoreUnavailable, err)
}

// classifyExec separates connection problems from statements the database
// refused.
func classifyExec(err error) error {
	if isTransient(err) {
		return unavailable(err)
	}
	return fmt.Errorf("%w: %v", series.ErrStoreRejected, err)
}

func isTransient(err error) bool {
	var netErr net.Error
	return errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.As(err, &netErr)
}
