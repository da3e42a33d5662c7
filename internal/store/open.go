package store

import (
	"context"
	"fmt"
	"time"

	"github.com/i474232898/weather-ingestion/internal/series"
)

// Supported backends.
const (
	DriverInflux   = "influx"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverMemory   = "memory"
)

// Config selects and configures the store backend.
type Config struct {
	Driver string
	DSN    string
	Influx InfluxConfig

	// In-memory retention.
	MaxHistory int
	MaxAge     time.Duration
}

// Binding names a measurement and the tag that carries its entity key.
type Binding struct {
	Measurement string
	EntityTag   string
}

// Open connects to the configured backend and returns one store per binding,
// in order. Stores returned together share one connection.
func Open(ctx context.Context, cfg Config, bindings ...Binding) ([]series.Store, error) {
	if len(bindings) == 0 {
		return nil, fmt.Errorf("store: at least one measurement is required")
	}
	first := bindings[0]
	out := make([]series.Store, 0, len(bindings))

	switch cfg.Driver {
	case DriverInflux:
		s, err := NewInfluxStore(cfg.Influx, first.Measurement, first.EntityTag)
		if err != nil {
			return nil, err
		}
		for _, b := range bindings {
			out = append(out, s.Measurement(b.Measurement, b.EntityTag))
		}
	case DriverSQLite, DriverPostgres, DriverMySQL:
		s, err := OpenSQL(ctx, cfg.Driver, cfg.DSN, first.Measurement)
		if err != nil {
			return nil, err
		}
		for _, b := range bindings {
			out = append(out, s.Measurement(b.Measurement))
		}
	case DriverMemory, "":
		for range bindings {
			out = append(out, NewMemoryStore(cfg.MaxHistory, cfg.MaxAge))
		}
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Driver)
	}
	return out, nil
}
