package weather

import (
	"context"

	"github.com/i474232898/weather-ingestion/internal/series"
)

// Provider abstracts an upstream weather source (e.g. MET Norway, Open-Meteo).
// Fetch retrieves current readings for all cities in one cycle. It returns a
// non-empty batch when at least one city succeeded; otherwise an error wrapping
// ErrProviderUnavailable or ErrProviderMalformed.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, cities []City) ([]series.Reading, error)
}
