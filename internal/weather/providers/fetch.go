package providers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/i474232898/weather-ingestion/internal/series"
	"github.com/i474232898/weather-ingestion/internal/weather"
)

// maxConcurrentCities bounds the number of in-flight upstream requests per cycle.
const maxConcurrentCities = 4

var errNoCoordinates = errors.New("city has no coordinates")

// cityFetcher retrieves the current reading for a single city.
type cityFetcher func(ctx context.Context, city weather.City, now time.Time) (series.Reading, error)

// fetchAll fans out one request per city and collects the readings in city
// order. Failed cities are logged and skipped; the call fails only when no city
// succeeded, with the per-city errors combined.
func fetchAll(ctx context.Context, name string, cities []weather.City, now time.Time, logger *zap.SugaredLogger, fetch cityFetcher) ([]series.Reading, error) {
	readings := make([]series.Reading, len(cities))
	errs := make([]error, len(cities))

	var g errgroup.Group
	g.SetLimit(maxConcurrentCities)
	for i, city := range cities {
		i, city := i, city
		g.Go(func() error {
			r, err := fetch(ctx, city, now)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", city.Key(), err)
				return nil
			}
			readings[i] = r
			return nil
		})
	}
	_ = g.Wait()

	out := make([]series.Reading, 0, len(cities))
	var combined error
	for i := range cities {
		if errs[i] != nil {
			combined = multierr.Append(combined, errs[i])
			continue
		}
		out = append(out, readings[i])
	}

	if len(out) == 0 && len(cities) > 0 {
		return nil, fmt.Errorf("%s: all cities failed: %w", name, combined)
	}
	if combined != nil && logger != nil {
		logger.Warnw("some cities failed to fetch",
			"provider", name,
			"failed", len(multierr.Errors(combined)),
			"error", combined,
		)
	}
	return out, nil
}

// baseFields returns the coordinate fields common to every provider reading.
func baseFields(city weather.City) map[string]float64 {
	fields := make(map[string]float64, 9)
	if city.HasCoordinates() {
		fields[weather.FieldLat] = *city.Lat
		fields[weather.FieldLon] = *city.Lon
	}
	return fields
}

// baseTags returns the dimension tags common to every provider reading.
func baseTags(city weather.City) map[string]string {
	tags := map[string]string{}
	if city.Country != "" {
		tags[weather.TagCountry] = city.Country
	}
	return tags
}

func setIf(fields map[string]float64, name string, v *float64) {
	if v != nil {
		fields[name] = *v
	}
}
