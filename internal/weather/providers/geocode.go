package providers

import (
	"fmt"

	"github.com/kelvins/geocoder"
	"go.uber.org/zap"

	"github.com/i474232898/weather-ingestion/internal/weather"
)

// GeocodeFunc resolves a city to coordinates.
type GeocodeFunc func(city, country string) (lat, lon float64, err error)

// GoogleGeocoder returns a GeocodeFunc backed by the Google Geocoding API.
// The key is stored globally by the geocoder package.
func GoogleGeocoder(apiKey string) GeocodeFunc {
	geocoder.ApiKey = apiKey
	return func(city, country string) (float64, float64, error) {
		loc, err := geocoder.Geocoding(geocoder.Address{City: city, Country: country})
		if err != nil {
			return 0, 0, fmt.Errorf("geocode %s,%s: %w", city, country, err)
		}
		return loc.Latitude, loc.Longitude, nil
	}
}

// ResolveCoordinates fills in missing latitude/longitude. Cities that cannot be
// resolved are kept as they are; providers that query by name still serve them.
func ResolveCoordinates(cities []weather.City, geocode GeocodeFunc, logger *zap.SugaredLogger) []weather.City {
	out := make([]weather.City, len(cities))
	for i, c := range cities {
		out[i] = c
		if c.HasCoordinates() || geocode == nil {
			continue
		}
		lat, lon, err := geocode(c.Name, c.Country)
		if err != nil {
			logger.Warnw("could not resolve city coordinates", "city", c.Name, "country", c.Country, "error", err)
			continue
		}
		out[i] = weather.NewCity(c.Name, c.Country, lat, lon)
		logger.Infow("resolved city coordinates", "city", c.Name, "lat", lat, "lon", lon)
	}
	return out
}
