package providers

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/i474232898/weather-ingestion/internal/weather"
)

const (
	MetNo       = "metno"
	OpenMeteo   = "openmeteo"
	OpenWeather = "openweather"
	WeatherAPI  = "weatherapi"
)

// Keys holds the API keys of providers that need one.
type Keys struct {
	OpenWeather string
	WeatherAPI  string
}

// New returns the provider registered under name.
func New(name string, cfg HTTPClientConfig, keys Keys, logger *zap.SugaredLogger) (weather.Provider, error) {
	switch name {
	case MetNo, "":
		return NewMetNoProvider(cfg, logger), nil
	case OpenMeteo:
		return NewOpenMeteoProvider(cfg, logger), nil
	case OpenWeather:
		return NewOpenWeatherProvider(cfg, keys.OpenWeather, logger), nil
	case WeatherAPI:
		return NewWeatherAPIProvider(cfg, keys.WeatherAPI, logger), nil
	default:
		return nil, fmt.Errorf("unknown weather provider %q", name)
	}
}
