package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/i474232898/weather-ingestion/internal/series"
	"github.com/i474232898/weather-ingestion/internal/weather"
)

// OpenMeteoProvider implements the weather.Provider interface for Open-Meteo.
type OpenMeteoProvider struct {
	name    string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
	logger  *zap.SugaredLogger
	now     func() time.Time
}

func NewOpenMeteoProvider(cfg HTTPClientConfig, logger *zap.SugaredLogger) *OpenMeteoProvider {
	return &OpenMeteoProvider{
		name:    "openmeteo",
		baseURL: "https://api.open-meteo.com/v1/forecast",
		httpCfg: cfg,
		circuit: newCircuitBreaker("openmeteo"),
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (p *OpenMeteoProvider) Name() string {
	return p.name
}

func (p *OpenMeteoProvider) Fetch(ctx context.Context, cities []weather.City) ([]series.Reading, error) {
	return fetchAll(ctx, p.name, cities, p.now(), p.logger, p.fetchCity)
}

const openMeteoCurrent = "temperature_2m,relative_humidity_2m,pressure_msl,wind_speed_10m,wind_direction_10m,cloud_cover,precipitation,weather_code"

func (p *OpenMeteoProvider) fetchCity(ctx context.Context, city weather.City, now time.Time) (series.Reading, error) {
	if !city.HasCoordinates() {
		return series.Reading{}, fmt.Errorf("%w: %v", weather.ErrProviderUnavailable, errNoCoordinates)
	}

	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("latitude", strconv.FormatFloat(*city.Lat, 'f', -1, 64))
		values.Set("longitude", strconv.FormatFloat(*city.Lon, 'f', -1, 64))
		values.Set("current", openMeteoCurrent)
		values.Set("wind_speed_unit", "ms")

		u := fmt.Sprintf("%s?%s", p.baseURL, values.Encode())
		return http.NewRequest(http.MethodGet, u, nil)
	}

	var payload struct {
		Current *struct {
			Temperature      *float64 `json:"temperature_2m"`
			RelativeHumidity *float64 `json:"relative_humidity_2m"`
			PressureMSL      *float64 `json:"pressure_msl"`
			WindSpeed        *float64 `json:"wind_speed_10m"`
			WindDirection    *float64 `json:"wind_direction_10m"`
			CloudCover       *float64 `json:"cloud_cover"`
			Precipitation    *float64 `json:"precipitation"`
			WeatherCode      *int     `json:"weather_code"`
		} `json:"current"`
	}
	if err := getJSON(ctx, p.httpCfg, p.circuit, buildRequest, &payload); err != nil {
		return series.Reading{}, err
	}
	if payload.Current == nil {
		return series.Reading{}, fmt.Errorf("%w: response has no current block", weather.ErrProviderMalformed)
	}

	c := payload.Current
	fields := baseFields(city)
	setIf(fields, weather.FieldAirTemperature, c.Temperature)
	setIf(fields, weather.FieldRelativeHumidity, c.RelativeHumidity)
	setIf(fields, weather.FieldAirPressureAtSeaLevel, c.PressureMSL)
	setIf(fields, weather.FieldWindSpeed, c.WindSpeed)
	setIf(fields, weather.FieldWindFromDirection, c.WindDirection)
	setIf(fields, weather.FieldCloudAreaFraction, c.CloudCover)
	setIf(fields, weather.FieldPrecipitationAmount1h, c.Precipitation)

	tags := baseTags(city)
	if c.WeatherCode != nil {
		if sym := mapOpenMeteoSymbol(*c.WeatherCode); sym != "" {
			tags[weather.TagSymbolCode] = sym
		}
	}

	return series.NewReading(city.Key(), now, fields, tags), nil
}

// mapOpenMeteoSymbol maps WMO weather codes onto MET Norway style symbol codes
// (simplified).
func mapOpenMeteoSymbol(code int) string {
	switch {
	case code == 0:
		return "clearsky"
	case code == 1 || code == 2:
		return "partlycloudy"
	case code == 3:
		return "cloudy"
	case code == 45 || code == 48:
		return "fog"
	case (code >= 51 && code <= 67) || (code >= 80 && code <= 82):
		return "rain"
	case (code >= 71 && code <= 77) || code == 85 || code == 86:
		return "snow"
	case code >= 95:
		return "rainandthunder"
	default:
		return ""
	}
}
