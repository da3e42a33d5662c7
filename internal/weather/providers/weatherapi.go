package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/i474232898/weather-ingestion/internal/common"
	"github.com/i474232898/weather-ingestion/internal/series"
	"github.com/i474232898/weather-ingestion/internal/weather"
)

// WeatherAPIProvider implements the weather.Provider interface for WeatherAPI.com.
type WeatherAPIProvider struct {
	name    string
	apiKey  string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
	logger  *zap.SugaredLogger
	now     func() time.Time
}

func NewWeatherAPIProvider(cfg HTTPClientConfig, apiKey string, logger *zap.SugaredLogger) *WeatherAPIProvider {
	return &WeatherAPIProvider{
		name:    "weatherapi",
		apiKey:  apiKey,
		baseURL: "https://api.weatherapi.com/v1/current.json",
		httpCfg: cfg,
		circuit: newCircuitBreaker("weatherapi"),
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (p *WeatherAPIProvider) Name() string {
	return p.name
}

func (p *WeatherAPIProvider) Fetch(ctx context.Context, cities []weather.City) ([]series.Reading, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("%w: weatherapi api key is not configured", weather.ErrProviderUnavailable)
	}
	return fetchAll(ctx, p.name, cities, p.now(), p.logger, p.fetchCity)
}

func (p *WeatherAPIProvider) fetchCity(ctx context.Context, city weather.City, now time.Time) (series.Reading, error) {
	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("key", p.apiKey)
		// WeatherAPI uses "q" for location; it accepts "city,country" or "lat,lon".
		if city.HasCoordinates() {
			values.Set("q", fmt.Sprintf("%f,%f", *city.Lat, *city.Lon))
		} else {
			q := city.Name
			if city.Country != "" {
				q = fmt.Sprintf("%s,%s", city.Name, city.Country)
			}
			values.Set("q", q)
		}

		u := fmt.Sprintf("%s?%s", p.baseURL, values.Encode())
		return http.NewRequest(http.MethodGet, u, nil)
	}

	var payload struct {
		Current *struct {
			TempC      *float64 `json:"temp_c"`
			Humidity   *float64 `json:"humidity"`
			WindKph    *float64 `json:"wind_kph"`
			WindDegree *float64 `json:"wind_degree"`
			PressureMb *float64 `json:"pressure_mb"`
			PrecipMm   *float64 `json:"precip_mm"`
			Cloud      *float64 `json:"cloud"`
			Condition  struct {
				Text string `json:"text"`
			} `json:"condition"`
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
	setIf(fields, weather.FieldAirTemperature, c.TempC)
	setIf(fields, weather.FieldRelativeHumidity, c.Humidity)
	setIf(fields, weather.FieldAirPressureAtSeaLevel, c.PressureMb)
	setIf(fields, weather.FieldWindFromDirection, c.WindDegree)
	setIf(fields, weather.FieldCloudAreaFraction, c.Cloud)
	setIf(fields, weather.FieldPrecipitationAmount1h, c.PrecipMm)
	if c.WindKph != nil {
		// Convert wind from kph to m/s.
		fields[weather.FieldWindSpeed] = *c.WindKph / 3.6
	}

	tags := baseTags(city)
	if sym := mapWeatherAPISymbol(c.Condition.Text); sym != "" {
		tags[weather.TagSymbolCode] = sym
	}

	return series.NewReading(city.Key(), now, fields, tags), nil
}

func mapWeatherAPISymbol(text string) string {
	t := strings.ToLower(text)
	switch {
	case t == "":
		return ""
	case common.HasAny(t, "thunder", "storm"):
		return "rainandthunder"
	case common.HasAny(t, "snow", "sleet", "blizzard"):
		return "snow"
	case common.HasAny(t, "rain", "shower", "drizzle"):
		return "rain"
	case common.HasAny(t, "fog", "mist"):
		return "fog"
	case common.HasAny(t, "partly"):
		return "partlycloudy"
	case common.HasAny(t, "cloud", "overcast"):
		return "cloudy"
	case common.HasAny(t, "sunny", "clear"):
		return "clearsky"
	default:
		return ""
	}
}
