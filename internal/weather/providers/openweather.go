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

// OpenWeatherProvider implements the weather.Provider interface for OpenWeatherMap.
type OpenWeatherProvider struct {
	name    string
	apiKey  string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
	logger  *zap.SugaredLogger
	now     func() time.Time
}

func NewOpenWeatherProvider(cfg HTTPClientConfig, apiKey string, logger *zap.SugaredLogger) *OpenWeatherProvider {
	return &OpenWeatherProvider{
		name:    "openweather",
		apiKey:  apiKey,
		baseURL: "https://api.openweathermap.org/data/2.5/weather",
		httpCfg: cfg,
		circuit: newCircuitBreaker("openweather"),
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (p *OpenWeatherProvider) Name() string {
	return p.name
}

func (p *OpenWeatherProvider) Fetch(ctx context.Context, cities []weather.City) ([]series.Reading, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("%w: openweather api key is not configured", weather.ErrProviderUnavailable)
	}
	return fetchAll(ctx, p.name, cities, p.now(), p.logger, p.fetchCity)
}

type openWeatherPayload struct {
	Main *struct {
		Temp     *float64 `json:"temp"`
		Humidity *float64 `json:"humidity"`
		Pressure *float64 `json:"pressure"`
		SeaLevel *float64 `json:"sea_level"`
	} `json:"main"`
	Wind struct {
		Speed *float64 `json:"speed"`
		Deg   *float64 `json:"deg"`
	} `json:"wind"`
	Clouds struct {
		All *float64 `json:"all"`
	} `json:"clouds"`
	Rain struct {
		OneH *float64 `json:"1h"`
	} `json:"rain"`
	Weather []struct {
		Main string `json:"main"`
	} `json:"weather"`
}

func (p *OpenWeatherProvider) fetchCity(ctx context.Context, city weather.City, now time.Time) (series.Reading, error) {
	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("appid", p.apiKey)
		values.Set("units", "metric")

		if city.HasCoordinates() {
			values.Set("lat", strconv.FormatFloat(*city.Lat, 'f', -1, 64))
			values.Set("lon", strconv.FormatFloat(*city.Lon, 'f', -1, 64))
		} else {
			// city,country
			q := city.Name
			if city.Country != "" {
				q = fmt.Sprintf("%s,%s", city.Name, city.Country)
			}
			values.Set("q", q)
		}

		u := fmt.Sprintf("%s?%s", p.baseURL, values.Encode())
		return http.NewRequest(http.MethodGet, u, nil)
	}

	var payload openWeatherPayload
	if err := getJSON(ctx, p.httpCfg, p.circuit, buildRequest, &payload); err != nil {
		return series.Reading{}, err
	}
	if payload.Main == nil {
		return series.Reading{}, fmt.Errorf("%w: response has no main block", weather.ErrProviderMalformed)
	}

	pressure := payload.Main.SeaLevel
	if pressure == nil {
		pressure = payload.Main.Pressure
	}

	fields := baseFields(city)
	setIf(fields, weather.FieldAirTemperature, payload.Main.Temp)
	setIf(fields, weather.FieldRelativeHumidity, payload.Main.Humidity)
	setIf(fields, weather.FieldAirPressureAtSeaLevel, pressure)
	setIf(fields, weather.FieldWindSpeed, payload.Wind.Speed)
	setIf(fields, weather.FieldWindFromDirection, payload.Wind.Deg)
	setIf(fields, weather.FieldCloudAreaFraction, payload.Clouds.All)
	setIf(fields, weather.FieldPrecipitationAmount1h, payload.Rain.OneH)

	tags := baseTags(city)
	if len(payload.Weather) > 0 {
		if sym := mapOpenWeatherSymbol(payload.Weather[0].Main); sym != "" {
			tags[weather.TagSymbolCode] = sym
		}
	}

	return series.NewReading(city.Key(), now, fields, tags), nil
}

func mapOpenWeatherSymbol(main string) string {
	switch main {
	case "Clear":
		return "clearsky"
	case "Clouds":
		return "cloudy"
	case "Rain", "Drizzle":
		return "rain"
	case "Snow":
		return "snow"
	case "Thunderstorm":
		return "rainandthunder"
	case "Mist", "Fog", "Haze":
		return "fog"
	default:
		return ""
	}
}
