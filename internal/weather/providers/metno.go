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

// MetNoProvider implements the weather.Provider interface for the MET Norway
// Locationforecast API. It is the default provider and needs no API key, only
// an identifying User-Agent.
type MetNoProvider struct {
	name    string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
	logger  *zap.SugaredLogger
	now     func() time.Time
}

func NewMetNoProvider(cfg HTTPClientConfig, logger *zap.SugaredLogger) *MetNoProvider {
	return &MetNoProvider{
		name:    "metno",
		baseURL: "https://api.met.no/weatherapi/locationforecast/2.0/compact",
		httpCfg: cfg,
		circuit: newCircuitBreaker("metno"),
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (p *MetNoProvider) Name() string {
	return p.name
}

func (p *MetNoProvider) Fetch(ctx context.Context, cities []weather.City) ([]series.Reading, error) {
	return fetchAll(ctx, p.name, cities, p.now(), p.logger, p.fetchCity)
}

type metNoDetails struct {
	AirTemperature        *float64 `json:"air_temperature"`
	RelativeHumidity      *float64 `json:"relative_humidity"`
	AirPressureAtSeaLevel *float64 `json:"air_pressure_at_sea_level"`
	WindSpeed             *float64 `json:"wind_speed"`
	WindFromDirection     *float64 `json:"wind_from_direction"`
	CloudAreaFraction     *float64 `json:"cloud_area_fraction"`
	PrecipitationAmount   *float64 `json:"precipitation_amount"`
}

type metNoPayload struct {
	Properties struct {
		Timeseries []struct {
			Time string `json:"time"`
			Data struct {
				Instant struct {
					Details metNoDetails `json:"details"`
				} `json:"instant"`
				Next1Hours *struct {
					Summary struct {
						SymbolCode string `json:"symbol_code"`
					} `json:"summary"`
					Details metNoDetails `json:"details"`
				} `json:"next_1_hours"`
			} `json:"data"`
		} `json:"timeseries"`
	} `json:"properties"`
}

func (p *MetNoProvider) fetchCity(ctx context.Context, city weather.City, now time.Time) (series.Reading, error) {
	if !city.HasCoordinates() {
		return series.Reading{}, fmt.Errorf("%w: %v", weather.ErrProviderUnavailable, errNoCoordinates)
	}

	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		// MET Norway asks for at most four decimals.
		values.Set("lat", strconv.FormatFloat(*city.Lat, 'f', 4, 64))
		values.Set("lon", strconv.FormatFloat(*city.Lon, 'f', 4, 64))

		u := fmt.Sprintf("%s?%s", p.baseURL, values.Encode())
		return http.NewRequest(http.MethodGet, u, nil)
	}

	var payload metNoPayload
	if err := getJSON(ctx, p.httpCfg, p.circuit, buildRequest, &payload); err != nil {
		return series.Reading{}, err
	}

	if len(payload.Properties.Timeseries) == 0 {
		return series.Reading{}, fmt.Errorf("%w: response contained no timeseries", weather.ErrProviderMalformed)
	}
	first := payload.Properties.Timeseries[0]
	if first.Time == "" {
		return series.Reading{}, fmt.Errorf("%w: timeseries entry has no time", weather.ErrProviderMalformed)
	}

	d := first.Data.Instant.Details
	fields := baseFields(city)
	setIf(fields, weather.FieldAirTemperature, d.AirTemperature)
	setIf(fields, weather.FieldRelativeHumidity, d.RelativeHumidity)
	setIf(fields, weather.FieldAirPressureAtSeaLevel, d.AirPressureAtSeaLevel)
	setIf(fields, weather.FieldWindSpeed, d.WindSpeed)
	setIf(fields, weather.FieldWindFromDirection, d.WindFromDirection)
	setIf(fields, weather.FieldCloudAreaFraction, d.CloudAreaFraction)

	tags := baseTags(city)
	if next := first.Data.Next1Hours; next != nil {
		setIf(fields, weather.FieldPrecipitationAmount1h, next.Details.PrecipitationAmount)
		if next.Summary.SymbolCode != "" {
			tags[weather.TagSymbolCode] = next.Summary.SymbolCode
		}
	}

	return series.NewReading(city.Key(), now, fields, tags), nil
}
