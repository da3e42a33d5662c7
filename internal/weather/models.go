package weather

import (
	"time"

	"github.com/i474232898/weather-ingestion/internal/series"
)

// Weather field names written for every city reading. A provider may omit any
// of them when the upstream payload does not carry the value.
const (
	FieldLat                   = "lat"
	FieldLon                   = "lon"
	FieldAirTemperature        = "air_temperature"
	FieldRelativeHumidity      = "relative_humidity"
	FieldAirPressureAtSeaLevel = "air_pressure_at_sea_level"
	FieldWindSpeed             = "wind_speed"
	FieldWindFromDirection     = "wind_from_direction"
	FieldCloudAreaFraction     = "cloud_area_fraction"
	FieldPrecipitationAmount1h = "precipitation_amount_1h"

	TagCountry    = "country"
	TagSymbolCode = "symbol_code"
)

// City is a place for which we track weather. Name doubles as the entity key.
type City struct {
	Name    string   `yaml:"name" json:"name" validate:"required"`
	Country string   `yaml:"country" json:"country"`
	Lat     *float64 `yaml:"lat" json:"lat,omitempty"`
	Lon     *float64 `yaml:"lon" json:"lon,omitempty"`
}

// Key returns the entity key used in the cache and the store.
func (c City) Key() string {
	return c.Name
}

// HasCoordinates reports whether both latitude and longitude are known.
func (c City) HasCoordinates() bool {
	return c.Lat != nil && c.Lon != nil
}

// NewCity builds a City with coordinates.
func NewCity(name, country string, lat, lon float64) City {
	return City{Name: name, Country: country, Lat: &lat, Lon: &lon}
}

// NorwegianCities is the default entity list.
func NorwegianCities() []City {
	return []City{
		NewCity("Oslo", "NO", 59.9139, 10.7522),
		NewCity("Bergen", "NO", 60.39299, 5.32415),
		NewCity("Trondheim", "NO", 63.4305, 10.3951),
		NewCity("Tromsø", "NO", 69.6492, 18.9553),
		NewCity("Stavanger", "NO", 58.969975, 5.733107),
	}
}

// Entry is the cached latest reading of one entity.
type Entry struct {
	Reading   series.Reading `json:"reading"`
	UpdatedAt time.Time      `json:"updated_at"` // wall clock of the cache write
}

// Phase is the state of the refresh loop.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseFetching Phase = "fetching"
	PhaseWriting  Phase = "writing"
	PhaseSkipped  Phase = "skipped"
)

// ThrottleState tracks the global fetch instants. A zero time means unset.
type ThrottleState struct {
	LastAttempt time.Time
	LastSuccess time.Time
}

// RefreshResult reports the outcome of one refresh cycle.
type RefreshResult struct {
	Requested  int
	Stored     int
	Updated    int
	Failed     int
	Skipped    bool
	RetryAfter time.Duration
	Entities   []string
}

// Status is the loop's degraded-mode signal for readers.
type Status struct {
	Phase               Phase
	LastAttempt         time.Time
	LastSuccess         time.Time
	LastError           string
	ConsecutiveFailures int
	DroppedTicks        int64
}
