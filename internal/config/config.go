package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"github.com/i474232898/weather-ingestion/internal/common"
	"github.com/i474232898/weather-ingestion/internal/weather"
	"github.com/i474232898/weather-ingestion/internal/weather/providers"
)

type AppConfig struct {
	Env      string
	LogLevel string
	Port     string `validate:"required,numeric"`

	Provider          string `validate:"oneof=metno openmeteo openweather weatherapi"`
	UserAgent         string `validate:"required"`
	OpenWeatherAPIKey string
	WeatherAPIKey     string
	GeocoderAPIKey    string
	Timeout           time.Duration `validate:"min=1s,max=30s"`

	// MinRefreshInterval throttles provider fetches. Zero disables the throttle.
	MinRefreshInterval time.Duration `validate:"min=0,max=1h"`
	TickInterval       time.Duration `validate:"min=250ms,max=1h"`
	BackgroundRefresh  bool

	WeatherMeasurement string `validate:"required"`
	DeviceMeasurement  string `validate:"required"`

	// Cities to track.
	Cities []weather.City `validate:"min=1,unique=Name,dive"`

	StoreDriver string `validate:"oneof=influx sqlite postgres mysql memory"`
	StoreDSN    string

	InfluxURL     string
	InfluxToken   string
	InfluxOrg     string
	InfluxBucket  string
	InfluxTimeout time.Duration

	// In-memory store retention, 0 means unlimited.
	StoreMaxHistory int           `validate:"min=0"`
	StoreMaxAge     time.Duration `validate:"min=0"`
}

// Load reads configuration from the environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}
	return FromEnv()
}

// FromEnv builds and validates the configuration from the current environment.
func FromEnv() (*AppConfig, error) {
	cfg := &AppConfig{
		Env:      getenvDefault("APP_ENV", "development"),
		LogLevel: os.Getenv("LOG_LEVEL"),
		Port:     getenvDefault("PORT", "8080"),

		Provider:          strings.ToLower(getenvDefault("WEATHER_PROVIDER", "metno")),
		UserAgent:         getenvDefault("WEATHER_USER_AGENT", providers.DefaultUserAgent),
		OpenWeatherAPIKey: os.Getenv("OPENWEATHER_API_KEY"),
		WeatherAPIKey:     os.Getenv("WEATHERAPI_API_KEY"),
		GeocoderAPIKey:    os.Getenv("GEOCODER_API_KEY"),

		WeatherMeasurement: getenvDefault("WEATHER_MEASUREMENT", "norwegian_weather"),
		DeviceMeasurement:  getenvDefault("DEVICE_MEASUREMENT", "device_metrics"),

		StoreDriver: strings.ToLower(getenvDefault("STORE_DRIVER", "memory")),
		StoreDSN:    os.Getenv("STORE_DSN"),

		InfluxURL:    getenvDefault("INFLUX_URL", "http://localhost:8086"),
		InfluxToken:  os.Getenv("INFLUX_TOKEN"),
		InfluxOrg:    os.Getenv("INFLUX_ORG"),
		InfluxBucket: getenvDefault("INFLUX_BUCKET", "weather"),

		// Roughly a day of readings at the default refresh interval.
		StoreMaxHistory: getenvInt("STORE_MAX_HISTORY", 288),
	}

	var err error
	if cfg.BackgroundRefresh, err = getenvBool("WEATHER_BACKGROUND_REFRESH", true); err != nil {
		return nil, err
	}
	durations := []struct {
		key string
		def time.Duration
		dst *time.Duration
	}{
		{"WEATHER_TIMEOUT", 10 * time.Second, &cfg.Timeout},
		{"WEATHER_MIN_REFRESH_INTERVAL", 5 * time.Minute, &cfg.MinRefreshInterval},
		{"WEATHER_TICK_INTERVAL", time.Second, &cfg.TickInterval},
		{"INFLUX_TIMEOUT", 10 * time.Second, &cfg.InfluxTimeout},
		{"STORE_MAX_AGE", 24 * time.Hour, &cfg.StoreMaxAge},
	}
	for _, d := range durations {
		if *d.dst, err = getenvDuration(d.key, d.def); err != nil {
			return nil, err
		}
	}

	if cfg.Cities, err = loadCities(); err != nil {
		return nil, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.StoreDriver == "influx" && (cfg.InfluxToken == "" || cfg.InfluxOrg == "") {
		return nil, fmt.Errorf("invalid configuration: INFLUX_TOKEN and INFLUX_ORG are required for the influx store")
	}
	return cfg, nil
}

// loadCities resolves the tracked cities: a YAML file wins over the comma
// separated env lists, which win over the built-in Norwegian cities.
func loadCities() ([]weather.City, error) {
	if path := os.Getenv("WEATHER_CITIES_FILE"); path != "" {
		return loadCitiesFile(path)
	}

	cities := common.SplitList(os.Getenv("WEATHER_LOCATION_CITY"))
	if len(cities) == 0 {
		return weather.NorwegianCities(), nil
	}
	countries := common.SplitList(os.Getenv("WEATHER_LOCATION_COUNTRY"))
	if len(cities) != len(countries) {
		return nil, fmt.Errorf("number of cities and countries must be the same")
	}

	defaults := make(map[string]weather.City)
	for _, c := range weather.NorwegianCities() {
		defaults[strings.ToLower(c.Name)] = c
	}
	locs := make([]weather.City, 0, len(cities))
	for i := range cities {
		if known, ok := defaults[strings.ToLower(cities[i])]; ok && strings.EqualFold(known.Country, countries[i]) {
			locs = append(locs, known)
			continue
		}
		locs = append(locs, weather.City{Name: cities[i], Country: countries[i]})
	}
	return locs, nil
}

type citiesFile struct {
	Cities []weather.City `yaml:"cities"`
}

func loadCitiesFile(path string) ([]weather.City, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cities file: %w", err)
	}
	var f citiesFile
	if err := yaml.UnmarshalStrict(raw, &f); err != nil {
		return nil, fmt.Errorf("parse cities file %s: %w", path, err)
	}
	if len(f.Cities) == 0 {
		return nil, fmt.Errorf("cities file %s lists no cities", path)
	}
	return f.Cities, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
