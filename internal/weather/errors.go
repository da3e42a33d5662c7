package weather

import "errors"

var (
	// ErrProviderUnavailable covers network errors, timeouts and non-success statuses.
	ErrProviderUnavailable = errors.New("weather provider unavailable")
	// ErrProviderMalformed is returned when a payload cannot be parsed into readings.
	ErrProviderMalformed = errors.New("weather provider returned a malformed payload")
	// ErrNoData is returned when the cache has never received a reading.
	ErrNoData = errors.New("no weather data available yet")
	// ErrCycleInProgress is returned when a refresh is requested while one is running.
	ErrCycleInProgress = errors.New("refresh cycle already in progress")
)
