package httpapi

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/weather-ingestion/internal/devices"
	"github.com/i474232898/weather-ingestion/internal/weather"
)

// summaryQuery holds query parameters for the summary endpoint.
type summaryQuery struct {
	Field string `query:"field" validate:"required,max=128"`
	Hours int    `query:"hours" validate:"min=1,max=336"`
}

// trendQuery holds query parameters for the trend endpoint.
type trendQuery struct {
	Field         string `query:"field" validate:"required,max=128"`
	Hours         int    `query:"hours" validate:"min=1,max=48"`
	WindowSeconds int    `query:"window_seconds" validate:"min=1,max=3600"`
}

// measurementQuery holds query parameters for the device measurement reads.
type measurementQuery struct {
	DeviceID string `query:"device_id" validate:"required,max=64"`
	Metric   string `query:"metric" validate:"required,max=64"`
	Start    string `query:"start"`
	Stop     string `query:"stop"`
	Limit    int    `query:"limit" validate:"min=1,max=1000"`
}

func (q measurementQuery) window() (devices.Window, error) {
	w := devices.Window{DeviceID: q.DeviceID, Metric: q.Metric}
	var err error
	if q.Start != "" {
		if w.Start, err = parseTime(q.Start); err != nil {
			return w, fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("start: %v", err))
		}
	}
	if q.Stop != "" {
		if w.Stop, err = parseTime(q.Stop); err != nil {
			return w, fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("stop: %v", err))
		}
	}
	return w, nil
}

// measurementRequest is the body of a device measurement write.
type measurementRequest struct {
	DeviceID  string             `json:"device_id" validate:"required,max=64"`
	Timestamp *time.Time         `json:"timestamp"`
	Readings  map[string]float64 `json:"readings" validate:"required,min=1,max=32"`
}

type latestResponse struct {
	UpdatedAt  time.Time       `json:"updated_at"`
	AgeSeconds int64           `json:"age_seconds"`
	Entries    []weather.Entry `json:"entries"`
}

type refreshResponse struct {
	Requested         int      `json:"requested"`
	Stored            int      `json:"stored"`
	Updated           int      `json:"updated"`
	Failed            int      `json:"failed"`
	Skipped           bool     `json:"skipped"`
	RetryAfterSeconds int64    `json:"retry_after_seconds"`
	Cities            []string `json:"cities"`
}

func newRefreshResponse(res weather.RefreshResult) refreshResponse {
	cities := res.Entities
	if cities == nil {
		cities = []string{}
	}
	return refreshResponse{
		Requested:         res.Requested,
		Stored:            res.Stored,
		Updated:           res.Updated,
		Failed:            res.Failed,
		Skipped:           res.Skipped,
		RetryAfterSeconds: int64(res.RetryAfter / time.Second),
		Cities:            cities,
	}
}

type statusResponse struct {
	Phase                 weather.Phase `json:"phase"`
	LastAttempt           *time.Time    `json:"last_attempt"`
	LastSuccess           *time.Time    `json:"last_success"`
	LastUpdatedSecondsAgo *int64        `json:"last_updated_seconds_ago"`
	LastError             string        `json:"last_error,omitempty"`
	ConsecutiveFailures   int           `json:"consecutive_failures"`
	DroppedTicks          int64         `json:"dropped_ticks"`
}

func newStatusResponse(s weather.Status, now time.Time) statusResponse {
	out := statusResponse{
		Phase:               s.Phase,
		LastError:           s.LastError,
		ConsecutiveFailures: s.ConsecutiveFailures,
		DroppedTicks:        s.DroppedTicks,
	}
	if !s.LastAttempt.IsZero() {
		t := s.LastAttempt
		out.LastAttempt = &t
	}
	if !s.LastSuccess.IsZero() {
		t := s.LastSuccess
		out.LastSuccess = &t
		ago := int64(now.Sub(t) / time.Second)
		out.LastUpdatedSecondsAgo = &ago
	}
	return out
}

// bindQuery parses query parameters over the defaults already set in dst and
// validates the result.
func bindQuery(c *fiber.Ctx, dst interface{}) error {
	if err := c.QueryParser(dst); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid query parameters")
	}
	if err := validate.Struct(dst); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return nil
}

// parseTime tries RFC3339 (with or without zone, naive times are UTC) or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.ParseInLocation("2006-01-02T15:04:05", s, time.UTC); err == nil {
		return ts, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}
