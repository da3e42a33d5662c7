package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/segmentio/encoding/json"

	"github.com/i474232898/weather-ingestion/internal/devices"
	"github.com/i474232898/weather-ingestion/internal/series"
	"github.com/i474232898/weather-ingestion/internal/weather"
)

const serviceName = "weather-ingestion"

var validate = validator.New()

// Deps are the services behind the HTTP routes.
type Deps struct {
	Weather *weather.Service
	Loop    *weather.Loop
	Devices *devices.Service

	// Health pings the backing store. Nil reports healthy.
	Health func(ctx context.Context) error
	// Metrics serves /metrics when set.
	Metrics http.Handler
}

// NewApp creates the Fiber app with the shared error handler and JSON codec.
func NewApp() *fiber.App {
	return fiber.New(fiber.Config{
		AppName:               serviceName,
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          30 * time.Second,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ErrorHandler:          ErrorHandler,
	})
}

// ErrorHandler is the centralized error response. Domain errors are mapped to
// status codes; storage and provider internals are not echoed to clients.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()

	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		code = fe.Code
	case errors.Is(err, series.ErrInvalidParameter):
		code = fiber.StatusBadRequest
	case errors.Is(err, weather.ErrCycleInProgress):
		code = fiber.StatusConflict
	case errors.Is(err, weather.ErrNoData):
		code = fiber.StatusServiceUnavailable
	case errors.Is(err, series.ErrStoreUnavailable), errors.Is(err, series.ErrStoreRejected):
		code = fiber.StatusServiceUnavailable
		message = "time-series store unavailable"
	case errors.Is(err, weather.ErrProviderUnavailable), errors.Is(err, weather.ErrProviderMalformed):
		code = fiber.StatusServiceUnavailable
		message = "weather provider unavailable"
	}
	if code == fiber.StatusInternalServerError {
		message = "internal server error"
	}

	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": message,
	})
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, deps Deps) {
	app.Get("/health", func(c *fiber.Ctx) error {
		if deps.Health != nil {
			if err := deps.Health(c.UserContext()); err != nil {
				return fiber.NewError(fiber.StatusServiceUnavailable, "time-series store unavailable")
			}
		}
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": serviceName,
		})
	})
	if deps.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(deps.Metrics))
	}

	v1 := app.Group("/api/v1")

	v1.Get("/weather/latest", func(c *fiber.Ctx) error {
		snap, err := deps.Weather.Latest()
		if err != nil {
			return err
		}
		return c.JSON(latestResponse{
			UpdatedAt:  snap.UpdatedAt,
			AgeSeconds: int64(snap.Age / time.Second),
			Entries:    snap.Entries,
		})
	})

	v1.Post("/weather/refresh", func(c *fiber.Ctx) error {
		res, err := deps.Loop.Refresh(c.UserContext(), c.QueryBool("force", false))
		if err != nil {
			return err
		}
		return c.JSON(newRefreshResponse(res))
	})

	v1.Get("/weather/status", func(c *fiber.Ctx) error {
		return c.JSON(newStatusResponse(deps.Loop.Status(), time.Now().UTC()))
	})

	v1.Get("/weather/summary", func(c *fiber.Ctx) error {
		q := summaryQuery{Field: weather.FieldAirTemperature, Hours: 24}
		if err := bindQuery(c, &q); err != nil {
			return err
		}
		records, err := deps.Weather.Summary(c.UserContext(), weather.SummaryRequest{
			Field:  q.Field,
			Window: time.Duration(q.Hours) * time.Hour,
		})
		if err != nil {
			return err
		}
		if records == nil {
			records = []series.SummaryRecord{}
		}
		return c.JSON(records)
	})

	v1.Get("/weather/trend", func(c *fiber.Ctx) error {
		q := trendQuery{Field: weather.FieldAirTemperature, Hours: 1, WindowSeconds: 60}
		if err := bindQuery(c, &q); err != nil {
			return err
		}
		points, err := deps.Weather.Trend(c.UserContext(), weather.TrendRequest{
			Field:  q.Field,
			Window: time.Duration(q.Hours) * time.Hour,
			Bucket: time.Duration(q.WindowSeconds) * time.Second,
		})
		if err != nil {
			return err
		}
		if points == nil {
			points = []series.TrendPoint{}
		}
		return c.JSON(points)
	})

	v1.Post("/measurements", func(c *fiber.Ctx) error {
		var req measurementRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		m := devices.Measurement{DeviceID: req.DeviceID, Readings: req.Readings}
		if req.Timestamp != nil {
			m.Timestamp = *req.Timestamp
		}
		writtenAt, err := deps.Devices.Write(c.UserContext(), m)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"written_at": writtenAt})
	})

	v1.Get("/measurements", func(c *fiber.Ctx) error {
		q := measurementQuery{Limit: devices.DefaultLimit}
		if err := bindQuery(c, &q); err != nil {
			return err
		}
		w, err := q.window()
		if err != nil {
			return err
		}
		records, err := deps.Devices.List(c.UserContext(), devices.ListQuery{Window: w, Limit: q.Limit})
		if err != nil {
			return err
		}
		if records == nil {
			records = []devices.Record{}
		}
		return c.JSON(records)
	})

	v1.Get("/measurements/summary", func(c *fiber.Ctx) error {
		q := measurementQuery{Limit: devices.DefaultLimit}
		if err := bindQuery(c, &q); err != nil {
			return err
		}
		w, err := q.window()
		if err != nil {
			return err
		}
		sum, err := deps.Devices.Summary(c.UserContext(), w)
		if err != nil {
			return err
		}
		return c.JSON(sum)
	})
}
