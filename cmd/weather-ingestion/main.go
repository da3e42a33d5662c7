package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	httpapi "github.com/i474232898/weather-ingestion/internal/api/http"
	"github.com/i474232898/weather-ingestion/internal/config"
	"github.com/i474232898/weather-ingestion/internal/devices"
	"github.com/i474232898/weather-ingestion/internal/logging"
	"github.com/i474232898/weather-ingestion/internal/metrics"
	"github.com/i474232898/weather-ingestion/internal/scheduler"
	"github.com/i474232898/weather-ingestion/internal/series"
	"github.com/i474232898/weather-ingestion/internal/store"
	"github.com/i474232898/weather-ingestion/internal/weather"
	"github.com/i474232898/weather-ingestion/internal/weather/providers"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	sugar, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = sugar.Sync() }()

	if err := run(cfg, sugar); err != nil {
		sugar.Fatalw("weather-ingestion stopped", "error", err)
	}
}

func run(cfg *config.AppConfig, sugar *zap.SugaredLogger) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// One connection serves both measurements.
	stores, err := store.Open(ctx, store.Config{
		Driver: cfg.StoreDriver,
		DSN:    cfg.StoreDSN,
		Influx: store.InfluxConfig{
			URL:     cfg.InfluxURL,
			Token:   cfg.InfluxToken,
			Org:     cfg.InfluxOrg,
			Bucket:  cfg.InfluxBucket,
			Timeout: cfg.InfluxTimeout,
		},
		MaxHistory: cfg.StoreMaxHistory,
		MaxAge:     cfg.StoreMaxAge,
	},
		store.Binding{Measurement: cfg.WeatherMeasurement, EntityTag: "city"},
		store.Binding{Measurement: cfg.DeviceMeasurement, EntityTag: "device_id"},
	)
	if err != nil {
		return err
	}
	weatherStore, deviceStore := stores[0], stores[1]
	defer func() {
		for _, s := range stores {
			err = multierr.Append(err, s.Close())
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	cities := cfg.Cities
	if cfg.GeocoderAPIKey != "" {
		cities = providers.ResolveCoordinates(cities, providers.GoogleGeocoder(cfg.GeocoderAPIKey), sugar)
	}

	httpCfg := providers.DefaultHTTPConfig(&http.Client{Timeout: cfg.Timeout}, cfg.UserAgent)
	provider, err := providers.New(cfg.Provider, httpCfg, providers.Keys{
		OpenWeather: cfg.OpenWeatherAPIKey,
		WeatherAPI:  cfg.WeatherAPIKey,
	}, sugar)
	if err != nil {
		return err
	}

	cache := weather.NewCache()
	loop := weather.NewLoop(weather.LoopConfig{
		Cities:       cities,
		MinInterval:  cfg.MinRefreshInterval,
		FetchTimeout: cfg.Timeout * time.Duration(httpCfg.Backoff.MaxRetries+1),
	}, provider, weatherStore, cache, sugar, m)

	seedCtx, cancelSeed := context.WithTimeout(ctx, cfg.Timeout)
	if n, err := loop.Seed(seedCtx); err != nil {
		sugar.Warnw("could not seed cache from store; starting empty", "error", err)
	} else {
		sugar.Infow("seeded cache from store", "readings", n)
	}
	cancelSeed()

	if cfg.MinRefreshInterval == 0 {
		sugar.Warnw("refresh throttle disabled; every tick calls the provider")
	}
	if cfg.BackgroundRefresh {
		sched := scheduler.New(loop, cfg.TickInterval, sugar)
		if err := sched.Start(); err != nil {
			return err
		}
		defer sched.Stop()
	}

	app := httpapi.NewApp()
	app.Use(logger.New())
	app.Use(recover.New())

	httpapi.RegisterRoutes(app, httpapi.Deps{
		Weather: weather.NewService(weatherStore, cache, cities),
		Loop:    loop,
		Devices: devices.NewService(deviceStore),
		Health:  pingAll(weatherStore, deviceStore),
		Metrics: metrics.Handler(reg),
	})

	go func() {
		sugar.Infow("http server listening",
			"port", cfg.Port,
			"provider", provider.Name(),
			"store", cfg.StoreDriver,
			"cities", len(cities),
		)
		if err := app.Listen(":" + cfg.Port); err != nil {
			sugar.Errorw("fiber server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	sugar.Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return app.ShutdownWithContext(shutdownCtx)
}

func pingAll(stores ...series.Store) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		var err error
		for _, s := range stores {
			err = multierr.Append(err, s.Ping(ctx))
		}
		return err
	}
}
