package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"github.com/bobby-s-dev/field-aggregator/internal/api"
	"github.com/bobby-s-dev/field-aggregator/internal/config"
	"github.com/bobby-s-dev/field-aggregator/internal/scheduler"
	"github.com/bobby-s-dev/field-aggregator/internal/services"
	"github.com/bobby-s-dev/field-aggregator/pkg/client"
)

func main() {
	// Initialize logger
	zapConfig := zap.NewProductionConfig()
	logger, _ := zapConfig.Build()
	defer logger.Sync()

	zap.ReplaceGlobals(logger)
	logger.Info("Starting Field Aggregator Service")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	if level, err := zapcore.ParseLevel(cfg.Server.LogLevel); err == nil {
		zapConfig.Level.SetLevel(level)
	} else {
		logger.Warn("Unknown LOG_LEVEL, keeping info", zap.String("level", cfg.Server.LogLevel))
	}

	clientConfig := func(timeout time.Duration) client.ClientConfig {
		return client.ClientConfig{
			Timeout:        timeout,
			MaxRetries:     cfg.Retry.MaxRetries,
			RetryDelay:     cfg.Retry.Delay,
			Multiplier:     cfg.Retry.Multiplier,
			Threshold:      cfg.CircuitBreaker.Threshold,
			BreakerTimeout: cfg.CircuitBreaker.Timeout,
		}
	}

	var breakers []api.Breaker

	imagery := newArchive("imagery", cfg.Imagery.URL, client.ArchiveCredentials{
		ClientID:     cfg.Imagery.ClientID,
		ClientSecret: cfg.Imagery.ClientSecret,
		TokenURL:     cfg.Imagery.TokenURL,
	}, clientConfig(cfg.Imagery.Timeout), logger)
	climate := newArchive("climate", cfg.Climate.URL, client.ArchiveCredentials{
		ClientID:     cfg.Climate.ClientID,
		ClientSecret: cfg.Climate.ClientSecret,
		TokenURL:     cfg.Climate.TokenURL,
	}, clientConfig(cfg.Climate.Timeout), logger)

	// A nil archive makes the providers fail with missing credentials.
	var imageryArchive, climateArchive services.Archive
	if imagery != nil {
		imageryArchive = imagery
		breakers = append(breakers, imagery)
	}
	if climate != nil {
		climateArchive = climate
		breakers = append(breakers, climate)
	}

	var forecastSource services.ForecastSource
	switch cfg.Forecast.Provider {
	case "openmeteo":
		c := client.NewOpenMeteoClient(cfg.Forecast.OpenMeteoURL, clientConfig(cfg.Forecast.Timeout), logger)
		forecastSource = c
		breakers = append(breakers, c)
	default:
		c := client.NewOpenWeatherClient(cfg.Forecast.OpenWeatherAPIKey, cfg.Forecast.OpenWeatherURL, clientConfig(cfg.Forecast.Timeout), logger)
		if !c.HasCredentials() {
			logger.Warn("OPENWEATHER_API_KEY not set, forecast requests will fail")
		}
		forecastSource = c
		breakers = append(breakers, c)
	}
	logger.Info("Forecast provider initialized", zap.String("provider", cfg.Forecast.Provider))

	yield := client.NewYieldClient(cfg.Yield.URL, clientConfig(cfg.Yield.Timeout), logger)
	breakers = append(breakers, yield)

	loc, err := time.LoadLocation(cfg.Daily.Timezone)
	if err != nil {
		logger.Fatal("Invalid daily series timezone", zap.Error(err))
	}
	limit := rate.Inf
	if cfg.Daily.RequestsPerSec > 0 {
		limit = rate.Limit(cfg.Daily.RequestsPerSec)
	}

	daily := services.NewDailySeriesBuilder(imageryArchive, cfg.Imagery.Collection, loc, rate.NewLimiter(limit, 1), logger).
		WithDayTimeout(cfg.Imagery.Timeout)

	providers := services.Providers{
		Vegetation: services.NewVegetationProvider(imageryArchive, cfg.Imagery.Collection, logger),
		Climate:    services.NewClimateProvider(climateArchive, logger),
		Forecast:   services.NewForecastService(forecastSource, logger),
		Daily:      daily,
		Exporter:   services.NewRasterExporter(imageryArchive, cfg.Imagery.Collection, loc, logger),
	}

	cache := services.NewResultCache(cfg.Cache.Duration, cfg.Cache.MaxSize, logger)
	sessions := services.NewSessionStore(logger)
	aggregator := services.NewAggregator(providers, cache, sessions, cfg.Imagery.Timeout+cfg.Climate.Timeout, logger).
		WithDailyTimeout(cfg.Daily.Timeout)

	// Initialize scheduler
	janitor := scheduler.NewScheduler(sessions, cache, cfg.Scheduler.JanitorSpec, cfg.Session.IdleTTL, logger)

	// Create Fiber app
	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		BodyLimit:    16 << 20,
		JSONEncoder:  json.Marshal,
		ErrorHandler: errorHandler,
	})

	// Setup handlers and routes
	handler := api.NewHandler(aggregator, yield, api.Defaults{
		DateStart: cfg.Defaults.DateStart,
		DateEnd:   cfg.Defaults.DateEnd,
		CloudPct:  cfg.Defaults.CloudPct,
	}, logger).WithBreakers(breakers...).WithScheduler(janitor)
	api.SetupRoutes(app, handler, logger)

	// Start scheduler
	if err := janitor.Start(); err != nil {
		logger.Fatal("Failed to start scheduler", zap.Error(err))
	}

	// Start server in goroutine
	go func() {
		addr := ":" + cfg.Server.Port
		logger.Info("Starting server", zap.String("address", addr))

		if err := app.Listen(addr); err != nil {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Create shutdown context with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop scheduler
	janitor.Stop()

	// Shutdown Fiber app
	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error("Server shutdown failed", zap.Error(err))
	}

	logger.Info("Server stopped")
}

// newArchive returns nil when the OAuth2 credentials are incomplete.
func newArchive(name, baseURL string, creds client.ArchiveCredentials, cfg client.ClientConfig, logger *zap.Logger) *client.ArchiveClient {
	if !creds.Complete() {
		logger.Warn("Archive credentials incomplete, requests will fail",
			zap.String("archive", name))
		return nil
	}

	httpClient := client.NewArchiveHTTPClient(creds, cfg.Timeout)
	logger.Info("Archive client initialized",
		zap.String("archive", name),
		zap.String("url", baseURL))
	return client.NewArchiveClient(name, baseURL, httpClient, cfg, logger)
}

func errorHandler(c *fiber.Ctx, err error) error {
	zap.L().Error("HTTP error",
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.Error(err))

	// Default to 500 status code
	code := fiber.StatusInternalServerError

	// Check if it's a Fiber error
	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}

	return c.Status(code).JSON(fiber.Map{
		"error":   err.Error(),
		"success": false,
	})
}
