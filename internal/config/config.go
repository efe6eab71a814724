package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/bobby-s-dev/field-aggregator/internal/models"
)

type Config struct {
	Server struct {
		Port         string
		ReadTimeout  time.Duration
		WriteTimeout time.Duration
		LogLevel     string
	}

	Imagery struct {
		URL          string
		Collection   string
		ClientID     string
		ClientSecret string
		TokenURL     string
		Timeout      time.Duration
	}

	Climate struct {
		URL          string
		ClientID     string
		ClientSecret string
		TokenURL     string
		Timeout      time.Duration
	}

	Forecast struct {
		Provider          string
		OpenWeatherAPIKey string
		OpenWeatherURL    string
		OpenMeteoURL      string
		Timeout           time.Duration
	}

	Yield struct {
		URL     string
		Timeout time.Duration
	}

	Daily struct {
		Timezone       string
		RequestsPerSec float64
		// Timeout bounds the whole per-day chain of a session dispatch.
		Timeout        time.Duration
	}

	Defaults struct {
		DateStart time.Time
		DateEnd   time.Time
		CloudPct  float64
	}

	Scheduler struct {
		JanitorSpec string
	}

	Session struct {
		IdleTTL time.Duration
	}

	Cache struct {
		Duration time.Duration
		MaxSize  int
	}

	CircuitBreaker struct {
		Threshold int
		Timeout   time.Duration
	}

	Retry struct {
		MaxRetries int
		Delay      time.Duration
		Multiplier float64
	}
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if err := godotenv.Load(); err != nil {
		zap.L().Info("No .env file found, using environment variables")
	}

	cfg := &Config{}

	// Server configuration
	cfg.Server.Port = getEnv("FIBER_PORT", "8080")
	cfg.Server.ReadTimeout = parseDuration(getEnv("FIBER_READ_TIMEOUT", "10s"))
	cfg.Server.WriteTimeout = parseDuration(getEnv("FIBER_WRITE_TIMEOUT", "120s"))
	cfg.Server.LogLevel = getEnv("LOG_LEVEL", "info")

	// Imagery archive
	cfg.Imagery.URL = getEnv("IMAGERY_ARCHIVE_URL", "https://archive.example.org/v1")
	cfg.Imagery.Collection = getEnv("IMAGERY_COLLECTION", "sentinel-2-l2a")
	cfg.Imagery.ClientID = getEnv("ARCHIVE_CLIENT_ID", "")
	cfg.Imagery.ClientSecret = getEnv("ARCHIVE_CLIENT_SECRET", "")
	cfg.Imagery.TokenURL = getEnv("ARCHIVE_TOKEN_URL", "")
	cfg.Imagery.Timeout = parseDuration(getEnv("IMAGERY_TIMEOUT", "60s"))

	// Climate archive shares credentials unless overridden
	cfg.Climate.URL = getEnv("CLIMATE_ARCHIVE_URL", cfg.Imagery.URL)
	cfg.Climate.ClientID = getEnv("CLIMATE_CLIENT_ID", cfg.Imagery.ClientID)
	cfg.Climate.ClientSecret = getEnv("CLIMATE_CLIENT_SECRET", cfg.Imagery.ClientSecret)
	cfg.Climate.TokenURL = getEnv("CLIMATE_TOKEN_URL", cfg.Imagery.TokenURL)
	cfg.Climate.Timeout = parseDuration(getEnv("CLIMATE_TIMEOUT", "60s"))

	// Forecast
	cfg.Forecast.Provider = getEnv("FORECAST_PROVIDER", "openweather")
	cfg.Forecast.OpenWeatherAPIKey = getEnv("OPENWEATHER_API_KEY", "")
	cfg.Forecast.OpenWeatherURL = getEnv("OPENWEATHER_URL", "https://api.openweathermap.org/data/2.5")
	cfg.Forecast.OpenMeteoURL = getEnv("OPENMETEO_URL", "https://api.open-meteo.com/v1")
	cfg.Forecast.Timeout = parseDuration(getEnv("FORECAST_TIMEOUT", "15s"))

	// Yield service
	cfg.Yield.URL = getEnv("YIELD_SERVICE_URL", "http://127.0.0.1:8000")
	cfg.Yield.Timeout = parseDuration(getEnv("YIELD_TIMEOUT", "60s"))

	// Daily series
	cfg.Daily.Timezone = getEnv("DAILY_SERIES_TZ", "UTC")
	cfg.Daily.RequestsPerSec = parseFloat(getEnv("DAILY_REQUESTS_PER_SEC", "2"))
	cfg.Daily.Timeout = parseDuration(getEnv("DAILY_SERIES_TIMEOUT", "30m"))

	// Request defaults
	start, err := time.Parse(models.DateLayout, getEnv("DEFAULT_DATE_START", "2024-06-01"))
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_DATE_START: %w", err)
	}
	end, err := time.Parse(models.DateLayout, getEnv("DEFAULT_DATE_END", "2024-08-31"))
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_DATE_END: %w", err)
	}
	cfg.Defaults.DateStart = start
	cfg.Defaults.DateEnd = end
	cfg.Defaults.CloudPct = parseFloat(getEnv("DEFAULT_CLOUD_PCT", "20"))

	// Housekeeping
	cfg.Scheduler.JanitorSpec = getEnv("JANITOR_SCHEDULE", "@every 1m")
	cfg.Session.IdleTTL = parseDuration(getEnv("SESSION_IDLE_TTL", "30m"))

	// Cache configuration
	cfg.Cache.Duration = parseDuration(getEnv("CACHE_DURATION", "10m"))
	cfg.Cache.MaxSize = parseInt(getEnv("MAX_CACHE_SIZE", "1000"))

	// Circuit breaker configuration
	cfg.CircuitBreaker.Threshold = parseInt(getEnv("CIRCUIT_BREAKER_THRESHOLD", "3"))
	cfg.CircuitBreaker.Timeout = parseDuration(getEnv("CIRCUIT_BREAKER_TIMEOUT", "30s"))

	// Retry configuration
	cfg.Retry.MaxRetries = parseInt(getEnv("MAX_RETRIES", "2"))
	cfg.Retry.Delay = parseDuration(getEnv("RETRY_DELAY", "1s"))
	cfg.Retry.Multiplier = parseFloat(getEnv("RETRY_MULTIPLIER", "2"))

	if _, err := time.LoadLocation(cfg.Daily.Timezone); err != nil {
		return nil, fmt.Errorf("invalid DAILY_SERIES_TZ: %w", err)
	}
	if cfg.Forecast.Provider != "openweather" && cfg.Forecast.Provider != "openmeteo" {
		return nil, fmt.Errorf("unknown FORECAST_PROVIDER %q", cfg.Forecast.Provider)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDuration(value string) time.Duration {
	duration, err := time.ParseDuration(value)
	if err != nil {
		zap.L().Warn("Failed to parse duration", zap.String("value", value), zap.Error(err))
		return 0
	}
	return duration
}

func parseInt(value string) int {
	intValue, err := strconv.Atoi(value)
	if err != nil {
		zap.L().Warn("Failed to parse int", zap.String("value", value), zap.Error(err))
		return 0
	}
	return intValue
}

func parseFloat(value string) float64 {
	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		zap.L().Warn("Failed to parse float", zap.String("value", value), zap.Error(err))
		return 0
	}
	return floatValue
}
