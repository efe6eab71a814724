package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

type OpenMeteoClient struct {
	*BaseClient
	baseURL string
	days    int
}

type OpenMeteoForecastResponse struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Hourly    struct {
		Time               []string   `json:"time"`
		Temperature2M      []*float64 `json:"temperature_2m"`
		SoilTemperature0Cm []*float64 `json:"soil_temperature_0cm"`
	} `json:"hourly"`
	HourlyUnits struct {
		Temperature2M      string `json:"temperature_2m"`
		SoilTemperature0Cm string `json:"soil_temperature_0cm"`
	} `json:"hourly_units"`
}

func NewOpenMeteoClient(baseURL string, config ClientConfig, logger *zap.Logger) *OpenMeteoClient {
	if baseURL == "" {
		baseURL = "https://api.open-meteo.com/v1"
	}
	return &OpenMeteoClient{
		BaseClient: NewBaseClient("openmeteo", config, logger),
		baseURL:    strings.TrimRight(baseURL, "/"),
		days:       5,
	}
}

// Open-Meteo needs no API key.
func (c *OpenMeteoClient) HasCredentials() bool {
	return true
}

// GetForecast returns hourly air and ground-level soil temperature for a point.
func (c *OpenMeteoClient) GetForecast(ctx context.Context, lat, lng float64) ([]ForecastEntry, error) {
	values := url.Values{}
	values.Set("latitude", fmt.Sprintf("%f", lat))
	values.Set("longitude", fmt.Sprintf("%f", lng))
	values.Set("hourly", "temperature_2m,soil_temperature_0cm")
	values.Set("forecast_days", fmt.Sprintf("%d", c.days))
	values.Set("timezone", "UTC")

	data, err := c.GetWithRetry(ctx, c.baseURL+"/forecast?"+values.Encode())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch forecast: %w", err)
	}

	var response OpenMeteoForecastResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return nil, fmt.Errorf("failed to parse forecast response: %w", err)
	}

	hourly := response.Hourly
	entries := make([]ForecastEntry, 0, len(hourly.Time))
	for i, ts := range hourly.Time {
		t, err := time.Parse("2006-01-02T15:04", ts)
		if err != nil {
			c.logger.Warn("Skipping forecast step with unparseable time",
				zap.String("client", c.name),
				zap.String("time", ts))
			continue
		}
		entry := ForecastEntry{Time: t}
		if i < len(hourly.Temperature2M) {
			entry.AirTemp = hourly.Temperature2M[i]
		}
		if i < len(hourly.SoilTemperature0Cm) {
			entry.SurfaceTemp = hourly.SoilTemperature0Cm[i]
		}
		entries = append(entries, entry)
	}

	return entries, nil
}
