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

// ForecastEntry is one forecast time step normalized across sources.
// SurfaceTemp is a direct ground reading where the source has one and a proxy otherwise.
type ForecastEntry struct {
	Time        time.Time
	AirTemp     *float64
	SurfaceTemp *float64
}

type OpenWeatherClient struct {
	*BaseClient
	apiKey  string
	baseURL string
}

type OpenWeatherForecastResponse struct {
	Cod     json.RawMessage `json:"cod"`
	Message json.RawMessage `json:"message"`
	Cnt     int             `json:"cnt"`
	List    []struct {
		Dt   int64 `json:"dt"`
		Main struct {
			Temp      *float64 `json:"temp"`
			FeelsLike *float64 `json:"feels_like"`
			TempMin   float64  `json:"temp_min"`
			TempMax   float64  `json:"temp_max"`
			Pressure  float64  `json:"pressure"`
			Humidity  int      `json:"humidity"`
		} `json:"main"`
		DtTxt string `json:"dt_txt"`
	} `json:"list"`
	City struct {
		Name  string `json:"name"`
		Coord struct {
			Lat float64 `json:"lat"`
			Lon float64 `json:"lon"`
		} `json:"coord"`
	} `json:"city"`
}

func NewOpenWeatherClient(apiKey, baseURL string, config ClientConfig, logger *zap.Logger) *OpenWeatherClient {
	if baseURL == "" {
		baseURL = "https://api.openweathermap.org/data/2.5"
	}
	return &OpenWeatherClient{
		BaseClient: NewBaseClient("openweather", config, logger),
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

func (c *OpenWeatherClient) HasCredentials() bool {
	return c.apiKey != ""
}

// GetForecast returns the 5 day / 3 hour forecast for a point. OpenWeatherMap
// has no ground temperature, so feels_like stands in for it.
func (c *OpenWeatherClient) GetForecast(ctx context.Context, lat, lng float64) ([]ForecastEntry, error) {
	values := url.Values{}
	values.Set("lat", fmt.Sprintf("%f", lat))
	values.Set("lon", fmt.Sprintf("%f", lng))
	values.Set("appid", c.apiKey)
	values.Set("units", "metric")

	data, err := c.GetWithRetry(ctx, c.baseURL+"/forecast?"+values.Encode())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch forecast: %w", err)
	}

	var response OpenWeatherForecastResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return nil, fmt.Errorf("failed to parse forecast response: %w", err)
	}

	if code := strings.Trim(string(response.Cod), `"`); code != "" && code != "200" {
		return nil, fmt.Errorf("API error: %s %s", code, strings.Trim(string(response.Message), `"`))
	}

	entries := make([]ForecastEntry, 0, len(response.List))
	for _, item := range response.List {
		entries = append(entries, ForecastEntry{
			Time:        time.Unix(item.Dt, 0).UTC(),
			AirTemp:     item.Main.Temp,
			SurfaceTemp: item.Main.FeelsLike,
		})
	}

	return entries, nil
}
