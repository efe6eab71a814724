package services

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/bobby-s-dev/field-aggregator/internal/geometry"
	"github.com/bobby-s-dev/field-aggregator/internal/models"
	"github.com/bobby-s-dev/field-aggregator/pkg/client"
)

var errEmptyForecast = errors.New("forecast returned no entries")

// ForecastSource is a short-range point forecast API.
type ForecastSource interface {
	Name() string
	HasCredentials() bool
	GetForecast(ctx context.Context, lat, lng float64) ([]client.ForecastEntry, error)
}

type ForecastService struct {
	source ForecastSource
	logger *zap.Logger
}

func NewForecastService(source ForecastSource, logger *zap.Logger) *ForecastService {
	return &ForecastService{source: source, logger: logger}
}

// Averages queries the forecast at the vertex-mean centroid of poly. The
// centroid is an approximation and drifts from the area centroid for concave
// shapes.
func (s *ForecastService) Averages(ctx context.Context, poly models.Polygon) (models.ForecastMetrics, error) {
	if s.source == nil || !s.source.HasCredentials() {
		return models.ForecastMetrics{}, models.ErrMissingCredentials
	}

	c := geometry.Centroid(poly)
	entries, err := s.source.GetForecast(ctx, c.Lat(), c.Lng())
	if err != nil {
		s.logger.Warn("Forecast request failed",
			zap.String("provider", s.source.Name()),
			zap.String("polygon_id", poly.ID),
			zap.Error(err))
		return models.ForecastMetrics{}, models.NewProviderError(s.source.Name(), "forecast", err)
	}
	if len(entries) == 0 {
		return models.ForecastMetrics{}, models.NewProviderError(s.source.Name(), "forecast", errEmptyForecast)
	}

	out := averageEntries(entries)
	out.Source = s.source.Name()
	return out, nil
}

func averageEntries(entries []client.ForecastEntry) models.ForecastMetrics {
	var airSum, surfaceSum float64
	var airN, surfaceN int
	for _, e := range entries {
		if models.Finite(e.AirTemp) {
			airSum += *e.AirTemp
			airN++
		}
		if models.Finite(e.SurfaceTemp) {
			surfaceSum += *e.SurfaceTemp
			surfaceN++
		}
	}

	out := models.ForecastMetrics{Entries: len(entries)}
	if airN > 0 {
		out.AirTempAvg = models.Float(airSum / float64(airN))
	}
	if surfaceN > 0 {
		out.SurfaceTempAvg = models.Float(surfaceSum / float64(surfaceN))
	}
	return out
}
