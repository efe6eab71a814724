package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bobby-s-dev/field-aggregator/internal/geometry"
	"github.com/bobby-s-dev/field-aggregator/internal/models"
)

var (
	airTempImage = ImageSpec{
		Collection: "reanalysis-era5-land-hourly",
		Composite:  "mean",
		Expression: "temperature_2m - 273.15",
		Band:       "air_temp",
	}
	surfaceTempImage = ImageSpec{
		Collection: "modis-lst-daily",
		Composite:  "mean",
		Expression: "LST_Day_1km * 0.02 - 273.15",
		Band:       "lst_day",
	}
)

const (
	airTempScale     = 11132
	surfaceTempScale = 1000
)

type ClimateResult struct {
	Metrics models.ClimateMetrics
	Message string
}

// ClimateProvider reads period-mean air temperature from reanalysis and
// daytime land-surface temperature from the daily satellite product. The two
// sub-queries fail together: if either errors, neither value is returned.
type ClimateProvider struct {
	archive Archive
	reducer *StatisticsReducer
	logger  *zap.Logger
}

func NewClimateProvider(archive Archive, logger *zap.Logger) *ClimateProvider {
	p := &ClimateProvider{archive: archive, logger: logger}
	if archive != nil {
		p.reducer = NewStatisticsReducer(archive)
	}
	return p
}

func (p *ClimateProvider) Metrics(ctx context.Context, poly models.Polygon, filter models.FilterConfig) (ClimateResult, error) {
	if p.archive == nil {
		return ClimateResult{}, models.ErrMissingCredentials
	}

	geom, err := geometry.GeoJSON(poly)
	if err != nil {
		return ClimateResult{}, fmt.Errorf("encode polygon: %w", err)
	}

	var air, surface Reduction
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, err := p.reducer.Reduce(gctx, RegionQuery{
			Image:    airTempImage,
			Geometry: geom,
			Start:    filter.DateStart,
			End:      filter.DateEnd,
			Scale:    airTempScale,
			Reducers: []string{"mean"},
		})
		if err != nil {
			return fmt.Errorf("air temperature: %w", err)
		}
		air = r
		return nil
	})
	g.Go(func() error {
		r, err := p.reducer.Reduce(gctx, RegionQuery{
			Image:    surfaceTempImage,
			Geometry: geom,
			Start:    filter.DateStart,
			End:      filter.DateEnd,
			Scale:    surfaceTempScale,
			Reducers: []string{"mean"},
		})
		if err != nil {
			return fmt.Errorf("land surface temperature: %w", err)
		}
		surface = r
		return nil
	})

	if err := g.Wait(); err != nil {
		p.logger.Warn("Climate metrics failed",
			zap.String("provider", p.archive.Name()),
			zap.String("polygon_id", poly.ID),
			zap.Error(err))
		return ClimateResult{}, models.NewProviderError(p.archive.Name(), "climate", err)
	}

	out := ClimateResult{
		Metrics: models.ClimateMetrics{
			AirTemp:  air.Stat.Mean,
			SoilTemp: surface.Stat.Mean,
		},
	}
	if air.Matched == 0 && surface.Matched == 0 {
		out.Message = MessageNoClimate
	}
	return out, nil
}
