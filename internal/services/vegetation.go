package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/bobby-s-dev/field-aggregator/internal/geometry"
	"github.com/bobby-s-dev/field-aggregator/internal/models"
)

const (
	vegetationScale = 10

	MessageNoImagery    = "No imagery found for the selected period and cloud filter"
	MessageNoStatistics = "Imagery found but no day produced vegetation statistics"
	MessageNoClimate    = "No climate data found for the selected period"
	MessageDailyPartial = "Daily series truncated: the deadline expired before every acquisition day was reduced"
)

// NDVIImage returns the median NDVI composite over collection.
func NDVIImage(collection string) ImageSpec {
	return ImageSpec{
		Collection: collection,
		Composite:  "median",
		Expression: "(B8 - B4) / (B8 + B4)",
		Band:       "ndvi",
	}
}

// VegetationResult is the polygon-wide NDVI statistic. Message is set when
// the filtered collection was empty.
type VegetationResult struct {
	Stat    models.RegionStatistic
	Message string
}

// VegetationProvider summarises NDVI over a polygon from the imagery archive.
type VegetationProvider struct {
	archive    Archive
	reducer    *StatisticsReducer
	collection string
	logger     *zap.Logger
}

// NewVegetationProvider accepts a nil archive, in which case every call fails
// with ErrMissingCredentials.
func NewVegetationProvider(archive Archive, collection string, logger *zap.Logger) *VegetationProvider {
	p := &VegetationProvider{
		archive:    archive,
		collection: collection,
		logger:     logger,
	}
	if archive != nil {
		p.reducer = NewStatisticsReducer(archive)
	}
	return p
}

func (p *VegetationProvider) Collection() string {
	return p.collection
}

func (p *VegetationProvider) Summary(ctx context.Context, poly models.Polygon, filter models.FilterConfig) (VegetationResult, error) {
	if p.archive == nil {
		return VegetationResult{}, models.ErrMissingCredentials
	}

	geom, err := geometry.GeoJSON(poly)
	if err != nil {
		return VegetationResult{}, fmt.Errorf("encode polygon: %w", err)
	}

	cloud := filter.CloudPct
	red, err := p.reducer.Reduce(ctx, RegionQuery{
		Image:    NDVIImage(p.collection),
		Geometry: geom,
		Start:    filter.DateStart,
		End:      filter.DateEnd,
		CloudPct: &cloud,
		Scale:    vegetationScale,
	})
	if err != nil {
		p.logger.Warn("Vegetation summary failed",
			zap.String("provider", p.archive.Name()),
			zap.String("polygon_id", poly.ID),
			zap.Error(err))
		return VegetationResult{}, models.NewProviderError(p.archive.Name(), "ndvi summary", err)
	}

	if red.Matched == 0 {
		p.logger.Info("No imagery matched filter",
			zap.String("polygon_id", poly.ID),
			zap.Time("date_start", filter.DateStart),
			zap.Time("date_end", filter.DateEnd),
			zap.Float64("cloud_pct", filter.CloudPct))
		return VegetationResult{Message: MessageNoImagery}, nil
	}

	return VegetationResult{Stat: red.Stat}, nil
}
