package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bobby-s-dev/field-aggregator/internal/geometry"
	"github.com/bobby-s-dev/field-aggregator/internal/models"
	"github.com/bobby-s-dev/field-aggregator/pkg/client"
)

const (
	rasterDimensions = "1024x1024"
	rasterCRS        = "EPSG:4326"
	rasterFormat     = "GEO_TIFF"
)

// RasterExporter produces a download reference for a single-day NDVI raster
// clipped to the polygon. It never fetches the raster itself.
type RasterExporter struct {
	archive    Archive
	reducer    *StatisticsReducer
	collection string
	loc        *time.Location
	logger     *zap.Logger
}

func NewRasterExporter(archive Archive, collection string, loc *time.Location, logger *zap.Logger) *RasterExporter {
	if loc == nil {
		loc = time.UTC
	}
	e := &RasterExporter{
		archive:    archive,
		collection: collection,
		loc:        loc,
		logger:     logger,
	}
	if archive != nil {
		e.reducer = NewStatisticsReducer(archive)
	}
	return e
}

// Export returns ErrNoDataForDay when the day has no scenes or no valid
// pixels over the polygon.
func (e *RasterExporter) Export(ctx context.Context, day time.Time, poly models.Polygon, cloudPct float64) (string, error) {
	if e.archive == nil {
		return "", models.ErrMissingCredentials
	}

	geom, err := geometry.GeoJSON(poly)
	if err != nil {
		return "", fmt.Errorf("encode polygon: %w", err)
	}

	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, e.loc)
	end := start.AddDate(0, 0, 1)
	image := NDVIImage(e.collection)
	cloud := cloudPct

	red, err := e.reducer.Reduce(ctx, RegionQuery{
		Image:    image,
		Geometry: geom,
		Start:    start,
		End:      end,
		CloudPct: &cloud,
		Scale:    vegetationScale,
		Reducers: []string{"count"},
	})
	if err != nil {
		return "", models.NewProviderError(e.archive.Name(), "raster export", err)
	}
	if red.Matched == 0 || red.ValidPixels == nil || *red.ValidPixels == 0 {
		e.logger.Info("No data for raster export",
			zap.String("polygon_id", poly.ID),
			zap.String("day", start.Format(models.DateLayout)),
			zap.Int("matched", red.Matched))
		return "", models.ErrNoDataForDay
	}

	url, err := e.archive.DownloadURL(ctx, client.DownloadRequest{
		Collection: image.Collection,
		Intersects: geom,
		Datetime:   client.Interval(start, end),
		Filter:     client.CloudCoverBelow(cloudPct),
		Composite:  image.Composite,
		Expression: image.Expression,
		Band:       image.Band,
		Dimensions: rasterDimensions,
		Min:        -1,
		Max:        1,
		Bands:      1,
		CRS:        rasterCRS,
		Format:     rasterFormat,
	})
	if err != nil {
		return "", models.NewProviderError(e.archive.Name(), "raster export", err)
	}
	return url, nil
}
