package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/bobby-s-dev/field-aggregator/internal/geometry"
	"github.com/bobby-s-dev/field-aggregator/internal/models"
	"github.com/bobby-s-dev/field-aggregator/pkg/client"
)

var errAllDaysFailed = errors.New("every acquisition day failed")

// DailySeriesBuilder reduces NDVI once per distinct acquisition day. Days run
// one after another, paced by the limiter, to stay inside the archive quota.
type DailySeriesBuilder struct {
	archive    Archive
	reducer    *StatisticsReducer
	collection string
	loc        *time.Location
	limiter    *rate.Limiter
	dayTimeout time.Duration
	logger     *zap.Logger
}

func NewDailySeriesBuilder(archive Archive, collection string, loc *time.Location, limiter *rate.Limiter, logger *zap.Logger) *DailySeriesBuilder {
	if loc == nil {
		loc = time.UTC
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	b := &DailySeriesBuilder{
		archive:    archive,
		collection: collection,
		loc:        loc,
		limiter:    limiter,
		logger:     logger,
	}
	if archive != nil {
		b.reducer = NewStatisticsReducer(archive)
	}
	return b
}

// WithDayTimeout bounds each day's reduction on its own, so one slow day
// cannot consume the budget of the whole chain.
func (b *DailySeriesBuilder) WithDayTimeout(d time.Duration) *DailySeriesBuilder {
	b.dayTimeout = d
	return b
}

func (b *DailySeriesBuilder) Location() *time.Location {
	return b.loc
}

func (b *DailySeriesBuilder) Build(ctx context.Context, poly models.Polygon, filter models.FilterConfig) (models.DailySeries, error) {
	if b.archive == nil {
		return models.DailySeries{}, models.ErrMissingCredentials
	}

	geom, err := geometry.GeoJSON(poly)
	if err != nil {
		return models.DailySeries{}, fmt.Errorf("encode polygon: %w", err)
	}

	acquisitions, err := b.archive.Search(ctx, client.SearchRequest{
		Collections: []string{b.collection},
		Intersects:  geom,
		Datetime:    client.Interval(filter.DateStart, filter.DateEnd),
		Filter:      client.CloudCoverBelow(filter.CloudPct),
	})
	if err != nil {
		return models.DailySeries{}, models.NewProviderError(b.archive.Name(), "daily search", err)
	}

	days := DistinctDays(acquisitions, b.loc)
	if len(days) == 0 {
		return models.DailySeries{
			Records: []models.DailyRecord{},
			Status:  models.DailyNoImagery,
			Message: MessageNoImagery,
		}, nil
	}

	records := make([]models.DailyRecord, 0, len(days))
	failed := 0
	var lastErr error
	for i, day := range days {
		// Wait also fails early when the next token lies past the deadline.
		if err := b.limiter.Wait(ctx); err != nil {
			return b.truncated(poly, records, len(days)-i, err)
		}

		red, err := b.reduceDay(ctx, geom, day, filter.CloudPct)
		if err != nil {
			if ctx.Err() != nil {
				return b.truncated(poly, records, len(days)-i, ctx.Err())
			}
			b.logger.Warn("Daily reduction failed, skipping day",
				zap.String("polygon_id", poly.ID),
				zap.String("day", day.Format(models.DateLayout)),
				zap.Error(err))
			failed++
			lastErr = err
			continue
		}
		if red.Stat.Mean == nil {
			continue
		}
		records = append(records, models.DailyRecord{
			Date: day,
			Min:  red.Stat.Min,
			Mean: red.Stat.Mean,
			Max:  red.Stat.Max,
		})
	}

	if failed == len(days) {
		return models.DailySeries{}, models.NewProviderError(b.archive.Name(), "daily reduce",
			fmt.Errorf("%w: %v", errAllDaysFailed, lastErr))
	}

	b.logger.Info("Daily series built",
		zap.String("polygon_id", poly.ID),
		zap.Int("days", len(days)),
		zap.Int("records", len(records)),
		zap.Int("failed", failed))

	if len(records) == 0 {
		return models.DailySeries{
			Records: records,
			Status:  models.DailyNoStatistics,
			Message: MessageNoStatistics,
		}, nil
	}
	return models.DailySeries{Records: records, Status: models.DailyOK}, nil
}

func (b *DailySeriesBuilder) reduceDay(ctx context.Context, geom json.RawMessage, day time.Time, cloudPct float64) (Reduction, error) {
	if b.dayTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.dayTimeout)
		defer cancel()
	}
	return b.reducer.Reduce(ctx, RegionQuery{
		Image:    NDVIImage(b.collection),
		Geometry: geom,
		Start:    day,
		End:      day.AddDate(0, 0, 1),
		CloudPct: &cloudPct,
		Scale:    vegetationScale,
	})
}

// truncated keeps the days finished before the chain's context ended. With
// nothing finished the cancellation is the result.
func (b *DailySeriesBuilder) truncated(poly models.Polygon, records []models.DailyRecord, remaining int, cause error) (models.DailySeries, error) {
	if len(records) == 0 {
		return models.DailySeries{}, models.NewProviderError(b.archive.Name(), "daily reduce", cause)
	}
	b.logger.Warn("Daily series truncated",
		zap.String("polygon_id", poly.ID),
		zap.Int("records", len(records)),
		zap.Int("remaining_days", remaining),
		zap.Error(cause))
	return models.DailySeries{
		Records: records,
		Status:  models.DailyPartial,
		Message: MessageDailyPartial,
	}, nil
}

// DistinctDays truncates acquisition times to midnight in loc and returns the
// unique days in ascending order.
func DistinctDays(times []time.Time, loc *time.Location) []time.Time {
	seen := make(map[string]struct{}, len(times))
	days := make([]time.Time, 0, len(times))
	for _, t := range times {
		local := t.In(loc)
		day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
		key := day.Format(models.DateLayout)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days
}
