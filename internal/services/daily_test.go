package services

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bobby-s-dev/field-aggregator/internal/models"
	"github.com/bobby-s-dev/field-aggregator/pkg/client"
)

func utc(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestDistinctDays_SortsAndDeduplicates(t *testing.T) {
	days := DistinctDays([]time.Time{
		utc("2024-06-10T06:20:00Z"),
		utc("2024-06-03T06:10:00Z"),
		utc("2024-06-10T06:30:00Z"),
		utc("2024-06-05T23:50:00Z"),
	}, time.UTC)

	require.Len(t, days, 3)
	assert.Equal(t, "2024-06-03", days[0].Format(models.DateLayout))
	assert.Equal(t, "2024-06-05", days[1].Format(models.DateLayout))
	assert.Equal(t, "2024-06-10", days[2].Format(models.DateLayout))
}

func TestDistinctDays_RespectsTimezone(t *testing.T) {
	almaty := time.FixedZone("UTC+5", 5*3600)
	days := DistinctDays([]time.Time{utc("2024-06-05T23:50:00Z")}, almaty)

	require.Len(t, days, 1)
	assert.Equal(t, "2024-06-06", days[0].Format(models.DateLayout))
}

func TestDailySeriesBuilder_Build(t *testing.T) {
	archive := &fakeArchive{
		acquisitions: []time.Time{
			utc("2024-06-10T06:20:00Z"),
			utc("2024-06-03T06:10:00Z"),
			utc("2024-06-10T06:25:00Z"),
			utc("2024-06-07T06:00:00Z"),
		},
		reduce: func(req client.ReduceRequest) (*client.ReduceResponse, error) {
			switch {
			case strings.HasPrefix(req.Datetime, "2024-06-03"):
				return props(1, map[string]string{"ndvi_min": "0.1", "ndvi_mean": "0.4", "ndvi_max": "0.7"}), nil
			case strings.HasPrefix(req.Datetime, "2024-06-07"):
				// fully clouded over the polygon
				return props(1, map[string]string{"ndvi_mean": "null"}), nil
			default:
				return props(2, map[string]string{"ndvi_mean": "0"}), nil
			}
		},
	}
	b := NewDailySeriesBuilder(archive, "sentinel-2-l2a", time.UTC, nil, zap.NewNop())

	series, err := b.Build(context.Background(), testPolygon, testFilter())
	require.NoError(t, err)
	assert.Equal(t, models.DailyOK, series.Status)
	assert.Empty(t, series.Message)

	require.Len(t, series.Records, 2)
	assert.Equal(t, "2024-06-03", series.Records[0].Date.Format(models.DateLayout))
	assert.Equal(t, 0.4, *series.Records[0].Mean)
	assert.Equal(t, "2024-06-10", series.Records[1].Date.Format(models.DateLayout))
	assert.Equal(t, 0.0, *series.Records[1].Mean)
	assert.Nil(t, series.Records[1].Min)

	reqs := archive.reduceRequests()
	require.Len(t, reqs, 3)
	assert.Equal(t, "2024-06-03T00:00:00Z/2024-06-04T00:00:00Z", reqs[0].Datetime)
	assert.Equal(t, "2024-06-07T00:00:00Z/2024-06-08T00:00:00Z", reqs[1].Datetime)
	assert.Equal(t, "2024-06-10T00:00:00Z/2024-06-11T00:00:00Z", reqs[2].Datetime)

	require.Len(t, archive.searches, 1)
	assert.Equal(t, "2024-06-01T00:00:00Z/2024-08-31T00:00:00Z", archive.searches[0].Datetime)
	assert.Equal(t, 20.0, archive.searches[0].Filter.Args[1])
}

func TestDailySeriesBuilder_NoImagery(t *testing.T) {
	archive := &fakeArchive{}
	b := NewDailySeriesBuilder(archive, "sentinel-2-l2a", time.UTC, nil, zap.NewNop())

	series, err := b.Build(context.Background(), testPolygon, testFilter())
	require.NoError(t, err)
	assert.NotNil(t, series.Records)
	assert.Empty(t, series.Records)
	assert.Equal(t, models.DailyNoImagery, series.Status)
	assert.Equal(t, MessageNoImagery, series.Message)
	assert.Empty(t, archive.reduceRequests())
}

func TestDailySeriesBuilder_NoStatistics(t *testing.T) {
	archive := &fakeArchive{
		acquisitions: []time.Time{utc("2024-06-03T06:10:00Z")},
		reduce: func(client.ReduceRequest) (*client.ReduceResponse, error) {
			return props(1, map[string]string{}), nil
		},
	}
	b := NewDailySeriesBuilder(archive, "sentinel-2-l2a", time.UTC, nil, zap.NewNop())

	series, err := b.Build(context.Background(), testPolygon, testFilter())
	require.NoError(t, err)
	assert.Empty(t, series.Records)
	assert.Equal(t, models.DailyNoStatistics, series.Status)
	assert.Equal(t, MessageNoStatistics, series.Message)
}

func TestDailySeriesBuilder_DayErrors(t *testing.T) {
	archive := &fakeArchive{
		acquisitions: []time.Time{utc("2024-06-03T06:10:00Z"), utc("2024-06-04T06:10:00Z")},
		reduce: func(req client.ReduceRequest) (*client.ReduceResponse, error) {
			if strings.HasPrefix(req.Datetime, "2024-06-03") {
				return nil, errUpstream
			}
			return props(1, map[string]string{"ndvi_mean": "0.3"}), nil
		},
	}
	b := NewDailySeriesBuilder(archive, "sentinel-2-l2a", time.UTC, nil, zap.NewNop())

	series, err := b.Build(context.Background(), testPolygon, testFilter())
	require.NoError(t, err)
	require.Len(t, series.Records, 1)
	assert.Equal(t, 4, series.Records[0].Date.Day())

	archive.reduce = func(client.ReduceRequest) (*client.ReduceResponse, error) {
		return nil, errUpstream
	}
	_, err = b.Build(context.Background(), testPolygon, testFilter())
	assert.ErrorIs(t, err, models.ErrProvider)
}

func TestDailySeriesBuilder_SearchFailure(t *testing.T) {
	b := NewDailySeriesBuilder(&fakeArchive{searchErr: errUpstream}, "s2", time.UTC, nil, zap.NewNop())
	_, err := b.Build(context.Background(), testPolygon, testFilter())
	assert.ErrorIs(t, err, models.ErrProvider)

	_, err = NewDailySeriesBuilder(nil, "s2", time.UTC, nil, zap.NewNop()).Build(context.Background(), testPolygon, testFilter())
	assert.ErrorIs(t, err, models.ErrMissingCredentials)
}

func TestDailySeriesBuilder_KeepsDaysFinishedBeforeDeadline(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	archive := &fakeArchive{
		acquisitions: []time.Time{
			utc("2024-06-03T06:00:00Z"),
			utc("2024-06-04T06:00:00Z"),
			utc("2024-06-05T06:00:00Z"),
			utc("2024-06-06T06:00:00Z"),
			utc("2024-06-07T06:00:00Z"),
		},
		reduce: func(client.ReduceRequest) (*client.ReduceResponse, error) {
			// the dispatch deadline passes while the third day is in flight
			if calls.Add(1) == 3 {
				cancel()
			}
			return props(1, map[string]string{"ndvi_mean": "0.5"}), nil
		},
	}
	b := NewDailySeriesBuilder(archive, "sentinel-2-l2a", time.UTC, nil, zap.NewNop())

	series, err := b.Build(ctx, testPolygon, testFilter())
	require.NoError(t, err)
	assert.Equal(t, models.DailyPartial, series.Status)
	assert.Equal(t, MessageDailyPartial, series.Message)
	require.Len(t, series.Records, 3)
	assert.Equal(t, "2024-06-05", series.Records[2].Date.Format(models.DateLayout))
	assert.Len(t, archive.reduceRequests(), 3)
	assert.True(t, DailyReady(series.Records))
}

func TestDailySeriesBuilder_DeadlineBeforeFirstDay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	archive := &fakeArchive{
		acquisitions: []time.Time{utc("2024-06-03T06:00:00Z"), utc("2024-06-04T06:00:00Z")},
		reduce: func(client.ReduceRequest) (*client.ReduceResponse, error) {
			cancel()
			return nil, context.Canceled
		},
	}
	b := NewDailySeriesBuilder(archive, "sentinel-2-l2a", time.UTC, nil, zap.NewNop())

	series, err := b.Build(ctx, testPolygon, testFilter())
	assert.ErrorIs(t, err, models.ErrProvider)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, series.Records)
}

func TestDailySeriesBuilder_DayTimeoutSkipsOnlySlowDay(t *testing.T) {
	archive := &fakeArchive{
		acquisitions: []time.Time{
			utc("2024-06-03T06:00:00Z"),
			utc("2024-06-04T06:00:00Z"),
			utc("2024-06-05T06:00:00Z"),
		},
		reduceCtx: func(ctx context.Context, req client.ReduceRequest) (*client.ReduceResponse, error) {
			if strings.HasPrefix(req.Datetime, "2024-06-04") {
				<-ctx.Done()
				return nil, ctx.Err()
			}
			return props(1, map[string]string{"ndvi_mean": "0.6"}), nil
		},
	}
	b := NewDailySeriesBuilder(archive, "sentinel-2-l2a", time.UTC, nil, zap.NewNop()).
		WithDayTimeout(20 * time.Millisecond)

	series, err := b.Build(context.Background(), testPolygon, testFilter())
	require.NoError(t, err)
	assert.Equal(t, models.DailyOK, series.Status)
	require.Len(t, series.Records, 2)
	assert.Equal(t, 3, series.Records[0].Date.Day())
	assert.Equal(t, 5, series.Records[1].Date.Day())
}
