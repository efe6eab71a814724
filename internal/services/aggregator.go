package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bobby-s-dev/field-aggregator/internal/models"
)

const (
	defaultDispatchTimeout = 5 * time.Minute
	defaultDailyTimeout    = 30 * time.Minute
)

// Providers groups the field-level data sources the aggregator fans out to.
type Providers struct {
	Vegetation *VegetationProvider
	Climate    *ClimateProvider
	Forecast   *ForecastService
	Daily      *DailySeriesBuilder
	Exporter   *RasterExporter
}

// Aggregator serves the stateless field queries through the result cache
// and dispatches the four top-level queries for a session's polygon.
type Aggregator struct {
	providers Providers
	cache     *ResultCache
	sessions  *SessionStore
	logger    *zap.Logger
	timeout   time.Duration

	// dailyTimeout replaces timeout for the daily chain, which grows with
	// the number of acquisition days.
	dailyTimeout time.Duration

	mu            sync.RWMutex
	lastDispatch  time.Time
	successCount  map[string]int
	failureCount  map[string]int
	staleDropped  int
	dispatchCount int
}

func NewAggregator(providers Providers, cache *ResultCache, sessions *SessionStore, timeout time.Duration, logger *zap.Logger) *Aggregator {
	if timeout <= 0 {
		timeout = defaultDispatchTimeout
	}
	return &Aggregator{
		providers:    providers,
		cache:        cache,
		sessions:     sessions,
		logger:       logger,
		timeout:      timeout,
		dailyTimeout: defaultDailyTimeout,
		successCount: make(map[string]int),
		failureCount: make(map[string]int),
	}
}

func (a *Aggregator) WithDailyTimeout(d time.Duration) *Aggregator {
	if d > 0 {
		a.dailyTimeout = d
	}
	return a
}

func (a *Aggregator) Sessions() *SessionStore {
	return a.sessions
}

func (a *Aggregator) Cache() *ResultCache {
	return a.cache
}

func (a *Aggregator) Vegetation(ctx context.Context, poly models.Polygon, filter models.FilterConfig) (VegetationResult, error) {
	key := CacheKey(MetricVegetation+":"+a.providers.Vegetation.Collection(), poly, filter)
	return cached(a.cache, key, func() (VegetationResult, error) {
		return a.providers.Vegetation.Summary(ctx, poly, filter)
	})
}

func (a *Aggregator) Climate(ctx context.Context, poly models.Polygon, filter models.FilterConfig) (ClimateResult, error) {
	return cached(a.cache, CacheKey(MetricClimate, poly, filter), func() (ClimateResult, error) {
		return a.providers.Climate.Metrics(ctx, poly, filter)
	})
}

func (a *Aggregator) Forecast(ctx context.Context, poly models.Polygon) (models.ForecastMetrics, error) {
	return cached(a.cache, CacheKey(MetricForecast, poly, models.FilterConfig{}), func() (models.ForecastMetrics, error) {
		return a.providers.Forecast.Averages(ctx, poly)
	})
}

// Daily skips the cache for truncated series so a later request can finish them.
func (a *Aggregator) Daily(ctx context.Context, poly models.Polygon, filter models.FilterConfig) (models.DailySeries, error) {
	key := CacheKey(MetricDaily, poly, filter)
	if v, ok := a.cache.Get(key); ok {
		if series, ok := v.(models.DailySeries); ok {
			return series, nil
		}
	}
	series, err := a.providers.Daily.Build(ctx, poly, filter)
	if err != nil {
		return series, err
	}
	if series.Status != models.DailyPartial {
		a.cache.Set(key, series)
	}
	return series, nil
}

// ExportRaster is never cached; download references expire on the archive side.
func (a *Aggregator) ExportRaster(ctx context.Context, day time.Time, poly models.Polygon, cloudPct float64) (string, error) {
	return a.providers.Exporter.Export(ctx, day, poly, cloudPct)
}

// Dispatch is the handle for one polygon's fan-out. Done closes once all
// four metrics have settled, whether applied or dropped as stale.
type Dispatch struct {
	Generation uint64
	Done       <-chan struct{}
}

// Dispatch starts a new drawing on sess and queries the four metrics
// concurrently. The calls outlive the HTTP request that triggered them, so
// they run on a detached context bounded by the aggregator timeout.
func (a *Aggregator) Dispatch(sess *Session, poly models.Polygon, areaM2 float64, filter models.FilterConfig, district string) Dispatch {
	gen := sess.Begin(poly, areaM2, filter, district)

	a.mu.Lock()
	a.lastDispatch = time.Now()
	a.dispatchCount++
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	dailyCtx, dailyCancel := context.WithTimeout(context.Background(), a.dailyTimeout)
	done := make(chan struct{})
	startTime := time.Now()

	var wg sync.WaitGroup
	run := func(metric string, fetch func() (func(st *SessionState), error)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			apply, err := fetch()
			a.settle(sess, gen, metric, apply, err)
		}()
	}

	run(MetricVegetation, func() (func(st *SessionState), error) {
		res, err := a.Vegetation(ctx, poly, filter)
		return func(st *SessionState) {
			st.Vegetation = res.Stat
			st.VegetationMessage = res.Message
		}, err
	})
	run(MetricClimate, func() (func(st *SessionState), error) {
		res, err := a.Climate(ctx, poly, filter)
		return func(st *SessionState) {
			st.Climate = res.Metrics
			st.ClimateMessage = res.Message
		}, err
	})
	run(MetricForecast, func() (func(st *SessionState), error) {
		res, err := a.Forecast(ctx, poly)
		return func(st *SessionState) {
			st.Forecast = res
		}, err
	})
	run(MetricDaily, func() (func(st *SessionState), error) {
		res, err := a.Daily(dailyCtx, poly, filter)
		return func(st *SessionState) {
			if res.Records != nil {
				st.Daily = res.Records
			}
			st.DailyStatus = res.Status
			st.DailyMessage = res.Message
		}, err
	})

	go func() {
		wg.Wait()
		cancel()
		dailyCancel()
		a.logger.Info("Polygon dispatch settled",
			zap.String("session_id", sess.ID()),
			zap.String("polygon_id", poly.ID),
			zap.Uint64("generation", gen),
			zap.Duration("duration", time.Since(startTime)))
		close(done)
	}()

	return Dispatch{Generation: gen, Done: done}
}

// settle applies one metric's outcome. A failed metric stays null and
// records its error; siblings are unaffected.
func (a *Aggregator) settle(sess *Session, gen uint64, metric string, apply func(st *SessionState), err error) {
	applied := sess.Apply(gen, func(st *SessionState) {
		delete(st.Pending, metric)
		if err != nil {
			st.Errors[metric] = err.Error()
			return
		}
		apply(st)
	})

	a.mu.Lock()
	defer a.mu.Unlock()
	if !applied {
		a.staleDropped++
		return
	}
	if err != nil {
		a.failureCount[metric]++
		a.logger.Error("Metric failed",
			zap.String("session_id", sess.ID()),
			zap.String("metric", metric),
			zap.Uint64("generation", gen),
			zap.Error(err))
		return
	}
	a.successCount[metric]++
}

func (a *Aggregator) GetLastDispatchTime() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastDispatch
}

func (a *Aggregator) GetStats() map[string]interface{} {
	a.mu.RLock()
	defer a.mu.RUnlock()

	success := make(map[string]int, len(a.successCount))
	for k, v := range a.successCount {
		success[k] = v
	}
	failure := make(map[string]int, len(a.failureCount))
	for k, v := range a.failureCount {
		failure[k] = v
	}

	return map[string]interface{}{
		"last_dispatch_time": a.lastDispatch,
		"dispatch_count":     a.dispatchCount,
		"success_count":      success,
		"failure_count":      failure,
		"stale_dropped":      a.staleDropped,
		"sessions":           a.sessions.Count(),
		"cache_stats":        a.cache.GetStats(),
	}
}
