package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bobby-s-dev/field-aggregator/internal/models"
)

func TestSession_StaleGenerationIsDropped(t *testing.T) {
	store := NewSessionStore(zap.NewNop())
	sess := store.Create()

	gen1 := sess.Begin(testPolygon, 1000, testFilter(), "")
	gen2 := sess.Begin(testPolygon, 2000, testFilter(), "")
	require.Equal(t, gen1+1, gen2)

	applied := sess.Apply(gen1, func(st *SessionState) {
		st.Vegetation.Mean = models.Float(0.9)
		delete(st.Pending, MetricVegetation)
	})
	assert.False(t, applied)

	snap := sess.Snapshot()
	assert.Equal(t, gen2, snap.Generation)
	assert.Nil(t, snap.Vegetation.Mean)
	assert.True(t, snap.Pending[MetricVegetation])
	assert.Equal(t, 2000.0, *snap.AreaM2)

	applied = sess.Apply(gen2, func(st *SessionState) {
		st.Vegetation.Mean = models.Float(0.4)
	})
	assert.True(t, applied)
	assert.Equal(t, 0.4, *sess.Snapshot().Vegetation.Mean)
}

func TestSession_ApplyRecomputesGate(t *testing.T) {
	sess := NewSessionStore(zap.NewNop()).Create()
	gen := sess.Begin(testPolygon, 1000, testFilter(), "Akmola")

	sess.Apply(gen, func(st *SessionState) {
		st.Vegetation.Mean = models.Float(0.4)
		st.Climate = models.ClimateMetrics{AirTemp: models.Float(18), SoilTemp: models.Float(25)}
	})
	assert.False(t, sess.Snapshot().ExportReady)

	sess.Apply(gen, func(st *SessionState) {
		st.Forecast = models.ForecastMetrics{AirTempAvg: models.Float(12), SurfaceTempAvg: models.Float(10)}
	})
	snap := sess.Snapshot()
	assert.True(t, snap.ExportReady)
	assert.False(t, snap.DailyReady)

	sess.Apply(gen, func(st *SessionState) {
		st.Daily = []models.DailyRecord{{Date: time.Now(), Mean: models.Float(0.3)}}
	})
	assert.True(t, sess.Snapshot().DailyReady)
}

func TestSession_DiscardResets(t *testing.T) {
	sess := NewSessionStore(zap.NewNop()).Create()
	gen := sess.Begin(testPolygon, 1000, testFilter(), "")
	sess.Apply(gen, func(st *SessionState) { st.Vegetation.Mean = models.Float(0.4) })

	next := sess.Discard()
	assert.Equal(t, gen+1, next)

	snap := sess.Snapshot()
	assert.Nil(t, snap.Polygon)
	assert.Nil(t, snap.AreaM2)
	assert.Nil(t, snap.Vegetation.Mean)
	assert.Empty(t, snap.Pending)
	assert.False(t, sess.Apply(gen, func(*SessionState) {}))
}

func TestSession_SnapshotIsACopy(t *testing.T) {
	sess := NewSessionStore(zap.NewNop()).Create()
	gen := sess.Begin(testPolygon, 1000, testFilter(), "")
	sess.Apply(gen, func(st *SessionState) {
		st.Daily = []models.DailyRecord{{Mean: models.Float(0.3)}}
	})

	snap := sess.Snapshot()
	snap.Daily[0].Mean = models.Float(-1)
	snap.Pending["other"] = true
	snap.Polygon.Vertices[0] = models.Vertex{0, 0}

	again := sess.Snapshot()
	assert.Equal(t, 0.3, *again.Daily[0].Mean)
	assert.NotContains(t, again.Pending, "other")
	assert.Equal(t, 71.0, again.Polygon.Vertices[0].Lng())
}

func TestSessionStore(t *testing.T) {
	store := NewSessionStore(zap.NewNop())
	a := store.Create()
	b := store.Create()
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, 2, store.Count())

	got, err := store.Get(a.ID())
	require.NoError(t, err)
	assert.Same(t, a, got)

	_, err = store.Get("missing")
	assert.ErrorIs(t, err, models.ErrSessionNotFound)

	b.mu.Lock()
	b.lastActive = time.Now().Add(-time.Hour)
	b.mu.Unlock()

	assert.Equal(t, 1, store.EvictIdle(30*time.Minute))
	assert.Equal(t, 1, store.Count())
	assert.Equal(t, 0, store.EvictIdle(0))

	assert.True(t, store.Delete(a.ID()))
	assert.False(t, store.Delete(a.ID()))
}
