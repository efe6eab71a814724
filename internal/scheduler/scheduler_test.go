package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bobby-s-dev/field-aggregator/internal/services"
)

func TestScheduler_ForceRunEvictsIdleSessions(t *testing.T) {
	logger := zap.NewNop()
	store := services.NewSessionStore(logger)
	cache := services.NewResultCache(time.Minute, 10, logger)
	store.Create()

	s := NewScheduler(store, cache, "@every 1h", time.Nanosecond, logger)
	time.Sleep(time.Millisecond)

	sessions, entries := s.ForceRun()
	assert.Equal(t, 1, sessions)
	assert.Equal(t, 0, entries)
	assert.Equal(t, 0, store.Count())

	status := s.GetStatus()
	assert.Equal(t, 1, status["runs"])
	assert.Equal(t, 1, status["sessions_evicted"])
}

func TestScheduler_StartStop(t *testing.T) {
	logger := zap.NewNop()
	s := NewScheduler(services.NewSessionStore(logger), services.NewResultCache(time.Minute, 10, logger), "@every 1m", time.Hour, logger)

	require.NoError(t, s.Start())
	require.NoError(t, s.Start())
	status := s.GetStatus()
	assert.Equal(t, true, status["running"])
	assert.Contains(t, status, "next_run")

	s.Stop()
	assert.Equal(t, false, s.GetStatus()["running"])
	s.Stop()
}

func TestScheduler_RejectsBadSchedule(t *testing.T) {
	logger := zap.NewNop()
	s := NewScheduler(services.NewSessionStore(logger), services.NewResultCache(time.Minute, 10, logger), "every now and then", time.Hour, logger)
	assert.Error(t, s.Start())
}
