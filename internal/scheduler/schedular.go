package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/bobby-s-dev/field-aggregator/internal/services"
)

// Scheduler runs periodic housekeeping: idle sessions and expired cache
// entries are evicted on a cron schedule.
type Scheduler struct {
	sessions *services.SessionStore
	cache    *services.ResultCache
	logger   *zap.Logger
	spec     string
	idleTTL  time.Duration

	cron    *cron.Cron
	entryID cron.EntryID

	mu              sync.Mutex
	running         bool
	lastRun         time.Time
	runs            int
	sessionsEvicted int
	cacheEvicted    int
}

func NewScheduler(sessions *services.SessionStore, cache *services.ResultCache, spec string, idleTTL time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		sessions: sessions,
		cache:    cache,
		logger:   logger,
		spec:     spec,
		idleTTL:  idleTTL,
		cron: cron.New(cron.WithChain(
			cron.Recover(cron.DefaultLogger),
			cron.SkipIfStillRunning(cron.DefaultLogger),
		)),
	}
}

func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	id, err := s.cron.AddFunc(s.spec, func() { s.runCleanup() })
	if err != nil {
		return fmt.Errorf("invalid janitor schedule %q: %w", s.spec, err)
	}
	s.entryID = id
	s.cron.Start()
	s.running = true

	s.logger.Info("Scheduler started",
		zap.String("schedule", s.spec),
		zap.Duration("session_idle_ttl", s.idleTTL),
		zap.Time("next_run", s.cron.Entry(id).Next))
	return nil
}

func (s *Scheduler) runCleanup() (int, int) {
	startTime := time.Now()

	sessions := s.sessions.EvictIdle(s.idleTTL)
	entries := s.cache.Cleanup()

	s.mu.Lock()
	s.lastRun = startTime
	s.runs++
	s.sessionsEvicted += sessions
	s.cacheEvicted += entries
	s.mu.Unlock()

	s.logger.Debug("Janitor run completed",
		zap.Int("sessions_evicted", sessions),
		zap.Int("cache_entries_evicted", entries),
		zap.Duration("duration", time.Since(startTime)))
	return sessions, entries
}

// Stop waits for a running job to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("Stopping scheduler")
	<-s.cron.Stop().Done()
}

// ForceRun runs the janitor synchronously and reports what it evicted.
func (s *Scheduler) ForceRun() (sessions, entries int) {
	s.logger.Info("Manually triggering janitor")
	return s.runCleanup()
}

func (s *Scheduler) GetStatus() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := map[string]interface{}{
		"running":          s.running,
		"schedule":         s.spec,
		"last_run":         s.lastRun,
		"runs":             s.runs,
		"sessions_evicted": s.sessionsEvicted,
		"cache_evicted":    s.cacheEvicted,
	}
	if s.running {
		status["next_run"] = s.cron.Entry(s.entryID).Next
	}
	return status
}
