package services

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bobby-s-dev/field-aggregator/internal/models"
)

// Metric names used for pending flags and per-metric errors.
const (
	MetricVegetation = "vegetation"
	MetricClimate    = "climate"
	MetricForecast   = "forecast"
	MetricDaily      = "daily"
)

var allMetrics = []string{MetricVegetation, MetricClimate, MetricForecast, MetricDaily}

// SessionState is everything derived from the session's current polygon.
type SessionState struct {
	Generation        uint64                 `json:"generation"`
	PolygonID         string                 `json:"polygonId,omitempty"`
	Polygon           *models.Polygon        `json:"polygon,omitempty"`
	AreaM2            *float64               `json:"areaM2"`
	District          string                 `json:"district,omitempty"`
	Filter            *models.FilterConfig   `json:"filter,omitempty"`
	Vegetation        models.RegionStatistic `json:"vegetation"`
	VegetationMessage string                 `json:"vegetationMessage,omitempty"`
	Climate           models.ClimateMetrics  `json:"climate"`
	ClimateMessage    string                 `json:"climateMessage,omitempty"`
	Forecast          models.ForecastMetrics `json:"forecast"`
	Daily             []models.DailyRecord   `json:"daily"`
	DailyStatus       models.DailyStatus     `json:"dailyStatus,omitempty"`
	DailyMessage      string                 `json:"dailyMessage,omitempty"`
	Pending           map[string]bool        `json:"pending"`
	Errors            map[string]string      `json:"errors"`
	ExportReady       bool                   `json:"exportReady"`
	DailyReady        bool                   `json:"dailyReady"`
}

func (st *SessionState) gateInputs() GateInputs {
	return GateInputs{
		VegetationMean: st.Vegetation.Mean,
		AirTemp:        st.Climate.AirTemp,
		SoilTemp:       st.Climate.SoilTemp,
		ForecastAir:    st.Forecast.AirTempAvg,
		ForecastSurf:   st.Forecast.SurfaceTempAvg,
	}
}

func (st *SessionState) clone() SessionState {
	out := *st
	if st.Polygon != nil {
		p := *st.Polygon
		p.Vertices = append([]models.Vertex(nil), st.Polygon.Vertices...)
		out.Polygon = &p
	}
	if st.Filter != nil {
		f := *st.Filter
		out.Filter = &f
	}
	out.Daily = append([]models.DailyRecord{}, st.Daily...)
	out.Pending = make(map[string]bool, len(st.Pending))
	for k, v := range st.Pending {
		out.Pending[k] = v
	}
	out.Errors = make(map[string]string, len(st.Errors))
	for k, v := range st.Errors {
		out.Errors[k] = v
	}
	return out
}

// Session owns one drawing context. All mutation goes through its mutex, and
// results from a superseded generation are dropped before they touch state.
type Session struct {
	id     string
	logger *zap.Logger

	mu         sync.Mutex
	state      SessionState
	lastActive time.Time
}

func newSession(id string, logger *zap.Logger) *Session {
	s := &Session{id: id, logger: logger, lastActive: time.Now()}
	s.state = freshState(0)
	return s
}

func freshState(gen uint64) SessionState {
	return SessionState{
		Generation: gen,
		Daily:      []models.DailyRecord{},
		Pending:    map[string]bool{},
		Errors:     map[string]string{},
	}
}

func (s *Session) ID() string {
	return s.id
}

// Begin starts a new drawing for poly, bumping the generation and marking
// every metric pending. The new generation is returned.
func (s *Session) Begin(poly models.Polygon, areaM2 float64, filter models.FilterConfig, district string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := freshState(s.state.Generation + 1)
	p := poly
	f := filter
	st.PolygonID = poly.ID
	st.Polygon = &p
	st.AreaM2 = models.Float(areaM2)
	st.Filter = &f
	st.District = district
	for _, m := range allMetrics {
		st.Pending[m] = true
	}
	s.state = st
	s.lastActive = time.Now()
	return st.Generation
}

// Discard drops the polygon and all derived metrics.
func (s *Session) Discard() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = freshState(s.state.Generation + 1)
	s.lastActive = time.Now()
	return s.state.Generation
}

func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Generation
}

// Apply runs fn against the live state only if gen is still current, then
// recomputes the export gates. It reports whether fn ran.
func (s *Session) Apply(gen uint64, fn func(st *SessionState)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.state.Generation {
		s.logger.Debug("Dropping stale result",
			zap.String("session_id", s.id),
			zap.Uint64("result_generation", gen),
			zap.Uint64("generation", s.state.Generation))
		return false
	}

	fn(&s.state)
	s.state.ExportReady = ExportReady(s.state.gateInputs())
	s.state.DailyReady = DailyReady(s.state.Daily)
	return true
}

// Snapshot returns a deep copy of the current state.
func (s *Session) Snapshot() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// SessionStore keeps sessions in memory until they go idle.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logger   *zap.Logger
}

func NewSessionStore(logger *zap.Logger) *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
		logger:   logger,
	}
}

func (s *SessionStore) Create() *Session {
	sess := newSession(uuid.NewString(), s.logger)

	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	s.logger.Info("Session created", zap.String("session_id", sess.id))
	return sess
}

func (s *SessionStore) Get(id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, models.ErrSessionNotFound
	}
	sess.touch()
	return sess, nil
}

func (s *SessionStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	return true
}

// EvictIdle removes sessions untouched for longer than ttl.
func (s *SessionStore) EvictIdle(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, sess := range s.sessions {
		if sess.idleSince().Before(cutoff) {
			delete(s.sessions, id)
			evicted++
		}
	}
	if evicted > 0 {
		s.logger.Info("Evicted idle sessions", zap.Int("count", evicted))
	}
	return evicted
}

func (s *SessionStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
