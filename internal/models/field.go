package models

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

const DateLayout = "2006-01-02"

// Vertex is a (longitude, latitude) pair as sent by the map client.
type Vertex [2]float64

func (v Vertex) Lng() float64 { return v[0] }
func (v Vertex) Lat() float64 { return v[1] }

// UnmarshalJSON requires exactly two numbers; encoding/json would otherwise
// zero-fill short arrays and drop extra elements.
func (v *Vertex) UnmarshalJSON(data []byte) error {
	var pair []float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("%w: vertex must be [lng, lat]: %v", ErrInvalidGeometry, err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("%w: vertex must be [lng, lat], got %d numbers", ErrInvalidGeometry, len(pair))
	}
	v[0], v[1] = pair[0], pair[1]
	return nil
}

// Polygon is an implicitly closed ring of at least three vertices.
type Polygon struct {
	ID       string   `json:"polygonId"`
	Vertices []Vertex `json:"coords"`
}

type FilterConfig struct {
	DateStart time.Time `json:"dateStart"`
	DateEnd   time.Time `json:"dateEnd"`
	CloudPct  float64   `json:"cloudPct"`
}

// RegionStatistic holds a min/mean/max reduction. Nil fields mean no
// qualifying data, never zero.
type RegionStatistic struct {
	Min  *float64 `json:"min"`
	Mean *float64 `json:"mean"`
	Max  *float64 `json:"max"`
}

func (s RegionStatistic) Empty() bool {
	return s.Min == nil && s.Mean == nil && s.Max == nil
}

type DailyRecord struct {
	Date time.Time `json:"date"`
	Min  *float64  `json:"ndvi_min"`
	Mean *float64  `json:"ndvi_mean"`
	Max  *float64  `json:"ndvi_max"`
}

// MarshalJSON renders Date as a calendar day.
func (r DailyRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Date string   `json:"date"`
		Min  *float64 `json:"ndvi_min"`
		Mean *float64 `json:"ndvi_mean"`
		Max  *float64 `json:"ndvi_max"`
	}{r.Date.Format(DateLayout), r.Min, r.Mean, r.Max})
}

type ClimateMetrics struct {
	AirTemp  *float64 `json:"airTemp"`
	SoilTemp *float64 `json:"soilTemp"`
}

type ForecastMetrics struct {
	AirTempAvg     *float64 `json:"airTempAvg"`
	SurfaceTempAvg *float64 `json:"surfaceTempAvg"`
	Source         string   `json:"source,omitempty"`
	Entries        int      `json:"entries"`
}

type DailyStatus string

const (
	DailyOK           DailyStatus = "ok"
	DailyNoImagery    DailyStatus = "no_imagery"
	DailyNoStatistics DailyStatus = "no_statistics"
	// DailyPartial means the chain ran out of time; Records holds the days
	// finished before the deadline.
	DailyPartial      DailyStatus = "partial"
)

// DailySeries is the per-day breakdown plus an informational message when
// nothing could be produced.
type DailySeries struct {
	Records []DailyRecord `json:"daily"`
	Status  DailyStatus   `json:"status"`
	Message string        `json:"message,omitempty"`
}

type SummaryRecord struct {
	PolygonID          string
	District           string
	Year               int
	PeriodStart        time.Time
	PeriodEnd          time.Time
	AreaM2             float64
	VegetationMean     *float64
	VegetationMin      *float64
	VegetationMax      *float64
	AirTemp            *float64
	SoilTemp           *float64
	ForecastAirAvg     *float64
	ForecastSurfaceAvg *float64
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

// Finite reports whether v is present and a finite number.
func Finite(v *float64) bool {
	return v != nil && !math.IsNaN(*v) && !math.IsInf(*v, 0)
}
