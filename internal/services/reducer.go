package services

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"time"

	"github.com/bobby-s-dev/field-aggregator/internal/models"
	"github.com/bobby-s-dev/field-aggregator/pkg/client"
)

// Archive is the subset of the archive client the providers depend on.
type Archive interface {
	Name() string
	Search(ctx context.Context, req client.SearchRequest) ([]time.Time, error)
	Reduce(ctx context.Context, req client.ReduceRequest) (*client.ReduceResponse, error)
	DownloadURL(ctx context.Context, req client.DownloadRequest) (string, error)
}

// ImageSpec describes the server-side image to build before reduction.
type ImageSpec struct {
	Collection string
	Composite  string
	Expression string
	Band       string
}

// RegionQuery is one reduction of one composite over one geometry.
type RegionQuery struct {
	Image    ImageSpec
	Geometry json.RawMessage
	Start    time.Time
	End      time.Time
	CloudPct *float64
	Scale    float64
	Reducers []string
}

// Reduction is the summary of a RegionQuery. Matched is the number of
// scenes in the filtered collection; zero means the collection was empty.
type Reduction struct {
	Stat        models.RegionStatistic
	Matched     int
	ValidPixels *float64
}

var minMeanMax = []string{"min", "mean", "max"}

// StatisticsReducer delegates min/mean/max reduction to the archive and
// reads the result back without confusing zero with missing.
type StatisticsReducer struct {
	archive Archive
}

func NewStatisticsReducer(archive Archive) *StatisticsReducer {
	return &StatisticsReducer{archive: archive}
}

func (r *StatisticsReducer) Reduce(ctx context.Context, q RegionQuery) (Reduction, error) {
	reducers := q.Reducers
	if len(reducers) == 0 {
		reducers = minMeanMax
	}

	req := client.ReduceRequest{
		Collection: q.Image.Collection,
		Intersects: q.Geometry,
		Datetime:   client.Interval(q.Start, q.End),
		Composite:  q.Image.Composite,
		Expression: q.Image.Expression,
		Band:       q.Image.Band,
		Reducers:   reducers,
		Scale:      q.Scale,
	}
	if q.CloudPct != nil {
		req.Filter = client.CloudCoverBelow(*q.CloudPct)
	}

	resp, err := r.archive.Reduce(ctx, req)
	if err != nil {
		return Reduction{}, err
	}

	out := Reduction{Matched: resp.Matched}
	if resp.Matched == 0 {
		return out, nil
	}
	out.Stat = ReadStatistic(resp.Properties, q.Image.Band)
	out.ValidPixels, _ = PropertyValue(resp.Properties, q.Image.Band+"_count")
	return out, nil
}

// ReadStatistic builds a RegionStatistic from "<band>_min", "<band>_mean"
// and "<band>_max" properties.
func ReadStatistic(props map[string]json.RawMessage, band string) models.RegionStatistic {
	minV, _ := PropertyValue(props, band+"_min")
	meanV, _ := PropertyValue(props, band+"_mean")
	maxV, _ := PropertyValue(props, band+"_max")
	return models.RegionStatistic{Min: minV, Mean: meanV, Max: maxV}
}

// PropertyValue returns the numeric value under key. Absent keys, JSON null,
// non-numeric payloads and non-finite numbers ("NaN", "Infinity") all read as
// no value. A literal 0 is a value.
func PropertyValue(props map[string]json.RawMessage, key string) (*float64, bool) {
	raw, ok := props[key]
	if !ok || len(raw) == 0 {
		return nil, false
	}

	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, false
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, false
		}
		v = parsed
	}
	if string(raw) == "null" {
		return nil, false
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, false
	}
	return &v, true
}
