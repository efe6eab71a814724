package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/bobby-s-dev/field-aggregator/internal/models"
	"github.com/bobby-s-dev/field-aggregator/pkg/client"
)

var errUpstream = errors.New("upstream unavailable")

var testPolygon = models.Polygon{
	ID: "field-1",
	Vertices: []models.Vertex{
		{71.0, 51.0}, {71.1, 51.0}, {71.1, 51.1}, {71.0, 51.1},
	},
}

func testFilter() models.FilterConfig {
	return models.FilterConfig{
		DateStart: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		DateEnd:   time.Date(2024, 8, 31, 0, 0, 0, 0, time.UTC),
		CloudPct:  20,
	}
}

// fakeArchive records requests and answers them through hooks.
type fakeArchive struct {
	mu           sync.Mutex
	acquisitions []time.Time
	searchErr    error
	reduce       func(req client.ReduceRequest) (*client.ReduceResponse, error)
	reduceCtx    func(ctx context.Context, req client.ReduceRequest) (*client.ReduceResponse, error)
	downloadURL  string
	searches     []client.SearchRequest
	reduces      []client.ReduceRequest
	downloads    []client.DownloadRequest
}

func (f *fakeArchive) Name() string { return "fake-archive" }

func (f *fakeArchive) Search(_ context.Context, req client.SearchRequest) ([]time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches = append(f.searches, req)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.acquisitions, nil
}

func (f *fakeArchive) Reduce(ctx context.Context, req client.ReduceRequest) (*client.ReduceResponse, error) {
	f.mu.Lock()
	f.reduces = append(f.reduces, req)
	hook, hookCtx := f.reduce, f.reduceCtx
	f.mu.Unlock()
	if hookCtx != nil {
		return hookCtx(ctx, req)
	}
	if hook == nil {
		return &client.ReduceResponse{}, nil
	}
	return hook(req)
}

func (f *fakeArchive) DownloadURL(_ context.Context, req client.DownloadRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads = append(f.downloads, req)
	if f.downloadURL == "" {
		return "", errUpstream
	}
	return f.downloadURL, nil
}

func (f *fakeArchive) reduceRequests() []client.ReduceRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]client.ReduceRequest(nil), f.reduces...)
}

// props builds a reduce response from raw JSON property values.
func props(matched int, kv map[string]string) *client.ReduceResponse {
	out := &client.ReduceResponse{Matched: matched, Properties: map[string]json.RawMessage{}}
	for k, v := range kv {
		out.Properties[k] = json.RawMessage(v)
	}
	return out
}

type fakeForecast struct {
	mu      sync.Mutex
	entries []client.ForecastEntry
	err     error
	creds   bool
	lat     float64
	lng     float64
}

func (f *fakeForecast) Name() string { return "fake-forecast" }
func (f *fakeForecast) HasCredentials() bool { return f.creds }

func (f *fakeForecast) GetForecast(_ context.Context, lat, lng float64) ([]client.ForecastEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lat, f.lng = lat, lng
	return f.entries, f.err
}
