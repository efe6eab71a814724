package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bobby-s-dev/field-aggregator/internal/models"
	"github.com/bobby-s-dev/field-aggregator/internal/services"
	"github.com/bobby-s-dev/field-aggregator/pkg/client"
)

const squareCoords = `[[71.0,51.0],[71.1,51.0],[71.1,51.1],[71.0,51.1]]`

type stubArchive struct {
	mu           sync.Mutex
	matched      int
	values       map[string]string
	acquisitions []time.Time
	err          error
	url          string
}

func (s *stubArchive) Name() string { return "stub" }

func (s *stubArchive) Search(context.Context, client.SearchRequest) ([]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquisitions, s.err
}

func (s *stubArchive) Reduce(_ context.Context, req client.ReduceRequest) (*client.ReduceResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	resp := &client.ReduceResponse{Matched: s.matched, Properties: map[string]json.RawMessage{}}
	for _, r := range req.Reducers {
		key := req.Band + "_" + r
		if v, ok := s.values[r]; ok {
			resp.Properties[key] = json.RawMessage(v)
		}
	}
	return resp, nil
}

func (s *stubArchive) DownloadURL(context.Context, client.DownloadRequest) (string, error) {
	return s.url, nil
}

type stubForecast struct {
	creds bool
}

func (s stubForecast) Name() string { return "stub-forecast" }
func (s stubForecast) HasCredentials() bool { return s.creds }

func (s stubForecast) GetForecast(context.Context, float64, float64) ([]client.ForecastEntry, error) {
	return []client.ForecastEntry{
		{AirTemp: models.Float(11), SurfaceTemp: models.Float(9)},
		{AirTemp: models.Float(13), SurfaceTemp: models.Float(11)},
	}, nil
}

type stubYield struct {
	got []byte
	err error
}

func (s *stubYield) Predict(_ context.Context, _ string, data []byte, adjust bool) (*client.YieldPrediction, error) {
	s.got = data
	if s.err != nil {
		return nil, s.err
	}
	return &client.YieldPrediction{Rows: 1, Records: []map[string]interface{}{{"adjusted": adjust}}}, nil
}

func (s *stubYield) Health(context.Context) (*client.YieldHealth, error) {
	return &client.YieldHealth{Status: "ok", BNSRows: 12}, nil
}

func newTestApp(archive *stubArchive, forecast stubForecast, yield *stubYield) *fiber.App {
	logger := zap.NewNop()
	var a services.Archive = archive
	agg := services.NewAggregator(services.Providers{
		Vegetation: services.NewVegetationProvider(a, "sentinel-2-l2a", logger),
		Climate:    services.NewClimateProvider(a, logger),
		Forecast:   services.NewForecastService(forecast, logger),
		Daily:      services.NewDailySeriesBuilder(a, "sentinel-2-l2a", time.UTC, nil, logger),
		Exporter:   services.NewRasterExporter(a, "sentinel-2-l2a", time.UTC, logger),
	}, services.NewResultCache(0, 0, logger), services.NewSessionStore(logger), 5*time.Second, logger)

	h := NewHandler(agg, yield, Defaults{
		DateStart: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		DateEnd:   time.Date(2024, 8, 31, 0, 0, 0, 0, time.UTC),
		CloudPct:  20,
	}, logger)

	app := fiber.New()
	SetupRoutes(app, h, logger)
	return app
}

func fullArchive() *stubArchive {
	return &stubArchive{
		matched:      4,
		values:       map[string]string{"min": "0.1", "mean": "0.5", "max": "0.9", "count": "1200"},
		acquisitions: []time.Time{time.Date(2024, 6, 3, 6, 0, 0, 0, time.UTC)},
		url:          "https://archive.example.org/ndvi.tif",
	}
}

func do(t *testing.T, app *fiber.App, method, path, body string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]interface{}{}
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func TestVegetation_InvalidGeometry(t *testing.T) {
	app := newTestApp(fullArchive(), stubForecast{creds: true}, &stubYield{})

	code, body := do(t, app, http.MethodPost, "/api/v1/ndvi", `{"coords":[[71,51],[71.1,51]]}`)
	assert.Equal(t, fiber.StatusBadRequest, code)
	assert.Contains(t, body["error"], "invalid geometry")

	code, body = do(t, app, http.MethodPost, "/api/v1/ndvi", `{"coords":[[71,95],[71.1,95],[71.1,200]]}`)
	assert.Equal(t, fiber.StatusBadRequest, code)
	assert.Contains(t, body["error"], "invalid geometry")

	code, body = do(t, app, http.MethodPost, "/api/v1/ndvi", `{"coords":[[71],[72],[73]]}`)
	assert.Equal(t, fiber.StatusBadRequest, code)
	assert.Contains(t, body["error"], "invalid geometry")
}

func TestVegetation_RejectsBadFilter(t *testing.T) {
	app := newTestApp(fullArchive(), stubForecast{creds: true}, &stubYield{})

	code, body := do(t, app, http.MethodPost, "/api/v1/ndvi", `{"coords":`+squareCoords+`,"cloudPct":150}`)
	assert.Equal(t, fiber.StatusBadRequest, code)
	assert.Contains(t, body["error"], "cloudPct")

	code, _ = do(t, app, http.MethodPost, "/api/v1/ndvi", `{"coords":`+squareCoords+`,"dateStart":"01/06/2024"}`)
	assert.Equal(t, fiber.StatusBadRequest, code)
}

func TestVegetation_NoImageryIsNotAnError(t *testing.T) {
	app := newTestApp(&stubArchive{}, stubForecast{creds: true}, &stubYield{})

	code, body := do(t, app, http.MethodPost, "/api/v1/ndvi", `{"coords":`+squareCoords+`}`)
	assert.Equal(t, fiber.StatusOK, code)
	assert.Nil(t, body["ndvi"])
	assert.Nil(t, body["ndviMin"])
	assert.Nil(t, body["ndviMax"])
	assert.Contains(t, body, "ndvi")
	assert.Equal(t, services.MessageNoImagery, body["message"])
}

func TestVegetation_Values(t *testing.T) {
	archive := fullArchive()
	archive.values["mean"] = "0"
	app := newTestApp(archive, stubForecast{creds: true}, &stubYield{})

	code, body := do(t, app, http.MethodPost, "/api/v1/ndvi", `{"coords":`+squareCoords+`,"dateStart":"2023-06-01","dateEnd":"2023-08-31","cloudPct":10}`)
	assert.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, 0.0, body["ndvi"])
	assert.Equal(t, 0.1, body["ndviMin"])
	assert.NotContains(t, body, "message")
}

func TestVegetation_ProviderError(t *testing.T) {
	app := newTestApp(&stubArchive{err: errors.New("quota exceeded")}, stubForecast{creds: true}, &stubYield{})

	code, body := do(t, app, http.MethodPost, "/api/v1/ndvi", `{"coords":`+squareCoords+`}`)
	assert.Equal(t, fiber.StatusInternalServerError, code)
	assert.Contains(t, body["error"], "quota exceeded")
}

func TestClimateAndForecast(t *testing.T) {
	archive := fullArchive()
	app := newTestApp(archive, stubForecast{creds: true}, &stubYield{})

	code, body := do(t, app, http.MethodPost, "/api/v1/climate", `{"coords":`+squareCoords+`}`)
	assert.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, 0.5, body["airTemp"])
	assert.Equal(t, 0.5, body["soilTemp"])

	code, body = do(t, app, http.MethodPost, "/api/v1/forecast", `{"coords":`+squareCoords+`}`)
	assert.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, 12.0, body["airTempAvg"])
	assert.Equal(t, 10.0, body["surfaceTempAvg"])

	app = newTestApp(archive, stubForecast{creds: false}, &stubYield{})
	code, body = do(t, app, http.MethodPost, "/api/v1/forecast", `{"coords":`+squareCoords+`}`)
	assert.Equal(t, fiber.StatusInternalServerError, code)
	assert.Contains(t, body["error"], "credentials")
}

func TestDailySeriesEndpoint(t *testing.T) {
	app := newTestApp(fullArchive(), stubForecast{creds: true}, &stubYield{})

	code, body := do(t, app, http.MethodPost, "/api/v1/ndvi/daily", `{"coords":`+squareCoords+`}`)
	assert.Equal(t, fiber.StatusOK, code)
	daily := body["daily"].([]interface{})
	require.Len(t, daily, 1)
	first := daily[0].(map[string]interface{})
	assert.Equal(t, "2024-06-03", first["date"])
	assert.Equal(t, 0.5, first["ndvi_mean"])

	app = newTestApp(&stubArchive{}, stubForecast{creds: true}, &stubYield{})
	code, body = do(t, app, http.MethodPost, "/api/v1/ndvi/daily", `{"coords":`+squareCoords+`}`)
	assert.Equal(t, fiber.StatusOK, code)
	assert.Empty(t, body["daily"])
	assert.Equal(t, services.MessageNoImagery, body["message"])
}

func TestRasterExportEndpoint(t *testing.T) {
	app := newTestApp(fullArchive(), stubForecast{creds: true}, &stubYield{})
	code, body := do(t, app, http.MethodPost, "/api/v1/ndvi/export", `{"day":"2024-06-03","coords":`+squareCoords+`}`)
	assert.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, "https://archive.example.org/ndvi.tif", body["tiffUrl"])

	app = newTestApp(&stubArchive{}, stubForecast{creds: true}, &stubYield{})
	code, body = do(t, app, http.MethodPost, "/api/v1/ndvi/export", `{"day":"2024-06-03","coords":`+squareCoords+`}`)
	assert.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, models.ErrNoDataForDay.Error(), body["error"])

	code, _ = do(t, app, http.MethodPost, "/api/v1/ndvi/export", `{"coords":`+squareCoords+`}`)
	assert.Equal(t, fiber.StatusBadRequest, code)
}

func TestArea(t *testing.T) {
	app := newTestApp(fullArchive(), stubForecast{creds: true}, &stubYield{})
	code, body := do(t, app, http.MethodPost, "/api/v1/geometry/area", `{"coords":`+squareCoords+`}`)
	assert.Equal(t, fiber.StatusOK, code)
	assert.Greater(t, body["areaM2"].(float64), 7.5e7)
	centroid := body["centroid"].([]interface{})
	assert.InDelta(t, 71.05, centroid[0].(float64), 1e-9)
}

func waitSettled(t *testing.T, app *fiber.App, id string) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		code, body := do(t, app, http.MethodGet, "/api/v1/sessions/"+id, "")
		require.Equal(t, fiber.StatusOK, code)
		if len(body["pending"].(map[string]interface{})) == 0 {
			return body
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("session did not settle")
	return nil
}

func TestSessionFlow(t *testing.T) {
	yield := &stubYield{}
	app := newTestApp(fullArchive(), stubForecast{creds: true}, yield)

	code, body := do(t, app, http.MethodPost, "/api/v1/sessions", "")
	require.Equal(t, fiber.StatusCreated, code)
	id := body["sessionId"].(string)

	code, _ = do(t, app, http.MethodGet, "/api/v1/sessions/"+id+"/summary.csv", "")
	assert.Equal(t, fiber.StatusConflict, code)

	code, body = do(t, app, http.MethodPost, "/api/v1/sessions/"+id+"/polygon", `{"coords":`+squareCoords+`,"district":"Akmola"}`)
	require.Equal(t, fiber.StatusAccepted, code)
	assert.Equal(t, 1.0, body["generation"])
	assert.NotEmpty(t, body["polygonId"])

	snap := waitSettled(t, app, id)
	assert.Equal(t, true, snap["exportReady"])
	assert.Equal(t, true, snap["dailyReady"])
	assert.Equal(t, id, snap["sessionId"])

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+id+"/summary.csv", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/csv")
	csv, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.True(t, strings.HasPrefix(string(csv), "polygon_id,district,year,"))
	assert.Contains(t, string(csv), ",Akmola,2024,2024-06-01,2024-08-31,")

	req = httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+id+"/daily.csv", nil)
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	daily, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "date,ndvi_min,ndvi_mean,ndvi_max\n2024-06-03,0.100,0.500,0.900\n", string(daily))

	code, body = do(t, app, http.MethodPost, "/api/v1/sessions/"+id+"/export", `{"day":"2024-06-03"}`)
	assert.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, "https://archive.example.org/ndvi.tif", body["tiffUrl"])

	code, _ = do(t, app, http.MethodPost, "/api/v1/sessions/"+id+"/yield?mvp_adjust=true", "")
	assert.Equal(t, fiber.StatusOK, code)
	assert.Contains(t, string(yield.got), "Akmola")

	code, body = do(t, app, http.MethodDelete, "/api/v1/sessions/"+id+"/polygon", "")
	assert.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, 2.0, body["generation"])

	code, _ = do(t, app, http.MethodGet, "/api/v1/sessions/"+id+"/summary.csv", "")
	assert.Equal(t, fiber.StatusConflict, code)
	code, _ = do(t, app, http.MethodPost, "/api/v1/sessions/"+id+"/export", `{"day":"2024-06-03"}`)
	assert.Equal(t, fiber.StatusConflict, code)
}

func TestSessionInvalidPolygonDiscardsPrevious(t *testing.T) {
	app := newTestApp(fullArchive(), stubForecast{creds: true}, &stubYield{})
	_, body := do(t, app, http.MethodPost, "/api/v1/sessions", "")
	id := body["sessionId"].(string)

	do(t, app, http.MethodPost, "/api/v1/sessions/"+id+"/polygon", `{"coords":`+squareCoords+`}`)
	waitSettled(t, app, id)

	code, _ := do(t, app, http.MethodPost, "/api/v1/sessions/"+id+"/polygon", `{"coords":[[71,51]]}`)
	assert.Equal(t, fiber.StatusBadRequest, code)

	_, snap := do(t, app, http.MethodGet, "/api/v1/sessions/"+id, "")
	assert.Equal(t, 2.0, snap["generation"])
	assert.Nil(t, snap["areaM2"])
	assert.Equal(t, false, snap["exportReady"])
}

func TestSessionNotFound(t *testing.T) {
	app := newTestApp(fullArchive(), stubForecast{creds: true}, &stubYield{})
	for _, path := range []string{"/api/v1/sessions/nope", "/api/v1/sessions/nope/summary.csv", "/api/v1/sessions/nope/daily.csv"} {
		code, body := do(t, app, http.MethodGet, path, "")
		assert.Equal(t, fiber.StatusNotFound, code, path)
		assert.Equal(t, models.ErrSessionNotFound.Error(), body["error"])
	}
}

func TestPredictYield(t *testing.T) {
	yield := &stubYield{}
	app := newTestApp(fullArchive(), stubForecast{creds: true}, yield)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", "fields.csv")
	require.NoError(t, err)
	_, _ = part.Write([]byte("district,year\nAkmola,2024\n"))
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/yield/predict?mvp_adjust=true", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "district,year\nAkmola,2024\n", string(yield.got))

	var out client.YieldPrediction
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, true, out.Records[0]["adjusted"])

	yield.err = fmt.Errorf("%w: CSV must include 'district' column", client.ErrYieldRejected)
	var buf2 bytes.Buffer
	w2 := multipart.NewWriter(&buf2)
	part, _ = w2.CreateFormFile("file", "bad.csv")
	_, _ = part.Write([]byte("year\n2024\n"))
	_ = w2.Close()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/yield/predict", &buf2)
	req.Header.Set("Content-Type", w2.FormDataContentType())
	resp2, err := app.Test(req, -1)
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, fiber.StatusBadRequest, resp2.StatusCode)

	code, _ := do(t, app, http.MethodPost, "/api/v1/yield/predict", "")
	assert.Equal(t, fiber.StatusBadRequest, code)
}

func TestHealthAndMetrics(t *testing.T) {
	app := newTestApp(fullArchive(), stubForecast{creds: true}, &stubYield{})

	code, body := do(t, app, http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "ok", body["yield"])

	code, body = do(t, app, http.MethodGet, "/api/v1/metrics", "")
	assert.Equal(t, fiber.StatusOK, code)
	assert.Contains(t, body, "metrics")
	assert.Contains(t, body, "breakers")

	code, _ = do(t, app, http.MethodGet, "/api/v1/nothing", "")
	assert.Equal(t, fiber.StatusNotFound, code)
}
