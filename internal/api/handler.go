package api

import (
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/bobby-s-dev/field-aggregator/internal/geometry"
	"github.com/bobby-s-dev/field-aggregator/internal/models"
	"github.com/bobby-s-dev/field-aggregator/internal/services"
	"github.com/bobby-s-dev/field-aggregator/pkg/client"
)

const maxUploadBytes = 10 << 20

// YieldPredictor is the yield forecast service.
type YieldPredictor interface {
	Predict(ctx context.Context, filename string, csvData []byte, adjust bool) (*client.YieldPrediction, error)
}

// yieldHealth is implemented by yield clients that expose a health probe.
type yieldHealth interface {
	Health(ctx context.Context) (*client.YieldHealth, error)
}

// Breaker reports a provider client's circuit breaker state.
type Breaker interface {
	Name() string
	BreakerState() string
}

// StatusReporter is implemented by background components like the scheduler.
type StatusReporter interface {
	GetStatus() map[string]interface{}
}

type Handler struct {
	aggregator *services.Aggregator
	yield      YieldPredictor
	defaults   Defaults
	breakers   []Breaker
	janitor    StatusReporter
	validate   *validator.Validate
	logger     *zap.Logger
}

func NewHandler(aggregator *services.Aggregator, yield YieldPredictor, defaults Defaults, logger *zap.Logger) *Handler {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	return &Handler{
		aggregator: aggregator,
		yield:      yield,
		defaults:   defaults,
		validate:   v,
		logger:     logger,
	}
}

// WithBreakers registers provider clients whose breaker state is reported on /metrics.
func (h *Handler) WithBreakers(breakers ...Breaker) *Handler {
	h.breakers = append(h.breakers, breakers...)
	return h
}

func (h *Handler) WithScheduler(s StatusReporter) *Handler {
	h.janitor = s
	return h
}

func (h *Handler) bind(c *fiber.Ctx, out interface{}) error {
	if err := c.BodyParser(out); err != nil {
		if errors.Is(err, models.ErrInvalidGeometry) {
			return err
		}
		return validationError(err)
	}
	if err := h.validate.Struct(out); err != nil {
		return validationError(err)
	}
	return nil
}

func (h *Handler) bindField(c *fiber.Ctx) (geometry.Validated, models.FilterConfig, FieldRequest, error) {
	var req FieldRequest
	if err := h.bind(c, &req); err != nil {
		return geometry.Validated{}, models.FilterConfig{}, req, err
	}
	valid, err := geometry.Validate(req.Coords)
	if err != nil {
		return geometry.Validated{}, models.FilterConfig{}, req, err
	}
	return valid, req.Filter(h.defaults), req, nil
}

// fail maps the error taxonomy onto HTTP status codes.
func (h *Handler) fail(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, models.ErrInvalidGeometry), errors.Is(err, client.ErrYieldRejected):
		code = fiber.StatusBadRequest
	case errors.Is(err, models.ErrSessionNotFound):
		code = fiber.StatusNotFound
	case errors.Is(err, models.ErrExportNotReady):
		code = fiber.StatusConflict
	}

	if code >= fiber.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err))
	} else {
		h.logger.Info("Request rejected",
			zap.String("path", c.Path()),
			zap.Int("status", code),
			zap.Error(err))
	}

	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}

// GetArea handles POST /api/v1/geometry/area
func (h *Handler) GetArea(c *fiber.Ctx) error {
	var req FieldRequest
	if err := h.bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	valid, err := geometry.Validate(req.Coords)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{
		"areaM2":   valid.AreaM2,
		"centroid": geometry.Centroid(valid.Polygon),
	})
}

// GetVegetation handles POST /api/v1/ndvi
func (h *Handler) GetVegetation(c *fiber.Ctx) error {
	valid, filter, _, err := h.bindField(c)
	if err != nil {
		return h.fail(c, err)
	}

	h.logger.Info("Fetching vegetation summary",
		zap.Float64("area_m2", valid.AreaM2),
		zap.Float64("cloud_pct", filter.CloudPct))

	res, err := h.aggregator.Vegetation(c.Context(), valid.Polygon, filter)
	if err != nil {
		return h.fail(c, err)
	}

	body := fiber.Map{
		"ndvi":    res.Stat.Mean,
		"ndviMin": res.Stat.Min,
		"ndviMax": res.Stat.Max,
	}
	if res.Message != "" {
		body["message"] = res.Message
	}
	return c.JSON(body)
}

// GetDailySeries handles POST /api/v1/ndvi/daily
func (h *Handler) GetDailySeries(c *fiber.Ctx) error {
	valid, filter, _, err := h.bindField(c)
	if err != nil {
		return h.fail(c, err)
	}

	series, err := h.aggregator.Daily(c.Context(), valid.Polygon, filter)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(series)
}

// ExportRaster handles POST /api/v1/ndvi/export
func (h *Handler) ExportRaster(c *fiber.Ctx) error {
	var req ExportRequest
	if err := h.bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	valid, err := geometry.Validate(req.Coords)
	if err != nil {
		return h.fail(c, err)
	}
	cloud := h.defaults.CloudPct
	if req.CloudPct != nil {
		cloud = *req.CloudPct
	}

	return h.exportRaster(c, req.Date(), valid.Polygon, cloud)
}

func (h *Handler) exportRaster(c *fiber.Ctx, day time.Time, poly models.Polygon, cloud float64) error {
	url, err := h.aggregator.ExportRaster(c.Context(), day, poly, cloud)
	if errors.Is(err, models.ErrNoDataForDay) {
		return c.JSON(fiber.Map{"error": err.Error()})
	}
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"tiffUrl": url})
}

// GetClimate handles POST /api/v1/climate
func (h *Handler) GetClimate(c *fiber.Ctx) error {
	valid, filter, _, err := h.bindField(c)
	if err != nil {
		return h.fail(c, err)
	}

	res, err := h.aggregator.Climate(c.Context(), valid.Polygon, filter)
	if err != nil {
		return h.fail(c, err)
	}

	body := fiber.Map{
		"airTemp":  res.Metrics.AirTemp,
		"soilTemp": res.Metrics.SoilTemp,
	}
	if res.Message != "" {
		body["message"] = res.Message
	}
	return c.JSON(body)
}

// GetForecast handles POST /api/v1/forecast
func (h *Handler) GetForecast(c *fiber.Ctx) error {
	var req FieldRequest
	if err := h.bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	valid, err := geometry.Validate(req.Coords)
	if err != nil {
		return h.fail(c, err)
	}

	res, err := h.aggregator.Forecast(c.Context(), valid.Polygon)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(res)
}

// PredictYield handles POST /api/v1/yield/predict
func (h *Handler) PredictYield(c *fiber.Ctx) error {
	hdr, err := c.FormFile("file")
	if err != nil {
		return h.fail(c, validationError(errors.New("multipart field 'file' is required")))
	}
	if hdr.Size > maxUploadBytes {
		return h.fail(c, validationError(errors.New("file too large")))
	}

	f, err := hdr.Open()
	if err != nil {
		return h.fail(c, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return h.fail(c, err)
	}

	return h.predict(c, hdr.Filename, data)
}

func (h *Handler) predict(c *fiber.Ctx, filename string, data []byte) error {
	out, err := h.yield.Predict(c.Context(), filename, data, c.QueryBool("mvp_adjust", false))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(out)
}

var startTime = time.Now()

// GetHealth handles GET /api/v1/health
func (h *Handler) GetHealth(c *fiber.Ctx) error {
	body := fiber.Map{
		"status":        "healthy",
		"timestamp":     time.Now(),
		"last_dispatch": h.aggregator.GetLastDispatchTime(),
		"uptime":        time.Since(startTime).String(),
	}

	// The yield service is optional, so its state is reported but never fails the probe.
	if probe, ok := h.yield.(yieldHealth); ok {
		if hs, err := probe.Health(c.Context()); err != nil {
			body["yield"] = "unavailable"
		} else {
			body["yield"] = hs.Status
		}
	}
	return c.JSON(body)
}

// GetMetrics handles GET /api/v1/metrics
func (h *Handler) GetMetrics(c *fiber.Ctx) error {
	breakers := make(map[string]string, len(h.breakers))
	for _, b := range h.breakers {
		breakers[b.Name()] = b.BreakerState()
	}

	body := fiber.Map{
		"metrics":   h.aggregator.GetStats(),
		"breakers":  breakers,
		"timestamp": time.Now(),
	}
	if h.janitor != nil {
		body["scheduler"] = h.janitor.GetStatus()
	}
	return c.JSON(body)
}
