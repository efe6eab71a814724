package api

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bobby-s-dev/field-aggregator/internal/models"
	"github.com/bobby-s-dev/field-aggregator/internal/services"
)

func (h *Handler) session(c *fiber.Ctx) (*services.Session, error) {
	return h.aggregator.Sessions().Get(c.Params("id"))
}

// CreateSession handles POST /api/v1/sessions
func (h *Handler) CreateSession(c *fiber.Ctx) error {
	sess := h.aggregator.Sessions().Create()
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"sessionId": sess.ID(),
	})
}

// DeleteSession handles DELETE /api/v1/sessions/:id
func (h *Handler) DeleteSession(c *fiber.Ctx) error {
	if !h.aggregator.Sessions().Delete(c.Params("id")) {
		return h.fail(c, models.ErrSessionNotFound)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// SubmitPolygon handles POST /api/v1/sessions/:id/polygon. Any previous
// polygon is discarded before validation, so a rejected drawing still
// supersedes in-flight results.
func (h *Handler) SubmitPolygon(c *fiber.Ctx) error {
	sess, err := h.session(c)
	if err != nil {
		return h.fail(c, err)
	}

	valid, filter, req, err := h.bindField(c)
	if err != nil {
		sess.Discard()
		return h.fail(c, err)
	}

	poly := valid.Polygon
	poly.ID = uuid.NewString()
	d := h.aggregator.Dispatch(sess, poly, valid.AreaM2, filter, req.District)

	h.logger.Info("Polygon submitted",
		zap.String("session_id", sess.ID()),
		zap.String("polygon_id", poly.ID),
		zap.Uint64("generation", d.Generation),
		zap.Float64("area_m2", valid.AreaM2))

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"generation": d.Generation,
		"polygonId":  poly.ID,
		"areaM2":     valid.AreaM2,
	})
}

// ClearPolygon handles DELETE /api/v1/sessions/:id/polygon
func (h *Handler) ClearPolygon(c *fiber.Ctx) error {
	sess, err := h.session(c)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"generation": sess.Discard()})
}

// GetSession handles GET /api/v1/sessions/:id
func (h *Handler) GetSession(c *fiber.Ctx) error {
	sess, err := h.session(c)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(struct {
		SessionID string `json:"sessionId"`
		services.SessionState
	}{sess.ID(), sess.Snapshot()})
}

// GetSummaryCSV handles GET /api/v1/sessions/:id/summary.csv
func (h *Handler) GetSummaryCSV(c *fiber.Ctx) error {
	sess, err := h.session(c)
	if err != nil {
		return h.fail(c, err)
	}
	rec, err := services.BuildSummary(sess.Snapshot())
	if err != nil {
		return h.fail(c, err)
	}
	data, err := services.SummaryCSV(rec)
	if err != nil {
		return h.fail(c, err)
	}
	return sendCSV(c, fmt.Sprintf("summary_%s.csv", rec.PolygonID), data)
}

// GetDailyCSV handles GET /api/v1/sessions/:id/daily.csv
func (h *Handler) GetDailyCSV(c *fiber.Ctx) error {
	sess, err := h.session(c)
	if err != nil {
		return h.fail(c, err)
	}
	snap := sess.Snapshot()
	if !snap.DailyReady {
		return h.fail(c, fmt.Errorf("%w: daily series is empty", models.ErrExportNotReady))
	}
	data, err := services.DailyCSV(snap.Daily)
	if err != nil {
		return h.fail(c, err)
	}
	return sendCSV(c, fmt.Sprintf("daily_%s.csv", snap.PolygonID), data)
}

// ExportSessionRaster handles POST /api/v1/sessions/:id/export
func (h *Handler) ExportSessionRaster(c *fiber.Ctx) error {
	sess, err := h.session(c)
	if err != nil {
		return h.fail(c, err)
	}
	var req SessionExportRequest
	if err := h.bind(c, &req); err != nil {
		return h.fail(c, err)
	}

	snap := sess.Snapshot()
	if !snap.DailyReady || snap.Polygon == nil || snap.Filter == nil {
		return h.fail(c, fmt.Errorf("%w: daily series is empty", models.ErrExportNotReady))
	}

	day, _ := time.Parse(models.DateLayout, req.Day)
	return h.exportRaster(c, day, *snap.Polygon, snap.Filter.CloudPct)
}

// PredictSessionYield handles POST /api/v1/sessions/:id/yield. It sends the
// session's summary row to the yield service.
func (h *Handler) PredictSessionYield(c *fiber.Ctx) error {
	sess, err := h.session(c)
	if err != nil {
		return h.fail(c, err)
	}
	rec, err := services.BuildSummary(sess.Snapshot())
	if err != nil {
		return h.fail(c, err)
	}
	if rec.District == "" {
		return h.fail(c, fmt.Errorf("%w: district is required for yield prediction", errBadRequest))
	}
	data, err := services.SummaryCSV(rec)
	if err != nil {
		return h.fail(c, err)
	}
	return h.predict(c, fmt.Sprintf("summary_%s.csv", rec.PolygonID), data)
}

func sendCSV(c *fiber.Ctx, filename string, data []byte) error {
	c.Set(fiber.HeaderContentType, "text/csv; charset=utf-8")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, filename))
	return c.Send(data)
}
