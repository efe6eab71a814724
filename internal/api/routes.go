package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"go.uber.org/zap"
)

func SetupRoutes(app *fiber.App, handler *Handler, log *zap.Logger) {
	// Middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,HEAD,PUT,DELETE,PATCH",
	}))

	app.Use(logger.New(logger.Config{
		Format:     "${time} ${pid} ${locals:requestid} ${status} - ${method} ${path}\n",
		TimeFormat: time.RFC3339,
	}))

	api := app.Group("/api/v1")

	api.Get("/health", handler.GetHealth)
	api.Get("/metrics", handler.GetMetrics)

	// Stateless field queries
	api.Post("/geometry/area", handler.GetArea)
	api.Post("/ndvi", handler.GetVegetation)
	api.Post("/ndvi/daily", handler.GetDailySeries)
	api.Post("/ndvi/export", handler.ExportRaster)
	api.Post("/climate", handler.GetClimate)
	api.Post("/forecast", handler.GetForecast)

	// Drawing sessions
	sessions := api.Group("/sessions")
	sessions.Post("/", handler.CreateSession)
	sessions.Get("/:id", handler.GetSession)
	sessions.Delete("/:id", handler.DeleteSession)
	sessions.Post("/:id/polygon", handler.SubmitPolygon)
	sessions.Delete("/:id/polygon", handler.ClearPolygon)
	sessions.Get("/:id/summary.csv", handler.GetSummaryCSV)
	sessions.Get("/:id/daily.csv", handler.GetDailyCSV)
	sessions.Post("/:id/export", handler.ExportSessionRaster)
	sessions.Post("/:id/yield", handler.PredictSessionYield)

	api.Post("/yield/predict", handler.PredictYield)

	log.Debug("Routes registered", zap.Int("handlers", int(app.HandlersCount())))

	// 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Endpoint not found",
			"path":  c.Path(),
		})
	})
}
