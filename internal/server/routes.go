package server

import (
	"github.com/gofiber/fiber/v2"

	"maintscraper/internal/core/job"
	"maintscraper/internal/health"
	"maintscraper/internal/logger"
)

type Dependencies struct {
	Jobs            *job.Service
	Checks          map[string]health.Check
	DefaultWorkers  int
	DefaultHeadless bool
	Log             *logger.Logger
}

func RegisterRoutes(app *fiber.App, d Dependencies) *health.HealthHandler {
	healthHandler := health.NewHealthHandler(d.Checks, d.Log)
	app.Get("/v1/health", health.HealthLimiter(), healthHandler.HandleHealth)

	api := app.Group("/v1")

	runs := job.NewHandler(d.Jobs, d.DefaultWorkers, d.DefaultHeadless)
	api.Post("/runs", runs.HandleCreateRun)
	api.Get("/runs/:jobId", runs.HandleGetRun)

	return healthHandler
}
