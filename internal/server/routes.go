package server

import (
	"bytes"
	"encoding/json"

	"pricecompare/internal/core/search"
	"pricecompare/internal/health"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
)

type Dependencies struct {
	Search *search.Service
	// Checks are probed by /v1/health.
	Checks map[string]health.CheckFunc
	// FilesDir is served under /files when set.
	FilesDir string
}

// NewApp builds the fiber app with the shared middleware stack.
func NewApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName: "Price Compare",
		JSONEncoder: func(v interface{}) ([]byte, error) {
			var buf bytes.Buffer
			encoder := json.NewEncoder(&buf)
			encoder.SetEscapeHTML(false)
			if err := encoder.Encode(v); err != nil {
				return nil, err
			}
			return buf.Bytes(), nil
		},
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(cors.New())
	return app
}

func RegisterRoutes(app *fiber.App, d Dependencies) *health.HealthHandler {
	healthHandler := health.NewHealthHandler(d.Checks)
	app.Get("/health", healthHandler.HandleLiveness)
	app.Get("/v1/health", health.HealthLimiter(), healthHandler.HandleHealth)

	if d.FilesDir != "" {
		app.Static("/files", d.FilesDir)
	}

	api := app.Group("/api")
	searchHandler := search.NewHandler(d.Search)
	api.Post("/search", searchHandler.HandleCreate)
	api.Get("/search/:jobId", searchHandler.HandlePoll)
	api.Get("/results/:jobId", searchHandler.HandlePoll)

	return healthHandler
}
