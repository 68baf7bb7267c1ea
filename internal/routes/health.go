package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cardledger/cardledger/internal/infra"
)

// RegisterHealthRoutes adds the liveness endpoint and the Prometheus scrape target.
func RegisterHealthRoutes(app *fiber.App, d Deps) {
	health := infra.Health{DB: d.DB, Redis: d.Cache}

	app.Get("/healthz", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		deps, err := health.Check(ctx)
		if err != nil {
			d.Logger.Warn("health check failed", "error", err)
			status = http.StatusServiceUnavailable
		}
		return c.Status(status).JSON(fiber.Map{
			"status":    deps,
			"timestamp": d.Clock.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
}
