package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/mail-ticket-service/internal/api/http/handlers"
	"github.com/spec-kit/mail-ticket-service/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Metrics        *handlers.MetricsHandler
	Tickets        *handlers.TicketsHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	app.Get("/metrics", cfg.Metrics.Snapshot)

	tickets := app.Group("/tickets", cfg.AuthMiddleware.Handle, auth.RequireAnyRole())
	tickets.Post("/", cfg.Tickets.CreateTicket)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Post("/:id/messages", cfg.Tickets.AddMessage)
	tickets.Post("/:id/feedback", cfg.Tickets.LinkFeedback)

	staff := auth.RequireStaffRole()
	tickets.Post("/:id/transition", staff, cfg.Tickets.Transition)
	tickets.Post("/:id/assign", staff, cfg.Tickets.Assign)
	tickets.Patch("/:id/expiry", staff, cfg.Tickets.UpdateExpiry)
}
