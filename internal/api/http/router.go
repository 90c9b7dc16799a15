package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/tickflow/tickflow/internal/api/http/handlers"
	"github.com/tickflow/tickflow/internal/auth"
	"github.com/tickflow/tickflow/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	Tickets        *handlers.TicketsHandler
	AI             *handlers.AIHandler
	AuthMiddleware *auth.AuthMiddleware
	RateLimit      fiber.Handler
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	api := app.Group("/api")
	if cfg.RateLimit != nil {
		api.Use(cfg.RateLimit)
	}

	authGroup := api.Group("/auth")
	authGroup.Post("/login", cfg.Auth.Login)
	authGroup.Post("/logout", cfg.Auth.Logout)
	authGroup.Post("/password/change", cfg.AuthMiddleware.Handle, cfg.Auth.ChangePassword)

	tickets := api.Group("/tickets", cfg.AuthMiddleware.Handle)
	tickets.Post("", cfg.Tickets.CreateTicket)
	tickets.Get("", cfg.Tickets.ListTickets)
	tickets.Get("/stats", cfg.Tickets.GetStats)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Post("/:id/assign", auth.RequireStaff(), cfg.Tickets.AssignTicket)
	tickets.Patch("/:id/status", auth.RequireStaff(), cfg.Tickets.UpdateStatus)

	ai := api.Group("/ai", cfg.AuthMiddleware.Handle)
	ai.Post("/classify", cfg.AI.Classify)
	ai.Post("/tickets/:id/summary", auth.RequireRole(domain.RoleAgent, domain.RoleAdmin), cfg.AI.Summarize)
	ai.Get("/tickets/:id/summary/stream", auth.RequireRole(domain.RoleAgent, domain.RoleAdmin), cfg.AI.SummarizeStream)
}
