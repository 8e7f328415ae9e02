package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/spec-kit/ticketbot/internal/api/http/handlers"
	"github.com/spec-kit/ticketbot/internal/auth"
	"github.com/spec-kit/ticketbot/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Tickets        *handlers.TicketsHandler
	Channels       *handlers.ChannelsHandler
	Config         *handlers.ConfigHandler
	Metrics        *observability.Metrics
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics.Handler()))
	}

	api := app.Group("/api/v1", cfg.AuthMiddleware.Handle)

	api.Post("/tickets", cfg.Tickets.CreateTicket)
	api.Get("/tickets/:id", cfg.Tickets.GetTicket)
	api.Post("/tickets/:id/force-close", cfg.Tickets.ForceClose)

	channels := api.Group("/channels/:channel")
	channels.Post("/claim", cfg.Channels.Claim)
	channels.Post("/unclaim", cfg.Channels.Unclaim)
	channels.Post("/request-close", cfg.Channels.RequestClose)
	channels.Post("/close", cfg.Channels.Close)
	channels.Post("/messages", cfg.Channels.UserMessage)
	channels.Post("/members", cfg.Channels.AddMember)
	channels.Delete("/members/:user", cfg.Channels.RemoveMember)
	channels.Get("/transcript", cfg.Channels.Transcript)

	api.Get("/config", cfg.Config.GetConfig)
	api.Put("/config/:key", cfg.Config.SetConfig)
	api.Post("/config/panel", cfg.Config.PublishPanel)
}

// NewApp builds the fiber app with middlewares and routes.
func NewApp(appName string, cfg RouteConfig, deps MiddlewareDeps) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               appName,
		DisableStartupMessage: true,
	})
	RegisterMiddlewares(app, deps.Logger, cfg.Metrics, deps.Timeout)
	RegisterRoutes(app, cfg)
	return app
}
