package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/mentorlink/mentorlink-api/internal/config"
	"github.com/mentorlink/mentorlink-api/internal/handler"
	"github.com/mentorlink/mentorlink-api/internal/middleware"
	"github.com/mentorlink/mentorlink-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	ChatHandler         *handler.ChatHandler
	SeedHandler         *handler.SeedHandler
	JWTMiddleware       fiber.Handler
	WebsocketMiddleware fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))

	app.Get("/metrics", observability.MetricsHandler())

	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	if deps.ChatHandler != nil {
		chat := app.Group("/api/chat", jwtMiddleware)
		deps.ChatHandler.Register(chat, middleware.RateLimit("chat_send", cfg.SendRateMax, time.Minute))

		wsMiddleware := deps.WebsocketMiddleware
		if wsMiddleware == nil {
			wsMiddleware = jwtMiddleware
		}
		deps.ChatHandler.RegisterWebsocket(app.Group("/ws/chat", wsMiddleware))
	}

	if deps.SeedHandler != nil && cfg.SeedEnabled {
		deps.SeedHandler.Register(app.Group("/api/seed"))
	}
}
