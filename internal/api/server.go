package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"go.uber.org/zap"

	"github.com/fathima-sithara/session-service/internal/auth"
	"github.com/fathima-sithara/session-service/internal/cache"
	"github.com/fathima-sithara/session-service/internal/service"
)

func NewServer(lifecycle *service.LifecycleEngine, messaging *service.MessagingEngine, presence *cache.Presence, jv *auth.JWTValidator, log *zap.SugaredLogger) *fiber.App {
	app := fiber.New()
	app.Use(logger.New())
	h := NewHandlers(lifecycle, messaging, presence, log)

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/v1")

	api.Use(func(c *fiber.Ctx) error {
		hdr := c.Get("Authorization")
		if hdr == "" {
			return c.Status(401).JSON(fiber.Map{"error": "missing auth"})
		}
		const pref = "Bearer "
		if len(hdr) <= len(pref) || hdr[:len(pref)] != pref {
			return c.Status(401).JSON(fiber.Map{"error": "invalid auth"})
		}
		token := hdr[len(pref):]
		sub, err := jv.Validate(token)
		if err != nil {
			return c.Status(401).JSON(fiber.Map{"error": err.Error()})
		}
		c.Locals("user_id", sub)
		return c.Next()
	})

	api.Post("/sessions", h.createSession)
	api.Get("/sessions", h.listSessions)
	api.Get("/sessions/:session_id", h.getSession)
	api.Post("/sessions/:session_id/join", h.joinSession)
	api.Post("/sessions/:session_id/end", h.endSession)
	api.Post("/sessions/:session_id/extend", h.extendSession)

	api.Post("/sessions/:session_id/messages", h.sendMessage)
	api.Get("/sessions/:session_id/messages", h.listMessages)
	api.Post("/messages/:msg_id/read", h.markRead)
	api.Post("/sessions/:session_id/messages/delete", h.deleteMessages)
	api.Post("/sessions/:session_id/messages/undo", h.undoDelete)
	api.Post("/sessions/:session_id/messages/recall", h.recallMessages)

	return app
}
