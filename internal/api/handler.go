package api

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/fathima-sithara/session-service/internal/cache"
	"github.com/fathima-sithara/session-service/internal/domain"
	"github.com/fathima-sithara/session-service/internal/service"
)

type Handlers struct {
	lifecycle *service.LifecycleEngine
	messaging *service.MessagingEngine
	presence  *cache.Presence
	log       *zap.SugaredLogger
}

func NewHandlers(lifecycle *service.LifecycleEngine, messaging *service.MessagingEngine, presence *cache.Presence, log *zap.SugaredLogger) *Handlers {
	return &Handlers{lifecycle: lifecycle, messaging: messaging, presence: presence, log: log}
}

// fail maps the domain error taxonomy onto HTTP statuses.
func fail(c *fiber.Ctx, err error) error {
	status := 500
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = 404
	case errors.Is(err, domain.ErrForbidden):
		status = 403
	case errors.Is(err, domain.ErrInvalidTransition):
		status = 409
	case errors.Is(err, domain.ErrValidation):
		status = 400
	case errors.Is(err, domain.ErrTransientStore):
		status = 503
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

func reqCtx(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Context(), 5*time.Second)
}

func (h *Handlers) createSession(c *fiber.Ctx) error {
	var req struct {
		BookingID string `json:"booking_id"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid body"})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	conv, err := h.lifecycle.CreateFromBooking(ctx, req.BookingID)
	if err != nil {
		return fail(c, err)
	}
	return c.Status(201).JSON(fiber.Map{"status": "ok", "data": conv})
}

func (h *Handlers) listSessions(c *fiber.Ctx) error {
	user := c.Locals("user_id").(string)
	status := domain.ConversationStatus(c.Query("status"))
	ctx, cancel := reqCtx(c)
	defer cancel()
	convs, err := h.lifecycle.ListForUser(ctx, user, status, 100)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok", "data": convs})
}

func (h *Handlers) getSession(c *fiber.Ctx) error {
	user := c.Locals("user_id").(string)
	ctx, cancel := reqCtx(c)
	defer cancel()
	conv, err := h.lifecycle.Get(ctx, c.Params("session_id"))
	if err != nil {
		return fail(c, err)
	}
	if !conv.IsParticipant(user) {
		return fail(c, domain.ErrForbidden)
	}

	unread, err := h.messaging.UnreadCount(ctx, conv.ID, user)
	if err != nil {
		h.log.Warnw("unread count", "conversation", conv.ID, "err", err)
		unread = 0
	}
	peerOnline, err := h.presence.IsOnline(ctx, conv.Peer(user))
	if err != nil {
		h.log.Warnw("peer presence", "conversation", conv.ID, "err", err)
		peerOnline = false
	}
	return c.JSON(fiber.Map{"status": "ok", "data": conv, "unread": unread, "peer_online": peerOnline})
}

func (h *Handlers) joinSession(c *fiber.Ctx) error {
	user := c.Locals("user_id").(string)
	ctx, cancel := reqCtx(c)
	defer cancel()
	conv, err := h.lifecycle.Join(ctx, c.Params("session_id"), user)
	if err != nil {
		return fail(c, err)
	}
	_ = h.presence.MarkOnline(ctx, user)
	return c.JSON(fiber.Map{"status": "ok", "data": conv})
}

func (h *Handlers) endSession(c *fiber.Ctx) error {
	user := c.Locals("user_id").(string)
	ctx, cancel := reqCtx(c)
	defer cancel()
	conv, err := h.lifecycle.End(ctx, c.Params("session_id"), user)
	if err != nil {
		return fail(c, err)
	}
	_ = h.presence.MarkOffline(ctx, user)
	return c.JSON(fiber.Map{"status": "ok", "data": conv})
}

func (h *Handlers) extendSession(c *fiber.Ctx) error {
	var req struct {
		AdditionalMinutes int `json:"additional_minutes"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid body"})
	}
	user := c.Locals("user_id").(string)
	ctx, cancel := reqCtx(c)
	defer cancel()

	conv, err := h.lifecycle.Get(ctx, c.Params("session_id"))
	if err != nil {
		return fail(c, err)
	}
	if !conv.IsParticipant(user) {
		return fail(c, domain.ErrForbidden)
	}
	extended, err := h.lifecycle.Extend(ctx, conv.ID, req.AdditionalMinutes)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok", "data": extended})
}

func (h *Handlers) sendMessage(c *fiber.Ctx) error {
	var req struct {
		Content  string `json:"content"`
		ImageURL string `json:"image_url"`
		VideoURL string `json:"video_url"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid body"})
	}
	user := c.Locals("user_id").(string)
	ctx, cancel := reqCtx(c)
	defer cancel()
	msg, err := h.messaging.Send(ctx, c.Params("session_id"), user, service.SendInput{
		Content:  req.Content,
		ImageURL: req.ImageURL,
		VideoURL: req.VideoURL,
	})
	if err != nil {
		return fail(c, err)
	}
	return c.Status(201).JSON(fiber.Map{"status": "ok", "data": msg})
}

func (h *Handlers) listMessages(c *fiber.Ctx) error {
	user := c.Locals("user_id").(string)
	var before time.Time
	if v := c.Query("before"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid before cursor"})
		}
		before = t
	}
	limit := int64(c.QueryInt("limit"))

	ctx, cancel := reqCtx(c)
	defer cancel()
	msgs, err := h.messaging.ListVisible(ctx, c.Params("session_id"), user, before, limit)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok", "data": msgs})
}

func (h *Handlers) markRead(c *fiber.Ctx) error {
	user := c.Locals("user_id").(string)
	ctx, cancel := reqCtx(c)
	defer cancel()
	msg, err := h.messaging.MarkRead(ctx, c.Params("msg_id"), user)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok", "data": msg})
}

func (h *Handlers) deleteMessages(c *fiber.Ctx) error {
	var req struct {
		MessageIDs []string `json:"message_ids"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid body"})
	}
	user := c.Locals("user_id").(string)
	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := h.messaging.DeleteForUser(ctx, user, c.Params("session_id"), req.MessageIDs); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *Handlers) undoDelete(c *fiber.Ctx) error {
	user := c.Locals("user_id").(string)
	ctx, cancel := reqCtx(c)
	defer cancel()
	restored, err := h.messaging.UndoDelete(ctx, user, c.Params("session_id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok", "restored": restored})
}

func (h *Handlers) recallMessages(c *fiber.Ctx) error {
	var req struct {
		MessageIDs []string `json:"message_ids"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid body"})
	}
	user := c.Locals("user_id").(string)
	ctx, cancel := reqCtx(c)
	defer cancel()
	report, err := h.messaging.Recall(ctx, user, c.Params("session_id"), req.MessageIDs)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok", "data": report})
}
