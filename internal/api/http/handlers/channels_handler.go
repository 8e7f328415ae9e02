package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticketbot/internal/api/dto"
	"github.com/spec-kit/ticketbot/internal/domain"
	apperrors "github.com/spec-kit/ticketbot/pkg/util/errorutil"
)

type transitionFunc func(ctx context.Context, communityID, channelID string, actor domain.Actor) (*domain.Ticket, error)

// ChannelsHandler serves endpoints addressed by ticket channel.
type ChannelsHandler struct {
	engine Engine
	now    func() time.Time
}

// NewChannelsHandler constructs handler.
func NewChannelsHandler(engine Engine) *ChannelsHandler {
	return &ChannelsHandler{engine: engine, now: time.Now}
}

// Claim POST /channels/:channel/claim.
func (h *ChannelsHandler) Claim(c *fiber.Ctx) error {
	return h.transition(c, h.engine.Claim)
}

// Unclaim POST /channels/:channel/unclaim.
func (h *ChannelsHandler) Unclaim(c *fiber.Ctx) error {
	return h.transition(c, h.engine.Unclaim)
}

// RequestClose POST /channels/:channel/request-close.
func (h *ChannelsHandler) RequestClose(c *fiber.Ctx) error {
	return h.transition(c, h.engine.RequestClose)
}

// Close POST /channels/:channel/close.
func (h *ChannelsHandler) Close(c *fiber.Ctx) error {
	return h.transition(c, h.engine.Close)
}

func (h *ChannelsHandler) transition(c *fiber.Ctx, fn transitionFunc) error {
	principal, err := principal(c)
	if err != nil {
		return err
	}
	ticket, err := fn(c.UserContext(), principal.CommunityID, c.Params("channel"), principal.Actor)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// UserMessage POST /channels/:channel/messages.
func (h *ChannelsHandler) UserMessage(c *fiber.Ctx) error {
	principal, err := principal(c)
	if err != nil {
		return err
	}
	var req dto.UserMessageRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	at := h.now()
	if req.At != nil {
		at = *req.At
	}
	if err := h.engine.RecordUserMessage(c.UserContext(), principal.CommunityID, c.Params("channel"), principal.Actor, at); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// AddMember POST /channels/:channel/members.
func (h *ChannelsHandler) AddMember(c *fiber.Ctx) error {
	principal, err := principal(c)
	if err != nil {
		return err
	}
	var req dto.MemberRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if strings.TrimSpace(req.UserID) == "" {
		return apperrors.NewValidationError("user_id required", nil)
	}
	if err := h.engine.AddMember(c.UserContext(), principal.CommunityID, c.Params("channel"), principal.Actor, req.UserID); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// RemoveMember DELETE /channels/:channel/members/:user.
func (h *ChannelsHandler) RemoveMember(c *fiber.Ctx) error {
	principal, err := principal(c)
	if err != nil {
		return err
	}
	if err := h.engine.RemoveMember(c.UserContext(), principal.CommunityID, c.Params("channel"), principal.Actor, c.Params("user")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Transcript GET /channels/:channel/transcript.
func (h *ChannelsHandler) Transcript(c *fiber.Ctx) error {
	principal, err := principal(c)
	if err != nil {
		return err
	}
	channel := c.Params("channel")
	content, err := h.engine.Transcript(c.UserContext(), principal.CommunityID, channel, principal.Actor)
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", "transcript-"+channel+".txt"))
	return c.SendString(content)
}
