package handlers

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticketbot/internal/api/dto"
	"github.com/spec-kit/ticketbot/internal/auth"
	"github.com/spec-kit/ticketbot/internal/domain"
	"github.com/spec-kit/ticketbot/internal/service"
	apperrors "github.com/spec-kit/ticketbot/pkg/util/errorutil"
)

// Engine is the lifecycle surface exposed over HTTP.
type Engine interface {
	Create(ctx context.Context, communityID string, actor domain.Actor, reason string) (*domain.Ticket, error)
	InfoByID(ctx context.Context, communityID string, ticketID int64, actor domain.Actor) (*service.TicketInfo, error)
	ForceClose(ctx context.Context, communityID string, ticketID int64, actor domain.Actor) (*domain.Ticket, error)
	Claim(ctx context.Context, communityID, channelID string, actor domain.Actor) (*domain.Ticket, error)
	Unclaim(ctx context.Context, communityID, channelID string, actor domain.Actor) (*domain.Ticket, error)
	RequestClose(ctx context.Context, communityID, channelID string, actor domain.Actor) (*domain.Ticket, error)
	Close(ctx context.Context, communityID, channelID string, actor domain.Actor) (*domain.Ticket, error)
	RecordUserMessage(ctx context.Context, communityID, channelID string, actor domain.Actor, at time.Time) error
	AddMember(ctx context.Context, communityID, channelID string, actor domain.Actor, userID string) error
	RemoveMember(ctx context.Context, communityID, channelID string, actor domain.Actor, userID string) error
	Transcript(ctx context.Context, communityID, channelID string, actor domain.Actor) (string, error)
	GetSettings(ctx context.Context, communityID string, actor domain.Actor) (domain.Settings, error)
	SetSetting(ctx context.Context, communityID string, actor domain.Actor, key, value string) (domain.Settings, error)
	PublishPanel(ctx context.Context, communityID string, actor domain.Actor, channelID string) (domain.Settings, error)
}

// TicketsHandler serves ticket endpoints addressed by ticket id.
type TicketsHandler struct {
	engine Engine
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(engine Engine) *TicketsHandler {
	return &TicketsHandler{engine: engine}
}

// CreateTicket POST /tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	principal, err := principal(c)
	if err != nil {
		return err
	}
	var req dto.CreateTicketRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	ticket, err := h.engine.Create(c.UserContext(), principal.CommunityID, principal.Actor, req.Reason)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

// GetTicket GET /tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	principal, err := principal(c)
	if err != nil {
		return err
	}
	id, err := ticketID(c)
	if err != nil {
		return err
	}
	info, err := h.engine.InfoByID(c.UserContext(), principal.CommunityID, id, principal.Actor)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.TicketInfoResponse{
		TicketResponse:           dto.NewTicketResponse(&info.Ticket),
		MinutesSinceLastResponse: info.MinutesSinceLastResponse,
	}})
}

// ForceClose POST /tickets/:id/force-close.
func (h *TicketsHandler) ForceClose(c *fiber.Ctx) error {
	principal, err := principal(c)
	if err != nil {
		return err
	}
	id, err := ticketID(c)
	if err != nil {
		return err
	}
	ticket, err := h.engine.ForceClose(c.UserContext(), principal.CommunityID, id, principal.Actor)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket)})
}

func principal(c *fiber.Ctx) (*auth.Principal, error) {
	p, ok := auth.PrincipalFromContext(c)
	if !ok {
		return nil, apperrors.NewUnauthorized("authentication required")
	}
	return p, nil
}

func ticketID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(c.Params("id"), "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.NewValidationError("ticket id must be a positive number", map[string]any{"id": c.Params("id")})
	}
	return id, nil
}
