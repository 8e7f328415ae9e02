package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticketbot/internal/api/dto"
	apperrors "github.com/spec-kit/ticketbot/pkg/util/errorutil"
)

// ConfigHandler reads and updates community settings.
type ConfigHandler struct {
	engine Engine
}

// NewConfigHandler constructs handler.
func NewConfigHandler(engine Engine) *ConfigHandler {
	return &ConfigHandler{engine: engine}
}

// GetConfig GET /config.
func (h *ConfigHandler) GetConfig(c *fiber.Ctx) error {
	principal, err := principal(c)
	if err != nil {
		return err
	}
	settings, err := h.engine.GetSettings(c.UserContext(), principal.CommunityID, principal.Actor)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": settings.Map()})
}

// SetConfig PUT /config/:key.
func (h *ConfigHandler) SetConfig(c *fiber.Ctx) error {
	principal, err := principal(c)
	if err != nil {
		return err
	}
	var req dto.SettingRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	settings, err := h.engine.SetSetting(c.UserContext(), principal.CommunityID, principal.Actor, c.Params("key"), req.Value)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": settings.Map()})
}

// PublishPanel POST /config/panel.
func (h *ConfigHandler) PublishPanel(c *fiber.Ctx) error {
	principal, err := principal(c)
	if err != nil {
		return err
	}
	var req dto.PanelRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	settings, err := h.engine.PublishPanel(c.UserContext(), principal.CommunityID, principal.Actor, req.ChannelID)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": settings.Map()})
}
