package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/ticketbot/internal/domain"
	"github.com/spec-kit/ticketbot/internal/platform"
	apperrors "github.com/spec-kit/ticketbot/pkg/util/errorutil"
)

const panelFooter = "Click the button below to create a ticket"

// PublishPanel posts the create-ticket panel into channelID and records
// where it lives. Administrators only.
func (s *LifecycleService) PublishPanel(ctx context.Context, communityID string, actor domain.Actor, channelID string) (settings domain.Settings, err error) {
	ctx, finish := s.operation(ctx, "publish_panel", communityID)
	defer func() { finish(err) }()

	current, err := s.settings(ctx, communityID)
	if err != nil {
		return domain.Settings{}, err
	}
	if !domain.IsAdmin(actor, current) {
		return domain.Settings{}, apperrors.NewPermissionDenied("you need administrator permissions to create a ticket panel")
	}
	if channelID == "" {
		return domain.Settings{}, apperrors.NewValidationError("a channel is required for the ticket panel", nil)
	}
	exists, err := s.platform.ChannelExists(ctx, communityID, channelID)
	if err != nil {
		return domain.Settings{}, apperrors.NewInternalError(err)
	}
	if !exists {
		return domain.Settings{}, apperrors.NewValidationError("please choose a valid text channel",
			map[string]any{"channel_id": channelID})
	}

	messageID, err := s.platform.PostPanel(ctx, channelID, panelFor(current))
	if err != nil {
		return domain.Settings{}, apperrors.NewInternalError(fmt.Errorf("post panel: %w", err))
	}
	if _, err := s.registry.Set(ctx, communityID, domain.KeyPanelChannel, channelID); err != nil {
		return domain.Settings{}, err
	}
	settings, err = s.registry.Set(ctx, communityID, domain.KeyPanelMessage, messageID)
	if err != nil {
		return domain.Settings{}, err
	}
	s.logger.Info("ticket panel published",
		zap.String("community_id", communityID),
		zap.String("channel_id", channelID),
		zap.String("message_id", messageID))
	return settings, nil
}

// ReasonRequired reports whether the panel button must collect a reason
// before opening a ticket.
func (s *LifecycleService) ReasonRequired(ctx context.Context, communityID string) (bool, error) {
	settings, err := s.settings(ctx, communityID)
	if err != nil {
		return false, err
	}
	return settings.RequireReason, nil
}

func panelFor(settings domain.Settings) platform.Panel {
	return platform.Panel{
		Title:        settings.PanelTitle,
		Description:  settings.PanelDescription,
		Color:        settings.PanelColor,
		ImageURL:     settings.PanelImage,
		ThumbnailURL: settings.PanelThumbnail,
		Footer:       panelFooter,
	}
}
