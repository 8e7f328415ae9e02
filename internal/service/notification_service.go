package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/ticketbot/internal/community"
	"github.com/spec-kit/ticketbot/internal/domain"
	"github.com/spec-kit/ticketbot/internal/events"
	"github.com/spec-kit/ticketbot/internal/platform"
	"github.com/spec-kit/ticketbot/internal/repository"
)

// NotificationService records lifecycle events in the audit history and
// posts a line for each to the community's log channel.
type NotificationService struct {
	dispatcher events.Dispatcher
	history    repository.TicketHistoryRepository
	registry   *community.Registry
	platform   platform.Client
	logger     *zap.Logger
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, history repository.TicketHistoryRepository, registry *community.Registry, client platform.Client, logger *zap.Logger) *NotificationService {
	return &NotificationService{
		dispatcher: dispatcher,
		history:    history,
		registry:   registry,
		platform:   client,
		logger:     logger.With(zap.String("component", "service.notification")),
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	events.SubscribeAll(n.dispatcher, n.handle)
}

var eventActions = map[events.EventType]domain.TicketAction{
	events.EventTicketCreated:          domain.ActionCreated,
	events.EventTicketClaimed:          domain.ActionClaimed,
	events.EventTicketUnclaimed:        domain.ActionUnclaimed,
	events.EventTicketCloseRequested:   domain.ActionCloseRequested,
	events.EventTicketInactivityWarned: domain.ActionInactivityWarned,
	events.EventTicketClosed:           domain.ActionClosed,
	events.EventTicketMemberAdded:      domain.ActionMemberAdded,
	events.EventTicketMemberRemoved:    domain.ActionMemberRemoved,
}

func (n *NotificationService) handle(ctx context.Context, event events.Event) error {
	n.logger.Info("ticket event",
		zap.String("event_type", string(event.Type)),
		zap.Int64("ticket_id", event.TicketID),
		zap.String("community_id", event.CommunityID),
		zap.String("actor_id", event.ActorID))

	var firstErr error
	if err := n.recordHistory(ctx, event); err != nil {
		firstErr = err
	}
	if err := n.postLog(ctx, event); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (n *NotificationService) recordHistory(ctx context.Context, event events.Event) error {
	action, ok := eventActions[event.Type]
	if !ok || n.history == nil {
		return nil
	}
	entry := &domain.TicketHistory{
		TicketID:  event.TicketID,
		Action:    action,
		ActorID:   event.ActorID,
		Details:   event.Payload,
		CreatedAt: event.Timestamp,
	}
	if err := n.history.Create(ctx, entry); err != nil {
		n.logger.Warn("history write failed", zap.Int64("ticket_id", event.TicketID), zap.Error(err))
		return err
	}
	return nil
}

func (n *NotificationService) postLog(ctx context.Context, event events.Event) error {
	if n.platform == nil || n.registry == nil {
		return nil
	}
	settings, err := n.registry.Get(ctx, event.CommunityID)
	if err != nil {
		return err
	}
	if settings.LogChannel == "" {
		return nil
	}
	msg := platform.Message{
		Kind:        platform.KindInfo,
		Description: logLine(event),
		Timestamp:   event.Timestamp,
	}
	if err := n.platform.Send(ctx, settings.LogChannel, msg); err != nil {
		n.logger.Warn("log channel post failed", zap.String("channel_id", settings.LogChannel), zap.Error(err))
		return err
	}
	return nil
}

func logLine(event events.Event) string {
	actor := platform.Mention(event.ActorID)
	if event.ActorID == domain.SystemActorID {
		actor = "system"
	}
	id := event.TicketID
	switch event.Type {
	case events.EventTicketCreated:
		return fmt.Sprintf("🎫 Ticket #%d created by %s", id, actor)
	case events.EventTicketClaimed:
		return fmt.Sprintf("✅ Ticket #%d claimed by %s", id, actor)
	case events.EventTicketUnclaimed:
		return fmt.Sprintf("🔄 Ticket #%d unclaimed by %s", id, actor)
	case events.EventTicketCloseRequested:
		return fmt.Sprintf("🚫 Close requested for ticket #%d by %s", id, actor)
	case events.EventTicketInactivityWarned:
		return fmt.Sprintf("⚠️ Inactivity warning sent for ticket #%d", id)
	case events.EventTicketClosed:
		switch event.Payload["reason"] {
		case events.CloseReasonStale:
			return fmt.Sprintf("🔒 Ticket #%d auto-closed due to inactivity", id)
		case events.CloseReasonForced:
			return fmt.Sprintf("🔒 Ticket #%d force closed by %s", id, actor)
		}
		return fmt.Sprintf("🔒 Ticket #%d closed by %s", id, actor)
	case events.EventTicketMemberAdded:
		return fmt.Sprintf("👤 %s added to ticket #%d by %s", platform.Mention(fmt.Sprint(event.Payload["user_id"])), id, actor)
	case events.EventTicketMemberRemoved:
		return fmt.Sprintf("👤 %s removed from ticket #%d by %s", platform.Mention(fmt.Sprint(event.Payload["user_id"])), id, actor)
	}
	return fmt.Sprintf("Ticket #%d: %s", id, event.Type)
}
