package worker

import (
	"github.com/spec-kit/ticketbot/internal/events"
	"github.com/spec-kit/ticketbot/internal/service"
)

// StartNotificationWorker registers the audit and log-channel handlers and,
// when configured, the Redis stream mirror.
func StartNotificationWorker(dispatcher events.Dispatcher, notificationService *service.NotificationService, mirror *events.StreamMirror) {
	if notificationService != nil {
		notificationService.RegisterHandlers()
	}
	mirror.Register(dispatcher)
}
