package events

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StreamMirror appends every event to a capped Redis stream so that other
// services can follow ticket activity.
type StreamMirror struct {
	client *redis.Client
	stream string
	maxLen int64
	logger *zap.Logger
}

// NewStreamMirror builds a mirror. A nil client yields a nil mirror.
func NewStreamMirror(client *redis.Client, stream string, maxLen int64, logger *zap.Logger) *StreamMirror {
	if client == nil {
		return nil
	}
	return &StreamMirror{
		client: client,
		stream: stream,
		maxLen: maxLen,
		logger: logger.With(zap.String("component", "events.stream")),
	}
}

// Register subscribes the mirror to every event type.
func (m *StreamMirror) Register(d Dispatcher) {
	if m == nil || d == nil {
		return
	}
	SubscribeAll(d, m.Handle)
}

// Handle appends one event. Failures are logged and returned.
func (m *StreamMirror) Handle(ctx context.Context, event Event) error {
	values, err := streamValues(event)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	args := &redis.XAddArgs{
		Stream: m.stream,
		Values: values,
	}
	if m.maxLen > 0 {
		args.MaxLen = m.maxLen
		args.Approx = true
	}
	if err := m.client.XAdd(ctx, args).Err(); err != nil {
		m.logger.Warn("event mirror failed",
			zap.String("event_type", string(event.Type)),
			zap.Int64("ticket_id", event.TicketID),
			zap.Error(err))
		return err
	}
	return nil
}

func streamValues(event Event) (map[string]any, error) {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"id":           event.ID,
		"type":         string(event.Type),
		"ticket_id":    strconv.FormatInt(event.TicketID, 10),
		"community_id": event.CommunityID,
		"channel_id":   event.ChannelID,
		"actor_id":     event.ActorID,
		"ts":           event.Timestamp.UTC().Format(time.RFC3339Nano),
		"payload":      string(payload),
	}, nil
}
