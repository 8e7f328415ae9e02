package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated          EventType = "ticket.created"
	EventTicketClaimed          EventType = "ticket.claimed"
	EventTicketUnclaimed        EventType = "ticket.unclaimed"
	EventTicketCloseRequested   EventType = "ticket.close_requested"
	EventTicketInactivityWarned EventType = "ticket.inactivity_warned"
	EventTicketClosed           EventType = "ticket.closed"
	EventTicketMemberAdded      EventType = "ticket.member_added"
	EventTicketMemberRemoved    EventType = "ticket.member_removed"
)

// AllEventTypes lists every lifecycle event, for subscribers that mirror all of them.
var AllEventTypes = []EventType{
	EventTicketCreated,
	EventTicketClaimed,
	EventTicketUnclaimed,
	EventTicketCloseRequested,
	EventTicketInactivityWarned,
	EventTicketClosed,
	EventTicketMemberAdded,
	EventTicketMemberRemoved,
}

// Event represents a lifecycle change emitted after it is committed.
type Event struct {
	ID          string         `json:"id"`
	Type        EventType      `json:"type"`
	TicketID    int64          `json:"ticket_id"`
	CommunityID string         `json:"community_id"`
	ChannelID   string         `json:"channel_id,omitempty"`
	ActorID     string         `json:"actor_id"`
	Timestamp   time.Time      `json:"timestamp"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// New builds an event with a fresh id.
func New(eventType EventType, ticketID int64, communityID, channelID, actorID string, at time.Time, payload map[string]any) Event {
	return Event{
		ID:          uuid.NewString(),
		Type:        eventType,
		TicketID:    ticketID,
		CommunityID: communityID,
		ChannelID:   channelID,
		ActorID:     actorID,
		Timestamp:   at,
		Payload:     payload,
	}
}

// Close reasons carried in the ticket.closed payload.
const (
	CloseReasonManual = "manual"
	CloseReasonForced = "forced"
	CloseReasonStale  = "stale"
)
