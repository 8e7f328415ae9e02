package domain

import "time"

// TicketAction captures what happened in a history entry.
type TicketAction string

const (
	ActionCreated          TicketAction = "CREATED"
	ActionClaimed          TicketAction = "CLAIMED"
	ActionUnclaimed        TicketAction = "UNCLAIMED"
	ActionCloseRequested   TicketAction = "CLOSE_REQUESTED"
	ActionInactivityWarned TicketAction = "INACTIVITY_WARNED"
	ActionClosed           TicketAction = "CLOSED"
	ActionMemberAdded      TicketAction = "MEMBER_ADDED"
	ActionMemberRemoved    TicketAction = "MEMBER_REMOVED"
)

// TicketHistory is an immutable audit trail entry.
type TicketHistory struct {
	ID        int64
	TicketID  int64
	Action    TicketAction
	ActorID   string
	Details   map[string]any
	CreatedAt time.Time
}
