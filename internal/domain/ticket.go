package domain

import "time"

// TicketStatus is the persisted lifecycle status.
type TicketStatus string

const (
	TicketStatusOpen   TicketStatus = "open"
	TicketStatusClosed TicketStatus = "closed"
)

// TicketState is the derived lifecycle state used by the engine.
type TicketState string

const (
	TicketStateOpenUnclaimed TicketState = "OPEN_UNCLAIMED"
	TicketStateOpenClaimed   TicketState = "OPEN_CLAIMED"
	TicketStateClosed        TicketState = "CLOSED"
)

// MaxReasonLength bounds the creation-time reason text.
const MaxReasonLength = 500

// DefaultReason is stored when the creator gives none.
const DefaultReason = "No reason provided"

// Ticket is one support channel and its lifecycle record.
type Ticket struct {
	ID                    int64
	CommunityID           string
	ChannelID             string
	ChannelName           string
	CreatorID             string
	ClaimedBy             *string
	Status                TicketStatus
	Reason                string
	CreatedAt             time.Time
	ClosedAt              *time.Time
	ClosedBy              *string
	LastUserResponse      time.Time
	CloseRequested        bool
	InactivityWarningSent bool
	TranscriptPath        *string
}

// IsOpen reports whether the ticket still accepts transitions.
func (t *Ticket) IsOpen() bool {
	return t.Status == TicketStatusOpen
}

// State derives the lifecycle state from status and claim.
func (t *Ticket) State() TicketState {
	switch {
	case t.Status == TicketStatusClosed:
		return TicketStateClosed
	case t.ClaimedBy != nil:
		return TicketStateOpenClaimed
	default:
		return TicketStateOpenUnclaimed
	}
}

// Claimant returns the claimant id or "".
func (t *Ticket) Claimant() string {
	if t.ClaimedBy == nil {
		return ""
	}
	return *t.ClaimedBy
}

// IdleFor returns the time since the creator last responded.
func (t *Ticket) IdleFor(now time.Time) time.Duration {
	if now.Before(t.LastUserResponse) {
		return 0
	}
	return now.Sub(t.LastUserResponse)
}

// NewTicket carries the fields needed to insert a ticket.
type NewTicket struct {
	CommunityID string
	CreatorID   string
	Reason      string
	CreatedAt   time.Time
	// MaxOpen is the creator's open-ticket quota checked atomically at insert.
	MaxOpen int
}
