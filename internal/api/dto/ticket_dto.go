package dto

import (
	"time"

	"github.com/spec-kit/ticketbot/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	Reason string `json:"reason"`
}

// MemberRequest names the user to add to a ticket channel.
type MemberRequest struct {
	UserID string `json:"user_id"`
}

// UserMessageRequest reports a message posted in a ticket channel. At
// defaults to the time the request is received.
type UserMessageRequest struct {
	At *time.Time `json:"at"`
}

// PanelRequest names the channel that receives the ticket panel.
type PanelRequest struct {
	ChannelID string `json:"channel_id"`
}

// SettingRequest carries the raw value of one setting.
type SettingRequest struct {
	Value string `json:"value"`
}

// TicketResponse describes a ticket.
type TicketResponse struct {
	ID                    int64               `json:"id"`
	CommunityID           string              `json:"community_id"`
	ChannelID             string              `json:"channel_id"`
	ChannelName           string              `json:"channel_name"`
	CreatorID             string              `json:"creator_id"`
	ClaimedBy             *string             `json:"claimed_by"`
	Status                domain.TicketStatus `json:"status"`
	State                 domain.TicketState  `json:"state"`
	Reason                string              `json:"reason"`
	CreatedAt             time.Time           `json:"created_at"`
	ClosedAt              *time.Time          `json:"closed_at"`
	ClosedBy              *string             `json:"closed_by"`
	LastUserResponse      time.Time           `json:"last_user_response"`
	CloseRequested        bool                `json:"close_requested"`
	InactivityWarningSent bool                `json:"inactivity_warning_sent"`
	TranscriptPath        *string             `json:"transcript_path,omitempty"`
}

// TicketInfoResponse adds derived fields to a ticket.
type TicketInfoResponse struct {
	TicketResponse
	MinutesSinceLastResponse int `json:"minutes_since_last_response"`
}

// NewTicketResponse maps a domain ticket.
func NewTicketResponse(t *domain.Ticket) TicketResponse {
	return TicketResponse{
		ID:                    t.ID,
		CommunityID:           t.CommunityID,
		ChannelID:             t.ChannelID,
		ChannelName:           t.ChannelName,
		CreatorID:             t.CreatorID,
		ClaimedBy:             t.ClaimedBy,
		Status:                t.Status,
		State:                 t.State(),
		Reason:                t.Reason,
		CreatedAt:             t.CreatedAt,
		ClosedAt:              t.ClosedAt,
		ClosedBy:              t.ClosedBy,
		LastUserResponse:      t.LastUserResponse,
		CloseRequested:        t.CloseRequested,
		InactivityWarningSent: t.InactivityWarningSent,
		TranscriptPath:        t.TranscriptPath,
	}
}
