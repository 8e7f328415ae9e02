// Package platform defines the chat-platform operations the lifecycle engine
// depends on. Adapters live in subpackages.
package platform

import (
	"context"
	"errors"
	"time"

	"github.com/spec-kit/ticketbot/internal/domain"
)

// ErrChannelGone reports that a channel was already archived or deleted.
// Callers treat it as success for archive and delete.
var ErrChannelGone = errors.New("platform: channel no longer exists")

// ErrUnknownMember reports an id that does not resolve to a community member.
var ErrUnknownMember = errors.New("platform: unknown member")

// MessageKind selects the color of a notice.
type MessageKind string

const (
	KindSuccess  MessageKind = "success"
	KindError    MessageKind = "error"
	KindWarning  MessageKind = "warning"
	KindInfo     MessageKind = "info"
	KindTicket   MessageKind = "ticket"
	KindSetup    MessageKind = "setup"
	KindStaff    MessageKind = "staff"
	KindOffHours MessageKind = "off_hours"
)

var kindColors = map[MessageKind]int{
	KindSuccess:  0x2ecc71,
	KindError:    0xe74c3c,
	KindWarning:  0xf39c12,
	KindInfo:     0x3498db,
	KindTicket:   0x9b59b6,
	KindSetup:    0x1abc9c,
	KindStaff:    0xe67e22,
	KindOffHours: 0x95a5a6,
}

// Color returns the RGB color for the kind.
func (k MessageKind) Color() int {
	if c, ok := kindColors[k]; ok {
		return c
	}
	return kindColors[KindInfo]
}

// Field is one labelled value in a notice.
type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Message is a formatted notice posted into a channel.
type Message struct {
	Kind        MessageKind
	Title       string
	Description string
	Fields      []Field
	Footer      string
	// Color overrides the kind color when non-zero.
	Color        int
	Mentions     []string
	MentionRoles []string
	Timestamp    time.Time
}

// ColorValue returns the effective color.
func (m Message) ColorValue() int {
	if m.Color != 0 {
		return m.Color
	}
	return m.Kind.Color()
}

// HistoryMessage is one message read back from a channel.
type HistoryMessage struct {
	ID          string
	AuthorID    string
	AuthorName  string
	Content     string
	Attachments []string
	Embeds      int
	Bot         bool
	CreatedAt   time.Time
}

// ChannelSpec describes a private ticket channel to create.
type ChannelSpec struct {
	CommunityID string
	CategoryID  string
	Name        string
	Topic       string
	// Members are granted read and send access.
	Members []string
	// StaffRoles are role ids whose members are granted access.
	StaffRoles []string
}

// Channel identifies a created channel.
type Channel struct {
	ID   string
	Name string
}

// CreateTicketAction identifies the panel button that opens a ticket.
const CreateTicketAction = "create_ticket"

// Panel is the persistent message members use to open tickets.
type Panel struct {
	Title        string
	Description  string
	Color        int
	ImageURL     string
	ThumbnailURL string
	Footer       string
}

// Client is the chat-platform surface used by the engine.
type Client interface {
	// ChannelExists reports whether a channel or category id resolves.
	ChannelExists(ctx context.Context, communityID, channelID string) (bool, error)
	CreateTicketChannel(ctx context.Context, spec ChannelSpec) (Channel, error)
	// MoveToArchive renames the channel, moves it under the archive category
	// and removes default access. Returns ErrChannelGone if already gone.
	MoveToArchive(ctx context.Context, communityID, channelID, archiveCategoryID, newName string) error
	// DeleteChannel returns ErrChannelGone if already gone.
	DeleteChannel(ctx context.Context, communityID, channelID string) error
	Send(ctx context.Context, channelID string, msg Message) error
	// PostPanel posts a panel carrying the create-ticket button and returns
	// the id of the posted message.
	PostPanel(ctx context.Context, channelID string, panel Panel) (string, error)
	SendFile(ctx context.Context, channelID, filename string, content []byte, msg Message) error
	// History returns every message in chronological order.
	History(ctx context.Context, channelID string) ([]HistoryMessage, error)
	ResolveMember(ctx context.Context, communityID, userID string) (domain.Actor, error)
	SetMemberAccess(ctx context.Context, communityID, channelID, userID string, allowed bool) error
}

// IgnoreGone maps ErrChannelGone to nil.
func IgnoreGone(err error) error {
	if errors.Is(err, ErrChannelGone) {
		return nil
	}
	return err
}

// Mention formats a user mention understood by the supported platforms.
func Mention(userID string) string {
	return "<@" + userID + ">"
}
