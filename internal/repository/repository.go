package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/spec-kit/ticketbot/internal/domain"
)

var (
	// ErrNotFound is returned by reads that match no row.
	ErrNotFound = errors.New("repository: not found")
	// ErrLimitExceeded is returned by Create when the creator is at quota.
	ErrLimitExceeded = errors.New("repository: open ticket limit reached")
)

// TicketRepository encapsulates ticket persistence.
//
// Every mutation is gated on the ticket's current status (and, where
// relevant, its current claim or flags). A mutation that matches no row
// returns false with a nil error; callers racing a concurrent close rely on
// this.
type TicketRepository interface {
	Create(ctx context.Context, t domain.NewTicket) (*domain.Ticket, error)
	AttachChannel(ctx context.Context, id int64, channelID, channelName string) error
	Discard(ctx context.Context, id int64) error

	GetByID(ctx context.Context, id int64) (*domain.Ticket, error)
	GetOpenByID(ctx context.Context, id int64) (*domain.Ticket, error)
	GetByChannel(ctx context.Context, channelID string) (*domain.Ticket, error)
	GetOpenByChannel(ctx context.Context, channelID string) (*domain.Ticket, error)
	ListOpenByCreator(ctx context.Context, communityID, creatorID string) ([]domain.Ticket, error)
	ListInactive(ctx context.Context, communityID string, cutoff time.Time) ([]domain.Ticket, error)
	ListStale(ctx context.Context, communityID string, cutoff time.Time) ([]domain.Ticket, error)
	ListCommunities(ctx context.Context) ([]string, error)

	Claim(ctx context.Context, channelID, actorID string) (bool, error)
	Unclaim(ctx context.Context, channelID, expectedClaimant string) (bool, error)
	TouchResponse(ctx context.Context, channelID string, at time.Time) (bool, error)
	MarkWarned(ctx context.Context, channelID string, cutoff time.Time) (bool, error)
	RequestClose(ctx context.Context, channelID string) (bool, error)
	Close(ctx context.Context, id int64, closedBy string, at time.Time) (bool, error)
	// CloseIdle closes the ticket only while its creator has been silent
	// since cutoff, so a reply racing the staleness sweep keeps it open.
	CloseIdle(ctx context.Context, id int64, closedBy string, at, cutoff time.Time) (bool, error)
	AttachTranscript(ctx context.Context, id int64, path string) error
}

// ConfigRepository stores one opaque settings blob per community.
type ConfigRepository interface {
	// Get returns the stored blob and whether a row exists.
	Get(ctx context.Context, communityID string) ([]byte, bool, error)
	// SetKey merges key=value into the stored blob, creating the row when
	// absent, and returns the merged blob.
	SetKey(ctx context.Context, communityID, key string, value json.RawMessage, at time.Time) ([]byte, error)
}

// TicketHistoryRepository stores audit entries.
type TicketHistoryRepository interface {
	Create(ctx context.Context, history *domain.TicketHistory) error
	ListByTicket(ctx context.Context, ticketID int64) ([]domain.TicketHistory, error)
}

// Store bundles the repositories of one backend.
type Store struct {
	Tickets TicketRepository
	Config  ConfigRepository
	History TicketHistoryRepository
	Ping    func(ctx context.Context) error
}
