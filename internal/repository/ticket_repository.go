package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticketbot/internal/domain"
)

const ticketColumns = `ticket_id, community_id, channel_id, channel_name, creator_id, claimed_by,
               status, reason, created_at, closed_at, closed_by, last_user_response,
               close_requested, inactivity_warning_sent, transcript_path`

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates the Postgres ticket repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

// NewPostgresStore bundles the Postgres repositories over one pool.
func NewPostgresStore(pool *pgxpool.Pool) Store {
	return Store{
		Tickets: NewTicketRepository(pool),
		Config:  NewConfigRepository(pool),
		History: NewTicketHistoryRepository(pool),
		Ping:    pool.Ping,
	}
}

// Create serializes concurrent creations by the same user with a
// transaction-scoped advisory lock, then checks the quota and inserts.
func (r *ticketRepository) Create(ctx context.Context, t domain.NewTicket) (*domain.Ticket, error) {
	var created *domain.Ticket
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`,
			t.CommunityID+"/"+t.CreatorID); err != nil {
			return err
		}

		var open int
		if err := tx.QueryRow(ctx, `
            SELECT COUNT(*) FROM tickets
            WHERE community_id=$1 AND creator_id=$2 AND status='open'`,
			t.CommunityID, t.CreatorID,
		).Scan(&open); err != nil {
			return err
		}
		if t.MaxOpen > 0 && open >= t.MaxOpen {
			return ErrLimitExceeded
		}

		row := tx.QueryRow(ctx, `
            INSERT INTO tickets (community_id, creator_id, reason, status, created_at, last_user_response)
            VALUES ($1, $2, $3, 'open', $4, $4)
            RETURNING `+ticketColumns,
			t.CommunityID, t.CreatorID, t.Reason, t.CreatedAt.UTC(),
		)
		ticket, err := scanTicket(row)
		if err != nil {
			return err
		}
		created = ticket
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (r *ticketRepository) AttachChannel(ctx context.Context, id int64, channelID, channelName string) error {
	cmd, err := r.pool.Exec(ctx, `
        UPDATE tickets SET channel_id=$2, channel_name=$3
        WHERE ticket_id=$1 AND status='open'`, id, channelID, channelName)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ticketRepository) Discard(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM tickets WHERE ticket_id=$1 AND channel_id IS NULL`, id)
	return err
}

func (r *ticketRepository) GetByID(ctx context.Context, id int64) (*domain.Ticket, error) {
	return r.fetchSingle(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE ticket_id=$1`, id)
}

func (r *ticketRepository) GetOpenByID(ctx context.Context, id int64) (*domain.Ticket, error) {
	return r.fetchSingle(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE ticket_id=$1 AND status='open'`, id)
}

func (r *ticketRepository) GetByChannel(ctx context.Context, channelID string) (*domain.Ticket, error) {
	return r.fetchSingle(ctx, `
        SELECT `+ticketColumns+` FROM tickets WHERE channel_id=$1
        ORDER BY (status='open') DESC, ticket_id DESC LIMIT 1`, channelID)
}

func (r *ticketRepository) GetOpenByChannel(ctx context.Context, channelID string) (*domain.Ticket, error) {
	return r.fetchSingle(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE channel_id=$1 AND status='open'`, channelID)
}

func (r *ticketRepository) ListOpenByCreator(ctx context.Context, communityID, creatorID string) ([]domain.Ticket, error) {
	return r.list(ctx, `
        SELECT `+ticketColumns+` FROM tickets
        WHERE community_id=$1 AND creator_id=$2 AND status='open'
        ORDER BY ticket_id`, communityID, creatorID)
}

func (r *ticketRepository) ListInactive(ctx context.Context, communityID string, cutoff time.Time) ([]domain.Ticket, error) {
	return r.list(ctx, `
        SELECT `+ticketColumns+` FROM tickets
        WHERE community_id=$1 AND status='open' AND channel_id IS NOT NULL
          AND inactivity_warning_sent=FALSE AND last_user_response <= $2
        ORDER BY ticket_id`, communityID, cutoff.UTC())
}

func (r *ticketRepository) ListStale(ctx context.Context, communityID string, cutoff time.Time) ([]domain.Ticket, error) {
	return r.list(ctx, `
        SELECT `+ticketColumns+` FROM tickets
        WHERE community_id=$1 AND status='open' AND channel_id IS NOT NULL
          AND last_user_response <= $2
        ORDER BY ticket_id`, communityID, cutoff.UTC())
}

func (r *ticketRepository) ListCommunities(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
        SELECT community_id FROM community_config
        UNION
        SELECT community_id FROM tickets WHERE status='open'
        ORDER BY 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *ticketRepository) Claim(ctx context.Context, channelID, actorID string) (bool, error) {
	return r.exec(ctx, `
        UPDATE tickets SET claimed_by=$2
        WHERE channel_id=$1 AND status='open' AND claimed_by IS NULL`, channelID, actorID)
}

func (r *ticketRepository) Unclaim(ctx context.Context, channelID, expectedClaimant string) (bool, error) {
	return r.exec(ctx, `
        UPDATE tickets SET claimed_by=NULL
        WHERE channel_id=$1 AND status='open' AND claimed_by=$2`, channelID, expectedClaimant)
}

func (r *ticketRepository) TouchResponse(ctx context.Context, channelID string, at time.Time) (bool, error) {
	return r.exec(ctx, `
        UPDATE tickets SET last_user_response=GREATEST(last_user_response, $2), inactivity_warning_sent=FALSE
        WHERE channel_id=$1 AND status='open'`, channelID, at.UTC())
}

func (r *ticketRepository) MarkWarned(ctx context.Context, channelID string, cutoff time.Time) (bool, error) {
	return r.exec(ctx, `
        UPDATE tickets SET inactivity_warning_sent=TRUE
        WHERE channel_id=$1 AND status='open' AND inactivity_warning_sent=FALSE
          AND last_user_response <= $2`, channelID, cutoff.UTC())
}

func (r *ticketRepository) RequestClose(ctx context.Context, channelID string) (bool, error) {
	return r.exec(ctx, `
        UPDATE tickets SET close_requested=TRUE
        WHERE channel_id=$1 AND status='open' AND close_requested=FALSE`, channelID)
}

func (r *ticketRepository) Close(ctx context.Context, id int64, closedBy string, at time.Time) (bool, error) {
	return r.exec(ctx, `
        UPDATE tickets SET status='closed', closed_at=$3, closed_by=$2
        WHERE ticket_id=$1 AND status='open'`, id, closedBy, at.UTC())
}

func (r *ticketRepository) CloseIdle(ctx context.Context, id int64, closedBy string, at, cutoff time.Time) (bool, error) {
	return r.exec(ctx, `
        UPDATE tickets SET status='closed', closed_at=$3, closed_by=$2
        WHERE ticket_id=$1 AND status='open' AND last_user_response <= $4`, id, closedBy, at.UTC(), cutoff.UTC())
}

func (r *ticketRepository) AttachTranscript(ctx context.Context, id int64, path string) error {
	cmd, err := r.pool.Exec(ctx, `UPDATE tickets SET transcript_path=$2 WHERE ticket_id=$1`, id, path)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ticketRepository) exec(ctx context.Context, query string, args ...any) (bool, error) {
	cmd, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *ticketRepository) fetchSingle(ctx context.Context, query string, args ...any) (*domain.Ticket, error) {
	ticket, err := scanTicket(r.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return ticket, err
}

func (r *ticketRepository) list(ctx context.Context, query string, args ...any) ([]domain.Ticket, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var (
		ticket    domain.Ticket
		channelID *string
		status    string
	)
	if err := row.Scan(
		&ticket.ID,
		&ticket.CommunityID,
		&channelID,
		&ticket.ChannelName,
		&ticket.CreatorID,
		&ticket.ClaimedBy,
		&status,
		&ticket.Reason,
		&ticket.CreatedAt,
		&ticket.ClosedAt,
		&ticket.ClosedBy,
		&ticket.LastUserResponse,
		&ticket.CloseRequested,
		&ticket.InactivityWarningSent,
		&ticket.TranscriptPath,
	); err != nil {
		return nil, err
	}
	if channelID != nil {
		ticket.ChannelID = *channelID
	}
	ticket.Status = domain.TicketStatus(status)
	ticket.CreatedAt = ticket.CreatedAt.UTC()
	ticket.LastUserResponse = ticket.LastUserResponse.UTC()
	if ticket.ClosedAt != nil {
		closed := ticket.ClosedAt.UTC()
		ticket.ClosedAt = &closed
	}
	return &ticket, nil
}
