package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/spec-kit/ticketbot/internal/domain"
)

// sqliteTime is fixed width so that text comparison orders like time.
const sqliteTime = "2006-01-02 15:04:05.000000"

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTime)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(sqliteTime, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t, nil
}

type sqliteTicketRepository struct {
	db *sql.DB
}

// NewSQLiteTicketRepository instantiates the SQLite ticket repository.
func NewSQLiteTicketRepository(db *sql.DB) TicketRepository {
	return &sqliteTicketRepository{db: db}
}

// NewSQLiteStore bundles the SQLite repositories over one handle.
func NewSQLiteStore(db *sql.DB) Store {
	return Store{
		Tickets: NewSQLiteTicketRepository(db),
		Config:  NewSQLiteConfigRepository(db),
		History: NewSQLiteTicketHistoryRepository(db),
		Ping:    db.PingContext,
	}
}

// Create checks the quota and inserts in a single statement, so the check
// cannot interleave with another writer.
func (r *sqliteTicketRepository) Create(ctx context.Context, t domain.NewTicket) (*domain.Ticket, error) {
	limit := t.MaxOpen
	if limit <= 0 {
		limit = int(^uint32(0) >> 1)
	}
	created := formatTime(t.CreatedAt)
	res, err := r.db.ExecContext(ctx, `
        INSERT INTO tickets (community_id, creator_id, reason, status, created_at, last_user_response)
        SELECT ?, ?, ?, 'open', ?, ?
        WHERE (SELECT COUNT(*) FROM tickets
               WHERE community_id=? AND creator_id=? AND status='open') < ?`,
		t.CommunityID, t.CreatorID, t.Reason, created, created,
		t.CommunityID, t.CreatorID, limit,
	)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrLimitExceeded
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

func (r *sqliteTicketRepository) AttachChannel(ctx context.Context, id int64, channelID, channelName string) error {
	ok, err := r.exec(ctx, `
        UPDATE tickets SET channel_id=?, channel_name=?
        WHERE ticket_id=? AND status='open'`, channelID, channelName, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (r *sqliteTicketRepository) Discard(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM tickets WHERE ticket_id=? AND channel_id IS NULL`, id)
	return err
}

func (r *sqliteTicketRepository) GetByID(ctx context.Context, id int64) (*domain.Ticket, error) {
	return r.fetchSingle(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE ticket_id=?`, id)
}

func (r *sqliteTicketRepository) GetOpenByID(ctx context.Context, id int64) (*domain.Ticket, error) {
	return r.fetchSingle(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE ticket_id=? AND status='open'`, id)
}

func (r *sqliteTicketRepository) GetByChannel(ctx context.Context, channelID string) (*domain.Ticket, error) {
	return r.fetchSingle(ctx, `
        SELECT `+ticketColumns+` FROM tickets WHERE channel_id=?
        ORDER BY (status='open') DESC, ticket_id DESC LIMIT 1`, channelID)
}

func (r *sqliteTicketRepository) GetOpenByChannel(ctx context.Context, channelID string) (*domain.Ticket, error) {
	return r.fetchSingle(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE channel_id=? AND status='open'`, channelID)
}

func (r *sqliteTicketRepository) ListOpenByCreator(ctx context.Context, communityID, creatorID string) ([]domain.Ticket, error) {
	return r.list(ctx, `
        SELECT `+ticketColumns+` FROM tickets
        WHERE community_id=? AND creator_id=? AND status='open'
        ORDER BY ticket_id`, communityID, creatorID)
}

func (r *sqliteTicketRepository) ListInactive(ctx context.Context, communityID string, cutoff time.Time) ([]domain.Ticket, error) {
	return r.list(ctx, `
        SELECT `+ticketColumns+` FROM tickets
        WHERE community_id=? AND status='open' AND channel_id IS NOT NULL
          AND inactivity_warning_sent=0 AND last_user_response <= ?
        ORDER BY ticket_id`, communityID, formatTime(cutoff))
}

func (r *sqliteTicketRepository) ListStale(ctx context.Context, communityID string, cutoff time.Time) ([]domain.Ticket, error) {
	return r.list(ctx, `
        SELECT `+ticketColumns+` FROM tickets
        WHERE community_id=? AND status='open' AND channel_id IS NOT NULL
          AND last_user_response <= ?
        ORDER BY ticket_id`, communityID, formatTime(cutoff))
}

func (r *sqliteTicketRepository) ListCommunities(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
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

func (r *sqliteTicketRepository) Claim(ctx context.Context, channelID, actorID string) (bool, error) {
	return r.exec(ctx, `
        UPDATE tickets SET claimed_by=?
        WHERE channel_id=? AND status='open' AND claimed_by IS NULL`, actorID, channelID)
}

func (r *sqliteTicketRepository) Unclaim(ctx context.Context, channelID, expectedClaimant string) (bool, error) {
	return r.exec(ctx, `
        UPDATE tickets SET claimed_by=NULL
        WHERE channel_id=? AND status='open' AND claimed_by=?`, channelID, expectedClaimant)
}

func (r *sqliteTicketRepository) TouchResponse(ctx context.Context, channelID string, at time.Time) (bool, error) {
	return r.exec(ctx, `
        UPDATE tickets SET last_user_response=MAX(last_user_response, ?), inactivity_warning_sent=0
        WHERE channel_id=? AND status='open'`, formatTime(at), channelID)
}

func (r *sqliteTicketRepository) MarkWarned(ctx context.Context, channelID string, cutoff time.Time) (bool, error) {
	return r.exec(ctx, `
        UPDATE tickets SET inactivity_warning_sent=1
        WHERE channel_id=? AND status='open' AND inactivity_warning_sent=0
          AND last_user_response <= ?`, channelID, formatTime(cutoff))
}

func (r *sqliteTicketRepository) RequestClose(ctx context.Context, channelID string) (bool, error) {
	return r.exec(ctx, `
        UPDATE tickets SET close_requested=1
        WHERE channel_id=? AND status='open' AND close_requested=0`, channelID)
}

func (r *sqliteTicketRepository) Close(ctx context.Context, id int64, closedBy string, at time.Time) (bool, error) {
	return r.exec(ctx, `
        UPDATE tickets SET status='closed', closed_at=?, closed_by=?
        WHERE ticket_id=? AND status='open'`, formatTime(at), closedBy, id)
}

func (r *sqliteTicketRepository) CloseIdle(ctx context.Context, id int64, closedBy string, at, cutoff time.Time) (bool, error) {
	return r.exec(ctx, `
        UPDATE tickets SET status='closed', closed_at=?, closed_by=?
        WHERE ticket_id=? AND status='open' AND last_user_response <= ?`,
		formatTime(at), closedBy, id, formatTime(cutoff))
}

func (r *sqliteTicketRepository) AttachTranscript(ctx context.Context, id int64, path string) error {
	ok, err := r.exec(ctx, `UPDATE tickets SET transcript_path=? WHERE ticket_id=?`, path, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (r *sqliteTicketRepository) exec(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *sqliteTicketRepository) fetchSingle(ctx context.Context, query string, args ...any) (*domain.Ticket, error) {
	ticket, err := scanSQLiteTicket(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return ticket, err
}

func (r *sqliteTicketRepository) list(ctx context.Context, query string, args ...any) ([]domain.Ticket, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Ticket
	for rows.Next() {
		ticket, err := scanSQLiteTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteTicket(row rowScanner) (*domain.Ticket, error) {
	var (
		ticket         domain.Ticket
		channelID      sql.NullString
		claimedBy      sql.NullString
		status         string
		createdAt      string
		closedAt       sql.NullString
		closedBy       sql.NullString
		lastResponse   string
		transcriptPath sql.NullString
	)
	if err := row.Scan(
		&ticket.ID,
		&ticket.CommunityID,
		&channelID,
		&ticket.ChannelName,
		&ticket.CreatorID,
		&claimedBy,
		&status,
		&ticket.Reason,
		&createdAt,
		&closedAt,
		&closedBy,
		&lastResponse,
		&ticket.CloseRequested,
		&ticket.InactivityWarningSent,
		&transcriptPath,
	); err != nil {
		return nil, err
	}

	var err error
	ticket.Status = domain.TicketStatus(status)
	ticket.ChannelID = channelID.String
	ticket.ClaimedBy = nullableString(claimedBy)
	ticket.ClosedBy = nullableString(closedBy)
	ticket.TranscriptPath = nullableString(transcriptPath)
	if ticket.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if ticket.LastUserResponse, err = parseTime(lastResponse); err != nil {
		return nil, err
	}
	if closedAt.Valid {
		closed, err := parseTime(closedAt.String)
		if err != nil {
			return nil, err
		}
		ticket.ClosedAt = &closed
	}
	return &ticket, nil
}

func nullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
