package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/spec-kit/ticketbot/internal/domain"
)

type sqliteTicketHistoryRepository struct {
	db *sql.DB
}

// NewSQLiteTicketHistoryRepository builds the SQLite audit repository.
func NewSQLiteTicketHistoryRepository(db *sql.DB) TicketHistoryRepository {
	return &sqliteTicketHistoryRepository{db: db}
}

func (r *sqliteTicketHistoryRepository) Create(ctx context.Context, history *domain.TicketHistory) error {
	details, err := json.Marshal(nonNilDetails(history.Details))
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
        INSERT INTO ticket_history (ticket_id, action, actor_id, details, created_at)
        VALUES (?,?,?,?,?)`,
		history.TicketID,
		string(history.Action),
		history.ActorID,
		string(details),
		formatTime(history.CreatedAt),
	)
	if err != nil {
		return err
	}
	history.ID, err = res.LastInsertId()
	return err
}

func (r *sqliteTicketHistoryRepository) ListByTicket(ctx context.Context, ticketID int64) ([]domain.TicketHistory, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT id, ticket_id, action, actor_id, details, created_at
        FROM ticket_history WHERE ticket_id=? ORDER BY id ASC`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.TicketHistory
	for rows.Next() {
		var (
			history   domain.TicketHistory
			action    string
			details   string
			createdAt string
		)
		if err := rows.Scan(&history.ID, &history.TicketID, &action, &history.ActorID, &details, &createdAt); err != nil {
			return nil, err
		}
		history.Action = domain.TicketAction(action)
		if history.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(details), &history.Details); err != nil {
			return nil, err
		}
		result = append(result, history)
	}
	return result, rows.Err()
}
