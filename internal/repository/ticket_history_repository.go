package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticketbot/internal/domain"
)

type ticketHistoryRepository struct {
	pool *pgxpool.Pool
}

// NewTicketHistoryRepository builds the Postgres audit repository.
func NewTicketHistoryRepository(pool *pgxpool.Pool) TicketHistoryRepository {
	return &ticketHistoryRepository{pool: pool}
}

func (r *ticketHistoryRepository) Create(ctx context.Context, history *domain.TicketHistory) error {
	details, err := json.Marshal(nonNilDetails(history.Details))
	if err != nil {
		return err
	}
	const query = `
        INSERT INTO ticket_history (ticket_id, action, actor_id, details, created_at)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING id`
	return r.pool.QueryRow(ctx, query,
		history.TicketID,
		string(history.Action),
		history.ActorID,
		details,
		history.CreatedAt.UTC(),
	).Scan(&history.ID)
}

func (r *ticketHistoryRepository) ListByTicket(ctx context.Context, ticketID int64) ([]domain.TicketHistory, error) {
	const query = `
        SELECT id, ticket_id, action, actor_id, details, created_at
        FROM ticket_history WHERE ticket_id=$1 ORDER BY id ASC`
	rows, err := r.pool.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.TicketHistory
	for rows.Next() {
		var (
			history domain.TicketHistory
			action  string
			details []byte
		)
		if err := rows.Scan(
			&history.ID,
			&history.TicketID,
			&action,
			&history.ActorID,
			&details,
			&history.CreatedAt,
		); err != nil {
			return nil, err
		}
		history.Action = domain.TicketAction(action)
		history.CreatedAt = history.CreatedAt.UTC()
		if err := json.Unmarshal(details, &history.Details); err != nil {
			return nil, err
		}
		result = append(result, history)
	}
	return result, rows.Err()
}

func nonNilDetails(details map[string]any) map[string]any {
	if details == nil {
		return map[string]any{}
	}
	return details
}
