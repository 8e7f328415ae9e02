package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type configRepository struct {
	pool *pgxpool.Pool
}

// NewConfigRepository instantiates the Postgres community config repository.
func NewConfigRepository(pool *pgxpool.Pool) ConfigRepository {
	return &configRepository{pool: pool}
}

func (r *configRepository) Get(ctx context.Context, communityID string) ([]byte, bool, error) {
	var blob []byte
	err := r.pool.QueryRow(ctx,
		`SELECT config FROM community_config WHERE community_id=$1`, communityID,
	).Scan(&blob)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return blob, true, nil
}

func (r *configRepository) SetKey(ctx context.Context, communityID, key string, value json.RawMessage, at time.Time) ([]byte, error) {
	const query = `
        INSERT INTO community_config (community_id, config, updated_at)
        VALUES ($1, jsonb_build_object($2::text, $3::jsonb), $4)
        ON CONFLICT (community_id) DO UPDATE
            SET config = community_config.config || EXCLUDED.config,
                updated_at = EXCLUDED.updated_at
        RETURNING config`
	var blob []byte
	if err := r.pool.QueryRow(ctx, query, communityID, key, string(value), at.UTC()).Scan(&blob); err != nil {
		return nil, err
	}
	return blob, nil
}
