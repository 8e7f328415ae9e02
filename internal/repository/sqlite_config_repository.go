package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

type sqliteConfigRepository struct {
	db *sql.DB
}

// NewSQLiteConfigRepository instantiates the SQLite community config repository.
func NewSQLiteConfigRepository(db *sql.DB) ConfigRepository {
	return &sqliteConfigRepository{db: db}
}

func (r *sqliteConfigRepository) Get(ctx context.Context, communityID string) ([]byte, bool, error) {
	var blob string
	err := r.db.QueryRowContext(ctx,
		`SELECT config FROM community_config WHERE community_id=?`, communityID,
	).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(blob), true, nil
}

func (r *sqliteConfigRepository) SetKey(ctx context.Context, communityID, key string, value json.RawMessage, at time.Time) ([]byte, error) {
	const query = `
        INSERT INTO community_config (community_id, config, updated_at)
        VALUES (?, json_object(?, json(?)), ?)
        ON CONFLICT (community_id) DO UPDATE
            SET config = json_patch(community_config.config, excluded.config),
                updated_at = excluded.updated_at
        RETURNING config`
	var blob string
	if err := r.db.QueryRowContext(ctx, query, communityID, key, string(value), formatTime(at)).Scan(&blob); err != nil {
		return nil, err
	}
	return []byte(blob), nil
}
