// Copyright (c) 2026 Decorly. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package activity

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository stores the activity log in users.activitylog.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates the PostgreSQL activity log.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Append inserts one entry.
func (repository *PostgresRepository) Append(context context.Context, entry *Entry) error {
	query := `
		INSERT INTO users.activitylog (
			id, userid, action, endpoint, method, address, useragent, createdat
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := repository.pool.Exec(context, query,
		entry.ID,
		entry.UserID,
		entry.Action,
		entry.Endpoint,
		entry.Method,
		entry.Address,
		entry.UserAgent,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres_activity_append_failed: %w", err)
	}
	return nil
}

// CountSince counts the user's entries at or after since.
func (repository *PostgresRepository) CountSince(context context.Context, userID string, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM users.activitylog WHERE userid = $1 AND createdat >= $2`

	var count int
	if err := repository.pool.QueryRow(context, query, userID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres_activity_count_failed: %w", err)
	}
	return count, nil
}

// DeleteBefore purges entries older than cutoff.
func (repository *PostgresRepository) DeleteBefore(context context.Context, cutoff time.Time) (int64, error) {
	tag, err := repository.pool.Exec(context, `DELETE FROM users.activitylog WHERE createdat < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres_activity_purge_failed: %w", err)
	}
	return tag.RowsAffected(), nil
}
