package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresIdempotencyChecker looks up client command keys in the command log.
type PostgresIdempotencyChecker struct {
	db      *sql.DB
	fundID  string
	timeout time.Duration
}

func NewPostgresIdempotencyChecker(db *sql.DB, fundID string) *PostgresIdempotencyChecker {
	return &PostgresIdempotencyChecker{
		db:      db,
		fundID:  fundID,
		timeout: 500 * time.Millisecond,
	}
}

// IsDuplicate checks if the command key was already processed
func (pic *PostgresIdempotencyChecker) IsDuplicate(command string, idempotencyKey string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), pic.timeout)
	defer cancel()

	query := `
        SELECT 1
        FROM fund_log.commands
        WHERE fund_id = $1 AND command = $2 AND idempotency_key = $3
        LIMIT 1
    `

	var exists int
	err := pic.db.QueryRowContext(ctx, query, pic.fundID, command, idempotencyKey).Scan(&exists)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RecentKeys returns up to limit composite "command:key" strings, oldest
// first, for warming the in-memory LRU after a restart.
func (pic *PostgresIdempotencyChecker) RecentKeys(ctx context.Context, limit int) ([]string, error) {
	rows, err := pic.db.QueryContext(ctx, `
		SELECT command, idempotency_key FROM (
			SELECT command, idempotency_key, processed_at
			FROM fund_log.commands
			WHERE fund_id = $1
			ORDER BY processed_at DESC
			LIMIT $2
		) recent
		ORDER BY processed_at ASC
	`, pic.fundID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent command keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var command, key string
		if err := rows.Scan(&command, &key); err != nil {
			return nil, err
		}
		keys = append(keys, command+":"+key)
	}
	return keys, rows.Err()
}
