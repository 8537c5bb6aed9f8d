package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type DB struct {
	Pool *pgxpool.Pool
}

func New(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

func (db *DB) Close() {
	db.Pool.Close()
}

func (db *DB) Migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS notification_results (
			id           TEXT PRIMARY KEY,
			recipient    TEXT NOT NULL,
			status       TEXT NOT NULL CHECK (status IN ('pending', 'sent', 'delivered', 'failed', 'partial', 'cancelled')),
			outcomes     JSONB NOT NULL,
			error        TEXT,
			created_at   TIMESTAMPTZ DEFAULT NOW(),
			completed_at TIMESTAMPTZ
		);

		CREATE TABLE IF NOT EXISTS webhook_attempts (
			id              BIGSERIAL PRIMARY KEY,
			delivery_id     TEXT NOT NULL,
			notification_id TEXT,
			url             TEXT NOT NULL,
			attempt_number  INT NOT NULL,
			state           TEXT NOT NULL,
			status_code     INT,
			response_body   TEXT,
			error           TEXT,
			attempted_at    TIMESTAMPTZ DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_notification_results_recipient ON notification_results(recipient);
		CREATE INDEX IF NOT EXISTS idx_notification_results_created_at ON notification_results(created_at);
		CREATE INDEX IF NOT EXISTS idx_webhook_attempts_delivery_id ON webhook_attempts(delivery_id);
	`

	_, err := db.Pool.Exec(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
