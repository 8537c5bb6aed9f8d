package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agrovault/notify/internal/domain"
)

type ResultStore struct {
	db *DB
}

func NewResultStore(db *DB) *ResultStore {
	return &ResultStore{db: db}
}

func (s *ResultStore) SaveResult(ctx context.Context, r *domain.Result) error {
	outcomes, err := json.Marshal(r.Outcomes)
	if err != nil {
		return fmt.Errorf("marshal outcomes: %w", err)
	}

	query := `
		INSERT INTO notification_results (id, recipient, status, outcomes, error, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			outcomes = EXCLUDED.outcomes,
			error = EXCLUDED.error,
			completed_at = EXCLUDED.completed_at
	`

	_, err = s.db.Pool.Exec(ctx, query,
		r.ID,
		r.Recipient,
		r.Status,
		outcomes,
		r.Error,
		r.CreatedAt,
		r.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification result: %w", err)
	}

	return nil
}
