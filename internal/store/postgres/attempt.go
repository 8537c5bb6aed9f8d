package postgres

import (
	"context"
	"fmt"

	"github.com/agrovault/notify/internal/domain"
)

type AttemptStore struct {
	db *DB
}

func NewAttemptStore(db *DB) *AttemptStore {
	return &AttemptStore{db: db}
}

func (s *AttemptStore) SaveAttempt(ctx context.Context, d *domain.WebhookDelivery, resp *domain.HTTPResponse, attemptErr string) error {
	var statusCode *int
	var responseBody *string
	if resp != nil {
		statusCode = &resp.StatusCode
		responseBody = &resp.Body
	}

	query := `
		INSERT INTO webhook_attempts (delivery_id, notification_id, url, attempt_number, state, status_code, response_body, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := s.db.Pool.Exec(ctx, query,
		d.ID,
		d.NotificationID,
		d.URL,
		d.AttemptCount,
		d.State,
		statusCode,
		responseBody,
		attemptErr,
	)
	if err != nil {
		return fmt.Errorf("insert webhook attempt: %w", err)
	}

	return nil
}
