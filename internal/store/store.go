package store

import (
	"context"

	"github.com/agrovault/notify/internal/domain"
)

// ResultStore archives resolved notification results. The engine works
// entirely in memory; archiving is best-effort observability, so a nil
// store is a valid configuration.
type ResultStore interface {
	SaveResult(ctx context.Context, r *domain.Result) error
}

// AttemptStore archives webhook delivery attempts as they happen.
type AttemptStore interface {
	SaveAttempt(ctx context.Context, d *domain.WebhookDelivery, resp *domain.HTTPResponse, attemptErr string) error
}
