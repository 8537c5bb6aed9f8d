package dispatch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/agrovault/notify/internal/domain"
	"github.com/agrovault/notify/internal/logging"
)

// BulkSummary counts aggregate statuses across a bulk dispatch.
type BulkSummary struct {
	Total   int `json:"total"`
	Sent    int `json:"sent"`
	Partial int `json:"partial"`
	Failed  int `json:"failed"`
	Pending int `json:"pending"`
}

// DispatchBulk applies the dispatcher to each recipient independently
// through a fixed-size worker pool. The pool size is a configuration
// constant, never derived from the recipient count. Results come back
// in recipient order; one recipient failing never blocks or fails
// another.
func (d *Dispatcher) DispatchBulk(ctx context.Context, req *domain.Request, recipients []string, poolSize int) ([]*domain.Result, BulkSummary) {
	if poolSize <= 0 {
		poolSize = 1
	}
	if poolSize > len(recipients) {
		poolSize = len(recipients)
	}

	results := make([]*domain.Result, len(recipients))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < poolSize; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = d.Dispatch(ctx, req, recipients[i])
			}
		}()
	}

	for i := range recipients {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	var summary BulkSummary
	summary.Total = len(results)
	for _, r := range results {
		switch r.Status {
		case domain.StatusSent:
			summary.Sent++
		case domain.StatusPartial:
			summary.Partial++
		case domain.StatusPending:
			summary.Pending++
		default:
			summary.Failed++
		}
	}

	logging.FromContext(ctx).Info("bulk dispatch complete",
		slog.String("code", "DSP_BULK_DONE"),
		slog.Int("total", summary.Total),
		slog.Int("sent", summary.Sent),
		slog.Int("partial", summary.Partial),
		slog.Int("failed", summary.Failed),
	)
	return results, summary
}
