package domain

import "time"

// OutcomeStatus is the per-channel delivery state.
type OutcomeStatus string

const (
	OutcomeSent    OutcomeStatus = "sent"
	OutcomeFailed  OutcomeStatus = "failed"
	OutcomePending OutcomeStatus = "pending"
)

// ChannelOutcome records the result of one (notification, channel)
// attempt. A retry produces a fresh record; an existing record is
// never mutated.
type ChannelOutcome struct {
	Channel           Channel       `json:"channel"`
	Status            OutcomeStatus `json:"status"`
	ProviderMessageID string        `json:"provider_message_id,omitempty"`
	Error             string        `json:"error,omitempty"`
	CostCents         int64         `json:"cost_cents,omitempty"`
	CompletedAt       time.Time     `json:"completed_at"`
}

// ResultStatus is the aggregate state of a notification.
type ResultStatus string

const (
	StatusPending   ResultStatus = "pending"
	StatusSent      ResultStatus = "sent"
	StatusDelivered ResultStatus = "delivered"
	StatusFailed    ResultStatus = "failed"
	StatusPartial   ResultStatus = "partial"
	StatusCancelled ResultStatus = "cancelled"
)

// Terminal reports whether s is a final state.
func (s ResultStatus) Terminal() bool {
	return s != StatusPending
}

// Result is the aggregate outcome of one notification request. The
// outcome map's key set is always a subset of the request's channel
// set, and equals it once the notification is fully resolved. Outcomes
// are owned by the result; callers must not mutate them.
type Result struct {
	ID          string                     `json:"id"`
	Recipient   string                     `json:"recipient"`
	Status      ResultStatus               `json:"status"`
	Outcomes    map[Channel]ChannelOutcome `json:"outcomes"`
	Error       string                     `json:"error,omitempty"`
	CreatedAt   time.Time                  `json:"created_at"`
	CompletedAt time.Time                  `json:"completed_at,omitempty"`
}

// NewResult creates a Result in the pending state.
func NewResult(id, recipient string) *Result {
	return &Result{
		ID:        id,
		Recipient: recipient,
		Status:    StatusPending,
		Outcomes:  make(map[Channel]ChannelOutcome),
		CreatedAt: time.Now(),
	}
}

// AggregateStatus derives the overall status from a complete outcome
// set: every channel sent means sent, none means failed, a strict
// non-empty subset means partial. An empty set means no channel was
// ever attempted and classifies as failed. A pending outcome (a
// webhook hand-off whose retry lifecycle has not resolved) keeps the
// aggregate pending.
func AggregateStatus(outcomes map[Channel]ChannelOutcome) ResultStatus {
	if len(outcomes) == 0 {
		return StatusFailed
	}
	sent := 0
	for _, o := range outcomes {
		switch o.Status {
		case OutcomePending:
			return StatusPending
		case OutcomeSent:
			sent++
		}
	}
	switch {
	case sent == len(outcomes):
		return StatusSent
	case sent > 0:
		return StatusPartial
	default:
		return StatusFailed
	}
}

// Resolve fills in the aggregate status from the collected outcomes,
// stamping the completion time once the status is terminal.
func (r *Result) Resolve() {
	r.Status = AggregateStatus(r.Outcomes)
	if r.Status.Terminal() {
		r.CompletedAt = time.Now()
	}
}

// Confirm applies an external delivery-confirmation callback. Only the
// delivered and cancelled states may be set this way, and only over a
// previously resolved sent/partial result. It reports whether the
// transition was applied.
func (r *Result) Confirm(status ResultStatus) bool {
	if status != StatusDelivered && status != StatusCancelled {
		return false
	}
	if r.Status != StatusSent && r.Status != StatusPartial {
		return false
	}
	r.Status = status
	return true
}
