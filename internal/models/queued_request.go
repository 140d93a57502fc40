package models

import "time"

// QueuedStatus is the lifecycle state of a QueuedRequest.
type QueuedStatus string

const (
	StatusPending    QueuedStatus = "PENDING"
	StatusProcessing QueuedStatus = "PROCESSING"
	StatusCompleted  QueuedStatus = "COMPLETED"
	StatusFailed     QueuedStatus = "FAILED"
	StatusExpired    QueuedStatus = "EXPIRED"
)

// DefaultMaxRetries returns the retry budget for a given priority: 5 for
// CRITICAL requests, 3 for everything else.
func DefaultMaxRetries(p Priority) int {
	if p == PriorityCritical {
		return 5
	}
	return 3
}

// QueuedRequest is a Request durably accepted for background delivery.
type QueuedRequest struct {
	ID             string            `json:"id" db:"id"`
	Method         Method            `json:"method" db:"method"`
	URL            string            `json:"url" db:"url"`
	Headers        map[string]string `json:"headers" db:"headers"`
	Body           map[string]any    `json:"body" db:"body"`
	Priority       Priority          `json:"priority" db:"priority"`
	SMSEligible    bool              `json:"sms_eligible" db:"sms_eligible"`
	IdempotencyKey string            `json:"idempotency_key,omitempty" db:"idempotency_key"`

	RetryCount int          `json:"retry_count" db:"retry_count"`
	MaxRetries int          `json:"max_retries" db:"max_retries"`
	CreatedAt  time.Time    `json:"created_at" db:"created_at"`
	ExpiresAt  *time.Time   `json:"expires_at,omitempty" db:"expires_at"`
	Status     QueuedStatus `json:"status" db:"status"`
}

// ToRequest reconstructs the original Request from a stored QueuedRequest.
func (q *QueuedRequest) ToRequest() *Request {
	return &Request{
		Method:         q.Method,
		URL:            q.URL,
		Headers:        q.Headers,
		Body:           q.Body,
		Priority:       q.Priority,
		SMSEligible:    q.SMSEligible,
		IdempotencyKey: q.IdempotencyKey,
	}
}

// IsExpired reports whether the item's expiry deadline has passed as of now.
// A nil ExpiresAt never expires.
func (q *QueuedRequest) IsExpired(now time.Time) bool {
	return q.ExpiresAt != nil && !q.ExpiresAt.After(now)
}

// RetryBudgetExhausted reports whether another failed attempt would exceed
// the configured retry budget.
func (q *QueuedRequest) RetryBudgetExhausted() bool {
	return q.RetryCount >= q.MaxRetries
}
