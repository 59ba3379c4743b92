// Package outbox carries post-commit notifications to downstream
// collaborators. Events are inserted in the same transaction as the
// state change they announce and relayed to the broker afterwards, so a
// confirmed order can never lose its fulfillment trigger and a failed
// broker can never block or corrupt order state.
package outbox

import "time"

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
)

type Event struct {
	ID            int64
	EventID       string // uuid, consumer dedup key
	AggregateType string
	AggregateID   string
	Type          string
	Payload       []byte
	Headers       map[string]string
	Traceparent   string
	CreatedAt     time.Time
	Status        Status
	RelayID       string
	RetryCount    int
	LastError     *string
}
