package models

import (
	"encoding/json"
	"time"
)

// RetryState tracks a failed delivery through re-delivery:
// scheduled_retry -> sent -> (succeeded | scheduled_retry | exhausted).
type RetryState string

const (
	RetryScheduled RetryState = "scheduled_retry"
	RetrySent      RetryState = "sent"
	RetrySucceeded RetryState = "succeeded"
	RetryExhausted RetryState = "exhausted"
)

type RetryJob struct {
	ID            string          `json:"id"`
	WebhookID     string          `json:"webhook_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	Attempt       int             `json:"attempt"`
	State         RetryState      `json:"state"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	LastError     string          `json:"last_error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
