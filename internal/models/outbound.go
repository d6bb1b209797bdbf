package models

import "time"

// OutboundWebhook is a subscription notified when one of its events fires.
type OutboundWebhook struct {
	ID                  string            `json:"id"`
	Name                string            `json:"name"`
	URL                 string            `json:"url"`
	Method              string            `json:"method"`
	Events              []string          `json:"events"`
	Secret              string            `json:"secret,omitempty"`
	Headers             map[string]string `json:"headers"`
	IPAllowlist         []string          `json:"ip_allowlist,omitempty"`
	IsActive            bool              `json:"is_active"`
	RetryEnabled        bool              `json:"retry_enabled"`
	MaxRetries          int               `json:"max_retries"`
	ConsecutiveFailures int               `json:"consecutive_failures"`
	LastTriggeredAt     *time.Time        `json:"last_triggered_at,omitempty"`
	LastSuccessAt       *time.Time        `json:"last_success_at,omitempty"`
	LastError           string            `json:"last_error,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

const MaxRetriesLimit = 10

// Degraded reports whether the webhook has failed more times in a row than
// its retry budget allows. It is informational only.
func (w *OutboundWebhook) Degraded() bool {
	return w.ConsecutiveFailures > w.MaxRetries
}

// Subscribes reports whether the webhook listens to event. "*" matches all.
func (w *OutboundWebhook) Subscribes(event string) bool {
	for _, e := range w.Events {
		if e == event || e == "*" {
			return true
		}
	}
	return false
}
