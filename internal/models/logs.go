package models

import (
	"encoding/json"
	"time"
)

type DeliveryStatus string

const (
	DeliverySuccess  DeliveryStatus = "success"
	DeliveryFailed   DeliveryStatus = "failed"
	DeliveryRetrying DeliveryStatus = "retrying"
)

// DeliveryLogEntry records one outbound attempt. Entries are never mutated.
type DeliveryLogEntry struct {
	ID             string          `json:"id"`
	WebhookID      string          `json:"webhook_id"`
	EventType      string          `json:"event_type"`
	RequestPayload json.RawMessage `json:"request_payload"`
	ResponseStatus *int            `json:"response_status,omitempty"`
	ResponseBody   string          `json:"response_body,omitempty"`
	ResponseTimeMs int64           `json:"response_time_ms"`
	AttemptNumber  int             `json:"attempt_number"`
	Status         DeliveryStatus  `json:"status"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

type IngestionStatus string

const (
	IngestionSuccess  IngestionStatus = "success"
	IngestionRejected IngestionStatus = "rejected"
)

// IngestionLogEntry records one inbound request. InboundWebhookID is nil when
// the endpoint itself could not be resolved.
type IngestionLogEntry struct {
	ID               string            `json:"id"`
	InboundWebhookID *string           `json:"inbound_webhook_id"`
	SourceIP         string            `json:"source_ip"`
	RawPayload       json.RawMessage   `json:"raw_payload"`
	MappedData       map[string]string `json:"mapped_data"`
	Status           IngestionStatus   `json:"status"`
	ErrorMessage     string            `json:"error_message,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
}
