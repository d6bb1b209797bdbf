package models

import "encoding/json"

const (
	DealSource         = "Webhook"
	DefaultContactName = "Novo Lead"
)

// DealCommand is the normalized creation request handed back to the CRM.
type DealCommand struct {
	Title       string          `json:"title"`
	ContactName string          `json:"contact_name"`
	Email       string          `json:"email,omitempty"`
	Phone       string          `json:"phone,omitempty"`
	Company     string          `json:"company,omitempty"`
	Value       float64         `json:"value"`
	Tags        []string        `json:"tags"`
	Temperature Temperature     `json:"temperature"`
	Source      string          `json:"source"`
	Notes       string          `json:"notes,omitempty"`
	PipelineID  string          `json:"pipeline_id"`
	PhaseID     string          `json:"phase_id,omitempty"`
	RawPayload  json.RawMessage `json:"raw_payload"`
}
