package models

import "time"

type Temperature string

const (
	TemperatureCold Temperature = "cold"
	TemperatureWarm Temperature = "warm"
	TemperatureHot  Temperature = "hot"
)

func (t Temperature) Valid() bool {
	switch t {
	case TemperatureCold, TemperatureWarm, TemperatureHot:
		return true
	}
	return false
}

// FieldMapping copies one value out of an inbound payload into a deal field.
type FieldMapping struct {
	Source    string `json:"source"`
	Target    string `json:"target"`
	Transform string `json:"transform,omitempty"`
}

// InboundWebhook is a receiving mailbox bound to one pipeline. SecretToken is
// part of the public URL and acts as a capability.
type InboundWebhook struct {
	ID                 string         `json:"id"`
	Name               string         `json:"name"`
	PipelineID         string         `json:"pipeline_id"`
	PhaseID            string         `json:"phase_id,omitempty"`
	FieldMappings      []FieldMapping `json:"field_mappings"`
	DefaultTags        []string       `json:"default_tags"`
	DefaultTemperature Temperature    `json:"default_temperature"`
	SecretToken        string         `json:"secret_token"`
	HMACSecret         string         `json:"hmac_secret,omitempty"`
	IPAllowlist        []string       `json:"ip_allowlist,omitempty"`
	IsActive           bool           `json:"is_active"`
	RequestsToday      int            `json:"requests_today"`
	LastRequestAt      *time.Time     `json:"last_request_at,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}
