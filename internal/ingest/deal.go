package ingest

import (
	"encoding/json"

	"github.com/shohag/hookrelay/internal/mapping"
	"github.com/shohag/hookrelay/internal/models"
)

// BuildDeal turns mapped fields into a deal command using the webhook's
// defaults for everything the payload does not carry.
func BuildDeal(w *models.InboundWebhook, mapped map[string]string, raw json.RawMessage) *models.DealCommand {
	contact := firstNonEmpty(mapped[mapping.TargetContactName], mapped[mapping.TargetName], models.DefaultContactName)

	temperature := w.DefaultTemperature
	if !temperature.Valid() {
		temperature = models.TemperatureWarm
	}

	tags := make([]string, len(w.DefaultTags))
	copy(tags, w.DefaultTags)

	return &models.DealCommand{
		Title:       firstNonEmpty(mapped[mapping.TargetTitle], contact),
		ContactName: contact,
		Email:       mapped[mapping.TargetEmail],
		Phone:       mapped[mapping.TargetPhone],
		Company:     mapped[mapping.TargetCompany],
		Value:       mapping.ParseValue(mapped[mapping.TargetValue]),
		Tags:        tags,
		Temperature: temperature,
		Source:      models.DealSource,
		Notes:       mapped[mapping.TargetNotes],
		PipelineID:  w.PipelineID,
		PhaseID:     w.PhaseID,
		RawPayload:  raw,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
