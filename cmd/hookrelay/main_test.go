package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shohag/hookrelay/internal/mapping"
	"github.com/shohag/hookrelay/internal/models"
)

func TestNewInboundWebhook(t *testing.T) {
	tests := []struct {
		name     string
		hookName string
		pipeline string
		mappings string
		wantErr  error
		errText  string
	}{
		{name: "no mappings", hookName: "site", pipeline: "pipe_1"},
		{name: "valid mappings", hookName: "site", pipeline: "pipe_1",
			mappings: `[{"source":"lead.email","target":"email","transform":"lowercase"}]`},
		{name: "missing name", pipeline: "pipe_1", errText: "--name and --pipeline are required"},
		{name: "missing pipeline", hookName: "site", errText: "--name and --pipeline are required"},
		{name: "malformed json", hookName: "site", pipeline: "pipe_1", mappings: `[{`, errText: "invalid --mappings"},
		{name: "unknown target", hookName: "site", pipeline: "pipe_1",
			mappings: `[{"source":"name","target":"nickname"}]`, wantErr: mapping.ErrInvalidTarget},
		{name: "unknown transform", hookName: "site", pipeline: "pipe_1",
			mappings: `[{"source":"name","target":"name","transform":"reverse"}]`, wantErr: mapping.ErrInvalidTransform},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wh, err := newInboundWebhook(tt.hookName, tt.pipeline, "", "", tt.mappings)
			if tt.wantErr != nil || tt.errText != "" {
				require.Error(t, err)
				assert.Nil(t, wh)
				if tt.wantErr != nil {
					assert.ErrorIs(t, err, tt.wantErr)
				}
				if tt.errText != "" {
					assert.Contains(t, err.Error(), tt.errText)
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.pipeline, wh.PipelineID)
			assert.True(t, wh.IsActive)
			assert.Equal(t, models.TemperatureWarm, wh.DefaultTemperature)
			assert.Len(t, wh.SecretToken, 40)
		})
	}
}
