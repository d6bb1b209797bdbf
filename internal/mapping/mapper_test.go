package mapping

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shohag/hookrelay/internal/models"
)

func decode(t *testing.T, raw string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(raw), &v))
	return v
}

func TestExtract(t *testing.T) {
	payload := decode(t, `{
		"customer": {"contact": {"email": "a@b.com"}, "tags": ["x"]},
		"name": "Ana",
		"nothing": null,
		"amount": 12.5
	}`)

	tests := []struct {
		name   string
		path   string
		want   any
		wantOK bool
	}{
		{name: "nested", path: "customer.contact.email", want: "a@b.com", wantOK: true},
		{name: "top level", path: "name", want: "Ana", wantOK: true},
		{name: "null value is present", path: "nothing", want: nil, wantOK: true},
		{name: "number", path: "amount", want: 12.5, wantOK: true},
		{name: "object value", path: "customer.contact", want: map[string]any{"email": "a@b.com"}, wantOK: true},
		{name: "missing leaf", path: "customer.contact.phone", wantOK: false},
		{name: "through scalar", path: "name.first", wantOK: false},
		{name: "array not indexed", path: "customer.tags.0", wantOK: false},
		{name: "empty path", path: "", wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Extract(payload, tt.path)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			} else {
				assert.Nil(t, got)
			}
		})
	}
}

func TestExtract_EmptyPayload(t *testing.T) {
	got, ok := Extract(map[string]any{}, "a.b.c")
	assert.False(t, ok)
	assert.Nil(t, got)

	got, ok = Extract(nil, "a")
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestApply_LastMappingWins(t *testing.T) {
	payload := decode(t, `{"first": "Ana", "full": "Ana Silva", "mail": " ANA@X.COM "}`)
	mappings := []models.FieldMapping{
		{Source: "first", Target: TargetContactName},
		{Source: "full", Target: TargetContactName, Transform: TransformUppercase},
		{Source: "mail", Target: TargetEmail, Transform: TransformTrim},
		{Source: "missing", Target: TargetNotes},
	}

	out := Apply(payload, mappings)

	assert.Equal(t, map[string]string{
		TargetContactName: "ANA SILVA",
		TargetEmail:       "ANA@X.COM",
		TargetNotes:       "",
	}, out)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(nil))
	assert.NoError(t, Validate([]models.FieldMapping{
		{Source: "a.b", Target: TargetPhone, Transform: TransformFormatPhone},
		{Source: "c", Target: TargetValue},
	}))

	err := Validate([]models.FieldMapping{{Source: "a", Target: "favorite_color"}})
	assert.True(t, errors.Is(err, ErrInvalidTarget))

	err = Validate([]models.FieldMapping{{Source: "a", Target: TargetName, Transform: "reverse"}})
	assert.True(t, errors.Is(err, ErrInvalidTransform))

	err = Validate([]models.FieldMapping{{Source: " ", Target: TargetName}})
	assert.True(t, errors.Is(err, ErrEmptySource))
}
