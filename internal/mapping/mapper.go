// Package mapping turns arbitrary inbound JSON into normalized deal fields.
//
// Payloads are the value union produced by encoding/json: nil, bool, float64
// (or json.Number), string, []any and map[string]any. Traversal switches on
// those types directly.
package mapping

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shohag/hookrelay/internal/models"
)

const (
	TargetTitle       = "title"
	TargetName        = "name"
	TargetContactName = "contact_name"
	TargetEmail       = "email"
	TargetPhone       = "phone"
	TargetCompany     = "company"
	TargetValue       = "value"
	TargetNotes       = "notes"
)

var targets = map[string]struct{}{
	TargetTitle:       {},
	TargetName:        {},
	TargetContactName: {},
	TargetEmail:       {},
	TargetPhone:       {},
	TargetCompany:     {},
	TargetValue:       {},
	TargetNotes:       {},
}

var (
	ErrInvalidTarget    = errors.New("invalid mapping target")
	ErrInvalidTransform = errors.New("invalid mapping transform")
	ErrEmptySource      = errors.New("mapping source is empty")
)

func ValidTarget(target string) bool {
	_, ok := targets[target]
	return ok
}

// Validate checks every mapping against the known targets and transforms.
func Validate(mappings []models.FieldMapping) error {
	for i, m := range mappings {
		if strings.TrimSpace(m.Source) == "" {
			return fmt.Errorf("mapping %d: %w", i, ErrEmptySource)
		}
		if !ValidTarget(m.Target) {
			return fmt.Errorf("mapping %d: %w: %q", i, ErrInvalidTarget, m.Target)
		}
		if !ValidTransform(m.Transform) {
			return fmt.Errorf("mapping %d: %w: %q", i, ErrInvalidTransform, m.Transform)
		}
	}
	return nil
}

// Extract walks a dot-separated path through nested objects. It reports false
// when a segment is missing or a container on the way is not an object.
func Extract(payload any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	return extract(payload, strings.Split(path, "."))
}

func extract(current any, segments []string) (any, bool) {
	if len(segments) == 0 {
		return current, true
	}
	obj, ok := current.(map[string]any)
	if !ok {
		return nil, false
	}
	next, ok := obj[segments[0]]
	if !ok {
		return nil, false
	}
	return extract(next, segments[1:])
}

// Apply runs every mapping in order. When two mappings share a target the
// later one wins.
func Apply(payload any, mappings []models.FieldMapping) map[string]string {
	out := make(map[string]string, len(mappings))
	for _, m := range mappings {
		value, _ := Extract(payload, m.Source)
		out[m.Target] = Transform(value, m.Transform)
	}
	return out
}
