package parsing

import (
	"context"
	"strings"

	"github.com/c3ll256/etsy-helper-server-sub000/internal/domain"
)

// Request carries one order row's raw variation text plus the resolved
// template's field descriptors for the text-understanding collaborator.
type Request struct {
	RawText string
	Fields  []domain.FieldDescriptor
}

// PersonalizationField is one {id, value} pair inside a personalization
// group. IDs refer to template text-element ids.
type PersonalizationField struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

// Result is the single normalized gateway contract: a successful parse always
// carries at least one personalization group, and HasMultiple mirrors the
// group count.
type Result struct {
	Variations         map[string]string        `json:"variations"`
	HasMultiple        bool                     `json:"hasMultiple"`
	Personalizations   [][]PersonalizationField `json:"personalizations"`
	OriginalVariations string                   `json:"originalVariations"`
}

// Parser is the outbound port for the text-understanding collaborator.
// Failures propagate as domain.ErrParsing; there is no raw-text fallback at
// this layer.
type Parser interface {
	Parse(ctx context.Context, req Request) (*Result, error)
}

// normalizeResult enforces the gateway contract on whatever shape the
// collaborator returned: known field ids only, at least one group, and
// OriginalVariations always populated.
func normalizeResult(result *Result, req Request) *Result {
	if result.Variations == nil {
		result.Variations = map[string]string{}
	}
	if strings.TrimSpace(result.OriginalVariations) == "" {
		result.OriginalVariations = req.RawText
	}

	knownIDs := make(map[string]struct{}, len(req.Fields))
	for _, field := range req.Fields {
		knownIDs[field.ID] = struct{}{}
	}

	groups := make([][]PersonalizationField, 0, len(result.Personalizations))
	for _, group := range result.Personalizations {
		kept := make([]PersonalizationField, 0, len(group))
		for _, field := range group {
			if len(knownIDs) > 0 {
				if _, ok := knownIDs[field.ID]; !ok {
					continue
				}
			}
			kept = append(kept, field)
		}
		if len(kept) > 0 {
			groups = append(groups, kept)
		}
	}

	if len(groups) == 0 {
		groups = append(groups, groupFromVariations(result.Variations, req.Fields))
	}

	result.Personalizations = groups
	result.HasMultiple = len(groups) > 1
	return result
}

// groupFromVariations derives a single personalization group from the flat
// variations map, keyed by the template's field ids.
func groupFromVariations(variations map[string]string, fields []domain.FieldDescriptor) []PersonalizationField {
	group := make([]PersonalizationField, 0, len(fields))
	for _, field := range fields {
		value, ok := variations[field.ID]
		if !ok {
			continue
		}
		group = append(group, PersonalizationField{ID: field.ID, Value: value})
	}
	return group
}
