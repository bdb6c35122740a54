package template

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/c3ll256/etsy-helper-server-sub000/internal/domain"
	"go.uber.org/zap"
)

// minSharedTokens is the minimum-specificity threshold: an alias sharing
// fewer tokens with the SKU is never selected, which prevents spurious
// one-token matches like a shared unit code.
const minSharedTokens = 2

// Resolution is the outcome of matching one order SKU against the template
// catalog.
type Resolution struct {
	Template     domain.StampTemplate
	Coverage     float64
	SharedTokens int
}

// Source provides the read-only template catalog.
type Source interface {
	ListTemplates(ctx context.Context) ([]domain.StampTemplate, error)
}

// Resolver matches order SKUs to stamp templates by alias token overlap.
type Resolver struct {
	templates Source
	logger    *zap.Logger
}

func NewResolver(templates Source, logger *zap.Logger) (*Resolver, error) {
	if templates == nil {
		return nil, fmt.Errorf("template source is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Resolver{
		templates: templates,
		logger:    logger,
	}, nil
}

func (r *Resolver) Resolve(ctx context.Context, sku string) (*Resolution, error) {
	catalog, err := r.templates.ListTemplates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load template catalog: %w", err)
	}

	resolution, err := Match(sku, catalog)
	if err != nil {
		return nil, err
	}

	r.logger.Debug("template resolved",
		zap.String("sku", sku),
		zap.String("templateId", resolution.Template.ID),
		zap.Float64("coverage", resolution.Coverage),
		zap.Int("sharedTokens", resolution.SharedTokens),
	)
	return resolution, nil
}

// Match selects the best template for a SKU. An exact normalized alias match
// wins immediately with coverage 1.0; otherwise candidates are ranked by
// coverage, then by shared token count, keeping the earliest candidate on a
// full tie so repeated calls stay deterministic.
func Match(sku string, templates []domain.StampTemplate) (*Resolution, error) {
	normalizedSKU := normalize(sku)
	if normalizedSKU == "" {
		return nil, fmt.Errorf("%w: empty SKU", domain.ErrTemplateResolution)
	}

	skuTokens := tokenSet(normalizedSKU)

	var best *Resolution
	for i := range templates {
		candidate := templates[i]
		for _, alias := range candidate.SKUs {
			normalizedAlias := normalize(alias)
			if normalizedAlias == "" {
				continue
			}

			if normalizedAlias == normalizedSKU {
				return &Resolution{
					Template:     candidate,
					Coverage:     1.0,
					SharedTokens: len(tokenSet(normalizedAlias)),
				}, nil
			}

			aliasTokens := tokenSet(normalizedAlias)
			shared := 0
			for token := range aliasTokens {
				if _, ok := skuTokens[token]; ok {
					shared++
				}
			}
			if shared < minSharedTokens {
				continue
			}

			coverage := float64(shared) / float64(len(aliasTokens))
			if best == nil ||
				coverage > best.Coverage ||
				(coverage == best.Coverage && shared > best.SharedTokens) {
				best = &Resolution{
					Template:     candidate,
					Coverage:     coverage,
					SharedTokens: shared,
				}
			}
		}
	}

	if best == nil {
		return nil, fmt.Errorf("%w: %q", domain.ErrTemplateResolution, strings.TrimSpace(sku))
	}
	return best, nil
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// tokenSet splits a normalized SKU into its token set. Runs of whitespace or
// hyphens all count as one separator.
func tokenSet(s string) map[string]struct{} {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || r == '-'
	})

	tokens := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		tokens[field] = struct{}{}
	}
	return tokens
}
