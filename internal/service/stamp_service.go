package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/c3ll256/etsy-helper-server-sub000/internal/domain"
	"github.com/c3ll256/etsy-helper-server-sub000/internal/observability"
	"github.com/c3ll256/etsy-helper-server-sub000/internal/parsing"
	"github.com/c3ll256/etsy-helper-server-sub000/internal/registry"
	"github.com/c3ll256/etsy-helper-server-sub000/internal/render"
	"github.com/c3ll256/etsy-helper-server-sub000/internal/repository"
	"github.com/c3ll256/etsy-helper-server-sub000/internal/template"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StampOutcome reports what one order row produced: the persisted order chain
// plus one stamp URL per successfully rendered personalization group.
type StampOutcome struct {
	OrderID        string
	OrderDetailID  string
	StampImageURLs []string
}

// StampGenerator is the per-row port consumed by the batch loop.
type StampGenerator interface {
	GenerateForRow(ctx context.Context, jobID, ownerID string, row domain.RawOrderRow) (*StampOutcome, error)
}

var _ StampGenerator = (*StampService)(nil)

// StampService owns the idempotent order-creation protocol and the
// personalization-group fan-out for a single order row.
type StampService struct {
	orders             repository.OrderRepository
	records            repository.RecordRepository
	resolver           *template.Resolver
	parser             parsing.Parser
	renderer           render.Renderer
	jobs               registry.JobStore
	logger             *zap.Logger
	metrics            *observability.Metrics
	convertTextToPaths bool
	now                func() time.Time
}

func NewStampService(
	orders repository.OrderRepository,
	records repository.RecordRepository,
	resolver *template.Resolver,
	parser parsing.Parser,
	renderer render.Renderer,
	jobs registry.JobStore,
	convertTextToPaths bool,
	logger *zap.Logger,
) (*StampService, error) {
	if orders == nil {
		return nil, fmt.Errorf("order repository is required")
	}
	if records == nil {
		return nil, fmt.Errorf("record repository is required")
	}
	if resolver == nil {
		return nil, fmt.Errorf("template resolver is required")
	}
	if parser == nil {
		return nil, fmt.Errorf("variation parser is required")
	}
	if renderer == nil {
		return nil, fmt.Errorf("renderer is required")
	}
	if jobs == nil {
		return nil, fmt.Errorf("job store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &StampService{
		orders:             orders,
		records:            records,
		resolver:           resolver,
		parser:             parser,
		renderer:           renderer,
		jobs:               jobs,
		logger:             logger,
		convertTextToPaths: convertTextToPaths,
		now:                time.Now,
	}, nil
}

func (s *StampService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// GenerateForRow runs the full per-row pipeline: existence checkpoints,
// template resolution, variation parsing, order chain creation and the render
// fan-out. The three existence checkpoints defend against concurrent imports
// racing on the same (transactionId, sku) key: the last writer wins and the
// earlier writer's partial chain is deleted.
func (s *StampService) GenerateForRow(
	ctx context.Context,
	jobID, ownerID string,
	row domain.RawOrderRow,
) (*StampOutcome, error) {
	if err := row.Validate(); err != nil {
		return nil, err
	}

	// Checkpoint #1: an existing chain past not_generated is a duplicate; a
	// chain stuck in not_generated is an abandoned attempt and is replaced.
	if err := s.clearOrFailExisting(ctx, row.TransactionID, row.SKU); err != nil {
		return nil, err
	}

	resolution, err := s.resolver.Resolve(ctx, row.SKU)
	if err != nil {
		return nil, err
	}
	tmpl := resolution.Template

	parseStart := s.now()
	parsed, err := s.parser.Parse(ctx, parsing.Request{
		RawText: row.Variations,
		Fields:  tmpl.FieldDescriptors(),
	})
	if s.metrics != nil {
		s.metrics.ObserveParseDuration(s.now().Sub(parseStart))
	}
	if err != nil {
		return nil, err
	}

	order := &domain.Order{
		ID:              uuid.NewString(),
		Status:          domain.OrderStatusNotGenerated,
		PlatformOrderID: row.OrderID,
		TemplateID:      tmpl.ID,
		OwnerID:         ownerID,
		SearchKey:       buildSearchKey(row),
		CreatedAt:       s.now().UTC(),
		UpdatedAt:       s.now().UTC(),
	}
	if err := s.orders.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	// Checkpoint #2: a concurrent import may have created a competing chain
	// between checkpoint #1 and the order insert.
	if err := s.raceGuard(ctx, row.TransactionID, row.SKU, order.ID); err != nil {
		return nil, err
	}

	// Checkpoint #3: identical re-check immediately before the detail insert,
	// closing the remaining window.
	if err := s.raceGuard(ctx, row.TransactionID, row.SKU, order.ID); err != nil {
		return nil, err
	}

	detail := &domain.OrderDetail{
		ID:                 uuid.NewString(),
		OrderID:            order.ID,
		TransactionID:      strings.TrimSpace(row.TransactionID),
		SKU:                strings.TrimSpace(row.SKU),
		Variations:         parsed.Variations,
		OriginalVariations: parsed.OriginalVariations,
		CreatedAt:          s.now().UTC(),
		UpdatedAt:          s.now().UTC(),
	}
	if err := s.orders.CreateDetail(ctx, detail); err != nil {
		return nil, fmt.Errorf("failed to create order detail: %w", err)
	}

	urls, err := s.renderGroups(ctx, jobID, tmpl, parsed.Personalizations, order.ID, detail.ID)
	if err != nil {
		return nil, err
	}

	if len(urls) == 0 {
		// The chain stays persisted in not_generated; checkpoint #1 reclaims
		// it on the next import of this key.
		return nil, fmt.Errorf("%w: all %d personalization groups failed for %s",
			domain.ErrNoStampsGenerated, len(parsed.Personalizations), detail.DedupeKey())
	}

	if err := s.orders.UpdateOrderStatus(ctx, order.ID, domain.OrderStatusGeneratedPendingReview); err != nil {
		return nil, fmt.Errorf("failed to advance order status: %w", err)
	}

	return &StampOutcome{
		OrderID:        order.ID,
		OrderDetailID:  detail.ID,
		StampImageURLs: urls,
	}, nil
}

// renderGroups fans out over personalization groups in order. A plain render
// failure skips that group only; a cancellation signal aborts the whole row.
func (s *StampService) renderGroups(
	ctx context.Context,
	jobID string,
	tmpl domain.StampTemplate,
	groups [][]parsing.PersonalizationField,
	orderID, detailID string,
) ([]string, error) {
	urls := make([]string, 0, len(groups))

	for i, group := range groups {
		if jobID != "" && s.jobs.IsCancelRequested(jobID) {
			return nil, fmt.Errorf("%w: before rendering group %d", domain.ErrJobCancelled, i+1)
		}

		elements := buildTextElements(tmpl, group)

		renderStart := s.now()
		resp, err := s.renderer.Render(ctx, render.Request{
			Template:           tmpl,
			TextElements:       elements,
			ConvertTextToPaths: s.convertTextToPaths,
		})
		if s.metrics != nil {
			s.metrics.ObserveRenderDuration(s.now().Sub(renderStart))
		}
		if err != nil {
			if errors.Is(err, domain.ErrJobCancelled) {
				return nil, err
			}
			if s.metrics != nil {
				s.metrics.IncStampRenderFailed()
			}
			s.logger.Warn("personalization group render failed",
				zap.String("orderId", orderID),
				zap.Int("group", i+1),
				zap.Int("groupCount", len(groups)),
				zap.Error(err),
			)
			continue
		}

		record := &domain.StampGenerationRecord{
			OrderID:       orderID,
			TemplateID:    tmpl.ID,
			TextElements:  elements,
			StampImageURL: resp.ImageURL,
			CreatedAt:     s.now().UTC(),
		}
		if err := s.records.Create(ctx, record); err != nil {
			return nil, fmt.Errorf("failed to create stamp generation record: %w", err)
		}
		if err := s.orders.AppendStampResult(ctx, detailID, resp.ImageURL, record.ID); err != nil {
			return nil, fmt.Errorf("failed to append stamp result: %w", err)
		}

		if s.metrics != nil {
			s.metrics.IncStampRendered()
		}
		urls = append(urls, resp.ImageURL)
	}

	return urls, nil
}

// clearOrFailExisting implements the checkpoint lookup: duplicate keys past
// not_generated fail the row, abandoned not_generated chains are deleted.
func (s *StampService) clearOrFailExisting(ctx context.Context, transactionID, sku string) error {
	detail, err := s.orders.FindDetailByKey(ctx, transactionID, sku)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up order detail: %w", err)
	}

	order, err := s.orders.GetOrderByID(ctx, detail.OrderID)
	if errors.Is(err, domain.ErrNotFound) {
		// Orphaned detail without a parent; reclaim whatever is left.
		return s.orders.DeleteOrderCascade(ctx, detail.OrderID)
	}
	if err != nil {
		return fmt.Errorf("failed to load parent order: %w", err)
	}

	if order.Status != domain.OrderStatusNotGenerated {
		return fmt.Errorf("%w: %s", domain.ErrDuplicate, detail.DedupeKey())
	}

	s.logger.Info("deleting abandoned order chain",
		zap.String("orderId", order.ID),
		zap.String("dedupeKey", detail.DedupeKey()),
	)
	if err := s.orders.DeleteOrderCascade(ctx, order.ID); err != nil {
		return fmt.Errorf("failed to delete abandoned order chain: %w", err)
	}
	return nil
}

// raceGuard re-runs the checkpoint lookup after this attempt already created
// its own order. Losing the race rolls back the fresh order before failing.
func (s *StampService) raceGuard(ctx context.Context, transactionID, sku, freshOrderID string) error {
	err := s.clearOrFailExisting(ctx, transactionID, sku)
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrDuplicate) {
		if delErr := s.orders.DeleteOrderCascade(ctx, freshOrderID); delErr != nil {
			s.logger.Error("failed to roll back order after losing import race",
				zap.String("orderId", freshOrderID),
				zap.Error(delErr),
			)
		}
	}
	return err
}

// buildTextElements maps one personalization group onto the template's text
// elements. Unmapped elements fall back to their default value; values pass
// through uppercasing when the element is flagged.
func buildTextElements(tmpl domain.StampTemplate, group []parsing.PersonalizationField) []domain.TextElement {
	values := make(map[string]string, len(group))
	for _, field := range group {
		values[field.ID] = field.Value
	}

	elements := make([]domain.TextElement, 0, len(tmpl.TextElements))
	for _, el := range tmpl.TextElements {
		resolved := el
		value, ok := values[el.ID]
		if !ok || strings.TrimSpace(value) == "" {
			value = el.DefaultValue
		}
		if el.Uppercase {
			value = strings.ToUpper(value)
		}
		resolved.Value = value
		elements = append(elements, resolved)
	}
	return elements
}

func buildSearchKey(row domain.RawOrderRow) string {
	parts := make([]string, 0, 4)
	for _, part := range []string{row.OrderID, row.TransactionID, row.SKU, row.Buyer} {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return strings.ToLower(strings.Join(parts, " "))
}
