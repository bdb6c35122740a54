package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/c3ll256/etsy-helper-server-sub000/internal/domain"
	"github.com/c3ll256/etsy-helper-server-sub000/internal/parsing"
	"github.com/c3ll256/etsy-helper-server-sub000/internal/registry"
	"github.com/c3ll256/etsy-helper-server-sub000/internal/render"
	"github.com/c3ll256/etsy-helper-server-sub000/internal/template"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// memStore is an in-memory OrderRepository + RecordRepository pair used to
// exercise the idempotent-creation protocol end to end.
type memStore struct {
	mu           sync.Mutex
	orders       map[string]*domain.Order
	details      []*domain.OrderDetail
	records      []*domain.StampGenerationRecord
	nextRecordID int64

	// onFindDetail runs before each detail lookup, keyed by call count.
	findCalls    int
	onFindDetail func(call int, s *memStore)
}

func newMemStore() *memStore {
	return &memStore{orders: make(map[string]*domain.Order)}
}

func (s *memStore) seedChain(transactionID, sku string, status domain.OrderStatus) *domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seedChainLocked(transactionID, sku, status)
}

func (s *memStore) seedChainLocked(transactionID, sku string, status domain.OrderStatus) *domain.Order {
	order := &domain.Order{ID: uuid.NewString(), Status: status}
	s.orders[order.ID] = order
	s.details = append(s.details, &domain.OrderDetail{
		ID:            uuid.NewString(),
		OrderID:       order.ID,
		TransactionID: transactionID,
		SKU:           sku,
		CreatedAt:     time.Now(),
	})
	s.nextRecordID++
	s.records = append(s.records, &domain.StampGenerationRecord{
		ID:      s.nextRecordID,
		OrderID: order.ID,
	})
	return order
}

func (s *memStore) CreateOrder(ctx context.Context, o *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *o
	s.orders[o.ID] = &clone
	return nil
}

func (s *memStore) GetOrderByID(ctx context.Context, id string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *order
	return &clone, nil
}

func (s *memStore) UpdateOrderStatus(ctx context.Context, id string, status domain.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return domain.ErrNotFound
	}
	order.Status = status
	return nil
}

func (s *memStore) CreateDetail(ctx context.Context, d *domain.OrderDetail) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *d
	s.details = append(s.details, &clone)
	return nil
}

func (s *memStore) FindDetailByKey(ctx context.Context, transactionID, sku string) (*domain.OrderDetail, error) {
	s.mu.Lock()
	s.findCalls++
	call := s.findCalls
	hook := s.onFindDetail
	s.mu.Unlock()

	if hook != nil {
		hook(call, s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.details) - 1; i >= 0; i-- {
		d := s.details[i]
		if d.TransactionID == transactionID && d.SKU == sku {
			clone := *d
			return &clone, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *memStore) AppendStampResult(ctx context.Context, detailID, imageURL string, recordID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.details {
		if d.ID == detailID {
			d.StampImageURLs = append(d.StampImageURLs, imageURL)
			d.StampRecordIDs = append(d.StampRecordIDs, recordID)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (s *memStore) DeleteOrderCascade(ctx context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.records[:0]
	for _, r := range s.records {
		if r.OrderID != orderID {
			kept = append(kept, r)
		}
	}
	s.records = kept

	keptDetails := s.details[:0]
	for _, d := range s.details {
		if d.OrderID != orderID {
			keptDetails = append(keptDetails, d)
		}
	}
	s.details = keptDetails

	delete(s.orders, orderID)
	return nil
}

func (s *memStore) Create(ctx context.Context, r *domain.StampGenerationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRecordID++
	r.ID = s.nextRecordID
	clone := *r
	s.records = append(s.records, &clone)
	return nil
}

func (s *memStore) GetByOrderID(ctx context.Context, orderID string) ([]domain.StampGenerationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.StampGenerationRecord
	for _, r := range s.records {
		if r.OrderID == orderID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *memStore) detailFor(transactionID, sku string) *domain.OrderDetail {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.details) - 1; i >= 0; i-- {
		d := s.details[i]
		if d.TransactionID == transactionID && d.SKU == sku {
			clone := *d
			return &clone
		}
	}
	return nil
}

func (s *memStore) orderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

type fakeTemplateSource struct {
	listFn func(ctx context.Context) ([]domain.StampTemplate, error)
}

func (f *fakeTemplateSource) ListTemplates(ctx context.Context) ([]domain.StampTemplate, error) {
	return f.listFn(ctx)
}

type fakeParser struct {
	parseFn func(ctx context.Context, req parsing.Request) (*parsing.Result, error)
}

func (f *fakeParser) Parse(ctx context.Context, req parsing.Request) (*parsing.Result, error) {
	return f.parseFn(ctx, req)
}

type fakeRenderer struct {
	renderFn func(ctx context.Context, req render.Request) (*render.Response, error)
}

func (f *fakeRenderer) Render(ctx context.Context, req render.Request) (*render.Response, error) {
	return f.renderFn(ctx, req)
}

func stampTemplate() domain.StampTemplate {
	return domain.StampTemplate{
		ID:   "tpl-1",
		Name: "Address Stamp",
		SKUs: []string{"AD-110"},
		TextElements: []domain.TextElement{
			{ID: "name", Description: "name line", DefaultValue: "THE SMITHS", Uppercase: true},
			{ID: "address", Description: "address line", DefaultValue: "unknown"},
		},
	}
}

func singleGroupResult(req parsing.Request) *parsing.Result {
	return &parsing.Result{
		Variations:         map[string]string{"name": "Emma"},
		OriginalVariations: req.RawText,
		Personalizations: [][]parsing.PersonalizationField{
			{{ID: "name", Value: "Emma"}},
		},
	}
}

func testRow() domain.RawOrderRow {
	return domain.RawOrderRow{
		RowIndex:      1,
		OrderID:       "3333",
		TransactionID: "9999",
		SKU:           "AD-110-RED",
		Variations:    "Personalization: Emma",
	}
}

func newStampService(
	t *testing.T,
	store *memStore,
	parser parsing.Parser,
	renderer render.Renderer,
	jobs registry.JobStore,
) *StampService {
	t.Helper()

	source := &fakeTemplateSource{
		listFn: func(context.Context) ([]domain.StampTemplate, error) {
			return []domain.StampTemplate{stampTemplate()}, nil
		},
	}
	resolver, err := template.NewResolver(source, zap.NewNop())
	if err != nil {
		t.Fatalf("NewResolver() error = %v", err)
	}

	svc, err := NewStampService(store, store, resolver, parser, renderer, jobs, false, zap.NewNop())
	if err != nil {
		t.Fatalf("NewStampService() error = %v", err)
	}
	return svc
}

func TestStampServiceGenerateSuccess(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	parser := &fakeParser{parseFn: func(ctx context.Context, req parsing.Request) (*parsing.Result, error) {
		return singleGroupResult(req), nil
	}}

	var renderedValues []string
	renderer := &fakeRenderer{renderFn: func(ctx context.Context, req render.Request) (*render.Response, error) {
		for _, el := range req.TextElements {
			renderedValues = append(renderedValues, el.Value)
		}
		return &render.Response{ImageURL: "https://cdn.example/stamp-1.png"}, nil
	}}

	jobs := registry.NewInMemoryJobStore(zap.NewNop())
	svc := newStampService(t, store, parser, renderer, jobs)

	outcome, err := svc.GenerateForRow(context.Background(), "", "user-1", testRow())
	if err != nil {
		t.Fatalf("GenerateForRow() error = %v", err)
	}
	if len(outcome.StampImageURLs) != 1 {
		t.Fatalf("stamp urls = %d, want 1", len(outcome.StampImageURLs))
	}

	order, err := store.GetOrderByID(context.Background(), outcome.OrderID)
	if err != nil {
		t.Fatalf("order not persisted: %v", err)
	}
	if order.Status != domain.OrderStatusGeneratedPendingReview {
		t.Fatalf("order status = %s, want generated_pending_review", order.Status)
	}
	if order.OwnerID != "user-1" {
		t.Fatalf("owner = %q, want user-1", order.OwnerID)
	}

	detail := store.detailFor("9999", "AD-110-RED")
	if detail == nil {
		t.Fatal("detail not persisted")
	}
	if len(detail.StampImageURLs) != 1 || len(detail.StampRecordIDs) != 1 {
		t.Fatalf("detail arrays = %d/%d, want 1/1", len(detail.StampImageURLs), len(detail.StampRecordIDs))
	}

	records, _ := store.GetByOrderID(context.Background(), outcome.OrderID)
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}

	// Uppercase-flagged element got the uppercased group value; unmapped
	// element fell back to its default.
	var gotName, gotAddress bool
	for _, v := range renderedValues {
		if v == "EMMA" {
			gotName = true
		}
		if v == "unknown" {
			gotAddress = true
		}
	}
	if !gotName || !gotAddress {
		t.Fatalf("rendered values = %v, want EMMA and unknown", renderedValues)
	}
}

func TestStampServiceGenerateDuplicate(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.seedChain("9999", "AD-110-RED", domain.OrderStatusGeneratedPendingReview)

	parser := &fakeParser{parseFn: func(ctx context.Context, req parsing.Request) (*parsing.Result, error) {
		t.Fatal("parser should not be called for duplicates")
		return nil, nil
	}}
	renderer := &fakeRenderer{renderFn: func(ctx context.Context, req render.Request) (*render.Response, error) {
		t.Fatal("renderer should not be called for duplicates")
		return nil, nil
	}}

	svc := newStampService(t, store, parser, renderer, registry.NewInMemoryJobStore(zap.NewNop()))

	_, err := svc.GenerateForRow(context.Background(), "", "user-1", testRow())
	if !errors.Is(err, domain.ErrDuplicate) {
		t.Fatalf("error = %v, want ErrDuplicate", err)
	}
	if store.orderCount() != 1 {
		t.Fatalf("order count = %d, want the original 1", store.orderCount())
	}
}

func TestStampServiceGenerateReplacesAbandonedChain(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	abandoned := store.seedChain("9999", "AD-110-RED", domain.OrderStatusNotGenerated)

	parser := &fakeParser{parseFn: func(ctx context.Context, req parsing.Request) (*parsing.Result, error) {
		return singleGroupResult(req), nil
	}}
	renderer := &fakeRenderer{renderFn: func(ctx context.Context, req render.Request) (*render.Response, error) {
		return &render.Response{ImageURL: "https://cdn.example/stamp-2.png"}, nil
	}}

	svc := newStampService(t, store, parser, renderer, registry.NewInMemoryJobStore(zap.NewNop()))

	outcome, err := svc.GenerateForRow(context.Background(), "", "user-1", testRow())
	if err != nil {
		t.Fatalf("GenerateForRow() error = %v", err)
	}

	if _, err := store.GetOrderByID(context.Background(), abandoned.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("abandoned order should be deleted, got %v", err)
	}
	if store.orderCount() != 1 {
		t.Fatalf("order count = %d, want exactly one live chain", store.orderCount())
	}
	if records, _ := store.GetByOrderID(context.Background(), abandoned.ID); len(records) != 0 {
		t.Fatalf("abandoned records should be deleted, got %d", len(records))
	}
	if outcome.OrderID == abandoned.ID {
		t.Fatal("chain must be replaced, not resumed")
	}
}

func TestStampServiceGenerateNoTemplate(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	parser := &fakeParser{parseFn: func(ctx context.Context, req parsing.Request) (*parsing.Result, error) {
		return singleGroupResult(req), nil
	}}
	renderer := &fakeRenderer{renderFn: func(ctx context.Context, req render.Request) (*render.Response, error) {
		return &render.Response{ImageURL: "x"}, nil
	}}

	svc := newStampService(t, store, parser, renderer, registry.NewInMemoryJobStore(zap.NewNop()))

	row := testRow()
	row.SKU = "MUG-999-BLUE"

	_, err := svc.GenerateForRow(context.Background(), "", "user-1", row)
	if !errors.Is(err, domain.ErrTemplateResolution) {
		t.Fatalf("error = %v, want ErrTemplateResolution", err)
	}
	if store.orderCount() != 0 {
		t.Fatalf("no partial order should be created, got %d", store.orderCount())
	}
}

func TestStampServiceGenerateParseFailure(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	parser := &fakeParser{parseFn: func(ctx context.Context, req parsing.Request) (*parsing.Result, error) {
		return nil, fmt.Errorf("%w: collaborator returned prose", domain.ErrParsing)
	}}
	renderer := &fakeRenderer{renderFn: func(ctx context.Context, req render.Request) (*render.Response, error) {
		t.Fatal("renderer should not be called after parse failure")
		return nil, nil
	}}

	svc := newStampService(t, store, parser, renderer, registry.NewInMemoryJobStore(zap.NewNop()))

	_, err := svc.GenerateForRow(context.Background(), "", "user-1", testRow())
	if !errors.Is(err, domain.ErrParsing) {
		t.Fatalf("error = %v, want ErrParsing", err)
	}
	if store.orderCount() != 0 {
		t.Fatalf("no partial order should be created, got %d", store.orderCount())
	}
}

func TestStampServiceGeneratePartialGroupFailure(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	parser := &fakeParser{parseFn: func(ctx context.Context, req parsing.Request) (*parsing.Result, error) {
		return &parsing.Result{
			Variations:         map[string]string{"name": "Emma"},
			HasMultiple:        true,
			OriginalVariations: req.RawText,
			Personalizations: [][]parsing.PersonalizationField{
				{{ID: "name", Value: "Emma"}},
				{{ID: "name", Value: "Liam"}},
			},
		}, nil
	}}

	var renderCalls int
	renderer := &fakeRenderer{renderFn: func(ctx context.Context, req render.Request) (*render.Response, error) {
		renderCalls++
		if renderCalls == 1 {
			return nil, fmt.Errorf("render engine exploded")
		}
		return &render.Response{ImageURL: "https://cdn.example/stamp-liam.png"}, nil
	}}

	svc := newStampService(t, store, parser, renderer, registry.NewInMemoryJobStore(zap.NewNop()))

	outcome, err := svc.GenerateForRow(context.Background(), "", "user-1", testRow())
	if err != nil {
		t.Fatalf("GenerateForRow() error = %v", err)
	}
	if renderCalls != 2 {
		t.Fatalf("render calls = %d, want sibling group still attempted", renderCalls)
	}
	if len(outcome.StampImageURLs) != 1 {
		t.Fatalf("stamp urls = %d, want 1", len(outcome.StampImageURLs))
	}

	order, _ := store.GetOrderByID(context.Background(), outcome.OrderID)
	if order.Status != domain.OrderStatusGeneratedPendingReview {
		t.Fatalf("order status = %s, want generated_pending_review", order.Status)
	}

	detail := store.detailFor("9999", "AD-110-RED")
	if len(detail.StampImageURLs) != 1 {
		t.Fatalf("detail urls = %d, want 1", len(detail.StampImageURLs))
	}
}

func TestStampServiceGenerateAllGroupsFail(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	parser := &fakeParser{parseFn: func(ctx context.Context, req parsing.Request) (*parsing.Result, error) {
		return singleGroupResult(req), nil
	}}
	renderer := &fakeRenderer{renderFn: func(ctx context.Context, req render.Request) (*render.Response, error) {
		return nil, fmt.Errorf("render engine exploded")
	}}

	svc := newStampService(t, store, parser, renderer, registry.NewInMemoryJobStore(zap.NewNop()))

	_, err := svc.GenerateForRow(context.Background(), "", "user-1", testRow())
	if !errors.Is(err, domain.ErrNoStampsGenerated) {
		t.Fatalf("error = %v, want ErrNoStampsGenerated", err)
	}

	// The chain stays in not_generated, eligible for reclamation on retry.
	detail := store.detailFor("9999", "AD-110-RED")
	if detail == nil {
		t.Fatal("detail should remain persisted")
	}
	order, err := store.GetOrderByID(context.Background(), detail.OrderID)
	if err != nil {
		t.Fatalf("order should remain persisted: %v", err)
	}
	if order.Status != domain.OrderStatusNotGenerated {
		t.Fatalf("order status = %s, want not_generated", order.Status)
	}
}

func TestStampServiceGenerateLosesRace(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	// A competing import commits its chain between checkpoint #1 and
	// checkpoint #2.
	store.onFindDetail = func(call int, s *memStore) {
		if call == 2 {
			s.mu.Lock()
			s.seedChainLocked("9999", "AD-110-RED", domain.OrderStatusGeneratedPendingReview)
			s.mu.Unlock()
		}
	}

	parser := &fakeParser{parseFn: func(ctx context.Context, req parsing.Request) (*parsing.Result, error) {
		return singleGroupResult(req), nil
	}}
	renderer := &fakeRenderer{renderFn: func(ctx context.Context, req render.Request) (*render.Response, error) {
		t.Fatal("renderer should not be called after losing the race")
		return nil, nil
	}}

	svc := newStampService(t, store, parser, renderer, registry.NewInMemoryJobStore(zap.NewNop()))

	_, err := svc.GenerateForRow(context.Background(), "", "user-1", testRow())
	if !errors.Is(err, domain.ErrDuplicate) {
		t.Fatalf("error = %v, want ErrDuplicate", err)
	}

	// Only the winner's chain survives; the fresh order was rolled back.
	if store.orderCount() != 1 {
		t.Fatalf("order count = %d, want only the winning chain", store.orderCount())
	}
	detail := store.detailFor("9999", "AD-110-RED")
	order, err := store.GetOrderByID(context.Background(), detail.OrderID)
	if err != nil {
		t.Fatalf("winning order missing: %v", err)
	}
	if order.Status != domain.OrderStatusGeneratedPendingReview {
		t.Fatalf("surviving order status = %s, want generated_pending_review", order.Status)
	}
}

func TestStampServiceGenerateCancelledBeforeRender(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	parser := &fakeParser{parseFn: func(ctx context.Context, req parsing.Request) (*parsing.Result, error) {
		return singleGroupResult(req), nil
	}}
	renderer := &fakeRenderer{renderFn: func(ctx context.Context, req render.Request) (*render.Response, error) {
		t.Fatal("renderer should not be called once cancellation is requested")
		return nil, nil
	}}

	jobs := registry.NewInMemoryJobStore(zap.NewNop())
	job := jobs.Create("user-1")
	if !jobs.RequestCancel(job.ID, "operator") {
		t.Fatal("cancel request should succeed")
	}

	svc := newStampService(t, store, parser, renderer, jobs)

	_, err := svc.GenerateForRow(context.Background(), job.ID, "user-1", testRow())
	if !errors.Is(err, domain.ErrJobCancelled) {
		t.Fatalf("error = %v, want ErrJobCancelled", err)
	}
}

func TestStampServiceGenerateInvalidRow(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	parser := &fakeParser{parseFn: func(ctx context.Context, req parsing.Request) (*parsing.Result, error) {
		return singleGroupResult(req), nil
	}}
	renderer := &fakeRenderer{renderFn: func(ctx context.Context, req render.Request) (*render.Response, error) {
		return &render.Response{ImageURL: "x"}, nil
	}}

	svc := newStampService(t, store, parser, renderer, registry.NewInMemoryJobStore(zap.NewNop()))

	row := testRow()
	row.TransactionID = " "

	_, err := svc.GenerateForRow(context.Background(), "", "user-1", row)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
	if !strings.Contains(err.Error(), "transactionId") {
		t.Fatalf("error should name the missing field, got %q", err.Error())
	}
}
