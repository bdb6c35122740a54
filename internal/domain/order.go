package domain

import (
	"fmt"
	"strings"
	"time"
)

// OrderStatus represents the generation state of an imported order.
type OrderStatus string

const (
	OrderStatusNotGenerated           OrderStatus = "not_generated"
	OrderStatusGeneratedPendingReview OrderStatus = "generated_pending_review"
	OrderStatusGeneratedReviewed      OrderStatus = "generated_reviewed"
)

func (s OrderStatus) String() string { return string(s) }

func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusNotGenerated, OrderStatusGeneratedPendingReview, OrderStatusGeneratedReviewed:
		return true
	}
	return false
}

func ParseOrderStatusFromString(s string) (OrderStatus, error) {
	st := OrderStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid order status %q", ErrValidation, s)
	}
	return st, nil
}

// Order is the aggregate root created per imported row. Status starts at
// not_generated and advances to generated_pending_review only once at least
// one stamp rendered.
type Order struct {
	ID              string
	Status          OrderStatus
	PlatformOrderID string
	TemplateID      string
	OwnerID         string
	SearchKey       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OrderDetail is the 1:1 child of an Order, identified by the natural dedupe
// key (TransactionID, SKU). StampImageURLs and StampRecordIDs grow
// monotonically, one entry per successfully rendered personalization group.
type OrderDetail struct {
	ID                 string
	OrderID            string
	TransactionID      string
	SKU                string
	Variations         map[string]string
	OriginalVariations string
	StampImageURLs     []string
	StampRecordIDs     []int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// DedupeKey returns the natural key used by the idempotent-creation protocol.
func (d OrderDetail) DedupeKey() string {
	return fmt.Sprintf("%s/%s", d.TransactionID, d.SKU)
}

// StampGenerationRecord is an append-only audit row, one per successfully
// rendered personalization group.
type StampGenerationRecord struct {
	ID            int64
	OrderID       string
	TemplateID    string
	TextElements  []TextElement
	StampImageURL string
	CreatedAt     time.Time
}
