package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/c3ll256/etsy-helper-server-sub000/internal/domain"
)

// OrderModel is the persistence model for the orders table.
type OrderModel struct {
	ID              string             `gorm:"type:uuid;primaryKey"`
	Status          domain.OrderStatus `gorm:"type:varchar(32);not null"`
	PlatformOrderID string             `gorm:"type:varchar(64);not null"`
	TemplateID      string             `gorm:"type:uuid;not null"`
	OwnerID         string             `gorm:"type:varchar(64)"`
	SearchKey       string             `gorm:"type:varchar(255)"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (OrderModel) TableName() string {
	return "orders"
}

// OrderDetailModel is the persistence model for order_details. Structured
// fields are stored as JSON text so the stamp arrays keep their append order.
type OrderDetailModel struct {
	ID                 string `gorm:"type:uuid;primaryKey"`
	OrderID            string `gorm:"type:uuid;not null"`
	TransactionID      string `gorm:"type:varchar(64);not null;index:idx_order_details_dedupe"`
	SKU                string `gorm:"type:varchar(255);not null;index:idx_order_details_dedupe"`
	Variations         string `gorm:"type:text"`
	OriginalVariations string `gorm:"type:text"`
	StampImageURLs     string `gorm:"type:text"`
	StampRecordIDs     string `gorm:"type:text"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (OrderDetailModel) TableName() string {
	return "order_details"
}

// StampTemplateModel is the persistence model for stamp_templates.
type StampTemplateModel struct {
	ID           string `gorm:"type:uuid;primaryKey"`
	Name         string `gorm:"type:varchar(255);not null"`
	SKUs         string `gorm:"type:text;not null"`
	TextElements string `gorm:"type:text;not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (StampTemplateModel) TableName() string {
	return "stamp_templates"
}

// StampGenerationRecordModel is the persistence model for the append-only
// stamp_generation_records audit table.
type StampGenerationRecordModel struct {
	ID            int64  `gorm:"primaryKey;autoIncrement"`
	OrderID       string `gorm:"type:uuid;not null;index"`
	TemplateID    string `gorm:"type:uuid;not null"`
	TextElements  string `gorm:"type:text;not null"`
	StampImageURL string `gorm:"type:text;not null"`
	CreatedAt     time.Time
}

func (StampGenerationRecordModel) TableName() string {
	return "stamp_generation_records"
}

func orderModelFromDomain(o *domain.Order) *OrderModel {
	if o == nil {
		return nil
	}

	return &OrderModel{
		ID:              o.ID,
		Status:          o.Status,
		PlatformOrderID: o.PlatformOrderID,
		TemplateID:      o.TemplateID,
		OwnerID:         o.OwnerID,
		SearchKey:       o.SearchKey,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

func orderModelToDomain(m *OrderModel) *domain.Order {
	if m == nil {
		return nil
	}

	return &domain.Order{
		ID:              m.ID,
		Status:          m.Status,
		PlatformOrderID: m.PlatformOrderID,
		TemplateID:      m.TemplateID,
		OwnerID:         m.OwnerID,
		SearchKey:       m.SearchKey,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func detailModelFromDomain(d *domain.OrderDetail) (*OrderDetailModel, error) {
	if d == nil {
		return nil, nil
	}

	variations, err := encodeJSONField(d.Variations, "variations")
	if err != nil {
		return nil, err
	}
	imageURLs, err := encodeJSONField(d.StampImageURLs, "stampImageUrls")
	if err != nil {
		return nil, err
	}
	recordIDs, err := encodeJSONField(d.StampRecordIDs, "stampRecordIds")
	if err != nil {
		return nil, err
	}

	return &OrderDetailModel{
		ID:                 d.ID,
		OrderID:            d.OrderID,
		TransactionID:      d.TransactionID,
		SKU:                d.SKU,
		Variations:         variations,
		OriginalVariations: d.OriginalVariations,
		StampImageURLs:     imageURLs,
		StampRecordIDs:     recordIDs,
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
	}, nil
}

func detailModelToDomain(m *OrderDetailModel) (*domain.OrderDetail, error) {
	if m == nil {
		return nil, nil
	}

	detail := &domain.OrderDetail{
		ID:                 m.ID,
		OrderID:            m.OrderID,
		TransactionID:      m.TransactionID,
		SKU:                m.SKU,
		OriginalVariations: m.OriginalVariations,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}

	if err := decodeJSONField(m.Variations, &detail.Variations, "variations"); err != nil {
		return nil, err
	}
	if err := decodeJSONField(m.StampImageURLs, &detail.StampImageURLs, "stampImageUrls"); err != nil {
		return nil, err
	}
	if err := decodeJSONField(m.StampRecordIDs, &detail.StampRecordIDs, "stampRecordIds"); err != nil {
		return nil, err
	}

	return detail, nil
}

func templateModelToDomain(m *StampTemplateModel) (*domain.StampTemplate, error) {
	if m == nil {
		return nil, nil
	}

	template := &domain.StampTemplate{
		ID:   m.ID,
		Name: m.Name,
	}

	if err := decodeJSONField(m.SKUs, &template.SKUs, "skus"); err != nil {
		return nil, err
	}
	if err := decodeJSONField(m.TextElements, &template.TextElements, "textElements"); err != nil {
		return nil, err
	}

	return template, nil
}

func recordModelFromDomain(r *domain.StampGenerationRecord) (*StampGenerationRecordModel, error) {
	if r == nil {
		return nil, nil
	}

	elements, err := encodeJSONField(r.TextElements, "textElements")
	if err != nil {
		return nil, err
	}

	return &StampGenerationRecordModel{
		ID:            r.ID,
		OrderID:       r.OrderID,
		TemplateID:    r.TemplateID,
		TextElements:  elements,
		StampImageURL: r.StampImageURL,
		CreatedAt:     r.CreatedAt,
	}, nil
}

func recordModelToDomain(m *StampGenerationRecordModel) (*domain.StampGenerationRecord, error) {
	if m == nil {
		return nil, nil
	}

	record := &domain.StampGenerationRecord{
		ID:            m.ID,
		OrderID:       m.OrderID,
		TemplateID:    m.TemplateID,
		StampImageURL: m.StampImageURL,
		CreatedAt:     m.CreatedAt,
	}

	if err := decodeJSONField(m.TextElements, &record.TextElements, "textElements"); err != nil {
		return nil, err
	}

	return record, nil
}

func encodeJSONField(value any, field string) (string, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s: %w", field, err)
	}
	return string(encoded), nil
}

func decodeJSONField(raw string, target any, field string) error {
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), target); err != nil {
		return fmt.Errorf("failed to decode %s: %w", field, err)
	}
	return nil
}
