package repository

import (
	"context"

	"github.com/c3ll256/etsy-helper-server-sub000/internal/domain"
	"gorm.io/gorm"
)

// RecordRepository persists the append-only stamp generation audit trail.
type RecordRepository interface {
	Create(ctx context.Context, r *domain.StampGenerationRecord) error
	GetByOrderID(ctx context.Context, orderID string) ([]domain.StampGenerationRecord, error)
}

type GormRecordRepo struct {
	db *gorm.DB
}

func NewGormRecordRepo(db *gorm.DB) *GormRecordRepo {
	return &GormRecordRepo{db: db}
}

func (r *GormRecordRepo) Create(ctx context.Context, record *domain.StampGenerationRecord) error {
	model, err := recordModelFromDomain(record)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if record != nil {
		mapped, err := recordModelToDomain(model)
		if err != nil {
			return err
		}
		*record = *mapped
	}
	return nil
}

func (r *GormRecordRepo) GetByOrderID(ctx context.Context, orderID string) ([]domain.StampGenerationRecord, error) {
	var models []StampGenerationRecordModel
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	records := make([]domain.StampGenerationRecord, 0, len(models))
	for i := range models {
		record, err := recordModelToDomain(&models[i])
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}

	return records, nil
}
