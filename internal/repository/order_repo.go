package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/c3ll256/etsy-helper-server-sub000/internal/domain"
	"gorm.io/gorm"
)

// OrderRepository persists orders and their 1:1 details. FindDetailByKey is
// the lookup behind every existence checkpoint of the idempotent-creation
// protocol.
type OrderRepository interface {
	CreateOrder(ctx context.Context, o *domain.Order) error
	GetOrderByID(ctx context.Context, id string) (*domain.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, status domain.OrderStatus) error
	CreateDetail(ctx context.Context, d *domain.OrderDetail) error
	FindDetailByKey(ctx context.Context, transactionID, sku string) (*domain.OrderDetail, error)
	AppendStampResult(ctx context.Context, detailID, imageURL string, recordID int64) error
	DeleteOrderCascade(ctx context.Context, orderID string) error
}

type GormOrderRepo struct {
	db *gorm.DB
}

func NewGormOrderRepo(db *gorm.DB) *GormOrderRepo {
	return &GormOrderRepo{db: db}
}

func (r *GormOrderRepo) CreateOrder(ctx context.Context, o *domain.Order) error {
	model := orderModelFromDomain(o)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if o != nil {
		*o = *orderModelToDomain(model)
	}
	return nil
}

func (r *GormOrderRepo) GetOrderByID(ctx context.Context, id string) (*domain.Order, error) {
	var model OrderModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return orderModelToDomain(&model), nil
}

func (r *GormOrderRepo) UpdateOrderStatus(ctx context.Context, id string, status domain.OrderStatus) error {
	result := r.db.WithContext(ctx).
		Model(&OrderModel{}).
		Where("id = ?", id).
		Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormOrderRepo) CreateDetail(ctx context.Context, d *domain.OrderDetail) error {
	model, err := detailModelFromDomain(d)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if d != nil {
		mapped, err := detailModelToDomain(model)
		if err != nil {
			return err
		}
		*d = *mapped
	}
	return nil
}

func (r *GormOrderRepo) FindDetailByKey(ctx context.Context, transactionID, sku string) (*domain.OrderDetail, error) {
	var model OrderDetailModel
	err := r.db.WithContext(ctx).
		Where("transaction_id = ? AND sku = ?", strings.TrimSpace(transactionID), strings.TrimSpace(sku)).
		Order("created_at DESC").
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return detailModelToDomain(&model)
}

// AppendStampResult appends one rendered stamp to the detail's arrays. The
// arrays only ever grow; entries are never reordered within a run.
func (r *GormOrderRepo) AppendStampResult(ctx context.Context, detailID, imageURL string, recordID int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model OrderDetailModel
		if err := tx.First(&model, "id = ?", detailID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}

		detail, err := detailModelToDomain(&model)
		if err != nil {
			return err
		}

		detail.StampImageURLs = append(detail.StampImageURLs, imageURL)
		detail.StampRecordIDs = append(detail.StampRecordIDs, recordID)

		urls, err := encodeJSONField(detail.StampImageURLs, "stampImageUrls")
		if err != nil {
			return err
		}
		ids, err := encodeJSONField(detail.StampRecordIDs, "stampRecordIds")
		if err != nil {
			return err
		}

		return tx.Model(&OrderDetailModel{}).
			Where("id = ?", detailID).
			Updates(map[string]any{
				"stamp_image_urls": urls,
				"stamp_record_ids": ids,
			}).Error
	})
}

// DeleteOrderCascade removes an order chain: its generation records, its
// detail, then the order itself. Used both for abandoned prior attempts and
// for rolling back the losing side of a concurrent import race.
func (r *GormOrderRepo) DeleteOrderCascade(ctx context.Context, orderID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("order_id = ?", orderID).Delete(&StampGenerationRecordModel{}).Error; err != nil {
			return err
		}
		if err := tx.Where("order_id = ?", orderID).Delete(&OrderDetailModel{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", orderID).Delete(&OrderModel{}).Error
	})
}
