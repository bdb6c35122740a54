package repository

import (
	"context"
	"errors"

	"github.com/c3ll256/etsy-helper-server-sub000/internal/domain"
	"gorm.io/gorm"
)

// TemplateRepository exposes the read-only stamp template catalog.
type TemplateRepository interface {
	ListTemplates(ctx context.Context) ([]domain.StampTemplate, error)
	GetByID(ctx context.Context, id string) (*domain.StampTemplate, error)
}

type GormTemplateRepo struct {
	db *gorm.DB
}

func NewGormTemplateRepo(db *gorm.DB) *GormTemplateRepo {
	return &GormTemplateRepo{db: db}
}

func (r *GormTemplateRepo) ListTemplates(ctx context.Context) ([]domain.StampTemplate, error) {
	var models []StampTemplateModel
	err := r.db.WithContext(ctx).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	templates := make([]domain.StampTemplate, 0, len(models))
	for i := range models {
		template, err := templateModelToDomain(&models[i])
		if err != nil {
			return nil, err
		}
		templates = append(templates, *template)
	}

	return templates, nil
}

func (r *GormTemplateRepo) GetByID(ctx context.Context, id string) (*domain.StampTemplate, error) {
	var model StampTemplateModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return templateModelToDomain(&model)
}
