package repository

import (
	"context"

	"gorm.io/gorm"
)

// CRUD defines the reads and writes a model table supports
type CRUD[T any] interface {
	Create(ctx context.Context, entity *T) error
	Get(ctx context.Context, id string) (*T, error)
	List(ctx context.Context, page, limit int, filters map[string]interface{}) ([]T, int64, error)
}

// Table implements CRUD for one model
type Table[T any] struct {
	db        *gorm.DB
	modelType T
	order     string
}

// NewTable creates a CRUD table. Lists are ordered newest first.
func NewTable[T any](db *gorm.DB, modelType T) *Table[T] {
	return &Table[T]{
		db:        db,
		modelType: modelType,
		order:     "created_at DESC",
	}
}

func (s *Table[T]) Create(ctx context.Context, entity *T) error {
	return translate(s.db.WithContext(ctx).Create(entity).Error)
}

func (s *Table[T]) Get(ctx context.Context, id string) (*T, error) {
	var entity T
	if err := s.db.WithContext(ctx).Where("is_deleted = ?", false).First(&entity, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &entity, nil
}

func (s *Table[T]) List(ctx context.Context, page, limit int, filters map[string]interface{}) ([]T, int64, error) {
	var entities []T
	var total int64

	query := s.db.WithContext(ctx).Model(&s.modelType).Where("is_deleted = ?", false)

	// Apply filters
	for key, value := range filters {
		query = query.Where(key+" = ?", value)
	}

	// Get total count
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// Apply pagination
	if page > 0 && limit > 0 {
		offset := (page - 1) * limit
		query = query.Offset(offset).Limit(limit)
	}

	// Execute query
	if err := query.Order(s.order).Find(&entities).Error; err != nil {
		return nil, 0, err
	}

	return entities, total, nil
}
