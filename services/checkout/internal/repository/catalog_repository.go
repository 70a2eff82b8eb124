package repository

import (
	"context"

	"gorm.io/gorm"

	"example.com/storefront/services/checkout/internal/domain"
)

// CatalogRepository — чтение корзины пользователя вместе с товарами.
type CatalogRepository interface {
	// GetCartItems возвращает позиции корзины userID из ids в порядке ids.
	// Чужие и несуществующие позиции в результат не попадают.
	GetCartItems(ctx context.Context, userID string, ids []string) ([]domain.CartItem, error)
}

type catalogRepository struct {
	db *gorm.DB
}

// NewCatalogRepository создаёт репозиторий корзины и каталога.
func NewCatalogRepository(db *gorm.DB) CatalogRepository {
	return &catalogRepository{db: db}
}

func (r *catalogRepository) GetCartItems(ctx context.Context, userID string, ids []string) ([]domain.CartItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var models []CartItemModel
	if err := r.db.WithContext(ctx).
		Preload("Product").
		Where("user_id = ? AND id IN ?", userID, ids).
		Find(&models).Error; err != nil {
		return nil, err
	}

	byID := make(map[string]*CartItemModel, len(models))
	for i := range models {
		byID[models[i].ID] = &models[i]
	}

	items := make([]domain.CartItem, 0, len(models))
	for _, id := range ids {
		if m, ok := byID[id]; ok {
			items = append(items, m.toDomain())
			delete(byID, id)
		}
	}
	return items, nil
}
