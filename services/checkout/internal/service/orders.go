package service

import (
	"context"

	"example.com/storefront/services/checkout/internal/domain"
	"example.com/storefront/services/checkout/internal/repository"
)

// OrderReader отдаёт заказы их владельцам.
type OrderReader struct {
	orders repository.OrderRepository
}

// NewOrderReader создаёт OrderReader.
func NewOrderReader(orders repository.OrderRepository) *OrderReader {
	return &OrderReader{orders: orders}
}

// GetOrder возвращает заказ. Чужой заказ — domain.ErrOrderNotFound.
func (r *OrderReader) GetOrder(ctx context.Context, orderID, userID string) (*domain.Order, error) {
	o, err := r.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, domain.ErrOrderNotFound
	}
	return o, nil
}
