package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"example.com/storefront/pkg/logger"
	"example.com/storefront/services/checkout/internal/domain"
	"example.com/storefront/services/checkout/internal/repository"
)

// CODService оформляет заказы с оплатой при получении. Платёжной сессии нет,
// заказ и списание склада происходят сразу.
type CODService struct {
	catalog  repository.CatalogRepository
	orders   repository.OrderRepository
	currency string
	now      func() time.Time
	newID    func() string
}

// NewCODService создаёт сервис COD заказов.
func NewCODService(catalog repository.CatalogRepository, orders repository.OrderRepository, currency string) *CODService {
	return &CODService{
		catalog:  catalog,
		orders:   orders,
		currency: currency,
		now:      utcNow,
		newID:    uuid.NewString,
	}
}

// PlaceOrder проверяет корзину и создаёт заказ по текущим ценам каталога.
func (c *CODService) PlaceOrder(ctx context.Context, userID string, req CheckoutRequest) (*domain.Order, error) {
	d, err := prepareCheckout(ctx, c.catalog, userID, req)
	if err != nil {
		return nil, err
	}

	order := domain.NewCODOrder(c.newID(), userID, c.currency, d.address, d.items, c.now())
	if err := c.orders.CreateCOD(ctx, order, d.ids); err != nil {
		return nil, err
	}

	logger.Ctx(ctx).Info().
		Str("order_id", order.ID).
		Str("user_id", userID).
		Str("amount", order.TotalAmount.String()).
		Msg("COD заказ создан")
	return order, nil
}
