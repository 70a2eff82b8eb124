// Package service содержит бизнес-логику checkout: создание платёжных
// сессий, обработку callback шлюза, опрос статуса, материализацию заказа,
// истечение сессий и ручную сверку.
//
// Все три финализатора (callback, опрос, reaper) сходятся в Finalizer:
// единственный путь изменения статуса сессии — compare-and-set из PENDING.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"example.com/storefront/services/checkout/internal/domain"
	"example.com/storefront/services/checkout/internal/repository"
)

// maxCartItems — ограничение на размер одного заказа.
const maxCartItems = 50

// CheckoutRequest — что пользователь выбрал к оплате.
type CheckoutRequest struct {
	ShippingAddress domain.ShippingAddress
	CartItemIDs     []string
}

// draft — проверенная корзина и сумма к оплате.
type draft struct {
	address domain.ShippingAddress
	ids     []string
	items   []domain.CartItem
	amount  domain.Amount
}

// snapshot — позиции сессии с ценами на момент создания.
func (d *draft) snapshot() []domain.SessionItem {
	items := make([]domain.SessionItem, len(d.items))
	for i, c := range d.items {
		items[i] = domain.SessionItem{
			CartItemID: c.ID,
			ProductID:  c.ProductID,
			Quantity:   c.Quantity,
			Price:      c.Product.Price,
		}
	}
	return items
}

// prepareCheckout проверяет адрес и корзину. Общая часть онлайн оплаты и COD.
// Проверка остатка best-effort: склад не резервируется.
func prepareCheckout(ctx context.Context, catalog repository.CatalogRepository, userID string, req CheckoutRequest) (*draft, error) {
	addr := req.ShippingAddress.Normalize()
	if err := addr.Validate(); err != nil {
		return nil, err
	}

	ids, err := normalizeIDs(req.CartItemIDs)
	if err != nil {
		return nil, err
	}

	items, err := catalog.GetCartItems(ctx, userID, ids)
	if err != nil {
		return nil, fmt.Errorf("загрузка корзины: %w", err)
	}
	if len(items) != len(ids) {
		return nil, fmt.Errorf("%w: найдено %d из %d", domain.ErrCartItemsNotFound, len(items), len(ids))
	}

	var amount domain.Amount
	for _, it := range items {
		if it.Quantity <= 0 {
			return nil, &domain.ValidationError{Field: "cartItemIds", Message: "позиция " + it.ID + " с нулевым количеством"}
		}
		if !it.Product.Active {
			return nil, fmt.Errorf("%w: %s", domain.ErrProductUnavailable, it.Product.Name)
		}
		if it.Product.Stock < it.Quantity {
			return nil, &domain.InsufficientStockError{
				ProductID: it.ProductID,
				Requested: it.Quantity,
				Available: it.Product.Stock,
			}
		}
		amount += it.Subtotal()
	}
	if amount <= 0 {
		return nil, &domain.ValidationError{Field: "cartItemIds", Message: "сумма заказа должна быть положительной"}
	}

	return &draft{address: addr, ids: ids, items: items, amount: amount}, nil
}

func normalizeIDs(raw []string) ([]string, error) {
	if len(raw) == 0 {
		return nil, &domain.ValidationError{Field: "cartItemIds", Message: "список пуст"}
	}
	if len(raw) > maxCartItems {
		return nil, &domain.ValidationError{Field: "cartItemIds", Message: fmt.Sprintf("не больше %d позиций", maxCartItems)}
	}

	seen := make(map[string]struct{}, len(raw))
	ids := make([]string, 0, len(raw))
	for _, id := range raw {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, &domain.ValidationError{Field: "cartItemIds", Message: "пустой id"}
		}
		if _, dup := seen[id]; dup {
			return nil, &domain.ValidationError{Field: "cartItemIds", Message: "повторяется " + id}
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

// utcNow — часы по умолчанию.
func utcNow() time.Time {
	return time.Now().UTC()
}
