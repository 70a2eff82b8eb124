// Package handler содержит REST API checkout на gin.
package handler

import (
	"context"

	"example.com/storefront/services/checkout/internal/domain"
	"example.com/storefront/services/checkout/internal/gateway"
	"example.com/storefront/services/checkout/internal/service"
)

// SessionCreator создаёт платёжные сессии (service.SessionManager).
type SessionCreator interface {
	CreateSession(ctx context.Context, userID string, req service.CheckoutRequest) (*service.SessionSummary, error)
}

// CallbackProcessor обрабатывает webhook шлюза (service.CallbackHandler).
type CallbackProcessor interface {
	HandleCallback(ctx context.Context, body []byte, digest string) (*service.CallbackResult, error)
}

// StatusReader отдаёт состояние сессии владельцу (service.StatusPoller).
type StatusReader interface {
	Poll(ctx context.Context, transactionID, userID string) (*service.SessionView, error)
}

// CODPlacer оформляет заказы с оплатой при получении (service.CODService).
type CODPlacer interface {
	PlaceOrder(ctx context.Context, userID string, req service.CheckoutRequest) (*domain.Order, error)
}

// OrderGetter отдаёт заказ владельцу (service.OrderReader).
type OrderGetter interface {
	GetOrder(ctx context.Context, orderID, userID string) (*domain.Order, error)
}

// MockPayments — платёжная страница mock шлюза, только для разработки
// (*gateway.MockGateway).
type MockPayments interface {
	CheckStatus(ctx context.Context, transactionID string) (*gateway.StatusResult, error)
	Complete(ctx context.Context, transactionID string, success bool) (*gateway.SignedCallback, error)
}
