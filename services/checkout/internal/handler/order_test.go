package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/storefront/services/checkout/internal/domain"
	"example.com/storefront/services/checkout/internal/service"
)

func setupOrderRouter(h *OrderHandler, userID string) *gin.Engine {
	r := gin.New()
	authed := r.Group("/api/v1", withUser(userID))
	authed.POST("/orders/cod", h.PlaceCOD)
	authed.GET("/orders/:id", h.GetOrder)
	return r
}

func codOrder(userID string) *domain.Order {
	return &domain.Order{
		ID:             "order-1",
		UserID:         userID,
		Items:          []domain.OrderItem{{ProductID: "p-1", Quantity: 1, Price: 29900}, {ProductID: "p-2", Quantity: 2, Price: 10000}},
		TotalAmount:    49900,
		Currency:       "INR",
		PaymentMethod:  domain.PaymentMethodCOD,
		PaymentStatus:  domain.PaymentStatusPending,
		DeliveryStatus: domain.DeliveryStatusProcessing,
		CreatedAt:      time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC),
	}
}

func TestPlaceCOD(t *testing.T) {
	placer := &MockCODPlacer{
		PlaceOrderFunc: func(_ context.Context, userID string, req service.CheckoutRequest) (*domain.Order, error) {
			assert.Equal(t, []string{"ci-1", "ci-2"}, req.CartItemIDs)
			return codOrder(userID), nil
		},
	}
	r := setupOrderRouter(NewOrderHandler(placer, nil), "user-1")

	w := serve(r, http.MethodPost, "/api/v1/orders/cod", createBody, nil)

	require.Equal(t, http.StatusCreated, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "COD", resp["paymentMethod"])
	assert.Equal(t, "PENDING", resp["paymentStatus"])
	assert.Equal(t, "PROCESSING", resp["deliveryStatus"])
	assert.InDelta(t, 499.0, resp["totalAmount"], 0.001)
	assert.NotContains(t, resp, "transactionId")
	assert.Len(t, resp["items"], 2)
}

func TestPlaceCOD_InsufficientStock(t *testing.T) {
	placer := &MockCODPlacer{
		PlaceOrderFunc: func(context.Context, string, service.CheckoutRequest) (*domain.Order, error) {
			return nil, &domain.InsufficientStockError{ProductID: "p-1", Requested: 1, Available: 0}
		},
	}
	r := setupOrderRouter(NewOrderHandler(placer, nil), "user-1")

	w := serve(r, http.MethodPost, "/api/v1/orders/cod", createBody, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "insufficient_stock")
}

func TestGetOrder(t *testing.T) {
	getter := &MockOrderGetter{
		GetOrderFunc: func(_ context.Context, orderID, userID string) (*domain.Order, error) {
			if orderID != "order-1" || userID != "user-1" {
				return nil, domain.ErrOrderNotFound
			}
			return codOrder(userID), nil
		},
	}

	tests := []struct {
		name       string
		userID     string
		path       string
		wantStatus int
	}{
		{"владелец", "user-1", "/api/v1/orders/order-1", http.StatusOK},
		{"чужой заказ", "user-2", "/api/v1/orders/order-1", http.StatusNotFound},
		{"нет заказа", "user-1", "/api/v1/orders/missing", http.StatusNotFound},
		{"без авторизации", "", "/api/v1/orders/order-1", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := setupOrderRouter(NewOrderHandler(nil, getter), tt.userID)
			w := serve(r, http.MethodGet, tt.path, "", nil)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}
