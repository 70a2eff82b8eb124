package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"example.com/storefront/pkg/jwt"
	"example.com/storefront/services/checkout/internal/domain"
	"example.com/storefront/services/checkout/internal/middleware"
	"example.com/storefront/services/checkout/internal/service"
)

type staticValidator struct{}

func (staticValidator) ValidateToken(_ context.Context, token string) (*jwt.Claims, error) {
	if token != "good" {
		return nil, errors.New("bad token")
	}
	return &jwt.Claims{UserID: "user-1"}, nil
}

func TestRouter_AuthBoundaries(t *testing.T) {
	r := NewRouter(RouterConfig{
		Sessions: &MockSessionCreator{
			CreateSessionFunc: func(context.Context, string, service.CheckoutRequest) (*service.SessionSummary, error) {
				return &service.SessionSummary{TransactionID: "TXN1"}, nil
			},
		},
		Callbacks: &MockCallbackProcessor{
			HandleCallbackFunc: func(context.Context, []byte, string) (*service.CallbackResult, error) {
				return &service.CallbackResult{Status: domain.SessionStatusSuccess}, nil
			},
		},
		AuthMW: middleware.NewAuthMiddleware(staticValidator{}),
		CORS:   middleware.DefaultCORSConfig(),
	})

	// Callback не требует токена пользователя.
	w := serve(r, http.MethodPost, "/api/v1/payment/gateway/callback", `{"response":"x"}`, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(middleware.HeaderTraceID))

	w = serve(r, http.MethodPost, "/api/v1/payment/create-session", createBody, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = serve(r, http.MethodPost, "/api/v1/payment/create-session", createBody,
		map[string]string{"Authorization": "Bearer good"})
	assert.Equal(t, http.StatusCreated, w.Code)

	// Маршруты без сервиса не регистрируются, mock страница выключена.
	w = serve(r, http.MethodGet, "/api/v1/orders/order-1", "", map[string]string{"Authorization": "Bearer good"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = serve(r, http.MethodPost, "/api/v1/payment/mock/TXN1/complete", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
