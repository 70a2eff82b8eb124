package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"example.com/storefront/services/checkout/internal/domain"
	"example.com/storefront/services/checkout/internal/gateway"
	"example.com/storefront/services/checkout/internal/middleware"
	"example.com/storefront/services/checkout/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type MockSessionCreator struct {
	CreateSessionFunc func(ctx context.Context, userID string, req service.CheckoutRequest) (*service.SessionSummary, error)
}

func (m *MockSessionCreator) CreateSession(ctx context.Context, userID string, req service.CheckoutRequest) (*service.SessionSummary, error) {
	return m.CreateSessionFunc(ctx, userID, req)
}

type MockCallbackProcessor struct {
	HandleCallbackFunc func(ctx context.Context, body []byte, digest string) (*service.CallbackResult, error)
}

func (m *MockCallbackProcessor) HandleCallback(ctx context.Context, body []byte, digest string) (*service.CallbackResult, error) {
	return m.HandleCallbackFunc(ctx, body, digest)
}

type MockStatusReader struct {
	PollFunc func(ctx context.Context, transactionID, userID string) (*service.SessionView, error)
}

func (m *MockStatusReader) Poll(ctx context.Context, transactionID, userID string) (*service.SessionView, error) {
	return m.PollFunc(ctx, transactionID, userID)
}

type MockCODPlacer struct {
	PlaceOrderFunc func(ctx context.Context, userID string, req service.CheckoutRequest) (*domain.Order, error)
}

func (m *MockCODPlacer) PlaceOrder(ctx context.Context, userID string, req service.CheckoutRequest) (*domain.Order, error) {
	return m.PlaceOrderFunc(ctx, userID, req)
}

type MockOrderGetter struct {
	GetOrderFunc func(ctx context.Context, orderID, userID string) (*domain.Order, error)
}

func (m *MockOrderGetter) GetOrder(ctx context.Context, orderID, userID string) (*domain.Order, error) {
	return m.GetOrderFunc(ctx, orderID, userID)
}

type MockPaymentsGateway struct {
	CheckStatusFunc func(ctx context.Context, transactionID string) (*gateway.StatusResult, error)
	CompleteFunc    func(ctx context.Context, transactionID string, success bool) (*gateway.SignedCallback, error)
}

func (m *MockPaymentsGateway) CheckStatus(ctx context.Context, transactionID string) (*gateway.StatusResult, error) {
	return m.CheckStatusFunc(ctx, transactionID)
}

func (m *MockPaymentsGateway) Complete(ctx context.Context, transactionID string, success bool) (*gateway.SignedCallback, error) {
	return m.CompleteFunc(ctx, transactionID, success)
}

// withUser имитирует AuthMiddleware.
func withUser(userID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID != "" {
			c.Set(middleware.ContextUserID, userID)
		}
		c.Next()
	}
}
