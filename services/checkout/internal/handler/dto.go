package handler

import (
	"time"

	"example.com/storefront/services/checkout/internal/domain"
	"example.com/storefront/services/checkout/internal/service"
)

// CheckoutRequest — тело create-session и COD заказа. Поля адреса проверяет
// домен, чтобы ошибка содержала имя поля.
type CheckoutRequest struct {
	ShippingAddress domain.ShippingAddress `json:"shippingAddress"`
	CartItemIDs     []string               `json:"cartItemIds"`
}

func (r CheckoutRequest) toService() service.CheckoutRequest {
	return service.CheckoutRequest{ShippingAddress: r.ShippingAddress, CartItemIDs: r.CartItemIDs}
}

// SessionResponse — ответ create-session.
type SessionResponse struct {
	TransactionID string        `json:"transactionId"`
	Amount        domain.Amount `json:"amount"`
	Currency      string        `json:"currency"`
	PaymentURL    string        `json:"paymentUrl"`
	ExpiresAt     time.Time     `json:"expiresAt"`
}

// StatusResponse — состояние платёжной сессии.
type StatusResponse struct {
	TransactionID          string         `json:"transactionId"`
	Status                 string         `json:"status"`
	Amount                 domain.Amount  `json:"amount"`
	Currency               string         `json:"currency"`
	ExpiresAt              time.Time      `json:"expiresAt"`
	CompletedAt            *time.Time     `json:"completedAt,omitempty"`
	FailureReason          *string        `json:"failureReason,omitempty"`
	ReconciliationRequired bool           `json:"reconciliationRequired,omitempty"`
	Order                  *OrderResponse `json:"order,omitempty"`
}

// OrderResponse — заказ.
type OrderResponse struct {
	ID              string                 `json:"id"`
	TransactionID   *string                `json:"transactionId,omitempty"`
	Items           []domain.OrderItem     `json:"items"`
	TotalAmount     domain.Amount          `json:"totalAmount"`
	Currency        string                 `json:"currency"`
	PaymentMethod   string                 `json:"paymentMethod"`
	PaymentStatus   string                 `json:"paymentStatus"`
	DeliveryStatus  string                 `json:"deliveryStatus"`
	ShippingAddress domain.ShippingAddress `json:"shippingAddress"`
	CreatedAt       time.Time              `json:"createdAt"`
}

// CallbackResponse — подтверждение приёма callback.
type CallbackResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
}

func sessionResponse(s *service.SessionSummary) SessionResponse {
	return SessionResponse{
		TransactionID: s.TransactionID,
		Amount:        s.Amount,
		Currency:      s.Currency,
		PaymentURL:    s.PaymentURL,
		ExpiresAt:     s.ExpiresAt,
	}
}

func statusResponse(v *service.SessionView) StatusResponse {
	s := v.Session
	resp := StatusResponse{
		TransactionID:          s.TransactionID,
		Status:                 string(s.Status),
		Amount:                 s.Amount,
		Currency:               s.Currency,
		ExpiresAt:              s.ExpiresAt,
		CompletedAt:            s.CompletedAt,
		FailureReason:          s.FailureReason,
		ReconciliationRequired: s.AwaitingReconciliation(),
	}
	if v.Order != nil {
		o := orderResponse(v.Order)
		resp.Order = &o
	}
	return resp
}

func orderResponse(o *domain.Order) OrderResponse {
	return OrderResponse{
		ID:              o.ID,
		TransactionID:   o.TransactionID,
		Items:           o.Items,
		TotalAmount:     o.TotalAmount,
		Currency:        o.Currency,
		PaymentMethod:   string(o.PaymentMethod),
		PaymentStatus:   string(o.PaymentStatus),
		DeliveryStatus:  string(o.DeliveryStatus),
		ShippingAddress: o.ShippingAddress,
		CreatedAt:       o.CreatedAt,
	}
}
