package repository

import (
	"time"

	"example.com/storefront/pkg/outbox"
	"example.com/storefront/services/checkout/internal/domain"
)

// Типы доменных событий checkout.
const (
	EventSessionSucceeded  = "payment_session.succeeded"
	EventSessionFailed     = "payment_session.failed"
	EventSessionExpired    = "payment_session.expired"
	EventOrderMaterialized = "order.materialized"
	EventReconciliation    = "payment_session.reconciliation_required"
)

// Topics — куда outbox публикует события.
type Topics struct {
	Events         string
	Reconciliation string
}

// SessionEvent — payload событий payment_session.*.
type SessionEvent struct {
	TransactionID        string        `json:"transaction_id"`
	UserID               string        `json:"user_id"`
	Status               string        `json:"status"`
	Amount               domain.Amount `json:"amount"`
	Currency             string        `json:"currency"`
	Source               string        `json:"source"`
	GatewayTransactionID string        `json:"gateway_transaction_id,omitempty"`
	FailureReason        string        `json:"failure_reason,omitempty"`
	At                   time.Time     `json:"at"`
}

// OrderEvent — payload order.materialized.
type OrderEvent struct {
	OrderID       string             `json:"order_id"`
	TransactionID string             `json:"transaction_id,omitempty"`
	UserID        string             `json:"user_id"`
	TotalAmount   domain.Amount      `json:"total_amount"`
	Currency      string             `json:"currency"`
	PaymentMethod string             `json:"payment_method"`
	Items         []domain.OrderItem `json:"items"`
	At            time.Time          `json:"at"`
}

// ReconciliationEvent — payload для очереди ручной сверки.
type ReconciliationEvent struct {
	TransactionID string        `json:"transaction_id"`
	UserID        string        `json:"user_id"`
	Amount        domain.Amount `json:"amount"`
	Step          string        `json:"step"`
	Error         string        `json:"error"`
	At            time.Time     `json:"at"`
}

func sessionEventType(to domain.SessionStatus) string {
	switch to {
	case domain.SessionStatusSuccess:
		return EventSessionSucceeded
	case domain.SessionStatusFailed:
		return EventSessionFailed
	default:
		return EventSessionExpired
	}
}

func transitionEvent(topic string, s *SessionModel, t domain.Transition) (*outbox.Outbox, error) {
	return outbox.NewEvent(s.TransactionID, sessionEventType(t.To), topic, SessionEvent{
		TransactionID:        s.TransactionID,
		UserID:               s.UserID,
		Status:               string(t.To),
		Amount:               domain.Amount(s.Amount),
		Currency:             s.Currency,
		Source:               t.Source,
		GatewayTransactionID: t.GatewayTransactionID,
		FailureReason:        t.FailureReason,
		At:                   t.At,
	}, map[string]string{"source": t.Source})
}

// orderEvent строит событие заказа. Ключ — transaction_id для онлайн оплаты,
// чтобы событие шло в одну партицию с событиями сессии, и id заказа для COD.
func orderEvent(topic string, o *domain.Order) (*outbox.Outbox, error) {
	key := o.ID
	txn := ""
	if o.TransactionID != nil {
		key = *o.TransactionID
		txn = *o.TransactionID
	}
	return outbox.NewEvent(key, EventOrderMaterialized, topic, OrderEvent{
		OrderID:       o.ID,
		TransactionID: txn,
		UserID:        o.UserID,
		TotalAmount:   o.TotalAmount,
		Currency:      o.Currency,
		PaymentMethod: string(o.PaymentMethod),
		Items:         o.Items,
		At:            o.CreatedAt,
	}, map[string]string{"order_id": o.ID})
}
