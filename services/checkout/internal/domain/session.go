// Package domain содержит бизнес-сущности checkout: платёжную сессию,
// заказ, снимок корзины и таксономию ошибок.
package domain

import (
	"slices"
	"time"
)

// SessionStatus — статус платёжной сессии.
type SessionStatus string

const (
	// SessionStatusPending — ждём результата от шлюза.
	SessionStatusPending SessionStatus = "PENDING"

	// SessionStatusSuccess — шлюз подтвердил оплату, деньги списаны.
	SessionStatusSuccess SessionStatus = "SUCCESS"

	// SessionStatusFailed — шлюз отклонил оплату или инициация не удалась.
	SessionStatusFailed SessionStatus = "FAILED"

	// SessionStatusExpired — оплата не подтверждена до expires_at.
	SessionStatusExpired SessionStatus = "EXPIRED"
)

// IsTerminal возвращает true для любого статуса, кроме PENDING.
func (s SessionStatus) IsTerminal() bool {
	return s != SessionStatusPending
}

// =============================================================================
// State Machine
// =============================================================================

// Из PENDING можно выйти ровно один раз. Все три финализатора (callback,
// опрос статуса, reaper) конкурируют за этот переход, и в хранилище он
// выполняется как compare-and-set по status = PENDING.
var allowedTransitions = map[SessionStatus][]SessionStatus{
	SessionStatusPending: {SessionStatusSuccess, SessionStatusFailed, SessionStatusExpired},
}

// CanTransition проверяет допустимость перехода from -> to.
func CanTransition(from, to SessionStatus) bool {
	return slices.Contains(allowedTransitions[from], to)
}

// MaterializationStatus — подсостояние оплаченной сессии.
type MaterializationStatus string

const (
	MaterializationNone   MaterializationStatus = "NONE"   // заказ ещё не создавался
	MaterializationDone   MaterializationStatus = "DONE"   // заказ создан, order_id заполнен
	MaterializationFailed MaterializationStatus = "FAILED" // требуется ручная сверка
)

// Источники финализации сессии (для логов и метрик).
const (
	SourceInitiate = "initiate"
	SourceCallback = "callback"
	SourcePoll     = "poll"
	SourceReaper   = "reaper"
)

// SessionItem — позиция корзины, замороженная при создании сессии.
// Price — цена на момент создания сессии, именно она попадёт в заказ.
type SessionItem struct {
	CartItemID string `json:"cart_item_id"`
	ProductID  string `json:"product_id"`
	Quantity   int    `json:"quantity"`
	Price      Amount `json:"price"`
}

// PaymentSession — попытка оплаты. Никогда не удаляется: это журнал платежа.
type PaymentSession struct {
	ID                    string
	TransactionID         string
	UserID                string
	Amount                Amount
	Currency              string
	Items                 []SessionItem
	ShippingAddress       ShippingAddress
	Status                SessionStatus
	GatewayTransactionID  *string
	PaymentURL            *string
	OrderID               *string
	FailureReason         *string
	MaterializationStatus MaterializationStatus
	MaterializationError  *string
	CreatedAt             time.Time
	ExpiresAt             time.Time
	CompletedAt           *time.Time
	UpdatedAt             time.Time
}

// CartItemIDs возвращает id позиций корзины в порядке снимка.
func (s *PaymentSession) CartItemIDs() []string {
	ids := make([]string, len(s.Items))
	for i, it := range s.Items {
		ids[i] = it.CartItemID
	}
	return ids
}

// OwnedBy проверяет владельца сессии.
func (s *PaymentSession) OwnedBy(userID string) bool {
	return s.UserID == userID
}

// IsExpired — истёк ли срок ожидания оплаты на момент now.
func (s *PaymentSession) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// NeedsMaterialization — оплачена, но заказ ещё не создан.
func (s *PaymentSession) NeedsMaterialization() bool {
	return s.Status == SessionStatusSuccess && s.OrderID == nil
}

// AwaitingReconciliation — оплачена, а материализация упала.
func (s *PaymentSession) AwaitingReconciliation() bool {
	return s.NeedsMaterialization() && s.MaterializationStatus == MaterializationFailed
}

// Transition — guarded-переход из PENDING.
type Transition struct {
	To                   SessionStatus
	Source               string
	At                   time.Time
	GatewayTransactionID string // id платежа у шлюза, если шлюз его сообщил
	FailureReason        string // заполняется при FAILED
}
