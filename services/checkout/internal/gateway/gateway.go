// Package gateway — адаптер платёжного шлюза: протокол контрольных сумм,
// инициация оплаты, запрос статуса и разбор callback.
//
// Две реализации одного контракта Gateway:
//   - Client: настоящий шлюз по HTTP (pay page протокол с X-VERIFY);
//   - MockGateway: эмуляция с состоянием в Redis для dev и тестов.
package gateway

import (
	"context"

	"example.com/storefront/services/checkout/internal/domain"
)

// Gateway — контракт платёжного шлюза.
type Gateway interface {
	// GenerateTransactionID выдаёт уникальный id вида TXN<ms><user><random>.
	GenerateTransactionID(userID string) string

	// Initiate регистрирует оплату. Отказ шлюза возвращается как
	// InitiateResult{Success: false}, ошибкой бывает только *domain.TransportError.
	Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error)

	// CheckStatus запрашивает у шлюза состояние оплаты.
	CheckStatus(ctx context.Context, transactionID string) (*StatusResult, error)

	// VerifyCallback сверяет подпись ровно тех байт, что пришли в callback.
	VerifyCallback(rawPayload, digest string) bool

	// DecodeCallback разбирает уже проверенный payload.
	// Ошибка оборачивает domain.ErrCallbackDecode.
	DecodeCallback(rawPayload string) (*CallbackRecord, error)
}

// State — итоговое состояние оплаты по версии шлюза.
type State string

const (
	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
	StatePending   State = "PENDING"
)

// Коды ответов шлюза.
const (
	CodePaymentInitiated = "PAYMENT_INITIATED"
	CodePaymentSuccess   = "PAYMENT_SUCCESS"
	CodePaymentPending   = "PAYMENT_PENDING"
	CodePaymentError     = "PAYMENT_ERROR"
	CodePaymentDeclined  = "PAYMENT_DECLINED"
	CodeTimedOut         = "TIMED_OUT"
	CodeNotFound         = "TRANSACTION_NOT_FOUND"
)

// ResolveState сводит пару (code, state) шлюза к одному из трёх исходов.
// Всё, что нельзя однозначно признать успехом или отказом, остаётся PENDING.
func ResolveState(code, state string) State {
	switch {
	case state == string(StateCompleted) && (code == "" || code == CodePaymentSuccess):
		return StateCompleted
	case state == string(StateFailed),
		code == CodePaymentError,
		code == CodePaymentDeclined,
		code == CodeTimedOut:
		return StateFailed
	default:
		return StatePending
	}
}

// InitiateRequest — параметры инициации оплаты.
type InitiateRequest struct {
	TransactionID string
	Amount        domain.Amount
	UserID        string
	ContactNumber string // необязателен
}

// InitiateResult — ответ шлюза на инициацию.
type InitiateResult struct {
	Success              bool
	PaymentURL           string
	GatewayTransactionID string
	Code                 string
	Error                string
}

// StatusResult — ответ шлюза на запрос статуса.
type StatusResult struct {
	Success              bool // шлюз ответил и знает транзакцию
	State                State
	Code                 string
	Amount               domain.Amount
	Method               string
	GatewayTransactionID string
}

// CallbackRecord — разобранный callback.
type CallbackRecord struct {
	TransactionID        string
	GatewayTransactionID string
	State                State
	Code                 string
	Amount               domain.Amount
	Method               string
}
