package domain

import (
	"errors"
	"fmt"
)

// Доменные ошибки checkout.
var (
	// ErrSessionNotFound — сессии нет или она принадлежит другому пользователю.
	ErrSessionNotFound = errors.New("платёжная сессия не найдена")

	// ErrCartItemsNotFound — часть позиций корзины не найдена у пользователя.
	ErrCartItemsNotFound = errors.New("позиции корзины не найдены")

	// ErrOrderNotFound — заказ не найден.
	ErrOrderNotFound = errors.New("заказ не найден")

	// ErrProductUnavailable — товар снят с продажи.
	ErrProductUnavailable = errors.New("товар недоступен для заказа")

	// ErrAuthentication — контрольная сумма callback не совпала.
	ErrAuthentication = errors.New("не удалось проверить подпись платёжного шлюза")

	// ErrCallbackDecode — callback подписан верно, но содержимое не разбирается.
	ErrCallbackDecode = errors.New("некорректное содержимое callback")

	// ErrTransitionLost — другой финализатор уже вывел сессию из PENDING.
	ErrTransitionLost = errors.New("сессия уже финализирована")

	// ErrAlreadyMaterialized — заказ по сессии уже создан.
	ErrAlreadyMaterialized = errors.New("заказ по сессии уже создан")

	// ErrDuplicateTransaction — transaction_id уже существует.
	ErrDuplicateTransaction = errors.New("transaction_id уже существует")

	// ErrSessionNotPaid — заказ можно создать только по оплаченной сессии.
	ErrSessionNotPaid = errors.New("сессия не оплачена")
)

// IsNotFound объединяет все ошибки «не найдено» (HTTP 404).
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrCartItemsNotFound) ||
		errors.Is(err, ErrOrderNotFound)
}

// ValidationError — некорректный ввод клиента.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// InsufficientStockError — на складе меньше, чем просили.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("недостаточно товара %s: запрошено %d, доступно %d", e.ProductID, e.Requested, e.Available)
}

// TransportError — шлюз недоступен (таймаут, DNS, TLS, открытый breaker).
// Состояние сессии при такой ошибке не меняется, операцию можно повторить.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("шлюз недоступен (%s): %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport проверяет, что ошибка транспортная.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// InitiationError — шлюз отказал в инициации оплаты. Сессия уже FAILED,
// деньги не списывались.
type InitiationError struct {
	TransactionID string
	Code          string
	Message       string
}

func (e *InitiationError) Error() string {
	return fmt.Sprintf("шлюз отклонил оплату %s: %s", e.TransactionID, e.Message)
}

// Шаги материализации, на которых может случиться сбой.
const (
	StepCartRefetch   = "cart_refetch"
	StepStockRecheck  = "stock_recheck"
	StepCommit        = "commit"
	StepSessionReload = "session_reload"
)

// ReconciliationError — деньги списаны, но заказ создать не удалось.
// Автоматически не исправляется, сессия уходит в очередь ручной сверки.
type ReconciliationError struct {
	TransactionID string
	Step          string
	Err           error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("требуется сверка %s (шаг %s): %v", e.TransactionID, e.Step, e.Err)
}

func (e *ReconciliationError) Unwrap() error { return e.Err }
