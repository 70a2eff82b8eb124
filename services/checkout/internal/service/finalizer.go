package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"example.com/storefront/pkg/logger"
	"example.com/storefront/pkg/metrics"
	"example.com/storefront/services/checkout/internal/domain"
	"example.com/storefront/services/checkout/internal/gateway"
	"example.com/storefront/services/checkout/internal/repository"
)

// Outcome — исход оплаты, который нужно применить к сессии.
type Outcome struct {
	To                   domain.SessionStatus
	Source               string
	GatewayTransactionID string
	FailureReason        string
}

// Finalizer — общий для callback, опроса и reaper путь выхода из PENDING.
type Finalizer struct {
	sessions     repository.SessionRepository
	materializer *Materializer
	now          func() time.Time
}

// NewFinalizer создаёт финализатор.
func NewFinalizer(sessions repository.SessionRepository, materializer *Materializer) *Finalizer {
	return &Finalizer{sessions: sessions, materializer: materializer, now: utcNow}
}

// Finalize выполняет guarded-переход. applied=false означает, что сессию уже
// финализировал другой участник: побочные эффекты не повторяются, возвращается
// текущее состояние. Выигравший переход в SUCCESS синхронно создаёт заказ;
// ошибка материализации возвращается вместе с оплаченной сессией.
func (f *Finalizer) Finalize(ctx context.Context, transactionID string, o Outcome) (*domain.PaymentSession, bool, error) {
	ctx = logger.WithTransactionID(ctx, transactionID)
	log := logger.Ctx(ctx).With().Str("source", o.Source).Logger()

	s, err := f.sessions.Transition(ctx, transactionID, domain.Transition{
		To:                   o.To,
		Source:               o.Source,
		At:                   f.now(),
		GatewayTransactionID: o.GatewayTransactionID,
		FailureReason:        o.FailureReason,
	})
	if errors.Is(err, domain.ErrTransitionLost) {
		cur, getErr := f.sessions.GetByTransactionID(ctx, transactionID)
		if getErr != nil {
			return nil, false, getErr
		}
		log.Info().
			Str("wanted", string(o.To)).
			Str("status", string(cur.Status)).
			Msg("Сессия уже финализирована, повтор игнорируется")
		return cur, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("переход %s -> %s: %w", transactionID, o.To, err)
	}

	metrics.RecordTransition(string(o.To), o.Source)
	log.Info().Str("status", string(s.Status)).Msg("Сессия финализирована")

	if s.Status != domain.SessionStatusSuccess {
		return s, true, nil
	}

	order, err := f.materializer.Materialize(ctx, s)
	if err != nil {
		var rerr *domain.ReconciliationError
		if errors.As(err, &rerr) {
			s.MaterializationStatus = domain.MaterializationFailed
		}
		return s, true, err
	}

	s.OrderID = &order.ID
	s.MaterializationStatus = domain.MaterializationDone
	return s, true, nil
}

// resolveOutcome сопоставляет ответ шлюза с переходом сессии.
// expires_at обязателен для всех финализаторов: после него сессия может
// только истечь, даже если шлюз сообщил об оплате. ok=false — оплата ещё
// в процессе, сессию не трогаем.
func resolveOutcome(s *domain.PaymentSession, state gateway.State, now time.Time) (domain.SessionStatus, bool) {
	if s.IsExpired(now) {
		return domain.SessionStatusExpired, true
	}
	switch state {
	case gateway.StateCompleted:
		return domain.SessionStatusSuccess, true
	case gateway.StateFailed:
		return domain.SessionStatusFailed, true
	default:
		return "", false
	}
}

// paidAmountMismatch — шлюз подтвердил оплату на сумму, отличную от
// замороженной в сессии. Такой ответ не финализирует сессию ни в одном пути.
func paidAmountMismatch(s *domain.PaymentSession, state gateway.State, paid domain.Amount) bool {
	return state == gateway.StateCompleted && paid != s.Amount
}

// securityEvent — ответ шлюза, которому нельзя верить: не сошлась подпись или сумма.
func securityEvent(ctx context.Context, source, reason string) {
	logger.Ctx(ctx).Warn().
		Str("source", source).
		Bool("security_event", true).
		Msg("Ответ шлюза отклонён: " + reason)
}

// warnLatePayment пишет событие для возврата средств: шлюз списал деньги
// после истечения сессии.
func warnLatePayment(ctx context.Context, s *domain.PaymentSession, source, gatewayTxnID string) {
	logger.Ctx(ctx).Warn().
		Str("gateway_transaction_id", gatewayTxnID).
		Str("source", source).
		Str("amount", s.Amount.String()).
		Time("expires_at", s.ExpiresAt).
		Bool("late_payment", true).
		Msg("Оплата подтверждена после истечения сессии: требуется возврат")
}
