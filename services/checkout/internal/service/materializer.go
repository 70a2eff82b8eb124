package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"example.com/storefront/pkg/logger"
	"example.com/storefront/pkg/metrics"
	"example.com/storefront/pkg/tracing"
	"example.com/storefront/services/checkout/internal/domain"
	"example.com/storefront/services/checkout/internal/repository"
)

// Materializer превращает оплаченную сессию в заказ. Не более одного
// заказа на сессию: маркер идемпотентности — order_id в сессии.
type Materializer struct {
	sessions repository.SessionRepository
	orders   repository.OrderRepository
	now      func() time.Time
	newID    func() string
}

// NewMaterializer создаёт материализатор.
func NewMaterializer(sessions repository.SessionRepository, orders repository.OrderRepository) *Materializer {
	return &Materializer{
		sessions: sessions,
		orders:   orders,
		now:      utcNow,
		newID:    uuid.NewString,
	}
}

// Materialize создаёт заказ по сессии или возвращает уже созданный.
// При сбое сессия остаётся SUCCESS без заказа, уходит в очередь сверки,
// а вызывающему возвращается *domain.ReconciliationError.
func (m *Materializer) Materialize(ctx context.Context, s *domain.PaymentSession) (*domain.Order, error) {
	ctx = logger.WithTransactionID(ctx, s.TransactionID)
	ctx, span := tracing.StartSpan(ctx, "checkout.materialize", s.TransactionID)
	defer span.End()

	log := logger.Ctx(ctx)

	if s.OrderID != nil {
		metrics.Materializations.WithLabelValues("already_done").Inc()
		return m.orders.GetByID(ctx, *s.OrderID)
	}
	if s.Status != domain.SessionStatusSuccess {
		return nil, fmt.Errorf("%s в статусе %s: %w", s.TransactionID, s.Status, domain.ErrSessionNotPaid)
	}

	order := domain.NewOrderFromSession(m.newID(), s, m.now())
	err := m.orders.Materialize(ctx, s, order)

	var rerr *domain.ReconciliationError
	switch {
	case err == nil:
		metrics.Materializations.WithLabelValues("created").Inc()
		log.Info().
			Str("order_id", order.ID).
			Str("amount", order.TotalAmount.String()).
			Int("items", len(order.Items)).
			Msg("Заказ создан")
		if s.MaterializationStatus == domain.MaterializationFailed {
			m.refreshGauge(ctx)
		}
		return order, nil

	case errors.Is(err, domain.ErrAlreadyMaterialized):
		// Параллельный материализатор успел первым.
		metrics.Materializations.WithLabelValues("already_done").Inc()
		cur, getErr := m.sessions.GetByTransactionID(ctx, s.TransactionID)
		if getErr != nil {
			return nil, &domain.ReconciliationError{TransactionID: s.TransactionID, Step: domain.StepSessionReload, Err: getErr}
		}
		if cur.OrderID == nil {
			return nil, fmt.Errorf("%s в статусе %s: %w", s.TransactionID, cur.Status, domain.ErrSessionNotPaid)
		}
		return m.orders.GetByID(ctx, *cur.OrderID)

	case errors.As(err, &rerr):
	default:
		rerr = &domain.ReconciliationError{TransactionID: s.TransactionID, Step: domain.StepCommit, Err: err}
	}

	m.fail(ctx, s, rerr)
	return nil, rerr
}

// fail фиксирует сбой материализации для ручной сверки. Автоматического
// повтора нет: деньги списаны, решение принимает оператор.
func (m *Materializer) fail(ctx context.Context, s *domain.PaymentSession, rerr *domain.ReconciliationError) {
	metrics.Materializations.WithLabelValues("failed").Inc()

	logger.Ctx(ctx).Error().
		Err(rerr.Err).
		Str("user_id", s.UserID).
		Str("amount", s.Amount.String()).
		Str("step", rerr.Step).
		Bool("reconciliation", true).
		Msg("Оплата прошла, но заказ не создан: требуется сверка")

	if err := m.sessions.MarkMaterializationFailed(ctx, s, rerr); err != nil && !errors.Is(err, domain.ErrAlreadyMaterialized) {
		logger.Ctx(ctx).Error().Err(err).Msg("Не удалось записать сессию в очередь сверки")
	}
	m.refreshGauge(ctx)
}

func (m *Materializer) refreshGauge(ctx context.Context) {
	n, err := m.sessions.CountAwaitingReconciliation(ctx)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("Не удалось посчитать очередь сверки")
		return
	}
	metrics.ReconciliationPending.Set(float64(n))
}
