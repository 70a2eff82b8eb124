package service

import (
	"context"
	"fmt"

	"example.com/storefront/pkg/logger"
	"example.com/storefront/services/checkout/internal/domain"
	"example.com/storefront/services/checkout/internal/repository"
)

// Reconciler — инструменты оператора для оплаченных сессий без заказа.
type Reconciler struct {
	sessions     repository.SessionRepository
	materializer *Materializer
}

// NewReconciler создаёт Reconciler.
func NewReconciler(sessions repository.SessionRepository, materializer *Materializer) *Reconciler {
	return &Reconciler{sessions: sessions, materializer: materializer}
}

// List возвращает очередь сверки, старые сессии первыми.
func (r *Reconciler) List(ctx context.Context, limit int) ([]*domain.PaymentSession, error) {
	return r.sessions.ListAwaitingReconciliation(ctx, limit)
}

// Retry повторяет материализацию после того, как оператор устранил причину
// (вернул товар в продажу, пополнил склад). Для сессии с заказом возвращает
// существующий заказ.
func (r *Reconciler) Retry(ctx context.Context, transactionID string) (*domain.Order, error) {
	ctx = logger.WithTransactionID(ctx, transactionID)

	s, err := r.sessions.GetByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if s.Status != domain.SessionStatusSuccess {
		return nil, fmt.Errorf("%s в статусе %s: %w", transactionID, s.Status, domain.ErrSessionNotPaid)
	}

	logger.Ctx(ctx).Info().
		Str("materialization_status", string(s.MaterializationStatus)).
		Msg("Ручной повтор материализации")
	return r.materializer.Materialize(ctx, s)
}

// RefreshGauge пересчитывает метрику очереди сверки.
func (r *Reconciler) RefreshGauge(ctx context.Context) {
	r.materializer.refreshGauge(ctx)
}
