package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"example.com/storefront/pkg/outbox"
	"example.com/storefront/services/checkout/internal/domain"
)

// SessionRepository — хранилище платёжных сессий.
type SessionRepository interface {
	// Create сохраняет новую PENDING сессию.
	Create(ctx context.Context, s *domain.PaymentSession) error

	// GetByTransactionID возвращает сессию или domain.ErrSessionNotFound.
	GetByTransactionID(ctx context.Context, transactionID string) (*domain.PaymentSession, error)

	// AttachGatewayResponse сохраняет ответ шлюза на инициацию.
	// Пишет только в PENDING сессию.
	AttachGatewayResponse(ctx context.Context, transactionID, gatewayTransactionID, paymentURL string) error

	// Transition — compare-and-set из PENDING в t.To вместе с событием outbox.
	// Если сессия уже не PENDING, возвращает domain.ErrTransitionLost.
	Transition(ctx context.Context, transactionID string, t domain.Transition) (*domain.PaymentSession, error)

	// ListExpiredPending возвращает transaction_id PENDING сессий с expires_at < now.
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]string, error)

	// ListStalled возвращает оплаченные сессии без заказа, материализация
	// которых не запускалась (процесс упал между переходом и заказом).
	ListStalled(ctx context.Context, completedBefore time.Time, limit int) ([]string, error)

	// MarkMaterializationFailed переводит оплаченную сессию в подсостояние
	// FAILED и ставит событие в очередь сверки.
	MarkMaterializationFailed(ctx context.Context, s *domain.PaymentSession, rerr *domain.ReconciliationError) error

	// ListAwaitingReconciliation — очередь ручной сверки, старые первыми.
	ListAwaitingReconciliation(ctx context.Context, limit int) ([]*domain.PaymentSession, error)

	// CountAwaitingReconciliation — размер очереди ручной сверки.
	CountAwaitingReconciliation(ctx context.Context) (int64, error)
}

type sessionRepository struct {
	db     *gorm.DB
	topics Topics
}

// NewSessionRepository создаёт репозиторий сессий.
func NewSessionRepository(db *gorm.DB, topics Topics) SessionRepository {
	return &sessionRepository{db: db, topics: topics}
}

func (r *sessionRepository) Create(ctx context.Context, s *domain.PaymentSession) error {
	model, err := sessionModelFromDomain(s)
	if err != nil {
		return fmt.Errorf("подготовка сессии: %w", err)
	}

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isDuplicateKeyError(err) {
			return domain.ErrDuplicateTransaction
		}
		return err
	}

	s.UpdatedAt = model.UpdatedAt
	return nil
}

func (r *sessionRepository) GetByTransactionID(ctx context.Context, transactionID string) (*domain.PaymentSession, error) {
	return findSession(r.db.WithContext(ctx), transactionID)
}

func findSession(db *gorm.DB, transactionID string) (*domain.PaymentSession, error) {
	var model SessionModel
	if err := db.Where("transaction_id = ?", transactionID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, err
	}
	return model.toDomain()
}

func (r *sessionRepository) AttachGatewayResponse(ctx context.Context, transactionID, gatewayTransactionID, paymentURL string) error {
	res := r.db.WithContext(ctx).
		Model(&SessionModel{}).
		Where("transaction_id = ? AND status = ?", transactionID, domain.SessionStatusPending).
		Updates(map[string]any{
			"gateway_transaction_id": gatewayTransactionID,
			"payment_url":            paymentURL,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrTransitionLost
	}
	return nil
}

func (r *sessionRepository) Transition(ctx context.Context, transactionID string, t domain.Transition) (*domain.PaymentSession, error) {
	if !domain.CanTransition(domain.SessionStatusPending, t.To) {
		return nil, fmt.Errorf("недопустимый переход PENDING -> %s", t.To)
	}

	updates := map[string]any{
		"status":     string(t.To),
		"updated_at": t.At,
	}
	switch t.To {
	case domain.SessionStatusSuccess:
		updates["completed_at"] = t.At
	case domain.SessionStatusFailed:
		updates["completed_at"] = t.At
		updates["failure_reason"] = t.FailureReason
	}
	// Для EXPIRED id тоже сохраняется: оплата после истечения требует возврата.
	if t.GatewayTransactionID != "" {
		updates["gateway_transaction_id"] = t.GatewayTransactionID
	}

	var result *domain.PaymentSession
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Guard по status = PENDING: из нескольких финализаторов строку
		// обновит только один, остальные получат RowsAffected = 0.
		res := tx.Model(&SessionModel{}).
			Where("transaction_id = ? AND status = ?", transactionID, domain.SessionStatusPending).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrTransitionLost
		}

		var model SessionModel
		if err := tx.Where("transaction_id = ?", transactionID).First(&model).Error; err != nil {
			return err
		}

		ev, err := transitionEvent(r.topics.Events, &model, t)
		if err != nil {
			return err
		}
		if err := outbox.Write(tx, ev); err != nil {
			return err
		}

		result, err = model.toDomain()
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *sessionRepository) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&SessionModel{}).
		Where("status = ? AND expires_at < ?", domain.SessionStatusPending, now).
		Order("expires_at ASC").
		Limit(limit).
		Pluck("transaction_id", &ids).Error
	return ids, err
}

func (r *sessionRepository) ListStalled(ctx context.Context, completedBefore time.Time, limit int) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&SessionModel{}).
		Where("status = ? AND order_id IS NULL AND materialization_status = ? AND completed_at < ?",
			domain.SessionStatusSuccess, domain.MaterializationNone, completedBefore).
		Order("completed_at ASC").
		Limit(limit).
		Pluck("transaction_id", &ids).Error
	return ids, err
}

func (r *sessionRepository) MarkMaterializationFailed(ctx context.Context, s *domain.PaymentSession, rerr *domain.ReconciliationError) error {
	now := time.Now().UTC()
	msg := rerr.Error()

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&SessionModel{}).
			Where("transaction_id = ? AND status = ? AND order_id IS NULL", s.TransactionID, domain.SessionStatusSuccess).
			Updates(map[string]any{
				"materialization_status": string(domain.MaterializationFailed),
				"materialization_error":  msg,
				"updated_at":             now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrAlreadyMaterialized
		}

		ev, err := outbox.NewEvent(s.TransactionID, EventReconciliation, r.topics.Reconciliation, ReconciliationEvent{
			TransactionID: s.TransactionID,
			UserID:        s.UserID,
			Amount:        s.Amount,
			Step:          rerr.Step,
			Error:         msg,
			At:            now,
		}, map[string]string{"step": rerr.Step})
		if err != nil {
			return err
		}
		return outbox.Write(tx, ev)
	})
}

func (r *sessionRepository) awaitingReconciliation(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Model(&SessionModel{}).
		Where("status = ? AND order_id IS NULL AND materialization_status = ?",
			domain.SessionStatusSuccess, domain.MaterializationFailed)
}

func (r *sessionRepository) ListAwaitingReconciliation(ctx context.Context, limit int) ([]*domain.PaymentSession, error) {
	var models []SessionModel
	if err := r.awaitingReconciliation(ctx).
		Order("completed_at ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}

	sessions := make([]*domain.PaymentSession, 0, len(models))
	for i := range models {
		s, err := models[i].toDomain()
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

func (r *sessionRepository) CountAwaitingReconciliation(ctx context.Context) (int64, error) {
	var n int64
	err := r.awaitingReconciliation(ctx).Count(&n).Error
	return n, err
}
