package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ErrOutboxNotFound — запись outbox не найдена.
var ErrOutboxNotFound = errors.New("запись outbox не найдена")

// Repository — доступ Worker-а к таблице outbox.
type Repository interface {
	GetUnprocessed(ctx context.Context, limit int) ([]*Outbox, error)
	MarkProcessed(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, err error) error
	DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
}

// Write сохраняет события в рамках транзакции tx.
// Вызывается из репозиториев checkout внутри db.Transaction.
func Write(tx *gorm.DB, records ...*Outbox) error {
	for _, rec := range records {
		model, err := modelFromDomain(rec)
		if err != nil {
			return fmt.Errorf("outbox %s: %w", rec.EventType, err)
		}
		if err := tx.Create(model).Error; err != nil {
			return fmt.Errorf("запись outbox %s: %w", rec.EventType, err)
		}
	}
	return nil
}

type repository struct {
	db            *gorm.DB
	aggregateType string
}

// NewRepository создаёт репозиторий, работающий только с записями aggregateType.
func NewRepository(db *gorm.DB, aggregateType string) Repository {
	return &repository{db: db, aggregateType: aggregateType}
}

// GetUnprocessed возвращает неотправленные записи; записи с большим
// retry_count уходят в конец очереди.
func (r *repository) GetUnprocessed(ctx context.Context, limit int) ([]*Outbox, error) {
	var models []Model
	if err := r.db.WithContext(ctx).
		Where("processed_at IS NULL AND aggregate_type = ?", r.aggregateType).
		Order("retry_count ASC, created_at ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}

	result := make([]*Outbox, len(models))
	for i := range models {
		result[i] = models[i].toDomain()
	}
	return result, nil
}

func (r *repository) MarkProcessed(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Model(&Model{}).
		Where("id = ?", id).
		Update("processed_at", time.Now().UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrOutboxNotFound
	}
	return nil
}

func (r *repository) MarkFailed(ctx context.Context, id string, err error) error {
	res := r.db.WithContext(ctx).Model(&Model{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"retry_count": gorm.Expr("retry_count + 1"),
			"last_error":  err.Error(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrOutboxNotFound
	}
	return nil
}

// DeleteProcessedBefore удаляет до 1000 отправленных записей старше before.
func (r *repository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("processed_at IS NOT NULL AND processed_at < ? AND aggregate_type = ?", before, r.aggregateType).
		Limit(1000).
		Delete(&Model{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
