package outbox

import (
	"context"
	"time"

	"example.com/storefront/pkg/kafka"
	"example.com/storefront/pkg/logger"
)

// Producer — отправка в Kafka (в тестах подменяется моком).
type Producer interface {
	SendMessage(ctx context.Context, msg *kafka.Message) error
}

// WorkerConfig — параметры доставки.
type WorkerConfig struct {
	PollInterval    time.Duration
	BatchSize       int
	MaxRetries      int // после стольких неудач запись выводится из очереди
	CleanupInterval time.Duration
	Retention       time.Duration
}

// DefaultWorkerConfig — значения по умолчанию.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		PollInterval:    time.Second,
		BatchSize:       100,
		MaxRetries:      5,
		CleanupInterval: time.Hour,
		Retention:       7 * 24 * time.Hour,
	}
}

// Worker доставляет записи outbox в Kafka (at-least-once).
type Worker struct {
	repo     Repository
	producer Producer
	cfg      WorkerConfig
}

// NewWorker создаёт Worker.
func NewWorker(repo Repository, producer Producer, cfg WorkerConfig) *Worker {
	return &Worker{repo: repo, producer: producer, cfg: cfg}
}

// Run опрашивает outbox до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	log := logger.FromContext(ctx)
	log.Info().
		Dur("poll_interval", w.cfg.PollInterval).
		Int("batch_size", w.cfg.BatchSize).
		Msg("Запуск Outbox Worker")

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	cleanup := time.NewTicker(w.cfg.CleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Остановка Outbox Worker")
			return
		case <-ticker.C:
			w.processBatch(ctx)
		case <-cleanup.C:
			w.cleanupProcessed(ctx)
		}
	}
}

func (w *Worker) cleanupProcessed(ctx context.Context) {
	deleted, err := w.repo.DeleteProcessedBefore(ctx, time.Now().UTC().Add(-w.cfg.Retention))
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("Ошибка очистки outbox")
		return
	}
	if deleted > 0 {
		logger.Ctx(ctx).Info().Int64("deleted", deleted).Msg("Удалены отправленные записи outbox")
	}
}

func (w *Worker) processBatch(ctx context.Context) {
	log := logger.FromContext(ctx)

	records, err := w.repo.GetUnprocessed(ctx, w.cfg.BatchSize)
	if err != nil {
		log.Error().Err(err).Msg("Ошибка чтения outbox")
		return
	}

	for _, rec := range records {
		if ctx.Err() != nil {
			return
		}

		if rec.RetryCount >= w.cfg.MaxRetries {
			// Событие сверки терять нельзя, поэтому уровень error: оператор
			// должен увидеть запись в логах и переотправить её вручную.
			log.Error().
				Str("outbox_id", rec.ID).
				Str("event_type", rec.EventType).
				Str("aggregate_id", rec.AggregateID).
				Int("retry_count", rec.RetryCount).
				Msg("Dead letter: событие выведено из очереди outbox")

			if err := w.repo.MarkProcessed(ctx, rec.ID); err != nil {
				log.Error().Err(err).Str("outbox_id", rec.ID).Msg("Ошибка пометки dead letter")
			}
			continue
		}

		if err := w.ProcessSingle(ctx, rec); err != nil {
			log.Error().Err(err).Str("outbox_id", rec.ID).Str("topic", rec.Topic).Msg("Ошибка доставки события")
		}
	}
}

// ProcessSingle отправляет одну запись и отмечает результат.
func (w *Worker) ProcessSingle(ctx context.Context, rec *Outbox) error {
	msgCtx := logger.NewContextWithIDs(ctx, rec.Headers[kafka.HeaderTraceID], rec.AggregateID)

	msg := &kafka.Message{
		Topic:   rec.Topic,
		Key:     []byte(rec.MessageKey),
		Value:   rec.Payload,
		Headers: rec.Headers,
	}

	if err := w.producer.SendMessage(msgCtx, msg); err != nil {
		if markErr := w.repo.MarkFailed(ctx, rec.ID, err); markErr != nil {
			logger.Ctx(ctx).Error().Err(markErr).Str("outbox_id", rec.ID).Msg("Ошибка пометки outbox как failed")
		}
		return err
	}

	return w.repo.MarkProcessed(ctx, rec.ID)
}
