package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/storefront/pkg/logger"
)

// MessageHandler обрабатывает одно сообщение.
type MessageHandler func(ctx context.Context, msg *Message) error

// Consumer читает топик в составе consumer group.
// Offset коммитится только после успешной обработки: при ошибке обработчика
// Consume возвращает её, и сообщение будет прочитано повторно.
type Consumer struct {
	reader *kafka.Reader
	topic  string
}

// NewConsumer создаёт reader. startFromOldest=true читает топик с начала
// (для новой group), иначе только новые сообщения.
func NewConsumer(cfg Config, topic, groupID string, startFromOldest bool) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("не указаны брокеры Kafka")
	}
	if topic == "" || groupID == "" {
		return nil, fmt.Errorf("не указан топик или group ID")
	}

	startOffset := kafka.LastOffset
	if startFromOldest {
		startOffset = kafka.FirstOffset
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     groupID,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
		StartOffset: startOffset,
	})

	return &Consumer{reader: reader, topic: topic}, nil
}

// Consume блокирует до отмены ctx или ошибки обработчика.
func (c *Consumer) Consume(ctx context.Context, handler MessageHandler) error {
	for {
		km, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("чтение из %s: %w", c.topic, err)
		}

		msg := fromKafkaMessage(km)
		if err := handler(ContextFromMessage(ctx, msg), msg); err != nil {
			return fmt.Errorf("обработка сообщения %s/%d: %w", c.topic, km.Offset, err)
		}

		if err := c.reader.CommitMessages(ctx, km); err != nil {
			logger.Error().Err(err).Str("topic", c.topic).Int64("offset", km.Offset).Msg("Ошибка коммита offset")
		}
	}
}

// Close закрывает reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
