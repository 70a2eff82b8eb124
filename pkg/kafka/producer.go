package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/storefront/pkg/logger"
)

// Producer — синхронная отправка сообщений с обязательными заголовками.
type Producer struct {
	writer *kafka.Writer
}

// NewProducer создаёт writer для брокеров из cfg.
func NewProducer(cfg Config) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("не указаны брокеры Kafka")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{}, // события одной сессии в одну партицию
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}

	logger.Info().Strs("brokers", cfg.Brokers).Msg("Создан Kafka Producer")
	return &Producer{writer: writer}, nil
}

// SendMessage отправляет сообщение. trace_id, correlation_id и timestamp
// берутся из контекста, если в сообщении их нет.
func (p *Producer) SendMessage(ctx context.Context, msg *Message) error {
	if msg.Headers == nil {
		msg.Headers = make(map[string]string)
	}
	setDefault(msg.Headers, HeaderTraceID, logger.TraceIDFromContext(ctx))
	setDefault(msg.Headers, HeaderCorrelationID, logger.CorrelationIDFromContext(ctx))
	setDefault(msg.Headers, HeaderTimestamp, time.Now().UTC().Format(time.RFC3339Nano))

	if err := p.writer.WriteMessages(ctx, msg.toKafkaMessage()); err != nil {
		logger.Error().
			Err(err).
			Str("topic", msg.Topic).
			Str("key", string(msg.Key)).
			Msg("Ошибка отправки сообщения в Kafka")
		return fmt.Errorf("ошибка отправки в Kafka: %w", err)
	}

	logger.Debug().
		Str("topic", msg.Topic).
		Str("key", string(msg.Key)).
		Str("event_type", msg.Headers[HeaderEventType]).
		Msg("Сообщение отправлено в Kafka")
	return nil
}

func setDefault(headers map[string]string, key, value string) {
	if value == "" {
		return
	}
	if _, ok := headers[key]; !ok {
		headers[key] = value
	}
}

// Close дожидается отправки буфера и закрывает writer.
func (p *Producer) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("ошибка закрытия producer: %w", err)
	}
	logger.Info().Msg("Kafka Producer закрыт")
	return nil
}
