// Package kafka — обёртки над kafka-go для доменных событий checkout.
// Сообщения попадают сюда только из outbox, поэтому доставка at-least-once
// и потребители обязаны дедуплицировать по ключу.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/storefront/pkg/logger"
)

// Заголовки сообщений.
const (
	HeaderTraceID       = "trace_id"
	HeaderCorrelationID = "correlation_id"
	HeaderTimestamp     = "timestamp"
	HeaderEventType     = "event_type"
)

// Config — подключение к брокерам.
type Config struct {
	Brokers []string
}

// Message — сообщение с заголовками в виде map.
type Message struct {
	Key       []byte
	Value     []byte
	Topic     string
	Partition int
	Offset    int64
	Headers   map[string]string
	Time      time.Time
}

func fromKafkaMessage(m kafka.Message) *Message {
	headers := make(map[string]string, len(m.Headers))
	for _, h := range m.Headers {
		headers[h.Key] = string(h.Value)
	}
	return &Message{
		Key:       m.Key,
		Value:     m.Value,
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Headers:   headers,
		Time:      m.Time,
	}
}

func (m *Message) toKafkaMessage() kafka.Message {
	headers := make([]kafka.Header, 0, len(m.Headers))
	for k, v := range m.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return kafka.Message{
		Key:     m.Key,
		Value:   m.Value,
		Topic:   m.Topic,
		Headers: headers,
		Time:    m.Time,
	}
}

// ContextFromMessage переносит trace_id и correlation_id из заголовков в контекст.
func ContextFromMessage(ctx context.Context, msg *Message) context.Context {
	return logger.NewContextWithIDs(ctx, msg.Headers[HeaderTraceID], msg.Headers[HeaderCorrelationID])
}

// TopicSpec — топик для создания при старте.
type TopicSpec struct {
	Name              string
	Partitions        int
	ReplicationFactor int
}

// CheckoutTopics возвращает топики событий и очереди сверки.
func CheckoutTopics(eventsTopic, reconciliationTopic string) []TopicSpec {
	return []TopicSpec{
		{Name: eventsTopic, Partitions: 3, ReplicationFactor: 1},
		// Одна партиция: оператор разбирает очередь сверки по порядку.
		{Name: reconciliationTopic, Partitions: 1, ReplicationFactor: 1},
	}
}

// EnsureTopics создаёт недостающие топики через контроллер кластера.
// Уже существующие топики не считаются ошибкой.
func EnsureTopics(brokers []string, topics []TopicSpec) error {
	if len(brokers) == 0 {
		return errors.New("не указаны брокеры Kafka")
	}

	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return fmt.Errorf("подключение к Kafka %s: %w", brokers[0], err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("получение контроллера Kafka: %w", err)
	}

	ctrlConn, err := kafka.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("подключение к контроллеру Kafka: %w", err)
	}
	defer ctrlConn.Close()

	configs := make([]kafka.TopicConfig, 0, len(topics))
	for _, t := range topics {
		configs = append(configs, kafka.TopicConfig{
			Topic:             t.Name,
			NumPartitions:     t.Partitions,
			ReplicationFactor: t.ReplicationFactor,
		})
	}

	if err := ctrlConn.CreateTopics(configs...); err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return fmt.Errorf("создание топиков: %w", err)
	}

	for _, t := range topics {
		logger.Info().Str("topic", t.Name).Int("partitions", t.Partitions).Msg("Топик Kafka готов")
	}
	return nil
}
