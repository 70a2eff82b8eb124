// Package outbox — transactional outbox для доменных событий checkout.
// Событие пишется в таблицу outbox той же транзакцией, что и изменение
// платёжной сессии или заказа; Worker доставляет его в Kafka.
package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AggregateCheckout — тип агрегата для всех событий checkout
// (сессии и заказы, включая COD).
const AggregateCheckout = "checkout"

// Outbox — одно неотправленное (или отправленное) событие.
type Outbox struct {
	ID            string
	AggregateType string
	AggregateID   string // transaction_id сессии или id COD заказа
	EventType     string // payment_session.succeeded, order.materialized, ...
	Topic         string
	MessageKey    string
	Payload       []byte
	Headers       map[string]string
	CreatedAt     time.Time
	ProcessedAt   *time.Time
	RetryCount    int
	LastError     *string
}

// NewEvent собирает запись outbox для агрегата key.
// Ключ сообщения совпадает с key: все события одной сессии
// попадают в одну партицию и читаются по порядку.
func NewEvent(key, eventType, topic string, payload any, headers map[string]string) (*Outbox, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("сериализация события %s: %w", eventType, err)
	}

	h := make(map[string]string, len(headers)+1)
	for k, v := range headers {
		h[k] = v
	}
	h["event_type"] = eventType

	return &Outbox{
		ID:            uuid.NewString(),
		AggregateType: AggregateCheckout,
		AggregateID:   key,
		EventType:     eventType,
		Topic:         topic,
		MessageKey:    key,
		Payload:       data,
		Headers:       h,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// HeadersJSON сериализует заголовки для колонки headers.
func (o *Outbox) HeadersJSON() ([]byte, error) {
	if o.Headers == nil {
		return nil, nil
	}
	return json.Marshal(o.Headers)
}

// SetHeadersFromJSON восстанавливает заголовки из колонки headers.
func (o *Outbox) SetHeadersFromJSON(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, &o.Headers)
}
