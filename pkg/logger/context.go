package logger

import (
	"context"

	"github.com/rs/zerolog"
)

type ctxKey string

const (
	traceIDKey       ctxKey = "trace_id"       // сквозной id HTTP запроса
	correlationIDKey ctxKey = "correlation_id" // связывает запросы одной бизнес-операции
	transactionIDKey ctxKey = "transaction_id" // id платёжной сессии
	loggerKey        ctxKey = "logger"
)

// WithTraceID кладёт trace_id в контекст.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceIDFromContext возвращает trace_id или пустую строку.
func TraceIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(traceIDKey).(string)
	return v
}

// WithCorrelationID кладёт correlation_id в контекст.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey, correlationID)
}

// CorrelationIDFromContext возвращает correlation_id или пустую строку.
func CorrelationIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(correlationIDKey).(string)
	return v
}

// WithTransactionID помечает контекст id платёжной сессии.
// Все записи лога по этой сессии (callback, опрос, reaper) получают одно поле
// transaction_id, по которому оператор восстанавливает историю платежа.
func WithTransactionID(ctx context.Context, transactionID string) context.Context {
	return context.WithValue(ctx, transactionIDKey, transactionID)
}

// TransactionIDFromContext возвращает transaction_id или пустую строку.
func TransactionIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(transactionIDKey).(string)
	return v
}

// WithLogger сохраняет настроенный логгер в контексте.
func WithLogger(ctx context.Context, l zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext возвращает логгер из контекста (или глобальный) с полями
// trace_id, correlation_id и transaction_id, если они заданы.
func FromContext(ctx context.Context) zerolog.Logger {
	l, ok := ctx.Value(loggerKey).(zerolog.Logger)
	if !ok {
		l = log
	}

	lc := l.With()
	if v := TraceIDFromContext(ctx); v != "" {
		lc = lc.Str("trace_id", v)
	}
	if v := CorrelationIDFromContext(ctx); v != "" {
		lc = lc.Str("correlation_id", v)
	}
	if v := TransactionIDFromContext(ctx); v != "" {
		lc = lc.Str("transaction_id", v)
	}
	return lc.Logger()
}

// Ctx — то же, что FromContext, но возвращает указатель.
func Ctx(ctx context.Context) *zerolog.Logger {
	l := FromContext(ctx)
	return &l
}

// NewContextWithIDs переносит trace/correlation id в новый контекст,
// например из заголовков сообщения outbox в фоновом воркере.
func NewContextWithIDs(ctx context.Context, traceID, correlationID string) context.Context {
	if traceID != "" {
		ctx = WithTraceID(ctx, traceID)
	}
	if correlationID != "" {
		ctx = WithCorrelationID(ctx, correlationID)
	}
	return ctx
}
