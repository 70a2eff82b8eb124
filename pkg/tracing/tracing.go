// Package tracing — OpenTelemetry трейсинг с экспортом в Jaeger по OTLP gRPC.
//
//	shutdown, err := tracing.InitTracer(tracing.Config{ServiceName: "storefront", ...})
//	defer shutdown(ctx)
package tracing

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"example.com/storefront/pkg/logger"
)

const instrumentationName = "example.com/storefront"

// Config — параметры трейсинга.
type Config struct {
	ServiceName    string
	Environment    string
	JaegerEndpoint string // host:port OTLP gRPC
	Enabled        bool
}

// ShutdownFunc сбрасывает накопленные spans и закрывает соединение.
type ShutdownFunc func(ctx context.Context) error

// InitTracer настраивает глобальный TracerProvider.
// При Enabled=false возвращает no-op shutdown: spans создаются, но никуда не уходят.
func InitTracer(cfg Config) (ShutdownFunc, error) {
	log := logger.With().Str("service", cfg.ServiceName).Logger()

	if !cfg.Enabled || cfg.JaegerEndpoint == "" {
		log.Info().Msg("Tracing отключен")
		return func(context.Context) error { return nil }, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := grpc.NewClient(cfg.JaegerEndpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}

	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.DeploymentEnvironmentName(cfg.Environment),
		),
	)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info().Str("endpoint", cfg.JaegerEndpoint).Msg("Tracing инициализирован (Jaeger OTLP)")

	return func(ctx context.Context) error {
		if err := tp.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Ошибка завершения TracerProvider")
		}
		return conn.Close()
	}, nil
}

// StartSpan открывает span с атрибутом transaction_id, если он известен.
// Используется в сервисном слое checkout вокруг вызовов шлюза и материализации.
func StartSpan(ctx context.Context, name, transactionID string) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, name)
	if transactionID != "" {
		span.SetAttributes(attribute.String("checkout.transaction_id", transactionID))
	}
	return ctx, span
}

// TraceID возвращает id текущего трейса или пустую строку.
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
