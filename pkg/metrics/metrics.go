// Package metrics — Prometheus метрики storefront и служебный HTTP сервер
// (/metrics, /healthz, /readyz).
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/storefront/pkg/logger"
)

// =============================================================================
// HTTP метрики
// =============================================================================

var (
	// RequestsTotal — запросы по маршруту и результату.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "requests_total",
			Help: "Количество HTTP запросов по сервису, маршруту и статусу",
		},
		[]string{"service", "method", "status"},
	)

	// RequestDuration — latency HTTP запросов.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "request_duration_seconds",
			Help:    "Время обработки HTTP запроса в секундах",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"service", "method"},
	)
)

// =============================================================================
// Метрики checkout
// =============================================================================

var (
	// SessionsCreated — созданные платёжные сессии.
	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_sessions_created_total",
		Help: "Количество созданных платёжных сессий",
	})

	// SessionTransitions — выигранные переходы из PENDING.
	// source: callback | poll | reaper | initiate.
	SessionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_session_transitions_total",
			Help: "Переходы платёжных сессий из PENDING по целевому статусу и источнику",
		},
		[]string{"to", "source"},
	)

	// Materializations — попытки создания заказа из оплаченной сессии.
	// result: created | already_done | failed.
	Materializations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_materializations_total",
			Help: "Результаты материализации заказов",
		},
		[]string{"result"},
	)

	// GatewayRequests — обращения к платёжному шлюзу.
	GatewayRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_gateway_requests_total",
			Help: "Запросы к платёжному шлюзу по операции и результату",
		},
		[]string{"operation", "result"},
	)

	// ReconciliationPending — оплаченные сессии без заказа.
	ReconciliationPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "checkout_reconciliation_pending",
		Help: "Количество оплаченных сессий, ожидающих ручной сверки",
	})
)

// RecordRequest записывает счётчик и latency одного запроса.
func RecordRequest(service, method, status string, duration time.Duration) {
	RequestsTotal.WithLabelValues(service, method, status).Inc()
	RequestDuration.WithLabelValues(service, method).Observe(duration.Seconds())
}

// RecordTransition учитывает выигранный guarded-переход сессии.
func RecordTransition(to, source string) {
	SessionTransitions.WithLabelValues(to, source).Inc()
}

// RecordGatewayRequest учитывает вызов шлюза.
func RecordGatewayRequest(operation string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	GatewayRequests.WithLabelValues(operation, result).Inc()
}

// GinMetricsMiddleware собирает HTTP метрики по шаблону маршрута.
func GinMetricsMiddleware(service string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := "success"
		if c.Writer.Status() >= 400 {
			status = "error"
		}
		RecordRequest(service, c.FullPath(), status, time.Since(start))
	}
}

// =============================================================================
// Служебный сервер
// =============================================================================

// ReadinessChecker возвращает nil, если сервис готов принимать трафик.
type ReadinessChecker func(ctx context.Context) error

// Server отдаёт /metrics и health probes на отдельном порту.
type Server struct {
	httpServer     *http.Server
	service        string
	readinessCheck ReadinessChecker
}

// Option настраивает Server.
type Option func(*Server)

// WithReadinessCheck подключает проверку зависимостей к /readyz.
func WithReadinessCheck(checker ReadinessChecker) Option {
	return func(s *Server) { s.readinessCheck = checker }
}

// NewServer собирает служебный сервер на addr.
func NewServer(addr, service string, opts ...Option) *Server {
	s := &Server{service: service}
	for _, opt := range opts {
		opt(s)
	}

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.routes(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusOK, "alive")
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if s.readinessCheck == nil {
			writeStatus(w, http.StatusOK, "ready")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := s.readinessCheck(ctx); err != nil {
			// Детали ошибки только в лог
			logger.Warn().Err(err).Str("service", s.service).Msg("Сервис не готов")
			writeStatus(w, http.StatusServiceUnavailable, "not_ready")
			return
		}
		writeStatus(w, http.StatusOK, "ready")
	})

	return mux
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(`{"status":"` + status + `"}`))
}

// Start блокирует до остановки сервера.
func (s *Server) Start() error {
	logger.Info().Str("service", s.service).Str("addr", s.httpServer.Addr).Msg("Запуск Metrics Server")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown останавливает сервер.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
