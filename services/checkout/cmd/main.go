// Checkout Service — REST API оформления заказа с оплатой через платёжный шлюз.
// Создаёт платёжные сессии, принимает callback шлюза, отдаёт статус оплаты
// и в фоне закрывает просроченные сессии.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"example.com/storefront/pkg/config"
	"example.com/storefront/pkg/db"
	"example.com/storefront/pkg/healthcheck"
	"example.com/storefront/pkg/jwt"
	"example.com/storefront/pkg/kafka"
	"example.com/storefront/pkg/logger"
	"example.com/storefront/pkg/metrics"
	"example.com/storefront/pkg/outbox"
	"example.com/storefront/pkg/tracing"
	"example.com/storefront/services/checkout/internal/gateway"
	"example.com/storefront/services/checkout/internal/handler"
	"example.com/storefront/services/checkout/internal/middleware"
	"example.com/storefront/services/checkout/internal/repository"
	"example.com/storefront/services/checkout/internal/service"
)

const serviceName = "checkout-service"

func main() {
	// Загружаем конфигурацию
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	logger.Init(logger.Config{
		Level:  cfg.App.LogLevel,
		Pretty: cfg.App.LogPretty,
	})

	log := logger.With().Str("service", serviceName).Logger()

	log.Info().
		Str("env", cfg.App.Env).
		Int("port", cfg.HTTP.Port).
		Str("gateway_mode", cfg.Gateway.Mode).
		Msg("Запуск Checkout Service")

	shutdownTracer, err := tracing.InitTracer(tracing.Config{
		ServiceName:    serviceName,
		Environment:    cfg.App.Env,
		JaegerEndpoint: cfg.Jaeger.OTLPEndpoint(),
		Enabled:        cfg.Jaeger.Enabled,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка инициализации tracing")
	}

	gormDB, err := db.ConnectMySQL(cfg.MySQL, cfg.IsDevelopment())
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка подключения к MySQL")
	}
	log.Info().Msg("Подключение к MySQL установлено")

	if cfg.MySQL.AutoMigrate {
		if err := repository.Migrate(gormDB); err != nil {
			log.Fatal().Err(err).Msg("Ошибка миграции схемы")
		}
		log.Info().Msg("Схема БД актуальна")
	}

	rdb, err := db.ConnectRedis(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка подключения к Redis")
	}
	log.Info().Msg("Подключение к Redis установлено")

	// Слои приложения
	topics := repository.Topics{
		Events:         cfg.Kafka.EventsTopic,
		Reconciliation: cfg.Kafka.ReconciliationTopic,
	}
	sessionRepo := repository.NewSessionRepository(gormDB, topics)
	orderRepo := repository.NewOrderRepository(gormDB, topics)
	catalogRepo := repository.NewCatalogRepository(gormDB)

	gw, mockGW := newGateway(cfg, rdb)

	materializer := service.NewMaterializer(sessionRepo, orderRepo)
	finalizer := service.NewFinalizer(sessionRepo, materializer)

	sessionManager := service.NewSessionManager(sessionRepo, catalogRepo, gw, finalizer, service.SessionManagerConfig{
		TTL:      cfg.Checkout.SessionTTL,
		Currency: cfg.Checkout.Currency,
	})
	callbacks := service.NewCallbackHandler(sessionRepo, gw, finalizer)
	poller := service.NewStatusPoller(sessionRepo, orderRepo, gw, finalizer,
		service.NewRedisThrottle(rdb, cfg.Checkout.PollThrottle))
	reaper := service.NewReaper(sessionRepo, gw, finalizer, materializer, service.ReaperConfig{
		Interval:     cfg.Checkout.ReaperInterval,
		BatchSize:    cfg.Checkout.ReaperBatchSize,
		StalledAfter: cfg.Checkout.StalledAfter,
	})
	codService := service.NewCODService(catalogRepo, orderRepo, cfg.Checkout.Currency)
	orderReader := service.NewOrderReader(orderRepo)

	verifier, err := jwt.NewVerifierFromFile(cfg.JWT.PublicKeyPath, cfg.JWT.Issuer, jwt.NewBlacklist(rdb))
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка загрузки публичного ключа JWT")
	}

	routerCfg := handler.RouterConfig{
		Sessions:  sessionManager,
		Callbacks: callbacks,
		Status:    poller,
		COD:       codService,
		Orders:    orderReader,
		AuthMW:    middleware.NewAuthMiddleware(verifier),
		CORS:      middleware.DefaultCORSConfig(),
		Debug:     cfg.IsDevelopment(),
	}
	if cfg.RateLimit.Enabled {
		routerCfg.CreateLimitMW = middleware.NewRateLimitMiddleware(middleware.RateLimitConfig{
			Redis:  rdb,
			Prefix: "checkout:rate:create",
			Limit:  cfg.RateLimit.RequestsLimit,
			Window: cfg.RateLimit.Window,
		})
	}
	// Платёжная страница эмулятора доступна только при локальной разработке
	if mockGW != nil && cfg.IsDevelopment() {
		routerCfg.Mock = mockGW
	}

	ctx, cancel := context.WithCancel(logger.WithLogger(context.Background(), log))
	var wg sync.WaitGroup

	producer := startOutbox(ctx, &wg, cfg, gormDB)

	wg.Add(1)
	go func() {
		defer wg.Done()
		reaper.Run(ctx)
	}()

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Addr(), serviceName,
			metrics.WithReadinessCheck(metrics.ReadinessChecker(
				healthcheck.Composite(healthcheck.MySQL(gormDB), healthcheck.Redis(rdb)),
			)),
		)
		go func() {
			if err := metricsServer.Start(); err != nil {
				log.Error().Err(err).Msg("Ошибка metrics сервера")
			}
		}()
	}

	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      handler.NewRouter(routerCfg),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("HTTP сервер запущен")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Ошибка HTTP сервера")
		}
	}()

	// Ожидаем сигнал завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Получен сигнал завершения, останавливаем сервер...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Ошибка остановки HTTP сервера")
	}

	// Фоновые воркеры останавливаем после HTTP: in-flight callback успевают записать outbox
	cancel()
	wg.Wait()

	if producer != nil {
		if err := producer.Close(); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия Kafka producer")
		}
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Ошибка остановки metrics сервера")
		}
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Ошибка остановки tracing")
	}
	if err := rdb.Close(); err != nil {
		log.Error().Err(err).Msg("Ошибка закрытия Redis")
	}
	if sqlDB, err := gormDB.DB(); err == nil && sqlDB != nil {
		if err := sqlDB.Close(); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия MySQL")
		}
	}

	log.Info().Msg("Checkout Service остановлен")
}

// newGateway выбирает реализацию шлюза. Второе значение не nil только в режиме эмуляции.
func newGateway(cfg *config.Config, rdb *redis.Client) (gateway.Gateway, *gateway.MockGateway) {
	if cfg.Gateway.IsMock() {
		mock := gateway.NewMockGateway(rdb, gateway.MockConfig{
			SaltKey:    cfg.Gateway.SaltKey,
			SaltIndex:  cfg.Gateway.SaltIndex,
			PayPageURL: cfg.Gateway.MockPayPage,
			TTL:        cfg.Gateway.MockTTL,
		})
		return mock, mock
	}

	client := gateway.NewClient(gateway.Config{
		BaseURL:     cfg.Gateway.BaseURL,
		MerchantID:  cfg.Gateway.MerchantID,
		SaltKey:     cfg.Gateway.SaltKey,
		SaltIndex:   cfg.Gateway.SaltIndex,
		RedirectURL: cfg.Gateway.RedirectURL,
		CallbackURL: cfg.Gateway.CallbackURL,
		Timeout:     cfg.Gateway.Timeout,
	}, &http.Client{Timeout: cfg.Gateway.Timeout})
	return client, nil
}

// startOutbox запускает доставку событий в Kafka. Без брокера сервис работает,
// события копятся в outbox и уйдут после рестарта с доступной Kafka.
func startOutbox(ctx context.Context, wg *sync.WaitGroup, cfg *config.Config, gormDB *gorm.DB) *kafka.Producer {
	log := logger.FromContext(ctx)

	if cfg.Kafka.AutoCreateTopics {
		if err := kafka.EnsureTopics(cfg.Kafka.Brokers,
			kafka.CheckoutTopics(cfg.Kafka.EventsTopic, cfg.Kafka.ReconciliationTopic)); err != nil {
			log.Warn().Err(err).Msg("Не удалось создать топики Kafka")
		}
	}

	producer, err := kafka.NewProducer(kafka.Config{Brokers: cfg.Kafka.Brokers})
	if err != nil {
		log.Error().Err(err).Msg("Kafka producer недоступен, доставка событий отключена")
		return nil
	}

	workerCfg := outbox.DefaultWorkerConfig()
	workerCfg.PollInterval = cfg.Checkout.OutboxPollInterval
	workerCfg.Retention = time.Duration(cfg.Checkout.OutboxRetentionDays) * 24 * time.Hour
	worker := outbox.NewWorker(outbox.NewRepository(gormDB, outbox.AggregateCheckout), producer, workerCfg)

	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Run(ctx)
	}()

	return producer
}
