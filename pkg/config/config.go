// Package config загружает настройки storefront из переменных окружения.
// Значения по умолчанию подобраны для локального запуска через docker-compose.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config объединяет все секции настроек процесса.
type Config struct {
	App       AppConfig
	HTTP      HTTPConfig
	MySQL     MySQLConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	JWT       JWTConfig
	Jaeger    JaegerConfig
	Metrics   MetricsConfig
	RateLimit RateLimitConfig
	Gateway   GatewayConfig
	Checkout  CheckoutConfig
}

// AppConfig — общие параметры приложения.
type AppConfig struct {
	Name      string `env:"APP_NAME" envDefault:"storefront"`
	Env       string `env:"APP_ENV" envDefault:"development"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`
}

// HTTPConfig — параметры публичного REST сервера.
type HTTPConfig struct {
	Host         string        `env:"HTTP_HOST" envDefault:"0.0.0.0"`
	Port         int           `env:"HTTP_PORT" envDefault:"8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
}

// Addr возвращает адрес для http.Server.
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MySQLConfig — подключение к основной БД магазина.
type MySQLConfig struct {
	Host            string        `env:"MYSQL_HOST" envDefault:"localhost"`
	Port            int           `env:"MYSQL_PORT" envDefault:"3306"`
	User            string        `env:"MYSQL_USER" envDefault:"root"`
	Password        string        `env:"MYSQL_PASSWORD" envDefault:"root"`
	Database        string        `env:"MYSQL_DATABASE" envDefault:"storefront"`
	MaxOpenConns    int           `env:"MYSQL_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int           `env:"MYSQL_MAX_IDLE_CONNS" envDefault:"10"`
	ConnMaxLifetime time.Duration `env:"MYSQL_CONN_MAX_LIFETIME" envDefault:"5m"`
	AutoMigrate     bool          `env:"MYSQL_AUTO_MIGRATE" envDefault:"false"`
}

// DSN собирает строку подключения для go-sql-driver/mysql.
func (c MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// RedisConfig — Redis для mock-шлюза, блокировок опроса, rate limit и blacklist.
type RedisConfig struct {
	Host     string `env:"REDIS_HOST" envDefault:"localhost"`
	Port     int    `env:"REDIS_PORT" envDefault:"6379"`
	Password string `env:"REDIS_PASSWORD" envDefault:""`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// Addr возвращает host:port.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// KafkaConfig — брокеры и топики доменных событий.
type KafkaConfig struct {
	Brokers             []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	EventsTopic         string   `env:"KAFKA_EVENTS_TOPIC" envDefault:"checkout.events"`
	ReconciliationTopic string   `env:"KAFKA_RECONCILIATION_TOPIC" envDefault:"checkout.reconciliation"`
	AutoCreateTopics    bool     `env:"KAFKA_AUTO_CREATE_TOPICS" envDefault:"true"`
}

// JWTConfig — проверка токенов, выданных внешним сервисом авторизации.
// Storefront только валидирует токены, поэтому нужен лишь публичный ключ.
type JWTConfig struct {
	PublicKeyPath string `env:"JWT_PUBLIC_KEY_PATH,required"`
	Issuer        string `env:"JWT_ISSUER" envDefault:"storefront-auth"`
}

// JaegerConfig — экспорт трейсов по OTLP gRPC.
type JaegerConfig struct {
	Enabled  bool   `env:"JAEGER_ENABLED" envDefault:"true"`
	Host     string `env:"JAEGER_HOST" envDefault:"localhost"`
	OTLPPort int    `env:"JAEGER_OTLP_PORT" envDefault:"4317"`
}

// OTLPEndpoint возвращает host:port коллектора.
func (c JaegerConfig) OTLPEndpoint() string {
	return fmt.Sprintf("%s:%d", c.Host, c.OTLPPort)
}

// MetricsConfig — отдельный HTTP сервер для Prometheus и health probes.
type MetricsConfig struct {
	Enabled bool `env:"METRICS_ENABLED" envDefault:"true"`
	Port    int  `env:"METRICS_PORT" envDefault:"9090"`
}

// Addr возвращает адрес metrics сервера.
func (c MetricsConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// RateLimitConfig — ограничение частоты запросов на пользователя/IP.
type RateLimitConfig struct {
	Enabled       bool          `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	RequestsLimit int           `env:"RATE_LIMIT_REQUESTS" envDefault:"100"`
	Window        time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`
}

// Режимы работы платёжного шлюза.
const (
	GatewayModeHTTP = "http" // настоящий шлюз по HTTP
	GatewayModeMock = "mock" // эмуляция шлюза с состоянием в Redis
)

// GatewayConfig — параметры платёжного шлюза и протокола контрольных сумм.
type GatewayConfig struct {
	Mode        string        `env:"GATEWAY_MODE" envDefault:"mock"`
	BaseURL     string        `env:"GATEWAY_BASE_URL" envDefault:"https://api-preprod.phonepe.com/apis/pg-sandbox"`
	MerchantID  string        `env:"GATEWAY_MERCHANT_ID" envDefault:"PGTESTPAYUAT"`
	SaltKey     string        `env:"GATEWAY_SALT_KEY,notEmpty"`
	SaltIndex   string        `env:"GATEWAY_SALT_INDEX" envDefault:"1"`
	RedirectURL string        `env:"GATEWAY_REDIRECT_URL" envDefault:"http://localhost:3000/payment/result"`
	CallbackURL string        `env:"GATEWAY_CALLBACK_URL" envDefault:"http://localhost:8080/api/v1/payment/gateway/callback"`
	Timeout     time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"10s"`
	MockTTL     time.Duration `env:"GATEWAY_MOCK_TTL" envDefault:"24h"`
	MockPayPage string        `env:"GATEWAY_MOCK_PAY_PAGE" envDefault:"http://localhost:8080/api/v1/payment/mock"`
}

// IsMock возвращает true для режима эмуляции.
func (c GatewayConfig) IsMock() bool {
	return c.Mode == GatewayModeMock
}

// CheckoutConfig — параметры жизненного цикла платёжных сессий.
type CheckoutConfig struct {
	SessionTTL          time.Duration `env:"CHECKOUT_SESSION_TTL" envDefault:"15m"`
	ReaperInterval      time.Duration `env:"CHECKOUT_REAPER_INTERVAL" envDefault:"5m"`
	ReaperBatchSize     int           `env:"CHECKOUT_REAPER_BATCH_SIZE" envDefault:"100"`
	PollThrottle        time.Duration `env:"CHECKOUT_POLL_THROTTLE" envDefault:"3s"`
	Currency            string        `env:"CHECKOUT_CURRENCY" envDefault:"INR"`
	OutboxPollInterval  time.Duration `env:"CHECKOUT_OUTBOX_POLL_INTERVAL" envDefault:"1s"`
	OutboxRetentionDays int           `env:"CHECKOUT_OUTBOX_RETENTION_DAYS" envDefault:"7"`
	StalledAfter        time.Duration `env:"CHECKOUT_STALLED_AFTER" envDefault:"2m"` // оплачено, но заказ не создавался
}

// Load читает .env (если есть) и переменные окружения.
func Load() (*Config, error) {
	// .env нужен только локально, его отсутствие не ошибка
	_ = godotenv.Load()

	return parse()
}

// LoadFromFile читает конфигурацию из конкретного .env файла.
func LoadFromFile(path string) (*Config, error) {
	if err := godotenv.Load(path); err != nil {
		return nil, fmt.Errorf("ошибка загрузки .env файла %s: %w", path, err)
	}

	return parse()
}

func parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("ошибка парсинга конфигурации: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Gateway.Mode {
	case GatewayModeHTTP, GatewayModeMock:
	default:
		return fmt.Errorf("неизвестный режим шлюза %q", c.Gateway.Mode)
	}
	if c.Checkout.SessionTTL <= 0 {
		return fmt.Errorf("CHECKOUT_SESSION_TTL должен быть положительным")
	}
	if c.Checkout.ReaperInterval <= 0 {
		return fmt.Errorf("CHECKOUT_REAPER_INTERVAL должен быть положительным")
	}
	return nil
}

// IsDevelopment — режим локальной разработки.
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

// IsProduction — боевой режим.
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}
