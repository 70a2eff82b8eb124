package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"example.com/storefront/pkg/logger"
)

// fixedWindowScript — INCR с установкой TTL на первом запросе окна.
var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return current
`)

// RateLimitConfig — параметры ограничения.
type RateLimitConfig struct {
	Redis  *redis.Client
	Prefix string        // пространство ключей, например "checkout:rate:create"
	Limit  int           // по умолчанию 100
	Window time.Duration // по умолчанию 1 минута
}

// RateLimitMiddleware ограничивает частоту запросов счётчиком в Redis.
// Ключ — пользователь, если он аутентифицирован, иначе IP.
type RateLimitMiddleware struct {
	redis  *redis.Client
	prefix string
	limit  int
	window time.Duration
}

// NewRateLimitMiddleware создаёт rate limiter.
func NewRateLimitMiddleware(cfg RateLimitConfig) *RateLimitMiddleware {
	if cfg.Limit <= 0 {
		cfg.Limit = 100
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "checkout:rate"
	}
	return &RateLimitMiddleware{
		redis:  cfg.Redis,
		prefix: cfg.Prefix,
		limit:  cfg.Limit,
		window: cfg.Window,
	}
}

// Handle возвращает gin handler. При недоступном Redis запрос пропускается.
func (m *RateLimitMiddleware) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logger.FromContext(c.Request.Context())

		subject := "ip:" + c.ClientIP()
		if userID, ok := UserID(c); ok {
			subject = "user:" + userID
		}

		count, err := fixedWindowScript.Run(c.Request.Context(), m.redis,
			[]string{m.prefix + ":" + subject}, int(m.window.Seconds())).Int()
		if err != nil {
			log.Warn().Err(err).Msg("Ошибка проверки rate limit")
			c.Next()
			return
		}

		remaining := max(m.limit-count, 0)
		c.Header("X-RateLimit-Limit", strconv.Itoa(m.limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if count > m.limit {
			log.Warn().Str("subject", subject).Int("limit", m.limit).Msg("Rate limit превышен")

			seconds := int(m.window.Seconds())
			c.Header("Retry-After", strconv.Itoa(seconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limit_exceeded",
				"message": fmt.Sprintf("Превышен лимит запросов. Попробуйте через %d секунд", seconds),
			})
			return
		}

		c.Next()
	}
}
