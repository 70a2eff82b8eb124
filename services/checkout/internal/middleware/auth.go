// Package middleware содержит HTTP middleware checkout.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"example.com/storefront/pkg/jwt"
	"example.com/storefront/pkg/logger"
)

// ContextUserID — ключ gin.Context с id аутентифицированного пользователя.
const ContextUserID = "user_id"

// TokenValidator проверяет access-токен (в main это *jwt.Verifier).
type TokenValidator interface {
	ValidateToken(ctx context.Context, accessToken string) (*jwt.Claims, error)
}

// AuthMiddleware проверяет Bearer токен. Токены выпускает внешний сервис,
// checkout только проверяет подпись, срок действия и blacklist.
type AuthMiddleware struct {
	validator TokenValidator
}

// NewAuthMiddleware создаёт middleware аутентификации.
func NewAuthMiddleware(validator TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: validator}
}

// Handle возвращает gin handler.
func (m *AuthMiddleware) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		log := logger.FromContext(ctx)

		token := ExtractBearerToken(c)
		if token == "" {
			log.Debug().Msg("Отсутствует токен авторизации")
			abortUnauthorized(c, "Требуется авторизация")
			return
		}

		claims, err := m.validator.ValidateToken(ctx, token)
		if err != nil {
			log.Warn().Err(err).Msg("Ошибка валидации токена")
			abortUnauthorized(c, "Невалидный токен")
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set("jti", claims.ID)

		log.Debug().Str("user_id", claims.UserID).Msg("Пользователь аутентифицирован")
		c.Next()
	}
}

// UserID возвращает id пользователя, установленный AuthMiddleware.
func UserID(c *gin.Context) (string, bool) {
	v, ok := c.Get(ContextUserID)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}

// ExtractBearerToken извлекает токен из "Authorization: Bearer <token>".
// Префикс регистронезависимый.
func ExtractBearerToken(c *gin.Context) string {
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":   "unauthorized",
		"message": message,
	})
}
