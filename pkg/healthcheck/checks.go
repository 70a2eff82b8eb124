// Package healthcheck — проверки зависимостей для readiness probe (/readyz).
package healthcheck

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Check — одна проверка готовности.
type Check func(context.Context) error

// MySQL проверяет соединение с БД сессий и заказов.
func MySQL(db *gorm.DB) Check {
	return func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("mysql: %w", err)
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			return fmt.Errorf("mysql ping: %w", err)
		}
		return nil
	}
}

// Redis проверяет Redis (mock-шлюз, блокировки опроса, rate limit).
func Redis(rdb *redis.Client) Check {
	return func(ctx context.Context) error {
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		return nil
	}
}

// Composite выполняет проверки по порядку и возвращает первую ошибку.
func Composite(checks ...Check) Check {
	return func(ctx context.Context) error {
		for _, check := range checks {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}
