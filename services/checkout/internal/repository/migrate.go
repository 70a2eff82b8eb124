package repository

import (
	"errors"
	"strings"

	"gorm.io/gorm"

	"example.com/storefront/pkg/outbox"
)

// Migrate создаёт и обновляет таблицы checkout. Таблицы products и
// cart_items принадлежат каталогу и корзине, здесь они нужны для dev и тестов.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&SessionModel{},
		&OrderModel{},
		&OrderItemModel{},
		&ProductModel{},
		&CartItemModel{},
		&outbox.Model{},
	)
}

// isDuplicateKeyError проверяет, является ли ошибка дубликатом ключа.
// MySQL возвращает ошибку с кодом 1062 при попытке вставить дубликат.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	errMsg := err.Error()
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(errMsg, "Duplicate entry") ||
		strings.Contains(errMsg, "1062")
}
