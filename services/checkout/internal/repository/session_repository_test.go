package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"example.com/storefront/services/checkout/internal/domain"
)

// =====================================
// Вспомогательные функции
// =====================================

// setupMockDB создаёт мок базы данных с GORM.
func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err, "Ошибка создания sqlmock")

	dialector := mysql.New(mysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "Ошибка инициализации GORM")

	return gormDB, mock, func() { _ = db.Close() }
}

var testTopics = Topics{Events: "checkout.events", Reconciliation: "checkout.reconciliation"}

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func testSession() *domain.PaymentSession {
	return &domain.PaymentSession{
		ID:            "sess-1",
		TransactionID: "TXN1740830400000USR1ABC123",
		UserID:        "user-1",
		Amount:        49900,
		Currency:      "INR",
		Items: []domain.SessionItem{
			{CartItemID: "ci-1", ProductID: "p-1", Quantity: 1, Price: 29900},
			{CartItemID: "ci-2", ProductID: "p-2", Quantity: 2, Price: 10000},
		},
		ShippingAddress: domain.ShippingAddress{
			Name: "Asha Rao", Phone: "9876543210", Address: "12 MG Road",
			City: "Bengaluru", State: "KA", Pincode: "560001",
		},
		Status:                domain.SessionStatusPending,
		MaterializationStatus: domain.MaterializationNone,
		CreatedAt:             testNow,
		ExpiresAt:             testNow.Add(15 * time.Minute),
	}
}

// sessionRows возвращает строку payment_sessions для s. Nullable колонки
// добавляются, только если заполнены.
func sessionRows(t *testing.T, s *domain.PaymentSession) *sqlmock.Rows {
	m, err := sessionModelFromDomain(s)
	require.NoError(t, err)

	cols := []string{
		"id", "transaction_id", "user_id", "amount", "currency", "items", "shipping_address",
		"status", "materialization_status", "created_at", "expires_at", "updated_at",
	}
	vals := []driver.Value{
		m.ID, m.TransactionID, m.UserID, m.Amount, m.Currency, m.Items, m.ShippingAddress,
		m.Status, m.MaterializationStatus, m.CreatedAt, m.ExpiresAt, m.UpdatedAt,
	}
	if m.OrderID != nil {
		cols = append(cols, "order_id")
		vals = append(vals, *m.OrderID)
	}
	if m.CompletedAt != nil {
		cols = append(cols, "completed_at")
		vals = append(vals, *m.CompletedAt)
	}
	return sqlmock.NewRows(cols).AddRow(vals...)
}

// =====================================
// Тесты Create / Get
// =====================================

func TestSessionRepository_Create(t *testing.T) {
	tests := []struct {
		name        string
		mockSetup   func(mock sqlmock.Sqlmock)
		expectedErr error
	}{
		{
			name: "успешное создание",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `payment_sessions`")).
					WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectCommit()
			},
		},
		{
			name: "дубликат transaction_id",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `payment_sessions`")).
					WillReturnError(errors.New("Error 1062: Duplicate entry"))
				mock.ExpectRollback()
			},
			expectedErr: domain.ErrDuplicateTransaction,
		},
		{
			name: "ошибка БД",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `payment_sessions`")).
					WillReturnError(sql.ErrConnDone)
				mock.ExpectRollback()
			},
			expectedErr: sql.ErrConnDone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gormDB, mock, cleanup := setupMockDB(t)
			defer cleanup()

			repo := NewSessionRepository(gormDB, testTopics)
			tt.mockSetup(mock)

			err := repo.Create(context.Background(), testSession())

			if tt.expectedErr != nil {
				assert.ErrorIs(t, err, tt.expectedErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestSessionRepository_GetByTransactionID(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()
	repo := NewSessionRepository(gormDB, testTopics)

	want := testSession()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `payment_sessions` WHERE transaction_id = ?")).
		WillReturnRows(sessionRows(t, want))

	got, err := repo.GetByTransactionID(context.Background(), want.TransactionID)
	require.NoError(t, err)

	assert.Equal(t, want.TransactionID, got.TransactionID)
	assert.Equal(t, domain.Amount(49900), got.Amount)
	assert.Equal(t, []string{"ci-1", "ci-2"}, got.CartItemIDs())
	assert.Equal(t, domain.Amount(29900), got.Items[0].Price)
	assert.Equal(t, "560001", got.ShippingAddress.Pincode)
	assert.Nil(t, got.OrderID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepository_GetByTransactionID_NotFound(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()
	repo := NewSessionRepository(gormDB, testTopics)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `payment_sessions`")).
		WillReturnError(gorm.ErrRecordNotFound)

	_, err := repo.GetByTransactionID(context.Background(), "TXN-missing")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

// =====================================
// Тесты Transition (compare-and-set)
// =====================================

func TestSessionRepository_Transition(t *testing.T) {
	transition := domain.Transition{
		To:                   domain.SessionStatusSuccess,
		Source:               domain.SourceCallback,
		At:                   testNow.Add(time.Minute),
		GatewayTransactionID: "GW-1",
	}

	t.Run("переход выигран: update + событие outbox", func(t *testing.T) {
		gormDB, mock, cleanup := setupMockDB(t)
		defer cleanup()
		repo := NewSessionRepository(gormDB, testTopics)

		after := testSession()
		after.Status = domain.SessionStatusSuccess

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE `payment_sessions` SET .* WHERE .*transaction_id = \\? AND status = \\?").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `payment_sessions` WHERE transaction_id = ?")).
			WillReturnRows(sessionRows(t, after))
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `outbox`")).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		got, err := repo.Transition(context.Background(), after.TransactionID, transition)
		require.NoError(t, err)
		assert.Equal(t, domain.SessionStatusSuccess, got.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("сессия уже не PENDING", func(t *testing.T) {
		gormDB, mock, cleanup := setupMockDB(t)
		defer cleanup()
		repo := NewSessionRepository(gormDB, testTopics)

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE `payment_sessions` SET").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		_, err := repo.Transition(context.Background(), "TXN1", transition)
		assert.ErrorIs(t, err, domain.ErrTransitionLost)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("сбой outbox откатывает переход", func(t *testing.T) {
		gormDB, mock, cleanup := setupMockDB(t)
		defer cleanup()
		repo := NewSessionRepository(gormDB, testTopics)

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE `payment_sessions` SET").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `payment_sessions`")).
			WillReturnRows(sessionRows(t, testSession()))
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `outbox`")).
			WillReturnError(sql.ErrConnDone)
		mock.ExpectRollback()

		_, err := repo.Transition(context.Background(), "TXN1", transition)
		assert.ErrorIs(t, err, sql.ErrConnDone)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("переход в PENDING запрещён", func(t *testing.T) {
		gormDB, mock, cleanup := setupMockDB(t)
		defer cleanup()
		repo := NewSessionRepository(gormDB, testTopics)

		_, err := repo.Transition(context.Background(), "TXN1", domain.Transition{To: domain.SessionStatusPending})
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSessionRepository_AttachGatewayResponse(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()
	repo := NewSessionRepository(gormDB, testTopics)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `payment_sessions` SET .*`gateway_transaction_id`.*`payment_url`").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := repo.AttachGatewayResponse(context.Background(), "TXN1", "GW-1", "https://pay/1")
	assert.ErrorIs(t, err, domain.ErrTransitionLost)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// =====================================
// Тесты выборок для reaper и сверки
// =====================================

func TestSessionRepository_ListExpiredPending(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()
	repo := NewSessionRepository(gormDB, testTopics)

	mock.ExpectQuery("SELECT `transaction_id` FROM `payment_sessions` WHERE status = \\? AND expires_at < \\? ORDER BY expires_at ASC LIMIT").
		WillReturnRows(sqlmock.NewRows([]string{"transaction_id"}).AddRow("TXN1").AddRow("TXN2"))

	ids, err := repo.ListExpiredPending(context.Background(), testNow, 50)
	require.NoError(t, err)
	assert.Equal(t, []string{"TXN1", "TXN2"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepository_MarkMaterializationFailed(t *testing.T) {
	s := testSession()
	s.Status = domain.SessionStatusSuccess
	rerr := &domain.ReconciliationError{
		TransactionID: s.TransactionID,
		Step:          domain.StepStockRecheck,
		Err:           &domain.InsufficientStockError{ProductID: "p-1", Requested: 1, Available: 0},
	}

	t.Run("подсостояние FAILED и событие сверки", func(t *testing.T) {
		gormDB, mock, cleanup := setupMockDB(t)
		defer cleanup()
		repo := NewSessionRepository(gormDB, testTopics)

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE `payment_sessions` SET .*`materialization_status`.* WHERE .*order_id IS NULL").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `outbox`")).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		require.NoError(t, repo.MarkMaterializationFailed(context.Background(), s, rerr))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("заказ уже создан", func(t *testing.T) {
		gormDB, mock, cleanup := setupMockDB(t)
		defer cleanup()
		repo := NewSessionRepository(gormDB, testTopics)

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE `payment_sessions` SET").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := repo.MarkMaterializationFailed(context.Background(), s, rerr)
		assert.ErrorIs(t, err, domain.ErrAlreadyMaterialized)
	})
}

func TestSessionRepository_CountAwaitingReconciliation(t *testing.T) {
	gormDB, mock, cleanup := setupMockDB(t)
	defer cleanup()
	repo := NewSessionRepository(gormDB, testTopics)

	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `payment_sessions` WHERE .*materialization_status = \\?").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	n, err := repo.CountAwaitingReconciliation(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
