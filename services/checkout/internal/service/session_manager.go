package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"example.com/storefront/pkg/logger"
	"example.com/storefront/pkg/metrics"
	"example.com/storefront/pkg/tracing"
	"example.com/storefront/services/checkout/internal/domain"
	"example.com/storefront/services/checkout/internal/gateway"
	"example.com/storefront/services/checkout/internal/repository"
)

// SessionSummary — ответ на создание сессии.
type SessionSummary struct {
	TransactionID string
	Amount        domain.Amount
	Currency      string
	PaymentURL    string
	ExpiresAt     time.Time
}

// SessionManagerConfig — параметры создания сессий.
type SessionManagerConfig struct {
	TTL      time.Duration
	Currency string
}

// SessionManager создаёт платёжные сессии. Склад не списывается и корзина
// не очищается: брошенная сессия ничего не стоит.
type SessionManager struct {
	sessions  repository.SessionRepository
	catalog   repository.CatalogRepository
	gw        gateway.Gateway
	finalizer *Finalizer
	cfg       SessionManagerConfig
	now       func() time.Time
}

// NewSessionManager создаёт менеджер сессий.
func NewSessionManager(
	sessions repository.SessionRepository,
	catalog repository.CatalogRepository,
	gw gateway.Gateway,
	finalizer *Finalizer,
	cfg SessionManagerConfig,
) *SessionManager {
	return &SessionManager{
		sessions:  sessions,
		catalog:   catalog,
		gw:        gw,
		finalizer: finalizer,
		cfg:       cfg,
		now:       utcNow,
	}
}

// CreateSession проверяет корзину, замораживает сумму и регистрирует оплату
// у шлюза. Если шлюз отказал или недоступен, сессия сразу становится FAILED.
func (m *SessionManager) CreateSession(ctx context.Context, userID string, req CheckoutRequest) (*SessionSummary, error) {
	d, err := prepareCheckout(ctx, m.catalog, userID, req)
	if err != nil {
		return nil, err
	}

	now := m.now()
	s := &domain.PaymentSession{
		ID:                    uuid.NewString(),
		TransactionID:         m.gw.GenerateTransactionID(userID),
		UserID:                userID,
		Amount:                d.amount,
		Currency:              m.cfg.Currency,
		Items:                 d.snapshot(),
		ShippingAddress:       d.address,
		Status:                domain.SessionStatusPending,
		MaterializationStatus: domain.MaterializationNone,
		CreatedAt:             now,
		ExpiresAt:             now.Add(m.cfg.TTL),
	}

	ctx = logger.WithTransactionID(ctx, s.TransactionID)
	ctx, span := tracing.StartSpan(ctx, "checkout.create_session", s.TransactionID)
	defer span.End()
	log := logger.Ctx(ctx)

	if err := m.sessions.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("сохранение сессии: %w", err)
	}
	metrics.SessionsCreated.Inc()

	res, err := m.gw.Initiate(ctx, gateway.InitiateRequest{
		TransactionID: s.TransactionID,
		Amount:        s.Amount,
		UserID:        userID,
		ContactNumber: d.address.Phone,
	})
	if err != nil {
		// Деньги не списывались: транспортная ошибка на инициации закрывает сессию.
		m.fail(ctx, s.TransactionID, err.Error())
		return nil, err
	}
	if !res.Success {
		m.fail(ctx, s.TransactionID, res.Error)
		return nil, &domain.InitiationError{TransactionID: s.TransactionID, Code: res.Code, Message: res.Error}
	}

	if err := m.sessions.AttachGatewayResponse(ctx, s.TransactionID, res.GatewayTransactionID, res.PaymentURL); err != nil {
		if !errors.Is(err, domain.ErrTransitionLost) {
			return nil, fmt.Errorf("сохранение ответа шлюза: %w", err)
		}
		log.Warn().Msg("Сессия финализирована раньше, чем сохранён ответ шлюза")
	}

	log.Info().
		Str("user_id", userID).
		Str("amount", s.Amount.String()).
		Int("items", len(s.Items)).
		Msg("Платёжная сессия создана")

	return &SessionSummary{
		TransactionID: s.TransactionID,
		Amount:        s.Amount,
		Currency:      s.Currency,
		PaymentURL:    res.PaymentURL,
		ExpiresAt:     s.ExpiresAt,
	}, nil
}

func (m *SessionManager) fail(ctx context.Context, transactionID, reason string) {
	logger.Ctx(ctx).Warn().Str("reason", reason).Msg("Инициация оплаты не удалась")

	if _, _, err := m.finalizer.Finalize(ctx, transactionID, Outcome{
		To:            domain.SessionStatusFailed,
		Source:        domain.SourceInitiate,
		FailureReason: reason,
	}); err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("Не удалось закрыть сессию после отказа шлюза")
	}
}
