package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"example.com/storefront/pkg/logger"
	"example.com/storefront/pkg/tracing"
	"example.com/storefront/services/checkout/internal/domain"
	"example.com/storefront/services/checkout/internal/gateway"
	"example.com/storefront/services/checkout/internal/repository"
)

// CallbackResult — итог обработки callback.
type CallbackResult struct {
	TransactionID string
	Status        domain.SessionStatus
	Applied       bool // callback выполнил переход (false — дубликат или оплата в процессе)
}

// CallbackHandler принимает webhook шлюза.
type CallbackHandler struct {
	sessions  repository.SessionRepository
	gw        gateway.Gateway
	finalizer *Finalizer
	now       func() time.Time
}

// NewCallbackHandler создаёт обработчик callback.
func NewCallbackHandler(sessions repository.SessionRepository, gw gateway.Gateway, finalizer *Finalizer) *CallbackHandler {
	return &CallbackHandler{sessions: sessions, gw: gw, finalizer: finalizer, now: utcNow}
}

// HandleCallback проверяет подпись и применяет исход оплаты.
//
// Ошибки: domain.ErrAuthentication (подпись или сумма не сошлись),
// domain.ErrCallbackDecode, domain.ErrSessionNotFound. Сбой материализации
// ошибкой не считается: переход выполнен, сессия ушла в очередь сверки,
// шлюзу нужно ответить 200.
func (h *CallbackHandler) HandleCallback(ctx context.Context, body []byte, digest string) (*CallbackResult, error) {
	var env gateway.CallbackEnvelope
	if err := json.Unmarshal(body, &env); err != nil || env.Response == "" {
		return nil, fmt.Errorf("%w: нет поля response", domain.ErrCallbackDecode)
	}

	if !h.gw.VerifyCallback(env.Response, digest) {
		securityEvent(ctx, domain.SourceCallback, "подпись callback не совпала")
		return nil, domain.ErrAuthentication
	}

	rec, err := h.gw.DecodeCallback(env.Response)
	if err != nil {
		return nil, err
	}

	ctx = logger.WithTransactionID(ctx, rec.TransactionID)
	ctx, span := tracing.StartSpan(ctx, "checkout.callback", rec.TransactionID)
	defer span.End()

	s, err := h.sessions.GetByTransactionID(ctx, rec.TransactionID)
	if err != nil {
		return nil, err
	}

	if s.Status.IsTerminal() {
		logger.Ctx(ctx).Info().
			Str("status", string(s.Status)).
			Str("gateway_state", string(rec.State)).
			Msg("Повторный callback, сессия уже финализирована")
		return &CallbackResult{TransactionID: s.TransactionID, Status: s.Status}, nil
	}

	if paidAmountMismatch(s, rec.State, rec.Amount) {
		securityEvent(ctx, domain.SourceCallback, fmt.Sprintf("сумма оплаты %s не совпадает с сессией %s", rec.Amount, s.Amount))
		return nil, domain.ErrAuthentication
	}

	to, ok := resolveOutcome(s, rec.State, h.now())
	if !ok {
		logger.Ctx(ctx).Info().Str("gateway_state", string(rec.State)).Msg("Оплата ещё в процессе")
		return &CallbackResult{TransactionID: s.TransactionID, Status: s.Status}, nil
	}
	if to == domain.SessionStatusExpired && rec.State == gateway.StateCompleted {
		warnLatePayment(ctx, s, domain.SourceCallback, rec.GatewayTransactionID)
	}

	cur, applied, err := h.finalizer.Finalize(ctx, s.TransactionID, Outcome{
		To:                   to,
		Source:               domain.SourceCallback,
		GatewayTransactionID: rec.GatewayTransactionID,
		FailureReason:        failureReason(rec.Code, rec.State),
	})
	var rerr *domain.ReconciliationError
	if err != nil && !errors.As(err, &rerr) {
		return nil, err
	}

	return &CallbackResult{TransactionID: cur.TransactionID, Status: cur.Status, Applied: applied}, nil
}

func failureReason(code string, state gateway.State) string {
	if state != gateway.StateFailed && code == "" {
		return ""
	}
	if code == "" {
		return string(state)
	}
	return code
}
