package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"example.com/storefront/pkg/logger"
	"example.com/storefront/pkg/tracing"
	"example.com/storefront/services/checkout/internal/domain"
	"example.com/storefront/services/checkout/internal/gateway"
	"example.com/storefront/services/checkout/internal/repository"
)

// SessionView — состояние сессии для клиента и заказ, если он создан.
type SessionView struct {
	Session *domain.PaymentSession
	Order   *domain.Order
}

// Throttle ограничивает частоту обращений к шлюзу по одной сессии.
type Throttle interface {
	// Allow возвращает true, если к шлюзу можно обратиться сейчас.
	Allow(ctx context.Context, transactionID string) (bool, error)
}

// RedisThrottle — не больше одного запроса статуса за interval на сессию.
// Общий для всех реплик сервиса.
type RedisThrottle struct {
	client   *redis.Client
	interval time.Duration
}

// NewRedisThrottle создаёт throttle. interval <= 0 отключает ограничение.
func NewRedisThrottle(client *redis.Client, interval time.Duration) *RedisThrottle {
	return &RedisThrottle{client: client, interval: interval}
}

func (t *RedisThrottle) Allow(ctx context.Context, transactionID string) (bool, error) {
	if t.interval <= 0 {
		return true, nil
	}
	return t.client.SetNX(ctx, "checkout:poll:"+transactionID, 1, t.interval).Result()
}

// StatusPoller — опрос статуса оплаты клиентом после возврата со страницы шлюза.
type StatusPoller struct {
	sessions  repository.SessionRepository
	orders    repository.OrderRepository
	gw        gateway.Gateway
	finalizer *Finalizer
	throttle  Throttle
	now       func() time.Time
}

// NewStatusPoller создаёт поллер. throttle может быть nil.
func NewStatusPoller(
	sessions repository.SessionRepository,
	orders repository.OrderRepository,
	gw gateway.Gateway,
	finalizer *Finalizer,
	throttle Throttle,
) *StatusPoller {
	return &StatusPoller{
		sessions:  sessions,
		orders:    orders,
		gw:        gw,
		finalizer: finalizer,
		throttle:  throttle,
		now:       utcNow,
	}
}

// Poll возвращает состояние сессии. Пока сессия PENDING, спрашивает шлюз и
// применяет окончательный ответ через Finalizer. Недоступность шлюза не
// ошибка: клиент получает сохранённое состояние и повторит опрос позже.
// Чужая сессия неотличима от несуществующей.
func (p *StatusPoller) Poll(ctx context.Context, transactionID, userID string) (*SessionView, error) {
	ctx = logger.WithTransactionID(ctx, transactionID)
	ctx, span := tracing.StartSpan(ctx, "checkout.poll", transactionID)
	defer span.End()

	s, err := p.sessions.GetByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if !s.OwnedBy(userID) {
		return nil, domain.ErrSessionNotFound
	}

	if s.Status.IsTerminal() {
		return p.view(ctx, s)
	}

	if p.throttle != nil {
		ok, err := p.throttle.Allow(ctx, transactionID)
		if err != nil {
			logger.Ctx(ctx).Warn().Err(err).Msg("Throttle недоступен, опрашиваем шлюз")
		} else if !ok {
			return p.view(ctx, s)
		}
	}

	st, err := p.gw.CheckStatus(ctx, transactionID)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("Шлюз недоступен, отдаём сохранённый статус")
		return p.view(ctx, s)
	}
	if paidAmountMismatch(s, st.State, st.Amount) {
		securityEvent(ctx, domain.SourcePoll, fmt.Sprintf("сумма оплаты %s не совпадает с сессией %s", st.Amount, s.Amount))
		return p.view(ctx, s)
	}

	to, ok := resolveOutcome(s, st.State, p.now())
	if !ok {
		return p.view(ctx, s)
	}
	if to == domain.SessionStatusExpired && st.State == gateway.StateCompleted {
		warnLatePayment(ctx, s, domain.SourcePoll, st.GatewayTransactionID)
	}

	cur, _, err := p.finalizer.Finalize(ctx, transactionID, Outcome{
		To:                   to,
		Source:               domain.SourcePoll,
		GatewayTransactionID: st.GatewayTransactionID,
		FailureReason:        failureReason(st.Code, st.State),
	})
	var rerr *domain.ReconciliationError
	if err != nil && !errors.As(err, &rerr) {
		return nil, err
	}
	return p.view(ctx, cur)
}

func (p *StatusPoller) view(ctx context.Context, s *domain.PaymentSession) (*SessionView, error) {
	v := &SessionView{Session: s}
	if s.OrderID == nil {
		return v, nil
	}
	order, err := p.orders.GetByID(ctx, *s.OrderID)
	if err != nil {
		return nil, err
	}
	v.Order = order
	return v, nil
}
