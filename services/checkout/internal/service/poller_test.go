package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/storefront/pkg/metrics"
	"example.com/storefront/services/checkout/internal/domain"
	"example.com/storefront/services/checkout/internal/gateway"
)

func TestPoll_PendingStaysPending(t *testing.T) {
	env := newTestEnv(t)
	sum := env.createSession(t)

	v, err := env.poller.Poll(context.Background(), sum.TransactionID, testUser)

	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusPending, v.Session.Status)
	assert.Nil(t, v.Order)
}

func TestPoll_AppliesCompletedPayment(t *testing.T) {
	env := newTestEnv(t)
	sum := env.createSession(t)
	env.complete(t, sum.TransactionID, true) // callback потерян

	v, err := env.poller.Poll(context.Background(), sum.TransactionID, testUser)

	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusSuccess, v.Session.Status)
	require.NotNil(t, v.Order)
	assert.Equal(t, domain.Amount(49900), v.Order.TotalAmount)
	assert.Equal(t, "499.00", v.Order.TotalAmount.String())
	assert.Equal(t, 1, env.store.OrderCount())

	// Повторный опрос отдаёт тот же заказ.
	again, err := env.poller.Poll(context.Background(), sum.TransactionID, testUser)
	require.NoError(t, err)
	assert.Equal(t, v.Order.ID, again.Order.ID)
	assert.Equal(t, 1, env.store.OrderCount())
}

func TestPoll_CallbackAndPollRace(t *testing.T) {
	env := newTestEnv(t)
	sum := env.createSession(t)
	cb := env.complete(t, sum.TransactionID, true)

	done := make(chan error, 1)
	go func() {
		_, err := env.callbacks.HandleCallback(context.Background(), cb.Body, cb.Digest)
		done <- err
	}()
	_, pollErr := env.poller.Poll(context.Background(), sum.TransactionID, testUser)

	require.NoError(t, <-done)
	require.NoError(t, pollErr)
	assert.Equal(t, 1, env.store.OrderCount())
	assert.Equal(t, 1, env.store.CountEvents("payment_session.succeeded"))
}

func TestPoll_AppliesFailedPayment(t *testing.T) {
	env := newTestEnv(t)
	sum := env.createSession(t)
	env.complete(t, sum.TransactionID, false)

	v, err := env.poller.Poll(context.Background(), sum.TransactionID, testUser)

	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusFailed, v.Session.Status)
	assert.Nil(t, v.Order)
}

func TestPoll_ForeignSessionIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	sum := env.createSession(t)

	_, err := env.poller.Poll(context.Background(), sum.TransactionID, "user-2")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	_, err = env.poller.Poll(context.Background(), "TXN_MISSING", testUser)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestPoll_TransportErrorReturnsStoredState(t *testing.T) {
	env := newTestEnvWithGateway(t, func(m *gateway.MockGateway) gateway.Gateway {
		return &stubGateway{
			Gateway: m,
			status: func(context.Context, string) (*gateway.StatusResult, error) {
				return nil, &domain.TransportError{Op: "status", Err: errors.New("timeout")}
			},
		}
	})
	sum := env.createSession(t)

	v, err := env.poller.Poll(context.Background(), sum.TransactionID, testUser)

	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusPending, v.Session.Status)
	assert.Empty(t, env.store.Events())
}

func TestPoll_LatePaymentExpires(t *testing.T) {
	env := newTestEnv(t)
	sum := env.createSession(t)
	env.expire(sum.TransactionID)
	env.complete(t, sum.TransactionID, true)

	v, err := env.poller.Poll(context.Background(), sum.TransactionID, testUser)

	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusExpired, v.Session.Status)
	assert.Nil(t, v.Order)
	assert.Zero(t, env.store.OrderCount())
}

func TestPoll_Throttled(t *testing.T) {
	env := newTestEnv(t)
	env.poller.throttle = NewRedisThrottle(env.rdb, time.Minute)
	sum := env.createSession(t)
	ctx := context.Background()

	v, err := env.poller.Poll(ctx, sum.TransactionID, testUser)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusPending, v.Session.Status)

	env.complete(t, sum.TransactionID, true)

	// В пределах интервала шлюз не опрашивается.
	v, err = env.poller.Poll(ctx, sum.TransactionID, testUser)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusPending, v.Session.Status)

	env.mr.FastForward(2 * time.Minute)

	v, err = env.poller.Poll(ctx, sum.TransactionID, testUser)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusSuccess, v.Session.Status)
	assert.NotNil(t, v.Order)
}

func TestRedisThrottle_DisabledAlwaysAllows(t *testing.T) {
	env := newTestEnv(t)
	th := NewRedisThrottle(env.rdb, 0)

	for i := 0; i < 3; i++ {
		ok, err := th.Allow(context.Background(), "TXN1")
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

// Статус шлюза не подписан: подтверждение оплаты на другую сумму не должно
// создавать заказ на полную сумму сессии.
func TestPoll_AmountMismatchDoesNotComplete(t *testing.T) {
	env := newTestEnvWithGateway(t, func(m *gateway.MockGateway) gateway.Gateway {
		return &stubGateway{
			Gateway: m,
			status: func(context.Context, string) (*gateway.StatusResult, error) {
				return &gateway.StatusResult{
					Success:              true,
					State:                gateway.StateCompleted,
					Amount:               100,
					GatewayTransactionID: "GW-PARTIAL",
				}, nil
			},
		}
	})
	sum := env.createSession(t)
	logs := captureLogs(t)

	v, err := env.poller.Poll(context.Background(), sum.TransactionID, testUser)

	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusPending, v.Session.Status)
	assert.Nil(t, v.Order)
	assert.Zero(t, env.store.OrderCount())
	assert.Equal(t, 10, env.store.Stock("p-1"))
	assert.True(t, env.store.HasCartItem("ci-1"))
	assert.Empty(t, env.store.Events())

	s := env.session(t, sum.TransactionID)
	assert.Equal(t, domain.SessionStatusPending, s.Status)
	assert.Contains(t, logs.String(), `"security_event":true`)
}

func TestPoll_DoesNotCountGatewayRequests(t *testing.T) {
	calls := 0
	env := newTestEnvWithGateway(t, func(m *gateway.MockGateway) gateway.Gateway {
		return &stubGateway{
			Gateway: m,
			status: func(context.Context, string) (*gateway.StatusResult, error) {
				calls++
				return &gateway.StatusResult{Success: true, State: gateway.StatePending}, nil
			},
		}
	})
	sum := env.createSession(t)

	counter := metrics.GatewayRequests.WithLabelValues("status", "success")
	before := testutil.ToFloat64(counter)

	_, err := env.poller.Poll(context.Background(), sum.TransactionID, testUser)

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	// Обращение учитывает сама реализация шлюза, поллер его не дублирует.
	assert.Equal(t, before, testutil.ToFloat64(counter))
}
