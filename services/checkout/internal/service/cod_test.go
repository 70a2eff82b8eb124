package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/storefront/services/checkout/internal/domain"
)

func TestCOD_PlaceOrder(t *testing.T) {
	env := newTestEnv(t)
	cod := NewCODService(env.store, env.store, "INR")

	order, err := cod.PlaceOrder(context.Background(), testUser, testRequest())

	require.NoError(t, err)
	assert.Equal(t, domain.PaymentMethodCOD, order.PaymentMethod)
	assert.Equal(t, domain.PaymentStatusPending, order.PaymentStatus)
	assert.Equal(t, domain.Amount(49900), order.TotalAmount)
	assert.Nil(t, order.TransactionID)
	assert.Equal(t, 9, env.store.Stock("p-1"))
	assert.Equal(t, 8, env.store.Stock("p-2"))
	assert.False(t, env.store.HasCartItem("ci-1"))

	// Платёжных сессий COD не создаёт.
	assert.Zero(t, env.store.CountEvents("payment_session.succeeded"))
	assert.Equal(t, 1, env.store.CountEvents("order.materialized"))
}

func TestCOD_RejectsInvalidCart(t *testing.T) {
	env := newTestEnv(t)
	cod := NewCODService(env.store, env.store, "INR")
	env.store.SetStock("p-1", 0)

	_, err := cod.PlaceOrder(context.Background(), testUser, testRequest())

	var se *domain.InsufficientStockError
	require.ErrorAs(t, err, &se)
	assert.Zero(t, env.store.OrderCount())
	assert.True(t, env.store.HasCartItem("ci-2"))
}

func TestOrderReader_OwnerOnly(t *testing.T) {
	env := newTestEnv(t)
	cod := NewCODService(env.store, env.store, "INR")
	order, err := cod.PlaceOrder(context.Background(), testUser, testRequest("ci-1"))
	require.NoError(t, err)

	reader := NewOrderReader(env.store)

	got, err := reader.GetOrder(context.Background(), order.ID, testUser)
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)
	assert.Equal(t, domain.Amount(29900), got.TotalAmount)

	_, err = reader.GetOrder(context.Background(), order.ID, "user-2")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)

	_, err = reader.GetOrder(context.Background(), "missing", testUser)
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}
