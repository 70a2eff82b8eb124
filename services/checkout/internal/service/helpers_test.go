package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"example.com/storefront/pkg/logger"
	"example.com/storefront/services/checkout/internal/domain"
	"example.com/storefront/services/checkout/internal/gateway"
	"example.com/storefront/services/checkout/internal/testutil"
)

const (
	testSaltKey   = "099eb0cd-02cf-4e2a-8aca-3e6c6aff0399"
	testSaltIndex = "1"
	testUser      = "user-1"
)

// testEnv — сервисы checkout поверх in-memory хранилища и mock шлюза.
type testEnv struct {
	store        *testutil.Store
	mr           *miniredis.Miniredis
	rdb          *redis.Client
	gw           *gateway.MockGateway
	materializer *Materializer
	finalizer    *Finalizer
	manager      *SessionManager
	callbacks    *CallbackHandler
	poller       *StatusPoller
	reaper       *Reaper
	reconciler   *Reconciler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithGateway(t, nil)
}

// newTestEnvWithGateway подменяет шлюз для менеджера, поллера и reaper.
// nil — использовать mock шлюз как есть.
func newTestEnvWithGateway(t *testing.T, wrap func(*gateway.MockGateway) gateway.Gateway) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	mock := gateway.NewMockGateway(rdb, gateway.MockConfig{
		SaltKey:    testSaltKey,
		SaltIndex:  testSaltIndex,
		PayPageURL: "http://localhost:8080/api/v1/payment/mock",
		TTL:        time.Hour,
	})
	var gw gateway.Gateway = mock
	if wrap != nil {
		gw = wrap(mock)
	}

	store := testutil.NewStore()
	seedCatalog(store)

	materializer := NewMaterializer(store, store)
	finalizer := NewFinalizer(store, materializer)

	return &testEnv{
		store:        store,
		mr:           mr,
		rdb:          rdb,
		gw:           mock,
		materializer: materializer,
		finalizer:    finalizer,
		manager:      NewSessionManager(store, store, gw, finalizer, SessionManagerConfig{TTL: 15 * time.Minute, Currency: "INR"}),
		callbacks:    NewCallbackHandler(store, gw, finalizer),
		poller:       NewStatusPoller(store, store, gw, finalizer, nil),
		reaper: NewReaper(store, gw, finalizer, materializer, ReaperConfig{
			Interval:     time.Minute,
			BatchSize:    10,
			StalledAfter: 2 * time.Minute,
		}),
		reconciler: NewReconciler(store, materializer),
	}
}

// seedCatalog: корзина testUser на 499.00 (1 x 299.00 + 2 x 100.00).
func seedCatalog(st *testutil.Store) {
	st.AddProduct(domain.Product{ID: "p-1", Name: "Кружка", Price: 29900, Stock: 10, Active: true})
	st.AddProduct(domain.Product{ID: "p-2", Name: "Открытка", Price: 10000, Stock: 10, Active: true})
	st.AddCartItem(domain.CartItem{ID: "ci-1", UserID: testUser, ProductID: "p-1", Quantity: 1})
	st.AddCartItem(domain.CartItem{ID: "ci-2", UserID: testUser, ProductID: "p-2", Quantity: 2})
}

func testAddress() domain.ShippingAddress {
	return domain.ShippingAddress{
		Name:    "Asha Rao",
		Phone:   "9876543210",
		Address: "12 MG Road",
		City:    "Bengaluru",
		State:   "KA",
		Pincode: "560001",
	}
}

func testRequest(ids ...string) CheckoutRequest {
	if len(ids) == 0 {
		ids = []string{"ci-1", "ci-2"}
	}
	return CheckoutRequest{ShippingAddress: testAddress(), CartItemIDs: ids}
}

func (e *testEnv) createSession(t *testing.T) *SessionSummary {
	t.Helper()
	sum, err := e.manager.CreateSession(context.Background(), testUser, testRequest())
	require.NoError(t, err)
	return sum
}

func (e *testEnv) session(t *testing.T, txn string) *domain.PaymentSession {
	t.Helper()
	s, err := e.store.GetByTransactionID(context.Background(), txn)
	require.NoError(t, err)
	return s
}

// complete завершает оплату в mock шлюзе и возвращает подписанный callback.
func (e *testEnv) complete(t *testing.T, txn string, success bool) *gateway.SignedCallback {
	t.Helper()
	cb, err := e.gw.Complete(context.Background(), txn, success)
	require.NoError(t, err)
	return cb
}

func (e *testEnv) expire(txn string) {
	e.store.UpdateSession(txn, func(s *domain.PaymentSession) {
		s.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	})
}

// forgeCallback собирает callback с произвольными данными и подписью верной солью.
func forgeCallback(t *testing.T, txn string, amount int64, state string) (body []byte, digest string) {
	t.Helper()

	data, err := json.Marshal(map[string]any{
		"merchantTransactionId": txn,
		"transactionId":         "FORGED1",
		"amount":                amount,
		"state":                 state,
		"responseCode":          gateway.CodePaymentSuccess,
	})
	require.NoError(t, err)
	raw, err := json.Marshal(map[string]any{
		"success": true,
		"code":    gateway.CodePaymentSuccess,
		"message": "forged",
		"data":    json.RawMessage(data),
	})
	require.NoError(t, err)

	payload := base64.StdEncoding.EncodeToString(raw)
	body, err = json.Marshal(gateway.CallbackEnvelope{Response: payload})
	require.NoError(t, err)
	return body, gateway.NewSigner(testSaltKey, testSaltIndex).Sign(payload, "")
}

// stubGateway переопределяет отдельные методы шлюза.
type stubGateway struct {
	gateway.Gateway
	initiate func(ctx context.Context, req gateway.InitiateRequest) (*gateway.InitiateResult, error)
	status   func(ctx context.Context, txn string) (*gateway.StatusResult, error)
}

func (s *stubGateway) Initiate(ctx context.Context, req gateway.InitiateRequest) (*gateway.InitiateResult, error) {
	if s.initiate != nil {
		return s.initiate(ctx, req)
	}
	return s.Gateway.Initiate(ctx, req)
}

func (s *stubGateway) CheckStatus(ctx context.Context, txn string) (*gateway.StatusResult, error) {
	if s.status != nil {
		return s.status(ctx, txn)
	}
	return s.Gateway.CheckStatus(ctx, txn)
}

// captureLogs перенаправляет глобальный логгер в буфер до конца теста.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := logger.Logger()
	logger.SetGlobalLogger(zerolog.New(&buf))
	t.Cleanup(func() { logger.SetGlobalLogger(prev) })
	return &buf
}

// logLines разбивает JSON вывод zerolog на строки.
func logLines(buf *bytes.Buffer) []string {
	return strings.Split(strings.TrimSpace(buf.String()), "\n")
}
