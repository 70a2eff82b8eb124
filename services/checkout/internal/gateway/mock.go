package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"example.com/storefront/pkg/logger"
	"example.com/storefront/pkg/metrics"
	"example.com/storefront/services/checkout/internal/domain"
)

const mockKeyPrefix = "mockpg:txn:"

// completeScript переводит транзакцию из PENDING в итоговое состояние.
// Возвращает 1, если переход выполнен, 0 — если состояние уже итоговое,
// -1 — если транзакции нет.
var completeScript = redis.NewScript(`
local state = redis.call("HGET", KEYS[1], "state")
if not state then
  return -1
end
if state ~= "PENDING" then
  return 0
end
redis.call("HSET", KEYS[1], "state", ARGV[1], "code", ARGV[2], "completed_at", ARGV[3])
return 1
`)

// MockConfig — параметры эмулятора.
type MockConfig struct {
	SaltKey    string
	SaltIndex  string
	PayPageURL string        // база ссылки на платёжную страницу
	TTL        time.Duration // сколько хранить транзакцию
}

// MockGateway эмулирует шлюз. Состояние транзакций хранится в Redis,
// поэтому переживает рестарт и общее для всех инстансов сервиса.
type MockGateway struct {
	*protocol
	rdb *redis.Client
	cfg MockConfig
}

var _ Gateway = (*MockGateway)(nil)

// NewMockGateway создаёт эмулятор поверх Redis.
func NewMockGateway(rdb *redis.Client, cfg MockConfig) *MockGateway {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	return &MockGateway{
		protocol: &protocol{signer: NewSigner(cfg.SaltKey, cfg.SaltIndex), ids: NewIDGenerator()},
		rdb:      rdb,
		cfg:      cfg,
	}
}

func mockKey(transactionID string) string {
	return mockKeyPrefix + transactionID
}

// Initiate сохраняет транзакцию в состоянии PENDING.
func (m *MockGateway) Initiate(ctx context.Context, req InitiateRequest) (_ *InitiateResult, err error) {
	defer func() { metrics.RecordGatewayRequest("initiate", err) }()
	key := mockKey(req.TransactionID)

	created, err := m.rdb.HSetNX(ctx, key, "state", string(StatePending)).Result()
	if err != nil {
		return nil, &domain.TransportError{Op: "initiate", Err: err}
	}
	if !created {
		return &InitiateResult{Code: "DUPLICATE_TRANSACTION", Error: "транзакция уже зарегистрирована"}, nil
	}

	gatewayTxnID := "MPG" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:20]

	pipe := m.rdb.TxPipeline()
	pipe.HSet(ctx, key,
		"amount", int64(req.Amount),
		"user_id", req.UserID,
		"gateway_transaction_id", gatewayTxnID,
		"created_at", time.Now().UTC().Format(time.RFC3339),
	)
	pipe.Expire(ctx, key, m.cfg.TTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, &domain.TransportError{Op: "initiate", Err: err}
	}

	logger.Ctx(logger.WithTransactionID(ctx, req.TransactionID)).Debug().Msg("Mock шлюз: транзакция зарегистрирована")

	return &InitiateResult{
		Success:              true,
		PaymentURL:           strings.TrimRight(m.cfg.PayPageURL, "/") + "/" + req.TransactionID,
		GatewayTransactionID: gatewayTxnID,
		Code:                 CodePaymentInitiated,
	}, nil
}

// CheckStatus читает состояние транзакции из Redis.
func (m *MockGateway) CheckStatus(ctx context.Context, transactionID string) (*StatusResult, error) {
	fields, err := m.rdb.HGetAll(ctx, mockKey(transactionID)).Result()
	metrics.RecordGatewayRequest("status", err)
	if err != nil {
		return nil, &domain.TransportError{Op: "status", Err: err}
	}
	if len(fields) == 0 {
		return &StatusResult{State: StatePending, Code: CodeNotFound}, nil
	}

	amount, _ := strconv.ParseInt(fields["amount"], 10, 64)
	state := State(fields["state"])

	return &StatusResult{
		Success:              true,
		State:                state,
		Code:                 codeForState(state),
		Amount:               domain.Amount(amount),
		Method:               "PAY_PAGE",
		GatewayTransactionID: fields["gateway_transaction_id"],
	}, nil
}

// Complete завершает оплату (success=true) или отклоняет её и возвращает
// подписанный callback. Повторный вызов не меняет состояние и возвращает
// callback с уже сохранённым итогом, как это делает настоящий шлюз при ретраях.
func (m *MockGateway) Complete(ctx context.Context, transactionID string, success bool) (*SignedCallback, error) {
	state := StateFailed
	if success {
		state = StateCompleted
	}

	key := mockKey(transactionID)
	res, err := completeScript.Run(ctx, m.rdb, []string{key},
		string(state), codeForState(state), time.Now().UTC().Format(time.RFC3339)).Int()
	if err != nil {
		return nil, fmt.Errorf("mock шлюз: завершение %s: %w", transactionID, err)
	}
	if res == -1 {
		return nil, fmt.Errorf("mock шлюз: транзакция %s: %w", transactionID, domain.ErrSessionNotFound)
	}

	fields, err := m.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("mock шлюз: чтение %s: %w", transactionID, err)
	}
	amount, _ := strconv.ParseInt(fields["amount"], 10, 64)
	final := State(fields["state"])

	data, err := json.Marshal(transactionData{
		MerchantTransactionID: transactionID,
		TransactionID:         fields["gateway_transaction_id"],
		Amount:                amount,
		State:                 string(final),
		ResponseCode:          codeForState(final),
		PaymentInstrument:     struct{ Type string `json:"type"` }{Type: "PAY_PAGE"},
	})
	if err != nil {
		return nil, err
	}

	return m.encodeCallback(apiResponse{
		Success: final == StateCompleted,
		Code:    codeForState(final),
		Message: "mock callback",
		Data:    data,
	})
}

func codeForState(s State) string {
	switch s {
	case StateCompleted:
		return CodePaymentSuccess
	case StateFailed:
		return CodePaymentError
	default:
		return CodePaymentPending
	}
}
