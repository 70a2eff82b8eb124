package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"example.com/storefront/pkg/circuitbreaker"
	"example.com/storefront/pkg/logger"
	"example.com/storefront/pkg/metrics"
	"example.com/storefront/services/checkout/internal/domain"
)

const (
	payPath    = "/pg/v1/pay"
	statusPath = "/pg/v1/status"

	headerVerify     = "X-VERIFY"
	headerMerchantID = "X-MERCHANT-ID"

	maxResponseBytes = 1 << 20
)

// Config — параметры подключения к шлюзу.
type Config struct {
	BaseURL     string
	MerchantID  string
	SaltKey     string
	SaltIndex   string
	RedirectURL string
	CallbackURL string
	Timeout     time.Duration
}

// payRequest — payload инициации, порядок полей фиксирован для подписи.
type payRequest struct {
	MerchantID            string            `json:"merchantId"`
	MerchantTransactionID string            `json:"merchantTransactionId"`
	MerchantUserID        string            `json:"merchantUserId"`
	Amount                int64             `json:"amount"`
	RedirectURL           string            `json:"redirectUrl"`
	RedirectMode          string            `json:"redirectMode"`
	CallbackURL           string            `json:"callbackUrl"`
	MobileNumber          string            `json:"mobileNumber,omitempty"`
	PaymentInstrument     paymentInstrument `json:"paymentInstrument"`
}

type paymentInstrument struct {
	Type string `json:"type"`
}

type payEnvelope struct {
	Request string `json:"request"`
}

type payData struct {
	MerchantTransactionID string `json:"merchantTransactionId"`
	TransactionID         string `json:"transactionId"`
	InstrumentResponse    struct {
		Type         string `json:"type"`
		RedirectInfo struct {
			URL    string `json:"url"`
			Method string `json:"method"`
		} `json:"redirectInfo"`
	} `json:"instrumentResponse"`
}

// Client — HTTP реализация Gateway.
type Client struct {
	*protocol
	cfg     Config
	http    *http.Client
	breaker *circuitbreaker.Breaker
}

var _ Gateway = (*Client)(nil)

// NewClient создаёт клиента. httpClient может быть nil.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		protocol: &protocol{signer: NewSigner(cfg.SaltKey, cfg.SaltIndex), ids: NewIDGenerator()},
		cfg:      cfg,
		http:     httpClient,
		breaker:  circuitbreaker.New("payment-gateway", domain.IsTransport),
	}
}

// buildPayPayload возвращает base64 payload инициации.
func (c *Client) buildPayPayload(req InitiateRequest) (string, error) {
	raw, err := json.Marshal(payRequest{
		MerchantID:            c.cfg.MerchantID,
		MerchantTransactionID: req.TransactionID,
		MerchantUserID:        merchantUserID(req.UserID),
		Amount:                int64(req.Amount),
		RedirectURL:           c.cfg.RedirectURL,
		RedirectMode:          "REDIRECT",
		CallbackURL:           c.cfg.CallbackURL,
		MobileNumber:          req.ContactNumber,
		PaymentInstrument:     paymentInstrument{Type: "PAY_PAGE"},
	})
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Initiate регистрирует оплату и возвращает ссылку на платёжную страницу.
func (c *Client) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	payload, err := c.buildPayPayload(req)
	if err != nil {
		return nil, fmt.Errorf("сборка payload: %w", err)
	}

	body, err := json.Marshal(payEnvelope{Request: payload})
	if err != nil {
		return nil, fmt.Errorf("сборка тела запроса: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+payPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("создание запроса: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(headerVerify, c.signer.Sign(payload, payPath))

	status, respBody, err := c.do(ctx, "initiate", httpReq)
	metrics.RecordGatewayRequest("initiate", err)
	if err != nil {
		return nil, err
	}

	var resp apiResponse
	if jsonErr := json.Unmarshal(respBody, &resp); jsonErr != nil {
		return &InitiateResult{Error: fmt.Sprintf("HTTP %d: некорректный ответ шлюза", status)}, nil
	}
	if status < 200 || status > 299 || !resp.Success {
		return &InitiateResult{Code: resp.Code, Error: fmt.Sprintf("HTTP %d: %s %s", status, resp.Code, resp.Message)}, nil
	}

	var data payData
	if len(resp.Data) > 0 {
		_ = json.Unmarshal(resp.Data, &data)
	}
	url := data.InstrumentResponse.RedirectInfo.URL
	if url == "" {
		return &InitiateResult{Code: resp.Code, Error: "шлюз не вернул ссылку на оплату"}, nil
	}

	return &InitiateResult{
		Success:              true,
		PaymentURL:           url,
		GatewayTransactionID: data.TransactionID,
		Code:                 resp.Code,
	}, nil
}

// CheckStatus запрашивает состояние транзакции.
// Подпись считается по пустому payload и пути запроса.
func (c *Client) CheckStatus(ctx context.Context, transactionID string) (*StatusResult, error) {
	path := fmt.Sprintf("%s/%s/%s", statusPath, c.cfg.MerchantID, transactionID)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("создание запроса: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(headerVerify, c.signer.Sign("", path))
	httpReq.Header.Set(headerMerchantID, c.cfg.MerchantID)

	status, respBody, err := c.do(ctx, "status", httpReq)
	metrics.RecordGatewayRequest("status", err)
	if err != nil {
		return nil, err
	}

	var resp apiResponse
	if jsonErr := json.Unmarshal(respBody, &resp); jsonErr != nil || status < 200 || status > 299 {
		return &StatusResult{State: StatePending, Code: resp.Code}, nil
	}

	var data transactionData
	if len(resp.Data) > 0 {
		_ = json.Unmarshal(resp.Data, &data)
	}

	return &StatusResult{
		Success:              resp.Success || resp.Code == CodePaymentError || resp.Code == CodePaymentDeclined,
		State:                ResolveState(resp.Code, data.State),
		Code:                 resp.Code,
		Amount:               domain.Amount(data.Amount),
		Method:               data.PaymentInstrument.Type,
		GatewayTransactionID: data.TransactionID,
	}, nil
}

// do выполняет запрос через circuit breaker. Ошибки сети, таймауты, TLS и
// открытый breaker превращаются в *domain.TransportError.
func (c *Client) do(ctx context.Context, op string, req *http.Request) (int, []byte, error) {
	var (
		status int
		body   []byte
	)

	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		resp, err := c.http.Do(req)
		if err != nil {
			return &domain.TransportError{Op: op, Err: err}
		}
		defer resp.Body.Close()

		body, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return &domain.TransportError{Op: op, Err: err}
		}
		status = resp.StatusCode
		return nil
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		err = &domain.TransportError{Op: op, Err: err}
	}
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("operation", op).Msg("Шлюз недоступен")
		return 0, nil, err
	}

	logger.Ctx(ctx).Debug().Str("operation", op).Int("http_status", status).Msg("Ответ платёжного шлюза")
	return status, body, nil
}

// merchantUserID — шлюз принимает только буквы и цифры.
func merchantUserID(userID string) string {
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return -1
	}, userID)
}
