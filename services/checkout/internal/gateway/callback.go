package gateway

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"example.com/storefront/services/checkout/internal/domain"
)

// apiResponse — общий конверт ответов шлюза и callback.
type apiResponse struct {
	Success bool            `json:"success"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// transactionData — data в ответе статуса и в callback.
type transactionData struct {
	MerchantID            string `json:"merchantId"`
	MerchantTransactionID string `json:"merchantTransactionId"`
	TransactionID         string `json:"transactionId"`
	Amount                int64  `json:"amount"`
	State                 string `json:"state"`
	ResponseCode          string `json:"responseCode"`
	PaymentInstrument     struct {
		Type string `json:"type"`
	} `json:"paymentInstrument"`
}

// CallbackEnvelope — тело POST callback: {"response": "<base64>"}.
type CallbackEnvelope struct {
	Response string `json:"response"`
}

// protocol — общая часть обеих реализаций Gateway.
type protocol struct {
	signer Signer
	ids    *IDGenerator
}

func (p *protocol) GenerateTransactionID(userID string) string {
	return p.ids.Next(userID)
}

func (p *protocol) VerifyCallback(rawPayload, digest string) bool {
	if rawPayload == "" {
		return false
	}
	return p.signer.Verify(rawPayload, "", digest)
}

func (p *protocol) DecodeCallback(rawPayload string) (*CallbackRecord, error) {
	decoded, err := base64.StdEncoding.DecodeString(rawPayload)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", domain.ErrCallbackDecode, err)
	}

	var resp apiResponse
	if err := json.Unmarshal(decoded, &resp); err != nil {
		return nil, fmt.Errorf("%w: json: %v", domain.ErrCallbackDecode, err)
	}

	var data transactionData
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: нет поля data", domain.ErrCallbackDecode)
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return nil, fmt.Errorf("%w: data: %v", domain.ErrCallbackDecode, err)
	}
	if data.MerchantTransactionID == "" {
		return nil, fmt.Errorf("%w: нет merchantTransactionId", domain.ErrCallbackDecode)
	}

	return &CallbackRecord{
		TransactionID:        data.MerchantTransactionID,
		GatewayTransactionID: data.TransactionID,
		State:                ResolveState(resp.Code, data.State),
		Code:                 resp.Code,
		Amount:               domain.Amount(data.Amount),
		Method:               data.PaymentInstrument.Type,
	}, nil
}

// encodeCallback собирает и подписывает callback так же, как это делает шлюз.
func (p *protocol) encodeCallback(resp apiResponse) (*SignedCallback, error) {
	raw, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	payload := base64.StdEncoding.EncodeToString(raw)

	body, err := json.Marshal(CallbackEnvelope{Response: payload})
	if err != nil {
		return nil, err
	}
	return &SignedCallback{
		Body:    body,
		Payload: payload,
		Digest:  p.signer.Sign(payload, ""),
	}, nil
}

// SignedCallback — готовый к отправке callback.
type SignedCallback struct {
	Body    []byte // JSON конверт
	Payload string // base64 из конверта
	Digest  string // значение X-VERIFY
}
