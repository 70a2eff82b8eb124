package gateway

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/storefront/services/checkout/internal/domain"
)

func testProtocol() *protocol {
	return &protocol{signer: NewSigner(testSaltKey, testSaltIndex), ids: NewIDGenerator()}
}

func TestDecodeCallback_Golden(t *testing.T) {
	p := testProtocol()

	rec, err := p.DecodeCallback(readGolden(t, "callback_payload"))
	require.NoError(t, err)

	assert.Equal(t, testTxnID, rec.TransactionID)
	assert.Equal(t, "T2311011234567890", rec.GatewayTransactionID)
	assert.Equal(t, StateCompleted, rec.State)
	assert.Equal(t, domain.Amount(49900), rec.Amount)
	assert.Equal(t, "UPI", rec.Method)
}

func TestVerifyCallback_TamperedAmountRejected(t *testing.T) {
	p := testProtocol()
	payload := readGolden(t, "callback_payload")
	digest := readGolden(t, "callback_checksum")

	raw, err := base64.StdEncoding.DecodeString(payload)
	require.NoError(t, err)
	tampered := base64.StdEncoding.EncodeToString([]byte(strings.Replace(string(raw), `"amount":49900`, `"amount":100`, 1)))

	assert.True(t, p.VerifyCallback(payload, digest))
	assert.False(t, p.VerifyCallback(tampered, digest))
}

func TestVerifyCallback_MalformedInput(t *testing.T) {
	p := testProtocol()

	assert.False(t, p.VerifyCallback("", ""))
	assert.False(t, p.VerifyCallback("", readGolden(t, "callback_checksum")))
	assert.False(t, p.VerifyCallback("%%%not-base64%%%", "x###1"))
}

func TestDecodeCallback_Errors(t *testing.T) {
	p := testProtocol()
	enc := func(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

	tests := []struct {
		name    string
		payload string
	}{
		{"не base64", "%%%"},
		{"не json", enc("not json")},
		{"без data", enc(`{"success":true,"code":"PAYMENT_SUCCESS"}`)},
		{"data не объект", enc(`{"success":true,"data":"x"}`)},
		{"без merchantTransactionId", enc(`{"success":true,"data":{"state":"COMPLETED"}}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.DecodeCallback(tt.payload)
			assert.ErrorIs(t, err, domain.ErrCallbackDecode)
		})
	}
}

func TestEncodeCallback_RoundTrip(t *testing.T) {
	p := testProtocol()

	cb, err := p.encodeCallback(apiResponse{
		Success: false,
		Code:    CodePaymentDeclined,
		Data:    []byte(`{"merchantTransactionId":"TXN2","amount":100,"state":"FAILED"}`),
	})
	require.NoError(t, err)

	assert.True(t, p.VerifyCallback(cb.Payload, cb.Digest))
	assert.Contains(t, string(cb.Body), cb.Payload)

	rec, err := p.DecodeCallback(cb.Payload)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, rec.State)
}

func TestResolveState(t *testing.T) {
	tests := []struct {
		code, state string
		want        State
	}{
		{CodePaymentSuccess, "COMPLETED", StateCompleted},
		{"", "COMPLETED", StateCompleted},
		{CodePaymentError, "FAILED", StateFailed},
		{CodePaymentDeclined, "", StateFailed},
		{CodeTimedOut, "", StateFailed},
		{CodePaymentPending, "PENDING", StatePending},
		{CodeNotFound, "", StatePending},
		{"WEIRD", "COMPLETED", StatePending},
	}

	for _, tt := range tests {
		t.Run(tt.code+"/"+tt.state, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveState(tt.code, tt.state))
		})
	}
}
