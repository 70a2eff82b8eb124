package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// State Machine
// =============================================================================

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from SessionStatus
		to   SessionStatus
		ok   bool
	}{
		{"PENDING -> SUCCESS", SessionStatusPending, SessionStatusSuccess, true},
		{"PENDING -> FAILED", SessionStatusPending, SessionStatusFailed, true},
		{"PENDING -> EXPIRED", SessionStatusPending, SessionStatusExpired, true},
		{"PENDING -> PENDING", SessionStatusPending, SessionStatusPending, false},

		// Из терминальных статусов выхода нет
		{"EXPIRED -> SUCCESS", SessionStatusExpired, SessionStatusSuccess, false},
		{"SUCCESS -> FAILED", SessionStatusSuccess, SessionStatusFailed, false},
		{"FAILED -> SUCCESS", SessionStatusFailed, SessionStatusSuccess, false},
		{"SUCCESS -> EXPIRED", SessionStatusSuccess, SessionStatusExpired, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.ok, CanTransition(tt.from, tt.to))
		})
	}
}

func TestSessionStatus_IsTerminal(t *testing.T) {
	assert.False(t, SessionStatusPending.IsTerminal())
	assert.True(t, SessionStatusSuccess.IsTerminal())
	assert.True(t, SessionStatusFailed.IsTerminal())
	assert.True(t, SessionStatusExpired.IsTerminal())
}

func TestPaymentSession_Helpers(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := &PaymentSession{
		UserID:    "u1",
		Status:    SessionStatusSuccess,
		ExpiresAt: now.Add(15 * time.Minute),
		Items: []SessionItem{
			{CartItemID: "c2"},
			{CartItemID: "c1"},
		},
	}

	assert.Equal(t, []string{"c2", "c1"}, s.CartItemIDs())
	assert.True(t, s.OwnedBy("u1"))
	assert.False(t, s.OwnedBy("u2"))
	assert.False(t, s.IsExpired(now))
	assert.True(t, s.IsExpired(now.Add(16*time.Minute)))
	assert.True(t, s.NeedsMaterialization())
	assert.False(t, s.AwaitingReconciliation())

	s.MaterializationStatus = MaterializationFailed
	assert.True(t, s.AwaitingReconciliation())

	orderID := "o1"
	s.OrderID = &orderID
	assert.False(t, s.NeedsMaterialization())
}

// =============================================================================
// Amount
// =============================================================================

func TestAmount_JSON(t *testing.T) {
	data, err := json.Marshal(map[string]Amount{"amount": 49900})
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount":499.00}`, string(data))

	var got struct{ Amount Amount }
	require.NoError(t, json.Unmarshal([]byte(`{"Amount":12.5}`), &got))
	assert.Equal(t, Amount(1250), got.Amount)
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    Amount
		wantErr bool
	}{
		{"499", 49900, false},
		{"499.00", 49900, false},
		{"0.05", 5, false},
		{"-1.50", -150, false},
		{"1.234", 0, true},
		{"abc", 0, true},
		{"1.", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAmount(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// =============================================================================
// ShippingAddress
// =============================================================================

func validAddress() ShippingAddress {
	return ShippingAddress{
		Name:    "Asha Rao",
		Phone:   "9876543210",
		Address: "12 MG Road",
		City:    "Bengaluru",
		State:   "KA",
		Pincode: "560001",
	}
}

func TestShippingAddress_Validate(t *testing.T) {
	assert.NoError(t, validAddress().Validate())

	tests := []struct {
		name   string
		mutate func(*ShippingAddress)
		field  string
	}{
		{"без имени", func(a *ShippingAddress) { a.Name = "  " }, "shippingAddress.name"},
		{"без города", func(a *ShippingAddress) { a.City = "" }, "shippingAddress.city"},
		{"без индекса", func(a *ShippingAddress) { a.Pincode = "" }, "shippingAddress.pincode"},
		{"короткий телефон", func(a *ShippingAddress) { a.Phone = "12345" }, "shippingAddress.phone"},
		{"буквы в индексе", func(a *ShippingAddress) { a.Pincode = "56A001" }, "shippingAddress.pincode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := validAddress()
			tt.mutate(&a)

			err := a.Validate()

			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestShippingAddress_PhoneWithPlus(t *testing.T) {
	a := validAddress()
	a.Phone = "+919876543210"
	assert.NoError(t, a.Validate())
}

// =============================================================================
// Order
// =============================================================================

func TestNewOrderFromSession_UsesSnapshotPrices(t *testing.T) {
	now := time.Now()
	s := &PaymentSession{
		TransactionID:   "TXN1",
		UserID:          "u1",
		Amount:          49900,
		Currency:        "INR",
		ShippingAddress: validAddress(),
		Items: []SessionItem{
			{CartItemID: "c1", ProductID: "p1", Quantity: 2, Price: 14950},
			{CartItemID: "c2", ProductID: "p2", Quantity: 1, Price: 20000},
		},
	}

	o := NewOrderFromSession("o1", s, now)

	assert.Equal(t, Amount(49900), o.TotalAmount)
	assert.Equal(t, PaymentMethodOnline, o.PaymentMethod)
	assert.Equal(t, PaymentStatusPaid, o.PaymentStatus)
	require.Len(t, o.Items, 2)
	assert.Equal(t, Amount(14950), o.Items[0].Price)
	assert.Equal(t, "TXN1", *o.TransactionID)
	assert.Equal(t, s.ShippingAddress, o.ShippingAddress)
}

func TestNewCODOrder(t *testing.T) {
	cart := []CartItem{
		{ID: "c1", ProductID: "p1", Quantity: 3, Product: Product{ID: "p1", Price: 1000}},
	}

	o := NewCODOrder("o2", "u1", "INR", validAddress(), cart, time.Now())

	assert.Equal(t, Amount(3000), o.TotalAmount)
	assert.Equal(t, PaymentMethodCOD, o.PaymentMethod)
	assert.Equal(t, PaymentStatusPending, o.PaymentStatus)
	assert.Nil(t, o.TransactionID)
}

// =============================================================================
// Ошибки
// =============================================================================

func TestErrors(t *testing.T) {
	assert.True(t, IsNotFound(ErrCartItemsNotFound))
	assert.False(t, IsNotFound(ErrProductUnavailable))

	te := &TransportError{Op: "initiate", Err: errors.New("i/o timeout")}
	assert.True(t, IsTransport(te))
	assert.False(t, IsTransport(ErrAuthentication))

	inner := &InsufficientStockError{ProductID: "p1", Requested: 2, Available: 1}
	re := &ReconciliationError{TransactionID: "TXN1", Step: StepStockRecheck, Err: inner}
	var got *InsufficientStockError
	assert.ErrorAs(t, re, &got)
	assert.Contains(t, re.Error(), "TXN1")
}
