package domain

import (
	"strings"
	"unicode"
)

// ShippingAddress — адрес доставки. В сессии хранится как неизменяемый снимок
// и копируется в заказ без повторного чтения профиля пользователя.
type ShippingAddress struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	City    string `json:"city"`
	State   string `json:"state"`
	Pincode string `json:"pincode"`
}

// Validate проверяет обязательные поля. Возвращает *ValidationError.
func (a ShippingAddress) Validate() error {
	required := []struct {
		field string
		value string
	}{
		{"name", a.Name},
		{"phone", a.Phone},
		{"address", a.Address},
		{"city", a.City},
		{"state", a.State},
		{"pincode", a.Pincode},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return &ValidationError{Field: "shippingAddress." + r.field, Message: "обязательное поле"}
		}
	}

	if !digitsBetween(strings.TrimPrefix(strings.TrimSpace(a.Phone), "+"), 10, 15) {
		return &ValidationError{Field: "shippingAddress.phone", Message: "ожидается от 10 до 15 цифр"}
	}
	if !digitsBetween(strings.TrimSpace(a.Pincode), 4, 10) {
		return &ValidationError{Field: "shippingAddress.pincode", Message: "ожидается от 4 до 10 цифр"}
	}
	return nil
}

// Normalize убирает пробелы по краям всех полей.
func (a ShippingAddress) Normalize() ShippingAddress {
	return ShippingAddress{
		Name:    strings.TrimSpace(a.Name),
		Phone:   strings.TrimSpace(a.Phone),
		Address: strings.TrimSpace(a.Address),
		City:    strings.TrimSpace(a.City),
		State:   strings.TrimSpace(a.State),
		Pincode: strings.TrimSpace(a.Pincode),
	}
}

func digitsBetween(s string, minLen, maxLen int) bool {
	if len(s) < minLen || len(s) > maxLen {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
