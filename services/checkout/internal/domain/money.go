package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Amount — денежная сумма в минимальных единицах валюты (пайсы, копейки).
// В JSON выводится десятичным числом с двумя знаками: 49900 -> 499.00.
type Amount int64

// String форматирует сумму как "499.00".
func (a Amount) String() string {
	sign := ""
	v := int64(a)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// MarshalJSON пишет сумму числом, а не строкой.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalJSON принимает число с не более чем двумя знаками после точки.
func (a *Amount) UnmarshalJSON(data []byte) error {
	v, err := ParseAmount(strings.Trim(string(data), `"`))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// ParseAmount разбирает "499", "499.5" или "499.00".
func ParseAmount(s string) (Amount, error) {
	whole, frac, hasFrac := strings.Cut(s, ".")
	if hasFrac {
		if len(frac) == 0 || len(frac) > 2 {
			return 0, fmt.Errorf("некорректная сумма %q", s)
		}
		frac += strings.Repeat("0", 2-len(frac))
	} else {
		frac = "00"
	}

	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректная сумма %q: %w", s, err)
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("некорректная сумма %q", s)
	}
	if w < 0 || strings.HasPrefix(whole, "-") {
		return Amount(w*100 - f), nil
	}
	return Amount(w*100 + f), nil
}

// Multiply — стоимость позиции: цена * количество.
func (a Amount) Multiply(quantity int) Amount {
	return a * Amount(quantity)
}
