package gateway

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"
	"unicode"
)

const (
	txnPrefix     = "TXN"
	userSuffixLen = 4
	randomLen     = 6
	txnAlphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// IDGenerator выдаёт transaction_id: TXN + монотонные миллисекунды +
// хвост id пользователя + случайный суффикс. Миллисекунды строго растут
// в пределах процесса, даже если часы отстают или вызовы идут в одну мс.
type IDGenerator struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// NewIDGenerator создаёт генератор на системных часах.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{now: time.Now}
}

// Next возвращает новый transaction_id.
func (g *IDGenerator) Next(userID string) string {
	g.mu.Lock()
	ms := g.now().UnixMilli()
	if ms <= g.last {
		ms = g.last + 1
	}
	g.last = ms
	g.mu.Unlock()

	return fmt.Sprintf("%s%d%s%s", txnPrefix, ms, userSuffix(userID), randomString(randomLen))
}

// userSuffix — последние символы id пользователя (только A-Z0-9),
// чтобы оператор видел владельца по transaction_id.
func userSuffix(userID string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(userID) {
		if r < unicode.MaxASCII && (unicode.IsDigit(r) || unicode.IsUpper(r)) {
			b.WriteRune(r)
		}
	}
	s := b.String()
	if len(s) >= userSuffixLen {
		return s[len(s)-userSuffixLen:]
	}
	return strings.Repeat("X", userSuffixLen-len(s)) + s
}

func randomString(n int) string {
	buf := make([]byte, n)
	max := big.NewInt(int64(len(txnAlphabet)))
	for i := range buf {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand не отказывает на поддерживаемых платформах
			panic(fmt.Sprintf("crypto/rand: %v", err))
		}
		buf[i] = txnAlphabet[idx.Int64()]
	}
	return string(buf)
}
