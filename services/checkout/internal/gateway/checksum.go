package gateway

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

const checksumSeparator = "###"

// Signer считает X-VERIFY: sha256hex(payload + path + saltKey) + "###" + saltIndex.
//
// Для инициации payload — base64 тела, path — "/pg/v1/pay".
// Для статуса payload пустой, path — путь запроса статуса.
// Для callback path пустой, payload — base64 из поля response как есть.
type Signer struct {
	saltKey   string
	saltIndex string
}

// NewSigner создаёт Signer.
func NewSigner(saltKey, saltIndex string) Signer {
	return Signer{saltKey: saltKey, saltIndex: saltIndex}
}

// Sign возвращает значение заголовка X-VERIFY.
func (s Signer) Sign(payload, path string) string {
	sum := sha256.Sum256([]byte(payload + path + s.saltKey))
	return hex.EncodeToString(sum[:]) + checksumSeparator + s.saltIndex
}

// Verify сравнивает подпись за постоянное время.
// Любой некорректный ввод (пустая подпись, другая длина) даёт false.
func (s Signer) Verify(payload, path, supplied string) bool {
	if supplied == "" {
		return false
	}
	expected := s.Sign(payload, path)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(supplied)) == 1
}
