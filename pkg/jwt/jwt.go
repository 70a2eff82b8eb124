// Package jwt проверяет access-токены RS256, выданные внешним сервисом
// авторизации. Storefront держит только публичный ключ и токены не выпускает.
package jwt

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
)

// ErrTokenRevoked — токен отозван через blacklist.
var ErrTokenRevoked = errors.New("токен отозван")

// Claims — полезная нагрузка access-токена.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
	Role   string `json:"role,omitempty"`
}

// Verifier проверяет подпись, срок действия, издателя и отзыв токена.
type Verifier struct {
	publicKey *rsa.PublicKey
	issuer    string
	blacklist *Blacklist
}

// NewVerifier создаёт Verifier. blacklist может быть nil.
func NewVerifier(publicKey *rsa.PublicKey, issuer string, blacklist *Blacklist) *Verifier {
	return &Verifier{publicKey: publicKey, issuer: issuer, blacklist: blacklist}
}

// NewVerifierFromFile загружает публичный ключ из PEM файла.
func NewVerifierFromFile(path, issuer string, blacklist *Blacklist) (*Verifier, error) {
	key, err := LoadPublicKey(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки публичного ключа: %w", err)
	}
	return NewVerifier(key, issuer, blacklist), nil
}

// ValidateToken проверяет токен и возвращает claims.
func (v *Verifier) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (any, error) {
		return v.publicKey, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("ошибка валидации токена: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, fmt.Errorf("невалидные claims токена")
	}

	if v.blacklist == nil {
		return claims, nil
	}

	revoked, err := v.blacklist.Check(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrTokenRevoked
	}

	if claims.IssuedAt != nil {
		invalidated, err := v.blacklist.IsUserInvalidated(ctx, claims.UserID, claims.IssuedAt.Time)
		if err != nil {
			return nil, err
		}
		if invalidated {
			return nil, ErrTokenRevoked
		}
	}

	return claims, nil
}

// LoadPublicKey читает RSA публичный ключ (PKIX или PKCS#1) из PEM файла.
func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла %s: %w", path, err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("не удалось декодировать PEM блок из %s", path)
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return x509.ParsePKCS1PublicKey(block.Bytes)
	}

	rsaKey, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("ключ не является RSA публичным ключом")
	}
	return rsaKey, nil
}
