package token

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// tokenBytes — 32 случайных байта дают 256 бит энтропии и 64 hex-символа,
// под колонку verification_token VARCHAR(64).
const tokenBytes = 32

// Issuer выпускает непрозрачные одноразовые токены для ссылок подтверждения.
// Issuer без состояния: уникальность среди активных токенов обеспечивает
// вызывающая сторона (уникальный индекс в БД и повтор выпуска при конфликте).
type Issuer interface {
	Issue() (string, error)
}

type hexIssuer struct{}

// NewIssuer возвращает Issuer на основе crypto/rand.
func NewIssuer() Issuer {
	return hexIssuer{}
}

func (hexIssuer) Issue() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("token: failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
