package protocol

import (
	"crypto/rand"
	"fmt"
)

// Session codes are 8-character uppercase tokens. The registry treats codes
// as opaque strings; this alphabet only matters for generation.
const (
	CodeLength   = 8
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// GenerateCode returns a fresh session code using crypto/rand.
func GenerateCode() (string, error) {
	b := make([]byte, CodeLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("protocol: generate code: %w", err)
	}
	for i := range b {
		b[i] = codeAlphabet[int(b[i])%len(codeAlphabet)]
	}
	return string(b), nil
}
