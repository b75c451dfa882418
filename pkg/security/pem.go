package security

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

const publicKeyBlockType = "PUBLIC KEY"

var (
	// ErrInvalidPublicKey is returned for anything that is not a PEM SPKI P-256 key.
	ErrInvalidPublicKey = errors.New("invalid public key")
)

// ParseP256PublicKey decodes a PEM encoded SubjectPublicKeyInfo and requires an
// ECDSA key on the P-256 curve.
func ParseP256PublicKey(raw string) (*ecdsa.PublicKey, error) {
	block, rest := pem.Decode([]byte(raw))
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block", ErrInvalidPublicKey)
	}
	if block.Type != publicKeyBlockType {
		return nil, fmt.Errorf("%w: unexpected block %q", ErrInvalidPublicKey, block.Type)
	}
	if len(trimSpace(rest)) > 0 {
		return nil, fmt.Errorf("%w: trailing data after PEM block", ErrInvalidPublicKey)
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	key, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: expected ECDSA key, got %T", ErrInvalidPublicKey, parsed)
	}
	if key.Curve != elliptic.P256() {
		return nil, fmt.Errorf("%w: expected P-256 curve, got %s", ErrInvalidPublicKey, key.Curve.Params().Name)
	}
	return key, nil
}

// NormalizePublicKeyPEM re-encodes a valid key in canonical PEM form so stored
// keys compare byte for byte.
func NormalizePublicKeyPEM(raw string) (string, error) {
	key, err := ParseP256PublicKey(raw)
	if err != nil {
		return "", err
	}
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: publicKeyBlockType, Bytes: der})), nil
}

func trimSpace(b []byte) []byte {
	start, end := 0, len(b)
	for start < end && isSpace(b[start]) {
		start++
	}
	for end > start && isSpace(b[end-1]) {
		end--
	}
	return b[start:end]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t'
}
