package security_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"strings"
	"testing"

	"github.com/vyris/vyris-backend/pkg/security"
)

func TestSecureToken(t *testing.T) {
	a, err := security.SecureToken(security.DefaultTokenBytes)
	if err != nil {
		t.Fatalf("SecureToken returned error: %v", err)
	}
	b, _ := security.SecureToken(security.DefaultTokenBytes)
	if a == b {
		t.Fatal("tokens should be unique")
	}
	decoded, err := base64.RawURLEncoding.DecodeString(a)
	if err != nil {
		t.Fatalf("token is not base64url: %v", err)
	}
	if len(decoded) != security.DefaultTokenBytes {
		t.Fatalf("expected %d bytes, got %d", security.DefaultTokenBytes, len(decoded))
	}
	if _, err := security.SecureToken(0); err == nil {
		t.Fatal("expected error for zero length")
	}
}

func TestHashToken(t *testing.T) {
	digest := security.HashToken("token-a")
	if len(digest) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(digest))
	}
	if digest != security.HashToken("token-a") {
		t.Fatal("digest must be deterministic")
	}
	if security.HashToken("token-b") == digest {
		t.Fatal("different tokens must not share a digest")
	}
}

func TestParseP256PublicKey(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	pemKey := encodePublicKey(t, &key.PublicKey)

	parsed, err := security.ParseP256PublicKey("\n  " + pemKey + "\n")
	if err != nil {
		t.Fatalf("expected valid key, got %v", err)
	}
	if !parsed.Equal(&key.PublicKey) {
		t.Fatal("parsed key does not match")
	}

	normalized, err := security.NormalizePublicKeyPEM("  " + pemKey)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if normalized != pemKey {
		t.Fatalf("normalized key differs:\n%s\n%s", normalized, pemKey)
	}
}

func TestParseP256PublicKeyRejects(t *testing.T) {
	p384, _ := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	rsaKey, _ := rsa.GenerateKey(rand.Reader, 1024)

	cases := map[string]string{
		"empty":      "",
		"not pem":    "hello",
		"wrong type": strings.Replace(encodePublicKey(t, &p384.PublicKey), "PUBLIC KEY", "PRIVATE KEY", 2),
		"p384":       encodePublicKey(t, &p384.PublicKey),
		"rsa":        encodePublicKey(t, &rsaKey.PublicKey),
		"garbage":    "-----BEGIN PUBLIC KEY-----\nAAAA\n-----END PUBLIC KEY-----\n",
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := security.ParseP256PublicKey(input); !errors.Is(err, security.ErrInvalidPublicKey) {
				t.Fatalf("expected ErrInvalidPublicKey, got %v", err)
			}
		})
	}
}

func encodePublicKey(t *testing.T, pub any) string {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}
