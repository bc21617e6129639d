package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TestKeyPair holds an RSA key pair for testing.
type TestKeyPair struct {
	PrivateKey *rsa.PrivateKey
	PublicKey  *rsa.PublicKey
	Kid        string
}

// GenerateTestKeyPair creates a new RSA key pair for testing.
func GenerateTestKeyPair(t *testing.T, kid string) *TestKeyPair {
	t.Helper()
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate RSA key: %v", err)
	}
	return &TestKeyPair{
		PrivateKey: privateKey,
		PublicKey:  &privateKey.PublicKey,
		Kid:        kid,
	}
}

// SigningKey wraps the private half for the signer.
func (k *TestKeyPair) SigningKey() *SigningKey {
	return &SigningKey{Key: k.PrivateKey, KeyID: k.Kid}
}

// PKCS1PEM encodes the private key as "RSA PRIVATE KEY".
func (k *TestKeyPair) PKCS1PEM() []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(k.PrivateKey),
	})
}

// PKCS8PEM encodes the private key as "PRIVATE KEY".
func (k *TestKeyPair) PKCS8PEM(t *testing.T) []byte {
	t.Helper()
	der, err := x509.MarshalPKCS8PrivateKey(k.PrivateKey)
	if err != nil {
		t.Fatalf("Failed to marshal PKCS8 key: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
}

// ParseAssertion verifies an assertion against the public key and returns
// its registered claims.
func (k *TestKeyPair) ParseAssertion(t *testing.T, raw string, alg string) *jwt.RegisteredClaims {
	t.Helper()
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(_ *jwt.Token) (interface{}, error) {
		return k.PublicKey, nil
	}, jwt.WithValidMethods([]string{alg}))
	if err != nil {
		t.Fatalf("Failed to verify assertion: %v", err)
	}
	return claims
}

// BuildAccessToken mints an upstream-style access token.
func (k *TestKeyPair) BuildAccessToken(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Issuer:    "http://test-issuer",
		Subject:   "test-client",
		Audience:  jwt.ClaimStrings{"test-audience"},
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = k.Kid
	signed, err := token.SignedString(k.PrivateKey)
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return signed
}
