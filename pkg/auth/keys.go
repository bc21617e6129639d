package auth

import (
	"bytes"
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-jose/go-jose/v4"

	"github.com/redhat-et/card-broker/pkg/fault"
	"github.com/redhat-et/card-broker/pkg/storage"
)

// SigningKey is the private key used to sign client assertions. It is loaded
// once at startup and only read afterwards.
type SigningKey struct {
	Key   *rsa.PrivateKey
	KeyID string
}

// String never includes key material.
func (k *SigningKey) String() string {
	if k == nil || k.Key == nil {
		return "SigningKey{<empty>}"
	}
	return fmt.Sprintf("SigningKey{KeyID: %q, Bits: %d}", k.KeyID, k.Key.N.BitLen())
}

// KeySource yields raw key material.
type KeySource interface {
	ReadKey(ctx context.Context) ([]byte, error)
	String() string
}

// FileKeySource reads key material from a local file.
type FileKeySource string

func (f FileKeySource) ReadKey(_ context.Context) ([]byte, error) {
	return os.ReadFile(string(f))
}

func (f FileKeySource) String() string {
	return "file:" + string(f)
}

// ObjectKeySource reads key material from an object store.
type ObjectKeySource struct {
	Store storage.ObjectStore
	Key   string
}

func (o ObjectKeySource) ReadKey(ctx context.Context) ([]byte, error) {
	if o.Store == nil {
		return nil, errors.New("no object store configured")
	}
	rc, err := o.Store.GetObject(ctx, o.Key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (o ObjectKeySource) String() string {
	return "object:" + o.Key
}

// LoadSigningKey reads and parses a signing key. keyID overrides any id
// carried by a JWK document.
func LoadSigningKey(ctx context.Context, src KeySource, keyID string) (*SigningKey, error) {
	if src == nil {
		return nil, fault.New(fault.KindConfiguration, "signing key", "no key source configured")
	}
	data, err := src.ReadKey(ctx)
	if err != nil {
		return nil, fault.Wrap(fault.KindConfiguration, "signing key", fmt.Errorf("failed to read %s: %w", src, err))
	}
	return ParseSigningKey(data, keyID)
}

// ParseSigningKey accepts a PEM encoded RSA key (PKCS#1 or PKCS#8) or a
// private RSA JWK.
func ParseSigningKey(data []byte, keyID string) (*SigningKey, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fault.New(fault.KindConfiguration, "signing key", "key material is empty")
	}

	var (
		key *rsa.PrivateKey
		err error
	)
	if data[0] == '{' {
		key, keyID, err = parseJWK(data, keyID)
	} else {
		key, err = parsePEM(data)
	}
	if err != nil {
		return nil, fault.Wrap(fault.KindConfiguration, "signing key", err)
	}
	if err := key.Validate(); err != nil {
		return nil, fault.Wrap(fault.KindConfiguration, "signing key", fmt.Errorf("invalid RSA key: %w", err))
	}
	return &SigningKey{Key: key, KeyID: keyID}, nil
}

func parsePEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("failed to decode PEM key")
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		key, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("unsupported PKCS#8 key type %T, RSA required", parsed)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("unsupported key type: %s", block.Type)
	}
}

func parseJWK(data []byte, keyID string) (*rsa.PrivateKey, string, error) {
	var jwk jose.JSONWebKey
	if err := jwk.UnmarshalJSON(data); err != nil {
		return nil, "", fmt.Errorf("failed to parse JWK: %w", err)
	}
	key, ok := jwk.Key.(*rsa.PrivateKey)
	if !ok {
		return nil, "", fmt.Errorf("unsupported JWK key type %T, RSA private key required", jwk.Key)
	}
	if keyID == "" {
		keyID = jwk.KeyID
	}
	return key, keyID, nil
}
