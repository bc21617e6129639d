package cmd

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redhat-et/card-broker/pkg/auth"
	"github.com/redhat-et/card-broker/pkg/broker"
	"github.com/redhat-et/card-broker/pkg/config"
	"github.com/redhat-et/card-broker/pkg/fault"
)

func testConfig() *config.BrokerServiceConfig {
	cfg := &config.BrokerServiceConfig{}
	cfg.Client = config.ClientConfig{ClientID: "client-abc", ClientSecret: "secret-xyz", Audience: "https://auth.example.com"}
	cfg.Upstream = config.UpstreamConfig{
		APIBaseURL: "https://api.example.com",
		GrantMode:  "assertion",
		Timeout:    5 * time.Second,
	}
	cfg.Signing = config.SigningConfig{Algorithm: "RS256"}
	cfg.Broker = config.BrokerConfig{CacheTokens: true, ExpirySkew: 30 * time.Second, DefaultTokenTTL: time.Minute}
	return cfg
}

func writeKey(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "private-key.key")
	data := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestBuildBrokerAssertionMode(t *testing.T) {
	cfg := testConfig()
	cfg.Signing.KeyPath = writeKey(t)

	stack, err := buildBroker(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, broker.ModeAssertion, stack.broker.Mode())
	assert.Equal(t, "https://api.example.com/oauth/token", stack.broker.TokenURL())
	assert.IsType(t, &broker.CachedSource{}, stack.tokens)
	assert.Nil(t, stack.keyStore)
	assert.Equal(t, 5*time.Second, stack.client.Timeout)
}

func TestBuildBrokerSecretModeWithoutCache(t *testing.T) {
	cfg := testConfig()
	cfg.Upstream.GrantMode = "client_secret"
	cfg.Upstream.TokenURL = "https://auth.example.com/token"
	cfg.Broker.CacheTokens = false

	stack, err := buildBroker(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, broker.ModeClientSecret, stack.broker.Mode())
	assert.Equal(t, "https://auth.example.com/token", stack.broker.TokenURL())
	assert.Same(t, stack.broker, stack.tokens)
}

func TestBuildBrokerMissingKey(t *testing.T) {
	cfg := testConfig()
	cfg.Signing.KeyPath = filepath.Join(t.TempDir(), "absent.key")

	_, err := buildBroker(context.Background(), cfg)
	assert.True(t, fault.Is(err, fault.KindConfiguration))
}

func TestKeySourceFile(t *testing.T) {
	src, store, err := keySource(context.Background(), testConfig(), "/etc/card-broker/key.pem")
	require.NoError(t, err)
	assert.Nil(t, store)
	assert.Equal(t, auth.FileKeySource("/etc/card-broker/key.pem"), src)
}

func TestKeySourceBadURI(t *testing.T) {
	_, _, err := keySource(context.Background(), testConfig(), "s3://")
	assert.True(t, fault.Is(err, fault.KindConfiguration))
}
