package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redhat-et/card-broker/pkg/fault"
)

func validConfig(t *testing.T) *BrokerServiceConfig {
	t.Helper()
	return &BrokerServiceConfig{
		Client: ClientConfig{ClientID: "client", Audience: "https://aud.example.com"},
		Signing: SigningConfig{
			KeyPath:   "./private-key.key",
			Algorithm: "RS256",
		},
		Upstream: UpstreamConfig{
			APIBaseURL: "https://api.example.com",
			GrantMode:  "assertion",
			Timeout:    10 * time.Second,
		},
	}
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("PORT", "")
	t.Setenv("HOST", "")

	v := InitViper("broker-service")
	var cfg BrokerServiceConfig
	require.NoError(t, Load(v, &cfg))

	assert.Equal(t, 3000, cfg.Service.Port)
	assert.Equal(t, 3100, cfg.Service.HealthPort)
	assert.Equal(t, []string{"*"}, cfg.Service.CORSOrigins)
	assert.Equal(t, "assertion", cfg.Upstream.GrantMode)
	assert.Equal(t, "https://public-api.br.clara.com", cfg.Upstream.APIBaseURL)
	assert.Equal(t, 10*time.Second, cfg.Upstream.Timeout)
	assert.True(t, cfg.Broker.CacheTokens)
	assert.Equal(t, 30*time.Second, cfg.Broker.ExpirySkew)
	assert.Equal(t, 5*time.Minute, cfg.Broker.DefaultTokenTTL)
	assert.Equal(t, "0.0.0.0:3000", cfg.Service.Addr())
	assert.Equal(t, "0.0.0.0:3100", cfg.Service.HealthAddr())
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	yaml := `
service:
  port: 9000
client:
  client_id: from-file
  audience: https://aud.example.com
upstream:
  grant_mode: client_secret
  scopes: [cards:read, users:read]
  timeout: 3s
broker:
  cache_tokens: false
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))
	t.Setenv("CARD_BROKER_CLIENT_CLIENT_SECRET", "env-secret")
	t.Setenv("PORT", "8088")

	v := InitViper("broker-service")
	var cfg BrokerServiceConfig
	require.NoError(t, Load(v, &cfg))

	assert.Equal(t, 8088, cfg.Service.Port)
	assert.Equal(t, "from-file", cfg.Client.ClientID)
	assert.Equal(t, "env-secret", cfg.Client.ClientSecret)
	assert.Equal(t, "client_secret", cfg.Upstream.GrantMode)
	assert.Equal(t, []string{"cards:read", "users:read"}, cfg.Upstream.Scopes)
	assert.Equal(t, 3*time.Second, cfg.Upstream.Timeout)
	assert.False(t, cfg.Broker.CacheTokens)
}

func TestLoadClientConfigFromEnv(t *testing.T) {
	t.Setenv("CLIENT_ID", "env-client")
	t.Setenv("CLIENT_SECRET", "env-secret")
	t.Setenv("AUDIENCE", " https://aud.example.com ")
	t.Setenv("PRIVATE_KEY_PATH", "/keys/client.pem")

	cfg := validConfig(t)
	LoadClientConfigFromEnv(cfg)
	cfg.Normalize()

	assert.Equal(t, "env-client", cfg.Client.ClientID)
	assert.Equal(t, "env-secret", cfg.Client.ClientSecret)
	assert.Equal(t, "https://aud.example.com", cfg.Client.Audience)
	assert.Equal(t, "/keys/client.pem", cfg.Signing.KeyPath)
	assert.NotContains(t, cfg.Client.String(), "env-secret")
}

func TestLoadCredentialsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token-data.json")
	require.NoError(t, os.WriteFile(path,
		[]byte(`{"clientId":"file-client","clientSecret":"file-secret","audience":"https://aud.example.com "}`), 0o600))

	cfg := &BrokerServiceConfig{Client: ClientConfig{ClientID: "configured", CredentialsFile: path}}
	require.NoError(t, LoadCredentialsFile(cfg))
	assert.Equal(t, "configured", cfg.Client.ClientID)
	assert.Equal(t, "file-secret", cfg.Client.ClientSecret)
	assert.Equal(t, "https://aud.example.com ", cfg.Client.Audience)

	cfg = &BrokerServiceConfig{Client: ClientConfig{CredentialsFile: filepath.Join(t.TempDir(), "missing.json")}}
	assert.True(t, fault.Is(LoadCredentialsFile(cfg), fault.KindConfiguration))

	assert.NoError(t, LoadCredentialsFile(&BrokerServiceConfig{}))
}

func TestNormalize(t *testing.T) {
	cfg := &BrokerServiceConfig{
		Client:   ClientConfig{ClientID: " c ", Audience: " https://aud.example.com/token "},
		Signing:  SigningConfig{Algorithm: " rs256 "},
		Upstream: UpstreamConfig{APIBaseURL: " https://api.example.com/ ", GrantMode: " Assertion "},
	}
	cfg.Normalize()

	assert.Equal(t, "c", cfg.Client.ClientID)
	assert.Equal(t, "https://aud.example.com/token", cfg.Client.Audience)
	assert.Equal(t, "RS256", cfg.Signing.Algorithm)
	assert.Equal(t, "https://api.example.com", cfg.Upstream.APIBaseURL)
	assert.Equal(t, "assertion", cfg.Upstream.GrantMode)
}

func TestValidate(t *testing.T) {
	staticDir := t.TempDir()

	tests := []struct {
		name    string
		mutate  func(*BrokerServiceConfig)
		wantErr bool
	}{
		{name: "valid assertion", mutate: func(*BrokerServiceConfig) {}},
		{name: "valid secret", mutate: func(c *BrokerServiceConfig) {
			c.Upstream.GrantMode = "client_secret"
			c.Client.ClientSecret = "s"
			c.Signing.KeyPath = ""
		}},
		{name: "valid static dir", mutate: func(c *BrokerServiceConfig) { c.Service.StaticDir = staticDir }},
		{name: "missing client id", mutate: func(c *BrokerServiceConfig) { c.Client.ClientID = "" }, wantErr: true},
		{name: "missing audience", mutate: func(c *BrokerServiceConfig) { c.Client.Audience = "" }, wantErr: true},
		{name: "missing key", mutate: func(c *BrokerServiceConfig) { c.Signing.KeyPath = "" }, wantErr: true},
		{name: "bad algorithm", mutate: func(c *BrokerServiceConfig) { c.Signing.Algorithm = "HS256" }, wantErr: true},
		{name: "dual proof without secret", mutate: func(c *BrokerServiceConfig) { c.Upstream.DualProof = true }, wantErr: true},
		{name: "secret mode without secret", mutate: func(c *BrokerServiceConfig) { c.Upstream.GrantMode = "client_secret" }, wantErr: true},
		{name: "unknown mode", mutate: func(c *BrokerServiceConfig) { c.Upstream.GrantMode = "password" }, wantErr: true},
		{name: "missing base url", mutate: func(c *BrokerServiceConfig) { c.Upstream.APIBaseURL = "" }, wantErr: true},
		{name: "bad token url", mutate: func(c *BrokerServiceConfig) { c.Upstream.TokenURL = "ftp://x/token" }, wantErr: true},
		{name: "zero timeout", mutate: func(c *BrokerServiceConfig) { c.Upstream.Timeout = 0 }, wantErr: true},
		{name: "negative skew", mutate: func(c *BrokerServiceConfig) { c.Broker.ExpirySkew = -time.Second }, wantErr: true},
		{name: "missing static dir", mutate: func(c *BrokerServiceConfig) {
			c.Service.StaticDir = filepath.Join(staticDir, "nope")
		}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, fault.Is(err, fault.KindConfiguration))
				return
			}
			assert.NoError(t, err)
		})
	}
}
