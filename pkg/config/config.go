package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/redhat-et/card-broker/pkg/fault"
)

// ServiceConfig holds common service configuration
type ServiceConfig struct {
	Port            int           `mapstructure:"port"`
	HealthPort      int           `mapstructure:"health_port"`
	Host            string        `mapstructure:"host"`
	LogLevel        string        `mapstructure:"log_level"`
	StaticDir       string        `mapstructure:"static_dir"`
	CORSOrigins     []string      `mapstructure:"cors_allowed_origins"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the service listen address
func (c ServiceConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// HealthAddr returns the health check listen address (plain HTTP)
func (c ServiceConfig) HealthAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HealthPort)
}

// OTelConfig holds OpenTelemetry configuration
type OTelConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	CollectorEndpoint string  `mapstructure:"collector_endpoint"`
	SampleRatio       float64 `mapstructure:"sample_ratio"`
}

// CommonConfig holds configuration common to all commands
type CommonConfig struct {
	Service ServiceConfig `mapstructure:"service"`
	OTel    OTelConfig    `mapstructure:"otel"`
}

// ClientConfig identifies the broker to the upstream authorization server.
type ClientConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	Audience     string `mapstructure:"audience"`
	// CredentialsFile is a JSON document {"clientId","clientSecret","audience"}
	// filling any field left empty above.
	CredentialsFile string `mapstructure:"credentials_file"`
}

// String never includes the secret.
func (c ClientConfig) String() string {
	return fmt.Sprintf("ClientConfig{ClientID: %s, Audience: %s, ClientSecret: %s}",
		c.ClientID, c.Audience, redact(c.ClientSecret))
}

// SigningConfig locates the assertion signing key.
type SigningConfig struct {
	// KeyPath is a file path or an s3://bucket/key URI.
	KeyPath   string `mapstructure:"key_path"`
	KeyID     string `mapstructure:"key_id"`
	Algorithm string `mapstructure:"algorithm"`
}

// UpstreamConfig describes the third-party API.
type UpstreamConfig struct {
	APIBaseURL        string        `mapstructure:"api_base_url"`
	TokenURL          string        `mapstructure:"token_url"`
	IssuerURL         string        `mapstructure:"issuer_url"`
	GrantMode         string        `mapstructure:"grant_mode"`
	DualProof         bool          `mapstructure:"dual_proof"`
	Scopes            []string      `mapstructure:"scopes"`
	Timeout           time.Duration `mapstructure:"timeout"`
	UserAgent         string        `mapstructure:"user_agent"`
	AcceptLanguage    string        `mapstructure:"accept_language"`
	DiscoveryMaxTries uint          `mapstructure:"discovery_max_tries"`
}

// BrokerConfig controls token reuse.
type BrokerConfig struct {
	CacheTokens     bool          `mapstructure:"cache_tokens"`
	ExpirySkew      time.Duration `mapstructure:"expiry_skew"`
	DefaultTokenTTL time.Duration `mapstructure:"default_token_ttl"`
}

// StorageConfig holds S3-compatible object storage configuration used for
// s3:// key paths. The bucket comes from the key URI.
type StorageConfig struct {
	BucketHost      string `mapstructure:"bucket_host"`
	BucketPort      int    `mapstructure:"bucket_port"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// BrokerServiceConfig is the full configuration of broker-service.
type BrokerServiceConfig struct {
	CommonConfig `mapstructure:",squash"`
	Client       ClientConfig   `mapstructure:"client"`
	Signing      SigningConfig  `mapstructure:"signing"`
	Upstream     UpstreamConfig `mapstructure:"upstream"`
	Broker       BrokerConfig   `mapstructure:"broker"`
	Storage      StorageConfig  `mapstructure:"storage"`
}

// InitViper initializes Viper with common settings
func InitViper(serviceName string) *viper.Viper {
	v := viper.New()

	// Set config file name and paths
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath(fmt.Sprintf("./%s", serviceName))
	v.AddConfigPath("/etc/card-broker/")

	// Environment variable settings
	v.SetEnvPrefix("CARD_BROKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	return v
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Service defaults
	v.SetDefault("service.host", "0.0.0.0")
	v.SetDefault("service.port", 3000)
	v.SetDefault("service.health_port", 3100)
	v.SetDefault("service.log_level", "info")
	v.SetDefault("service.static_dir", "")
	v.SetDefault("service.cors_allowed_origins", []string{"*"})
	v.SetDefault("service.read_timeout", 10*time.Second)
	v.SetDefault("service.write_timeout", 30*time.Second)
	v.SetDefault("service.shutdown_timeout", 5*time.Second)

	// OTel defaults
	v.SetDefault("otel.enabled", false)
	v.SetDefault("otel.collector_endpoint", "")
	v.SetDefault("otel.sample_ratio", 1.0)

	// Client defaults. Env-only deployments set these explicitly so viper
	// can unmarshal them from CARD_BROKER_CLIENT_* variables.
	v.SetDefault("client.client_id", "")
	v.SetDefault("client.client_secret", "")
	v.SetDefault("client.audience", "")
	v.SetDefault("client.credentials_file", "")

	// Signing defaults
	v.SetDefault("signing.key_path", "./private-key.key")
	v.SetDefault("signing.key_id", "")
	v.SetDefault("signing.algorithm", "RS256")

	// Upstream defaults
	v.SetDefault("upstream.api_base_url", "https://public-api.br.clara.com")
	v.SetDefault("upstream.token_url", "")
	v.SetDefault("upstream.issuer_url", "")
	v.SetDefault("upstream.grant_mode", "assertion")
	v.SetDefault("upstream.dual_proof", false)
	v.SetDefault("upstream.scopes", []string{})
	v.SetDefault("upstream.timeout", 10*time.Second)
	v.SetDefault("upstream.user_agent", "card-broker/1.0")
	v.SetDefault("upstream.accept_language", "pt-BR,pt;q=0.9,en-US;q=0.8,en;q=0.7")
	v.SetDefault("upstream.discovery_max_tries", 5)

	// Broker defaults
	v.SetDefault("broker.cache_tokens", true)
	v.SetDefault("broker.expiry_skew", 30*time.Second)
	v.SetDefault("broker.default_token_ttl", 5*time.Minute)

	// Storage defaults (only used for s3:// key paths)
	v.SetDefault("storage.bucket_host", "")
	v.SetDefault("storage.bucket_port", 9000)
	v.SetDefault("storage.use_ssl", false)
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.access_key_id", "")
	v.SetDefault("storage.secret_access_key", "")
}

// Load reads the configuration from file and environment
func Load(v *viper.Viper, cfg any) error {
	// Support standard PORT/HOST env vars used by container platforms
	if portStr := os.Getenv("PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			v.Set("service.port", port)
		}
	}
	if host := os.Getenv("HOST"); host != "" {
		v.Set("service.host", host)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; use defaults
	}

	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return nil
}

// BindFlags binds common CLI flags to Viper
func BindFlags(cmd *cobra.Command, v *viper.Viper) {
	cmd.PersistentFlags().IntP("port", "p", 0, "Port to listen on")
	cmd.PersistentFlags().String("host", "", "Host to bind to")
	cmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("static-dir", "", "Directory of frontend files served at /")
	cmd.PersistentFlags().String("key-path", "", "Signing key file or s3://bucket/key URI")
	cmd.PersistentFlags().String("grant-mode", "", "Token grant mode (assertion, client_secret)")
	cmd.PersistentFlags().String("api-base-url", "", "Upstream API base URL")
	cmd.PersistentFlags().String("token-url", "", "Upstream token endpoint (overrides discovery)")
	cmd.PersistentFlags().String("issuer-url", "", "Upstream issuer URL for token endpoint discovery")
	cmd.PersistentFlags().Bool("otel-enabled", false, "Enable OpenTelemetry tracing")
	cmd.PersistentFlags().String("otel-collector-endpoint", "", "OpenTelemetry collector gRPC endpoint (e.g. localhost:4317)")

	v.BindPFlag("service.port", cmd.PersistentFlags().Lookup("port"))
	v.BindPFlag("service.host", cmd.PersistentFlags().Lookup("host"))
	v.BindPFlag("service.log_level", cmd.PersistentFlags().Lookup("log-level"))
	v.BindPFlag("service.static_dir", cmd.PersistentFlags().Lookup("static-dir"))
	v.BindPFlag("signing.key_path", cmd.PersistentFlags().Lookup("key-path"))
	v.BindPFlag("upstream.grant_mode", cmd.PersistentFlags().Lookup("grant-mode"))
	v.BindPFlag("upstream.api_base_url", cmd.PersistentFlags().Lookup("api-base-url"))
	v.BindPFlag("upstream.token_url", cmd.PersistentFlags().Lookup("token-url"))
	v.BindPFlag("upstream.issuer_url", cmd.PersistentFlags().Lookup("issuer-url"))
	v.BindPFlag("otel.enabled", cmd.PersistentFlags().Lookup("otel-enabled"))
	v.BindPFlag("otel.collector_endpoint", cmd.PersistentFlags().Lookup("otel-collector-endpoint"))
}

// LoadClientConfigFromEnv fills client and signing settings from the plain
// CLIENT_ID, CLIENT_SECRET, AUDIENCE and PRIVATE_KEY_PATH variables used by
// earlier deployments. Set values win over configured ones.
func LoadClientConfigFromEnv(cfg *BrokerServiceConfig) {
	if id := os.Getenv("CLIENT_ID"); id != "" {
		cfg.Client.ClientID = id
	}
	if secret := os.Getenv("CLIENT_SECRET"); secret != "" {
		cfg.Client.ClientSecret = secret
	}
	if aud := os.Getenv("AUDIENCE"); aud != "" {
		cfg.Client.Audience = aud
	}
	if path := os.Getenv("PRIVATE_KEY_PATH"); path != "" {
		cfg.Signing.KeyPath = path
	}
}

// credentialsFile mirrors the token-data.json layout.
type credentialsFile struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
	Audience     string `json:"audience"`
}

// LoadCredentialsFile fills empty client fields from Client.CredentialsFile.
// A missing file is a configuration error only when one is named.
func LoadCredentialsFile(cfg *BrokerServiceConfig) error {
	path := strings.TrimSpace(cfg.Client.CredentialsFile)
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fault.Wrap(fault.KindConfiguration, "credentials file", err)
	}
	var creds credentialsFile
	if err := json.Unmarshal(data, &creds); err != nil {
		return fault.Wrap(fault.KindConfiguration, "credentials file", fmt.Errorf("failed to parse %s: %w", path, err))
	}
	if cfg.Client.ClientID == "" {
		cfg.Client.ClientID = creds.ClientID
	}
	if cfg.Client.ClientSecret == "" {
		cfg.Client.ClientSecret = creds.ClientSecret
	}
	if cfg.Client.Audience == "" {
		cfg.Client.Audience = creds.Audience
	}
	return nil
}

// Normalize trims every credential and URL so stray whitespace is never sent
// upstream.
func (c *BrokerServiceConfig) Normalize() {
	c.Client.ClientID = strings.TrimSpace(c.Client.ClientID)
	c.Client.ClientSecret = strings.TrimSpace(c.Client.ClientSecret)
	c.Client.Audience = strings.TrimSpace(c.Client.Audience)
	c.Signing.KeyPath = strings.TrimSpace(c.Signing.KeyPath)
	c.Signing.KeyID = strings.TrimSpace(c.Signing.KeyID)
	c.Signing.Algorithm = strings.ToUpper(strings.TrimSpace(c.Signing.Algorithm))
	c.Upstream.APIBaseURL = NormalizeURL(c.Upstream.APIBaseURL)
	c.Upstream.TokenURL = strings.TrimSpace(c.Upstream.TokenURL)
	c.Upstream.IssuerURL = NormalizeURL(c.Upstream.IssuerURL)
	c.Upstream.GrantMode = strings.ToLower(strings.TrimSpace(c.Upstream.GrantMode))
	c.Service.StaticDir = strings.TrimSpace(c.Service.StaticDir)
}

// NormalizeURL trims whitespace and trailing slashes.
func NormalizeURL(raw string) string {
	return strings.TrimRight(strings.TrimSpace(raw), "/")
}

var signingAlgorithms = map[string]bool{
	"RS256": true, "RS384": true, "RS512": true,
	"PS256": true, "PS384": true, "PS512": true,
}

// Validate reports the first unusable setting as a ConfigurationError.
func (c *BrokerServiceConfig) Validate() error {
	invalid := func(msg string) error {
		return fault.New(fault.KindConfiguration, "config", msg)
	}

	if c.Client.ClientID == "" {
		return invalid("client.client_id is required")
	}
	if c.Client.Audience == "" {
		return invalid("client.audience is required")
	}

	switch c.Upstream.GrantMode {
	case "assertion", "":
		if c.Signing.KeyPath == "" {
			return invalid("signing.key_path is required in assertion mode")
		}
		if c.Signing.Algorithm != "" && !signingAlgorithms[c.Signing.Algorithm] {
			return invalid(fmt.Sprintf("signing.algorithm %q is not supported", c.Signing.Algorithm))
		}
		if c.Upstream.DualProof && c.Client.ClientSecret == "" {
			return invalid("client.client_secret is required when upstream.dual_proof is set")
		}
	case "client_secret", "secret", "basic":
		if c.Client.ClientSecret == "" {
			return invalid("client.client_secret is required in client_secret mode")
		}
	default:
		return invalid(fmt.Sprintf("upstream.grant_mode %q is not supported", c.Upstream.GrantMode))
	}

	if err := validateHTTPURL("upstream.api_base_url", c.Upstream.APIBaseURL, true); err != nil {
		return err
	}
	if err := validateHTTPURL("upstream.token_url", c.Upstream.TokenURL, false); err != nil {
		return err
	}
	if err := validateHTTPURL("upstream.issuer_url", c.Upstream.IssuerURL, false); err != nil {
		return err
	}

	if c.Upstream.Timeout <= 0 {
		return invalid("upstream.timeout must be positive")
	}
	if c.Broker.ExpirySkew < 0 {
		return invalid("broker.expiry_skew must not be negative")
	}
	if c.Service.StaticDir != "" {
		info, err := os.Stat(c.Service.StaticDir)
		if err != nil || !info.IsDir() {
			return invalid(fmt.Sprintf("service.static_dir %q is not a directory", c.Service.StaticDir))
		}
	}
	return nil
}

func validateHTTPURL(name, raw string, required bool) error {
	if raw == "" {
		if required {
			return fault.New(fault.KindConfiguration, "config", name+" is required")
		}
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fault.New(fault.KindConfiguration, "config", fmt.Sprintf("%s %q is not an http(s) URL", name, raw))
	}
	return nil
}

func redact(s string) string {
	if s == "" {
		return "<empty>"
	}
	return "[REDACTED]"
}
