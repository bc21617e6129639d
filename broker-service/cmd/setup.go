package cmd

import (
	"context"
	"fmt"
	"net/http"

	"github.com/redhat-et/card-broker/broker-service/internal/proxy"
	"github.com/redhat-et/card-broker/pkg/auth"
	"github.com/redhat-et/card-broker/pkg/broker"
	"github.com/redhat-et/card-broker/pkg/config"
	"github.com/redhat-et/card-broker/pkg/fault"
	"github.com/redhat-et/card-broker/pkg/logger"
	"github.com/redhat-et/card-broker/pkg/storage"
	"github.com/redhat-et/card-broker/pkg/telemetry"
)

// loadConfig reads file, env and flags, then applies the plain-env and
// credentials-file fallbacks before validating.
func loadConfig() (*config.BrokerServiceConfig, error) {
	var cfg config.BrokerServiceConfig
	if err := config.Load(v, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	config.LoadClientConfigFromEnv(&cfg)
	if err := config.LoadCredentialsFile(&cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger.SetLevel(cfg.Service.LogLevel)
	return &cfg, nil
}

// brokerStack is everything built from the client and upstream settings.
type brokerStack struct {
	broker *broker.Broker
	// tokens is the broker, or its cache when caching is enabled.
	tokens proxy.TokenProvider
	client *http.Client
	// keyStore is set when the signing key came from object storage.
	keyStore storage.ObjectStore
}

func buildBroker(ctx context.Context, cfg *config.BrokerServiceConfig) (*brokerStack, error) {
	log := logger.New(logger.ComponentSigner)
	stack := &brokerStack{
		client: telemetry.NewHTTPClient(cfg.Upstream.Timeout),
	}

	mode, err := broker.ParseGrantMode(cfg.Upstream.GrantMode)
	if err != nil {
		return nil, err
	}
	identity := auth.NewClientIdentity(cfg.Client.ClientID, cfg.Client.ClientSecret, cfg.Client.Audience)

	var grant broker.GrantStrategy
	switch mode {
	case broker.ModeAssertion:
		src, store, err := keySource(ctx, cfg, cfg.Signing.KeyPath)
		if err != nil {
			return nil, err
		}
		stack.keyStore = store

		key, err := auth.LoadSigningKey(ctx, src, cfg.Signing.KeyID)
		if err != nil {
			return nil, err
		}
		log.Info("Signing key loaded", "source", src.String(), "key", key.String())

		signer, err := auth.NewSigner(identity, key, auth.WithAlgorithm(cfg.Signing.Algorithm))
		if err != nil {
			return nil, err
		}
		ag, err := broker.NewAssertionGrant(identity, signer, cfg.Upstream.DualProof)
		if err != nil {
			return nil, err
		}
		grant = ag
	case broker.ModeClientSecret:
		sg, err := broker.NewClientSecretGrant(identity, cfg.Upstream.Scopes)
		if err != nil {
			return nil, err
		}
		grant = sg
	}

	tokenURL, err := broker.ResolveTokenURL(ctx, broker.Endpoint{
		TokenURL:   cfg.Upstream.TokenURL,
		IssuerURL:  cfg.Upstream.IssuerURL,
		APIBaseURL: cfg.Upstream.APIBaseURL,
		MaxTries:   cfg.Upstream.DiscoveryMaxTries,
		HTTPClient: stack.client,
		Logger:     logger.New(logger.ComponentIssuer),
	})
	if err != nil {
		return nil, err
	}

	b, err := broker.New(broker.Config{
		TokenURL:   tokenURL,
		DefaultTTL: cfg.Broker.DefaultTokenTTL,
		HTTPClient: stack.client,
		Logger:     logger.New(logger.ComponentBroker),
	}, grant)
	if err != nil {
		return nil, err
	}
	stack.broker = b
	stack.tokens = b
	if cfg.Broker.CacheTokens {
		stack.tokens = broker.NewCachedSource(b, cfg.Broker.ExpirySkew)
	}
	return stack, nil
}

// keySource picks a file or object storage source for location.
func keySource(ctx context.Context, cfg *config.BrokerServiceConfig, location string) (auth.KeySource, storage.ObjectStore, error) {
	if !storage.IsObjectURI(location) {
		return auth.FileKeySource(location), nil, nil
	}
	bucket, key, err := storage.ParseObjectURI(location)
	if err != nil {
		return nil, nil, fault.Wrap(fault.KindConfiguration, "signing key", err)
	}
	store, err := objectStore(ctx, cfg, bucket)
	if err != nil {
		return nil, nil, err
	}
	return auth.ObjectKeySource{Store: store, Key: key}, store, nil
}

func objectStore(ctx context.Context, cfg *config.BrokerServiceConfig, bucket string) (*storage.S3Storage, error) {
	store, err := storage.NewS3Storage(ctx, storage.S3Config{
		BucketHost:      cfg.Storage.BucketHost,
		BucketPort:      cfg.Storage.BucketPort,
		BucketName:      bucket,
		UseSSL:          cfg.Storage.UseSSL,
		Region:          cfg.Storage.Region,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
	})
	if err != nil {
		return nil, fault.Wrap(fault.KindConfiguration, "object storage", err)
	}
	return store, nil
}
