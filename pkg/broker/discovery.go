package broker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/redhat-et/card-broker/pkg/fault"
	"github.com/redhat-et/card-broker/pkg/logger"
)

// DefaultTokenPath is appended to the API base URL when neither a token URL
// nor an issuer is configured.
const DefaultTokenPath = "/oauth/token"

// Endpoint selects the token endpoint. TokenURL wins over IssuerURL, which
// wins over APIBaseURL + DefaultTokenPath.
type Endpoint struct {
	TokenURL   string
	IssuerURL  string
	APIBaseURL string

	// Discovery retry bounds, only used with IssuerURL.
	MaxTries        uint
	InitialInterval time.Duration
	HTTPClient      *http.Client
	Logger          *logger.Logger
}

// ResolveTokenURL returns the token endpoint. Discovery runs only when an
// issuer is configured and is retried with exponential backoff.
func ResolveTokenURL(ctx context.Context, ep Endpoint) (string, error) {
	if u := strings.TrimSpace(ep.TokenURL); u != "" {
		return u, nil
	}
	if issuer := strings.TrimSpace(ep.IssuerURL); issuer != "" {
		return discoverTokenURL(ctx, issuer, ep)
	}
	if base := strings.TrimRight(strings.TrimSpace(ep.APIBaseURL), "/"); base != "" {
		return base + DefaultTokenPath, nil
	}
	return "", fault.New(fault.KindConfiguration, "token endpoint",
		"one of upstream.token_url, upstream.issuer_url or upstream.api_base_url is required")
}

func discoverTokenURL(ctx context.Context, issuer string, ep Endpoint) (string, error) {
	log := ep.Logger
	if log == nil {
		log = logger.New(logger.ComponentIssuer)
	}
	if ep.HTTPClient != nil {
		ctx = oidc.ClientContext(ctx, ep.HTTPClient)
	}

	expBackoff := backoff.NewExponentialBackOff()
	if ep.InitialInterval > 0 {
		expBackoff.InitialInterval = ep.InitialInterval
	}
	maxTries := ep.MaxTries
	if maxTries == 0 {
		maxTries = 5
	}

	log.Flow(logger.DirectionOutgoing, "Discovering token endpoint", "issuer", issuer)
	tokenURL, err := backoff.Retry(ctx, func() (string, error) {
		provider, err := oidc.NewProvider(ctx, issuer)
		if err != nil {
			return "", err
		}
		tokenURL := provider.Endpoint().TokenURL
		if tokenURL == "" {
			return "", backoff.Permanent(errors.New("discovery document has no token_endpoint"))
		}
		return tokenURL, nil
	},
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(maxTries),
		backoff.WithNotify(func(err error, d time.Duration) {
			log.Warn("Issuer discovery failed, retrying", "issuer", issuer, "error", err, "retry_in", d)
		}),
	)
	if err != nil {
		return "", fault.Wrap(fault.KindUpstreamUnreachable, "token endpoint discovery",
			fmt.Errorf("issuer %s: %w", issuer, err))
	}

	log.Success("Token endpoint discovered", "token_url", tokenURL)
	return tokenURL, nil
}
