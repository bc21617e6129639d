// Package broker exchanges the service's client credentials for upstream
// bearer tokens using the OAuth2 client_credentials grant.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/redhat-et/card-broker/pkg/auth"
	"github.com/redhat-et/card-broker/pkg/fault"
	"github.com/redhat-et/card-broker/pkg/logger"
	"github.com/redhat-et/card-broker/pkg/metrics"
	"github.com/redhat-et/card-broker/pkg/telemetry"
)

// maxResponseBodySize is the maximum size for reading token endpoint bodies (1 MB)
const maxResponseBodySize = 1 << 20

// Provider yields a bearer token for one upstream call.
type Provider interface {
	Token(ctx context.Context) (*oauth2.Token, error)
}

// Config holds everything the broker needs besides the grant strategy.
type Config struct {
	TokenURL string
	// DefaultTTL is used when the token endpoint reports no lifetime and the
	// token carries no exp claim.
	DefaultTTL time.Duration
	HTTPClient *http.Client
	Logger     *logger.Logger
	// Now is replaceable for tests.
	Now func() time.Time
}

// Broker performs one token exchange per FetchAccessToken call. It keeps no
// state between calls and is safe for concurrent use.
type Broker struct {
	tokenURL   string
	grant      GrantStrategy
	client     *http.Client
	defaultTTL time.Duration
	log        *logger.Logger
	now        func() time.Time
}

// New validates the endpoint and wires the grant strategy.
func New(cfg Config, grant GrantStrategy) (*Broker, error) {
	if grant == nil {
		return nil, fault.New(fault.KindConfiguration, "token broker", "grant strategy is required")
	}
	tokenURL := strings.TrimSpace(cfg.TokenURL)
	u, err := url.Parse(tokenURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fault.New(fault.KindConfiguration, "token broker", fmt.Sprintf("invalid token URL %q", tokenURL))
	}

	b := &Broker{
		tokenURL:   tokenURL,
		grant:      grant,
		client:     cfg.HTTPClient,
		defaultTTL: cfg.DefaultTTL,
		log:        cfg.Logger,
		now:        cfg.Now,
	}
	if b.client == nil {
		b.client = http.DefaultClient
	}
	if b.log == nil {
		b.log = logger.New(logger.ComponentBroker)
	}
	if b.now == nil {
		b.now = time.Now
	}
	return b, nil
}

// Mode reports the configured grant mode.
func (b *Broker) Mode() GrantMode {
	return b.grant.Mode()
}

// TokenURL reports the token endpoint in use.
func (b *Broker) TokenURL() string {
	return b.tokenURL
}

// Token implements Provider with a fresh exchange.
func (b *Broker) Token(ctx context.Context) (*oauth2.Token, error) {
	return b.FetchAccessToken(ctx)
}

// tokenResponse is the success body of the token endpoint.
type tokenResponse struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	ExpiresIn   json.Number `json:"expires_in"`
	Scope       string      `json:"scope"`
}

// oAuthError represents an OAuth 2.0 error response as defined in RFC 6749 Section 5.2.
type oAuthError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// parseOAuthError attempts to parse an OAuth error response from the given response body.
func parseOAuthError(body []byte) *oAuthError {
	var oauthErr oAuthError
	if err := json.Unmarshal(body, &oauthErr); err != nil || oauthErr.Error == "" {
		return nil
	}
	return &oauthErr
}

// FetchAccessToken runs one client_credentials exchange. It never retries.
func (b *Broker) FetchAccessToken(ctx context.Context) (*oauth2.Token, error) {
	mode := string(b.grant.Mode())
	ctx, span := telemetry.StartSpan(ctx, "token.exchange",
		telemetry.AttrGrantMode.String(mode),
		telemetry.AttrTokenEndpoint.String(b.tokenURL),
	)
	defer span.End()

	began := time.Now()
	token, err := b.exchange(ctx, b.now())
	metrics.TokenExchangeDuration.WithLabelValues(mode).Observe(time.Since(began).Seconds())

	if err != nil {
		kind := fault.KindOf(err)
		metrics.TokenExchanges.WithLabelValues(mode, string(kind)).Inc()
		span.SetAttributes(telemetry.AttrFailureKind.String(string(kind)))
		telemetry.SetSpanError(span, err)
		b.log.Failure("Token exchange failed", "mode", mode, "kind", kind, "error", err)
		return nil, err
	}

	metrics.TokenExchanges.WithLabelValues(mode, metrics.OutcomeSuccess).Inc()
	telemetry.SetSpanOK(span)
	b.log.Success("Token exchanged", "mode", mode, "expires", token.Expiry.Format(time.RFC3339))
	return token, nil
}

func (b *Broker) exchange(ctx context.Context, now time.Time) (*oauth2.Token, error) {
	tr := newTokenRequest()
	if err := b.grant.authorize(tr, now); err != nil {
		return nil, err
	}
	if tr.assertionID != "" {
		trace.SpanFromContext(ctx).SetAttributes(telemetry.AttrAssertionID.String(tr.assertionID))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.tokenURL, strings.NewReader(tr.form.Encode()))
	if err != nil {
		return nil, fault.Wrap(fault.KindConfiguration, "token exchange", fmt.Errorf("failed to create request: %w", err))
	}
	req.Header = tr.header

	b.log.Flow(logger.DirectionOutgoing, "POST token endpoint", "url", b.tokenURL, "mode", b.grant.Mode())
	sent := time.Now()
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fault.Wrap(fault.KindUpstreamUnreachable, "token exchange", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, fault.Wrap(fault.KindUpstreamUnreachable, "token exchange", fmt.Errorf("failed to read response: %w", err))
	}
	b.log.Upstream(http.MethodPost, req.URL.Path, resp.StatusCode, time.Since(sent))

	if resp.StatusCode != http.StatusOK {
		return nil, b.statusError(resp.StatusCode, body)
	}
	return b.parseToken(body, now)
}

func (b *Broker) statusError(status int, body []byte) error {
	kind := fault.ClassifyStatus(status, fault.KindCredentialRejected)
	ferr := fault.Upstream(kind, "token exchange", status, body)
	if oauthErr := parseOAuthError(body); oauthErr != nil {
		b.log.Debug("Token endpoint OAuth error", "error", oauthErr.Error, "description", oauthErr.ErrorDescription)
		ferr.Err = fmt.Errorf("upstream returned status %d: %s", status, oauthErr.Error)
	}
	return ferr
}

func (b *Broker) parseToken(body []byte, now time.Time) (*oauth2.Token, error) {
	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fault.Wrap(fault.KindMalformedResponse, "token exchange", errors.New("response is not a JSON object"))
	}
	if tr.AccessToken == "" {
		return nil, fault.New(fault.KindMalformedResponse, "token exchange", "response has no access_token")
	}

	token := &oauth2.Token{
		AccessToken: tr.AccessToken,
		TokenType:   tr.TokenType,
	}
	if token.TokenType == "" {
		token.TokenType = "Bearer"
	}

	if secs, err := tr.ExpiresIn.Int64(); err == nil && secs > 0 {
		token.Expiry = now.Add(time.Duration(secs) * time.Second)
		token.ExpiresIn = secs
	} else if exp, ok := auth.TokenExpiry(tr.AccessToken); ok {
		token.Expiry = exp
	} else if b.defaultTTL > 0 {
		token.Expiry = now.Add(b.defaultTTL)
	}
	if tr.Scope != "" {
		token = token.WithExtra(map[string]any{"scope": tr.Scope})
	}
	return token, nil
}

// providerSource adapts a Provider to oauth2.TokenSource.
type providerSource struct {
	ctx context.Context
	p   Provider
}

func (s *providerSource) Token() (*oauth2.Token, error) {
	return s.p.Token(s.ctx)
}

// TokenSource exposes p as an oauth2.TokenSource bound to ctx, so it can
// drive oauth2.NewClient.
func TokenSource(ctx context.Context, p Provider) oauth2.TokenSource {
	return &providerSource{ctx: ctx, p: p}
}
