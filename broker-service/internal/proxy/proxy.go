// Package proxy relays browser requests to the upstream card API using a
// brokered bearer token.
package proxy

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

	"github.com/redhat-et/card-broker/pkg/fault"
	"github.com/redhat-et/card-broker/pkg/logger"
	"github.com/redhat-et/card-broker/pkg/metrics"
	"github.com/redhat-et/card-broker/pkg/telemetry"
)

const (
	// maxErrorBodySize bounds how much of a failed upstream body is read.
	maxErrorBodySize = 1 << 20
	// errorBodyLogLimit bounds how much of it reaches the debug log.
	errorBodyLogLimit = 512

	tokenFailureMessage = "failed to obtain access token"
)

// Request states, recorded in logs and on the span.
const (
	stateReceived        = "received"
	stateValidating      = "validating"
	stateAcquiringToken  = "acquiring_token"
	stateCallingUpstream = "calling_upstream"
	stateSucceeded       = "succeeded"
	stateFailed          = "failed"
)

// Config holds the upstream settings of the proxy.
type Config struct {
	APIBaseURL     string
	UserAgent      string
	AcceptLanguage string
	HTTPClient     *http.Client
	Logger         *logger.Logger
	Now            func() time.Time
}

// Proxy handles the /api routes.
type Proxy struct {
	tokens         TokenProvider
	baseURL        string
	userAgent      string
	acceptLanguage string
	client         *http.Client
	log            *logger.Logger
	now            func() time.Time
}

// New creates a proxy in front of the upstream API.
func New(tokens TokenProvider, cfg Config) (*Proxy, error) {
	if tokens == nil {
		return nil, fault.New(fault.KindConfiguration, "proxy", "token provider is required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	u, err := url.Parse(base)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fault.New(fault.KindConfiguration, "proxy", fmt.Sprintf("invalid API base URL %q", base))
	}

	p := &Proxy{
		tokens:         tokens,
		baseURL:        base,
		userAgent:      cfg.UserAgent,
		acceptLanguage: cfg.AcceptLanguage,
		client:         cfg.HTTPClient,
		log:            cfg.Logger,
		now:            cfg.Now,
	}
	if p.client == nil {
		p.client = http.DefaultClient
	}
	if p.log == nil {
		p.log = logger.New(logger.ComponentProxy)
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p, nil
}

// jsonError writes a JSON error response
func jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// tokenResponse is the body of /api/auth/token.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in,omitempty"`
}

// HandleToken returns a brokered token to the caller.
func (p *Proxy) HandleToken(w http.ResponseWriter, r *http.Request) {
	ctx, span := telemetry.StartSpan(r.Context(), "proxy.token", telemetry.AttrResource.String("token"))
	defer span.End()

	p.log.Flow(logger.DirectionIncoming, "Token request", "remote", r.RemoteAddr)
	tok, err := p.tokens.Token(ctx)
	if err != nil {
		p.fail(w, span, "token", tokenFailureMessage, err)
		return
	}

	resp := tokenResponse{
		AccessToken: tok.AccessToken,
		TokenType:   tok.Type(),
	}
	if !tok.Expiry.IsZero() {
		if secs := int64(tok.Expiry.Sub(p.now()).Seconds()); secs > 0 {
			resp.ExpiresIn = secs
		}
	}

	metrics.ProxiedRequests.WithLabelValues("token", metrics.OutcomeSuccess).Inc()
	span.SetAttributes(telemetry.AttrRequestState.String(stateSucceeded))
	telemetry.SetSpanOK(span)
	p.log.Success("Token issued to caller", "expires_in", resp.ExpiresIn)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	json.NewEncoder(w).Encode(resp)
}

// HandleResource returns the handler relaying one resource family.
func (p *Proxy) HandleResource(res Resource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := telemetry.StartSpan(r.Context(), "proxy."+res.Name, telemetry.AttrResource.String(res.Name))
		defer span.End()
		log := p.log.With("resource", res.Name)
		log.Flow(logger.DirectionIncoming, r.Method+" "+r.URL.Path)
		log.Debug("Request state", "state", stateReceived)

		log.Debug("Request state", "state", stateValidating)
		query, err := res.Query(r)
		if err != nil {
			p.fail(w, span, res.Name, clientMessage(err, res.FailureMessage), err)
			return
		}

		log.Debug("Request state", "state", stateAcquiringToken)
		tok, err := p.tokens.Token(ctx)
		if err != nil {
			p.fail(w, span, res.Name, res.FailureMessage, err)
			return
		}

		log.Debug("Request state", "state", stateCallingUpstream)
		resp, err := p.call(ctx, res, query, tok)
		if err != nil {
			p.fail(w, span, res.Name, res.FailureMessage, err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			p.fail(w, span, res.Name, res.FailureMessage, p.upstreamError(log, res, resp))
			return
		}

		if ct := resp.Header.Get("Content-Type"); ct != "" {
			w.Header().Set("Content-Type", ct)
		}
		w.WriteHeader(resp.StatusCode)
		if _, err := io.Copy(w, resp.Body); err != nil {
			// Headers are gone; all that is left is to record it.
			log.Warn("Relaying upstream body failed", "error", err)
		}

		metrics.ProxiedRequests.WithLabelValues(res.Name, metrics.OutcomeSuccess).Inc()
		span.SetAttributes(
			telemetry.AttrUpstreamCode.Int(resp.StatusCode),
			telemetry.AttrRequestState.String(stateSucceeded),
		)
		telemetry.SetSpanOK(span)
		log.Debug("Request state", "state", stateSucceeded)
	}
}

func (p *Proxy) call(ctx context.Context, res Resource, query url.Values, tok *oauth2.Token) (*http.Response, error) {
	target := p.baseURL + res.Path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fault.Wrap(fault.KindConfiguration, "proxy "+res.Name, err)
	}
	tok.SetAuthHeader(req)
	req.Header.Set("Accept", "application/json")
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}
	if p.acceptLanguage != "" {
		req.Header.Set("Accept-Language", p.acceptLanguage)
	}

	trace.SpanFromContext(ctx).SetAttributes(telemetry.AttrUpstreamURL.String(p.baseURL + res.Path))
	start := time.Now()
	resp, err := p.client.Do(req)
	elapsed := time.Since(start)
	metrics.UpstreamDuration.WithLabelValues(res.Name).Observe(elapsed.Seconds())
	if err != nil {
		return nil, fault.Wrap(fault.KindUpstreamUnreachable, "proxy "+res.Name, err)
	}
	p.log.Upstream(http.MethodGet, res.Path, resp.StatusCode, elapsed, "resource", res.Name)
	return resp, nil
}

// upstreamError classifies an unsuccessful resource response. A 401 drops
// any cached token so the next request exchanges a fresh one.
func (p *Proxy) upstreamError(log *logger.Logger, res Resource, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	logged := string(body)
	if len(logged) > errorBodyLogLimit {
		logged = logged[:errorBodyLogLimit] + "...(truncated)"
	}
	log.Debug("Upstream error body", "status", resp.StatusCode, "body", logged)

	if resp.StatusCode == http.StatusUnauthorized {
		if inv, ok := p.tokens.(Invalidator); ok {
			inv.Invalidate()
		}
	}

	kind := fault.ClassifyStatus(resp.StatusCode, fault.KindUpstreamRejected)
	return fault.Upstream(kind, "proxy "+res.Name, resp.StatusCode, body)
}

// clientMessage returns the cause of a caller mistake, which is safe to echo,
// or fallback for everything else.
func clientMessage(err error, fallback string) string {
	var ferr *fault.Error
	if errors.As(err, &ferr) && ferr.Kind == fault.KindBadRequest && ferr.Err != nil {
		return ferr.Err.Error()
	}
	return fallback
}

// fail records the failure and writes the normalized error response. The
// client only sees message; the classified error stays in logs and spans.
func (p *Proxy) fail(w http.ResponseWriter, span trace.Span, name, message string, err error) {
	kind := fault.KindOf(err)
	status := fault.HTTPStatus(kind)

	metrics.ProxiedRequests.WithLabelValues(name, string(kind)).Inc()
	span.SetAttributes(
		telemetry.AttrFailureKind.String(string(kind)),
		telemetry.AttrRequestState.String(stateFailed),
	)
	telemetry.SetSpanError(span, err)

	var ferr *fault.Error
	if errors.As(err, &ferr) && ferr.Status != 0 {
		span.SetAttributes(telemetry.AttrUpstreamCode.Int(ferr.Status))
	}
	if status >= http.StatusInternalServerError {
		p.log.Failure("Request failed", "resource", name, "kind", kind, "error", err)
	} else {
		p.log.Warn("Request rejected", "resource", name, "kind", kind, "error", err)
	}
	jsonError(w, message, status)
}
