package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/redhat-et/card-broker/broker-service/internal/proxy/mocks"
	"github.com/redhat-et/card-broker/pkg/logger"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// seenRequest is what the stub resource server received.
type seenRequest struct {
	Path           string
	RawQuery       string
	Authorization  string
	Accept         string
	UserAgent      string
	AcceptLanguage string
}

// upstream is a stub resource API answering every request with one response.
type upstream struct {
	*httptest.Server
	mu   sync.Mutex
	seen []seenRequest
}

func newUpstream(t *testing.T, status int, contentType, body string) *upstream {
	t.Helper()
	u := &upstream{}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.mu.Lock()
		u.seen = append(u.seen, seenRequest{
			Path:           r.URL.Path,
			RawQuery:       r.URL.RawQuery,
			Authorization:  r.Header.Get("Authorization"),
			Accept:         r.Header.Get("Accept"),
			UserAgent:      r.Header.Get("User-Agent"),
			AcceptLanguage: r.Header.Get("Accept-Language"),
		})
		u.mu.Unlock()
		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(u.Close)
	return u
}

func (u *upstream) requests() []seenRequest {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]seenRequest(nil), u.seen...)
}

func newTestProxy(t *testing.T, tokens TokenProvider, baseURL string) *Proxy {
	t.Helper()
	p, err := New(tokens, Config{
		APIBaseURL:     baseURL,
		UserAgent:      "card-broker-test/1.0",
		AcceptLanguage: "pt-BR",
		Logger:         logger.Discard(logger.ComponentProxy),
		Now:            func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	return p
}

func newTestRouter(t *testing.T, tokens TokenProvider, baseURL string) http.Handler {
	t.Helper()
	return NewRouter(newTestProxy(t, tokens, baseURL), RouterOptions{
		CORSOrigins: []string{"*"},
		Logger:      logger.Discard(logger.ComponentHTTP),
	})
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

// cachingProvider is a token provider that can also be invalidated.
type cachingProvider struct {
	*mocks.MockTokenProvider
	*mocks.MockInvalidator
}
