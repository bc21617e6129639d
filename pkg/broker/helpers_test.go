package broker

import (
	"crypto/rand"
	"crypto/rsa"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/redhat-et/card-broker/pkg/auth"
	"github.com/redhat-et/card-broker/pkg/logger"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func generateKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

// capturedRequest is what the stub token endpoint saw.
type capturedRequest struct {
	Authorization string
	ContentType   string
	Form          url.Values
}

// tokenServer is a stub token endpoint answering with a fixed status and body.
type tokenServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []capturedRequest
}

func newTokenServer(t *testing.T, status int, body string) *tokenServer {
	t.Helper()
	ts := &tokenServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		form, _ := url.ParseQuery(string(raw))
		ts.mu.Lock()
		ts.requests = append(ts.requests, capturedRequest{
			Authorization: r.Header.Get("Authorization"),
			ContentType:   r.Header.Get("Content-Type"),
			Form:          form,
		})
		ts.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *tokenServer) captured() []capturedRequest {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]capturedRequest(nil), ts.requests...)
}

func newAssertionBroker(t *testing.T, tokenURL string, key *rsa.PrivateKey, dualProof bool) *Broker {
	t.Helper()
	identity := auth.NewClientIdentity("client-abc", "secret-xyz", tokenURL)
	signer, err := auth.NewSigner(identity, &auth.SigningKey{Key: key, KeyID: "kid-1"})
	require.NoError(t, err)
	grant, err := NewAssertionGrant(identity, signer, dualProof)
	require.NoError(t, err)
	return newBroker(t, tokenURL, grant)
}

func newBroker(t *testing.T, tokenURL string, grant GrantStrategy) *Broker {
	t.Helper()
	b, err := New(Config{
		TokenURL:   tokenURL,
		DefaultTTL: 5 * time.Minute,
		HTTPClient: &http.Client{Timeout: 2 * time.Second},
		Logger:     logger.Discard(logger.ComponentBroker),
		Now:        func() time.Time { return fixedNow },
	}, grant)
	require.NoError(t, err)
	return b
}
