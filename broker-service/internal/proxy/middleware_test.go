package proxy

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/redhat-et/card-broker/broker-service/internal/proxy/mocks"
	"github.com/redhat-et/card-broker/pkg/logger"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestCORSAllowAll(t *testing.T) {
	h := CORS([]string{"*"})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/cards", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSAllowList(t *testing.T) {
	h := CORS([]string{"https://app.example.com/"})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/cards", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Origin", rec.Header().Get("Vary"))

	req = httptest.NewRequest(http.MethodGet, "/api/cards", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSPreflight(t *testing.T) {
	h := CORS([]string{"*"})(okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/api/cards", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	req.Header.Set("Access-Control-Request-Headers", "Authorization")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "GET, HEAD, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Authorization", rec.Header().Get("Access-Control-Allow-Headers"))
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "SAMEORIGIN", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-referrer", rec.Header().Get("Referrer-Policy"))
	assert.NotEmpty(t, rec.Header().Get("Content-Security-Policy"))
}

func TestRequestLoggerOmitsQuery(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter(logger.ComponentHTTP, &buf, false)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/user?identifier=ana%40example.com", nil)
	RequestLogger(log)(okHandler()).ServeHTTP(rec, req)

	out := buf.String()
	assert.Contains(t, out, "GET /api/user")
	assert.Contains(t, out, "status=200")
	assert.NotContains(t, out, "ana")
}

func TestRouterMethodNotAllowed(t *testing.T) {
	ctrl := gomock.NewController(t)
	tokens := mocks.NewMockTokenProvider(ctrl)
	tokens.EXPECT().Token(gomock.Any()).Times(0)
	router := newTestRouter(t, tokens, "https://api.example.com")

	for _, target := range []string{"/api/cards", "/api/auth/token", "/api/user?identifier=x"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, target, nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, target)
		assert.Equal(t, "method not allowed", decodeError(t, rec), target)
	}
}

func TestRouterNotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	tokens := mocks.NewMockTokenProvider(ctrl)
	router := newTestRouter(t, tokens, "https://api.example.com")

	rec := get(t, router, "/api/accounts")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not found", decodeError(t, rec))
}

func TestRouterServesStaticDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>cards</h1>"), 0o600))

	ctrl := gomock.NewController(t)
	p := newTestProxy(t, mocks.NewMockTokenProvider(ctrl), "https://api.example.com")
	router := NewRouter(p, RouterOptions{
		CORSOrigins: []string{"*"},
		StaticDir:   dir,
		Logger:      logger.Discard(logger.ComponentHTTP),
	})

	rec := get(t, router, "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<h1>cards</h1>")
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}
