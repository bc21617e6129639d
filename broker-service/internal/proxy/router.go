package proxy

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/redhat-et/card-broker/pkg/logger"
)

// RouterOptions configures the HTTP surface around the proxy.
type RouterOptions struct {
	CORSOrigins []string
	// StaticDir, when set, is served at /.
	StaticDir string
	// RequestTimeout bounds each request; zero disables it.
	RequestTimeout time.Duration
	Logger         *logger.Logger
}

// NewRouter mounts the proxy under /api with the shared middleware stack.
func NewRouter(p *Proxy, opts RouterOptions) http.Handler {
	log := opts.Logger
	if log == nil {
		log = logger.New(logger.ComponentHTTP)
	}

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		RequestLogger(log),
		middleware.Recoverer,
		SecurityHeaders,
		CORS(opts.CORSOrigins),
	)
	if opts.RequestTimeout > 0 {
		r.Use(middleware.Timeout(opts.RequestTimeout))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/auth/token", p.HandleToken)
		r.Get("/cards", p.HandleResource(Cards))
		r.Get("/users", p.HandleResource(Users))
		r.Get("/user", p.HandleResource(User))
		r.Get("/balance", p.HandleResource(Balance))

		r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
			jsonError(w, "not found", http.StatusNotFound)
		})
		r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
			jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		})
	})

	if opts.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(opts.StaticDir)))
	}
	return r
}
