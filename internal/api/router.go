package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/cauce-ai/cauce-hub/internal/api/middleware"
	"github.com/cauce-ai/cauce-hub/internal/transport"
)

// RouterConfig holds all dependencies required to build the API router.
type RouterConfig struct {
	// AllowedOrigins for CORS. Use ["*"] during development.
	AllowedOrigins []string

	// PathPrefix all transport routes are mounted under. Defaults to
	// "/cauce/v1" when empty.
	PathPrefix string

	// Transports is the ordered list of enabled transports to mount. A
	// deployment omits an entry to disable that transport entirely (e.g. no
	// Webhook sender registered because no subscription uses one).
	Transports []transport.Transport

	// HealthHandler serves GET /health. A nil handler gets a minimal default
	// that always reports ok, since liveness doesn't depend on any
	// transport-specific state.
	HealthHandler http.Handler
}

// NewRouter builds a fully-configured *mux.Router: the shared middleware
// chain, a health endpoint, and every configured transport's routes mounted
// under PathPrefix.
func NewRouter(cfg RouterConfig) *mux.Router {
	prefix := cfg.PathPrefix
	if prefix == "" {
		prefix = "/cauce/v1"
	}

	r := mux.NewRouter()

	// ---- Global middleware (applied to every route) -----------------------
	// Order matters: outermost runs first.
	r.Use(middleware.RecoveryMiddleware)
	r.Use(middleware.LoggingMiddleware)
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))
	r.Use(middleware.BodyLimitMiddleware)

	v1 := r.PathPrefix(prefix).Subrouter()
	v1.Handle("/health", handlerOrStub(cfg.HealthHandler)).Methods(http.MethodGet, http.MethodOptions)

	for _, t := range cfg.Transports {
		if t == nil {
			continue
		}
		t.Mount(v1)
	}

	return r
}

// handlerOrStub returns the provided handler if non-nil, otherwise a
// default that always reports healthy.
func handlerOrStub(h http.Handler) http.Handler {
	if h != nil {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
}
