// Package origin implements the CORS origin gate. It runs before any other
// request processing: disallowed callers are rejected before the body is read
// and preflight requests are answered without touching downstream handlers.
package origin

import (
	"context"
	"net/http"
	"strings"

	"github.com/promptgate/enhance-gateway/internal/apierror"
	"go.uber.org/zap"
)

type ctxKey string

const originKey ctxKey = "cors_origin"

// ExposedHeaders lists the quota headers browser clients are allowed to read.
const ExposedHeaders = "X-Usage-Count, X-RateLimit-Limit, X-RateLimit-Remaining, X-RateLimit-Reset"

// Gate validates the Origin request header against an allow-list and owns the
// CORS response header discipline for every route.
type Gate struct {
	allowed []string
	logger  *zap.Logger
}

// New creates a Gate from the configured allow-list. Entries ending in "*"
// are treated as prefix rules (e.g. "chrome-extension://*" admits any
// extension origin); all other entries match exactly.
func New(allowed []string, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{allowed: allowed, logger: logger}
}

// Resolve returns the echoed origin if the header value is on the allow-list,
// or "" if it is absent or not allowed.
func (g *Gate) Resolve(originHeader string) string {
	requested := strings.TrimSpace(originHeader)
	if requested == "" {
		return ""
	}
	for _, entry := range g.allowed {
		if strings.HasSuffix(entry, "*") {
			if prefix := strings.TrimSuffix(entry, "*"); prefix != "" && strings.HasPrefix(requested, prefix) {
				return requested
			}
			continue
		}
		if entry == requested {
			return requested
		}
	}
	return ""
}

// setBaseHeaders stamps the CORS and caching headers every response carries.
func setBaseHeaders(h http.Header, origin, methods string) {
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Methods", methods)
	h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	h.Set("Access-Control-Max-Age", "86400")
	h.Set("Access-Control-Expose-Headers", ExposedHeaders)
	h.Set("Cache-Control", "no-store")
	h.Set("Vary", "Origin")
}

// Protect wraps a protected route: the origin must resolve before anything
// else runs, preflight is answered here, and the resolved origin is stored in
// the request context for downstream response construction.
func (g *Gate) Protect(methods string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resolved := g.Resolve(r.Header.Get("Origin"))
		if resolved == "" {
			setBaseHeaders(w.Header(), "null", methods)
			g.logger.Info("origin rejected",
				zap.String("origin", r.Header.Get("Origin")),
				zap.String("path", r.URL.Path))
			apierror.Write(w, apierror.CodeCORSOriginForbidden, "Origin not allowed")
			return
		}

		setBaseHeaders(w.Header(), resolved, methods)
		if r.Method == http.MethodOptions {
			if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
				w.Header().Set("Access-Control-Allow-Headers", reqHeaders)
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}

		ctx := context.WithValue(r.Context(), originKey, resolved)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Public wraps a public route: a missing or unknown origin is tolerated, but
// an allowed origin still receives the full CORS header set so browser
// callers can read the response.
func (g *Gate) Public(methods string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resolved := g.Resolve(r.Header.Get("Origin"))
		if resolved != "" {
			setBaseHeaders(w.Header(), resolved, methods)
		} else {
			w.Header().Set("Cache-Control", "no-store")
			w.Header().Set("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			if resolved == "" {
				apierror.Write(w, apierror.CodeCORSOriginForbidden, "Origin not allowed")
				return
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		ctx := context.WithValue(r.Context(), originKey, resolved)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// FromContext returns the resolved origin stored by the gate, if any.
func FromContext(ctx context.Context) (string, bool) {
	if v := ctx.Value(originKey); v != nil {
		if s, ok := v.(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}
