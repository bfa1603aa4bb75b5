package session

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/promptgate/enhance-gateway/internal/apierror"
	"go.uber.org/zap"
)

type ctxKey string

const identityKey ctxKey = "identity"

// Identity is the authenticated caller: the token subject plus the client IP.
// The pair is the rate-limiting partition key.
type Identity struct {
	Subject  string
	ClientIP string
}

// Key returns the rate-limiter partition key for the identity.
func (id Identity) Key() string {
	return id.Subject + ":" + id.ClientIP
}

// Middleware wraps protected routes with bearer-token validation. On success
// the caller Identity is stored in the request context; on failure the
// request is answered with UNAUTHORIZED and never reaches the handler.
func Middleware(verifier *Verifier, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const prefix = "Bearer "
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, prefix) || len(header) <= len(prefix) {
				apierror.Write(w, apierror.CodeUnauthorized, "Missing bearer token")
				return
			}

			subject, err := verifier.Verify(header[len(prefix):])
			if err != nil {
				logger.Info("token rejected", zap.Error(err), zap.String("path", r.URL.Path))
				apierror.Write(w, apierror.CodeUnauthorized, "Invalid or expired token")
				return
			}

			id := Identity{Subject: subject, ClientIP: ClientIP(r)}
			ctx := context.WithValue(r.Context(), identityKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFromContext returns the authenticated identity stored by Middleware.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if v := ctx.Value(identityKey); v != nil {
		if id, ok := v.(Identity); ok {
			return id, true
		}
	}
	return Identity{}, false
}

// ClientIP resolves the caller's IP address, preferring the first entry of
// X-Forwarded-For when the gateway sits behind a proxy.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		if ip := strings.TrimSpace(fwd); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
	return host
}
