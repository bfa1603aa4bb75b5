// Package server implements the HTTP surface of the enhance gateway.
// It handles request routing, lifecycle management, and wires the origin
// gate, token verification, rate limiting, and the upstream proxy together.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/promptgate/enhance-gateway/internal/apierror"
	"github.com/promptgate/enhance-gateway/internal/config"
	"github.com/promptgate/enhance-gateway/internal/enhance"
	"github.com/promptgate/enhance-gateway/internal/eventbus"
	"github.com/promptgate/enhance-gateway/internal/logging"
	"github.com/promptgate/enhance-gateway/internal/origin"
	"github.com/promptgate/enhance-gateway/internal/ratelimit"
	"github.com/promptgate/enhance-gateway/internal/session"
	"github.com/promptgate/enhance-gateway/internal/usage"
	"github.com/promptgate/enhance-gateway/internal/verify"
)

// Version is the application version, following semantic versioning.
const Version = "0.1.0"

// Dependencies holds the externally-constructed stores and buses the
// server operates on.
type Dependencies struct {
	Windows ratelimit.WindowStore
	Usage   usage.Store
	Bus     eventbus.EventBus
}

// Server represents the gateway HTTP server. It encapsulates the underlying
// http.Server along with application configuration and handles request
// routing and lifecycle management.
type Server struct {
	server   *http.Server
	config   *config.Config
	logger   *zap.Logger
	gate     *origin.Gate
	issuer   *session.Issuer
	verifier *session.Verifier
	proofs   *verify.Client
	limiter  *ratelimit.Limiter
	usage    usage.Store
	bus      eventbus.EventBus
	upstream *enhance.Client

	// lastSeen tracks the most recent admitted request per identity for
	// the minimum inter-request interval guard. Idle entries are swept
	// opportunistically; see allowInterval.
	lastSeen  sync.Map
	lastSweep atomic.Int64

	now func() time.Time
}

// HealthResponse is the response body for the health check endpoint.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// New creates the gateway server. The server is not started until the
// Start method is called.
func New(cfg *config.Config, deps Dependencies) (*Server, error) {
	logger, err := logging.NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return NewWithLogger(cfg, deps, logger)
}

// NewWithLogger creates the gateway server using an existing logger.
func NewWithLogger(cfg *config.Config, deps Dependencies, logger *zap.Logger) (*Server, error) {
	if deps.Windows == nil {
		return nil, fmt.Errorf("window store is required")
	}
	if deps.Usage == nil {
		return nil, fmt.Errorf("usage store is required")
	}
	if deps.Bus == nil {
		deps.Bus = eventbus.NewInMemoryEventBus(cfg.EventBusBufferSize)
	}

	mux := http.NewServeMux()

	s := &Server{
		config:   cfg,
		logger:   logger,
		now:      time.Now,
		gate:     origin.New(cfg.AllowedOrigins, logger),
		issuer:   session.NewIssuer(cfg.TokenSigningSecret, cfg.TokenLifetime),
		verifier: session.NewVerifier(cfg.TokenSigningSecret, cfg.IsBlockedSubject),
		proofs:   verify.NewClient(cfg.VerifyURL, cfg.VerifySecretKey),
		limiter:  ratelimit.NewLimiter(deps.Windows, cfg.DailyRateLimit, logger),
		usage:    deps.Usage,
		bus:      deps.Bus,
		upstream: enhance.NewClient(enhance.ClientConfig{
			BaseURL: cfg.UpstreamBaseURL,
			APIKey:  cfg.UpstreamAPIKey,
			Referer: cfg.AppReferer,
			Title:   cfg.AppTitle,
			Timeout: cfg.RequestTimeout,
		}),
		server: &http.Server{
			Addr:    cfg.ListenAddr,
			Handler: mux,
			// WriteTimeout stays above the upstream deadline so streamed
			// responses are not cut off by the server itself.
			ReadTimeout:  cfg.RequestTimeout,
			WriteTimeout: cfg.RequestTimeout * 2,
			IdleTimeout:  cfg.RequestTimeout * 4,
		},
	}

	auth := session.Middleware(s.verifier, logger)

	mux.HandleFunc("/health", s.logRequest(http.HandlerFunc(s.handleHealth)))
	mux.HandleFunc("/verify", s.logRequest(http.HandlerFunc(s.handleVerifyPage)))
	mux.HandleFunc("/verify-embed", s.logRequest(http.HandlerFunc(s.handleVerifyEmbedPage)))
	mux.HandleFunc("/api/token", s.logRequest(s.gate.Public("OPTIONS, POST", http.HandlerFunc(s.handleToken))))
	mux.HandleFunc("/api/config", s.logRequest(s.gate.Public("OPTIONS, GET", http.HandlerFunc(s.handleConfig))))
	mux.HandleFunc("/api/enhance", s.logRequest(s.gate.Protect("OPTIONS, POST", auth(s.enhanceHandler(false)))))
	mux.HandleFunc("/api/enhance/byok", s.logRequest(s.gate.Protect("OPTIONS, POST", auth(s.enhanceHandler(true)))))
	mux.HandleFunc("/api/ratelimit", s.logRequest(s.gate.Protect("OPTIONS, GET", auth(http.HandlerFunc(s.handleRateLimit)))))
	mux.HandleFunc("/api/usage", s.logRequest(s.gate.Protect("OPTIONS, GET", auth(http.HandlerFunc(s.handleUsage)))))
	mux.HandleFunc("/", s.logRequest(http.HandlerFunc(s.handleNotFound)))

	return s, nil
}

// Start begins listening for requests. It blocks until the server is
// shut down or fails.
func (s *Server) Start() error {
	s.logger.Info("starting gateway server",
		zap.String("addr", s.server.Addr),
		zap.String("env", s.config.APIEnv),
		zap.Int("daily_limit", s.config.DailyRateLimit),
	)
	return s.server.ListenAndServe()
}

// Handler exposes the server's root handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Shutdown gracefully stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down gateway server")
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Version:   Version,
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	apierror.Write(w, apierror.CodeNotFound, "Not found")
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

// logRequest logs all incoming requests with timing information.
func (s *Server) logRequest(next http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		requestID := uuid.New().String()
		ctx := logging.WithRequestID(r.Context(), requestID)

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r.WithContext(ctx))

		s.logger.Info("request completed",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status_code", rw.statusCode),
			zap.Duration("duration", time.Since(startTime)),
		)
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush forwards flushes for streaming support.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
