package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/promptgate/enhance-gateway/internal/apierror"
	"github.com/promptgate/enhance-gateway/internal/enhance"
	"github.com/promptgate/enhance-gateway/internal/ratelimit"
	"github.com/promptgate/enhance-gateway/internal/session"
	"github.com/promptgate/enhance-gateway/internal/usage"
	"github.com/promptgate/enhance-gateway/internal/verify"
)

// tokenRequest is the body of POST /api/token.
type tokenRequest struct {
	Proof string `json:"proof"`
}

// tokenResponse carries a freshly issued session token.
type tokenResponse struct {
	Token     string `json:"token"`
	Subject   string `json:"subject"`
	ExpiresAt int64  `json:"expires_at"`
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	body, err := enhance.ReadBody(r.Body, s.config.MaxBodyBytes)
	if err != nil {
		if errors.Is(err, enhance.ErrBodyTooLarge) {
			apierror.Write(w, apierror.CodePayloadTooLarge, "Request body too large")
			return
		}
		apierror.Write(w, apierror.CodeBadRequest, "Failed to read request body")
		return
	}

	var req tokenRequest
	if err := json.Unmarshal(body, &req); err != nil {
		apierror.Write(w, apierror.CodeInvalidJSON, "Malformed JSON body")
		return
	}
	if req.Proof == "" {
		apierror.Write(w, apierror.CodeBadRequest, "Missing verification proof")
		return
	}

	if err := s.proofs.Verify(r.Context(), req.Proof, session.ClientIP(r)); err != nil {
		var rejection *verify.RejectionError
		switch {
		case errors.As(err, &rejection):
			apierror.WriteWithDetails(w, http.StatusUnauthorized, apierror.CodeUnauthorized,
				"Verification failed", map[string]interface{}{"provider_codes": rejection.Codes})
		case errors.Is(err, verify.ErrMissingSecret):
			s.logger.Error("verification secret not configured")
			apierror.Write(w, apierror.CodeServerMisconfigured, "Server misconfigured")
		default:
			s.logger.Warn("verification provider unreachable", zap.Error(err))
			apierror.Write(w, apierror.CodeUpstreamUnavailable, "Verification provider unavailable")
		}
		return
	}

	subject := session.MintSubject()
	token, expiresAt, err := s.issuer.Issue(subject)
	if err != nil {
		if errors.Is(err, session.ErrMissingSecret) {
			s.logger.Error("token signing secret not configured")
			apierror.Write(w, apierror.CodeServerMisconfigured, "Server misconfigured")
			return
		}
		s.logger.Error("failed to issue token", zap.Error(err))
		apierror.Write(w, apierror.CodeInternalError, "Internal Server Error")
		return
	}

	s.writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		Subject:   subject,
		ExpiresAt: expiresAt.Unix(),
	})
}

// rateLimitResponse is the body of GET /api/ratelimit.
type rateLimitResponse struct {
	Limit     int   `json:"limit"`
	Remaining int   `json:"remaining"`
	Reset     int64 `json:"reset"`
	Used      int   `json:"used"`
}

func (s *Server) handleRateLimit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	id, ok := session.IdentityFromContext(r.Context())
	if !ok {
		apierror.Write(w, apierror.CodeUnauthorized, "Missing bearer token")
		return
	}

	res, err := s.limiter.Check(r.Context(), id.Key(), ratelimit.Peek)
	if err != nil {
		s.logger.Error("rate limit peek failed", zap.Error(err))
		apierror.Write(w, apierror.CodeInternalError, "Internal Server Error")
		return
	}

	stampQuotaHeaders(w.Header(), res)
	s.writeJSON(w, http.StatusOK, rateLimitResponse{
		Limit:     res.Limit,
		Remaining: res.Remaining,
		Reset:     res.Reset,
		Used:      res.Count,
	})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	id, ok := session.IdentityFromContext(r.Context())
	if !ok {
		apierror.Write(w, apierror.CodeUnauthorized, "Missing bearer token")
		return
	}

	snap, err := usage.SnapshotFor(r.Context(), s.usage, id.Subject, time.Now())
	if err != nil {
		s.logger.Error("usage snapshot failed", zap.Error(err))
		apierror.Write(w, apierror.CodeInternalError, "Internal Server Error")
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

// configResponse exposes the public tunables clients need to shape
// requests without trial and error.
type configResponse struct {
	DailyLimit          int      `json:"daily_limit"`
	MaxPromptChars      int      `json:"max_prompt_chars"`
	DefaultModel        string   `json:"default_model"`
	AllowedHostSuffixes []string `json:"allowed_host_suffixes"`
	VerifySiteKey       string   `json:"verify_site_key,omitempty"`
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	s.writeJSON(w, http.StatusOK, configResponse{
		DailyLimit:          s.config.DailyRateLimit,
		MaxPromptChars:      s.config.MaxPromptChars,
		DefaultModel:        s.config.DefaultModel,
		AllowedHostSuffixes: s.config.AllowedHostSuffixes,
		VerifySiteKey:       s.config.VerifySiteKey,
	})
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, allow string) {
	w.Header().Set("Allow", allow)
	apierror.Write(w, apierror.CodeMethodNotAllowed, "Method not allowed")
}

// stampQuotaHeaders writes the rate-limit state headers clients poll.
func stampQuotaHeaders(h http.Header, res ratelimit.Result) {
	h.Set("X-Usage-Count", strconv.Itoa(res.Count))
	h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(res.Reset, 10))
}
