package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/promptgate/enhance-gateway/internal/apierror"
	"github.com/promptgate/enhance-gateway/internal/enhance"
	"github.com/promptgate/enhance-gateway/internal/eventbus"
	"github.com/promptgate/enhance-gateway/internal/logging"
	"github.com/promptgate/enhance-gateway/internal/ratelimit"
	"github.com/promptgate/enhance-gateway/internal/session"
	"github.com/promptgate/enhance-gateway/internal/usage"
)

// upstreamErrorResponse wraps a non-2xx upstream reply; the upstream status
// is passed through to the caller.
type upstreamErrorResponse struct {
	Code     apierror.Code `json:"code"`
	Message  string        `json:"message"`
	Status   int           `json:"status"`
	Upstream interface{}   `json:"upstream"`
}

// enhanceHandler builds the completion handler. In BYOK mode the caller
// supplies the upstream credential; in proxy mode the operator's is used.
func (s *Server) enhanceHandler(byok bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			s.methodNotAllowed(w, http.MethodPost)
			return
		}

		id, ok := session.IdentityFromContext(r.Context())
		if !ok {
			apierror.Write(w, apierror.CodeUnauthorized, "Missing bearer token")
			return
		}

		if !s.allowInterval(id.Key()) {
			apierror.Write(w, apierror.CodeRateLimitExceeded, "Requests too frequent")
			return
		}

		mode := ratelimit.Consume
		if s.config.IsBypassSubject(id.Subject) {
			mode = ratelimit.Peek
			s.logger.Info("rate limit bypass", zap.String("subject", id.Subject))
		}

		res, err := s.limiter.Check(r.Context(), id.Key(), mode)
		if err != nil {
			// Never fail open on limiter errors.
			s.logger.Error("rate limit check failed", zap.Error(err))
			apierror.Write(w, apierror.CodeInternalError, "Internal Server Error")
			return
		}

		stampQuotaHeaders(w.Header(), res)
		if !res.Success {
			apierror.Write(w, apierror.CodeRateLimitExceeded, "Rate limit exceeded")
			return
		}

		// Reject oversized bodies on the declared length before reading.
		if cl := r.Header.Get("Content-Length"); cl != "" {
			if n, err := strconv.ParseInt(cl, 10, 64); err == nil && n > s.config.MaxBodyBytes {
				apierror.Write(w, apierror.CodePayloadTooLarge, "Request body too large")
				return
			}
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

		req, fieldErrs, err := enhance.ParseRequest(body)
		if err != nil {
			apierror.Write(w, apierror.CodeInvalidJSON, "Malformed JSON body")
			return
		}
		if len(fieldErrs) == 0 {
			var payload enhance.Payload
			payload, fieldErrs = req.Validate(enhance.Limits{
				MaxPromptChars:     s.config.MaxPromptChars,
				DefaultModel:       s.config.DefaultModel,
				DefaultMaxTokens:   s.config.DefaultMaxTokens,
				DefaultTemperature: s.config.DefaultTemperature,
			})
			if len(fieldErrs) == 0 {
				s.forwardEnhance(w, r, id, res, payload, req.APIKey, byok)
				return
			}
		}
		apierror.WriteWithDetails(w, http.StatusBadRequest, apierror.CodeInvalidBody, "Invalid request body", fieldErrs)
	})
}

func (s *Server) forwardEnhance(w http.ResponseWriter, r *http.Request, id session.Identity, res ratelimit.Result, payload enhance.Payload, callerKey string, byok bool) {
	if payload.PromptChars() > s.config.MaxPromptChars {
		apierror.Write(w, apierror.CodePromptTooLarge, "Prompt length exceeds limit")
		return
	}

	if byok {
		if callerKey == "" {
			apierror.WriteWithDetails(w, http.StatusBadRequest, apierror.CodeInvalidBody, "Invalid request body",
				enhance.FieldErrors{"api_key": {"required in BYOK mode"}})
			return
		}
		s.logger.Debug("caller credential supplied",
			zap.String("subject", id.Subject),
			zap.String("api_key", logging.ObfuscateSecret(callerKey)))
	}
	if !byok {
		callerKey = ""
		if !s.upstream.HasCredential() {
			s.logger.Error("upstream credential not configured")
			apierror.Write(w, apierror.CodeServerMisconfigured, "Server misconfigured")
			return
		}
	}

	promptText := payload.PromptText()
	promptChars := payload.PromptChars()
	payload.InjectSystemPrompt(s.config.SystemPrompt)

	start := time.Now()
	resp, cancel, err := s.upstream.CreateCompletion(r.Context(), payload, callerKey)
	if err != nil {
		if enhance.IsTimeout(err) {
			apierror.Write(w, apierror.CodeUpstreamTimeout, "Upstream request timed out")
			return
		}
		s.logger.Warn("upstream unreachable", zap.Error(err))
		apierror.Write(w, apierror.CodeUpstreamUnavailable, "Upstream request failed")
		return
	}
	defer cancel()
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.StatusCode)
		_ = json.NewEncoder(w).Encode(upstreamErrorResponse{
			Code:     apierror.CodeUpstreamError,
			Message:  "Upstream error",
			Status:   resp.StatusCode,
			Upstream: enhance.UpstreamErrorPayload(resp),
		})
		return
	}

	s.relayResponse(w, resp)
	requestID, _ := logging.GetRequestID(r.Context())
	s.publishCompletion(requestID, id.Subject, payload.Model, resp.StatusCode, time.Since(start), promptChars, promptText)
}

// relayResponse streams the upstream body to the client unmodified,
// flushing as chunks arrive so streamed completions are delivered live.
func (s *Server) relayResponse(w http.ResponseWriter, resp *http.Response) {
	for name, values := range resp.Header {
		if skipRelayHeader(name) {
			continue
		}
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(resp.StatusCode)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Debug("upstream body relay ended", zap.Error(err))
			}
			return
		}
	}
}

// skipRelayHeader filters hop-by-hop headers and headers the gateway owns.
func skipRelayHeader(name string) bool {
	switch http.CanonicalHeaderKey(name) {
	case "Content-Length", "Connection", "Keep-Alive", "Transfer-Encoding", "Trailer", "Upgrade":
		return true
	}
	return strings.HasPrefix(http.CanonicalHeaderKey(name), "Access-Control-")
}

// publishCompletion emits a usage event fire-and-forget. Token counting and
// publishing happen off the response path; failures are logged only.
func (s *Server) publishCompletion(requestID, subject, model string, status int, duration time.Duration, promptChars int, promptText string) {
	go func() {
		tokens, err := usage.CountPromptTokens(promptText)
		if err != nil {
			s.logger.Debug("prompt token count failed", zap.Error(err))
			tokens = 0
		}
		s.bus.Publish(context.Background(), eventbus.CompletionEvent{
			RequestID:    requestID,
			Subject:      subject,
			Model:        model,
			Status:       status,
			Duration:     duration,
			PromptChars:  promptChars,
			PromptTokens: tokens,
			OccurredAt:   time.Now().UTC(),
		})
	}()
}

// allowInterval enforces the minimum spacing between requests for one
// identity. A zero interval disables the guard. Only admitted requests
// record a timestamp, so a rejected burst does not keep pushing the
// caller's eligibility forward.
func (s *Server) allowInterval(key string) bool {
	interval := s.config.MinRequestInterval
	if interval <= 0 {
		return true
	}
	now := s.now()
	s.sweepLastSeen(now, interval)
	for {
		prev, loaded := s.lastSeen.LoadOrStore(key, now)
		if !loaded {
			return true
		}
		if last, ok := prev.(time.Time); ok && now.Sub(last) < interval {
			return false
		}
		if s.lastSeen.CompareAndSwap(key, prev, now) {
			return true
		}
	}
}

// sweepLastSeen drops identities that have been idle long enough to be
// eligible again, keeping the map bounded by recent traffic.
func (s *Server) sweepLastSeen(now time.Time, interval time.Duration) {
	last := s.lastSweep.Load()
	if now.UnixNano()-last < int64(10*interval) {
		return
	}
	if !s.lastSweep.CompareAndSwap(last, now.UnixNano()) {
		return
	}
	s.lastSeen.Range(func(k, v interface{}) bool {
		if t, ok := v.(time.Time); !ok || now.Sub(t) >= interval {
			s.lastSeen.Delete(k)
		}
		return true
	})
}
