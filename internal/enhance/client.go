package enhance

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
)

// completionsPath is the chat-completion endpoint on the upstream API.
const completionsPath = "/api/v1/chat/completions"

// upstreamErrorBodyLimit bounds how much of a non-JSON upstream error body
// is echoed back to the caller.
const upstreamErrorBodyLimit = 2000

// ClientConfig configures the upstream completion client.
type ClientConfig struct {
	// BaseURL is the upstream API base, e.g. "https://openrouter.ai".
	BaseURL string
	// APIKey is the operator's upstream credential (proxy mode).
	APIKey string
	// Referer and Title are attribution headers the upstream expects.
	Referer string
	Title   string
	// Timeout bounds each upstream call (default 15s).
	Timeout time.Duration
}

// Client forwards validated payloads to the upstream completion API.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
}

// NewClient creates an upstream client.
func NewClient(config ClientConfig) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	return &Client{
		config: config,
		// The overall deadline is enforced per request via context so that
		// streaming responses are not cut off mid-relay by http.Client.Timeout.
		httpClient: &http.Client{},
	}
}

// HasCredential reports whether an operator credential is configured.
func (c *Client) HasCredential() bool {
	return c.config.APIKey != ""
}

// Timeout returns the configured upstream deadline.
func (c *Client) Timeout() time.Duration {
	return c.config.Timeout
}

// CreateCompletion posts the payload to the upstream completion endpoint.
// overrideKey, when non-empty, replaces the operator credential (BYOK).
// The returned response body is the caller's to close. The returned cancel
// function must be called once the body has been fully consumed.
func (c *Client) CreateCompletion(ctx context.Context, payload Payload, overrideKey string) (*http.Response, context.CancelFunc, error) {
	key := c.config.APIKey
	if overrideKey != "" {
		key = overrideKey
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode upstream payload: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, strings.TrimRight(c.config.BaseURL, "/")+completionsPath, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("failed to build upstream request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)
	if c.config.Referer != "" {
		req.Header.Set("HTTP-Referer", c.config.Referer)
	}
	title := c.config.Title
	if title == "" {
		title = "Enhance Prompt"
	}
	req.Header.Set("X-Title", title)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	return resp, cancel, nil
}

// IsTimeout reports whether an upstream call failed by exceeding its
// deadline, as opposed to the upstream being unreachable.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

// decodeBody wraps the upstream body reader according to Content-Encoding.
func decodeBody(body io.Reader, contentEncoding string) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(contentEncoding)) {
	case "gzip":
		return gzip.NewReader(body)
	case "br":
		return brotli.NewReader(body), nil
	default:
		return body, nil
	}
}

// UpstreamErrorPayload extracts a bounded error payload from a non-2xx
// upstream response: parsed JSON when the upstream says so, otherwise raw
// text truncated to a fixed limit. Returns nil when the body is unreadable.
func UpstreamErrorPayload(resp *http.Response) interface{} {
	reader, err := decodeBody(resp.Body, resp.Header.Get("Content-Encoding"))
	if err != nil {
		return nil
	}

	raw, err := io.ReadAll(io.LimitReader(reader, 1<<20))
	if err != nil {
		return nil
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		var payload interface{}
		if err := json.Unmarshal(raw, &payload); err == nil {
			return payload
		}
		return nil
	}

	text := string(raw)
	if len(text) > upstreamErrorBodyLimit {
		text = text[:upstreamErrorBodyLimit]
	}
	return text
}
