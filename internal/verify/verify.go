// Package verify implements the client for the human-verification provider.
// A successful verification is the only way to obtain a session token.
package verify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrMissingSecret is returned when the provider secret is not configured.
	ErrMissingSecret = errors.New("verification secret is not configured")

	// ErrProofRejected is returned when the provider rejects the challenge proof.
	ErrProofRejected = errors.New("verification proof rejected")
)

// RejectionError wraps ErrProofRejected with the provider's error codes so
// the HTTP layer can surface them in the error details.
type RejectionError struct {
	Codes []string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("verification proof rejected: %s", strings.Join(e.Codes, ", "))
}

func (e *RejectionError) Unwrap() error { return ErrProofRejected }

// Client verifies challenge proofs against the provider's siteverify endpoint.
type Client struct {
	endpoint   string
	secret     string
	httpClient *http.Client
}

// NewClient creates a verification client. endpoint is the provider's
// siteverify URL; secret is the operator's provider secret.
func NewClient(endpoint, secret string) *Client {
	return &Client{
		endpoint: endpoint,
		secret:   secret,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// siteverifyResponse is the provider's response shape.
type siteverifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
}

// Verify submits a challenge proof together with the caller's IP for
// provider-side audit. A nil return means the proof was accepted.
func (c *Client) Verify(ctx context.Context, proof, remoteIP string) error {
	if c.secret == "" {
		return ErrMissingSecret
	}

	form := url.Values{}
	form.Set("secret", c.secret)
	form.Set("response", proof)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build siteverify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("siteverify request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("siteverify returned status %d", resp.StatusCode)
	}

	var result siteverifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode siteverify response: %w", err)
	}
	if !result.Success {
		return &RejectionError{Codes: result.ErrorCodes}
	}
	return nil
}
