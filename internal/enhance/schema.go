// Package enhance implements the completion-proxy core: request validation,
// system-prompt injection, the upstream client, and upstream error
// classification.
package enhance

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
)

// MaxTokensCeiling is the hard upper bound on max_tokens regardless of the
// configured default.
const MaxTokensCeiling = 4096

// Message is a single chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the wire shape accepted on the enhance endpoints. Numeric
// fields are pointers so that absent and zero values can be told apart;
// max_tokens is decoded as a float to detect non-integer values.
type Request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   *float64  `json:"max_tokens"`
	Temperature *float64  `json:"temperature"`
	Stream      *bool     `json:"stream"`
	// APIKey is the caller-supplied upstream credential (BYOK). It is
	// stripped from the payload before forwarding and never logged.
	APIKey string `json:"api_key"`
}

// Payload is the validated, normalized body forwarded upstream.
type Payload struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	Stream      bool      `json:"stream,omitempty"`
}

// Limits carries the validation bounds and defaults applied to requests.
type Limits struct {
	MaxPromptChars     int
	DefaultModel       string
	DefaultMaxTokens   int
	DefaultTemperature float64
}

// FieldErrors maps a field path to its validation failures.
type FieldErrors map[string][]string

func (fe FieldErrors) add(field, msg string) {
	fe[field] = append(fe[field], msg)
}

// ErrMalformedJSON indicates the body was not parseable JSON at all, as
// opposed to JSON that fails validation.
var ErrMalformedJSON = errors.New("malformed JSON body")

// ParseRequest decodes a JSON body into a Request. Type mismatches are
// reported as field errors; syntax errors return ErrMalformedJSON.
func ParseRequest(body []byte) (*Request, FieldErrors, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("{}")
	}

	var req Request
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&req); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			fe := FieldErrors{}
			field := typeErr.Field
			if field == "" {
				field = "body"
			}
			fe.add(field, fmt.Sprintf("expected %s", typeErr.Type))
			return nil, fe, nil
		}
		return nil, nil, ErrMalformedJSON
	}
	// Trailing garbage after the JSON value is malformed input.
	if dec.More() {
		return nil, nil, ErrMalformedJSON
	}
	return &req, nil, nil
}

// Validate checks the request against limits and returns the normalized
// payload. A non-empty FieldErrors means the payload is unusable.
func (r *Request) Validate(limits Limits) (Payload, FieldErrors) {
	fe := FieldErrors{}

	if len(r.Messages) == 0 {
		fe.add("messages", "at least one message is required")
	}
	for i, m := range r.Messages {
		field := fmt.Sprintf("messages.%d.content", i)
		if m.Content == "" {
			fe.add(field, "must not be empty")
		} else if len(m.Content) > limits.MaxPromptChars {
			fe.add(field, fmt.Sprintf("must be at most %d characters", limits.MaxPromptChars))
		}
	}

	maxTokens := limits.DefaultMaxTokens
	if r.MaxTokens != nil {
		v := *r.MaxTokens
		switch {
		case v != math.Trunc(v):
			fe.add("max_tokens", "must be an integer")
		case v < 1:
			fe.add("max_tokens", "must be positive")
		case v > MaxTokensCeiling:
			fe.add("max_tokens", fmt.Sprintf("must be at most %d", MaxTokensCeiling))
		default:
			maxTokens = int(v)
		}
	}

	temperature := limits.DefaultTemperature
	if r.Temperature != nil {
		v := *r.Temperature
		if v < 0 || v > 2 {
			fe.add("temperature", "must be between 0 and 2")
		} else {
			temperature = v
		}
	}

	if len(fe) > 0 {
		return Payload{}, fe
	}

	model := r.Model
	if model == "" {
		model = limits.DefaultModel
	}

	return Payload{
		Model:       model,
		Messages:    r.Messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Stream:      r.Stream != nil && *r.Stream,
	}, nil
}

// PromptChars returns the total character count across all messages.
func (p *Payload) PromptChars() int {
	total := 0
	for _, m := range p.Messages {
		total += len(m.Content)
	}
	return total
}

// PromptText concatenates message contents, used for token accounting.
func (p *Payload) PromptText() string {
	var buf bytes.Buffer
	for _, m := range p.Messages {
		buf.WriteString(m.Content)
		buf.WriteByte('\n')
	}
	return buf.String()
}

// InjectSystemPrompt drops any caller-supplied system messages and, when
// prompt is non-empty, places the server-held system prompt at position 0.
// Callers must never be able to override the operator's instructions.
func (p *Payload) InjectSystemPrompt(prompt string) {
	filtered := p.Messages[:0]
	for _, m := range p.Messages {
		if m.Role == "system" {
			continue
		}
		filtered = append(filtered, m)
	}
	p.Messages = filtered

	if prompt != "" {
		p.Messages = append([]Message{{Role: "system", Content: prompt}}, p.Messages...)
	}
}

// ReadBody reads the request body, returning ErrBodyTooLarge when it
// exceeds maxBytes.
func ReadBody(r io.Reader, maxBytes int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > maxBytes {
		return nil, ErrBodyTooLarge
	}
	return body, nil
}

// ErrBodyTooLarge indicates the request body exceeded the configured cap.
var ErrBodyTooLarge = errors.New("request body too large")
