package enhance

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLimits() Limits {
	return Limits{
		MaxPromptChars:     4000,
		DefaultModel:       "google/gemini-2.0-flash-exp:free",
		DefaultMaxTokens:   500,
		DefaultTemperature: 0.7,
	}
}

func TestParseRequest(t *testing.T) {
	req, fe, err := ParseRequest([]byte(`{"messages":[{"role":"user","content":"hi"}],"max_tokens":250}`))
	require.NoError(t, err)
	require.Empty(t, fe)
	require.Len(t, req.Messages, 1)
	require.NotNil(t, req.MaxTokens)
	assert.Equal(t, 250.0, *req.MaxTokens)
}

func TestParseRequestEmptyBody(t *testing.T) {
	req, fe, err := ParseRequest(nil)
	require.NoError(t, err)
	require.Empty(t, fe)
	assert.Empty(t, req.Messages)
}

func TestParseRequestMalformedJSON(t *testing.T) {
	_, _, err := ParseRequest([]byte(`{"messages":`))
	assert.ErrorIs(t, err, ErrMalformedJSON)

	_, _, err = ParseRequest([]byte(`{} trailing`))
	assert.ErrorIs(t, err, ErrMalformedJSON)
}

func TestParseRequestTypeMismatch(t *testing.T) {
	_, fe, err := ParseRequest([]byte(`{"messages":"not an array"}`))
	require.NoError(t, err)
	require.NotEmpty(t, fe)
	assert.Contains(t, fe, "messages")
}

func TestValidateDefaults(t *testing.T) {
	req := &Request{Messages: []Message{{Role: "user", Content: "hello"}}}
	payload, fe := req.Validate(testLimits())
	require.Empty(t, fe)
	assert.Equal(t, "google/gemini-2.0-flash-exp:free", payload.Model)
	assert.Equal(t, 500, payload.MaxTokens)
	assert.Equal(t, 0.7, payload.Temperature)
	assert.False(t, payload.Stream)
}

func TestValidateMessages(t *testing.T) {
	tests := []struct {
		name     string
		messages []Message
		field    string
	}{
		{"no messages", nil, "messages"},
		{"empty content", []Message{{Role: "user", Content: ""}}, "messages.0.content"},
		{"oversized content", []Message{{Role: "user", Content: strings.Repeat("x", 4001)}}, "messages.0.content"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &Request{Messages: tt.messages}
			_, fe := req.Validate(testLimits())
			assert.Contains(t, fe, tt.field)
		})
	}
}

func TestValidateMaxTokens(t *testing.T) {
	f := func(v float64) *float64 { return &v }
	tests := []struct {
		name    string
		value   *float64
		want    int
		invalid bool
	}{
		{"default", nil, 500, false},
		{"explicit", f(1000), 1000, false},
		{"ceiling", f(4096), 4096, false},
		{"over ceiling", f(4097), 0, true},
		{"zero", f(0), 0, true},
		{"negative", f(-1), 0, true},
		{"fractional", f(2.5), 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &Request{
				Messages:  []Message{{Role: "user", Content: "hi"}},
				MaxTokens: tt.value,
			}
			payload, fe := req.Validate(testLimits())
			if tt.invalid {
				assert.Contains(t, fe, "max_tokens")
				return
			}
			require.Empty(t, fe)
			assert.Equal(t, tt.want, payload.MaxTokens)
		})
	}
}

func TestValidateTemperature(t *testing.T) {
	f := func(v float64) *float64 { return &v }
	tests := []struct {
		name    string
		value   *float64
		want    float64
		invalid bool
	}{
		{"default", nil, 0.7, false},
		{"zero", f(0), 0, false},
		{"max", f(2), 2, false},
		{"over", f(2.1), 0, true},
		{"negative", f(-0.1), 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &Request{
				Messages:    []Message{{Role: "user", Content: "hi"}},
				Temperature: tt.value,
			}
			payload, fe := req.Validate(testLimits())
			if tt.invalid {
				assert.Contains(t, fe, "temperature")
				return
			}
			require.Empty(t, fe)
			assert.Equal(t, tt.want, payload.Temperature)
		})
	}
}

func TestPromptChars(t *testing.T) {
	p := Payload{Messages: []Message{
		{Role: "user", Content: "abc"},
		{Role: "assistant", Content: "defg"},
	}}
	assert.Equal(t, 7, p.PromptChars())
}

func TestInjectSystemPrompt(t *testing.T) {
	p := Payload{Messages: []Message{
		{Role: "system", Content: "caller-supplied override"},
		{Role: "user", Content: "hi"},
	}}
	p.InjectSystemPrompt("operator instructions")

	require.Len(t, p.Messages, 2)
	assert.Equal(t, Message{Role: "system", Content: "operator instructions"}, p.Messages[0])
	assert.Equal(t, "user", p.Messages[1].Role)
}

func TestInjectSystemPromptEmptyPromptStillDropsCallerSystem(t *testing.T) {
	p := Payload{Messages: []Message{
		{Role: "system", Content: "sneaky"},
		{Role: "user", Content: "hi"},
	}}
	p.InjectSystemPrompt("")

	require.Len(t, p.Messages, 1)
	assert.Equal(t, "user", p.Messages[0].Role)
}

func TestReadBody(t *testing.T) {
	body, err := ReadBody(strings.NewReader("small"), 48*1024)
	require.NoError(t, err)
	assert.Equal(t, "small", string(body))

	_, err = ReadBody(strings.NewReader(strings.Repeat("x", 100)), 99)
	assert.ErrorIs(t, err, ErrBodyTooLarge)
}
