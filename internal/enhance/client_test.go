package enhance

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPayload() Payload {
	return Payload{
		Model:       "google/gemini-2.0-flash-exp:free",
		Messages:    []Message{{Role: "user", Content: "hi"}},
		MaxTokens:   500,
		Temperature: 0.7,
	}
}

func TestCreateCompletion(t *testing.T) {
	var gotAuth, gotReferer, gotTitle string
	var gotBody Payload
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/chat/completions", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		gotReferer = r.Header.Get("HTTP-Referer")
		gotTitle = r.Header.Get("X-Title")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer upstream.Close()

	client := NewClient(ClientConfig{
		BaseURL: upstream.URL,
		APIKey:  "sk-operator",
		Referer: "https://promptgate.example",
		Title:   "Enhance Prompt",
	})

	resp, cancel, err := client.CreateCompletion(context.Background(), testPayload(), "")
	require.NoError(t, err)
	defer cancel()
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Bearer sk-operator", gotAuth)
	assert.Equal(t, "https://promptgate.example", gotReferer)
	assert.Equal(t, "Enhance Prompt", gotTitle)
	assert.Equal(t, testPayload(), gotBody)
}

func TestCreateCompletionOverrideKey(t *testing.T) {
	var gotAuth string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	client := NewClient(ClientConfig{BaseURL: upstream.URL, APIKey: "sk-operator"})
	resp, cancel, err := client.CreateCompletion(context.Background(), testPayload(), "sk-caller")
	require.NoError(t, err)
	defer cancel()
	_ = resp.Body.Close()

	assert.Equal(t, "Bearer sk-caller", gotAuth)
}

func TestCreateCompletionTimeout(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer upstream.Close()

	client := NewClient(ClientConfig{BaseURL: upstream.URL, APIKey: "k", Timeout: 50 * time.Millisecond})
	_, _, err := client.CreateCompletion(context.Background(), testPayload(), "")
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
}

func TestCreateCompletionUnreachable(t *testing.T) {
	client := NewClient(ClientConfig{BaseURL: "http://127.0.0.1:1", APIKey: "k", Timeout: time.Second})
	_, _, err := client.CreateCompletion(context.Background(), testPayload(), "")
	require.Error(t, err)
	assert.False(t, IsTimeout(err))
}

func TestUpstreamErrorPayloadJSON(t *testing.T) {
	resp := &http.Response{
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   io.NopCloser(strings.NewReader(`{"error":{"message":"quota"}}`)),
	}
	payload := UpstreamErrorPayload(resp)
	m, ok := payload.(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, m, "error")
}

func TestUpstreamErrorPayloadTextTruncated(t *testing.T) {
	long := strings.Repeat("e", 5000)
	resp := &http.Response{
		Header: http.Header{"Content-Type": []string{"text/html"}},
		Body:   io.NopCloser(strings.NewReader(long)),
	}
	payload := UpstreamErrorPayload(resp)
	text, ok := payload.(string)
	require.True(t, ok)
	assert.Len(t, text, 2000)
}

func TestUpstreamErrorPayloadGzip(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = zw.Write([]byte(`{"error":"rate limited"}`))
	require.NoError(t, zw.Close())

	resp := &http.Response{
		Header: http.Header{
			"Content-Type":     []string{"application/json"},
			"Content-Encoding": []string{"gzip"},
		},
		Body: io.NopCloser(&buf),
	}
	payload := UpstreamErrorPayload(resp)
	m, ok := payload.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "rate limited", m["error"])
}

func TestUpstreamErrorPayloadBrotli(t *testing.T) {
	var buf bytes.Buffer
	bw := brotli.NewWriter(&buf)
	_, _ = bw.Write([]byte("service unavailable"))
	require.NoError(t, bw.Close())

	resp := &http.Response{
		Header: http.Header{
			"Content-Type":     []string{"text/plain"},
			"Content-Encoding": []string{"br"},
		},
		Body: io.NopCloser(&buf),
	}
	payload := UpstreamErrorPayload(resp)
	assert.Equal(t, "service unavailable", payload)
}

func TestUpstreamErrorPayloadInvalidJSON(t *testing.T) {
	resp := &http.Response{
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   io.NopCloser(strings.NewReader("not json")),
	}
	assert.Nil(t, UpstreamErrorPayload(resp))
}
