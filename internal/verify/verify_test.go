package verify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyAcceptedProof(t *testing.T) {
	var gotProof, gotIP, gotSecret string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotSecret = r.PostForm.Get("secret")
		gotProof = r.PostForm.Get("response")
		gotIP = r.PostForm.Get("remoteip")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "provider-secret")
	err := client.Verify(context.Background(), "proof-token", "203.0.113.1")
	require.NoError(t, err)
	assert.Equal(t, "provider-secret", gotSecret)
	assert.Equal(t, "proof-token", gotProof)
	assert.Equal(t, "203.0.113.1", gotIP)
}

func TestVerifyRejectedProof(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":false,"error-codes":["invalid-input-response","timeout-or-duplicate"]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "provider-secret")
	err := client.Verify(context.Background(), "bad-proof", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProofRejected)

	var rejection *RejectionError
	require.True(t, errors.As(err, &rejection))
	assert.Equal(t, []string{"invalid-input-response", "timeout-or-duplicate"}, rejection.Codes)
}

func TestVerifyMissingSecret(t *testing.T) {
	client := NewClient("http://unused.invalid", "")
	err := client.Verify(context.Background(), "proof", "")
	assert.ErrorIs(t, err, ErrMissingSecret)
}

func TestVerifyProviderErrors(t *testing.T) {
	t.Run("non-200 status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		err := NewClient(srv.URL, "secret").Verify(context.Background(), "proof", "")
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrProofRejected)
	})

	t.Run("malformed body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("not json"))
		}))
		defer srv.Close()

		err := NewClient(srv.URL, "secret").Verify(context.Background(), "proof", "")
		assert.Error(t, err)
	})

	t.Run("unreachable endpoint", func(t *testing.T) {
		err := NewClient("http://127.0.0.1:1", "secret").Verify(context.Background(), "proof", "")
		assert.Error(t, err)
	})
}
