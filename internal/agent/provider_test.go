package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"diagnostic-assistant/internal/platform/apperr"
)

var testMessages = []Message{
	{Role: RoleSystem, Content: "You are a diagnostic assistant."},
	{Role: RoleUser, Content: "I have a fever."},
}

func TestProviderClient_Complete(t *testing.T) {
	var got chatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"How long has the fever lasted?"}}]}`))
	}))
	defer srv.Close()

	c := NewProviderClient(srv.URL+"/", "sk-test", 0, zerolog.Nop())
	text, err := c.Complete(context.Background(), testMessages, Options{Model: "gpt-4o-mini", Temperature: 0.7, MaxTokens: 500})

	require.NoError(t, err)
	assert.Equal(t, "How long has the fever lasted?", text)
	assert.Equal(t, "gpt-4o-mini", got.Model)
	assert.InDelta(t, 0.7, got.Temperature, 1e-9)
	assert.Equal(t, 500, got.MaxTokens)
	assert.Len(t, got.Messages, 2)
	assert.Equal(t, 1.0, got.FrequencyPenalty)
	assert.Equal(t, 1.0, got.PresencePenalty)
	assert.Equal(t, 1.0, got.TopP)
	assert.Equal(t, "text", got.ResponseFormat.Type)
}

func TestProviderClient_WithSampling(t *testing.T) {
	var got chatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer srv.Close()

	c := NewProviderClient(srv.URL, "k", 0, zerolog.Nop(), WithSampling(Sampling{FrequencyPenalty: 0.2, PresencePenalty: 0, TopP: 0.9}))
	_, err := c.Complete(context.Background(), testMessages, Options{Model: "m", MaxTokens: 10})

	require.NoError(t, err)
	assert.InDelta(t, 0.2, got.FrequencyPenalty, 1e-9)
	assert.Equal(t, 0.0, got.PresencePenalty)
	assert.InDelta(t, 0.9, got.TopP, 1e-9)
}

func TestProviderClient_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer srv.Close()

	c := NewProviderClient(srv.URL, "sk-test", 0, zerolog.Nop())
	_, err := c.Complete(context.Background(), testMessages, Options{Model: "m"})

	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrUpstream)
	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, http.StatusTooManyRequests, upErr.StatusCode)
	assert.Contains(t, upErr.Body, "rate limited")
}

func TestProviderClient_MalformedEnvelope(t *testing.T) {
	bodies := []string{`not json`, `{"choices":[]}`, `{"choices":[{"message":{"role":"assistant"}}]}`}
	for _, body := range bodies {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(body))
		}))
		c := NewProviderClient(srv.URL, "k", 0, zerolog.Nop())
		_, err := c.Complete(context.Background(), testMessages, Options{Model: "m"})
		assert.ErrorIs(t, err, apperr.ErrUpstream, "body %q", body)
		srv.Close()
	}
}

func TestProviderClient_TimeoutIsUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	c := NewProviderClient(srv.URL, "k", 0, zerolog.Nop())
	_, err := c.Complete(ctx, testMessages, Options{Model: "m"})
	assert.ErrorIs(t, err, apperr.ErrUpstream)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestProviderClient_RejectsInvalidInput(t *testing.T) {
	c := NewProviderClient("http://unused.invalid", "k", 0, zerolog.Nop())

	_, err := c.Complete(context.Background(), nil, Options{})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = c.Complete(context.Background(), []Message{{Role: "doctor", Content: "x"}}, Options{})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
