package agent

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"diagnostic-assistant/internal/platform/apperr"
)

func TestWhisperClient_Transcribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "voice.webm", header.Filename)
		assert.Equal(t, []byte("RIFF"), data)
		json.NewEncoder(w).Encode(sttResponse{Text: "I have a headache", Language: "en"})
	}))
	defer srv.Close()

	text, err := NewWhisperClient(srv.URL).Transcribe(context.Background(), []byte("RIFF"), "voice.webm")
	require.NoError(t, err)
	assert.Equal(t, "I have a headache", text)
}

func TestWhisperClient_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewWhisperClient(srv.URL).Transcribe(context.Background(), []byte("x"), "")
	assert.ErrorIs(t, err, apperr.ErrUpstream)
}

func TestElevenLabsClient_Synthesize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/voice-1", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("xi-api-key"))
		var req ttsRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "hello", req.Text)
		w.Write([]byte("ID3"))
	}))
	defer srv.Close()

	audio, err := NewElevenLabsClient(srv.URL, "key", "voice-1").Synthesize(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []byte("ID3"), audio)
}
