package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"diagnostic-assistant/internal/platform/apperr"
)

func TestWriteError_Envelope(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	WriteError(rec, req, apperr.NotFound("consultation", "42"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Error)
	assert.Equal(t, "NOT_FOUND", body.Code)
	assert.Equal(t, "42", body.Details["id"])
}

func TestWriteError_UnknownIsInternal(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	WriteError(rec, req, errors.New("boom"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), `"INTERNAL_ERROR"`)
	assert.NotContains(t, rec.Body.String(), "boom")
}

func TestDecodeJSON(t *testing.T) {
	type body struct {
		Content string `json:"content"`
	}
	tests := map[string]string{
		"malformed":     `{not json`,
		"unknown field": `{"content":"hi","mood":"calm"}`,
		"trailing data": `{"content":"hi"} {"content":"again"}`,
		"trailing junk": `{"content":"hi"}garbage`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(raw))
			var dst body
			assert.ErrorIs(t, DecodeJSON(req, &dst), apperr.ErrValidation)
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{\"content\":\"hi\"}\n"))
	var dst body
	require.NoError(t, DecodeJSON(req, &dst))
	assert.Equal(t, "hi", dst.Content)
}

func TestPageParams(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=500&offset=20", nil)
	limit, offset, err := PageParams(req, 10, 100)
	require.NoError(t, err)
	assert.Equal(t, 100, limit)
	assert.Equal(t, 20, offset)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	limit, offset, err = PageParams(req, 10, 100)
	require.NoError(t, err)
	assert.Equal(t, 10, limit)
	assert.Equal(t, 0, offset)

	req = httptest.NewRequest(http.MethodGet, "/?limit=abc", nil)
	_, _, err = PageParams(req, 10, 100)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
