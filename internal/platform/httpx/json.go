// Package httpx holds the JSON envelope helpers shared by the chi handlers.
package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"diagnostic-assistant/internal/platform/apperr"
)

// maxBodyBytes bounds JSON request bodies; conversations are text only.
const maxBodyBytes = 1 << 20

// ErrorBody is the envelope written for every failed request.
type ErrorBody struct {
	Error   bool              `json:"error"`
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteError resolves err to an AppError and writes it. Server-side failures
// are logged through the request logger.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := apperr.As(err)
	if appErr.HTTPStatus >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("code", appErr.Code).Msg("request failed")
	}
	WriteJSON(w, appErr.HTTPStatus, ErrorBody{
		Error:   true,
		Code:    appErr.Code,
		Message: appErr.Message,
		Details: appErr.Details,
	})
}

// DecodeJSON decodes a single JSON value from the request body into dst.
// Malformed JSON, fields dst does not declare and trailing data are all
// ValidationErrors.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.Validation("invalid request body: "+err.Error(), nil)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return apperr.Validation("request body must contain a single JSON value", nil)
	}
	return nil
}

// PageParams reads limit/offset query parameters, clamping limit to
// [1, maxLimit] and falling back to def.
func PageParams(r *http.Request, def, maxLimit int) (limit, offset int, err error) {
	limit, offset = def, 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, convErr := strconv.Atoi(v)
		if convErr != nil || n < 1 {
			return 0, 0, apperr.Validation("limit must be a positive integer", map[string]string{"limit": v})
		}
		limit = min(n, maxLimit)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, convErr := strconv.Atoi(v)
		if convErr != nil || n < 0 {
			return 0, 0, apperr.Validation("offset must be a non-negative integer", map[string]string{"offset": v})
		}
		offset = n
	}
	return limit, offset, nil
}
