// Package agent wraps the external model services: the chat-completion
// provider behind the Gateway contract, plus the speech-to-text and
// text-to-speech clients used for voice turns.
package agent

import (
	"context"
	"errors"
	"fmt"

	"diagnostic-assistant/internal/platform/apperr"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Message is one role-tagged turn sent to the provider.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Options are the generation parameters of a single completion.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Gateway is the Model Gateway contract: one completion per call, free text
// out, no guarantee on its shape. Implementations do not retry.
type Gateway interface {
	Complete(ctx context.Context, messages []Message, opts Options) (string, error)
}

// UpstreamError is returned when the provider fails, times out, or answers
// with an envelope that carries no completion. StatusCode is 0 when no HTTP
// response was received.
type UpstreamError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("model provider returned status %d: %v", e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("model provider returned status %d: %s", e.StatusCode, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("model provider request failed: %v", e.Err)
	default:
		return "model provider request failed"
	}
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func (e *UpstreamError) Is(target error) bool { return target == apperr.ErrUpstream }

// ValidateMessages checks the input constraint shared by every gateway.
func ValidateMessages(messages []Message) error {
	if len(messages) == 0 {
		return apperr.Validation("messages must not be empty", nil)
	}
	for i, m := range messages {
		if !m.Role.Valid() {
			return apperr.Validation("invalid message role", map[string]string{
				"index": fmt.Sprint(i),
				"role":  string(m.Role),
			})
		}
	}
	return nil
}

// AsUpstream normalises a gateway failure. Aborted calls and unknown errors
// from any Gateway implementation are reported as UpstreamError; validation
// errors pass through unchanged.
func AsUpstream(err error) error {
	if err == nil || errors.Is(err, apperr.ErrUpstream) || errors.Is(err, apperr.ErrValidation) {
		return err
	}
	return &UpstreamError{Err: err}
}
