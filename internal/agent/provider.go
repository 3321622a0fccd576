package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"diagnostic-assistant/internal/platform/metrics"
)

// maxErrorBody caps how much of a failed provider response is kept.
const maxErrorBody = 4096

// Sampling holds the provider parameters sent on every completion besides
// the per-call Options.
type Sampling struct {
	FrequencyPenalty float64
	PresencePenalty  float64
	TopP             float64
}

// DefaultSampling matches what the assistant has always been tuned with.
var DefaultSampling = Sampling{FrequencyPenalty: 1, PresencePenalty: 1, TopP: 1}

// ProviderClient calls an OpenAI-compatible chat completions endpoint.
type ProviderClient struct {
	baseURL    string
	apiKey     string
	sampling   Sampling
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     zerolog.Logger
}

type ProviderOption func(*ProviderClient)

func WithSampling(s Sampling) ProviderOption {
	return func(c *ProviderClient) { c.sampling = s }
}

// NewProviderClient builds the provider gateway. rps <= 0 disables client-side
// rate limiting. Per-call deadlines come from the caller's context.
func NewProviderClient(baseURL, apiKey string, rps float64, logger zerolog.Logger, opts ...ProviderOption) *ProviderClient {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
	}
	c := &ProviderClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		sampling: DefaultSampling,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
		limiter: limiter,
		logger:  logger.With().Str("component", "model_gateway").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatCompletionRequest struct {
	Model            string         `json:"model"`
	Messages         []Message      `json:"messages"`
	Temperature      float64        `json:"temperature"`
	MaxTokens        int            `json:"max_tokens"`
	FrequencyPenalty float64        `json:"frequency_penalty"`
	PresencePenalty  float64        `json:"presence_penalty"`
	TopP             float64        `json:"top_p"`
	ResponseFormat   responseFormat `json:"response_format"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Role    string  `json:"role"`
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *ProviderClient) Complete(ctx context.Context, messages []Message, opts Options) (string, error) {
	if err := ValidateMessages(messages); err != nil {
		return "", err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", &UpstreamError{Err: err}
	}

	start := time.Now()
	text, status, err := c.do(ctx, messages, opts)
	metrics.RecordModelRequest(opts.Model, status, time.Since(start))
	if err != nil {
		c.logger.Warn().Err(err).Str("model", opts.Model).Dur("latency", time.Since(start)).Msg("completion failed")
		return "", err
	}
	return text, nil
}

func (c *ProviderClient) do(ctx context.Context, messages []Message, opts Options) (string, string, error) {
	jsonBody, err := json.Marshal(chatCompletionRequest{
		Model:            opts.Model,
		Messages:         messages,
		Temperature:      opts.Temperature,
		MaxTokens:        opts.MaxTokens,
		FrequencyPenalty: c.sampling.FrequencyPenalty,
		PresencePenalty:  c.sampling.PresencePenalty,
		TopP:             c.sampling.TopP,
		ResponseFormat:   responseFormat{Type: "text"},
	})
	if err != nil {
		return "", "encode_error", fmt.Errorf("encode completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return "", "request_error", &UpstreamError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "transport_error", &UpstreamError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", fmt.Sprint(resp.StatusCode), &UpstreamError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "transport_error", &UpstreamError{StatusCode: resp.StatusCode, Err: err}
	}
	var envelope chatCompletionResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return "", "malformed", &UpstreamError{StatusCode: resp.StatusCode, Body: truncate(string(raw)), Err: fmt.Errorf("decode envelope: %w", err)}
	}
	if len(envelope.Choices) == 0 || envelope.Choices[0].Message.Content == nil {
		return "", "malformed", &UpstreamError{StatusCode: resp.StatusCode, Body: truncate(string(raw)), Err: fmt.Errorf("envelope has no completion")}
	}
	return *envelope.Choices[0].Message.Content, fmt.Sprint(resp.StatusCode), nil
}

func truncate(s string) string {
	if len(s) > maxErrorBody {
		return s[:maxErrorBody]
	}
	return s
}
