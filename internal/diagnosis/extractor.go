package diagnosis

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"diagnostic-assistant/internal/agent"
	"diagnostic-assistant/internal/platform/apperr"
)

// ExtractorConfig holds the generation parameters of the extraction call.
// Low temperature favours determinism; the payload is verbose, so the token
// budget is generous.
type ExtractorConfig struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

type Extractor struct {
	gateway agent.Gateway
	cfg     ExtractorConfig
	logger  zerolog.Logger
}

func NewExtractor(gateway agent.Gateway, cfg ExtractorConfig, logger zerolog.Logger) *Extractor {
	return &Extractor{
		gateway: gateway,
		cfg:     cfg,
		logger:  logger.With().Str("component", "diagnostic_extractor").Logger(),
	}
}

// Extract asks the model for a structured diagnosis of the conversation and
// parses the answer. Provider failures are returned as-is (UpstreamError);
// unusable output is a DiagnosticFormatError.
func (e *Extractor) Extract(ctx context.Context, conversation []agent.Message) (Record, error) {
	turns := lo.Filter(conversation, func(m agent.Message, _ int) bool {
		return m.Role != agent.RoleSystem
	})
	if len(turns) == 0 {
		return Record{}, apperr.Validation("conversation must contain at least one user or assistant message", nil)
	}

	messages := make([]agent.Message, 0, len(turns)+2)
	messages = append(messages, agent.Message{Role: agent.RoleSystem, Content: extractionSystemPrompt})
	messages = append(messages, turns...)
	messages = append(messages, agent.Message{Role: agent.RoleUser, Content: extractionUserInstruction})

	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	text, err := e.gateway.Complete(ctx, messages, agent.Options{
		Model:       e.cfg.Model,
		Temperature: e.cfg.Temperature,
		MaxTokens:   e.cfg.MaxTokens,
	})
	if err != nil {
		return Record{}, agent.AsUpstream(err)
	}

	rec, err := Parse(text)
	if err != nil {
		e.logger.Warn().Err(err).Int("output_len", len(text)).Msg("unusable diagnostic payload")
		return Record{}, err
	}
	return rec, nil
}
