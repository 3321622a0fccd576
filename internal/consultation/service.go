package consultation

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"diagnostic-assistant/internal/agent"
	"diagnostic-assistant/internal/diagnosis"
	"diagnostic-assistant/internal/platform/apperr"
	"diagnostic-assistant/internal/platform/metrics"
)

// persistTimeout bounds the writes that follow a model call. They run
// detached from the caller's context so a disconnect after the model has
// answered cannot strand the consultation between states.
const persistTimeout = 10 * time.Second

// FallbackReply is surfaced instead of an assistant turn when the model
// provider fails. It is not persisted.
const FallbackReply = "I'm having technical difficulty right now. Please try again in a moment."

// DiagnosisExtractor turns a conversation into a diagnostic record.
type DiagnosisExtractor interface {
	Extract(ctx context.Context, conversation []agent.Message) (diagnosis.Record, error)
}

// PatientChecker reports apperr.NotFoundError for unknown patients.
type PatientChecker interface {
	EnsureExists(ctx context.Context, id uuid.UUID) error
}

// ReportService renders and delivers the report of a completed consultation.
type ReportService interface {
	Render(c *Consultation) ([]byte, error)
	NotifyCompleted(ctx context.Context, c *Consultation) error
}

type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, fileName string) (string, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Config holds the conversational generation parameters.
type Config struct {
	Chat          agent.Options
	ChatTimeout   time.Duration
	HistoryWindow int
}

type Service interface {
	CreateConsultation(ctx context.Context, patientID *uuid.UUID) (*Consultation, error)
	GetConsultation(ctx context.Context, id uuid.UUID) (*Detail, error)
	ListConsultations(ctx context.Context, filter ListFilter) ([]Consultation, error)
	DeleteConsultation(ctx context.Context, id uuid.UUID) error
	ListMessages(ctx context.Context, id uuid.UUID) ([]Message, error)
	AppendMessage(ctx context.Context, id uuid.UUID, req AppendRequest) (*Message, error)

	SendMessage(ctx context.Context, id uuid.UUID, content string) (*TurnResult, error)
	Chat(ctx context.Context, req ChatRequest) (*TurnResult, error)
	GenerateReport(ctx context.Context, req ReportRequest) (*ReportResult, error)
	GetDiagnosis(ctx context.Context, id uuid.UUID) (*diagnosis.Record, error)
	RenderReport(ctx context.Context, id uuid.UUID) ([]byte, error)

	VoiceTurn(ctx context.Context, id uuid.UUID, audio []byte, fileName string) (*VoiceResult, error)
	SynthesizeSpeech(ctx context.Context, text string) ([]byte, error)

	Ping(ctx context.Context) error
}

// Detail is a consultation together with its ordered conversation.
type Detail struct {
	*Consultation
	Messages []Message `json:"messages"`
}

// TurnResult is the outcome of one conversational turn. Diagnosis is set
// when the turn concluded the consultation; Error marks a degraded reply.
type TurnResult struct {
	ConsultationID *uuid.UUID         `json:"consultation_id,omitempty"`
	Reply          string             `json:"reply"`
	Category       diagnosis.Category `json:"category"`
	Status         Status             `json:"status,omitempty"`
	Diagnosis      *diagnosis.Record  `json:"diagnosis,omitempty"`
	Error          bool               `json:"error,omitempty"`
	ErrorMessage   string             `json:"error_message,omitempty"`
}

type ChatRequest struct {
	Messages       []agent.Message `json:"messages"`
	ConsultationID *uuid.UUID      `json:"consultation_id,omitempty"`
}

// ReportRequest names either a stored consultation or an ad hoc
// conversation. ConsultationID wins when both are set.
type ReportRequest struct {
	ConsultationID *uuid.UUID      `json:"consultation_id,omitempty"`
	Conversation   []agent.Message `json:"conversation,omitempty"`
}

type ReportResult struct {
	ConsultationID *uuid.UUID `json:"consultation_id,omitempty"`
	Status         Status     `json:"status,omitempty"`
	diagnosis.Record
}

type AppendRequest struct {
	Role     agent.Role          `json:"role"`
	Content  string              `json:"content"`
	Category *diagnosis.Category `json:"category,omitempty"`
}

type VoiceResult struct {
	Transcript  string `json:"transcript"`
	AudioBase64 string `json:"audio_base64,omitempty"`
	*TurnResult
}

type Option func(*service)

func WithPatients(p PatientChecker) Option { return func(s *service) { s.patients = p } }

func WithReports(r ReportService) Option { return func(s *service) { s.reports = r } }

func WithSpeech(stt Transcriber, tts Synthesizer) Option {
	return func(s *service) {
		s.stt = stt
		s.tts = tts
	}
}

type service struct {
	store     Store
	gateway   agent.Gateway
	extractor DiagnosisExtractor
	cfg       Config
	locks     *keyedLocker
	logger    zerolog.Logger

	patients PatientChecker
	reports  ReportService
	stt      Transcriber
	tts      Synthesizer
}

func NewService(store Store, gateway agent.Gateway, extractor DiagnosisExtractor, cfg Config, logger zerolog.Logger, opts ...Option) Service {
	s := &service{
		store:     store,
		gateway:   gateway,
		extractor: extractor,
		cfg:       cfg,
		locks:     newKeyedLocker(),
		logger:    logger.With().Str("component", "consultation").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) CreateConsultation(ctx context.Context, patientID *uuid.UUID) (*Consultation, error) {
	if patientID != nil && s.patients != nil {
		if err := s.patients.EnsureExists(ctx, *patientID); err != nil {
			return nil, err
		}
	}
	return s.store.CreateConsultation(ctx, patientID)
}

func (s *service) GetConsultation(ctx context.Context, id uuid.UUID) (*Detail, error) {
	c, err := s.store.GetConsultation(ctx, id)
	if err != nil {
		return nil, err
	}
	msgs, err := s.store.ListMessages(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Detail{Consultation: c, Messages: msgs}, nil
}

func (s *service) ListConsultations(ctx context.Context, filter ListFilter) ([]Consultation, error) {
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, apperr.Validation("invalid status filter", map[string]string{"status": string(*filter.Status)})
	}
	return s.store.ListConsultations(ctx, filter)
}

func (s *service) DeleteConsultation(ctx context.Context, id uuid.UUID) error {
	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()
	return s.store.DeleteConsultation(ctx, id)
}

func (s *service) ListMessages(ctx context.Context, id uuid.UUID) ([]Message, error) {
	return s.store.ListMessages(ctx, id)
}

// AppendMessage records a turn captured outside the chat loop. Assistant
// turns without an explicit category are classified here, since category is
// fixed at creation.
func (s *service) AppendMessage(ctx context.Context, id uuid.UUID, req AppendRequest) (*Message, error) {
	if !req.Role.Valid() {
		return nil, apperr.Validation("role must be one of system, user, assistant", map[string]string{"role": string(req.Role)})
	}
	if strings.TrimSpace(req.Content) == "" {
		return nil, apperr.Validation("content is required", nil)
	}
	category := req.Category
	switch {
	case req.Role != agent.RoleAssistant && category != nil:
		return nil, apperr.Validation("category is only allowed on assistant messages", nil)
	case category != nil && !category.Valid():
		return nil, apperr.Validation("category must be question or diagnosis", map[string]string{"category": string(*category)})
	case req.Role == agent.RoleAssistant && category == nil:
		category = lo.ToPtr(diagnosis.Classify(req.Content))
	}

	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, err := s.openConsultation(ctx, id); err != nil {
		return nil, err
	}
	return s.store.AppendMessage(ctx, id, req.Role, req.Content, category)
}

// SendMessage runs one turn of the conversational loop: persist the user
// message, ask the model for the next assistant turn, classify and persist
// it, and finalize the consultation when the turn is a diagnosis.
func (s *service) SendMessage(ctx context.Context, id uuid.UUID, content string) (*TurnResult, error) {
	if strings.TrimSpace(content) == "" {
		return nil, apperr.Validation("content is required", nil)
	}

	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, err := s.openConsultation(ctx, id); err != nil {
		return nil, err
	}
	// The user turn is durable before the model is called.
	if _, err := s.store.AppendMessage(ctx, id, agent.RoleUser, content, nil); err != nil {
		return nil, err
	}

	history, err := s.store.ListMessages(ctx, id)
	if err != nil {
		return nil, err
	}

	res := &TurnResult{ConsultationID: &id, Status: StatusInProgress}
	reply, err := s.complete(ctx, Conversation(history))
	if err != nil {
		if !apperr.IsModelFailure(err) {
			return nil, err
		}
		s.logger.Warn().Err(err).Str("consultation_id", id.String()).Msg("conversational turn degraded")
		s.degrade(res, err)
		return res, nil
	}

	category := diagnosis.Classify(reply)
	metrics.RecordTurn(string(category))
	s.logger.Debug().Str("consultation_id", id.String()).Str("category", string(category)).Msg("assistant turn classified")

	writeCtx, cancel := detached(ctx)
	defer cancel()
	assistant, err := s.store.AppendMessage(writeCtx, id, agent.RoleAssistant, reply, &category)
	if err != nil {
		return nil, err
	}
	res.Reply = reply
	res.Category = category
	if category == diagnosis.CategoryQuestion {
		return res, nil
	}

	c, rec, err := s.finalize(ctx, id, StatusInProgress, append(history, *assistant))
	if err != nil {
		return nil, err
	}
	res.Status = c.Status
	res.Diagnosis = &rec
	if rec.Error {
		res.Error = true
		res.ErrorMessage = rec.ErrorMessage
	}
	return res, nil
}

// Chat serves the stateless send-message surface. With a consultation id the
// last user message is run through SendMessage and stored history is
// authoritative; without one the given history is sent as is and nothing is
// persisted.
func (s *service) Chat(ctx context.Context, req ChatRequest) (*TurnResult, error) {
	if err := agent.ValidateMessages(req.Messages); err != nil {
		return nil, err
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != agent.RoleUser {
		return nil, apperr.Validation("last message must have role user", nil)
	}
	if req.ConsultationID != nil {
		return s.SendMessage(ctx, *req.ConsultationID, last.Content)
	}

	res := &TurnResult{}
	reply, err := s.complete(ctx, req.Messages)
	if err != nil {
		if !apperr.IsModelFailure(err) {
			return nil, err
		}
		s.logger.Warn().Err(err).Msg("stateless chat turn degraded")
		s.degrade(res, err)
		return res, nil
	}
	res.Reply = reply
	res.Category = diagnosis.Classify(reply)
	metrics.RecordTurn(string(res.Category))
	return res, nil
}

func (s *service) GenerateReport(ctx context.Context, req ReportRequest) (*ReportResult, error) {
	switch {
	case req.ConsultationID != nil:
		return s.reportForConsultation(ctx, *req.ConsultationID)
	case len(req.Conversation) > 0:
		if err := agent.ValidateMessages(req.Conversation); err != nil {
			return nil, err
		}
		rec, err := s.extractor.Extract(ctx, req.Conversation)
		if err != nil {
			if !apperr.IsModelFailure(err) {
				return nil, err
			}
			metrics.RecordExtraction("failed")
			s.logger.Warn().Err(err).Msg("ad hoc diagnosis degraded")
			rec = diagnosis.Fallback(apperr.As(err).Message)
		} else {
			metrics.RecordExtraction("success")
		}
		return &ReportResult{Record: rec}, nil
	default:
		return nil, apperr.Validation("consultation_id or conversation is required", nil)
	}
}

func (s *service) reportForConsultation(ctx context.Context, id uuid.UUID) (*ReportResult, error) {
	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	c, err := s.store.GetConsultation(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status == StatusCompleted {
		rec, _ := c.Diagnosis()
		return &ReportResult{ConsultationID: &id, Status: c.Status, Record: rec}, nil
	}

	msgs, err := s.store.ListMessages(ctx, id)
	if err != nil {
		return nil, err
	}
	c, rec, err := s.finalize(ctx, id, c.Status, msgs)
	if err != nil {
		return nil, err
	}
	return &ReportResult{ConsultationID: &id, Status: c.Status, Record: rec}, nil
}

// finalize extracts a record from the conversation and moves the
// consultation to completed, or to archived with a fallback record when the
// model cannot produce one. Only the extraction observes ctx cancellation;
// the status write that follows always runs. Store failures are returned as
// errors.
func (s *service) finalize(ctx context.Context, id uuid.UUID, current Status, conversation []Message) (*Consultation, diagnosis.Record, error) {
	log := s.logger.With().Str("consultation_id", id.String()).Logger()

	rec, err := s.extractor.Extract(ctx, Conversation(conversation))

	ctx, cancel := detached(ctx)
	defer cancel()
	if err != nil {
		if !apperr.IsModelFailure(err) {
			return nil, diagnosis.Record{}, err
		}
		metrics.RecordExtraction("failed")
		log.Warn().Err(err).Msg("diagnosis extraction failed, archiving consultation")

		fallback := diagnosis.Fallback(apperr.As(err).Message)
		if current != StatusInProgress {
			c, getErr := s.store.GetConsultation(ctx, id)
			return c, fallback, getErr
		}
		c, archErr := s.store.MarkArchived(ctx, id)
		if archErr != nil {
			return nil, diagnosis.Record{}, archErr
		}
		metrics.RecordStatusTransition(string(StatusArchived))
		return c, fallback, nil
	}
	metrics.RecordExtraction("success")

	c, err := s.store.FinalizeDiagnosis(ctx, id, rec)
	if err != nil {
		return nil, diagnosis.Record{}, err
	}
	metrics.RecordStatusTransition(string(StatusCompleted))
	log.Info().Str("principal_diagnosis", rec.PrincipalDiagnosis.Name).Msg("consultation completed")

	if s.reports != nil {
		if err := s.reports.NotifyCompleted(ctx, c); err != nil {
			log.Error().Err(err).Msg("failed to notify doctor")
		}
	}
	return c, rec, nil
}

func (s *service) GetDiagnosis(ctx context.Context, id uuid.UUID) (*diagnosis.Record, error) {
	c, err := s.store.GetConsultation(ctx, id)
	if err != nil {
		return nil, err
	}
	rec, ok := c.Diagnosis()
	if !ok {
		return nil, apperr.NotFound("diagnosis", id.String())
	}
	return &rec, nil
}

func (s *service) RenderReport(ctx context.Context, id uuid.UUID) ([]byte, error) {
	if s.reports == nil {
		return nil, apperr.Unavailable("report rendering is not configured")
	}
	c, err := s.store.GetConsultation(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusCompleted {
		return nil, apperr.Conflict("report is only available for completed consultations")
	}
	pdf, err := s.reports.Render(c)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return pdf, nil
}

// VoiceTurn transcribes the audio and runs it as a user turn. Silence yields
// an empty transcript and no turn. Reply audio is best effort.
func (s *service) VoiceTurn(ctx context.Context, id uuid.UUID, audio []byte, fileName string) (*VoiceResult, error) {
	if s.stt == nil {
		return nil, apperr.Unavailable("speech-to-text is not configured")
	}
	if len(audio) == 0 {
		return nil, apperr.Validation("audio is empty", nil)
	}
	text, err := s.stt.Transcribe(ctx, audio, fileName)
	if err != nil {
		return nil, agent.AsUpstream(err)
	}
	res := &VoiceResult{Transcript: strings.TrimSpace(text)}
	if res.Transcript == "" {
		return res, nil
	}

	turn, err := s.SendMessage(ctx, id, res.Transcript)
	if err != nil {
		return nil, err
	}
	res.TurnResult = turn

	if s.tts != nil && turn.Reply != "" {
		speech, err := s.tts.Synthesize(ctx, turn.Reply)
		if err != nil {
			s.logger.Warn().Err(err).Str("consultation_id", id.String()).Msg("reply synthesis failed")
		} else {
			res.AudioBase64 = base64.StdEncoding.EncodeToString(speech)
		}
	}
	return res, nil
}

func (s *service) SynthesizeSpeech(ctx context.Context, text string) ([]byte, error) {
	if s.tts == nil {
		return nil, apperr.Unavailable("text-to-speech is not configured")
	}
	if strings.TrimSpace(text) == "" {
		return nil, apperr.Validation("text is required", nil)
	}
	audio, err := s.tts.Synthesize(ctx, text)
	if err != nil {
		return nil, agent.AsUpstream(err)
	}
	return audio, nil
}

func (s *service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// openConsultation loads a consultation that still accepts turns.
func (s *service) openConsultation(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	c, err := s.store.GetConsultation(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusInProgress {
		return nil, apperr.Conflict("consultation is " + string(c.Status) + " and accepts no further messages")
	}
	return c, nil
}

// complete asks the model for the next assistant turn over the priming
// prompt and the most recent window of the conversation. Any failure,
// including the call timing out, is an UpstreamError.
func (s *service) complete(ctx context.Context, conversation []agent.Message) (string, error) {
	turns := lo.Filter(conversation, func(m agent.Message, _ int) bool {
		return m.Role != agent.RoleSystem
	})
	if w := s.cfg.HistoryWindow; w > 0 && len(turns) > w {
		turns = turns[len(turns)-w:]
	}
	messages := append([]agent.Message{{Role: agent.RoleSystem, Content: diagnosis.ConversationPrimer}}, turns...)

	callCtx := ctx
	if s.cfg.ChatTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.cfg.ChatTimeout)
		defer cancel()
	}

	reply, err := s.gateway.Complete(callCtx, messages, s.cfg.Chat)
	if err != nil {
		return "", agent.AsUpstream(err)
	}
	if strings.TrimSpace(reply) == "" {
		return "", &agent.UpstreamError{Err: errors.New("empty completion")}
	}
	return strings.TrimSpace(reply), nil
}

func (s *service) degrade(res *TurnResult, err error) {
	metrics.RecordTurn("failed")
	res.Reply = FallbackReply
	res.Category = diagnosis.CategoryQuestion
	res.Error = true
	res.ErrorMessage = apperr.As(err).Message
}

// detached returns a context that keeps ctx's values but not its
// cancellation, bounded by persistTimeout.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
}
