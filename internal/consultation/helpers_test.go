package consultation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"diagnostic-assistant/internal/agent"
	"diagnostic-assistant/internal/diagnosis"
	"diagnostic-assistant/internal/platform/apperr"
)

const pneumoniaPayload = `{
  "principal_diagnosis": {"name": "Community-acquired pneumonia", "description": "Lower respiratory tract infection."},
  "differential_diagnoses": [{"name": "Acute bronchitis", "probability": 30, "description": "Airway inflammation."}],
  "evidence": {"symptoms": ["Fever 38.5°C", "Productive cough for 3 days"], "physical_exam_findings": [], "complementary_exam_results": []},
  "recommendations": {"pharmacological": ["Amoxicillin"], "non_pharmacological": ["Rest", "Hydration"], "follow_up": ["Reassess in 48h"]},
  "additional_exams": ["Chest X-ray"]
}`

type stubReply struct {
	text  string
	err   error
	block bool
}

// scriptedGateway answers calls in order from replies, then with a generic
// question. It records every call and the peak number of concurrent calls.
type scriptedGateway struct {
	mu          sync.Mutex
	replies     []stubReply
	calls       [][]agent.Message
	inFlight    int
	maxInFlight int
	delay       time.Duration
}

func newScriptedGateway(replies ...stubReply) *scriptedGateway {
	return &scriptedGateway{replies: replies}
}

func (g *scriptedGateway) Complete(ctx context.Context, messages []agent.Message, _ agent.Options) (string, error) {
	g.mu.Lock()
	g.calls = append(g.calls, messages)
	r := stubReply{text: "Could you tell me more about the symptoms?"}
	if len(g.replies) > 0 {
		r, g.replies = g.replies[0], g.replies[1:]
	}
	g.inFlight++
	g.maxInFlight = max(g.maxInFlight, g.inFlight)
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.inFlight--
		g.mu.Unlock()
	}()

	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if r.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return r.text, r.err
}

func (g *scriptedGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func (g *scriptedGateway) lastCall() []agent.Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[len(g.calls)-1]
}

type fakeReports struct {
	mu       sync.Mutex
	notified []*Consultation
	err      error
}

func (f *fakeReports) Render(c *Consultation) ([]byte, error) {
	return []byte("%PDF-1.4 " + c.ID.String()), nil
}

func (f *fakeReports) NotifyCompleted(_ context.Context, c *Consultation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified = append(f.notified, c)
	return f.err
}

func testConfig() Config {
	return Config{
		Chat:          agent.Options{Model: "chat-model", Temperature: 0.7, MaxTokens: 500},
		ChatTimeout:   time.Second,
		HistoryWindow: 10,
	}
}

func newTestService(t *testing.T, gw agent.Gateway, opts ...Option) (Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	return newTestServiceWithStore(t, store, gw, opts...), store
}

func newTestServiceWithStore(t *testing.T, store Store, gw agent.Gateway, opts ...Option) Service {
	t.Helper()
	extractor := diagnosis.NewExtractor(gw, diagnosis.ExtractorConfig{
		Model:       "diag-model",
		Temperature: 0.3,
		MaxTokens:   2048,
		Timeout:     time.Second,
	}, zerolog.Nop())
	return NewService(store, gw, extractor, testConfig(), zerolog.Nop(), opts...)
}

// ctxStore refuses writes on a done context, the way a database driver
// fails to begin a transaction.
type ctxStore struct {
	*MemoryStore
}

func (s ctxStore) AppendMessage(ctx context.Context, id uuid.UUID, role agent.Role, content string, category *diagnosis.Category) (*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Persistence(err, "failed to append message")
	}
	return s.MemoryStore.AppendMessage(ctx, id, role, content, category)
}

func (s ctxStore) FinalizeDiagnosis(ctx context.Context, id uuid.UUID, rec diagnosis.Record) (*Consultation, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Persistence(err, "failed to finalize diagnosis")
	}
	return s.MemoryStore.FinalizeDiagnosis(ctx, id, rec)
}

func (s ctxStore) MarkArchived(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Persistence(err, "failed to archive consultation")
	}
	return s.MemoryStore.MarkArchived(ctx, id)
}

// disconnectingGateway concludes on the first call and, on the next one,
// cancels the caller's context and waits for it like a dropped client.
type disconnectingGateway struct {
	mu     sync.Mutex
	calls  int
	cancel context.CancelFunc
}

func (g *disconnectingGateway) Complete(ctx context.Context, _ []agent.Message, _ agent.Options) (string, error) {
	g.mu.Lock()
	g.calls++
	n := g.calls
	g.mu.Unlock()

	if n == 1 {
		return "DIAGNOSIS: tension headache, I recommend rest and hydration.", nil
	}
	g.cancel()
	<-ctx.Done()
	return "", ctx.Err()
}
