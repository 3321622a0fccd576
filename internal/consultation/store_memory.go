package consultation

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"diagnostic-assistant/internal/agent"
	"diagnostic-assistant/internal/diagnosis"
	"diagnostic-assistant/internal/platform/apperr"
)

// memoryRow mirrors a consultations row, diagnostic sections included as
// encoded blobs, so reads always hand out fresh copies.
type memoryRow struct {
	id                   uuid.UUID
	patientID            *uuid.UUID
	status               Status
	principal            *string
	principalDescription *string
	differentials        []byte
	evidence             []byte
	recommendations      []byte
	exams                []byte
	createdAt            time.Time
	updatedAt            time.Time
}

// MemoryStore keeps consultations in process. It backs the server when no
// DATABASE_URL is configured and serves as the fake in tests.
type MemoryStore struct {
	mu            sync.RWMutex
	consultations map[uuid.UUID]*memoryRow
	messages      map[uuid.UUID][]Message
	now           func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		consultations: make(map[uuid.UUID]*memoryRow),
		messages:      make(map[uuid.UUID][]Message),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) CreateConsultation(_ context.Context, patientID *uuid.UUID) (*Consultation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	row := &memoryRow{
		id:        uuid.New(),
		status:    StatusInProgress,
		createdAt: now,
		updatedAt: now,
	}
	if patientID != nil {
		pid := *patientID
		row.patientID = &pid
	}
	s.consultations[row.id] = row
	return s.toConsultation(row)
}

func (s *MemoryStore) GetConsultation(_ context.Context, id uuid.UUID) (*Consultation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.consultations[id]
	if !ok {
		return nil, apperr.NotFound("consultation", id.String())
	}
	return s.toConsultation(row)
}

func (s *MemoryStore) ListConsultations(_ context.Context, filter ListFilter) ([]Consultation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]*memoryRow, 0, len(s.consultations))
	for _, row := range s.consultations {
		if filter.Status != nil && row.status != *filter.Status {
			continue
		}
		if filter.PatientID != nil && (row.patientID == nil || *row.patientID != *filter.PatientID) {
			continue
		}
		rows = append(rows, row)
	}
	slices.SortFunc(rows, func(a, b *memoryRow) int {
		if c := b.updatedAt.Compare(a.updatedAt); c != 0 {
			return c
		}
		return a.createdAt.Compare(b.createdAt)
	})

	if filter.Offset >= len(rows) {
		return []Consultation{}, nil
	}
	rows = rows[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(rows) {
		rows = rows[:filter.Limit]
	}

	out := make([]Consultation, 0, len(rows))
	for _, row := range rows {
		c, err := s.toConsultation(row)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, nil
}

func (s *MemoryStore) DeleteConsultation(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.consultations[id]; !ok {
		return apperr.NotFound("consultation", id.String())
	}
	delete(s.consultations, id)
	delete(s.messages, id)
	return nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, consultationID uuid.UUID, role agent.Role, content string, category *diagnosis.Category) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.consultations[consultationID]
	if !ok {
		return nil, apperr.NotFound("consultation", consultationID.String())
	}

	msg := Message{
		ID:             uuid.New(),
		ConsultationID: consultationID,
		Role:           role,
		Content:        content,
		Timestamp:      s.now(),
	}
	if category != nil {
		c := *category
		msg.Category = &c
	}
	s.messages[consultationID] = append(s.messages[consultationID], msg)
	row.updatedAt = msg.Timestamp
	return &msg, nil
}

// ListMessages returns messages in insertion order, which matches timestamp
// order with insertion as the tie-break.
func (s *MemoryStore) ListMessages(_ context.Context, consultationID uuid.UUID) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.consultations[consultationID]; !ok {
		return nil, apperr.NotFound("consultation", consultationID.String())
	}
	return slices.Clone(s.messages[consultationID]), nil
}

func (s *MemoryStore) FinalizeDiagnosis(_ context.Context, id uuid.UUID, rec diagnosis.Record) (*Consultation, error) {
	cols, err := encodeRecord(rec)
	if err != nil {
		return nil, apperr.Persistence(err, "failed to encode diagnostic record")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.consultations[id]
	if !ok {
		return nil, apperr.NotFound("consultation", id.String())
	}
	if row.status == StatusCompleted {
		return nil, apperr.Conflict("consultation is already completed")
	}

	row.principal = &cols.Principal
	row.principalDescription = &cols.PrincipalDescription
	row.differentials = cols.Differentials
	row.evidence = cols.Evidence
	row.recommendations = cols.Recommendations
	row.exams = cols.AdditionalExams
	row.status = StatusCompleted
	row.updatedAt = s.now()
	return s.toConsultation(row)
}

func (s *MemoryStore) MarkArchived(_ context.Context, id uuid.UUID) (*Consultation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.consultations[id]
	if !ok {
		return nil, apperr.NotFound("consultation", id.String())
	}
	if row.status != StatusInProgress {
		return nil, apperr.Conflict("only an in-progress consultation can be archived")
	}
	row.status = StatusArchived
	row.updatedAt = s.now()
	return s.toConsultation(row)
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

// toConsultation must be called with s.mu held.
func (s *MemoryStore) toConsultation(row *memoryRow) (*Consultation, error) {
	c := &Consultation{
		ID:           row.id,
		Status:       row.status,
		MessageCount: len(s.messages[row.id]),
		CreatedAt:    row.createdAt,
		UpdatedAt:    row.updatedAt,
	}
	if row.patientID != nil {
		pid := *row.patientID
		c.PatientID = &pid
	}
	if row.principal != nil {
		p := *row.principal
		c.PrincipalDiagnosis = &p
	}
	if row.principalDescription != nil {
		d := *row.principalDescription
		c.PrincipalDescription = &d
	}
	if err := decodeDiagnostic(c, row.differentials, row.evidence, row.recommendations, row.exams); err != nil {
		return nil, apperr.Persistence(err, "failed to decode diagnostic record")
	}
	return c, nil
}
