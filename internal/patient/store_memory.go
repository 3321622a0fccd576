package patient

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"diagnostic-assistant/internal/platform/apperr"
)

type MemoryStore struct {
	mu       sync.RWMutex
	patients map[uuid.UUID]Patient
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{patients: make(map[uuid.UUID]Patient)}
}

func (s *MemoryStore) Create(_ context.Context, p *Patient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patients[p.ID] = *p
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patients[id]
	if !ok {
		return nil, apperr.NotFound("patient", id.String())
	}
	return &p, nil
}

func (s *MemoryStore) List(_ context.Context, limit, offset int) ([]Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Patient, 0, len(s.patients))
	for _, p := range s.patients {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b Patient) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	if offset >= len(out) {
		return []Patient{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) UpdateContact(_ context.Context, id uuid.UUID, update ContactUpdate) (*Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patients[id]
	if !ok {
		return nil, apperr.NotFound("patient", id.String())
	}
	if update.Phone != nil {
		p.Phone = nullIfEmpty(update.Phone)
	}
	if update.Email != nil {
		p.Email = nullIfEmpty(update.Email)
	}
	p.UpdatedAt = time.Now().UTC()
	s.patients[id] = p
	return &p, nil
}
