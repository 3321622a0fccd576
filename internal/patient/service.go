package patient

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Patient, error)
	Get(ctx context.Context, id uuid.UUID) (*Patient, error)
	List(ctx context.Context, limit, offset int) ([]Patient, error)
	UpdateContact(ctx context.Context, id uuid.UUID, update ContactUpdate) (*Patient, error)
	EnsureExists(ctx context.Context, id uuid.UUID) error
}

type service struct {
	store  Store
	logger zerolog.Logger
}

func NewService(store Store, logger zerolog.Logger) Service {
	return &service{
		store:  store,
		logger: logger.With().Str("component", "patient").Logger(),
	}
}

func (s *service) Create(ctx context.Context, req CreateRequest) (*Patient, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	p := &Patient{
		ID:        uuid.New(),
		Name:      req.Name,
		BirthDate: req.BirthDate,
		Sex:       req.Sex,
		Phone:     nullIfEmpty(req.Phone),
		Email:     nullIfEmpty(req.Email),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if p.Email != nil {
		lower := strings.ToLower(*p.Email)
		p.Email = &lower
	}
	if err := s.store.Create(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info().Str("patient_id", p.ID.String()).Msg("patient created")
	return p, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.store.Get(ctx, id)
}

func (s *service) List(ctx context.Context, limit, offset int) ([]Patient, error) {
	return s.store.List(ctx, limit, offset)
}

func (s *service) UpdateContact(ctx context.Context, id uuid.UUID, update ContactUpdate) (*Patient, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}
	return s.store.UpdateContact(ctx, id, update)
}

// EnsureExists lets other services check a patient reference without
// depending on this package's types.
func (s *service) EnsureExists(ctx context.Context, id uuid.UUID) error {
	_, err := s.store.Get(ctx, id)
	return err
}
