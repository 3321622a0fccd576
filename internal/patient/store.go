package patient

import (
	"context"

	"github.com/google/uuid"
)

type Store interface {
	Create(ctx context.Context, p *Patient) error
	Get(ctx context.Context, id uuid.UUID) (*Patient, error)
	List(ctx context.Context, limit, offset int) ([]Patient, error)
	UpdateContact(ctx context.Context, id uuid.UUID, update ContactUpdate) (*Patient, error)
}
