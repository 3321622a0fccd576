package consultation

import (
	"context"

	"github.com/google/uuid"

	"diagnostic-assistant/internal/agent"
	"diagnostic-assistant/internal/diagnosis"
)

// Store is the persistence boundary for consultations and their messages.
// Datastore failures surface as apperr.PersistenceError with nothing written;
// unknown ids are apperr.NotFoundError.
type Store interface {
	CreateConsultation(ctx context.Context, patientID *uuid.UUID) (*Consultation, error)
	GetConsultation(ctx context.Context, id uuid.UUID) (*Consultation, error)
	ListConsultations(ctx context.Context, filter ListFilter) ([]Consultation, error)
	DeleteConsultation(ctx context.Context, id uuid.UUID) error

	// AppendMessage inserts a message and bumps the consultation's
	// updated_at in the same unit of work.
	AppendMessage(ctx context.Context, consultationID uuid.UUID, role agent.Role, content string, category *diagnosis.Category) (*Message, error)
	// ListMessages returns the conversation in canonical order.
	ListMessages(ctx context.Context, consultationID uuid.UUID) ([]Message, error)

	// FinalizeDiagnosis writes every diagnostic field and sets status to
	// completed, all or nothing. A completed consultation is a Conflict.
	FinalizeDiagnosis(ctx context.Context, id uuid.UUID, rec diagnosis.Record) (*Consultation, error)
	// MarkArchived moves an in_progress consultation to archived.
	MarkArchived(ctx context.Context, id uuid.UUID) (*Consultation, error)

	Ping(ctx context.Context) error
}
