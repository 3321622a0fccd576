package consultation

import (
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"diagnostic-assistant/internal/agent"
	"diagnostic-assistant/internal/diagnosis"
)

// Status is the lifecycle state of a consultation. It starts at in_progress
// and moves forward only: to completed when a diagnostic record is attached,
// to archived when diagnosis generation failed.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusArchived   Status = "archived"
)

func (s Status) Valid() bool {
	switch s {
	case StatusInProgress, StatusCompleted, StatusArchived:
		return true
	}
	return false
}

// Message is one turn of a consultation. Category is only set on assistant
// turns and never changes after creation.
type Message struct {
	ID             uuid.UUID           `json:"id"`
	ConsultationID uuid.UUID           `json:"consultation_id"`
	Role           agent.Role          `json:"role"`
	Content        string              `json:"content"`
	Category       *diagnosis.Category `json:"category,omitempty"`
	Timestamp      time.Time           `json:"timestamp"`
}

// Consultation represents the aggregate root. Diagnostic fields stay nil
// until the consultation is finalized.
type Consultation struct {
	ID        uuid.UUID  `json:"id"`
	PatientID *uuid.UUID `json:"patient_id,omitempty"`
	Status    Status     `json:"status"`

	PrincipalDiagnosis    *string                    `json:"principal_diagnosis"`
	PrincipalDescription  *string                    `json:"principal_description,omitempty"`
	DifferentialDiagnoses []diagnosis.Differential   `json:"differential_diagnoses"`
	Evidence              *diagnosis.Evidence        `json:"evidence"`
	Recommendations       *diagnosis.Recommendations `json:"recommendations"`
	AdditionalExams       []string                   `json:"additional_exams"`

	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Diagnosis rebuilds the stored diagnostic record with list defaults. It
// reports false when nothing has been finalized.
func (c *Consultation) Diagnosis() (diagnosis.Record, bool) {
	if c.PrincipalDiagnosis == nil {
		return diagnosis.Record{}, false
	}
	rec := diagnosis.Record{
		PrincipalDiagnosis:    diagnosis.Principal{Name: *c.PrincipalDiagnosis},
		DifferentialDiagnoses: c.DifferentialDiagnoses,
		AdditionalExams:       c.AdditionalExams,
	}
	if c.PrincipalDescription != nil {
		rec.PrincipalDiagnosis.Description = *c.PrincipalDescription
	}
	if c.Evidence != nil {
		rec.Evidence = *c.Evidence
	}
	if c.Recommendations != nil {
		rec.Recommendations = *c.Recommendations
	}
	rec.Normalize()
	return rec, true
}

// ListFilter narrows ListConsultations. Nil fields do not filter.
type ListFilter struct {
	Status    *Status
	PatientID *uuid.UUID
	Limit     int
	Offset    int
}

// Conversation maps stored messages to the gateway's message shape.
func Conversation(messages []Message) []agent.Message {
	return lo.Map(messages, func(m Message, _ int) agent.Message {
		return agent.Message{Role: m.Role, Content: m.Content}
	})
}
