package consultation

import (
	"encoding/json"
	"fmt"

	"diagnostic-assistant/internal/diagnosis"
)

// diagnosticColumns is the persisted layout of a diagnostic record: the
// principal diagnosis as plain text, every other section as one JSON document.
type diagnosticColumns struct {
	Principal            string
	PrincipalDescription string
	Differentials        []byte
	Evidence             []byte
	Recommendations      []byte
	AdditionalExams      []byte
}

// encodeRecord serializes every section before anything is written, so a
// record that cannot be encoded never reaches the store.
func encodeRecord(rec diagnosis.Record) (diagnosticColumns, error) {
	rec.Normalize()
	cols := diagnosticColumns{
		Principal:            rec.PrincipalDiagnosis.Name,
		PrincipalDescription: rec.PrincipalDiagnosis.Description,
	}
	var err error
	if cols.Differentials, err = json.Marshal(rec.DifferentialDiagnoses); err != nil {
		return diagnosticColumns{}, fmt.Errorf("encode differential_diagnoses: %w", err)
	}
	if cols.Evidence, err = json.Marshal(rec.Evidence); err != nil {
		return diagnosticColumns{}, fmt.Errorf("encode evidence: %w", err)
	}
	if cols.Recommendations, err = json.Marshal(rec.Recommendations); err != nil {
		return diagnosticColumns{}, fmt.Errorf("encode recommendations: %w", err)
	}
	if cols.AdditionalExams, err = json.Marshal(rec.AdditionalExams); err != nil {
		return diagnosticColumns{}, fmt.Errorf("encode additional_exams: %w", err)
	}
	return cols, nil
}

// decodeDiagnostic fills the diagnostic fields of c from stored blobs. Nil
// blobs leave the matching field unset.
func decodeDiagnostic(c *Consultation, differentials, evidence, recommendations, exams []byte) error {
	if len(differentials) > 0 {
		if err := json.Unmarshal(differentials, &c.DifferentialDiagnoses); err != nil {
			return fmt.Errorf("decode differential_diagnoses: %w", err)
		}
	}
	if len(evidence) > 0 {
		c.Evidence = &diagnosis.Evidence{}
		if err := json.Unmarshal(evidence, c.Evidence); err != nil {
			return fmt.Errorf("decode evidence: %w", err)
		}
	}
	if len(recommendations) > 0 {
		c.Recommendations = &diagnosis.Recommendations{}
		if err := json.Unmarshal(recommendations, c.Recommendations); err != nil {
			return fmt.Errorf("decode recommendations: %w", err)
		}
	}
	if len(exams) > 0 {
		if err := json.Unmarshal(exams, &c.AdditionalExams); err != nil {
			return fmt.Errorf("decode additional_exams: %w", err)
		}
	}
	return nil
}
