// Package diagnosis turns a free-text consultation into a structured
// diagnostic record. It owns the turn classifier, the extraction prompt, and
// the parse/repair/validate chain applied to model output.
package diagnosis

// Record is the structured diagnostic outcome of a consultation. List fields
// are never nil once a Record leaves this package.
type Record struct {
	PrincipalDiagnosis    Principal       `json:"principal_diagnosis"`
	DifferentialDiagnoses []Differential  `json:"differential_diagnoses"`
	Evidence              Evidence        `json:"evidence"`
	Recommendations       Recommendations `json:"recommendations"`
	AdditionalExams       []string        `json:"additional_exams"`

	// Error is set on degraded records produced when extraction failed.
	Error        bool   `json:"error,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type Principal struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Differential is an alternative candidate condition. Probability is kept as
// the model produced it (nominally 0-100).
type Differential struct {
	Name        string  `json:"name"`
	Probability float64 `json:"probability"`
	Description string  `json:"description"`
}

type Evidence struct {
	Symptoms                 []string `json:"symptoms"`
	PhysicalExamFindings     []string `json:"physical_exam_findings"`
	ComplementaryExamResults []string `json:"complementary_exam_results"`
}

type Recommendations struct {
	Pharmacological    []string `json:"pharmacological"`
	NonPharmacological []string `json:"non_pharmacological"`
	FollowUp           []string `json:"follow_up"`
}

// FailureDiagnosisName labels degraded records.
const FailureDiagnosisName = "Diagnostic error"

// Fallback returns the degraded record handed to callers when no valid
// diagnosis could be produced.
func Fallback(reason string) Record {
	r := Record{
		PrincipalDiagnosis: Principal{
			Name: FailureDiagnosisName,
			Description: "An automated diagnosis could not be generated. " +
				"Please seek an in-person evaluation with a physician.",
		},
		Error:        true,
		ErrorMessage: reason,
	}
	r.Normalize()
	return r
}

// Normalize replaces nil lists with empty ones so consumers never branch on
// missing versus empty.
func (r *Record) Normalize() {
	if r.DifferentialDiagnoses == nil {
		r.DifferentialDiagnoses = []Differential{}
	}
	r.Evidence.normalize()
	r.Recommendations.normalize()
	r.AdditionalExams = orEmpty(r.AdditionalExams)
}

func (e *Evidence) normalize() {
	e.Symptoms = orEmpty(e.Symptoms)
	e.PhysicalExamFindings = orEmpty(e.PhysicalExamFindings)
	e.ComplementaryExamResults = orEmpty(e.ComplementaryExamResults)
}

func (r *Recommendations) normalize() {
	r.Pharmacological = orEmpty(r.Pharmacological)
	r.NonPharmacological = orEmpty(r.NonPharmacological)
	r.FollowUp = orEmpty(r.FollowUp)
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
