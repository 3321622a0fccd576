package agent

import (
	"context"
	"strings"
	"sync"
)

// SimulatedGateway stands in for the provider when no API key is configured.
// It walks a fixed interview script and concludes once the patient has
// answered every question. Requests that ask for JSON receive a canned
// diagnostic payload.
type SimulatedGateway struct {
	mu    sync.Mutex
	calls int
}

func NewSimulatedGateway() *SimulatedGateway {
	return &SimulatedGateway{}
}

var interviewScript = []string{
	"Thank you for the details. How long have these symptoms been present, and did they start suddenly or gradually?",
	"Have you noticed anything that makes the symptoms better or worse, such as rest, food or medication?",
	"Do you have any relevant medical history, allergies, or medications you take regularly?",
}

const simulatedConclusion = "DIAGNOSIS: Based on the information provided, the most likely condition is an acute upper " +
	"respiratory infection. I recommend rest, hydration and symptomatic treatment, with an in-person " +
	"evaluation if the symptoms worsen."

const simulatedRecord = "```json\n" + `{
  "principal_diagnosis": {
    "name": "Acute upper respiratory infection",
    "description": "Self-limited viral infection of the upper airways, consistent with the reported symptoms."
  },
  "differential_diagnoses": [
    {"name": "Acute bronchitis", "probability": 25, "description": "Productive cough with airway inflammation."},
    {"name": "Community-acquired pneumonia", "probability": 10, "description": "Consider if fever persists or dyspnea develops."}
  ],
  "evidence": {
    "symptoms": ["Reported symptoms collected during the conversation"],
    "physical_exam_findings": [],
    "complementary_exam_results": []
  },
  "recommendations": {
    "pharmacological": ["Antipyretic as needed"],
    "non_pharmacological": ["Rest", "Oral hydration"],
    "follow_up": ["Return if symptoms worsen or persist beyond 7 days"]
  },
  "additional_exams": ["Chest X-ray if fever persists"]
}` + "\n```"

func (g *SimulatedGateway) Complete(ctx context.Context, messages []Message, _ Options) (string, error) {
	if err := ValidateMessages(messages); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", &UpstreamError{Err: err}
	}

	g.mu.Lock()
	g.calls++
	g.mu.Unlock()

	for _, m := range messages {
		if m.Role == RoleSystem && strings.Contains(m.Content, "JSON") {
			return simulatedRecord, nil
		}
	}

	userTurns := 0
	for _, m := range messages {
		if m.Role == RoleUser {
			userTurns++
		}
	}
	if userTurns > len(interviewScript) {
		return simulatedConclusion, nil
	}
	return interviewScript[max(userTurns-1, 0)], nil
}

// Calls returns how many completions were served.
func (g *SimulatedGateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}
