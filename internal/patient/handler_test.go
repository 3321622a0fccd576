package patient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"diagnostic-assistant/internal/agent"
	"diagnostic-assistant/internal/consultation"
	"diagnostic-assistant/internal/diagnosis"
	"diagnostic-assistant/internal/platform/httpx"
)

func newTestRouter(t *testing.T) (http.Handler, consultation.Service) {
	t.Helper()
	patients := NewService(NewMemoryStore(), zerolog.Nop())
	gw := agent.NewSimulatedGateway()
	extractor := diagnosis.NewExtractor(gw, diagnosis.ExtractorConfig{Timeout: time.Second}, zerolog.Nop())
	consultations := consultation.NewService(
		consultation.NewMemoryStore(), gw, extractor,
		consultation.Config{ChatTimeout: time.Second, HistoryWindow: 10},
		zerolog.Nop(),
		consultation.WithPatients(patients),
	)

	r := chi.NewRouter()
	RegisterRoutes(r, NewHandler(patients, consultations))
	consultation.RegisterRoutes(r, consultation.NewHandler(consultations))
	return r, consultations
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandler_PatientLifecycle(t *testing.T) {
	h, _ := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/patients", `{"name":"Ana Souza","birth_date":"1990-02-01","sex":"female"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var p Patient
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, "1990-02-01", *p.BirthDate)

	rec = do(t, h, http.MethodPatch, "/patients/"+p.ID.String(), `{"phone":"+55 21 5555-1234"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/patients/"+p.ID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, "+55 21 5555-1234", *p.Phone)

	rec = do(t, h, http.MethodPost, "/consultations", `{"patient_id":"`+p.ID.String()+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = do(t, h, http.MethodPost, "/consultations", `{"patient_id":"`+uuid.NewString()+`"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/patients/"+p.ID.String()+"/consultations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Items []consultation.Consultation `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, p.ID, *page.Items[0].PatientID)

	rec = do(t, h, http.MethodGet, "/patients?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_PatientErrors(t *testing.T) {
	h, _ := newTestRouter(t)

	tests := []struct {
		name, method, path, body string
		status                   int
		code                     string
	}{
		{"missing name", http.MethodPost, "/patients", `{"sex":"male"}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"invalid id", http.MethodGet, "/patients/abc", "", http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown patient", http.MethodGet, "/patients/" + uuid.NewString(), "", http.StatusNotFound, "NOT_FOUND"},
		{"unknown patient history", http.MethodGet, "/patients/" + uuid.NewString() + "/consultations", "", http.StatusNotFound, "NOT_FOUND"},
		{"empty contact update", http.MethodPatch, "/patients/" + uuid.NewString(), `{}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"name is not a contact field", http.MethodPatch, "/patients/" + uuid.NewString(), `{"name":"Other"}`, http.StatusBadRequest, "VALIDATION_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			var body httpx.ErrorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body.Code)
		})
	}
}
