package consultation

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"diagnostic-assistant/internal/agent"
	"diagnostic-assistant/internal/diagnosis"
	"diagnostic-assistant/internal/platform/httpx"
)

func newTestRouter(t *testing.T, gw *scriptedGateway, opts ...Option) (http.Handler, *MemoryStore) {
	t.Helper()
	svc, store := newTestService(t, gw, opts...)
	r := chi.NewRouter()
	RegisterRoutes(r, NewHandler(svc))
	return r, store
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) httpx.ErrorBody {
	t.Helper()
	var body httpx.ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Error)
	return body
}

func TestHandler_ConversationFlow(t *testing.T) {
	gw := newScriptedGateway(
		stubReply{text: "Have you noticed any shortness of breath?"},
		stubReply{text: "I recommend antibiotics."},
		stubReply{text: pneumoniaPayload},
	)
	h, _ := newTestRouter(t, gw)

	rec := doJSON(t, h, http.MethodPost, "/consultations", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var created Consultation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, StatusInProgress, created.Status)

	base := "/consultations/" + created.ID.String()
	rec = doJSON(t, h, http.MethodPost, base+"/turns", `{"content":"I have a fever of 38.5°C and a productive cough for 3 days"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var turn TurnResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &turn))
	assert.Equal(t, "question", string(turn.Category))
	assert.Equal(t, created.ID, *turn.ConsultationID)

	rec = doJSON(t, h, http.MethodGet, base+"/diagnosis", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decodeError(t, rec).Code)

	rec = doJSON(t, h, http.MethodPost, base+"/turns", `{"content":"Only when climbing stairs"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.Equal(t, "diagnosis", raw["category"])
	assert.Equal(t, "completed", raw["status"])
	diag := raw["diagnosis"].(map[string]any)
	assert.Equal(t, "Community-acquired pneumonia", diag["principal_diagnosis"].(map[string]any)["name"])

	rec = doJSON(t, h, http.MethodGet, base, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var detail struct {
		Status   Status    `json:"status"`
		Messages []Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, StatusCompleted, detail.Status)
	assert.Len(t, detail.Messages, 4)

	rec = doJSON(t, h, http.MethodGet, base+"/diagnosis", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodPost, base+"/turns", `{"content":"one more thing"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "CONFLICT", decodeError(t, rec).Code)
}

func TestHandler_Errors(t *testing.T) {
	h, _ := newTestRouter(t, newScriptedGateway())

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"invalid id", http.MethodGet, "/consultations/not-a-uuid", "", http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown consultation", http.MethodGet, "/consultations/" + uuid.NewString(), "", http.StatusNotFound, "NOT_FOUND"},
		{"malformed body", http.MethodPost, "/consultations/" + uuid.NewString() + "/turns", `{"content":`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"empty content", http.MethodPost, "/consultations/" + uuid.NewString() + "/turns", `{"content":""}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"chat not a list", http.MethodPost, "/chat", `{"messages":"hello"}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown body field", http.MethodPost, "/consultations/" + uuid.NewString() + "/turns", `{"content":"hi","mood":"calm"}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"bad message category", http.MethodPost, "/chat", `{"messages":[{"role":"user","content":"hi","category":"maybe"}]}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"report without input", http.MethodPost, "/diagnosis", `{}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"bad status filter", http.MethodGet, "/consultations?status=paused", "", http.StatusBadRequest, "VALIDATION_ERROR"},
		{"bad limit", http.MethodGet, "/consultations?limit=0", "", http.StatusBadRequest, "VALIDATION_ERROR"},
		{"tts not configured", http.MethodPost, "/tts", `{"text":"hello"}`, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
		{"pdf not configured", http.MethodGet, "/consultations/" + uuid.NewString() + "/report.pdf", "", http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
		{"bad patient on create", http.MethodPost, "/consultations", `{"patient_id":"nope"}`, http.StatusBadRequest, "VALIDATION_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, h, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.Equal(t, tt.code, decodeError(t, rec).Code)
		})
	}
}

func TestHandler_ChatDegradedIsStillOK(t *testing.T) {
	h, _ := newTestRouter(t, newScriptedGateway(stubReply{text: ""}))

	rec := doJSON(t, h, http.MethodPost, "/chat", `{"messages":[{"role":"user","content":"hello"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var res TurnResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Error)
	assert.Equal(t, FallbackReply, res.Reply)
}

func TestHandler_ChatAcceptsTaggedHistory(t *testing.T) {
	gw := newScriptedGateway(stubReply{text: "Does the pain spread to your arm?"})
	h, _ := newTestRouter(t, gw)

	rec := doJSON(t, h, http.MethodPost, "/chat", `{"messages":[
		{"role":"user","content":"Chest pain since this morning"},
		{"role":"assistant","content":"Is it sharp or dull?","category":"question"},
		{"role":"user","content":"Dull and heavy"}
	]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var res TurnResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.False(t, res.Error)
	assert.Equal(t, diagnosis.CategoryQuestion, res.Category)

	sent := gw.lastCall()
	assert.Equal(t, agent.Message{Role: agent.RoleAssistant, Content: "Is it sharp or dull?"}, sent[len(sent)-2])
}

func TestHandler_ManualMessagesAndList(t *testing.T) {
	h, _ := newTestRouter(t, newScriptedGateway())

	rec := doJSON(t, h, http.MethodPost, "/consultations", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var c Consultation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &c))
	base := "/consultations/" + c.ID.String()

	rec = doJSON(t, h, http.MethodPost, base+"/messages", `{"role":"user","content":"Headache for 2 days"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = doJSON(t, h, http.MethodPost, base+"/messages", `{"role":"user","content":"x","category":"question"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodGet, base+"/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var msgs struct {
		Items []Message `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msgs))
	require.Len(t, msgs.Items, 1)

	rec = doJSON(t, h, http.MethodGet, "/consultations?status=in_progress&limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Items []Consultation `json:"items"`
		Limit int            `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, 1, page.Items[0].MessageCount)
	assert.Equal(t, 5, page.Limit)

	rec = doJSON(t, h, http.MethodDelete, base, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = doJSON(t, h, http.MethodGet, base, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_ReportPDF(t *testing.T) {
	h, store := newTestRouter(t, newScriptedGateway(), WithReports(&fakeReports{}))
	c, err := store.CreateConsultation(t.Context(), nil)
	require.NoError(t, err)

	rec := doJSON(t, h, http.MethodGet, "/consultations/"+c.ID.String()+"/report.pdf", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	_, err = store.FinalizeDiagnosis(t.Context(), c.ID, sampleRecord())
	require.NoError(t, err)
	rec = doJSON(t, h, http.MethodGet, "/consultations/"+c.ID.String()+"/report.pdf", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), c.ID.String())
}

func TestHandler_AudioUpload(t *testing.T) {
	gw := newScriptedGateway(stubReply{text: "Where does it hurt?"})
	h, store := newTestRouter(t, gw, WithSpeech(fakeSTT{text: "My knee hurts"}, fakeTTS{}))
	c, err := store.CreateConsultation(t.Context(), nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("audio", "voice.webm")
	require.NoError(t, err)
	_, err = part.Write([]byte("fake-audio"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/consultations/"+c.ID.String()+"/audio", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var res map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "My knee hurts", res["transcript"])
	assert.Equal(t, "Where does it hurt?", res["reply"])
	assert.NotEmpty(t, res["audio_base64"])

	req = httptest.NewRequest(http.MethodPost, "/consultations/"+c.ID.String()+"/audio", strings.NewReader("plain"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
