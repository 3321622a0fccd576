package consultation

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"diagnostic-assistant/internal/agent"
	"diagnostic-assistant/internal/diagnosis"
	"diagnostic-assistant/internal/platform/apperr"
	"diagnostic-assistant/internal/platform/httpx"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
	maxAudioBytes   = 10 << 20
)

type Handler struct {
	svc Service
}

func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

func RegisterRoutes(r chi.Router, h *Handler) {
	r.Route("/consultations", func(r chi.Router) {
		r.Post("/", h.CreateConsultation)
		r.Get("/", h.ListConsultations)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetConsultation)
			r.Delete("/", h.DeleteConsultation)
			r.Get("/messages", h.ListMessages)
			r.Post("/messages", h.AppendMessage)
			r.Post("/turns", h.SendMessage)
			r.Post("/audio", h.HandleAudioUpload)
			r.Get("/diagnosis", h.GetDiagnosis)
			r.Post("/diagnosis", h.GenerateConsultationReport)
			r.Get("/report.pdf", h.DownloadReport)
		})
	})
	r.Post("/chat", h.Chat)
	r.Post("/diagnosis", h.GenerateReport)
	r.Post("/tts", h.HandleTTS)
}

type CreateConsultationRequest struct {
	PatientID *uuid.UUID `json:"patient_id"`
}

func (h *Handler) CreateConsultation(w http.ResponseWriter, r *http.Request) {
	var req CreateConsultationRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.WriteError(w, r, err)
			return
		}
	}

	c, err := h.svc.CreateConsultation(r.Context(), req.PatientID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, c)
}

func (h *Handler) ListConsultations(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := httpx.PageParams(r, defaultPageSize, maxPageSize)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	filter := ListFilter{Limit: limit, Offset: offset}
	if v := r.URL.Query().Get("status"); v != "" {
		st := Status(v)
		filter.Status = &st
	}
	if v := r.URL.Query().Get("patient_id"); v != "" {
		pid, err := uuid.Parse(v)
		if err != nil {
			httpx.WriteError(w, r, apperr.Validation("invalid patient_id", map[string]string{"patient_id": v}))
			return
		}
		filter.PatientID = &pid
	}

	items, err := h.svc.ListConsultations(r.Context(), filter)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"items":  items,
		"limit":  limit,
		"offset": offset,
	})
}

func (h *Handler) GetConsultation(w http.ResponseWriter, r *http.Request) {
	id, ok := consultationID(w, r)
	if !ok {
		return
	}
	detail, err := h.svc.GetConsultation(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, detail)
}

func (h *Handler) DeleteConsultation(w http.ResponseWriter, r *http.Request) {
	id, ok := consultationID(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteConsultation(r.Context(), id); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := consultationID(w, r)
	if !ok {
		return
	}
	msgs, err := h.svc.ListMessages(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": msgs})
}

func (h *Handler) AppendMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := consultationID(w, r)
	if !ok {
		return
	}
	var req AppendRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	msg, err := h.svc.AppendMessage(r.Context(), id, req)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, msg)
}

type SendMessageRequest struct {
	Content string `json:"content"`
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := consultationID(w, r)
	if !ok {
		return
	}
	var req SendMessageRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	res, err := h.svc.SendMessage(r.Context(), id, req.Content)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

// wireMessage is a conversation turn as clients send it. A category tag is
// checked but not trusted; assistant turns are classified server side.
type wireMessage struct {
	Role     agent.Role          `json:"role"`
	Content  string              `json:"content"`
	Category *diagnosis.Category `json:"category,omitempty"`
}

type chatBody struct {
	Messages       []wireMessage `json:"messages"`
	ConsultationID *uuid.UUID    `json:"consultation_id,omitempty"`
}

type reportBody struct {
	ConsultationID *uuid.UUID    `json:"consultation_id,omitempty"`
	Conversation   []wireMessage `json:"conversation,omitempty"`
}

func toConversation(in []wireMessage) ([]agent.Message, error) {
	for i, m := range in {
		if m.Category != nil && !m.Category.Valid() {
			return nil, apperr.Validation(fmt.Sprintf("messages[%d]: category must be question or diagnosis", i),
				map[string]string{"category": string(*m.Category)})
		}
	}
	return lo.Map(in, func(m wireMessage, _ int) agent.Message {
		return agent.Message{Role: m.Role, Content: m.Content}
	}), nil
}

func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var body chatBody
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	messages, err := toConversation(body.Messages)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	res, err := h.svc.Chat(r.Context(), ChatRequest{Messages: messages, ConsultationID: body.ConsultationID})
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) GetDiagnosis(w http.ResponseWriter, r *http.Request) {
	id, ok := consultationID(w, r)
	if !ok {
		return
	}
	rec, err := h.svc.GetDiagnosis(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, rec)
}

func (h *Handler) GenerateConsultationReport(w http.ResponseWriter, r *http.Request) {
	id, ok := consultationID(w, r)
	if !ok {
		return
	}
	h.writeReport(w, r, ReportRequest{ConsultationID: &id})
}

func (h *Handler) GenerateReport(w http.ResponseWriter, r *http.Request) {
	var body reportBody
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	conversation, err := toConversation(body.Conversation)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	h.writeReport(w, r, ReportRequest{ConsultationID: body.ConsultationID, Conversation: conversation})
}

func (h *Handler) writeReport(w http.ResponseWriter, r *http.Request, req ReportRequest) {
	res, err := h.svc.GenerateReport(r.Context(), req)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) DownloadReport(w http.ResponseWriter, r *http.Request) {
	id, ok := consultationID(w, r)
	if !ok {
		return
	}
	pdf, err := h.svc.RenderReport(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="report_%s.pdf"`, id))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

func (h *Handler) HandleAudioUpload(w http.ResponseWriter, r *http.Request) {
	id, ok := consultationID(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxAudioBytes)
	if err := r.ParseMultipartForm(maxAudioBytes); err != nil {
		httpx.WriteError(w, r, apperr.Validation("invalid multipart form", nil))
		return
	}
	file, header, err := r.FormFile("audio")
	if err != nil {
		httpx.WriteError(w, r, apperr.Validation("audio file is required", nil))
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			httpx.WriteError(w, r, apperr.Validation("audio file is too large", nil))
			return
		}
		httpx.WriteError(w, r, apperr.Internal(err))
		return
	}

	res, err := h.svc.VoiceTurn(r.Context(), id, audio, header.Filename)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

type TTSRequest struct {
	Text string `json:"text"`
}

func (h *Handler) HandleTTS(w http.ResponseWriter, r *http.Request) {
	var req TTSRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	audio, err := h.svc.SynthesizeSpeech(r.Context(), req.Text)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "audio/mpeg")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio)
}

func consultationID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		httpx.WriteError(w, r, apperr.Validation("invalid consultation id", map[string]string{"id": raw}))
		return uuid.Nil, false
	}
	return id, true
}
