package patient

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"diagnostic-assistant/internal/consultation"
	"diagnostic-assistant/internal/platform/apperr"
	"diagnostic-assistant/internal/platform/httpx"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ConsultationLister is the slice of the consultation service this handler
// needs for a patient's history.
type ConsultationLister interface {
	ListConsultations(ctx context.Context, filter consultation.ListFilter) ([]consultation.Consultation, error)
}

type Handler struct {
	svc           Service
	consultations ConsultationLister
}

func NewHandler(svc Service, consultations ConsultationLister) *Handler {
	return &Handler{svc: svc, consultations: consultations}
}

func RegisterRoutes(r chi.Router, h *Handler) {
	r.Route("/patients", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Get("/{id}", h.Get)
		r.Patch("/{id}", h.UpdateContact)
		r.Get("/{id}/consultations", h.ListConsultations)
	})
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	p, err := h.svc.Create(r.Context(), req)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, p)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := httpx.PageParams(r, defaultPageSize, maxPageSize)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	items, err := h.svc.List(r.Context(), limit, offset)
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

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := patientID(w, r)
	if !ok {
		return
	}
	p, err := h.svc.Get(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) UpdateContact(w http.ResponseWriter, r *http.Request) {
	id, ok := patientID(w, r)
	if !ok {
		return
	}
	var update ContactUpdate
	if err := httpx.DecodeJSON(r, &update); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	p, err := h.svc.UpdateContact(r.Context(), id, update)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) ListConsultations(w http.ResponseWriter, r *http.Request) {
	id, ok := patientID(w, r)
	if !ok {
		return
	}
	limit, offset, err := httpx.PageParams(r, defaultPageSize, maxPageSize)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if err := h.svc.EnsureExists(r.Context(), id); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	items, err := h.consultations.ListConsultations(r.Context(), consultation.ListFilter{
		PatientID: &id,
		Limit:     limit,
		Offset:    offset,
	})
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

func patientID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		httpx.WriteError(w, r, apperr.Validation("invalid patient id", map[string]string{"id": raw}))
		return uuid.Nil, false
	}
	return id, true
}
