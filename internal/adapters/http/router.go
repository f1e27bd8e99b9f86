package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/SATIVAR/sativar-isis-gemini-sub001/internal/application"
	"github.com/SATIVAR/sativar-isis-gemini-sub001/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	catalog *application.CatalogService
	layouts *application.LayoutService
	audit   *application.AuditService
}

func NewRouter(catalog *application.CatalogService, layouts *application.LayoutService, audit *application.AuditService) http.Handler {
	h := &Handler{catalog: catalog, layouts: layouts, audit: audit}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.handleHealth)

	r.Route("/fields", func(fields chi.Router) {
		fields.Get("/", h.handleListFields)
		fields.Post("/", h.handleCreateField)
		fields.Delete("/{id}", h.handleDeleteField)
		fields.Get("/{id}/usage", h.handleFieldUsage)
	})

	r.Route("/layouts", func(layouts chi.Router) {
		layouts.Get("/", h.handleListAssociateTypes)
		layouts.Get("/{associateType}", h.handleGetLayout)
		layouts.Put("/{associateType}", h.handleSaveLayout)
		layouts.Post("/{associateType}/evaluate", h.handleEvaluate)
	})

	r.Get("/audit/logs", h.handleListAuditLogs)

	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	health, err := h.audit.Health(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, health)
		return
	}
	writeJSON(w, http.StatusOK, health)
}

func (h *Handler) handleListFields(w http.ResponseWriter, r *http.Request) {
	items, err := h.catalog.ListFields(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) handleCreateField(w http.ResponseWriter, r *http.Request) {
	var req application.CreateFieldInput
	if err := decodeBody(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	field, err := h.catalog.CreateField(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, field)
}

func (h *Handler) handleDeleteField(w http.ResponseWriter, r *http.Request) {
	id, ok := fieldID(w, r)
	if !ok {
		return
	}
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	if err := h.catalog.DeleteField(r.Context(), id, force); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleFieldUsage(w http.ResponseWriter, r *http.Request) {
	id, ok := fieldID(w, r)
	if !ok {
		return
	}
	usage, err := h.catalog.FieldUsage(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "associateTypes": usage})
}

func (h *Handler) handleListAssociateTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.layouts.AssociateTypes())
}

func (h *Handler) handleGetLayout(w http.ResponseWriter, r *http.Request) {
	associateType := chi.URLParam(r, "associateType")
	if wantsFlat(r) {
		items, err := h.layouts.GetFlatLayout(r.Context(), associateType)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, items)
		return
	}
	layout, err := h.layouts.GetLayout(r.Context(), associateType)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, layout)
}

// handleSaveLayout accepts either a step-grouped layout object or the
// flattened array with step-separator entries. The response uses the same
// shape as the request unless format is given.
func (h *Handler) handleSaveLayout(w http.ResponseWriter, r *http.Request) {
	associateType := chi.URLParam(r, "associateType")
	var raw json.RawMessage
	if err := decodeBody(w, r, &raw); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}

	var (
		saved domain.Layout
		err   error
	)
	flat := bytes.HasPrefix(bytes.TrimSpace(raw), []byte("["))
	if flat {
		var items []domain.LayoutField
		if err := json.Unmarshal(raw, &items); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
			return
		}
		saved, err = h.layouts.SaveFlatLayout(r.Context(), associateType, items)
	} else {
		var layout domain.Layout
		if err := json.Unmarshal(raw, &layout); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
			return
		}
		saved, err = h.layouts.SaveLayout(r.Context(), associateType, layout)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	if format := r.URL.Query().Get("format"); format != "" {
		flat = format == "flat"
	}
	if flat {
		writeJSON(w, http.StatusOK, domain.Flatten(saved))
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (h *Handler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req application.EvaluateInput
	if err := decodeBody(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	result, err := h.layouts.Evaluate(r.Context(), chi.URLParam(r, "associateType"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid limit"})
			return
		}
		limit = parsed
	}
	items, err := h.audit.ListAuditLogs(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func fieldID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	parsed, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || parsed == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid field id"})
		return 0, false
	}
	return uint(parsed), true
}

func wantsFlat(r *http.Request) bool {
	return strings.EqualFold(r.URL.Query().Get("format"), "flat")
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	var (
		validation *domain.ValidationError
		notFound   *domain.NotFoundError
		conflict   *domain.ConflictError
	)
	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": validation.Message, "field": validation.Field})
	case errors.As(err, &notFound):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": notFound.Error()})
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, map[string]any{"error": conflict.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
	}
}
