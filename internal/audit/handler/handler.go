// Package handler is the thin HTTP layer over the audit recorder. It parses
// and validates transport concerns and delegates everything else; no chain
// logic lives here.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"custodia/internal/audit/models"
	"custodia/pkg/platform/middleware/metadata"
	"custodia/pkg/platform/sentinel"
	"custodia/pkg/requestcontext"
)

// Service defines the slice of the recorder the transport needs.
type Service interface {
	Record(ctx context.Context, event models.Event) (models.Entry, error)
	Tail(ctx context.Context, tenantID uuid.UUID) (models.Tail, error)
	ReadRange(ctx context.Context, tenantID uuid.UUID, from, to uint64) ([]models.Entry, error)
	Verify(ctx context.Context, tenantID uuid.UUID, from, to uint64) (models.VerificationResult, error)
	VerifyToTail(ctx context.Context, tenantID uuid.UUID, from uint64) (models.VerificationResult, error)
	Export(ctx context.Context, tenantID uuid.UUID, from, to uint64) (models.Bundle, error)
}

// Handler exposes the audit chain to collaborators and auditor tooling.
type Handler struct {
	logger  *slog.Logger
	service Service
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the audit routes on the given router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/api/v1/audit", func(r chi.Router) {
		r.Post("/events", h.handleRecordEvent)
		r.Route("/{tenantID}", func(r chi.Router) {
			r.Get("/entries", h.handleGetEntries)
			r.Get("/verify", h.handleVerify)
			r.Post("/export", h.handleExport)
		})
	})
}

func (h *Handler) handleRecordEvent(w http.ResponseWriter, r *http.Request) {
	var event models.Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	ctx := r.Context()
	if event.IPAddress == "" {
		if event.IPAddress = requestcontext.ClientIP(ctx); event.IPAddress == "" {
			event.IPAddress = metadata.ClientIPFromRequest(r)
		}
	}
	if event.UserAgent == "" {
		if event.UserAgent = requestcontext.UserAgent(ctx); event.UserAgent == "" {
			event.UserAgent = r.UserAgent()
		}
	}
	if event.CorrelationID == "" {
		event.CorrelationID = requestcontext.CorrelationID(ctx)
	}

	entry, err := h.service.Record(r.Context(), event)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, entry)
}

func (h *Handler) handleGetEntries(w http.ResponseWriter, r *http.Request) {
	tenantID, from, to, ok := h.resolveRange(w, r)
	if !ok {
		return
	}
	entries, err := h.service.ReadRange(r.Context(), tenantID, from, to)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []models.Entry{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"tenant_id": tenantID,
		"entries":   entries,
	})
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantID(w, r)
	if !ok {
		return
	}
	from, to, hasTo, ok := h.rangeParams(w, r)
	if !ok {
		return
	}

	var (
		result models.VerificationResult
		err    error
	)
	if hasTo {
		result, err = h.service.Verify(r.Context(), tenantID, from, to)
	} else {
		result, err = h.service.VerifyToTail(r.Context(), tenantID, from)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

type exportRequest struct {
	FromSeq uint64  `json:"from_seq"`
	ToSeq   *uint64 `json:"to_seq"`
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantID(w, r)
	if !ok {
		return
	}
	var req exportRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeErrorResponse(w, http.StatusBadRequest, "invalid_request", "invalid request body")
			return
		}
	}

	to := uint64(0)
	if req.ToSeq != nil {
		to = *req.ToSeq
	} else {
		tail, err := h.service.Tail(r.Context(), tenantID)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		to = tail.SequenceNumber
	}

	bundle, err := h.service.Export(r.Context(), tenantID, req.FromSeq, to)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, bundle)
}

// resolveRange parses tenant and range params, defaulting to to the chain
// tail. An empty chain resolves to an empty range for reads.
func (h *Handler) resolveRange(w http.ResponseWriter, r *http.Request) (uuid.UUID, uint64, uint64, bool) {
	tenantID, ok := h.tenantID(w, r)
	if !ok {
		return uuid.Nil, 0, 0, false
	}
	from, to, hasTo, ok := h.rangeParams(w, r)
	if !ok {
		return uuid.Nil, 0, 0, false
	}
	if !hasTo {
		tail, err := h.service.Tail(r.Context(), tenantID)
		if errors.Is(err, sentinel.ErrNotFound) {
			h.writeJSON(w, http.StatusOK, map[string]any{
				"tenant_id": tenantID,
				"entries":   []models.Entry{},
			})
			return uuid.Nil, 0, 0, false
		}
		if err != nil {
			h.writeError(w, r, err)
			return uuid.Nil, 0, 0, false
		}
		to = tail.SequenceNumber
	}
	return tenantID, from, to, true
}

func (h *Handler) tenantID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	tenantID, err := uuid.Parse(chi.URLParam(r, "tenantID"))
	if err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, "invalid_request", "invalid tenant id")
		return uuid.Nil, false
	}
	return tenantID, true
}

func (h *Handler) rangeParams(w http.ResponseWriter, r *http.Request) (from, to uint64, hasTo, ok bool) {
	q := r.URL.Query()
	var err error
	if v := q.Get("from"); v != "" {
		if from, err = strconv.ParseUint(v, 10, 64); err != nil {
			h.writeErrorResponse(w, http.StatusBadRequest, "invalid_request", "invalid from parameter")
			return 0, 0, false, false
		}
	}
	if v := q.Get("to"); v != "" {
		if to, err = strconv.ParseUint(v, 10, 64); err != nil {
			h.writeErrorResponse(w, http.StatusBadRequest, "invalid_request", "invalid to parameter")
			return 0, 0, false, false
		}
		hasTo = true
	}
	return from, to, hasTo, true
}

// writeError translates domain errors into consistent JSON envelopes.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		encErr        *models.EncodingError
		unverifiedErr *models.UnverifiedRangeError
	)
	switch {
	case errors.As(err, &encErr):
		h.writeErrorResponse(w, http.StatusBadRequest, "encoding_error", encErr.Error())
	case errors.As(err, &unverifiedErr):
		h.writeErrorResponse(w, http.StatusConflict, "unverified_range", unverifiedErr.Error())
	case errors.Is(err, models.ErrAppendContention):
		h.writeErrorResponse(w, http.StatusConflict, "append_contention", "chain under write contention; retry later")
	case errors.Is(err, sentinel.ErrNotFound):
		h.writeErrorResponse(w, http.StatusNotFound, "not_found", "no audit chain for tenant")
	default:
		h.logger.ErrorContext(r.Context(), "audit request failed",
			"path", r.URL.Path,
			"error", err,
		)
		h.writeErrorResponse(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func (h *Handler) writeErrorResponse(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, map[string]string{"error": code, "message": message})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}
