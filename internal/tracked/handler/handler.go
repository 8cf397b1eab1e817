// Package handler exposes read views over the versioned record store.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"tariffpub/internal/tracked/models"
	"tariffpub/internal/tracked/service"
	dErrors "tariffpub/pkg/domain-errors"
	"tariffpub/pkg/platform/httputil"
)

// Handler wires record read endpoints to the tracked model service.
type Handler struct {
	service *service.Service
	logger  *slog.Logger
}

// New constructs a tracked record handler.
func New(service *service.Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts record endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/records", func(r chi.Router) {
		r.Get("/", h.HandleCurrent)
		r.Get("/{kind}/{sid}/versions", h.HandleVersionHistory)
	})
}

// HandleCurrent returns the current view of the record store.
//
// Query parameters narrow the view: as_at=YYYY-MM-DD filters to versions valid
// at that date, workbasket_id overlays the workbasket's unapproved drafts.
func (h *Handler) HandleCurrent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	if raw := q.Get("workbasket_id"); raw != "" {
		workbasketID, err := uuid.Parse(raw)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid workbasket id"))
			return
		}
		records, err := h.service.WithWorkBasket(ctx, &workbasketID)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		h.writeRecords(w, records)
		return
	}

	if raw := q.Get("as_at"); raw != "" {
		at, err := time.Parse("2006-01-02", raw)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "as_at must be a YYYY-MM-DD date"))
			return
		}
		records, err := h.service.AsAt(ctx, at)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		h.writeRecords(w, records)
		return
	}

	records, err := h.service.Current(ctx)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.writeRecords(w, records)
}

func (h *Handler) HandleVersionHistory(w http.ResponseWriter, r *http.Request) {
	kind, err := models.ParseRecordKind(chi.URLParam(r, "kind"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	identity := models.Identity{Kind: kind, SID: chi.URLParam(r, "sid")}
	if err := identity.Validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}
	records, err := h.service.VersionHistory(r.Context(), identity)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.writeRecords(w, records)
}

func (h *Handler) writeRecords(w http.ResponseWriter, records []*models.TrackedModel) {
	out := make([]recordResponse, 0, len(records))
	for _, m := range records {
		out = append(out, fromTrackedModel(m))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

type recordResponse struct {
	ID             string          `json:"id"`
	Kind           string          `json:"kind"`
	SID            string          `json:"sid"`
	VersionGroupID string          `json:"version_group_id"`
	TransactionID  string          `json:"transaction_id"`
	UpdateType     string          `json:"update_type"`
	ValidFrom      time.Time       `json:"valid_from"`
	ValidUntil     *time.Time      `json:"valid_until,omitempty"`
	Data           json.RawMessage `json:"data"`
}

func fromTrackedModel(m *models.TrackedModel) recordResponse {
	return recordResponse{
		ID:             m.ID.String(),
		Kind:           m.Kind.String(),
		SID:            m.SID,
		VersionGroupID: m.VersionGroupID.String(),
		TransactionID:  m.TransactionID.String(),
		UpdateType:     m.UpdateType.String(),
		ValidFrom:      m.ValidBetween.Lower,
		ValidUntil:     m.ValidBetween.Upper,
		Data:           m.Data,
	}
}
