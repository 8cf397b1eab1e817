// Package handler exposes the packaging queue and envelope operations over
// HTTP.
package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"tariffpub/internal/platform/middleware"
	"tariffpub/internal/publishing/envelope"
	"tariffpub/internal/publishing/models"
	"tariffpub/internal/publishing/queue"
	dErrors "tariffpub/pkg/domain-errors"
	"tariffpub/pkg/platform/httputil"
)

// Handler wires packaging queue endpoints to the queue coordinator and the
// envelope service.
type Handler struct {
	queue     *queue.Coordinator
	envelopes *envelope.Service
	logger    *slog.Logger
}

// New constructs a publishing handler.
func New(queue *queue.Coordinator, envelopes *envelope.Service, logger *slog.Logger) *Handler {
	return &Handler{queue: queue, envelopes: envelopes, logger: logger}
}

// Register mounts publishing endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/queue", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Post("/", h.HandleCreate)
		r.Get("/{id}", h.HandleGet)

		r.Post("/{id}/begin-processing", h.HandleBeginProcessing)
		r.Post("/{id}/accept", h.HandleAccept)
		r.Post("/{id}/reject", h.HandleReject)
		r.Post("/{id}/abandon", h.HandleAbandon)

		r.Post("/{id}/promote-top", h.HandlePromoteTop)
		r.Post("/{id}/promote", h.HandlePromote)
		r.Post("/{id}/demote", h.HandleDemote)
		r.Post("/{id}/remove", h.HandleRemove)
	})

	r.Get("/envelopes/{id}/file", h.HandleDownloadEnvelope)

	r.Route("/operational-status", func(r chi.Router) {
		r.Post("/{queue}/pause", h.HandlePause)
		r.Post("/{queue}/resume", h.HandleResume)
		r.Get("/{queue}", h.HandleStatus)
	})
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	entries, err := h.queue.List(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := make([]packagedResponse, 0, len(entries))
	for _, pwb := range entries {
		out = append(out, fromPackaged(pwb))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeJSON[createRequest](w, r, h.logger)
	if !ok {
		return
	}
	workbasketID, err := uuid.Parse(req.WorkBasketID)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid workbasket id"))
		return
	}
	meta, err := req.metadata()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	pwb, err := h.queue.Create(ctx, workbasketID, meta)
	if err != nil {
		h.logger.WarnContext(ctx, "queue create rejected",
			"request_id", middleware.GetRequestID(ctx), "workbasket_id", workbasketID, "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, fromPackaged(pwb))
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	pwb, err := h.queue.Get(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromPackaged(pwb))
}

func (h *Handler) HandleBeginProcessing(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.queue.BeginProcessing)
}

func (h *Handler) HandleAccept(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.queue.ProcessingSucceeded)
}

func (h *Handler) HandleReject(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.queue.ProcessingFailed)
}

func (h *Handler) HandleAbandon(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.queue.Abandon)
}

func (h *Handler) HandlePromoteTop(w http.ResponseWriter, r *http.Request) {
	h.reposition(w, r, h.queue.PromoteToTop)
}

func (h *Handler) HandlePromote(w http.ResponseWriter, r *http.Request) {
	h.reposition(w, r, h.queue.PromotePosition)
}

func (h *Handler) HandleDemote(w http.ResponseWriter, r *http.Request) {
	h.reposition(w, r, h.queue.DemotePosition)
}

func (h *Handler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	h.reposition(w, r, h.queue.RemoveFromQueue)
}

func (h *Handler) HandleDownloadEnvelope(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	body, filename, err := h.envelopes.Open(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "envelope download interrupted",
			"envelope_id", id, "error", err)
	}
}

func (h *Handler) HandlePause(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, r, true)
}

func (h *Handler) HandleResume(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, r, false)
}

func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.queueKind(w, r)
	if !ok {
		return
	}
	paused, err := h.queue.IsPaused(r.Context(), kind)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, operationalStatusResponse{
		Queue:  string(kind),
		Paused: paused,
	})
}

func (h *Handler) setPaused(w http.ResponseWriter, r *http.Request, paused bool) {
	ctx := r.Context()
	kind, ok := h.queueKind(w, r)
	if !ok {
		return
	}
	by := middleware.GetUserID(ctx)
	var err error
	if paused {
		err = h.queue.Pause(ctx, kind, by)
	} else {
		err = h.queue.Resume(ctx, kind, by)
	}
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, operationalStatusResponse{
		Queue:  string(kind),
		Paused: paused,
	})
}

func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, id uuid.UUID) (*models.PackagedWorkBasket, error)) {
	ctx := r.Context()
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	pwb, err := apply(ctx, id)
	if err != nil {
		h.logger.WarnContext(ctx, "queue operation rejected",
			"request_id", middleware.GetRequestID(ctx), "packaged_id", id, "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromPackaged(pwb))
}

func (h *Handler) reposition(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, id uuid.UUID) error) {
	ctx := r.Context()
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := apply(ctx, id); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusNoContent, nil)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid id"))
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) queueKind(w http.ResponseWriter, r *http.Request) (models.QueueKind, bool) {
	switch chi.URLParam(r, "queue") {
	case "packaging":
		return models.QueuePackaging, true
	case "crown-dependencies":
		return models.QueueCrownDependencies, true
	default:
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "unknown queue"))
		return "", false
	}
}

type createRequest struct {
	WorkBasketID string `json:"workbasket_id"`
	Theme        string `json:"theme"`
	Description  string `json:"description"`
	EIF          string `json:"eif,omitempty"`
	Embargo      string `json:"embargo,omitempty"`
	JiraURL      string `json:"jira_url,omitempty"`
}

func (r createRequest) metadata() (models.ReleaseMetadata, error) {
	meta := models.ReleaseMetadata{
		Theme:       r.Theme,
		Description: r.Description,
		Embargo:     r.Embargo,
		JiraURL:     r.JiraURL,
	}
	if r.EIF != "" {
		eif, err := time.Parse("2006-01-02", r.EIF)
		if err != nil {
			return meta, dErrors.New(dErrors.CodeBadRequest, "eif must be a YYYY-MM-DD date")
		}
		meta.EIF = &eif
	}
	return meta, nil
}

type packagedResponse struct {
	ID                  string     `json:"id"`
	WorkBasketID        string     `json:"workbasket_id"`
	Position            int        `json:"position"`
	State               string     `json:"state"`
	EnvelopeID          *string    `json:"envelope_id,omitempty"`
	Theme               string     `json:"theme"`
	Description         string     `json:"description"`
	ProcessingStartedAt *time.Time `json:"processing_started_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
}

func fromPackaged(pwb *models.PackagedWorkBasket) packagedResponse {
	resp := packagedResponse{
		ID:                  pwb.ID.String(),
		WorkBasketID:        pwb.WorkBasketID.String(),
		Position:            pwb.Position,
		State:               string(pwb.State),
		Theme:               pwb.Theme,
		Description:         pwb.Description,
		ProcessingStartedAt: pwb.ProcessingStartedAt,
		CreatedAt:           pwb.CreatedAt,
	}
	if pwb.EnvelopeID != nil {
		s := pwb.EnvelopeID.String()
		resp.EnvelopeID = &s
	}
	return resp
}

type operationalStatusResponse struct {
	Queue  string `json:"queue"`
	Paused bool   `json:"paused"`
}
