// Package handler exposes the workbasket lifecycle over HTTP.
package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"tariffpub/internal/platform/middleware"
	"tariffpub/internal/workbasket/models"
	"tariffpub/internal/workbasket/service"
	dErrors "tariffpub/pkg/domain-errors"
	"tariffpub/pkg/platform/httputil"
)

// RoleApprover is required for approve and reject operations.
const RoleApprover = "approver"

// Handler wires workbasket endpoints to the workbasket service.
type Handler struct {
	service *service.Service
	logger  *slog.Logger
}

// New constructs a workbasket handler.
func New(service *service.Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts workbasket endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/workbaskets", func(r chi.Router) {
		r.Post("/", h.HandleCreate)
		r.Get("/", h.HandleList)
		r.Get("/{id}", h.HandleGet)

		r.Post("/{id}/transactions", h.HandleNewTransaction)
		r.Get("/{id}/transactions", h.HandleListTransactions)
		r.Post("/{id}/transactions/reorder", h.HandleReorder)

		r.Post("/{id}/checks", h.HandleRunChecks)
		r.Get("/{id}/checks", h.HandleLatestCheck)

		r.Post("/{id}/submit", h.HandleSubmit)
		r.Post("/{id}/withdraw", h.HandleWithdraw)
		r.Post("/{id}/approve", h.HandleApprove)
		r.Post("/{id}/reject", h.HandleReject)
		r.Post("/{id}/archive", h.HandleArchive)
		r.Post("/{id}/unarchive", h.HandleUnarchive)
	})
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeJSON[createRequest](w, r, h.logger)
	if !ok {
		return
	}
	wb, err := h.service.Create(ctx, req.Title, req.Reason, middleware.GetUserID(ctx))
	if err != nil {
		h.logger.ErrorContext(ctx, "create workbasket failed",
			"request_id", middleware.GetRequestID(ctx), "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, fromWorkBasket(wb))
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var statuses []models.Status
	if s := r.URL.Query().Get("status"); s != "" {
		statuses = append(statuses, models.Status(s))
	}
	baskets, err := h.service.List(ctx, statuses...)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := make([]workBasketResponse, 0, len(baskets))
	for _, wb := range baskets {
		out = append(out, fromWorkBasket(wb))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	wb, err := h.service.Get(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromWorkBasket(wb))
}

func (h *Handler) HandleNewTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	txn, err := h.service.NewTransaction(ctx, id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, fromTransaction(txn))
}

func (h *Handler) HandleListTransactions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	txns, err := h.service.Transactions(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := make([]transactionResponse, 0, len(txns))
	for _, txn := range txns {
		out = append(out, fromTransaction(txn))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) HandleReorder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeJSON[reorderRequest](w, r, h.logger)
	if !ok {
		return
	}
	ordered, err := req.parsedIDs()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.service.ReorderTransactions(ctx, id, ordered); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusNoContent, nil)
}

func (h *Handler) HandleRunChecks(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	result, err := h.service.RunChecks(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromCheckResult(result))
}

func (h *Handler) HandleLatestCheck(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	result, err := h.service.LatestCheck(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromCheckResult(result))
}

func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id uuid.UUID) (*models.WorkBasket, error) {
		return h.service.SubmitForApproval(r.Context(), id)
	})
}

func (h *Handler) HandleWithdraw(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id uuid.UUID) (*models.WorkBasket, error) {
		return h.service.Withdraw(r.Context(), id)
	})
}

func (h *Handler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	approver, ok := h.requireApprover(w, r)
	if !ok {
		return
	}
	h.transition(w, r, func(id uuid.UUID) (*models.WorkBasket, error) {
		return h.service.Approve(r.Context(), id, approver)
	})
}

func (h *Handler) HandleReject(w http.ResponseWriter, r *http.Request) {
	approver, ok := h.requireApprover(w, r)
	if !ok {
		return
	}
	h.transition(w, r, func(id uuid.UUID) (*models.WorkBasket, error) {
		return h.service.Reject(r.Context(), id, approver)
	})
}

func (h *Handler) HandleArchive(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id uuid.UUID) (*models.WorkBasket, error) {
		return h.service.Archive(r.Context(), id)
	})
}

func (h *Handler) HandleUnarchive(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id uuid.UUID) (*models.WorkBasket, error) {
		return h.service.Unarchive(r.Context(), id)
	})
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, apply func(uuid.UUID) (*models.WorkBasket, error)) {
	ctx := r.Context()
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	wb, err := apply(id)
	if err != nil {
		h.logger.WarnContext(ctx, "workbasket transition rejected",
			"request_id", middleware.GetRequestID(ctx), "workbasket_id", id, "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromWorkBasket(wb))
}

func (h *Handler) requireApprover(w http.ResponseWriter, r *http.Request) (string, bool) {
	claims := middleware.GetClaims(r.Context())
	if claims == nil || !claims.HasRole(RoleApprover) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "approver permission required"))
		return "", false
	}
	return claims.UserID, true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid workbasket id"))
		return uuid.Nil, false
	}
	return id, true
}
