package changereq

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/uvr-coop/uvr/internal/authz"
	"github.com/uvr-coop/uvr/internal/platform/httpx"
	"github.com/uvr-coop/uvr/internal/shared"
)

// Handler exposes the review endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers change request routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
	r.Get("/{id}/diff", h.diff)
	r.Post("/{id}/approve", h.resolve(DecisionApprove))
	r.Post("/{id}/reject", h.resolve(DecisionReject))
}

type resolveRequest struct {
	Note string `json:"note" validate:"max=1000"`
}

type requestView struct {
	Request
	History []shared.ApprovalLog `json:"history"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, ok := authz.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "sign in required")
		return
	}
	q := r.URL.Query()
	filter := ListFilter{Status: Status(q.Get("status")), Page: shared.ParsePage(q)}
	if raw := q.Get("target_type"); raw != "" {
		tt, err := ParseTargetType(raw)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		filter.TargetType = tt
	}
	requests, err := h.service.List(r.Context(), actor, filter)
	if err != nil {
		httpx.Fail(w, h.logger, "list change requests", err)
		return
	}
	if requests == nil {
		requests = []Request{}
	}
	httpx.JSON(w, http.StatusOK, requests)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.target(w, r)
	if !ok {
		return
	}
	req, err := h.service.Get(r.Context(), actor, id)
	if err != nil {
		httpx.Fail(w, h.logger, "get change request", err)
		return
	}
	history, err := h.service.History(r.Context(), actor, id)
	if err != nil {
		httpx.Fail(w, h.logger, "change request history", err)
		return
	}
	httpx.JSON(w, http.StatusOK, requestView{Request: req, History: history})
}

func (h *Handler) diff(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.target(w, r)
	if !ok {
		return
	}
	entries, err := h.service.Diff(r.Context(), actor, id)
	if err != nil {
		httpx.Fail(w, h.logger, "diff change request", err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func (h *Handler) resolve(decision Decision) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, id, ok := h.target(w, r)
		if !ok {
			return
		}
		var body resolveRequest
		if r.ContentLength != 0 {
			if err := httpx.Bind(r, &body); err != nil {
				httpx.RespondError(w, err)
				return
			}
		}
		req, err := h.service.Resolve(r.Context(), actor, id, decision, body.Note)
		if err != nil {
			httpx.Fail(w, h.logger, "resolve change request", err)
			return
		}
		httpx.JSON(w, http.StatusOK, req)
	}
}

func (h *Handler) target(w http.ResponseWriter, r *http.Request) (authz.Actor, uuid.UUID, bool) {
	actor, ok := authz.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "sign in required")
		return authz.Actor{}, uuid.Nil, false
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, shared.ErrNotFound)
		return authz.Actor{}, uuid.Nil, false
	}
	return actor, id, true
}
