package bankaccounts

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/uvr-coop/uvr/internal/authz"
	"github.com/uvr-coop/uvr/internal/changereq"
	"github.com/uvr-coop/uvr/internal/platform/httpx"
	"github.com/uvr-coop/uvr/internal/shared"
)

// Handler exposes bank account endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	gate     *authz.Gate
	governor changereq.Governor
	target   *ChangeTarget
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service, gate *authz.Gate, requests changereq.Submitter) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		service:  service,
		gate:     gate,
		governor: changereq.Governor{Gate: gate, Requests: requests, Logger: logger},
		target:   NewChangeTarget(service),
	}
}

// MountRoutes registers bank account routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Put("/{id}", h.edit)
	r.Delete("/{id}", h.remove)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.ActorFromContext(r.Context())
	q := r.URL.Query()
	accounts, err := h.service.List(r.Context(), h.gate.Scope(actor, authz.ScopeFromQuery(q)), shared.ParsePage(q))
	if err != nil {
		httpx.Fail(w, h.logger, "list bank accounts", err)
		return
	}
	if accounts == nil {
		accounts = []Account{}
	}
	httpx.JSON(w, http.StatusOK, accounts)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.ActorFromContext(r.Context())
	var in AccountInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	scope, err := h.gate.CreateScope(actor, authz.Scope{UnitID: in.UnitID, AssociationID: in.AssociationID})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	account, err := h.service.Create(r.Context(), scope, actor.ID, in)
	if err != nil {
		httpx.Fail(w, h.logger, "create bank account", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, account)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.ActorFromContext(r.Context())
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	account, err := h.service.Get(r.Context(), h.gate.Scope(actor, authz.Scope{}), id)
	if err != nil {
		httpx.Fail(w, h.logger, "get bank account", err)
		return
	}
	httpx.JSON(w, http.StatusOK, account)
}

func (h *Handler) edit(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.governor.Edit(w, r, changereq.TargetBankAccount, id, func(ctx context.Context, raw json.RawMessage) (any, error) {
		proposal, err := h.target.Decode(raw)
		if err != nil {
			return nil, err
		}
		return h.service.Edit(ctx, id, *proposal.(*AccountInput))
	})
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.governor.Delete(w, r, changereq.TargetBankAccount, id, func(ctx context.Context) error {
		return h.service.Delete(ctx, id)
	})
}
