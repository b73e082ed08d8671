package ledger

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

// Handler exposes invoice endpoints.
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

// MountRoutes registers invoice routes on provided router.
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
	filter := ListFilter{
		Scope:     h.gate.Scope(actor, authz.ScopeFromQuery(q)),
		Direction: Direction(q.Get("direction")),
		Status:    Status(q.Get("status")),
		OpenOnly:  q.Get("open") == "true",
		Page:      shared.ParsePage(q),
	}
	var err error
	if raw := q.Get("from"); raw != "" {
		if filter.From, err = shared.ParseDate(raw); err != nil {
			httpx.RespondError(w, shared.NewValidationError("from", err.Error()))
			return
		}
	}
	if raw := q.Get("to"); raw != "" {
		if filter.To, err = shared.ParseDate(raw); err != nil {
			httpx.RespondError(w, shared.NewValidationError("to", err.Error()))
			return
		}
	}
	invoices, err := h.service.ListInvoices(r.Context(), filter)
	if err != nil {
		httpx.Fail(w, h.logger, "list invoices", err)
		return
	}
	if invoices == nil {
		invoices = []Invoice{}
	}
	httpx.JSON(w, http.StatusOK, invoices)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.ActorFromContext(r.Context())
	var in InvoiceInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	scope, err := h.gate.CreateScope(actor, authz.Scope{UnitID: in.UnitID, AssociationID: in.AssociationID})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	inv, err := h.service.CreateInvoice(r.Context(), scope, actor.ID, in)
	if err != nil {
		httpx.Fail(w, h.logger, "create invoice", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.ActorFromContext(r.Context())
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	inv, err := h.service.GetInvoice(r.Context(), h.gate.Scope(actor, authz.Scope{}), id)
	if err != nil {
		httpx.Fail(w, h.logger, "get invoice", err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) edit(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.governor.Edit(w, r, changereq.TargetInvoice, id, func(ctx context.Context, raw json.RawMessage) (any, error) {
		proposal, err := h.target.Decode(raw)
		if err != nil {
			return nil, err
		}
		return h.service.EditInvoice(ctx, id, *proposal.(*InvoiceInput))
	})
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.governor.Delete(w, r, changereq.TargetInvoice, id, func(ctx context.Context) error {
		return h.service.DeleteInvoice(ctx, id)
	})
}
