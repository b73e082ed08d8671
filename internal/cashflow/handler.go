package cashflow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/uvr-coop/uvr/internal/authz"
	"github.com/uvr-coop/uvr/internal/changereq"
	"github.com/uvr-coop/uvr/internal/platform/httpx"
	"github.com/uvr-coop/uvr/internal/shared"
)

// StatementRenderer exports statements in document formats.
type StatementRenderer interface {
	RenderCSV(w io.Writer, st Statement) error
	RenderPDF(ctx context.Context, st Statement) ([]byte, error)
}

// Handler exposes cash-flow endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	gate     *authz.Gate
	governor changereq.Governor
	target   *ChangeTarget
	renderer StatementRenderer
}

// NewHandler constructs a Handler. renderer may be nil, in which case only JSON statements are served.
func NewHandler(logger *slog.Logger, service *Service, gate *authz.Gate, requests changereq.Submitter, renderer StatementRenderer) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		service:  service,
		gate:     gate,
		governor: changereq.Governor{Gate: gate, Requests: requests, Logger: logger},
		target:   NewChangeTarget(service),
		renderer: renderer,
	}
}

// MountRoutes registers cash-flow routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/entries", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Get("/{id}", h.get)
		r.Put("/{id}", h.edit)
		r.Delete("/{id}", h.remove)
	})
	r.Get("/accounts/{id}/statement", h.statement)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.ActorFromContext(r.Context())
	q := r.URL.Query()
	from, to, err := dateRange(q.Get("from"), q.Get("to"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter := ListFilter{
		Scope:     h.gate.Scope(actor, authz.ScopeFromQuery(q)),
		Direction: Direction(q.Get("direction")),
		From:      from,
		To:        to,
		Page:      shared.ParsePage(q),
	}
	if raw := q.Get("bank_account_id"); raw != "" {
		if filter.BankAccountID, err = strconv.ParseInt(raw, 10, 64); err != nil {
			httpx.RespondError(w, shared.NewValidationError("bank_account_id", "must be an id"))
			return
		}
	}
	entries, err := h.service.ListEntries(r.Context(), filter)
	if err != nil {
		httpx.Fail(w, h.logger, "list entries", err)
		return
	}
	if entries == nil {
		entries = []Entry{}
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.ActorFromContext(r.Context())
	var in EntryInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if in.IdempotencyKey == "" {
		in.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}
	scope, err := h.gate.CreateScope(actor, authz.Scope{UnitID: in.UnitID, AssociationID: in.AssociationID})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entry, err := h.service.CreateEntry(r.Context(), scope, actor.ID, in)
	if err != nil {
		httpx.Fail(w, h.logger, "create entry", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.ActorFromContext(r.Context())
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entry, err := h.service.GetEntry(r.Context(), h.gate.Scope(actor, authz.Scope{}), id)
	if err != nil {
		httpx.Fail(w, h.logger, "get entry", err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) edit(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.governor.Edit(w, r, changereq.TargetCashflowEntry, id, func(ctx context.Context, raw json.RawMessage) (any, error) {
		proposal, err := h.target.Decode(raw)
		if err != nil {
			return nil, err
		}
		return h.service.EditEntry(ctx, id, *proposal.(*EntryInput))
	})
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.governor.Delete(w, r, changereq.TargetCashflowEntry, id, func(ctx context.Context) error {
		return h.service.DeleteEntry(ctx, id)
	})
}

func (h *Handler) statement(w http.ResponseWriter, r *http.Request) {
	actor, _ := authz.ActorFromContext(r.Context())
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	q := r.URL.Query()
	from, to, err := dateRange(q.Get("from"), q.Get("to"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	format := q.Get("format")
	if format != "" && format != "json" && (h.renderer == nil || (format != "csv" && format != "pdf")) {
		httpx.RespondError(w, shared.NewValidationError("format", "must be json, csv or pdf"))
		return
	}

	st, err := h.service.Statement(r.Context(), h.gate.Scope(actor, authz.Scope{}), id, from, to)
	if err != nil {
		httpx.Fail(w, h.logger, "statement", err)
		return
	}
	filename := fmt.Sprintf("statement-%d", id)
	switch format {
	case "csv":
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`.csv"`)
		if err := h.renderer.RenderCSV(w, st); err != nil {
			h.logger.Error("render statement csv", slog.Any("error", err))
		}
	case "pdf":
		pdf, err := h.renderer.RenderPDF(r.Context(), st)
		if err != nil {
			httpx.Fail(w, h.logger, "render statement pdf", err)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`.pdf"`)
		_, _ = w.Write(pdf)
	default:
		httpx.JSON(w, http.StatusOK, st)
	}
}

func dateRange(rawFrom, rawTo string) (from, to shared.Date, err error) {
	if rawFrom != "" {
		if from, err = shared.ParseDate(rawFrom); err != nil {
			return from, to, shared.NewValidationError("from", "must be YYYY-MM-DD")
		}
	}
	if rawTo != "" {
		if to, err = shared.ParseDate(rawTo); err != nil {
			return from, to, shared.NewValidationError("to", "must be YYYY-MM-DD")
		}
	}
	return from, to, nil
}
