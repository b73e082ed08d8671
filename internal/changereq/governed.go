package changereq

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/uvr-coop/uvr/internal/authz"
	"github.com/uvr-coop/uvr/internal/platform/httpx"
	"github.com/uvr-coop/uvr/internal/shared"
)

const maxPayloadBytes = 1 << 20

// Submitter captures proposals.
type Submitter interface {
	Submit(ctx context.Context, actor authz.Actor, tt TargetType, targetID int64, action Action, payload json.RawMessage) (Request, error)
}

// Governor routes edits and deletes of governed entities. Admin requests are applied
// directly, unit user requests become change requests and visitors are denied.
type Governor struct {
	Gate     *authz.Gate
	Requests Submitter
	Logger   *slog.Logger
}

// Edit answers 200 with the applied result or 202 with the captured request.
func (g Governor) Edit(w http.ResponseWriter, r *http.Request, tt TargetType, id int64, apply func(ctx context.Context, raw json.RawMessage) (any, error)) {
	actor, ok := authz.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "sign in required")
		return
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		httpx.RespondError(w, shared.NewValidationError("body", "unreadable body"))
		return
	}
	if !json.Valid(raw) {
		httpx.RespondError(w, shared.NewValidationError("body", "malformed JSON"))
		return
	}
	route, err := g.Gate.Route(actor)
	if err != nil {
		httpx.Fail(w, g.Logger, "route edit", err)
		return
	}
	if route == authz.Deflect {
		g.submit(w, r, actor, tt, id, ActionEdit, raw)
		return
	}
	result, err := apply(r.Context(), raw)
	if err != nil {
		httpx.Fail(w, g.Logger, "apply edit", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

// Delete answers 204 when applied or 202 with the captured request.
func (g Governor) Delete(w http.ResponseWriter, r *http.Request, tt TargetType, id int64, apply func(ctx context.Context) error) {
	actor, ok := authz.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "sign in required")
		return
	}
	route, err := g.Gate.Route(actor)
	if err != nil {
		httpx.Fail(w, g.Logger, "route delete", err)
		return
	}
	if route == authz.Deflect {
		g.submit(w, r, actor, tt, id, ActionDelete, nil)
		return
	}
	if err := apply(r.Context()); err != nil {
		httpx.Fail(w, g.Logger, "apply delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g Governor) submit(w http.ResponseWriter, r *http.Request, actor authz.Actor, tt TargetType, id int64, action Action, raw json.RawMessage) {
	req, err := g.Requests.Submit(r.Context(), actor, tt, id, action, raw)
	if err != nil {
		httpx.Fail(w, g.Logger, "submit change request", err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, req)
}
