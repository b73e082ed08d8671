package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/uvr-coop/uvr/internal/auth"
	"github.com/uvr-coop/uvr/internal/authz"
	"github.com/uvr-coop/uvr/internal/bankaccounts"
	"github.com/uvr-coop/uvr/internal/cashflow"
	"github.com/uvr-coop/uvr/internal/changereq"
	"github.com/uvr-coop/uvr/internal/ledger"
	"github.com/uvr-coop/uvr/internal/observability"
	"github.com/uvr-coop/uvr/internal/platform/httpx"
	"github.com/uvr-coop/uvr/internal/shared"
	"github.com/uvr-coop/uvr/jobs"
	"github.com/uvr-coop/uvr/report"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	Authenticator  authz.Middleware
	Metrics        *observability.Metrics

	AuthHandler           *auth.Handler
	LedgerHandler         *ledger.Handler
	CashflowHandler       *cashflow.Handler
	BankAccountsHandler   *bankaccounts.Handler
	ChangeRequestsHandler *changereq.Handler
	ReportHandler         *report.Handler
	JobHandler            *jobs.Handler
}

// NewRouter constructs the chi.Router with API defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusMethodNotAllowed, "Method Not Allowed", "")
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.ReportHandler != nil {
		r.Route("/report", params.ReportHandler.MountRoutes)
	}

	if params.AuthHandler != nil {
		r.Route("/auth", params.AuthHandler.MountRoutes)
	}

	r.Group(func(r chi.Router) {
		r.Use(params.Authenticator.Authenticate)
		if params.LedgerHandler != nil {
			r.Route("/ledger/invoices", params.LedgerHandler.MountRoutes)
		}
		if params.CashflowHandler != nil {
			r.Route("/cashflow", params.CashflowHandler.MountRoutes)
		}
		if params.BankAccountsHandler != nil {
			r.Route("/bank-accounts", params.BankAccountsHandler.MountRoutes)
		}
		if params.ChangeRequestsHandler != nil {
			r.Route("/change-requests", params.ChangeRequestsHandler.MountRoutes)
		}
	})

	return r
}
