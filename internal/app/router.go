package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-books/meridian-books/internal/auth"
	"github.com/meridian-books/meridian-books/internal/fx"
	"github.com/meridian-books/meridian-books/internal/ledger"
	"github.com/meridian-books/meridian-books/internal/observability"
	"github.com/meridian-books/meridian-books/internal/rbac"
	"github.com/meridian-books/meridian-books/internal/reconciliation"
	"github.com/meridian-books/meridian-books/internal/shared"
	"github.com/meridian-books/meridian-books/internal/users"
	"github.com/meridian-books/meridian-books/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	Pool           *pgxpool.Pool
	RBACMiddleware rbac.Middleware

	AuthHandler           *auth.Handler
	UsersHandler          *users.Handler
	LedgerHandler         *ledger.Handler
	FXHandler             *fx.Handler
	ReconciliationHandler *reconciliation.Handler
	PermissionsHandler    *rbac.Handler
	JobsHandler           *jobs.Handler
	Metrics               *observability.Metrics
}

// NewRouter constructs the chi.Router with service defaults.
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

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	if params.AuthHandler != nil {
		r.Route("/auth", params.AuthHandler.MountRoutes)
	}
	if params.UsersHandler != nil {
		r.Route("/users", params.UsersHandler.MountRoutes)
	}
	if params.PermissionsHandler != nil {
		r.Route("/rbac", params.PermissionsHandler.MountRoutes)
	}
	if params.LedgerHandler != nil {
		r.Route("/finance/ledger", params.LedgerHandler.MountRoutes)
	}
	if params.FXHandler != nil {
		r.Route("/finance/fx", params.FXHandler.MountRoutes)
	}
	if params.ReconciliationHandler != nil {
		r.Route("/finance/reconciliation", params.ReconciliationHandler.MountRoutes)
	}
	if params.JobsHandler != nil {
		r.Route("/jobs", params.JobsHandler.MountRoutes)
	}

	return r
}
