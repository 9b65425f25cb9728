package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/coaltech18/hybits-crm/internal/allocation"
	"github.com/coaltech18/hybits-crm/internal/auth"
	"github.com/coaltech18/hybits-crm/internal/item"
	"github.com/coaltech18/hybits-crm/internal/ledger"
	"github.com/coaltech18/hybits-crm/internal/observability"
	"github.com/coaltech18/hybits-crm/internal/stockaudit"
	"github.com/coaltech18/hybits-crm/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	ActorResolver     auth.ActorResolver
	ItemHandler       *item.Handler
	LedgerHandler     *ledger.Handler
	AllocationHandler *allocation.Handler
	AuditHandler      *stockaudit.Handler
	JobHandler        *jobs.Handler
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router. Everything under /api/v1 requires a
// resolved caller identity; health and metrics stay open for probes.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}
	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Middleware(params.ActorResolver))
		r.Route("/inventory", func(r chi.Router) {
			params.ItemHandler.MountRoutes(r)
			params.LedgerHandler.MountRoutes(r)
			params.AllocationHandler.MountRoutes(r)
			params.AuditHandler.MountRoutes(r)
		})
		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	return r
}
