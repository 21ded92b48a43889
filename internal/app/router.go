package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/atelier-erp/atelier-erp/internal/items"
	"github.com/atelier-erp/atelier-erp/internal/ledger"
	"github.com/atelier-erp/atelier-erp/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger        *slog.Logger
	Config        *Config
	ItemsHandler  *items.Handler
	LedgerHandler *ledger.Handler
	JobHandler    *jobs.Handler
	Pool          *pgxpool.Pool
	Redis         *redis.Client
}

// NewRouter constructs the chi.Router with Atelier defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger: params.Logger,
		Config: params.Config,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		ctx := req.Context()
		status := http.StatusOK
		pg := "ok"
		if params.Pool != nil {
			if err := params.Pool.Ping(ctx); err != nil {
				pg = "unreachable"
				status = http.StatusServiceUnavailable
			}
		}
		rd := "ok"
		if params.Redis != nil {
			if err := params.Redis.Ping(ctx).Err(); err != nil {
				rd = "unreachable"
				status = http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"postgres":"` + pg + `","redis":"` + rd + `"}`))
	})

	if params.ItemsHandler != nil {
		params.ItemsHandler.MountRoutes(r)
	}
	if params.LedgerHandler != nil {
		params.LedgerHandler.MountRoutes(r)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	return r
}
