package app

import (
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	authapi "crmauth/cmd/internal/auth/api"
	"crmauth/cmd/internal/obs"
)

func registerHTTP(
	mux *http.ServeMux,
	log Logger,
	cfg Config,
	dbPool *pgxpool.Pool,
	auth *authapi.Handler,
) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.ReadinessRequireDB && dbPool == nil {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}

		if dbPool != nil {
			if err := PingDB(r.Context(), dbPool, 2*time.Second); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				log.Info("readyz.db.not_ready", "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	mux.Handle("/metrics", obs.Handler())

	if auth != nil {
		auth.Register(mux)
	}
}

var knownRoutes = map[string]bool{
	"/healthz":                      true,
	"/readyz":                       true,
	"/metrics":                      true,
	"/login":                        true,
	"/refresh":                      true,
	"/logout":                       true,
	"/validate":                     true,
	"/monitoring/heartbeat":         true,
	"/monitoring/active":            true,
	"/monitoring/live":              true,
	"/admin/secrets/rotate":         true,
	"/admin/permissions/invalidate": true,
}

// routeLabel keeps the metrics label set bounded.
func routeLabel(r *http.Request) string {
	if knownRoutes[r.URL.Path] {
		return r.URL.Path
	}
	return "other"
}
