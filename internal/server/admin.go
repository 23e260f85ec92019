package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/saasforge/backend/internal/cache"
	"github.com/saasforge/backend/internal/database"
)

// Admin is the operational HTTP surface: health, readiness, metrics, and
// pool introspection. It binds on a separate port from the RPC listeners.
type Admin struct {
	pool  *database.Pool
	cache *cache.Client
}

func NewAdmin(pool *database.Pool, c *cache.Client) *Admin {
	return &Admin{pool: pool, cache: c}
}

// Router builds the admin mux.
func (a *Admin) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", a.healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.readyz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/debug/pool", a.poolStats).Methods(http.MethodGet)
	return r
}

func (a *Admin) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz verifies both stores answer within a short deadline.
func (a *Admin) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{"database": "ok", "cache": "ok"}
	healthy := true

	if a.pool != nil {
		lease, err := a.pool.Acquire(ctx)
		if err != nil {
			checks["database"] = err.Error()
			healthy = false
		} else {
			lease.Release()
		}
	}
	if a.cache != nil {
		if _, _, err := a.cache.Get(ctx, "readyz"); err != nil {
			checks["cache"] = err.Error()
			healthy = false
		}
	}

	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, checks)
}

func (a *Admin) poolStats(w http.ResponseWriter, _ *http.Request) {
	if a.pool == nil {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	writeJSON(w, http.StatusOK, a.pool.Stats())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// ServeAdmin blocks until ctx cancels.
func ServeAdmin(ctx context.Context, a *Admin, port string) error {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           a.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
