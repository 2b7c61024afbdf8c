package health

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpmw "github.com/Proton-105/protrader-agent/internal/middleware"
	"github.com/Proton-105/protrader-agent/internal/state"
)

const checkTimeout = 3 * time.Second

// RunReader exposes the latest run snapshot. state.Tracker implements it.
type RunReader interface {
	Latest(ctx context.Context) (*state.Snapshot, error)
}

// NewRouter serves the local observability endpoints:
//
//	GET /healthz  liveness, always 200
//	GET /readyz   every registered check, 503 when one fails
//	GET /status   latest run snapshot
//	GET /metrics  Prometheus exposition
func NewRouter(checker *Checker, runs RunReader, log *slog.Logger) http.Handler {
	if log == nil {
		log = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httpmw.RequestLogger(log))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, log, http.StatusOK, map[string]string{"status": statusOK})
	})

	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), checkTimeout)
		defer cancel()

		results := checker.Check(ctx)
		code := http.StatusOK
		if !Healthy(results) {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, log, code, results)
	})

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		if runs == nil {
			writeJSON(w, log, http.StatusOK, map[string]any{"active": false})
			return
		}

		snap, err := runs.Latest(req.Context())
		switch {
		case errors.Is(err, state.ErrSnapshotNotFound):
			writeJSON(w, log, http.StatusOK, map[string]any{"active": false})
		case err != nil:
			log.ErrorContext(req.Context(), "failed to read run status", slog.Any("error", err))
			writeJSON(w, log, http.StatusInternalServerError, map[string]string{"error": "status unavailable"})
		default:
			writeJSON(w, log, http.StatusOK, map[string]any{"active": snap.Active(), "run": snap})
		}
	})

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}

func writeJSON(w http.ResponseWriter, log *slog.Logger, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn("failed to write response", slog.Any("error", err))
	}
}
