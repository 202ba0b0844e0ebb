// Package api exposes the admin surface of the engine: health probes,
// Prometheus metrics, a session snapshot and a manual dispatch trigger over
// HTTP, plus the standard gRPC health service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/irrigation_session/internal/log"
	"github.com/LeonardoBeccarini/irrigation_session/internal/services/conversation"
	"github.com/LeonardoBeccarini/irrigation_session/internal/services/dispatcher"
)

// Check is a named readiness probe.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

type SessionLister interface {
	Sessions() []conversation.Session
}

type BatchRunner interface {
	RunOnce(ctx context.Context) (dispatcher.Report, error)
}

type Config struct {
	Sessions SessionLister
	Dispatch BatchRunner
	Checks   []Check
	// History serves completed-session history; optional.
	History      http.Handler
	CheckTimeout time.Duration
}

// SessionView is the JSON shape of a live session.
type SessionView struct {
	ID            string    `json:"id"`
	Key           string    `json:"key"`
	PlotID        string    `json:"plot_id"`
	OperatorID    string    `json:"operator_id"`
	DeviceClass   string    `json:"device_class"`
	State         string    `json:"state"`
	RequiredM3    float64   `json:"required_m3"`
	AccumulatedM3 float64   `json:"accumulated_m3"`
	Readings      int       `json:"readings"`
	LastUpdateAt  time.Time `json:"last_update_at"`
	Finalizing    bool      `json:"finalizing"`
}

func viewOf(s conversation.Session) SessionView {
	return SessionView{
		ID:            s.ID,
		Key:           s.Key.String(),
		PlotID:        s.Key.PlotID,
		OperatorID:    s.Key.OperatorID,
		DeviceClass:   string(s.DeviceClass),
		State:         s.State.String(),
		RequiredM3:    s.RequiredM3,
		AccumulatedM3: s.AccumulatedM3,
		Readings:      len(s.Readings),
		LastUpdateAt:  s.LastUpdateAt,
		Finalizing:    s.Finalizing,
	}
}

// NewRouter builds the admin HTTP handler.
func NewRouter(cfg Config) http.Handler {
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = 2 * time.Second
	}
	logger := log.WithComponent("api")

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(accessLog(logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), cfg.CheckTimeout)
		defer cancel()
		status, body := runChecks(ctx, cfg.Checks)
		writeJSON(w, status, body)
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/sessions", func(w http.ResponseWriter, _ *http.Request) {
		out := []SessionView{}
		if cfg.Sessions != nil {
			for _, s := range cfg.Sessions.Sessions() {
				out = append(out, viewOf(s))
			}
		}
		writeJSON(w, http.StatusOK, out)
	})
	if cfg.History != nil {
		r.Method(http.MethodGet, "/sessions/history", cfg.History)
	}

	r.Post("/dispatch", func(w http.ResponseWriter, req *http.Request) {
		if cfg.Dispatch == nil {
			writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "dispatch not configured"})
			return
		}
		rep, err := cfg.Dispatch.RunOnce(req.Context())
		if err != nil {
			logger.Error().Err(err).Msg("manual dispatch failed")
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, rep)
	})
	return r
}

type readiness struct {
	Ready  bool              `json:"ready"`
	Checks map[string]string `json:"checks,omitempty"`
}

func runChecks(ctx context.Context, checks []Check) (int, readiness) {
	body := readiness{Ready: true, Checks: make(map[string]string, len(checks))}
	for _, c := range checks {
		if err := c.Fn(ctx); err != nil {
			body.Ready = false
			body.Checks[c.Name] = err.Error()
			continue
		}
		body.Checks[c.Name] = "ok"
	}
	if !body.Ready {
		return http.StatusServiceUnavailable, body
	}
	return http.StatusOK, body
}

// Ready reports whether every check passes.
func Ready(ctx context.Context, checks []Check) bool {
	_, body := runChecks(ctx, checks)
	return body.Ready
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func accessLog(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http request")
		})
	}
}

// Serve runs an HTTP server on addr until ctx is cancelled, then shuts it
// down gracefully.
func Serve(ctx context.Context, addr string, h http.Handler) error {
	hs := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger := log.WithComponent("api")
		logger.Info().Str("addr", addr).Msg("http listening")
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return hs.Shutdown(shCtx)
}
