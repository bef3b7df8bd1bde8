package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/synthesis-cli/internal/model"
	"github.com/sells-group/synthesis-cli/internal/monitoring"
	"github.com/sells-group/synthesis-cli/internal/pipeline"
	"github.com/sells-group/synthesis-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the synthesis HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if cfg.Monitoring.CheckIntervalSecs > 0 {
			checker := monitoring.NewChecker(monitoring.NewRunner(env.Store, cfg.Monitoring), env.Store, cfg.Monitoring)
			go checker.Run(ctx)
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(env.Pipeline, env.Store, cfg.Server.AllowedOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// synthesisService is the pipeline surface the API exposes.
type synthesisService interface {
	BuildReport(ctx context.Context, runID string, force bool) (*model.SynthesisBundle, error)
	GetCachedSynthesis(ctx context.Context, runID string) (*model.SynthesisBundle, error)
	RunDiagnostics(ctx context.Context, runID string) (*model.DiagnosticsReport, error)
}

type api struct {
	svc   synthesisService
	diags store.DiagnosticsStore
}

// newRouter builds the HTTP handler. It is separate from the serve command
// so tests can drive it with httptest.
func newRouter(svc synthesisService, diags store.DiagnosticsStore, origins []string) http.Handler {
	a := &api{svc: svc, diags: diags}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/runs/{id}", func(r chi.Router) {
		r.Post("/synthesis", a.buildSynthesis)
		r.Get("/synthesis", a.getSynthesis)
		r.Get("/diagnostics", a.getDiagnostics)
		r.Post("/diagnostics", a.runDiagnostics)
	})
	return r
}

func (a *api) buildSynthesis(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	force := false
	if v := r.URL.Query().Get("force"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "force must be a boolean")
			return
		}
		force = b
	}

	bundle, err := a.svc.BuildReport(r.Context(), runID, force)
	if err != nil {
		respondSynthesisError(w, runID, err)
		return
	}
	respondJSON(w, http.StatusOK, bundle)
}

func (a *api) getSynthesis(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	bundle, err := a.svc.GetCachedSynthesis(r.Context(), runID)
	if err != nil {
		zap.L().Error("api: cached synthesis lookup failed", zap.String("run_id", runID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "cache lookup failed")
		return
	}
	if bundle == nil {
		respondError(w, http.StatusNotFound, "no cached synthesis for run")
		return
	}
	respondJSON(w, http.StatusOK, bundle)
}

func (a *api) getDiagnostics(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	rep, err := a.diags.GetDiagnostics(r.Context(), runID)
	if err != nil {
		zap.L().Error("api: diagnostics lookup failed", zap.String("run_id", runID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "diagnostics lookup failed")
		return
	}
	if rep == nil {
		respondError(w, http.StatusNotFound, "no diagnostics for run")
		return
	}
	respondJSON(w, http.StatusOK, rep)
}

func (a *api) runDiagnostics(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	rep, err := a.svc.RunDiagnostics(r.Context(), runID)
	if err != nil {
		zap.L().Error("api: diagnostics failed", zap.String("run_id", runID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "diagnostics failed")
		return
	}
	respondJSON(w, http.StatusOK, rep)
}

// respondSynthesisError maps a BuildReport error to a status code. Unknown
// runs are 404, other input problems 422.
func respondSynthesisError(w http.ResponseWriter, runID string, err error) {
	var serr *pipeline.SynthesisError
	switch {
	case errors.As(err, &serr):
		status := http.StatusInternalServerError
		if serr.Kind == pipeline.KindInputMissing {
			status = http.StatusUnprocessableEntity
			if errors.Is(err, store.ErrNotFound) {
				status = http.StatusNotFound
			}
		}
		respondJSON(w, status, map[string]any{"error": serr})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusServiceUnavailable, "synthesis canceled")
	default:
		zap.L().Error("api: synthesis failed", zap.String("run_id", runID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "synthesis failed")
	}
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
