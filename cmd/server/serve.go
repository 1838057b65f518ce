package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/soaringjerry/moderator/internal/api"
	"github.com/soaringjerry/moderator/internal/logger"
	"github.com/soaringjerry/moderator/internal/metrics"
	"github.com/soaringjerry/moderator/internal/middleware"
	"github.com/soaringjerry/moderator/internal/utils"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the study HTTP server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	f := serveCmd.Flags()
	f.StringVar(&cfg.addr, "addr", cfg.addr, "Listen address")
	f.StringVar(&cfg.projectRoot, "project-root", cfg.projectRoot, "Directory catalog and media paths are relative to")
	f.StringVar(&cfg.staticDir, "static", cfg.staticDir, "Serve the participant frontend from this directory")
	f.StringVar(&cfg.allowedOrigin, "origin", cfg.allowedOrigin, "Frontend origin allowed for CORS and marker sockets")
	f.StringVar(&cfg.github.repo, "github-repo", cfg.github.repo, "owner/name of the results repository")
	f.StringVar(&cfg.github.branch, "github-branch", cfg.github.branch, "Branch records are committed to")
	f.BoolVar(&cfg.metricsEnabled, "metrics", cfg.metricsEnabled, "Expose Prometheus metrics on /metrics")
	f.DurationVar(&cfg.shutdownTimeout, "shutdown-timeout", cfg.shutdownTimeout, "Grace period for in-flight requests on shutdown")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := &http.Server{
		Addr:              cfg.addr,
		Handler:           buildHandler(a, cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("moderator server listening", "addr", cfg.addr, "results", cfg.resultsDir)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	logger.Info("moderator server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func buildHandler(a *app, s settings) http.Handler {
	mux := http.NewServeMux()
	api.NewRouter(a.registry, a.store, a.protocol.QuestionnaireModel(), api.Config{
		ResearcherSecret: []byte(s.researcherSecret),
		Markers:          a.hub,
	}).Register(mux)

	if s.metricsEnabled {
		mux.Handle("GET /metrics", metrics.Handler(metrics.NewRegistry()))
	}

	commit := utils.SafeEnv("MODERATOR_COMMIT", "")
	buildTime := utils.SafeEnv("MODERATOR_BUILD_TIME", "")
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		locale := middleware.LocaleFromContext(r.Context())
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":             true,
			"name":           "Moderator Task",
			"locale":         locale,
			"msg":            utils.T(locale, "health.ok"),
			"marker_clients": a.hub.Clients(),
		})
	})
	mux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"version":    version,
			"commit":     commit,
			"build_time": buildTime,
		})
	})

	root := a.protocol.CatalogConfig(s.projectRoot).ProjectRoot
	if root != "" {
		mux.Handle("GET /media/", http.StripPrefix("/media/", http.FileServer(http.Dir(root))))
	}
	if s.staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.staticDir)))
	}

	return middleware.SecureHeaders(middleware.CORS(s.allowedOrigin)(middleware.NoStore(middleware.LocaleMiddleware(mux))))
}
