package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/freewings463/mcphost/config"
	"github.com/freewings463/mcphost/supervisor"
	"github.com/freewings463/mcphost/supervisor/audit"
)

func main() {
	configPath := flag.String("config", "", "path to yaml config file")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			slog.Error("Failed to load config", "path", *configPath, "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	logger.Info("Starting mcphost", "listenAddr", cfg.ListenAddr, "enabled", cfg.IsEnabled())

	var auditLog supervisor.AuditLog
	if cfg.AuditDBPath != "" {
		db, err := sqlx.Open("sqlite3", cfg.AuditDBPath)
		if err != nil {
			logger.Error("Failed to open audit database", "path", cfg.AuditDBPath, "error", err)
			os.Exit(1)
		}
		defer db.Close()
		auditLog, err = audit.NewLogger(db)
		if err != nil {
			logger.Error("Failed to initialize audit log", "error", err)
			os.Exit(1)
		}
	}

	metrics := supervisor.NewPrometheusMetricsCollector("mcphost")

	sup := supervisor.New(&supervisor.Config{
		Logger:            logger,
		Metrics:           metrics,
		Audit:             auditLog,
		Enabled:           cfg.IsEnabled,
		SidecarExecutable: cfg.SidecarExecutable,
		ZombieSignature:   cfg.ZombieSignature,
		MaxRetries:        cfg.MaxRetries,
		MaxStartupChecks:  cfg.MaxStartupChecks,
		StartupDelay:      cfg.StartupDelay.Std(),
		RetryDelay:        cfg.RetryDelay.Std(),
		StopGrace:         cfg.StopGrace.Std(),
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("POST /projects/start", handleStart(sup, logger))
	mux.HandleFunc("POST /projects/stop", handleStop(sup, logger))
	mux.HandleFunc("GET /projects/status", handleStatus(sup))

	server := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("Received signal, shutting down", "signal", sig.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		sup.StopAll(shutdownCtx)
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown failed", "error", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("mcphost stopped")
}

func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type startRequest struct {
	Project  string                 `json:"project"`
	Endpoint string                 `json:"endpoint"`
	Auth     *supervisor.AuthConfig `json:"auth"`
}

type stopRequest struct {
	Project string `json:"project"`
}

type statusResponse struct {
	Project   string `json:"project"`
	Running   bool   `json:"running"`
	Port      int    `json:"port,omitempty"`
	LastError string `json:"lastError,omitempty"`
}

func handleStart(sup *supervisor.Supervisor, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req startRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Project == "" {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if err := sup.Start(r.Context(), req.Project, req.Endpoint, req.Auth); err != nil {
			logger.Error("Start request failed", "project", req.Project, "error", err)
			status := http.StatusBadGateway
			if supervisor.IsFatal(err) {
				status = http.StatusConflict
			}
			http.Error(w, err.Error(), status)
			return
		}
		port, _ := sup.GetPort(req.Project)
		writeJSON(w, statusResponse{Project: req.Project, Running: true, Port: port})
	}
}

func handleStop(sup *supervisor.Supervisor, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req stopRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Project == "" {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if err := sup.Stop(r.Context(), req.Project); err != nil {
			logger.Error("Stop request failed", "project", req.Project, "error", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, statusResponse{Project: req.Project, Running: false})
	}
}

func handleStatus(sup *supervisor.Supervisor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project := r.URL.Query().Get("project")
		if project == "" {
			http.Error(w, "project query parameter is required", http.StatusBadRequest)
			return
		}
		resp := statusResponse{Project: project}
		if port, ok := sup.GetPort(project); ok {
			resp.Running = true
			resp.Port = port
		}
		if msg, ok := sup.GetLastError(project); ok {
			resp.LastError = msg
		}
		writeJSON(w, resp)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}
