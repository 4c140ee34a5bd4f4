package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MeKo-Tech/defectscan/internal/auth"
	"github.com/MeKo-Tech/defectscan/internal/config"
	"github.com/MeKo-Tech/defectscan/internal/server"
	"github.com/MeKo-Tech/defectscan/internal/storage"
	"github.com/MeKo-Tech/defectscan/internal/store"
	"github.com/MeKo-Tech/defectscan/internal/version"
	"github.com/spf13/cobra"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for the defect detection API",
	Long: `Start an HTTP server that provides REST API endpoints for defect detection.

The server provides the following endpoints:
  POST /api/register, /api/login   - Accounts and tokens
  GET  /api/user/info              - Current user
  POST /upload                     - Detect defects in an uploaded image
  GET  /api/history                - Detection history (paginated)
  POST /api/history/delete         - Delete a history record
  GET  /ws/detect                  - WebSocket detection with tile progress
  GET  /tmp/{ct,draw}/<name>       - Working and annotated images
  GET  /health, /models, /metrics  - Operations

Examples:
  defectscan serve
  defectscan serve --port 8080
  defectscan serve --host 0.0.0.0 --port 3000 --rate-limit-enabled`,
	RunE: runServe,
}

// applyServeFlags overrides server settings with explicitly set flags.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("host") {
		cfg.Server.Host, _ = f.GetString("host")
	}
	if f.Changed("port") {
		cfg.Server.Port, _ = f.GetInt("port")
	}
	if f.Changed("cors-origin") {
		cfg.Server.CORSOrigin, _ = f.GetString("cors-origin")
	}
	if f.Changed("max-upload-size") {
		cfg.Server.MaxUploadMB, _ = f.GetInt("max-upload-size")
	}
	if f.Changed("timeout") {
		cfg.Server.TimeoutSec, _ = f.GetInt("timeout")
	}
	if f.Changed("shutdown-timeout") {
		cfg.Server.ShutdownTimeout, _ = f.GetInt("shutdown-timeout")
	}
	if f.Changed("public-url") {
		cfg.Server.PublicURL, _ = f.GetString("public-url")
	}
	if f.Changed("static-dir") {
		cfg.Server.StaticDir, _ = f.GetString("static-dir")
	}
	if f.Changed("db") {
		cfg.Database.Path, _ = f.GetString("db")
	}
	if f.Changed("rate-limit-enabled") {
		cfg.Server.RateLimit.Enabled, _ = f.GetBool("rate-limit-enabled")
	}
	if f.Changed("requests-per-minute") {
		cfg.Server.RateLimit.RequestsPerMinute, _ = f.GetInt("requests-per-minute")
	}
	if f.Changed("requests-per-hour") {
		cfg.Server.RateLimit.RequestsPerHour, _ = f.GetInt("requests-per-hour")
	}
	if f.Changed("max-requests-per-day") {
		cfg.Server.RateLimit.MaxRequestsPerDay, _ = f.GetInt("max-requests-per-day")
	}
	if f.Changed("max-data-per-day") {
		cfg.Server.RateLimit.MaxDataPerDay, _ = f.GetInt64("max-data-per-day")
	}
}

// newServer wires the registry, database, token issuer and file storage.
func newServer(cfg *config.Config) (*server.Server, error) {
	style, err := cfg.AnnotateStyle()
	if err != nil {
		return nil, err
	}
	ttl, err := cfg.TokenTTL()
	if err != nil {
		return nil, fmt.Errorf("invalid auth.token_ttl: %w", err)
	}
	issuer, err := auth.NewIssuer(cfg.Auth.JWTSecret, ttl)
	if err != nil {
		return nil, err
	}
	files, err := storage.New(cfg.Storage.UploadDir, cfg.Storage.TmpDir)
	if err != nil {
		return nil, err
	}

	reg, err := buildRegistry(cfg, "")
	if err != nil {
		return nil, fmt.Errorf("failed to load models: %w", err)
	}
	db, err := store.Open(cfg.Database.Path, cfg.Database.BusyTimeoutMs)
	if err != nil {
		_ = reg.Close()
		return nil, err
	}

	rl := cfg.Server.RateLimit
	srv, err := server.NewServer(server.Config{
		CORSOrigin:   cfg.Server.CORSOrigin,
		MaxUploadMB:  int64(cfg.Server.MaxUploadMB),
		TimeoutSec:   cfg.Server.TimeoutSec,
		PublicURL:    cfg.Server.PublicURL,
		StaticDir:    cfg.Server.StaticDir,
		DownloadFile: cfg.Storage.DownloadFile,
		BcryptCost:   cfg.Auth.BcryptCost,
		Version:      version.Version,
		Annotate:     style,
		RateLimit: server.RateLimitConfig{
			Enabled:           rl.Enabled,
			RequestsPerMinute: rl.RequestsPerMinute,
			RequestsPerHour:   rl.RequestsPerHour,
			MaxRequestsPerDay: rl.MaxRequestsPerDay,
			MaxDataPerDay:     rl.MaxDataPerDay,
		},
	}, server.Deps{Registry: reg, DB: db, Issuer: issuer, Files: files})
	if err != nil {
		_ = reg.Close()
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize server: %w", err)
	}
	return srv, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	loaded, err := GetConfig()
	if err != nil {
		return err
	}
	cfg := *loaded
	applyServeFlags(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	srv, err := newServer(&cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	timeout := time.Duration(cfg.Server.TimeoutSec) * time.Second
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       timeout,
		WriteTimeout:      timeout,
	}

	go func() {
		slog.Info("Starting defect detection server",
			"host", cfg.Server.Host, "port", cfg.Server.Port, "version", version.Version)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server error", "error", err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		slog.Info("Context cancelled, initiating shutdown")
	}

	shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeout) * time.Second
	slog.Info("Starting graceful shutdown", "timeout", shutdownTimeout.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	slog.Info("Shutting down HTTP server")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server shutdown completed")
	}

	slog.Info("Cleaning up server resources")
	if err := srv.Close(); err != nil {
		slog.Error("Server cleanup error", "error", err)
	} else {
		slog.Info("Server cleanup completed")
	}

	slog.Info("Graceful shutdown completed")
	return nil
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("host", "H", "0.0.0.0", "server host")
	serveCmd.Flags().IntP("port", "p", 5003, "server port")
	serveCmd.Flags().String("cors-origin", "*", "CORS allowed origins")
	serveCmd.Flags().Int("max-upload-size", 50, "maximum upload size in MB")
	serveCmd.Flags().Int("timeout", 120, "request timeout in seconds")
	serveCmd.Flags().Int("shutdown-timeout", 10, "shutdown timeout in seconds")
	serveCmd.Flags().String("public-url", "http://127.0.0.1:5003", "base URL used in returned image links")
	serveCmd.Flags().String("static-dir", "", "directory with the web front end, served under /static/")
	serveCmd.Flags().String("db", "data/defectscan.db", "SQLite database path")
	// Rate limiting flags
	serveCmd.Flags().Bool("rate-limit-enabled", false, "enable rate limiting")
	serveCmd.Flags().Int("requests-per-minute", 60, "maximum requests per minute per client")
	serveCmd.Flags().Int("requests-per-hour", 1000, "maximum requests per hour per client")
	serveCmd.Flags().Int("max-requests-per-day", 5000, "maximum requests per day per client")
	serveCmd.Flags().Int64("max-data-per-day", 1<<30, "maximum data processed per day per client (bytes)")
}
