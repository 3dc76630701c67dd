package commands

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/taskdeck/taskdeck/internal/backend"
	"github.com/taskdeck/taskdeck/internal/backend/claude"
	"github.com/taskdeck/taskdeck/internal/config"
	"github.com/taskdeck/taskdeck/internal/event"
	"github.com/taskdeck/taskdeck/internal/logging"
	"github.com/taskdeck/taskdeck/internal/permission"
	"github.com/taskdeck/taskdeck/internal/server"
	"github.com/taskdeck/taskdeck/internal/session"
	"github.com/taskdeck/taskdeck/internal/store"
)

var (
	servePort     int
	serveHostname string
	serveDir      string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the taskdeck daemon",
	Long: `Start the taskdeck daemon: recover tasks left over from a previous
run, register backend adapters, and serve the HTTP API.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().StringVar(&serveHostname, "hostname", "", "Hostname to listen on (overrides config)")
	serveCmd.Flags().StringVar(&serveDir, "directory", "", "Working directory for project config lookup")
}

func runServe(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(serveDir)
	if err != nil {
		return err
	}

	// A local .env supplies TASKDECK_* overrides during development.
	_ = godotenv.Load()

	cfg, err := config.Load(workDir)
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg.Port = servePort
	}
	if serveHostname != "" {
		cfg.Host = serveHostname
	}

	logging.Init(logging.Config{
		Level:  logging.ParseLevel(cfg.Log.Level),
		Pretty: cfg.Log.Pretty,
	})
	logging.Info().Str("version", Version).Str("directory", workDir).Msg("starting taskdeckd")

	if err := config.GetPaths().EnsurePaths(); err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return err
	}

	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()

	// The recovery sweep must finish before any command is accepted.
	if _, err := session.Recover(ctx, st); err != nil {
		return err
	}

	registry := backend.NewRegistry()
	registry.Register("claude", func() (backend.Adapter, error) {
		return claude.New()
	})

	bus := event.NewBus()
	svc := session.NewService(st, bus, registry, permission.NewStore(), nil)

	serverConfig := server.DefaultConfig()
	serverConfig.Host = cfg.Host
	serverConfig.Port = cfg.Port
	serverConfig.DefaultBackend = cfg.Backend
	serverConfig.DefaultModel = cfg.Model
	serverConfig.DefaultMode = cfg.Mode

	srv := server.New(serverConfig, st, svc, bus)

	go func() {
		logging.Info().Str("host", cfg.Host).Int("port", cfg.Port).Msg("listening")
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop accepting requests, then active sessions, then the shared
	// backend resources they were using.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("server shutdown error")
	}
	svc.Shutdown(shutdownCtx)
	if err := registry.Dispose(); err != nil {
		logging.Warn().Err(err).Msg("backend disposal error")
	}
	bus.Close()

	logging.Info().Msg("stopped")
	return nil
}
