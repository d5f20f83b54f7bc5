package commands

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/conjurehq/conjure/internal/config"
	"github.com/conjurehq/conjure/internal/engine"
	"github.com/conjurehq/conjure/internal/generate"
	"github.com/conjurehq/conjure/internal/logging"
	"github.com/conjurehq/conjure/internal/platform"
	"github.com/conjurehq/conjure/internal/registry"
	"github.com/conjurehq/conjure/internal/sandbox"
	"github.com/conjurehq/conjure/internal/server"
	"github.com/conjurehq/conjure/internal/store"
)

var (
	servePort     int
	serveHostname string
	serveDir      string
	serveWatchDir string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Conjure server",
	Long: `Start Conjure as a server that exposes the command engine over an
HTTP API: registration, renaming, removal, invocation, catalog queries
and an SSE event stream.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on")
	serveCmd.Flags().StringVar(&serveHostname, "hostname", "", "Hostname to listen on")
	serveCmd.Flags().StringVar(&serveDir, "directory", "", "Working directory")
	serveCmd.Flags().StringVar(&serveWatchDir, "watch", "", "Watch a directory of command files")
}

func runServe(cmd *cobra.Command, args []string) error {
	// .env is optional; ignore a missing file.
	_ = godotenv.Load()

	workDir, err := GetWorkDir(serveDir)
	if err != nil {
		return err
	}

	cfg, err := config.Load(workDir)
	if err != nil {
		return err
	}

	// Flags override configuration.
	if servePort != 0 {
		cfg.Server.Port = servePort
	}
	if serveHostname != "" {
		cfg.Server.Hostname = serveHostname
	}
	if serveWatchDir != "" {
		cfg.Watch.Enabled = true
		cfg.Watch.Dir = serveWatchDir
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logPretty {
		cfg.Log.Pretty = true
	}

	logging.Init(logging.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})
	logging.Info().
		Str("version", Version).
		Str("directory", workDir).
		Msg("starting conjure server")

	var backend store.DocumentStore
	switch cfg.Store.Type {
	case "remote":
		backend = store.NewRemoteStore(cfg.Store.BaseURL, cfg.Store.RootBin, cfg.Store.MasterKey)
	default:
		backend = store.NewFileStore(cfg.Store.Path)
	}

	gateway := store.NewGateway(backend, cfg.Store)
	dispatcher := platform.NewLocalDispatcher()
	reg := registry.New(dispatcher, gateway)
	sb := sandbox.New(cfg.Sandbox)

	var gen generate.Generator
	if g, err := generate.New(cmd.Context(), cfg.Generator); err != nil {
		logging.Warn().Err(err).Msg("code generation disabled")
	} else {
		gen = g
	}

	eng := engine.New(reg, sb, gateway, gen)
	if err := eng.Start(cmd.Context(), cfg.Watch); err != nil {
		return err
	}
	defer eng.Stop()

	serverConfig := server.DefaultConfig()
	serverConfig.Hostname = cfg.Server.Hostname
	serverConfig.Port = cfg.Server.Port
	srv := server.New(serverConfig, eng, dispatcher, backend)

	go func() {
		logging.Info().
			Str("hostname", cfg.Server.Hostname).
			Int("port", cfg.Server.Port).
			Msg("server listening")
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logging.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("server shutdown error")
	}

	logging.Info().Msg("server stopped")
	return nil
}
