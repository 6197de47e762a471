// Command datadesk runs the data source management console.
//
// Logging:
//   - Base logger is created here with output format and level
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
//   - Components scope loggers with their own attributes
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"datadesk/internal/cache"
	"datadesk/internal/defaults"
	"datadesk/internal/home"
	"datadesk/internal/notify"
	"datadesk/internal/plugin"
	"datadesk/internal/report"
	"datadesk/internal/scan"
	"datadesk/internal/server"
	"datadesk/internal/session"
	"datadesk/internal/settings"
	"datadesk/internal/source"
	"datadesk/internal/viewer"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	rootCmd := &cobra.Command{
		Use:   "datadesk",
		Short: "Data source management console",
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the console",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return run(ctx, logger)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	rootCmd.AddCommand(serveCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := settings.Load()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	h := home.New(cfg.RootDir)
	if err := h.EnsureExists(); err != nil {
		return err
	}
	logger.Info("storage root", "path", h.Root())

	store := plugin.NewStore(h.LoadersDir(), cfg.DefaultInterpreter)
	artifacts := cache.NewStore(h, logger)
	registry := source.NewRegistry(store, h, artifacts, logger)

	sessions := session.NewManager(session.Config{
		Viewer: viewer.NewClient(viewerRoot(cfg), cfg.ViewerRootURL, !cfg.DisableCellEdits),
		Cache:  artifacts,
		Logger: logger,
	})
	registry.SetSessionTeardown(sessions.Teardown)

	hub := notify.NewHub(logger)

	if !cfg.ExcludeDefaultLoaders {
		if _, err := defaults.Install(ctx, h, store, registry, logger); err != nil {
			return fmt.Errorf("install built-in sources: %w", err)
		}
	}

	scanner := scan.New(scan.Config{
		Store:     store,
		Registry:  registry,
		ExtraDirs: cfg.AdditionalLoadersDirs,
		Logger:    logger,
	})
	if _, err := scanner.Scan(ctx); err != nil {
		return fmt.Errorf("scan loader directories: %w", err)
	}
	logger.Info("sources registered", "count", registry.Count())

	sweeper, err := cache.StartSweeper(artifacts, registry.ArtifactLive, time.Hour, logger)
	if err != nil {
		return err
	}
	defer sweeper.Stop()

	srv := server.New(server.Config{
		Settings: cfg,
		Registry: registry,
		Sessions: sessions,
		Reports:  report.NewBuilder(report.Config{Command: cfg.ProfileReportCommand, Cache: artifacts, Logger: logger}),
		Cache:    artifacts,
		Hub:      hub,
		Logger:   logger,
	})

	listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port))
	if err != nil {
		return err
	}
	cfg.SetPort(listener.Addr().(*net.TCPAddr).Port)

	var wg sync.WaitGroup
	wg.Go(func() {
		if err := srv.Serve(ctx, listener); err != nil {
			logger.Error("server error", "error", err)
		}
	})
	wg.Go(func() {
		// Watch the loader directories so packages dropped in while
		// the console runs show up without a restart.
		err := scanner.Watch(ctx, func(added []*source.DataSource) {
			serialized := make([]source.SerializedSource, 0, len(added))
			for _, src := range added {
				serialized = append(serialized, src.Serialize())
			}
			hub.Broadcast(notify.NewAddSources(serialized), "")
		})
		if err != nil && ctx.Err() == nil {
			logger.Error("watch error", "error", err)
		}
	})

	if !cfg.DisableOpenBrowser {
		wg.Go(func() { openWhenReady(ctx, cfg.RootURL(), logger) })
	}

	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("server stop error", "error", err)
	}
	wg.Wait()
	logger.Info("shutdown complete")
	return nil
}

// viewerRoot builds the internal viewer base URL from settings.
func viewerRoot(cfg *settings.Settings) string {
	host := cfg.ViewerHost
	if host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d", host, cfg.ViewerPort)
}

// openWhenReady polls the health endpoint until the server answers,
// then opens the console in the default browser.
func openWhenReady(ctx context.Context, rootURL string, logger *slog.Logger) {
	healthURL := rootURL + "/health/"
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		case <-time.After(200 * time.Millisecond):
		}
		resp, err := http.Get(healthURL)
		if err != nil {
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusNoContent {
			if err := openBrowser(rootURL); err != nil {
				logger.Warn("open browser", "error", err)
			}
			return
		}
	}
	logger.Warn("server never became healthy, not opening browser")
}

func openBrowser(url string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", url).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	default:
		return exec.Command("xdg-open", url).Start()
	}
}
