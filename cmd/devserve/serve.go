package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"devserve/internal/config"
	"devserve/internal/logging"
	"devserve/internal/metrics"
	"devserve/internal/reload"
	"devserve/internal/server"
	"devserve/internal/version"
	"devserve/internal/watcher"

	"github.com/fatih/color"
)

// runServe validates the watch setup, binds the server, then watches until
// ctx is cancelled or a signal arrives.
func runServe(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) error {
	if cfg.NoColor {
		color.NoColor = true
	}
	logger := logging.New(logging.Options{
		Level:   cfg.Level(),
		Output:  stderr,
		NoColor: cfg.NoColor,
	})
	config.LogStartupOverrides(logger, cfg)

	// Both checks run before binding so a bad watch setup never opens the port.
	patterns, err := watcher.NewPatternSet(cfg.Watch, cfg.Ignore)
	if err != nil {
		return &ExitError{Code: exitFailure, Err: err}
	}
	if err := watcher.ValidateRoot(cfg.Root); err != nil {
		return &ExitError{Code: exitFailure, Err: err}
	}
	logPackageManifest(logger, cfg.Root)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	signalCh := make(chan os.Signal, 2)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signalCh)
	stopSignals := watchShutdownSignals(logger, cancel, signalCh)
	defer stopSignals()

	registry := metrics.NewRegistry()
	hub := reload.NewHub(reload.HubOptions{
		Logger:         logger,
		Metrics:        registry,
		MaxClients:     cfg.MaxClients,
		AllowedOrigins: cfg.AllowOrigins,
	})
	info := version.GetVersionInfo()
	httpServer, err := server.New(server.Options{
		Root:           cfg.Root,
		Host:           cfg.Host,
		Port:           cfg.Port,
		Notifier:       hub,
		Logger:         logger,
		Metrics:        registry,
		InjectScript:   cfg.Inject,
		MetricsEnabled: cfg.Metrics,
		CSSInject:      cfg.CSSInject,
		Version:        info.Version,
	})
	if err != nil {
		return &ExitError{Code: exitUsage, Err: err}
	}
	if err := httpServer.Start(ctx); err != nil {
		_ = hub.Close()
		return &ExitError{Code: exitFailure, Err: err}
	}

	coordinator := watcher.NewCoordinator(watcher.CoordinatorOptions{
		Root:     cfg.Root,
		Ignore:   cfg.Ignore,
		Debounce: cfg.Debounce,
		MaxWait:  cfg.MaxWait,
		Logger:   logger,
		Metrics:  registry,
	})
	if err := coordinator.Start(patterns.Patterns(), httpServer.BroadcastReload); err != nil {
		_ = httpServer.Stop(context.Background())
		return &ExitError{Code: exitFailure, Err: err}
	}
	httpServer.ReportWatch(coordinator)

	printBanner(stdout, httpServer.URL(), cfg, patterns.Patterns())

	shutdown := newShutdownCoordinator(logger)
	shutdown.Add("watcher", func(context.Context) error {
		return coordinator.Close()
	})
	shutdown.Add("server", httpServer.Stop)

	runner := &ServerRunner{Logger: logger}
	if serveErr := runner.Run(ctx, ManagedServer{
		Name:     "http",
		Serve:    httpServer.Wait,
		Shutdown: shutdown.Run,
	}); serveErr != nil {
		return &ExitError{Code: exitFailure, Err: serveErr}
	}
	logger.Info("devserve stopped", nil)
	return nil
}

func logPackageManifest(logger *logging.Logger, root string) {
	manifest, err := config.LoadPackageManifest(os.DirFS(root))
	if err != nil {
		if !errors.Is(err, config.ErrManifestMissing) {
			logger.Warn("package.json unreadable", map[string]string{
				"error": err.Error(),
			})
		}
		return
	}
	if manifest.Name == "" {
		return
	}
	logger.Info("project detected", map[string]string{
		"name":    manifest.Name,
		"version": manifest.Version,
	})
}

func printBanner(out io.Writer, url string, cfg *config.Config, patterns []string) {
	title := color.New(color.FgGreen, color.Bold)
	link := color.New(color.FgCyan, color.Underline)
	dim := color.New(color.Faint)

	fmt.Fprintf(out, "\n  %s serving %s\n", title.Sprint("devserve"), cfg.Root)
	fmt.Fprintf(out, "  %s %s\n", dim.Sprint("local:   "), link.Sprint(url))
	fmt.Fprintf(out, "  %s %s\n", dim.Sprint("watching:"), strings.Join(patterns, ", "))
	if cfg.Metrics {
		fmt.Fprintf(out, "  %s %s\n", dim.Sprint("metrics: "), url+server.MetricsPath)
	}
	fmt.Fprintln(out)
}
