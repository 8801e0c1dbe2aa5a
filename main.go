package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mywio/im-notify/pkg/bootstrap"
	"github.com/mywio/im-notify/pkg/core"
	"github.com/mywio/im-notify/pkg/poller"
	webhooktrigger "github.com/mywio/im-notify/plugins/webhook_trigger"
)

func main() {
	// Setup Logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Load Config
	settings, err := bootstrap.LoadSettings("")
	if err != nil {
		logger.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := settings.Core

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	comps, err := bootstrap.NewComponents(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to build components", "error", err)
		os.Exit(1)
	}

	// Setup Module Manager
	mgr := core.NewModuleManager(logger)
	mgr.SetConfig(settings.Sections)
	bootstrap.RegisterEventTypes(mgr, comps.Catalog, logger)

	// Secrets first so later modules can resolve them during Init.
	bootstrap.RegisterSecrets(mgr, settings.Sections)
	mgr.Register(poller.NewPoller(cfg, comps.Host))
	mgr.Register(webhooktrigger.New(comps.Host))
	mgr.Register(comps.NewNotifier(cfg))

	if err := mgr.LoadPlugins(cfg.PluginsDir); err != nil {
		logger.Error("Failed to load plugins", "error", err)
	}

	// Init Modules
	if err := mgr.Init(ctx); err != nil {
		logger.Error("Failed to initialize modules", "error", err)
		os.Exit(1)
	}

	// Start Modules
	mgr.Start(ctx)

	// Wait for Signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigChan {
		if sig == syscall.SIGHUP {
			if err := comps.Directory.Reload(cfg.DirectoryFile); err != nil {
				logger.Error("Failed to reload directory", "path", cfg.DirectoryFile, "error", err)
				continue
			}
			logger.Info("Directory reloaded", "path", cfg.DirectoryFile, "users", len(comps.Directory.Users()))
			continue
		}
		logger.Info("Received signal, shutting down...", "signal", sig)
		break
	}

	// Graceful Shutdown
	mgr.Stop(ctx)
	logger.Info("Shutdown complete")
}
