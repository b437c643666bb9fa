package main

import (
	"context"
	"log"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gofrs/flock"

	"rollcall/internal/config"
	"rollcall/internal/logging"
	"rollcall/internal/notifications"
	"rollcall/internal/queue"
	"rollcall/internal/registry"
	"rollcall/internal/watcher"
	"rollcall/internal/workflow"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("prepare directories: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	// One daemon per data directory. A second instance would race the
	// watcher and double-submit uploads.
	lock := flock.New(filepath.Join(cfg.Paths.DataDir, "rollcalld.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		log.Fatalf("acquire instance lock: %v", err)
	}
	if !locked {
		log.Fatalf("another rollcalld instance is already running for %s", cfg.Paths.DataDir)
	}
	defer lock.Unlock() //nolint:errcheck

	store, err := queue.Open(cfg)
	if err != nil {
		log.Fatalf("open job store: %v", err)
	}
	defer store.Close()

	verifier, err := registry.FromConfig(cfg)
	if err != nil {
		log.Fatalf("init registry client: %v", err)
	}

	notifier := notifications.NewService(cfg)
	manager := workflow.NewManagerWithOptions(cfg, store, verifier, logger, notifier, workflow.NopObserver{})
	if err := manager.Start(ctx); err != nil {
		log.Fatalf("start workflow manager: %v", err)
	}

	w := watcher.New(cfg, store, manager, logger)
	if err := w.Start(ctx); err != nil {
		manager.Stop()
		log.Fatalf("start upload watcher: %v", err)
	}

	logger.Info("rollcalld started",
		logging.String("upload_dir", cfg.Paths.UploadDir),
		logging.String("database", store.Path()))

	<-ctx.Done()
	logger.Info("rollcalld shutting down")
	w.Stop()
	manager.Stop()
}
