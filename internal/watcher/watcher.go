package watcher

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"rollcall/internal/config"
	"rollcall/internal/ingest"
	"rollcall/internal/logging"
	"rollcall/internal/queue"
)

// Submitter accepts ingestion requests. Implemented by the workflow manager.
type Submitter interface {
	Submit(ctx context.Context, req ingest.Request) (string, error)
}

type historyIndex interface {
	FindByFingerprint(ctx context.Context, sourcePath, fingerprint string) (*queue.Job, error)
}

// Watcher observes the upload directory and submits each eligible spreadsheet
// at most once per fingerprint. Detection combines fsnotify events with a
// periodic rescan; both paths share the same dedup checks.
type Watcher struct {
	dir          string
	scanInterval time.Duration
	debounce     time.Duration
	submitter    Submitter
	history      historyIndex
	logger       *slog.Logger

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	submitted map[string]string
	warned    map[string]struct{}
}

// New constructs a watcher over the configured upload directory.
func New(cfg *config.Config, store *queue.Store, submitter Submitter, logger *slog.Logger) *Watcher {
	scanInterval := time.Duration(cfg.Workflow.UploadScanInterval) * time.Second
	if scanInterval <= 0 {
		scanInterval = 30 * time.Second
	}
	return &Watcher{
		dir:          cfg.Paths.UploadDir,
		scanInterval: scanInterval,
		debounce:     500 * time.Millisecond,
		submitter:    submitter,
		history:      store,
		logger:       logging.NewComponentLogger(logger, "watcher"),
		submitted:    make(map[string]string),
		warned:       make(map[string]struct{}),
	}
}

// Start begins watching. It performs an initial scan so files already present
// at startup are picked up.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return errors.New("watcher already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true
	w.wg.Add(1)
	w.mu.Unlock()

	notifier, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("fsnotify unavailable; falling back to polling only", logging.Error(err))
		notifier = nil
	} else if err := notifier.Add(w.dir); err != nil {
		w.logger.Warn("watch upload directory failed; falling back to polling only",
			logging.String("dir", w.dir), logging.Error(err))
		_ = notifier.Close()
		notifier = nil
	}

	go w.run(runCtx, notifier)
	return nil
}

// Stop terminates watching and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	cancel := w.cancel
	w.running = false
	w.cancel = nil
	w.mu.Unlock()

	cancel()
	w.wg.Wait()
}

func (w *Watcher) run(ctx context.Context, notifier *fsnotify.Watcher) {
	defer w.wg.Done()
	if notifier != nil {
		defer notifier.Close()
	}

	w.scan(ctx)

	ticker := time.NewTicker(w.scanInterval)
	defer ticker.Stop()

	var (
		pending      = make(map[string]struct{})
		debounceCh   <-chan time.Time
		debounceStop *time.Timer
	)
	flush := func() {
		for path := range pending {
			w.handlePath(ctx, path)
			delete(pending, path)
		}
		debounceCh = nil
	}

	for {
		var events chan fsnotify.Event
		var errs chan error
		if notifier != nil {
			events = notifier.Events
			errs = notifier.Errors
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.scan(ctx)
		case event := <-events:
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			pending[event.Name] = struct{}{}
			// Coalesce write bursts while a file is still being copied in.
			if debounceStop != nil {
				debounceStop.Stop()
			}
			debounceStop = time.NewTimer(w.debounce)
			debounceCh = debounceStop.C
		case <-debounceCh:
			flush()
		case err := <-errs:
			if err != nil {
				w.logger.Warn("fsnotify error", logging.Error(err))
			}
		}
	}
}

// scan walks the upload directory once, applying the same eligibility and
// dedup rules as event-driven detection.
func (w *Watcher) scan(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("read upload directory failed", logging.String("dir", w.dir), logging.Error(err))
		return
	}
	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}
		if entry.IsDir() {
			continue
		}
		w.handlePath(ctx, filepath.Join(w.dir, entry.Name()))
	}
}

func (w *Watcher) handlePath(ctx context.Context, path string) {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "~") {
		return
	}
	if !strings.EqualFold(filepath.Ext(name), ".xlsx") {
		return
	}

	ward, err := ingest.ParseWardFilename(name)
	if err != nil {
		w.warnOnce(path, "ignoring upload with malformed filename", err)
		return
	}

	fingerprint, err := ingest.Fingerprint(path)
	if err != nil {
		// The file may still be mid-copy; the next scan retries.
		w.logger.Debug("fingerprint failed", logging.String("path", path), logging.Error(err))
		return
	}

	w.mu.Lock()
	already := w.submitted[path] == fingerprint
	w.mu.Unlock()
	if already {
		return
	}

	existing, err := w.history.FindByFingerprint(ctx, path, fingerprint)
	if err != nil {
		w.logger.Warn("job history lookup failed", logging.String("path", path), logging.Error(err))
		return
	}
	if existing != nil {
		w.markSubmitted(path, fingerprint)
		return
	}

	jobID, err := w.submitter.Submit(ctx, ingest.Request{
		Path:        path,
		WardID:      ward,
		Fingerprint: fingerprint,
	})
	if err != nil {
		w.logger.Warn("submit upload failed", logging.String("path", path), logging.Error(err))
		return
	}
	w.markSubmitted(path, fingerprint)
	w.logger.Info("upload submitted",
		logging.String(logging.FieldJobID, jobID),
		logging.Int(logging.FieldWard, ward),
		logging.String("path", path),
	)
}

func (w *Watcher) markSubmitted(path, fingerprint string) {
	w.mu.Lock()
	w.submitted[path] = fingerprint
	w.mu.Unlock()
}

func (w *Watcher) warnOnce(path, message string, err error) {
	w.mu.Lock()
	_, seen := w.warned[path]
	if !seen {
		w.warned[path] = struct{}{}
	}
	w.mu.Unlock()
	if seen {
		return
	}
	w.logger.Warn(message, logging.String("path", path), logging.Error(err))
}
