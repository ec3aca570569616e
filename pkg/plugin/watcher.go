package plugin

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher triggers a discovery pass when plugin directories appear under a
// source directory. Already loaded plugins are left alone; only new
// directories are picked up.
type Watcher struct {
	loader   *Loader
	debounce time.Duration
	logger   *slog.Logger
	onPass   func(Report, error)

	fsw  *fsnotify.Watcher
	done chan struct{}
	wg   sync.WaitGroup

	mu      sync.Mutex
	pending bool
	last    time.Time
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets how long the watcher waits for the filesystem to settle.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithPassCallback is invoked after every triggered pass.
func WithPassCallback(fn func(Report, error)) WatcherOption {
	return func(w *Watcher) { w.onPass = fn }
}

// NewWatcher returns a watcher for the loader's sources.
func NewWatcher(loader *Loader, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		loader:   loader,
		debounce: 500 * time.Millisecond,
		logger:   loader.logger,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// Start watches every existing source directory plus its plugin
// subdirectories, so a manifest written after its directory is noticed.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw

	watched := 0
	for _, src := range w.loader.Sources() {
		if err := fsw.Add(src.Dir); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			_ = fsw.Close()
			return err
		}
		watched++
		entries, _ := os.ReadDir(src.Dir)
		for _, e := range entries {
			if e.IsDir() {
				_ = fsw.Add(filepath.Join(src.Dir, e.Name()))
			}
		}
	}
	w.logger.Info("watching plugin sources", slog.Int("dirs", watched))

	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Stop terminates the watcher.
func (w *Watcher) Stop() error {
	select {
	case <-w.done:
	default:
		close(w.done)
	}
	w.wg.Wait()
	if w.fsw != nil {
		return w.fsw.Close()
	}
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("plugin watcher error", slog.String("error", err.Error()))
		case <-ticker.C:
			if w.due() {
				report, err := w.loader.LoadAll(ctx)
				if w.onPass != nil {
					w.onPass(report, err)
				}
			}
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
		return
	}
	if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
		_ = w.fsw.Add(ev.Name)
	}
	w.mu.Lock()
	w.pending = true
	w.last = time.Now()
	w.mu.Unlock()
}

// due reports whether a change is pending and the debounce window has passed.
func (w *Watcher) due() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.pending || time.Since(w.last) < w.debounce {
		return false
	}
	w.pending = false
	return true
}
