package devices

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher drops cached descriptors when their file in a search path
// changes, then tells the registered handlers which name changed.
type Watcher struct {
	loader   *DescriptorLoader
	debounce time.Duration
	handlers []func(name string)
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	logger   *zap.Logger
	done     chan struct{}
}

func NewWatcher(loader *DescriptorLoader, debounce time.Duration, logger *zap.Logger) *Watcher {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{
		loader:   loader,
		debounce: debounce,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// OnChange registers a handler called with the descriptor name after the
// cache entry was invalidated.
func (w *Watcher) OnChange(handler func(name string)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, handler)
}

// Start watches every search path until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	for _, dir := range w.loader.searchPaths {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}
	w.watcher = watcher

	w.logger.Info("Descriptor watcher started",
		zap.Strings("paths", w.loader.searchPaths),
		zap.Duration("debounce", w.debounce))

	go w.watch(ctx)
	return nil
}

// Stop blocks until the watch loop has exited.
func (w *Watcher) Stop() error {
	if w.watcher == nil {
		return nil
	}
	err := w.watcher.Close()
	<-w.done
	return err
}

func (w *Watcher) watch(ctx context.Context) {
	defer close(w.done)

	pending := make(map[string]struct{})
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			w.logger.Debug("Descriptor watcher stopped")
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			name, ok := descriptorName(event.Name)
			if !ok {
				continue
			}
			w.logger.Debug("Descriptor change detected",
				zap.String("file", event.Name),
				zap.String("op", event.Op.String()))

			pending[name] = struct{}{}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			timerC = timer.C

		case <-timerC:
			for name := range pending {
				w.reload(name)
			}
			pending = make(map[string]struct{})
			timerC = nil

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Descriptor watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload(name string) {
	w.loader.Invalidate(name)
	w.logger.Info("Descriptor changed", zap.String("name", name))

	w.mu.Lock()
	handlers := append([]func(string){}, w.handlers...)
	w.mu.Unlock()

	for _, h := range handlers {
		h(name)
	}
}

func descriptorName(file string) (string, bool) {
	base := filepath.Base(file)
	if _, ok := FormatOf(base); !ok {
		return "", false
	}
	return strings.TrimSuffix(base, filepath.Ext(base)), true
}
