package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// WeightsWatcher hot-reloads the search weight overrides file. The
// file is a flat YAML mapping of entity type to multiplier. Events are
// debounced; a file that fails to parse keeps the previous weights.
type WeightsWatcher struct {
	path     string
	onChange func(map[string]float64)
	logger   *zap.Logger
	debounce time.Duration

	watcher  *fsnotify.Watcher
	stopChan chan struct{}
	stopOnce sync.Once

	mu       sync.Mutex
	watching bool
	timer    *time.Timer
}

// NewWeightsWatcher creates a watcher for the weights file. onChange
// fires with the full new weight map after each successful reload.
func NewWeightsWatcher(path string, onChange func(map[string]float64), logger *zap.Logger) (*WeightsWatcher, error) {
	if path == "" {
		return nil, fmt.Errorf("weights file path cannot be empty")
	}
	if onChange == nil {
		return nil, fmt.Errorf("onChange callback cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	return &WeightsWatcher{
		path:     path,
		onChange: onChange,
		logger:   logger,
		debounce: 500 * time.Millisecond,
		watcher:  watcher,
		stopChan: make(chan struct{}),
	}, nil
}

// Start loads the file once, then watches its directory for changes.
// Watching the directory rather than the file survives editors that
// replace the file on save.
func (w *WeightsWatcher) Start() error {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	w.watching = true
	w.mu.Unlock()

	if err := w.reload(); err != nil {
		return err
	}

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", w.path, err)
	}

	w.logger.Info("Watching search weights file", zap.String("path", w.path))
	go w.loop()
	return nil
}

// Stop ends watching. Safe to call more than once.
func (w *WeightsWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		w.watcher.Close()
	})
}

func (w *WeightsWatcher) loop() {
	for {
		select {
		case <-w.stopChan:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Weights watcher error", zap.Error(err))
		}
	}
}

// scheduleReload debounces bursts of filesystem events into one reload.
func (w *WeightsWatcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		if err := w.reload(); err != nil {
			w.logger.Warn("Weights reload failed, keeping previous weights",
				zap.String("path", w.path),
				zap.Error(err),
			)
		}
	})
}

func (w *WeightsWatcher) reload() error {
	raw, err := os.ReadFile(w.path)
	if err != nil {
		return fmt.Errorf("read weights file: %w", err)
	}

	var weights map[string]float64
	if err := yaml.Unmarshal(raw, &weights); err != nil {
		return fmt.Errorf("parse weights file: %w", err)
	}
	for t, v := range weights {
		if v <= 0 {
			return fmt.Errorf("weight for %q must be positive, got %v", t, v)
		}
	}

	w.onChange(weights)
	w.logger.Info("Search weights reloaded",
		zap.String("path", w.path),
		zap.Int("types", len(weights)),
	)
	return nil
}
