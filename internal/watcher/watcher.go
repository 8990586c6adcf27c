// Package watcher triggers a callback when any watched session source changes
// on disk.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// DefaultDebounce coalesces bursts of writes into one callback.
const DefaultDebounce = 2 * time.Second

// Watcher monitors source files and directories and calls onChange after
// writes settle. Files are watched through their parent directory so that
// atomic replaces and late creation are still seen.
type Watcher struct {
	targets  map[string]bool // cleaned paths that matter
	dirs     map[string]bool // directories added to fsnotify
	onChange func()
	watcher  *fsnotify.Watcher
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex
	running  bool
	debounce time.Duration
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// New creates a Watcher over paths. A path may be a file or a directory.
func New(paths []string, onChange func(), opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		targets:  make(map[string]bool),
		dirs:     make(map[string]bool),
		onChange: onChange,
		watcher:  fsw,
		ctx:      ctx,
		cancel:   cancel,
		debounce: DefaultDebounce,
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		w.targets[filepath.Clean(p)] = true
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start begins watching. Paths that do not exist yet are skipped with a warning.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	for target := range w.targets {
		if err := w.addWatch(target); err != nil {
			log.Warn().Err(err).Str("path", target).Msg("Failed to watch source")
		}
	}

	go w.watchLoop()
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}

	w.running = false
	w.cancel()
	return w.watcher.Close()
}

// addWatch watches target itself when it is a directory, else its parent.
func (w *Watcher) addWatch(target string) error {
	dir := filepath.Dir(target)
	if info, err := os.Stat(target); err == nil && info.IsDir() {
		dir = target
	}
	if _, err := os.Stat(dir); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dirs[dir] {
		return nil
	}
	if err := w.watcher.Add(dir); err != nil {
		return err
	}
	w.dirs[dir] = true
	return nil
}

// relevant reports whether an event path belongs to a watched source.
func (w *Watcher) relevant(path string) bool {
	path = filepath.Clean(path)
	if w.targets[path] {
		return true
	}
	return w.targets[filepath.Dir(path)]
}

// watchLoop is the main event loop.
func (w *Watcher) watchLoop() {
	var debounceTimer *time.Timer

	for {
		select {
		case <-w.ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op == fsnotify.Chmod || !w.relevant(event.Name) {
				continue
			}

			// A source directory created after Start needs its own watch.
			if event.Op&fsnotify.Create != 0 && w.targets[filepath.Clean(event.Name)] {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = w.addWatch(event.Name)
				}
			}

			log.Debug().Str("path", event.Name).Str("op", event.Op.String()).Msg("Source changed")
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, w.fire)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (w *Watcher) fire() {
	if w.ctx.Err() != nil {
		return
	}
	log.Info().Int("sources", len(w.targets)).Msg("Sources changed, triggering callback")
	if w.onChange != nil {
		w.onChange()
	}
}
