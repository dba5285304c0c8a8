// Package toggle exposes the operator pause switch. The switch is a marker
// file in the data directory: present means presence broadcasting is paused.
// Any process (tray, CLI, script) can flip it by creating or removing the file.
package toggle

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"tools.zach/dev/plexcord/internal/atomicfile"
	"tools.zach/dev/plexcord/internal/logger"
)

// DefaultPollInterval is the stat interval used when fsnotify is unavailable.
const DefaultPollInterval = 2 * time.Second

// ///////////////////////////////////////////////
// Marker File
// ///////////////////////////////////////////////

// Present reports whether the marker file exists.
func Present(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Set creates the marker when paused is true and removes it otherwise.
func Set(path string, paused bool) error {
	if paused {
		if err := atomicfile.Write(path, nil, 0o644); err != nil {
			return fmt.Errorf("create pause marker: %w", err)
		}
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove pause marker: %w", err)
	}
	return nil
}

// ///////////////////////////////////////////////
// Watcher
// ///////////////////////////////////////////////

// Watcher signals when the marker file appears or disappears. It watches the
// containing directory with fsnotify and falls back to polling.
type Watcher struct {
	path string
	log  *slog.Logger
	// events is buffered to 1 so back-to-back changes coalesce.
	events chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once

	mu  sync.Mutex
	fsw *fsnotify.Watcher

	polling      atomic.Bool
	pollInterval time.Duration
}

// NewWatcher starts watching path. pollInterval applies only in polling mode;
// zero selects DefaultPollInterval.
func NewWatcher(path string, pollInterval time.Duration, log *slog.Logger) (*Watcher, error) {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if log == nil {
		log = logger.Discard()
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	w := &Watcher{
		path:         path,
		log:          log.With("component", "toggle"),
		events:       make(chan struct{}, 1),
		done:         make(chan struct{}),
		pollInterval: pollInterval,
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.log.Info("fsnotify unavailable, falling back to polling", "error", err)
		w.start(w.poll)
		return w, nil
	}
	if err := fsw.Add(dir); err != nil {
		w.log.Info("cannot watch data directory, falling back to polling", "path", dir, "error", err)
		fsw.Close()
		w.start(w.poll)
		return w, nil
	}
	w.fsw = fsw
	w.start(w.watch)
	return w, nil
}

func (w *Watcher) start(loop func()) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		loop()
	}()
}

// Path returns the watched marker path.
func (w *Watcher) Path() string {
	return w.path
}

// Paused reports whether the marker file currently exists.
func (w *Watcher) Paused() bool {
	return Present(w.path)
}

// Polling reports whether the watcher is using polling instead of fsnotify.
func (w *Watcher) Polling() bool {
	return w.polling.Load()
}

// Events returns a channel that receives a signal when the marker may have
// changed. Receivers re-read [Watcher.Paused].
func (w *Watcher) Events() <-chan struct{} {
	return w.events
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		w.mu.Lock()
		if w.fsw != nil {
			if closeErr := w.fsw.Close(); closeErr != nil {
				err = fmt.Errorf("closing fsnotify watcher: %w", closeErr)
			}
			w.fsw = nil
		}
		w.mu.Unlock()
		w.wg.Wait()
	})
	return err
}

// watch forwards fsnotify events for the marker. On a watcher error it
// switches to polling in the same goroutine.
func (w *Watcher) watch() {
	w.mu.Lock()
	fsw := w.fsw
	w.mu.Unlock()
	if fsw == nil {
		return
	}

	name := filepath.Base(w.path)
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) == name {
				w.notify()
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.log.Info("fsnotify error, switching to polling", "error", err)
			w.mu.Lock()
			if w.fsw != nil {
				w.fsw.Close()
				w.fsw = nil
			}
			w.mu.Unlock()
			w.poll()
			return
		}
	}
}

// poll stats the marker and signals when its presence flips.
func (w *Watcher) poll() {
	w.polling.Store(true)
	last := w.Paused()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			if now := w.Paused(); now != last {
				last = now
				w.notify()
			}
		}
	}
}

// notify sends a single signal to the events channel. If a signal is already
// pending the call is a no-op.
func (w *Watcher) notify() {
	select {
	case w.events <- struct{}{}:
	default:
	}
}
