package library

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nerrad567/cuebox/internal/automation"
	"github.com/nerrad567/cuebox/internal/profile"
)

// DefaultDebounce is the quiet period before a changed file is re-read.
const DefaultDebounce = 200 * time.Millisecond

// Logger defines the logging interface used by the Watcher.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Sink receives the definitions the Watcher reads.
type Sink interface {
	LoadProfile(p *profile.Profile) error
	RemoveProfile(name string) error
	PutAutomation(a *automation.Automation) error
	RemoveAutomation(name string) error
}

// Op is what happened to a definition.
type Op string

// Watcher operations.
const (
	OpLoaded  Op = "loaded"
	OpChanged Op = "changed"
	OpRemoved Op = "removed"
)

// Event describes one definition change delivered to the Sink.
type Event struct {
	Kind Kind
	Op   Op
	Name string
	Path string
	Err  error
}

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	Loader   *Loader
	Sink     Sink
	Debounce time.Duration
	Logger   Logger

	// OnEvent is called after each event is applied (may be nil).
	OnEvent func(Event)
}

// Watcher watches the library directories and applies file changes to a Sink.
//
// Events for one path are debounced: the file is re-read once it has been
// quiet for the debounce period. A file that exists when re-read is loaded
// (or reloaded); a file that is gone is removed. Renaming a definition
// inside a file removes the old name.
type Watcher struct {
	loader   *Loader
	sink     Sink
	debounce time.Duration
	logger   Logger
	onEvent  func(Event)
	fs       *fsnotify.Watcher

	mu     sync.Mutex
	timers map[string]*time.Timer
	names  map[string]string // path → definition name
	wg     sync.WaitGroup
}

// NewWatcher creates a Watcher on both library directories, creating them
// if needed.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Loader == nil || cfg.Sink == nil {
		return nil, errors.New("library: watcher needs a loader and a sink")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	for _, dir := range []string{cfg.Loader.ProfilesDir, cfg.Loader.AutomationsDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("watching %s: %w", dir, err)
		}
	}

	return &Watcher{
		loader:   cfg.Loader,
		sink:     cfg.Sink,
		debounce: cfg.Debounce,
		logger:   cfg.Logger,
		onEvent:  cfg.OnEvent,
		fs:       fsw,
		timers:   make(map[string]*time.Timer),
		names:    make(map[string]string),
	}, nil
}

// Seed records the files already loaded, so later removals and renames
// know which names they held.
func (w *Watcher) Seed(lib *Library) {
	if lib == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, p := range lib.Profiles {
		if p.Source != "" {
			w.names[p.Source] = p.Name
		}
	}
	for _, a := range lib.Automations {
		if a.Source != "" {
			w.names[a.Source] = a.Name
		}
	}
}

// Start processes file events until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) {
	defer w.stop()

	for {
		select {
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if _, ok := w.loader.KindOf(event.Name); !ok {
				continue
			}
			if strings.HasPrefix(filepath.Base(event.Name), ".") {
				continue
			}
			w.logger.Debug("library file event", "path", event.Name, "op", event.Op.String())
			w.schedule(event.Name)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Error("library watcher error", "error", err)

		case <-ctx.Done():
			return
		}
	}
}

// stop closes the fsnotify watcher and waits for pending applies.
func (w *Watcher) stop() {
	w.fs.Close()

	w.mu.Lock()
	for path, t := range w.timers {
		if t.Stop() {
			w.wg.Done()
		}
		delete(w.timers, path)
	}
	w.mu.Unlock()
	w.wg.Wait()
}

// schedule (re)starts the debounce timer for path.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[path]; ok && t.Stop() {
		w.wg.Done()
	}
	w.wg.Add(1)
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		defer w.wg.Done()
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		w.apply(path)
	})
}

// apply re-reads path and hands the result to the sink.
func (w *Watcher) apply(path string) {
	kind, ok := w.loader.KindOf(path)
	if !ok {
		return
	}

	w.mu.Lock()
	previous, known := w.names[path]
	w.mu.Unlock()

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if !known {
			return
		}
		err := w.remove(kind, previous)
		w.mu.Lock()
		delete(w.names, path)
		w.mu.Unlock()
		w.emit(Event{Kind: kind, Op: OpRemoved, Name: previous, Path: path, Err: err})
		return
	}

	name, err := w.load(kind, path)
	if err != nil {
		w.logger.Error("failed to reload library file", "kind", kind, "path", path, "error", err)
		w.emit(Event{Kind: kind, Op: OpChanged, Name: previous, Path: path, Err: err})
		return
	}

	op := OpLoaded
	if known {
		op = OpChanged
		if previous != name {
			if err := w.remove(kind, previous); err != nil {
				w.logger.Warn("failed to remove renamed definition", "kind", kind, "name", previous, "error", err)
			}
		}
	}
	w.mu.Lock()
	w.names[path] = name
	w.mu.Unlock()
	w.emit(Event{Kind: kind, Op: op, Name: name, Path: path})
}

func (w *Watcher) load(kind Kind, path string) (string, error) {
	switch kind {
	case KindProfile:
		p, err := w.loader.LoadProfile(path)
		if err != nil {
			return "", err
		}
		return p.Name, w.sink.LoadProfile(p)
	case KindAutomation:
		a, err := w.loader.LoadAutomation(path)
		if err != nil {
			return "", err
		}
		return a.Name, w.sink.PutAutomation(a)
	default:
		return "", fmt.Errorf("library: unknown kind %q", kind)
	}
}

func (w *Watcher) remove(kind Kind, name string) error {
	switch kind {
	case KindProfile:
		return w.sink.RemoveProfile(name)
	case KindAutomation:
		return w.sink.RemoveAutomation(name)
	default:
		return fmt.Errorf("library: unknown kind %q", kind)
	}
}

func (w *Watcher) emit(e Event) {
	if e.Err == nil {
		w.logger.Info("library "+string(e.Kind)+" "+string(e.Op), "name", e.Name, "path", e.Path)
	}
	if w.onEvent != nil {
		w.onEvent(e)
	}
}

// Close stops watching. Start returns once its loop notices.
func (w *Watcher) Close() error {
	return w.fs.Close()
}
