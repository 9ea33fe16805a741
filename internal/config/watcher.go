package config

import (
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

const defaultWatchInterval = 5 * time.Second

// Watcher polls a config file and hands every valid, effectively different
// version to a callback. Invalid files are logged and ignored; the last valid
// config stays current. Edits that do not change any setting, such as a new
// comment, update the fingerprint without calling back.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	mu      sync.Mutex
	current *Config
	seen    fingerprint

	done     chan struct{}
	stopOnce sync.Once
}

// fingerprint identifies one version of the file. The modification time
// short-circuits polling; the hash decides.
type fingerprint struct {
	mtime time.Time
	size  int64
	hash  [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and starts polling it. onChange may be nil. It runs
// on the polling goroutine and may call [Watcher.Current].
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: defaultWatchInterval,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, fp, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	w.current, w.seen = cfg, fp

	go w.loop()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends polling. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) loop() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.poll()
		}
	}
}

func (w *Watcher) poll() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: stat failed", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	seen := w.seen
	w.mu.Unlock()
	if info.ModTime().Equal(seen.mtime) && info.Size() == seen.size {
		return
	}

	data, fp, err := readFile(w.path)
	if err != nil {
		slog.Warn("config watcher: read failed", "path", w.path, "err", err)
		return
	}
	if fp.hash == seen.hash {
		w.remember(fp)
		return
	}
	next, err := loadBytes(data)
	if err != nil {
		// Remember the broken version so it is reported once, not every tick.
		w.remember(fp)
		slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	old := w.current
	w.current, w.seen = next, fp
	w.mu.Unlock()

	d := Diff(old, next)
	if d.Empty() {
		slog.Debug("config watcher: file changed without effect", "path", w.path)
		return
	}
	slog.Info("config watcher: configuration reloaded",
		"path", w.path,
		"log_level", d.LogLevelChanged,
		"coach", d.CoachChanged,
		"assistant", d.AssistantToggled,
		"restart_required", d.RestartRequired,
	)
	if w.onChange != nil {
		w.onChange(old, next)
	}
}

func (w *Watcher) remember(fp fingerprint) {
	w.mu.Lock()
	w.seen = fp
	w.mu.Unlock()
}

// read loads and validates the file.
func (w *Watcher) read() (*Config, fingerprint, error) {
	data, fp, err := readFile(w.path)
	if err != nil {
		return nil, fingerprint{}, err
	}
	cfg, err := loadBytes(data)
	if err != nil {
		return nil, fingerprint{}, err
	}
	return cfg, fp, nil
}

func readFile(path string) ([]byte, fingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fingerprint{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fingerprint{}, err
	}
	return data, fingerprint{
		mtime: info.ModTime(),
		size:  int64(len(data)),
		hash:  sha256.Sum256(data),
	}, nil
}
