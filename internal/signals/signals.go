// Package signals gives headless runs an out-of-band control channel:
// marker files dropped into <root>/.nexus/signals/ are mapped to
// coordinator control calls, and decisions.md collects human notes that
// survive the run.
package signals

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Marker file names the watcher reacts to.
const (
	MarkerPause  = "pause"
	MarkerResume = "resume"
	MarkerStop   = "stop"
)

// decisionsHeader seeds decisions.md on first use.
const decisionsHeader = `# Run Decisions

Notes recorded while the engine runs: conventions, constraints, and
choices a human made on the engine's behalf.
`

// controller is the slice of the coordinator the watcher drives.
type controller interface {
	Pause(reason string) error
	Resume() error
	Stop(ctx context.Context) error
}

// Watcher maps signal files to controller calls. Markers are consumed
// once acted on, so dropping pause then resume works repeatedly.
type Watcher struct {
	dir  string
	ctrl controller

	watcher *fsnotify.Watcher
	done    chan struct{}
	once    sync.Once

	debugLog func(format string, args ...interface{})
}

// NewWatcher creates the signals directory under root/.nexus and begins
// watching it. When fsnotify is unavailable the caller can still poll
// with Check.
func NewWatcher(root string, ctrl controller) (*Watcher, error) {
	dir := filepath.Join(root, ".nexus", "signals")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create signals dir: %w", err)
	}

	w := &Watcher{
		dir:      dir,
		ctrl:     ctrl,
		done:     make(chan struct{}),
		debugLog: func(string, ...interface{}) {},
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return w, nil
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return w, nil
	}
	w.watcher = fsw
	go w.loop()
	return w, nil
}

// SetDebugLogger sets the debug logging function.
func (w *Watcher) SetDebugLogger(fn func(format string, args ...interface{})) {
	if fn != nil {
		w.debugLog = fn
	}
}

// Dir returns the watched signals directory.
func (w *Watcher) Dir() string { return w.dir }

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			w.act(filepath.Base(event.Name))
		case <-w.watcher.Errors:
			// Keep watching; Check covers missed events.
		}
	}
}

// Check scans the directory for markers the watcher may have missed and
// acts on them. Safe to call from a polling loop.
func (w *Watcher) Check() {
	for _, marker := range []string{MarkerStop, MarkerPause, MarkerResume} {
		if _, err := os.Stat(filepath.Join(w.dir, marker)); err == nil {
			w.act(marker)
		}
	}
}

func (w *Watcher) act(marker string) {
	var err error
	switch marker {
	case MarkerPause:
		err = w.ctrl.Pause("signal file")
	case MarkerResume:
		err = w.ctrl.Resume()
	case MarkerStop:
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = w.ctrl.Stop(ctx)
		cancel()
	default:
		return
	}
	if err != nil {
		w.debugLog("[signals] %s: %v", marker, err)
	}
	if removeErr := os.Remove(filepath.Join(w.dir, marker)); removeErr != nil && !os.IsNotExist(removeErr) {
		w.debugLog("[signals] consuming %s: %v", marker, removeErr)
	}
}

// Close stops the watcher.
func (w *Watcher) Close() {
	w.once.Do(func() {
		close(w.done)
		if w.watcher != nil {
			w.watcher.Close()
		}
	})
}

// Send drops a marker file for a watcher on the same root to pick up.
func Send(root, marker string) error {
	dir := filepath.Join(root, ".nexus", "signals")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, marker), []byte(time.Now().UTC().Format(time.RFC3339)), 0o644)
}

// AppendDecision records a timestamped note in decisions.md, creating
// the file with its header on first use.
func AppendDecision(root, decision string) error {
	path := filepath.Join(root, ".nexus", "decisions.md")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, []byte(decisionsHeader), 0o644); err != nil {
			return err
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "\n- %s: %s\n", time.Now().UTC().Format("2006-01-02 15:04"), decision)
	return err
}
