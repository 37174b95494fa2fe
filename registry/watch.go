package registry

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the registry whenever the artifact file is written, created
// or renamed into place. It watches the artifact's directory, which must
// exist, and returns when ctx is done.
func (r *Registry) Watch(ctx context.Context) error {
	target, err := filepath.Abs(r.opts.ChunksMapFile)
	if err != nil {
		return fmt.Errorf("watch: resolve artifact path: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(target)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	r.log.Info("watching chunks map", "path", target)

	d := newDebouncer(r.opts.Debounce, func() { r.Reload() })
	defer d.stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-w.Events:
			if !ok {
				return nil
			}
			if isArtifactChange(evt, target) {
				d.add()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.log.Error("watcher error", "error", err)
		}
	}
}

func isArtifactChange(evt fsnotify.Event, target string) bool {
	if filepath.Clean(evt.Name) != target {
		return false
	}
	return evt.Has(fsnotify.Write) || evt.Has(fsnotify.Create) || evt.Has(fsnotify.Rename)
}

// debouncer collapses bursts of events into one callback and never runs two
// callbacks at once.
type debouncer struct {
	wait time.Duration
	fn   func()

	mu       sync.Mutex
	timer    *time.Timer
	stopped  bool
	inFlight bool
	pending  bool
	running  sync.WaitGroup
}

func newDebouncer(wait time.Duration, fn func()) *debouncer {
	return &debouncer{wait: wait, fn: fn}
}

func (d *debouncer) add() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.wait, d.flush)
}

func (d *debouncer) flush() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	if d.inFlight {
		d.pending = true
		d.mu.Unlock()
		return
	}
	d.inFlight = true
	d.running.Add(1)
	d.mu.Unlock()

	d.fn()

	d.mu.Lock()
	d.inFlight = false
	if d.pending && !d.stopped {
		d.pending = false
		d.timer = time.AfterFunc(d.wait, d.flush)
	}
	d.mu.Unlock()
	d.running.Done()
}

// stop cancels any scheduled callback and waits for a running one.
func (d *debouncer) stop() {
	d.mu.Lock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()
	d.running.Wait()
}
