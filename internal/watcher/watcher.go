// Package watcher re-runs a migration whenever the LangGraph sources change.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/DeusData/lg2jiuwen/internal/discover"
	"github.com/DeusData/lg2jiuwen/internal/logging"
)

const (
	defaultDebounce = 300 * time.Millisecond
	maxInterval     = 60 * time.Second
)

type fileSnapshot struct {
	modTime time.Time
	size    int64
}

// MigrateFunc is called after the sources changed.
type MigrateFunc func(ctx context.Context) error

// Options tune a Watcher.
type Options struct {
	// Debounce is how long the watcher waits for further events before it
	// compares snapshots. Zero means 300ms.
	Debounce time.Duration
	// Ignore holds extra doublestar patterns passed to discovery.
	Ignore []string
}

// Watcher watches a source file or project directory.
type Watcher struct {
	path     string
	fn       MigrateFunc
	debounce time.Duration
	ignore   []string
	logger   *slog.Logger

	fsw      *fsnotify.Watcher
	snapshot map[string]fileSnapshot
	interval time.Duration
}

// New creates a Watcher for path. fn runs once per detected change.
func New(path string, fn MigrateFunc, opts Options) *Watcher {
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &Watcher{
		path:     path,
		fn:       fn,
		debounce: debounce,
		ignore:   opts.Ignore,
		logger:   logging.New("watcher"),
	}
}

// Run blocks until ctx is cancelled. The first snapshot is the baseline and
// does not trigger fn. Besides filesystem events, the sources are polled at
// an interval that grows with the file count, for filesystems that do not
// deliver events.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watcher: %w", err)
	}
	defer fsw.Close()
	w.fsw = fsw

	snap, dirs, err := w.capture(ctx)
	if err != nil {
		return fmt.Errorf("watcher: %w", err)
	}
	for _, d := range dirs {
		w.add(d)
	}
	w.snapshot = snap
	w.interval = pollInterval(len(snap))
	w.logger.Info("watcher.start", "path", w.path, "files", len(snap), "dirs", len(dirs))

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()
	poll := time.NewTicker(w.interval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if w.relevant(ev) {
				timer.Reset(w.debounce)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher.error", "err", err)

		case <-timer.C:
			w.check(ctx)
			poll.Reset(w.interval)

		case <-poll.C:
			w.check(ctx)
			poll.Reset(w.interval)
		}
	}
}

// relevant reports whether ev may change the sources. New directories are
// added to the watch list on the way.
func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			w.add(ev.Name)
			return true
		}
	}
	return filepath.Ext(ev.Name) == ".py"
}

func (w *Watcher) add(dir string) {
	if w.fsw == nil {
		return
	}
	if err := w.fsw.Add(dir); err != nil {
		w.logger.Warn("watcher.add", "dir", dir, "err", err)
	}
}

// check compares a fresh snapshot with the last one and runs fn on a
// difference. The snapshot advances even when fn fails, so a broken source
// is migrated again only after the next edit.
func (w *Watcher) check(ctx context.Context) {
	snap, dirs, err := w.capture(ctx)
	if err != nil {
		w.logger.Warn("watcher.snapshot", "path", w.path, "err", err)
		return
	}
	if snapshotsEqual(w.snapshot, snap) {
		return
	}
	for _, d := range dirs {
		w.add(d)
	}
	w.logger.Info("watcher.change", "path", w.path, "files", len(snap))
	w.snapshot = snap
	w.interval = pollInterval(len(snap))

	start := time.Now()
	err = w.fn(ctx)
	w.logger.Info("watcher.migrate", "path", w.path, "elapsed", time.Since(start), "err", err)
}

// capture records mtime and size of every source file and returns the
// directories that hold them.
func (w *Watcher) capture(ctx context.Context) (map[string]fileSnapshot, []string, error) {
	proj, err := discover.Detect(ctx, w.path, &discover.Options{Ignore: w.ignore})
	if err != nil {
		return nil, nil, err
	}
	snap := make(map[string]fileSnapshot, len(proj.Files))
	seen := map[string]bool{proj.Root: true}
	dirs := []string{proj.Root}
	for _, f := range proj.Files {
		info, statErr := os.Stat(f.Path)
		if statErr != nil {
			continue
		}
		snap[f.RelPath] = fileSnapshot{modTime: info.ModTime(), size: info.Size()}
		if d := filepath.Dir(f.Path); !seen[d] {
			seen[d] = true
			dirs = append(dirs, d)
		}
	}
	return snap, dirs, nil
}

// snapshotsEqual returns true if two snapshots have identical files with same mtime+size.
func snapshotsEqual(a, b map[string]fileSnapshot) bool {
	if len(a) != len(b) {
		return false
	}
	for path, aSnap := range a {
		bSnap, ok := b[path]
		if !ok {
			return false
		}
		if !aSnap.modTime.Equal(bSnap.modTime) || aSnap.size != bSnap.size {
			return false
		}
	}
	return true
}

// pollInterval computes the fallback poll interval from file count.
// 5s base + 1s per 100 files, capped at 60s.
func pollInterval(fileCount int) time.Duration {
	d := 5*time.Second + time.Duration(fileCount/100)*time.Second
	if d > maxInterval {
		d = maxInterval
	}
	return d
}
