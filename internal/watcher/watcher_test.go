package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestSnapshotsEqual(t *testing.T) {
	now := time.Now()

	a := map[string]fileSnapshot{
		"agent.py": {modTime: now, size: 100},
		"state.py": {modTime: now, size: 200},
	}
	b := map[string]fileSnapshot{
		"agent.py": {modTime: now, size: 100},
		"state.py": {modTime: now, size: 200},
	}
	if !snapshotsEqual(a, b) {
		t.Error("identical snapshots should be equal")
	}

	// Different size
	c := map[string]fileSnapshot{
		"agent.py": {modTime: now, size: 101},
		"state.py": {modTime: now, size: 200},
	}
	if snapshotsEqual(a, c) {
		t.Error("different size should not be equal")
	}

	// Different mtime
	d := map[string]fileSnapshot{
		"agent.py": {modTime: now.Add(time.Second), size: 100},
		"state.py": {modTime: now, size: 200},
	}
	if snapshotsEqual(a, d) {
		t.Error("different mtime should not be equal")
	}

	// Missing file
	e := map[string]fileSnapshot{
		"agent.py": {modTime: now, size: 100},
	}
	if snapshotsEqual(a, e) {
		t.Error("different file count should not be equal")
	}

	// Renamed file
	f := map[string]fileSnapshot{
		"agent.py": {modTime: now, size: 100},
		"nodes.py": {modTime: now, size: 200},
	}
	if snapshotsEqual(a, f) {
		t.Error("renamed file should not be equal")
	}

	if !snapshotsEqual(map[string]fileSnapshot{}, map[string]fileSnapshot{}) {
		t.Error("both empty should be equal")
	}
}

func TestPollInterval(t *testing.T) {
	tests := []struct {
		files    int
		expected time.Duration
	}{
		{0, 5 * time.Second},
		{99, 5 * time.Second},
		{100, 6 * time.Second},
		{2000, 25 * time.Second},
		{10000, 60 * time.Second},
	}
	for _, tt := range tests {
		if got := pollInterval(tt.files); got != tt.expected {
			t.Errorf("pollInterval(%d) = %v, want %v", tt.files, got, tt.expected)
		}
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestCapture(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "graph.py"), "app = None\n")
	writeFile(t, filepath.Join(dir, "tools", "calc.py"), "x = 1\n")
	writeFile(t, filepath.Join(dir, "README.md"), "# readme\n")

	w := New(dir, nil, Options{})
	snap, dirs, err := w.capture(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(snap) != 2 {
		t.Fatalf("snapshot = %v", snap)
	}
	if s, ok := snap["graph.py"]; !ok || s.size == 0 || s.modTime.IsZero() {
		t.Errorf("graph.py snapshot = %+v", s)
	}
	if len(dirs) != 2 {
		t.Errorf("dirs = %v", dirs)
	}
}

func TestCapture_SingleFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "agent.py")
	writeFile(t, src, "app = None\n")
	writeFile(t, filepath.Join(dir, "other.py"), "x = 1\n")

	snap, dirs, err := New(src, nil, Options{}).capture(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := snap["agent.py"]; !ok || len(snap) != 1 {
		t.Errorf("snapshot = %v", snap)
	}
	if len(dirs) != 1 || dirs[0] != dir {
		t.Errorf("dirs = %v", dirs)
	}
}

func TestCheck_TriggersOnlyOnChange(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "agent.py")
	writeFile(t, src, "app = None\n")

	var count atomic.Int32
	w := New(dir, func(context.Context) error {
		count.Add(1)
		return nil
	}, Options{})
	ctx := context.Background()
	snap, _, err := w.capture(ctx)
	if err != nil {
		t.Fatal(err)
	}
	w.snapshot = snap

	w.check(ctx)
	if count.Load() != 0 {
		t.Errorf("no-change check should not migrate, got %d", count.Load())
	}

	now := time.Now().Add(time.Second)
	if err := os.Chtimes(src, now, now); err != nil {
		t.Fatal(err)
	}
	w.check(ctx)
	if count.Load() != 1 {
		t.Errorf("changed file should migrate once, got %d", count.Load())
	}

	w.check(ctx)
	if count.Load() != 1 {
		t.Errorf("repeat check should not migrate again, got %d", count.Load())
	}

	writeFile(t, filepath.Join(dir, "nodes.py"), "y = 2\n")
	w.check(ctx)
	if count.Load() != 2 {
		t.Errorf("new file should migrate, got %d", count.Load())
	}
}

func TestCheck_FailedMigrationAdvancesSnapshot(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "agent.py")
	writeFile(t, src, "app = None\n")

	var count atomic.Int32
	w := New(src, func(context.Context) error {
		count.Add(1)
		return errors.New("syntax error")
	}, Options{})
	ctx := context.Background()
	w.snapshot, _, _ = w.capture(ctx)

	writeFile(t, src, "app = (\n")
	w.check(ctx)
	w.check(ctx)
	if count.Load() != 1 {
		t.Errorf("migrations = %d, want 1", count.Load())
	}
}

func TestRun_MissingSource(t *testing.T) {
	w := New(filepath.Join(t.TempDir(), "missing.py"), func(context.Context) error { return nil }, Options{})
	if err := w.Run(context.Background()); err == nil {
		t.Fatal("expected error for missing source")
	}
}

func TestRun_Cancellation(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "agent.py"), "app = None\n")
	w := New(dir, func(context.Context) error { return nil }, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not stop after context cancellation")
	}
}

func TestRun_MigratesOnEdit(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "agent.py")
	writeFile(t, src, "app = None\n")

	migrated := make(chan struct{}, 1)
	w := New(dir, func(context.Context) error {
		select {
		case migrated <- struct{}{}:
		default:
		}
		return nil
	}, Options{Debounce: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// The watch may not be installed yet, so keep editing until it fires.
	deadline := time.After(10 * time.Second)
	for i := 0; ; i++ {
		writeFile(t, src, fmt.Sprintf("app = %d\n", i))
		select {
		case <-migrated:
			cancel()
			<-done
			return
		case <-deadline:
			t.Fatal("edit did not trigger a migration")
		case <-time.After(200 * time.Millisecond):
		}
	}
}
