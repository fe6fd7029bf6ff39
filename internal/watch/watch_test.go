package watch

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func startWatcher(t *testing.T, dir string) <-chan []string {
	t.Helper()

	changes := make(chan []string, 8)
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	w, err := New([]string{dir}, 100*time.Millisecond, func(paths []string) {
		changes <- paths
	}, logger)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run() error = %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("Run() did not return after cancel")
		}
	})

	// Give Run time to register the directories.
	time.Sleep(100 * time.Millisecond)
	return changes
}

func waitChange(t *testing.T, changes <-chan []string) []string {
	t.Helper()
	select {
	case paths := <-changes:
		return paths
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for change")
		return nil
	}
}

func TestWatcher_ReportsWrite(t *testing.T) {
	dir := t.TempDir()
	changes := startWatcher(t, dir)

	target := filepath.Join(dir, "app.wasm")
	if err := os.WriteFile(target, []byte("\x00asm\x01\x00\x00\x00"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	paths := waitChange(t, changes)
	found := false
	for _, p := range paths {
		if p == target {
			found = true
		}
	}
	if !found {
		t.Errorf("change batch %v does not contain %s", paths, target)
	}
}

func TestWatcher_DebouncesBurst(t *testing.T) {
	dir := t.TempDir()
	changes := startWatcher(t, dir)

	for _, name := range []string{"a.js", "b.js", "c.js"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
	}

	paths := waitChange(t, changes)
	if len(paths) != 3 {
		t.Errorf("got batch %v, want all three files in one batch", paths)
	}
}

func TestWatcher_NewSubdirectory(t *testing.T) {
	dir := t.TempDir()
	changes := startWatcher(t, dir)

	sub := filepath.Join(dir, "pkg")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}
	waitChange(t, changes)

	target := filepath.Join(sub, "module.wasm")
	if err := os.WriteFile(target, []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	paths := waitChange(t, changes)
	found := false
	for _, p := range paths {
		if p == target {
			found = true
		}
	}
	if !found {
		t.Errorf("change batch %v does not contain %s", paths, target)
	}
}

func TestWatcher_RunWaitsForInFlightChange(t *testing.T) {
	dir := t.TempDir()

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var finished atomic.Bool
	w, err := New([]string{dir}, 20*time.Millisecond, func(paths []string) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		finished.Store(true)
	}, slog.New(slog.NewTextHandler(os.Stdout, nil)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(filepath.Join(dir, "app.wasm"), []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for change")
	}

	cancel()
	select {
	case <-done:
		t.Fatal("Run() returned while OnChange was still running")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after OnChange finished")
	}
	if !finished.Load() {
		t.Error("Run() returned before OnChange finished")
	}
}

func TestWatcher_AddTreeContinuesAfterFailure(t *testing.T) {
	dir := t.TempDir()
	for _, sub := range []string{"a", "b", "c"} {
		if err := os.Mkdir(filepath.Join(dir, sub), 0755); err != nil {
			t.Fatalf("Mkdir() error = %v", err)
		}
	}

	var buf bytes.Buffer
	w, err := New([]string{dir}, time.Second, nil, slog.New(slog.NewTextHandler(&buf, nil)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	// Every Add fails on a closed watcher.
	if err := w.watcher.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	w.addTree(dir)

	if got := strings.Count(buf.String(), "Failed to watch directory"); got != 4 {
		t.Errorf("logged %d failures, want 4 (root and three subdirectories):\n%s", got, buf.String())
	}
}

func TestWatcher_UnreadableSubdirectory(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("directory permissions are not enforced for root")
	}

	dir := t.TempDir()
	locked := filepath.Join(dir, "locked")
	if err := os.Mkdir(locked, 0755); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}
	if err := os.Mkdir(filepath.Join(locked, "inner"), 0755); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}
	if err := os.Chmod(locked, 0); err != nil {
		t.Fatalf("Chmod() error = %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(locked, 0755) })

	changes := startWatcher(t, dir)

	target := filepath.Join(dir, "index.html")
	if err := os.WriteFile(target, []byte("<p>hi</p>"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	paths := waitChange(t, changes)
	found := false
	for _, p := range paths {
		if p == target {
			found = true
		}
	}
	if !found {
		t.Errorf("change batch %v does not contain %s", paths, target)
	}
}

func TestIsHidden(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{".git", true},
		{"site/.cache", true},
		{"site/app.wasm", false},
		{".", false},
		{"..", false},
	}

	for _, tt := range tests {
		if got := isHidden(tt.path); got != tt.want {
			t.Errorf("isHidden(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
