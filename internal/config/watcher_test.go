package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, path string, interval time.Duration) {
	t.Helper()
	content := fmt.Sprintf("cycle:\n  interval: %s\n", interval)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
}

func startWatcher(t *testing.T, path string) (*Watcher, chan *Config) {
	t.Helper()
	ch := make(chan *Config, 4)
	w, err := NewWatcher(path, func(c *Config) { ch <- c }, nil)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(w.Stop)
	return w, ch
}

func TestWatcherReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, 10*time.Minute)
	_, ch := startWatcher(t, path)

	writeConfig(t, path, 20*time.Minute)

	select {
	case cfg := <-ch:
		if got := time.Duration(cfg.Cycle.Interval); got != 20*time.Minute {
			t.Errorf("Expected reloaded interval 20m, got %v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Reload callback never fired")
	}
}

func TestWatcherKeepsPreviousOnBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, 10*time.Minute)
	_, ch := startWatcher(t, path)

	if err := os.WriteFile(path, []byte("cycle: ["), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	select {
	case cfg := <-ch:
		t.Fatalf("Broken file should not reach the callback, got %+v", cfg)
	case <-time.After(1200 * time.Millisecond):
	}

	// A later good save still lands
	writeConfig(t, path, 7*time.Minute)
	select {
	case cfg := <-ch:
		if got := time.Duration(cfg.Cycle.Interval); got != 7*time.Minute {
			t.Errorf("Expected interval 7m after recovery, got %v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Watcher stopped reloading after a broken file")
	}
}

func TestWatcherIgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfig(t, path, 10*time.Minute)
	_, ch := startWatcher(t, path)

	if err := os.WriteFile(filepath.Join(dir, "notes.yaml"), []byte("unrelated"), 0o644); err != nil {
		t.Fatalf("Failed to write sibling: %v", err)
	}

	select {
	case cfg := <-ch:
		t.Fatalf("Sibling file should not trigger a reload, got %+v", cfg)
	case <-time.After(1200 * time.Millisecond):
	}
}

func TestWatcherLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, 10*time.Minute)

	w, err := NewWatcher(path, func(*Config) {}, nil)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := w.Start(context.Background()); err == nil {
		t.Error("Second Start should fail")
	}

	w.Stop()
	w.Stop() // no-op
	if err := w.Start(context.Background()); err == nil {
		t.Error("Start after Stop should fail")
	}

	// Stop without Start releases the watcher cleanly
	w2, err := NewWatcher(path, func(*Config) {}, nil)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	w2.Stop()

	if _, err := NewWatcher(path, nil, nil); err == nil {
		t.Error("NewWatcher should require a callback")
	}
}
