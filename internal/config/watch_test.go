package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mapping.yaml")
	if err := os.WriteFile(path, []byte("counter_name: first\n"), 0o644); err != nil {
		t.Fatalf("write mapping file: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloads := make(chan *Mapping, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(m *Mapping) { reloads <- m })
	}()

	// Give the watcher a moment to register before the first change.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("counter_name: second\n"), 0o644); err != nil {
		t.Fatalf("rewrite mapping file: %v", err)
	}

	select {
	case mapping := <-reloads:
		if mapping.CounterName != "second" {
			t.Fatalf("unexpected reloaded counter name %q", mapping.CounterName)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for reload")
	}

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("expected context cancellation, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("watch did not stop after cancel")
	}
}

func TestWatchKeepsPreviousMappingOnParseFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mapping.yaml")
	if err := os.WriteFile(path, []byte("counter_name: first\n"), 0o644); err != nil {
		t.Fatalf("write mapping file: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloads := make(chan *Mapping, 4)
	go func() { _ = Watch(ctx, path, func(m *Mapping) { reloads <- m }) }()

	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("counter_name: [\n"), 0o644); err != nil {
		t.Fatalf("rewrite mapping file: %v", err)
	}
	if err := os.WriteFile(path, []byte("counter_name: recovered\n"), 0o644); err != nil {
		t.Fatalf("rewrite mapping file: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case mapping := <-reloads:
			// The broken intermediate write must never surface as an error;
			// the callback only ever sees valid mappings.
			if mapping.CounterName == "recovered" {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for recovered mapping")
		}
	}
}

func TestWatchWithoutPathBlocksUntilCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := Watch(ctx, "", func(*Mapping) {}); err != context.DeadlineExceeded {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
