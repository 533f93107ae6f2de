package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

const watchValidA = `
services:
  svc-a:
    type: tcp
    host: localhost
    port: 6379
`

const watchValidB = `
services:
  svc-b:
    type: tcp
    host: localhost
    port: 5432
`

const watchInvalid = `
services:
  broken:
    type: tcp
    host: localhost
` // missing port

func TestWatch_ReloadsOnWriteSkipsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(watchValidA), 0o644); err != nil {
		t.Fatal(err)
	}

	var reloads atomic.Int32
	var last atomic.Value // *Config

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(cfg *Config) {
			last.Store(cfg)
			reloads.Add(1)
		})
	}()

	// Give the watcher a moment to install before the first write.
	time.Sleep(100 * time.Millisecond)

	write := func(content string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	waitReloads := func(n int32) {
		t.Helper()
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			if reloads.Load() >= n {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
		t.Fatalf("timed out waiting for %d reloads (have %d)", n, reloads.Load())
	}

	write(watchValidB)
	waitReloads(1)
	if cfg := last.Load().(*Config); cfg.Services["svc-b"] == nil {
		t.Error("reloaded config missing svc-b")
	}

	// An invalid file is rejected without calling onChange: the last config
	// seen by the callback never contains the broken entry.
	write(watchInvalid)
	time.Sleep(300 * time.Millisecond)
	if cfg := last.Load().(*Config); cfg.Services["broken"] != nil {
		t.Fatal("invalid file reached onChange")
	}
	seen := reloads.Load()

	// A subsequent valid write recovers.
	write(watchValidA)
	waitReloads(seen + 1)
	if cfg := last.Load().(*Config); cfg.Services["svc-a"] == nil {
		t.Error("recovered config missing svc-a")
	}

	// Rewriting identical content fires filesystem events but changes
	// nothing: the content hash matches and no reload happens.
	seen = reloads.Load()
	write(watchValidA)
	time.Sleep(300 * time.Millisecond)
	if got := reloads.Load(); got != seen {
		t.Errorf("identical rewrite triggered %d reload(s)", got-seen)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Watch: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancellation")
	}
}

func TestWatch_MissingFileErrors(t *testing.T) {
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "absent.yaml"), func(*Config) {})
	if err == nil {
		t.Fatal("want error watching a missing file")
	}
}
