package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/a-essam23/layoutsync/pkg/config"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

// inTempDir runs the test from an empty directory so no stray config file is found.
func inTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestLoadDefaults(t *testing.T) {
	inTempDir(t)

	cfg, err := config.Load(newTestLogger(), "config")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Errorf("expected default address :8080, got %q", cfg.Server.Address)
	}
	if cfg.Server.RoomLimit.Mode != "reject" {
		t.Errorf("expected default room limit mode reject, got %q", cfg.Server.RoomLimit.Mode)
	}
	if cfg.Transport.PingInterval != 30*time.Second {
		t.Errorf("expected ping interval 30s, got %s", cfg.Transport.PingInterval)
	}
	if cfg.Canvas.GridUnit != 20 || cfg.Canvas.Width != 800 || cfg.Canvas.Height != 600 {
		t.Errorf("unexpected canvas defaults: %+v", cfg.Canvas)
	}
	if cfg.Client.Backoff.Initial != 500*time.Millisecond {
		t.Errorf("expected backoff initial 500ms, got %s", cfg.Client.Backoff.Initial)
	}
	if cfg.Redis.Addr != "" {
		t.Errorf("federation should be off by default, got redis addr %q", cfg.Redis.Addr)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := inTempDir(t)
	yaml := []byte(`
server:
  address: ":9000"
  roomLimit:
    maxPerRoom: 4
    mode: cycle
canvas:
  rotationStep: 90
`)
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	t.Setenv("LAYOUTSYNC_REDIS_ADDR", "redis:6379")

	cfg, err := config.Load(newTestLogger(), "config")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Address != ":9000" {
		t.Errorf("expected address from file, got %q", cfg.Server.Address)
	}
	if cfg.Server.RoomLimit.MaxPerRoom != 4 || cfg.Server.RoomLimit.Mode != "cycle" {
		t.Errorf("unexpected room limit: %+v", cfg.Server.RoomLimit)
	}
	if cfg.Canvas.RotationStep != 90 {
		t.Errorf("expected rotation step 90, got %v", cfg.Canvas.RotationStep)
	}
	if cfg.Redis.Addr != "redis:6379" {
		t.Errorf("expected redis addr from env, got %q", cfg.Redis.Addr)
	}
}

func TestLoadRejectsInvalidMode(t *testing.T) {
	inTempDir(t)
	t.Setenv("LAYOUTSYNC_SERVER_ROOMLIMIT_MODE", "drop")

	if _, err := config.Load(newTestLogger(), "config"); err == nil {
		t.Error("expected an error for an invalid room limit mode")
	}
}
