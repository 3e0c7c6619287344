package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/fx"

	"github.com/adaspace/chatcore/internal/config"
	"github.com/adaspace/chatcore/internal/session"
)

// TestDaemonLifecycle boots the full fx graph against a throwaway HOME and
// verifies the profile tree, database, and lock come up and tear down
// cleanly. No identity is stored, so the daemon stays idle and never
// touches the broker.
func TestDaemonLifecycle(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	app := fx.New(
		Module(Params{Profile: "test"}),
		fx.NopLogger,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	profileDir := filepath.Join(tmpDir, ".chatcore", "profiles", "test")
	if _, err := os.Stat(filepath.Join(profileDir, "chat.db")); err != nil {
		t.Errorf("chat.db not created: %v", err)
	}
	if _, err := os.Stat(filepath.Join(profileDir, "LOCK")); err != nil {
		t.Errorf("lock file not created: %v", err)
	}

	if err := app.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

// TestSecondDaemonRefused verifies the profile lock keeps a second daemon
// off the same profile.
func TestSecondDaemonRefused(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	first := fx.New(Module(Params{Profile: "test"}), fx.NopLogger)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := first.Start(ctx); err != nil {
		t.Fatalf("first start: %v", err)
	}
	defer func() { _ = first.Stop(ctx) }()

	second := fx.New(Module(Params{Profile: "test"}), fx.NopLogger)
	if err := second.Start(ctx); err == nil {
		_ = second.Stop(ctx)
		t.Fatal("second daemon on the same profile should fail to start")
	}
}

// TestConfigFallback verifies the daemon uses built-in broker defaults when
// no config file exists, and honors the file when present.
func TestConfigFallback(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	cfg, err := provideConfig()
	if err != nil {
		t.Fatalf("provideConfig without file: %v", err)
	}
	if cfg.Broker.Host != config.Default().Broker.Host {
		t.Errorf("host = %q, want default %q", cfg.Broker.Host, config.Default().Broker.Host)
	}

	saved := config.Default()
	saved.Broker.Host = "mqtt.example.org"
	saved.Broker.Port = 8883
	if err := config.Save(session.ConfigPath(), saved); err != nil {
		t.Fatal(err)
	}

	cfg, err = provideConfig()
	if err != nil {
		t.Fatalf("provideConfig with file: %v", err)
	}
	if cfg.Broker.Host != "mqtt.example.org" || cfg.Broker.Port != 8883 {
		t.Errorf("broker = %s:%d, want mqtt.example.org:8883", cfg.Broker.Host, cfg.Broker.Port)
	}
}
