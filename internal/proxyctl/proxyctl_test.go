package proxyctl

import (
	"context"
	"testing"

	"github.com/nginx-vhost-sync/internal/config"
	"github.com/nginx-vhost-sync/internal/metrics"
)

func TestNewRequiresReloadCommand(t *testing.T) {
	if _, err := New(config.Proxy{}, metrics.New(false)); err == nil {
		t.Errorf("expected error for empty reload command, got none")
	}
}

func TestReload(t *testing.T) {
	r, err := New(config.Proxy{ReloadCommand: "true"}, metrics.New(false))
	if err != nil {
		t.Fatalf("failed to create reloader: %v", err)
	}
	if err := r.Reload(context.Background()); err != nil {
		t.Errorf("reload with succeeding command failed: %v", err)
	}
}

func TestReloadFailure(t *testing.T) {
	r, err := New(config.Proxy{ReloadCommand: "false"}, metrics.New(false))
	if err != nil {
		t.Fatalf("failed to create reloader: %v", err)
	}
	if err := r.Reload(context.Background()); err == nil {
		t.Errorf("expected error from failing reload command, got none")
	}
}

func TestCheckSkippedWhenUnset(t *testing.T) {
	r, err := New(config.Proxy{ReloadCommand: "true"}, metrics.New(false))
	if err != nil {
		t.Fatalf("failed to create reloader: %v", err)
	}
	if err := r.Check(context.Background()); err != nil {
		t.Errorf("check with no command should be a no-op, got %v", err)
	}
}

func TestCheckFailure(t *testing.T) {
	r, err := New(config.Proxy{ReloadCommand: "true", CheckCommand: "false"}, metrics.New(false))
	if err != nil {
		t.Fatalf("failed to create reloader: %v", err)
	}
	if err := r.Check(context.Background()); err == nil {
		t.Errorf("expected error from failing check command, got none")
	}
}
