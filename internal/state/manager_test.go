package state

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/nginx-vhost-sync/internal/metrics"
)

func TestBadgerManager(t *testing.T) {
	// Create temporary directory for testing
	tempDir, err := os.MkdirTemp("", "badger-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	dbPath := filepath.Join(tempDir, "badger")

	// Create manager
	manager, err := New(dbPath, metrics.New(false))
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	defer manager.Close()

	now := time.Now().Unix()

	tests := []struct {
		name       string
		stateToSet State
	}{
		{
			name: "empty state",
			stateToSet: State{
				Files: map[string]FileState{},
			},
		},
		{
			name: "single file",
			stateToSet: State{
				Files: map[string]FileState{
					"/etc/nginx/conf.d/vhost.conf": {
						SHA256:      "aa11",
						LastWritten: now,
					},
				},
			},
		},
		{
			name: "multiple files",
			stateToSet: State{
				Files: map[string]FileState{
					"/etc/nginx/conf.d/vhost.conf": {
						SHA256:      "aa11",
						LastWritten: now,
					},
					"/etc/nginx/vhost.d/tenant-a.conf": {
						SHA256:      "bb22",
						LastWritten: now,
					},
				},
			},
		},
		{
			name: "remove file",
			stateToSet: State{
				Files: map[string]FileState{
					"/etc/nginx/conf.d/vhost.conf": {
						SHA256:      "aa11",
						LastWritten: now,
					},
				},
			},
		},
		{
			name: "update file hash",
			stateToSet: State{
				Files: map[string]FileState{
					"/etc/nginx/conf.d/vhost.conf": {
						SHA256:      "cc33",
						LastWritten: now + 1,
					},
				},
			},
		},
	}

	ctx := context.Background()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := manager.SaveState(ctx, tt.stateToSet); err != nil {
				t.Fatalf("failed to save state: %v", err)
			}

			loaded, err := manager.LoadState(ctx)
			if err != nil {
				t.Fatalf("failed to load state: %v", err)
			}

			if !reflect.DeepEqual(loaded, tt.stateToSet) {
				t.Errorf("loaded state does not match saved state\ngot:  %+v\nwant: %+v", loaded, tt.stateToSet)
			}
		})
	}
}

func TestBadgerManagerPersistence(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "badger-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	dbPath := filepath.Join(tempDir, "badger")
	ctx := context.Background()

	saved := State{
		Files: map[string]FileState{
			"/etc/nginx/vhost.d/tenant-a.conf": {
				SHA256:      "dd44",
				LastWritten: time.Now().Unix(),
			},
		},
	}

	manager, err := New(dbPath, metrics.New(false))
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	if err := manager.SaveState(ctx, saved); err != nil {
		t.Fatalf("failed to save state: %v", err)
	}
	if err := manager.Close(); err != nil {
		t.Fatalf("failed to close manager: %v", err)
	}

	// Reopen and confirm state survived
	manager, err = New(dbPath, metrics.New(false))
	if err != nil {
		t.Fatalf("failed to reopen manager: %v", err)
	}
	defer manager.Close()

	loaded, err := manager.LoadState(ctx)
	if err != nil {
		t.Fatalf("failed to load state: %v", err)
	}
	if !reflect.DeepEqual(loaded, saved) {
		t.Errorf("state did not survive reopen\ngot:  %+v\nwant: %+v", loaded, saved)
	}
}
