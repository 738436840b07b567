package control

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestSwitchDefaultsOff(t *testing.T) {
	s := NewSwitch(filepath.Join(t.TempDir(), "engine_status.json"))
	status, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if status.Running {
		t.Error("missing file should mean off")
	}
	if s.Running() {
		t.Error("Running() should be false")
	}
}

func TestSwitchSetAndLoad(t *testing.T) {
	s := NewSwitch(filepath.Join(t.TempDir(), "engine_status.json"))

	if _, err := s.Set(true); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if !s.Running() {
		t.Error("expected running after Set(true)")
	}

	if _, err := s.Set(false); err != nil {
		t.Fatalf("Set: %v", err)
	}
	status, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if status.Running {
		t.Error("expected stopped after Set(false)")
	}
	if status.UpdatedAt.IsZero() {
		t.Error("UpdatedAt should be set")
	}
}

func TestWatchSeesToggle(t *testing.T) {
	s := NewSwitch(filepath.Join(t.TempDir(), "engine_status.json"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	changes := make(chan Status, 4)
	go func() {
		_ = s.Watch(ctx, zap.NewNop(), func(status Status) {
			changes <- status
		})
	}()

	// Give the watcher a moment to register before writing.
	time.Sleep(100 * time.Millisecond)
	if _, err := s.Set(true); err != nil {
		t.Fatalf("Set: %v", err)
	}

	select {
	case status := <-changes:
		if !status.Running {
			t.Errorf("status = %+v, want running", status)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for watch event")
	}
}
