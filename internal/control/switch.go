// Package control manages the file-based engine on/off switch. The switch is
// a small JSON document shared with operator tooling, so flipping it does not
// require talking to the service.
package control

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/renameio/v2"
)

// Status is the persisted switch document.
type Status struct {
	Running   bool      `json:"running"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Switch reads and writes the engine status file. Safe for concurrent use.
type Switch struct {
	mu   sync.Mutex
	path string
}

// NewSwitch returns a switch backed by the file at path.
func NewSwitch(path string) *Switch {
	return &Switch{path: path}
}

// Path returns the status file location.
func (s *Switch) Path() string { return s.path }

// Load reads the current status. A missing file means the engine is off.
func (s *Switch) Load() (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Switch) loadLocked() (Status, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Status{}, nil
		}
		return Status{}, fmt.Errorf("reading %s: %w", s.path, err)
	}
	var status Status
	if err := json.Unmarshal(data, &status); err != nil {
		return Status{}, fmt.Errorf("parsing %s: %w", s.path, err)
	}
	return status, nil
}

// Running reports whether the switch is on. Read errors count as off.
func (s *Switch) Running() bool {
	status, err := s.Load()
	if err != nil {
		return false
	}
	return status.Running
}

// Set writes the switch state atomically.
func (s *Switch) Set(running bool) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{Running: running, UpdatedAt: time.Now().UTC()}
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return Status{}, fmt.Errorf("encoding engine status: %w", err)
	}
	if err := renameio.WriteFile(s.path, data, 0o644); err != nil {
		return Status{}, fmt.Errorf("writing %s: %w", s.path, err)
	}
	return status, nil
}
