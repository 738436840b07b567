package broker

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/renameio/v2"

	"github.com/sentinelbist/sentinel/internal/models"
)

// State is the JSON document persisted between runs.
type State struct {
	VirtualBalance float64                  `json:"virtual_balance"`
	InitialBalance float64                  `json:"initial_balance"`
	Positions      map[string]PositionState `json:"positions"`
	TradeHistory   []models.Trade           `json:"trade_history"`
}

// PositionState is the persisted form of an open position, keyed by ticker.
type PositionState struct {
	Quantity   int       `json:"quantity"`
	EntryPrice float64   `json:"entry_price"`
	OpenedAt   time.Time `json:"opened_at"`
}

// StateStore persists broker state. Writes are atomic so a crash mid-write
// never leaves a truncated state file.
type StateStore struct {
	path string
}

// NewStateStore returns a store writing to path.
func NewStateStore(path string) *StateStore {
	return &StateStore{path: path}
}

// Load reads the persisted state. A missing file returns (nil, nil): the
// caller starts fresh.
func (s *StateStore) Load() (*State, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", s.path, err)
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", s.path, err)
	}
	return &state, nil
}

// Save writes the state atomically.
func (s *StateStore) Save(state *State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding broker state: %w", err)
	}
	if err := renameio.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", s.path, err)
	}
	return nil
}
