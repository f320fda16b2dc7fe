package persistence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// StateVersion is the current version of the state file format.
const StateVersion = 1

// MaxHistory bounds SelectionState.Recent.
const MaxHistory = 10

// DeviceRecord identifies a previously connected keyboard.
type DeviceRecord struct {
	VendorID  uint16 `json:"vendor_id"`
	ProductID uint16 `json:"product_id"`

	// Path is the serial path; empty for bus devices.
	Path string `json:"path,omitempty"`

	DisplayName string `json:"display_name,omitempty"`

	// Transport is "SERIAL" or "BUS".
	Transport string `json:"transport,omitempty"`

	// ConnectedAt is when the session was opened.
	ConnectedAt time.Time `json:"connected_at"`
}

// Same reports whether r and o name the same device.
func (r DeviceRecord) Same(o DeviceRecord) bool {
	return r.VendorID == o.VendorID && r.ProductID == o.ProductID && r.Path == o.Path
}

// SelectionState is the persisted selection state.
type SelectionState struct {
	// Version is the state file format version.
	Version int `json:"version"`

	// SavedAt is when the state was last saved.
	SavedAt time.Time `json:"saved_at"`

	// Last is the most recently connected device.
	Last *DeviceRecord `json:"last,omitempty"`

	// Recent lists connected devices, newest first, without duplicates.
	Recent []DeviceRecord `json:"recent,omitempty"`
}

// SelectionStore manages persistence of selection state to a JSON file.
type SelectionStore struct {
	mu   sync.Mutex
	path string
}

// NewSelectionStore creates a new selection store.
func NewSelectionStore(path string) *SelectionStore {
	return &SelectionStore{path: path}
}

// Path returns the state file path.
func (s *SelectionStore) Path() string { return s.path }

// Save persists the state to disk.
func (s *SelectionStore) Save(state *SelectionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(state)
}

func (s *SelectionStore) saveLocked(state *SelectionState) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}

	state.Version = StateVersion
	if state.SavedAt.IsZero() {
		state.SavedAt = time.Now()
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0644)
}

// Load reads the state from disk.
// Returns nil, nil if the file doesn't exist (empty state).
func (s *SelectionStore) Load() (*SelectionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *SelectionStore) loadLocked() (*SelectionState, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	state := &SelectionState{}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, err
	}
	return state, nil
}

// RecordConnected makes rec the last device and moves it to the front of
// the history.
func (s *SelectionStore) RecordConnected(rec DeviceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.loadLocked()
	if err != nil || state == nil {
		// A corrupt file is replaced rather than blocking every connect.
		state = &SelectionState{}
	}
	if rec.ConnectedAt.IsZero() {
		rec.ConnectedAt = time.Now()
	}

	recent := make([]DeviceRecord, 0, len(state.Recent)+1)
	recent = append(recent, rec)
	for _, r := range state.Recent {
		if !r.Same(rec) {
			recent = append(recent, r)
		}
	}
	if len(recent) > MaxHistory {
		recent = recent[:MaxHistory]
	}

	last := rec
	state.Last = &last
	state.Recent = recent
	state.SavedAt = time.Time{}
	return s.saveLocked(state)
}

// LastPath returns the path of the last connected device, or "".
func (s *SelectionStore) LastPath() (string, error) {
	state, err := s.Load()
	if err != nil || state == nil || state.Last == nil {
		return "", err
	}
	return state.Last.Path, nil
}

// Clear removes the state file.
func (s *SelectionStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
