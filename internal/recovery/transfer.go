package recovery

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// TransferMaxAge is how long a completed or abandoned transfer's state is
// kept before CleanupOldTransfers reaps it.
const TransferMaxAge = 24 * time.Hour

// TransferState tracks a single resumable bulk transfer. It is rewritten
// to disk on every progress update so a daemon restart doesn't lose
// context mid-transfer.
type TransferState struct {
	TransferID    string `json:"transferId"`
	DeviceID      string `json:"deviceId"`
	Filename      string `json:"filename"`
	FilePath      string `json:"filePath"`
	TotalSize     uint64 `json:"totalSize"`
	BytesReceived uint64 `json:"bytesReceived"`
	StartedAt     int64  `json:"startedAt"`
	LastUpdated   int64  `json:"lastUpdated"`
}

// IsComplete holds exactly when every byte has arrived.
func (t *TransferState) IsComplete() bool {
	return t.BytesReceived >= t.TotalSize
}

// ProgressPercentage returns 0-100. A zero-size transfer reports 0, not a
// divide-by-zero NaN.
func (t *TransferState) ProgressPercentage() float64 {
	if t.TotalSize == 0 {
		return 0
	}
	pct := float64(t.BytesReceived) / float64(t.TotalSize) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

// TransferStore persists TransferStates atomically and reaps stale ones.
type TransferStore struct {
	mu      sync.RWMutex
	states  map[string]*TransferState
	path    string
	clock   clockwork.Clock
}

// NewTransferStore builds an empty store persisting to path (empty path
// disables persistence).
func NewTransferStore(path string, clock clockwork.Clock) *TransferStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &TransferStore{
		states: make(map[string]*TransferState),
		path:   path,
		clock:  clock,
	}
}

// Init restores in-memory transfer state from disk on boot, tolerating a
// missing file.
func (s *TransferStore) Init() error {
	if s.path == "" {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read recovery state: %w", err)
	}
	var states map[string]*TransferState
	if err := json.Unmarshal(data, &states); err != nil {
		return fmt.Errorf("parse recovery state: %w", err)
	}
	s.mu.Lock()
	s.states = states
	s.mu.Unlock()
	return nil
}

// RegisterTransfer begins tracking a new bulk transfer.
func (s *TransferStore) RegisterTransfer(t *TransferState) error {
	now := s.clock.Now().Unix()
	t.StartedAt = now
	t.LastUpdated = now
	s.mu.Lock()
	s.states[t.TransferID] = t
	s.mu.Unlock()
	return s.save()
}

// UpdateProgress advances bytesReceived for an in-flight transfer and
// rewrites the state file atomically.
func (s *TransferStore) UpdateProgress(transferID string, bytesReceived uint64) error {
	s.mu.Lock()
	t, ok := s.states[transferID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("update transfer progress: unknown transfer %s", transferID)
	}
	t.BytesReceived = bytesReceived
	t.LastUpdated = s.clock.Now().Unix()
	s.mu.Unlock()
	return s.save()
}

// Get returns the transfer state for an id, if known.
func (s *TransferStore) Get(transferID string) (*TransferState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.states[transferID]
	return t, ok
}

// Remove drops a transfer's state outright (completion or cancellation).
func (s *TransferStore) Remove(transferID string) error {
	s.mu.Lock()
	delete(s.states, transferID)
	s.mu.Unlock()
	return s.save()
}

// CleanupOldTransfers removes every transfer whose LastUpdated is older
// than TransferMaxAge.
func (s *TransferStore) CleanupOldTransfers() error {
	cutoff := s.clock.Now().Add(-TransferMaxAge).Unix()
	s.mu.Lock()
	for id, t := range s.states {
		if t.LastUpdated < cutoff {
			delete(s.states, id)
		}
	}
	s.mu.Unlock()
	return s.save()
}

func (s *TransferStore) save() error {
	if s.path == "" {
		return nil
	}
	s.mu.RLock()
	data, err := json.MarshalIndent(s.states, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal recovery state: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".recovery-*.json.tmp")
	if err != nil {
		return fmt.Errorf("create temp recovery file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp recovery file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp recovery file: %w", err)
	}
	return os.Rename(tmpPath, s.path)
}
