package queue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileName is the queue state file inside the data directory.
const FileName = "queue.json"

// PersistentState represents the queue state that gets persisted to disk
type PersistentState struct {
	Items []QueueItem `json:"items"`
	// Index is the play position, into ShuffleOrder when shuffled.
	Index        int    `json:"index"`
	Repeat       string `json:"repeat"` // "off", "one", "all"
	Shuffle      bool   `json:"shuffle"`
	ShuffleOrder []int  `json:"shuffleOrder,omitempty"`
}

// Store handles queue persistence to disk
type Store struct {
	mu       sync.Mutex
	filePath string
	manager  *Manager
}

// NewStore creates a new queue store
func NewStore(dataDir string, manager *Manager) *Store {
	return &Store{
		filePath: filepath.Join(dataDir, FileName),
		manager:  manager,
	}
}

// Load loads the queue state from disk
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read queue file: %w", err)
	}

	var state PersistentState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("failed to parse queue file: %w", err)
	}
	repeat, err := ParseRepeatMode(state.Repeat)
	if err != nil {
		return fmt.Errorf("failed to parse queue file: %w", err)
	}

	if state.Items == nil {
		state.Items = make([]QueueItem, 0)
	}
	if state.Index < -1 || state.Index >= len(state.Items) {
		state.Index = -1
	}

	s.manager.mu.Lock()
	defer s.manager.mu.Unlock()

	s.manager.items = state.Items
	s.manager.index = state.Index
	s.manager.repeat = repeat
	s.manager.shuffle = state.Shuffle
	s.manager.order = nil
	if state.Shuffle {
		s.manager.order = state.ShuffleOrder
		if !isPermutation(state.ShuffleOrder, len(state.Items)) {
			// The saved position is meaningless without its order.
			s.manager.reshuffle()
			s.manager.index = -1
		}
	}
	return nil
}

func isPermutation(order []int, n int) bool {
	if len(order) != n {
		return false
	}
	seen := make([]bool, n)
	for _, idx := range order {
		if idx < 0 || idx >= n || seen[idx] {
			return false
		}
		seen[idx] = true
	}
	return true
}

// Save saves the current queue state to disk
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.manager.mu.RLock()
	state := PersistentState{
		Items:   make([]QueueItem, len(s.manager.items)),
		Index:   s.manager.index,
		Repeat:  s.manager.repeat.String(),
		Shuffle: s.manager.shuffle,
	}
	copy(state.Items, s.manager.items)
	if s.manager.shuffle {
		state.ShuffleOrder = append([]int(nil), s.manager.order...)
	}
	s.manager.mu.RUnlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal queue state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0700); err != nil {
		return fmt.Errorf("failed to create queue directory: %w", err)
	}
	if err := os.WriteFile(s.filePath, data, 0600); err != nil {
		return fmt.Errorf("failed to write queue file: %w", err)
	}
	return nil
}

// GetFilePath returns the path to the queue file
func (s *Store) GetFilePath() string {
	return s.filePath
}
