// Package queue manages the playback queue.
package queue

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/austinkregel/local-media/jukeboxd/internal/jukebox"
)

// TrackMetadata contains metadata for a queued track
type TrackMetadata struct {
	Title    string `json:"title,omitempty"`
	Artist   string `json:"artist,omitempty"`
	Album    string `json:"album,omitempty"`
	Duration int64  `json:"duration,omitempty"`
	ArtPath  string `json:"artPath,omitempty"`
}

// QueueItem represents an item in the playback queue
type QueueItem struct {
	Path string `json:"path"`

	// TrackID is the analysis catalog id; empty for plain local files.
	TrackID string       `json:"trackId,omitempty"`
	Kind    jukebox.Kind `json:"kind,omitempty"`

	Metadata *TrackMetadata `json:"metadata,omitempty"`
}

// Track converts the item to the identity the jukebox works with.
func (i QueueItem) Track() jukebox.Track {
	kind := i.Kind
	if kind == "" {
		kind = jukebox.KindMusic
	}
	t := jukebox.Track{ID: i.TrackID, Path: i.Path, Kind: kind}
	if i.Metadata != nil {
		t.Title = i.Metadata.Title
	}
	return t
}

// ChangeCallback is called when the queue state changes
type ChangeCallback func()

// RepeatMode represents the repeat behavior
type RepeatMode int

const (
	RepeatOff RepeatMode = iota
	RepeatOne
	RepeatAll
)

func (r RepeatMode) String() string {
	switch r {
	case RepeatOne:
		return "one"
	case RepeatAll:
		return "all"
	default:
		return "off"
	}
}

// ParseRepeatMode parses "off", "one" or "all".
func ParseRepeatMode(s string) (RepeatMode, error) {
	switch s {
	case "off", "":
		return RepeatOff, nil
	case "one":
		return RepeatOne, nil
	case "all":
		return RepeatAll, nil
	}
	return RepeatOff, fmt.Errorf("unknown repeat mode %q", s)
}

// Manager manages the playback queue. While shuffle is on, index is a
// position in order rather than in items.
type Manager struct {
	mu       sync.RWMutex
	items    []QueueItem
	index    int // -1 before the first Next
	repeat   RepeatMode
	shuffle  bool
	order    []int // shuffled item indices
	rng      *rand.Rand
	onChange ChangeCallback
}

// NewManager creates a new queue manager
func NewManager() *Manager {
	return &Manager{
		items: make([]QueueItem, 0),
		index: -1,
		rng:   rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

// SetOnChange sets a callback to be called when the queue state changes
func (m *Manager) SetOnChange(callback ChangeCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = callback
}

// notifyChange calls the onChange callback if set (must be called without lock held)
func (m *Manager) notifyChange() {
	m.mu.RLock()
	callback := m.onChange
	m.mu.RUnlock()
	if callback != nil {
		callback()
	}
}

// itemAt maps a play position to an index into items.
func (m *Manager) itemAt(pos int) int {
	if !m.shuffle {
		return pos
	}
	return m.order[pos]
}

// positionOf maps an index into items to its play position.
func (m *Manager) positionOf(item int) int {
	if !m.shuffle {
		return item
	}
	for pos, idx := range m.order {
		if idx == item {
			return pos
		}
	}
	return -1
}

// reshuffle draws a fresh play order over all items (Fisher-Yates).
func (m *Manager) reshuffle() {
	m.order = m.rng.Perm(len(m.items))
}

// placeShuffled puts item at a random position after the current one, so
// it is still to come.
func (m *Manager) placeShuffled(item int) {
	pos := m.index + 1 + m.rng.IntN(len(m.order)-m.index)
	m.order = append(m.order[:pos], append([]int{item}, m.order[pos:]...)...)
}

// Set replaces the queue
func (m *Manager) Set(items []QueueItem) {
	m.mu.Lock()
	m.items = make([]QueueItem, len(items))
	copy(m.items, items)
	m.index = -1
	if m.shuffle {
		m.reshuffle()
	}
	m.mu.Unlock()
	m.notifyChange()
}

// SetPaths replaces the queue with plain local files.
func (m *Manager) SetPaths(paths []string) {
	m.Set(itemsFromPaths(paths))
}

// Append adds items to the end of the queue
func (m *Manager) Append(items []QueueItem) {
	m.mu.Lock()
	start := len(m.items)
	m.items = append(m.items, items...)
	if m.shuffle {
		for i := start; i < len(m.items); i++ {
			m.placeShuffled(i)
		}
	}
	m.mu.Unlock()
	m.notifyChange()
}

// AppendPaths adds plain local files to the end of the queue.
func (m *Manager) AppendPaths(paths []string) {
	m.Append(itemsFromPaths(paths))
}

func itemsFromPaths(paths []string) []QueueItem {
	items := make([]QueueItem, len(paths))
	for i, path := range paths {
		items[i] = QueueItem{Path: path}
	}
	return items
}

// Clear clears the queue
func (m *Manager) Clear() {
	m.mu.Lock()
	m.items = make([]QueueItem, 0)
	m.index = -1
	if m.shuffle {
		m.order = make([]int, 0)
	}
	m.mu.Unlock()
	m.notifyChange()
}

// Next moves to the next track and returns it. ok is false at the end of the
// queue unless repeat is on.
func (m *Manager) Next() (QueueItem, bool) {
	m.mu.Lock()

	if len(m.items) == 0 {
		m.mu.Unlock()
		return QueueItem{}, false
	}

	// Repeat one replays the current track
	if m.repeat == RepeatOne && m.index >= 0 {
		item := m.items[m.itemAt(m.index)]
		m.mu.Unlock()
		return item, true
	}

	m.index++
	if m.index >= len(m.items) {
		if m.repeat != RepeatAll {
			m.index = len(m.items) - 1
			m.mu.Unlock()
			return QueueItem{}, false
		}
		m.index = 0
		// Each pass through a shuffled queue gets a new order.
		if m.shuffle {
			m.reshuffle()
		}
	}

	item := m.items[m.itemAt(m.index)]
	m.mu.Unlock()
	m.notifyChange()
	return item, true
}

// Prev moves to the previous track and returns it
func (m *Manager) Prev() (QueueItem, bool) {
	m.mu.Lock()

	if len(m.items) == 0 {
		m.mu.Unlock()
		return QueueItem{}, false
	}

	if m.repeat == RepeatOne && m.index >= 0 {
		item := m.items[m.itemAt(m.index)]
		m.mu.Unlock()
		return item, true
	}

	m.index--
	if m.index < 0 {
		if m.repeat != RepeatAll {
			m.index = 0
			m.mu.Unlock()
			return QueueItem{}, false
		}
		m.index = len(m.items) - 1
	}

	item := m.items[m.itemAt(m.index)]
	m.mu.Unlock()
	m.notifyChange()
	return item, true
}

// Current returns the current track
func (m *Manager) Current() (QueueItem, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.index < 0 || m.index >= len(m.items) {
		return QueueItem{}, false
	}
	return m.items[m.itemAt(m.index)], true
}

// Jump makes the item at index (in GetItems order) current and returns it.
func (m *Manager) Jump(index int) (QueueItem, bool) {
	m.mu.Lock()
	if index < 0 || index >= len(m.items) {
		m.mu.Unlock()
		return QueueItem{}, false
	}
	m.index = m.positionOf(index)
	item := m.items[index]
	m.mu.Unlock()
	m.notifyChange()
	return item, true
}

// Upcoming returns up to n items that will play after the current one,
// wrapping when repeat all is on.
func (m *Manager) Upcoming(n int) []QueueItem {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []QueueItem
	for i := 1; i <= n && i <= len(m.items); i++ {
		pos := m.index + i
		if pos >= len(m.items) {
			if m.repeat != RepeatAll {
				break
			}
			pos %= len(m.items)
		}
		if pos == m.index {
			break
		}
		out = append(out, m.items[m.itemAt(pos)])
	}
	return out
}

// Position returns the current item's index in GetItems order (-1 when
// nothing is current) and the queue size.
func (m *Manager) Position() (int, int) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.index < 0 || m.index >= len(m.items) {
		return -1, len(m.items)
	}
	return m.itemAt(m.index), len(m.items)
}

// GetItems returns all items in the queue
func (m *Manager) GetItems() []QueueItem {
	m.mu.RLock()
	defer m.mu.RUnlock()

	items := make([]QueueItem, len(m.items))
	copy(items, m.items)
	return items
}

// SetRepeat sets the repeat mode
func (m *Manager) SetRepeat(mode RepeatMode) {
	m.mu.Lock()
	m.repeat = mode
	m.mu.Unlock()
	m.notifyChange()
}

// GetRepeat returns the current repeat mode
func (m *Manager) GetRepeat() RepeatMode {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.repeat
}

// SetShuffle enables or disables shuffle. Enabling keeps the current item
// current and puts it first in the new order.
func (m *Manager) SetShuffle(enabled bool) {
	m.mu.Lock()
	if enabled == m.shuffle {
		m.mu.Unlock()
		return
	}

	if enabled {
		current := m.index
		m.shuffle = true
		m.reshuffle()
		if current >= 0 && current < len(m.items) {
			pos := m.positionOf(current)
			m.order[0], m.order[pos] = m.order[pos], m.order[0]
			m.index = 0
		}
	} else {
		if m.index >= 0 && m.index < len(m.order) {
			m.index = m.order[m.index]
		}
		m.shuffle = false
		m.order = nil
	}

	m.mu.Unlock()
	m.notifyChange()
}

// GetShuffle returns whether shuffle is enabled
func (m *Manager) GetShuffle() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.shuffle
}

// Remove removes the item at index (in GetItems order)
func (m *Manager) Remove(index int) bool {
	m.mu.Lock()

	if index < 0 || index >= len(m.items) {
		m.mu.Unlock()
		return false
	}

	removedPos := m.positionOf(index)
	m.items = append(m.items[:index], m.items[index+1:]...)

	if m.shuffle {
		order := make([]int, 0, len(m.order)-1)
		for _, idx := range m.order {
			switch {
			case idx == index:
			case idx > index:
				order = append(order, idx-1)
			default:
				order = append(order, idx)
			}
		}
		m.order = order
	}

	if removedPos < m.index {
		m.index--
	} else if removedPos == m.index && m.index >= len(m.items) {
		// The current track was last; stay on the new last item.
		m.index = len(m.items) - 1
	}

	m.mu.Unlock()
	m.notifyChange()
	return true
}

// Insert inserts an item at index (in GetItems order). While shuffled it
// is scheduled at a random point after the current item.
func (m *Manager) Insert(index int, item QueueItem) bool {
	m.mu.Lock()

	if index < 0 || index > len(m.items) {
		m.mu.Unlock()
		return false
	}

	m.items = append(m.items[:index], append([]QueueItem{item}, m.items[index:]...)...)
	if m.shuffle {
		for i, idx := range m.order {
			if idx >= index {
				m.order[i] = idx + 1
			}
		}
		m.placeShuffled(index)
	} else if index <= m.index {
		m.index++
	}

	m.mu.Unlock()
	m.notifyChange()
	return true
}

// Move moves the item at from so that it ends up at index to (both in
// GetItems order). The current item stays current.
func (m *Manager) Move(from, to int) bool {
	m.mu.Lock()

	if from < 0 || from >= len(m.items) || to < 0 || to >= len(m.items) {
		m.mu.Unlock()
		return false
	}
	if from == to {
		m.mu.Unlock()
		return true
	}

	item := m.items[from]
	m.items = append(m.items[:from], m.items[from+1:]...)
	m.items = append(m.items[:to], append([]QueueItem{item}, m.items[to:]...)...)

	moved := func(idx int) int {
		switch {
		case idx == from:
			return to
		case from < to && idx > from && idx <= to:
			return idx - 1
		case to < from && idx >= to && idx < from:
			return idx + 1
		}
		return idx
	}
	if m.shuffle {
		for i, idx := range m.order {
			m.order[i] = moved(idx)
		}
	} else if m.index >= 0 {
		m.index = moved(m.index)
	}

	m.mu.Unlock()
	m.notifyChange()
	return true
}
