package session

import (
	"sync"
	"time"

	"github.com/0xMasayoshi/sumo/internal/daemon"
)

// DiscoveryState tracks media lookup for the current selection:
// Added -> AwaitingFiles -> Ready | Empty.
type DiscoveryState int

const (
	DiscoveryIdle DiscoveryState = iota
	DiscoveryAdded
	DiscoveryAwaitingFiles
	DiscoveryReady
	DiscoveryEmpty
)

func (d DiscoveryState) String() string {
	switch d {
	case DiscoveryAdded:
		return "added"
	case DiscoveryAwaitingFiles:
		return "awaiting_files"
	case DiscoveryReady:
		return "ready"
	case DiscoveryEmpty:
		return "empty"
	default:
		return "idle"
	}
}

// Snapshot is an immutable copy of the client state.
type Snapshot struct {
	Torrents            []daemon.Torrent
	SelectedHash        string
	MediaPath           string
	MediaFileID         int
	Discovery           DiscoveryState
	LastUpdated         time.Time
	LastError           string
	ConsecutiveFailures int
}

// HasMedia reports whether a playable file is selected.
func (s Snapshot) HasMedia() bool {
	return s.MediaPath != ""
}

// Store holds the client state. Every selection change bumps a generation
// counter; discovery results carry the generation they were started under
// and are dropped when it no longer matches.
type Store struct {
	mu sync.RWMutex

	torrents    []daemon.Torrent
	lastUpdated time.Time
	lastErr     string
	failures    int

	selected   string
	mediaPath  string
	mediaID    int
	discovery  DiscoveryState
	generation uint64
}

func NewStore() *Store {
	return &Store{}
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	torrents := make([]daemon.Torrent, len(s.torrents))
	copy(torrents, s.torrents)

	return Snapshot{
		Torrents:            torrents,
		SelectedHash:        s.selected,
		MediaPath:           s.mediaPath,
		MediaFileID:         s.mediaID,
		Discovery:           s.discovery,
		LastUpdated:         s.lastUpdated,
		LastError:           s.lastErr,
		ConsecutiveFailures: s.failures,
	}
}

// ReplaceTorrents swaps in a new poll result wholesale and returns the
// previous collection.
func (s *Store) ReplaceTorrents(torrents []daemon.Torrent, at time.Time) []daemon.Torrent {
	next := make([]daemon.Torrent, len(torrents))
	copy(next, torrents)

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.torrents
	s.torrents = next
	s.lastUpdated = at
	s.lastErr = ""
	s.failures = 0

	return prev
}

// RecordPollFailure keeps the previous torrents and returns the number of
// consecutive failures.
func (s *Store) RecordPollFailure(err error) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failures++
	if err != nil {
		s.lastErr = err.Error()
	}

	return s.failures
}

// Select changes the selection. The media path is cleared before the caller
// can start a new lookup. The returned generation identifies this selection.
func (s *Store) Select(hash string, state DiscoveryState) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generation++
	s.selected = hash
	s.mediaPath = ""
	s.mediaID = 0

	s.discovery = state
	if hash == "" {
		s.discovery = DiscoveryIdle
	}

	return s.generation
}

// Current returns the selected hash and its generation.
func (s *Store) Current() (string, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.selected, s.generation
}

// IsCurrent reports whether gen is still the active selection.
func (s *Store) IsCurrent(gen uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.generation == gen
}

// SetDiscovery moves the discovery state of selection gen. It is a no-op,
// returning false, when the selection has moved on.
func (s *Store) SetDiscovery(gen uint64, state DiscoveryState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation != gen {
		return false
	}

	s.discovery = state

	return true
}

// ApplyMedia records the discovered file for selection gen, unless the
// selection has moved on.
func (s *Store) ApplyMedia(gen uint64, file daemon.File) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation != gen {
		return false
	}

	s.mediaPath = file.Path
	s.mediaID = file.ID
	s.discovery = DiscoveryReady

	return true
}
