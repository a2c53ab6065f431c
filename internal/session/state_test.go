package session

import (
	"errors"
	"testing"
	"time"

	"github.com/0xMasayoshi/sumo/internal/daemon"
	"github.com/stretchr/testify/assert"
)

func TestStore_StaleMediaIsDropped(t *testing.T) {
	s := NewStore()

	genA := s.Select("A", DiscoveryAwaitingFiles)
	genB := s.Select("B", DiscoveryAwaitingFiles)

	assert.False(t, s.ApplyMedia(genA, daemon.File{ID: 1, Path: "a.mkv"}))
	assert.False(t, s.SetDiscovery(genA, DiscoveryEmpty))

	snap := s.Snapshot()
	assert.Equal(t, "B", snap.SelectedHash)
	assert.Empty(t, snap.MediaPath)
	assert.Equal(t, DiscoveryAwaitingFiles, snap.Discovery)

	assert.True(t, s.ApplyMedia(genB, daemon.File{ID: 2, Path: "b.mp4"}))
	snap = s.Snapshot()
	assert.Equal(t, "b.mp4", snap.MediaPath)
	assert.Equal(t, 2, snap.MediaFileID)
	assert.Equal(t, DiscoveryReady, snap.Discovery)
}

func TestStore_SelectClearsMedia(t *testing.T) {
	s := NewStore()

	gen := s.Select("A", DiscoveryAdded)
	s.ApplyMedia(gen, daemon.File{ID: 1, Path: "a.mkv"})

	s.Select("A", DiscoveryAwaitingFiles)
	assert.Empty(t, s.Snapshot().MediaPath, "reselecting also clears")

	s.Select("", DiscoveryAwaitingFiles)
	snap := s.Snapshot()
	assert.Empty(t, snap.SelectedHash)
	assert.Equal(t, DiscoveryIdle, snap.Discovery)
}

func TestStore_PollFailureKeepsTorrents(t *testing.T) {
	s := NewStore()
	at := time.Now()

	s.ReplaceTorrents([]daemon.Torrent{{Hash: "a"}, {Hash: "b"}}, at)

	assert.Equal(t, 1, s.RecordPollFailure(errors.New("connection refused")))
	assert.Equal(t, 2, s.RecordPollFailure(errors.New("connection refused")))

	snap := s.Snapshot()
	assert.Len(t, snap.Torrents, 2)
	assert.Equal(t, at, snap.LastUpdated)
	assert.Equal(t, "connection refused", snap.LastError)
	assert.Equal(t, 2, snap.ConsecutiveFailures)

	prev := s.ReplaceTorrents(nil, at.Add(time.Second))
	assert.Len(t, prev, 2)
	assert.Zero(t, s.Snapshot().ConsecutiveFailures)
}

func TestStore_SnapshotIsACopy(t *testing.T) {
	s := NewStore()
	s.ReplaceTorrents([]daemon.Torrent{{Hash: "a", Name: "A"}}, time.Now())

	snap := s.Snapshot()
	snap.Torrents[0].Name = "mutated"

	assert.Equal(t, "A", s.Snapshot().Torrents[0].Name)
}
