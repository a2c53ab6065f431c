package daemon

import (
	"context"
	"strings"
)

// State mirrors the engine's torrent state code.
type State int

const (
	StateUnknown            State = 0
	StateCheckingFiles      State = 1
	StateDownloadingMeta    State = 2
	StateDownloading        State = 3
	StateFinished           State = 4
	StateSeeding            State = 5
	StateCheckingResumeData State = 7
)

func (s State) String() string {
	switch s {
	case StateCheckingFiles:
		return "checking"
	case StateDownloadingMeta:
		return "metadata"
	case StateDownloading:
		return "downloading"
	case StateFinished:
		return "finished"
	case StateSeeding:
		return "seeding"
	case StateCheckingResumeData:
		return "resuming"
	default:
		return "unknown"
	}
}

// Torrent is one entry of GET /torrents. The client never mutates it.
type Torrent struct {
	Hash         string  `json:"hash"`
	Name         string  `json:"name"`
	Progress     float64 `json:"progress"`
	DownloadRate int64   `json:"downloadRate"`
	UploadRate   int64   `json:"uploadRate"`
	State        State   `json:"state"`
}

// DisplayName falls back to the hash while metadata is still being fetched.
func (t Torrent) DisplayName() string {
	if strings.TrimSpace(t.Name) != "" {
		return t.Name
	}

	return t.Hash
}

// IsComplete reports whether every wanted piece is on disk.
func (t Torrent) IsComplete() bool {
	return t.Progress >= 1
}

// File is one entry of GET /files, scoped to a torrent hash.
type File struct {
	ID   int    `json:"id"`
	Path string `json:"path"`
}

// AddRequest is the form body of POST /add.
type AddRequest struct {
	Magnet     string
	SavePath   string
	Sequential bool
	// FirstLast is sent only when set.
	FirstLast *bool
}

// AddResult is the JSON body returned by POST /add.
type AddResult struct {
	OK   bool   `json:"ok"`
	Hash string `json:"hash"`
}

// API is the daemon HTTP surface.
type API interface {
	AddTorrent(ctx context.Context, req AddRequest) (*AddResult, error)
	ListTorrents(ctx context.Context) ([]Torrent, error)
	ListFiles(ctx context.Context, hash string) ([]File, error)
	Pause(ctx context.Context, hash string) error
	Resume(ctx context.Context, hash string) error
	SetSequential(ctx context.Context, hash string, on bool) error
	SetFirstLast(ctx context.Context, hash string, on bool) error
}
