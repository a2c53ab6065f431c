package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNoSelection is returned by LastSelection when nothing was ever selected.
var ErrNoSelection = errors.New("no selection recorded")

// AddRecord is one magnet submitted to the daemon.
type AddRecord struct {
	Hash     string
	Magnet   string
	SavePath string
	AddedAt  time.Time
}

// HistoryRepository persists submitted magnets and the last selected torrent.
type HistoryRepository interface {
	RecordAdd(ctx context.Context, rec AddRecord) error
	RecentAdds(ctx context.Context, limit int) ([]AddRecord, error)
	SaveSelection(ctx context.Context, hash string, at time.Time) error
	LastSelection(ctx context.Context) (string, error)
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
