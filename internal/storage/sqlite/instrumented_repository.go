package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/0xMasayoshi/sumo/internal/storage"
	"github.com/0xMasayoshi/sumo/internal/telemetry"
)

// Ensure InstrumentedHistoryRepository implements storage.HistoryRepository
var _ storage.HistoryRepository = (*InstrumentedHistoryRepository)(nil)

// InstrumentedHistoryRepository wraps HistoryRepository with telemetry.
type InstrumentedHistoryRepository struct {
	repo      *HistoryRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedHistoryRepository creates a new instrumented history repository.
func NewInstrumentedHistoryRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedHistoryRepository {
	return &InstrumentedHistoryRepository{
		repo:      NewHistoryRepository(dbConn),
		telemetry: tel,
	}
}

// RecordAdd stores a submitted magnet with telemetry.
func (r *InstrumentedHistoryRepository) RecordAdd(ctx context.Context, rec storage.AddRecord) error {
	return r.telemetry.InstrumentDBOperation(ctx, "record_add", func(ctx context.Context) error {
		return r.repo.RecordAdd(ctx, rec)
	})
}

// RecentAdds lists recent adds with telemetry.
func (r *InstrumentedHistoryRepository) RecentAdds(ctx context.Context, limit int) ([]storage.AddRecord, error) {
	var result []storage.AddRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "recent_adds", func(ctx context.Context) error {
		var err error
		result, err = r.repo.RecentAdds(ctx, limit)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// SaveSelection stores the selection with telemetry.
func (r *InstrumentedHistoryRepository) SaveSelection(ctx context.Context, hash string, at time.Time) error {
	return r.telemetry.InstrumentDBOperation(ctx, "save_selection", func(ctx context.Context) error {
		return r.repo.SaveSelection(ctx, hash, at)
	})
}

// LastSelection loads the selection with telemetry.
func (r *InstrumentedHistoryRepository) LastSelection(ctx context.Context) (string, error) {
	var result string

	err := r.telemetry.InstrumentDBOperation(ctx, "last_selection", func(ctx context.Context) error {
		var err error
		result, err = r.repo.LastSelection(ctx)

		return err
	})

	return result, err
}

// PruneBefore prunes old adds with telemetry.
func (r *InstrumentedHistoryRepository) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var result int64

	err := r.telemetry.InstrumentDBOperation(ctx, "prune_adds", func(ctx context.Context) error {
		var err error
		result, err = r.repo.PruneBefore(ctx, cutoff)

		return err
	})

	return result, err
}
