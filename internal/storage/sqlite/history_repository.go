package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/0xMasayoshi/sumo/internal/storage"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Ensure HistoryRepository implements storage.HistoryRepository
var _ storage.HistoryRepository = (*HistoryRepository)(nil)

type HistoryRepository struct {
	db *sql.DB
}

func NewHistoryRepository(dbConn *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: dbConn}
}

// RecordAdd stores a submitted magnet. Re-adding a known hash refreshes it.
func (r *HistoryRepository) RecordAdd(ctx context.Context, rec storage.AddRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO adds (hash, magnet, save_path, added_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(hash) DO UPDATE SET
			magnet = excluded.magnet,
			save_path = excluded.save_path,
			added_at = excluded.added_at
	`, rec.Hash, rec.Magnet, rec.SavePath, rec.AddedAt.UTC().Format(timeLayout))

	return err
}

// RecentAdds returns the newest records first.
func (r *HistoryRepository) RecentAdds(ctx context.Context, limit int) ([]storage.AddRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT hash, magnet, save_path, added_at
		FROM adds
		ORDER BY added_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []storage.AddRecord

	for rows.Next() {
		var (
			rec      storage.AddRecord
			savePath sql.NullString
			addedAt  string
		)

		if err := rows.Scan(&rec.Hash, &rec.Magnet, &savePath, &addedAt); err != nil {
			return nil, err
		}

		rec.SavePath = savePath.String

		rec.AddedAt, err = time.Parse(timeLayout, addedAt)
		if err != nil {
			return nil, err
		}

		records = append(records, rec)
	}

	return records, rows.Err()
}

// SaveSelection overwrites the single stored selection.
func (r *HistoryRepository) SaveSelection(ctx context.Context, hash string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO selection (id, hash, selected_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET hash = excluded.hash, selected_at = excluded.selected_at
	`, hash, at.UTC().Format(timeLayout))

	return err
}

func (r *HistoryRepository) LastSelection(ctx context.Context) (string, error) {
	var hash string

	err := r.db.QueryRowContext(ctx, `SELECT hash FROM selection WHERE id = 1`).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && hash == "") {
		return "", storage.ErrNoSelection
	}

	return hash, err
}

// PruneBefore deletes add records older than cutoff.
func (r *HistoryRepository) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM adds WHERE added_at < ?`, cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}
