package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/0xMasayoshi/sumo/internal/logctx"
)

// PartialSuffix marks in-flight downloads that have not been moved into place.
const PartialSuffix = ".part"

// PartialPrefix is the name prefix of temp files written next to dest.
// Temp files are named PartialPrefix(dest) + random + PartialSuffix.
func PartialPrefix(dest string) string {
	return "." + filepath.Base(dest) + "-"
}

// PartialPattern is the os.CreateTemp pattern for a download into dest.
func PartialPattern(dest string) string {
	return PartialPrefix(dest) + "*" + PartialSuffix
}

// DeleteStalePartials removes the temp files of downloads into dest whose
// modification time is older than maxAge. Only names matching
// PartialPattern(dest) in dest's directory are considered. It returns the
// number of files removed. A missing dir is not an error.
func DeleteStalePartials(ctx context.Context, dest string, maxAge time.Duration) (int, error) {
	logger := logctx.LoggerFromContext(ctx)
	now := time.Now()
	dir := filepath.Dir(dest)
	prefix := PartialPrefix(dest)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}

		return 0, err
	}

	removed := 0

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, PartialSuffix) {
			continue
		}

		filePath := filepath.Join(dir, name)

		info, err := entry.Info()
		if err != nil {
			if os.IsNotExist(err) {
				continue // already deleted
			}

			logger.Error("Failed to stat partial file", "file", filePath, "err", err)

			return removed, err
		}

		if now.Sub(info.ModTime()) <= maxAge {
			continue
		}

		if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
			logger.Error("Failed to delete stale partial file", "file", filePath, "err", err)

			return removed, err
		}

		removed++

		logger.Info("Deleted stale partial file", "file", filePath)
	}

	return removed, nil
}
