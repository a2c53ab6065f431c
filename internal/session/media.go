package session

import (
	"strings"

	"github.com/0xMasayoshi/sumo/internal/daemon"
)

// VideoExtensions are the container suffixes treated as playable.
var VideoExtensions = []string{".mp4", ".mkv", ".webm", ".mov", ".avi", ".flv", ".m4v"}

// IsVideo reports whether path ends in a video extension, ignoring case.
func IsVideo(path string) bool {
	lower := strings.ToLower(path)

	for _, ext := range VideoExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}

	return false
}

// FirstPlayable returns the first video file in list order.
func FirstPlayable(files []daemon.File) (daemon.File, bool) {
	for _, f := range files {
		if IsVideo(f.Path) {
			return f, true
		}
	}

	return daemon.File{}, false
}
