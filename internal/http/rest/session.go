package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/0xMasayoshi/sumo/internal/daemon"
	"github.com/0xMasayoshi/sumo/internal/logctx"
	"github.com/0xMasayoshi/sumo/internal/session"
	"github.com/0xMasayoshi/sumo/internal/storage"
	"github.com/0xMasayoshi/sumo/internal/torrentfile"
	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
)

const (
	maxBodySize         = torrentfile.MaxSize*4/3 + 4096
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

// SessionService is the part of session.Session the API drives.
type SessionService interface {
	Snapshot() session.Snapshot
	Add(ctx context.Context, magnet string) (string, error)
	Select(ctx context.Context, hash string) error
	Pause(ctx context.Context, hash string) error
	Resume(ctx context.Context, hash string) error
	SetSequential(ctx context.Context, hash string, on bool) error
}

type TorrentView struct {
	Hash         string  `json:"hash"`
	Name         string  `json:"name"`
	Progress     float64 `json:"progress"`
	Percent      string  `json:"percent"`
	DownloadRate int64   `json:"downloadRate"`
	UploadRate   int64   `json:"uploadRate"`
	Down         string  `json:"down"`
	Up           string  `json:"up"`
	State        string  `json:"state"`
	Selected     bool    `json:"selected"`
}

type TorrentsResponse struct {
	Torrents    []TorrentView `json:"torrents"`
	LastUpdated *time.Time    `json:"lastUpdated,omitempty"`
	Stale       bool          `json:"stale"`
}

type SelectionView struct {
	Hash      string `json:"hash,omitempty"`
	MediaPath string `json:"mediaPath,omitempty"`
	FileID    *int   `json:"fileId,omitempty"`
	Discovery string `json:"discovery"`
}

type AddRequest struct {
	Magnet string `json:"magnet"`
	// MetaInfo is base64 .torrent content; it wins over Magnet when both are set.
	MetaInfo string `json:"metainfo"`
}

type AddResponse struct {
	Hash string `json:"hash"`
}

type SelectRequest struct {
	Hash string `json:"hash"`
}

type SequentialRequest struct {
	On bool `json:"on"`
}

type HistoryEntry struct {
	Hash     string    `json:"hash"`
	Magnet   string    `json:"magnet"`
	SavePath string    `json:"savePath,omitempty"`
	AddedAt  time.Time `json:"addedAt"`
	Added    string    `json:"added"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type SessionHandler struct {
	session SessionService
	history storage.HistoryRepository
}

// NewSessionHandler creates the local status API. history may be nil.
func NewSessionHandler(s SessionService, history storage.HistoryRepository) *SessionHandler {
	return &SessionHandler{session: s, history: history}
}

func (h *SessionHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/torrents", h.ListTorrents)
	r.Post("/torrents", h.AddTorrent)
	r.Post("/torrents/{hash}/pause", h.Pause)
	r.Post("/torrents/{hash}/resume", h.Resume)
	r.Put("/torrents/{hash}/sequential", h.SetSequential)

	r.Get("/selection", h.GetSelection)
	r.Put("/selection", h.PutSelection)

	r.Get("/history", h.ListHistory)

	return r
}

func (h *SessionHandler) ListTorrents(w http.ResponseWriter, r *http.Request) {
	snap := h.session.Snapshot()

	resp := TorrentsResponse{
		Torrents: make([]TorrentView, 0, len(snap.Torrents)),
		Stale:    snap.ConsecutiveFailures > 0,
	}

	if !snap.LastUpdated.IsZero() {
		resp.LastUpdated = &snap.LastUpdated
	}

	for _, t := range snap.Torrents {
		resp.Torrents = append(resp.Torrents, TorrentView{
			Hash:         t.Hash,
			Name:         t.DisplayName(),
			Progress:     t.Progress,
			Percent:      fmt.Sprintf("%.1f%%", t.Progress*100),
			DownloadRate: t.DownloadRate,
			UploadRate:   t.UploadRate,
			Down:         rate(t.DownloadRate),
			Up:           rate(t.UploadRate),
			State:        t.State.String(),
			Selected:     t.Hash == snap.SelectedHash,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *SessionHandler) AddTorrent(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context()).With("method", "add_torrent")

	var req AddRequest
	if !decode(w, r, &req) {
		return
	}

	magnet := req.Magnet

	if req.MetaInfo != "" {
		var err error

		magnet, err = torrentfile.MagnetFromBase64(req.MetaInfo)
		if err != nil {
			logger.Warn("rejected metainfo", "err", err)
			writeError(w, http.StatusBadRequest, err.Error())

			return
		}
	}

	if strings.TrimSpace(magnet) == "" {
		writeError(w, http.StatusBadRequest, "magnet or metainfo is required")
		return
	}

	hash, err := h.session.Add(r.Context(), magnet)
	if err != nil {
		logger.Error("failed to add torrent", "err", err)
		writeError(w, statusFor(err), formatAddError(err))

		return
	}

	writeJSON(w, http.StatusCreated, AddResponse{Hash: hash})
}

func (h *SessionHandler) GetSelection(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, selectionView(h.session.Snapshot()))
}

func (h *SessionHandler) PutSelection(w http.ResponseWriter, r *http.Request) {
	var req SelectRequest
	if !decode(w, r, &req) {
		return
	}

	if err := h.session.Select(r.Context(), req.Hash); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, selectionView(h.session.Snapshot()))
}

func (h *SessionHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, h.session.Pause)
}

func (h *SessionHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, h.session.Resume)
}

func (h *SessionHandler) SetSequential(w http.ResponseWriter, r *http.Request) {
	var req SequentialRequest
	if !decode(w, r, &req) {
		return
	}

	h.control(w, r, func(ctx context.Context, hash string) error {
		return h.session.SetSequential(ctx, hash, req.On)
	})
}

func (h *SessionHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotFound, "history is disabled")
		return
	}

	limit := defaultHistoryLimit

	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}

		limit = min(n, maxHistoryLimit)
	}

	records, err := h.history.RecentAdds(r.Context(), limit)
	if err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to read history", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to read history")

		return
	}

	now := time.Now()
	entries := make([]HistoryEntry, 0, len(records))

	for _, rec := range records {
		entries = append(entries, HistoryEntry{
			Hash:     rec.Hash,
			Magnet:   rec.Magnet,
			SavePath: rec.SavePath,
			AddedAt:  rec.AddedAt,
			Added:    humanize.RelTime(rec.AddedAt, now, "ago", "from now"),
		})
	}

	writeJSON(w, http.StatusOK, entries)
}

func (h *SessionHandler) control(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, hash string) error) {
	hash := chi.URLParam(r, "hash")

	if err := fn(r.Context(), hash); err != nil {
		logctx.LoggerFromContext(r.Context()).Error("control request failed", "hash", hash, "err", err)
		writeError(w, statusFor(err), err.Error())

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func selectionView(snap session.Snapshot) SelectionView {
	v := SelectionView{
		Hash:      snap.SelectedHash,
		MediaPath: snap.MediaPath,
		Discovery: snap.Discovery.String(),
	}

	if snap.HasMedia() {
		id := snap.MediaFileID
		v.FileID = &id
	}

	return v
}

func rate(bytesPerSecond int64) string {
	if bytesPerSecond <= 0 {
		return "0 B/s"
	}

	return humanize.Bytes(uint64(bytesPerSecond)) + "/s"
}

func statusFor(err error) int {
	var rejected *daemon.SubmissionRejectedError

	var invalid *torrentfile.InvalidContentError

	switch {
	case errors.Is(err, session.ErrInvalidMagnet), errors.As(err, &invalid):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotRunning):
		return http.StatusServiceUnavailable
	case errors.As(err, &rejected):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// formatAddError converts add failures to user-facing messages.
func formatAddError(err error) string {
	var rejected *daemon.SubmissionRejectedError
	if errors.As(err, &rejected) {
		if rejected.StatusCode > 0 {
			return fmt.Sprintf("daemon rejected the torrent: %s", rejected.APIMessage)
		}

		return "daemon unreachable"
	}

	if errors.Is(err, session.ErrInvalidMagnet) {
		return "invalid magnet link"
	}

	return fmt.Sprintf("error: %v", err)
}

func decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}

	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
