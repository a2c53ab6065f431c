package rest

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/0xMasayoshi/sumo/internal/daemon"
	"github.com/0xMasayoshi/sumo/internal/session"
	"github.com/0xMasayoshi/sumo/internal/storage"
	"github.com/0xMasayoshi/sumo/internal/storage/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSession struct {
	snap     session.Snapshot
	addHash  string
	addErr   error
	added    []string
	selected []string
	paused   []string
	seq      map[string]bool
	ctlErr   error
}

func (m *mockSession) Snapshot() session.Snapshot { return m.snap }

func (m *mockSession) Add(_ context.Context, magnet string) (string, error) {
	m.added = append(m.added, magnet)
	if m.addErr != nil {
		return "", m.addErr
	}
	return m.addHash, nil
}

func (m *mockSession) Select(_ context.Context, hash string) error {
	m.selected = append(m.selected, hash)
	m.snap.SelectedHash = hash
	m.snap.MediaPath = ""
	m.snap.Discovery = session.DiscoveryAwaitingFiles
	return nil
}

func (m *mockSession) Pause(_ context.Context, hash string) error {
	m.paused = append(m.paused, hash)
	return m.ctlErr
}

func (m *mockSession) Resume(context.Context, string) error { return m.ctlErr }

func (m *mockSession) SetSequential(_ context.Context, hash string, on bool) error {
	if m.seq == nil {
		m.seq = map[string]bool{}
	}
	m.seq[hash] = on
	return m.ctlErr
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))

	return rec
}

func TestListTorrents(t *testing.T) {
	now := time.Now()
	m := &mockSession{snap: session.Snapshot{
		Torrents: []daemon.Torrent{
			{Hash: "a", Name: "Sintel", Progress: 0.425, DownloadRate: 2_500_000, State: daemon.StateDownloading},
			{Hash: "b", Progress: 1, State: daemon.StateSeeding},
		},
		SelectedHash:        "a",
		LastUpdated:         now,
		ConsecutiveFailures: 1,
	}}

	rec := do(t, NewSessionHandler(m, nil).Routes(), http.MethodGet, "/torrents", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp TorrentsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Torrents, 2)
	assert.True(t, resp.Stale)

	assert.Equal(t, "Sintel", resp.Torrents[0].Name)
	assert.Equal(t, "42.5%", resp.Torrents[0].Percent)
	assert.Equal(t, "2.5 MB/s", resp.Torrents[0].Down)
	assert.Equal(t, "0 B/s", resp.Torrents[0].Up)
	assert.Equal(t, "downloading", resp.Torrents[0].State)
	assert.True(t, resp.Torrents[0].Selected)

	assert.Equal(t, "b", resp.Torrents[1].Name, "falls back to hash")
	assert.False(t, resp.Torrents[1].Selected)
}

func TestAddTorrent(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		addErr     error
		wantStatus int
		wantBody   string
	}{
		{"created", `{"magnet":"magnet:?xt=urn:btih:abc"}`, nil, http.StatusCreated, `"hash":"h1"`},
		{"missing magnet", `{}`, nil, http.StatusBadRequest, "required"},
		{"bad json", `{`, nil, http.StatusBadRequest, "invalid JSON"},
		{"invalid magnet", `{"magnet":"nope"}`, fmt.Errorf("%w: bad", session.ErrInvalidMagnet), http.StatusBadRequest, "invalid magnet"},
		{
			"daemon rejected", `{"magnet":"magnet:?xt=urn:btih:abc"}`,
			&daemon.SubmissionRejectedError{Operation: "add", StatusCode: 500, APIMessage: "engine down"},
			http.StatusBadGateway, "engine down",
		},
		{
			"daemon unreachable", `{"magnet":"magnet:?xt=urn:btih:abc"}`,
			&daemon.SubmissionRejectedError{Operation: "add", APIMessage: "connection refused"},
			http.StatusBadGateway, "unreachable",
		},
		{"not running", `{"magnet":"magnet:?xt=urn:btih:abc"}`, session.ErrNotRunning, http.StatusServiceUnavailable, "not running"},
		{"bad metainfo", `{"metainfo":"%%%"}`, nil, http.StatusBadRequest, "base64"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &mockSession{addHash: "h1", addErr: tt.addErr}

			rec := do(t, NewSessionHandler(m, nil).Routes(), http.MethodPost, "/torrents", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
		})
	}
}

func TestAddTorrent_MetaInfoWins(t *testing.T) {
	// d4:infod4:name6:Sintelee
	info := []byte("d4:name6:Sintele")
	data := append(append([]byte("d4:info"), info...), 'e')

	m := &mockSession{addHash: "h1"}
	body := fmt.Sprintf(`{"magnet":"magnet:?xt=urn:btih:ignored","metainfo":%q}`, base64.StdEncoding.EncodeToString(data))

	rec := do(t, NewSessionHandler(m, nil).Routes(), http.MethodPost, "/torrents", body)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, m.added, 1)
	assert.True(t, strings.HasPrefix(m.added[0], "magnet:?xt=urn:btih:"))
	assert.Contains(t, m.added[0], "dn=Sintel")
	assert.NotContains(t, m.added[0], "ignored")
}

func TestSelection(t *testing.T) {
	m := &mockSession{snap: session.Snapshot{SelectedHash: "a", MediaPath: "a.mkv", MediaFileID: 3, Discovery: session.DiscoveryReady}}
	h := NewSessionHandler(m, nil).Routes()

	rec := do(t, h, http.MethodGet, "/selection", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var view SelectionView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&view))
	assert.Equal(t, "a.mkv", view.MediaPath)
	require.NotNil(t, view.FileID)
	assert.Equal(t, 3, *view.FileID)
	assert.Equal(t, "ready", view.Discovery)

	rec = do(t, h, http.MethodPut, "/selection", `{"hash":"b"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	view = SelectionView{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&view))
	assert.Equal(t, "b", view.Hash)
	assert.Empty(t, view.MediaPath)
	assert.Nil(t, view.FileID)
	assert.Equal(t, "awaiting_files", view.Discovery)
	assert.Equal(t, []string{"b"}, m.selected)
}

func TestControlRoutes(t *testing.T) {
	m := &mockSession{}
	h := NewSessionHandler(m, nil).Routes()

	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodPost, "/torrents/abc/pause", "").Code)
	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodPost, "/torrents/abc/resume", "").Code)
	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodPut, "/torrents/abc/sequential", `{"on":false}`).Code)

	assert.Equal(t, []string{"abc"}, m.paused)
	assert.Equal(t, map[string]bool{"abc": false}, m.seq)

	m.ctlErr = &daemon.SubmissionRejectedError{Operation: "pause", StatusCode: 404, APIMessage: "unknown hash"}
	rec := do(t, h, http.MethodPost, "/torrents/zzz/pause", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown hash")
}

func TestListHistory(t *testing.T) {
	m := &mockSession{}

	rec := do(t, NewSessionHandler(m, nil).Routes(), http.MethodGet, "/history", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	db, err := sqlite.InitDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo := sqlite.NewHistoryRepository(db)
	for i := range 3 {
		require.NoError(t, repo.RecordAdd(context.Background(), storage.AddRecord{
			Hash:    fmt.Sprintf("h%d", i),
			Magnet:  fmt.Sprintf("magnet:?xt=urn:btih:h%d", i),
			AddedAt: time.Now().Add(time.Duration(i) * time.Minute),
		}))
	}

	h := NewSessionHandler(m, repo).Routes()

	rec = do(t, h, http.MethodGet, "/history?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var entries []HistoryEntry
	require.NoError(t, json.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(&entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "h2", entries[0].Hash)
	assert.NotEmpty(t, entries[0].Added)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/history?limit=0", "").Code)
}
