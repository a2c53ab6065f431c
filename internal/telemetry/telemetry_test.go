package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/0xMasayoshi/sumo/internal/logctx"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEnabled(t *testing.T) *Telemetry {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	tel, err := New(ctx, Config{Enabled: true, ServiceName: "sumo-test", ServiceVersion: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	return tel
}

func scrape(t *testing.T, tel *Telemetry) string {
	t.Helper()

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	return string(body)
}

func TestTelemetry_NilAndDisabledAreNoops(t *testing.T) {
	var nilTel *Telemetry
	ctx := context.Background()

	assert.NotPanics(t, func() {
		nilTel.RecordPoll(ctx, StatusSuccess, 3)
		nilTel.RecordAdd(ctx, StatusError)
		nilTel.RecordDiscovery(ctx, "ready")
		nilTel.RecordInstall(ctx, StatusSuccess, time.Second, 2, 10)
		nilTel.RecordClientOperation(ctx, "daemon", "list_torrents", StatusError)
		nilTel.RecordSystemError(ctx, "session", "poll")
		_ = nilTel.Tracer()
	})
	require.NoError(t, nilTel.Shutdown(ctx))

	disabled, err := New(ctx, Config{Enabled: false})
	require.NoError(t, err)

	called := false
	err = disabled.InstrumentClientOperation(ctx, "daemon", "add", func(context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)

	rec := httptest.NewRecorder()
	disabled.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTelemetry_ExportsDomainMetrics(t *testing.T) {
	tel := newEnabled(t)
	ctx := context.Background()

	tel.RecordPoll(ctx, StatusSuccess, 4)
	tel.RecordAdd(ctx, StatusSuccess)
	tel.RecordDiscovery(ctx, "ready")
	tel.RecordInstall(ctx, StatusSuccess, 2*time.Second, 3, 1024)

	boom := errors.New("boom")
	err := tel.InstrumentClientOperation(ctx, "daemon", "list_files", func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	out := scrape(t, tel)
	for _, name := range []string{
		"polls_total",
		"torrents_tracked",
		"torrent_adds_total",
		"media_discoveries_total",
		"daemon_installs_total",
		"daemon_install_bytes_total",
		"client_errors_total",
	} {
		assert.Contains(t, out, name)
	}

	assert.Contains(t, out, `client_errors_total{client="daemon"`)
	assert.Regexp(t, `(?m)^polls_total\{`, out)
	assert.NotContains(t, out, "client_errors_ratio")
	assert.NotContains(t, out, "polls_ratio")
}

func TestTelemetry_ExportsSystemErrors(t *testing.T) {
	tel := newEnabled(t)

	tel.RecordSystemError(context.Background(), "session", "poll")

	assert.Regexp(t, `system_errors_total\{[^}]*component="session"[^}]*error_type="poll"[^}]*\} 1`, scrape(t, tel))
}

func TestMiddleware_UsesRoutePattern(t *testing.T) {
	tel := newEnabled(t)

	r := chi.NewRouter()
	r.Use(NewHTTPMiddleware(tel).Middleware)
	r.Post("/torrents/{hash}/pause", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	for _, hash := range []string{"aaa", "bbb"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/torrents/"+hash+"/pause", nil))
		require.Equal(t, http.StatusNoContent, rec.Code)
	}

	out := scrape(t, tel)
	assert.Contains(t, out, `path="/torrents/{hash}/pause"`)
	assert.NotContains(t, out, "/torrents/aaa")
}

func TestGetStatusClass(t *testing.T) {
	tests := map[int]string{200: "2xx", 204: "2xx", 302: "3xx", 404: "4xx", 502: "5xx", 100: "unknown"}
	for code, want := range tests {
		assert.Equal(t, want, getStatusClass(code), "code %d", code)
	}
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "upstream-id")
	h.ServeHTTP(rec, req)
	assert.Equal(t, "upstream-id", seen)
	assert.Equal(t, "upstream-id", rec.Header().Get(RequestIDHeader))

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, strings.Repeat("x", maxRequestIDLength+1))
	h.ServeHTTP(rec, req)
	assert.Len(t, seen, 36, "oversized ids are replaced with a uuid")
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	assert.Empty(t, GetRequestID(context.Background()))
}

func TestHTTPLogging_LevelByStatus(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "INFO"},
		{http.StatusBadRequest, "WARN"},
		{http.StatusBadGateway, "ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := logctx.New(&buf, slog.LevelDebug)

			h := HTTPLogging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/torrents", nil)
			req = req.WithContext(logctx.WithLogger(req.Context(), logger))
			h.ServeHTTP(httptest.NewRecorder(), req)

			var entry map[string]any
			require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
			assert.Equal(t, tt.level, entry["level"])
			assert.EqualValues(t, tt.status, entry["status"])
			assert.Equal(t, "/api/torrents", entry["path"])
		})
	}
}
