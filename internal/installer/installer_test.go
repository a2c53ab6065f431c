package installer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/0xMasayoshi/sumo/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const assetPath = "/0xMasayoshi/sumo/releases/download/v1/sumo-daemon-linux-amd64"

var payload = []byte("\x7fELF fake daemon binary")

type fakeClearer struct {
	calls atomic.Int32
	err   error
}

func (f *fakeClearer) Clear(context.Context, string) error {
	f.calls.Add(1)
	return f.err
}

func newInstaller(t *testing.T, ts *httptest.Server, opts ...Option) (*Installer, string) {
	t.Helper()

	binDir := t.TempDir()
	release := Release{Host: "github.com", Owner: "0xMasayoshi", Repo: "sumo", Tag: "v1", BaseURL: ts.URL}

	return New(binDir, release, opts...), binDir
}

// chain serves a redirect chain of n hops ending at the binary.
func chain(t *testing.T, n int, hits *atomic.Int32) *httptest.Server {
	t.Helper()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}

		assert.Equal(t, "sumo-fetch", r.Header.Get("User-Agent"))

		switch {
		case r.URL.Path == assetPath:
			w.Header().Set("Location", "/hop/1")
			if n == 0 {
				w.Header().Set("Content-Type", "application/octet-stream")
				_, _ = w.Write(payload)
				return
			}
			w.WriteHeader(http.StatusFound)
		case strings.HasPrefix(r.URL.Path, "/hop/"):
			var i int
			_, _ = fmt.Sscanf(r.URL.Path, "/hop/%d", &i)
			if i >= n {
				_, _ = w.Write(payload)
				return
			}
			// relative Location on odd hops, absolute on even ones
			if i%2 == 1 {
				w.Header().Set("Location", fmt.Sprintf("%d", i+1))
			} else {
				w.Header().Set("Location", fmt.Sprintf("http://%s/hop/%d", r.Host, i+1))
			}
			w.WriteHeader(http.StatusTemporaryRedirect)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(ts.Close)

	return ts
}

func TestEnsureInstalled_DirectDownload(t *testing.T) {
	ts := chain(t, 0, nil)
	inst, binDir := newInstaller(t, ts)

	target, err := inst.EnsureInstalled(context.Background(), PlatformLinux, "x64")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(binDir, "linux", "sumo-daemon"), target.DestinationPath)
	assert.True(t, target.Executable)

	got, err := os.ReadFile(target.DestinationPath)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	if runtime.GOOS != "windows" {
		info, err := os.Stat(target.DestinationPath)
		require.NoError(t, err)
		assert.NotZero(t, info.Mode().Perm()&0o111, "execute bit must be set")
	}
}

func TestEnsureInstalled_IdempotentWithoutNetwork(t *testing.T) {
	var hits atomic.Int32
	ts := chain(t, 2, &hits)
	inst, _ := newInstaller(t, ts)

	first, err := inst.EnsureInstalled(context.Background(), PlatformLinux, "amd64")
	require.NoError(t, err)

	before := hits.Load()
	assert.Equal(t, int32(3), before)

	second, err := inst.EnsureInstalled(context.Background(), PlatformLinux, "amd64")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, before, hits.Load(), "second call must not touch the network")
}

func TestEnsureInstalled_RedirectBudget(t *testing.T) {
	tests := []struct {
		name    string
		hops    int
		budget  int
		wantErr bool
	}{
		{"within budget", 4, 5, false},
		{"exactly budget", 5, 5, false},
		{"over budget", 6, 5, true},
		{"zero budget rejects any redirect", 1, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := chain(t, tt.hops, nil)
			inst, binDir := newInstaller(t, ts, WithRedirectBudget(tt.budget))

			target, err := inst.EnsureInstalled(context.Background(), PlatformLinux, "amd64")
			if !tt.wantErr {
				require.NoError(t, err)
				got, err := os.ReadFile(target.DestinationPath)
				require.NoError(t, err)
				assert.Equal(t, payload, got)
				return
			}

			var tooMany *TooManyRedirectsError
			require.ErrorAs(t, err, &tooMany)
			assert.Equal(t, tt.budget, tooMany.Budget)
			assertNothingWritten(t, binDir)
		})
	}
}

func TestEnsureInstalled_RedirectLoop(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case assetPath:
			w.Header().Set("Location", "/a")
		case "/a":
			w.Header().Set("Location", "/b")
		default:
			w.Header().Set("Location", "/a")
		}
		w.WriteHeader(http.StatusMovedPermanently)
	}))
	t.Cleanup(ts.Close)

	inst, binDir := newInstaller(t, ts, WithRedirectBudget(10))

	_, err := inst.EnsureInstalled(context.Background(), PlatformLinux, "amd64")

	var loop *RedirectLoopError
	require.ErrorAs(t, err, &loop)
	assert.Equal(t, ts.URL+"/a", loop.URL)
	assert.Equal(t, 3, loop.Hops)
	assertNothingWritten(t, binDir)
}

func TestEnsureInstalled_DownloadFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		header map[string]string
		body   string
	}{
		{"not found", http.StatusNotFound, map[string]string{"Content-Type": "text/html"}, "<html>nope</html>"},
		{"server error", http.StatusInternalServerError, map[string]string{"Content-Type": "text/plain"}, "boom"},
		{"redirect without location", http.StatusFound, nil, ""},
		{"empty body", http.StatusOK, map[string]string{"Content-Type": "application/octet-stream"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			t.Cleanup(ts.Close)

			inst, binDir := newInstaller(t, ts)

			_, err := inst.EnsureInstalled(context.Background(), PlatformLinux, "amd64")

			var dl *DownloadError
			require.ErrorAs(t, err, &dl)
			assert.Equal(t, tt.status, dl.StatusCode)
			if ct, ok := tt.header["Content-Type"]; ok && tt.status != http.StatusOK {
				assert.Equal(t, ct, dl.ContentType)
			}
			assertNothingWritten(t, binDir)
		})
	}
}

func TestEnsureInstalled_UnsupportedBeforeNetwork(t *testing.T) {
	var hits atomic.Int32
	ts := chain(t, 0, &hits)
	inst, _ := newInstaller(t, ts)

	_, err := inst.EnsureInstalled(context.Background(), PlatformLinux, "arm64")

	var unsupported *UnsupportedPlatformError
	require.ErrorAs(t, err, &unsupported)
	assert.Zero(t, hits.Load())
}

func TestEnsureInstalled_QuarantineIsAdvisory(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	t.Cleanup(ts.Close)

	clearer := &fakeClearer{err: errors.New("xattr: not found")}
	inst, _ := newInstaller(t, ts, WithQuarantineClearer(clearer))

	target, err := inst.EnsureInstalled(context.Background(), PlatformDarwin, "arm64")
	require.NoError(t, err)
	assert.FileExists(t, target.DestinationPath)
	assert.Equal(t, int32(1), clearer.calls.Load())

	// only the Apple platform gets its attributes cleared
	clearer2 := &fakeClearer{}
	inst2, _ := newInstaller(t, ts, WithQuarantineClearer(clearer2))
	_, err = inst2.EnsureInstalled(context.Background(), PlatformLinux, "amd64")
	require.NoError(t, err)
	assert.Zero(t, clearer2.calls.Load())
}

func TestEnsureInstalled_WindowsName(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "sumo-daemon-windows-amd64.exe"))
		_, _ = w.Write(payload)
	}))
	t.Cleanup(ts.Close)

	inst, binDir := newInstaller(t, ts)

	target, err := inst.EnsureInstalled(context.Background(), PlatformWindows, "x64")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(binDir, "win32", "sumo-daemon.exe"), target.DestinationPath)
	assert.False(t, target.Executable)
}

func TestEnsureInstalled_TokenOnlyForReleaseHost(t *testing.T) {
	cdn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"), "credentials must not leak to redirect targets")
		_, _ = w.Write(payload)
	}))
	t.Cleanup(cdn.Close)

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		http.Redirect(w, r, cdn.URL+"/blob", http.StatusFound)
	}))
	t.Cleanup(origin.Close)

	inst, _ := newInstaller(t, origin, WithToken("secret"))

	_, err := inst.EnsureInstalled(context.Background(), PlatformLinux, "amd64")
	require.NoError(t, err)
}

func assertNothingWritten(t *testing.T, binDir string) {
	t.Helper()

	dir := filepath.Join(binDir, "linux")
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no binary or partial file may remain")
}

type failingWriter struct{ err error }

func (f failingWriter) Write([]byte) (int, error) {
	return 0, f.err
}

func TestFetch_WriteFailureIsFilesystemError(t *testing.T) {
	ts := chain(t, 1, nil)
	diskFull := errors.New("no space left on device")

	_, err := fetch(context.Background(), newHTTPClient("", ""), ts.URL+assetPath, DefaultRedirectBudget,
		destWriter{w: failingWriter{err: diskFull}, path: "/bin/linux/.sumo-daemon-1.part"})

	var fsErr *FilesystemError
	require.ErrorAs(t, err, &fsErr)
	assert.Equal(t, "write", fsErr.Op)
	assert.Equal(t, "/bin/linux/.sumo-daemon-1.part", fsErr.Path)
	assert.ErrorIs(t, err, diskFull)

	var dl *DownloadError
	assert.False(t, errors.As(err, &dl))
}

func TestErrorType(t *testing.T) {
	tests := map[string]error{
		"unsupported_platform": &UnsupportedPlatformError{Platform: "linux", Arch: "arm64"},
		"redirect_loop":        &RedirectLoopError{Hops: 2, URL: "http://a"},
		"too_many_redirects":   fmt.Errorf("install: %w", &TooManyRedirectsError{Hops: 6, Budget: 5}),
		"download":             &DownloadError{URL: "http://a", StatusCode: http.StatusNotFound},
		"filesystem":           &FilesystemError{Op: "rename", Path: "/x", Err: os.ErrPermission},
		"unknown":              errors.New("boom"),
	}
	for want, err := range tests {
		assert.Equal(t, want, errorType(err))
	}
}

func TestEnsureInstalled_FailureCountsSystemError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	tel, err := telemetry.New(ctx, telemetry.Config{Enabled: true, ServiceName: "sumo-test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(ts.Close)

	inst, _ := newInstaller(t, ts, WithTelemetry(tel))

	_, err = inst.EnsureInstalled(context.Background(), PlatformLinux, "amd64")
	require.Error(t, err)

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Regexp(t, `system_errors_total\{[^}]*component="installer"[^}]*error_type="download"`, rec.Body.String())
}
