package installer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/0xMasayoshi/sumo/internal/cleanup"
	"github.com/0xMasayoshi/sumo/internal/logctx"
	"github.com/0xMasayoshi/sumo/internal/telemetry"
	"github.com/dustin/go-humanize"
)

const (
	DefaultRedirectBudget = 5

	stalePartialAge = time.Hour
)

// InstallTarget is the installed daemon binary. It is never mutated after a
// successful install; a second EnsureInstalled call only checks it exists.
type InstallTarget struct {
	DestinationPath string
	Executable      bool
}

// QuarantineClearer removes the download quarantine attribute on macOS.
type QuarantineClearer interface {
	Clear(ctx context.Context, path string) error
}

// XattrClearer shells out to xattr(1).
type XattrClearer struct{}

func (XattrClearer) Clear(ctx context.Context, path string) error {
	out, err := exec.CommandContext(ctx, "xattr", "-dr", "com.apple.quarantine", path).CombinedOutput()
	if err != nil {
		return fmt.Errorf("xattr: %w: %s", err, out)
	}

	return nil
}

// Installer fetches the daemon binary for a platform into binDir.
type Installer struct {
	binDir         string
	release        Release
	redirectBudget int
	httpClient     *http.Client
	quarantine     QuarantineClearer
	telemetry      *telemetry.Telemetry
}

// Option customises an Installer.
type Option func(*Installer)

// WithRedirectBudget sets how many redirect hops are followed.
func WithRedirectBudget(n int) Option {
	return func(i *Installer) {
		if n >= 0 {
			i.redirectBudget = n
		}
	}
}

// WithToken sends an OAuth2 bearer token to the release host only.
func WithToken(token string) Option {
	return func(i *Installer) {
		i.httpClient = newHTTPClient(releaseHost(i.release), token)
	}
}

// WithHTTPClient replaces the HTTP client. Its CheckRedirect must return
// http.ErrUseLastResponse.
func WithHTTPClient(hc *http.Client) Option {
	return func(i *Installer) {
		i.httpClient = hc
	}
}

// WithQuarantineClearer replaces the macOS attribute clearer.
func WithQuarantineClearer(q QuarantineClearer) Option {
	return func(i *Installer) {
		i.quarantine = q
	}
}

// WithTelemetry records install metrics.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(i *Installer) {
		i.telemetry = tel
	}
}

// New creates an Installer writing under binDir.
func New(binDir string, release Release, opts ...Option) *Installer {
	i := &Installer{
		binDir:         binDir,
		release:        release,
		redirectBudget: DefaultRedirectBudget,
		httpClient:     newHTTPClient("", ""),
		quarantine:     XattrClearer{},
	}

	for _, opt := range opts {
		opt(i)
	}

	return i
}

func releaseHost(r Release) string {
	if r.BaseURL == "" {
		return r.Host
	}

	u, err := url.Parse(r.BaseURL)
	if err != nil {
		return ""
	}

	return u.Host
}

// EnsureInstalled makes sure the daemon binary for platform/arch exists.
// An existing destination is returned as is, without network access.
func (i *Installer) EnsureInstalled(ctx context.Context, platform Platform, arch string) (*InstallTarget, error) {
	dest := DestinationPath(i.binDir, platform)
	target := &InstallTarget{DestinationPath: dest, Executable: platform.Executable()}

	ctx, logger := logctx.With(ctx, "platform", string(platform), "arch", arch, "dest", dest)

	if _, ok := assetNames[platform]; !ok {
		return nil, &UnsupportedPlatformError{Platform: string(platform), Arch: arch}
	}

	switch _, err := os.Stat(dest); {
	case err == nil:
		logger.Debug("daemon already installed")
		return target, nil
	case !errors.Is(err, os.ErrNotExist):
		return nil, &FilesystemError{Op: "stat", Path: dest, Err: err}
	}

	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &FilesystemError{Op: "mkdir", Path: dir, Err: err}
	}

	asset, err := ResolveAsset(platform, arch, i.release)
	if err != nil {
		return nil, err
	}

	if n, err := cleanup.DeleteStalePartials(ctx, dest, stalePartialAge); err != nil {
		logger.Warn("failed to clean stale partial downloads", "err", err)
	} else if n > 0 {
		logger.Info("removed stale partial downloads", "count", n)
	}

	start := time.Now()

	res, err := i.install(ctx, asset, target)
	if err != nil {
		i.telemetry.RecordInstall(ctx, telemetry.StatusError, time.Since(start), 0, 0)
		i.telemetry.RecordSystemError(ctx, "installer", errorType(err))
		logger.Error("daemon install failed", "url", asset.SourceURL, "err", err)

		return nil, err
	}

	i.telemetry.RecordInstall(ctx, telemetry.StatusSuccess, time.Since(start), res.Redirects, res.Bytes)

	logger.Info("daemon installed",
		"url", res.FinalURL,
		"redirects", res.Redirects,
		"size", humanize.Bytes(uint64(res.Bytes)),
		"elapsed", time.Since(start).Round(time.Millisecond))

	if platform == PlatformDarwin {
		i.clearQuarantine(ctx, dest)
	}

	return target, nil
}

// install downloads into a temp file beside dest and renames it into place,
// so dest only ever appears complete.
func (i *Installer) install(ctx context.Context, asset ReleaseAsset, target *InstallTarget) (*fetchResult, error) {
	dest := target.DestinationPath
	dir := filepath.Dir(dest)

	tmp, err := os.CreateTemp(dir, cleanup.PartialPattern(dest))
	if err != nil {
		return nil, &FilesystemError{Op: "create", Path: dir, Err: err}
	}

	tmpPath := tmp.Name()
	committed := false

	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	res, err := fetch(ctx, i.httpClient, asset.SourceURL, i.redirectBudget, destWriter{w: tmp, path: tmpPath})
	if err != nil {
		return nil, err
	}

	if res.Bytes == 0 {
		return nil, &DownloadError{URL: res.FinalURL, StatusCode: http.StatusOK, Reason: "empty body"}
	}

	if err := tmp.Sync(); err != nil {
		return nil, &FilesystemError{Op: "sync", Path: tmpPath, Err: err}
	}

	if err := tmp.Close(); err != nil {
		return nil, &FilesystemError{Op: "close", Path: tmpPath, Err: err}
	}

	if target.Executable {
		if err := os.Chmod(tmpPath, 0o755); err != nil {
			return nil, &FilesystemError{Op: "chmod", Path: tmpPath, Err: err}
		}
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		return nil, &FilesystemError{Op: "rename", Path: dest, Err: err}
	}

	committed = true

	return res, nil
}

// clearQuarantine is advisory: failure only means a one-time security prompt.
func (i *Installer) clearQuarantine(ctx context.Context, path string) {
	logger := logctx.LoggerFromContext(ctx)

	if i.quarantine == nil {
		return
	}

	if err := i.quarantine.Clear(ctx, path); err != nil {
		logger.Warn("could not clear quarantine attribute, first launch may prompt", "err", err)
		return
	}

	logger.Debug("cleared quarantine attribute")
}
