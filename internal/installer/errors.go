package installer

import (
	"errors"
	"fmt"
)

// UnsupportedPlatformError is returned before any network access when no
// release asset exists for the platform/architecture pair.
type UnsupportedPlatformError struct {
	Platform string
	Arch     string
}

func (e *UnsupportedPlatformError) Error() string {
	return fmt.Sprintf("unsupported platform %s/%s", e.Platform, e.Arch)
}

// RedirectLoopError is returned when a redirect points at a URL already
// visited in the current chain.
type RedirectLoopError struct {
	Hops int
	URL  string
}

func (e *RedirectLoopError) Error() string {
	return fmt.Sprintf("redirect loop after %d hops at %s", e.Hops, e.URL)
}

// TooManyRedirectsError is returned when the chain exceeds the redirect budget.
type TooManyRedirectsError struct {
	Hops   int
	Budget int
	URL    string
}

func (e *TooManyRedirectsError) Error() string {
	return fmt.Sprintf("too many redirects (%d, budget %d), last %s", e.Hops, e.Budget, e.URL)
}

// DownloadError is returned when the exchange does not produce a usable body.
type DownloadError struct {
	URL         string
	StatusCode  int
	ContentType string
	Reason      string
	Err         error
}

func (e *DownloadError) Error() string {
	msg := fmt.Sprintf("download %s failed", e.URL)

	if e.StatusCode > 0 {
		msg += fmt.Sprintf(": HTTP %d (content-type %q)", e.StatusCode, e.ContentType)
	}

	if e.Reason != "" {
		msg += ": " + e.Reason
	}

	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// FilesystemError wraps failures creating, writing or finalizing the target.
type FilesystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error {
	return e.Err
}

// errorType labels err for the system error metric.
func errorType(err error) string {
	var (
		unsupported *UnsupportedPlatformError
		loop        *RedirectLoopError
		tooMany     *TooManyRedirectsError
		download    *DownloadError
		fsErr       *FilesystemError
	)

	switch {
	case errors.As(err, &unsupported):
		return "unsupported_platform"
	case errors.As(err, &loop):
		return "redirect_loop"
	case errors.As(err, &tooMany):
		return "too_many_redirects"
	case errors.As(err, &fsErr):
		return "filesystem"
	case errors.As(err, &download):
		return "download"
	default:
		return "unknown"
	}
}
