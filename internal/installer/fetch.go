package installer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/0xMasayoshi/sumo/internal/logctx"
	"github.com/0xMasayoshi/sumo/internal/progress"
	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
)

const (
	userAgent      = "sumo-fetch"
	progressChunk  = 4 << 20
	maxErrorSample = 512
)

type fetchResult struct {
	FinalURL  string
	Redirects int
	Bytes     int64
}

// newHTTPClient returns a client that never follows redirects on its own.
// When token is set it is sent only to requests for authHost; CDN hops get
// no credentials.
func newHTTPClient(authHost, token string) *http.Client {
	var rt http.RoundTripper = http.DefaultTransport

	if token != "" && authHost != "" {
		rt = &hostScopedTransport{
			host: authHost,
			auth: &oauth2.Transport{
				Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
				Base:   http.DefaultTransport,
			},
			base: http.DefaultTransport,
		}
	}

	return &http.Client{
		Transport: otelhttp.NewTransport(rt),
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

type hostScopedTransport struct {
	host string
	auth http.RoundTripper
	base http.RoundTripper
}

func (t *hostScopedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if strings.EqualFold(req.URL.Host, t.host) {
		return t.auth.RoundTrip(req)
	}

	return t.base.RoundTrip(req)
}

// destWriter reports write failures on the destination as FilesystemError.
type destWriter struct {
	w    io.Writer
	path string
}

func (d destWriter) Write(p []byte) (int, error) {
	n, err := d.w.Write(p)
	if err != nil {
		return n, &FilesystemError{Op: "write", Path: d.path, Err: err}
	}

	return n, nil
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	default:
		return false
	}
}

// fetch GETs rawURL, following at most budget redirects by hand, and streams
// the final 200 body into w. Nothing is written to w unless the chain ends
// in a 200.
func fetch(ctx context.Context, client *http.Client, rawURL string, budget int, w io.Writer) (*fetchResult, error) {
	logger := logctx.LoggerFromContext(ctx)

	current, err := url.Parse(rawURL)
	if err != nil {
		return nil, &DownloadError{URL: rawURL, Reason: "invalid url", Err: err}
	}

	visited := make(map[string]struct{}, budget+1)
	remaining := budget
	redirects := 0

	for {
		key := current.String()
		if _, seen := visited[key]; seen {
			return nil, &RedirectLoopError{Hops: redirects, URL: key}
		}

		visited[key] = struct{}{}

		resp, err := get(ctx, client, key)
		if err != nil {
			return nil, &DownloadError{URL: key, Err: err}
		}

		switch {
		case isRedirect(resp.StatusCode):
			location := resp.Header.Get("Location")
			status, contentType := resp.StatusCode, resp.Header.Get("Content-Type")
			drain(resp)

			if location == "" {
				return nil, &DownloadError{URL: key, StatusCode: status, ContentType: contentType, Reason: "redirect without Location"}
			}

			next, err := current.Parse(location)
			if err != nil {
				return nil, &DownloadError{URL: key, StatusCode: status, ContentType: contentType, Reason: "invalid Location", Err: err}
			}

			redirects++
			remaining--

			if remaining < 0 {
				return nil, &TooManyRedirectsError{Hops: redirects, Budget: budget, URL: next.String()}
			}

			logger.Debug("following redirect", "status", status, "from", key, "to", next.String(), "remaining", remaining)

			current = next

		case resp.StatusCode == http.StatusOK:
			written, err := stream(ctx, resp, w)
			if err != nil {
				var fsErr *FilesystemError
				if errors.As(err, &fsErr) {
					return nil, fsErr
				}

				return nil, &DownloadError{URL: key, StatusCode: resp.StatusCode, ContentType: resp.Header.Get("Content-Type"), Reason: "body interrupted", Err: err}
			}

			return &fetchResult{FinalURL: key, Redirects: redirects, Bytes: written}, nil

		default:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorSample))
			drain(resp)

			logger.Debug("unexpected release response", "url", key, "status", resp.StatusCode, "body", string(body))

			return nil, &DownloadError{URL: key, StatusCode: resp.StatusCode, ContentType: resp.Header.Get("Content-Type")}
		}
	}
}

func get(ctx context.Context, client *http.Client, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/octet-stream")

	return client.Do(req)
}

func stream(ctx context.Context, resp *http.Response, w io.Writer) (int64, error) {
	defer func() { _ = resp.Body.Close() }()

	logger := logctx.LoggerFromContext(ctx)

	pr := progress.NewReader(resp.Body, resp.ContentLength, progressChunk, func(read, total int64) {
		if total > 0 {
			logger.Debug("download progress", "read", humanize.Bytes(uint64(read)), "total", humanize.Bytes(uint64(total)))
			return
		}

		logger.Debug("download progress", "read", humanize.Bytes(uint64(read)))
	})

	return io.Copy(w, pr)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorSample))
	_ = resp.Body.Close()
}
