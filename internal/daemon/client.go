package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/0xMasayoshi/sumo/internal/logctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	DefaultBaseURL   = "http://127.0.0.1:5040/api"
	defaultUserAgent = "sumo/0.1"
	defaultTimeout   = 10 * time.Second

	// maxErrorBody bounds how much of a failed response is kept for the error message.
	maxErrorBody = 4 << 10
)

// Ensure Client implements API
var _ API = (*Client)(nil)

// Client talks to the daemon's HTTP API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	userAgent  string
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default otelhttp-instrumented client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// NewClient builds a Client for the API rooted at baseURL (for example
// http://127.0.0.1:5040/api). Every call is bounded by timeout.
func NewClient(baseURL string, timeout time.Duration, opts ...Option) (*Client, error) {
	base, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}

	if timeout <= 0 {
		timeout = defaultTimeout
	}

	c := &Client{
		baseURL: base,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		userAgent: defaultUserAgent,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// AddTorrent submits a magnet reference. The returned hash is addressable
// immediately, but its file list may still be empty.
func (c *Client) AddTorrent(ctx context.Context, req AddRequest) (*AddResult, error) {
	logger := logctx.LoggerFromContext(ctx).With("method", "add")

	form := url.Values{}
	form.Set("magnet", req.Magnet)
	form.Set("savepath", req.SavePath)
	form.Set("sequential", boolParam(req.Sequential))

	if req.FirstLast != nil {
		form.Set("firstlast", boolParam(*req.FirstLast))
	}

	var result AddResult
	if err := c.postForm(ctx, "add", form, &result); err != nil {
		logger.Error("failed to add torrent", "err", err)

		return nil, err
	}

	if !result.OK || result.Hash == "" {
		logger.Error("daemon did not confirm add", "ok", result.OK, "hash", result.Hash)

		return nil, &SubmissionRejectedError{
			Operation:  "add",
			StatusCode: http.StatusOK,
			APIMessage: "response did not confirm the torrent",
		}
	}

	logger.Debug("torrent added", "hash", result.Hash)

	return &result, nil
}

// ListTorrents returns every torrent the daemon tracks, in daemon order.
func (c *Client) ListTorrents(ctx context.Context) ([]Torrent, error) {
	var torrents []Torrent
	if err := c.get(ctx, "torrents", c.baseURL.JoinPath("torrents"), &torrents); err != nil {
		return nil, err
	}

	return torrents, nil
}

// ListFiles returns the files of one torrent. An empty slice is a normal
// answer right after AddTorrent.
func (c *Client) ListFiles(ctx context.Context, hash string) ([]File, error) {
	u := c.baseURL.JoinPath("files")
	u.RawQuery = url.Values{"hash": []string{hash}}.Encode()

	var files []File
	if err := c.get(ctx, "files", u, &files); err != nil {
		return nil, err
	}

	if files == nil {
		files = []File{}
	}

	return files, nil
}

// Pause pauses the torrent identified by hash.
func (c *Client) Pause(ctx context.Context, hash string) error {
	return c.postForm(ctx, "pause", url.Values{"hashes": []string{hash}}, nil)
}

// Resume resumes the torrent identified by hash.
func (c *Client) Resume(ctx context.Context, hash string) error {
	return c.postForm(ctx, "resume", url.Values{"hashes": []string{hash}}, nil)
}

// SetSequential toggles in-order piece download.
func (c *Client) SetSequential(ctx context.Context, hash string, on bool) error {
	return c.postForm(ctx, "sequential", url.Values{"hashes": []string{hash}, "on": []string{boolParam(on)}}, nil)
}

// SetFirstLast toggles first/last piece priority.
func (c *Client) SetFirstLast(ctx context.Context, hash string, on bool) error {
	return c.postForm(ctx, "firstlast", url.Values{"hashes": []string{hash}, "on": []string{boolParam(on)}}, nil)
}

func (c *Client) get(ctx context.Context, operation string, u *url.URL, dest any) error {
	logger := logctx.LoggerFromContext(ctx).With("method", operation)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return &ListUnavailableError{Operation: operation, Err: fmt.Errorf("create request: %w", err)}
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Debug("daemon unreachable", "err", err)

		return &ListUnavailableError{Operation: operation, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		logger.Debug("non-200 response", "status", resp.StatusCode, "body", string(b))

		return &ListUnavailableError{Operation: operation, StatusCode: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		logger.Debug("decode error", "err", err)

		return &ListUnavailableError{Operation: operation, Err: fmt.Errorf("decode response: %w", err)}
	}

	return nil
}

func (c *Client) postForm(ctx context.Context, operation string, form url.Values, dest any) error {
	u := c.baseURL.JoinPath(operation)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), strings.NewReader(form.Encode()))
	if err != nil {
		return &SubmissionRejectedError{Operation: operation, APIMessage: "failed to create request", Err: err}
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &SubmissionRejectedError{Operation: operation, APIMessage: err.Error(), Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &SubmissionRejectedError{
			Operation:  operation,
			StatusCode: resp.StatusCode,
			APIMessage: apiMessage(resp.Body),
		}
	}

	if dest == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return &SubmissionRejectedError{
			Operation:  operation,
			StatusCode: resp.StatusCode,
			APIMessage: "undecodable response",
			Err:        err,
		}
	}

	return nil
}

// apiMessage extracts {"error": "..."} from a failed response, falling back
// to the raw body.
func apiMessage(body io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(body, maxErrorBody))

	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(b, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}

	if msg := strings.TrimSpace(string(b)); msg != "" {
		return msg
	}

	return "no message"
}

func boolParam(v bool) string {
	if v {
		return "1"
	}

	return "0"
}

func parseBaseURL(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		trimmed = DefaultBaseURL
	}

	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse daemon api url %q: %w", raw, err)
	}

	if u.Host == "" {
		return nil, fmt.Errorf("parse daemon api url %q: missing host", raw)
	}

	u.Path = strings.TrimRight(u.Path, "/")
	u.RawQuery = ""
	u.Fragment = ""

	return u, nil
}
