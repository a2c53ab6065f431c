package daemon

import (
	"context"

	"github.com/0xMasayoshi/sumo/internal/telemetry"
)

// Ensure InstrumentedClient implements API
var _ API = (*InstrumentedClient)(nil)

// InstrumentedClient wraps an API with telemetry.
type InstrumentedClient struct {
	client     API
	telemetry  *telemetry.Telemetry
	clientType string
}

// NewInstrumentedClient creates a new instrumented daemon client.
func NewInstrumentedClient(client API, tel *telemetry.Telemetry, clientType string) *InstrumentedClient {
	return &InstrumentedClient{
		client:     client,
		telemetry:  tel,
		clientType: clientType,
	}
}

// AddTorrent submits a magnet with telemetry.
func (c *InstrumentedClient) AddTorrent(ctx context.Context, req AddRequest) (*AddResult, error) {
	var result *AddResult

	err := c.telemetry.InstrumentClientOperation(ctx, c.clientType, "add_torrent", func(ctx context.Context) error {
		var err error
		result, err = c.client.AddTorrent(ctx, req)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// ListTorrents lists torrents with telemetry.
func (c *InstrumentedClient) ListTorrents(ctx context.Context) ([]Torrent, error) {
	var result []Torrent

	err := c.telemetry.InstrumentClientOperation(ctx, c.clientType, "list_torrents", func(ctx context.Context) error {
		var err error
		result, err = c.client.ListTorrents(ctx)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// ListFiles lists files with telemetry.
func (c *InstrumentedClient) ListFiles(ctx context.Context, hash string) ([]File, error) {
	var result []File

	err := c.telemetry.InstrumentClientOperation(ctx, c.clientType, "list_files", func(ctx context.Context) error {
		var err error
		result, err = c.client.ListFiles(ctx, hash)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Pause pauses a torrent with telemetry.
func (c *InstrumentedClient) Pause(ctx context.Context, hash string) error {
	return c.telemetry.InstrumentClientOperation(ctx, c.clientType, "pause", func(ctx context.Context) error {
		return c.client.Pause(ctx, hash)
	})
}

// Resume resumes a torrent with telemetry.
func (c *InstrumentedClient) Resume(ctx context.Context, hash string) error {
	return c.telemetry.InstrumentClientOperation(ctx, c.clientType, "resume", func(ctx context.Context) error {
		return c.client.Resume(ctx, hash)
	})
}

// SetSequential toggles sequential download with telemetry.
func (c *InstrumentedClient) SetSequential(ctx context.Context, hash string, on bool) error {
	return c.telemetry.InstrumentClientOperation(ctx, c.clientType, "set_sequential", func(ctx context.Context) error {
		return c.client.SetSequential(ctx, hash, on)
	})
}

// SetFirstLast toggles first/last piece priority with telemetry.
func (c *InstrumentedClient) SetFirstLast(ctx context.Context, hash string, on bool) error {
	return c.telemetry.InstrumentClientOperation(ctx, c.clientType, "set_firstlast", func(ctx context.Context) error {
		return c.client.SetFirstLast(ctx, hash, on)
	})
}
