package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/0xMasayoshi/sumo/internal/daemon"
	"github.com/0xMasayoshi/sumo/internal/logctx"
	"github.com/0xMasayoshi/sumo/internal/storage"
	"github.com/0xMasayoshi/sumo/internal/telemetry"
	"github.com/anacrolix/torrent/metainfo"
	"golang.org/x/sync/errgroup"
)

const eventBuffer = 16

// Config controls polling and discovery timing.
type Config struct {
	PollInterval time.Duration
	// GraceDelay is waited after an add before the first file lookup.
	GraceDelay time.Duration
	// DiscoveryAttempts bounds file lookups per selection; 1 means a single
	// lookup after the grace delay.
	DiscoveryAttempts int
	RetryInterval     time.Duration

	SavePath   string
	Sequential bool
	// FirstLast is forwarded to the daemon only when set.
	FirstLast *bool
}

// DefaultConfig returns the reference timings.
func DefaultConfig() Config {
	return Config{
		PollInterval:      1500 * time.Millisecond,
		GraceDelay:        1500 * time.Millisecond,
		DiscoveryAttempts: 5,
		RetryInterval:     1500 * time.Millisecond,
		Sequential:        true,
	}
}

// EventType names a session event.
type EventType string

const EventTorrentFinished EventType = "torrent_finished"

// Event is emitted on the Events channel.
type Event struct {
	Type    EventType
	Torrent daemon.Torrent
	At      time.Time
}

// Session owns the polling task and the selection state for one UI session.
type Session struct {
	api       daemon.API
	cfg       Config
	store     *Store
	history   storage.HistoryRepository
	telemetry *telemetry.Telemetry
	events    chan Event

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	group   *errgroup.Group
	ctx     context.Context
}

// Option customises a Session.
type Option func(*Session)

// WithHistory persists adds and the last selection, and restores it on Start.
func WithHistory(h storage.HistoryRepository) Option {
	return func(s *Session) {
		s.history = h
	}
}

// WithTelemetry records poll, add and discovery metrics.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(s *Session) {
		s.telemetry = tel
	}
}

// New creates a Session. Call Start to begin polling.
func New(api daemon.API, cfg Config, opts ...Option) *Session {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}

	if cfg.DiscoveryAttempts < 1 {
		cfg.DiscoveryAttempts = 1
	}

	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = cfg.PollInterval
	}

	s := &Session{
		api:    api,
		cfg:    cfg,
		store:  NewStore(),
		events: make(chan Event, eventBuffer),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start launches the polling task. The first poll happens immediately.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyRunning
	}

	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	s.group, s.ctx = errgroup.WithContext(ctx)

	s.group.Go(func() error {
		return s.pollLoop(s.ctx)
	})

	s.restoreSelection(s.ctx)

	return nil
}

// Stop cancels the polling task and any pending discovery, waits for them and
// closes the Events channel. Only the first call has an effect.
func (s *Session) Stop() error {
	s.mu.Lock()

	if !s.started {
		s.mu.Unlock()
		return ErrNotRunning
	}

	if s.stopped {
		s.mu.Unlock()
		return nil
	}

	s.stopped = true
	s.cancel()
	s.mu.Unlock()

	err := s.group.Wait()
	close(s.events)

	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

// Events delivers torrent-finished notifications. It is closed by Stop.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Snapshot returns the current client state.
func (s *Session) Snapshot() Snapshot {
	return s.store.Snapshot()
}

// Add submits a magnet, selects the new torrent right away and schedules
// media discovery after the grace delay. Failures are returned to the caller.
func (s *Session) Add(ctx context.Context, magnet string) (string, error) {
	magnet = strings.TrimSpace(magnet)

	ctx, logger := logctx.With(ctx, "operation", "add")

	if _, err := metainfo.ParseMagnetUri(magnet); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidMagnet, err)
	}

	if err := s.ensureRunning(); err != nil {
		return "", err
	}

	res, err := s.api.AddTorrent(ctx, daemon.AddRequest{
		Magnet:     magnet,
		SavePath:   s.cfg.SavePath,
		Sequential: s.cfg.Sequential,
		FirstLast:  s.cfg.FirstLast,
	})
	if err != nil {
		s.telemetry.RecordAdd(ctx, telemetry.StatusError)
		return "", err
	}

	s.telemetry.RecordAdd(ctx, telemetry.StatusSuccess)

	hash := res.Hash
	logger.Info("torrent added", "hash", hash)

	gen := s.store.Select(hash, DiscoveryAdded)

	s.remember(ctx, hash, magnet)
	s.spawnDiscovery(hash, gen, s.cfg.GraceDelay)

	return hash, nil
}

// Select makes hash the current selection. The media path is cleared before
// this returns and a new lookup is started in the background. An empty hash
// clears the selection.
func (s *Session) Select(ctx context.Context, hash string) error {
	if err := s.ensureRunning(); err != nil {
		return err
	}

	hash = strings.TrimSpace(hash)
	gen := s.store.Select(hash, DiscoveryAwaitingFiles)

	logctx.LoggerFromContext(ctx).Debug("selection changed", "hash", hash)

	// An empty hash is saved too, so a cleared selection stays cleared.
	s.saveSelection(ctx, hash)

	if hash == "" {
		return nil
	}

	s.spawnDiscovery(hash, gen, 0)

	return nil
}

// Pause pauses a torrent.
func (s *Session) Pause(ctx context.Context, hash string) error {
	return s.api.Pause(ctx, hash)
}

// Resume resumes a torrent.
func (s *Session) Resume(ctx context.Context, hash string) error {
	return s.api.Resume(ctx, hash)
}

// SetSequential toggles in-order download of a torrent.
func (s *Session) SetSequential(ctx context.Context, hash string, on bool) error {
	return s.api.SetSequential(ctx, hash, on)
}

func (s *Session) ensureRunning() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.stopped {
		return ErrNotRunning
	}

	return nil
}

func (s *Session) pollLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

// poll runs one tick. Failures keep the previous snapshot.
func (s *Session) poll(ctx context.Context) {
	logger := logctx.LoggerFromContext(ctx)

	torrents, err := s.api.ListTorrents(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}

		failures := s.store.RecordPollFailure(err)
		s.telemetry.RecordPoll(ctx, telemetry.StatusError, len(s.store.Snapshot().Torrents))
		s.telemetry.RecordSystemError(ctx, "session", "poll")

		if failures == 1 {
			logger.Warn("poll failed, keeping previous torrents", "err", err)
		} else {
			logger.Debug("poll failed", "failures", failures, "err", err)
		}

		return
	}

	now := time.Now()
	prev := s.store.ReplaceTorrents(torrents, now)
	s.telemetry.RecordPoll(ctx, telemetry.StatusSuccess, len(torrents))

	s.detectFinished(ctx, prev, torrents, now)
}

func (s *Session) detectFinished(ctx context.Context, prev, next []daemon.Torrent, at time.Time) {
	before := make(map[string]bool, len(prev))
	for _, t := range prev {
		before[t.Hash] = t.IsComplete()
	}

	for _, t := range next {
		wasComplete, known := before[t.Hash]
		if !known || wasComplete || !t.IsComplete() {
			continue
		}

		select {
		case s.events <- Event{Type: EventTorrentFinished, Torrent: t, At: at}:
		default:
			logctx.LoggerFromContext(ctx).Warn("event consumer lagging, dropping event", "hash", t.Hash)
		}
	}
}

func (s *Session) spawnDiscovery(hash string, gen uint64, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}

	ctx := s.ctx
	s.group.Go(func() error {
		s.discover(ctx, hash, gen, delay)
		return nil
	})
}

// discover looks up the first playable file of hash. Results are applied only
// while gen is still the current selection.
func (s *Session) discover(ctx context.Context, hash string, gen uint64, delay time.Duration) {
	ctx, logger := logctx.With(ctx, "hash", hash)

	if !sleep(ctx, delay) {
		return
	}

	if !s.store.SetDiscovery(gen, DiscoveryAwaitingFiles) {
		s.telemetry.RecordDiscovery(ctx, "superseded")
		return
	}

	for attempt := 1; ; attempt++ {
		files, err := s.api.ListFiles(ctx, hash)
		if ctx.Err() != nil {
			return
		}

		if err == nil && len(files) > 0 {
			s.finishDiscovery(ctx, gen, files)
			return
		}

		logger.Debug("files not available yet", "attempt", attempt, "err", err)

		if attempt >= s.cfg.DiscoveryAttempts {
			if s.store.SetDiscovery(gen, DiscoveryEmpty) {
				s.telemetry.RecordDiscovery(ctx, "unavailable")
			}

			return
		}

		if !s.store.IsCurrent(gen) {
			s.telemetry.RecordDiscovery(ctx, "superseded")
			return
		}

		if !sleep(ctx, s.cfg.RetryInterval) {
			return
		}
	}
}

func (s *Session) finishDiscovery(ctx context.Context, gen uint64, files []daemon.File) {
	logger := logctx.LoggerFromContext(ctx)

	file, ok := FirstPlayable(files)
	if !ok {
		if s.store.SetDiscovery(gen, DiscoveryEmpty) {
			logger.Info("no playable media", "files", len(files))
			s.telemetry.RecordDiscovery(ctx, "empty")
		}

		return
	}

	if !s.store.ApplyMedia(gen, file) {
		logger.Debug("discarding media for stale selection", "path", file.Path)
		s.telemetry.RecordDiscovery(ctx, "superseded")

		return
	}

	logger.Info("media selected", "path", file.Path, "file_id", file.ID)
	s.telemetry.RecordDiscovery(ctx, "ready")
}

func (s *Session) restoreSelection(ctx context.Context) {
	if s.history == nil {
		return
	}

	logger := logctx.LoggerFromContext(ctx)

	hash, err := s.history.LastSelection(ctx)
	if err != nil {
		if !errors.Is(err, storage.ErrNoSelection) {
			logger.Warn("failed to restore selection", "err", err)
		}

		return
	}

	logger.Info("restoring last selection", "hash", hash)

	gen := s.store.Select(hash, DiscoveryAwaitingFiles)

	s.group.Go(func() error {
		s.discover(ctx, hash, gen, 0)
		return nil
	})
}

func (s *Session) remember(ctx context.Context, hash, magnet string) {
	if s.history == nil {
		return
	}

	err := s.history.RecordAdd(ctx, storage.AddRecord{
		Hash:     hash,
		Magnet:   magnet,
		SavePath: s.cfg.SavePath,
		AddedAt:  time.Now(),
	})
	if err != nil {
		logctx.LoggerFromContext(ctx).Warn("failed to record add", "hash", hash, "err", err)
	}

	s.saveSelection(ctx, hash)
}

func (s *Session) saveSelection(ctx context.Context, hash string) {
	if s.history == nil {
		return
	}

	if err := s.history.SaveSelection(ctx, hash, time.Now()); err != nil {
		logctx.LoggerFromContext(ctx).Warn("failed to save selection", "hash", hash, "err", err)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
