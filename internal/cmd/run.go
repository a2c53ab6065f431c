package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/0xMasayoshi/sumo/internal/cleanup"
	"github.com/0xMasayoshi/sumo/internal/config"
	"github.com/0xMasayoshi/sumo/internal/daemon"
	"github.com/0xMasayoshi/sumo/internal/http/rest"
	"github.com/0xMasayoshi/sumo/internal/installer"
	"github.com/0xMasayoshi/sumo/internal/launcher"
	"github.com/0xMasayoshi/sumo/internal/logctx"
	"github.com/0xMasayoshi/sumo/internal/notifier"
	"github.com/0xMasayoshi/sumo/internal/session"
	"github.com/0xMasayoshi/sumo/internal/storage"
	"github.com/0xMasayoshi/sumo/internal/storage/sqlite"
	"github.com/0xMasayoshi/sumo/internal/telemetry"
	"github.com/go-chi/chi"
	chiv5 "github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	readyProbeInterval = 250 * time.Millisecond
	daemonStopGrace    = 5 * time.Second
	historyLookupLimit = 200
	stalePartialAge    = time.Hour
)

func newRunCmd() *cobra.Command {
	var noLaunch bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Install and launch the daemon, then keep the session in sync",
		Long: `Install the daemon if needed, launch it, and run a sync session plus the
local status API until interrupted.

Use --no-launch when the daemon is managed elsewhere.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd.Context())
			return run(cmd.Context(), a.cfg, a.version, noLaunch)
		},
	}

	cmd.Flags().BoolVar(&noLaunch, "no-launch", false, "Connect to an already running daemon")

	return cmd
}

func run(ctx context.Context, cfg *config.Config, version string, noLaunch bool) error {
	logger := logctx.LoggerFromContext(ctx)

	logger.Info("sumo starting", "version", version, "log_level", cfg.LogLevel)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Daemon
	if !noLaunch {
		target, err := ensureDaemon(ctx, cfg, tel, "", "")
		if err != nil {
			return err
		}

		proc, err := launcher.Start(ctx, target.DestinationPath, cfg.Daemon.Port, cfg.Daemon.Profile)
		if err != nil {
			return err
		}

		defer func() {
			if err := proc.Stop(daemonStopGrace); err != nil {
				logger.Error("failed to stop daemon", "err", err)
			}
		}()
	}

	client, err := daemon.NewClient(cfg.DaemonAPIURL, cfg.RequestTimeout)
	if err != nil {
		return err
	}

	api := daemon.NewInstrumentedClient(client, tel, "daemon")

	readyCtx, cancelReady := context.WithTimeout(ctx, cfg.Daemon.ReadyTimeout)
	err = launcher.WaitReady(readyCtx, func(ctx context.Context) error {
		_, err := api.ListTorrents(ctx)
		return err
	}, readyProbeInterval)

	cancelReady()

	if err != nil {
		return err
	}

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	history := sqlite.NewInstrumentedHistoryRepository(database, tel)

	// Background workers read the history; they must be gone before the
	// database closes.
	bgCtx, stopBackground := context.WithCancel(ctx)

	var background sync.WaitGroup

	defer func() {
		stopBackground()
		background.Wait()
	}()

	// =========================================================================
	// Start Session
	sess := session.New(api, sessionConfig(cfg), session.WithHistory(history), session.WithTelemetry(tel))
	if err := sess.Start(ctx); err != nil {
		return err
	}

	defer func() {
		if err := sess.Stop(); err != nil {
			logger.Error("failed to stop session", "err", err)
		}
	}()

	// =========================================================================
	// Start Notification
	var notif notifier.Notifier
	if cfg.DiscordWebhookURL != "" {
		notif = notifier.NewDiscordNotifier(cfg.DiscordWebhookURL)
	}

	background.Add(1)

	go func() {
		defer background.Done()
		forwardEvents(bgCtx, sess.Events(), history, notif)
	}()

	// =========================================================================
	// Start Cleanup
	background.Add(1)

	go func() {
		defer background.Done()
		runCleanup(bgCtx, history, cfg)
	}()

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	server := setupServer(ctx, sess, history, tel, cfg)

	go func() {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return nil
	}
}

func sessionConfig(cfg *config.Config) session.Config {
	sc := session.Config{
		PollInterval:      cfg.PollInterval,
		GraceDelay:        cfg.DiscoveryGraceDelay,
		DiscoveryAttempts: cfg.DiscoveryAttempts,
		RetryInterval:     cfg.DiscoveryRetryInterval,
		SavePath:          cfg.DownloadDir,
		Sequential:        cfg.Sequential,
	}

	if cfg.FirstLast {
		on := true
		sc.FirstLast = &on
	}

	return sc
}

// forwardEvents logs finished torrents and forwards them to notif, if any,
// until events is closed.
func forwardEvents(ctx context.Context, events <-chan session.Event, history storage.HistoryRepository, notif notifier.Notifier) {
	logger := logctx.LoggerFromContext(ctx)

	for event := range events {
		logger.Info("torrent download finished", "hash", event.Torrent.Hash, "torrent_name", event.Torrent.DisplayName())

		if notif == nil {
			continue
		}

		msg := notifier.FinishedMessage(event.Torrent.DisplayName(), event.At, addedAt(ctx, history, event.Torrent.Hash))

		if notifyErr := notif.Notify(ctx, msg); notifyErr != nil {
			logger.Error("failed to send notification", "hash", event.Torrent.Hash, "err", notifyErr)
		}
	}
}

func addedAt(ctx context.Context, history storage.HistoryRepository, hash string) time.Time {
	records, err := history.RecentAdds(ctx, historyLookupLimit)
	if err != nil {
		return time.Time{}
	}

	for _, rec := range records {
		if rec.Hash == hash {
			return rec.AddedAt
		}
	}

	return time.Time{}
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(ctx context.Context, sess *session.Session, history storage.HistoryRepository, tel *telemetry.Telemetry, cfg *config.Config) *http.Server {
	api := chiv5.NewRouter()
	api.Use(telemetry.NewHTTPMiddleware(tel).Middleware)
	api.Mount("/", rest.NewSessionHandler(sess, history).Routes())

	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Mount("/api", http.StripPrefix("/api", api))
	r.Method(http.MethodGet, "/metrics", tel.Handler())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      otelhttp.NewHandler(r, "sumo-api"),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

// partialTargets lists the install destinations whose stale temp files the
// cleanup loop sweeps.
func partialTargets(cfg *config.Config) []string {
	platform, ok := installer.PlatformFromGOOS(runtime.GOOS)
	if !ok {
		return nil
	}

	return []string{installer.DestinationPath(cfg.BinDir, platform)}
}

// runCleanup prunes old history and stale partial downloads on every tick
// until ctx is done.
func runCleanup(ctx context.Context, history storage.HistoryRepository, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)
	targets := partialTargets(cfg)

	cleanupTicker := time.NewTicker(cfg.CleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("cleanup goroutine shutting down.")

			return
		case <-cleanupTicker.C:
			sweep(ctx, history, cfg.HistoryRetention, targets)
		}
	}
}

func sweep(ctx context.Context, history storage.HistoryRepository, retention time.Duration, targets []string) {
	logger := logctx.LoggerFromContext(ctx)

	pruned, err := history.PruneBefore(ctx, time.Now().Add(-retention))
	if err != nil {
		logger.Error("failed to prune history", "err", err)
	} else if pruned > 0 {
		logger.Info("pruned history", "records", pruned)
	}

	for _, dest := range targets {
		if _, err := cleanup.DeleteStalePartials(ctx, dest, stalePartialAge); err != nil {
			logger.Error("failed to delete stale partial files", "dest", dest, "err", err)
		}
	}
}
