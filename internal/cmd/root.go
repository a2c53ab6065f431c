package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/0xMasayoshi/sumo/internal/config"
	"github.com/0xMasayoshi/sumo/internal/logctx"
	"github.com/spf13/cobra"
)

type app struct {
	cfg     *config.Config
	version string
}

type ctxKey struct{}

func Execute(version string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return newRootCmd(version).ExecuteContext(ctx)
}

func newRootCmd(version string) *cobra.Command {
	var logLevel string

	rootCmd := &cobra.Command{
		Use:   "sumo",
		Short: "Desktop torrent client core",
		Long: `sumo provisions the torrent daemon binary and keeps a local view of its
torrents in sync, selecting the first playable video of the chosen torrent.

All settings are read from SUMO_* environment variables.`,
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}

			if logLevel != "" {
				cfg.LogLevel = logLevel
			}

			logger := logctx.New(os.Stderr, cfg.SlogLevel())
			slog.SetDefault(logger)

			ctx := logctx.WithLogger(cmd.Context(), logger)
			ctx = context.WithValue(ctx, ctxKey{}, &app{cfg: cfg, version: version})
			cmd.SetContext(ctx)

			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override SUMO_LOG_LEVEL (DEBUG, INFO, WARN, ERROR)")

	rootCmd.AddCommand(newFetchDaemonCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newAddCmd())
	rootCmd.AddCommand(newListCmd())

	return rootCmd
}

func appFrom(ctx context.Context) *app {
	if a, ok := ctx.Value(ctxKey{}).(*app); ok {
		return a
	}

	return &app{cfg: &config.Config{}}
}
