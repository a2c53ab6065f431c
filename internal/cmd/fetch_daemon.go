package cmd

import (
	"context"
	"fmt"
	"runtime"

	"github.com/0xMasayoshi/sumo/internal/config"
	"github.com/0xMasayoshi/sumo/internal/installer"
	"github.com/0xMasayoshi/sumo/internal/telemetry"
	"github.com/spf13/cobra"
)

func newFetchDaemonCmd() *cobra.Command {
	var platform, arch string

	cmd := &cobra.Command{
		Use:   "fetch-daemon",
		Short: "Download the daemon binary for this platform if it is missing",
		Long: `Resolve the daemon release asset for the platform, download it following
at most SUMO_REDIRECT_BUDGET redirects and install it under SUMO_BIN_DIR.

Does nothing when the binary is already present.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			target, err := ensureDaemon(ctx, appFrom(ctx).cfg, nil, platform, arch)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), target.DestinationPath)

			return nil
		},
	}

	cmd.Flags().StringVar(&platform, "platform", "", "Target platform: darwin, linux, win32 (default: host)")
	cmd.Flags().StringVar(&arch, "arch", "", "Target architecture (default: host)")

	return cmd
}

func ensureDaemon(ctx context.Context, cfg *config.Config, tel *telemetry.Telemetry, platformName, arch string) (*installer.InstallTarget, error) {
	if platformName == "" {
		platformName = runtime.GOOS
	}

	if arch == "" {
		arch = runtime.GOARCH
	}

	platform, ok := installer.PlatformFromGOOS(platformName)
	if !ok {
		return nil, &installer.UnsupportedPlatformError{Platform: platformName, Arch: arch}
	}

	inst := installer.New(cfg.BinDir, releaseFrom(cfg),
		installer.WithRedirectBudget(cfg.RedirectBudget),
		installer.WithToken(cfg.Release.Token),
		installer.WithTelemetry(tel),
	)

	target, err := inst.EnsureInstalled(ctx, platform, arch)
	if err != nil {
		return nil, fmt.Errorf("failed to install daemon: %w", err)
	}

	return target, nil
}

func releaseFrom(cfg *config.Config) installer.Release {
	return installer.Release{
		Host:  cfg.Release.Host,
		Owner: cfg.Release.Owner,
		Repo:  cfg.Release.Repo,
		Tag:   cfg.Release.Tag,
	}
}
