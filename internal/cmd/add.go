package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/0xMasayoshi/sumo/internal/daemon"
	"github.com/0xMasayoshi/sumo/internal/session"
	"github.com/0xMasayoshi/sumo/internal/torrentfile"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/spf13/cobra"
)

func newAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <magnet | file.torrent>",
		Short: "Submit a magnet link or .torrent file to a running daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := appFrom(ctx).cfg

			magnet, err := magnetArg(args[0])
			if err != nil {
				return err
			}

			client, err := daemon.NewClient(cfg.DaemonAPIURL, cfg.RequestTimeout)
			if err != nil {
				return err
			}

			var firstLast *bool
			if cfg.FirstLast {
				firstLast = &cfg.FirstLast
			}

			res, err := client.AddTorrent(ctx, daemon.AddRequest{
				Magnet:     magnet,
				SavePath:   cfg.DownloadDir,
				Sequential: cfg.Sequential,
				FirstLast:  firstLast,
			})
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), res.Hash)

			return nil
		},
	}

	return cmd
}

// magnetArg accepts a magnet link or a path to a .torrent file.
func magnetArg(arg string) (string, error) {
	if strings.HasPrefix(arg, "magnet:") {
		if _, err := metainfo.ParseMagnetUri(arg); err != nil {
			return "", fmt.Errorf("%w: %v", session.ErrInvalidMagnet, err)
		}

		return arg, nil
	}

	data, err := os.ReadFile(arg)
	if err != nil {
		return "", fmt.Errorf("failed to read torrent file: %w", err)
	}

	return torrentfile.Magnet(data)
}
