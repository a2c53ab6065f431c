package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/0xMasayoshi/sumo/internal/daemon"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the torrents tracked by a running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := appFrom(ctx).cfg

			client, err := daemon.NewClient(cfg.DaemonAPIURL, cfg.RequestTimeout)
			if err != nil {
				return err
			}

			torrents, err := client.ListTorrents(ctx)
			if err != nil {
				return err
			}

			writeTorrents(cmd, torrents)

			return nil
		},
	}

	return cmd
}

func writeTorrents(cmd *cobra.Command, torrents []daemon.Torrent) {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "HASH\tNAME\tPROGRESS\tDOWN\tUP\tSTATE")

	for _, t := range torrents {
		fmt.Fprintf(tw, "%s\t%s\t%.1f%%\t%s/s\t%s/s\t%s\n",
			shortHash(t.Hash),
			t.DisplayName(),
			t.Progress*100,
			humanize.Bytes(uint64(max(t.DownloadRate, 0))),
			humanize.Bytes(uint64(max(t.UploadRate, 0))),
			t.State,
		)
	}
}

func shortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}

	return hash
}
