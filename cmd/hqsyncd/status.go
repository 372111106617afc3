package main

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/indigoai-us/hq-sub008/internal/hqsync/syncstate"
	"github.com/indigoai-us/hq-sub008/internal/hqsync/workspace"
)

func init() {
	rootCmd.AddCommand(newStatusCmd())
}

// newStatusCmd reports the Sync State Store's on-disk snapshot. It does
// not talk to a running hqsyncd process — spec §1 excludes the HTTP API
// host this CLI would otherwise query, so "status" here means the
// last-persisted state, not a live one. Run "hqsyncd start" in the
// foreground to watch live activity; send it SIGUSR1 to trigger an
// immediate sync.
func newStatusCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the last-persisted sync state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ws, err := workspace.New(cfg.HQDir)
			if err != nil {
				return err
			}

			store, err := syncstate.Open(ws.StateFile, cfg.UserID, cfg.UserID+"/hq/", nil)
			if err != nil {
				return err
			}

			entries := store.All()
			lastPoll := store.LastPollAtMs()

			if asJSON {
				out, err := json.MarshalIndent(map[string]any{
					"trackedFiles": len(entries),
					"lastPollAt":   lastPoll,
				}, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return nil
			}

			fmt.Fprintf(cmd.OutOrStdout(), "HQ root:       %s\n", green(ws.Root))
			fmt.Fprintf(cmd.OutOrStdout(), "Tracked files: %s\n", cyan(fmt.Sprintf("%d", len(entries))))
			if lastPoll == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Last poll:     never")
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Last poll:     %s\n", time.UnixMilli(lastPoll).UTC().Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print machine-readable JSON")
	return cmd
}
