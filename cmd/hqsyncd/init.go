package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/indigoai-us/hq-sub008/internal/hqsync/config"
	"github.com/indigoai-us/hq-sub008/internal/hqsync/workspace"
)

func init() {
	rootCmd.AddCommand(newInitCmd())
}

// newInitCmd scaffolds a new HQ workspace and writes the config file
// "start" will load. Mirrors the teacher's init.go (check-then-write a
// config document), scoped to the HQ root instead of a full datasite.
func newInitCmd() *cobra.Command {
	var hqDir, userID, bucket, region string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a new HQ sync workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			if configPath == "" {
				configPath = config.DefaultConfigPath
			}

			if existing, err := config.LoadFromFile(configPath); err == nil && existing.UserID != "" {
				fmt.Fprintln(cmd.OutOrStdout(), "HQ workspace already initialized")
				fmt.Fprintf(cmd.OutOrStdout(), "Config path: %s\n", green(existing.Path))
				fmt.Fprintf(cmd.OutOrStdout(), "HQ dir:      %s\n", cyan(existing.HQDir))
				return nil
			}

			if hqDir == "" {
				return fmt.Errorf("--hq-dir is required")
			}

			cfg := &config.Config{
				Path:   configPath,
				HQDir:  hqDir,
				UserID: userID,
				Object: config.Object{BucketName: bucket, Region: region},
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ws, err := workspace.New(cfg.HQDir)
			if err != nil {
				return err
			}
			if err := ws.EnsureLayout(); err != nil {
				return err
			}

			if err := cfg.Save(); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), green("HQ workspace initialized"))
			fmt.Fprintf(cmd.OutOrStdout(), "Config path: %s\n", cyan(cfg.Path))
			fmt.Fprintf(cmd.OutOrStdout(), "HQ dir:      %s\n", cyan(ws.Root))
			return nil
		},
	}

	cmd.Flags().StringVar(&hqDir, "hq-dir", "", "HQ root directory to create")
	cmd.Flags().StringVar(&userID, "user-id", "", "user identifier")
	cmd.Flags().StringVar(&bucket, "bucket", "", "object store bucket name")
	cmd.Flags().StringVar(&region, "region", "", "object store region")
	return cmd
}
