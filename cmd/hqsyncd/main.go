// Command hqsyncd runs the HQ sync agent: a daemon that watches a local
// directory and uploads changes, a poller that downloads remote
// changes, and a status/trigger surface, wired together the way the
// teacher's cmd/client/main.go wires its SyftBox client daemon.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/indigoai-us/hq-sub008/internal/hqsync/config"
	"github.com/indigoai-us/hq-sub008/internal/hqsync/logging"
	"github.com/indigoai-us/hq-sub008/internal/hqsync/version"
)

var (
	red   = color.New(color.FgHiRed, color.Bold).SprintFunc()
	green = color.New(color.FgHiGreen).SprintFunc()
	cyan  = color.New(color.FgHiCyan).SprintFunc()
)

var rootCmd = &cobra.Command{
	Use:     "hqsyncd",
	Short:   "HQ Sync Engine CLI",
	Version: version.Detailed(),
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "config file path")
	rootCmd.PersistentFlags().String("hq-dir", "", "HQ root directory (overrides config)")
	rootCmd.PersistentFlags().String("log-file", config.DefaultLogFile, "log file path")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, red("error:"), err)
		os.Exit(1)
	}
}

// loadConfig reads the config file named by --config, binds --hq-dir
// through viper the way the teacher's loadConfig binds its flags, and
// then applies spec §6's enumerated environment overrides on top (a
// distinct, non-prefixed variable list, so it runs through
// config.ApplyEnvOverrides rather than viper.AutomaticEnv).
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	_ = viper.BindPFlag("hq_dir", cmd.Flag("hq-dir"))

	configPath := ""
	if f := cmd.Flag("config"); f != nil {
		configPath = f.Value.String()
	}
	if configPath == "" {
		configPath = config.DefaultConfigPath
	}

	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return nil, err
	}

	if hqDir := viper.GetString("hq_dir"); hqDir != "" {
		cfg.HQDir = hqDir
	}

	cfg.ApplyEnvOverrides(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogging(cmd *cobra.Command) (func() error, error) {
	logFile, _ := cmd.Flags().GetString("log-file")
	_, closer, err := logging.Setup(logging.Config{Level: slog.LevelInfo, LogFilePath: logFile})
	return closer, err
}
