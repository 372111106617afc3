package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/indigoai-us/hq-sub008/internal/hqsync/changedetector"
	"github.com/indigoai-us/hq-sub008/internal/hqsync/config"
	"github.com/indigoai-us/hq-sub008/internal/hqsync/conflict"
	"github.com/indigoai-us/hq-sub008/internal/hqsync/daemon"
	"github.com/indigoai-us/hq-sub008/internal/hqsync/downloader"
	"github.com/indigoai-us/hq-sub008/internal/hqsync/downloadmgr"
	"github.com/indigoai-us/hq-sub008/internal/hqsync/eventqueue"
	"github.com/indigoai-us/hq-sub008/internal/hqsync/filehash"
	"github.com/indigoai-us/hq-sub008/internal/hqsync/filewatcher"
	"github.com/indigoai-us/hq-sub008/internal/hqsync/ignoreengine"
	"github.com/indigoai-us/hq-sub008/internal/hqsync/objectstore"
	"github.com/indigoai-us/hq-sub008/internal/hqsync/status"
	"github.com/indigoai-us/hq-sub008/internal/hqsync/syncstate"
	"github.com/indigoai-us/hq-sub008/internal/hqsync/uploader"
	"github.com/indigoai-us/hq-sub008/internal/hqsync/version"
	"github.com/indigoai-us/hq-sub008/internal/hqsync/workspace"
)

func init() {
	rootCmd.AddCommand(newStartCmd())
}

func newStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the HQ sync agent in the foreground",
		RunE:  runStart,
	}
	return cmd
}

// engine bundles every component start/status/trigger need, so a single
// SIGUSR1 handler and a single shutdown path can reach all of them —
// the way the teacher's client.Client struct bundles its daemon,
// watcher, and control plane.
type engine struct {
	ws         *workspace.Workspace
	d          *daemon.Daemon
	downMgr    *downloadmgr.Manager
	agg        *status.Aggregator
	stateStore *syncstate.Store
}

func runStart(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	closer, err := setupLogging(cmd)
	if err != nil {
		return err
	}
	defer closer()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	slog.Info("hq-sync", "version", version.Version, "revision", version.Revision)

	ws, err := workspace.New(cfg.HQDir)
	if err != nil {
		return fmt.Errorf("start: resolve workspace: %w", err)
	}
	if err := ws.EnsureLayout(); err != nil {
		return fmt.Errorf("start: ensure layout: %w", err)
	}
	if err := ws.Lock(); err != nil {
		return fmt.Errorf("start: lock workspace: %w", err)
	}
	defer ws.Unlock()

	eng, err := buildEngine(cfg, ws)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	triggerCh := make(chan os.Signal, 1)
	signal.Notify(triggerCh, syscall.SIGUSR1)
	defer signal.Stop(triggerCh)

	if err := eng.d.Start(ctx); err != nil {
		return fmt.Errorf("start: daemon: %w", err)
	}
	eng.downMgr.StartPolling(ctx)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-triggerCh:
				slog.Info("trigger requested via SIGUSR1")
				result := eng.agg.RequestTrigger(ctx, eng.d)
				if !result.Accepted {
					slog.Warn("trigger rejected", "reason", result.Reason)
				}
			}
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	eng.downMgr.StopPolling()
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return eng.d.Stop(stopCtx)
}

// buildEngine wires every sync component per spec's dependency graph:
// object store -> {uploader, changedetector, downloader} ; ignore
// engine + event queue + watcher -> daemon ; changedetector +
// downloader + sync state -> download manager ; daemon + download
// manager stats -> status aggregator.
func buildEngine(cfg *config.Config, ws *workspace.Workspace) (*engine, error) {
	hasher, err := filehash.NewCachingHasher(filehash.SHA256, 4096)
	if err != nil {
		return nil, fmt.Errorf("buildEngine: hasher: %w", err)
	}

	store, err := objectstore.NewS3Store(context.Background(), objectstore.S3Config{
		BucketName: cfg.Object.BucketName,
		Region:     cfg.Object.Region,
		Endpoint:   cfg.Object.Endpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("buildEngine: object store: %w", err)
	}

	ignore := ignoreengine.New(ws.Root)
	if err := ignore.Load(); err != nil {
		return nil, fmt.Errorf("buildEngine: ignore engine: %w", err)
	}

	stateStore, err := syncstate.Open(ws.StateFile, cfg.UserID, hqPrefix(cfg.UserID), slog.Default())
	if err != nil {
		return nil, fmt.Errorf("buildEngine: sync state: %w", err)
	}

	up := uploader.New(uploader.Config{
		BucketName:       cfg.Object.BucketName,
		Region:           cfg.Object.Region,
		UserID:           cfg.UserID,
		SyncAgentVersion: version.Version,
	}, store, hasher, slog.Default())

	queue := eventqueue.New(cfg.Daemon.MaxQueueSize)
	watcher := filewatcher.New(ws.Root, ignore)

	d := daemon.New(cfg.Daemon, queue, watcher, up, slog.Default())

	conflictDetector := conflict.NewDetector()
	conflictResolver := conflict.NewResolver()
	conflictLog := conflict.NewLog(0)

	down := downloader.New(cfg.Download, cfg.Conflict, store, hasher, stateStore,
		conflictDetector, conflictResolver, conflictLog, slog.Default(), nil)

	detector := changedetector.New(store, ignore, stateStore, slog.Default())
	detectCfg := changedetector.Config{
		Prefix:            hqPrefix(cfg.UserID),
		DeletedFilePolicy: string(cfg.Download.DeletedFilePolicy),
	}

	downMgr := downloadmgr.New(cfg.DownloadMgr, detectCfg, detector, down, stateStore, slog.Default())

	agg := status.NewAggregator(0)

	return &engine{ws: ws, d: d, downMgr: downMgr, agg: agg, stateStore: stateStore}, nil
}

func hqPrefix(userID string) string {
	return userID + "/hq/"
}
