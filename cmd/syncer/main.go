package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"wechat_sync/internal/config"
	"wechat_sync/internal/scheduler"
	"wechat_sync/internal/service"
)

const (
	Version = "0.1.0"
	appName = "wechat-sync"
)

type options struct {
	configPath string
	logLevel   string
	limit      int
	reset      bool
	latest     bool
	check      bool
	watch      bool
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Sync WeChat official account articles into a content store",
		Long: `wechat-sync copies articles from a WeChat official account into Sanity
(or MongoDB/PostgreSQL), converting each article body into blocks and
re-hosting its images. Runs resume from the saved progress cursor.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "path to config file")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error); overrides config")
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "process at most N articles in this run (0 = no limit)")
	cmd.Flags().BoolVar(&opts.reset, "reset", false, "reset the progress cursor and start from the first article")
	cmd.Flags().BoolVar(&opts.latest, "latest", false, "start from the newest article and do not save progress")
	cmd.Flags().BoolVar(&opts.check, "check", false, "list articles without writing anything")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "keep running and sync again every sync.interval")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s\n", appName, Version)
		},
	})

	return cmd
}

func run(opts options) error {
	logger := setupLogger("info")

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return err
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	logger = setupLogger(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	app, err := newApp(ctx, cfg, opts, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		return err
	}
	defer app.Close(context.Background())

	if opts.reset {
		if err := app.cursor.Reset(ctx); err != nil {
			logger.Error("failed to reset progress", "error", err)
			return err
		}
	}

	syncService := service.NewSyncService(
		app.source,
		app.posts,
		app.cursor,
		logger,
		cfg.Sync,
		service.RunOptions{Limit: opts.limit, Check: opts.check},
	)

	logger.Info("starting wechat syncer",
		"version", Version,
		"documents", cfg.Storage.Documents,
		"assets", cfg.Storage.Assets,
		"progress", cfg.Storage.Progress,
		"watch", opts.watch,
	)

	if opts.watch {
		sched := scheduler.NewScheduler(syncService, cfg.Sync.Interval, logger)
		if err := sched.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("scheduler error", "error", err)
			return err
		}
		return nil
	}

	if _, err := syncService.Sync(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("sync failed", "error", err)
		return err
	}
	return nil
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
