// Package cmd wires the service together: config flags, the shared store
// and client pool, and the frontend, scheduler and monitor lifecycles.
package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime/debug"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/woodchen-ink/OVH/internal/availability"
	"github.com/woodchen-ink/OVH/internal/config"
	"github.com/woodchen-ink/OVH/internal/database"
	"github.com/woodchen-ink/OVH/internal/frontend"
	"github.com/woodchen-ink/OVH/internal/monitor"
	"github.com/woodchen-ink/OVH/internal/notify"
	"github.com/woodchen-ink/OVH/internal/order"
	"github.com/woodchen-ink/OVH/internal/ovh"
	"github.com/woodchen-ink/OVH/internal/scheduler"
)

func NewRootCmd() *cobra.Command {
	cfg := &config.Config{}
	rootCmd := &cobra.Command{
		Use:   "ovh-sniper",
		Args:  cobra.NoArgs,
		Short: "Serve the OVH server acquisition engine",
		Long: `Serve the OVH server acquisition engine

	This command runs the purchase queue scheduler, the availability
	monitor and the HTTP control plane in one process. State is kept in
	JSON files under the data directory.

	# Run locally with auth disabled
	./ovh-sniper --enable-api-key-auth=false --data-dir ./data
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfg)
		},
	}

	rootCmd.Flags().IntVar(&cfg.Port, "port", envInt("PORT", config.DefaultPort), "port to listen on")
	rootCmd.Flags().StringVar(&cfg.APISecret, "api-secret-key", os.Getenv("API_SECRET_KEY"), "shared secret for the X-API-Key header")
	rootCmd.Flags().BoolVar(&cfg.AuthEnabled, "enable-api-key-auth", envBool("ENABLE_API_KEY_AUTH", true), "require the API key on control plane requests")
	rootCmd.Flags().BoolVar(&cfg.Debug, "debug", envBool("DEBUG", false), "enable debug logging")
	rootCmd.Flags().StringVar(&cfg.DataDir, "data-dir", envString("DATA_DIR", "data"), "directory for JSON state files")
	rootCmd.Flags().StringVar(&cfg.TelegramBotToken, "telegram-bot-token", os.Getenv("TELEGRAM_BOT_TOKEN"), "Telegram bot token for notifications")
	rootCmd.Flags().StringVar(&cfg.TelegramChatID, "telegram-chat-id", os.Getenv("TELEGRAM_CHAT_ID"), "Telegram chat to notify")
	rootCmd.Flags().Int64Var(&cfg.MonitorInterval, "monitor-interval", int64(envInt("MONITOR_CHECK_INTERVAL", 60)), "availability monitor cadence in seconds")

	return rootCmd
}

func run(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.EnsureDirs(); err != nil {
		return err
	}

	logger := config.DefaultLogger(cfg.Debug)
	logger.Info(fmt.Sprintf("%s (%s) started", frontend.ProgramName, version()))

	store, err := database.New(cfg.DataDir, logger)
	if err != nil {
		return fmt.Errorf("loading state failed: %w", err)
	}

	var notifier notify.Notifier = notify.Nop{}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		notifier = notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID, logger)
	} else {
		logger.Info("telegram not configured, notifications disabled")
	}

	pool := ovh.NewPool()
	probe := availability.NewProbe(logger)
	driver := order.NewDriver(logger)

	sched := scheduler.New(store, pool, probe, driver, notifier, logger, prometheus.DefaultRegisterer)
	mon := monitor.New(store, pool, probe, notifier, logger,
		time.Duration(cfg.MonitorInterval)*time.Second, prometheus.DefaultRegisterer)

	listener, err := net.Listen("tcp4", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return err
	}

	f := frontend.NewFrontend(logger, listener, store, pool, sched, mon, cfg.APISecret, cfg.AuthEnabled)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)

	frontendStop := make(chan struct{})
	group.Go(func() error {
		f.Run(context.Background(), frontendStop)
		return nil
	})
	group.Go(func() error {
		sched.Run(ctx)
		return nil
	})
	mon.Start()

	<-ctx.Done()
	logger.Info("caught interrupt signal")
	close(frontendStop)
	mon.Stop()

	if err := group.Wait(); err != nil {
		logger.Error(err.Error())
	}
	sched.Join()
	f.Join()
	logger.Info(fmt.Sprintf("%s (%s) stopped", frontend.ProgramName, version()))

	return nil
}

func version() string {
	version := "unknown"
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				version = setting.Value
				break
			}
		}
	}

	return version
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
