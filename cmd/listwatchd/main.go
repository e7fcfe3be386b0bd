// Command listwatchd runs the monitor execution engine: it schedules
// active monitors, scrapes them through the external scraper service,
// dedups listings, and dispatches alerts.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/veyra/listwatch/alert"
	"github.com/veyra/listwatch/breaker"
	"github.com/veyra/listwatch/config"
	"github.com/veyra/listwatch/db"
	"github.com/veyra/listwatch/dedup"
	"github.com/veyra/listwatch/dispatch"
	"github.com/veyra/listwatch/logger"
	"github.com/veyra/listwatch/runner"
	"github.com/veyra/listwatch/scrape"
	"github.com/veyra/listwatch/server"
	"github.com/veyra/listwatch/session"
	"github.com/veyra/listwatch/version"
	"github.com/veyra/listwatch/watch"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "listwatchd",
	Short: "listwatch monitor execution engine",
	Long: `listwatchd executes marketplace listing monitors.

It schedules active monitors on a fixed interval, calls the scraper
service for each, deduplicates listings, and fans alerts out to the
user's notification channels. Per-site circuit breakers and session
gating keep failing or logged-out sites from burning quota.

Scheduling runs in one of two modes chosen by configuration:
  queue  - persistent job queue with a bounded worker pool and retries
  loop   - strictly sequential pass over all monitors each tick`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Get().String())
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		conn, err := db.Open(cfg.Database.Path, logger.Logger)
		if err != nil {
			return err
		}
		defer conn.Close()
		return db.Migrate(conn, logger.Logger)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (TOML)")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromFile(configPath)
	}
	return config.Load()
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := logger.Initialize(cfg.Log.JSON); err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Logger

	conn, err := db.Open(cfg.Database.Path, log)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := db.Migrate(conn, log); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Engine wiring.
	sessions := session.NewStore(conn)
	gate := session.NewGate(sessions, nil)
	seen := dedup.NewStore(conn)
	deduper := dedup.New(seen, log)
	monitors := watch.NewMonitorStore(conn)
	quotas := watch.NewQuotaStore(conn)
	logs := watch.NewLogStore(conn)
	assembler := watch.NewStoreAssembler(conn)

	brk := breaker.New(log,
		breaker.WithThreshold(cfg.Breaker.FailureThreshold),
		breaker.WithOpenTimeout(cfg.Breaker.OpenTimeout()),
		breaker.WithIgnore(watch.IsAuthError),
	)

	var channels []alert.Channel
	if cfg.Alerts.TelegramToken != "" {
		channels = append(channels, alert.NewTelegramChannel(cfg.Alerts.TelegramToken))
	}
	if len(channels) == 0 {
		log.Warnw("No alert channels configured, listings will be recorded but not delivered")
	}
	alerts := alert.NewDispatcher(channels, seen, cfg.Engine.ChannelDelay(), log)

	scraper := scrape.NewHTTPScraper(cfg.Scraper.URL, cfg.Scraper.Timeout())

	r := runner.New(runner.Deps{
		Scraper:  scraper,
		Breaker:  brk,
		Gate:     gate,
		Dedup:    deduper,
		Alerts:   alerts,
		Sessions: sessions,
		Monitors: monitors,
		Quotas:   quotas,
		Logs:     logs,
	}, log)
	executor := dispatch.NewMonitorExecutor(assembler, r)

	// Scheduling mode.
	var (
		queue *dispatch.Queue
		pool  *dispatch.WorkerPool
		stop  func()
	)
	if cfg.Queue.Enabled {
		queue = dispatch.NewQueue(conn, log,
			dispatch.WithBackoffBase(cfg.Queue.BackoffBase()),
			dispatch.WithMaxAttempts(cfg.Queue.MaxAttempts),
		)
		pool = dispatch.NewWorkerPool(ctx, queue, executor, dispatch.WorkerPoolConfig{
			Workers:       cfg.Queue.Workers,
			RatePerMinute: cfg.Queue.RatePerMinute,
		}, log)
		ticker := dispatch.NewTicker(ctx, monitors, queue, cfg.Engine.Interval(), log)

		pool.Start()
		ticker.Start()
		stop = func() {
			ticker.Stop()
			pool.Stop()
		}
		log.Infow("Engine started in queue mode",
			"workers", cfg.Queue.Workers,
			"interval", cfg.Engine.Interval(),
		)
	} else {
		loop := dispatch.NewLoop(ctx, monitors, executor, cfg.Engine.Interval(), cfg.Engine.MonitorDelay(), log)
		loop.Start()
		stop = loop.Stop
		log.Infow("Engine started in loop mode",
			"interval", cfg.Engine.Interval(),
			"monitor_delay", cfg.Engine.MonitorDelay(),
		)
	}

	srv := server.New(cfg.Server.Addr, brk, queue, pool, log)
	srv.Start()

	// Reload breaker tuning on config changes without a restart.
	if configPath != "" {
		watcher, err := config.NewWatcher(configPath)
		if err != nil {
			log.Warnw("Config watcher unavailable", "error", err)
		} else {
			watcher.OnReload(func(next *config.Config) error {
				brk.SetThreshold(next.Breaker.FailureThreshold)
				brk.SetOpenTimeout(next.Breaker.OpenTimeout())
				log.Infow("Applied reloaded breaker settings",
					"failure_threshold", next.Breaker.FailureThreshold,
					"open_timeout", next.Breaker.OpenTimeout(),
				)
				return nil
			})
			watcher.Start()
			defer watcher.Stop()
		}
	}

	// Wait for shutdown.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig
	log.Infow("Shutting down", "signal", received.String())

	cancel()
	stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnw("Health server shutdown error", "error", err)
	}

	log.Infow("Engine stopped")
	return nil
}
