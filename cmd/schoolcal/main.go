package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"schoolcal/internal/config"
	"schoolcal/internal/ics"
	appLog "schoolcal/internal/log"
	"schoolcal/internal/reminder"
	"schoolcal/internal/store"
	"schoolcal/internal/web"
)

const shutdownTimeout = 10 * time.Second

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	envFile    string
	listen     string
	once       bool
	debug      bool
}

func main() {
	os.Exit(run(parseFlags()))
}

// run starts the service and returns the process exit code. Deferred
// cleanup runs before main exits.
func run(flags flagConfig) int {
	// A missing .env is fine; the environment may be set another way.
	if err := godotenv.Load(flags.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		appLog.Warn("failed to load env file", "path", flags.envFile, "err", err.Error())
	}

	conf, err := loadConfig(flags)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		return 1
	}

	level := appLog.ParseLevel(conf.LogLevel)
	if flags.debug {
		level = appLog.LevelDebug
	}
	appLog.SetLevel(level)

	appLog.Info("schoolcal starting", "version", "0.1.0")
	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"week_start", conf.WeekStart,
		"data_file", conf.DataFile,
		"reminder_cron", conf.ReminderCron,
		"feed_refresh_cron", conf.FeedRefreshCron,
		"feed_count", len(conf.HolidayFeeds),
		"reminder_queue", conf.ReminderQueue != nil,
		"once", flags.once,
	)

	repo, err := store.Open(conf.DataFile)
	if err != nil {
		appLog.Error("failed to open event store", err, "data_file", conf.DataFile)
		return 1
	}

	syncer := ics.NewSyncer(repo, ics.NewFetcher(conf.CacheDir, nil), ics.SourcesFromConfig(conf))

	var dispatcher reminder.Dispatcher = reminder.LogDispatcher{}
	if q := conf.ReminderQueue; q != nil {
		qd := reminder.NewQueueDispatcher(q.RedisAddr, q.Queue)
		defer func() {
			if err := qd.Close(); err != nil {
				appLog.Error("failed to close reminder queue", err)
			}
		}()
		dispatcher = qd
	}

	sched := reminder.New(repo, dispatcher, syncer, reminder.Options{
		ReminderCron:           conf.ReminderCron,
		FeedRefreshCron:        conf.FeedRefreshCron,
		Lookahead:              conf.ReminderLookahead(),
		MaxOccurrencesPerEvent: conf.MaxOccurrencesPerEvent,
		Location:               conf.Location(),
	})

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			appLog.Info("signal received, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	if flags.once {
		if err := runOnce(ctx, syncer, sched); err != nil {
			appLog.Error("single run failed", err)
			return 1
		}
		appLog.Info("schoolcal exiting")
		return 0
	}

	if err := sched.Start(ctx); err != nil {
		appLog.Error("failed to start scheduler", err)
		return 1
	}

	srv := web.NewServer(web.Options{
		Config: conf,
		Repo:   repo,
		Syncer: syncer,
		Debug:  flags.debug,
	})
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	code := 0
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			appLog.Error("http server failed", err)
			code = 1
			cancel()
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("http server shutdown failed", err)
	}
	appLog.Info("schoolcal exiting")
	return code
}

// loadConfig reads the config file, applies env and flag overrides and
// validates the result.
func loadConfig(flags flagConfig) (*config.Config, error) {
	conf, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if err := conf.ApplyEnv(); err != nil {
		return nil, err
	}
	// CLI --listen overrides config file and env.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// runOnce imports the holiday feeds and runs one reminder sweep.
func runOnce(ctx context.Context, syncer *ics.Syncer, sched *reminder.Scheduler) error {
	report, err := syncer.Sync(ctx)
	if err != nil {
		return errors.Wrap(err, "feed sync")
	}
	appLog.Info("feed sync done", "feeds", report.Feeds, "imported", report.Imported, "removed", report.Removed, "failed", len(report.Failed))

	sent, err := sched.Sweep(ctx)
	if err != nil {
		return errors.Wrap(err, "reminder sweep")
	}
	appLog.Info("reminder sweep done", "sent", sent)
	return nil
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/schoolcal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.envFile, "env-file", ".env", "Path to an optional .env file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one feed sync and reminder sweep, then exit")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging and detailed HTTP errors")

	flag.Parse()

	return cfg
}
