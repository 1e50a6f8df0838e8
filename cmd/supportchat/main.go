package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"supportchat/internal/auth"
	"supportchat/internal/availability"
	"supportchat/internal/config"
	"supportchat/internal/constants"
	"supportchat/internal/database"
	"supportchat/internal/dialogue"
	"supportchat/internal/dispatcher"
	"supportchat/internal/i18n"
	"supportchat/internal/models"
	"supportchat/internal/realtime"
	"supportchat/internal/retry"
	"supportchat/internal/service"
	"supportchat/internal/session"
	"supportchat/internal/tracing"
	"supportchat/pkg/media"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/language"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging (includes request bodies)")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("supportchat %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	// A missing .env file is normal outside local development
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting supportchat")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyLogLevel(logger, cfg.LogLevel)

	tracingManager := tracing.NewTracingManager(tracingConfig(cfg), logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	db, err := openDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	// Rules
	holder := dialogue.NewHolder(nil)
	var source dialogue.Source = dialogue.StoreSource{Store: db}
	if cfg.Dialogue.RulesPath != "" {
		source = dialogue.FileSource{Path: cfg.Dialogue.RulesPath}
	}
	reloader := dialogue.NewReloader(holder, source,
		time.Duration(cfg.Dialogue.ReloadIntervalSec)*time.Second,
		i18n.Text(language.English, i18n.KeyApology), logger)
	if err := reloader.Reload(ctx); err != nil {
		logger.WithError(err).Warn("Starting with the degraded response table")
	}

	// Notifications
	sender, err := newSender(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create alert sender: %w", err)
	}
	notifier := dispatcher.New(sender, dispatcher.Options{
		MaxAttempts:  cfg.Notifications.MaxAttempts,
		BaseDelay:    time.Duration(cfg.Notifications.BaseDelayMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Notifications.MaxDelayMs) * time.Millisecond,
		TickInterval: time.Duration(cfg.Notifications.TickIntervalMs) * time.Millisecond,
		Recorder:     db,
	}, logger)
	recovered, err := notifier.Recover(ctx, db)
	if err != nil {
		return fmt.Errorf("failed to recover notification jobs: %w", err)
	}
	if recovered > 0 {
		logger.WithField("jobs", recovered).Info("Re-queued unfinished notification jobs")
	}

	// Sessions and the realtime timeline
	registry := session.NewRegistry(db)
	hub := realtime.NewHub(db, registry, realtime.Options{
		TypingTTL:        time.Duration(cfg.Realtime.TypingTTLMs) * time.Millisecond,
		TypingSweep:      time.Duration(cfg.Realtime.TypingSweepMs) * time.Millisecond,
		SubscriberBuffer: cfg.Realtime.SubscriberBuffer,
	}, logger)
	manager := session.NewManager(registry, db, holder, notifier, hub, session.Options{
		FallbackContactURL: cfg.Notifications.FallbackContactURL,
	}, logger)
	notifier.SetExhaustionHandler(manager.PostFallbackNotice)

	// Availability
	window, err := availability.ParseWindow(cfg.Availability.OpenTime, cfg.Availability.CloseTime, cfg.Availability.Timezone)
	if err != nil {
		return fmt.Errorf("invalid availability window: %w", err)
	}
	var presence availability.PresenceSource
	if cfg.Availability.UsePresence {
		presence = db
	}
	scheduler := availability.NewScheduler(window, presence,
		time.Duration(cfg.Availability.CheckIntervalSec)*time.Second, logger)
	scheduler.OnChange(manager.NotifyAvailability)

	store, err := media.NewStore(cfg.Storage.Dir, cfg.Storage.PublicBaseURL, cfg.Storage.MaxSizeMB)
	if err != nil {
		return fmt.Errorf("failed to initialize attachment storage: %w", err)
	}

	chat := service.NewChatService(service.ChatDeps{
		Sessions:      manager,
		Timeline:      hub,
		Availability:  scheduler,
		Presence:      db,
		Attachments:   store,
		Rules:         reloader,
		Notifications: notifier,
	}, logger)

	// Background jobs
	cleanup := service.NewScheduler(db, store, cfg.RetentionDays, cfg.Server.CleanupIntervalHours, logger)
	monitor := service.NewJobMonitor(db,
		time.Duration(cfg.Notifications.MonitorIntervalSec)*time.Second,
		time.Duration(constants.DefaultStaleJobThresholdSec)*time.Second, logger)

	var reaper *service.SessionReaper
	if cfg.Session.IdleTimeoutSec > 0 {
		reaper = service.NewSessionReaper(manager, db,
			time.Duration(cfg.Session.IdleTimeoutSec)*time.Second,
			time.Duration(cfg.Session.ReaperIntervalSec)*time.Second, logger)
		reaper.Start(ctx)
	}

	watcher := config.NewConfigWatcher(*configPath, logger)
	watcher.OnConfigChange(func(next *models.Config) {
		applyLogLevel(logger, next.LogLevel)
		w, err := availability.ParseWindow(next.Availability.OpenTime, next.Availability.CloseTime, next.Availability.Timezone)
		if err != nil {
			logger.WithError(err).Warn("Ignoring invalid availability window")
			return
		}
		scheduler.SetWindow(w)
	})

	var wg sync.WaitGroup
	loops := []func(context.Context){
		reloader.Start,
		notifier.Start,
		hub.Start,
		scheduler.Start,
		cleanup.Start,
		monitor.Start,
	}
	for _, loop := range loops {
		wg.Add(1)
		go func(start func(context.Context)) {
			defer wg.Done()
			start(ctx)
		}(loop)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := watcher.Start(ctx); err != nil {
			logger.WithError(err).Warn("Config watcher stopped")
		}
	}()

	server := NewServer(cfg, chat, auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)), store.Handler(), db, logger)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Server shutdown incomplete")
	}

	reloader.Stop()
	hub.Stop()
	scheduler.Stop()
	cleanup.Stop()
	monitor.Stop()
	if reaper != nil {
		reaper.Stop()
	}
	wg.Wait()

	// Jobs still pending are persisted and picked up by Recover on the next start
	if err := notifier.Drain(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Notification queue not fully drained")
	}
	notifier.Stop()

	logger.Info("Shutdown complete")
	return nil
}

func applyLogLevel(logger *logrus.Logger, level string) {
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
		return
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		logger.Warnf("Invalid log level %q, defaulting to info", level)
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
}

func tracingConfig(cfg *models.Config) tracing.TracingConfig {
	tc := tracing.DefaultTracingConfig()
	tc.ServiceVersion = Version
	if cfg.Tracing.ServiceName != "" {
		tc.ServiceName = cfg.Tracing.ServiceName
	}
	if cfg.Tracing.ServiceVersion != "" {
		tc.ServiceVersion = cfg.Tracing.ServiceVersion
	}
	if cfg.Tracing.Environment != "" {
		tc.Environment = cfg.Tracing.Environment
	}
	if cfg.Tracing.OTLPEndpoint != "" {
		tc.OTLPEndpoint = cfg.Tracing.OTLPEndpoint
	}
	if cfg.Tracing.SampleRate > 0 {
		tc.SampleRate = cfg.Tracing.SampleRate
	}
	tc.Enabled = cfg.Tracing.Enabled
	tc.UseStdout = cfg.Tracing.UseStdout
	return tc
}

// openDatabase retries because the volume holding the database file may
// still be mounting when the container starts
func openDatabase(ctx context.Context, cfg *models.Config, logger *logrus.Logger) (*database.Database, error) {
	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: time.Duration(cfg.Retry.InitialBackoffMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Retry.MaxBackoffMs) * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  cfg.Retry.MaxAttempts,
		Jitter:       true,
	})

	var db *database.Database
	err := backoff.Retry(ctx, func() error {
		var initErr error
		db, initErr = database.New(cfg.Database.Path)
		if initErr != nil {
			logger.Warnf("Failed to initialize database: %v", initErr)
		}
		return initErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database after retries: %w", err)
	}
	return db, nil
}

func newSender(cfg *models.Config, logger *logrus.Logger) (dispatcher.Sender, error) {
	n := cfg.Notifications
	if n.WebhookURL == "" {
		logger.Warn("No alert webhook configured, staff alerts are only logged")
		return dispatcher.NewLogSender(logger), nil
	}
	return dispatcher.NewWebhookSender(dispatcher.WebhookConfig{
		URL:                n.WebhookURL,
		SigningSecret:      n.SigningSecret,
		Timeout:            time.Duration(n.TimeoutSec) * time.Second,
		BreakerMaxFailures: n.CircuitBreakerMaxFailures,
		BreakerTimeout:     time.Duration(n.CircuitBreakerTimeoutSec) * time.Second,
	}, logger)
}
