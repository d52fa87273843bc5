// Package main is the entry point for the slowpress scheduling engine.
//
// It loads configuration, runs embedded migrations, builds the event bus and
// the service graph (delay settings, scheduling, publication, batch,
// monitoring, notifications, offline queues), starts the durable pre-publish
// timer scanner and the batch processor, schedules the recurring maintenance
// jobs, and serves the operational HTTP surface (health, metrics, status).
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"slowpress/internal/batch"
	"slowpress/internal/config"
	"slowpress/internal/core"
	"slowpress/internal/db"
	"slowpress/internal/delay"
	"slowpress/internal/events"
	"slowpress/internal/external"
	"slowpress/internal/faults"
	"slowpress/internal/monitor"
	"slowpress/internal/notifications"
	"slowpress/internal/offline"
	"slowpress/internal/publication"
	"slowpress/internal/scheduling"
	"slowpress/internal/security"
	"slowpress/internal/types"
)

// jobTimeout bounds each recurring maintenance job run.
const jobTimeout = 2 * time.Minute

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on
// error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := types.NewSlogLogger(newSlog(cfg.LogLevel))
	logger.Info("slowpress engine starting",
		"environment", cfg.Environment,
		"service", cfg.Service,
		"port", cfg.Server.Port,
	)

	version, err := db.RunMigrations(cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied", "schema_version", version)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(rootCtx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	offlineDB, err := offline.OpenStore(cfg.Offline.StorePath)
	if err != nil {
		return fmt.Errorf("opening offline store: %w", err)
	}
	defer offlineDB.Close()

	// Repositories.
	scheduleRepo := db.NewScheduleRepository(pool)
	contentRepo := db.NewContentRepository(pool)
	notifRepo := db.NewNotificationRepository(pool)
	auditRepo := db.NewAuditRepository(pool)
	settingsRepo := db.NewSettingsRepository(pool)

	// Event and fault plumbing.
	bus := events.NewBus(logger)
	faultHandler := faults.NewHandler(faults.Config{
		Window:    cfg.Faults.Window,
		Threshold: cfg.Faults.Threshold,
		Bus:       bus,
		Logger:    logger,
	})

	// Delay configuration. Seed the global default on first boot.
	delaySvc := delay.NewService(delay.Config{
		Store:     settingsRepo,
		SeedHours: cfg.Delay.DefaultHours,
		Faults:    faultHandler,
		Logger:    logger,
	})
	if err := delaySvc.EnsureSeeded(rootCtx); err != nil {
		return fmt.Errorf("seeding delay settings: %w", err)
	}

	// Scheduling and its durable pre-publish timer scanner.
	schedSvc := scheduling.NewService(scheduling.Config{
		Store:          scheduleRepo,
		Bus:            bus,
		Faults:         faultHandler,
		Logger:         logger,
		PrepublishLead: cfg.Delay.PrepublishLead,
	})
	scanner := scheduling.NewScanner(scheduling.ScannerConfig{
		Store:    scheduleRepo,
		Bus:      bus,
		Faults:   faultHandler,
		Logger:   logger,
		Interval: cfg.Delay.PrepublishScanInterval,
	})

	pubSvc := publication.NewService(publication.Config{
		Store:    contentRepo,
		Registry: schedSvc,
		Bus:      bus,
		Faults:   faultHandler,
		Logger:   logger,
	})

	processor := batch.NewProcessor(batch.Config{
		Source:    schedSvc,
		Publisher: pubSvc,
		Bus:       bus,
		Faults:    faultHandler,
		Logger:    logger,
		Interval:  cfg.Batch.Interval,
		BatchSize: cfg.Batch.BatchSize,
	})

	monSvc := monitor.NewService(monitor.Config{
		Entries:  contentRepo,
		Faults:   faultHandler,
		Failures: pubSvc,
		Logger:   logger,
	})
	monSvc.Wire(bus)

	// AWS integrations are optional. One shared config serves both SES and
	// CloudWatch when either is enabled.
	var cwPublisher *monitor.CloudWatchPublisher
	var emailTransport types.EmailTransport = external.NewLogTransport(logger)
	if cfg.Email.Enabled || cfg.Monitor.CloudWatchNamespace != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(rootCtx, awsconfig.WithRegion(cfg.Email.AWSRegion))
		if err != nil {
			return fmt.Errorf("loading AWS configuration: %w", err)
		}
		if cfg.Email.Enabled {
			ses := external.NewSESTransport(awsCfg, external.SESTransportConfig{
				FromAddress:   cfg.Email.FromAddress,
				FromName:      cfg.Email.FromName,
				ConfigSetName: cfg.Email.ConfigSetName,
				Logger:        logger,
			})
			emailTransport = external.NewBreakerTransport(ses, logger)
		}
		if cfg.Monitor.CloudWatchNamespace != "" {
			cwPublisher = monitor.NewCloudWatchPublisher(
				cloudwatch.NewFromConfig(awsCfg),
				cfg.Monitor.CloudWatchNamespace,
				logger,
			)
		}
	}

	// Offline queues: volatile for notification emails, durable SQLite for
	// content writes.
	offlineNotif := offline.NewNotificationService(offline.NotificationConfig{
		Email:      emailTransport,
		Faults:     faultHandler,
		Logger:     logger,
		MaxRetries: cfg.Offline.MaxRetries,
	})
	offlineContent := offline.NewContentService(offline.ContentConfig{
		Store:      offline.NewSQLiteQueue(offlineDB),
		Submitter:  contentSubmitter(contentRepo),
		Faults:     faultHandler,
		Logger:     logger,
		RetryDelay: cfg.Offline.RetryDelay,
		MaxRetries: cfg.Offline.MaxRetries,
	})

	notifSvc := notifications.NewService(notifications.Config{
		Store:  notifRepo,
		Email:  notifEmail(cfg.Email.Enabled, emailTransport),
		Queue:  offlineNotif,
		Faults: faultHandler,
		Logger: logger,
	})
	notifSvc.Wire(bus)

	secSvc := security.NewService(security.Config{
		Redis:  rdb,
		Audit:  auditRepo,
		Bus:    bus,
		Faults: faultHandler,
		Logger: logger,
		Limits: cfg.Security,
	})
	archiver := security.NewArchiver(security.ArchiverConfig{
		Store:  auditRepo,
		Logger: logger,
		TTL:    cfg.Retention.AuditTTL,
		Dir:    cfg.Retention.ArchiveDir,
	})

	probes := []monitor.Probe{
		monitor.PostgresProbe(pool),
		monitor.RedisProbe(rdb),
		monitor.SQLiteProbe(offlineDB),
	}

	srv := core.NewServer(cfg, logger, monSvc)
	srv.Probes = probes
	srv.Batch = processor
	srv.Queue = offlineContent
	srv.Limiter = secSvc

	jobs, err := scheduleJobs(cfg, logger, jobDeps{
		monitor:    monSvc,
		cloudwatch: cwPublisher,
		probes:     probes,
		content:    offlineContent,
		notifQueue: offlineNotif,
		publisher:  pubSvc,
		notifs:     notifSvc,
		archiver:   archiver,
	})
	if err != nil {
		return fmt.Errorf("scheduling maintenance jobs: %w", err)
	}

	scanner.Start(rootCtx)
	processor.Start(rootCtx)
	jobs.Start()

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gCtx := errgroup.WithContext(rootCtx)
	g.Go(func() error {
		logger.Info("ops server listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down")

		scanner.Stop()
		processor.Stop()
		<-jobs.Stop().Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("ops server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("slowpress engine stopped")
	return nil
}

// jobDeps collects the services the recurring maintenance jobs operate on.
type jobDeps struct {
	monitor    *monitor.Service
	cloudwatch *monitor.CloudWatchPublisher
	probes     []monitor.Probe
	content    *offline.ContentService
	notifQueue *offline.NotificationService
	publisher  *publication.Service
	notifs     *notifications.Service
	archiver   *security.Archiver
}

// scheduleJobs registers the recurring jobs: metrics collection, offline
// queue drains, the failed-publication retry sweep, and retention purges.
func scheduleJobs(cfg *config.Config, logger types.Logger, deps jobDeps) (*cron.Cron, error) {
	c := cron.New()

	_, err := c.AddFunc(every(cfg.Monitor.CollectInterval), func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		deps.monitor.RunProbes(ctx, deps.probes...)
		m, err := deps.monitor.CollectMetrics(ctx)
		if err != nil {
			logger.Warn("metrics collection failed", "error", err)
			return
		}
		if deps.cloudwatch != nil {
			deps.cloudwatch.Publish(ctx, m)
		}
	})
	if err != nil {
		return nil, err
	}

	_, err = c.AddFunc(every(cfg.Offline.DrainInterval), func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		if err := deps.content.ProcessQueue(ctx); err != nil {
			logger.Warn("offline content drain failed", "error", err)
		}
		deps.notifQueue.ProcessQueue(ctx)
	})
	if err != nil {
		return nil, err
	}

	_, err = c.AddFunc(every(cfg.Batch.Interval), func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		deps.publisher.RetryFailedPublications(ctx)
	})
	if err != nil {
		return nil, err
	}

	_, err = c.AddFunc(every(cfg.Retention.PurgeInterval), func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		if n, err := deps.notifs.PurgeExpired(ctx); err != nil {
			logger.Warn("notification purge failed", "error", err)
		} else if n > 0 {
			logger.Info("purged expired notifications", "count", n)
		}
		if n, err := deps.archiver.Run(ctx); err != nil {
			logger.Warn("audit archival failed", "error", err)
		} else if n > 0 {
			logger.Info("archived expired audit entries", "count", n)
		}
	})
	if err != nil {
		return nil, err
	}

	return c, nil
}

func every(d time.Duration) string {
	return fmt.Sprintf("@every %s", d)
}

// contentSubmitter replays parked offline content operations against the
// content store. Creates and updates both land as upserts so a retried
// create and a deferred update are indistinguishable on replay.
func contentSubmitter(repo *db.ContentRepository) offline.Submitter {
	return offline.SubmitterFunc(func(ctx context.Context, op types.QueueOperation, payload []byte) error {
		var c types.Content
		if err := json.Unmarshal(payload, &c); err != nil {
			return types.NewAppError(types.ErrCodeInvalidRequest, "undecodable offline payload", err)
		}
		switch op {
		case types.QueueOpCreate, types.QueueOpUpdate:
			return repo.Upsert(ctx, &c)
		case types.QueueOpDelete:
			return repo.Delete(ctx, c.ID, c.Type)
		default:
			return types.NewAppError(types.ErrCodeInvalidRequest, "unknown offline operation: "+string(op), nil)
		}
	})
}

// notifEmail returns the transport the notification service should mirror
// to, or nil when email delivery is disabled.
func notifEmail(enabled bool, t types.EmailTransport) types.EmailTransport {
	if !enabled {
		return nil
	}
	return t
}

func newSlog(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
