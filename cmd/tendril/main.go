package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/go-playground/validator/v10"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/sdk/trace"

	"github.com/Ramsey-B/tendril/config"
	"github.com/Ramsey-B/tendril/internal/changefeed"
	clientrepo "github.com/Ramsey-B/tendril/internal/repositories/client"
	"github.com/Ramsey-B/tendril/pkg/database"
	"github.com/Ramsey-B/tendril/pkg/events"
	"github.com/Ramsey-B/tendril/pkg/gcal"
	"github.com/Ramsey-B/tendril/pkg/ingest"
	"github.com/Ramsey-B/tendril/pkg/kafka"
	"github.com/Ramsey-B/tendril/pkg/lock"
	"github.com/Ramsey-B/tendril/pkg/logging"
	"github.com/Ramsey-B/tendril/pkg/propagate"
	"github.com/Ramsey-B/tendril/pkg/routes/health"
	"github.com/Ramsey-B/tendril/pkg/runner"
	"github.com/Ramsey-B/tendril/pkg/schedule"
	"github.com/Ramsey-B/tendril/pkg/sheets"
	"github.com/Ramsey-B/tendril/pkg/startup"
	"github.com/Ramsey-B/tendril/pkg/tracing"
)

const version = "1.0.0"

func main() {
	_ = godotenv.Load()

	var cfg config.Config
	if err := ectoenv.BindEnv(&cfg); err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger, logCloser := logging.New(logging.Options{
		FilePath:   cfg.LogFilePath,
		MaxSizeMB:  cfg.LogFileMaxSizeMB,
		MaxBackups: cfg.LogFileMaxBackups,
	})
	defer logCloser.Close()

	tracerProvider := trace.NewTracerProvider()
	tracing.SetTracer(tracerProvider.Tracer(cfg.AppName))
	defer tracerProvider.Shutdown(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	instanceLock := lock.New(cfg.LockFilePath, logger)

	var db *sqlx.DB
	var repo *clientrepo.Repository
	var producer *kafka.Producer
	var runLoops *runner.Runner
	server := echo.New()
	server.HideBanner = true

	boot := startup.New(logger, cfg.StartupMaxAttempts)

	boot.Add(startup.Func{
		Name: "instance-lock",
		StartFn: func(ctx context.Context) error {
			return instanceLock.Acquire()
		},
		StopFn: func(ctx context.Context) error {
			return instanceLock.Release()
		},
	})

	boot.Add(startup.Func{
		Name:     "database",
		Requires: []string{"instance-lock"},
		StartFn: func(ctx context.Context) error {
			opened, err := database.Open(ctx, database.Options{
				Host:            cfg.DatabaseHost,
				Port:            cfg.DatabasePort,
				User:            cfg.DatabaseUserName,
				Password:        cfg.DatabasePassword,
				Name:            cfg.DatabaseName,
				SSLMode:         cfg.DatabaseSSLMode,
				MaxOpenConns:    cfg.DatabaseMaxOpenConns,
				MaxIdleConns:    cfg.DatabaseMaxIdleConns,
				ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
			}, logger)
			if err != nil {
				return err
			}
			db = opened
			return nil
		},
		StopFn: func(ctx context.Context) error {
			return db.Close()
		},
	})

	boot.Add(startup.Func{
		Name:     "migrations",
		Requires: []string{"database"},
		StartFn: func(ctx context.Context) error {
			driver, err := migratepg.WithInstance(db.DB, &migratepg.Config{})
			if err != nil {
				return err
			}
			return database.NewMigrationService(database.MigrationConfig{
				FolderPath:   cfg.DatabaseMigrationFolderPath,
				Version:      uint(cfg.DatabaseMigrationVersion),
				Force:        cfg.DatabaseMigrationForce,
				AutoRollback: cfg.DatabaseMigrationAutoRollback,
			}, logger).Migrate(cfg.DatabaseName, driver)
		},
	})

	boot.Add(startup.Func{
		Name:     "kafka",
		Requires: []string{"migrations"},
		StartFn: func(ctx context.Context) error {
			if !cfg.KafkaEnabled {
				logger.Info("Kafka disabled, lifecycle events will not be published")
				return nil
			}
			producer = kafka.NewProducer(kafka.ProducerConfig{
				Brokers:      cfg.KafkaBrokers,
				Topic:        cfg.KafkaOutputTopic,
				BatchSize:    cfg.KafkaBatchSize,
				BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
				RequiredAcks: cfg.KafkaRequiredAcks,
				Compression:  cfg.KafkaCompression,
			}, logger)
			return nil
		},
		StopFn: func(ctx context.Context) error {
			if producer == nil {
				return nil
			}
			return producer.Close()
		},
	})

	boot.Add(startup.Func{
		Name:     "sync-loops",
		Requires: []string{"kafka"},
		StartFn: func(ctx context.Context) error {
			repo = clientrepo.New(db, logger)

			sheet := sheets.NewClient(sheets.Config{
				BaseURL:       cfg.SheetBaseURL,
				Token:         cfg.SheetToken,
				SpreadsheetID: cfg.SpreadsheetID,
				Timeout:       cfg.SheetRequestTimeout,
				PacingDelay:   cfg.SheetPacingDelay,
			}, logger)

			calendar := gcal.NewSyncer(gcal.NewClient(gcal.Config{
				BaseURL: cfg.CalendarBaseURL,
				Token:   cfg.CalendarToken,
				Timeout: cfg.CalendarRequestTimeout,
			}, logger), cfg.CalendarID, cfg.CalendarInstallID, logger)

			var emitter *events.Emitter
			if producer != nil {
				emitter = events.NewEmitter(producer, logger)
			} else {
				emitter = events.NewEmitter(nil, logger)
			}

			ingestPipeline := ingest.New(sheet, repo, emitter, cfg.GracePeriod, logger)
			propagatePipeline := propagate.New(sheet, repo, calendar, emitter, schedule.Calendar{
				UnitsPerDay: cfg.LEDsPerDay,
				StartHour:   cfg.WorkStartHour,
				EndHour:     cfg.WorkEndHour,
			}, logger)

			feed := changefeed.New(database.Options{
				Host:     cfg.DatabaseHost,
				Port:     cfg.DatabasePort,
				User:     cfg.DatabaseUserName,
				Password: cfg.DatabasePassword,
				Name:     cfg.DatabaseName,
				SSLMode:  cfg.DatabaseSSLMode,
			}.ConnectionString(), cfg.ChangeFeedChannel, logger)

			runLoops = runner.New(runner.Config{
				IngestInterval: cfg.IngestInterval,
				PollInterval:   cfg.PollInterval,
				QuietPeriod:    cfg.DebounceQuietPeriod,
			}, ingestPipeline, propagatePipeline, repo, feed, instanceLock, logger)

			go runLoops.Run(ctx)
			return nil
		},
	})

	if err := boot.Start(ctx); err != nil {
		logger.WithError(err).Error("Startup failed")
		boot.Stop(context.Background())
		os.Exit(1)
	}

	checker := health.NewChecker(db, instanceLock, version)
	checker.RegisterRoutes(server)
	checker.SetReady(true)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		if err := server.Start(addr); err != nil {
			logger.WithError(err).Info("HTTP server stopped")
		}
	}()

	logger.WithFields(map[string]any{"app": cfg.AppName, "version": version}).
		Info("Sync service started")

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	checker.SetReady(false)
	_ = server.Shutdown(shutdownCtx)
	boot.Stop(shutdownCtx)
}
