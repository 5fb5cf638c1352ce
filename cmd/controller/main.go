package main

import (
	"context"
	"encoding/json"
	"fmt"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/ahrav/postflow/internal/app/enrichment"
	"github.com/ahrav/postflow/internal/app/lifecycle"
	appscheduling "github.com/ahrav/postflow/internal/app/scheduling"
	"github.com/ahrav/postflow/internal/config/fileloader"
	"github.com/ahrav/postflow/internal/domain/content"
	"github.com/ahrav/postflow/internal/domain/events"
	"github.com/ahrav/postflow/internal/infra/eventbus/kafka"
	memorybus "github.com/ahrav/postflow/internal/infra/eventbus/memory"
	"github.com/ahrav/postflow/internal/infra/gateway/gemini"
	"github.com/ahrav/postflow/internal/infra/gateway/linkedin"
	contentstore "github.com/ahrav/postflow/internal/infra/storage/content/postgres"
	credsmemory "github.com/ahrav/postflow/internal/infra/storage/credentials/memory"
	schedstore "github.com/ahrav/postflow/internal/infra/storage/scheduling/postgres"
	"github.com/ahrav/postflow/pkg/common"
	"github.com/ahrav/postflow/pkg/common/logger"
	"github.com/ahrav/postflow/pkg/common/otel"
	"github.com/ahrav/postflow/pkg/common/uuid"
)

const serviceType = "post-controller"

func main() {
	_, _ = maxprocs.Set()

	hostname, err := os.Hostname()
	if err != nil {
		stdlog.Fatalf("failed to get hostname: %v", err)
	}

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}
			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}
			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n", r.Message, errorAttrsJSON)
		},
	}

	traceIDFn := func(ctx context.Context) string { return otel.GetTraceID(ctx) }

	svcName := fmt.Sprintf("POST-CONTROLLER-%s", hostname)
	metadata := map[string]string{
		"service":  svcName,
		"hostname": hostname,
		"app":      serviceType,
	}
	log := logger.NewWithMetadata(os.Stdout, logger.LevelDebug, svcName, traceIDFn, logEvents, metadata)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := fileloader.NewFileLoader(configPath).Load(ctx)
	if err != nil {
		log.Error(ctx, "failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}

	var tracer trace.Tracer
	if cfg.Telemetry.OTLPEndpoint != "" {
		tp, telemetryTeardown, err := otel.InitTelemetry(log, otel.Config{
			ServiceName:      serviceType,
			ExporterEndpoint: cfg.Telemetry.OTLPEndpoint,
			ExcludedRoutes: map[string]struct{}{
				"/v1/health":    {},
				"/v1/readiness": {},
			},
			Probability:      cfg.Telemetry.SampleRate,
			InsecureExporter: true, // TODO: Come back to setup TLS.
		})
		if err != nil {
			log.Error(ctx, "failed to initialize telemetry", "error", err)
			os.Exit(1)
		}
		defer telemetryTeardown(ctx)
		tracer = tp.Tracer(serviceType)
	} else {
		tracer = noop.NewTracerProvider().Tracer(serviceType)
	}

	ready := &atomic.Bool{}
	healthServer := common.NewHealthServer(ready)
	defer func() {
		if err := healthServer.Server().Shutdown(ctx); err != nil {
			log.Error(ctx, "Error shutting down health server", "error", err)
		}
	}()

	poolCfg, err := pgxpool.ParseConfig(cfg.Postgres.DSN)
	if err != nil {
		log.Error(ctx, "failed to parse db config", "error", err)
		os.Exit(1)
	}
	poolCfg.MinConns = 5
	poolCfg.MaxConns = 20
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		log.Error(ctx, "failed to open db", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := runMigrations(pool, cfg.Postgres.MigrationsPath); err != nil {
		log.Error(ctx, "failed to run migrations", "error", err)
		os.Exit(1)
	}
	log.Info(ctx, "Migrations applied successfully. Starting application...")

	postRepo := contentstore.NewPostStore(pool, tracer)
	jobRepo := schedstore.NewJobStore(pool, tracer)

	credStore := credsmemory.NewCredentialStore()
	for _, acct := range cfg.LinkedIn.Accounts {
		ownerID, err := uuid.Parse(acct.OwnerID)
		if err != nil {
			log.Error(ctx, "invalid owner id in linkedin accounts", "owner_id", acct.OwnerID, "error", err)
			os.Exit(1)
		}
		credStore.Put(ownerID, content.Credential{
			AccessToken: acct.AccessToken,
			MemberID:    acct.MemberID,
			ExpiresAt:   acct.ExpiresAt,
		})
	}

	var eventBus events.EventBus
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaBus, err := kafka.ConnectWithRetry(ctx, &kafka.Config{
			Brokers:         cfg.Kafka.Brokers,
			PostEventsTopic: cfg.Kafka.PostEventsTopic,
			GroupID:         cfg.Kafka.GroupID,
			ClientID:        svcName,
		}, log, tracer)
		if err != nil {
			log.Error(ctx, "failed to connect event bus", "error", err)
			os.Exit(1)
		}
		eventBus = kafkaBus
	} else {
		log.Warn(ctx, "No Kafka brokers configured; using in-memory event bus")
		eventBus = memorybus.NewEventBus()
	}
	defer func() {
		if err := eventBus.Close(); err != nil {
			log.Error(ctx, "Failed to close event bus", "error", err)
		}
	}()
	eventPublisher := kafka.NewDomainEventPublisher(eventBus)

	publisher := linkedin.NewPublisher(linkedin.DefaultHTTPClient(), tracer)
	if cfg.LinkedIn.BaseURL != "" {
		publisher = linkedin.NewPublisherWithBaseURL(linkedin.DefaultHTTPClient(), cfg.LinkedIn.BaseURL, tracer)
	}

	scorer := gemini.NewScorer(&http.Client{Timeout: 30 * time.Second}, cfg.Gemini.APIKey, tracer)
	if cfg.Gemini.BaseURL != "" {
		scorer = gemini.NewScorerWithBaseURL(&http.Client{Timeout: 30 * time.Second}, cfg.Gemini.BaseURL, cfg.Gemini.APIKey, tracer)
	}

	runner := enrichment.NewRunner(enrichment.Config{
		Workers:      cfg.Enrichment.Workers,
		QueueSize:    cfg.Enrichment.QueueSize,
		ScoreTimeout: cfg.Enrichment.ScoreTimeout,
	}, scorer, postRepo, eventPublisher, log, tracer)

	// The engine fires into the lifecycle service, which in turn registers
	// jobs with the engine; break the cycle with a late-bound handler.
	var svc *lifecycle.Service
	engine := appscheduling.NewEngine(appscheduling.Config{
		PollInterval:       cfg.Scheduler.PollInterval,
		BatchSize:          cfg.Scheduler.BatchSize,
		MaxConcurrentFires: cfg.Scheduler.MaxConcurrentFires,
	}, jobRepo, func(ctx context.Context, jobID uuid.UUID) error {
		return svc.HandleJobFired(ctx, jobID)
	}, log, tracer)

	svc = lifecycle.NewService(lifecycle.Config{
		PublishTimeout: cfg.LinkedIn.PublishTimeout,
	}, postRepo, credStore, publisher, engine, runner, eventPublisher, log, tracer)

	runner.Start(ctx)
	engine.Start(ctx)
	ready.Store(true)
	log.Info(ctx, "Post lifecycle controller started")

	sig := <-sigCh
	log.Info(ctx, "Received shutdown signal", "signal", sig)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	engine.Stop()
	runner.Stop()
	log.Info(shutdownCtx, "Post lifecycle controller stopped")
}

// runMigrations uses golang-migrate to apply all up migrations. A database
// already at the latest version is not an error.
func runMigrations(pool *pgxpool.Pool, migrationsPath string) error {
	db := stdlib.OpenDBFromPool(pool)

	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		return fmt.Errorf("could not create pgx driver: %w", err)
	}

	if migrationsPath == "" {
		migrationsPath = "file://db/migrations"
	}
	m, err := migrate.NewWithDatabaseInstance(migrationsPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}
