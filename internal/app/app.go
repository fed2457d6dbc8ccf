// Package app assembles the verification service and its supporting
// infrastructure from configuration.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"veriface/internal/collaborators/httpclient"
	"veriface/internal/ephemeral"
	"veriface/internal/fusion"
	httpapi "veriface/internal/http"
	"veriface/internal/index"
	"veriface/internal/platform/config"
	"veriface/internal/platform/httpserver"
	"veriface/internal/platform/metrics"
	"veriface/internal/platform/postgres"
	platformredis "veriface/internal/platform/redis"
	"veriface/internal/verification"
	vmetrics "veriface/internal/verification/metrics"
	"veriface/internal/verification/ports"
	"veriface/pkg/platform/audit"
	"veriface/pkg/platform/audit/consumer"
	"veriface/pkg/platform/audit/publisher"
	kafkastore "veriface/pkg/platform/audit/store/kafka"
	"veriface/pkg/platform/audit/store/memory"
	pgstore "veriface/pkg/platform/audit/store/postgres"
	"veriface/pkg/platform/circuit"
)

// App owns every long-lived component. Close releases them in reverse
// order of construction.
type App struct {
	Service   *verification.Service
	Publisher *publisher.Publisher
	Sweeper   *ephemeral.Sweeper
	// Consumer materializes the kafka audit topic into postgres. It is nil
	// unless both are configured.
	Consumer *consumer.Consumer
	Ops      *httpapi.Handler
	Store    *ephemeral.Store

	cfg     *config.Config
	logger  *slog.Logger
	closers []func() error
}

// New builds the application. On error everything built so far is closed.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, tp trace.TracerProvider) (_ *App, err error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	var opsOpts []httpapi.Option
	reg := prometheus.Registerer(m.Registry)

	for _, dir := range []string{cfg.Pipeline.WorkDir, cfg.Retention.ArtifactDir} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	// Ephemeral storage and retention.
	emetrics := ephemeral.NewMetrics(reg)
	a.Store = ephemeral.NewStore(ephemeral.WithLogger(logger), ephemeral.WithMetrics(emetrics))
	a.closers = append(a.closers, a.Store.Close)

	policies, err := cfg.Retention.ParsePolicies()
	if err != nil {
		return nil, err
	}
	registry, err := ephemeral.NewRegistry(policies,
		ephemeral.WithRegistryLogger(logger),
		ephemeral.WithRegistryMetrics(emetrics),
	)
	if err != nil {
		return nil, err
	}
	a.Sweeper = ephemeral.NewSweeper(registry, cfg.Retention.PurgeInterval, logger, cfg.Retention.ArtifactDir)

	var encryption *ephemeral.EncryptedFileManager
	key, err := cfg.Retention.Key()
	if err != nil {
		return nil, err
	}
	if key != nil {
		encryption, err = ephemeral.NewEncryptedFileManager(a.Store, key)
		if err != nil {
			return nil, err
		}
	}

	// Embedding index.
	idx, check, err := a.buildIndex(ctx)
	if err != nil {
		return nil, err
	}
	if check != nil {
		opsOpts = append(opsOpts, httpapi.WithCheck("redis", check))
	}

	// Audit trail.
	auditStore, lister, auditChecks, err := a.buildAudit(ctx)
	if err != nil {
		return nil, err
	}
	opsOpts = append(opsOpts, auditChecks...)
	a.Publisher = publisher.NewPublisher(auditStore,
		publisher.WithAsyncBuffer(cfg.Audit.AsyncBuffer),
		publisher.WithLogger(logger),
		publisher.WithMetrics(publisher.NewMetrics(reg)),
		publisher.WithBreaker(circuit.New("audit",
			circuit.WithFailureThreshold(cfg.Collab.BreakerFailures),
			circuit.WithCooldown(cfg.Collab.BreakerCooldown),
		)),
		publisher.WithSampler(publisher.NewSampler(cfg.Audit.SampleRate)),
	)
	// Registered after the backends so it drains before they close.
	a.closers = append(a.closers, a.Publisher.Close)

	a.Sweeper.SetPurgeHook(func(dir string, n int) {
		err := a.Publisher.Emit(context.Background(), audit.Event{
			RequestID: "retention-sweeper",
			Action:    string(audit.EventArtifactsPurged),
			Detail:    strconv.Itoa(n) + " files",
		})
		if err != nil {
			logger.Warn("audit purge event dropped", "dir", dir, "error", err)
		}
	})

	// Collaborators.
	collab, err := a.buildCollaborators(reg, idx)
	if err != nil {
		return nil, err
	}

	opts := []verification.Option{
		verification.WithLogger(logger),
		verification.WithMetrics(vmetrics.New(reg)),
		verification.WithAuditor(a.Publisher),
		verification.WithRetention(registry),
	}
	if tp != nil {
		opts = append(opts, verification.WithTracerProvider(tp))
	}
	if encryption != nil {
		opts = append(opts, verification.WithEncryption(encryption))
	}
	a.Service, err = verification.New(collab, a.Store, cfg.Verification(), opts...)
	if err != nil {
		return nil, err
	}

	if lister != nil {
		opsOpts = append(opsOpts, httpapi.WithAudit(lister, cfg.OpsToken))
	}
	a.Ops = httpapi.New(logger, m, opsOpts...)
	return a, nil
}

func (a *App) buildIndex(ctx context.Context) (ports.Index, httpapi.Check, error) {
	cfg := a.cfg
	if cfg.Index.Backend != config.IndexRedis {
		idx, err := index.NewMemory(cfg.Index.Dimension)
		return idx, nil, err
	}
	client, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	a.closers = append(a.closers, client.Close)
	idx, err := index.NewRedis(client.Client, cfg.Index.Dimension, index.WithKey(cfg.Index.Key))
	if err != nil {
		return nil, nil, err
	}
	return idx, client.Health, nil
}

func (a *App) buildAudit(ctx context.Context) (audit.Store, audit.Lister, []httpapi.Option, error) {
	cfg := a.cfg
	var checks []httpapi.Option

	var pg *pgstore.Store
	if cfg.Audit.PostgresDSN != "" && cfg.Audit.Backend != config.AuditMemory {
		db, err := postgres.Open(ctx, cfg.Audit.PostgresDSN)
		if err != nil {
			return nil, nil, nil, err
		}
		a.closers = append(a.closers, db.Close)
		pg = pgstore.New(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, nil, nil, err
		}
		checks = append(checks, httpapi.WithCheck("postgres", pingDB(db)))
	}

	switch cfg.Audit.Backend {
	case config.AuditPostgres:
		return pg, pg, checks, nil

	case config.AuditKafka:
		producer, err := kgo.NewClient(kgo.SeedBrokers(cfg.Audit.KafkaBrokers...))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("kafka producer: %w", err)
		}
		a.closers = append(a.closers, closeKafka(producer))
		if err := kafkastore.EnsureTopic(ctx, producer, cfg.Audit.KafkaTopic, cfg.Audit.KafkaPartitions, cfg.Audit.KafkaReplicas); err != nil {
			return nil, nil, nil, err
		}
		store, err := kafkastore.New(producer, kafkastore.WithTopic(cfg.Audit.KafkaTopic))
		if err != nil {
			return nil, nil, nil, err
		}
		checks = append(checks, httpapi.WithCheck("kafka", producer.Ping))

		if pg == nil || cfg.Audit.KafkaGroup == "" {
			return store, nil, checks, nil
		}
		if err := a.buildConsumer(pg); err != nil {
			return nil, nil, nil, err
		}
		return store, pg, checks, nil

	default:
		mem := memory.NewInMemoryStore()
		return mem, mem, checks, nil
	}
}

// buildConsumer materializes compliance and security events into pg.
// Operations events join them only when PersistOperations is set.
func (a *App) buildConsumer(pg *pgstore.Store) error {
	cfg := a.cfg
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Audit.KafkaBrokers...),
		kgo.ConsumerGroup(cfg.Audit.KafkaGroup),
		kgo.ConsumeTopics(cfg.Audit.KafkaTopic),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return fmt.Errorf("kafka consumer: %w", err)
	}
	a.closers = append(a.closers, closeKafka(client))

	router := consumer.NewRouter(a.logger, nil)
	router.Register(audit.CategoryCompliance, pg)
	router.Register(audit.CategorySecurity, pg)
	if cfg.Audit.PersistOperations {
		router.Register(audit.CategoryOperations, pg)
	}
	a.Consumer, err = consumer.New(client, consumer.NewMaterializer(router, a.logger, consumer.WithBatchTx(pg)), a.logger)
	return err
}

func (a *App) buildCollaborators(reg prometheus.Registerer, idx ports.Index) (verification.Collaborators, error) {
	cfg := a.cfg.Collab
	client, err := httpclient.New(cfg.BaseURL,
		httpclient.WithHTTPClient(&http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}),
		httpclient.WithLogger(a.logger),
		httpclient.WithMetrics(httpclient.NewMetrics(reg)),
		httpclient.WithBreaker(
			circuit.WithFailureThreshold(cfg.BreakerFailures),
			circuit.WithSuccessThreshold(cfg.BreakerSuccesses),
			circuit.WithCooldown(cfg.BreakerCooldown),
		),
	)
	if err != nil {
		return verification.Collaborators{}, err
	}

	collab := verification.Collaborators{
		Reader:        client,
		Liveness:      client,
		Reconstructor: client,
		Registrar:     client,
		Fuser:         client,
		Embedder:      client,
		Index:         idx,
	}
	if cfg.Detector {
		collab.Detector = client
	}
	if cfg.InProcessFuser {
		collab.Fuser = fusion.NewHeightField()
	}
	return collab, nil
}

// Run serves the ops endpoints and runs the background workers until ctx
// is done or one of them fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ignoreCanceled(a.Sweeper.Run(gctx))
	})
	if a.Consumer != nil {
		g.Go(func() error {
			return ignoreCanceled(a.Consumer.Run(gctx))
		})
	}
	g.Go(func() error {
		srv := httpserver.New(a.cfg.Addr, a.Ops.Router())
		return httpserver.Run(gctx, srv, a.cfg.ShutdownTimeout, a.logger)
	})
	return g.Wait()
}

// Close releases everything New built.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func pingDB(db *sql.DB) httpapi.Check {
	return db.PingContext
}

func closeKafka(c *kgo.Client) func() error {
	return func() error {
		c.Close()
		return nil
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
