package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/influxdata/onboarding/events"
	"github.com/influxdata/onboarding/events/kafka"
	"github.com/influxdata/onboarding/identity"
	identityhttp "github.com/influxdata/onboarding/identity/http"
	"github.com/influxdata/onboarding/plan"
	"github.com/influxdata/onboarding/retry"
	"github.com/influxdata/onboarding/snowflake"
	"github.com/influxdata/onboarding/sqlite"
	"github.com/influxdata/onboarding/sqlite/migrations"
	"github.com/influxdata/onboarding/tenant"
	"github.com/opentracing/opentracing-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/common/expfmt"
	"github.com/redis/go-redis/v9"
	jaegerconfig "github.com/uber/jaeger-client-go/config"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// launcher owns the resources opened for one command invocation.
type launcher struct {
	cfg *config
	log *zap.Logger
	reg *prometheus.Registry

	sqlStore *sqlite.SqlStore
	store    *tenant.Store

	closers []func() error
}

// openLauncher opens the logger, tracer and database, and brings the schema
// up to date.
func openLauncher(ctx context.Context, cfg *config, w io.Writer) (*launcher, error) {
	log, err := cfg.logConfig().New(w)
	if err != nil {
		return nil, err
	}
	l := &launcher{
		cfg: cfg,
		log: log,
		reg: prometheus.NewRegistry(),
	}
	l.reg.MustRegister(collectors.NewGoCollector())
	l.closers = append(l.closers, func() error {
		_ = log.Sync()
		return nil
	})

	if cfg.MachineID >= 0 {
		if err := snowflake.SetGlobalMachineID(cfg.MachineID); err != nil {
			_ = l.Close()
			return nil, err
		}
	}

	if err := l.setupTracing(); err != nil {
		_ = l.Close()
		return nil, err
	}

	l.sqlStore, err = sqlite.NewSqlStore(cfg.SqlitePath, log.With(zap.String("service", "sqlite")))
	if err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("failed to open sqlite store: %w", err)
	}
	l.closers = append(l.closers, l.sqlStore.Close)

	if err := sqlite.NewMigrator(l.sqlStore, log.With(zap.String("service", "migrations"))).Up(ctx, migrations.AllUp); err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("failed to migrate sqlite store: %w", err)
	}

	l.store = tenant.NewStore(l.sqlStore, log.With(zap.String("store", "tenant")))
	return l, nil
}

func (l *launcher) setupTracing() error {
	switch l.cfg.TracingType {
	case "":
		return nil
	case tracingJaeger:
		l.log.Info("Tracing via Jaeger")
		cfg, err := jaegerconfig.FromEnv()
		if err != nil {
			return fmt.Errorf("failed to get jaeger client config: %w", err)
		}
		if cfg.ServiceName == "" {
			cfg.ServiceName = "onboard"
		}
		tracer, closer, err := cfg.NewTracer()
		if err != nil {
			return fmt.Errorf("failed to create jaeger tracer: %w", err)
		}
		opentracing.SetGlobalTracer(tracer)
		l.closers = append(l.closers, closer.Close)
		return nil
	default:
		return fmt.Errorf("unknown tracing type %q", l.cfg.TracingType)
	}
}

func (l *launcher) plans() (*plan.Resolver, error) {
	if l.cfg.PlansFile == "" {
		return plan.Default(), nil
	}
	return plan.Load(l.cfg.PlansFile)
}

func (l *launcher) retryStore() (retry.Store, error) {
	switch l.cfg.RetryStore {
	case retryStoreSQLite, "":
		return retry.NewSQLStore(l.sqlStore, l.log.With(zap.String("store", "retry"))), nil
	case retryStoreRedis:
		client := redis.NewClient(&redis.Options{Addr: l.cfg.RedisAddr})
		l.closers = append(l.closers, client.Close)
		return retry.NewRedisStore(client, l.cfg.RetryTTL, l.log.With(zap.String("store", "retry"))), nil
	default:
		return nil, fmt.Errorf("unknown retry store %q, expected %q or %q", l.cfg.RetryStore, retryStoreSQLite, retryStoreRedis)
	}
}

func (l *launcher) provider() identity.Provider {
	if l.cfg.IdpURL == "" {
		l.log.Warn("No identity provider configured, using local identity codes")
		return identity.NopProvider{}
	}
	return identityhttp.NewClient(identityhttp.Config{
		URL:        l.cfg.IdpURL,
		Token:      l.cfg.IdpToken,
		Timeout:    l.cfg.IdpTimeout,
		RetryCount: l.cfg.IdpRetries,
	}, l.log.With(zap.String("service", "identity")))
}

func (l *launcher) transport() (events.Transport, error) {
	if len(l.cfg.KafkaBrokers) == 0 {
		return events.NewLogTransport(l.log.With(zap.String("service", "events"))), nil
	}
	t, err := kafka.NewTransport(l.cfg.KafkaBrokers, l.cfg.KafkaTopicPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka transport: %w", err)
	}
	l.closers = append(l.closers, t.Close)
	return t, nil
}

func (l *launcher) outbox() *events.Outbox {
	return events.NewOutbox(l.sqlStore, l.log.With(zap.String("service", "outbox")))
}

// onboardService wires the saga with every dependency selected by the config.
func (l *launcher) onboardService() (*tenant.OnboardService, error) {
	mode, err := plan.ParseMode(l.cfg.Mode)
	if err != nil {
		return nil, err
	}
	plans, err := l.plans()
	if err != nil {
		return nil, err
	}
	retries, err := l.retryStore()
	if err != nil {
		return nil, err
	}
	transport, err := l.transport()
	if err != nil {
		return nil, err
	}

	publisher := events.NewPublisher(l.store, transport, l.outbox(), events.PublisherConfig{
		SourceApplication: l.cfg.SourceApplication,
		SnapshotConsumer:  l.cfg.SnapshotConsumer,
	}, l.log.With(zap.String("service", "publisher")), l.reg)

	provisioner := identity.NewProvisioner(l.provider(), l.log.With(zap.String("service", "provisioner")),
		identity.WithTimeout(l.cfg.IdpTimeout))

	return tenant.NewOnboardService(l.store, plans, provisioner, retries, publisher, tenant.OnboardServiceConfig{
		Mode:                mode,
		RedirectURLTemplate: l.cfg.RedirectURLTemplate,
	}, l.log.With(zap.String("service", "onboarding"))), nil
}

// writeMetrics dumps the registry in the prometheus text format.
func (l *launcher) writeMetrics(path string) (err error) {
	mfs, err := l.reg.Gather()
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, f.Close())
	}()
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(f, mf); err != nil {
			return err
		}
	}
	return nil
}

// Close releases resources in reverse order of opening.
func (l *launcher) Close() error {
	var err error
	for i := len(l.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, l.closers[i]())
	}
	l.closers = nil
	return err
}
