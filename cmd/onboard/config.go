package main

import (
	"time"

	"github.com/influxdata/onboarding/events"
	"github.com/influxdata/onboarding/identity"
	"github.com/influxdata/onboarding/kit/cli"
	"github.com/influxdata/onboarding/logger"
	"github.com/influxdata/onboarding/retry"
	"github.com/influxdata/onboarding/tenant"
	"go.uber.org/zap/zapcore"
)

const (
	retryStoreSQLite = "sqlite"
	retryStoreRedis  = "redis"

	tracingJaeger = "jaeger"
)

// config holds every option shared by the onboard subcommands. Each option
// can also be set through an ONBOARD_ prefixed environment variable.
type config struct {
	SqlitePath string
	PlansFile  string
	Mode       string
	MachineID  int

	IdpURL     string
	IdpToken   string
	IdpTimeout time.Duration
	IdpRetries int

	KafkaBrokers     []string
	KafkaTopicPrefix string

	RetryStore string
	RedisAddr  string
	RetryTTL   time.Duration

	SourceApplication   string
	SnapshotConsumer    string
	RedirectURLTemplate string

	LogLevel    zapcore.Level
	LogFormat   string
	TracingType string
}

func newConfig() *config {
	return &config{}
}

func (c *config) opts() []cli.Opt {
	logCfg := logger.NewConfig()
	opts := []cli.Opt{
		{
			DestP:   &c.SqlitePath,
			Flag:    "sqlite-path",
			Default: "onboarding.sqlite",
			Desc:    "path to the sqlite database holding tenants, retry state and the outbox",
		},
		{
			DestP:   &c.MachineID,
			Flag:    "machine-id",
			Default: -1,
			Desc:    "snowflake node for generated ids, 0 to 1023; random when negative",
		},
		{
			DestP: &c.PlansFile,
			Flag:  "plans-file",
			Desc:  "YAML, JSON or TOML file replacing the built-in plan catalog",
		},
		{
			DestP:   &c.Mode,
			Flag:    "mode",
			Default: "production",
			Desc:    "operating mode sizing trial windows: production or fast-iteration",
		},
		{
			DestP: &c.IdpURL,
			Flag:  "idp-url",
			Desc:  "base URL of the identity provider management API; identities fall back to local codes when empty",
		},
		{
			DestP: &c.IdpToken,
			Flag:  "idp-token",
			Desc:  "machine-to-machine bearer token for the identity provider",
		},
		{
			DestP:   &c.IdpTimeout,
			Flag:    "idp-timeout",
			Default: identity.DefaultTimeout,
			Desc:    "time budget for a single identity provider call",
		},
		{
			DestP:   &c.IdpRetries,
			Flag:    "idp-retries",
			Default: 2,
			Desc:    "retries of a failed identity provider request",
		},
		{
			DestP: &c.KafkaBrokers,
			Flag:  "kafka-brokers",
			Desc:  "kafka brokers receiving provisioning events; events are logged when empty",
		},
		{
			DestP:   &c.KafkaTopicPrefix,
			Flag:    "kafka-topic-prefix",
			Default: "provisioning",
			Desc:    "prefix of the per-application provisioning topics",
		},
		{
			DestP:   &c.RetryStore,
			Flag:    "retry-store",
			Default: retryStoreSQLite,
			Desc:    "where failed attempts are kept: sqlite or redis",
		},
		{
			DestP:   &c.RedisAddr,
			Flag:    "redis-addr",
			Default: "localhost:6379",
			Desc:    "redis address used when --retry-store=redis",
		},
		{
			DestP:   &c.RetryTTL,
			Flag:    "retry-ttl",
			Default: retry.DefaultRedisTTL,
			Desc:    "how long redis keeps an abandoned attempt",
		},
		{
			DestP:   &c.SourceApplication,
			Flag:    "source-application",
			Default: events.DefaultSourceApplication,
			Desc:    "sourceApplication stamped on published events",
		},
		{
			DestP: &c.SnapshotConsumer,
			Flag:  "snapshot-consumer",
			Desc:  "application receiving the tenant snapshot event through the outbox",
		},
		{
			DestP:   &c.RedirectURLTemplate,
			Flag:    "redirect-url-template",
			Default: tenant.DefaultRedirectURLTemplate,
			Desc:    "redirect URL for already onboarded tenants, {subdomain} is substituted",
		},
		{
			DestP:   &c.LogLevel,
			Flag:    "log-level",
			Default: logCfg.Level,
			Desc:    "supported log levels are debug, info, warn and error",
		},
		{
			DestP:   &c.LogFormat,
			Flag:    "log-format",
			Default: logCfg.Format,
			Desc:    "log format: auto, console, logfmt or json",
		},
		{
			DestP: &c.TracingType,
			Flag:  "tracing-type",
			Desc:  "supported tracing types are jaeger; configured through JAEGER_ environment variables",
		},
	}
	for i := range opts {
		opts[i].Persistent = true
	}
	return opts
}

func (c *config) logConfig() *logger.Config {
	return &logger.Config{
		Format: c.LogFormat,
		Level:  c.LogLevel,
	}
}
