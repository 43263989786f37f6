package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/influxdata/onboarding"
	"github.com/influxdata/onboarding/events"
	"github.com/influxdata/onboarding/kit/cli"
	"github.com/influxdata/onboarding/kit/platform"
	"github.com/influxdata/onboarding/tenant"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// newOnboardCommand builds the onboard command tree. Subcommands share the
// persistent options of the root command.
func newOnboardCommand(v *viper.Viper) (*cobra.Command, error) {
	cfg := newConfig()
	cmd, err := cli.NewCommand(v, &cli.Program{
		Name: "onboard",
		Opts: cfg.opts(),
	})
	if err != nil {
		return nil, err
	}
	cmd.Short = "Tenant onboarding"

	builders := []func(*viper.Viper, *config) (*cobra.Command, error){
		migrateCmd,
		registryCmd,
		runCmd,
		retryStateCmd,
		repairCmd,
		incompleteCmd,
		relayCmd,
	}
	for _, b := range builders {
		sub, err := b(v, cfg)
		if err != nil {
			return nil, err
		}
		cmd.AddCommand(sub)
	}
	return cmd, nil
}

// withLauncher opens a launcher for the duration of fn.
func withLauncher(cmd *cobra.Command, cfg *config, fn func(ctx context.Context, l *launcher) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	l, err := openLauncher(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer l.Close()
	return fn(ctx, l)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func migrateCmd(_ *viper.Viper, cfg *config) (*cobra.Command, error) {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Bring the sqlite schema up to date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withLauncher(cmd, cfg, func(_ context.Context, l *launcher) error {
				l.log.Info("Schema is up to date", zap.String("path", l.sqlStore.Path()))
				return nil
			})
		},
	}, nil
}

func registryCmd(v *viper.Viper, cfg *config) (*cobra.Command, error) {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Manage the application registry",
	}

	var file string
	seed := &cobra.Command{
		Use:   "seed",
		Short: "Create or update applications and modules from a registry file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries, err := tenant.LoadRegistry(file)
			if err != nil {
				return err
			}
			return withLauncher(cmd, cfg, func(ctx context.Context, l *launcher) error {
				if err := l.store.SeedRegistry(ctx, entries); err != nil {
					return err
				}
				l.log.Info("Application registry seeded", zap.Int("applications", len(entries)))
				return nil
			})
		},
	}
	err := cli.BindOptions(v, seed, []cli.Opt{
		cli.NewOpt(&file, "file", "registry.yml", "YAML file listing applications and their modules"),
	})
	if err != nil {
		return nil, err
	}
	cmd.AddCommand(seed)
	return cmd, nil
}

func readPayload(cmd *cobra.Command, path string) (*onboarding.OnboardingRequest, error) {
	var r io.Reader
	if path == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var req onboarding.OnboardingRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, fmt.Errorf("failed to decode onboarding request: %w", err)
	}
	return &req, nil
}

func runCmd(v *viper.Viper, cfg *config) (*cobra.Command, error) {
	var (
		payload     string
		bearerToken string
		metricsOut  string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the onboarding saga for one request",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := readPayload(cmd, payload)
			if err != nil {
				return err
			}
			req.BearerToken = bearerToken

			return withLauncher(cmd, cfg, func(ctx context.Context, l *launcher) error {
				svc, err := l.onboardService()
				if err != nil {
					return err
				}
				var s onboarding.OnboardingService = svc
				s = tenant.NewOnboardingMetrics(l.reg, s)
				s = tenant.NewOnboardingLogger(l.log, s)

				res, err := s.RunOnboardingSaga(ctx, req)
				if err != nil {
					return err
				}

				svc.Wait()
				drainPublishErrors(l.log, svc.PublishErrors())
				if metricsOut != "" {
					if err := l.writeMetrics(metricsOut); err != nil {
						return err
					}
				}
				return writeJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	err := cli.BindOptions(v, cmd, []cli.Opt{
		cli.NewOpt(&payload, "payload", "-", "file holding the JSON onboarding request, - reads stdin"),
		cli.NewOpt(&bearerToken, "bearer-token", "", "token of the authenticated caller"),
		cli.NewOpt(&metricsOut, "metrics-out", "", "file receiving the saga metrics in prometheus text format"),
	})
	if err != nil {
		return nil, err
	}
	return cmd, nil
}

func drainPublishErrors(log *zap.Logger, errs <-chan error) {
	for {
		select {
		case err := <-errs:
			log.Warn("Provisioning event will not be retried", zap.Error(err))
		default:
			return
		}
	}
}

func retryStateCmd(v *viper.Viper, cfg *config) (*cobra.Command, error) {
	var externalID, email string
	cmd := &cobra.Command{
		Use:   "retry-state",
		Short: "Show the stored failed attempt for a caller",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withLauncher(cmd, cfg, func(ctx context.Context, l *launcher) error {
				svc, err := l.onboardService()
				if err != nil {
					return err
				}
				rec, err := svc.GetRetryState(ctx, externalID, email)
				if err != nil {
					return err
				}
				if rec == nil {
					_, err := fmt.Fprintln(cmd.OutOrStdout(), "no retry state")
					return err
				}
				return writeJSON(cmd.OutOrStdout(), rec)
			})
		},
	}
	err := cli.BindOptions(v, cmd, []cli.Opt{
		cli.NewOpt(&externalID, "external-id", "", "identity provider subject of the caller"),
		cli.NewOpt(&email, "email", "", "admin email of the failed attempt"),
	})
	if err != nil {
		return nil, err
	}
	return cmd, nil
}

func repairCmd(v *viper.Viper, cfg *config) (*cobra.Command, error) {
	var tenantID string
	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Verify an incomplete tenant, restore missing records and mark it onboarded",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := platform.IDFromString(tenantID)
			if err != nil {
				return fmt.Errorf("invalid tenant id %q: %w", tenantID, err)
			}
			return withLauncher(cmd, cfg, func(ctx context.Context, l *launcher) error {
				svc, err := l.onboardService()
				if err != nil {
					return err
				}
				ver, err := svc.RepairTenant(ctx, *id)
				if ver != nil {
					if werr := writeJSON(cmd.OutOrStdout(), ver); werr != nil {
						return werr
					}
				}
				if err != nil {
					return err
				}
				svc.Wait()
				drainPublishErrors(l.log, svc.PublishErrors())
				return nil
			})
		},
	}
	err := cli.BindOptions(v, cmd, []cli.Opt{
		cli.NewOpt(&tenantID, "tenant-id", "", "id of the tenant to repair"),
	})
	if err != nil {
		return nil, err
	}
	return cmd, nil
}

func incompleteCmd(_ *viper.Viper, cfg *config) (*cobra.Command, error) {
	return &cobra.Command{
		Use:   "incomplete",
		Short: "List tenants whose onboarding never completed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withLauncher(cmd, cfg, func(ctx context.Context, l *launcher) error {
				svc, err := l.onboardService()
				if err != nil {
					return err
				}
				ts, err := svc.ListIncompleteTenants(ctx)
				if err != nil {
					return err
				}
				if ts == nil {
					ts = []*onboarding.Tenant{}
				}
				return writeJSON(cmd.OutOrStdout(), ts)
			})
		},
	}, nil
}

func relayCmd(v *viper.Viper, cfg *config) (*cobra.Command, error) {
	var relayCfg events.RelayConfig
	var once bool
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Deliver pending outbox events until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			cmd.SetContext(ctx)

			return withLauncher(cmd, cfg, func(ctx context.Context, l *launcher) error {
				transport, err := l.transport()
				if err != nil {
					return err
				}
				relay := events.NewRelay(l.outbox(), transport, relayCfg, l.log.With(zap.String("service", "relay")))
				if once {
					n, err := relay.RelayOnce(ctx)
					l.log.Info("Outbox relayed", zap.Int("delivered", n))
					return err
				}
				if err := relay.Run(ctx); err != nil && ctx.Err() == nil {
					return err
				}
				return nil
			})
		},
	}
	var retries int
	err := cli.BindOptions(v, cmd, []cli.Opt{
		cli.NewOpt(&relayCfg.Interval, "relay-interval", 2*time.Second, "time between outbox passes"),
		cli.NewOpt(&relayCfg.BatchSize, "relay-batch-size", 100, "events read per pass"),
		cli.NewOpt(&relayCfg.MaxAttempts, "relay-max-attempts", 10, "failed passes before an event is abandoned"),
		cli.NewOpt(&retries, "relay-retries", 2, "immediate retries of a failed delivery"),
		cli.NewOpt(&once, "once", false, "relay a single batch and exit"),
	})
	if err != nil {
		return nil, err
	}
	cmd.PreRun = func(*cobra.Command, []string) {
		relayCfg.Retries = uint64(retries)
	}
	return cmd, nil
}
