/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"chainguard.dev/fossilci/changesink"
	"chainguard.dev/fossilci/pollers/fossilpoller"
	"chainguard.dev/fossilci/statestore"
	"github.com/chainguard-dev/clog"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sethvargo/go-envconfig"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type pollConfig struct {
	RepoURLs       []string      `env:"FOSSIL_REPOURLS,required"`
	RSS            bool          `env:"FOSSIL_RSS,default=false"`
	PollInterval   time.Duration `env:"FOSSIL_POLL_INTERVAL,default=10m"`
	RandomDelayMin time.Duration `env:"FOSSIL_POLL_RANDOM_DELAY_MIN,default=0s"`
	RandomDelayMax time.Duration `env:"FOSSIL_POLL_RANDOM_DELAY_MAX,default=0s"`

	StateFile   string `env:"STATE_FILE"`
	PostgresDSN string `env:"POSTGRES_DSN"`

	KafkaBrokers []string `env:"KAFKA_BROKERS"`
	KafkaTopic   string   `env:"KAFKA_TOPIC,default=fossil-changes"`

	MetricsPort int `env:"METRICS_PORT,default=2112"`
}

func newPollCmd(lookuper envconfig.Lookuper) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Watch Fossil servers for new check-ins",
		Long: `Poll every repository in FOSSIL_REPOURLS for check-ins not seen on the
previous poll. New changes are logged and, with KAFKA_BROKERS set, published
to KAFKA_TOPIC. With --once, every repository is polled a single time and the
new changes are printed as a table.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var cfg pollConfig
			if err := envconfig.ProcessWith(cmd.Context(), &envconfig.Config{
				Target:   &cfg,
				Lookuper: lookuper,
			}); err != nil {
				return fmt.Errorf("processing config: %w", err)
			}
			return runPoll(cmd.Context(), cfg, once, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "poll each repository once, print new changes and exit")
	return cmd
}

// openBackend picks the state store: Postgres, then a YAML file, then memory.
func openBackend(ctx context.Context, cfg pollConfig) (statestore.Backend, func(), error) {
	switch {
	case cfg.PostgresDSN != "":
		pg, err := statestore.NewPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return pg, func() { pg.Close() }, nil
	case cfg.StateFile != "":
		f, err := statestore.NewFile(cfg.StateFile)
		if err != nil {
			return nil, nil, err
		}
		return f, func() {}, nil
	default:
		clog.WarnContextf(ctx, "neither POSTGRES_DSN nor STATE_FILE is set, seen revisions will not survive a restart")
		return statestore.NewMemory(), func() {}, nil
	}
}

func runPoll(ctx context.Context, cfg pollConfig, once bool, out io.Writer) error {
	backend, closeBackend, err := openBackend(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}
	defer closeBackend()

	sinks := changesink.Multi{changesink.Log{}}
	if len(cfg.KafkaBrokers) > 0 {
		k, err := changesink.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return err
		}
		defer k.Close()
		sinks = append(sinks, k)
	}
	table := &changesink.Table{}
	if once {
		sinks = append(sinks, table)
	}

	pollers := make([]*fossilpoller.Poller, 0, len(cfg.RepoURLs))
	for _, u := range cfg.RepoURLs {
		opts := []fossilpoller.Option{
			fossilpoller.WithPollInterval(cfg.PollInterval),
			fossilpoller.WithRandomDelay(cfg.RandomDelayMin, cfg.RandomDelayMax),
			fossilpoller.WithStateStore(backend),
			fossilpoller.WithSink(sinks),
		}
		if cfg.RSS {
			opts = append(opts, fossilpoller.WithRSS())
		}
		p, err := fossilpoller.New(u, opts...)
		if err != nil {
			return fmt.Errorf("poller for %s: %w", u, err)
		}
		if err := p.Activate(ctx); err != nil {
			return err
		}
		pollers = append(pollers, p)
	}

	if once {
		var errs []error
		for _, p := range pollers {
			if err := p.Poll(ctx); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			}
		}
		if err := table.Render(out); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return serveMetrics(ctx, cfg.MetricsPort) })
	for _, p := range pollers {
		eg.Go(func() error { return p.Run(ctx) })
	}
	return eg.Wait()
}

// serveMetrics serves /metrics until ctx is done.
func serveMetrics(ctx context.Context, port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	clog.InfoContextf(ctx, "serving metrics on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
