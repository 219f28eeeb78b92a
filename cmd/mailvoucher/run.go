package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/ArionMiles/mailvoucher/internal/daemon"
	"github.com/ArionMiles/mailvoucher/internal/plugins"
	"github.com/ArionMiles/mailvoucher/pkg/client"
	"github.com/ArionMiles/mailvoucher/pkg/config"
	"github.com/ArionMiles/mailvoucher/pkg/metrics"
	"github.com/ArionMiles/mailvoucher/pkg/rules"
	"github.com/ArionMiles/mailvoucher/pkg/store"
)

type runOptions struct {
	dryRun          bool
	ignoreProcessed bool
	once            bool
}

func newRunCmd(a *app) *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process matching emails and book vouchers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.run(ctx, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "write vouchers to "+config.DryRunFile+" instead of the ledger")
	cmd.Flags().BoolVar(&opts.ignoreProcessed, "ignore-processed", false, "process emails even if they were handled before")
	cmd.Flags().BoolVar(&opts.once, "once", false, "search once and exit, even if POLL_INTERVAL is set")
	return cmd
}

func (a *app) run(ctx context.Context, opts runOptions) error {
	logger := a.logger

	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	if opts.once {
		cfg.PollInterval = 0
	}

	ruleSet, err := rules.Load(cfg.RulesFile)
	if err != nil {
		return err
	}
	logger.Info("configuration loaded",
		"reader", cfg.ReaderPlugin,
		"writer", cfg.WriterPlugin,
		"rules_count", len(ruleSet),
		"store", cfg.StoreBackend,
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, reg, logger.With("component", "metrics")); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	registry := plugins.Builtin(m)

	readerConfig, err := cfg.ReaderJSON()
	if err != nil {
		return fmt.Errorf("reader config: %w", err)
	}

	writerName, writerConfig := "json", config.DryRunWriterJSON()
	if opts.dryRun {
		logger.Info("dry run, vouchers go to file", "file", config.DryRunFile)
	} else {
		writerName = cfg.WriterPlugin
		if writerConfig, err = cfg.WriterJSON(); err != nil {
			return fmt.Errorf("writer config: %w", err)
		}
	}

	httpClient, err := googleClient(registry, cfg, writerName)
	if err != nil {
		return err
	}

	st, closeStore, err := store.Open(ctx, cfg.StoreBackend, cfg.StoreDir, cfg.Postgres.PG(), logger.With("component", "store"))
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer closeStore()

	runner := daemon.New(registry, httpClient, st, m, logger)
	_, err = runner.Run(ctx, daemon.Config{
		ReaderPlugin:    cfg.ReaderPlugin,
		ReaderConfig:    readerConfig,
		WriterPlugin:    writerName,
		WriterConfig:    writerConfig,
		Rules:           ruleSet,
		IgnoreProcessed: opts.ignoreProcessed,
		DryRun:          opts.dryRun,
	})
	return err
}

// googleClient returns the Google API client when the chosen plugins need
// one, and nil otherwise.
func googleClient(registry *plugins.Registry, cfg config.Config, writerName string) (*http.Client, error) {
	scopes, err := registry.Scopes(cfg.ReaderPlugin, writerName)
	if err != nil {
		return nil, err
	}
	if len(scopes) == 0 {
		return nil, nil
	}

	if _, err := os.Stat(cfg.ClientSecretFile); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("credentials file not found: %s (run 'mailvoucher setup')", cfg.ClientSecretFile)
	}
	httpClient, err := client.New(cfg.ClientSecretFile, client.Options{TokenFile: cfg.TokenFile}, scopes...)
	if err != nil {
		return nil, fmt.Errorf("creating google client: %w", err)
	}
	return httpClient, nil
}
